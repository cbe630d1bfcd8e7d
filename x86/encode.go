package x86

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	ErrInvalidOperand   = errors.New("invalid operand combination")
	ErrOperandSize      = errors.New("operand size mismatch")
	ErrUnsupportedScale = errors.New("unsupported index scale")
)

func modrm(mod, reg, rm byte) byte {
	return mod<<6 | (reg&7)<<3 | rm&7
}

func scaleBits(scale uint8) (byte, error) {
	switch scale {
	case 0, 1:
		return 0, nil
	case 2:
		return 1, nil
	case 4:
		return 2, nil
	case 8:
		return 3, nil
	}
	return 0, fmt.Errorf("%w: %d", ErrUnsupportedScale, scale)
}

func fitsInt8(v int32) bool {
	return v >= -128 && v <= 127
}

// encodeMem appends ModRM (+SIB, +displacement) for a memory operand whose
// ModRM reg field is reg.
func encodeMem(buf []byte, reg byte, m Mem) ([]byte, error) {
	if m.Base != NoReg && (!m.Base.Valid() || m.Base.Class() != GP) {
		return nil, fmt.Errorf("%w: base %s", ErrInvalidOperand, m.Base)
	}
	if m.Index != NoReg && (!m.Index.Valid() || m.Index.Class() != GP || m.Index == ESP) {
		return nil, fmt.Errorf("%w: index %s", ErrInvalidOperand, m.Index)
	}
	ss, err := scaleBits(m.Scale)
	if err != nil {
		return nil, err
	}
	disp := make([]byte, 4)
	binary.LittleEndian.PutUint32(disp, uint32(m.Disp))

	switch {
	case m.Base == NoReg && m.Index == NoReg:
		// mov reg, [disp32]
		buf = append(buf, modrm(X86_MOD_INDIRECT, reg, X86_RM_DISP32))
		return append(buf, disp...), nil

	case m.Base == NoReg:
		// [index*scale + disp32] needs SIB with base=101 and mod=00
		buf = append(buf,
			modrm(X86_MOD_INDIRECT, reg, X86_RM_SIB),
			ss<<6|m.Index.bits()<<3|X86_RM_DISP32,
		)
		return append(buf, disp...), nil
	}

	var mod byte
	switch {
	case m.Disp == 0 && m.Base != EBP:
		mod = X86_MOD_INDIRECT
	case fitsInt8(m.Disp):
		mod = X86_MOD_INDIRECT_DISP8
	default:
		mod = X86_MOD_INDIRECT_DISP32
	}

	if m.Index != NoReg || m.Base == ESP {
		// Must use SIB encoding when rm=4 (ESP) or an index is present
		index := byte(X86_SIB_NONE)
		if m.Index != NoReg {
			index = m.Index.bits()
		}
		buf = append(buf, modrm(mod, reg, X86_RM_SIB), ss<<6|index<<3|m.Base.bits())
	} else {
		buf = append(buf, modrm(mod, reg, m.Base.bits()))
	}

	switch mod {
	case X86_MOD_INDIRECT_DISP8:
		buf = append(buf, byte(int8(m.Disp)))
	case X86_MOD_INDIRECT_DISP32:
		buf = append(buf, disp...)
	}
	return buf, nil
}

// moveForm describes one register class's load/store opcode pair.
type moveForm struct {
	name   string
	class  Class
	escape bool
	load   byte // reg <- r/m
	store  byte // r/m <- reg
}

var (
	movForm    = moveForm{"mov", GP, false, X86_OP_MOV_R_RM, X86_OP_MOV_RM_R}
	movqForm   = moveForm{"movq", SIMD64, true, X86_OP2_MOVQ_MM_RM, X86_OP2_MOVQ_RM_MM}
	movapsForm = moveForm{"movaps", SIMD128, true, X86_OP2_MOVAPS_X_RM, X86_OP2_MOVAPS_RM_X}
)

func (f moveForm) checkReg(r Reg) error {
	if !r.Valid() || r.Class() != f.class {
		return fmt.Errorf("%w: %s %s", ErrInvalidOperand, f.name, r)
	}
	return nil
}

func (f moveForm) checkMem(o Operand) error {
	if o.Size != 0 && o.Size != f.class.Size() {
		return fmt.Errorf("%w: %s needs %s, got %s", ErrOperandSize, f.name, f.class.Size(), o.Size)
	}
	return nil
}

func (f moveForm) opcode(buf []byte, op byte) []byte {
	if f.escape {
		buf = append(buf, X86_OP_ESCAPE)
	}
	return append(buf, op)
}

// encode returns the bytes for "f dst, src".
func (f moveForm) encode(dst, src Operand) ([]byte, error) {
	var code []byte
	switch {
	case dst.IsReg() && src.IsReg():
		if err := f.checkReg(dst.Reg); err != nil {
			return nil, err
		}
		if err := f.checkReg(src.Reg); err != nil {
			return nil, err
		}
		code = f.opcode(code, f.load)
		return append(code, modrm(X86_MOD_REGISTER, dst.Reg.bits(), src.Reg.bits())), nil

	case dst.IsReg():
		if err := f.checkReg(dst.Reg); err != nil {
			return nil, err
		}
		if err := f.checkMem(src); err != nil {
			return nil, err
		}
		return encodeMem(f.opcode(code, f.load), dst.Reg.bits(), src.Mem)

	case src.IsReg():
		if err := f.checkReg(src.Reg); err != nil {
			return nil, err
		}
		if err := f.checkMem(dst); err != nil {
			return nil, err
		}
		return encodeMem(f.opcode(code, f.store), src.Reg.bits(), dst.Mem)
	}
	return nil, fmt.Errorf("%w: %s %s, %s", ErrInvalidOperand, f.name, dst, src)
}
