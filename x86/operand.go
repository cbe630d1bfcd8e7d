package x86

import (
	"fmt"
	"strings"
)

// Size is an operand width in bytes.
type Size uint8

const (
	DWord   Size = 4
	QWord   Size = 8
	XMMWord Size = 16
)

func (s Size) String() string {
	switch s {
	case DWord:
		return "dword"
	case QWord:
		return "qword"
	case XMMWord:
		return "xmmword"
	default:
		return ""
	}
}

// Mem is a 32-bit effective address: [Base + Index*Scale + Disp].
type Mem struct {
	Base  Reg
	Index Reg
	Scale uint8
	Disp  int32
}

// Abs addresses a fixed location.
func Abs(addr uint32) Mem {
	return Mem{Disp: int32(addr)}
}

// IsZero reports whether m addresses nothing at all.
func (m Mem) IsZero() bool {
	return m == Mem{}
}

func (m Mem) String() string {
	var sb strings.Builder
	sb.WriteByte('[')
	terms := 0
	if m.Base != NoReg {
		sb.WriteString(m.Base.String())
		terms++
	}
	if m.Index != NoReg {
		if terms > 0 {
			sb.WriteByte('+')
		}
		sb.WriteString(m.Index.String())
		if m.Scale > 1 {
			fmt.Fprintf(&sb, "*%d", m.Scale)
		}
		terms++
	}
	switch {
	case terms == 0:
		fmt.Fprintf(&sb, "0x%x", uint32(m.Disp))
	case m.Disp > 0:
		fmt.Fprintf(&sb, "+0x%x", m.Disp)
	case m.Disp < 0:
		fmt.Fprintf(&sb, "-0x%x", -int64(m.Disp))
	}
	sb.WriteByte(']')
	return sb.String()
}

// Operand is either a register or a sized memory reference.
type Operand struct {
	Reg  Reg // NoReg for memory operands
	Mem  Mem
	Size Size
}

// RegOp wraps a register as an operand.
func RegOp(r Reg) Operand {
	return Operand{Reg: r, Size: r.Class().Size()}
}

// Ptr builds a memory operand of the given width.
func Ptr(size Size, m Mem) Operand {
	return Operand{Mem: m, Size: size}
}

func DwordPtr(m Mem) Operand   { return Ptr(DWord, m) }
func QwordPtr(m Mem) Operand   { return Ptr(QWord, m) }
func XmmwordPtr(m Mem) Operand { return Ptr(XMMWord, m) }

func (o Operand) IsReg() bool { return o.Reg != NoReg }
func (o Operand) IsMem() bool { return o.Reg == NoReg }

func (o Operand) String() string {
	if o.IsReg() {
		return o.Reg.String()
	}
	if o.Size == 0 {
		return o.Mem.String()
	}
	return o.Size.String() + " ptr " + o.Mem.String()
}
