// Package x86 provides the 32-bit x86 register set, memory operands and the
// move encodings the register allocator needs.
package x86

import "strings"

// Class is one of the independently allocated register files.
type Class uint8

const (
	GP      Class = iota // general purpose, 32-bit
	SIMD64               // MMX, 64-bit packed
	SIMD128              // SSE, 128-bit packed

	NumClasses = 3
)

func (c Class) String() string {
	switch c {
	case GP:
		return "gp"
	case SIMD64:
		return "mmx"
	case SIMD128:
		return "xmm"
	default:
		return "unknown"
	}
}

// Size returns the operand size of a value held by a register of class c.
func (c Class) Size() Size {
	switch c {
	case GP:
		return DWord
	case SIMD64:
		return QWord
	case SIMD128:
		return XMMWord
	default:
		return 0
	}
}

// Reg is a physical register. The zero value means "no register".
type Reg uint8

const (
	NoReg Reg = iota
	EAX
	ECX
	EDX
	EBX
	ESP
	EBP
	ESI
	EDI
	MM0
	MM1
	MM2
	MM3
	MM4
	MM5
	MM6
	MM7
	XMM0
	XMM1
	XMM2
	XMM3
	XMM4
	XMM5
	XMM6
	XMM7

	numRegs
)

// regInfo carries the encoding information for a register
type regInfo struct {
	Name    string
	Class   Class
	RegBits byte // 3-bit code for ModRM/SIB
}

var regInfoList = [numRegs]regInfo{
	NoReg: {"", GP, 0},
	EAX:   {"eax", GP, 0},
	ECX:   {"ecx", GP, 1},
	EDX:   {"edx", GP, 2},
	EBX:   {"ebx", GP, 3},
	ESP:   {"esp", GP, 4},
	EBP:   {"ebp", GP, 5},
	ESI:   {"esi", GP, 6},
	EDI:   {"edi", GP, 7},
	MM0:   {"mm0", SIMD64, 0},
	MM1:   {"mm1", SIMD64, 1},
	MM2:   {"mm2", SIMD64, 2},
	MM3:   {"mm3", SIMD64, 3},
	MM4:   {"mm4", SIMD64, 4},
	MM5:   {"mm5", SIMD64, 5},
	MM6:   {"mm6", SIMD64, 6},
	MM7:   {"mm7", SIMD64, 7},
	XMM0:  {"xmm0", SIMD128, 0},
	XMM1:  {"xmm1", SIMD128, 1},
	XMM2:  {"xmm2", SIMD128, 2},
	XMM3:  {"xmm3", SIMD128, 3},
	XMM4:  {"xmm4", SIMD128, 4},
	XMM5:  {"xmm5", SIMD128, 5},
	XMM6:  {"xmm6", SIMD128, 6},
	XMM7:  {"xmm7", SIMD128, 7},
}

// allocation order per class; esp and ebp are never handed out
var allocatable = [NumClasses][]Reg{
	GP:      {EAX, ECX, EDX, EBX, ESI, EDI},
	SIMD64:  {MM0, MM1, MM2, MM3, MM4, MM5, MM6, MM7},
	SIMD128: {XMM0, XMM1, XMM2, XMM3, XMM4, XMM5, XMM6, XMM7},
}

// Allocatable returns the registers of class c in declaration order. The
// order decides which register wins when spill priorities tie.
func Allocatable(c Class) []Reg {
	if int(c) >= NumClasses {
		return nil
	}
	return append([]Reg(nil), allocatable[c]...)
}

// Valid reports whether r names a known register.
func (r Reg) Valid() bool {
	return r != NoReg && r < numRegs
}

func (r Reg) String() string {
	if r >= numRegs {
		return "reg?"
	}
	return regInfoList[r].Name
}

func (r Reg) Class() Class {
	return regInfoList[r%numRegs].Class
}

func (r Reg) bits() byte {
	return regInfoList[r%numRegs].RegBits
}

// ParseReg looks a register up by its lower-case or upper-case name.
func ParseReg(name string) (Reg, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for r := EAX; r < numRegs; r++ {
		if regInfoList[r].Name == name {
			return r, true
		}
	}
	return NoReg, false
}
