package regalloc

import (
	"fmt"

	"github.com/colorfulnotion/softjit/x86"
)

type refKind uint8

const (
	refMem     refKind = iota // backed by an effective address
	refTemp                   // indexed temporary, never backed by memory
	refScratch                // anonymous destination requested with a null ref
)

// Ref identifies the storage location a virtual register stands for. Two refs
// are the same location exactly when they compare equal. The zero Ref is the
// null reference.
type Ref struct {
	mem  x86.Mem
	kind refKind
	id   uint32
}

// At returns the ref for a fixed address.
func At(addr uint32) Ref {
	return Ref{mem: x86.Abs(addr)}
}

// MemRef returns the ref for an arbitrary effective address. An index with
// no scale is the same address as an index scaled by 1.
func MemRef(m x86.Mem) Ref {
	if m.Index != x86.NoReg && m.Scale == 0 {
		m.Scale = 1
	}
	return Ref{mem: m}
}

// Temp returns the synthetic ref for temporary i. Its memory form is [i], as
// the encoder expects, but it is never treated as addressable.
func Temp(i int) Ref {
	return Ref{mem: x86.Mem{Disp: int32(i)}, kind: refTemp, id: uint32(i)}
}

func (r Ref) IsNull() bool {
	return r == Ref{}
}

// Mem returns the effective address used when r is accessed in memory.
func (r Ref) Mem() x86.Mem {
	return r.mem
}

func (r Ref) String() string {
	switch {
	case r.IsNull():
		return "null"
	case r.kind == refTemp:
		return fmt.Sprintf("t%d", r.id)
	case r.kind == refScratch:
		return fmt.Sprintf("scratch#%d", r.id)
	}
	return r.mem.String()
}

// real reports whether r denotes genuine addressable memory: a register
// relative address, or an absolute one at or above the cutoff. Absolute
// addresses compare unsigned so the upper half of the address space counts.
func (r Ref) real(cutoff int32) bool {
	if r.kind != refMem {
		return false
	}
	m := r.mem
	return m.Base != x86.NoReg ||
		m.Index != x86.NoReg ||
		m.Scale != 0 ||
		uint32(m.Disp) >= uint32(cutoff)
}
