package regalloc

import (
	"math"

	"github.com/colorfulnotion/softjit/x86"
	"golang.org/x/exp/slices"
)

// maxPriority is given to a slot when it is assigned. Each access to another
// slot of the same file ages it by one.
const maxPriority = math.MaxUint32

// slot tracks one physical register. occupant is null exactly when priority
// is zero.
type slot struct {
	reg      x86.Reg
	occupant Ref
	priority uint32
}

func (s *slot) free() bool {
	return s.occupant.IsNull()
}

// regFile is the slot array of one register class, in declaration order.
type regFile struct {
	class x86.Class
	slots []slot
}

func newRegFile(class x86.Class) *regFile {
	regs := x86.Allocatable(class)
	f := &regFile{class: class, slots: make([]slot, len(regs))}
	for i, r := range regs {
		f.slots[i].reg = r
	}
	return f
}

// index returns the slot of reg, or -1 if reg does not belong to this file.
func (f *regFile) index(reg x86.Reg) int {
	return slices.IndexFunc(f.slots, func(s slot) bool { return s.reg == reg })
}

// lookup returns the slot currently holding ref, or -1.
func (f *regFile) lookup(ref Ref) int {
	if ref.IsNull() {
		return -1
	}
	return slices.IndexFunc(f.slots, func(s slot) bool { return s.occupant == ref })
}

// findFree returns the first free slot, or -1.
func (f *regFile) findFree() int {
	return slices.IndexFunc(f.slots, func(s slot) bool { return s.free() })
}

// spillCandidate returns the coldest slot whose occupant is real. On a tie
// the first declared register wins. It returns -1 when every occupant is a
// placeholder.
func (f *regFile) spillCandidate(real func(Ref) bool) int {
	best := -1
	for i := range f.slots {
		s := &f.slots[i]
		if s.free() || !real(s.occupant) {
			continue
		}
		if best < 0 || s.priority < f.slots[best].priority {
			best = i
		}
	}
	return best
}

// access ages every occupied slot except i. An occupied slot never ages
// below 1, so a zero priority always means free.
func (f *regFile) access(i int) {
	for j := range f.slots {
		if j != i && f.slots[j].priority > 1 {
			f.slots[j].priority--
		}
	}
}

func (f *regFile) bind(i int, ref Ref) {
	f.slots[i].occupant = ref
	f.slots[i].priority = maxPriority
}

func (f *regFile) release(i int) {
	f.slots[i].occupant = Ref{}
	f.slots[i].priority = 0
}

func (f *regFile) occupied() int {
	n := 0
	for i := range f.slots {
		if !f.slots[i].free() {
			n++
		}
	}
	return n
}
