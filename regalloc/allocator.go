// Package regalloc maps an unbounded number of virtual storage locations onto
// the fixed x86 register files while code is being emitted.
//
// Allocation is online: every request is resolved against the current state
// of the general purpose, MMX and SSE files, and any load or store it needs is
// emitted immediately. The emitted stream is therefore an exact, ordered
// record of every allocation decision. Eviction picks the least recently
// touched register whose occupant has backing memory.
package regalloc

import (
	"fmt"

	"github.com/colorfulnotion/softjit/log"
	"github.com/colorfulnotion/softjit/x86"
)

// Emitter appends one move instruction per call. It is satisfied by
// *x86.Assembler.
type Emitter interface {
	Mov(dst, src x86.Operand) error    // 32-bit general purpose
	Movq(dst, src x86.Operand) error   // 64-bit MMX
	Movaps(dst, src x86.Operand) error // 128-bit SSE
}

// Allocator owns the three register files of one code generation context.
// It is not safe for concurrent use.
type Allocator struct {
	emit    Emitter
	cfg     Config
	files   [x86.NumClasses]*regFile
	scratch uint32
}

func New(emit Emitter, cfg Config) (*Allocator, error) {
	if emit == nil {
		return nil, fmt.Errorf("%w: nil emitter", ErrInternal)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	a := &Allocator{emit: emit, cfg: cfg}
	for c := range a.files {
		a.files[c] = newRegFile(x86.Class(c))
	}
	return a, nil
}

// Real reports whether ref denotes addressable memory. Only real refs are
// ever loaded or stored.
func (a *Allocator) Real(ref Ref) bool {
	return ref.real(a.cfg.RealDisplacement)
}

func (a *Allocator) file(class x86.Class) (*regFile, error) {
	if int(class) >= x86.NumClasses {
		return nil, fmt.Errorf("%w: unknown register class %d", ErrInternal, class)
	}
	return a.files[class], nil
}

// fileOf resolves a physical register to its file and slot.
func (a *Allocator) fileOf(reg x86.Reg) (*regFile, int, error) {
	if !reg.Valid() {
		return nil, -1, fmt.Errorf("%w: unknown register %d", ErrInternal, reg)
	}
	f, err := a.file(reg.Class())
	if err != nil {
		return nil, -1, err
	}
	i := f.index(reg)
	if i < 0 {
		return nil, -1, fmt.Errorf("%w: %s is not allocatable", ErrInternal, reg)
	}
	return f, i, nil
}

func (a *Allocator) move(class x86.Class, dst, src x86.Operand) error {
	switch class {
	case x86.GP:
		return a.emit.Mov(dst, src)
	case x86.SIMD64:
		return a.emit.Movq(dst, src)
	case x86.SIMD128:
		return a.emit.Movaps(dst, src)
	}
	return fmt.Errorf("%w: unknown register class %d", ErrInternal, class)
}

// Get returns a register of the given class that represents ref. With copy
// set the register holds ref's current value; otherwise it is a fresh
// destination. A null ref with copy unset yields an anonymous scratch
// register that only Free or Spill by register can release.
func (a *Allocator) Get(class x86.Class, ref Ref, copy bool) (x86.Operand, error) {
	if ref.IsNull() {
		if copy {
			return x86.Operand{}, ErrNullDereference
		}
		a.scratch++
		ref = Ref{kind: refScratch, id: a.scratch}
	}
	f, err := a.file(class)
	if err != nil {
		return x86.Operand{}, err
	}

	// Check if already allocated
	if i := f.lookup(ref); i >= 0 {
		f.access(i)
		return x86.RegOp(f.slots[i].reg), nil
	}

	// Search for free registers
	i := f.findFree()
	if i < 0 {
		// Need to spill one
		i = f.spillCandidate(a.Real)
		if i < 0 {
			return x86.Operand{}, fmt.Errorf("%w: %s file holds only placeholders", ErrClassExhausted, class)
		}
		if err := a.spillSlot(f, i); err != nil {
			return x86.Operand{}, err
		}
	}
	return a.assign(f, i, ref, copy)
}

// assign binds ref to the free slot i, loading its value when asked to.
func (a *Allocator) assign(f *regFile, i int, ref Ref, copy bool) (x86.Operand, error) {
	s := &f.slots[i]
	if !s.free() {
		return x86.Operand{}, fmt.Errorf("%w: %s holds %s", ErrRegisterUnavailable, s.reg, s.occupant)
	}
	f.bind(i, ref)
	reg := x86.RegOp(s.reg)
	log.Debug(log.RegAllocMonitoring, "assign", "reg", s.reg, "ref", ref, "copy", copy)
	log.Event("assign", "reg", s.reg.String(), "ref", ref.String())
	if copy && a.Real(ref) {
		if err := a.move(f.class, reg, x86.Ptr(f.class.Size(), ref.mem)); err != nil {
			return x86.Operand{}, fmt.Errorf("load %s into %s: %w", ref, s.reg, err)
		}
		log.Event("load", "reg", s.reg.String(), "ref", ref.String())
	}
	f.access(i)
	return reg, nil
}

// spillSlot stores a real occupant back to memory and frees the slot.
func (a *Allocator) spillSlot(f *regFile, i int) error {
	s := &f.slots[i]
	if s.free() {
		return nil
	}
	if a.Real(s.occupant) {
		if err := a.move(f.class, x86.Ptr(f.class.Size(), s.occupant.mem), x86.RegOp(s.reg)); err != nil {
			return fmt.Errorf("spill %s from %s: %w", s.occupant, s.reg, err)
		}
		log.Event("store", "reg", s.reg.String(), "ref", s.occupant.String())
	}
	log.Debug(log.RegAllocMonitoring, "spill", "reg", s.reg, "ref", s.occupant, "priority", s.priority)
	log.Event("spill", "reg", s.reg.String(), "ref", s.occupant.String())
	f.release(i)
	return nil
}

func (a *Allocator) freeSlot(f *regFile, i int) {
	s := &f.slots[i]
	if s.free() {
		return
	}
	log.Debug(log.RegAllocMonitoring, "free", "reg", s.reg, "ref", s.occupant)
	log.Event("free", "reg", s.reg.String(), "ref", s.occupant.String())
	f.release(i)
}

// Mem returns a register operand when ref is resident in class, and a
// direct memory operand on ref otherwise. It never allocates or emits.
func (a *Allocator) Mem(class x86.Class, ref Ref) (x86.Operand, error) {
	if ref.IsNull() {
		return x86.Operand{}, ErrNullDereference
	}
	f, err := a.file(class)
	if err != nil {
		return x86.Operand{}, err
	}
	if i := f.lookup(ref); i >= 0 {
		f.access(i)
		return x86.RegOp(f.slots[i].reg), nil
	}
	return x86.Ptr(class.Size(), ref.mem), nil
}

// Temp returns the register holding temporary i of class.
func (a *Allocator) Temp(class x86.Class, i int) (x86.Operand, error) {
	f, err := a.file(class)
	if err != nil {
		return x86.Operand{}, err
	}
	if i < 0 || i >= len(f.slots) {
		return x86.Operand{}, fmt.Errorf("%w: %s temporary %d not in [0,%d)", ErrIndexOutOfRange, class, i, len(f.slots))
	}
	return a.Get(class, Temp(i), false)
}

// Allocate binds ref to the named register. The register must be free and
// ref must not already be resident in another register of the same class.
func (a *Allocator) Allocate(reg x86.Reg, ref Ref, copy bool) (x86.Operand, error) {
	f, i, err := a.fileOf(reg)
	if err != nil {
		return x86.Operand{}, err
	}
	if ref.IsNull() && copy {
		return x86.Operand{}, ErrNullDereference
	}
	if ref.IsNull() {
		a.scratch++
		ref = Ref{kind: refScratch, id: a.scratch}
	}
	if j := f.lookup(ref); j >= 0 && j != i {
		return x86.Operand{}, fmt.Errorf("%w: %s already held by %s", ErrRegisterUnavailable, ref, f.slots[j].reg)
	}
	return a.assign(f, i, ref, copy)
}

// Free releases reg without writing its value back.
func (a *Allocator) Free(reg x86.Reg) error {
	f, i, err := a.fileOf(reg)
	if err != nil {
		return err
	}
	a.freeSlot(f, i)
	return nil
}

// Spill writes reg back to its occupant's memory, if it has any, and frees it.
func (a *Allocator) Spill(reg x86.Reg) error {
	f, i, err := a.fileOf(reg)
	if err != nil {
		return err
	}
	return a.spillSlot(f, i)
}

// refClasses are the files searched by FreeRef and SpillRef. SSE registers
// are released through their register handles only.
var refClasses = []x86.Class{x86.GP, x86.SIMD64}

func (a *Allocator) findRef(ref Ref) (*regFile, int) {
	for _, c := range refClasses {
		f := a.files[c]
		if i := f.lookup(ref); i >= 0 {
			return f, i
		}
	}
	return nil, -1
}

// FreeRef frees the general purpose or MMX register holding ref, if any.
func (a *Allocator) FreeRef(ref Ref) {
	if f, i := a.findRef(ref); f != nil {
		a.freeSlot(f, i)
	}
}

// SpillRef spills the general purpose or MMX register holding ref, if any.
func (a *Allocator) SpillRef(ref Ref) error {
	if f, i := a.findRef(ref); f != nil {
		return a.spillSlot(f, i)
	}
	return nil
}

// FreeAll releases every register of every class without emitting.
func (a *Allocator) FreeAll() {
	for _, f := range a.files {
		for i := range f.slots {
			a.freeSlot(f, i)
		}
	}
}

// SpillAll spills every register of every class, general purpose first.
func (a *Allocator) SpillAll() error {
	for _, f := range a.files {
		for i := range f.slots {
			if err := a.spillSlot(f, i); err != nil {
				return err
			}
		}
	}
	return nil
}

func (a *Allocator) R32(ref Ref) (x86.Operand, error)  { return a.Get(x86.GP, ref, true) }
func (a *Allocator) X32(ref Ref) (x86.Operand, error)  { return a.Get(x86.GP, ref, false) }
func (a *Allocator) M32(ref Ref) (x86.Operand, error)  { return a.Mem(x86.GP, ref) }
func (a *Allocator) T32(i int) (x86.Operand, error)    { return a.Temp(x86.GP, i) }
func (a *Allocator) R64(ref Ref) (x86.Operand, error)  { return a.Get(x86.SIMD64, ref, true) }
func (a *Allocator) X64(ref Ref) (x86.Operand, error)  { return a.Get(x86.SIMD64, ref, false) }
func (a *Allocator) M64(ref Ref) (x86.Operand, error)  { return a.Mem(x86.SIMD64, ref) }
func (a *Allocator) T64(i int) (x86.Operand, error)    { return a.Temp(x86.SIMD64, i) }
func (a *Allocator) R128(ref Ref) (x86.Operand, error) { return a.Get(x86.SIMD128, ref, true) }
func (a *Allocator) X128(ref Ref) (x86.Operand, error) { return a.Get(x86.SIMD128, ref, false) }
func (a *Allocator) M128(ref Ref) (x86.Operand, error) { return a.Mem(x86.SIMD128, ref) }
func (a *Allocator) T128(i int) (x86.Operand, error)   { return a.Temp(x86.SIMD128, i) }

// Occupant returns the ref held by reg, or the null ref.
func (a *Allocator) Occupant(reg x86.Reg) Ref {
	f, i, err := a.fileOf(reg)
	if err != nil {
		return Ref{}
	}
	return f.slots[i].occupant
}

// Priority returns reg's recency counter. Lower is colder.
func (a *Allocator) Priority(reg x86.Reg) uint32 {
	f, i, err := a.fileOf(reg)
	if err != nil {
		return 0
	}
	return f.slots[i].priority
}

// Resident returns the register of class currently holding ref.
func (a *Allocator) Resident(class x86.Class, ref Ref) (x86.Reg, bool) {
	f, err := a.file(class)
	if err != nil {
		return x86.NoReg, false
	}
	if i := f.lookup(ref); i >= 0 {
		return f.slots[i].reg, true
	}
	return x86.NoReg, false
}

// Occupied returns the number of bound registers in class.
func (a *Allocator) Occupied(class x86.Class) int {
	f, err := a.file(class)
	if err != nil {
		return 0
	}
	return f.occupied()
}
