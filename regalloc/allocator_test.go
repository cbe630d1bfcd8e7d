package regalloc

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/colorfulnotion/softjit/log"
	"github.com/colorfulnotion/softjit/x86"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// move is one instruction seen by recorder.
type move struct {
	op       string
	dst, src x86.Operand
}

func (m move) String() string {
	return fmt.Sprintf("%s %s, %s", m.op, m.dst, m.src)
}

func (m move) isLoad() bool  { return m.dst.IsReg() && m.src.IsMem() }
func (m move) isStore() bool { return m.dst.IsMem() && m.src.IsReg() }

type recorder struct {
	moves []move
	fail  error
}

func (r *recorder) add(op string, dst, src x86.Operand) error {
	if r.fail != nil {
		return r.fail
	}
	r.moves = append(r.moves, move{op, dst, src})
	return nil
}

func (r *recorder) Mov(dst, src x86.Operand) error    { return r.add("mov", dst, src) }
func (r *recorder) Movq(dst, src x86.Operand) error   { return r.add("movq", dst, src) }
func (r *recorder) Movaps(dst, src x86.Operand) error { return r.add("movaps", dst, src) }

func newTestAllocator(t *testing.T) (*Allocator, *recorder) {
	t.Helper()
	rec := &recorder{}
	a, err := New(rec, DefaultConfig())
	require.NoError(t, err)
	return a, rec
}

// checkInvariants asserts the slot invariants on every file.
func checkInvariants(t *testing.T, a *Allocator) {
	t.Helper()
	for _, f := range a.files {
		seen := map[Ref]x86.Reg{}
		for _, s := range f.slots {
			assert.Equal(t, s.occupant.IsNull(), s.priority == 0, "%s occupant=%s priority=%d", s.reg, s.occupant, s.priority)
			if s.occupant.IsNull() {
				continue
			}
			prev, dup := seen[s.occupant]
			assert.False(t, dup, "%s held by both %s and %s", s.occupant, prev, s.reg)
			seen[s.occupant] = s.reg
		}
	}
}

func TestNewRejectsBadInput(t *testing.T) {
	_, err := New(nil, DefaultConfig())
	assert.ErrorIs(t, err, ErrInternal)

	_, err = New(&recorder{}, Config{RealDisplacement: -1})
	assert.Error(t, err)
}

func TestRealPredicate(t *testing.T) {
	a, _ := newTestAllocator(t)

	assert.False(t, a.Real(Ref{}))
	assert.False(t, a.Real(At(7)))
	assert.True(t, a.Real(At(8)))
	assert.True(t, a.Real(At(0x1000)))
	assert.True(t, a.Real(At(0xFFFF0000)), "high addresses compare unsigned")
	assert.True(t, a.Real(MemRef(x86.Mem{Base: x86.EBP})))
	assert.True(t, a.Real(MemRef(x86.Mem{Index: x86.ECX, Scale: 4})))
	for i := 0; i < 8; i++ {
		assert.False(t, a.Real(Temp(i)), "temporary %d", i)
	}

	b, err := New(&recorder{}, Config{RealDisplacement: 0x100})
	require.NoError(t, err)
	assert.False(t, b.Real(At(0xFF)))
	assert.True(t, b.Real(At(0x100)))
}

func TestTempIsNeverNull(t *testing.T) {
	assert.False(t, Temp(0).IsNull())
	assert.True(t, At(0).IsNull())
	assert.NotEqual(t, Temp(3), At(3))
	assert.Equal(t, "t3", Temp(3).String())
	assert.Equal(t, "null", Ref{}.String())
}

func TestGetLoadsOnce(t *testing.T) {
	a, rec := newTestAllocator(t)
	ref := At(0x1000)

	r1, err := a.R32(ref)
	require.NoError(t, err)
	r2, err := a.R32(ref)
	require.NoError(t, err)

	assert.Equal(t, x86.RegOp(x86.EAX), r1)
	assert.Equal(t, r1, r2)
	require.Len(t, rec.moves, 1)
	assert.Equal(t, move{"mov", x86.RegOp(x86.EAX), x86.DwordPtr(x86.Abs(0x1000))}, rec.moves[0])
	checkInvariants(t, a)
}

func TestGetWithoutCopyDoesNotLoad(t *testing.T) {
	a, rec := newTestAllocator(t)

	r, err := a.X32(At(0x1000))
	require.NoError(t, err)
	assert.Equal(t, x86.RegOp(x86.EAX), r)
	assert.Empty(t, rec.moves)

	// a later copy request hits the resident register and still emits nothing
	r, err = a.R32(At(0x1000))
	require.NoError(t, err)
	assert.Equal(t, x86.RegOp(x86.EAX), r)
	assert.Empty(t, rec.moves)
}

func TestNullReference(t *testing.T) {
	a, rec := newTestAllocator(t)

	_, err := a.R32(Ref{})
	assert.ErrorIs(t, err, ErrNullDereference)
	_, err = a.R128(Ref{})
	assert.ErrorIs(t, err, ErrNullDereference)
	_, err = a.M64(Ref{})
	assert.ErrorIs(t, err, ErrNullDereference)

	// without copy every null request gets its own scratch register
	s1, err := a.X32(Ref{})
	require.NoError(t, err)
	s2, err := a.X32(Ref{})
	require.NoError(t, err)
	assert.NotEqual(t, s1, s2)
	assert.Empty(t, rec.moves)
	assert.False(t, a.Real(a.Occupant(s1.Reg)))
	assert.False(t, a.Occupant(s1.Reg).IsNull())
	checkInvariants(t, a)
}

func TestSameRefInEveryClass(t *testing.T) {
	a, rec := newTestAllocator(t)
	ref := At(0x2000)

	gp, err := a.R32(ref)
	require.NoError(t, err)
	mm, err := a.R64(ref)
	require.NoError(t, err)
	xmm, err := a.R128(ref)
	require.NoError(t, err)

	assert.Equal(t, x86.EAX, gp.Reg)
	assert.Equal(t, x86.MM0, mm.Reg)
	assert.Equal(t, x86.XMM0, xmm.Reg)
	require.Len(t, rec.moves, 3)
	assert.Equal(t, "mov", rec.moves[0].op)
	assert.Equal(t, x86.DwordPtr(x86.Abs(0x2000)), rec.moves[0].src)
	assert.Equal(t, "movq", rec.moves[1].op)
	assert.Equal(t, x86.QwordPtr(x86.Abs(0x2000)), rec.moves[1].src)
	assert.Equal(t, "movaps", rec.moves[2].op)
	assert.Equal(t, x86.XmmwordPtr(x86.Abs(0x2000)), rec.moves[2].src)
	checkInvariants(t, a)
}

func TestAccessAgesOtherSlots(t *testing.T) {
	a, _ := newTestAllocator(t)

	_, err := a.R32(At(0x100))
	require.NoError(t, err)
	assert.Equal(t, uint32(math.MaxUint32), a.Priority(x86.EAX))

	_, err = a.R32(At(0x104))
	require.NoError(t, err)
	assert.Equal(t, uint32(math.MaxUint32-1), a.Priority(x86.EAX))
	assert.Equal(t, uint32(math.MaxUint32), a.Priority(x86.ECX))

	// a hit ages the others but does not promote itself
	_, err = a.R32(At(0x100))
	require.NoError(t, err)
	assert.Equal(t, uint32(math.MaxUint32-1), a.Priority(x86.EAX))
	assert.Equal(t, uint32(math.MaxUint32-1), a.Priority(x86.ECX))

	assert.Zero(t, a.Priority(x86.EDX))
	assert.Zero(t, a.Priority(x86.MM0), "classes age independently")
	checkInvariants(t, a)
}

func TestOccupiedSlotNeverAgesToZero(t *testing.T) {
	a, _ := newTestAllocator(t)
	f := a.files[x86.GP]
	f.bind(0, At(0x100))
	f.slots[0].priority = 1

	_, err := a.R32(At(0x200))
	require.NoError(t, err)
	assert.Equal(t, uint32(1), a.Priority(x86.EAX))
	checkInvariants(t, a)
}

// fillGP loads six distinct real refs into eax..edi.
func fillGP(t *testing.T, a *Allocator) []Ref {
	t.Helper()
	refs := make([]Ref, 6)
	for i := range refs {
		refs[i] = At(0x1000 + uint32(i)*4)
		_, err := a.R32(refs[i])
		require.NoError(t, err)
	}
	return refs
}

func TestLRUEviction(t *testing.T) {
	a, rec := newTestAllocator(t)
	refs := fillGP(t, a)
	rec.moves = nil

	r, err := a.R32(At(0x2000))
	require.NoError(t, err)

	assert.Equal(t, x86.EAX, r.Reg, "earliest ref is evicted")
	require.Len(t, rec.moves, 2)
	assert.Equal(t, move{"mov", x86.DwordPtr(refs[0].Mem()), x86.RegOp(x86.EAX)}, rec.moves[0])
	assert.Equal(t, move{"mov", x86.RegOp(x86.EAX), x86.DwordPtr(x86.Abs(0x2000))}, rec.moves[1])
	_, resident := a.Resident(x86.GP, refs[0])
	assert.False(t, resident)
	checkInvariants(t, a)
}

func TestLRUEvictionRespectsAccess(t *testing.T) {
	a, rec := newTestAllocator(t)
	refs := fillGP(t, a)

	// two hits on the first ref leave the second one coldest
	for i := 0; i < 2; i++ {
		_, err := a.R32(refs[0])
		require.NoError(t, err)
	}
	rec.moves = nil

	r, err := a.R32(At(0x2000))
	require.NoError(t, err)
	assert.Equal(t, x86.ECX, r.Reg)
	require.Len(t, rec.moves, 2)
	assert.True(t, rec.moves[0].isStore())
	assert.Equal(t, x86.DwordPtr(refs[1].Mem()), rec.moves[0].dst)
}

func TestSpillTieGoesToFirstDeclared(t *testing.T) {
	a, rec := newTestAllocator(t)
	refs := fillGP(t, a)

	// a single hit on the first ref ties it with the second
	_, err := a.R32(refs[0])
	require.NoError(t, err)
	require.Equal(t, a.Priority(x86.EAX), a.Priority(x86.ECX))
	rec.moves = nil

	r, err := a.R32(At(0x2000))
	require.NoError(t, err)
	assert.Equal(t, x86.EAX, r.Reg)
}

// Six GP slots with four pinned by temporaries behave like a file of two.
func TestTwoSlotEviction(t *testing.T) {
	a, rec := newTestAllocator(t)
	for i := 0; i < 4; i++ {
		_, err := a.T32(i)
		require.NoError(t, err)
	}
	require.Empty(t, rec.moves)

	A, B, C := At(0x100), At(0x200), At(0x300)
	for _, ref := range []Ref{A, B, C} {
		_, err := a.R32(ref)
		require.NoError(t, err)
	}

	require.Len(t, rec.moves, 4)
	assert.True(t, rec.moves[0].isLoad())
	assert.True(t, rec.moves[1].isLoad())
	assert.Equal(t, move{"mov", x86.DwordPtr(A.Mem()), x86.RegOp(x86.ESI)}, rec.moves[2])
	assert.Equal(t, move{"mov", x86.RegOp(x86.ESI), x86.DwordPtr(C.Mem())}, rec.moves[3])
	checkInvariants(t, a)
}

func TestFreeAllEmitsNothing(t *testing.T) {
	a, rec := newTestAllocator(t)
	_, err := a.R32(At(0x100))
	require.NoError(t, err)
	_, err = a.R32(At(0x200))
	require.NoError(t, err)
	rec.moves = nil

	a.FreeAll()

	assert.Empty(t, rec.moves)
	for _, r := range x86.Allocatable(x86.GP) {
		assert.True(t, a.Occupant(r).IsNull())
		assert.Zero(t, a.Priority(r))
	}
	checkInvariants(t, a)
}

func TestSpillAllStoresRealOccupants(t *testing.T) {
	a, rec := newTestAllocator(t)
	_, err := a.R32(At(0x100))
	require.NoError(t, err)
	_, err = a.R32(At(0x200))
	require.NoError(t, err)
	rec.moves = nil

	require.NoError(t, a.SpillAll())

	require.Len(t, rec.moves, 2)
	assert.Equal(t, move{"mov", x86.DwordPtr(x86.Abs(0x100)), x86.RegOp(x86.EAX)}, rec.moves[0])
	assert.Equal(t, move{"mov", x86.DwordPtr(x86.Abs(0x200)), x86.RegOp(x86.ECX)}, rec.moves[1])
	assert.Empty(t, a.States())
	checkInvariants(t, a)
}

func TestSpillAllOrder(t *testing.T) {
	a, rec := newTestAllocator(t)
	_, err := a.R128(At(0x300))
	require.NoError(t, err)
	_, err = a.R64(At(0x200))
	require.NoError(t, err)
	_, err = a.R32(At(0x100))
	require.NoError(t, err)
	_, err = a.T32(0)
	require.NoError(t, err)
	rec.moves = nil

	require.NoError(t, a.SpillAll())

	require.Len(t, rec.moves, 3, "temporaries are never stored")
	assert.Equal(t, "mov", rec.moves[0].op)
	assert.Equal(t, "movq", rec.moves[1].op)
	assert.Equal(t, "movaps", rec.moves[2].op)
}

func TestExhaustedByPlaceholders(t *testing.T) {
	a, rec := newTestAllocator(t)
	for i := 0; i < 6; i++ {
		_, err := a.T32(i)
		require.NoError(t, err)
	}

	_, err := a.R32(At(0x1000))
	assert.ErrorIs(t, err, ErrClassExhausted)
	assert.Empty(t, rec.moves)
	for i := 0; i < 6; i++ {
		_, ok := a.Resident(x86.GP, Temp(i))
		assert.True(t, ok, "temporary %d must not be evicted", i)
	}

	// other classes are unaffected
	_, err = a.R64(At(0x1000))
	assert.NoError(t, err)
	checkInvariants(t, a)
}

func TestTempIndexRange(t *testing.T) {
	a, _ := newTestAllocator(t)

	_, err := a.T32(6)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
	_, err = a.T32(-1)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
	_, err = a.T64(8)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
	_, err = a.T128(8)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)

	r1, err := a.T64(7)
	require.NoError(t, err)
	r2, err := a.T64(7)
	require.NoError(t, err)
	assert.Equal(t, r1, r2)
}

func TestMemOrRegister(t *testing.T) {
	a, rec := newTestAllocator(t)
	ref := At(0x4000)

	op, err := a.M32(ref)
	require.NoError(t, err)
	assert.Equal(t, x86.DwordPtr(x86.Abs(0x4000)), op)
	op, err = a.M128(ref)
	require.NoError(t, err)
	assert.Equal(t, x86.XmmwordPtr(x86.Abs(0x4000)), op)
	assert.Empty(t, a.States(), "memory form never allocates")

	_, err = a.R32(ref)
	require.NoError(t, err)
	_, err = a.R32(At(0x4004))
	require.NoError(t, err)
	require.Equal(t, uint32(math.MaxUint32), a.Priority(x86.ECX))

	// a register hit counts as an access and ages the other slots
	op, err = a.M32(ref)
	require.NoError(t, err)
	assert.Equal(t, x86.RegOp(x86.EAX), op)
	assert.Equal(t, uint32(math.MaxUint32-1), a.Priority(x86.ECX))
	assert.Equal(t, uint32(math.MaxUint32-1), a.Priority(x86.EAX))

	// resident in gp only, so the mmx form is still memory
	op, err = a.M64(ref)
	require.NoError(t, err)
	assert.Equal(t, x86.QwordPtr(x86.Abs(0x4000)), op)
	assert.Len(t, rec.moves, 2)
	checkInvariants(t, a)
}

func TestAllocateNamedRegister(t *testing.T) {
	a, rec := newTestAllocator(t)

	op, err := a.Allocate(x86.EBX, At(0x100), true)
	require.NoError(t, err)
	assert.Equal(t, x86.RegOp(x86.EBX), op)
	require.Len(t, rec.moves, 1)

	_, err = a.Allocate(x86.EBX, At(0x200), false)
	assert.ErrorIs(t, err, ErrRegisterUnavailable)
	_, err = a.Allocate(x86.EBX, At(0x100), false)
	assert.ErrorIs(t, err, ErrRegisterUnavailable, "even the same occupant must be freed first")

	_, err = a.Allocate(x86.ESP, At(0x100), false)
	assert.ErrorIs(t, err, ErrInternal)
	_, err = a.Allocate(x86.NoReg, At(0x100), false)
	assert.ErrorIs(t, err, ErrInternal)
	_, err = a.Allocate(x86.XMM3, Ref{}, true)
	assert.ErrorIs(t, err, ErrNullDereference)

	op, err = a.Allocate(x86.XMM3, At(0x300), true)
	require.NoError(t, err)
	assert.Equal(t, x86.RegOp(x86.XMM3), op)
	assert.Equal(t, "movaps", rec.moves[1].op)

	// get-or-allocate finds the named binding
	op, err = a.R32(At(0x100))
	require.NoError(t, err)
	assert.Equal(t, x86.RegOp(x86.EBX), op)
	assert.Len(t, rec.moves, 2)
	checkInvariants(t, a)
}

func TestAllocateRejectsResidentRef(t *testing.T) {
	a, rec := newTestAllocator(t)
	ref := At(0x100)
	_, err := a.R32(ref)
	require.NoError(t, err)

	_, err = a.Allocate(x86.ECX, ref, true)
	assert.ErrorIs(t, err, ErrRegisterUnavailable)
	assert.True(t, a.Occupant(x86.ECX).IsNull())
	reg, ok := a.Resident(x86.GP, ref)
	require.True(t, ok)
	assert.Equal(t, x86.EAX, reg)
	checkInvariants(t, a)

	// the same ref is still free to take a register in another class
	_, err = a.Allocate(x86.MM2, ref, true)
	require.NoError(t, err)

	rec.moves = nil
	require.NoError(t, a.SpillAll())
	require.Len(t, rec.moves, 2, "one store per class")
	assert.Equal(t, move{"mov", x86.DwordPtr(x86.Abs(0x100)), x86.RegOp(x86.EAX)}, rec.moves[0])
	assert.Equal(t, "movq", rec.moves[1].op)
}

func TestIndexWithoutScaleIsSameRef(t *testing.T) {
	a, rec := newTestAllocator(t)
	unscaled := MemRef(x86.Mem{Base: x86.EBX, Index: x86.ECX})
	scaled := MemRef(x86.Mem{Base: x86.EBX, Index: x86.ECX, Scale: 1})
	assert.Equal(t, unscaled, scaled)
	assert.NotEqual(t, scaled, MemRef(x86.Mem{Base: x86.EBX, Index: x86.ECX, Scale: 2}))

	r1, err := a.R32(unscaled)
	require.NoError(t, err)
	r2, err := a.R32(scaled)
	require.NoError(t, err)
	assert.Equal(t, r1, r2)
	assert.Len(t, rec.moves, 1)
	checkInvariants(t, a)

	// no index leaves the scale field alone
	assert.Equal(t, uint8(0), MemRef(x86.Mem{Base: x86.EBX, Disp: 4}).Mem().Scale)
}

func TestFreeAndSpillByRegister(t *testing.T) {
	a, rec := newTestAllocator(t)
	_, err := a.R64(At(0x100))
	require.NoError(t, err)
	_, err = a.R64(At(0x200))
	require.NoError(t, err)
	rec.moves = nil

	require.NoError(t, a.Free(x86.MM0))
	assert.Empty(t, rec.moves)
	require.NoError(t, a.Spill(x86.MM1))
	require.Len(t, rec.moves, 1)
	assert.Equal(t, move{"movq", x86.QwordPtr(x86.Abs(0x200)), x86.RegOp(x86.MM1)}, rec.moves[0])

	// releasing a free register is a no-op
	require.NoError(t, a.Free(x86.MM1))
	require.NoError(t, a.Spill(x86.MM1))
	assert.Len(t, rec.moves, 1)

	assert.ErrorIs(t, a.Free(x86.EBP), ErrInternal)
	assert.ErrorIs(t, a.Spill(x86.Reg(200)), ErrInternal)
	checkInvariants(t, a)
}

func TestFreeAndSpillByReference(t *testing.T) {
	a, rec := newTestAllocator(t)
	ref := At(0x100)
	_, err := a.R32(ref)
	require.NoError(t, err)
	_, err = a.R64(ref)
	require.NoError(t, err)
	_, err = a.R128(ref)
	require.NoError(t, err)
	rec.moves = nil

	// general purpose first, one register per call
	require.NoError(t, a.SpillRef(ref))
	require.Len(t, rec.moves, 1)
	assert.Equal(t, "mov", rec.moves[0].op)
	_, inGP := a.Resident(x86.GP, ref)
	_, inMM := a.Resident(x86.SIMD64, ref)
	assert.False(t, inGP)
	assert.True(t, inMM)

	a.FreeRef(ref)
	_, inMM = a.Resident(x86.SIMD64, ref)
	assert.False(t, inMM)

	// the sse file is not searched
	a.FreeRef(ref)
	require.NoError(t, a.SpillRef(ref))
	reg, inXMM := a.Resident(x86.SIMD128, ref)
	assert.True(t, inXMM)
	assert.Equal(t, x86.XMM0, reg)
	assert.Len(t, rec.moves, 1)

	// unknown refs are ignored
	a.FreeRef(At(0x9999))
	assert.NoError(t, a.SpillRef(At(0x9999)))
}

func TestSpillTemporaryEmitsNothing(t *testing.T) {
	a, rec := newTestAllocator(t)
	op, err := a.T32(2)
	require.NoError(t, err)

	require.NoError(t, a.Spill(op.Reg))
	assert.Empty(t, rec.moves)
	assert.True(t, a.Occupant(op.Reg).IsNull())
}

func TestEmitterFailurePropagates(t *testing.T) {
	a, rec := newTestAllocator(t)
	boom := errors.New("buffer full")
	rec.fail = boom

	_, err := a.R32(At(0x100))
	assert.ErrorIs(t, err, boom)
}

func TestRegisterRelativeRefs(t *testing.T) {
	a, rec := newTestAllocator(t)
	ref := MemRef(x86.Mem{Base: x86.EBP, Disp: -8})

	_, err := a.R32(ref)
	require.NoError(t, err)
	require.Len(t, rec.moves, 1)
	assert.Equal(t, x86.DwordPtr(x86.Mem{Base: x86.EBP, Disp: -8}), rec.moves[0].src)
	assert.Equal(t, "[ebp-0x8]", ref.String())
}

func TestEvents(t *testing.T) {
	log.RecordEvents(true)
	defer log.RecordEvents(false)

	a, _ := newTestAllocator(t)
	refs := fillGP(t, a)
	_, err := a.R32(At(0x2000))
	require.NoError(t, err)
	a.FreeAll()

	var kinds []string
	for _, ev := range log.RecordedEvents() {
		kinds = append(kinds, ev.Kind)
	}
	// six assign+load pairs, then store, spill, assign, load, then six frees
	require.Len(t, kinds, 12+4+6)
	assert.Equal(t, []string{"store", "spill", "assign", "load"}, kinds[12:16])

	store := log.RecordedEvents()[12]
	assert.Equal(t, "eax", store.Get("reg"))
	assert.Equal(t, refs[0].String(), store.Get("ref"))
}

func TestTree(t *testing.T) {
	a, _ := newTestAllocator(t)
	_, err := a.R32(At(0x1000))
	require.NoError(t, err)
	_, err = a.T128(1)
	require.NoError(t, err)

	out := a.Tree()
	assert.Contains(t, out, "gp (1/6)")
	assert.Contains(t, out, "mmx (0/8)")
	assert.Contains(t, out, "xmm (1/8)")
	assert.Contains(t, out, "[0x1000]")
	assert.Contains(t, out, "t1")

	states := a.States()
	require.Len(t, states, 2)
	assert.Equal(t, x86.EAX, states[0].Reg)
	assert.Equal(t, x86.XMM0, states[1].Reg)
}
