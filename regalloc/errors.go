package regalloc

import "errors"

// Allocation errors. All of them abort the current code generation run;
// instructions emitted before the failure are not rolled back.
var (
	ErrNullDereference     = errors.New("cannot dereference null reference")
	ErrClassExhausted      = errors.New("out of physical registers, use Free()")
	ErrRegisterUnavailable = errors.New("register not available for allocation")
	ErrIndexOutOfRange     = errors.New("temporary index out of range")
	ErrInternal            = errors.New("internal allocator error")
)
