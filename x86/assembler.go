package x86

import (
	"fmt"

	"github.com/colorfulnotion/softjit/log"
)

// Assembler appends encoded instructions to a growing code buffer. Every
// successful call appends exactly one instruction.
type Assembler struct {
	code    []byte
	offsets []int // start offset of each instruction
}

func NewAssembler(capacity int) *Assembler {
	return &Assembler{code: make([]byte, 0, capacity)}
}

// Mov emits a 32-bit MOV between a general purpose register and memory or
// another general purpose register.
func (a *Assembler) Mov(dst, src Operand) error {
	return a.emit(movForm, dst, src)
}

// Movq emits a 64-bit MMX MOVQ.
func (a *Assembler) Movq(dst, src Operand) error {
	return a.emit(movqForm, dst, src)
}

// Movaps emits a 128-bit aligned SSE MOVAPS.
func (a *Assembler) Movaps(dst, src Operand) error {
	return a.emit(movapsForm, dst, src)
}

func (a *Assembler) emit(f moveForm, dst, src Operand) error {
	code, err := f.encode(dst, src)
	if err != nil {
		return err
	}
	a.offsets = append(a.offsets, len(a.code))
	a.code = append(a.code, code...)
	log.Trace(log.EmitMonitoring, "emit", "inst", fmt.Sprintf("%s %s, %s", f.name, dst, src), "bytes", fmt.Sprintf("% x", code))
	return nil
}

// Bytes returns the emitted code. The slice aliases the assembler's buffer.
func (a *Assembler) Bytes() []byte {
	return a.code
}

// Len returns the number of emitted bytes.
func (a *Assembler) Len() int {
	return len(a.code)
}

// Count returns the number of emitted instructions.
func (a *Assembler) Count() int {
	return len(a.offsets)
}

// Instruction returns the bytes of the i-th emitted instruction.
func (a *Assembler) Instruction(i int) []byte {
	if i < 0 || i >= len(a.offsets) {
		return nil
	}
	end := len(a.code)
	if i+1 < len(a.offsets) {
		end = a.offsets[i+1]
	}
	return a.code[a.offsets[i]:end]
}

func (a *Assembler) Reset() {
	a.code = a.code[:0]
	a.offsets = a.offsets[:0]
}

// Listing disassembles everything emitted so far.
func (a *Assembler) Listing() string {
	return Disassemble(a.code)
}
