package x86

import (
	"fmt"
	"strings"

	"golang.org/x/arch/x86/x86asm"
)

// Mode is the decoder mode matching the emitted encodings.
const Mode = 32

// Decode splits code into instructions, failing on the first byte sequence
// that does not decode.
func Decode(code []byte) ([]x86asm.Inst, error) {
	var insts []x86asm.Inst
	for offset := 0; offset < len(code); {
		inst, err := x86asm.Decode(code[offset:], Mode)
		if err != nil {
			return insts, fmt.Errorf("decode at 0x%04x: %w", offset, err)
		}
		insts = append(insts, inst)
		offset += inst.Len
	}
	return insts, nil
}

// Disassemble renders one line per instruction: offset, bytes, mnemonic. A
// byte that does not start a valid instruction is shown as "db" and skipped.
func Disassemble(code []byte) string {
	var sb strings.Builder
	for offset := 0; offset < len(code); {
		insts, err := Decode(code[offset:])
		for _, inst := range insts {
			fmt.Fprintf(&sb, "0x%04x: %-24s %s\n", offset, fmt.Sprintf("% x", code[offset:offset+inst.Len]), inst)
			offset += inst.Len
		}
		if err != nil {
			fmt.Fprintf(&sb, "0x%04x: db 0x%02x\n", offset, code[offset])
			offset++
		}
	}
	return sb.String()
}
