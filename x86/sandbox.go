//go:build unicorn
// +build unicorn

package x86

import (
	"encoding/binary"
	"fmt"

	uc "github.com/unicorn-engine/unicorn/bindings/go/unicorn"
)

const (
	pageSize = uint64(0x1000) // 4 KiB

	codeBase = uint64(0x00400000)
	codeSize = uint64(0x00100000)
)

// Sandbox runs emitted 32-bit code inside the unicorn emulator against a
// single mapped data region.
type Sandbox struct {
	mu       uc.Unicorn
	dataBase uint64
	dataSize uint64
}

func alignUp(v uint64) uint64 {
	return (v + pageSize - 1) &^ (pageSize - 1)
}

// NewSandbox maps [dataBase, dataBase+dataSize) as read/write memory.
func NewSandbox(dataBase uint32, dataSize uint32) (*Sandbox, error) {
	mu, err := uc.NewUnicorn(uc.ARCH_X86, uc.MODE_32)
	if err != nil {
		return nil, fmt.Errorf("failed to create unicorn: %w", err)
	}
	s := &Sandbox{
		mu:       mu,
		dataBase: uint64(dataBase) &^ (pageSize - 1),
	}
	s.dataSize = alignUp(uint64(dataBase) + uint64(dataSize) - s.dataBase)
	if err := mu.MemMap(s.dataBase, s.dataSize); err != nil {
		mu.Close()
		return nil, fmt.Errorf("map data: %w", err)
	}
	if err := mu.MemMap(codeBase, codeSize); err != nil {
		mu.Close()
		return nil, fmt.Errorf("map code: %w", err)
	}
	return s, nil
}

func (s *Sandbox) WriteMem(addr uint32, data []byte) error {
	return s.mu.MemWrite(uint64(addr), data)
}

func (s *Sandbox) ReadMem(addr uint32, n int) ([]byte, error) {
	return s.mu.MemRead(uint64(addr), uint64(n))
}

func (s *Sandbox) WriteU32(addr uint32, v uint32) error {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, v)
	return s.WriteMem(addr, buf)
}

func (s *Sandbox) ReadU32(addr uint32) (uint32, error) {
	b, err := s.ReadMem(addr, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// Run executes code from its first byte to its end.
func (s *Sandbox) Run(code []byte) error {
	if uint64(len(code)) > codeSize {
		return fmt.Errorf("code too large: %d bytes", len(code))
	}
	if len(code) == 0 {
		return nil
	}
	if err := s.mu.MemWrite(codeBase, code); err != nil {
		return fmt.Errorf("write code: %w", err)
	}
	if err := s.mu.Start(codeBase, codeBase+uint64(len(code))); err != nil {
		eip, _ := s.mu.RegRead(uc.X86_REG_EIP)
		return fmt.Errorf("emulation stopped at 0x%x: %w", eip, err)
	}
	return nil
}

// GPR reads a general purpose register after Run.
func (s *Sandbox) GPR(r Reg) (uint32, error) {
	ucRegs := map[Reg]int{
		EAX: uc.X86_REG_EAX,
		ECX: uc.X86_REG_ECX,
		EDX: uc.X86_REG_EDX,
		EBX: uc.X86_REG_EBX,
		ESP: uc.X86_REG_ESP,
		EBP: uc.X86_REG_EBP,
		ESI: uc.X86_REG_ESI,
		EDI: uc.X86_REG_EDI,
	}
	id, ok := ucRegs[r]
	if !ok {
		return 0, fmt.Errorf("%w: %s is not a general purpose register", ErrInvalidOperand, r)
	}
	v, err := s.mu.RegRead(id)
	return uint32(v), err
}

func (s *Sandbox) Close() error {
	return s.mu.Close()
}
