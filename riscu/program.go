package riscu

import (
	"errors"
	"fmt"
)

// Segment is a loaded region of the binary image.
type Segment struct {
	Addr uint64
	Data []byte
}

// Program is an immutable, fully decoded RISC-U binary.
// It is loaded once and read-only for the lifetime of an exploration run.
type Program struct {
	Entry        uint64
	Instructions []Instruction
	Segments     []Segment
	CFG          *CFG
}

// NewProgram builds a program from a contiguous instruction stream.
// The control-flow graph is constructed here; statically invalid control
// transfers fail now rather than during exploration.
func NewProgram(entry uint64, instructions []Instruction, segments []Segment) (*Program, error) {
	if len(instructions) == 0 {
		return nil, errors.New("riscu: empty program")
	}

	base := instructions[0].Addr
	for i := range instructions {
		if instructions[i].Addr != base+uint64(i)*4 {
			return nil, fmt.Errorf("riscu: non-contiguous instruction stream at 0x%x", instructions[i].Addr)
		}
	}

	p := &Program{
		Entry:        entry,
		Instructions: instructions,
		Segments:     segments,
	}
	if p.IndexOf(entry) < 0 {
		return nil, fmt.Errorf("riscu: entry point 0x%x outside code", entry)
	}

	cfg, err := buildCFG(p)
	if err != nil {
		return nil, err
	}
	p.CFG = cfg
	return p, nil
}

// Base returns the address of the first instruction.
func (p *Program) Base() uint64 {
	return p.Instructions[0].Addr
}

// Limit returns the address one past the last instruction.
func (p *Program) Limit() uint64 {
	return p.Base() + uint64(len(p.Instructions))*4
}

// At returns the instruction at pc, or nil if pc is outside the code range.
func (p *Program) At(pc uint64) *Instruction {
	i := p.IndexOf(pc)
	if i < 0 {
		return nil
	}
	return &p.Instructions[i]
}

// IndexOf returns the instruction index for pc, or -1 if pc is outside
// the code range or unaligned.
func (p *Program) IndexOf(pc uint64) int {
	base := p.Base()
	if pc < base || pc >= p.Limit() || (pc-base)%4 != 0 {
		return -1
	}
	return int((pc - base) / 4)
}
