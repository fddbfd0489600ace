package riscu

import (
	"debug/elf"
	"encoding/binary"
	"fmt"
	"io"
)

// Load reads and fully decodes a RISC-U ELF binary.
// Any undecodable word in the executable segment fails here, before
// any execution state exists.
func Load(path string) (*Program, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("riscu: open binary: %w", err)
	}
	defer f.Close()
	return LoadFile(f)
}

// LoadFile decodes an already-opened ELF file.
func LoadFile(f *elf.File) (*Program, error) {
	if f.Class != elf.ELFCLASS64 || f.Data != elf.ELFDATA2LSB {
		return nil, fmt.Errorf("riscu: not a 64-bit little-endian binary")
	}
	if f.Machine != elf.EM_RISCV {
		return nil, fmt.Errorf("riscu: not a RISC-V binary: machine=%s", f.Machine)
	}
	if f.Type != elf.ET_EXEC {
		return nil, fmt.Errorf("riscu: not an executable: type=%s", f.Type)
	}

	var segments []Segment
	codeIdx, codeLen := -1, 0
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		data := make([]byte, prog.Memsz)
		if prog.Filesz > 0 {
			if _, err := io.ReadFull(prog.Open(), data[:prog.Filesz]); err != nil {
				return nil, fmt.Errorf("riscu: read segment at 0x%x: %w", prog.Vaddr, err)
			}
		}
		segments = append(segments, Segment{Addr: prog.Vaddr, Data: data})

		if prog.Flags&elf.PF_X != 0 {
			if codeIdx >= 0 {
				return nil, fmt.Errorf("riscu: multiple executable segments")
			}
			codeIdx, codeLen = len(segments)-1, int(prog.Filesz)
		}
	}
	if codeIdx < 0 {
		return nil, fmt.Errorf("riscu: no executable segment")
	}
	if codeLen%4 != 0 {
		return nil, fmt.Errorf("riscu: executable segment length %d not a multiple of 4", codeLen)
	}

	code := segments[codeIdx]
	instructions := make([]Instruction, 0, codeLen/4)
	for off := 0; off < codeLen; off += 4 {
		inst, err := Decode(code.Addr+uint64(off), binary.LittleEndian.Uint32(code.Data[off:]))
		if err != nil {
			return nil, err
		}
		instructions = append(instructions, inst)
	}

	return NewProgram(f.Entry, instructions, segments)
}
