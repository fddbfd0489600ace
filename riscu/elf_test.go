package riscu_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golem-se/golem/riscu"
)

type elfSeg struct {
	vaddr uint64
	flags uint32 // PF_* bits
	data  []byte
	memsz uint64 // 0 means len(data)
}

// writeELF assembles a minimal ELF64 executable on disk: file header,
// one program header per segment, then the segment bytes.
func writeELF(tb testing.TB, machine uint16, entry uint64, segs ...elfSeg) string {
	tb.Helper()

	var buf bytes.Buffer
	le := func(v interface{}) { binary.Write(&buf, binary.LittleEndian, v) }

	buf.Write([]byte{0x7f, 'E', 'L', 'F', 2, 1, 1, 0}) // ELF64, little-endian
	buf.Write(make([]byte, 8))
	le(uint16(2)) // ET_EXEC
	le(machine)
	le(uint32(1))
	le(entry)
	le(uint64(64)) // phoff
	le(uint64(0))  // shoff
	le(uint32(0))  // flags
	le(uint16(64)) // ehsize
	le(uint16(56)) // phentsize
	le(uint16(len(segs)))
	le(uint16(0))
	le(uint16(0))
	le(uint16(0))

	off := uint64(64 + 56*len(segs))
	for _, s := range segs {
		memsz := s.memsz
		if memsz == 0 {
			memsz = uint64(len(s.data))
		}
		le(uint32(1)) // PT_LOAD
		le(s.flags)
		le(off)
		le(s.vaddr)
		le(s.vaddr)
		le(uint64(len(s.data)))
		le(memsz)
		le(uint64(0x1000))
		off += uint64(len(s.data))
	}
	for _, s := range segs {
		buf.Write(s.data)
	}

	path := filepath.Join(tb.TempDir(), "prog")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		tb.Fatal(err)
	}
	return path
}

func codeBytes(words ...uint32) []byte {
	b := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(b[4*i:], w)
	}
	return b
}

func TestLoad(t *testing.T) {
	path := writeELF(t, 243, 0x10000,
		elfSeg{vaddr: 0x10000, flags: 0x5, data: codeBytes( // PF_R|PF_X
			riscu.EncodeADDI(riscu.RegA0, riscu.RegZero, 1),
			riscu.EncodeECALL(),
		)},
		elfSeg{vaddr: 0x20000, flags: 0x6, data: []byte{1, 2, 3, 4, 5, 6, 7, 8}, memsz: 0x100}, // PF_R|PF_W
	)

	p, err := riscu.Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if got, exp := p.Entry, uint64(0x10000); got != exp {
		t.Fatalf("Entry=0x%x, expected 0x%x", got, exp)
	} else if got, exp := len(p.Instructions), 2; got != exp {
		t.Fatalf("len(Instructions)=%d, expected %d", got, exp)
	} else if got, exp := p.Instructions[1].Op, riscu.OpECALL; got != exp {
		t.Fatalf("Instructions[1].Op=%s, expected %s", got, exp)
	} else if got, exp := len(p.Segments), 2; got != exp {
		t.Fatalf("len(Segments)=%d, expected %d", got, exp)
	} else if p.CFG == nil {
		t.Fatal("expected CFG")
	}

	// Zero fill beyond file contents up to memsz.
	if got, exp := len(p.Segments[1].Data), 0x100; got != exp {
		t.Fatalf("len(Segments[1].Data)=%d, expected %d", got, exp)
	} else if got, exp := p.Segments[1].Data[7], byte(8); got != exp {
		t.Fatalf("Data[7]=%d, expected %d", got, exp)
	} else if got, exp := p.Segments[1].Data[8], byte(0); got != exp {
		t.Fatalf("Data[8]=%d, expected %d", got, exp)
	}
}

func TestLoad_UnsupportedInstruction(t *testing.T) {
	path := writeELF(t, 243, 0x10000,
		elfSeg{vaddr: 0x10000, flags: 0x5, data: codeBytes(
			riscu.EncodeADDI(riscu.RegA0, riscu.RegZero, 1),
			0x00B54533, // xor a0,a0,a1
		)},
	)
	if _, err := riscu.Load(path); !errors.Is(err, riscu.ErrUnsupported) {
		t.Fatalf("err=%v, expected ErrUnsupported", err)
	}
}

func TestLoad_WrongMachine(t *testing.T) {
	path := writeELF(t, 62, 0x10000, // EM_X86_64
		elfSeg{vaddr: 0x10000, flags: 0x5, data: codeBytes(riscu.EncodeECALL())},
	)
	if _, err := riscu.Load(path); err == nil {
		t.Fatal("expected error")
	} else if !strings.Contains(err.Error(), "not a RISC-V binary") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoad_NoExecutableSegment(t *testing.T) {
	path := writeELF(t, 243, 0x10000,
		elfSeg{vaddr: 0x10000, flags: 0x6, data: []byte{1, 2, 3, 4}},
	)
	if _, err := riscu.Load(path); err == nil {
		t.Fatal("expected error")
	} else if !strings.Contains(err.Error(), "no executable segment") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoad_EntryOutsideCode(t *testing.T) {
	path := writeELF(t, 243, 0x20000,
		elfSeg{vaddr: 0x10000, flags: 0x5, data: codeBytes(riscu.EncodeECALL())},
	)
	if _, err := riscu.Load(path); err == nil {
		t.Fatal("expected error")
	}
}
