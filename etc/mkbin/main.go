// Command mkbin writes a small RISC-U demo binary for exercising the
// golem CLI by hand. The program reads eight bytes of input and divides
// by zero when the input word equals 42:
//
//	go run ./etc/mkbin demo.elf
//	golem execute demo.elf
package main

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/golem-se/golem/riscu"
)

const entry = uint64(0x10000)

func main() {
	path := "demo.elf"
	if len(os.Args) > 1 {
		path = os.Args[1]
	}
	if err := os.WriteFile(path, elfFor(words()), 0o755); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Printf("wrote %s\n", path)
}

func words() []uint32 {
	return []uint32{
		riscu.EncodeADDI(riscu.RegA0, riscu.RegZero, 0),    // fd
		riscu.EncodeADDI(riscu.RegA1, riscu.RegZero, 4096), // buf
		riscu.EncodeADDI(riscu.RegA2, riscu.RegZero, 8),    // count
		riscu.EncodeADDI(riscu.RegA7, riscu.RegZero, 63),   // read
		riscu.EncodeECALL(),
		riscu.EncodeLD(riscu.RegT0, riscu.RegA1, 0),
		riscu.EncodeADDI(riscu.RegT1, riscu.RegZero, 42),
		riscu.EncodeBEQ(riscu.RegT0, riscu.RegT1, 16),
		riscu.EncodeADDI(riscu.RegA0, riscu.RegZero, 0),
		riscu.EncodeADDI(riscu.RegA7, riscu.RegZero, 93), // exit(0)
		riscu.EncodeECALL(),
		riscu.EncodeDIVU(riscu.RegT2, riscu.RegT0, riscu.RegZero),
		riscu.EncodeADDI(riscu.RegA0, riscu.RegZero, 1),
		riscu.EncodeADDI(riscu.RegA7, riscu.RegZero, 93), // exit(1)
		riscu.EncodeECALL(),
	}
}

// elfFor assembles a minimal ELF64 executable: file header, one program
// header for the executable segment, then the code bytes.
func elfFor(words []uint32) []byte {
	code := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(code[4*i:], w)
	}

	var buf bytes.Buffer
	le := func(v interface{}) { binary.Write(&buf, binary.LittleEndian, v) }

	buf.Write([]byte{0x7f, 'E', 'L', 'F', 2, 1, 1, 0}) // ELF64, little-endian
	buf.Write(make([]byte, 8))
	le(uint16(2))   // ET_EXEC
	le(uint16(243)) // EM_RISCV
	le(uint32(1))
	le(entry)
	le(uint64(64)) // phoff
	le(uint64(0))  // shoff
	le(uint32(0))  // flags
	le(uint16(64)) // ehsize
	le(uint16(56)) // phentsize
	le(uint16(1))  // phnum
	le(uint16(0))
	le(uint16(0))
	le(uint16(0))

	le(uint32(1)) // PT_LOAD
	le(uint32(5)) // PF_R|PF_X
	le(uint64(64 + 56))
	le(entry)
	le(entry)
	le(uint64(len(code)))
	le(uint64(len(code)))
	le(uint64(0x1000))
	buf.Write(code)

	return buf.Bytes()
}
