package riscu

import (
	"errors"
	"fmt"
	"io"
)

// ErrUnsupported is returned when a word does not decode to a RISC-U instruction.
var ErrUnsupported = errors.New("riscu: unsupported instruction")

// Opcode identifies a RISC-U instruction.
type Opcode int

// RISC-U instruction set.
const (
	OpLUI = Opcode(iota)
	OpADDI
	OpLD
	OpSD
	OpADD
	OpSUB
	OpMUL
	OpDIVU
	OpREMU
	OpSLTU
	OpBEQ
	OpJAL
	OpJALR
	OpECALL
)

var opcodeNames = [...]string{
	OpLUI:   "lui",
	OpADDI:  "addi",
	OpLD:    "ld",
	OpSD:    "sd",
	OpADD:   "add",
	OpSUB:   "sub",
	OpMUL:   "mul",
	OpDIVU:  "divu",
	OpREMU:  "remu",
	OpSLTU:  "sltu",
	OpBEQ:   "beq",
	OpJAL:   "jal",
	OpJALR:  "jalr",
	OpECALL: "ecall",
}

// String returns the instruction mnemonic.
func (op Opcode) String() string {
	if op >= 0 && op < Opcode(len(opcodeNames)) {
		return opcodeNames[op]
	}
	return fmt.Sprintf("Opcode<%d>", int(op))
}

// Register identifies one of the 32 integer registers.
type Register uint8

// ABI register names.
const (
	RegZero = Register(iota)
	RegRA
	RegSP
	RegGP
	RegTP
	RegT0
	RegT1
	RegT2
	RegS0
	RegS1
	RegA0
	RegA1
	RegA2
	RegA3
	RegA4
	RegA5
	RegA6
	RegA7
	RegS2
	RegS3
	RegS4
	RegS5
	RegS6
	RegS7
	RegS8
	RegS9
	RegS10
	RegS11
	RegT3
	RegT4
	RegT5
	RegT6
)

var registerNames = [32]string{
	"zero", "ra", "sp", "gp", "tp", "t0", "t1", "t2",
	"s0", "s1", "a0", "a1", "a2", "a3", "a4", "a5",
	"a6", "a7", "s2", "s3", "s4", "s5", "s6", "s7",
	"s8", "s9", "s10", "s11", "t3", "t4", "t5", "t6",
}

// String returns the ABI name of the register.
func (r Register) String() string {
	if r < 32 {
		return registerNames[r]
	}
	return fmt.Sprintf("Register<%d>", uint8(r))
}

// Instruction is one decoded RISC-U instruction.
type Instruction struct {
	Addr uint64
	Raw  uint32
	Op   Opcode
	Rd   Register
	Rs1  Register
	Rs2  Register
	Imm  int64
}

// Decode decodes the 32-bit word at addr.
// Words outside the RISC-U subset return ErrUnsupported.
func Decode(addr uint64, raw uint32) (Instruction, error) {
	inst := Instruction{Addr: addr, Raw: raw}

	opcode := raw & 0x7f
	funct3 := (raw >> 12) & 0x7
	funct7 := (raw >> 25) & 0x7f
	rd := Register((raw >> 7) & 0x1f)
	rs1 := Register((raw >> 15) & 0x1f)
	rs2 := Register((raw >> 20) & 0x1f)

	switch opcode {
	case 0x37: // U-type
		inst.Op, inst.Rd, inst.Imm = OpLUI, rd, immU(raw)

	case 0x13: // I-type
		if funct3 != 0x0 {
			return inst, unsupportedError(addr, raw)
		}
		inst.Op, inst.Rd, inst.Rs1, inst.Imm = OpADDI, rd, rs1, immI(raw)

	case 0x03: // I-type
		if funct3 != 0x3 {
			return inst, unsupportedError(addr, raw)
		}
		inst.Op, inst.Rd, inst.Rs1, inst.Imm = OpLD, rd, rs1, immI(raw)

	case 0x23: // S-type
		if funct3 != 0x3 {
			return inst, unsupportedError(addr, raw)
		}
		inst.Op, inst.Rs1, inst.Rs2, inst.Imm = OpSD, rs1, rs2, immS(raw)

	case 0x33: // R-type
		switch {
		case funct7 == 0x00 && funct3 == 0x0:
			inst.Op = OpADD
		case funct7 == 0x20 && funct3 == 0x0:
			inst.Op = OpSUB
		case funct7 == 0x01 && funct3 == 0x0:
			inst.Op = OpMUL
		case funct7 == 0x01 && funct3 == 0x5:
			inst.Op = OpDIVU
		case funct7 == 0x01 && funct3 == 0x7:
			inst.Op = OpREMU
		case funct7 == 0x00 && funct3 == 0x3:
			inst.Op = OpSLTU
		default:
			return inst, unsupportedError(addr, raw)
		}
		inst.Rd, inst.Rs1, inst.Rs2 = rd, rs1, rs2

	case 0x63: // B-type
		if funct3 != 0x0 {
			return inst, unsupportedError(addr, raw)
		}
		inst.Op, inst.Rs1, inst.Rs2, inst.Imm = OpBEQ, rs1, rs2, immB(raw)

	case 0x6f: // J-type
		inst.Op, inst.Rd, inst.Imm = OpJAL, rd, immJ(raw)

	case 0x67: // I-type
		if funct3 != 0x0 {
			return inst, unsupportedError(addr, raw)
		}
		inst.Op, inst.Rd, inst.Rs1, inst.Imm = OpJALR, rd, rs1, immI(raw)

	case 0x73:
		if raw != 0x00000073 {
			return inst, unsupportedError(addr, raw)
		}
		inst.Op = OpECALL

	default:
		return inst, unsupportedError(addr, raw)
	}
	return inst, nil
}

func unsupportedError(addr uint64, raw uint32) error {
	return fmt.Errorf("%w: 0x%08x at 0x%x", ErrUnsupported, raw, addr)
}

// Immediate extraction per instruction format, sign-extended.

func immI(raw uint32) int64 {
	return int64(int32(raw)) >> 20
}

func immU(raw uint32) int64 {
	return int64(int32(raw & 0xfffff000))
}

func immS(raw uint32) int64 {
	return (int64(int32(raw)) >> 25 << 5) | int64((raw>>7)&0x1f)
}

func immB(raw uint32) int64 {
	return (int64(int32(raw)) >> 31 << 12) |
		(int64((raw>>25)&0x3f) << 5) |
		(int64((raw>>8)&0xf) << 1) |
		(int64((raw>>7)&0x1) << 11)
}

func immJ(raw uint32) int64 {
	return (int64(int32(raw)) >> 31 << 20) |
		(int64((raw>>21)&0x3ff) << 1) |
		(int64((raw>>20)&0x1) << 11) |
		(int64((raw>>12)&0xff) << 12)
}

// Target returns the absolute target address of a branch or jump.
func (inst *Instruction) Target() uint64 {
	return inst.Addr + uint64(inst.Imm)
}

// IsBranch returns true for conditional branches.
func (inst *Instruction) IsBranch() bool {
	return inst.Op == OpBEQ
}

// IsCall returns true for direct and indirect calls.
func (inst *Instruction) IsCall() bool {
	return (inst.Op == OpJAL || inst.Op == OpJALR) && inst.Rd == RegRA
}

// IsReturn returns true for the canonical return instruction.
func (inst *Instruction) IsReturn() bool {
	return inst.Op == OpJALR && inst.Rd == RegZero && inst.Rs1 == RegRA && inst.Imm == 0
}

// IsTerminator returns true if the instruction ends a basic block.
func (inst *Instruction) IsTerminator() bool {
	switch inst.Op {
	case OpBEQ, OpJAL, OpJALR, OpECALL:
		return true
	default:
		return false
	}
}

// Encoders for each instruction, used to assemble fixtures.

func encodeR(opcode, funct3, funct7 uint32, rd, rs1, rs2 Register) uint32 {
	return funct7<<25 | uint32(rs2)<<20 | uint32(rs1)<<15 | funct3<<12 | uint32(rd)<<7 | opcode
}

func encodeI(opcode, funct3 uint32, rd, rs1 Register, imm int64) uint32 {
	return uint32(imm&0xfff)<<20 | uint32(rs1)<<15 | funct3<<12 | uint32(rd)<<7 | opcode
}

func encodeS(opcode, funct3 uint32, rs1, rs2 Register, imm int64) uint32 {
	return uint32((imm>>5)&0x7f)<<25 | uint32(rs2)<<20 | uint32(rs1)<<15 | funct3<<12 | uint32(imm&0x1f)<<7 | opcode
}

func encodeB(opcode, funct3 uint32, rs1, rs2 Register, imm int64) uint32 {
	return uint32((imm>>12)&0x1)<<31 | uint32((imm>>5)&0x3f)<<25 |
		uint32(rs2)<<20 | uint32(rs1)<<15 | funct3<<12 |
		uint32((imm>>1)&0xf)<<8 | uint32((imm>>11)&0x1)<<7 | opcode
}

func encodeU(opcode uint32, rd Register, imm int64) uint32 {
	return uint32(imm&0xfffff)<<12 | uint32(rd)<<7 | opcode
}

func encodeJ(opcode uint32, rd Register, imm int64) uint32 {
	return uint32((imm>>20)&0x1)<<31 | uint32((imm>>1)&0x3ff)<<21 |
		uint32((imm>>11)&0x1)<<20 | uint32((imm>>12)&0xff)<<12 |
		uint32(rd)<<7 | opcode
}

// EncodeLUI encodes lui rd,imm where imm is the 20-bit upper immediate.
func EncodeLUI(rd Register, imm int64) uint32 { return encodeU(0x37, rd, imm) }

// EncodeADDI encodes addi rd,rs1,imm.
func EncodeADDI(rd, rs1 Register, imm int64) uint32 { return encodeI(0x13, 0x0, rd, rs1, imm) }

// EncodeLD encodes ld rd,offset(base).
func EncodeLD(rd, base Register, offset int64) uint32 { return encodeI(0x03, 0x3, rd, base, offset) }

// EncodeSD encodes sd src,offset(base).
func EncodeSD(src, base Register, offset int64) uint32 { return encodeS(0x23, 0x3, base, src, offset) }

// EncodeADD encodes add rd,rs1,rs2.
func EncodeADD(rd, rs1, rs2 Register) uint32 { return encodeR(0x33, 0x0, 0x00, rd, rs1, rs2) }

// EncodeSUB encodes sub rd,rs1,rs2.
func EncodeSUB(rd, rs1, rs2 Register) uint32 { return encodeR(0x33, 0x0, 0x20, rd, rs1, rs2) }

// EncodeMUL encodes mul rd,rs1,rs2.
func EncodeMUL(rd, rs1, rs2 Register) uint32 { return encodeR(0x33, 0x0, 0x01, rd, rs1, rs2) }

// EncodeDIVU encodes divu rd,rs1,rs2.
func EncodeDIVU(rd, rs1, rs2 Register) uint32 { return encodeR(0x33, 0x5, 0x01, rd, rs1, rs2) }

// EncodeREMU encodes remu rd,rs1,rs2.
func EncodeREMU(rd, rs1, rs2 Register) uint32 { return encodeR(0x33, 0x7, 0x01, rd, rs1, rs2) }

// EncodeSLTU encodes sltu rd,rs1,rs2.
func EncodeSLTU(rd, rs1, rs2 Register) uint32 { return encodeR(0x33, 0x3, 0x00, rd, rs1, rs2) }

// EncodeBEQ encodes beq rs1,rs2,offset.
func EncodeBEQ(rs1, rs2 Register, offset int64) uint32 { return encodeB(0x63, 0x0, rs1, rs2, offset) }

// EncodeJAL encodes jal rd,offset.
func EncodeJAL(rd Register, offset int64) uint32 { return encodeJ(0x6f, rd, offset) }

// EncodeJALR encodes jalr rd,offset(base).
func EncodeJALR(rd, base Register, offset int64) uint32 { return encodeI(0x67, 0x0, rd, base, offset) }

// EncodeECALL encodes ecall.
func EncodeECALL() uint32 { return 0x00000073 }

// Disassemble returns the assembly form of one instruction.
func Disassemble(inst Instruction) string {
	switch inst.Op {
	case OpLUI:
		return fmt.Sprintf("lui %s,0x%x", inst.Rd, uint32(inst.Imm)>>12)
	case OpADDI:
		return fmt.Sprintf("addi %s,%s,%d", inst.Rd, inst.Rs1, inst.Imm)
	case OpLD:
		return fmt.Sprintf("ld %s,%d(%s)", inst.Rd, inst.Imm, inst.Rs1)
	case OpSD:
		return fmt.Sprintf("sd %s,%d(%s)", inst.Rs2, inst.Imm, inst.Rs1)
	case OpADD, OpSUB, OpMUL, OpDIVU, OpREMU, OpSLTU:
		return fmt.Sprintf("%s %s,%s,%s", inst.Op, inst.Rd, inst.Rs1, inst.Rs2)
	case OpBEQ:
		return fmt.Sprintf("beq %s,%s,0x%x", inst.Rs1, inst.Rs2, inst.Target())
	case OpJAL:
		return fmt.Sprintf("jal %s,0x%x", inst.Rd, inst.Target())
	case OpJALR:
		return fmt.Sprintf("jalr %s,%d(%s)", inst.Rd, inst.Imm, inst.Rs1)
	case OpECALL:
		return "ecall"
	default:
		return fmt.Sprintf(".word 0x%08x", inst.Raw)
	}
}

// Fprint writes a full disassembly listing of the program to w.
func Fprint(w io.Writer, p *Program) error {
	for i := range p.Instructions {
		inst := &p.Instructions[i]
		if _, err := fmt.Fprintf(w, "%8x: %08x  %s\n", inst.Addr, inst.Raw, Disassemble(*inst)); err != nil {
			return err
		}
	}
	return nil
}
