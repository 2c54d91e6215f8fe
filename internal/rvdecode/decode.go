package rvdecode

import (
	"github.com/rvsbt/sbt/internal/sbterr"
)

// InstructionSize is the fixed instruction width for RV32IMFD (no C
// extension).
const InstructionSize = 4

// Instruction is a decoded word: an opcode plus operand fields. Not every
// field is meaningful for every Op; see rvdecode's callers for which
// fields apply to which opcode.
type Instruction struct {
	Op      Op
	Rd      uint32
	Rs1     uint32
	Rs2     uint32
	Imm     int32
	Csr     uint32
	Padding bool // true if this "instruction" is a quietly-consumed zero word
}

// Decoder holds the per-section padding state machine: the first zero
// word enters a PADDING state in which non-zero words are an error, so
// trailing zeros consume the rest of the section quietly. A fresh
// Decoder must be used per section.
type Decoder struct {
	padding bool
}

// Decode decodes one 32-bit word at the given guest PC.
func (d *Decoder) Decode(addr uint32, raw uint32) (Instruction, error) {
	if d.padding {
		if raw != 0 {
			return Instruction{}, sbterr.At(sbterr.CategoryDecode, addr, "non-zero byte in padding")
		}
		return Instruction{Padding: true}, nil
	}
	if raw == 0 {
		d.padding = true
		return Instruction{Padding: true}, nil
	}
	return decodeWord(addr, raw)
}

func bits(raw uint32, hi, lo uint) uint32 {
	mask := uint32(1)<<(hi-lo+1) - 1
	return (raw >> lo) & mask
}

func signExtend(v uint32, bit uint) int32 {
	shift := 31 - bit
	return int32(v<<shift) >> shift
}

func decodeWord(addr uint32, raw uint32) (Instruction, error) {
	opcode := raw & 0x7f
	rd := bits(raw, 11, 7)
	funct3 := bits(raw, 14, 12)
	rs1 := bits(raw, 19, 15)
	rs2 := bits(raw, 24, 20)
	funct7 := bits(raw, 31, 25)

	switch opcode {
	case 0x33: // OP: register-register
		return decodeOP(addr, raw, rd, funct3, rs1, rs2, funct7)
	case 0x13: // OP-IMM: register-immediate
		return decodeOPIMM(addr, raw, rd, funct3, rs1, funct7)
	case 0x37: // LUI
		return Instruction{Op: OpLUI, Rd: rd, Imm: int32(raw & 0xFFFFF000)}, nil
	case 0x17: // AUIPC
		return Instruction{Op: OpAUIPC, Rd: rd, Imm: int32(raw & 0xFFFFF000)}, nil
	case 0x03: // LOAD
		return decodeLoad(addr, raw, rd, funct3, rs1)
	case 0x23: // STORE
		return decodeStore(addr, raw, funct3, rs1, rs2)
	case 0x63: // BRANCH
		return decodeBranch(addr, raw, funct3, rs1, rs2)
	case 0x6F: // JAL
		return decodeJAL(addr, raw, rd)
	case 0x67: // JALR
		if funct3 != 0 {
			return Instruction{}, sbterr.At(sbterr.CategoryDecode, addr, "invalid JALR funct3=%d", funct3)
		}
		imm := signExtend(bits(raw, 31, 20), 11)
		return Instruction{Op: OpJALR, Rd: rd, Rs1: rs1, Imm: imm}, nil
	case 0x0F: // MISC-MEM
		if funct3 == 0 {
			return Instruction{Op: OpFENCE}, nil
		}
		if funct3 == 1 {
			return Instruction{Op: OpFENCEI}, nil
		}
		return Instruction{}, sbterr.At(sbterr.CategoryDecode, addr, "invalid MISC-MEM funct3=%d", funct3)
	case 0x73: // SYSTEM
		return decodeSystem(addr, raw, rd, funct3, rs1)
	case 0x07, 0x27: // LOAD-FP, STORE-FP
		return Instruction{Op: OpFLoadStore}, nil
	case 0x53, 0x43, 0x47, 0x4B, 0x4F: // OP-FP and fused-multiply-add families
		return Instruction{Op: OpFloatArith}, nil
	default:
		return Instruction{}, sbterr.At(sbterr.CategoryDecode, addr, "invalid instruction encoding: opcode=0x%02x raw=0x%08x", opcode, raw)
	}
}

func decodeOP(addr uint32, raw, rd, funct3, rs1, rs2, funct7 uint32) (Instruction, error) {
	in := Instruction{Rd: rd, Rs1: rs1, Rs2: rs2}
	switch {
	case funct7 == 0x00 && funct3 == 0x0:
		in.Op = OpADD
	case funct7 == 0x20 && funct3 == 0x0:
		in.Op = OpSUB
	case funct7 == 0x00 && funct3 == 0x7:
		in.Op = OpAND
	case funct7 == 0x00 && funct3 == 0x6:
		in.Op = OpOR
	case funct7 == 0x00 && funct3 == 0x4:
		in.Op = OpXOR
	case funct7 == 0x00 && funct3 == 0x1:
		in.Op = OpSLL
	case funct7 == 0x20 && funct3 == 0x5:
		in.Op = OpSRA
	case funct7 == 0x00 && funct3 == 0x5:
		in.Op = OpSRL
	case funct7 == 0x01 && funct3 == 0x0:
		in.Op = OpMUL
	case funct7 == 0x00 && funct3 == 0x2:
		in.Op = OpSLT
	case funct7 == 0x00 && funct3 == 0x3:
		in.Op = OpSLTU
	default:
		return Instruction{}, sbterr.At(sbterr.CategoryDecode, addr, "invalid OP encoding: funct3=%d funct7=%d raw=0x%08x", funct3, funct7, raw)
	}
	return in, nil
}

func decodeOPIMM(addr uint32, raw, rd, funct3, rs1, funct7 uint32) (Instruction, error) {
	imm := signExtend(bits(raw, 31, 20), 11)
	in := Instruction{Rd: rd, Rs1: rs1, Imm: imm}
	switch funct3 {
	case 0x0:
		in.Op = OpADDI
	case 0x7:
		in.Op = OpANDI
	case 0x6:
		in.Op = OpORI
	case 0x4:
		in.Op = OpXORI
	case 0x2:
		in.Op = OpSLTI
	case 0x3:
		in.Op = OpSLTIU
	case 0x1:
		if funct7 != 0x00 {
			return Instruction{}, sbterr.At(sbterr.CategoryDecode, addr, "invalid SLLI encoding: funct7=%d", funct7)
		}
		in.Op = OpSLLI
		in.Imm = int32(bits(raw, 24, 20))
	case 0x5:
		shamt := int32(bits(raw, 24, 20))
		switch funct7 {
		case 0x00:
			in.Op = OpSRLI
			in.Imm = shamt
		case 0x20:
			in.Op = OpSRAI
			in.Imm = shamt
		default:
			return Instruction{}, sbterr.At(sbterr.CategoryDecode, addr, "invalid shift-right-immediate encoding: funct7=%d", funct7)
		}
	default:
		return Instruction{}, sbterr.At(sbterr.CategoryDecode, addr, "invalid OP-IMM funct3=%d", funct3)
	}
	return in, nil
}

func decodeLoad(addr uint32, raw, rd, funct3, rs1 uint32) (Instruction, error) {
	imm := signExtend(bits(raw, 31, 20), 11)
	in := Instruction{Rd: rd, Rs1: rs1, Imm: imm}
	switch funct3 {
	case 0x0:
		in.Op = OpLB
	case 0x4:
		in.Op = OpLBU
	case 0x1:
		in.Op = OpLH
	case 0x5:
		in.Op = OpLHU
	case 0x2:
		in.Op = OpLW
	default:
		return Instruction{}, sbterr.At(sbterr.CategoryDecode, addr, "invalid LOAD funct3=%d", funct3)
	}
	return in, nil
}

func decodeStore(addr uint32, raw, funct3, rs1, rs2 uint32) (Instruction, error) {
	immLo := bits(raw, 11, 7)
	immHi := bits(raw, 31, 25)
	imm := signExtend((immHi<<5)|immLo, 11)
	in := Instruction{Rs1: rs1, Rs2: rs2, Imm: imm}
	switch funct3 {
	case 0x0:
		in.Op = OpSB
	case 0x1:
		in.Op = OpSH
	case 0x2:
		in.Op = OpSW
	default:
		return Instruction{}, sbterr.At(sbterr.CategoryDecode, addr, "invalid STORE funct3=%d", funct3)
	}
	return in, nil
}

func decodeBranch(addr uint32, raw, funct3, rs1, rs2 uint32) (Instruction, error) {
	b11 := bits(raw, 7, 7)
	b4_1 := bits(raw, 11, 8)
	b10_5 := bits(raw, 30, 25)
	b12 := bits(raw, 31, 31)
	imm := signExtend((b12<<12)|(b11<<11)|(b10_5<<5)|(b4_1<<1), 12)
	in := Instruction{Rs1: rs1, Rs2: rs2, Imm: imm}
	switch funct3 {
	case 0x0:
		in.Op = OpBEQ
	case 0x1:
		in.Op = OpBNE
	case 0x4:
		in.Op = OpBLT
	case 0x6:
		in.Op = OpBLTU
	case 0x5:
		in.Op = OpBGE
	case 0x7:
		in.Op = OpBGEU
	default:
		return Instruction{}, sbterr.At(sbterr.CategoryDecode, addr, "invalid BRANCH funct3=%d", funct3)
	}
	return in, nil
}

func decodeJAL(addr uint32, raw, rd uint32) (Instruction, error) {
	b19_12 := bits(raw, 19, 12)
	b11 := bits(raw, 20, 20)
	b10_1 := bits(raw, 30, 21)
	b20 := bits(raw, 31, 31)
	imm := signExtend((b20<<20)|(b19_12<<12)|(b11<<11)|(b10_1<<1), 20)
	return Instruction{Op: OpJAL, Rd: rd, Imm: imm}, nil
}

func decodeSystem(addr uint32, raw, rd, funct3, rs1 uint32) (Instruction, error) {
	if funct3 == 0 {
		imm := bits(raw, 31, 20)
		switch imm {
		case 0:
			return Instruction{Op: OpECALL}, nil
		case 1:
			return Instruction{Op: OpEBREAK}, nil
		default:
			return Instruction{}, sbterr.At(sbterr.CategoryDecode, addr, "invalid SYSTEM imm=%d", imm)
		}
	}
	csr := bits(raw, 31, 20)
	in := Instruction{Rd: rd, Rs1: rs1, Csr: csr}
	switch funct3 {
	case 0x1:
		in.Op = OpCSRRW
	case 0x2:
		in.Op = OpCSRRS
	case 0x3:
		in.Op = OpCSRRC
	case 0x5:
		in.Op = OpCSRRWI
		in.Imm = int32(rs1)
	case 0x6:
		in.Op = OpCSRRSI
		in.Imm = int32(rs1)
	case 0x7:
		in.Op = OpCSRRCI
		in.Imm = int32(rs1)
	default:
		return Instruction{}, sbterr.At(sbterr.CategoryDecode, addr, "invalid SYSTEM funct3=%d", funct3)
	}
	return in, nil
}
