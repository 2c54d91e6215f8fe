// Completion: 100% - built-in smoke path complete
package main

import (
	"encoding/binary"
	"strings"

	"github.com/rvsbt/sbt/internal/elfobj"
	"github.com/rvsbt/sbt/internal/ir"
	"github.com/rvsbt/sbt/internal/sbterr"
	"github.com/rvsbt/sbt/internal/session"
	"github.com/rvsbt/sbt/internal/translate"
)

// RV32I encoders, enough for the smoke program.

func encodeI(opcode, funct3, rd, rs1 uint32, imm int32) uint32 {
	return uint32(imm)<<20 | rs1<<15 | funct3<<12 | rd<<7 | opcode
}

func encodeU(opcode, rd, imm20 uint32) uint32 {
	return imm20<<12 | rd<<7 | opcode
}

func addi(rd, rs1 uint32, imm int32) uint32 { return encodeI(0x13, 0, rd, rs1, imm) }
func lui(rd, imm20 uint32) uint32           { return encodeU(0x37, rd, imm20) }
func jalrRet() uint32                       { return encodeI(0x67, 0, 0, 1, 0) }

const ecallWord = 0x00000073

// runSmoke translates a small in-memory guest program that writes "Hi\n"
// through the write syscall and exits, then checks that the emitted IR
// contains both rv_syscall call sites.
func runSmoke(sess *session.Session) error {
	const (
		regA0 = 10
		regA1 = 11
		regA2 = 12
		regA7 = 17
	)

	words := []uint32{
		addi(regA0, 0, 1),     // fd = stdout
		lui(regA1, 0),         // %hi(msg)
		addi(regA1, regA1, 0), // %lo(msg)
		addi(regA2, 0, 3),     // count
		addi(regA7, 0, 64),    // write
		ecallWord,
		addi(regA0, 0, 0),  // status
		addi(regA7, 0, 93), // exit
		ecallWord,
		jalrRet(),
	}
	text := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(text[4*i:], w)
	}

	textSec := elfobj.NewSection(".text", elfobj.KindText, text)
	dataSec := elfobj.NewSection(".rodata", elfobj.KindData, []byte("Hi\n\x00"))

	mainSym := &elfobj.Symbol{Name: "main", Addr: 0, Section: textSec, IsFunc: true}
	msgSym := &elfobj.Symbol{Name: "msg", Addr: 0, Section: dataSec}

	obj := elfobj.NewObject(
		[]*elfobj.Section{textSec, dataSec},
		[]*elfobj.Symbol{mainSym, msgSym},
		map[string][]*elfobj.Relocation{
			".text": {
				{Offset: 4, Type: elfobj.R_RISCV_HI20, Symbol: msgSym},
				{Offset: 8, Type: elfobj.R_RISCV_LO12_I, Symbol: msgSym},
			},
		},
	)

	t := translate.New(sess)
	t.AddObject(obj)
	if err := t.Translate(); err != nil {
		return err
	}

	out := ir.Print(sess.Mod)
	if got := strings.Count(out, "call @rv_syscall("); got != 2 {
		return sbterr.New(sbterr.CategoryVerify, "smoke: expected 2 rv_syscall call sites, found %d", got)
	}
	if !strings.Contains(out, "Hi\\0a") && !strings.Contains(out, "Hi") {
		return sbterr.New(sbterr.CategoryVerify, "smoke: message bytes missing from shadow image")
	}
	return nil
}
