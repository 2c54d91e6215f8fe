package translate

import (
	"github.com/rvsbt/sbt/internal/ir"
	"github.com/rvsbt/sbt/internal/regfile"
	"github.com/rvsbt/sbt/internal/session"
)

// maxArgWords is the ICaller argument count (the synthetic target plus
// session.MaxArgs-1 word slots) minus one.
const maxArgWords = session.MaxArgs - 1

// Caller marshals a fixed word-argument list into a typed external call
// and routes the return value back.
type Caller struct {
	b *ir.Builder
	g *regfile.GlobalRegs
}

func NewCaller(b *ir.Builder, g *regfile.GlobalRegs) *Caller {
	return &Caller{b: b, g: g}
}

// WordCount returns the number of i32 argument words Call expects for e,
// and whether the first logical slot is a return-by-reference pointer
// rather than an argument (e.Ret == f128).
func WordCount(e *ir.ExternFunc) (wordArgs int, retByRef bool) {
	for _, p := range e.Params {
		if p == ir.F64 {
			wordArgs += 2
		} else {
			wordArgs++
		}
	}
	if e.IsVararg {
		wordArgs += 4
	}
	if wordArgs > maxArgWords {
		wordArgs = maxArgWords
	}
	return wordArgs, e.Ret == ir.F128
}

// GatherFromRegs reads e's argument words from the guest a0..a7 ABI
// registers. Once a register that was never written is reached, all
// subsequent words are constant zero. Returns the
// return-by-reference pointer too, when e.Ret is f128.
func GatherFromRegs(b *ir.Builder, regs *regfile.File, e *ir.ExternFunc) (words []ir.Value, retPtr ir.Value) {
	wordArgs, retByRef := WordCount(e)
	argStart := 0
	if retByRef {
		retPtr = b.IntToPtr(regs.ReadX(regfile.RegA0))
		argStart = 1
	}

	words = make([]ir.Value, wordArgs)
	exhausted := false
	for i := 0; i < wordArgs; i++ {
		regNum := uint32(regfile.RegA0 + argStart + i)
		if regNum > regfile.RegA7 {
			exhausted = true
		}
		if !exhausted && !regs.TouchedX(regNum) {
			exhausted = true
		}
		if exhausted {
			words[i] = b.ConstInt(ir.I32, 0)
			continue
		}
		words[i] = regs.ReadX(regNum)
	}
	return words, retPtr
}

// Call coerces words (already trimmed/padded to WordCount(e) length) into
// e's declared parameter types, emits the call, and routes the return
// value. When retInGlobal is set, return writes bypass the register
// file's read-after-write cache and go straight to the global register
// bank, which is ICaller's contract: rv32_icaller runs outside the normal
// function frame that owns the caching register file.
func (c *Caller) Call(e *ir.ExternFunc, words []ir.Value, retPtr ir.Value, retInGlobal bool, regs *regfile.File) {
	args := make([]ir.Value, 0, len(e.Params))
	wordIdx := 0
	for _, p := range e.Params {
		switch p {
		case ir.F64:
			lo, hi := words[wordIdx], words[wordIdx+1]
			wordIdx += 2
			hi64 := c.b.Shl(ir.I64, c.b.Zext(ir.I64, hi), c.b.ConstInt(ir.I64, 32))
			combined := c.b.Or(ir.I64, hi64, c.b.Zext(ir.I64, lo))
			args = append(args, c.b.Bitcast(ir.F64, combined))
		case ir.F128:
			addr := c.b.IntToPtr(words[wordIdx])
			wordIdx++
			args = append(args, c.b.Load(ir.F128, addr))
		case ir.Ptr:
			args = append(args, c.b.IntToPtr(words[wordIdx]))
			wordIdx++
		default:
			args = append(args, words[wordIdx])
			wordIdx++
		}
	}
	for ; wordIdx < len(words); wordIdx++ {
		args = append(args, words[wordIdx])
	}

	ret := c.b.CallExtern(e, args)

	writeX := func(n uint32, v ir.Value) { c.b.Store(c.b.GlobalAddr(c.g.X[n]), v) }
	if !retInGlobal && regs != nil {
		writeX = regs.WriteX
	}

	switch {
	case e.HasVoidReturn():
	case e.Ret == ir.F64:
		bits := c.b.Bitcast(ir.I64, ret)
		lo := c.b.Trunc(ir.I32, bits)
		hi := c.b.Trunc(ir.I32, c.b.Lshr(ir.I64, bits, c.b.ConstInt(ir.I64, 32)))
		writeX(regfile.RegA0, lo)
		writeX(regfile.RegA0+1, hi)
	case e.Ret == ir.F128:
		c.b.Store(retPtr, ret)
	case e.Ret == ir.Ptr:
		writeX(regfile.RegA0, c.b.PtrToInt(ir.I32, ret))
	default:
		writeX(regfile.RegA0, ret)
	}
}
