package translate

import (
	"fmt"
	"sort"

	"github.com/rvsbt/sbt/internal/ir"
	"github.com/rvsbt/sbt/internal/regfile"
	"github.com/rvsbt/sbt/internal/session"
)

// DeclareICaller declares the rv32_icaller signature: a synthetic call
// target plus session.MaxArgs-1 forwarded word arguments,
// no return value (returns, when any, are routed through the global
// register bank via the retInGlobal Caller contract). The body is filled
// in later by BuildICaller once every guest function and external import
// is known.
func DeclareICaller(mod *ir.Module) *ir.Function {
	params := make([]ir.Type, session.MaxArgs)
	for i := range params {
		params[i] = ir.I32
	}
	fn := ir.NewFunction("rv32_icaller", params, ir.Void)
	mod.DeclareFunction(fn)
	return fn
}

// DeclareIsExternal declares rv32_isExternal(addr) and fills in its
// trivial body immediately, since it depends only on the fixed synthetic
// address-space boundary.
func DeclareIsExternal(mod *ir.Module) *ir.Function {
	fn := ir.NewFunction("rv32_isExternal", []ir.Type{ir.I32}, ir.I32)
	mod.DeclareFunction(fn)
	b := ir.NewBuilder(fn)
	entry := fn.NewBlock("entry")
	b.SetBlock(entry)
	addr := b.Param(0)
	cmp := b.ICmp(ir.CmpGEU, addr, b.ConstInt(ir.I32, int64(session.FirstExtFuncAddr)))
	b.Ret(cmp)
	return fn
}

// BuildICaller fills in the body declared by DeclareICaller: a switch on
// the forwarded target address with one case per internal guest function
// and one case per imported external symbol, plus a default case that
// optionally prints a diagnostic (--use-libc) before calling sbtabort.
func BuildICaller(fn *ir.Function, sess *session.Session, g *regfile.GlobalRegs, abort *ir.ExternFunc, diagPrintf *ir.ExternFunc, diagFmt *ir.Global) {
	b := ir.NewBuilder(fn)
	entry := fn.NewBlock("entry")
	b.SetBlock(entry)

	target := b.Param(0)
	argWords := make([]ir.Value, session.MaxArgs-1)
	for i := range argWords {
		argWords[i] = b.Param(i + 1)
	}

	var cases []ir.SwitchCase

	funcAddrs := make([]uint32, 0, len(sess.FuncsByAddr))
	for a := range sess.FuncsByAddr {
		funcAddrs = append(funcAddrs, a)
	}
	sort.Slice(funcAddrs, func(i, j int) bool { return funcAddrs[i] < funcAddrs[j] })

	for _, addr := range funcAddrs {
		f := sess.FuncsByAddr[addr]
		caseBB := fn.NewBlock(fmt.Sprintf("icaller_internal_%#x", addr))
		b.SetBlock(caseBB)
		args := make([]ir.Value, len(f.Params))
		for i := range args {
			if i < len(argWords) {
				args[i] = argWords[i]
			} else {
				args[i] = b.ConstInt(ir.I32, 0)
			}
		}
		ret := b.Call(f, args)
		if !f.HasVoidReturn() {
			var word ir.Value
			switch f.Ret {
			case ir.Ptr:
				word = b.PtrToInt(ir.I32, ret)
			case ir.I32:
				word = ret
			default:
				word = b.Trunc(ir.I32, ret)
			}
			b.Store(b.GlobalAddr(g.X[regfile.RegA0]), word)
		}
		b.RetVoid()
		cases = append(cases, ir.SwitchCase{Value: int64(addr), Target: caseBB})
	}

	exts := sess.AllExterns()
	sort.Slice(exts, func(i, j int) bool { return exts[i].Addr < exts[j].Addr })

	for _, ext := range exts {
		if ext.Kind != session.ExternFunction {
			continue
		}
		e, ok := sess.Mod.Externs[ext.Name]
		if !ok {
			continue
		}
		caseBB := fn.NewBlock(fmt.Sprintf("icaller_extern_%s", ext.Name))
		b.SetBlock(caseBB)

		wordArgs, retByRef := WordCount(e)
		var retPtr ir.Value
		words := make([]ir.Value, wordArgs)
		off := 0
		if retByRef {
			retPtr = b.IntToPtr(argWords[0])
			off = 1
		}
		for i := 0; i < wordArgs; i++ {
			if off+i < len(argWords) {
				words[i] = argWords[off+i]
			} else {
				words[i] = b.ConstInt(ir.I32, 0)
			}
		}

		caller := NewCaller(b, g)
		caller.Call(e, words, retPtr, true, nil)
		b.RetVoid()
		cases = append(cases, ir.SwitchCase{Value: int64(ext.Addr), Target: caseBB})
	}

	defBB := fn.NewBlock("icaller_default")
	b.SetBlock(defBB)
	if diagPrintf != nil && diagFmt != nil {
		b.CallExtern(diagPrintf, []ir.Value{b.GlobalAddr(diagFmt), target})
	}
	b.CallExtern(abort, nil)
	b.Unreachable()

	b.SetBlock(entry)
	b.Switch(target, cases, defBB)
}
