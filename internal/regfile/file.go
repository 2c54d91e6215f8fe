package regfile

import (
	"fmt"

	"github.com/rvsbt/sbt/internal/ir"
	"github.com/rvsbt/sbt/internal/session"
)

// regState tracks one register's storage and usage within a function.
type regState struct {
	local      *ir.Global // nil in GLOBALS mode
	cache      ir.Value
	cacheValid bool
	cacheBlock *ir.BasicBlock
	reads      int
	writes     int
	// setup/teardown hold the Store instructions Sync emitted for
	// this register, so cleanRegs can erase them if the register ends up
	// untouched.
	setup    []*ir.Instruction
	teardown []*ir.Instruction
}

func (r *regState) touched() bool { return r.reads > 0 || r.writes > 0 }

// File is a per-function register file presenting the read/write/sync
// contract. One File is created per translated Function.
type File struct {
	mode           session.RegMode
	g              *GlobalRegs
	b              *ir.Builder
	fnIsMain       bool
	forceSyncFRegs bool

	x [NumX]*regState
	f [NumF]*regState

	curBlock *ir.BasicBlock
}

// New creates a register file for one function translation. Local slots
// (LOCALS/ABI modes) are declared as function-private module globals:
// this IR has no alloca instruction, so local storage is modeled as a
// uniquely-named global per function, which behaves as a local slot
// (nothing else references it) while reusing the existing
// Load/Store/GlobalAddr ops. syncFRegs mirrors the --sync-fregs flag.
func New(mode session.RegMode, g *GlobalRegs, b *ir.Builder, mod *ir.Module, isMain, syncFRegs bool) *File {
	fl := &File{mode: mode, g: g, b: b, fnIsMain: isMain, forceSyncFRegs: syncFRegs}
	for i := range fl.x {
		fl.x[i] = &regState{}
	}
	for i := range fl.f {
		fl.f[i] = &regState{}
	}
	if mode != session.RegGlobals {
		tag := uniqueFuncTag(b)
		for i := 0; i < NumX; i++ {
			fl.x[i].local = mod.DeclareGlobal(&ir.Global{Name: fmt.Sprintf("%s__local_x%d", tag, i), Ty: ir.I32})
		}
		for i := 0; i < NumF; i++ {
			fl.f[i].local = mod.DeclareGlobal(&ir.Global{Name: fmt.Sprintf("%s__local_f%d", tag, i), Ty: ir.F64})
		}
	}
	return fl
}

func uniqueFuncTag(b *ir.Builder) string {
	if b == nil || b.Function() == nil {
		return "fn"
	}
	return b.Function().Name
}

// SetBlock repositions the register file's read-after-write elision
// cache to a new basic block. The cache is only valid within the block it
// was populated in; switching blocks
// invalidates it so later reads correctly re-load from storage, which is
// what makes control-flow merges (branch targets, loop back-edges)
// correct without requiring real phi nodes.
func (fl *File) SetBlock(bb *ir.BasicBlock) {
	fl.curBlock = bb
	fl.b.SetBlock(bb)
}

func (s *regState) invalidateIfOtherBlock(cur *ir.BasicBlock) {
	if s.cacheBlock != cur {
		s.cacheValid = false
	}
}

// ReadX reads X register n. X0 always yields a zero constant and is never
// counted as a storage read.
func (fl *File) ReadX(n uint32) ir.Value {
	if n == RegZero {
		return fl.b.ConstInt(ir.I32, 0)
	}
	s := fl.x[n]
	s.reads++
	s.invalidateIfOtherBlock(fl.curBlock)
	if s.cacheValid {
		return s.cache
	}
	var v ir.Value
	if fl.mode == session.RegGlobals {
		v = fl.b.Load(ir.I32, fl.b.GlobalAddr(fl.g.X[n]))
	} else {
		v = fl.b.Load(ir.I32, fl.b.GlobalAddr(s.local))
	}
	s.cache, s.cacheValid, s.cacheBlock = v, true, fl.curBlock
	return v
}

// WriteX writes v to X register n. Writes to X0 are discarded.
func (fl *File) WriteX(n uint32, v ir.Value) {
	if n == RegZero {
		return
	}
	s := fl.x[n]
	s.writes++
	if fl.mode == session.RegGlobals {
		fl.b.Store(fl.b.GlobalAddr(fl.g.X[n]), v)
	} else {
		fl.b.Store(fl.b.GlobalAddr(s.local), v)
	}
	s.cache, s.cacheValid, s.cacheBlock = v, true, fl.curBlock
}

func (fl *File) ReadF(n uint32) ir.Value {
	s := fl.f[n]
	s.reads++
	s.invalidateIfOtherBlock(fl.curBlock)
	if s.cacheValid {
		return s.cache
	}
	var v ir.Value
	if fl.mode == session.RegGlobals {
		v = fl.b.Load(ir.F64, fl.b.GlobalAddr(fl.g.F[n]))
	} else {
		v = fl.b.Load(ir.F64, fl.b.GlobalAddr(s.local))
	}
	s.cache, s.cacheValid, s.cacheBlock = v, true, fl.curBlock
	return v
}

func (fl *File) WriteF(n uint32, v ir.Value) {
	s := fl.f[n]
	s.writes++
	if fl.mode == session.RegGlobals {
		fl.b.Store(fl.b.GlobalAddr(fl.g.F[n]), v)
	} else {
		fl.b.Store(fl.b.GlobalAddr(s.local), v)
	}
	s.cache, s.cacheValid, s.cacheBlock = v, true, fl.curBlock
}

// TouchedX reports whether X register n has ever been written. The
// Caller stops gathering arguments at the first never-written register.
func (fl *File) TouchedX(n uint32) bool {
	if n == RegZero {
		return false
	}
	return fl.x[n].writes > 0
}

func (fl *File) Mode() session.RegMode { return fl.mode }
