package regfile

import (
	"github.com/rvsbt/sbt/internal/ir"
	"github.com/rvsbt/sbt/internal/session"
)

// Direction selects which way Sync copies values.
type Direction int

const (
	// DirLoad copies from the global register bank into local slots.
	DirLoad Direction = iota
	// DirStore copies from local slots into the global register bank.
	DirStore
)

// Flags selects which register subsets a Sync call touches. Flags
// compose by union.
type Flags uint

const (
	FlagCall Flags = 1 << iota
	FlagCallReturned
	FlagFuncStart
	FlagFuncReturn
	FlagABI
	FlagRetRegsOnly
	FlagXReg
)

func (fl *File) has(flags, want Flags) bool { return flags&want != 0 }

// Sync copies register state between local slots and the global bank, at
// call sites (CALL/CALL_RETURNED) or function boundaries
// (FUNC_START/FUNC_RETURN). FlagABI restricts the set to the RISC-V ABI
// subsets (callee-saved plus argument/return registers at boundaries,
// caller-saved at call sites); FlagRetRegsOnly narrows to a0/a1; FlagXReg
// skips the F bank. Sync is a no-op in GLOBALS mode since reads/writes
// already touch the globals directly.
func (fl *File) Sync(dir Direction, flags Flags) {
	if fl.mode == session.RegGlobals {
		return
	}

	boundary := fl.has(flags, FlagFuncStart) || fl.has(flags, FlagFuncReturn)

	var xregs []int
	switch {
	case fl.has(flags, FlagRetRegsOnly):
		xregs = []int{RegA0, RegA0 + 1}
	case boundary && fl.has(flags, FlagABI):
		xregs = ABIBoundaryX()
	case boundary:
		xregs = allX()
	case fl.has(flags, FlagABI) && fl.has(flags, FlagCall) && dir == DirStore:
		xregs = CallerSavedX
	case fl.has(flags, FlagABI) && fl.has(flags, FlagCallReturned) && dir == DirLoad:
		xregs = CallerSavedX
	default:
		xregs = allX()
	}

	for _, i := range xregs {
		fl.syncOneX(i, dir, flags)
	}
	if fl.has(flags, FlagXReg) || fl.has(flags, FlagRetRegsOnly) {
		return
	}
	if boundary && fl.syncFRegs() {
		for i := 0; i < NumF; i++ {
			fl.syncOneF(i, dir, flags)
		}
	}
}

// syncFRegs reports whether float registers participate in a full sync.
// F registers only sync when --sync-fregs asks for it; most guest
// programs this translator sees are integer-only.
func (fl *File) syncFRegs() bool { return fl.forceSyncFRegs }

func allX() []int {
	r := make([]int, 0, NumX-1)
	for i := 1; i < NumX; i++ {
		r = append(r, i)
	}
	return r
}

func (fl *File) syncOneX(i int, dir Direction, flags Flags) {
	s := fl.x[i]
	if i == RegZero {
		return
	}
	switch dir {
	case DirLoad:
		v := fl.b.Load(ir.I32, fl.b.GlobalAddr(fl.g.X[i]))
		fl.b.Store(fl.b.GlobalAddr(s.local), v)
		last := fl.lastInstr()
		if fl.has(flags, FlagFuncStart) {
			s.setup = append(s.setup, last)
		}
		s.cache, s.cacheValid, s.cacheBlock = v, true, fl.curBlock
	case DirStore:
		v := fl.b.Load(ir.I32, fl.b.GlobalAddr(s.local))
		fl.b.Store(fl.b.GlobalAddr(fl.g.X[i]), v)
		last := fl.lastInstr()
		if fl.has(flags, FlagFuncReturn) {
			s.teardown = append(s.teardown, last)
		}
	}
}

func (fl *File) syncOneF(i int, dir Direction, flags Flags) {
	s := fl.f[i]
	switch dir {
	case DirLoad:
		v := fl.b.Load(ir.F64, fl.b.GlobalAddr(fl.g.F[i]))
		fl.b.Store(fl.b.GlobalAddr(s.local), v)
		if fl.has(flags, FlagFuncStart) {
			s.setup = append(s.setup, fl.lastInstr())
		}
		s.cache, s.cacheValid, s.cacheBlock = v, true, fl.curBlock
	case DirStore:
		v := fl.b.Load(ir.F64, fl.b.GlobalAddr(s.local))
		fl.b.Store(fl.b.GlobalAddr(fl.g.F[i]), v)
		if fl.has(flags, FlagFuncReturn) {
			s.teardown = append(s.teardown, fl.lastInstr())
		}
	}
}

func (fl *File) lastInstr() *ir.Instruction {
	bb := fl.curBlock
	if bb == nil || len(bb.Instrs) == 0 {
		return nil
	}
	return bb.Instrs[len(bb.Instrs)-1]
}

// CleanRegs erases the setup/teardown stores of local slots the function
// body never read or wrote, after the body has been fully translated.
// Local slots are modeled as private module globals (see New); an unused
// slot's global stays declared in the module, and only the init/store
// instructions that reference it are erased.
func (fl *File) CleanRegs() {
	if fl.mode == session.RegGlobals {
		return
	}
	for i := 1; i < NumX; i++ {
		s := fl.x[i]
		if s.touched() {
			continue
		}
		eraseAll(s.setup)
		eraseAll(s.teardown)
	}
	for i := 0; i < NumF; i++ {
		s := fl.f[i]
		if s.touched() {
			continue
		}
		eraseAll(s.setup)
		eraseAll(s.teardown)
	}
}

// eraseAll replaces each instruction's op with a no-op marker; a true
// slice splice is unsafe here since other blocks may have already
// appended further instructions, so erased instructions are turned into
// no-op constants rather than physically removed.
func eraseAll(instrs []*ir.Instruction) {
	for _, in := range instrs {
		if in == nil {
			continue
		}
		*in = ir.Instruction{Kind: ir.OpConstInt, Typ: ir.I32, Res: in.Res, Imm: 0}
	}
}
