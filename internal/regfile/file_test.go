package regfile

import (
	"testing"

	"github.com/rvsbt/sbt/internal/ir"
	"github.com/rvsbt/sbt/internal/session"
)

func newTestFile(t *testing.T, mode session.RegMode) (*File, *ir.Builder, *ir.Module, *ir.BasicBlock) {
	t.Helper()
	mod := ir.NewModule()
	g := NewGlobalRegs(mod)
	fn := ir.NewFunction("f", nil, ir.Void)
	mod.DeclareFunction(fn)
	b := ir.NewBuilder(fn)
	fl := New(mode, g, b, mod, false, false)
	entry := fn.NewBlock("entry")
	fl.SetBlock(entry)
	return fl, b, mod, entry
}

// storesTo counts stores whose address operand is the named global.
func storesTo(bb *ir.BasicBlock, name string) int {
	addrs := make(map[ir.Value]string)
	count := 0
	for _, in := range bb.Instrs {
		if in.Kind == ir.OpGlobalAddr {
			addrs[in.Res] = in.Global.Name
		}
		if in.Kind == ir.OpStore && addrs[in.Args[0]] == name {
			count++
		}
	}
	return count
}

// TestX0ReadIsConstantZero checks that reading x0 yields a constant and
// never touches storage
func TestX0ReadIsConstantZero(t *testing.T) {
	fl, _, _, entry := newTestFile(t, session.RegGlobals)

	v := fl.ReadX(0)
	if !v.Valid() {
		t.Fatal("x0 read returned an invalid value")
	}
	last := entry.Instrs[len(entry.Instrs)-1]
	if last.Kind != ir.OpConstInt || last.Imm != 0 {
		t.Errorf("x0 read lowered to %v, want a zero constant", last.Kind)
	}
	for _, in := range entry.Instrs {
		if in.Kind == ir.OpLoad {
			t.Error("x0 read emitted a load")
		}
	}
}

// TestX0WriteDiscarded checks that writes to x0 emit nothing
func TestX0WriteDiscarded(t *testing.T) {
	fl, b, _, entry := newTestFile(t, session.RegGlobals)

	v := b.ConstInt(ir.I32, 42)
	before := len(entry.Instrs)
	fl.WriteX(0, v)
	if len(entry.Instrs) != before {
		t.Error("write to x0 emitted instructions")
	}
	if storesTo(entry, "rv_x0") != 0 {
		t.Error("store to rv_x0 found")
	}
}

// TestGlobalsModeReadWrite checks that GLOBALS mode traffics directly
// with the module-scope register bank
func TestGlobalsModeReadWrite(t *testing.T) {
	fl, b, _, entry := newTestFile(t, session.RegGlobals)

	fl.WriteX(5, b.ConstInt(ir.I32, 7))
	if storesTo(entry, "rv_x5") != 1 {
		t.Fatal("write to x5 did not store to rv_x5")
	}
	if !fl.TouchedX(5) {
		t.Error("x5 not marked touched after write")
	}
	if fl.TouchedX(6) {
		t.Error("x6 marked touched without a write")
	}
}

// TestReadAfterWriteUsesCache checks that a read in the same block
// reuses the written value instead of re-loading
func TestReadAfterWriteUsesCache(t *testing.T) {
	fl, b, _, entry := newTestFile(t, session.RegGlobals)

	v := b.ConstInt(ir.I32, 7)
	fl.WriteX(5, v)
	got := fl.ReadX(5)
	if got != v {
		t.Error("read after write did not return the cached value")
	}
	for _, in := range entry.Instrs {
		if in.Kind == ir.OpLoad {
			t.Error("cached read emitted a load")
		}
	}
}

// TestCacheInvalidatedAcrossBlocks checks that moving to a new block
// forces a re-load
func TestCacheInvalidatedAcrossBlocks(t *testing.T) {
	fl, b, _, _ := newTestFile(t, session.RegGlobals)

	fl.WriteX(5, b.ConstInt(ir.I32, 7))
	next := b.Function().NewBlock("next")
	fl.SetBlock(next)

	fl.ReadX(5)
	found := false
	for _, in := range next.Instrs {
		if in.Kind == ir.OpLoad {
			found = true
		}
	}
	if !found {
		t.Error("read in a new block did not re-load from storage")
	}
}

// TestLocalsModeSync checks that LOCALS mode declares local slots and
// syncs them with the global bank at function boundaries
func TestLocalsModeSync(t *testing.T) {
	fl, _, mod, entry := newTestFile(t, session.RegLocals)

	if _, ok := mod.Global("f__local_x5"); !ok {
		t.Fatal("LOCALS mode did not declare local slots")
	}

	fl.Sync(DirLoad, FlagFuncStart)
	if storesTo(entry, "f__local_x5") != 1 {
		t.Error("function-start sync did not populate the x5 local slot")
	}

	fl.WriteX(5, fl.ReadX(5))
	fl.Sync(DirStore, FlagFuncReturn)
	if storesTo(entry, "rv_x5") != 1 {
		t.Error("function-return sync did not store x5 back to the global bank")
	}
}

// TestABICallSyncSubset checks that the ABI flag restricts call-site
// syncs to caller-saved registers
func TestABICallSyncSubset(t *testing.T) {
	fl, _, _, entry := newTestFile(t, session.RegABI)

	fl.Sync(DirStore, FlagCall|FlagABI)
	if got := storesTo(entry, "rv_x10"); got != 1 {
		t.Errorf("caller-saved a0 synced %d times, want 1", got)
	}
	if got := storesTo(entry, "rv_x9"); got != 0 {
		t.Errorf("callee-saved s1 synced %d times at a call site, want 0", got)
	}
}

// TestABIBoundarySync checks the boundary register set: callee-saved
// plus ra and the argument registers, temporaries excluded
func TestABIBoundarySync(t *testing.T) {
	fl, _, _, entry := newTestFile(t, session.RegABI)

	fl.Sync(DirLoad, FlagFuncStart|FlagABI)
	for _, slot := range []string{"f__local_x9", "f__local_x2", "f__local_x1", "f__local_x10"} {
		if got := storesTo(entry, slot); got != 1 {
			t.Errorf("boundary sync stored %s %d times, want 1", slot, got)
		}
	}
	if got := storesTo(entry, "f__local_x5"); got != 0 {
		t.Errorf("temporary t0 synced %d times at a boundary, want 0", got)
	}
}

// TestRetRegsOnlySync checks the narrow return-register reload
func TestRetRegsOnlySync(t *testing.T) {
	fl, _, _, entry := newTestFile(t, session.RegLocals)

	fl.Sync(DirLoad, FlagCallReturned|FlagRetRegsOnly)
	if got := storesTo(entry, "f__local_x10"); got != 1 {
		t.Errorf("a0 reloaded %d times, want 1", got)
	}
	if got := storesTo(entry, "f__local_x12"); got != 0 {
		t.Errorf("a2 reloaded %d times under RET_REGS_ONLY, want 0", got)
	}
}

// TestXRegSkipsFBank checks that the X-only flag suppresses F syncs even
// when float syncing is enabled
func TestXRegSkipsFBank(t *testing.T) {
	mod := ir.NewModule()
	g := NewGlobalRegs(mod)
	fn := ir.NewFunction("f", nil, ir.Void)
	mod.DeclareFunction(fn)
	b := ir.NewBuilder(fn)
	fl := New(session.RegLocals, g, b, mod, false, true)
	entry := fn.NewBlock("entry")
	fl.SetBlock(entry)

	fl.Sync(DirLoad, FlagFuncStart|FlagXReg)
	if got := storesTo(entry, "f__local_f0"); got != 0 {
		t.Errorf("f0 synced %d times under XREG, want 0", got)
	}

	fl.Sync(DirLoad, FlagFuncStart)
	if got := storesTo(entry, "f__local_f0"); got != 1 {
		t.Errorf("f0 synced %d times without XREG, want 1", got)
	}
}

// TestCleanRegsErasesUntouchedSlots checks that setup/teardown stores of
// never-used registers are neutralized after translation
func TestCleanRegsErasesUntouchedSlots(t *testing.T) {
	fl, _, _, entry := newTestFile(t, session.RegLocals)

	fl.Sync(DirLoad, FlagFuncStart)
	fl.WriteX(5, fl.ReadX(5))
	fl.Sync(DirStore, FlagFuncReturn)

	before6 := storesTo(entry, "f__local_x6")
	if before6 == 0 {
		t.Fatal("expected a setup store for x6 before cleaning")
	}
	fl.CleanRegs()
	if got := storesTo(entry, "f__local_x6"); got != 0 {
		t.Errorf("untouched x6 still has %d setup stores after CleanRegs", got)
	}
	if got := storesTo(entry, "f__local_x5"); got == 0 {
		t.Error("touched x5 setup store was erased")
	}
}
