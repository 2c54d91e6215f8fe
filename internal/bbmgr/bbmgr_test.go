package bbmgr

import (
	"testing"

	"github.com/rvsbt/sbt/internal/ir"
)

func newTestFunc() *ir.Function {
	return ir.NewFunction("f", nil, ir.Void)
}

// TestNewBBOrdering checks that blocks are kept in ascending guest
// address order even when created out of order
func TestNewBBOrdering(t *testing.T) {
	fn := newTestFunc()
	m := New(fn)

	m.NewBB(0x10)
	m.NewBB(0x08)
	m.NewBB(0x0c)

	keys := m.Keys()
	want := []uint32{0x08, 0x0c, 0x10}
	if len(keys) != len(want) {
		t.Fatalf("keys = %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("keys[%d] = %#x, want %#x", i, keys[i], want[i])
		}
	}

	// Creating at an existing address returns the same block.
	a := m.NewBB(0x08)
	b, ok := m.FindBB(0x08)
	if !ok || a != b {
		t.Error("NewBB at an existing address should return the existing block")
	}
}

// TestLowerBound checks the first-key-at-or-above query
func TestLowerBound(t *testing.T) {
	fn := newTestFunc()
	m := New(fn)
	m.NewBB(0x08)
	m.NewBB(0x10)

	_, key, ok := m.LowerBoundBB(0x09)
	if !ok || key != 0x10 {
		t.Errorf("lowerBound(0x09) = %#x ok=%v, want 0x10", key, ok)
	}
	_, key, ok = m.LowerBoundBB(0x08)
	if !ok || key != 0x08 {
		t.Errorf("lowerBound(0x08) = %#x ok=%v, want 0x08", key, ok)
	}
	if _, _, ok = m.LowerBoundBB(0x14); ok {
		t.Error("lowerBound past the last key should report not-found")
	}
}

// TestSplitBB checks that splitting moves the tail instructions and
// rebinds the recorded PC map entries
func TestSplitBB(t *testing.T) {
	fn := newTestFunc()
	m := New(fn)
	b := ir.NewBuilder(fn)

	bb := m.NewBB(0x00)
	b.SetBlock(bb)

	m.RecordPC(0x00, bb)
	b.ConstInt(ir.I32, 1)
	m.RecordPC(0x04, bb)
	b.ConstInt(ir.I32, 2)
	m.RecordPC(0x08, bb)
	b.ConstInt(ir.I32, 3)

	nb, err := m.SplitBB(bb, 0x04)
	if err != nil {
		t.Fatalf("SplitBB failed: %v", err)
	}
	if len(bb.Instrs) != 1 {
		t.Errorf("head block has %d instrs, want 1", len(bb.Instrs))
	}
	if len(nb.Instrs) != 2 {
		t.Errorf("tail block has %d instrs, want 2", len(nb.Instrs))
	}
	if got, ok := m.FindBB(0x04); !ok || got != nb {
		t.Error("split block not registered at its address")
	}
	if got, ok := m.PCBlock(0x08); !ok || got != nb {
		t.Error("PC map entry for 0x08 not rebound to the tail block")
	}

	keys := m.Keys()
	if len(keys) != 2 || keys[0] != 0x00 || keys[1] != 0x04 {
		t.Errorf("keys after split = %v", keys)
	}
}

// TestSplitBBUnknownAddr checks the error path when no instruction
// boundary was recorded for the split address
func TestSplitBBUnknownAddr(t *testing.T) {
	fn := newTestFunc()
	m := New(fn)
	bb := m.NewBB(0x00)
	if _, err := m.SplitBB(bb, 0x04); err == nil {
		t.Fatal("expected error for a split at an unrecorded address")
	}
}

// TestResolveTargetForward checks that a forward jump allocates a block
func TestResolveTargetForward(t *testing.T) {
	fn := newTestFunc()
	m := New(fn)
	m.NewBB(0x00)

	bb, rr, err := m.ResolveTarget(0x00, 0x10)
	if err != nil {
		t.Fatalf("ResolveTarget failed: %v", err)
	}
	if rr != nil {
		t.Error("forward jump should not need re-translation")
	}
	if got, ok := m.FindBB(0x10); !ok || got != bb {
		t.Error("forward target block not registered")
	}
}

// TestResolveTargetBackwardSplit checks that a backward jump into a
// translated block splits it
func TestResolveTargetBackwardSplit(t *testing.T) {
	fn := newTestFunc()
	m := New(fn)
	b := ir.NewBuilder(fn)
	bb := m.NewBB(0x00)
	b.SetBlock(bb)
	for addr := uint32(0); addr < 0x10; addr += 4 {
		m.RecordPC(addr, bb)
		b.ConstInt(ir.I32, int64(addr))
	}

	tbb, rr, err := m.ResolveTarget(0x0c, 0x08)
	if err != nil {
		t.Fatalf("ResolveTarget failed: %v", err)
	}
	if rr != nil {
		t.Error("in-range backward jump should not need re-translation")
	}
	if got, ok := m.FindBB(0x08); !ok || got != tbb {
		t.Error("backward target should be the split block at 0x08")
	}
}

// TestResolveTargetRetranslate checks the eager re-translation signal
// when the target precedes every tracked block
func TestResolveTargetRetranslate(t *testing.T) {
	fn := newTestFunc()
	m := New(fn)
	m.NewBB(0x20)

	bb, rr, err := m.ResolveTarget(0x24, 0x10)
	if err != nil {
		t.Fatalf("ResolveTarget failed: %v", err)
	}
	if bb == nil {
		t.Fatal("expected a block for the early target")
	}
	if rr == nil {
		t.Fatal("expected a re-translation range")
	}
	if rr.Start != 0x10 || rr.End != 0x20 {
		t.Errorf("range = [%#x, %#x), want [0x10, 0x20)", rr.Start, rr.End)
	}
}

// TestUntrackedBBs checks the helper-block multimap
func TestUntrackedBBs(t *testing.T) {
	fn := newTestFunc()
	m := New(fn)
	m.NewUBB(0x04, "cmp")
	m.NewUBB(0x04, "join")
	if got := len(m.UntrackedAt(0x04)); got != 2 {
		t.Errorf("untracked at 0x04 = %d, want 2", got)
	}
	if got := len(m.UntrackedAt(0x08)); got != 0 {
		t.Errorf("untracked at 0x08 = %d, want 0", got)
	}
}
