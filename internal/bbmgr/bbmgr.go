// Package bbmgr implements the per-function basic-block manager: BB
// creation/lookup/splitting keyed by guest address, plus the
// forward/backward branch-target discovery policy that drives
// control-flow lowering.
package bbmgr

import (
	"fmt"
	"sort"

	"github.com/rvsbt/sbt/internal/ir"
	"github.com/rvsbt/sbt/internal/sbterr"
)

// pcLoc is where a guest address's first lowered IR instruction lives:
// the owning block and the instruction index at the time it was recorded.
type pcLoc struct {
	bb  *ir.BasicBlock
	idx int
}

// Manager tracks one function's guest-address-keyed basic blocks.
type Manager struct {
	fn        *ir.Function
	byAddr    map[uint32]*ir.BasicBlock
	order     []uint32 // sorted tracked addresses, kept in sync with byAddr
	untracked map[uint32][]*ir.BasicBlock
	pc        map[uint32]pcLoc
}

// New creates a block manager for fn. The caller must register the entry
// block via NewBB(entryAddr) before translating any instructions.
func New(fn *ir.Function) *Manager {
	return &Manager{
		fn:        fn,
		byAddr:    make(map[uint32]*ir.BasicBlock),
		untracked: make(map[uint32][]*ir.BasicBlock),
		pc:        make(map[uint32]pcLoc),
	}
}

// RecordPC records that the next instruction lowered into bb corresponds
// to guest address addr, at bb's current length. Called immediately
// before lowering each guest instruction.
func (m *Manager) RecordPC(addr uint32, bb *ir.BasicBlock) {
	m.pc[addr] = pcLoc{bb: bb, idx: len(bb.Instrs)}
}

// PCBlock returns the block that currently holds the first IR
// instruction lowered for addr. After a split moves an address's tail
// into a new block, this reports the new owner, letting the translator
// re-anchor its builder mid-instruction.
func (m *Manager) PCBlock(addr uint32) (*ir.BasicBlock, bool) {
	loc, ok := m.pc[addr]
	if !ok {
		return nil, false
	}
	return loc.bb, true
}

// Keys returns the tracked guest addresses in ascending order.
func (m *Manager) Keys() []uint32 {
	out := make([]uint32, len(m.order))
	copy(out, m.order)
	return out
}

func (m *Manager) insertOrder(addr uint32) {
	i := sort.Search(len(m.order), func(i int) bool { return m.order[i] >= addr })
	if i < len(m.order) && m.order[i] == addr {
		return
	}
	m.order = append(m.order, 0)
	copy(m.order[i+1:], m.order[i:])
	m.order[i] = addr
}

// NewBB creates (or returns the existing) BB at addr, inserted just
// before the BB currently at addr+4, if any.
func (m *Manager) NewBB(addr uint32) *ir.BasicBlock {
	if bb, ok := m.byAddr[addr]; ok {
		return bb
	}
	before := m.byAddr[addr+4]
	bb := m.fn.InsertBlockBefore(before, fmt.Sprintf("bb_%#x", addr))
	m.byAddr[addr] = bb
	m.insertOrder(addr)
	return bb
}

// FindBB is an exact lookup.
func (m *Manager) FindBB(addr uint32) (*ir.BasicBlock, bool) {
	bb, ok := m.byAddr[addr]
	return bb, ok
}

// LowerBoundBB returns the first tracked BB whose key is >= addr.
func (m *Manager) LowerBoundBB(addr uint32) (*ir.BasicBlock, uint32, bool) {
	i := sort.Search(len(m.order), func(i int) bool { return m.order[i] >= addr })
	if i >= len(m.order) {
		return nil, 0, false
	}
	key := m.order[i]
	return m.byAddr[key], key, true
}

func (m *Manager) floor(addr uint32) (uint32, bool) {
	i := sort.Search(len(m.order), func(i int) bool { return m.order[i] > addr })
	if i == 0 {
		return 0, false
	}
	return m.order[i-1], true
}

// SplitBB splits bb at the IR instruction mapped from addr (via a prior
// RecordPC call); the new BB takes addr as its key and owns the tail of
// bb's instructions. If bb has no terminator yet, a dummy one is inserted
// and immediately erased, preserving the "every block ends in a
// terminator" invariant for the instant of the split.
func (m *Manager) SplitBB(bb *ir.BasicBlock, addr uint32) (*ir.BasicBlock, error) {
	loc, ok := m.pc[addr]
	if !ok || loc.bb != bb {
		return nil, sbterr.At(sbterr.CategoryInternal, addr, "splitBB: no recorded instruction boundary for address in target block")
	}

	hadTerminator := bb.HasTerminator()
	if !hadTerminator {
		bb.Instrs = append(bb.Instrs, &ir.Instruction{Kind: ir.OpUnreachable})
		bb.EraseLast()
	}

	idx := -1
	for i, b := range m.fn.Blocks {
		if b == bb {
			idx = i
			break
		}
	}
	var before *ir.BasicBlock
	if idx >= 0 && idx+1 < len(m.fn.Blocks) {
		before = m.fn.Blocks[idx+1]
	}

	newBB := m.fn.InsertBlockBefore(before, fmt.Sprintf("bb_%#x", addr))
	newBB.Instrs = append(newBB.Instrs, bb.Instrs[loc.idx:]...)
	bb.Instrs = bb.Instrs[:loc.idx]

	for a, l := range m.pc {
		if l.bb == bb && l.idx >= loc.idx {
			m.pc[a] = pcLoc{bb: newBB, idx: l.idx - loc.idx}
		}
	}

	m.byAddr[addr] = newBB
	m.insertOrder(addr)
	return newBB, nil
}

// NewUBB creates an untracked helper BB tied to addr, for multi-BB
// lowerings of a single instruction (e.g. conditional branches needing a
// compare block plus two successor edges). Recorded in a multimap keyed
// by addr, not by the byAddr exact-lookup table.
func (m *Manager) NewUBB(addr uint32, suffix string) *ir.BasicBlock {
	bb := m.fn.NewBlock(fmt.Sprintf("bb_%#x_%s", addr, suffix))
	m.untracked[addr] = append(m.untracked[addr], bb)
	return bb
}

// UntrackedAt returns the untracked helper BBs previously registered for addr.
func (m *Manager) UntrackedAt(addr uint32) []*ir.BasicBlock {
	return m.untracked[addr]
}

// RetranslateRange is a non-empty [Start, End) instruction-address range
// the caller must re-drive through the Instruction Translator, returned
// by ResolveTarget when a backward jump lands before any currently
// tracked BB.
type RetranslateRange struct {
	Start, End uint32
}

// ResolveTarget implements the branch-target discovery policy for a
// jump/branch at curAddr targeting target. It returns the BB to
// branch to and, if the target required eager re-translation of a guest
// instruction range, that range.
func (m *Manager) ResolveTarget(curAddr, target uint32) (*ir.BasicBlock, *RetranslateRange, error) {
	if bb, ok := m.FindBB(target); ok {
		return bb, nil, nil
	}

	if target > curAddr {
		return m.NewBB(target), nil, nil
	}

	if floorAddr, ok := m.floor(target); ok {
		containing := m.byAddr[floorAddr]
		newBB, err := m.SplitBB(containing, target)
		if err != nil {
			return nil, nil, err
		}
		return newBB, nil, nil
	}

	// target precedes any currently tracked BB: allocate a new BB and
	// signal the caller to eagerly re-translate up to the nearest BB that
	// is already known to exist.
	end := curAddr
	if _, endAddr, ok := m.LowerBoundBB(target); ok {
		end = endAddr
	}
	newBB := m.NewBB(target)
	return newBB, &RetranslateRange{Start: target, End: end}, nil
}
