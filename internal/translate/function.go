// Completion: 100% - function translation lifecycle complete
package translate

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/rvsbt/sbt/internal/bbmgr"
	"github.com/rvsbt/sbt/internal/elfobj"
	"github.com/rvsbt/sbt/internal/ir"
	"github.com/rvsbt/sbt/internal/regfile"
	"github.com/rvsbt/sbt/internal/reloc"
	"github.com/rvsbt/sbt/internal/rvdecode"
	"github.com/rvsbt/sbt/internal/sbterr"
	"github.com/rvsbt/sbt/internal/session"
)

// indSite is one registered indirect-jump site awaiting the post-body
// fixup pass: the block left unterminated at the jump and the computed
// runtime target value.
type indSite struct {
	bb     *ir.BasicBlock
	target ir.Value
	addr   uint32
}

// FuncTranslator lowers one guest function into its IR function: it
// drives instruction translation from addr to end at monotonically
// increasing PCs, creating and splitting basic blocks as branch targets
// are discovered.
type FuncTranslator struct {
	t    *Translator
	sess *session.Session

	fn   *ir.Function
	b    *ir.Builder
	mgr  *bbmgr.Manager
	regs *regfile.File

	cur       *reloc.Cursor
	dec       *rvdecode.Decoder
	secRelocs []*elfobj.Relocation

	sec  *elfobj.Section
	text []byte

	name   string
	addr   uint32
	end    uint32
	isMain bool

	curAddr uint32
	curBB   *ir.BasicBlock

	indSites   []indSite
	indTargets map[uint32]bool

	// Guest stack-pointer delta from the canonical frame address,
	// tracked statically from sp-adjusting addi instructions.
	spOffs int32
	cfaSet bool
	spills map[int32]*ir.Global
}

func newFuncTranslator(t *Translator, fn *ir.Function, sec *elfobj.Section, text []byte,
	name string, addr, end uint32, cur *reloc.Cursor, dec *rvdecode.Decoder,
	secRelocs []*elfobj.Relocation) *FuncTranslator {

	ft := &FuncTranslator{
		t:          t,
		sess:       t.sess,
		fn:         fn,
		sec:        sec,
		text:       text,
		name:       name,
		addr:       addr,
		end:        end,
		isMain:     name == "main",
		cur:        cur,
		dec:        dec,
		secRelocs:  secRelocs,
		indTargets: make(map[uint32]bool),
		spills:     make(map[int32]*ir.Global),
	}
	ft.b = ir.NewBuilder(fn)
	ft.mgr = bbmgr.New(fn)
	ft.regs = regfile.New(t.sess.Opts.Regs, t.g, ft.b, t.sess.Mod, ft.isMain, t.sess.Opts.SyncFRegs)
	return ft
}

func (ft *FuncTranslator) setBlock(bb *ir.BasicBlock) {
	ft.curBB = bb
	ft.regs.SetBlock(bb)
}

// syncFlags adds the ABI-subset flag to a register sync when the
// function runs in ABI mode.
func (ft *FuncTranslator) syncFlags(base regfile.Flags) regfile.Flags {
	if ft.regs.Mode() == session.RegABI {
		base |= regfile.FlagABI
	}
	return base
}

// reanchor repositions the builder after a basic-block split moved the
// current instruction's partially lowered tail into a new block.
func (ft *FuncTranslator) reanchor() {
	if bb, ok := ft.mgr.PCBlock(ft.curAddr); ok && bb != ft.curBB {
		ft.setBlock(bb)
	}
}

// Translate runs the full lifecycle: entry block, register load sync,
// main prologue, the instruction loop, the indirect-branch fixup pass,
// terminator repair, and register cleanup.
func (ft *FuncTranslator) Translate() error {
	entry := ft.mgr.NewBB(ft.addr)
	ft.setBlock(entry)

	ft.regs.Sync(regfile.DirLoad, ft.syncFlags(regfile.FlagFuncStart))
	if ft.isMain {
		ft.mainPrologue()
	}

	if err := ft.translateRange(ft.addr, ft.end); err != nil {
		return err
	}

	if err := ft.fixupIndirect(); err != nil {
		return err
	}

	// Repair missing terminators: the final fall-through block, and any
	// branch fall-through allocated at the function's very end.
	for _, bb := range ft.fn.Blocks {
		if !bb.HasTerminator() {
			ft.setBlock(bb)
			ft.emitReturn()
		}
	}

	ft.regs.CleanRegs()

	sbterr.Invariant(len(ft.mgr.Keys()) > 0, "empty basic-block map after translating %s", ft.name)
	return nil
}

// mainPrologue initializes the guest stack pointer to the top of the
// Stack array, copies argc/argv from the host into a0/a1, and calls the
// runtime's syscall-module initializer.
func (ft *FuncTranslator) mainPrologue() {
	top := ft.b.GEP(ft.b.GlobalAddr(ft.t.stack), int64(ft.sess.Opts.StackSize))
	ft.regs.WriteX(regfile.RegSP, ft.b.PtrToInt(ir.I32, top))

	argc := ft.b.CallExtern(ft.t.getArgc, nil)
	ft.regs.WriteX(regfile.RegA0, argc)
	argv := ft.b.CallExtern(ft.t.getArgv, nil)
	ft.regs.WriteX(regfile.RegA0+1, ft.b.PtrToInt(ir.I32, argv))

	ft.b.CallExtern(ft.t.syscallInit, nil)
}

// translateRange drives decoding and lowering over [from, to).
func (ft *FuncTranslator) translateRange(from, to uint32) error {
	for addr := from; addr < to; addr += session.InstructionSize {
		ft.curAddr = addr

		if bb, ok := ft.mgr.FindBB(addr); ok && bb != ft.curBB {
			if !ft.curBB.HasTerminator() {
				ft.b.Br(bb)
			}
			ft.setBlock(bb)
		} else if ft.curBB.HasTerminator() {
			// The previous instruction ended the block unconditionally and
			// no branch target was registered here; start a fresh block.
			ft.setBlock(ft.mgr.NewBB(addr))
		}

		if int(addr)+session.InstructionSize > len(ft.text) {
			return sbterr.At(sbterr.CategoryDecode, addr, "instruction extends past section %s end", ft.sec.Name)
		}
		raw := binary.LittleEndian.Uint32(ft.text[addr:])

		in, err := ft.dec.Decode(addr, raw)
		if err != nil {
			return err
		}

		res, err := ft.cur.Resolve(addr, ft.t.imp)
		if err != nil {
			return err
		}
		if in.Padding {
			continue
		}
		if res != nil {
			ft.sess.Log.Verbosef("reloc", "%s at 0x%08x", res.Describe, addr)
			ft.noteRelocTarget(res)
		}

		ft.mgr.RecordPC(addr, ft.curBB)
		if ft.t.a2s != nil {
			ft.t.a2s.Record(addr, ft.name, addr-ft.addr)
		}

		if err := ft.lower(addr, in, res); err != nil {
			return err
		}
	}
	return nil
}

// noteRelocTarget records function-local label addresses loaded through
// relocated immediates; these become the candidate target set for the
// indirect-branch fixup pass.
func (ft *FuncTranslator) noteRelocTarget(res *reloc.Resolved) {
	if res.Kind != reloc.KindInternalFunc {
		return
	}
	if res.Addr > ft.addr && res.Addr < ft.end {
		ft.indTargets[res.Addr] = true
	}
}

func (ft *FuncTranslator) emitReturn() {
	if ft.isMain {
		v := ft.regs.ReadX(regfile.RegA0)
		ft.regs.Sync(regfile.DirStore, ft.syncFlags(regfile.FlagFuncReturn))
		ft.b.Ret(v)
		return
	}
	ft.regs.Sync(regfile.DirStore, ft.syncFlags(regfile.FlagFuncReturn))
	ft.b.RetVoid()
}

// ensureBB returns the block at addr, splitting the containing block if
// addr lies strictly inside one.
func (ft *FuncTranslator) ensureBB(addr uint32) (*ir.BasicBlock, error) {
	if bb, ok := ft.mgr.FindBB(addr); ok {
		return bb, nil
	}
	bb, _, err := ft.mgr.ResolveTarget(ft.curAddr, addr)
	return bb, err
}

// fixupIndirect populates every registered indirect-jump site with a
// switch over the function-local label addresses discovered while
// translating the body. An empty target set is a translation error, not
// a silent unreachable.
func (ft *FuncTranslator) fixupIndirect() error {
	if len(ft.indSites) == 0 {
		return nil
	}
	if len(ft.indTargets) == 0 {
		return sbterr.At(sbterr.CategoryInternal, ft.indSites[0].addr,
			"indirect jump has no discovered targets in %s", ft.name)
	}

	targets := make([]uint32, 0, len(ft.indTargets))
	for a := range ft.indTargets {
		targets = append(targets, a)
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i] < targets[j] })

	cases := make([]ir.SwitchCase, 0, len(targets))
	for _, a := range targets {
		bb, err := ft.ensureBB(a)
		if err != nil {
			return err
		}
		cases = append(cases, ir.SwitchCase{Value: int64(a), Target: bb})
	}

	for _, site := range ft.indSites {
		def := ft.mgr.NewUBB(site.addr, "ijump_bad")
		ft.b.SetBlock(def)
		ft.b.CallExtern(ft.t.abort, nil)
		ft.b.Unreachable()

		ft.b.SetBlock(site.bb)
		ft.b.Switch(site.target, cases, def)
	}
	return nil
}

// retranslate re-drives the instruction loop over a range discovered by
// a backward jump that landed before any tracked block, using a fresh
// decoder and a fresh relocation cursor positioned at the range start.
func (ft *FuncTranslator) retranslate(rr *bbmgr.RetranslateRange) error {
	savedBB, savedAddr := ft.curBB, ft.curAddr
	savedCur, savedDec := ft.cur, ft.dec

	c := reloc.New(ft.secRelocs)
	c.SeekTo(rr.Start)
	ft.cur = c
	ft.dec = &rvdecode.Decoder{}

	bb, ok := ft.mgr.FindBB(rr.Start)
	sbterr.Invariant(ok, "retranslate: no block at range start 0x%x", rr.Start)
	ft.setBlock(bb)

	err := ft.translateRange(rr.Start, rr.End)
	if err == nil && !ft.curBB.HasTerminator() {
		if next, ok := ft.mgr.FindBB(rr.End); ok {
			ft.b.Br(next)
		}
	}

	ft.cur, ft.dec = savedCur, savedDec
	ft.setBlock(savedBB)
	ft.curAddr = savedAddr
	return err
}

// spillSlot returns (creating on demand) the dedicated slot for the
// canonical frame offset offs.
func (ft *FuncTranslator) spillSlot(offs int32) *ir.Global {
	if g, ok := ft.spills[offs]; ok {
		return g
	}
	name := fmt.Sprintf("%s__spill_%d", ft.name, offs)
	if offs < 0 {
		name = fmt.Sprintf("%s__spill_m%d", ft.name, -offs)
	}
	g := ft.sess.Mod.DeclareGlobal(&ir.Global{Name: name, Ty: ir.I32})
	ft.spills[offs] = g
	return g
}

// spillFor reports whether a word access at sp+imm should route through
// a spill slot, and returns the slot if so.
func (ft *FuncTranslator) spillFor(rs1 uint32, imm int32) (*ir.Global, bool) {
	if !ft.sess.Opts.OptStack || rs1 != regfile.RegSP || !ft.cfaSet {
		return nil, false
	}
	return ft.spillSlot(ft.spOffs + imm), true
}
