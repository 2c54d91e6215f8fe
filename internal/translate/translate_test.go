package translate

import (
	"encoding/binary"
	"strings"
	"testing"

	"github.com/rvsbt/sbt/internal/elfobj"
	"github.com/rvsbt/sbt/internal/ir"
	"github.com/rvsbt/sbt/internal/rvdecode"
	"github.com/rvsbt/sbt/internal/session"
)

// RV32 encoders for hand-assembled test programs.

func encR(opcode, funct3, funct7, rd, rs1, rs2 uint32) uint32 {
	return funct7<<25 | rs2<<20 | rs1<<15 | funct3<<12 | rd<<7 | opcode
}

func encI(opcode, funct3, rd, rs1 uint32, imm int32) uint32 {
	return uint32(imm)<<20 | rs1<<15 | funct3<<12 | rd<<7 | opcode
}

func encB(funct3, rs1, rs2 uint32, imm int32) uint32 {
	u := uint32(imm)
	return (u>>12&1)<<31 | (u>>5&0x3f)<<25 | rs2<<20 | rs1<<15 | funct3<<12 |
		(u>>1&0xf)<<8 | (u>>11&1)<<7 | 0x63
}

func addi(rd, rs1 uint32, imm int32) uint32 { return encI(0x13, 0, rd, rs1, imm) }
func add(rd, rs1, rs2 uint32) uint32        { return encR(0x33, 0, 0, rd, rs1, rs2) }
func lui(rd, imm20 uint32) uint32           { return imm20<<12 | rd<<7 | 0x37 }
func auipc(rd, imm20 uint32) uint32         { return imm20<<12 | rd<<7 | 0x17 }
func bne(rs1, rs2 uint32, imm int32) uint32 { return encB(1, rs1, rs2, imm) }
func jalr(rd, rs1 uint32, imm int32) uint32 { return encI(0x67, 0, rd, rs1, imm) }
func ret() uint32                           { return jalr(0, 1, 0) }

const ecall = 0x00000073

func words(ws ...uint32) []byte {
	buf := make([]byte, 4*len(ws))
	for i, w := range ws {
		binary.LittleEndian.PutUint32(buf[4*i:], w)
	}
	return buf
}

func newTestSession(t *testing.T, mode session.RegMode) *session.Session {
	t.Helper()
	opts := &session.Options{Regs: mode}
	if err := opts.Validate(); err != nil {
		t.Fatalf("options: %v", err)
	}
	return session.New(opts, nil)
}

// funcSym marks a named function at addr in sec.
func funcSym(name string, addr uint32, sec *elfobj.Section) *elfobj.Symbol {
	return &elfobj.Symbol{Name: name, Addr: addr, Section: sec, IsFunc: true}
}

// translateObj runs a full translation and returns the session plus the
// printed module.
func translateObj(t *testing.T, sess *session.Session, obj *elfobj.Object) string {
	t.Helper()
	tr := New(sess)
	tr.AddObject(obj)
	if err := tr.Translate(); err != nil {
		t.Fatalf("Translate failed: %v", err)
	}
	return ir.Print(sess.Mod)
}

// storesToGlobal counts stores in fn whose address is the named global.
func storesToGlobal(fn *ir.Function, name string) int {
	count := 0
	for _, bb := range fn.Blocks {
		addrs := make(map[ir.Value]string)
		for _, in := range bb.Instrs {
			if in.Kind == ir.OpGlobalAddr {
				addrs[in.Res] = in.Global.Name
			}
			if in.Kind == ir.OpStore && addrs[in.Args[0]] == name {
				count++
			}
		}
	}
	return count
}

// TestHelloEcall translates a write-then-exit guest program and checks
// both syscalls dispatch through rv_syscall
func TestHelloEcall(t *testing.T) {
	text := elfobj.NewSection(".text", elfobj.KindText, words(
		addi(10, 0, 1),  // a0 = 1
		lui(11, 0),      // a1 = %hi(msg)
		addi(11, 11, 0), // a1 += %lo(msg)
		addi(12, 0, 3),  // a2 = 3
		addi(17, 0, 64), // a7 = write
		ecall,
		addi(10, 0, 0),  // a0 = 0
		addi(17, 0, 93), // a7 = exit
		ecall,
		ret(),
	))
	data := elfobj.NewSection(".rodata", elfobj.KindData, []byte("Hi\n\x00"))
	msg := &elfobj.Symbol{Name: "msg", Addr: 0, Section: data}

	obj := elfobj.NewObject(
		[]*elfobj.Section{text, data},
		[]*elfobj.Symbol{funcSym("main", 0, text), msg},
		map[string][]*elfobj.Relocation{".text": {
			{Offset: 4, Type: elfobj.R_RISCV_HI20, Symbol: msg},
			{Offset: 8, Type: elfobj.R_RISCV_LO12_I, Symbol: msg},
		}},
	)

	sess := newTestSession(t, session.RegGlobals)
	out := translateObj(t, sess, obj)

	if got := strings.Count(out, "call @rv_syscall("); got != 2 {
		t.Errorf("rv_syscall call sites = %d, want 2", got)
	}
	if !strings.Contains(out, "@ShadowMemory") {
		t.Error("shadow image global missing")
	}
	if !strings.Contains(out, "Hi") {
		t.Error("message bytes missing from shadow image")
	}
}

// TestALUSmoke checks register stores for a small ALU sequence and that
// x0 is never a store target
func TestALUSmoke(t *testing.T) {
	text := elfobj.NewSection(".text", elfobj.KindText, words(
		addi(5, 0, 5),
		addi(6, 0, 7),
		add(7, 5, 6),
		ret(),
	))
	obj := elfobj.NewObject(
		[]*elfobj.Section{text},
		[]*elfobj.Symbol{funcSym("main", 0, text)},
		nil,
	)

	sess := newTestSession(t, session.RegGlobals)
	translateObj(t, sess, obj)

	fn, ok := sess.Mod.Function("main")
	if !ok {
		t.Fatal("main not translated")
	}
	for _, reg := range []string{"rv_x5", "rv_x6", "rv_x7"} {
		if storesToGlobal(fn, reg) != 1 {
			t.Errorf("stores to %s = %d, want 1", reg, storesToGlobal(fn, reg))
		}
	}
	if storesToGlobal(fn, "rv_x0") != 0 {
		t.Error("store to rv_x0 emitted")
	}
}

// TestBranchBackEdge checks the loop scenario: a conditional branch back
// to the function entry with an allocated fall-through block
func TestBranchBackEdge(t *testing.T) {
	text := elfobj.NewSection(".text", elfobj.KindText, words(
		addi(5, 5, -1), // loop: x5--
		bne(5, 0, -4),  // bne x5, x0, loop
		ret(),
	))
	obj := elfobj.NewObject(
		[]*elfobj.Section{text},
		[]*elfobj.Symbol{funcSym("main", 0, text)},
		nil,
	)

	sess := newTestSession(t, session.RegGlobals)
	out := translateObj(t, sess, obj)

	fn, _ := sess.Mod.Function("main")
	if len(fn.Blocks) != 2 {
		t.Errorf("block count = %d, want loop head plus fall-through", len(fn.Blocks))
	}
	if !strings.Contains(out, "bb_0x0") || !strings.Contains(out, "bb_0x8") {
		t.Errorf("expected blocks at 0x0 and 0x8:\n%s", out)
	}

	// The loop head must end in a conditional branch targeting itself.
	head := fn.Blocks[0]
	last := head.Instrs[len(head.Instrs)-1]
	if last.Kind != ir.OpBrCond {
		t.Fatalf("loop head terminator = %v, want conditional branch", last.Kind)
	}
	if last.Targets[0] != head {
		t.Error("back-edge does not target the loop head")
	}
}

// TestSymbolicCallPair checks that an auipc/jalr pair with a CALL
// relocation lowers to a direct call, not an icaller dispatch
func TestSymbolicCallPair(t *testing.T) {
	text := elfobj.NewSection(".text", elfobj.KindText, words(
		ret(),         // foo: return
		auipc(1, 0),   // main: %hi(foo)
		jalr(1, 1, 0), // %lo(foo)
		ret(),
	))
	foo := funcSym("foo", 0, text)
	obj := elfobj.NewObject(
		[]*elfobj.Section{text},
		[]*elfobj.Symbol{foo, funcSym("main", 4, text)},
		map[string][]*elfobj.Relocation{".text": {
			{Offset: 4, Type: elfobj.R_RISCV_CALL, Symbol: foo},
		}},
	)

	sess := newTestSession(t, session.RegGlobals)
	out := translateObj(t, sess, obj)

	if !strings.Contains(out, "call @foo()") {
		t.Errorf("direct call to foo missing:\n%s", out)
	}
	mainStart := strings.Index(out, "define i32 @main(")
	if mainStart < 0 {
		t.Fatal("main not found")
	}
	if strings.Contains(out[mainStart:], "call @rv32_icaller(") {
		t.Error("symbolic call went through the icaller")
	}
}

// TestExternalVarargsCall checks argument gathering and return routing
// for an imported variadic function
func TestExternalVarargsCall(t *testing.T) {
	text := elfobj.NewSection(".text", elfobj.KindText, words(
		addi(10, 0, 1), // a0: format address stand-in
		addi(11, 0, 42),
		addi(12, 0, 7),
		auipc(1, 0),
		jalr(1, 1, 0), // call printf
		ret(),
	))
	printf := &elfobj.Symbol{Name: "printf"}
	obj := elfobj.NewObject(
		[]*elfobj.Section{text},
		[]*elfobj.Symbol{funcSym("main", 0, text), printf},
		map[string][]*elfobj.Relocation{".text": {
			{Offset: 12, Type: elfobj.R_RISCV_CALL, Symbol: printf},
		}},
	)

	sess := newTestSession(t, session.RegGlobals)
	out := translateObj(t, sess, obj)

	if !strings.Contains(out, "declare i32 @printf(ptr, ...)") {
		t.Error("printf not declared from the import table")
	}
	if !strings.Contains(out, "call @printf(") {
		t.Error("no call to imported printf")
	}
	fn, _ := sess.Mod.Function("main")
	// The i32 return is routed into a0, after the prologue's argc store
	// and the addi.
	if storesToGlobal(fn, "rv_x10") < 3 {
		t.Error("printf return not stored into a0")
	}
}

// TestIndirectCall checks the icaller dispatch: a runtime target calls
// through rv32_icaller, whose switch has one case per known function
func TestIndirectCall(t *testing.T) {
	text := elfobj.NewSection(".text", elfobj.KindText, words(
		ret(),         // f1
		addi(6, 0, 0), // main: t1 = 0
		jalr(1, 6, 0), // icall through t1
		ret(),
	))
	obj := elfobj.NewObject(
		[]*elfobj.Section{text},
		[]*elfobj.Symbol{funcSym("f1", 0, text), funcSym("main", 4, text)},
		nil,
	)

	sess := newTestSession(t, session.RegGlobals)
	out := translateObj(t, sess, obj)

	if !strings.Contains(out, "call @rv32_icaller(") {
		t.Error("indirect call did not dispatch through rv32_icaller")
	}
	if !strings.Contains(out, "icaller_internal_0x0") {
		t.Error("icaller switch missing the f1 case")
	}
	if !strings.Contains(out, "call @f1()") {
		t.Error("icaller case does not call f1 directly")
	}
	if !strings.Contains(out, "call @sbtabort()") {
		t.Error("icaller default does not abort")
	}
}

// TestPaddingTail checks that a zero tail is consumed quietly and a
// non-zero word inside it is an error
func TestPaddingTail(t *testing.T) {
	text := elfobj.NewSection(".text", elfobj.KindText, words(
		addi(5, 0, 1),
		ret(),
		0, 0, 0, // 12 zero bytes of padding
	))
	obj := elfobj.NewObject(
		[]*elfobj.Section{text},
		[]*elfobj.Symbol{funcSym("main", 0, text)},
		nil,
	)
	sess := newTestSession(t, session.RegGlobals)
	translateObj(t, sess, obj) // must not fail

	bad := elfobj.NewSection(".text", elfobj.KindText, words(
		addi(5, 0, 1),
		ret(),
		0, 0,
		addi(5, 0, 1), // non-zero word inside padding
	))
	badObj := elfobj.NewObject(
		[]*elfobj.Section{bad},
		[]*elfobj.Symbol{funcSym("main", 0, bad)},
		nil,
	)
	sess = newTestSession(t, session.RegGlobals)
	tr := New(sess)
	tr.AddObject(badObj)
	if err := tr.Translate(); err == nil {
		t.Fatal("non-zero byte in padding accepted")
	}
}

// TestLocalsMode checks that LOCALS mode declares per-function slots and
// still verifies structurally
func TestLocalsMode(t *testing.T) {
	text := elfobj.NewSection(".text", elfobj.KindText, words(
		addi(5, 0, 5),
		addi(6, 5, 2),
		ret(),
	))
	obj := elfobj.NewObject(
		[]*elfobj.Section{text},
		[]*elfobj.Symbol{funcSym("main", 0, text)},
		nil,
	)

	sess := newTestSession(t, session.RegLocals)
	translateObj(t, sess, obj)

	if _, ok := sess.Mod.Global("main__local_x5"); !ok {
		t.Error("LOCALS mode did not declare per-function slots")
	}
}

// TestIdempotentTranslation checks that translating the same program
// twice yields byte-identical output
func TestIdempotentTranslation(t *testing.T) {
	build := func() *elfobj.Object {
		text := elfobj.NewSection(".text", elfobj.KindText, words(
			addi(5, 0, 5),
			addi(17, 0, 93),
			ecall,
			ret(),
		))
		return elfobj.NewObject(
			[]*elfobj.Section{text},
			[]*elfobj.Symbol{funcSym("main", 0, text)},
			nil,
		)
	}

	a := translateObj(t, newTestSession(t, session.RegGlobals), build())
	b := translateObj(t, newTestSession(t, session.RegGlobals), build())
	if a != b {
		t.Fatal("translation output is not deterministic")
	}
}

// TestIndirectJumpWithoutTargets checks the configuration decision that
// an indirect jump with an empty discovered-target set is an error
func TestIndirectJumpWithoutTargets(t *testing.T) {
	text := elfobj.NewSection(".text", elfobj.KindText, words(
		addi(6, 0, 0),
		jalr(0, 6, 0), // dynamic jump, no label ever taken
		ret(),
	))
	obj := elfobj.NewObject(
		[]*elfobj.Section{text},
		[]*elfobj.Symbol{funcSym("main", 0, text)},
		nil,
	)
	sess := newTestSession(t, session.RegGlobals)
	tr := New(sess)
	tr.AddObject(obj)
	if err := tr.Translate(); err == nil {
		t.Fatal("indirect jump without discovered targets accepted")
	}
}

// TestMainPrologue checks the stack-pointer initialization and the
// runtime init call emitted only in main
func TestMainPrologue(t *testing.T) {
	text := elfobj.NewSection(".text", elfobj.KindText, words(
		ret(),         // helper
		addi(5, 0, 1), // main
		ret(),
	))
	obj := elfobj.NewObject(
		[]*elfobj.Section{text},
		[]*elfobj.Symbol{funcSym("helper", 0, text), funcSym("main", 4, text)},
		nil,
	)

	sess := newTestSession(t, session.RegGlobals)
	out := translateObj(t, sess, obj)

	mainStart := strings.Index(out, "define i32 @main(")
	helperStart := strings.Index(out, "define void @helper(")
	if mainStart < 0 || helperStart < 0 {
		t.Fatalf("function definitions missing:\n%s", out)
	}
	mainBody := out[mainStart:]
	if !strings.Contains(mainBody, "call @rv_syscall_init()") {
		t.Error("main prologue missing the syscall-module init call")
	}
	if !strings.Contains(mainBody, "@Stack") {
		t.Error("main prologue missing the stack-pointer setup")
	}
	helperBody := out[helperStart:mainStart]
	if strings.Contains(helperBody, "rv_syscall_init") {
		t.Error("non-main function got the main prologue")
	}
	fn, _ := sess.Mod.Function("main")
	if storesToGlobal(fn, "rv_x2") != 1 {
		t.Error("stack pointer register not initialized")
	}
}

// csrOp encodes a Zicsr system instruction; src is rs1 for the register
// forms and the zimm field for the immediate forms.
func csrOp(funct3, rd, src, csrAddr uint32) uint32 {
	return csrAddr<<20 | src<<15 | funct3<<12 | rd<<7 | 0x73
}

// TestCSRZeroWriteLowersAsRead checks that csrrw/csrrwi with a
// statically-zero source are plain counter reads, not rejected writes
func TestCSRZeroWriteLowersAsRead(t *testing.T) {
	text := elfobj.NewSection(".text", elfobj.KindText, words(
		csrOp(5, 5, 0, rvdecode.CSR_RDCYCLE), // csrrwi x5, cycle, 0
		csrOp(1, 6, 0, rvdecode.CSR_RDCYCLE), // csrrw x6, cycle, x0
		csrOp(2, 7, 0, rvdecode.CSR_RDTIME),  // csrrs x7, time, x0
		ret(),
	))
	obj := elfobj.NewObject(
		[]*elfobj.Section{text},
		[]*elfobj.Symbol{funcSym("main", 0, text)},
		nil,
	)

	sess := newTestSession(t, session.RegGlobals)
	out := translateObj(t, sess, obj)

	if got := strings.Count(out, "call @get_cycles("); got != 2 {
		t.Errorf("get_cycles call sites = %d, want 2", got)
	}
	if got := strings.Count(out, "call @get_time("); got != 1 {
		t.Errorf("get_time call sites = %d, want 1", got)
	}
	fn, _ := sess.Mod.Function("main")
	for _, reg := range []string{"rv_x5", "rv_x6", "rv_x7"} {
		if storesToGlobal(fn, reg) != 1 {
			t.Errorf("stores to %s = %d, want 1", reg, storesToGlobal(fn, reg))
		}
	}
}

// TestCSRNonZeroWriteRejected checks the documented error for writes of
// anything except zero
func TestCSRNonZeroWriteRejected(t *testing.T) {
	cases := []struct {
		name string
		raw  uint32
	}{
		{"csrrwi nonzero imm", csrOp(5, 0, 1, rvdecode.CSR_RDCYCLE)},
		{"csrrw nonzero reg", csrOp(1, 0, 7, rvdecode.CSR_RDCYCLE)},
		{"csrrsi nonzero imm", csrOp(6, 0, 1, rvdecode.CSR_RDCYCLE)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			text := elfobj.NewSection(".text", elfobj.KindText, words(tc.raw, ret()))
			obj := elfobj.NewObject(
				[]*elfobj.Section{text},
				[]*elfobj.Symbol{funcSym("main", 0, text)},
				nil,
			)
			sess := newTestSession(t, session.RegGlobals)
			tr := New(sess)
			tr.AddObject(obj)
			if err := tr.Translate(); err == nil {
				t.Fatal("non-zero CSR write accepted")
			}
		})
	}
}
