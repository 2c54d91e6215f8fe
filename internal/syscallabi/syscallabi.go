// Completion: 100% - syscall dispatch generation complete
package syscallabi

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/rvsbt/sbt/internal/ir"
	"github.com/rvsbt/sbt/internal/regfile"
)

// Package syscallabi generates the guest-to-host syscall bridge:
// rv_syscall(n) dispatches a RISC-V syscall number to one of the host
// syscall stubs syscall0..syscall4, which the runtime shim implements.

// MaxSyscallArgs is the largest fixed argument count a bridged syscall
// may take; syscall0..syscall4 stubs are declared for 0..MaxSyscallArgs.
const MaxSyscallArgs = 4

// Syscall maps one RISC-V syscall number to its host equivalent.
type Syscall struct {
	Args int // fixed argument count, 0..MaxSyscallArgs
	RV   int // guest (RISC-V Linux) syscall number
	Host int // host syscall number
}

// Table lists the bridged syscalls. Unknown guest numbers fall through
// to host exit with status 99.
var Table = []Syscall{
	{Args: 1, RV: 93, Host: unix.SYS_EXIT},
	{Args: 3, RV: 64, Host: unix.SYS_WRITE},
}

// hostExitStatus is stored into a0 before the default-case exit.
const hostExitStatus = 99

// Handler holds the generated dispatch function and the host stubs it
// calls, for callers that need to emit rv_syscall call sites.
type Handler struct {
	RVSyscall *ir.Function
	Stubs     [MaxSyscallArgs + 1]*ir.ExternFunc
}

// DeclareStubs declares the host syscall stubs syscall0..syscall4, each
// taking the host syscall number plus its fixed arguments.
func DeclareStubs(mod *ir.Module) [MaxSyscallArgs + 1]*ir.ExternFunc {
	var stubs [MaxSyscallArgs + 1]*ir.ExternFunc
	for n := 0; n <= MaxSyscallArgs; n++ {
		params := make([]ir.Type, n+1)
		for i := range params {
			params[i] = ir.I32
		}
		stubs[n] = mod.DeclareExtern(&ir.ExternFunc{
			Name:   fmt.Sprintf("syscall%d", n),
			Params: params,
			Ret:    ir.I32,
		})
	}
	return stubs
}

// Generate builds rv_syscall(n): a first switch on the guest syscall
// number stores the host number into a7 and the argument count into t0,
// then a second switch on t0 calls the matching host stub with
// a7, a0..a(count-1), stores the result into a0, and returns it.
// The first switch's default case arranges a host exit(99).
func Generate(mod *ir.Module, g *regfile.GlobalRegs) *Handler {
	stubs := DeclareStubs(mod)

	fn := ir.NewFunction("rv_syscall", []ir.Type{ir.I32}, ir.I32)
	mod.DeclareFunction(fn)
	b := ir.NewBuilder(fn)

	entry := fn.NewBlock("bb_rvsc_entry")

	// Exit block: return a0.
	exit := fn.NewBlock("bb_rvsc_exit")
	b.SetBlock(exit)
	b.Ret(b.Load(ir.I32, b.GlobalAddr(g.X[regfile.RegA0])))

	sw2BB := fn.NewBlock("bb_rvsc_sw2")

	const regT0 = 5

	// First switch default: unknown guest number, exit(99) on the host.
	sw1Dfl := fn.NewBlock("bb_rvsc_sw1_default")
	b.SetBlock(sw1Dfl)
	b.Store(b.GlobalAddr(g.X[regT0]), b.ConstInt(ir.I32, 1))
	b.Store(b.GlobalAddr(g.X[regfile.RegA7]), b.ConstInt(ir.I32, int64(unix.SYS_EXIT)))
	b.Store(b.GlobalAddr(g.X[regfile.RegA0]), b.ConstInt(ir.I32, hostExitStatus))
	b.Br(sw2BB)

	var cases1 []ir.SwitchCase
	for _, sc := range Table {
		bb := fn.NewBlock(fmt.Sprintf("bb_rvsc_sw1_case_%d", sc.RV))
		b.SetBlock(bb)
		b.Store(b.GlobalAddr(g.X[regT0]), b.ConstInt(ir.I32, int64(sc.Args)))
		b.Store(b.GlobalAddr(g.X[regfile.RegA7]), b.ConstInt(ir.I32, int64(sc.Host)))
		b.Br(sw2BB)
		cases1 = append(cases1, ir.SwitchCase{Value: int64(sc.RV), Target: bb})
	}

	b.SetBlock(entry)
	scNum := b.Param(0)
	b.Switch(scNum, cases1, sw1Dfl)

	// Second switch: dispatch on the argument count stashed in t0.
	caseBB := func(n int) *ir.BasicBlock {
		bb := fn.NewBlock(fmt.Sprintf("bb_rvsc_sw2_case_%d", n))
		b.SetBlock(bb)
		args := []ir.Value{b.Load(ir.I32, b.GlobalAddr(g.X[regfile.RegA7]))}
		for i := 0; i < n; i++ {
			args = append(args, b.Load(ir.I32, b.GlobalAddr(g.X[regfile.RegA0+i])))
		}
		ret := b.CallExtern(stubs[n], args)
		b.Store(b.GlobalAddr(g.X[regfile.RegA0]), ret)
		b.Br(exit)
		return bb
	}

	case0 := caseBB(0)
	var cases2 []ir.SwitchCase
	cases2 = append(cases2, ir.SwitchCase{Value: 0, Target: case0})
	for n := 1; n <= MaxSyscallArgs; n++ {
		cases2 = append(cases2, ir.SwitchCase{Value: int64(n), Target: caseBB(n)})
	}

	b.SetBlock(sw2BB)
	argc := b.Load(ir.I32, b.GlobalAddr(g.X[regT0]))
	b.Switch(argc, cases2, case0)

	return &Handler{RVSyscall: fn, Stubs: stubs}
}

// DeclareIntrinsics declares the timing/counter runtime intrinsics the
// CSR read lowering dispatches to.
func DeclareIntrinsics(mod *ir.Module) (cycles, timeFn, instret *ir.ExternFunc) {
	cycles = mod.DeclareExtern(&ir.ExternFunc{Name: "get_cycles", Ret: ir.I64})
	timeFn = mod.DeclareExtern(&ir.ExternFunc{Name: "get_time", Ret: ir.I64})
	instret = mod.DeclareExtern(&ir.ExternFunc{Name: "get_instret", Ret: ir.I64})
	return cycles, timeFn, instret
}

// DeclareAbort declares the sbtabort trampoline called from the
// dispatcher's default case.
func DeclareAbort(mod *ir.Module) *ir.ExternFunc {
	return mod.DeclareExtern(&ir.ExternFunc{Name: "sbtabort"})
}
