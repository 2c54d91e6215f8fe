// Package regfile implements the guest X/F register bank in its three
// selectable modes (GLOBALS, LOCALS, ABI), with dirty tracking and the
// sync/cleanRegs contract.
package regfile

import (
	"fmt"

	"github.com/rvsbt/sbt/internal/ir"
)

const (
	NumX = 32
	NumF = 32
)

// GlobalRegs are the module-scope rv_x0..rv_x31, rv_f0..rv_f31, rv_fcsr
// globals that back every mode: directly in GLOBALS
// mode, and as the load/store-back targets at function boundaries in
// LOCALS/ABI mode.
type GlobalRegs struct {
	X    [NumX]*ir.Global
	F    [NumF]*ir.Global
	FCSR *ir.Global
}

// NewGlobalRegs declares the guest register globals on mod. Must be
// called exactly once per module.
func NewGlobalRegs(mod *ir.Module) *GlobalRegs {
	g := &GlobalRegs{}
	for i := 0; i < NumX; i++ {
		g.X[i] = mod.DeclareGlobal(&ir.Global{Name: fmt.Sprintf("rv_x%d", i), Ty: ir.I32})
	}
	for i := 0; i < NumF; i++ {
		g.F[i] = mod.DeclareGlobal(&ir.Global{Name: fmt.Sprintf("rv_f%d", i), Ty: ir.F64})
	}
	g.FCSR = mod.DeclareGlobal(&ir.Global{Name: "rv_fcsr", Ty: ir.I32})
	return g
}

// ABI register-index helpers, used by both the register file's ABI sync
// and the Caller: arguments a0..a7 are x10..x17, return
// registers a0,a1 are x10,x11.
const (
	RegZero = 0
	RegRA   = 1
	RegSP   = 2
	RegA0   = 10
	RegA7   = 17
)

// CallerSavedX lists the RISC-V integer caller-saved registers (ABI mode
// sync at call sites): ra, t0-t2, a0-a7, t3-t6.
var CallerSavedX = []int{1, 5, 6, 7, 10, 11, 12, 13, 14, 15, 16, 17, 28, 29, 30, 31}

// CalleeSavedX lists the RISC-V integer callee-saved registers: sp, s0-s11.
var CalleeSavedX = []int{2, 8, 9, 18, 19, 20, 21, 22, 23, 24, 25, 26, 27}

// ABIBoundaryX is the register set an ABI-mode function syncs at its
// boundaries: callee-saved state it must preserve, the return address,
// and the argument/return registers that carry the call's values.
// Temporaries stay unsynced, matching their undefined-at-entry ABI
// status.
func ABIBoundaryX() []int {
	regs := make([]int, 0, len(CalleeSavedX)+9)
	regs = append(regs, CalleeSavedX...)
	regs = append(regs, RegRA)
	for a := RegA0; a <= RegA7; a++ {
		regs = append(regs, a)
	}
	return regs
}
