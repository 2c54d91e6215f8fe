package ir

// BasicBlock is a maximal straight-line run of instructions ending in
// exactly one terminator (Br, BrCond, Switch, Ret, RetVoid, or
// Unreachable).
type BasicBlock struct {
	Name   string
	Instrs []*Instruction

	fn *Function
}

// HasTerminator reports whether the last instruction in the block ends
// the block's control flow.
func (b *BasicBlock) HasTerminator() bool {
	if len(b.Instrs) == 0 {
		return false
	}
	switch b.Instrs[len(b.Instrs)-1].Kind {
	case OpBr, OpBrCond, OpSwitch, OpRet, OpRetVoid, OpUnreachable:
		return true
	default:
		return false
	}
}

// EraseLast removes the block's last instruction. Used by bbmgr's split
// operation to drop the dummy terminator inserted to preserve the IR
// invariant mid-split.
func (b *BasicBlock) EraseLast() {
	if len(b.Instrs) == 0 {
		return
	}
	b.Instrs = b.Instrs[:len(b.Instrs)-1]
}

// InstrCount reports the block's current instruction count.
func (b *BasicBlock) InstrCount() int { return len(b.Instrs) }
