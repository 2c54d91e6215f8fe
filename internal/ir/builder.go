package ir

// Builder emits instructions into the basic block it is currently
// positioned at, within a single function. The translator holds one
// Builder per Function and repositions it with SetBlock as basic blocks
// are created, split, or switched to.
type Builder struct {
	fn *Function
	bb *BasicBlock
}

func NewBuilder(fn *Function) *Builder {
	return &Builder{fn: fn}
}

func (b *Builder) SetBlock(bb *BasicBlock) { b.bb = bb }
func (b *Builder) Block() *BasicBlock      { return b.bb }
func (b *Builder) Function() *Function     { return b.fn }

func (b *Builder) append(in *Instruction) {
	b.bb.Instrs = append(b.bb.Instrs, in)
}

func (b *Builder) result(ty Type) Value {
	return b.fn.newValue(ty)
}

// Param reads the idx'th parameter of the function currently being built.
func (b *Builder) Param(idx int) Value {
	ty := b.fn.Params[idx]
	res := b.result(ty)
	b.append(&Instruction{Kind: OpParam, Typ: ty, Res: res, Imm: int64(idx)})
	return res
}

// ConstInt materializes a constant integer (or pointer-sized) value.
func (b *Builder) ConstInt(ty Type, v int64) Value {
	res := b.result(ty)
	b.append(&Instruction{Kind: OpConstInt, Typ: ty, Res: res, Imm: v})
	return res
}

func (b *Builder) binOp(kind Kind, ty Type, lhs, rhs Value) Value {
	res := b.result(ty)
	b.append(&Instruction{Kind: kind, Typ: ty, Res: res, Args: []Value{lhs, rhs}})
	return res
}

func (b *Builder) Add(ty Type, lhs, rhs Value) Value  { return b.binOp(OpAdd, ty, lhs, rhs) }
func (b *Builder) Sub(ty Type, lhs, rhs Value) Value  { return b.binOp(OpSub, ty, lhs, rhs) }
func (b *Builder) And(ty Type, lhs, rhs Value) Value  { return b.binOp(OpAnd, ty, lhs, rhs) }
func (b *Builder) Or(ty Type, lhs, rhs Value) Value   { return b.binOp(OpOr, ty, lhs, rhs) }
func (b *Builder) Xor(ty Type, lhs, rhs Value) Value  { return b.binOp(OpXor, ty, lhs, rhs) }
func (b *Builder) Shl(ty Type, lhs, rhs Value) Value  { return b.binOp(OpShl, ty, lhs, rhs) }
func (b *Builder) Lshr(ty Type, lhs, rhs Value) Value { return b.binOp(OpLshr, ty, lhs, rhs) }
func (b *Builder) Ashr(ty Type, lhs, rhs Value) Value { return b.binOp(OpAshr, ty, lhs, rhs) }
func (b *Builder) Mul(ty Type, lhs, rhs Value) Value  { return b.binOp(OpMul, ty, lhs, rhs) }

// ICmp compares lhs and rhs and zero-extends the boolean result to I32,
// matching the RV32 SLT and branch-condition semantics.
func (b *Builder) ICmp(pred ICmpPred, lhs, rhs Value) Value {
	res := b.result(I32)
	b.append(&Instruction{Kind: OpICmp, Typ: I32, Res: res, Args: []Value{lhs, rhs}, Pred: pred})
	return res
}

func (b *Builder) Trunc(ty Type, v Value) Value {
	res := b.result(ty)
	b.append(&Instruction{Kind: OpTrunc, Typ: ty, Res: res, Args: []Value{v}})
	return res
}

func (b *Builder) Zext(ty Type, v Value) Value {
	res := b.result(ty)
	b.append(&Instruction{Kind: OpZext, Typ: ty, Res: res, Args: []Value{v}})
	return res
}

func (b *Builder) Sext(ty Type, v Value) Value {
	res := b.result(ty)
	b.append(&Instruction{Kind: OpSext, Typ: ty, Res: res, Args: []Value{v}})
	return res
}

func (b *Builder) Bitcast(ty Type, v Value) Value {
	res := b.result(ty)
	b.append(&Instruction{Kind: OpBitcast, Typ: ty, Res: res, Args: []Value{v}})
	return res
}

func (b *Builder) IntToPtr(v Value) Value {
	res := b.result(Ptr)
	b.append(&Instruction{Kind: OpIntToPtr, Typ: Ptr, Res: res, Args: []Value{v}})
	return res
}

func (b *Builder) PtrToInt(ty Type, v Value) Value {
	res := b.result(ty)
	b.append(&Instruction{Kind: OpPtrToInt, Typ: ty, Res: res, Args: []Value{v}})
	return res
}

// GlobalAddr returns a pointer to the base of a module-scope global.
func (b *Builder) GlobalAddr(g *Global) Value {
	res := b.result(Ptr)
	b.append(&Instruction{Kind: OpGlobalAddr, Typ: Ptr, Res: res, Global: g})
	return res
}

// GEP computes base + byteOffset as a pointer, used for shadow-image and
// stack address arithmetic.
func (b *Builder) GEP(base Value, byteOffset int64) Value {
	res := b.result(Ptr)
	b.append(&Instruction{Kind: OpGEP, Typ: Ptr, Res: res, Args: []Value{base}, Imm: byteOffset})
	return res
}

func (b *Builder) Load(ty Type, addr Value) Value {
	res := b.result(ty)
	b.append(&Instruction{Kind: OpLoad, Typ: ty, Res: res, Args: []Value{addr}})
	return res
}

func (b *Builder) Store(addr Value, v Value) {
	b.append(&Instruction{Kind: OpStore, Typ: v.Type(), Args: []Value{addr, v}})
}

// Call emits a direct call to an internally defined function.
func (b *Builder) Call(callee *Function, args []Value) Value {
	var res Value
	if !callee.HasVoidReturn() {
		res = b.result(callee.Ret)
	}
	b.append(&Instruction{Kind: OpCall, Typ: callee.Ret, Res: res, Args: args, Callee: callee})
	return res
}

// CallExtern emits a direct call to a declared external function.
func (b *Builder) CallExtern(e *ExternFunc, args []Value) Value {
	var res Value
	if !e.HasVoidReturn() {
		res = b.result(e.Ret)
	}
	b.append(&Instruction{Kind: OpCall, Typ: e.Ret, Res: res, Args: args, Extern: e})
	return res
}

func (b *Builder) Br(target *BasicBlock) {
	b.append(&Instruction{Kind: OpBr, Targets: []*BasicBlock{target}})
}

// BrCond emits a conditional branch: cond != 0 goes to ifTrue, else ifFalse.
func (b *Builder) BrCond(cond Value, ifTrue, ifFalse *BasicBlock) {
	b.append(&Instruction{Kind: OpBrCond, Args: []Value{cond}, Targets: []*BasicBlock{ifTrue, ifFalse}})
}

// Switch emits an n-way dispatch on an integer value.
func (b *Builder) Switch(v Value, cases []SwitchCase, def *BasicBlock) {
	b.append(&Instruction{Kind: OpSwitch, Args: []Value{v}, Cases: cases, Targets: []*BasicBlock{def}})
}

func (b *Builder) Ret(v Value) {
	b.append(&Instruction{Kind: OpRet, Args: []Value{v}})
}

func (b *Builder) RetVoid() {
	b.append(&Instruction{Kind: OpRetVoid})
}

// Fence emits an acquire-release cross-thread fence.
func (b *Builder) Fence() {
	b.append(&Instruction{Kind: OpFence})
}

func (b *Builder) Unreachable() {
	b.append(&Instruction{Kind: OpUnreachable})
}

// DeleteTerminator removes the trailing terminator instruction, if any.
// Block splitting inserts a dummy terminator and immediately erases it
// to keep the block well-formed during the split.
func (b *Builder) DeleteTerminator() {
	if b.bb != nil && b.bb.HasTerminator() {
		b.bb.EraseLast()
	}
}
