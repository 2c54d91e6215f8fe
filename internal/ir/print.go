// Completion: 100% - textual serialization complete, deterministic output
package ir

import (
	"fmt"
	"sort"
	"strings"
)

// Print renders the module as deterministic text: same module in, same
// bytes out. Globals first, then external declarations in sorted order,
// then functions in declaration order.
func Print(m *Module) string {
	var sb strings.Builder

	for _, g := range m.Globals {
		printGlobal(&sb, g)
	}
	if len(m.Globals) > 0 {
		sb.WriteByte('\n')
	}

	names := make([]string, 0, len(m.Externs))
	for name := range m.Externs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		printExtern(&sb, m.Externs[name])
	}
	if len(names) > 0 {
		sb.WriteByte('\n')
	}

	for _, f := range m.Funcs {
		printFunction(&sb, f)
		sb.WriteByte('\n')
	}
	return sb.String()
}

func printGlobal(sb *strings.Builder, g *Global) {
	if g.Size > 0 {
		fmt.Fprintf(sb, "@%s = global [%d x i8]", g.Name, g.Size)
		if nonZero(g.Init) {
			sb.WriteString(" c\"")
			for _, b := range g.Init {
				if b >= 0x20 && b < 0x7f && b != '"' && b != '\\' {
					sb.WriteByte(b)
				} else {
					fmt.Fprintf(sb, "\\%02x", b)
				}
			}
			sb.WriteString("\"")
		} else {
			sb.WriteString(" zeroinitializer")
		}
	} else {
		fmt.Fprintf(sb, "@%s = global %s 0", g.Name, g.Ty)
	}
	if g.Const {
		sb.WriteString(" const")
	}
	sb.WriteByte('\n')
}

func nonZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return true
		}
	}
	return false
}

func printExtern(sb *strings.Builder, e *ExternFunc) {
	fmt.Fprintf(sb, "declare %s @%s(", retString(e.Ret), e.Name)
	for i, p := range e.Params {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(p.String())
	}
	if e.IsVararg {
		if len(e.Params) > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("...")
	}
	sb.WriteString(")\n")
}

func retString(t Type) string {
	if t == typeInvalid {
		return "void"
	}
	return t.String()
}

func printFunction(sb *strings.Builder, f *Function) {
	fmt.Fprintf(sb, "define %s @%s(", retString(f.Ret), f.Name)
	for i, p := range f.Params {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(p.String())
	}
	sb.WriteString(") {\n")
	for _, bb := range f.Blocks {
		fmt.Fprintf(sb, "%s:\n", bb.Name)
		for _, in := range bb.Instrs {
			sb.WriteString("  ")
			printInstr(sb, in)
			sb.WriteByte('\n')
		}
	}
	sb.WriteString("}\n")
}

func val(v Value) string {
	if !v.Valid() {
		return "%?"
	}
	return fmt.Sprintf("%%%d", v.id)
}

var kindNames = map[Kind]string{
	OpAdd:  "add",
	OpSub:  "sub",
	OpAnd:  "and",
	OpOr:   "or",
	OpXor:  "xor",
	OpShl:  "shl",
	OpLshr: "lshr",
	OpAshr: "ashr",
	OpMul:  "mul",
}

var predNames = map[ICmpPred]string{
	CmpEQ:  "eq",
	CmpNE:  "ne",
	CmpLT:  "slt",
	CmpLTU: "ult",
	CmpGE:  "sge",
	CmpGEU: "uge",
}

var castNames = map[Kind]string{
	OpTrunc:    "trunc",
	OpZext:     "zext",
	OpSext:     "sext",
	OpBitcast:  "bitcast",
	OpIntToPtr: "inttoptr",
	OpPtrToInt: "ptrtoint",
}

func printInstr(sb *strings.Builder, in *Instruction) {
	switch in.Kind {
	case OpConstInt:
		fmt.Fprintf(sb, "%s = const %s %d", val(in.Res), in.Typ, in.Imm)
	case OpParam:
		fmt.Fprintf(sb, "%s = param %d", val(in.Res), in.Imm)
	case OpAdd, OpSub, OpAnd, OpOr, OpXor, OpShl, OpLshr, OpAshr, OpMul:
		fmt.Fprintf(sb, "%s = %s %s %s, %s", val(in.Res), kindNames[in.Kind], in.Typ, val(in.Args[0]), val(in.Args[1]))
	case OpICmp:
		fmt.Fprintf(sb, "%s = icmp %s %s, %s", val(in.Res), predNames[in.Pred], val(in.Args[0]), val(in.Args[1]))
	case OpTrunc, OpZext, OpSext, OpBitcast, OpIntToPtr, OpPtrToInt:
		fmt.Fprintf(sb, "%s = %s %s %s", val(in.Res), castNames[in.Kind], in.Typ, val(in.Args[0]))
	case OpGlobalAddr:
		fmt.Fprintf(sb, "%s = addr @%s", val(in.Res), in.Global.Name)
	case OpGEP:
		fmt.Fprintf(sb, "%s = gep %s, %d", val(in.Res), val(in.Args[0]), in.Imm)
	case OpLoad:
		fmt.Fprintf(sb, "%s = load %s, %s", val(in.Res), in.Typ, val(in.Args[0]))
	case OpStore:
		fmt.Fprintf(sb, "store %s, %s", val(in.Args[0]), val(in.Args[1]))
	case OpCall:
		name := "?"
		if in.Callee != nil {
			name = in.Callee.Name
		} else if in.Extern != nil {
			name = in.Extern.Name
		}
		if in.Res.Valid() {
			fmt.Fprintf(sb, "%s = call @%s(", val(in.Res), name)
		} else {
			fmt.Fprintf(sb, "call @%s(", name)
		}
		for i, a := range in.Args {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(val(a))
		}
		sb.WriteString(")")
	case OpBr:
		fmt.Fprintf(sb, "br %s", in.Targets[0].Name)
	case OpBrCond:
		fmt.Fprintf(sb, "br %s, %s, %s", val(in.Args[0]), in.Targets[0].Name, in.Targets[1].Name)
	case OpSwitch:
		fmt.Fprintf(sb, "switch %s, default %s [", val(in.Args[0]), in.Targets[0].Name)
		for i, c := range in.Cases {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(sb, "%d -> %s", c.Value, c.Target.Name)
		}
		sb.WriteString("]")
	case OpRet:
		fmt.Fprintf(sb, "ret %s", val(in.Args[0]))
	case OpRetVoid:
		sb.WriteString("ret void")
	case OpFence:
		sb.WriteString("fence acq_rel")
	case OpUnreachable:
		sb.WriteString("unreachable")
	default:
		fmt.Fprintf(sb, "<op %d>", in.Kind)
	}
	if in.Comment != "" {
		fmt.Fprintf(sb, " ; %s", in.Comment)
	}
}
