// Completion: 100% - structural verification complete
package ir

import "fmt"

// Verify checks the module's structural invariants: every function has
// at least one block, every block ends in exactly one terminator, and
// every branch target belongs to the same function.
func Verify(m *Module) error {
	for _, f := range m.Funcs {
		if len(f.Blocks) == 0 {
			return fmt.Errorf("function @%s has no blocks", f.Name)
		}
		blockSet := make(map[*BasicBlock]bool, len(f.Blocks))
		for _, bb := range f.Blocks {
			blockSet[bb] = true
		}
		for _, bb := range f.Blocks {
			if len(bb.Instrs) == 0 {
				return fmt.Errorf("function @%s: block %s is empty", f.Name, bb.Name)
			}
			if !bb.HasTerminator() {
				return fmt.Errorf("function @%s: block %s has no terminator", f.Name, bb.Name)
			}
			for i, in := range bb.Instrs {
				if isTerminator(in.Kind) && i != len(bb.Instrs)-1 {
					return fmt.Errorf("function @%s: block %s has a terminator before its last instruction", f.Name, bb.Name)
				}
				for _, tgt := range in.Targets {
					if tgt == nil {
						return fmt.Errorf("function @%s: block %s has a nil branch target", f.Name, bb.Name)
					}
					if !blockSet[tgt] {
						return fmt.Errorf("function @%s: block %s targets foreign block %s", f.Name, bb.Name, tgt.Name)
					}
				}
				for _, c := range in.Cases {
					if c.Target == nil || !blockSet[c.Target] {
						return fmt.Errorf("function @%s: block %s has a bad switch case target", f.Name, bb.Name)
					}
				}
			}
		}
	}
	return nil
}

func isTerminator(k Kind) bool {
	switch k {
	case OpBr, OpBrCond, OpSwitch, OpRet, OpRetVoid, OpUnreachable:
		return true
	default:
		return false
	}
}
