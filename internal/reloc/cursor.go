// Package reloc implements the relocation cursor: a stateful iterator
// that converts guest immediates into symbolic IR values at translation
// time.
package reloc

import (
	"github.com/rvsbt/sbt/internal/elfobj"
	"github.com/rvsbt/sbt/internal/sbterr"
	"github.com/rvsbt/sbt/internal/session"
)

// Kind classifies what a resolved relocation points at.
type Kind int

const (
	KindExternalFunc Kind = iota
	KindInternalFunc
	KindData
)

// Importer resolves an external symbol name to its synthetic address
// through the libc import trampoline.
type Importer interface {
	ImportExternal(name string) (uint32, error)
}

// Resolved is what Resolve hands back to the caller to turn into an IR
// value.
type Resolved struct {
	Kind       Kind
	Mask       uint32
	Addr       uint32 // full resolved address, before masking
	MaskedAddr uint32 // valid for KindExternalFunc/KindInternalFunc
	ShadowOffs uint32 // valid for KindData: offset into the shadow image
	SymbolName string
	IsLO       bool
	Describe   string // "%hi(name) = 0x..." / "%lo(name) = 0x..." trace
}

// Cursor is a single-writer iterator over one section's relocation list,
// sorted ascending by offset. A fresh Cursor must be created per section.
type Cursor struct {
	relocs []*elfobj.Relocation
	idx    int // ri
	rlast  int // rlast

	next      uint32
	nextValid bool
}

// New creates a cursor over relocs, which must already be sorted
// ascending by Offset (elfobj.Load and elfobj.NewObject sort each list by
// Offset).
func New(relocs []*elfobj.Relocation) *Cursor {
	return &Cursor{relocs: relocs}
}

func (c *Cursor) advance(addr uint32, hadNext bool) {
	c.rlast = c.idx
	reladdr := addr
	if hadNext {
		reladdr = addr - session.InstructionSize
	}
	for c.idx < len(c.relocs) && c.relocs[c.idx].Offset == reladdr {
		c.idx++
	}
}

// Resolve classifies and consumes the relocation applying to the
// instruction at guest address addr. A nil, nil result means no
// relocation applies at addr.
func (c *Cursor) Resolve(addr uint32, imp Importer) (*Resolved, error) {
	hadNext := c.nextValid
	var rel *elfobj.Relocation

	if hadNext {
		if addr != c.next {
			return nil, sbterr.At(sbterr.CategoryRelocation, addr, "unexpected relocation: cursor out of order")
		}
		c.nextValid = false
		rel = c.relocs[c.idx]
	} else {
		if c.idx >= len(c.relocs) {
			return nil, nil
		}
		rel = c.relocs[c.idx]
		if rel.Offset != addr {
			return nil, nil
		}
	}

	var isLO, isNextToo bool
	realSym := rel.Symbol
	addend := rel.Addend

	switch rel.Type {
	case elfobj.R_RISCV_CALL:
		if hadNext {
			isLO = true
		} else {
			isNextToo = true
		}
	case elfobj.R_RISCV_PCREL_HI20, elfobj.R_RISCV_HI20:
		// HI half; nothing more to classify.
	case elfobj.R_RISCV_PCREL_LO12_I:
		isLO = true
		if c.rlast >= len(c.relocs) {
			return nil, sbterr.At(sbterr.CategoryRelocation, addr, "PCREL_LO12_I with no preceding HI20")
		}
		hi := c.relocs[c.rlast]
		realSym = hi.Symbol
		addend = hi.Addend
	case elfobj.R_RISCV_LO12_I:
		isLO = true
	case elfobj.R_RISCV_ALIGN, elfobj.R_RISCV_BRANCH:
		c.advance(addr, hadNext)
		return nil, nil
	default:
		return nil, sbterr.At(sbterr.CategoryRelocation, addr, "unknown relocation type: %s", rel.Type)
	}

	if realSym == nil {
		return nil, sbterr.At(sbterr.CategoryRelocation, addr, "relocation has no symbol")
	}

	isFunction := realSym.Section != nil && realSym.Section.IsText()

	var resolvedVal uint32
	switch {
	case realSym.IsExternal():
		// handled below
	case isFunction:
		resolvedVal = realSym.Addr + uint32(addend)
	case realSym.Section != nil:
		if realSym.Addr >= realSym.Section.Size && realSym.Section.Size != 0 {
			return nil, sbterr.At(sbterr.CategoryRelocation, addr,
				"out of bounds relocation: symbol %s addr=%d section size=%d", realSym.Name, realSym.Addr, realSym.Section.Size)
		}
		resolvedVal = realSym.Addr + realSym.Section.ShadowOffs + uint32(addend)
	default:
		return nil, sbterr.At(sbterr.CategoryRelocation, addr, "relocation symbol %s has neither section nor external marker", realSym.Name)
	}

	if isNextToo {
		c.next = addr + session.InstructionSize
		c.nextValid = true
	} else {
		c.advance(addr, hadNext)
	}

	var mask uint32 = 0xFFFFF000
	if isLO {
		mask = 0xFFF
	}

	prefix := "%hi("
	if isLO {
		prefix = "%lo("
	}
	describe := prefix + realSym.Name + ") = " + hex32(resolvedVal)

	if realSym.IsExternal() {
		extAddr, err := imp.ImportExternal(realSym.Name)
		if err != nil {
			return nil, sbterr.WrapAt(sbterr.CategoryLibc, addr, err, "importing external symbol %s", realSym.Name)
		}
		return &Resolved{Kind: KindExternalFunc, Mask: mask, Addr: extAddr, MaskedAddr: extAddr & mask, SymbolName: realSym.Name, IsLO: isLO, Describe: describe}, nil
	}
	if isFunction {
		return &Resolved{Kind: KindInternalFunc, Mask: mask, Addr: resolvedVal, MaskedAddr: resolvedVal & mask, SymbolName: realSym.Name, IsLO: isLO, Describe: describe}, nil
	}
	return &Resolved{Kind: KindData, Mask: mask, Addr: resolvedVal, ShadowOffs: resolvedVal, SymbolName: realSym.Name, IsLO: isLO, Describe: describe}, nil
}

// SeekTo discards every relocation whose offset precedes addr. Used when
// an instruction range is re-translated with a fresh cursor: the new
// cursor must start at the range's first address, not the section start.
func (c *Cursor) SeekTo(addr uint32) {
	for c.idx < len(c.relocs) && c.relocs[c.idx].Offset < addr {
		c.idx++
	}
	c.rlast = c.idx
}

func hex32(v uint32) string {
	const digits = "0123456789abcdef"
	buf := [10]byte{'0', 'x'}
	for i := 0; i < 8; i++ {
		buf[9-i] = digits[(v>>(4*i))&0xf]
	}
	return string(buf[:])
}
