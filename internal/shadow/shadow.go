// Package shadow builds the shadow image and guest stack globals: a
// single concatenated byte array covering every loadable guest section,
// 4-byte aligned, plus a pre-allocated guest stack byte array.
package shadow

import (
	"fmt"

	"github.com/rvsbt/sbt/internal/elfobj"
	"github.com/rvsbt/sbt/internal/ir"
	"github.com/rvsbt/sbt/internal/sbterr"
)

// Image is the built shadow memory: a global byte array plus the
// per-section offset map recorded directly on each elfobj.Section
// (ShadowOffs).
type Image struct {
	Global *ir.Global
	Size   int
}

func align4(n int) int { return (n + 3) &^ 3 }

// Build lays out sections in declaration order, each preceded by 0-byte
// padding to a 4-byte boundary, and declares the resulting byte array as
// the module's "ShadowMemory" global. BSS/common sections are reserved as
// zeros.
//
// Invariant enforced: for every section s, image[s.ShadowOffs :
// s.ShadowOffs+s.Size] == s's own contents, and shadowOffs+size <=
// len(image).
func Build(mod *ir.Module, sections []*elfobj.Section) (*Image, error) {
	total := 0
	for _, s := range sections {
		total = align4(total)
		s.ShadowOffs = uint32(total)
		total += int(s.Size)
	}

	buf := make([]byte, total)
	for _, s := range sections {
		contents, err := s.Contents()
		if err != nil {
			return nil, sbterr.Wrap(sbterr.CategoryIO, err, "reading section %s for shadow image", s.Name)
		}
		if int(s.ShadowOffs)+len(contents) > len(buf) {
			return nil, sbterr.New(sbterr.CategoryInternal,
				"section %s shadow range out of bounds: offs=%d size=%d image=%d",
				s.Name, s.ShadowOffs, len(contents), len(buf))
		}
		copy(buf[s.ShadowOffs:], contents)
	}

	g := mod.DeclareGlobal(&ir.Global{Name: "ShadowMemory", Ty: ir.I8, Size: total, Init: buf})
	return &Image{Global: g, Size: total}, nil
}

// AddressOf returns the byte offset into the shadow image of `offset`
// bytes into section s, rejecting symbol offsets past the section end.
func AddressOf(s *elfobj.Section, offset uint32) (uint32, error) {
	if offset >= s.Size && s.Size != 0 {
		return 0, sbterr.New(sbterr.CategoryRelocation,
			"out of bounds relocation: symbol offset %d >= section %s size %d", offset, s.Name, s.Size)
	}
	return s.ShadowOffs + offset, nil
}

// BuildStack declares the "Stack" global byte array serving as the
// guest stack.
func BuildStack(mod *ir.Module, size uint64) *ir.Global {
	return mod.DeclareGlobal(&ir.Global{Name: "Stack", Ty: ir.I8, Size: int(size), Init: make([]byte, size)})
}

// Describe renders a human-readable layout summary for verbose
// diagnostics.
func Describe(img *Image, sections []*elfobj.Section) string {
	s := fmt.Sprintf("=== Shadow Image (size=0x%x) ===\n", img.Size)
	for _, sec := range sections {
		s += fmt.Sprintf("  %s: shadowOffs=0x%x size=%d\n", sec.Name, sec.ShadowOffs, sec.Size)
	}
	return s
}
