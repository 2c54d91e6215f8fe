package shadow

import (
	"bytes"
	"testing"

	"github.com/rvsbt/sbt/internal/elfobj"
	"github.com/rvsbt/sbt/internal/ir"
)

// TestBuildLayout checks the image layout invariant: every section's
// bytes appear at its shadow offset, gaps are zero and shorter than the
// alignment
func TestBuildLayout(t *testing.T) {
	mod := ir.NewModule()
	secs := []*elfobj.Section{
		elfobj.NewSection(".text", elfobj.KindText, []byte{1, 2, 3, 4, 5}),
		elfobj.NewSection(".data", elfobj.KindData, []byte{9, 8, 7}),
		elfobj.NewSection(".bss", elfobj.KindBSS, make([]byte, 6)),
	}

	img, err := Build(mod, secs)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	g, ok := mod.Global("ShadowMemory")
	if !ok {
		t.Fatal("ShadowMemory global not declared")
	}
	if g != img.Global {
		t.Error("image global mismatch")
	}

	for _, s := range secs {
		if s.ShadowOffs%4 != 0 {
			t.Errorf("section %s shadow offset %#x not 4-aligned", s.Name, s.ShadowOffs)
		}
		if int(s.ShadowOffs)+int(s.Size) > img.Size {
			t.Errorf("section %s overruns the image", s.Name)
		}
		contents, err := s.Contents()
		if err != nil {
			t.Fatalf("contents of %s: %v", s.Name, err)
		}
		got := g.Init[s.ShadowOffs : int(s.ShadowOffs)+len(contents)]
		if !bytes.Equal(got, contents) {
			t.Errorf("section %s image bytes = %v, want %v", s.Name, got, contents)
		}
	}

	// .text is 5 bytes, so .data starts at 8: a 3-byte zero gap.
	if secs[1].ShadowOffs != 8 {
		t.Errorf(".data shadow offset = %d, want 8", secs[1].ShadowOffs)
	}
	for i := 5; i < 8; i++ {
		if g.Init[i] != 0 {
			t.Errorf("gap byte %d = %d, want 0", i, g.Init[i])
		}
	}
}

// TestAddressOf checks offset arithmetic and the out-of-bounds error
func TestAddressOf(t *testing.T) {
	mod := ir.NewModule()
	secs := []*elfobj.Section{
		elfobj.NewSection(".text", elfobj.KindText, make([]byte, 8)),
		elfobj.NewSection(".data", elfobj.KindData, make([]byte, 4)),
	}
	if _, err := Build(mod, secs); err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	off, err := AddressOf(secs[1], 2)
	if err != nil {
		t.Fatalf("AddressOf failed: %v", err)
	}
	if off != secs[1].ShadowOffs+2 {
		t.Errorf("AddressOf = %d, want %d", off, secs[1].ShadowOffs+2)
	}

	if _, err := AddressOf(secs[1], 16); err == nil {
		t.Fatal("expected out-of-bounds error")
	}
}

// TestBuildStack checks the guest stack global
func TestBuildStack(t *testing.T) {
	mod := ir.NewModule()
	g := BuildStack(mod, 4096)
	if g.Name != "Stack" || g.Size != 4096 {
		t.Errorf("stack global = %s size %d", g.Name, g.Size)
	}
}
