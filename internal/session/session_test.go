package session

import (
	"testing"
)

// TestAllocExternStride checks the 4-byte synthetic address stride and
// idempotent re-import
func TestAllocExternStride(t *testing.T) {
	s := New(&Options{}, nil)

	a := s.AllocExtern("printf", ExternFunction)
	b := s.AllocExtern("malloc", ExternFunction)
	if a.Addr != FirstExtFuncAddr {
		t.Errorf("first extern addr = %#x, want %#x", a.Addr, uint32(FirstExtFuncAddr))
	}
	if b.Addr != a.Addr+4 {
		t.Errorf("second extern addr = %#x, want %#x", b.Addr, a.Addr+4)
	}

	again := s.AllocExtern("printf", ExternFunction)
	if again != a {
		t.Error("re-importing a symbol allocated a new record")
	}
	if len(s.AllExterns()) != 2 {
		t.Errorf("extern count = %d, want 2", len(s.AllExterns()))
	}
}

// TestIsExternalAddr checks the address-space boundary
func TestIsExternalAddr(t *testing.T) {
	if IsExternalAddr(0x1000) {
		t.Error("guest code address classified as external")
	}
	if !IsExternalAddr(FirstExtFuncAddr) {
		t.Error("first synthetic address not classified as external")
	}
}

// TestParseRegMode checks flag parsing for every mode
func TestParseRegMode(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want RegMode
	}{
		{"globals", RegGlobals},
		{"locals", RegLocals},
		{"abi", RegABI},
	} {
		got, err := ParseRegMode(tc.in)
		if err != nil || got != tc.want {
			t.Errorf("ParseRegMode(%q) = %v, %v", tc.in, got, err)
		}
	}
	if _, err := ParseRegMode("fast"); err == nil {
		t.Error("unknown mode accepted")
	}
}

// TestValidateRejectsBadCombos checks the configuration-error policy
func TestValidateRejectsBadCombos(t *testing.T) {
	o := &Options{HardFloatABI: true, Regs: RegLocals}
	if err := o.Validate(); err == nil {
		t.Error("hard-float ABI with locals mode accepted")
	}

	o = &Options{HardFloatABI: true, Regs: RegABI}
	if err := o.Validate(); err != nil {
		t.Errorf("hard-float ABI with abi mode rejected: %v", err)
	}

	o = &Options{GenScHandler: true}
	if err := o.Validate(); err == nil {
		t.Error("gen-sc-handler without an output path accepted")
	}

	o = &Options{}
	if err := o.Validate(); err != nil {
		t.Fatalf("default options rejected: %v", err)
	}
	if o.StackSize != DefaultStackSize {
		t.Errorf("stack size default = %d, want %d", o.StackSize, uint64(DefaultStackSize))
	}
}
