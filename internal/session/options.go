// Package session owns the single translation-session value: the
// Options, Logger, shared constants, and the libc import trampoline's
// synthetic-address counter that every other component borrows a
// non-owning reference to.
package session

import (
	"fmt"

	"github.com/rvsbt/sbt/internal/sbterr"
)

// RegMode selects one of the three register-file modes.
type RegMode int

const (
	RegGlobals RegMode = iota
	RegLocals
	RegABI
)

func (m RegMode) String() string {
	switch m {
	case RegGlobals:
		return "globals"
	case RegLocals:
		return "locals"
	case RegABI:
		return "abi"
	default:
		return "unknown"
	}
}

// ParseRegMode parses a --regs flag value.
func ParseRegMode(s string) (RegMode, error) {
	switch s {
	case "globals":
		return RegGlobals, nil
	case "locals":
		return RegLocals, nil
	case "abi":
		return RegABI, nil
	default:
		return 0, fmt.Errorf("unsupported register mode: %s (supported: globals, locals, abi)", s)
	}
}

// Options is the flat configuration struct for one translation run,
// covering every CLI flag.
type Options struct {
	Inputs []string
	Output string

	GenScHandler bool
	Test         bool
	Regs         RegMode
	StackSize    uint64
	UseLibc      bool
	A2S          string

	HardFloatABI         bool
	OptStack             bool
	SymBoundsCheck       bool
	EnableFCSR           bool
	EnableFCVTValidation bool
	SyncOnExternalCalls  bool
	SyncFRegs            bool
	ICallIntOnly         bool
	CommentedAsm         bool
	LogFile              string
}

// DefaultStackSize is used when --stack-size is not given.
const DefaultStackSize = 8 * 1024 * 1024

// Validate rejects unsupported combinations of register mode and float
// ABI with a clear configuration error rather than silently degrading.
func (o *Options) Validate() error {
	if o.HardFloatABI && o.Regs != RegABI {
		return sbterr.New(sbterr.CategoryInternal,
			"--hard-float-abi requires --regs=abi, got --regs=%s", o.Regs)
	}
	if o.GenScHandler && o.Output == "" {
		return sbterr.New(sbterr.CategoryInternal, "--gen-sc-handler requires -o")
	}
	if o.StackSize == 0 {
		o.StackSize = DefaultStackSize
	}
	return nil
}

// Dump renders the options for --log-file diagnostics.
func (o *Options) Dump() string {
	return fmt.Sprintf("Options:\nregs=%s\nuseLibc=%t\nstackSize=%d\nhardFloatABI=%t\n",
		o.Regs, o.UseLibc, o.StackSize, o.HardFloatABI)
}
