// Package sbterr defines the translator's error taxonomy and the
// "sbt: error: ..." diagnostic formatting used by cmd/sbt.
package sbterr

import (
	"errors"
	"fmt"
)

// Category classifies the kind of failure a component raised.
type Category int

const (
	CategoryDecode Category = iota
	CategoryRelocation
	CategoryLayout
	CategoryLibc
	CategoryVerify
	CategoryIO
	CategoryInternal
)

func (c Category) String() string {
	switch c {
	case CategoryDecode:
		return "decode"
	case CategoryRelocation:
		return "relocation"
	case CategoryLayout:
		return "layout"
	case CategoryLibc:
		return "libc"
	case CategoryVerify:
		return "verify"
	case CategoryIO:
		return "io"
	case CategoryInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error is a single translation failure. Addr is the guest PC that was
// being processed when the error occurred, or 0 if not applicable.
type Error struct {
	Category Category
	Addr     uint32
	HasAddr  bool
	Message  string
	Cause    error
}

func (e *Error) Error() string {
	if e.HasAddr {
		if e.Cause != nil {
			return fmt.Sprintf("%s: %s (at 0x%08x): %v", e.Category, e.Message, e.Addr, e.Cause)
		}
		return fmt.Sprintf("%s: %s (at 0x%08x)", e.Category, e.Message, e.Addr)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Category, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Category, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New creates an address-less error of the given category.
func New(cat Category, format string, args ...interface{}) *Error {
	return &Error{Category: cat, Message: fmt.Sprintf(format, args...)}
}

// At creates an error tied to a guest address.
func At(cat Category, addr uint32, format string, args ...interface{}) *Error {
	return &Error{Category: cat, Addr: addr, HasAddr: true, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause to a new error of the given category.
func Wrap(cat Category, cause error, format string, args ...interface{}) *Error {
	return &Error{Category: cat, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// WrapAt attaches a cause to a new address-tied error.
func WrapAt(cat Category, addr uint32, cause error, format string, args ...interface{}) *Error {
	return &Error{Category: cat, Addr: addr, HasAddr: true, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Format renders err as the CLI diagnostic line:
// "sbt: error: <message>" with a "Cause:" chain for wrapped errors.
func Format(err error) string {
	s := "sbt: error: " + err.Error()
	var sbtErr *Error
	if errors.As(err, &sbtErr) {
		cause := sbtErr.Cause
		for cause != nil {
			s += "\nCause: " + cause.Error()
			var next *Error
			if errors.As(cause, &next) {
				cause = next.Cause
			} else {
				cause = errors.Unwrap(cause)
			}
		}
	}
	return s
}

// Invariant panics if cond is false. This is reserved for assertion-class
// internal invariants (BB not found, empty BB map, missing .text) which
// are programmer bugs, not user-facing errors.
func Invariant(cond bool, format string, args ...interface{}) {
	if !cond {
		panic(fmt.Sprintf("sbt: internal invariant violated: "+format, args...))
	}
}
