package session

import (
	"github.com/rvsbt/sbt/internal/ir"
)

// ExternKind classifies a synthetic external-address allocation.
type ExternKind int

const (
	ExternFunction ExternKind = iota
	ExternData
)

// ExternSymbol is one entry in the synthetic external-function address
// space.
type ExternSymbol struct {
	Name string
	Addr uint32
	Kind ExternKind
}

// Session is the single owning value every component borrows a
// non-owning reference to: options, logger, the output module, and the
// synthetic external-address counter.
type Session struct {
	Opts *Options
	Log  *Logger
	Mod  *ir.Module

	nextExtAddr uint32
	externs     map[string]*ExternSymbol

	// FuncsByAddr indexes every translated internal guest function by its
	// entry guest address; ICaller's generated switch walks this map.
	FuncsByAddr map[uint32]*ir.Function
}

// New creates a Session for one translation run.
func New(opts *Options, log *Logger) *Session {
	return &Session{
		Opts:        opts,
		Log:         log,
		Mod:         ir.NewModule(),
		nextExtAddr: FirstExtFuncAddr,
		externs:     make(map[string]*ExternSymbol),
		FuncsByAddr: make(map[uint32]*ir.Function),
	}
}

// AllocExtern assigns a fresh synthetic address to name if it has not
// already been imported, incrementing the counter by 4 bytes.
// Re-importing the same name returns the existing record.
func (s *Session) AllocExtern(name string, kind ExternKind) *ExternSymbol {
	if existing, ok := s.externs[name]; ok {
		return existing
	}
	sym := &ExternSymbol{Name: name, Addr: s.nextExtAddr, Kind: kind}
	s.nextExtAddr += 4
	s.externs[name] = sym
	return sym
}

func (s *Session) Extern(name string) (*ExternSymbol, bool) {
	sym, ok := s.externs[name]
	return sym, ok
}

// AllExterns returns every imported external symbol, used by ICaller's
// generated switch to add a case per imported symbol.
func (s *Session) AllExterns() []*ExternSymbol {
	out := make([]*ExternSymbol, 0, len(s.externs))
	for _, sym := range s.externs {
		out = append(out, sym)
	}
	return out
}

// IsExternalAddr reports whether addr lies in the synthetic external
// address space.
func IsExternalAddr(addr uint32) bool {
	return addr >= FirstExtFuncAddr
}
