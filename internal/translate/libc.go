package translate

import (
	"github.com/rvsbt/sbt/internal/ir"
	"github.com/rvsbt/sbt/internal/sbterr"
	"github.com/rvsbt/sbt/internal/session"
)

// libcSymbol describes one function the runtime shim exposes, the
// minimum needed to declare it as an external IR function. This table
// stands in for loading the shim's bitcode module, which belongs to the
// host-side build.
type libcSymbol struct {
	params   []ir.Type
	ret      ir.Type
	isVararg bool
	isData   bool
}

// substitutions is the static soft-float helper substitution table,
// applied before lookup.
var substitutions = map[string]string{
	"__addtf3": "sbt__addtf3",
	"__subtf3": "sbt__subtf3",
	"__multf3": "sbt__multf3",
	"__divtf3": "sbt__divtf3",
	"__eqtf2":  "sbt__eqtf2",
	"__netf2":  "sbt__netf2",
	"__lttf2":  "sbt__lttf2",
	"__getf2":  "sbt__getf2",
}

// libcTable is the known-symbol stand-in for the libc bitcode module.
var libcTable = map[string]libcSymbol{
	"printf":      {params: []ir.Type{ir.Ptr}, ret: ir.I32, isVararg: true},
	"malloc":      {params: []ir.Type{ir.I32}, ret: ir.Ptr},
	"free":        {params: []ir.Type{ir.Ptr}, ret: ir.Void},
	"memcpy":      {params: []ir.Type{ir.Ptr, ir.Ptr, ir.I32}, ret: ir.Ptr},
	"memset":      {params: []ir.Type{ir.Ptr, ir.I32, ir.I32}, ret: ir.Ptr},
	"strlen":      {params: []ir.Type{ir.Ptr}, ret: ir.I32},
	"exit":        {params: []ir.Type{ir.I32}, ret: ir.Void},
	"puts":        {params: []ir.Type{ir.Ptr}, ret: ir.I32},
	"sbt__addtf3": {params: []ir.Type{ir.F128, ir.F128}, ret: ir.F128},
	"sbt__subtf3": {params: []ir.Type{ir.F128, ir.F128}, ret: ir.F128},
	"sbt__multf3": {params: []ir.Type{ir.F128, ir.F128}, ret: ir.F128},
	"sbt__divtf3": {params: []ir.Type{ir.F128, ir.F128}, ret: ir.F128},
	"sbt__eqtf2":  {params: []ir.Type{ir.F128, ir.F128}, ret: ir.I32},
	"sbt__netf2":  {params: []ir.Type{ir.F128, ir.F128}, ret: ir.I32},
	"sbt__lttf2":  {params: []ir.Type{ir.F128, ir.F128}, ret: ir.I32},
	"sbt__getf2":  {params: []ir.Type{ir.F128, ir.F128}, ret: ir.I32},
	"environ":     {isData: true},
}

// LibcImporter assigns a synthetic address on first reference to an
// external symbol and declares the symbol in the output module.
type LibcImporter struct {
	sess *session.Session
}

func NewLibcImporter(sess *session.Session) *LibcImporter {
	return &LibcImporter{sess: sess}
}

// ImportExternal implements reloc.Importer.
func (l *LibcImporter) ImportExternal(name string) (uint32, error) {
	if sub, ok := substitutions[name]; ok {
		name = sub
	}
	entry, ok := libcTable[name]
	if !ok {
		return 0, sbterr.New(sbterr.CategoryLibc, "libc symbol not found: %s", name)
	}

	if entry.isData {
		sym := l.sess.AllocExtern(name, session.ExternData)
		return sym.Addr, nil
	}

	sym := l.sess.AllocExtern(name, session.ExternFunction)
	l.sess.Mod.DeclareExtern(&ir.ExternFunc{Name: name, Params: entry.params, Ret: entry.ret, IsVararg: entry.isVararg})
	return sym.Addr, nil
}

// Lookup returns the declared signature for a libc symbol name, used by
// the Caller to coerce arguments.
func (l *LibcImporter) Lookup(name string) (*ir.ExternFunc, bool) {
	if sub, ok := substitutions[name]; ok {
		name = sub
	}
	e, ok := l.sess.Mod.Externs[name]
	return e, ok
}
