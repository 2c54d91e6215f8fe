// Completion: 100% - module/section/function drive complete
package translate

import (
	"sort"

	"github.com/rvsbt/sbt/internal/elfobj"
	"github.com/rvsbt/sbt/internal/ir"
	"github.com/rvsbt/sbt/internal/regfile"
	"github.com/rvsbt/sbt/internal/reloc"
	"github.com/rvsbt/sbt/internal/rvdecode"
	"github.com/rvsbt/sbt/internal/sbterr"
	"github.com/rvsbt/sbt/internal/session"
	"github.com/rvsbt/sbt/internal/shadow"
	"github.com/rvsbt/sbt/internal/syscallabi"
)

// Translator owns one whole translation run: it walks every input
// object's sections and symbols, turns each function symbol into an IR
// function, and finishes by generating the indirect-call dispatcher.
type Translator struct {
	sess *session.Session
	imp  *LibcImporter

	g     *regfile.GlobalRegs
	img   *shadow.Image
	stack *ir.Global

	icaller    *ir.Function
	isExternal *ir.Function
	rvSyscall  *ir.Function

	abort                   *ir.ExternFunc
	cycles, timeFn, instret *ir.ExternFunc
	getArgc, getArgv        *ir.ExternFunc
	syscallInit             *ir.ExternFunc

	a2s     *A2SWriter
	objects []*elfobj.Object
}

// New creates a Translator bound to one session.
func New(sess *session.Session) *Translator {
	t := &Translator{sess: sess}
	t.imp = NewLibcImporter(sess)
	if sess.Opts.A2S != "" {
		t.a2s = NewA2SWriter()
	}
	return t
}

// AddObject queues one parsed input object for translation.
func (t *Translator) AddObject(obj *elfobj.Object) {
	t.objects = append(t.objects, obj)
}

// A2S returns the address-to-source sidecar writer, or nil when --a2s
// was not requested.
func (t *Translator) A2S() *A2SWriter { return t.a2s }

// Image returns the built shadow image; valid after Translate.
func (t *Translator) Image() *shadow.Image { return t.img }

// funcRec is one discovered guest function awaiting body translation.
type funcRec struct {
	obj  *elfobj.Object
	sec  *elfobj.Section
	fn   *ir.Function
	name string
	addr uint32
	end  uint32
}

// Translate runs the whole pipeline over the queued objects and leaves
// the finished module on the session.
func (t *Translator) Translate() error {
	mod := t.sess.Mod

	t.g = regfile.NewGlobalRegs(mod)

	var secs []*elfobj.Section
	for _, obj := range t.objects {
		secs = append(secs, obj.Sections...)
	}
	img, err := shadow.Build(mod, secs)
	if err != nil {
		return err
	}
	t.img = img
	t.sess.Log.Verbosef("shadow", "%s", shadow.Describe(img, secs))

	t.stack = shadow.BuildStack(mod, t.sess.Opts.StackSize)

	sc := syscallabi.Generate(mod, t.g)
	t.rvSyscall = sc.RVSyscall
	t.abort = syscallabi.DeclareAbort(mod)
	t.cycles, t.timeFn, t.instret = syscallabi.DeclareIntrinsics(mod)
	t.getArgc = mod.DeclareExtern(&ir.ExternFunc{Name: "sbt_get_argc", Ret: ir.I32})
	t.getArgv = mod.DeclareExtern(&ir.ExternFunc{Name: "sbt_get_argv", Ret: ir.Ptr})
	t.syscallInit = mod.DeclareExtern(&ir.ExternFunc{Name: "rv_syscall_init"})

	if !t.sess.Opts.HardFloatABI {
		t.icaller = DeclareICaller(mod)
	}
	t.isExternal = DeclareIsExternal(mod)

	recs, err := t.declareFunctions()
	if err != nil {
		return err
	}

	if err := t.translateBodies(recs); err != nil {
		return err
	}

	if t.icaller != nil {
		var diag *ir.ExternFunc
		var fmtGlobal *ir.Global
		if t.sess.Opts.UseLibc {
			if _, err := t.imp.ImportExternal("printf"); err != nil {
				return err
			}
			diag, _ = t.imp.Lookup("printf")
			msg := append([]byte("sbt: unknown icaller target: 0x%x\n"), 0)
			fmtGlobal = mod.DeclareGlobal(&ir.Global{
				Name: "icaller_diag_fmt", Ty: ir.I8, Size: len(msg), Init: msg, Const: true,
			})
		}
		BuildICaller(t.icaller, t.sess, t.g, t.abort, diag, fmtGlobal)
	}

	if err := ir.Verify(mod); err != nil {
		return sbterr.Wrap(sbterr.CategoryVerify, err, "emitted IR failed verification")
	}
	return nil
}

// declareFunctions walks every text section's function symbols in
// ascending address order, declaring an IR function for each. All
// declarations happen before any body is translated so forward calls
// always find their callee.
func (t *Translator) declareFunctions() ([]funcRec, error) {
	var recs []funcRec
	for _, obj := range t.objects {
		hasText := false
		for _, sec := range obj.Sections {
			if !sec.IsText() {
				continue
			}
			hasText = true

			var syms []*elfobj.Symbol
			for _, sym := range obj.Symbols {
				if sym.Section == sec && sym.IsFunc && sym.Name != "" {
					syms = append(syms, sym)
				}
			}
			sort.Slice(syms, func(i, j int) bool { return syms[i].Addr < syms[j].Addr })

			for i, sym := range syms {
				end := sec.Size
				if i+1 < len(syms) {
					end = syms[i+1].Addr
				}
				end = (end + 3) &^ 3

				ret := ir.Void
				if sym.Name == "main" {
					ret = ir.I32
				}
				fn := ir.NewFunction(sym.Name, nil, ret)
				t.sess.Mod.DeclareFunction(fn)
				t.sess.FuncsByAddr[sym.Addr] = fn

				recs = append(recs, funcRec{obj: obj, sec: sec, fn: fn, name: sym.Name, addr: sym.Addr, end: end})
			}
		}
		sbterr.Invariant(hasText, "input object has no text section")
	}
	return recs, nil
}

// translateBodies drives body translation section by section; functions
// within one section share a relocation cursor and a padding-state
// decoder, consumed in ascending address order.
func (t *Translator) translateBodies(recs []funcRec) error {
	type secKey struct {
		obj *elfobj.Object
		sec *elfobj.Section
	}
	bySec := make(map[secKey][]funcRec)
	var order []secKey
	for _, rec := range recs {
		key := secKey{rec.obj, rec.sec}
		if _, ok := bySec[key]; !ok {
			order = append(order, key)
		}
		bySec[key] = append(bySec[key], rec)
	}

	for _, key := range order {
		group := bySec[key]
		sort.Slice(group, func(i, j int) bool { return group[i].addr < group[j].addr })

		contents, err := key.sec.Contents()
		if err != nil {
			return sbterr.Wrap(sbterr.CategoryIO, err, "reading section %s", key.sec.Name)
		}
		secRelocs := key.obj.Relocs[key.sec.Name]
		cursor := reloc.New(secRelocs)
		dec := &rvdecode.Decoder{}

		for _, rec := range group {
			t.sess.Log.Verbosef("translate", "function %s [0x%x, 0x%x)", rec.name, rec.addr, rec.end)
			ft := newFuncTranslator(t, rec.fn, key.sec, contents, rec.name, rec.addr, rec.end, cursor, dec, secRelocs)
			if err := ft.Translate(); err != nil {
				return err
			}
		}
	}
	return nil
}

// GenerateSyscallHandler emits only the syscall handler module: the
// guest register globals plus rv_syscall and its host stubs.
func GenerateSyscallHandler(sess *session.Session) {
	g := regfile.NewGlobalRegs(sess.Mod)
	syscallabi.Generate(sess.Mod, g)
}
