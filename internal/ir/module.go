package ir

// Module is the top-level translation unit: a set of globals, defined
// functions, and external function declarations, corresponding to the
// single emitted IR file.
type Module struct {
	Globals []*Global
	Funcs   []*Function
	Externs map[string]*ExternFunc

	globalIndex map[string]*Global
	funcIndex   map[string]*Function
}

func NewModule() *Module {
	return &Module{
		Externs:     make(map[string]*ExternFunc),
		globalIndex: make(map[string]*Global),
		funcIndex:   make(map[string]*Function),
	}
}

// DeclareGlobal registers a new global byte array or scalar. It is an
// error (invariant violation) to declare the same name twice.
func (m *Module) DeclareGlobal(g *Global) *Global {
	if _, ok := m.globalIndex[g.Name]; ok {
		panic("ir: duplicate global " + g.Name)
	}
	m.Globals = append(m.Globals, g)
	m.globalIndex[g.Name] = g
	return g
}

func (m *Module) Global(name string) (*Global, bool) {
	g, ok := m.globalIndex[name]
	return g, ok
}

// DeclareFunction registers a new defined function.
func (m *Module) DeclareFunction(f *Function) {
	if _, ok := m.funcIndex[f.Name]; ok {
		panic("ir: duplicate function " + f.Name)
	}
	m.Funcs = append(m.Funcs, f)
	m.funcIndex[f.Name] = f
}

func (m *Module) Function(name string) (*Function, bool) {
	f, ok := m.funcIndex[name]
	return f, ok
}

// DeclareExtern registers (or returns the existing) external function
// declaration. Extern declarations are idempotent by name.
func (m *Module) DeclareExtern(e *ExternFunc) *ExternFunc {
	if existing, ok := m.Externs[e.Name]; ok {
		return existing
	}
	m.Externs[e.Name] = e
	return e
}
