package ir

import "github.com/samber/lo"

// Global is a module-level data object placed in the data section.
type Global struct {
	Name string
	Type Type
	Init []byte
}

// Extern is a callee resolved outside the module by the binary emitter.
type Extern struct {
	Name   string
	Params []Type
	Result Type
}

// Module is one compilation unit.
type Module struct {
	Name    string
	Funcs   []*Function
	Structs []Type
	Globals []*Global
	Externs []*Extern
}

func NewModule(name string) *Module {
	return &Module{Name: name}
}

// NewFunction adds an empty function. Use a Builder to populate it.
func (m *Module) NewFunction(name string, params []Param, result Type) *Function {
	f := newFunction(m, name, params, result)
	m.Funcs = append(m.Funcs, f)

	return f
}

func (m *Module) Func(name string) *Function {
	f, _ := lo.Find(m.Funcs, func(f *Function) bool { return f.Name == name })
	return f
}

func (m *Module) Extern(name string) *Extern {
	e, _ := lo.Find(m.Externs, func(e *Extern) bool { return e.Name == name })
	return e
}

func (m *Module) Global(name string) *Global {
	g, _ := lo.Find(m.Globals, func(g *Global) bool { return g.Name == name })
	return g
}

// DeclareExtern registers an external callee. Redeclaration returns the
// existing entry.
func (m *Module) DeclareExtern(name string, params []Type, result Type) *Extern {
	if e := m.Extern(name); e != nil {
		return e
	}

	e := &Extern{Name: name, Params: params, Result: result}
	m.Externs = append(m.Externs, e)

	return e
}

// AddGlobal registers a data object. A nil init means zero-filled.
func (m *Module) AddGlobal(name string, t Type, init []byte) *Global {
	g := &Global{Name: name, Type: t, Init: init}
	m.Globals = append(m.Globals, g)

	return g
}

// AddStruct registers a named struct type.
func (m *Module) AddStruct(t Type) {
	m.Structs = append(m.Structs, t)
}

// Signature returns parameter and result types of a callee, either a module
// function or an extern.
func (m *Module) Signature(name string) (params []Type, result Type, ok bool) {
	if f := m.Func(name); f != nil {
		return lo.Map(f.Params, func(p Param, _ int) Type { return p.Type }), f.Result, true
	}

	if e := m.Extern(name); e != nil {
		return e.Params, e.Result, true
	}

	return nil, Void, false
}
