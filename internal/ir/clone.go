package ir

import (
	"maps"
	"slices"
)

// Clone returns a deep copy of the module. Ids are preserved.
func (m *Module) Clone() *Module {
	c := &Module{
		Name:    m.Name,
		Structs: slices.Clone(m.Structs),
	}

	for _, g := range m.Globals {
		c.Globals = append(c.Globals, &Global{Name: g.Name, Type: g.Type, Init: slices.Clone(g.Init)})
	}

	for _, e := range m.Externs {
		c.Externs = append(c.Externs, &Extern{Name: e.Name, Params: slices.Clone(e.Params), Result: e.Result})
	}

	for _, f := range m.Funcs {
		c.Funcs = append(c.Funcs, f.clone(c))
	}

	return c
}

func (f *Function) clone(m *Module) *Function {
	c := &Function{
		Name:   f.Name,
		Params: slices.Clone(f.Params),
		Result: f.Result,
		Entry:  f.Entry,
		Module: m,
		blocks: make([]*Block, len(f.blocks)),
		instrs: make([]*Instr, len(f.instrs)),
		values: make([]*Value, len(f.values)),
		consts: maps.Clone(f.consts),
	}

	for i, b := range f.blocks {
		if b == nil {
			continue
		}

		c.blocks[i] = &Block{
			ID:     b.ID,
			Label:  b.Label,
			Instrs: slices.Clone(b.Instrs),
			Preds:  slices.Clone(b.Preds),
			Succs:  slices.Clone(b.Succs),
		}
	}

	for i, in := range f.instrs {
		if in == nil {
			continue
		}

		cp := *in
		cp.Args = slices.Clone(in.Args)
		cp.Targets = slices.Clone(in.Targets)
		cp.Cases = slices.Clone(in.Cases)
		cp.Incoming = slices.Clone(in.Incoming)
		cp.Meta = maps.Clone(in.Meta)

		c.instrs[i] = &cp
	}

	for i, v := range f.values {
		if v == nil {
			continue
		}

		cp := *v
		c.values[i] = &cp
	}

	return c
}
