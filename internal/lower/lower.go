// Package lower turns a program tree into SSA IR through ir.Builder.
//
// Mutable variables are put into SSA form on the fly while the tree is
// walked: every block records the current definition of each variable and
// phis are placed only where a read reaches a join point. Blocks are sealed
// once all their predecessors are known, and phis that turn out to merge a
// single value are removed right away.
package lower

import (
	"context"
	"strconv"
	"strings"

	"tlog.app/go/tlog"

	"github.com/JoeySoprano420/C.A.S.E.-Programming-Language--sub003/internal/ast"
	"github.com/JoeySoprano420/C.A.S.E.-Programming-Language--sub003/internal/diag"
	"github.com/JoeySoprano420/C.A.S.E.-Programming-Language--sub003/internal/ir"
)

// builtins are declared on first use when the program does not declare them.
var builtins = map[string]struct {
	params []ir.Type
	result ir.Type
}{
	"exit":  {params: []ir.Type{ir.I64}, result: ir.Void},
	"write": {params: []ir.Type{ir.I64, ir.Ptr, ir.I64}, result: ir.I64},
}

type lowerer struct {
	p *ast.Program
	m *ir.Module

	file string
}

// Program lowers p into a new module. file is recorded in instruction
// positions.
func Program(ctx context.Context, p *ast.Program, file string) (m *ir.Module, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "lower program", "name", p.Name)
	defer tr.Finish("err", &err)

	defer func() {
		r := recover()
		if r == nil {
			return
		}

		d, ok := r.(*diag.Error)
		if !ok {
			panic(r)
		}

		m, err = nil, d
	}()

	l := &lowerer{p: p, m: ir.NewModule(p.Name), file: file}

	if err = l.declare(); err != nil {
		return nil, err
	}

	for _, af := range p.Funcs {
		if err = l.function(ctx, af); err != nil {
			return nil, err
		}
	}

	return l.m, nil
}

func (l *lowerer) errf(fn string, pos ast.Pos, format string, args ...any) *diag.Error {
	e := diag.New(diag.KindFrontend, diag.Where{Func: fn}, format, args...)

	if pos.Line != 0 {
		e.Message = strconv.Itoa(pos.Line) + ":" + strconv.Itoa(pos.Col) + ": " + e.Message
	}

	return e
}

func (l *lowerer) parseType(fn string, pos ast.Pos, s string, def ir.Type) (ir.Type, error) {
	if s == "" {
		return def, nil
	}

	t, err := ir.ParseType(s)
	if err != nil {
		return ir.Type{}, l.errf(fn, pos, "%v", err)
	}

	return t, nil
}

// declare registers globals, externs and function signatures so bodies can
// refer to anything regardless of order.
func (l *lowerer) declare() error {
	seen := map[string]ast.Pos{}

	unique := func(name string, pos ast.Pos) error {
		if prev, ok := seen[name]; ok {
			return l.errf("", pos, "%s redeclared, previous declaration at %d:%d", name, prev.Line, prev.Col)
		}

		seen[name] = pos

		return nil
	}

	for _, g := range l.p.Globals {
		if err := unique(g.Name, g.Pos); err != nil {
			return err
		}

		t, err := l.parseType("", g.Pos, g.Type, ir.Array(ir.KindU8, max(1, len(g.Data))))
		if err != nil {
			return err
		}

		if len(g.Data) > t.Size() {
			return l.errf("", g.Pos, "global %s: %d bytes of data do not fit %v", g.Name, len(g.Data), t)
		}

		var init []byte
		if g.Data != "" {
			init = []byte(g.Data)
		}

		l.m.AddGlobal(g.Name, t, init)
	}

	for _, e := range l.p.Externs {
		if err := unique(e.Name, e.Pos); err != nil {
			return err
		}

		params := make([]ir.Type, len(e.Params))

		for i, s := range e.Params {
			t, err := l.parseType("", e.Pos, s, ir.I64)
			if err != nil {
				return err
			}

			params[i] = t
		}

		res, err := l.parseType("", e.Pos, e.Result, ir.Void)
		if err != nil {
			return err
		}

		l.m.DeclareExtern(e.Name, params, res)
	}

	for _, af := range l.p.Funcs {
		if err := unique(af.Name, af.Pos); err != nil {
			return err
		}

		params := make([]ir.Param, len(af.Params))

		for i, p := range af.Params {
			t, err := l.parseType(af.Name, af.Pos, p.Type, ir.I64)
			if err != nil {
				return err
			}

			if !t.IsIntLike() && !t.IsFloat() {
				return l.errf(af.Name, af.Pos, "parameter %s of type %v", p.Name, t)
			}

			params[i] = ir.Param{Name: p.Name, Type: t}
		}

		res, err := l.parseType(af.Name, af.Pos, af.Result, ir.Void)
		if err != nil {
			return err
		}

		if res.IsVector() || res.Kind == ir.KindArray {
			return l.errf(af.Name, af.Pos, "result of type %v", res)
		}

		l.m.NewFunction(af.Name, params, res)
	}

	return nil
}

// signature resolves a callee, declaring builtins on demand.
func (l *lowerer) signature(name string) ([]ir.Type, ir.Type, bool) {
	if ps, res, ok := l.m.Signature(name); ok {
		return ps, res, true
	}

	b, ok := builtins[name]
	if !ok {
		return nil, ir.Void, false
	}

	l.m.DeclareExtern(name, b.params, b.result)

	return b.params, b.result, true
}

// callees lists names a call could refer to, for suggestions.
func (l *lowerer) callees() []string {
	var r []string

	for _, f := range l.m.Funcs {
		r = append(r, f.Name)
	}

	for _, e := range l.m.Externs {
		r = append(r, e.Name)
	}

	for name := range builtins {
		r = append(r, name)
	}

	return r
}

func didYouMean(e *diag.Error, name string, known []string) *diag.Error {
	if s := diag.Suggest(name, known, 3); len(s) != 0 {
		return e.WithHelp("did you mean %s?", strings.Join(s, " or "))
	}

	return e
}
