package lower

import (
	"context"
	"slices"

	"tlog.app/go/tlog"

	"github.com/JoeySoprano420/C.A.S.E.-Programming-Language--sub003/internal/ast"
	"github.com/JoeySoprano420/C.A.S.E.-Programming-Language--sub003/internal/diag"
	"github.com/JoeySoprano420/C.A.S.E.-Programming-Language--sub003/internal/ir"
)

type (
	funcLowerer struct {
		*lowerer

		af *ast.Func
		f  *ir.Function
		b  *ir.Builder

		scopes []map[string]*variable

		defs       map[*variable]map[ir.BlockID]ir.ValueID
		incomplete map[ir.BlockID][]pendingPhi
		sealed     map[ir.BlockID]bool
		replaced   map[ir.ValueID]ir.ValueID

		loops []loopTargets
	}

	loopTargets struct {
		brk, cont ir.BlockID
	}
)

func (l *lowerer) function(ctx context.Context, af *ast.Func) (err error) {
	tr := tlog.SpanFromContext(ctx)

	fl := &funcLowerer{
		lowerer:    l,
		af:         af,
		f:          l.m.Func(af.Name),
		defs:       map[*variable]map[ir.BlockID]ir.ValueID{},
		incomplete: map[ir.BlockID][]pendingPhi{},
		sealed:     map[ir.BlockID]bool{},
		replaced:   map[ir.ValueID]ir.ValueID{},
	}

	fl.b = ir.NewBuilder(fl.f)

	entry := fl.b.CreateBlock("entry")
	fl.b.SetInsertPoint(entry)
	fl.seal(entry)

	fl.push()

	for i, p := range fl.f.Params {
		fl.b.SetPos(fl.pos(af.Pos))

		v := &variable{name: p.Name, typ: p.Type, mutable: true}
		if err := fl.bind(af.Pos, v); err != nil {
			return err
		}

		fl.writeVariable(v, entry, fl.b.CreateParam(i))
	}

	if err := fl.stmts(af.Body); err != nil {
		return err
	}

	fl.pop()

	if !fl.b.Terminated() {
		if fl.f.Result.IsVoid() {
			fl.b.CreateRet(ir.NoValue)
		} else {
			fl.b.CreateRet(fl.zero(fl.f.Result))
		}
	}

	for _, blk := range fl.f.Blocks() {
		fl.seal(blk.ID)
	}

	if tr.If("lower_func") {
		tr.Printw("lowered func", "name", af.Name, "blocks", len(fl.f.Blocks()), "values", fl.f.NumValues())
	}

	return nil
}

func (fl *funcLowerer) pos(p ast.Pos) ir.Pos {
	return ir.Pos{File: fl.file, Line: p.Line, Col: p.Col}
}

func (fl *funcLowerer) errf(pos ast.Pos, format string, args ...any) *diag.Error {
	return fl.lowerer.errf(fl.af.Name, pos, format, args...)
}

func (fl *funcLowerer) push() { fl.scopes = append(fl.scopes, map[string]*variable{}) }
func (fl *funcLowerer) pop()  { fl.scopes = fl.scopes[:len(fl.scopes)-1] }

func (fl *funcLowerer) bind(pos ast.Pos, v *variable) error {
	top := fl.scopes[len(fl.scopes)-1]

	if _, ok := top[v.name]; ok {
		return fl.errf(pos, "%s redeclared in this block", v.name)
	}

	top[v.name] = v

	return nil
}

func (fl *funcLowerer) lookup(name string) *variable {
	for i := len(fl.scopes) - 1; i >= 0; i-- {
		if v, ok := fl.scopes[i][name]; ok {
			return v
		}
	}

	return nil
}

func (fl *funcLowerer) visible() []string {
	var r []string

	for _, s := range fl.scopes {
		for name := range s {
			if !slices.Contains(r, name) {
				r = append(r, name)
			}
		}
	}

	return r
}

func (fl *funcLowerer) undefined(pos ast.Pos, name string) error {
	return didYouMean(fl.errf(pos, "undefined: %s", name), name, fl.visible())
}

func (fl *funcLowerer) variable(pos ast.Pos, name string) (*variable, error) {
	v := fl.lookup(name)
	if v == nil {
		return nil, fl.undefined(pos, name)
	}

	return v, nil
}

func (fl *funcLowerer) stmts(list []ast.Stmt) error {
	for _, s := range list {
		if err := fl.stmt(s); err != nil {
			return err
		}
	}

	return nil
}

// live makes sure code after a branch or return goes into a block of its
// own. Such a block has no predecessors and is dropped by the optimizer.
func (fl *funcLowerer) live() {
	if !fl.b.Terminated() {
		return
	}

	blk := fl.b.CreateBlock("dead")
	fl.seal(blk)
	fl.b.SetInsertPoint(blk)
}

func (fl *funcLowerer) stmt(s ast.Stmt) error {
	fl.live()
	fl.b.SetPos(fl.pos(s.At()))

	switch s := s.(type) {
	case *ast.Let:
		t, err := fl.parseType(fl.af.Name, s.Pos, s.Type, ir.Void)
		if err != nil {
			return err
		}

		val, err := fl.typed(s.Value, t, s.Pos)
		if err != nil {
			return err
		}

		return fl.bind(s.Pos, &variable{name: s.Name, typ: fl.f.TypeOf(val), value: val})
	case *ast.Var:
		return fl.declVar(s)
	case *ast.Assign:
		v, err := fl.variable(s.Pos, s.Name)
		if err != nil {
			return err
		}

		if !v.mutable || v.array {
			return fl.errf(s.Pos, "cannot assign to %s", s.Name)
		}

		val, err := fl.typed(s.Value, v.typ, s.Pos)
		if err != nil {
			return err
		}

		fl.writeVariable(v, fl.b.InsertBlock(), val)

		return nil
	case *ast.Store:
		ptr, elem, err := fl.element(s.Pos, s.Array, s.Index)
		if err != nil {
			return err
		}

		val, err := fl.typed(s.Value, elem, s.Pos)
		if err != nil {
			return err
		}

		fl.b.CreateStore(val, ptr)

		return nil
	case *ast.If:
		return fl.ifStmt(s)
	case *ast.While:
		return fl.whileStmt(s)
	case *ast.Loop:
		return fl.loopStmt(s)
	case *ast.For:
		return fl.forStmt(s)
	case *ast.Break, *ast.Continue:
		if len(fl.loops) == 0 {
			return fl.errf(s.At(), "break or continue outside of a loop")
		}

		lt := fl.loops[len(fl.loops)-1]

		if _, ok := s.(*ast.Break); ok {
			fl.b.CreateBr(lt.brk)
		} else {
			fl.b.CreateBr(lt.cont)
		}

		return nil
	case *ast.Return:
		if s.Value == nil {
			if !fl.f.Result.IsVoid() {
				return fl.errf(s.Pos, "missing return value of type %v", fl.f.Result)
			}

			fl.b.CreateRet(ir.NoValue)

			return nil
		}

		if fl.f.Result.IsVoid() {
			return fl.errf(s.Pos, "%s returns no value", fl.af.Name)
		}

		val, err := fl.typed(s.Value, fl.f.Result, s.Pos)
		if err != nil {
			return err
		}

		fl.b.CreateRet(val)

		return nil
	case *ast.ExprStmt:
		_, err := fl.expr(s.X, ir.Void, true)
		return err
	}

	return fl.errf(s.At(), "unsupported statement %T", s)
}

func (fl *funcLowerer) declVar(s *ast.Var) error {
	t, err := fl.parseType(fl.af.Name, s.Pos, s.Type, ir.Void)
	if err != nil {
		return err
	}

	if t.Kind == ir.KindArray {
		if s.Value != nil {
			return fl.errf(s.Pos, "array %s cannot have an initial value", s.Name)
		}

		v := &variable{name: s.Name, typ: t, mutable: true, array: true, addr: fl.alloca(t)}

		return fl.bind(s.Pos, v)
	}

	var val ir.ValueID

	switch {
	case s.Value != nil:
		val, err = fl.typed(s.Value, t, s.Pos)
		if err != nil {
			return err
		}
	case t.IsVoid():
		return fl.errf(s.Pos, "var %s needs a type or a value", s.Name)
	default:
		val = fl.zero(t)
	}

	v := &variable{name: s.Name, typ: fl.f.TypeOf(val), mutable: true}
	if err := fl.bind(s.Pos, v); err != nil {
		return err
	}

	fl.writeVariable(v, fl.b.InsertBlock(), val)

	return nil
}

// alloca places stack storage in the entry block so loops do not grow
// the frame.
func (fl *funcLowerer) alloca(t ir.Type) ir.ValueID {
	cur := fl.b.InsertBlock()

	if cur != fl.f.Entry {
		fl.b.SetInsertBefore(fl.f.Terminator(fl.f.Entry).ID)
	}

	addr := fl.b.CreateAlloca(t)

	fl.b.SetInsertPoint(cur)

	return addr
}

func (fl *funcLowerer) ifStmt(s *ast.If) error {
	cond, err := fl.cond(s.Cond)
	if err != nil {
		return err
	}

	then := fl.b.CreateBlock("then")
	els := fl.b.CreateBlock("else")
	fl.b.CreateCondBr(cond, then, els)
	fl.seal(then)
	fl.seal(els)

	var open []ir.BlockID

	for _, arm := range []struct {
		blk  ir.BlockID
		body []ast.Stmt
	}{{then, s.Then}, {els, s.Else}} {
		fl.b.SetInsertPoint(arm.blk)
		fl.push()

		if err := fl.stmts(arm.body); err != nil {
			return err
		}

		fl.pop()

		if !fl.b.Terminated() {
			open = append(open, fl.b.InsertBlock())
		}
	}

	if len(open) == 0 {
		return nil
	}

	join := fl.b.CreateBlock("endif")

	for _, blk := range open {
		fl.b.SetInsertPoint(blk)
		fl.b.CreateBr(join)
	}

	fl.seal(join)
	fl.b.SetInsertPoint(join)

	return nil
}

func (fl *funcLowerer) whileStmt(s *ast.While) error {
	head := fl.b.CreateBlock("while.head")
	fl.b.CreateBr(head)
	fl.b.SetInsertPoint(head)

	cond, err := fl.cond(s.Cond)
	if err != nil {
		return err
	}

	body := fl.b.CreateBlock("while.body")
	exit := fl.b.CreateBlock("while.end")
	fl.b.CreateCondBr(cond, body, exit)
	fl.seal(body)

	if err := fl.loopBody(body, head, exit, s.Body); err != nil {
		return err
	}

	if !fl.b.Terminated() {
		fl.b.CreateBr(head)
	}

	fl.seal(head)
	fl.seal(exit)
	fl.b.SetInsertPoint(exit)

	return nil
}

func (fl *funcLowerer) loopStmt(s *ast.Loop) error {
	body := fl.b.CreateBlock("loop.body")
	exit := fl.b.CreateBlock("loop.end")
	fl.b.CreateBr(body)

	if err := fl.loopBody(body, body, exit, s.Body); err != nil {
		return err
	}

	if !fl.b.Terminated() {
		fl.b.CreateBr(body)
	}

	fl.seal(body)
	fl.seal(exit)
	fl.b.SetInsertPoint(exit)

	return nil
}

// forStmt produces the counted loop shape the optimizer recognizes:
// a header comparing the induction variable against a bound computed
// once, the body, and a latch incrementing the variable.
func (fl *funcLowerer) forStmt(s *ast.For) error {
	from, err := fl.typed(s.From, ir.Void, s.Pos)
	if err != nil {
		return err
	}

	t := fl.f.TypeOf(from)
	if !t.IsInt() {
		return fl.errf(s.Pos, "for variable %s of type %v, want an integer", s.Var, t)
	}

	to, err := fl.typed(s.To, t, s.Pos)
	if err != nil {
		return err
	}

	fl.push()
	defer fl.pop()

	iv := &variable{name: s.Var, typ: t, mutable: true}
	if err := fl.bind(s.Pos, iv); err != nil {
		return err
	}

	fl.writeVariable(iv, fl.b.InsertBlock(), from)

	head := fl.b.CreateBlock("for.head")
	fl.b.CreateBr(head)
	fl.b.SetInsertPoint(head)

	cmp := fl.b.CreateCmp(ir.PredLT, fl.readVariable(iv, head), to)

	body := fl.b.CreateBlock("for.body")
	latch := fl.b.CreateBlock("for.latch")
	exit := fl.b.CreateBlock("for.end")
	fl.b.CreateCondBr(cmp, body, exit)
	fl.seal(body)

	if err := fl.loopBody(body, latch, exit, s.Body); err != nil {
		return err
	}

	if !fl.b.Terminated() {
		fl.b.CreateBr(latch)
	}

	fl.seal(latch)
	fl.b.SetInsertPoint(latch)
	fl.b.SetPos(fl.pos(s.Pos))

	next := fl.b.CreateAdd(fl.readVariable(iv, latch), fl.b.ConstInt(t, 1))
	fl.writeVariable(iv, latch, next)
	fl.b.CreateBr(head)

	fl.seal(head)
	fl.seal(exit)
	fl.b.SetInsertPoint(exit)

	return nil
}

func (fl *funcLowerer) loopBody(body, cont, brk ir.BlockID, list []ast.Stmt) error {
	fl.loops = append(fl.loops, loopTargets{brk: brk, cont: cont})
	fl.b.SetInsertPoint(body)
	fl.push()

	err := fl.stmts(list)

	fl.pop()
	fl.loops = fl.loops[:len(fl.loops)-1]

	return err
}
