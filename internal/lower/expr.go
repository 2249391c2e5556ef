package lower

import (
	"github.com/JoeySoprano420/C.A.S.E.-Programming-Language--sub003/internal/ast"
	"github.com/JoeySoprano420/C.A.S.E.-Programming-Language--sub003/internal/ir"
)

var binaryOps = map[string]ir.Op{
	"+":  ir.OpAdd,
	"-":  ir.OpSub,
	"*":  ir.OpMul,
	"/":  ir.OpDiv,
	"%":  ir.OpRem,
	"&":  ir.OpAnd,
	"|":  ir.OpOr,
	"^":  ir.OpXor,
	"<<": ir.OpShl,
	">>": ir.OpShr,
}

// typed lowers x and checks it has type want. A Void want accepts any
// non-void value.
func (fl *funcLowerer) typed(x ast.Expr, want ir.Type, pos ast.Pos) (ir.ValueID, error) {
	val, err := fl.expr(x, want, false)
	if err != nil {
		return ir.NoValue, err
	}

	if got := fl.f.TypeOf(val); !want.IsVoid() && !got.Equal(want) {
		return ir.NoValue, fl.errf(x.At(), "type mismatch: %v, want %v", got, want)
	}

	return val, nil
}

func (fl *funcLowerer) cond(x ast.Expr) (ir.ValueID, error) {
	return fl.typed(x, ir.Bool, x.At())
}

// untyped reports literals that adapt to the type of the other operand.
func untyped(x ast.Expr) bool {
	switch x := x.(type) {
	case *ast.Int:
		return x.Type == ""
	case *ast.Float:
		return x.Type == ""
	}

	return false
}

// expr lowers x. hint is the type an untyped literal takes. void allows
// calls without a result.
func (fl *funcLowerer) expr(x ast.Expr, hint ir.Type, void bool) (ir.ValueID, error) {
	fl.b.SetPos(fl.pos(x.At()))

	switch x := x.(type) {
	case *ast.Int:
		t, err := fl.parseType(fl.af.Name, x.Pos, x.Type, ir.I64)
		if err != nil {
			return ir.NoValue, err
		}

		if x.Type == "" && (hint.IsInt() || hint.IsFloat()) {
			t = hint
		}

		if t.IsFloat() {
			return fl.b.ConstFloat(t, float64(x.Value)), nil
		}

		if !t.IsInt() {
			return ir.NoValue, fl.errf(x.Pos, "integer literal of type %v", t)
		}

		return fl.b.ConstInt(t, x.Value), nil
	case *ast.Float:
		t, err := fl.parseType(fl.af.Name, x.Pos, x.Type, ir.F64)
		if err != nil {
			return ir.NoValue, err
		}

		if x.Type == "" && hint.IsFloat() {
			t = hint
		}

		if !t.IsFloat() {
			return ir.NoValue, fl.errf(x.Pos, "float literal of type %v", t)
		}

		return fl.b.ConstFloat(t, x.Value), nil
	case *ast.Bool:
		return fl.b.ConstBool(x.Value), nil
	case *ast.Ident:
		v, err := fl.variable(x.Pos, x.Name)
		if err != nil {
			return ir.NoValue, err
		}

		switch {
		case v.array:
			return ir.NoValue, fl.errf(x.Pos, "array %s used as a value", x.Name).WithHelp("take its address with addr: %s", x.Name)
		case !v.mutable:
			return fl.resolve(v.value), nil
		}

		return fl.readVariable(v, fl.b.InsertBlock()), nil
	case *ast.AddrOf:
		if v := fl.lookup(x.Name); v != nil {
			if !v.array {
				return ir.NoValue, fl.errf(x.Pos, "cannot take the address of %s", x.Name)
			}

			return v.addr, nil
		}

		if fl.m.Global(x.Name) == nil {
			return ir.NoValue, fl.undefined(x.Pos, x.Name)
		}

		return fl.b.CreateGlobalAddr(x.Name), nil
	case *ast.Binary:
		return fl.binary(x, hint)
	case *ast.Unary:
		return fl.unary(x, hint)
	case *ast.Call:
		return fl.call(x, void)
	case *ast.Index:
		ptr, elem, err := fl.element(x.Pos, x.Array, x.Index)
		if err != nil {
			return ir.NoValue, err
		}

		return fl.b.CreateLoad(elem, ptr), nil
	case *ast.Cast:
		return fl.cast(x)
	}

	return ir.NoValue, fl.errf(x.At(), "unsupported expression %T", x)
}

// operands lowers both sides of a binary expression so that an untyped
// literal on either side takes the type of the other.
func (fl *funcLowerer) operands(x *ast.Binary, hint ir.Type) (l, r ir.ValueID, err error) {
	if untyped(x.L) && !untyped(x.R) {
		if r, err = fl.typed(x.R, ir.Void, x.Pos); err != nil {
			return
		}

		l, err = fl.expr(x.L, fl.f.TypeOf(r), false)

		return
	}

	if l, err = fl.expr(x.L, hint, false); err != nil {
		return
	}

	r, err = fl.expr(x.R, fl.f.TypeOf(l), false)

	return
}

func (fl *funcLowerer) binary(x *ast.Binary, hint ir.Type) (ir.ValueID, error) {
	if x.Op == "&&" || x.Op == "||" {
		return fl.shortCircuit(x)
	}

	pred, isCmp := ir.ParsePred(x.Op)
	if isCmp {
		hint = ir.Void
	}

	op, ok := binaryOps[x.Op]
	if !ok && !isCmp {
		return ir.NoValue, fl.errf(x.Pos, "unknown operator %q", x.Op)
	}

	l, r, err := fl.operands(x, hint)
	if err != nil {
		return ir.NoValue, err
	}

	lt, rt := fl.f.TypeOf(l), fl.f.TypeOf(r)
	if l == ir.NoValue || r == ir.NoValue || !lt.Equal(rt) {
		return ir.NoValue, fl.errf(x.Pos, "mismatched types %v %s %v", lt, x.Op, rt)
	}

	fl.b.SetPos(fl.pos(x.Pos))

	if isCmp {
		if !lt.Kind.IsScalar() {
			return ir.NoValue, fl.errf(x.Pos, "cannot compare %v", lt)
		}

		return fl.b.CreateCmp(pred, l, r), nil
	}

	switch {
	case lt.IsFloat() && op >= ir.OpRem:
		return ir.NoValue, fl.errf(x.Pos, "operator %s not defined on %v", x.Op, lt)
	case lt.Kind == ir.KindBool && op != ir.OpAnd && op != ir.OpOr && op != ir.OpXor:
		return ir.NoValue, fl.errf(x.Pos, "operator %s not defined on bool", x.Op)
	case !lt.Kind.IsScalar() || lt.Kind == ir.KindPtr && op != ir.OpAdd && op != ir.OpSub:
		return ir.NoValue, fl.errf(x.Pos, "operator %s not defined on %v", x.Op, lt)
	}

	return fl.b.CreateBinary(op, l, r), nil
}

// shortCircuit evaluates the right operand of && and || only when needed.
func (fl *funcLowerer) shortCircuit(x *ast.Binary) (ir.ValueID, error) {
	l, err := fl.cond(x.L)
	if err != nil {
		return ir.NoValue, err
	}

	from := fl.b.InsertBlock()
	rhs := fl.b.CreateBlock(map[string]string{"&&": "and.rhs", "||": "or.rhs"}[x.Op])
	end := fl.b.CreateBlock(map[string]string{"&&": "and.end", "||": "or.end"}[x.Op])

	short := x.Op == "||"

	if short {
		fl.b.CreateCondBr(l, end, rhs)
	} else {
		fl.b.CreateCondBr(l, rhs, end)
	}

	fl.seal(rhs)
	fl.b.SetInsertPoint(rhs)

	r, err := fl.cond(x.R)
	if err != nil {
		return ir.NoValue, err
	}

	rEnd := fl.b.InsertBlock()
	fl.b.CreateBr(end)

	fl.seal(end)
	fl.b.SetInsertPoint(end)
	fl.b.SetPos(fl.pos(x.Pos))

	return fl.b.CreatePhi(ir.Bool,
		ir.PhiEdge{Value: fl.b.ConstBool(short), Pred: from},
		ir.PhiEdge{Value: r, Pred: rEnd},
	), nil
}

func (fl *funcLowerer) unary(x *ast.Unary, hint ir.Type) (ir.ValueID, error) {
	v, err := fl.expr(x.X, hint, false)
	if err != nil {
		return ir.NoValue, err
	}

	t := fl.f.TypeOf(v)
	fl.b.SetPos(fl.pos(x.Pos))

	switch {
	case x.Op == "-" && (t.IsInt() || t.IsFloat()):
		return fl.b.CreateNeg(v), nil
	case x.Op == "!" && t.Kind == ir.KindBool, x.Op == "~" && t.IsInt():
		return fl.b.CreateNot(v), nil
	}

	return ir.NoValue, fl.errf(x.Pos, "operator %s not defined on %v", x.Op, t)
}

func (fl *funcLowerer) call(x *ast.Call, void bool) (ir.ValueID, error) {
	params, res, ok := fl.signature(x.Func)
	if !ok {
		return ir.NoValue, didYouMean(fl.errf(x.Pos, "call of undefined function %s", x.Func), x.Func, fl.callees())
	}

	if len(params) != len(x.Args) {
		return ir.NoValue, fl.errf(x.Pos, "%s takes %d arguments, got %d", x.Func, len(params), len(x.Args))
	}

	if res.IsVoid() && !void {
		return ir.NoValue, fl.errf(x.Pos, "%s returns no value", x.Func)
	}

	args := make([]ir.ValueID, len(x.Args))

	for i, a := range x.Args {
		v, err := fl.typed(a, params[i], x.Pos)
		if err != nil {
			return ir.NoValue, err
		}

		args[i] = v
	}

	fl.b.SetPos(fl.pos(x.Pos))

	return fl.b.CreateCall(x.Func, args...), nil
}

// element computes the address of array[index].
func (fl *funcLowerer) element(pos ast.Pos, array string, index ast.Expr) (ir.ValueID, ir.Type, error) {
	v, err := fl.variable(pos, array)
	if err != nil {
		return ir.NoValue, ir.Type{}, err
	}

	if !v.array {
		return ir.NoValue, ir.Type{}, fl.errf(pos, "%s is not an array", array)
	}

	idx, err := fl.expr(index, ir.I64, false)
	if err != nil {
		return ir.NoValue, ir.Type{}, err
	}

	if !fl.f.TypeOf(idx).IsInt() {
		return ir.NoValue, ir.Type{}, fl.errf(pos, "index of type %v", fl.f.TypeOf(idx))
	}

	elem := v.typ.ElemType()

	fl.b.SetPos(fl.pos(pos))

	return fl.b.CreateElemPtr(elem, v.addr, idx), elem, nil
}

func (fl *funcLowerer) cast(x *ast.Cast) (ir.ValueID, error) {
	to, err := fl.parseType(fl.af.Name, x.Pos, x.Type, ir.Void)
	if err != nil {
		return ir.NoValue, err
	}

	hint := ir.Void
	if untyped(x.X) {
		hint = to
	}

	v, err := fl.expr(x.X, hint, false)
	if err != nil {
		return ir.NoValue, err
	}

	from := fl.f.TypeOf(v)
	fl.b.SetPos(fl.pos(x.Pos))

	switch {
	case from.Equal(to):
		return v, nil
	case to.Kind == ir.KindBool && from.IsIntLike():
		return fl.b.CreateCmp(ir.PredNE, v, fl.b.ConstInt(from, 0)), nil
	case to.IsIntLike() && from.IsIntLike():
		return fl.b.CreateICast(to, v), nil
	case to.IsFloat() && from.IsInt():
		return fl.b.CreateIToF(to, v), nil
	case to.IsInt() && from.IsFloat():
		return fl.b.CreateFToI(to, v), nil
	}

	return ir.NoValue, fl.errf(x.Pos, "cannot convert %v to %v", from, to)
}
