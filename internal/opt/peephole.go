package opt

import (
	"slices"

	"github.com/JoeySoprano420/C.A.S.E.-Programming-Language--sub003/internal/ir"
)

// Peephole applies single-instruction algebraic rewrites: identities
// (x+0, x-0, x*1, x/1, x|0, x^0, x<<0, x>>0), annihilation (x*0, x&0,
// x-x, x^x) and integer self-compares. Folding runs first so rewrites see
// constants produced by it, and again when a rewrite created new ones.
type Peephole struct{}

func (Peephole) Name() string { return "peephole" }

func (Peephole) Run(f *ir.Function, st *Stats) bool {
	changed := Fold{}.Run(f, st)

	rewrote := false

	for _, bid := range f.RPO() {
		for _, id := range slices.Clone(f.Block(bid).Instrs) {
			in := f.Instr(id)
			if in.IsDead() {
				continue
			}

			v, ok := rewrite(f, in)
			if !ok {
				continue
			}

			f.ReplaceAllUses(in.Result, v)
			f.RemoveInstr(in.ID)
			st.Rewritten++
			rewrote = true
		}
	}

	if rewrote {
		Fold{}.Run(f, st)
	}

	return changed || rewrote
}

func rewrite(f *ir.Function, in *ir.Instr) (ir.ValueID, bool) {
	if in.Result == ir.NoValue {
		return ir.NoValue, false
	}

	rt := f.TypeOf(in.Result)

	switch {
	case in.Op == ir.OpICast:
		if f.TypeOf(in.Args[0]).Equal(rt) {
			return in.Args[0], true
		}

		return ir.NoValue, false
	case in.Op == ir.OpCmp:
		return selfCompare(f, in)
	case !in.Op.IsBinary():
		return ir.NoValue, false
	}

	x, y := in.Args[0], in.Args[1]
	isInt := rt.IsIntLike()

	is := func(v ir.ValueID, n int64) bool {
		c, ok := f.IsConst(v)
		if !ok {
			return false
		}

		if c.Type.IsFloat() {
			return c.Float() == float64(n)
		}

		return c.Int() == n
	}

	zero := func() ir.ValueID { return f.ConstInt(rt, 0) }

	switch in.Op {
	case ir.OpAdd:
		switch {
		case isInt && is(y, 0):
			return x, true
		case isInt && is(x, 0):
			return y, true
		}
	case ir.OpSub:
		switch {
		case isInt && is(y, 0):
			return x, true
		case isInt && x == y:
			return zero(), true
		}
	case ir.OpMul:
		switch {
		case is(y, 1):
			return x, true
		case is(x, 1):
			return y, true
		case isInt && (is(x, 0) || is(y, 0)):
			return zero(), true
		}
	case ir.OpDiv:
		if is(y, 1) {
			return x, true
		}
	case ir.OpOr, ir.OpXor:
		switch {
		case is(y, 0):
			return x, true
		case is(x, 0):
			return y, true
		case x == y && in.Op == ir.OpOr:
			return x, true
		case x == y:
			return zero(), true
		}
	case ir.OpAnd:
		switch {
		case x == y:
			return x, true
		case is(x, 0) || is(y, 0):
			return zero(), true
		}
	case ir.OpShl, ir.OpShr:
		if is(y, 0) {
			return x, true
		}
	}

	return ir.NoValue, false
}

// selfCompare folds x op x for integers. Floats are left alone because
// NaN compares unequal to itself.
func selfCompare(f *ir.Function, in *ir.Instr) (ir.ValueID, bool) {
	if in.Args[0] != in.Args[1] || !f.TypeOf(in.Args[0]).IsIntLike() {
		return ir.NoValue, false
	}

	switch in.Pred {
	case ir.PredEQ, ir.PredLE, ir.PredGE:
		return f.ConstInt(ir.Bool, 1), true
	default:
		return f.ConstInt(ir.Bool, 0), true
	}
}
