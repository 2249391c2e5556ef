package opt

import (
	"slices"

	"github.com/JoeySoprano420/C.A.S.E.-Programming-Language--sub003/internal/ir"
)

// Fold evaluates instructions whose operands are all constants, resolves
// branches on constant conditions and removes phis merging a single value.
//
// Integer arithmetic wraps at the declared width. Division or remainder by
// a constant zero folds to zero.
type Fold struct{}

func (Fold) Name() string { return "fold" }

func (Fold) Run(f *ir.Function, st *Stats) (changed bool) {
	for {
		c := foldOnce(f, st)
		if !c {
			return changed
		}

		changed = true
	}
}

func foldOnce(f *ir.Function, st *Stats) (changed bool) {
	cfg := false

	for _, bid := range f.RPO() {
		blk := f.Block(bid)

		for _, id := range slices.Clone(blk.Instrs) {
			in := f.Instr(id)
			if in.IsDead() {
				continue
			}

			if v, ok := foldInstr(f, in); ok {
				f.ReplaceAllUses(in.Result, v)
				f.RemoveInstr(in.ID)
				st.Folded++
				changed = true

				continue
			}

			if foldBranch(f, in) {
				st.Folded++
				changed = true
				cfg = true
			}
		}
	}

	if cfg {
		f.RebuildCFG()
	}

	return changed
}

// foldInstr returns the value that replaces the result of in.
func foldInstr(f *ir.Function, in *ir.Instr) (ir.ValueID, bool) {
	if in.Result == ir.NoValue {
		return ir.NoValue, false
	}

	if in.Op == ir.OpPhi {
		return trivialPhi(in)
	}

	consts := make([]*ir.Value, len(in.Args))

	for i, a := range in.Args {
		c, ok := f.IsConst(a)
		if !ok {
			return ir.NoValue, false
		}

		consts[i] = c
	}

	rt := f.TypeOf(in.Result)

	switch {
	case in.Op.IsBinary():
		return f.ConstBits(rt, ir.EvalBinary(in.Op, rt.Kind, consts[0].Bits, consts[1].Bits)), true
	case in.Op.IsUnary():
		return f.ConstBits(rt, ir.EvalUnary(in.Op, consts[0].Type.Kind, rt.Kind, consts[0].Bits)), true
	case in.Op == ir.OpCmp:
		v := int64(0)
		if ir.EvalCmp(in.Pred, consts[0].Type.Kind, consts[0].Bits, consts[1].Bits) {
			v = 1
		}

		return f.ConstInt(ir.Bool, v), true
	}

	return ir.NoValue, false
}

// trivialPhi detects a phi whose operands are all the same value, not
// counting references to the phi itself.
func trivialPhi(in *ir.Instr) (ir.ValueID, bool) {
	same := ir.NoValue

	for _, a := range in.Args {
		if a == in.Result || a == same {
			continue
		}

		if same != ir.NoValue {
			return ir.NoValue, false
		}

		same = a
	}

	return same, same != ir.NoValue
}

// foldBranch turns CondBr and Switch on a constant into Br. Phis of the
// targets no longer reached lose the edge.
func foldBranch(f *ir.Function, in *ir.Instr) bool {
	if in.Op != ir.OpCondBr && in.Op != ir.OpSwitch {
		return false
	}

	c, ok := f.IsConst(in.Args[0])
	if !ok {
		return false
	}

	var dest ir.BlockID

	switch in.Op {
	case ir.OpCondBr:
		dest = in.Targets[1]
		if c.Bits != 0 {
			dest = in.Targets[0]
		}
	case ir.OpSwitch:
		dest = in.Targets[0]

		for i, v := range in.Cases {
			if ir.Normalize(c.Type.Kind, uint64(v)) == c.Int() {
				dest = in.Targets[i+1]
				break
			}
		}
	}

	for _, t := range in.Targets {
		if t == dest {
			continue
		}

		for _, phi := range f.Phis(t) {
			phi.RemoveIncoming(in.Block)
		}
	}

	in.Op = ir.OpBr
	in.Args = nil
	in.Targets = []ir.BlockID{dest}
	in.Cases = nil
	in.Meta = nil

	return true
}
