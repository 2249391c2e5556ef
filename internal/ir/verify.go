package ir

import (
	"slices"

	"github.com/JoeySoprano420/C.A.S.E.-Programming-Language--sub003/internal/diag"
)

// Verify checks the structural and SSA invariants of every function.
// Unreachable blocks are reported as warnings.
func Verify(m *Module) (warns []*diag.Error, err error) {
	for _, f := range m.Funcs {
		w, err := VerifyFunction(f)
		warns = append(warns, w...)

		if err != nil {
			return warns, err
		}
	}

	return warns, nil
}

type verifier struct {
	f   *Function
	dom *DomTree

	index []int // instr -> position in its block
}

// VerifyFunction checks one function.
func VerifyFunction(f *Function) (warns []*diag.Error, err error) {
	v := &verifier{f: f}

	if f.Block(f.Entry) == nil {
		return nil, v.errf(nil, nil, "function has no entry block")
	}

	if len(f.Block(f.Entry).Preds) != 0 {
		return nil, v.errf(f.Block(f.Entry), nil, "entry block has predecessors")
	}

	v.dom = f.Dominators()
	v.index = make([]int, len(f.instrs))

	for _, b := range f.Blocks() {
		if err = v.block(b); err != nil {
			return nil, err
		}
	}

	defined := make([]bool, len(f.values))

	for _, b := range f.Blocks() {
		if !v.dom.Reachable(b.ID) {
			warns = append(warns, diag.Warn(diag.KindVerify, diag.Where{Func: f.Name, Block: b.String()}, "unreachable block"))
		}

		for _, id := range b.Instrs {
			in := f.instrs[id]

			if err = v.instr(b, in, defined); err != nil {
				return warns, err
			}
		}
	}

	return warns, nil
}

func (v *verifier) block(b *Block) error {
	f := v.f

	if len(b.Instrs) == 0 {
		return v.errf(b, nil, "block without terminator")
	}

	phis := true

	for i, id := range b.Instrs {
		in := f.Instr(id)
		if in == nil || in.dead {
			return v.errf(b, nil, "block lists removed instruction %d", id)
		}

		if in.Block != b.ID {
			return v.errf(b, in, "instruction claims block %v", in.Block)
		}

		v.index[id] = i

		if in.Op == OpPhi && !phis {
			return v.errf(b, in, "phi after non-phi instruction")
		}

		phis = in.Op == OpPhi

		if in.IsTerminator() && i != len(b.Instrs)-1 {
			return v.errf(b, in, "instruction after terminator")
		}
	}

	term := f.Terminator(b.ID)
	if term == nil {
		return v.errf(b, nil, "block without terminator")
	}

	for _, t := range term.Targets {
		if f.Block(t) == nil {
			return v.errf(b, term, "branch to missing block %v", t)
		}

		if t == f.Entry {
			return v.errf(b, term, "branch to entry block")
		}
	}

	succs := successors(term)
	if !sameSet(succs, b.Succs) {
		return v.errf(b, term, "successor list %v does not match terminator", b.Succs)
	}

	for _, s := range b.Succs {
		if !slices.Contains(f.Block(s).Preds, b.ID) {
			return v.errf(b, term, "%v does not list %v as predecessor", s, b.ID)
		}
	}

	for _, p := range b.Preds {
		pb := f.Block(p)
		if pb == nil || !slices.Contains(pb.Succs, b.ID) {
			return v.errf(b, nil, "stale predecessor %v", p)
		}
	}

	return nil
}

func (v *verifier) instr(b *Block, in *Instr, defined []bool) error {
	f := v.f

	if in.Result != NoValue {
		val := f.Value(in.Result)

		switch {
		case val == nil:
			return v.errf(b, in, "result %v does not exist", in.Result)
		case val.IsConst():
			return v.errf(b, in, "result %v is a constant", in.Result)
		case val.Def != in.ID || defined[in.Result]:
			return v.errf(b, in, "register %v defined more than once", in.Result)
		}

		defined[in.Result] = true
	}

	for i, a := range in.Args {
		if err := v.operand(b, in, i, a); err != nil {
			return err
		}
	}

	return v.types(b, in)
}

func (v *verifier) operand(b *Block, in *Instr, i int, a ValueID) error {
	f := v.f

	val := f.Value(a)
	if val == nil {
		return v.errf(b, in, "operand %v does not exist", a)
	}

	if val.IsConst() {
		return nil
	}

	def := f.Instr(val.Def)
	if def == nil || def.dead || def.Result != a || f.Block(def.Block) == nil {
		return v.errf(b, in, "use of undefined value %v", a)
	}

	if !v.dom.Reachable(b.ID) {
		return nil
	}

	use := b.ID
	if in.Op == OpPhi {
		use = in.Incoming[i]

		if !v.dom.Reachable(use) {
			return nil
		}
	}

	switch {
	case def.Block == use && in.Op == OpPhi:
		return nil
	case def.Block == use:
		if v.index[def.ID] >= v.index[in.ID] {
			return v.errf(b, in, "value %v used before definition", a)
		}
	case !v.dom.Dominates(def.Block, use):
		return v.errf(b, in, "value %v defined in %v does not dominate its use", a, def.Block)
	}

	return nil
}

func (v *verifier) types(b *Block, in *Instr) error {
	f := v.f
	rt := f.TypeOf(in.Result)

	argT := func(i int) Type { return f.TypeOf(in.Args[i]) }

	want := func(n int) error {
		if len(in.Args) != n {
			return v.errf(b, in, "%v takes %d operands, got %d", in.Op, n, len(in.Args))
		}

		return nil
	}

	switch {
	case in.Op.IsBinary(), in.Op == OpVectorAdd, in.Op == OpVectorSub, in.Op == OpVectorMul:
		if err := want(2); err != nil {
			return err
		}

		if !argT(0).Equal(rt) || !argT(1).Equal(rt) {
			return v.errf(b, in, "operand types %v, %v do not match %v", argT(0), argT(1), rt)
		}
	case in.Op == OpCmp:
		if err := want(2); err != nil {
			return err
		}

		if !argT(0).Equal(argT(1)) || rt.Kind != KindBool {
			return v.errf(b, in, "cmp of %v and %v", argT(0), argT(1))
		}
	case in.Op == OpCondBr:
		if err := want(1); err != nil {
			return err
		}

		if argT(0).Kind != KindBool {
			return v.errf(b, in, "condbr on %v", argT(0))
		}
	case in.Op == OpLoad, in.Op == OpVectorLoad:
		if err := want(1); err != nil {
			return err
		}

		if argT(0).Kind != KindPtr {
			return v.errf(b, in, "load through %v", argT(0))
		}
	case in.Op == OpStore, in.Op == OpVectorStore:
		if err := want(2); err != nil {
			return err
		}

		if argT(1).Kind != KindPtr {
			return v.errf(b, in, "store through %v", argT(1))
		}
	case in.Op == OpPhi:
		if len(in.Args) != len(in.Incoming) || !sameSet(in.Incoming, b.Preds) || len(in.Incoming) != len(b.Preds) {
			return v.errf(b, in, "phi edges %v do not match predecessors %v", in.Incoming, b.Preds)
		}

		for i := range in.Args {
			if !argT(i).Equal(rt) {
				return v.errf(b, in, "phi operand of type %v, want %v", argT(i), rt)
			}
		}
	case in.Op == OpRet:
		if f.Result.IsVoid() {
			if len(in.Args) != 0 {
				return v.errf(b, in, "value returned from void function")
			}
		} else if len(in.Args) != 1 || !argT(0).Equal(f.Result) {
			return v.errf(b, in, "return type does not match %v", f.Result)
		}
	case in.Op == OpCall:
		if f.Module == nil {
			break
		}

		params, res, ok := f.Module.Signature(in.Callee)
		if !ok {
			return v.errf(b, in, "call of undeclared %q", in.Callee)
		}

		if len(params) != len(in.Args) || !res.Equal(rt) && !(res.IsVoid() && in.Result == NoValue) {
			return v.errf(b, in, "call does not match signature of %q", in.Callee)
		}
	case in.Op == OpSwitch:
		if len(in.Targets) != len(in.Cases)+1 {
			return v.errf(b, in, "switch with %d targets for %d cases", len(in.Targets), len(in.Cases))
		}
	}

	return nil
}

func (v *verifier) errf(b *Block, in *Instr, format string, args ...any) error {
	w := diag.Where{Func: v.f.Name}

	if b != nil {
		w.Block = b.String()
	}

	if in != nil {
		w.Instr = v.f.FormatInstr(in)
	}

	return diag.New(diag.KindVerify, w, format, args...)
}

func sameSet(a, b []BlockID) bool {
	for _, x := range a {
		if !slices.Contains(b, x) {
			return false
		}
	}

	for _, x := range b {
		if !slices.Contains(a, x) {
			return false
		}
	}

	return true
}
