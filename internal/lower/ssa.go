package lower

import (
	"github.com/JoeySoprano420/C.A.S.E.-Programming-Language--sub003/internal/ir"
)

type (
	variable struct {
		name    string
		typ     ir.Type
		mutable bool

		// array variables live in memory at addr; typ is the array type.
		array bool
		addr  ir.ValueID

		// value of an immutable binding.
		value ir.ValueID
	}

	pendingPhi struct {
		v   *variable
		phi ir.ValueID
	}
)

func (fl *funcLowerer) writeVariable(v *variable, blk ir.BlockID, val ir.ValueID) {
	m := fl.defs[v]
	if m == nil {
		m = map[ir.BlockID]ir.ValueID{}
		fl.defs[v] = m
	}

	m[blk] = val
}

func (fl *funcLowerer) readVariable(v *variable, blk ir.BlockID) ir.ValueID {
	if val, ok := fl.defs[v][blk]; ok {
		return val
	}

	return fl.readVariableRecursive(v, blk)
}

func (fl *funcLowerer) readVariableRecursive(v *variable, blk ir.BlockID) ir.ValueID {
	preds := fl.f.Block(blk).Preds

	var val ir.ValueID

	switch {
	case !fl.sealed[blk]:
		val = fl.newPhi(blk, v.typ)
		fl.incomplete[blk] = append(fl.incomplete[blk], pendingPhi{v: v, phi: val})
	case len(preds) == 0:
		// unreachable code reads an undefined value
		val = fl.zero(v.typ)
	case len(preds) == 1:
		val = fl.readVariable(v, preds[0])
	default:
		phi := fl.newPhi(blk, v.typ)
		fl.writeVariable(v, blk, phi)
		val = fl.addPhiOperands(v, phi)
	}

	fl.writeVariable(v, blk, val)

	return val
}

func (fl *funcLowerer) newPhi(blk ir.BlockID, t ir.Type) ir.ValueID {
	cur := fl.b.InsertBlock()

	fl.b.SetInsertPoint(blk)
	phi := fl.b.CreatePhi(t)

	if cur != ir.NoBlock {
		fl.b.SetInsertPoint(cur)
	} else {
		fl.b.ClearInsertPoint()
	}

	return phi
}

func (fl *funcLowerer) addPhiOperands(v *variable, phi ir.ValueID) ir.ValueID {
	blk := fl.f.Def(phi).Block

	for _, p := range fl.f.Block(blk).Preds {
		fl.b.AddPhiIncoming(phi, fl.readVariable(v, p), p)
	}

	return fl.tryRemoveTrivialPhi(phi)
}

// tryRemoveTrivialPhi replaces a phi whose operands are all the same value
// (or the phi itself) by that value.
func (fl *funcLowerer) tryRemoveTrivialPhi(phi ir.ValueID) ir.ValueID {
	in := fl.f.Def(phi)

	same := ir.NoValue

	for _, a := range in.Args {
		if a == same || a == phi {
			continue
		}

		if same != ir.NoValue {
			return phi
		}

		same = a
	}

	if same == ir.NoValue {
		same = fl.zero(fl.f.TypeOf(phi))
	}

	users := fl.b.Users(phi)

	fl.b.ReplacePhi(phi, same)
	fl.replaced[phi] = same

	for _, m := range fl.defs {
		for blk, val := range m {
			if val == phi {
				m[blk] = same
			}
		}
	}

	for _, u := range users {
		if u.Op != ir.OpPhi || u.Result == phi || u.IsDead() || !fl.sealed[u.Block] {
			continue
		}

		fl.tryRemoveTrivialPhi(u.Result)
	}

	return fl.resolve(same)
}

// resolve follows removed phis to the value that replaced them.
func (fl *funcLowerer) resolve(v ir.ValueID) ir.ValueID {
	for {
		r, ok := fl.replaced[v]
		if !ok {
			return v
		}

		v = r
	}
}

func (fl *funcLowerer) seal(blk ir.BlockID) {
	if fl.sealed[blk] {
		return
	}

	fl.sealed[blk] = true

	pending := fl.incomplete[blk]
	delete(fl.incomplete, blk)

	for _, p := range pending {
		fl.addPhiOperands(p.v, p.phi)
	}
}

func (fl *funcLowerer) zero(t ir.Type) ir.ValueID {
	if t.IsFloat() {
		return fl.b.ConstFloat(t, 0)
	}

	return fl.b.ConstInt(t, 0)
}
