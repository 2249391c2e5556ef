package opt

import (
	"github.com/JoeySoprano420/C.A.S.E.-Programming-Language--sub003/internal/ir"
)

// DCE removes instructions following a terminator, blocks unreachable
// from the entry, and every instruction without side effects whose result
// does not reach a side effect or terminator.
type DCE struct{}

func (DCE) Name() string { return "dce" }

func (DCE) Run(f *ir.Function, st *Stats) bool {
	changed := afterTerminator(f, st)

	if unreachable(f, st) {
		changed = true
	}

	if deadValues(f, st) {
		changed = true
	}

	return changed
}

func afterTerminator(f *ir.Function, st *Stats) (changed bool) {
	for _, b := range f.Blocks() {
		for i, id := range b.Instrs {
			if !f.Instr(id).IsTerminator() || i == len(b.Instrs)-1 {
				continue
			}

			for _, dead := range append([]ir.InstrID(nil), b.Instrs[i+1:]...) {
				f.RemoveInstr(dead)
				st.Removed++
			}

			changed = true

			break
		}
	}

	if changed {
		f.RebuildCFG()
	}

	return changed
}

func unreachable(f *ir.Function, st *Stats) (changed bool) {
	reach := f.Reachable()

	for _, b := range f.Blocks() {
		if reach[b.ID] {
			continue
		}

		st.Removed += len(b.Instrs)
		f.RemoveBlock(b.ID)
		changed = true
	}

	return changed
}

// deadValues marks everything reachable through operands from side effects
// and removes the rest. Unlike counting uses this also drops dead cycles
// such as an unused induction variable.
func deadValues(f *ir.Function, st *Stats) (changed bool) {
	live := make([]bool, f.NumInstrs())

	var work []*ir.Instr

	for _, b := range f.Blocks() {
		for _, id := range b.Instrs {
			in := f.Instr(id)

			if in.Op.HasSideEffects() {
				live[id] = true
				work = append(work, in)
			}
		}
	}

	for len(work) != 0 {
		in := work[len(work)-1]
		work = work[:len(work)-1]

		for _, a := range in.Args {
			def := f.Def(a)
			if def == nil || live[def.ID] {
				continue
			}

			live[def.ID] = true
			work = append(work, def)
		}
	}

	for _, b := range f.Blocks() {
		for _, id := range append([]ir.InstrID(nil), b.Instrs...) {
			if live[id] {
				continue
			}

			f.RemoveInstr(id)
			st.Removed++
			changed = true
		}
	}

	return changed
}
