package opt

import (
	"slices"

	"github.com/JoeySoprano420/C.A.S.E.-Programming-Language--sub003/internal/ir"
)

// Merge collapses branch chains: a block whose Br leads to a block with no
// other predecessor absorbs it, and empty blocks that only jump on are
// bypassed when their target has no phis.
type Merge struct{}

func (Merge) Name() string { return "merge" }

func (Merge) Run(f *ir.Function, st *Stats) (changed bool) {
	for {
		if mergeOne(f) || bypassOne(f) {
			st.Merged++
			changed = true

			continue
		}

		return changed
	}
}

func mergeOne(f *ir.Function) bool {
	for _, bid := range f.RPO() {
		t := f.Terminator(bid)
		if t == nil || t.Op != ir.OpBr {
			continue
		}

		s := t.Targets[0]
		sb := f.Block(s)

		if s == bid || s == f.Entry || len(sb.Preds) != 1 {
			continue
		}

		if st := f.Terminator(s); st != nil && slices.Contains(st.Targets, s) {
			continue
		}

		f.MergeBlocks(bid, s)

		return true
	}

	return false
}

func bypassOne(f *ir.Function) bool {
	for _, bid := range f.RPO() {
		b := f.Block(bid)

		if bid == f.Entry || len(b.Instrs) != 1 {
			continue
		}

		t := f.Terminator(bid)
		if t == nil || t.Op != ir.OpBr || t.Targets[0] == bid {
			continue
		}

		dest := t.Targets[0]
		if len(f.Phis(dest)) != 0 {
			continue
		}

		for _, p := range b.Preds {
			f.Terminator(p).ReplaceTarget(bid, dest)
		}

		f.RemoveBlock(bid)

		return true
	}

	return false
}
