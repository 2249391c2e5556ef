package ir

import "slices"

// Loop is a natural loop: a header dominating a set of blocks with back
// edges from Latches.
type Loop struct {
	Header  BlockID
	Latches []BlockID
	Blocks  []BlockID // header first, then in rpo order
}

func (l *Loop) Contains(b BlockID) bool {
	return slices.Contains(l.Blocks, b)
}

// Preheader returns the single predecessor of the header outside the loop.
func (l *Loop) Preheader(f *Function) (BlockID, bool) {
	pre := NoBlock

	for _, p := range f.Block(l.Header).Preds {
		if l.Contains(p) {
			continue
		}

		if pre != NoBlock {
			return NoBlock, false
		}

		pre = p
	}

	return pre, pre != NoBlock
}

// Exits returns blocks outside the loop targeted from inside it.
func (l *Loop) Exits(f *Function) []BlockID {
	var r []BlockID

	for _, b := range l.Blocks {
		for _, s := range f.Block(b).Succs {
			if !l.Contains(s) && !slices.Contains(r, s) {
				r = append(r, s)
			}
		}
	}

	return r
}

// Loops finds the natural loops of f, one per header, ordered by header
// position in reverse postorder. Nested loops are reported separately.
func (f *Function) Loops(dom *DomTree) []*Loop {
	var loops []*Loop

	for _, h := range dom.RPO() {
		var latches []BlockID

		for _, p := range f.blocks[h].Preds {
			if dom.Reachable(p) && dom.Dominates(h, p) {
				latches = append(latches, p)
			}
		}

		if len(latches) == 0 {
			continue
		}

		in := map[BlockID]bool{h: true}
		work := slices.Clone(latches)

		for len(work) != 0 {
			b := work[len(work)-1]
			work = work[:len(work)-1]

			if in[b] {
				continue
			}

			in[b] = true

			for _, p := range f.blocks[b].Preds {
				if dom.Reachable(p) && !in[p] {
					work = append(work, p)
				}
			}
		}

		l := &Loop{Header: h, Latches: latches}

		for _, b := range dom.RPO() {
			if in[b] {
				l.Blocks = append(l.Blocks, b)
			}
		}

		loops = append(loops, l)
	}

	return loops
}
