package ir

import "slices"

// RPO returns the blocks reachable from the entry in reverse postorder.
// It is also the code layout order.
func (f *Function) RPO() []BlockID {
	if f.Block(f.Entry) == nil {
		return nil
	}

	seen := make([]bool, len(f.blocks))
	post := make([]BlockID, 0, len(f.blocks))

	type frame struct {
		b BlockID
		i int
	}

	stack := []frame{{b: f.Entry}}
	seen[f.Entry] = true

	for len(stack) != 0 {
		top := &stack[len(stack)-1]
		succs := f.blocks[top.b].Succs

		// successors are visited last-to-first so that the first
		// successor of a block follows it in the resulting order
		if top.i < len(succs) {
			s := succs[len(succs)-1-top.i]
			top.i++

			if f.Block(s) != nil && !seen[s] {
				seen[s] = true
				stack = append(stack, frame{b: s})
			}

			continue
		}

		post = append(post, top.b)
		stack = stack[:len(stack)-1]
	}

	slices.Reverse(post)

	return post
}

// Reachable returns the set of blocks reachable from the entry.
func (f *Function) Reachable() []bool {
	r := make([]bool, len(f.blocks))

	for _, b := range f.RPO() {
		r[b] = true
	}

	return r
}

// DomTree holds immediate dominators of reachable blocks.
type DomTree struct {
	idom  []BlockID
	order []int // rpo index, -1 if unreachable
	rpo   []BlockID
}

// Dominators computes the dominator tree with the iterative
// Cooper-Harvey-Kennedy algorithm.
func (f *Function) Dominators() *DomTree {
	rpo := f.RPO()

	d := &DomTree{
		idom:  make([]BlockID, len(f.blocks)),
		order: make([]int, len(f.blocks)),
		rpo:   rpo,
	}

	for i := range d.idom {
		d.idom[i] = NoBlock
		d.order[i] = -1
	}

	for i, b := range rpo {
		d.order[b] = i
	}

	if len(rpo) == 0 {
		return d
	}

	d.idom[rpo[0]] = rpo[0]

	for changed := true; changed; {
		changed = false

		for _, b := range rpo[1:] {
			nidom := NoBlock

			for _, p := range f.blocks[b].Preds {
				if d.order[p] < 0 || d.idom[p] == NoBlock {
					continue
				}

				if nidom == NoBlock {
					nidom = p
					continue
				}

				nidom = d.intersect(p, nidom)
			}

			if nidom != d.idom[b] {
				d.idom[b] = nidom
				changed = true
			}
		}
	}

	return d
}

func (d *DomTree) intersect(a, b BlockID) BlockID {
	for a != b {
		for d.order[a] > d.order[b] {
			a = d.idom[a]
		}

		for d.order[b] > d.order[a] {
			b = d.idom[b]
		}
	}

	return a
}

// Idom returns the immediate dominator; the entry is its own.
func (d *DomTree) Idom(b BlockID) BlockID {
	if int(b) >= len(d.idom) {
		return NoBlock
	}

	return d.idom[b]
}

// Reachable reports whether b was reached from the entry.
func (d *DomTree) Reachable(b BlockID) bool {
	return int(b) < len(d.order) && d.order[b] >= 0
}

// Dominates reports whether a dominates b. Every block dominates itself.
func (d *DomTree) Dominates(a, b BlockID) bool {
	if !d.Reachable(a) || !d.Reachable(b) {
		return false
	}

	for {
		if a == b {
			return true
		}

		next := d.idom[b]
		if next == b {
			return false
		}

		b = next
	}
}

// RPO returns the reverse postorder used to build the tree.
func (d *DomTree) RPO() []BlockID { return d.rpo }
