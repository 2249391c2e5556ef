package ir

// Compact rebuilds the arenas of f: removed blocks, instructions and
// unreferenced values are dropped, blocks are renumbered in reverse
// postorder and values in order of first appearance. It reports whether
// anything was renumbered or dropped. Compacting a compacted function is a
// no-op.
func (f *Function) Compact() bool {
	order := f.RPO()

	seen := make([]bool, len(f.blocks))
	for _, b := range order {
		seen[b] = true
	}

	for _, b := range f.blocks {
		if b != nil && !seen[b.ID] {
			order = append(order, b.ID)
		}
	}

	bmap := make([]BlockID, len(f.blocks))
	for i := range bmap {
		bmap[i] = NoBlock
	}

	for i, b := range order {
		bmap[b] = BlockID(i)
	}

	vmap := make([]ValueID, len(f.values))
	values := []*Value{nil}

	mapValue := func(v ValueID) ValueID {
		if vmap[v] == NoValue {
			nv := *f.values[v]
			nv.ID = ValueID(len(values))
			values = append(values, &nv)
			vmap[v] = nv.ID
		}

		return vmap[v]
	}

	instrs := []*Instr{nil}
	blocks := make([]*Block, len(order))

	for i, old := range order {
		ob := f.blocks[old]
		nb := &Block{ID: BlockID(i), Label: ob.Label}

		for _, iid := range ob.Instrs {
			in := f.instrs[iid]

			in.ID = InstrID(len(instrs))
			in.Block = nb.ID
			instrs = append(instrs, in)
			nb.Instrs = append(nb.Instrs, in.ID)

			for j, a := range in.Args {
				in.Args[j] = mapValue(a)
			}

			if in.Result != NoValue {
				in.Result = mapValue(in.Result)
				values[in.Result].Def = in.ID
			}

			for j, t := range in.Targets {
				in.Targets[j] = bmap[t]
			}

			for j, p := range in.Incoming {
				in.Incoming[j] = bmap[p]
			}
		}

		blocks[i] = nb
	}

	changed := len(blocks) != len(f.blocks) || len(instrs) != len(f.instrs) || len(values) != len(f.values)

	for old, nw := range bmap {
		if nw != NoBlock && BlockID(old) != nw {
			changed = true
		}
	}

	for old, nw := range vmap {
		if nw != NoValue && ValueID(old) != nw {
			changed = true
		}
	}

	f.blocks = blocks
	f.instrs = instrs
	f.values = values
	f.Entry = bmap[f.Entry]

	f.consts = map[constKey]ValueID{}

	for _, v := range values[1:] {
		if v.IsConst() {
			f.consts[constKey{kind: v.Type.Kind, bits: v.Bits}] = v.ID
		}
	}

	f.RebuildCFG()

	return changed
}
