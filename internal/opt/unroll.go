package opt

import (
	"fmt"

	"github.com/JoeySoprano420/C.A.S.E.-Programming-Language--sub003/internal/ir"
)

// unrollLimit bounds the unrolled body size in instructions.
const unrollLimit = 512

// Unroll replicates the body of counted loops Factor times. When the trip
// count is not a multiple of Factor the leftover iterations run straight
// line in an epilogue block between the header and the exit.
type Unroll struct {
	Factor int
}

func (Unroll) Name() string { return "unroll" }

func (u Unroll) Run(f *ir.Function, st *Stats) (changed bool) {
	if u.Factor < 2 {
		return false
	}

	// unrolling changes the loop forest, so look again after each one
	for u.step(f, st, &changed) {
	}

	return changed
}

func (u Unroll) step(f *ir.Function, st *Stats, changed *bool) bool {
	for _, l := range f.Loops(f.Dominators()) {
		term := f.Terminator(l.Header)
		if term == nil || term.Op != ir.OpCondBr {
			continue
		}

		if _, ok := term.GetMeta(metaUnroll); ok {
			continue
		}

		*changed = true

		cl, why := matchCounted(f, l)
		if cl == nil {
			term.SetMeta(metaUnroll, "skip:"+why)
			continue
		}

		body := cl.bodyInstrs(f)

		switch {
		case cl.trip < int64(u.Factor):
			term.SetMeta(metaUnroll, "skip:trip")
			continue
		case len(body)*u.Factor > unrollLimit:
			term.SetMeta(metaUnroll, "skip:size")
			continue
		}

		u.unroll(f, cl, body)
		st.Unrolled++

		return true
	}

	return false
}

func (u Unroll) unroll(f *ir.Function, cl *countedLoop, body []*ir.Instr) {
	n := int64(u.Factor)
	groups := cl.trip / n
	rem := cl.trip - groups*n

	latch := map[ir.ValueID]ir.ValueID{}
	cur := map[ir.ValueID]ir.ValueID{}

	for _, phi := range cl.phis {
		v, _ := phi.PhiValue(cl.body)
		latch[phi.Result] = v
		cur[phi.Result] = v
	}

	b := ir.NewBuilder(f)
	b.SetInsertBefore(f.Terminator(cl.body).ID)

	for k := int64(1); k < n; k++ {
		cur = copyIteration(b, body, cl.phis, latch, cur)
	}

	for _, phi := range cl.phis {
		phi.SetIncoming(cl.body, cur[phi.Result])
	}

	cl.cmp.Args[1] = f.ConstInt(cl.typ, cl.start+groups*n*cl.step)

	if rem != 0 {
		u.epilogue(f, b, cl, body, latch, rem)
	}

	cl.term.SetMeta(metaUnroll, fmt.Sprintf("x%d", u.Factor))
	f.RebuildCFG()
}

// epilogue runs the last rem iterations after the unrolled loop exits.
func (u Unroll) epilogue(f *ir.Function, b *ir.Builder, cl *countedLoop, body []*ir.Instr, latch map[ir.ValueID]ir.ValueID, rem int64) {
	epi := b.CreateBlock("unroll.rem")
	b.SetInsertPoint(epi)

	cur := map[ir.ValueID]ir.ValueID{}
	for _, phi := range cl.phis {
		cur[phi.Result] = phi.Result
	}

	for k := int64(0); k < rem; k++ {
		cur = copyIteration(b, body, cl.phis, latch, cur)
	}

	b.CreateBr(cl.exit)

	cl.term.ReplaceTarget(cl.exit, epi)

	for _, phi := range f.Phis(cl.exit) {
		phi.RenameIncoming(cl.header, epi)
	}

	// after the loop the header phis are stale by rem iterations
	for _, blk := range f.Blocks() {
		if blk.ID == cl.header || blk.ID == cl.body || blk.ID == epi {
			continue
		}

		for _, id := range blk.Instrs {
			in := f.Instr(id)

			for i, a := range in.Args {
				if v, ok := cur[a]; ok {
					in.Args[i] = v
				}
			}
		}
	}
}

// copyIteration emits one more copy of the loop body at the builder's
// insert point. phiVals maps each header phi to its value on entry to the
// copy; the returned map gives the values for the next copy.
func copyIteration(b *ir.Builder, body []*ir.Instr, phis []*ir.Instr, latch, phiVals map[ir.ValueID]ir.ValueID) map[ir.ValueID]ir.ValueID {
	vm := map[ir.ValueID]ir.ValueID{}

	remap := func(v ir.ValueID) ir.ValueID {
		if x, ok := vm[v]; ok {
			return x
		}

		if x, ok := phiVals[v]; ok {
			return x
		}

		return v
	}

	for _, in := range body {
		r := b.CreateCopy(in, remap)
		if in.Result != ir.NoValue {
			vm[in.Result] = r
		}
	}

	next := make(map[ir.ValueID]ir.ValueID, len(phis))
	for _, phi := range phis {
		next[phi.Result] = remap(latch[phi.Result])
	}

	return next
}
