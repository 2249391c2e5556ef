package opt

import (
	"slices"

	"github.com/JoeySoprano420/C.A.S.E.-Programming-Language--sub003/internal/ir"
)

// Vectorize rewrites counted loops of unit step whose body is elementwise
// arithmetic over arrays indexed by the induction variable:
//
//	p = elemptr T, a, iv    ->  p = elemptr T, a, iv
//	x = load T, p               x = vload <W x T>, p
//	y = add x, c                y = vadd x, broadcast(c)
//	store y, q                  vstore y, q
//	next = add iv, 1            next = add iv, W
//
// The trip count must be a multiple of the lane count W, and arrays read
// and written must be the same object or provably distinct ones.
type Vectorize struct {
	Bits  int
	SSE41 bool
}

func (Vectorize) Name() string { return "vectorize" }

func (v Vectorize) Run(f *ir.Function, st *Stats) (changed bool) {
	if v.Bits < 128 {
		return false
	}

	for _, l := range f.Loops(f.Dominators()) {
		term := f.Terminator(l.Header)
		if term == nil || term.Op != ir.OpCondBr {
			continue
		}

		if _, ok := term.GetMeta(metaVectorize); ok {
			continue
		}

		changed = true

		cl, why := matchCounted(f, l)
		if cl == nil {
			term.SetMeta(metaVectorize, "skip:"+why)
			continue
		}

		vt, why := v.vectorize(f, cl)
		if why != "" {
			term.SetMeta(metaVectorize, "skip:"+why)
			continue
		}

		term.SetMeta(metaVectorize, vt.String())
		st.Vectorized++
	}

	return changed
}

// laneShape is the body of a loop accepted by analyze.
type laneShape struct {
	kind  ir.Kind
	ptrs  map[ir.ValueID]*ir.Instr // elemptr indexed by iv
	lanes map[ir.ValueID]bool      // loads and arithmetic on them
	work  []*ir.Instr              // loads, arithmetic and stores in order
	bases []ir.ValueID
}

func (v Vectorize) vectorize(f *ir.Function, cl *countedLoop) (ir.Type, string) {
	if cl.step != 1 {
		return ir.Type{}, "step"
	}

	if len(cl.phis) != 1 {
		return ir.Type{}, "phi"
	}

	sh, why := analyze(f, cl)
	if why != "" {
		return ir.Type{}, why
	}

	if !v.supported(sh) {
		return ir.Type{}, "type"
	}

	w := v.Bits / sh.kind.Bits()
	if cl.trip < int64(w) || cl.trip%int64(w) != 0 {
		return ir.Type{}, "trip"
	}

	if !disjoint(f, sh.bases) {
		return ir.Type{}, "alias"
	}

	vt := ir.Vector(sh.kind, w)
	rewriteLanes(f, cl, sh, vt)

	return vt, ""
}

func analyze(f *ir.Function, cl *countedLoop) (*laneShape, string) {
	sh := &laneShape{
		kind:  ir.KindVoid,
		ptrs:  map[ir.ValueID]*ir.Instr{},
		lanes: map[ir.ValueID]bool{},
	}

	elem := func(k ir.Kind) bool {
		if sh.kind == ir.KindVoid {
			sh.kind = k
		}

		return sh.kind == k
	}

	lane := func(a ir.ValueID) bool { return sh.lanes[a] }
	inv := func(a ir.ValueID) bool { return cl.invariant(f, a) && f.TypeOf(a).Kind == sh.kind }

	stores := 0

	for _, in := range cl.bodyInstrs(f) {
		switch {
		case in == cl.next:
		case in.Op == ir.OpElemPtr:
			if in.Args[1] != cl.iv.Result || !cl.invariant(f, in.Args[0]) || !elem(in.Type.Kind) {
				return nil, "body"
			}

			sh.ptrs[in.Result] = in
		case in.Op == ir.OpLoad:
			p, ok := sh.ptrs[in.Args[0]]
			if !ok || f.TypeOf(in.Result).Kind != sh.kind {
				return nil, "body"
			}

			sh.lanes[in.Result] = true
			sh.work = append(sh.work, in)
			sh.bases = append(sh.bases, p.Args[0])
		case in.Op == ir.OpStore:
			p, ok := sh.ptrs[in.Args[1]]
			if !ok || !lane(in.Args[0]) && !inv(in.Args[0]) {
				return nil, "body"
			}

			stores++
			sh.work = append(sh.work, in)
			sh.bases = append(sh.bases, p.Args[0])
		case in.Op == ir.OpAdd || in.Op == ir.OpSub || in.Op == ir.OpMul:
			x, y := in.Args[0], in.Args[1]
			if !lane(x) && !lane(y) || !lane(x) && !inv(x) || !lane(y) && !inv(y) {
				return nil, "body"
			}

			sh.lanes[in.Result] = true
			sh.work = append(sh.work, in)
		default:
			return nil, "body"
		}
	}

	if stores == 0 {
		return nil, "body"
	}

	// lane values and the induction variable must not be observed
	// anywhere a single element would be expected
	for _, blk := range f.Blocks() {
		for _, id := range blk.Instrs {
			in := f.Instr(id)

			for i, a := range in.Args {
				switch {
				case a == cl.iv.Result:
					if in != cl.cmp && in != cl.next && !(in.Op == ir.OpElemPtr && sh.ptrs[in.Result] == in && i == 1) {
						return nil, "induction"
					}
				case sh.lanes[a]:
					if in.Block != cl.body || in.Op == ir.OpStore && i != 0 || !slices.Contains(sh.work, in) {
						return nil, "escape"
					}
				case sh.ptrs[a] != nil:
					if in.Block != cl.body || in.Op != ir.OpLoad && !(in.Op == ir.OpStore && i == 1) {
						return nil, "escape"
					}
				}
			}
		}
	}

	return sh, ""
}

func (v Vectorize) supported(sh *laneShape) bool {
	mul := false

	for _, in := range sh.work {
		if in.Op == ir.OpMul {
			mul = true
		}
	}

	switch sh.kind {
	case ir.KindI64, ir.KindU64:
		return !mul
	case ir.KindI32, ir.KindU32:
		return !mul || v.SSE41
	case ir.KindF32, ir.KindF64:
		return true
	default:
		return false
	}
}

// disjoint reports whether every pair of array bases is either the same
// value or two allocations. Different allocations never overlap, and two
// addresses of one global are equal at the same index.
func disjoint(f *ir.Function, bases []ir.ValueID) bool {
	object := func(b ir.ValueID) bool {
		def := f.Def(b)
		return def != nil && (def.Op == ir.OpAlloca || def.Op == ir.OpGlobalAddr)
	}

	for i, a := range bases {
		for _, b := range bases[i+1:] {
			if a != b && (!object(a) || !object(b)) {
				return false
			}
		}
	}

	return true
}

func rewriteLanes(f *ir.Function, cl *countedLoop, sh *laneShape, vt ir.Type) {
	b := ir.NewBuilder(f)

	bcast := map[ir.ValueID]ir.ValueID{}

	b.SetInsertBefore(f.Terminator(cl.pre).ID)

	for _, in := range sh.work {
		args := in.Args

		switch in.Op {
		case ir.OpLoad:
			continue
		case ir.OpStore:
			args = args[:1]
		}

		for _, a := range args {
			if !sh.lanes[a] && bcast[a] == ir.NoValue {
				bcast[a] = b.CreateBroadcast(vt, a)
			}
		}
	}

	vec := map[ir.ValueID]ir.ValueID{}

	operand := func(a ir.ValueID) ir.ValueID {
		if x, ok := vec[a]; ok {
			return x
		}

		return bcast[a]
	}

	b.SetInsertBefore(f.Terminator(cl.body).ID)

	for _, in := range sh.work {
		switch in.Op {
		case ir.OpLoad:
			vec[in.Result] = b.CreateVectorLoad(vt, in.Args[0])
		case ir.OpStore:
			b.CreateVectorStore(operand(in.Args[0]), in.Args[1])
		default:
			op, _ := ir.VectorOf(in.Op)
			vec[in.Result] = b.CreateVectorOp(op, operand(in.Args[0]), operand(in.Args[1]))
		}
	}

	for _, in := range slices.Backward(sh.work) {
		f.RemoveInstr(in.ID)
	}

	for i, a := range cl.next.Args {
		if a != cl.iv.Result {
			cl.next.Args[i] = f.ConstInt(cl.typ, int64(vt.Lanes))
		}
	}
}
