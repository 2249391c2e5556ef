package opt

import (
	"github.com/JoeySoprano420/C.A.S.E.-Programming-Language--sub003/internal/ir"
)

const (
	metaUnroll    = "loop.unroll"
	metaVectorize = "loop.vectorize"
)

// countedLoop is a two-block loop
//
//	pre:    br header
//	header: iv = phi [start, pre], [next, body]; ... other phis
//	        c = cmp lt iv, bound
//	        condbr c, body, exit
//	body:   ...
//	        next = add iv, step
//	        br header
//
// with constant start, bound and positive step, and an exit reached only
// from the header.
type countedLoop struct {
	header, body, pre, exit ir.BlockID

	term *ir.Instr // header condbr
	cmp  *ir.Instr
	iv   *ir.Instr
	next *ir.Instr
	phis []*ir.Instr // all header phis, iv included

	typ                ir.Type
	start, bound, step int64
	trip               int64
}

const countLimit = 1 << 48

// matchCounted recognizes l as a counted loop or says why not.
func matchCounted(f *ir.Function, l *ir.Loop) (*countedLoop, string) {
	if len(l.Blocks) != 2 || len(l.Latches) != 1 || l.Latches[0] == l.Header {
		return nil, "shape"
	}

	cl := &countedLoop{header: l.Header, body: l.Latches[0]}

	pre, ok := l.Preheader(f)
	if !ok {
		return nil, "preheader"
	}

	cl.pre = pre

	cl.term = f.Terminator(cl.header)
	if cl.term == nil || cl.term.Op != ir.OpCondBr || cl.term.Targets[0] != cl.body || l.Contains(cl.term.Targets[1]) {
		return nil, "shape"
	}

	cl.exit = cl.term.Targets[1]
	if len(f.Block(cl.exit).Preds) != 1 {
		return nil, "exit"
	}

	if bt := f.Terminator(cl.body); bt == nil || bt.Op != ir.OpBr {
		return nil, "shape"
	}

	cl.phis = f.Phis(cl.header)
	hdr := f.Block(cl.header).Instrs

	if len(hdr) != len(cl.phis)+2 {
		return nil, "header"
	}

	cl.cmp = f.Instr(hdr[len(hdr)-2])
	if cl.cmp.Op != ir.OpCmp || cl.cmp.Result != cl.term.Args[0] || cl.cmp.Pred != ir.PredLT {
		return nil, "condition"
	}

	if f.UseCounts()[cl.cmp.Result] != 1 {
		return nil, "condition"
	}

	cl.iv = f.Def(cl.cmp.Args[0])
	if cl.iv == nil || cl.iv.Op != ir.OpPhi || cl.iv.Block != cl.header {
		return nil, "induction"
	}

	cl.typ = f.TypeOf(cl.iv.Result)
	if !cl.typ.IsInt() {
		return nil, "induction"
	}

	bound, ok := f.IsConst(cl.cmp.Args[1])
	if !ok {
		return nil, "bound"
	}

	startV, _ := cl.iv.PhiValue(cl.pre)

	start, ok := f.IsConst(startV)
	if !ok {
		return nil, "start"
	}

	nextV, _ := cl.iv.PhiValue(cl.body)

	cl.next = f.Def(nextV)
	if cl.next == nil || cl.next.Op != ir.OpAdd || cl.next.Block != cl.body {
		return nil, "step"
	}

	stepV := cl.next.Args[1]
	if cl.next.Args[0] != cl.iv.Result {
		stepV = cl.next.Args[0]

		if cl.next.Args[1] != cl.iv.Result {
			return nil, "step"
		}
	}

	step, ok := f.IsConst(stepV)
	if !ok || step.Int() <= 0 {
		return nil, "step"
	}

	cl.start, cl.bound, cl.step = start.Int(), bound.Int(), step.Int()

	if !cl.typ.Kind.IsSigned() && (cl.start < 0 || cl.bound < 0) {
		return nil, "range"
	}

	if abs(cl.start) >= countLimit || abs(cl.bound) >= countLimit || cl.step >= countLimit {
		return nil, "range"
	}

	if cl.bound > cl.start {
		cl.trip = (cl.bound - cl.start + cl.step - 1) / cl.step
	}

	// the value failing the test must not wrap
	last := cl.start + cl.trip*cl.step
	if ir.Normalize(cl.typ.Kind, uint64(last)) != last {
		return nil, "range"
	}

	return cl, ""
}

// bodyInstrs returns the body instructions without its terminator.
func (cl *countedLoop) bodyInstrs(f *ir.Function) []*ir.Instr {
	ids := f.Block(cl.body).Instrs
	r := make([]*ir.Instr, 0, len(ids))

	for _, id := range ids[:len(ids)-1] {
		r = append(r, f.Instr(id))
	}

	return r
}

// invariant reports values not defined inside the loop.
func (cl *countedLoop) invariant(f *ir.Function, v ir.ValueID) bool {
	def := f.Def(v)
	return def == nil || def.Block != cl.header && def.Block != cl.body
}

func abs(x int64) int64 {
	if x < 0 {
		return -x
	}

	return x
}
