package ir

import (
	"slices"

	"github.com/JoeySoprano420/C.A.S.E.-Programming-Language--sub003/internal/diag"
)

// PhiEdge is one incoming (value, predecessor) pair of a phi.
type PhiEdge struct {
	Value ValueID
	Pred  BlockID
}

// SwitchCase maps a constant to a target block.
type SwitchCase struct {
	Value  int64
	Target BlockID
}

// Builder appends instructions to a Function. Every Create call adds exactly
// one instruction at the insertion point and allocates a fresh id for its
// result. Calling a Create method without an insertion point, or with
// operands that do not belong to the function, panics with a diag.Error.
type Builder struct {
	fn     *Function
	cur    BlockID
	before InstrID
	pos    Pos
}

func NewBuilder(f *Function) *Builder {
	return &Builder{fn: f, cur: NoBlock}
}

func (b *Builder) Func() *Function { return b.fn }

// CreateBlock adds an empty block. The first block created is the entry.
// The insertion point is not changed.
func (b *Builder) CreateBlock(label string) BlockID {
	return b.fn.newBlock(label).ID
}

// SetInsertPoint makes subsequent instructions append to the end of id.
func (b *Builder) SetInsertPoint(id BlockID) {
	if b.fn.Block(id) == nil {
		b.fail("insert point %v does not exist", id)
	}

	b.cur = id
	b.before = NoInstr
}

// SetInsertBefore makes subsequent instructions go right before in.
func (b *Builder) SetInsertBefore(id InstrID) {
	in := b.fn.Instr(id)
	if in == nil || in.dead {
		b.fail("insert point instruction %d does not exist", id)
	}

	b.cur = in.Block
	b.before = id
}

func (b *Builder) ClearInsertPoint() {
	b.cur = NoBlock
	b.before = NoInstr
}

// InsertBlock returns the current insertion block or NoBlock.
func (b *Builder) InsertBlock() BlockID { return b.cur }

// Terminated reports whether the insertion block already ends in a terminator.
func (b *Builder) Terminated() bool {
	return b.cur != NoBlock && b.fn.Terminator(b.cur) != nil
}

// SetPos sets the source position recorded on following instructions.
func (b *Builder) SetPos(p Pos) { b.pos = p }

func (b *Builder) ConstInt(t Type, v int64) ValueID     { return b.fn.ConstInt(t, v) }
func (b *Builder) ConstFloat(t Type, v float64) ValueID { return b.fn.ConstFloat(t, v) }

func (b *Builder) ConstBool(v bool) ValueID {
	if v {
		return b.fn.ConstInt(Bool, 1)
	}

	return b.fn.ConstInt(Bool, 0)
}

func (b *Builder) CreateParam(i int) ValueID {
	if i < 0 || i >= len(b.fn.Params) {
		b.fail("param index %d out of range", i)
	}

	in := b.insert(&Instr{Op: OpParam, Index: i})

	return b.result(in, b.fn.Params[i].Type)
}

func (b *Builder) CreateAdd(l, r ValueID) ValueID { return b.CreateBinary(OpAdd, l, r) }
func (b *Builder) CreateSub(l, r ValueID) ValueID { return b.CreateBinary(OpSub, l, r) }
func (b *Builder) CreateMul(l, r ValueID) ValueID { return b.CreateBinary(OpMul, l, r) }
func (b *Builder) CreateDiv(l, r ValueID) ValueID { return b.CreateBinary(OpDiv, l, r) }

// CreateBinary creates any two-operand arithmetic or logic instruction.
// Both operands must have the same scalar type, which is the result type.
// Shifts take the count in the type of the shifted value.
func (b *Builder) CreateBinary(op Op, l, r ValueID) ValueID {
	if !op.IsBinary() {
		b.fail("%v is not a binary op", op)
	}

	t := b.sameType(op, l, r)
	if !t.Kind.IsScalar() || t.Kind == KindPtr && op != OpAdd && op != OpSub {
		b.fail("%v on %v", op, t)
	}

	if t.IsFloat() && op >= OpRem {
		b.fail("%v on float type %v", op, t)
	}

	in := b.insert(&Instr{Op: op, Args: []ValueID{l, r}})

	return b.result(in, t)
}

func (b *Builder) CreateNeg(x ValueID) ValueID { return b.createUnary(OpNeg, b.typeOf(x), x) }
func (b *Builder) CreateNot(x ValueID) ValueID { return b.createUnary(OpNot, b.typeOf(x), x) }

// CreateICast converts between integer types by wrapping or extending to
// the width and signedness of t.
func (b *Builder) CreateICast(t Type, x ValueID) ValueID {
	if !t.IsIntLike() || !b.typeOf(x).IsIntLike() {
		b.fail("icast %v -> %v", b.typeOf(x), t)
	}

	return b.createUnary(OpICast, t, x)
}

// CreateIToF converts an integer to float type t.
func (b *Builder) CreateIToF(t Type, x ValueID) ValueID {
	if !t.IsFloat() || !b.typeOf(x).IsIntLike() {
		b.fail("itof %v -> %v", b.typeOf(x), t)
	}

	return b.createUnary(OpIToF, t, x)
}

// CreateFToI converts a float to integer type t, truncating toward zero.
func (b *Builder) CreateFToI(t Type, x ValueID) ValueID {
	if !t.IsInt() || !b.typeOf(x).IsFloat() {
		b.fail("ftoi %v -> %v", b.typeOf(x), t)
	}

	return b.createUnary(OpFToI, t, x)
}

func (b *Builder) createUnary(op Op, t Type, x ValueID) ValueID {
	b.check(x)

	in := b.insert(&Instr{Op: op, Args: []ValueID{x}})

	return b.result(in, t)
}

// CreateCmp compares two values of the same type and yields a bool.
func (b *Builder) CreateCmp(p Pred, l, r ValueID) ValueID {
	b.sameType(OpCmp, l, r)

	in := b.insert(&Instr{Op: OpCmp, Pred: p, Args: []ValueID{l, r}})

	return b.result(in, Bool)
}

// CreateAlloca reserves stack storage for t and returns its address.
func (b *Builder) CreateAlloca(t Type) ValueID {
	if t.Size() == 0 {
		b.fail("alloca of zero-sized %v", t)
	}

	in := b.insert(&Instr{Op: OpAlloca, Type: t})

	return b.result(in, Ptr)
}

// CreateLoad reads a value of type t from ptr.
func (b *Builder) CreateLoad(t Type, ptr ValueID) ValueID {
	b.checkPtr(ptr)

	in := b.insert(&Instr{Op: OpLoad, Args: []ValueID{ptr}})

	return b.result(in, t)
}

func (b *Builder) CreateStore(v, ptr ValueID) {
	b.check(v)
	b.checkPtr(ptr)

	b.insert(&Instr{Op: OpStore, Args: []ValueID{v, ptr}})
}

// CreateElemPtr computes base + index*sizeof(elem).
func (b *Builder) CreateElemPtr(elem Type, base, index ValueID) ValueID {
	b.checkPtr(base)

	if !b.typeOf(index).IsInt() {
		b.fail("elemptr index of type %v", b.typeOf(index))
	}

	in := b.insert(&Instr{Op: OpElemPtr, Type: elem, Args: []ValueID{base, index}})

	return b.result(in, Ptr)
}

// CreateGlobalAddr yields the address of a module global.
func (b *Builder) CreateGlobalAddr(name string) ValueID {
	if b.fn.Module == nil || b.fn.Module.Global(name) == nil {
		b.fail("unknown global %q", name)
	}

	in := b.insert(&Instr{Op: OpGlobalAddr, Callee: name})

	return b.result(in, Ptr)
}

func (b *Builder) CreateBr(dest BlockID) {
	b.checkBlock(dest)

	b.insertTerm(&Instr{Op: OpBr, Targets: []BlockID{dest}})
}

func (b *Builder) CreateCondBr(cond ValueID, t, f BlockID) {
	if b.typeOf(cond).Kind != KindBool {
		b.fail("condbr on %v", b.typeOf(cond))
	}

	b.checkBlock(t)
	b.checkBlock(f)

	b.insertTerm(&Instr{Op: OpCondBr, Args: []ValueID{cond}, Targets: []BlockID{t, f}})
}

func (b *Builder) CreateSwitch(v ValueID, def BlockID, cases ...SwitchCase) {
	if !b.typeOf(v).IsIntLike() {
		b.fail("switch on %v", b.typeOf(v))
	}

	b.checkBlock(def)

	in := &Instr{Op: OpSwitch, Args: []ValueID{v}, Targets: []BlockID{def}}

	for _, c := range cases {
		b.checkBlock(c.Target)

		in.Targets = append(in.Targets, c.Target)
		in.Cases = append(in.Cases, c.Value)
	}

	b.insertTerm(in)
}

// CreateRet returns v, or nothing when v is NoValue.
func (b *Builder) CreateRet(v ValueID) {
	in := &Instr{Op: OpRet}

	if v != NoValue {
		b.check(v)
		in.Args = []ValueID{v}
	}

	b.insertTerm(in)
}

// CreateCall calls a module function or a declared extern. The result is
// NoValue for void callees.
func (b *Builder) CreateCall(callee string, args ...ValueID) ValueID {
	if b.fn.Module == nil {
		b.fail("call %q from a function without module", callee)
	}

	params, res, ok := b.fn.Module.Signature(callee)
	if !ok {
		b.fail("call of undeclared %q", callee)
	}

	if len(params) != len(args) {
		b.fail("call %q with %d args, want %d", callee, len(args), len(params))
	}

	for _, a := range args {
		b.check(a)
	}

	in := b.insert(&Instr{Op: OpCall, Callee: callee, Args: slices.Clone(args)})

	if res.IsVoid() {
		return NoValue
	}

	return b.result(in, res)
}

// CreatePhi adds a phi of type t to the insertion block. Phis are kept
// ahead of all other instructions of the block.
func (b *Builder) CreatePhi(t Type, edges ...PhiEdge) ValueID {
	blk := b.block()

	in := b.fn.newInstr(&Instr{Op: OpPhi, Pos: b.pos})

	for _, e := range edges {
		b.check(e.Value)

		in.Args = append(in.Args, e.Value)
		in.Incoming = append(in.Incoming, e.Pred)
	}

	i := 0
	for i < len(blk.Instrs) && b.fn.instrs[blk.Instrs[i]].Op == OpPhi {
		i++
	}

	b.fn.insertAt(blk, i, in.ID)

	return b.result(in, t)
}

// AddPhiIncoming sets the value a phi receives from pred.
func (b *Builder) AddPhiIncoming(phi ValueID, v ValueID, pred BlockID) {
	in := b.fn.Def(phi)
	if in == nil || in.Op != OpPhi {
		b.fail("%v is not a phi", phi)
	}

	b.check(v)
	in.SetIncoming(pred, v)
}

// CreateVectorAdd adds two vectors lane-wise.
func (b *Builder) CreateVectorAdd(l, r ValueID) ValueID { return b.CreateVectorOp(OpVectorAdd, l, r) }

// CreateVectorOp creates a lane-wise VectorAdd, VectorSub or VectorMul.
func (b *Builder) CreateVectorOp(op Op, l, r ValueID) ValueID {
	if ScalarOf(op) == OpInvalid {
		b.fail("%v is not a lane-wise op", op)
	}

	t := b.sameType(op, l, r)
	if !t.IsVector() {
		b.fail("%v on non-vector %v", op, t)
	}

	in := b.insert(&Instr{Op: op, Args: []ValueID{l, r}})

	return b.result(in, t)
}

// CreateBroadcast replicates a scalar into every lane of vector type t.
func (b *Builder) CreateBroadcast(t Type, scalar ValueID) ValueID {
	if !t.IsVector() || b.typeOf(scalar).Kind != t.Elem {
		b.fail("broadcast %v to %v", b.typeOf(scalar), t)
	}

	in := b.insert(&Instr{Op: OpBroadcast, Args: []ValueID{scalar}})

	return b.result(in, t)
}

// CreateVectorLoad loads t.Lanes consecutive elements starting at ptr.
func (b *Builder) CreateVectorLoad(t Type, ptr ValueID) ValueID {
	if !t.IsVector() {
		b.fail("vload of %v", t)
	}

	b.checkPtr(ptr)

	in := b.insert(&Instr{Op: OpVectorLoad, Args: []ValueID{ptr}})

	return b.result(in, t)
}

func (b *Builder) CreateVectorStore(v, ptr ValueID) {
	if !b.typeOf(v).IsVector() {
		b.fail("vstore of %v", b.typeOf(v))
	}

	b.checkPtr(ptr)

	b.insert(&Instr{Op: OpVectorStore, Args: []ValueID{v, ptr}})
}

func (b *Builder) block() *Block {
	if b.cur == NoBlock {
		b.fail("no insertion point")
	}

	return b.fn.Block(b.cur)
}

func (b *Builder) insert(in *Instr) *Instr {
	blk := b.block()

	in.Pos = b.pos
	b.fn.newInstr(in)

	if b.before == NoInstr {
		blk.Instrs = append(blk.Instrs, in.ID)
		in.Block = blk.ID

		return in
	}

	i := slices.Index(blk.Instrs, b.before)
	if i < 0 {
		b.fail("insert point instruction %d moved", b.before)
	}

	b.fn.insertAt(blk, i, in.ID)

	return in
}

func (b *Builder) insertTerm(in *Instr) {
	in = b.insert(in)
	blk := b.fn.Block(in.Block)

	for _, s := range successors(in) {
		if !slices.Contains(blk.Succs, s) {
			blk.Succs = append(blk.Succs, s)
		}

		sb := b.fn.Block(s)
		if !slices.Contains(sb.Preds, blk.ID) {
			sb.Preds = append(sb.Preds, blk.ID)
		}
	}
}

func (b *Builder) result(in *Instr, t Type) ValueID {
	in.Result = b.fn.newRegister(t, in.ID)
	return in.Result
}

func (b *Builder) typeOf(v ValueID) Type {
	b.check(v)
	return b.fn.TypeOf(v)
}

func (b *Builder) sameType(op Op, l, r ValueID) Type {
	lt, rt := b.typeOf(l), b.typeOf(r)
	if !lt.Equal(rt) {
		b.fail("%v operands differ in type: %v and %v", op, lt, rt)
	}

	return lt
}

func (b *Builder) check(v ValueID) {
	if b.fn.Value(v) == nil {
		b.fail("value %v does not belong to %s", v, b.fn.Name)
	}
}

func (b *Builder) checkPtr(v ValueID) {
	if b.typeOf(v).Kind != KindPtr {
		b.fail("%v is %v, want ptr", v, b.typeOf(v))
	}
}

func (b *Builder) checkBlock(id BlockID) {
	if b.fn.Block(id) == nil {
		b.fail("branch to missing block %v", id)
	}
}

func (b *Builder) fail(format string, args ...any) {
	w := diag.Where{Func: b.fn.Name}
	if b.cur != NoBlock {
		w.Block = b.cur.String()
	}

	diag.Fail(diag.KindVerify, w, format, args...)
}

// ReplacePhi replaces every use of a phi by with and deletes the phi. It is
// used by front ends that construct SSA on the fly and find a phi trivial.
func (b *Builder) ReplacePhi(phi, with ValueID) {
	in := b.fn.Def(phi)
	if in == nil || in.Op != OpPhi {
		b.fail("%v is not a phi", phi)
	}

	b.fn.ReplaceAllUses(phi, with)
	b.fn.RemoveInstr(in.ID)
}

// Users returns the live instructions that use v.
func (b *Builder) Users(v ValueID) []*Instr {
	var r []*Instr

	for _, blk := range b.fn.Blocks() {
		for _, id := range blk.Instrs {
			in := b.fn.Instr(id)

			if slices.Contains(in.Args, v) {
				r = append(r, in)
			}
		}
	}

	return r
}

// CreateCopy duplicates a non-terminator, non-phi instruction with its
// operands passed through remap. It returns the new result or NoValue.
func (b *Builder) CreateCopy(src *Instr, remap func(ValueID) ValueID) ValueID {
	if src.Op == OpPhi || src.IsTerminator() {
		b.fail("cannot copy %v", src.Op)
	}

	in := &Instr{
		Op:     src.Op,
		Pred:   src.Pred,
		Type:   src.Type,
		Index:  src.Index,
		Callee: src.Callee,
		Args:   make([]ValueID, len(src.Args)),
	}

	for i, a := range src.Args {
		in.Args[i] = remap(a)
		b.check(in.Args[i])
	}

	pos := b.pos
	b.pos = src.Pos
	b.insert(in)
	b.pos = pos

	if src.Result == NoValue {
		return NoValue
	}

	return b.result(in, b.fn.TypeOf(src.Result))
}
