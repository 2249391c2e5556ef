package x86

import (
	"fmt"
	"math"
	"slices"

	"github.com/JoeySoprano420/C.A.S.E.-Programming-Language--sub003/internal/codebuf"
	"github.com/JoeySoprano420/C.A.S.E.-Programming-Language--sub003/internal/diag"
	"github.com/JoeySoprano420/C.A.S.E.-Programming-Language--sub003/internal/ir"
	"github.com/JoeySoprano420/C.A.S.E.-Programming-Language--sub003/internal/regalloc"
)

// funcEncoder emits one function. It performs the moves its allocator
// decides on.
//
// Every instruction follows one template: operands are copied into the
// scratch registers rax and rcx, the operation runs on scratch registers
// only, and the result is moved from rax into the register the allocator
// binds to it. Allocator traffic never touches scratch registers, so a
// reload for the second operand cannot disturb the first.
type funcEncoder struct {
	a     Asm
	f     *ir.Function
	an    *analysis
	mod   *moduleEncoder
	alloc *regalloc.Allocator
	fr    frame

	block  ir.BlockID
	labels int
}

var _ regalloc.Mover = (*funcEncoder)(nil)

func (e *funcEncoder) Spill(r regalloc.Reg, slot int) {
	e.a.Store(RBP, e.fr.slotDisp(slot), Reg(r), W64)
}

func (e *funcEncoder) Reload(slot int, r regalloc.Reg) {
	e.a.Load(Reg(r), W64, false, RBP, e.fr.slotDisp(slot))
}

func blockLabel(f *ir.Function, b ir.BlockID) string {
	return fmt.Sprintf("%s.b%d", f.Name, b)
}

func (e *funcEncoder) local() string {
	e.labels++
	return fmt.Sprintf("%s.L%d", e.f.Name, e.labels)
}

func (e *funcEncoder) define(label string) error {
	return e.a.DefineLabel(label)
}

func (e *funcEncoder) errf(in *ir.Instr, format string, args ...any) error {
	return diag.New(diag.KindEncode, where(e.f, in), format, args...)
}

func (e *funcEncoder) encode() error {
	if err := e.define(e.f.Name); err != nil {
		return err
	}

	for _, v := range e.an.homes {
		e.alloc.SetHome(v)
	}

	if err := e.prologue(); err != nil {
		return err
	}

	for _, b := range e.an.rpo {
		e.block = b

		if err := e.define(blockLabel(e.f, b)); err != nil {
			return err
		}

		for i, id := range e.f.Block(b).Instrs {
			in := e.f.Instr(id)

			if err := e.instr(in, i); err != nil {
				return err
			}
		}

		if err := e.alloc.EndBlock(); err != nil {
			return err
		}
	}

	return nil
}

func (e *funcEncoder) prologue() error {
	a := e.a

	a.Push(RBP)
	a.MovRR(RBP, RSP)

	if e.fr.realign {
		a.OpImm(AND, RSP, -16)
	}

	for _, r := range e.fr.saved {
		a.Push(r)
	}

	if n := e.fr.size(); n != 0 {
		a.OpImm(SUB, RSP, int32(n))
	}

	conv := e.mod.conv

	for _, in := range e.an.params {
		if in.Index >= len(conv.Args) {
			return e.errf(in, "too many arguments: %d registers in the %s convention", len(conv.Args), conv.Name)
		}

		s, ok := e.alloc.Slot(in.Result)
		if !ok {
			continue
		}

		a.Store(RBP, e.fr.slotDisp(s), conv.Args[in.Index], W64)
	}

	if e.an.zero {
		// storage of allocas starts out zeroed
		loop := e.local()

		a.Lea(RCX, RBP, e.fr.fixedDisp(e.an.fixed))
		a.MovRI(RDX, int64(e.an.fixed/8))
		a.MovRI(RAX, 0)

		if err := e.define(loop); err != nil {
			return err
		}

		a.Store(RCX, 0, RAX, W64)
		a.OpImm(ADD, RCX, 8)
		a.OpImm(SUB, RDX, 1)
		a.Jcc(CondNE, loop)
	}

	return nil
}

func (e *funcEncoder) epilogue() {
	a := e.a

	if e.an.wide {
		a.Vzeroupper()
	}

	for i, r := range e.fr.saved {
		a.Load(r, W64, false, RBP, -int32(8*(i+1)))
	}

	a.Leave()
	a.Ret()
}

// load copies the scalar v into dst.
func (e *funcEncoder) load(dst Reg, v ir.ValueID) error {
	if c, ok := e.f.IsConst(v); ok {
		e.a.MovRI(dst, c.Int())
		return nil
	}

	if off, ok := e.an.alloca[v]; ok {
		e.a.Lea(dst, RBP, e.fr.fixedDisp(off))
		return nil
	}

	if g, ok := e.an.globals[v]; ok {
		e.a.LeaRIP(dst, g)
		return nil
	}

	if _, ok := e.an.vslot[v]; ok {
		return e.errf(e.f.Def(v), "vector %v used as a scalar", v)
	}

	r, err := e.alloc.Use(v)
	if err != nil {
		return err
	}

	if Reg(r) != dst {
		e.a.MovRR(dst, Reg(r))
	}

	return nil
}

// place copies v into dst without changing allocator state. It is used
// where registers must not be rebound: call arguments and edge copies.
func (e *funcEncoder) place(dst Reg, v ir.ValueID) error {
	if !e.an.allocated(e.f, v) {
		return e.load(dst, v)
	}

	l, err := e.alloc.Loc(v)
	if err != nil {
		return err
	}

	if l.InReg {
		e.a.MovRR(dst, Reg(l.Reg))
	} else {
		e.a.Load(dst, W64, false, RBP, e.fr.slotDisp(l.Slot))
	}

	return nil
}

// release frees the block-local operands of in whose last use it is.
func (e *funcEncoder) release(in *ir.Instr, i int) {
	for j, a := range in.Args {
		if slices.Contains(in.Args[:j], a) {
			continue
		}

		if !e.an.allocated(e.f, a) || e.an.home[a] {
			continue
		}

		if last, ok := e.an.last[a]; ok && last == i {
			e.alloc.Free(a)
		}
	}
}

// def binds the result of an instruction to a register and moves rax there.
func (e *funcEncoder) def(v ir.ValueID) error {
	if v == ir.NoValue || e.an.uses[v] == 0 && !e.an.home[v] {
		return nil
	}

	r, err := e.alloc.Def(v)
	if err != nil {
		return err
	}

	e.a.MovRR(Reg(r), RAX)
	e.alloc.Written(v)

	return nil
}

// finish is the common tail: operands are dead, the result is in rax.
func (e *funcEncoder) finish(in *ir.Instr, i int) error {
	e.release(in, i)
	return e.def(in.Result)
}

func (e *funcEncoder) instr(in *ir.Instr, i int) (err error) {
	switch {
	case in.Op.IsBinary():
		err = e.binary(in)
	case in.Op.IsUnary():
		err = e.unary(in)
	case in.Op == ir.OpCmp:
		err = e.cmp(in)
	case in.Op.IsVector():
		err = e.vector(in)
	case in.Op == ir.OpCall:
		return e.call(in, i)
	case in.Op.IsTerminator():
		return e.terminator(in, i)
	}

	if err != nil {
		return err
	}

	switch in.Op {
	case ir.OpPhi, ir.OpParam, ir.OpAlloca, ir.OpGlobalAddr:
		// the value lives in its home slot or is rematerialized
		return nil
	case ir.OpLoad:
		err = e.loadOp(in)
	case ir.OpStore:
		err = e.storeOp(in)
	case ir.OpElemPtr:
		err = e.elemPtr(in)
	case ir.OpInvalid:
		return e.errf(in, "unsupported instruction: %v", in.Op)
	}

	if err != nil {
		return err
	}

	if in.Op.IsVector() {
		e.release(in, i)
		return nil
	}

	return e.finish(in, i)
}

func width(k ir.Kind) Width {
	switch k.Bits() {
	case 8:
		return W8
	case 16:
		return W16
	case 32:
		return W32
	default:
		return W64
	}
}

// normalize re-extends rax to the declared width of k.
func (e *funcEncoder) normalize(r Reg, k ir.Kind) {
	switch {
	case k == ir.KindBool:
		e.a.Op32Imm(AND, r, 1)
	case k.IsFloat(), k == ir.KindPtr:
		if k == ir.KindF32 {
			e.a.Extend(r, W32, false)
		}
	default:
		e.a.Extend(r, width(k), k.IsSigned())
	}
}

func (e *funcEncoder) operands(in *ir.Instr) error {
	if err := e.load(RAX, in.Args[0]); err != nil {
		return err
	}

	if len(in.Args) > 1 {
		return e.load(RCX, in.Args[1])
	}

	return nil
}

var aluOps = map[ir.Op]ALU{ir.OpAdd: ADD, ir.OpSub: SUB, ir.OpAnd: AND, ir.OpOr: OR, ir.OpXor: XOR}

func (e *funcEncoder) binary(in *ir.Instr) error {
	a := e.a
	k := e.f.TypeOf(in.Result).Kind

	if k.IsFloat() {
		return e.floatBinary(in, k)
	}

	if err := e.operands(in); err != nil {
		return err
	}

	switch in.Op {
	case ir.OpAdd, ir.OpSub, ir.OpAnd, ir.OpOr, ir.OpXor:
		a.Op(aluOps[in.Op], RAX, RCX)
	case ir.OpMul:
		a.Imul(RAX, RCX)
	case ir.OpShl:
		a.Shl(RAX)
	case ir.OpShr:
		if k.IsSigned() {
			a.Sar(RAX)
		} else {
			a.Shr(RAX)
		}
	case ir.OpDiv, ir.OpRem:
		if err := e.divide(in.Op, k); err != nil {
			return err
		}
	}

	e.normalize(RAX, k)

	return nil
}

// divide computes rax / rcx or rax % rcx. A zero divisor gives zero and a
// signed divisor of -1 is handled without idiv, which would trap on the
// most negative dividend.
func (e *funcEncoder) divide(op ir.Op, k ir.Kind) error {
	a := e.a
	zero, minus, done := e.local(), e.local(), e.local()

	a.Test(RCX, RCX)
	a.Jcc(CondE, zero)

	if k.IsSigned() {
		a.OpImm(CMP, RCX, -1)
		a.Jcc(CondE, minus)
		a.Cqo()
		a.Idiv(RCX)
	} else {
		a.MovRI(RDX, 0)
		a.Div(RCX)
	}

	if op == ir.OpRem {
		a.MovRR(RAX, RDX)
	}

	a.Jmp(done)

	if err := e.define(minus); err != nil {
		return err
	}

	if op == ir.OpDiv {
		a.Neg(RAX)
	} else {
		a.MovRI(RAX, 0)
	}

	a.Jmp(done)

	if err := e.define(zero); err != nil {
		return err
	}

	a.MovRI(RAX, 0)

	return e.define(done)
}

func (e *funcEncoder) floatBinary(in *ir.Instr, k ir.Kind) error {
	a := e.a

	switch in.Op {
	case ir.OpAdd, ir.OpSub, ir.OpMul, ir.OpDiv:
	default:
		return e.errf(in, "unsupported instruction: %v on %v", in.Op, k)
	}

	if err := e.operands(in); err != nil {
		return err
	}

	a.ToX(X0, RAX, k)
	a.ToX(X1, RCX, k)

	if in.Op != ir.OpDiv {
		a.FloatOp(in.Op, k, X0, X1)
		a.FromX(RAX, X0, k)

		return nil
	}

	// x / 0 is 0; ZF set with PF clear means equal
	divide, done := e.local(), e.local()

	a.Xorps(X2, X2)
	a.Ucomis(k, X1, X2)
	a.Jcc(CondP, divide)
	a.Jcc(CondNE, divide)
	a.MovRI(RAX, 0)
	a.Jmp(done)

	if err := e.define(divide); err != nil {
		return err
	}

	a.FloatOp(ir.OpDiv, k, X0, X1)
	a.FromX(RAX, X0, k)

	return e.define(done)
}

func (e *funcEncoder) unary(in *ir.Instr) error {
	a := e.a
	from := e.f.TypeOf(in.Args[0]).Kind
	to := e.f.TypeOf(in.Result).Kind

	if err := e.load(RAX, in.Args[0]); err != nil {
		return err
	}

	switch in.Op {
	case ir.OpNeg:
		switch from {
		case ir.KindF64:
			a.MovRI(RCX, math.MinInt64)
			a.Op(XOR, RAX, RCX)
		case ir.KindF32:
			a.Op32Imm(XOR, RAX, math.MinInt32)
		default:
			a.Neg(RAX)
			e.normalize(RAX, from)
		}
	case ir.OpNot:
		if from == ir.KindBool {
			a.Op32Imm(XOR, RAX, 1)
			break
		}

		a.Not(RAX)
		e.normalize(RAX, from)
	case ir.OpICast:
		e.normalize(RAX, to)
	case ir.OpIToF:
		return e.intToFloat(from, to)
	case ir.OpFToI:
		a.ToX(X0, RAX, from)
		a.Cvttsd2si(RAX, X0, from)
		e.normalize(RAX, to)
	}

	return nil
}

// intToFloat converts rax. Values with the top bit set that are unsigned
// are halved with the low bit kept sticky, converted and doubled, which
// rounds like a direct conversion.
func (e *funcEncoder) intToFloat(from, to ir.Kind) error {
	a := e.a

	if from.IsSigned() || from.Bits() < 64 {
		a.Cvtsi2sd(X0, RAX)
	} else {
		big, done := e.local(), e.local()

		a.Test(RAX, RAX)
		a.Jcc(CondS, big)
		a.Cvtsi2sd(X0, RAX)
		a.Jmp(done)

		if err := e.define(big); err != nil {
			return err
		}

		a.MovRR(RCX, RAX)
		a.ShrImm(RCX, 1)
		a.Op32Imm(AND, RAX, 1)
		a.Op(OR, RCX, RAX)
		a.Cvtsi2sd(X0, RCX)
		a.FloatOp(ir.OpAdd, ir.KindF64, X0, X0)

		if err := e.define(done); err != nil {
			return err
		}
	}

	if to == ir.KindF32 {
		a.Cvtsd2ss(X0, X0)
	}

	a.FromX(RAX, X0, to)

	return nil
}

var (
	signedCond   = [...]Cond{ir.PredEQ: CondE, ir.PredNE: CondNE, ir.PredLT: CondL, ir.PredLE: CondLE, ir.PredGT: CondG, ir.PredGE: CondGE}
	unsignedCond = [...]Cond{ir.PredEQ: CondE, ir.PredNE: CondNE, ir.PredLT: CondB, ir.PredLE: CondBE, ir.PredGT: CondA, ir.PredGE: CondAE}
)

func (e *funcEncoder) cmp(in *ir.Instr) error {
	a := e.a
	k := e.f.TypeOf(in.Args[0]).Kind

	if in.Pred > ir.PredGE {
		return e.errf(in, "unsupported instruction: predicate %v", in.Pred)
	}

	if err := e.operands(in); err != nil {
		return err
	}

	if !k.IsFloat() {
		a.Op(CMP, RAX, RCX)

		c := unsignedCond[in.Pred]
		if k.IsSigned() {
			c = signedCond[in.Pred]
		}

		a.Setcc(c, RAX)
		a.Extend(RAX, W8, false)

		return nil
	}

	a.ToX(X0, RAX, k)
	a.ToX(X1, RCX, k)

	// unordered sets ZF, PF and CF: above and above-or-equal are false
	switch in.Pred {
	case ir.PredGT, ir.PredGE:
		a.Ucomis(k, X0, X1)
	case ir.PredLT, ir.PredLE:
		a.Ucomis(k, X1, X0)
	default:
		a.Ucomis(k, X0, X1)
	}

	switch in.Pred {
	case ir.PredGT, ir.PredLT:
		a.Setcc(CondA, RAX)
	case ir.PredGE, ir.PredLE:
		a.Setcc(CondAE, RAX)
	case ir.PredEQ:
		a.Setcc(CondE, RAX)
		a.Setcc(CondNP, RCX)
	case ir.PredNE:
		a.Setcc(CondNE, RAX)
		a.Setcc(CondP, RCX)
	}

	a.Extend(RAX, W8, false)

	switch in.Pred {
	case ir.PredEQ:
		a.Extend(RCX, W8, false)
		a.Op(AND, RAX, RCX)
	case ir.PredNE:
		a.Extend(RCX, W8, false)
		a.Op(OR, RAX, RCX)
	}

	return nil
}

func (e *funcEncoder) loadOp(in *ir.Instr) error {
	t := e.f.TypeOf(in.Result)
	if !t.Kind.IsScalar() {
		return e.errf(in, "unsupported instruction: load of %v", t)
	}

	if err := e.load(RCX, in.Args[0]); err != nil {
		return err
	}

	e.a.Load(RAX, width(t.Kind), t.Kind.IsSigned(), RCX, 0)

	if t.Kind == ir.KindBool {
		e.normalize(RAX, t.Kind)
	}

	return nil
}

func (e *funcEncoder) storeOp(in *ir.Instr) error {
	t := e.f.TypeOf(in.Args[0])
	if !t.Kind.IsScalar() {
		return e.errf(in, "unsupported instruction: store of %v", t)
	}

	if err := e.operands(in); err != nil {
		return err
	}

	e.a.Store(RCX, 0, RAX, width(t.Kind))

	return nil
}

func (e *funcEncoder) elemPtr(in *ir.Instr) error {
	a := e.a

	if err := e.operands(in); err != nil {
		return err
	}

	switch size := in.Type.Size(); size {
	case 0:
	case 1, 2, 4, 8:
		a.LeaIndex(RAX, RAX, RCX, size)
	default:
		a.MovRI(RDX, int64(size))
		a.Imul(RCX, RDX)
		a.Op(ADD, RAX, RCX)
	}

	return nil
}

func (e *funcEncoder) vector(in *ir.Instr) error {
	a := e.a

	var t ir.Type
	if in.Result != ir.NoValue {
		t = e.f.TypeOf(in.Result)
	} else {
		t = e.f.TypeOf(in.Args[0])
	}

	wide := t.Bits() == 256
	vdisp := func(v ir.ValueID) (int32, error) {
		off, ok := e.an.vslot[v]
		if !ok {
			return 0, e.errf(in, "unsupported instruction: %v operand %v is not a vector", in.Op, v)
		}

		return e.fr.fixedDisp(off), nil
	}

	switch in.Op {
	case ir.OpBroadcast:
		if err := e.load(RAX, in.Args[0]); err != nil {
			return err
		}

		a.ToX(X0, RAX, t.Elem)
		a.Broadcast(X0, t.Elem.Bits(), wide)
	case ir.OpVectorLoad:
		if err := e.load(RCX, in.Args[0]); err != nil {
			return err
		}

		a.LoadVec(X0, RCX, 0, wide)
	case ir.OpVectorStore:
		d, err := vdisp(in.Args[0])
		if err != nil {
			return err
		}

		if err := e.load(RCX, in.Args[1]); err != nil {
			return err
		}

		a.LoadVec(X0, RBP, d, wide)
		a.StoreVec(RCX, 0, X0, wide)

		return nil
	default:
		x, err := vdisp(in.Args[0])
		if err != nil {
			return err
		}

		y, err := vdisp(in.Args[1])
		if err != nil {
			return err
		}

		a.LoadVec(X0, RBP, x, wide)
		a.LoadVec(X1, RBP, y, wide)

		if !a.PackedOp(in.Op, t.Elem, X0, X1, wide) {
			return e.errf(in, "unsupported instruction: %v on %v", in.Op, t)
		}
	}

	d, err := vdisp(in.Result)
	if err != nil {
		return err
	}

	a.StoreVec(RBP, d, X0, wide)

	return nil
}

func (e *funcEncoder) call(in *ir.Instr, i int) error {
	conv := e.mod.conv

	if len(in.Args) > len(conv.Args) {
		return e.errf(in, "too many arguments: %d registers in the %s convention", len(conv.Args), conv.Name)
	}

	for _, v := range in.Args {
		if !e.f.TypeOf(v).Kind.IsScalar() {
			return e.errf(in, "unsupported instruction: argument of type %v", e.f.TypeOf(v))
		}
	}

	if err := e.alloc.SaveAroundCall(); err != nil {
		return err
	}

	// nothing lives in a caller-saved register now, so the argument
	// registers can be written in any order
	for j, v := range in.Args {
		if err := e.place(conv.Args[j], v); err != nil {
			return err
		}
	}

	if err := e.mod.callTarget(e.a, e.f, in); err != nil {
		return err
	}

	e.release(in, i)
	e.alloc.RestoreAfterCall()

	return e.def(in.Result)
}

func (e *funcEncoder) terminator(in *ir.Instr, i int) error {
	a := e.a

	switch in.Op {
	case ir.OpBr:
		if err := e.edge(in.Targets[0]); err != nil {
			return err
		}

		a.Jmp(blockLabel(e.f, in.Targets[0]))
	case ir.OpCondBr:
		if err := e.load(RAX, in.Args[0]); err != nil {
			return err
		}

		e.release(in, i)
		a.Test(RAX, RAX)

		then, els := in.Targets[0], in.Targets[1]

		return e.branch(els, func(l string) { a.Jcc(CondE, l) }, then)
	case ir.OpSwitch:
		return e.switchOp(in, i)
	case ir.OpRet:
		if len(in.Args) != 0 {
			if err := e.load(RAX, in.Args[0]); err != nil {
				return err
			}
		}

		e.release(in, i)
		e.epilogue()
	default:
		return e.errf(in, "unsupported instruction: %v", in.Op)
	}

	return nil
}

// branch emits a conditional jump to target, then the fallthrough edge to
// next. Edges into blocks with phis get a stub doing the copies.
func (e *funcEncoder) branch(target ir.BlockID, jump func(string), next ir.BlockID) error {
	stubs := e.jumps([]ir.BlockID{target}, []func(string){jump})

	if err := e.edge(next); err != nil {
		return err
	}

	e.a.Jmp(blockLabel(e.f, next))

	return stubs()
}

func (e *funcEncoder) switchOp(in *ir.Instr, i int) error {
	a := e.a
	k := e.f.TypeOf(in.Args[0]).Kind

	if err := e.load(RAX, in.Args[0]); err != nil {
		return err
	}

	e.release(in, i)

	targets := in.Targets[1:]
	jumps := make([]func(string), len(targets))

	for j, c := range in.Cases {
		c = ir.Normalize(k, uint64(c))

		jumps[j] = func(l string) {
			if c == int64(int32(c)) {
				a.OpImm(CMP, RAX, int32(c))
			} else {
				a.MovRI(RCX, c)
				a.Op(CMP, RAX, RCX)
			}

			a.Jcc(CondE, l)
		}
	}

	stubs := e.jumps(targets, jumps)

	if err := e.edge(in.Targets[0]); err != nil {
		return err
	}

	a.Jmp(blockLabel(e.f, in.Targets[0]))

	return stubs()
}

// jumps emits the conditional jumps to targets and returns a function
// emitting the copy stubs they need.
func (e *funcEncoder) jumps(targets []ir.BlockID, jump []func(string)) func() error {
	type stub struct {
		label string
		to    ir.BlockID
	}

	var stubs []stub

	for j, t := range targets {
		l := blockLabel(e.f, t)

		if len(e.f.Phis(t)) != 0 {
			l = e.local()
			stubs = append(stubs, stub{label: l, to: t})
		}

		jump[j](l)
	}

	return func() error {
		for _, s := range stubs {
			if err := e.define(s.label); err != nil {
				return err
			}

			if err := e.edge(s.to); err != nil {
				return err
			}

			e.a.Jmp(blockLabel(e.f, s.to))
		}

		return nil
	}
}

// edge stores the phi operands flowing from the current block into the
// home slots of the phis of to. All sources are pushed before any phi is
// written, so phis reading each other see the old values.
func (e *funcEncoder) edge(to ir.BlockID) error {
	phis := e.f.Phis(to)

	for _, phi := range phis {
		v, ok := phi.PhiValue(e.block)
		if !ok {
			return diag.New(diag.KindVerify, where(e.f, phi), "phi has no operand for %v", e.block)
		}

		if err := e.push(v); err != nil {
			return err
		}
	}

	for _, phi := range slices.Backward(phis) {
		s, ok := e.alloc.Slot(phi.Result)
		if !ok {
			return diag.New(diag.KindAlloc, where(e.f, phi), "phi %v has no home slot", phi.Result)
		}

		e.a.PopMem(RBP, e.fr.slotDisp(s))
	}

	return nil
}

func (e *funcEncoder) push(v ir.ValueID) error {
	if !e.an.allocated(e.f, v) {
		if err := e.load(RAX, v); err != nil {
			return err
		}

		e.a.Push(RAX)

		return nil
	}

	l, err := e.alloc.Loc(v)
	if err != nil {
		return err
	}

	if l.InReg {
		e.a.Push(Reg(l.Reg))
	} else {
		e.a.PushMem(RBP, e.fr.slotDisp(l.Slot))
	}

	return nil
}

// encodeFunction runs the two passes. The first, into a scratch buffer,
// finds the callee-saved registers and slots the function needs; the
// second emits it with the final frame.
func (m *moduleEncoder) encodeFunction(f *ir.Function) (st FuncStat, err error) {
	an, err := analyze(f)
	if err != nil {
		return st, err
	}

	fr := frame{
		fixed:   an.fixed,
		shadow:  m.conv.Shadow,
		realign: f.Name == m.entry,
	}

	trial := &funcEncoder{a: Asm{codebuf.New()}, f: f, an: an, mod: m, fr: fr}
	trial.alloc = m.allocator(f, trial)

	if err = trial.encode(); err != nil {
		return st, err
	}

	if !fr.realign {
		for _, r := range trial.alloc.Used() {
			if m.conv.calleeSaved(Reg(r)) {
				fr.saved = append(fr.saved, Reg(r))
			}
		}
	}

	fr.slots = trial.alloc.Slots()

	e := &funcEncoder{a: m.a, f: f, an: an, mod: m, fr: fr}
	e.alloc = m.allocator(f, e)
	e.alloc.SetSpan(m.tr)

	start := m.a.Len()

	if err = e.encode(); err != nil {
		return st, err
	}

	return FuncStat{
		Name:    f.Name,
		Offset:  start,
		Size:    m.a.Len() - start,
		Frame:   fr.size() + 8*len(fr.saved),
		Spills:  e.alloc.Spills,
		Reloads: e.alloc.Reloads,
	}, nil
}
