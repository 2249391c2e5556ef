package interp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JoeySoprano420/C.A.S.E.-Programming-Language--sub003/internal/ir"
)

func sumModule() *ir.Module {
	m := ir.NewModule("test")
	f := m.NewFunction("sum", []ir.Param{{Name: "n", Type: ir.I64}}, ir.I64)
	b := ir.NewBuilder(f)

	entry := b.CreateBlock("entry")
	head := b.CreateBlock("head")
	body := b.CreateBlock("body")
	exit := b.CreateBlock("exit")

	b.SetInsertPoint(entry)
	n := b.CreateParam(0)
	b.CreateBr(head)

	b.SetInsertPoint(head)
	i := b.CreatePhi(ir.I64, ir.PhiEdge{Value: b.ConstInt(ir.I64, 0), Pred: entry})
	s := b.CreatePhi(ir.I64, ir.PhiEdge{Value: b.ConstInt(ir.I64, 0), Pred: entry})
	b.CreateCondBr(b.CreateCmp(ir.PredLT, i, n), body, exit)

	b.SetInsertPoint(body)
	s2 := b.CreateAdd(s, i)
	i2 := b.CreateAdd(i, b.ConstInt(ir.I64, 1))
	b.CreateBr(head)

	b.AddPhiIncoming(i, i2, body)
	b.AddPhiIncoming(s, s2, body)

	b.SetInsertPoint(exit)
	b.CreateRet(s)

	return m
}

func TestRunLoop(t *testing.T) {
	vm := New(sumModule())

	r, err := vm.Run("sum", 10)
	require.NoError(t, err)
	assert.Equal(t, int64(45), r)

	r, err = vm.Run("sum", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(0), r)
}

func TestStepLimit(t *testing.T) {
	vm := New(sumModule())
	vm.MaxSteps = 100

	_, err := vm.Run("sum", 1000)
	assert.ErrorIs(t, err, ErrStepLimit)
}

func TestMemoryAndCalls(t *testing.T) {
	m := ir.NewModule("test")
	m.AddGlobal("msg", ir.Array(ir.KindU8, 3), []byte("hi\n"))
	m.DeclareExtern("write", []ir.Type{ir.I64, ir.Ptr, ir.I64}, ir.I64)
	m.DeclareExtern("exit", []ir.Type{ir.I64}, ir.Void)

	sq := m.NewFunction("sq", []ir.Param{{Name: "x", Type: ir.I32}}, ir.I32)
	b := ir.NewBuilder(sq)
	b.SetInsertPoint(b.CreateBlock("entry"))
	x := b.CreateParam(0)
	b.CreateRet(b.CreateMul(x, x))

	f := m.NewFunction("main", nil, ir.I64)
	b = ir.NewBuilder(f)
	b.SetInsertPoint(b.CreateBlock("entry"))

	arr := b.CreateAlloca(ir.Array(ir.KindI32, 4))
	p := b.CreateElemPtr(ir.I32, arr, b.ConstInt(ir.I64, 2))
	b.CreateStore(b.CreateCall("sq", b.ConstInt(ir.I32, 70000)), p)
	v := b.CreateLoad(ir.I32, p)

	b.CreateCall("write", b.ConstInt(ir.I64, 1), b.CreateGlobalAddr("msg"), b.ConstInt(ir.I64, 3))

	vec := ir.Vector(ir.KindI32, 4)
	all := b.CreateBroadcast(vec, v)
	b.CreateVectorStore(b.CreateVectorAdd(all, all), arr)
	w := b.CreateLoad(ir.I32, b.CreateElemPtr(ir.I32, arr, b.ConstInt(ir.I64, 3)))

	b.CreateCall("exit", b.CreateFToI(ir.I64, b.CreateIToF(ir.F64, w)))
	b.CreateRet(b.ConstInt(ir.I64, 99))

	_, err := ir.Verify(m)
	require.NoError(t, err)

	vm := New(m)

	r, err := vm.Run("main")
	require.NoError(t, err)

	sqr := int64(int32(70000 * 70000 & 0xffffffff))
	assert.Equal(t, int64(int32(2*sqr)), r)
	assert.Equal(t, "hi\n", vm.Output.String())
}

func TestSwitch(t *testing.T) {
	m := ir.NewModule("test")
	f := m.NewFunction("pick", []ir.Param{{Name: "x", Type: ir.I64}}, ir.I64)
	b := ir.NewBuilder(f)

	entry := b.CreateBlock("entry")
	one := b.CreateBlock("one")
	two := b.CreateBlock("two")
	def := b.CreateBlock("default")

	b.SetInsertPoint(entry)
	b.CreateSwitch(b.CreateParam(0), def, ir.SwitchCase{Value: 1, Target: one}, ir.SwitchCase{Value: 2, Target: two})

	for blk, v := range map[ir.BlockID]int64{one: 10, two: 20, def: -1} {
		b.SetInsertPoint(blk)
		b.CreateRet(b.ConstInt(ir.I64, v))
	}

	vm := New(m)

	for in, want := range map[int64]int64{1: 10, 2: 20, 3: -1} {
		r, err := vm.Run("pick", in)
		require.NoError(t, err)
		assert.Equal(t, want, r)
	}
}
