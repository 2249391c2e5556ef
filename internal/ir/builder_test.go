package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JoeySoprano420/C.A.S.E.-Programming-Language--sub003/internal/diag"
)

// sumLoop builds
//
//	func sum(n i64) i64 { s := 0; for i := 0; i < n; i++ { s += i }; return s }
func sumLoop(t testing.TB) (*Module, *Function) {
	t.Helper()

	m := NewModule("test")
	f := m.NewFunction("sum", []Param{{Name: "n", Type: I64}}, I64)
	b := NewBuilder(f)

	entry := b.CreateBlock("entry")
	head := b.CreateBlock("head")
	body := b.CreateBlock("body")
	exit := b.CreateBlock("exit")

	b.SetInsertPoint(entry)
	n := b.CreateParam(0)
	b.CreateBr(head)

	b.SetInsertPoint(head)
	i := b.CreatePhi(I64, PhiEdge{b.ConstInt(I64, 0), entry})
	s := b.CreatePhi(I64, PhiEdge{b.ConstInt(I64, 0), entry})
	c := b.CreateCmp(PredLT, i, n)
	b.CreateCondBr(c, body, exit)

	b.SetInsertPoint(body)
	s2 := b.CreateAdd(s, i)
	i2 := b.CreateAdd(i, b.ConstInt(I64, 1))
	b.CreateBr(head)

	b.AddPhiIncoming(i, i2, body)
	b.AddPhiIncoming(s, s2, body)

	b.SetInsertPoint(exit)
	b.CreateRet(s)

	return m, f
}

func TestBuilderLoop(t *testing.T) {
	m, f := sumLoop(t)

	warns, err := Verify(m)
	require.NoError(t, err)
	assert.Empty(t, warns)

	assert.Equal(t, []BlockID{1}, f.Block(0).Succs)
	assert.ElementsMatch(t, []BlockID{0, 2}, f.Block(1).Preds)
	assert.Len(t, f.Phis(1), 2)

	exp := `func @sum(n i64) i64 {
b0 entry: ; entry
  %1 = param 0 i64
  br b1
b1 head: ; preds b0, b2
  %3 = phi i64 [0:i64, b0], [%8, b2]
  %4 = phi i64 [0:i64, b0], [%6, b2]
  %5 = cmp lt %3, %1
  condbr %5, b2, b3
b2 body: ; preds b1
  %6 = add i64 %4, %3
  %8 = add i64 %3, 1:i64
  br b1
b3 exit: ; preds b1
  ret %4
}
`
	assert.Equal(t, exp, f.String())
}

func TestBuilderNoInsertPoint(t *testing.T) {
	m := NewModule("test")
	f := m.NewFunction("f", nil, I64)
	b := NewBuilder(f)

	defer func() {
		p := recover()
		require.NotNil(t, p, "expected panic")

		e, ok := p.(*diag.Error)
		require.True(t, ok, "%T", p)
		assert.Equal(t, diag.KindVerify, e.Kind)
		assert.Contains(t, e.Message, "no insertion point")
	}()

	b.CreateAdd(b.ConstInt(I64, 1), b.ConstInt(I64, 2))
}

func TestBuilderTypeMismatch(t *testing.T) {
	m := NewModule("test")
	f := m.NewFunction("f", nil, I64)
	b := NewBuilder(f)
	b.SetInsertPoint(b.CreateBlock("entry"))

	assert.Panics(t, func() {
		b.CreateAdd(b.ConstInt(I64, 1), b.ConstInt(I32, 2))
	})

	assert.Panics(t, func() {
		b.CreateCall("nowhere")
	})
}

func TestConstInterning(t *testing.T) {
	m := NewModule("test")
	f := m.NewFunction("f", nil, Void)

	a := f.ConstInt(I64, 5)
	assert.Equal(t, a, f.ConstInt(I64, 5))
	assert.NotEqual(t, a, f.ConstInt(I32, 5))

	// wrapping to the declared width
	assert.Equal(t, int64(-1), f.Value(f.ConstInt(I8, 255)).Int())
	assert.Equal(t, uint64(255), f.Value(f.ConstInt(U8, -1)).Uint())
	assert.Equal(t, 1.5, f.Value(f.ConstFloat(F64, 1.5)).Float())
}

func TestCreatePhiStaysFirst(t *testing.T) {
	m := NewModule("test")
	f := m.NewFunction("f", nil, I64)
	b := NewBuilder(f)

	entry := b.CreateBlock("entry")
	join := b.CreateBlock("join")

	b.SetInsertPoint(entry)
	b.CreateBr(join)

	b.SetInsertPoint(join)
	x := b.CreateAdd(b.ConstInt(I64, 1), b.ConstInt(I64, 2))
	p := b.CreatePhi(I64, PhiEdge{b.ConstInt(I64, 7), entry})
	b.CreateRet(b.CreateAdd(x, p))

	blk := f.Block(join)
	assert.Equal(t, OpPhi, f.Instr(blk.Instrs[0]).Op)

	_, err := VerifyFunction(f)
	require.NoError(t, err)
}

func TestCreateCopy(t *testing.T) {
	_, f := sumLoop(t)
	b := NewBuilder(f)

	body := f.Block(2)
	add := f.Instr(body.Instrs[0])

	b.SetInsertBefore(body.Instrs[2])
	r := b.CreateCopy(add, func(v ValueID) ValueID { return v })

	assert.NotEqual(t, add.Result, r)
	assert.Len(t, body.Instrs, 4)
	assert.Equal(t, OpBr, f.Instr(body.Instrs[3]).Op)
}
