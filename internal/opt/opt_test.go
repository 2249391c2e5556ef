package opt

import (
	"context"
	"math/rand/v2"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JoeySoprano420/C.A.S.E.-Programming-Language--sub003/internal/ast"
	"github.com/JoeySoprano420/C.A.S.E.-Programming-Language--sub003/internal/ir"
	"github.com/JoeySoprano420/C.A.S.E.-Programming-Language--sub003/internal/ir/interp"
	"github.com/JoeySoprano420/C.A.S.E.-Programming-Language--sub003/internal/lower"
)

const programs = `
name: opt
funcs:
  - name: five
    result: i64
    body:
      - let: {name: a, value: {bin: ["+", 2, 3]}}
      - return: a
  - name: sum
    params: [{name: n, type: i64}]
    result: i64
    body:
      - var: {name: s, value: 0}
      - for: {var: i, from: 0, to: n, body: [{assign: {name: s, value: {bin: ["+", s, i]}}}]}
      - return: s
  - name: sum100
    result: i64
    body:
      - var: {name: s, value: 0}
      - for: {var: i, from: 0, to: 100, body: [{assign: {name: s, value: {bin: ["+", s, i]}}}]}
      - return: s
  - name: sum13
    result: i64
    body:
      - var: {name: s, value: 0}
      - for: {var: i, from: 3, to: 16, body: [{assign: {name: s, value: {bin: ["+", s, {bin: ["*", i, i]}]}}}]}
      - return: s
  - name: triple
    result: i64
    body:
      - var: {name: a, type: "[16 x i32]"}
      - var: {name: b, type: "[16 x i32]"}
      - var: {name: j, value: 0}
      - while:
          cond: {bin: ["<", j, 16]}
          body:
            - store: {array: a, index: j, value: {cast: {type: i32, x: j}}}
            - assign: {name: j, value: {bin: ["+", j, 1]}}
      - for: {var: i, from: 0, to: 16, body: [{store: {array: b, index: i, value: {bin: ["*", {index: {array: a, index: i}}, 3]}}}]}
      - var: {name: t, value: 0}
      - for: {var: i, from: 0, to: 16, body: [{assign: {name: t, value: {bin: ["+", t, {cast: {type: i64, x: {index: {array: b, index: i}}}}]}}}]}
      - return: t
  - name: branches
    params: [{name: x, type: i64}]
    result: i64
    body:
      - let: {name: k, value: {bin: ["*", 4, 0]}}
      - if:
          cond: {bin: ["==", k, 0]}
          then: [{return: {bin: ["+", x, {bin: ["-", x, x]}]}}]
          else: [{return: 99}]
`

func build(t testing.TB) *ir.Module {
	t.Helper()

	p, err := ast.Decode([]byte(programs))
	require.NoError(t, err)

	m, err := lower.Program(context.Background(), p, "opt.yaml")
	require.NoError(t, err)

	return m
}

func options(level int) Options {
	o := DefaultOptions(level)
	o.VectorBits = 128
	o.SSE41 = true

	return o
}

type call struct {
	fn   string
	args []int64
	want int64
}

var calls = []call{
	{"five", nil, 5},
	{"sum", []int64{10}, 45},
	{"sum", []int64{0}, 0},
	{"sum100", nil, 4950},
	{"sum13", nil, 1235},
	{"triple", nil, 360},
	{"branches", []int64{17}, 17},
}

func runAll(t *testing.T, m *ir.Module) {
	t.Helper()

	for _, c := range calls {
		r, err := interp.New(m).Run(c.fn, c.args...)
		require.NoError(t, err, "%s%v", c.fn, c.args)
		assert.Equal(t, c.want, r, "%s%v", c.fn, c.args)
	}
}

func TestConstantFolding(t *testing.T) {
	m := build(t)

	_, err := Optimize(context.Background(), m, options(1))
	require.NoError(t, err)

	f := m.Func("five")
	require.Len(t, f.Blocks(), 1)

	b := f.Blocks()[0]
	require.Len(t, b.Instrs, 1)
	assert.Equal(t, "ret 5:i64", f.FormatInstr(f.Instr(b.Instrs[0])))
}

func TestBranchFolding(t *testing.T) {
	m := build(t)

	_, err := Optimize(context.Background(), m, options(1))
	require.NoError(t, err)

	f := m.Func("branches")
	require.Len(t, f.Blocks(), 1, "%v", f)
	assert.NotContains(t, f.String(), "99:i64")
}

func TestLevelsPreserveSemantics(t *testing.T) {
	for level := 0; level <= 3; level++ {
		m := build(t)

		st, err := Optimize(context.Background(), m, options(level))
		require.NoError(t, err)

		_, err = ir.Verify(m)
		require.NoError(t, err, "level %d\n%v", level, m)

		runAll(t, m)

		if level == 0 {
			assert.Empty(t, st.Passes)
		}
	}
}

func TestIdempotent(t *testing.T) {
	for level := 1; level <= 3; level++ {
		m := build(t)

		_, err := Optimize(context.Background(), m, options(level))
		require.NoError(t, err)

		first := m.String()

		_, err = Optimize(context.Background(), m, options(level))
		require.NoError(t, err)

		if d := cmp.Diff(first, m.String()); d != "" {
			t.Errorf("level %d: second run changed the module (-first +second):\n%s", level, d)
		}
	}
}

func TestEachPassKeepsSSA(t *testing.T) {
	passes := append(cleanup(), Vectorize{Bits: 128, SSE41: true}, Unroll{Factor: 4}, Compact{})

	for _, p := range passes {
		m := build(t)

		for _, f := range m.Funcs {
			p.Run(f, &Stats{})

			_, err := ir.VerifyFunction(f)
			require.NoError(t, err, "%s on %s\n%v", p.Name(), f.Name, f)
		}

		runAll(t, m)
	}
}

func TestUnroll(t *testing.T) {
	m := build(t)

	o := options(3)
	o.Vectorize = false

	st, err := Optimize(context.Background(), m, o)
	require.NoError(t, err)

	assert.Positive(t, st.Unrolled)

	s := m.Func("sum100").String()
	assert.Contains(t, s, `!loop.unroll="x8"`)
	assert.Contains(t, s, "unroll.rem", "100 is not a multiple of 8")

	assert.Contains(t, m.Func("sum13").String(), `!loop.unroll="x8"`)

	assert.Contains(t, m.Func("sum").String(), `!loop.unroll="skip:bound"`)

	runAll(t, m)
}

func TestVectorize(t *testing.T) {
	m := build(t)

	o := options(2)

	st, err := Optimize(context.Background(), m, o)
	require.NoError(t, err)

	assert.Equal(t, 1, st.Vectorized)

	s := m.Func("triple").String()
	assert.Contains(t, s, `!loop.vectorize="<4 x i32>"`)
	assert.Contains(t, s, "vmul")
	assert.Contains(t, s, "broadcast")

	runAll(t, m)
}

func TestVectorizeNeedsSSE41ForMul(t *testing.T) {
	m := build(t)

	o := options(2)
	o.SSE41 = false

	st, err := Optimize(context.Background(), m, o)
	require.NoError(t, err)

	assert.Zero(t, st.Vectorized)
	assert.Contains(t, m.Func("triple").String(), `!loop.vectorize="skip:type"`)

	runAll(t, m)
}

func TestDCEKeepsSideEffects(t *testing.T) {
	m := ir.NewModule("dce")
	m.AddGlobal("g", ir.I64, make([]byte, 8))

	f := m.NewFunction("f", nil, ir.I64)
	b := ir.NewBuilder(f)

	b.SetInsertPoint(b.CreateBlock("entry"))

	g := b.CreateGlobalAddr("g")
	b.CreateAdd(b.ConstInt(ir.I64, 1), b.ConstInt(ir.I64, 2)) // dead
	b.CreateStore(b.ConstInt(ir.I64, 7), g)
	b.CreateRet(b.CreateLoad(ir.I64, g))

	st := &Stats{}
	require.True(t, DCE{}.Run(f, st))
	assert.Equal(t, 1, st.Removed)

	s := f.String()
	assert.Contains(t, s, "store")
	assert.NotContains(t, s, " = add ")

	r, err := interp.New(m).Run("f")
	require.NoError(t, err)
	assert.Equal(t, int64(7), r)
}

func TestDCERemovesDeadRegions(t *testing.T) {
	p, err := ast.Decode([]byte(`
funcs:
  - name: dead
    result: i64
    body:
      - var: {name: s, value: 0}
      - if:
          cond: {bin: ["<", 2, 1]}
          then:
            - while:
                cond: {bin: ["<", s, 3]}
                body: [{assign: {name: s, value: {bin: ["+", s, 1]}}}]
            - if: {cond: {bin: ["==", s, 3]}, then: [{assign: {name: s, value: 7}}]}
      - return: s
`))
	require.NoError(t, err)

	m, err := lower.Program(context.Background(), p, "dead.yaml")
	require.NoError(t, err)

	f := m.Func("dead")
	before := len(f.Blocks())

	// fold the condition only, so DCE sees the whole region at once
	st := &Stats{}
	require.True(t, Fold{}.Run(f, st))

	require.NotPanics(t, func() { DCE{}.Run(f, st) })
	assert.Less(t, len(f.Blocks()), before)

	_, err = ir.Verify(m)
	require.NoError(t, err, "%v", f)

	r, err := interp.New(m).Run("dead")
	require.NoError(t, err)
	assert.Zero(t, r)

	for level := 1; level <= 3; level++ {
		m, err := lower.Program(context.Background(), p, "dead.yaml")
		require.NoError(t, err)

		_, err = Optimize(context.Background(), m, options(level))
		require.NoError(t, err, "level %d", level)

		r, err := interp.New(m).Run("dead")
		require.NoError(t, err)
		assert.Zero(t, r, "level %d", level)
	}
}

func TestFoldRandomConstants(t *testing.T) {
	rnd := rand.New(rand.NewPCG(1, 2))

	ops := []ir.Op{ir.OpAdd, ir.OpSub, ir.OpMul, ir.OpDiv, ir.OpRem, ir.OpAnd, ir.OpOr, ir.OpXor, ir.OpShl, ir.OpShr}
	types := []ir.Type{ir.I8, ir.I16, ir.I32, ir.I64, ir.U8, ir.U16, ir.U32, ir.U64}

	for i := 0; i < 500; i++ {
		op := ops[rnd.IntN(len(ops))]
		typ := types[rnd.IntN(len(types))]

		x, y := int64(rnd.Uint64()), int64(rnd.Uint64())
		if rnd.IntN(4) == 0 {
			y = int64(rnd.IntN(3))
		}

		m := ir.NewModule("fold")
		f := m.NewFunction("f", nil, typ)
		b := ir.NewBuilder(f)

		b.SetInsertPoint(b.CreateBlock("entry"))
		b.CreateRet(b.CreateBinary(op, b.ConstInt(typ, x), b.ConstInt(typ, y)))

		want, err := interp.New(m).Run("f")
		require.NoError(t, err)

		Fold{}.Run(f, &Stats{})

		require.Len(t, f.Block(f.Entry).Instrs, 1, "%v %v %v %v\n%v", op, typ, x, y, f)

		got, err := interp.New(m).Run("f")
		require.NoError(t, err)
		assert.Equal(t, want, got, "%v %v %v %v", op, typ, x, y)
	}
}

func TestPeephole(t *testing.T) {
	m := ir.NewModule("peep")
	f := m.NewFunction("f", []ir.Param{{Name: "x", Type: ir.I64}}, ir.I64)
	b := ir.NewBuilder(f)

	b.SetInsertPoint(b.CreateBlock("entry"))

	x := b.CreateParam(0)
	v := b.CreateAdd(x, b.ConstInt(ir.I64, 0))
	v = b.CreateMul(v, b.ConstInt(ir.I64, 1))
	v = b.CreateBinary(ir.OpOr, v, b.CreateSub(x, x))
	b.CreateRet(v)

	st := &Stats{}
	require.True(t, Peephole{}.Run(f, st))
	DCE{}.Run(f, st)

	assert.Equal(t, 4, st.Rewritten)

	entry := f.Block(f.Entry)
	require.Len(t, entry.Instrs, 2, "%v", f)
	assert.Equal(t, "ret "+x.String(), f.FormatInstr(f.Terminator(f.Entry)))
}
