package x86

import (
	"context"
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JoeySoprano420/C.A.S.E.-Programming-Language--sub003/internal/ast"
	"github.com/JoeySoprano420/C.A.S.E.-Programming-Language--sub003/internal/codebuf"
	"github.com/JoeySoprano420/C.A.S.E.-Programming-Language--sub003/internal/diag"
	"github.com/JoeySoprano420/C.A.S.E.-Programming-Language--sub003/internal/engine"
	"github.com/JoeySoprano420/C.A.S.E.-Programming-Language--sub003/internal/ir"
	"github.com/JoeySoprano420/C.A.S.E.-Programming-Language--sub003/internal/ir/interp"
	"github.com/JoeySoprano420/C.A.S.E.-Programming-Language--sub003/internal/lower"
)

func lowerYAML(t *testing.T, src string) *ir.Module {
	t.Helper()

	p, err := ast.Decode([]byte(src))
	require.NoError(t, err)

	m, err := lower.Program(context.Background(), p, "test.yaml")
	require.NoError(t, err)

	return m
}

func blockByLabel(t *testing.T, f *ir.Function, label string) ir.BlockID {
	t.Helper()

	b, ok := lo.Find(f.Blocks(), func(b *ir.Block) bool { return b != nil && b.Label == label })
	require.True(t, ok, "no block %q in\n%v", label, f)

	return b.ID
}

func TestBreakJumpsPastLoop(t *testing.T) {
	m := lowerYAML(t, `
funcs:
  - name: main
    result: i64
    body:
      - var: {name: i, value: 0}
      - loop:
          - assign: {name: i, value: {bin: ["+", i, 1]}}
          - break
      - return: i
`)

	obj, err := Encode(context.Background(), m, Options{Platform: engine.LinuxX64})
	require.NoError(t, err)

	f := m.Func("main")
	label := blockLabel(f, blockByLabel(t, f, "loop.end"))

	target, ok := obj.Code.Label(label)
	require.True(t, ok)

	refs := lo.Filter(obj.Code.Refs(), func(r codebuf.Ref, _ int) bool { return r.Label == label })
	require.Len(t, refs, 1)

	code := obj.Code.Bytes()
	patch := refs[0].Patch

	assert.Equal(t, byte(0xe9), code[patch-1], "jmp rel32")
	assert.Equal(t, int32(target-(patch+4)), int32(binary.LittleEndian.Uint32(code[patch:])))

	// every reference is resolved the same way
	for _, r := range obj.Code.Refs() {
		to, ok := obj.Code.Label(r.Label)
		require.True(t, ok, r.Label)
		assert.Equal(t, int32(to-(r.Patch+4)), int32(binary.LittleEndian.Uint32(code[r.Patch:])), r.Label)
	}
}

// manyLive builds a function of one block keeping n values live at once.
func manyLive(n int) *ir.Module {
	m := ir.NewModule("spill")
	f := m.NewFunction("main", []ir.Param{{Name: "x", Type: ir.I64}}, ir.I64)
	b := ir.NewBuilder(f)
	b.SetInsertPoint(b.CreateBlock("entry"))

	x := b.CreateParam(0)

	vals := make([]ir.ValueID, n)
	for i := range vals {
		vals[i] = b.CreateMul(x, b.ConstInt(ir.I64, int64(i+3)))
	}

	sum := b.ConstInt(ir.I64, 0)
	for i, v := range vals {
		if i%2 == 0 {
			sum = b.CreateAdd(sum, v)
		} else {
			sum = b.CreateSub(sum, v)
		}
	}

	b.CreateRet(sum)

	return m
}

func TestSpillsUnderPressure(t *testing.T) {
	m := manyLive(24)

	want, err := interp.New(m).Run("main", 5)
	require.NoError(t, err)
	assert.Equal(t, int64(-60), want)

	for _, p := range []engine.Platform{engine.LinuxX64, engine.WindowsX64} {
		obj, err := Encode(context.Background(), m, Options{Platform: p})
		require.NoError(t, err, "%v", p)

		assert.Greater(t, obj.Spills(), 0, "%v", p)
		assert.Greater(t, obj.Funcs[0].Reloads, 0, "%v", p)
		assert.Zero(t, obj.Funcs[0].Frame%16, "%v", p)
	}

	small, err := Encode(context.Background(), manyLive(4), Options{Platform: engine.LinuxX64})
	require.NoError(t, err)
	assert.Zero(t, small.Spills())
}

func TestExternsPerPlatform(t *testing.T) {
	src := `
globals:
  - {name: msg, data: "hi\n"}
funcs:
  - name: main
    result: i64
    body:
      - call: {func: write, args: [1, {addr: msg}, 3]}
      - return: 0
`

	m := lowerYAML(t, src)
	require.NoError(t, AddStart(m, "main"))

	linux, err := Encode(context.Background(), m, Options{Platform: engine.LinuxX64, Entry: StartName})
	require.NoError(t, err)

	assert.Empty(t, linux.Imports)
	assert.Equal(t, []string{"main", StartName, ExternPrefix + "exit", ExternPrefix + "write"},
		lo.Map(linux.Symbols, func(s Symbol, _ int) string { return s.Name }))

	start, _ := linux.Code.Label(StartName)
	assert.Equal(t, start, linux.Entry)

	// the data reference stays a relocation for the emitter
	require.Len(t, linux.Code.Relocs(), 1)
	assert.Equal(t, "msg", linux.Code.Relocs()[0].Symbol)
	assert.Equal(t, map[string]int{"msg": 0}, linux.DataSyms)
	assert.Equal(t, []byte("hi\n"), linux.Data)

	win, err := Encode(context.Background(), lowerWithStart(t, src), Options{Platform: engine.WindowsX64, Entry: StartName})
	require.NoError(t, err)

	assert.Equal(t, []string{"exit", "write"}, win.Imports)
	assert.Len(t, win.Code.Relocs(), 3)
}

func lowerWithStart(t *testing.T, src string) *ir.Module {
	t.Helper()

	m := lowerYAML(t, src)
	require.NoError(t, AddStart(m, "main"))

	return m
}

func TestAddStart(t *testing.T) {
	m := lowerYAML(t, `
funcs:
  - {name: main, result: i32, body: [{return: 3}]}
  - {name: twice, params: [{name: x, type: i64}], result: i64, body: [{return: {bin: ["*", x, 2]}}]}
`)

	require.NoError(t, AddStart(m, "main"))

	_, err := ir.Verify(m)
	require.NoError(t, err, "%v", m)

	code, err := interp.New(m).Run(StartName)
	require.NoError(t, err)
	assert.Equal(t, int64(3), code)

	err = AddStart(m, "main")
	assert.True(t, diag.Is(err, diag.KindConfig), "%v", err)

	err = AddStart(m, "twice")
	assert.True(t, diag.Is(err, diag.KindConfig), "%v", err)

	err = AddStart(m, "nope")
	assert.True(t, diag.Is(err, diag.KindConfig), "%v", err)
}

func TestEncodeDiagnostics(t *testing.T) {
	t.Run("arguments", func(t *testing.T) {
		m := ir.NewModule("args")

		params := make([]ir.Param, 7)
		for i := range params {
			params[i] = ir.Param{Name: fmt.Sprintf("p%d", i), Type: ir.I64}
		}

		callee := m.NewFunction("seven", params, ir.I64)
		b := ir.NewBuilder(callee)
		b.SetInsertPoint(b.CreateBlock("entry"))
		b.CreateRet(b.CreateParam(6))

		_, err := Encode(context.Background(), m, Options{Platform: engine.LinuxX64})
		require.Error(t, err)
		assert.True(t, diag.Is(err, diag.KindEncode), "%v", err)
		assert.Contains(t, err.Error(), "too many arguments")
	})

	t.Run("vector", func(t *testing.T) {
		m := ir.NewModule("wide")
		f := m.NewFunction("main", nil, ir.Void)
		b := ir.NewBuilder(f)
		b.SetInsertPoint(b.CreateBlock("entry"))

		buf := b.CreateAlloca(ir.Array(ir.KindI32, 16))
		v := b.CreateVectorLoad(ir.Vector(ir.KindI32, 16), buf)
		b.CreateVectorStore(v, buf)
		b.CreateRet(ir.NoValue)

		_, err := Encode(context.Background(), m, Options{Platform: engine.LinuxX64})
		require.Error(t, err)
		assert.True(t, diag.Is(err, diag.KindEncode), "%v", err)
		assert.Contains(t, err.Error(), "unsupported instruction")

		var d *diag.Error
		require.ErrorAs(t, err, &d)
		assert.Equal(t, "main", d.Where.Func)
	})

	t.Run("extern", func(t *testing.T) {
		m := ir.NewModule("ext")
		m.DeclareExtern("puts", []ir.Type{ir.Ptr}, ir.I64)

		f := m.NewFunction("main", nil, ir.I64)
		b := ir.NewBuilder(f)
		b.SetInsertPoint(b.CreateBlock("entry"))
		b.CreateRet(b.CreateCall("puts", b.ConstInt(ir.Ptr, 0)))

		_, err := Encode(context.Background(), m, Options{Platform: engine.LinuxX64})
		require.Error(t, err)
		assert.True(t, diag.Is(err, diag.KindEmit), "%v", err)

		_, err = Encode(context.Background(), m, Options{Platform: engine.WindowsX64})
		assert.NoError(t, err)
	})

	t.Run("arch", func(t *testing.T) {
		_, err := Encode(context.Background(), ir.NewModule("x"), Options{Platform: engine.LinuxX64})
		assert.NoError(t, err)

		_, err = Encode(context.Background(), ir.NewModule("x"), Options{})
		assert.True(t, diag.Is(err, diag.KindEncode), "%v", err)
	})
}

func TestFunctionsAreAligned(t *testing.T) {
	m := lowerYAML(t, `
funcs:
  - {name: one, result: i64, body: [{return: 1}]}
  - {name: two, result: i64, body: [{return: {call: {func: one, args: []}}}]}
`)

	obj, err := Encode(context.Background(), m, Options{Platform: engine.MacOSX64})
	require.NoError(t, err)

	for _, s := range obj.Symbols {
		assert.Zero(t, s.Offset%16, s.Name)
		assert.Positive(t, s.Size, s.Name)
	}

	// prologue: push rbp; mov rbp, rsp
	assert.Equal(t, []byte{0x55, 0x48, 0x89, 0xe5}, obj.Code.Bytes()[:4])
}
