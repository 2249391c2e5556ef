package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JoeySoprano420/C.A.S.E.-Programming-Language--sub003/internal/diag"
)

func TestVerifyErrors(t *testing.T) {
	tests := []struct {
		name  string
		build func(b *Builder)
		want  string
	}{
		{"missing terminator", func(b *Builder) {
			b.SetInsertPoint(b.CreateBlock("entry"))
			b.CreateAdd(b.ConstInt(I64, 1), b.ConstInt(I64, 2))
		}, "block without terminator"},
		{"empty block", func(b *Builder) {
			b.SetInsertPoint(b.CreateBlock("entry"))
			b.CreateRet(b.ConstInt(I64, 0))
			b.CreateBlock("empty")
		}, "block without terminator"},
		{"after terminator", func(b *Builder) {
			b.SetInsertPoint(b.CreateBlock("entry"))
			b.CreateRet(b.ConstInt(I64, 0))
			b.CreateAdd(b.ConstInt(I64, 1), b.ConstInt(I64, 2))
			b.CreateRet(b.ConstInt(I64, 1))
		}, "instruction after terminator"},
		{"use before def", func(b *Builder) {
			b.SetInsertPoint(b.CreateBlock("entry"))
			x := b.CreateAdd(b.ConstInt(I64, 1), b.ConstInt(I64, 2))
			y := b.CreateAdd(x, x)
			b.CreateRet(y)

			f := b.Func()
			blk := f.Block(0)
			blk.Instrs[0], blk.Instrs[1] = blk.Instrs[1], blk.Instrs[0]
		}, "used before definition"},
		{"not dominated", func(b *Builder) {
			entry := b.CreateBlock("entry")
			l := b.CreateBlock("left")
			r := b.CreateBlock("right")
			j := b.CreateBlock("join")

			b.SetInsertPoint(entry)
			b.CreateCondBr(b.ConstBool(true), l, r)

			b.SetInsertPoint(l)
			x := b.CreateAdd(b.ConstInt(I64, 1), b.ConstInt(I64, 2))
			b.CreateBr(j)

			b.SetInsertPoint(r)
			b.CreateBr(j)

			b.SetInsertPoint(j)
			b.CreateRet(x)
		}, "does not dominate"},
		{"phi edges", func(b *Builder) {
			entry := b.CreateBlock("entry")
			j := b.CreateBlock("join")

			b.SetInsertPoint(entry)
			b.CreateBr(j)

			b.SetInsertPoint(j)
			p := b.CreatePhi(I64)
			b.CreateRet(p)
		}, "phi edges"},
		{"wrong return type", func(b *Builder) {
			b.SetInsertPoint(b.CreateBlock("entry"))
			b.CreateRet(b.ConstInt(I32, 0))
		}, "return type"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m := NewModule("test")
			f := m.NewFunction("f", nil, I64)

			tc.build(NewBuilder(f))

			_, err := Verify(m)
			require.Error(t, err)
			assert.True(t, diag.Is(err, diag.KindVerify))
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestVerifyUnreachableWarning(t *testing.T) {
	m := NewModule("test")
	f := m.NewFunction("f", nil, I64)
	b := NewBuilder(f)

	b.SetInsertPoint(b.CreateBlock("entry"))
	b.CreateRet(b.ConstInt(I64, 0))

	b.SetInsertPoint(b.CreateBlock("dead"))
	b.CreateRet(b.ConstInt(I64, 1))

	warns, err := Verify(m)
	require.NoError(t, err)
	require.Len(t, warns, 1)
	assert.Equal(t, diag.LevelWarning, warns[0].Level)
	assert.Contains(t, warns[0].Error(), "unreachable block")
}

func TestDominatorsAndLoops(t *testing.T) {
	_, f := sumLoop(t)

	dom := f.Dominators()

	assert.Equal(t, []BlockID{0, 1, 2, 3}, dom.RPO())
	assert.Equal(t, BlockID(1), dom.Idom(2))
	assert.Equal(t, BlockID(1), dom.Idom(3))
	assert.True(t, dom.Dominates(0, 3))
	assert.False(t, dom.Dominates(2, 3))

	loops := f.Loops(dom)
	require.Len(t, loops, 1)

	l := loops[0]
	assert.Equal(t, BlockID(1), l.Header)
	assert.Equal(t, []BlockID{1, 2}, l.Blocks)
	assert.Equal(t, []BlockID{2}, l.Latches)
	assert.Equal(t, []BlockID{3}, l.Exits(f))

	pre, ok := l.Preheader(f)
	assert.True(t, ok)
	assert.Equal(t, BlockID(0), pre)
}

func TestCompact(t *testing.T) {
	m, f := sumLoop(t)

	// make a hole: drop the unused constant 1 by rewriting the increment
	body := f.Block(2)
	f.RemoveInstr(body.Instrs[0])
	f.ReplaceAllUses(f.Phis(1)[1].Result, f.ConstInt(I64, 0))
	f.RemoveInstr(f.Phis(1)[1].ID)

	require.True(t, f.Compact())

	_, err := Verify(m)
	require.NoError(t, err)

	before := m.String()
	assert.False(t, f.Compact())
	assert.Equal(t, before, m.String())
}

func TestCloneIsDeep(t *testing.T) {
	m, _ := sumLoop(t)
	c := m.Clone()

	assert.Equal(t, m.String(), c.String())
	assert.Equal(t, m.Fingerprint(), c.Fingerprint())

	cf := c.Func("sum")
	cf.Instr(cf.Block(2).Instrs[0]).SetMeta("k", "v")

	assert.NotEqual(t, m.String(), c.String())
}

func TestParseType(t *testing.T) {
	for _, s := range []string{"i64", "u8", "f32", "ptr", "bool", "void", "<4 x i32>", "[16 x i64]"} {
		tp, err := ParseType(s)
		require.NoError(t, err, s)
		assert.Equal(t, s, tp.String())
	}

	_, err := ParseType("vector")
	assert.Error(t, err)

	assert.Equal(t, 4, Vector(KindI64, 4).VectorWidth())
	assert.Equal(t, 0, I64.VectorWidth())
	assert.Equal(t, 128, Array(KindI64, 2).Bits())
	assert.Equal(t, 16, Struct("pair", I8, I64).Size())
}
