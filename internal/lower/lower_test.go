package lower

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JoeySoprano420/C.A.S.E.-Programming-Language--sub003/internal/ast"
	"github.com/JoeySoprano420/C.A.S.E.-Programming-Language--sub003/internal/diag"
	"github.com/JoeySoprano420/C.A.S.E.-Programming-Language--sub003/internal/ir"
	"github.com/JoeySoprano420/C.A.S.E.-Programming-Language--sub003/internal/ir/interp"
)

const programs = `
name: lowering
globals:
  - {name: msg, data: "hi\n"}
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
  - name: collatz
    params: [{name: n, type: i64}]
    result: i64
    body:
      - var: {name: steps, value: 0}
      - while:
          cond: {bin: ["!=", n, 1]}
          body:
            - if:
                cond: {bin: ["==", {bin: ["%", n, 2]}, 0]}
                then: [{assign: {name: n, value: {bin: ["/", n, 2]}}}]
                else: [{assign: {name: n, value: {bin: ["+", {bin: ["*", n, 3]}, 1]}}}]
            - assign: {name: steps, value: {bin: ["+", steps, 1]}}
      - return: steps
  - name: firstOver
    params: [{name: limit, type: i64}]
    result: i64
    body:
      - var: {name: i, value: 0}
      - loop:
          - assign: {name: i, value: {bin: ["+", i, 1]}}
          - if: {cond: {bin: ["<", {bin: ["*", i, i]}, limit]}, then: [continue]}
          - break
      - return: i
  - name: between
    params: [{name: x, type: i64}]
    result: bool
    body:
      - return: {bin: ["&&", {bin: [">", x, 0]}, {bin: ["<", x, 10]}]}
  - name: squares
    result: i64
    body:
      - var: {name: a, type: "[8 x i64]"}
      - for: {var: i, from: 0, to: 8, body: [{store: {array: a, index: i, value: {bin: ["*", i, i]}}}]}
      - var: {name: t, value: 0}
      - for: {var: i, from: 0, to: 8, body: [{assign: {name: t, value: {bin: ["+", t, {index: {array: a, index: i}}]}}}]}
      - return: t
  - name: scale
    params: [{name: n, type: i64}]
    result: i64
    body:
      - return: {cast: {type: i64, x: {bin: ["*", {cast: {type: f64, x: n}}, 1.5]}}}
  - name: narrow
    params: [{name: n, type: i64}]
    result: i64
    body:
      - let: {name: b, value: {cast: {type: u8, x: n}}}
      - return: {cast: {type: i64, x: b}}
  - name: hello
    result: i64
    body:
      - call: {func: write, args: [1, {addr: msg}, 3]}
      - call: {func: exit, args: [7]}
      - return: 0
`

func lowerString(t *testing.T, src string) (*ir.Module, error) {
	t.Helper()

	p, err := ast.Decode([]byte(src))
	require.NoError(t, err)

	return Program(context.Background(), p, "test.yaml")
}

func TestLowerRuns(t *testing.T) {
	m, err := lowerString(t, programs)
	require.NoError(t, err)

	_, err = ir.Verify(m)
	require.NoError(t, err, "%v", m)

	for _, tc := range []struct {
		fn   string
		args []int64
		want int64
	}{
		{"five", nil, 5},
		{"sum", []int64{10}, 45},
		{"sum", []int64{0}, 0},
		{"collatz", []int64{6}, 8},
		{"collatz", []int64{27}, 111},
		{"firstOver", []int64{50}, 8},
		{"between", []int64{5}, 1},
		{"between", []int64{12}, 0},
		{"between", []int64{-1}, 0},
		{"squares", nil, 140},
		{"scale", []int64{4}, 6},
		{"narrow", []int64{300}, 44},
	} {
		got, err := interp.New(m).Run(tc.fn, tc.args...)
		if assert.NoError(t, err, "%s%v", tc.fn, tc.args) {
			assert.Equal(t, tc.want, got, "%s%v", tc.fn, tc.args)
		}
	}

	vm := interp.New(m)
	code, err := vm.Run("hello")
	require.NoError(t, err)
	assert.Equal(t, int64(7), code)
	assert.Equal(t, "hi\n", vm.Output.String())
}

func TestLowerSSAShape(t *testing.T) {
	m, err := lowerString(t, programs)
	require.NoError(t, err)

	five := m.Func("five")
	assert.Len(t, five.Blocks(), 1, "%v", five)

	// the loop header merges the sum and the induction variable
	sum := m.Func("sum")
	phis := 0

	for _, b := range sum.Blocks() {
		if b.Label == "for.head" {
			phis = len(sum.Phis(b.ID))
		}
	}

	assert.Equal(t, 2, phis, "%v", sum)

	// a let binding never produces a phi
	for _, b := range m.Func("narrow").Blocks() {
		assert.Empty(t, m.Func("narrow").Phis(b.ID))
	}
}

func TestLowerErrors(t *testing.T) {
	for _, tc := range []struct {
		name string
		body string
		msg  string
		help string
	}{
		{"undefined", `[{let: {name: count, value: 1}}, {return: {bin: ["+", cuont, 1]}}]`, "undefined: cuont", "count"},
		{"immutable", `[{let: {name: a, value: 1}}, {assign: {name: a, value: 2}}, {return: a}]`, "cannot assign to a", ""},
		{"break", `[break, {return: 0}]`, "outside of a loop", ""},
		{"mismatch", `[{return: {float: 1.5}}]`, "type mismatch", ""},
		{"types", `[{return: {bin: ["+", 1, true]}}]`, "mismatched types", ""},
		{"callee", `[{return: {call: {func: fiv, args: []}}}]`, "undefined function fiv", "five"},
		{"redeclared", `[{let: {name: a, value: 1}}, {let: {name: a, value: 2}}, {return: a}]`, "redeclared", ""},
		{"arity", `[{return: {call: {func: five, args: [1]}}}]`, "takes 0 arguments", ""},
	} {
		t.Run(tc.name, func(t *testing.T) {
			src := "funcs:\n  - {name: five, result: i64, body: [{return: 5}]}\n  - {name: main, result: i64, body: " + tc.body + "}\n"

			_, err := lowerString(t, src)
			require.Error(t, err)
			assert.True(t, diag.Is(err, diag.KindFrontend), "%v", err)
			assert.Contains(t, err.Error(), tc.msg)

			if tc.help != "" {
				var d *diag.Error
				require.ErrorAs(t, err, &d)
				assert.Contains(t, d.Help, tc.help)
			}
		})
	}
}

func TestDeadCodeGetsOwnBlock(t *testing.T) {
	m, err := lowerString(t, `
funcs:
  - name: main
    result: i64
    body:
      - return: 1
      - var: {name: x, value: 2}
      - return: x
`)
	require.NoError(t, err)

	warns, err := ir.Verify(m)
	require.NoError(t, err)
	assert.NotEmpty(t, warns)

	got, err := interp.New(m).Run("main")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got)
}
