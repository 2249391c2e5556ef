package diag

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tlog.app/go/errors"
)

func TestErrorMessage(t *testing.T) {
	e := New(KindEncode, Where{Func: "main", Block: "b2", Instr: "%3 = frob i64 %1"}, "unsupported instruction %q", "frob")

	assert.Equal(t, `encoding error: unsupported instruction "frob" (func main, block b2, at `+"`%3 = frob i64 %1`"+`)`, e.Error())
	assert.Equal(t, LevelFatal, e.Level)

	out := e.Format(false)
	assert.True(t, strings.HasPrefix(out, "fatal error[encoding]: unsupported instruction"), out)
	assert.Contains(t, out, "  --> func main, block b2")
}

func TestKindThroughWrapping(t *testing.T) {
	cause := New(KindRelocation, Where{}, "undefined label %v", "main.b7")
	err := errors.Wrap(cause, "compile %v", "prog")

	k, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindRelocation, k)
	assert.True(t, Is(err, KindRelocation))
	assert.False(t, Is(err, KindEmit))

	_, ok = KindOf(errors.New("plain"))
	assert.False(t, ok)
}

func TestWrapKeepsCause(t *testing.T) {
	e := Wrap(KindEmit, os.ErrPermission, Where{}, "write %v", "/nope/out")

	assert.ErrorIs(t, e, os.ErrPermission)
	assert.Contains(t, e.Format(false), "cause: permission denied")
}

func TestFailPanics(t *testing.T) {
	defer func() {
		p := recover()
		require.NotNil(t, p)

		e, ok := p.(*Error)
		require.True(t, ok)
		assert.Equal(t, KindVerify, e.Kind)
	}()

	Fail(KindVerify, Where{}, "no insertion point")
}

func TestListReport(t *testing.T) {
	var l List

	l.Add(Warn(KindVerify, Where{Func: "f", Block: "b3"}, "unreachable block"))
	l.Add(Warn(KindVerify, Where{Func: "g"}, "unreachable block").WithHelp("run with -O1 to remove it"))

	var buf bytes.Buffer
	l.Report(&buf, false)

	assert.Equal(t, 2, l.Len())
	assert.Contains(t, buf.String(), "warning[ir-verification]: unreachable block")
	assert.Contains(t, buf.String(), "help: run with -O1")
	assert.Len(t, l.Strings(), 2)
}

func TestSuggest(t *testing.T) {
	known := []string{"counter", "count", "total", "main"}

	assert.Equal(t, []string{"count", "counter"}, Suggest("coutn", known, 3)[:2])
	assert.Equal(t, []string{"main"}, Suggest("mian", known, 1))
	assert.Empty(t, Suggest("zzzzzzzz", known, 3))
	assert.Equal(t, 3, levenshteinDistance("kitten", "sitting"))
}
