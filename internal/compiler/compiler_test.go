package compiler

import (
	"bytes"
	"context"
	"debug/elf"
	"debug/macho"
	"debug/pe"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JoeySoprano420/C.A.S.E.-Programming-Language--sub003/internal/diag"
	"github.com/JoeySoprano420/C.A.S.E.-Programming-Language--sub003/internal/engine"
	"github.com/JoeySoprano420/C.A.S.E.-Programming-Language--sub003/internal/ir"
	"github.com/JoeySoprano420/C.A.S.E.-Programming-Language--sub003/internal/ir/interp"
	"github.com/JoeySoprano420/C.A.S.E.-Programming-Language--sub003/internal/x86"
)

const zero = `
funcs:
  - {name: main, result: i64, body: [{return: 0}]}
`

func testConfig(p engine.Platform, level int) Config {
	cfg := DefaultConfig()
	cfg.Target = p
	cfg.OptimizationLevel = level
	cfg.VectorBits = 128

	return cfg
}

func compileSource(t *testing.T, cfg Config, src string) *Result {
	t.Helper()

	c, err := New(cfg)
	require.NoError(t, err)

	m, err := c.Parse(context.Background(), []byte(src), "test.yaml")
	require.NoError(t, err)

	res, err := c.Compile(context.Background(), m)
	require.NoError(t, err)

	return res
}

// runNative executes image and returns its exit status. It skips unless
// the host can run linux-x64 executables.
func runNative(t *testing.T, image []byte) int {
	t.Helper()

	if runtime.GOOS != "linux" || runtime.GOARCH != "amd64" {
		t.Skipf("cannot run linux-x64 executables on %v/%v", runtime.GOOS, runtime.GOARCH)
	}

	name := filepath.Join(t.TempDir(), "prog")
	require.NoError(t, WriteFile(name, image))

	err := exec.Command(name).Run()
	if err == nil {
		return 0
	}

	var exit *exec.ExitError
	require.ErrorAs(t, err, &exit)

	return exit.ExitCode()
}

// expectedStatus runs the entry stub in the interpreter.
func expectedStatus(t *testing.T, m *ir.Module) int {
	t.Helper()

	code, err := interp.New(m).Run(x86.StartName)
	require.NoError(t, err)

	return int(code & 0xff)
}

func TestReturnZeroRuns(t *testing.T) {
	for _, p := range []engine.Platform{engine.LinuxX64, engine.WindowsX64, engine.MacOSX64} {
		res := compileSource(t, testConfig(p, 2), zero)
		require.True(t, res.Report.Success)

		r := bytes.NewReader(res.Image)

		switch p {
		case engine.LinuxX64:
			f, err := elf.NewFile(r)
			require.NoError(t, err)
			assert.Equal(t, elf.ET_EXEC, f.Type)
		case engine.WindowsX64:
			f, err := pe.NewFile(r)
			require.NoError(t, err)

			imps, err := f.ImportedSymbols()
			require.NoError(t, err)
			assert.Equal(t, []string{"ExitProcess:kernel32.dll"}, imps)
		case engine.MacOSX64:
			_, err := macho.NewFile(r)
			require.NoError(t, err)
		}
	}

	res := compileSource(t, testConfig(engine.LinuxX64, 2), zero)
	assert.Equal(t, 0, runNative(t, res.Image))
}

func TestNativeMatchesInterpreter(t *testing.T) {
	src := `
funcs:
  - name: sum
    params: [{name: n, type: i64}]
    result: i64
    body:
      - var: {name: s, value: 0}
      - for: {var: i, from: 0, to: n, body: [{assign: {name: s, value: {bin: ["+", s, i]}}}]}
      - return: s
  - name: main
    result: i64
    body:
      - var: {name: i, value: 0}
      - loop:
          - assign: {name: i, value: {bin: ["+", i, 1]}}
          - if: {cond: {bin: ["<", {bin: ["*", i, i]}, 50]}, then: [continue]}
          - break
      - return: {bin: ["+", i, {call: {func: sum, args: [10]}}]}
`

	for level := 0; level <= 3; level++ {
		t.Run(fmt.Sprintf("O%d", level), func(t *testing.T) {
			res := compileSource(t, testConfig(engine.LinuxX64, level), src)

			c, err := New(testConfig(engine.LinuxX64, level))
			require.NoError(t, err)

			m, err := c.Parse(context.Background(), []byte(src), "test.yaml")
			require.NoError(t, err)
			require.NoError(t, x86.AddStart(m, "main"))

			want := expectedStatus(t, m)
			assert.Equal(t, 8+45, want)

			assert.Equal(t, want, runNative(t, res.Image))
		})
	}
}

// spillSource keeps n products of a parameter live at once.
func spillSource(n int) string {
	var b strings.Builder

	b.WriteString("funcs:\n  - name: spill\n    params: [{name: x, type: i64}]\n    result: i64\n    body:\n")

	for i := range n {
		fmt.Fprintf(&b, "      - let: {name: v%d, value: {bin: [\"*\", x, %d]}}\n", i, i+3)
	}

	b.WriteString("      - var: {name: s, value: 0}\n")

	for i := range n {
		op := "+"
		if i%2 == 1 {
			op = "-"
		}

		fmt.Fprintf(&b, "      - assign: {name: s, value: {bin: [%q, s, v%d]}}\n", op, i)
	}

	b.WriteString("      - return: s\n")
	b.WriteString("  - {name: main, result: i64, body: [{return: {call: {func: spill, args: [5]}}}]}\n")

	return b.String()
}

func TestSpilledValuesAreReloaded(t *testing.T) {
	src := spillSource(24)

	for _, level := range []int{0, 1} {
		res := compileSource(t, testConfig(engine.LinuxX64, level), src)
		assert.Positive(t, res.Report.Spills, "O%d", level)

		c, err := New(testConfig(engine.LinuxX64, level))
		require.NoError(t, err)

		m, err := c.Parse(context.Background(), []byte(src), "test.yaml")
		require.NoError(t, err)

		v, err := interp.New(m).Run("spill", 5)
		require.NoError(t, err)
		assert.Equal(t, int64(-60), v)

		require.NoError(t, x86.AddStart(m, "main"))
		assert.Equal(t, int(-60&0xff), expectedStatus(t, m))

		assert.Equal(t, int(-60&0xff), runNative(t, res.Image), "O%d", level)
	}
}

func TestBuild(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "prog.yaml")
	out := filepath.Join(dir, "prog")

	require.NoError(t, os.WriteFile(src, []byte(zero), 0o644))

	c, err := New(testConfig(engine.LinuxX64, 1))
	require.NoError(t, err)

	rep, err := c.Build(context.Background(), src, out)
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)

	assert.True(t, rep.Success)
	assert.Equal(t, "linux-x64", rep.Target)
	assert.Equal(t, len(data), rep.ImageBytes)
	assert.Equal(t, hex.EncodeToString(digest(data)), rep.Digest)
	assert.Len(t, rep.IR, 64)
	assert.NotEmpty(t, rep.Passes)
	assert.Positive(t, rep.CodeBytes)

	var stages []string
	for _, s := range rep.Stages {
		stages = append(stages, s.Stage)
	}

	assert.Equal(t, []string{"lower", "verify", "optimize", "encode", "emit", "write"}, stages)

	var buf bytes.Buffer
	require.NoError(t, rep.WriteYAML(&buf))
	assert.Contains(t, buf.String(), "success: true")
	assert.Contains(t, buf.String(), "target: linux-x64")

	ents, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, ents, 2, "no temp files left")
}

func TestBuildFailures(t *testing.T) {
	dir := t.TempDir()

	c, err := New(testConfig(engine.LinuxX64, 1))
	require.NoError(t, err)

	rep, err := c.Build(context.Background(), filepath.Join(dir, "missing.yaml"), filepath.Join(dir, "out"))
	assert.True(t, diag.Is(err, diag.KindFrontend), "%v", err)
	require.NotNil(t, rep)
	assert.False(t, rep.Success)

	// write is not available on Windows
	src := filepath.Join(dir, "hello.yaml")
	require.NoError(t, os.WriteFile(src, []byte(`
globals:
  - {name: msg, data: "hi\n"}
funcs:
  - name: main
    result: i64
    body:
      - call: {func: write, args: [1, {addr: msg}, 3]}
      - return: 0
`), 0o644))

	c, err = New(testConfig(engine.WindowsX64, 1))
	require.NoError(t, err)

	_, err = c.Build(context.Background(), src, filepath.Join(dir, "hello.exe"))
	assert.True(t, diag.Is(err, diag.KindEmit), "%v", err)

	_, err = os.Stat(filepath.Join(dir, "hello.exe"))
	assert.True(t, os.IsNotExist(err))

	// the missing entry function
	cfg := testConfig(engine.LinuxX64, 1)
	cfg.Entry = "start"

	c, err = New(cfg)
	require.NoError(t, err)

	_, err = c.Build(context.Background(), src, filepath.Join(dir, "hello"))
	assert.True(t, diag.Is(err, diag.KindConfig), "%v", err)
}

func TestHelloWorldRuns(t *testing.T) {
	res := compileSource(t, testConfig(engine.LinuxX64, 2), `
globals:
  - {name: msg, data: "hello\n"}
funcs:
  - name: main
    result: i64
    body:
      - call: {func: write, args: [1, {addr: msg}, 6]}
      - return: 3
`)

	if runtime.GOOS != "linux" || runtime.GOARCH != "amd64" {
		t.Skip("linux-x64 only")
	}

	name := filepath.Join(t.TempDir(), "hello")
	require.NoError(t, WriteFile(name, res.Image))

	var stdout bytes.Buffer

	cmd := exec.Command(name)
	cmd.Stdout = &stdout

	err := cmd.Run()

	var exit *exec.ExitError
	require.ErrorAs(t, err, &exit)
	assert.Equal(t, 3, exit.ExitCode())
	assert.Equal(t, "hello\n", stdout.String())
}

func TestWriteFile(t *testing.T) {
	dir := t.TempDir()
	name := filepath.Join(dir, "a.out")

	require.NoError(t, os.WriteFile(name, []byte("old"), 0o644))
	require.NoError(t, WriteFile(name, []byte("new")))

	data, err := os.ReadFile(name)
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))

	if runtime.GOOS != "windows" {
		st, err := os.Stat(name)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o755), st.Mode().Perm())
	}

	err = WriteFile(filepath.Join(dir, "missing", "a.out"), []byte("x"))
	assert.True(t, diag.Is(err, diag.KindEmit), "%v", err)

	// the target is a directory: rename fails after the temp file exists
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "keep"), nil, 0o644))

	err = WriteFile(filepath.Join(dir, "sub"), []byte("x"))
	assert.True(t, diag.Is(err, diag.KindEmit), "%v", err)

	ents, err := os.ReadDir(dir)
	require.NoError(t, err)

	var names []string
	for _, e := range ents {
		names = append(names, e.Name())
	}

	assert.ElementsMatch(t, []string{"a.out", "sub"}, names)
}
