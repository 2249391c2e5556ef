package compiler

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xyproto/env/v2"

	"github.com/JoeySoprano420/C.A.S.E.-Programming-Language--sub003/internal/diag"
	"github.com/JoeySoprano420/C.A.S.E.-Programming-Language--sub003/internal/engine"
)

func setenv(t *testing.T, name, value string) {
	t.Helper()

	env.Set(name, value)
	t.Cleanup(func() { env.Unset(name) })
}

func TestConfigLayers(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	file := filepath.Join(t.TempDir(), "case.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
optimization_level: 3
target: windows-x64
loop_unroll_factor: 4
generate_debug_info: true
`), 0o644))

	require.NoError(t, cfg.LoadFile(file))

	setenv(t, EnvOptLevel, "1")
	setenv(t, EnvVectorize, "false")
	setenv(t, EnvTarget, "macos-x64")

	require.NoError(t, cfg.FromEnv())

	want := DefaultConfig()
	want.OptimizationLevel = 1
	want.Target = engine.MacOSX64
	want.LoopUnrollFactor = 4
	want.VectorizationEnabled = false
	want.GenerateDebugInfo = true

	if d := cmp.Diff(want, cfg); d != "" {
		t.Errorf("config mismatch (-want +got):\n%s", d)
	}

	o := cfg.OptOptions()
	assert.Equal(t, 1, o.Level)
	assert.Equal(t, 4, o.UnrollFactor)
	assert.False(t, o.Vectorize)
}

func TestConfigErrors(t *testing.T) {
	var cfg Config

	err := cfg.Decode([]byte("optimisation_level: 2\n"), "typo.yaml")
	assert.True(t, diag.Is(err, diag.KindConfig), "%v", err)

	err = cfg.Decode([]byte("target: plan9-x64\n"), "bad.yaml")
	assert.True(t, diag.Is(err, diag.KindConfig), "%v", err)

	err = cfg.LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, diag.Is(err, diag.KindConfig), "%v", err)

	setenv(t, EnvPasses, "many")

	cfg = DefaultConfig()
	err = cfg.FromEnv()
	assert.True(t, diag.Is(err, diag.KindConfig), "%v", err)

	for _, tc := range []struct {
		name string
		edit func(c *Config)
	}{
		{"level", func(c *Config) { c.OptimizationLevel = 4 }},
		{"negative level", func(c *Config) { c.OptimizationLevel = -1 }},
		{"passes", func(c *Config) { c.OptimizationPasses = 11 }},
		{"unroll", func(c *Config) { c.LoopUnrollFactor = 0 }},
		{"target", func(c *Config) { c.Target = engine.Platform{} }},
		{"vector bits", func(c *Config) { c.VectorBits = 512 }},
		{"entry", func(c *Config) { c.Entry = "" }},
	} {
		c := DefaultConfig()
		tc.edit(&c)

		err := c.Validate()
		assert.True(t, diag.Is(err, diag.KindConfig), "%v: %v", tc.name, err)

		_, err = New(c)
		assert.Error(t, err, tc.name)
	}
}

func TestPasses(t *testing.T) {
	c := DefaultConfig()

	for level, want := range []int{0, 1, 2, 3} {
		c.OptimizationLevel = level
		assert.Equal(t, want, c.Passes(), level)
	}

	c.OptimizationLevel = 1
	c.OptimizationPasses = 5
	assert.Equal(t, 5, c.Passes())

	c.OptimizationLevel = 0
	assert.Zero(t, c.Passes())
}
