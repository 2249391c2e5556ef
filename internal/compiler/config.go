package compiler

import (
	"bytes"
	"io"
	"os"
	"runtime"
	"strconv"

	"github.com/xyproto/env/v2"
	"gopkg.in/yaml.v3"
	"tlog.app/go/errors"

	"github.com/JoeySoprano420/C.A.S.E.-Programming-Language--sub003/internal/diag"
	"github.com/JoeySoprano420/C.A.S.E.-Programming-Language--sub003/internal/engine"
	"github.com/JoeySoprano420/C.A.S.E.-Programming-Language--sub003/internal/opt"
)

// Config controls one compilation. Sources apply in order: defaults,
// a YAML file, CASE_* environment variables, command line flags.
type Config struct {
	OptimizationLevel    int             `yaml:"optimization_level"`
	Target               engine.Platform `yaml:"target"`
	LoopUnrollFactor     int             `yaml:"loop_unroll_factor"`
	VectorizationEnabled bool            `yaml:"vectorization_enabled"`

	// OptimizationPasses is the number of pipeline rounds. 0 means the
	// default of the level.
	OptimizationPasses int  `yaml:"optimization_passes"`
	GenerateDebugInfo  bool `yaml:"generate_debug_info"`
	Verbose            bool `yaml:"verbose"`

	// VectorBits is the vector register width. 0 means detect the host.
	VectorBits int `yaml:"vector_bits"`

	// Entry is the function the program starts in.
	Entry string `yaml:"entry"`
}

// Environment variables overriding the config file.
const (
	EnvOptLevel  = "CASE_OPT_LEVEL"
	EnvTarget    = "CASE_TARGET"
	EnvUnroll    = "CASE_UNROLL"
	EnvVectorize = "CASE_VECTORIZE"
	EnvPasses    = "CASE_PASSES"
	EnvDebugInfo = "CASE_DEBUG_INFO"
	EnvVerbose   = "CASE_VERBOSE"
)

const maxPasses = 10

func DefaultConfig() Config {
	return Config{
		OptimizationLevel:    2,
		Target:               HostPlatform(),
		LoopUnrollFactor:     8,
		VectorizationEnabled: true,
		Entry:                "main",
	}
}

// HostPlatform is the platform matching the running OS.
func HostPlatform() engine.Platform {
	switch runtime.GOOS {
	case "windows":
		return engine.WindowsX64
	case "darwin":
		return engine.MacOSX64
	default:
		return engine.LinuxX64
	}
}

// LoadFile reads YAML settings over c. Unknown keys are errors.
func (c *Config) LoadFile(name string) error {
	data, err := os.ReadFile(name)
	if err != nil {
		return diag.Wrap(diag.KindConfig, err, diag.Where{}, "read config %v", name)
	}

	return c.Decode(data, name)
}

func (c *Config) Decode(data []byte, name string) error {
	d := yaml.NewDecoder(bytes.NewReader(data))
	d.KnownFields(true)

	err := d.Decode(c)
	if err != nil && !errors.Is(err, io.EOF) {
		return diag.Wrap(diag.KindConfig, err, diag.Where{}, "parse config %v", name)
	}

	return nil
}

// FromEnv applies the CASE_* variables that are set.
func (c *Config) FromEnv() error {
	ints := []struct {
		name string
		p    *int
	}{
		{EnvOptLevel, &c.OptimizationLevel},
		{EnvUnroll, &c.LoopUnrollFactor},
		{EnvPasses, &c.OptimizationPasses},
	}

	for _, v := range ints {
		if !env.Has(v.name) {
			continue
		}

		x, err := strconv.Atoi(env.Str(v.name))
		if err != nil {
			return diag.Wrap(diag.KindConfig, err, diag.Where{}, "%v: want an integer, got %q", v.name, env.Str(v.name))
		}

		*v.p = x
	}

	bools := []struct {
		name string
		p    *bool
	}{
		{EnvVectorize, &c.VectorizationEnabled},
		{EnvDebugInfo, &c.GenerateDebugInfo},
		{EnvVerbose, &c.Verbose},
	}

	for _, v := range bools {
		if env.Has(v.name) {
			*v.p = env.Bool(v.name)
		}
	}

	if env.Has(EnvTarget) {
		p, err := engine.ParsePlatform(env.Str(EnvTarget))
		if err != nil {
			return diag.Wrap(diag.KindConfig, err, diag.Where{}, "%v", EnvTarget).
				WithHelp("supported targets: windows-x64, linux-x64, macos-x64")
		}

		c.Target = p
	}

	return nil
}

func (c Config) Validate() error {
	if c.OptimizationLevel < 0 || c.OptimizationLevel > 3 {
		return diag.New(diag.KindConfig, diag.Where{}, "optimization level %d out of range", c.OptimizationLevel).
			WithHelp("use 0 to disable optimization, up to 3")
	}

	if c.OptimizationPasses < 0 || c.OptimizationPasses > maxPasses {
		return diag.New(diag.KindConfig, diag.Where{}, "optimization passes %d out of range 1..%d", c.OptimizationPasses, maxPasses)
	}

	if c.LoopUnrollFactor < 1 {
		return diag.New(diag.KindConfig, diag.Where{}, "loop unroll factor must be positive, got %d", c.LoopUnrollFactor)
	}

	if c.Target.Arch != engine.ArchX86_64 {
		return diag.New(diag.KindConfig, diag.Where{}, "unsupported target %v", c.Target).
			WithHelp("supported targets: windows-x64, linux-x64, macos-x64")
	}

	switch c.VectorBits {
	case 0, 128, 256:
	default:
		return diag.New(diag.KindConfig, diag.Where{}, "vector width %d bits is not supported", c.VectorBits).
			WithHelp("use 128, 256 or 0 to detect the host")
	}

	if c.Entry == "" {
		return diag.New(diag.KindConfig, diag.Where{}, "no entry function")
	}

	return nil
}

// Passes is the effective round count.
func (c Config) Passes() int {
	if c.OptimizationLevel == 0 {
		return 0
	}

	if c.OptimizationPasses != 0 {
		return c.OptimizationPasses
	}

	return opt.RoundsFor(c.OptimizationLevel)
}

// OptOptions translates c for the optimizer.
func (c Config) OptOptions() opt.Options {
	o := opt.DefaultOptions(c.OptimizationLevel)

	o.Rounds = c.OptimizationPasses
	o.UnrollFactor = c.LoopUnrollFactor
	o.Vectorize = c.VectorizationEnabled
	o.VectorBits = c.VectorBits

	return o
}
