// Package compiler drives one compilation: program tree to IR, IR through
// the optimizer, encoder and container emitter, and the result to disk.
package compiler

import (
	"context"
	"os"
	"time"

	"golang.org/x/crypto/blake2b"
	"tlog.app/go/tlog"

	"github.com/JoeySoprano420/C.A.S.E.-Programming-Language--sub003/internal/ast"
	"github.com/JoeySoprano420/C.A.S.E.-Programming-Language--sub003/internal/binfmt"
	"github.com/JoeySoprano420/C.A.S.E.-Programming-Language--sub003/internal/diag"
	"github.com/JoeySoprano420/C.A.S.E.-Programming-Language--sub003/internal/ir"
	"github.com/JoeySoprano420/C.A.S.E.-Programming-Language--sub003/internal/lower"
	"github.com/JoeySoprano420/C.A.S.E.-Programming-Language--sub003/internal/opt"
	"github.com/JoeySoprano420/C.A.S.E.-Programming-Language--sub003/internal/x86"
)

type (
	// Context is the state of one compilation. It is not shared between
	// compilations.
	Context struct {
		Config Config

		Warnings diag.List

		stages []StageTime
		opt    *opt.Stats
	}

	StageTime struct {
		Stage string        `yaml:"stage"`
		Time  time.Duration `yaml:"time"`
	}

	// Result is a compiled executable.
	Result struct {
		Image  []byte
		Object *x86.Object
		Report *Report
	}
)

// VerboseTopics are enabled by Config.Verbose.
const VerboseTopics = "opt,regalloc,encode,dump_ir"

func New(cfg Config) (*Context, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Verbose {
		tlog.SetVerbosity(VerboseTopics)
	}

	return &Context{Config: cfg}, nil
}

// stage times f and records it in the report.
func (c *Context) stage(ctx context.Context, name string, f func(ctx context.Context) error) (err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, name)
	defer tr.Finish("err", &err)

	start := time.Now()

	err = f(ctx)

	c.stages = append(c.stages, StageTime{Stage: name, Time: time.Since(start)})

	return err
}

// Load reads a YAML program and lowers it to IR.
func (c *Context) Load(ctx context.Context, name string) (m *ir.Module, err error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, diag.Wrap(diag.KindFrontend, err, diag.Where{}, "read %v", name)
	}

	return c.Parse(ctx, data, name)
}

// Parse lowers a YAML program held in memory.
func (c *Context) Parse(ctx context.Context, data []byte, name string) (m *ir.Module, err error) {
	err = c.stage(ctx, "lower", func(ctx context.Context) error {
		p, err := ast.Decode(data)
		if err != nil {
			return err
		}

		m, err = lower.Program(ctx, p, name)

		return err
	})

	return m, err
}

// Compile turns m into an executable for the configured target.
// m is modified: it is optimized and gets an entry stub.
func (c *Context) Compile(ctx context.Context, m *ir.Module) (res *Result, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "compile", "module", m.Name, "target", c.Config.Target)
	defer tr.Finish("err", &err)

	start := time.Now()
	cfg := c.Config

	if err = c.stage(ctx, "verify", func(ctx context.Context) error { return c.verify(m) }); err != nil {
		return nil, err
	}

	if cfg.OptimizationLevel > 0 {
		err = c.stage(ctx, "optimize", func(ctx context.Context) (err error) {
			c.opt, err = opt.Optimize(ctx, m, cfg.OptOptions())
			if err != nil {
				return err
			}

			return c.verify(m)
		})
		if err != nil {
			return nil, err
		}
	}

	if err = x86.AddStart(m, cfg.Entry); err != nil {
		return nil, err
	}

	var obj *x86.Object

	err = c.stage(ctx, "encode", func(ctx context.Context) (err error) {
		obj, err = x86.Encode(ctx, m, x86.Options{Platform: cfg.Target, Entry: x86.StartName})
		return err
	})
	if err != nil {
		return nil, err
	}

	var image []byte

	err = c.stage(ctx, "emit", func(ctx context.Context) (err error) {
		e, err := binfmt.New(cfg.Target.Container())
		if err != nil {
			return err
		}

		image, err = e.Emit(ImageOf(obj, cfg.GenerateDebugInfo))

		return err
	})
	if err != nil {
		return nil, err
	}

	rep := c.report(m, obj, image)
	rep.Total = time.Since(start)

	tr.Printw("compiled", "code", rep.CodeBytes, "data", rep.DataBytes, "image", rep.ImageBytes, "spills", rep.Spills)

	return &Result{Image: image, Object: obj, Report: rep}, nil
}

// verify fails on malformed IR and collects warnings.
func (c *Context) verify(m *ir.Module) error {
	warns, err := ir.Verify(m)

	for _, w := range warns {
		c.Warnings.Add(w)
	}

	return err
}

// ImageOf converts an encoded module to the emitter input.
func ImageOf(obj *x86.Object, debug bool) *binfmt.Image {
	img := &binfmt.Image{
		Code:     obj.Code.Bytes(),
		Data:     obj.Data,
		DataSyms: obj.DataSyms,
		Entry:    obj.Entry,
		Relocs:   obj.Code.Relocs(),
		Imports:  obj.Imports,
		Debug:    debug,
	}

	for _, s := range obj.Symbols {
		img.Symbols = append(img.Symbols, binfmt.Symbol{Name: s.Name, Offset: s.Offset, Size: s.Size})
	}

	return img
}

// Build compiles the program in src and writes the executable to out.
// The report is returned on failure too, with Success unset.
func (c *Context) Build(ctx context.Context, src, out string) (rep *Report, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "build", "src", src, "out", out)
	defer tr.Finish("err", &err)

	fail := func(err error) (*Report, error) {
		return &Report{Target: c.Config.Target.String(), Stages: c.stages, Warnings: c.Warnings.Strings()}, err
	}

	m, err := c.Load(ctx, src)
	if err != nil {
		return fail(err)
	}

	res, err := c.Compile(ctx, m)
	if err != nil {
		return fail(err)
	}

	err = c.stage(ctx, "write", func(ctx context.Context) error {
		return WriteFile(out, res.Image)
	})
	if err != nil {
		return fail(err)
	}

	res.Report.Stages = c.stages

	return res.Report, nil
}

func digest(b []byte) []byte {
	sum := blake2b.Sum256(b)
	return sum[:]
}
