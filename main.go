// casec compiles C.A.S.E. programs to native x86-64 executables.
//
// Programs are read in their YAML tree form:
//
//	casec build -o hello hello.yaml
//	casec ir -O 2 hello.yaml
//	casec eval hello.yaml
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/term"
	"nikand.dev/go/cli"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/JoeySoprano420/C.A.S.E.-Programming-Language--sub003/internal/compiler"
	"github.com/JoeySoprano420/C.A.S.E.-Programming-Language--sub003/internal/diag"
	"github.com/JoeySoprano420/C.A.S.E.-Programming-Language--sub003/internal/engine"
	"github.com/JoeySoprano420/C.A.S.E.-Programming-Language--sub003/internal/ir/interp"
	"github.com/JoeySoprano420/C.A.S.E.-Programming-Language--sub003/internal/opt"
)

const version = "0.3.0"

func main() {
	buildCmd := &cli.Command{
		Name:   "build",
		Usage:  "[flags] <program.yaml>",
		Action: buildAct,
		Args:   cli.Args{},
		Flags: append(configFlags(),
			cli.NewFlag("output,o", "", "output executable (default: program name)"),
			cli.NewFlag("report", false, "print the compilation report as YAML"),
		),
	}

	irCmd := &cli.Command{
		Name:        "ir",
		Usage:       "[flags] <program.yaml>",
		Description: "print the IR after lowering and optimization",
		Action:      irAct,
		Args:        cli.Args{},
		Flags:       configFlags(),
	}

	evalCmd := &cli.Command{
		Name:        "eval",
		Usage:       "[flags] <program.yaml> [args...]",
		Description: "run a function in the IR interpreter",
		Action:      evalAct,
		Args:        cli.Args{},
		Flags: append(configFlags(),
			cli.NewFlag("func,f", "", "function to run (default: the entry function)"),
		),
	}

	versionCmd := &cli.Command{
		Name:   "version",
		Action: func(c *cli.Command) error { fmt.Println("casec", version); return nil },
	}

	app := &cli.Command{
		Name:        "casec",
		Description: "casec compiles C.A.S.E. programs to PE, ELF and Mach-O executables",
		Flags: []*cli.Flag{
			cli.HelpFlag,
		},
		Commands: []*cli.Command{
			buildCmd,
			irCmd,
			evalCmd,
			versionCmd,
		},
	}

	cli.RunAndExit(app, os.Args, os.Environ())
}

// configFlags override the config file and the environment.
func configFlags() []*cli.Flag {
	return []*cli.Flag{
		cli.NewFlag("config,c", "", "YAML config file"),
		cli.NewFlag("target,t", "", "target platform: windows-x64, linux-x64, macos-x64"),
		cli.NewFlag("opt,O", -1, "optimization level 0..3"),
		cli.NewFlag("passes", 0, "optimization rounds 1..10"),
		cli.NewFlag("unroll", 0, "loop unroll factor"),
		cli.NewFlag("vector-bits", 0, "vector register width: 128 or 256"),
		cli.NewFlag("no-vectorize", false, "disable loop vectorization"),
		cli.NewFlag("debug-info,g", false, "emit a symbol table"),
		cli.NewFlag("entry", "", "entry function"),
		cli.NewFlag("verbose,v", false, "log every stage"),
		cli.HelpFlag,
	}
}

func loadConfig(c *cli.Command) (cfg compiler.Config, err error) {
	cfg = compiler.DefaultConfig()

	if f := c.String("config"); f != "" {
		if err = cfg.LoadFile(f); err != nil {
			return cfg, err
		}
	}

	if err = cfg.FromEnv(); err != nil {
		return cfg, err
	}

	if t := c.String("target"); t != "" {
		cfg.Target, err = engine.ParsePlatform(t)
		if err != nil {
			return cfg, diag.Wrap(diag.KindConfig, err, diag.Where{}, "--target").
				WithHelp("supported targets: windows-x64, linux-x64, macos-x64")
		}
	}

	if l := c.Int("opt"); l >= 0 {
		cfg.OptimizationLevel = l
	}

	if n := c.Int("passes"); n != 0 {
		cfg.OptimizationPasses = n
	}

	if n := c.Int("unroll"); n != 0 {
		cfg.LoopUnrollFactor = n
	}

	if n := c.Int("vector-bits"); n != 0 {
		cfg.VectorBits = n
	}

	if c.Bool("no-vectorize") {
		cfg.VectorizationEnabled = false
	}

	if c.Bool("debug-info") {
		cfg.GenerateDebugInfo = true
	}

	if e := c.String("entry"); e != "" {
		cfg.Entry = e
	}

	if c.Bool("verbose") {
		cfg.Verbose = true
	}

	return cfg, nil
}

func setup(c *cli.Command) (ctx context.Context, cc *compiler.Context, src string, err error) {
	if len(c.Args) == 0 {
		return nil, nil, "", errors.New("no program file")
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return nil, nil, "", printDiag(err)
	}

	cc, err = compiler.New(cfg)
	if err != nil {
		return nil, nil, "", printDiag(err)
	}

	ctx = context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	return ctx, cc, c.Args[0], nil
}

func buildAct(c *cli.Command) (err error) {
	ctx, cc, src, err := setup(c)
	if err != nil {
		return err
	}

	out := c.String("output")
	if out == "" {
		out = defaultOutput(src, cc.Config.Target)
	}

	rep, err := cc.Build(ctx, src, out)

	cc.Warnings.Report(os.Stderr, color())

	if c.Bool("report") && rep != nil {
		if werr := rep.WriteYAML(os.Stdout); werr != nil {
			return errors.Wrap(werr, "report")
		}
	}

	if err != nil {
		return printDiag(err)
	}

	return nil
}

func irAct(c *cli.Command) (err error) {
	ctx, cc, src, err := setup(c)
	if err != nil {
		return err
	}

	m, err := cc.Load(ctx, src)
	if err != nil {
		return printDiag(err)
	}

	if cc.Config.OptimizationLevel > 0 {
		st, err := opt.Optimize(ctx, m, cc.Config.OptOptions())
		if err != nil {
			return printDiag(err)
		}

		tlog.Printw("optimized", "folded", st.Folded, "removed", st.Removed, "merged", st.Merged, "unrolled", st.Unrolled, "vectorized", st.Vectorized)
	}

	m.Print(os.Stdout)

	return nil
}

func evalAct(c *cli.Command) (err error) {
	ctx, cc, src, err := setup(c)
	if err != nil {
		return err
	}

	m, err := cc.Load(ctx, src)
	if err != nil {
		return printDiag(err)
	}

	if cc.Config.OptimizationLevel > 0 {
		if _, err = opt.Optimize(ctx, m, cc.Config.OptOptions()); err != nil {
			return printDiag(err)
		}
	}

	fn := c.String("func")
	if fn == "" {
		fn = cc.Config.Entry
	}

	args := make([]int64, 0, len(c.Args)-1)

	for _, a := range c.Args[1:] {
		x, err := strconv.ParseInt(a, 0, 64)
		if err != nil {
			return errors.Wrap(err, "argument %q", a)
		}

		args = append(args, x)
	}

	vm := interp.New(m)

	r, err := vm.Run(fn, args...)

	os.Stdout.Write(vm.Output.Bytes())

	if err != nil {
		return errors.Wrap(err, "eval %v", fn)
	}

	fmt.Println(r)

	return nil
}

// defaultOutput names the executable after the program.
func defaultOutput(src string, p engine.Platform) string {
	out := strings.TrimSuffix(src, filepath.Ext(src))

	if p.OS == engine.OSWindows {
		out += ".exe"
	}

	return out
}

// printDiag shows structured diagnostics in full; the returned error only
// sets the exit status.
func printDiag(err error) error {
	var d *diag.Error
	if !errors.As(err, &d) {
		return err
	}

	fmt.Fprint(os.Stderr, d.Format(color()))

	return errors.New("%v failed", d.Kind)
}

func color() bool {
	return term.IsTerminal(int(os.Stderr.Fd()))
}
