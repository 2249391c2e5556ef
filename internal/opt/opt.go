// Package opt runs IR-to-IR optimization passes over a module.
//
// Passes never fail. A pass that cannot prove its precondition leaves the
// function alone. Loop passes record their decision on the loop header
// terminator, so running the pipeline over its own output changes nothing.
package opt

import (
	"context"
	"time"

	"tlog.app/go/tlog"

	"github.com/JoeySoprano420/C.A.S.E.-Programming-Language--sub003/internal/engine"
	"github.com/JoeySoprano420/C.A.S.E.-Programming-Language--sub003/internal/ir"
)

type (
	// Pass transforms one function in place and reports whether it changed.
	Pass interface {
		Name() string
		Run(f *ir.Function, st *Stats) bool
	}

	Options struct {
		Level  int // 0 disables optimization
		Rounds int // 0 means the level default

		UnrollFactor int

		Vectorize  bool
		VectorBits int  // 0 means detect host
		SSE41      bool // packed 32-bit multiply available
	}

	// PassStat aggregates one pass in one round over all functions.
	PassStat struct {
		Pass    string        `yaml:"pass"`
		Round   int           `yaml:"round"`
		Runs    int           `yaml:"runs"`
		Changed int           `yaml:"changed"`
		Before  int           `yaml:"instrs_before"`
		After   int           `yaml:"instrs_after"`
		Time    time.Duration `yaml:"time"`
	}

	Stats struct {
		Passes []PassStat

		Folded     int
		Rewritten  int
		Removed    int
		Merged     int
		Unrolled   int
		Vectorized int
	}
)

const maxCleanup = 64

func DefaultOptions(level int) Options {
	return Options{
		Level:        level,
		UnrollFactor: 8,
		Vectorize:    level >= 2,
		SSE41:        engine.HostHasSSE41(),
	}
}

// RoundsFor is the default round count of a level.
func RoundsFor(level int) int {
	return min(max(level, 0), 3)
}

func (o Options) rounds() int {
	if o.Rounds != 0 {
		return o.Rounds
	}

	return RoundsFor(o.Level)
}

func (o Options) vectorBits() int {
	if o.VectorBits != 0 {
		return o.VectorBits
	}

	return engine.HostVectorBits()
}

// cleanup are the local passes run around the structural ones and until
// a fixed point at the end.
func cleanup() []Pass {
	return []Pass{Fold{}, Peephole{}, DCE{}, Merge{}}
}

// structural returns the loop passes enabled by o.
func (o Options) structural() []Pass {
	var r []Pass

	if o.Level >= 2 && o.Vectorize {
		r = append(r, Vectorize{Bits: o.vectorBits(), SSE41: o.SSE41})
	}

	if o.Level >= 3 && o.UnrollFactor > 1 {
		r = append(r, Unroll{Factor: o.UnrollFactor})
	}

	return r
}

// Optimize runs the pipeline configured by o over every function of m.
func Optimize(ctx context.Context, m *ir.Module, o Options) (st *Stats, err error) {
	tr, _ := tlog.SpawnFromContextAndWrap(ctx, "optimize", "level", o.Level, "rounds", o.rounds())
	defer tr.Finish("err", &err)

	st = &Stats{}

	if o.Level <= 0 {
		return st, nil
	}

	for _, f := range m.Funcs {
		optimizeFunc(tr, f, o, st)

		if tr.If("dump_ir") {
			tr.Printw("optimized", "func", f.Name, "ir", f.String())
		}
	}

	return st, nil
}

func optimizeFunc(tr tlog.Span, f *ir.Function, o Options, st *Stats) {
	rounds := o.rounds()

	for r := 1; r <= rounds; r++ {
		st.run(tr, f, r, cleanup()...)
		st.run(tr, f, r, o.structural()...)
		st.run(tr, f, r, cleanup()...)
		st.run(tr, f, r, Compact{})
	}

	for i := 0; i < maxCleanup; i++ {
		if !st.run(tr, f, rounds+1, cleanup()...) {
			break
		}
	}

	st.run(tr, f, rounds+1, Compact{})
}

// run applies passes in order and reports whether any of them changed f.
func (st *Stats) run(tr tlog.Span, f *ir.Function, round int, passes ...Pass) (changed bool) {
	for _, p := range passes {
		before := countInstrs(f)
		start := time.Now()

		c := p.Run(f, st)

		after := countInstrs(f)
		st.record(p.Name(), round, c, before, after, time.Since(start))

		if c && tr.If("opt") {
			tr.Printw("pass changed func", "pass", p.Name(), "func", f.Name, "round", round, "before", before, "after", after)
		}

		changed = changed || c
	}

	return changed
}

func (st *Stats) record(pass string, round int, changed bool, before, after int, d time.Duration) {
	var ps *PassStat

	for i := range st.Passes {
		if st.Passes[i].Pass == pass && st.Passes[i].Round == round {
			ps = &st.Passes[i]
			break
		}
	}

	if ps == nil {
		st.Passes = append(st.Passes, PassStat{Pass: pass, Round: round})
		ps = &st.Passes[len(st.Passes)-1]
	}

	ps.Runs++
	ps.Before += before
	ps.After += after
	ps.Time += d

	if changed {
		ps.Changed++
	}
}

func countInstrs(f *ir.Function) (n int) {
	for _, b := range f.Blocks() {
		n += len(b.Instrs)
	}

	return n
}

// Compact is the footprint compression pass.
type Compact struct{}

func (Compact) Name() string { return "compact" }

func (Compact) Run(f *ir.Function, st *Stats) bool { return f.Compact() }
