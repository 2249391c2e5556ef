// Package x86 turns optimized IR into x86-64 machine code.
//
// Functions are encoded one after another into a single code buffer.
// Calls between functions and jumps between blocks are label references
// resolved once everything is emitted; addresses of globals and imported
// functions stay relocations for the binary emitter.
package x86

import (
	"context"
	"slices"

	"github.com/samber/lo"
	"tlog.app/go/tlog"

	"github.com/JoeySoprano420/C.A.S.E.-Programming-Language--sub003/internal/codebuf"
	"github.com/JoeySoprano420/C.A.S.E.-Programming-Language--sub003/internal/diag"
	"github.com/JoeySoprano420/C.A.S.E.-Programming-Language--sub003/internal/engine"
	"github.com/JoeySoprano420/C.A.S.E.-Programming-Language--sub003/internal/ir"
	"github.com/JoeySoprano420/C.A.S.E.-Programming-Language--sub003/internal/regalloc"
)

type (
	Options struct {
		Platform engine.Platform

		// Entry is the function the loader starts; it aligns its own
		// stack and never returns. Empty means no entry point.
		Entry string
	}

	// Symbol is a function in the code section.
	Symbol struct {
		Name   string
		Offset int
		Size   int
	}

	FuncStat struct {
		Name    string `yaml:"name"`
		Offset  int    `yaml:"offset"`
		Size    int    `yaml:"size"`
		Frame   int    `yaml:"frame"`
		Spills  int    `yaml:"spills"`
		Reloads int    `yaml:"reloads"`
	}

	// Object is the encoded module. Code is resolved: only relocations
	// against Data symbols and Imports remain.
	Object struct {
		Code *codebuf.Buffer

		Data     []byte
		DataSyms map[string]int

		Entry   int
		Imports []string
		Symbols []Symbol
		Funcs   []FuncStat
	}

	moduleEncoder struct {
		m     *ir.Module
		plat  engine.Platform
		conv  CallConv
		entry string

		a  Asm
		tr tlog.Span

		imports map[string]bool
		stubs   map[string]bool
	}
)

// ExternPrefix starts the labels of extern stubs.
const ExternPrefix = "extern."

// Spills is the total over all functions.
func (o *Object) Spills() (n int) {
	for _, f := range o.Funcs {
		n += f.Spills
	}

	return n
}

// Encode compiles every function of m.
func Encode(ctx context.Context, m *ir.Module, o Options) (obj *Object, err error) {
	tr, _ := tlog.SpawnFromContextAndWrap(ctx, "encode", "module", m.Name, "target", o.Platform)
	defer tr.Finish("err", &err)

	if o.Platform.Arch != engine.ArchX86_64 {
		return nil, diag.New(diag.KindEncode, diag.Where{}, "unsupported architecture %v", o.Platform.Arch)
	}

	me := &moduleEncoder{
		m:       m,
		plat:    o.Platform,
		conv:    ConvFor(o.Platform),
		entry:   o.Entry,
		a:       Asm{codebuf.New()},
		tr:      tr,
		imports: map[string]bool{},
		stubs:   map[string]bool{},
	}

	obj = &Object{Code: me.a.Buffer}

	if obj.Data, obj.DataSyms, err = layoutData(m); err != nil {
		return nil, err
	}

	for _, f := range m.Funcs {
		me.a.Align(16)

		st, err := me.encodeFunction(f)
		if err != nil {
			return nil, err
		}

		obj.Funcs = append(obj.Funcs, st)
		obj.Symbols = append(obj.Symbols, Symbol{Name: f.Name, Offset: st.Offset, Size: st.Size})

		if tr.If("encode") {
			tr.Printw("function", "name", f.Name, "bytes", st.Size, "frame", st.Frame, "spills", st.Spills, "reloads", st.Reloads)
		}
	}

	for _, name := range sortedKeys(me.stubs) {
		me.a.Align(16)

		start := me.a.Len()

		if err = me.stub(name); err != nil {
			return nil, err
		}

		obj.Symbols = append(obj.Symbols, Symbol{Name: ExternPrefix + name, Offset: start, Size: me.a.Len() - start})
	}

	if err = me.a.ResolveLabels(); err != nil {
		return nil, err
	}

	if o.Entry != "" {
		off, ok := me.a.Label(o.Entry)
		if !ok {
			return nil, diag.New(diag.KindEncode, diag.Where{}, "entry function %q is not defined", o.Entry)
		}

		obj.Entry = off
	}

	obj.Imports = sortedKeys(me.imports)

	for _, r := range me.a.Relocs() {
		if _, ok := obj.DataSyms[r.Symbol]; !ok && !me.imports[r.Symbol] {
			return nil, diag.New(diag.KindRelocation, diag.Where{}, "relocation against unknown symbol %q", r.Symbol)
		}
	}

	return obj, nil
}

func (m *moduleEncoder) allocator(f *ir.Function, mv regalloc.Mover) *regalloc.Allocator {
	a := regalloc.New(regalloc.Config{
		Pool:        toAlloc(m.conv.Pool()),
		CallerSaved: toAlloc(m.conv.Volatile()),
	}, mv)

	a.Func = f.Name

	return a
}

// callTarget emits the call instruction for in. Module functions are
// called directly. Externs go through the import table on Windows and
// through syscall stubs elsewhere.
func (m *moduleEncoder) callTarget(a Asm, f *ir.Function, in *ir.Instr) error {
	if m.m.Func(in.Callee) != nil {
		a.Call(in.Callee)
		return nil
	}

	if m.m.Extern(in.Callee) == nil {
		return diag.New(diag.KindVerify, where(f, in), "call of undeclared %q", in.Callee)
	}

	if m.m.Global(in.Callee) != nil {
		return diag.New(diag.KindEncode, where(f, in), "extern %q shadows a global of the same name", in.Callee)
	}

	if m.plat.Container() == engine.ContainerPE {
		m.imports[in.Callee] = true
		a.CallRIP(in.Callee)

		return nil
	}

	if _, ok := syscalls[in.Callee]; !ok {
		return diag.New(diag.KindEmit, where(f, in), "extern %q cannot be imported on %v", in.Callee, m.plat).
			WithHelp("supported externs: exit, write")
	}

	m.stubs[in.Callee] = true
	a.Call(ExternPrefix + in.Callee)

	return nil
}

// layoutData places globals in declaration order at their natural
// alignment.
func layoutData(m *ir.Module) ([]byte, map[string]int, error) {
	var data []byte

	syms := map[string]int{}

	for _, g := range m.Globals {
		if _, dup := syms[g.Name]; dup {
			return nil, nil, diag.New(diag.KindEncode, diag.Where{}, "global %q defined twice", g.Name)
		}

		size := max(g.Type.Size(), len(g.Init))

		for len(data)%max(g.Type.Align(), 1) != 0 {
			data = append(data, 0)
		}

		syms[g.Name] = len(data)
		data = append(data, g.Init...)
		data = append(data, make([]byte, size-len(g.Init))...)
	}

	return data, syms, nil
}

func sortedKeys(m map[string]bool) []string {
	r := lo.Keys(m)
	slices.Sort(r)

	return r
}
