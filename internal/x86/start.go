package x86

import (
	"github.com/JoeySoprano420/C.A.S.E.-Programming-Language--sub003/internal/diag"
	"github.com/JoeySoprano420/C.A.S.E.-Programming-Language--sub003/internal/engine"
	"github.com/JoeySoprano420/C.A.S.E.-Programming-Language--sub003/internal/ir"
)

// StartName is the process entry added by AddStart.
const StartName = "_start"

// syscall numbers of the externs available without an import table
var syscalls = map[string]map[engine.OS]int32{
	"exit":  {engine.OSLinux: 60, engine.OSMacOS: 0x2000001},
	"write": {engine.OSLinux: 1, engine.OSMacOS: 0x2000004},
}

// AddStart adds the process entry function: it calls entry and passes its
// result to exit. A void entry exits with 0.
func AddStart(m *ir.Module, entry string) error {
	main := m.Func(entry)
	if main == nil {
		return diag.New(diag.KindConfig, diag.Where{}, "entry function %q not found", entry)
	}

	if len(main.Params) != 0 {
		return diag.New(diag.KindConfig, diag.Where{Func: entry}, "entry function takes %d parameters, want none", len(main.Params))
	}

	if m.Func(StartName) != nil {
		return diag.New(diag.KindConfig, diag.Where{Func: StartName}, "%s is reserved for the process entry", StartName)
	}

	if e := m.Extern("exit"); e != nil && (len(e.Params) != 1 || !e.Params[0].IsInt()) {
		return diag.New(diag.KindConfig, diag.Where{}, "extern exit must take one integer")
	}

	m.DeclareExtern("exit", []ir.Type{ir.I64}, ir.Void)

	f := m.NewFunction(StartName, nil, ir.Void)
	b := ir.NewBuilder(f)
	b.SetInsertPoint(b.CreateBlock("entry"))

	code := b.ConstInt(ir.I64, 0)
	want := m.Extern("exit").Params[0]

	switch r := b.CreateCall(entry); {
	case main.Result.IsVoid():
	case main.Result.IsFloat():
		code = b.CreateFToI(want, r)
	case main.Result.Equal(want):
		code = r
	default:
		code = b.CreateICast(want, r)
	}

	if !b.Func().TypeOf(code).Equal(want) {
		code = b.CreateICast(want, code)
	}

	b.CreateCall("exit", code)
	b.CreateRet(ir.NoValue)

	return nil
}

// stub emits the body of an extern on a target without import tables.
// Arguments already are in the registers the kernel expects.
func (m *moduleEncoder) stub(name string) error {
	a := m.a

	if err := a.DefineLabel(ExternPrefix + name); err != nil {
		return err
	}

	nr, ok := syscalls[name][m.plat.OS]
	if !ok {
		return diag.New(diag.KindEmit, diag.Where{}, "extern %q cannot be imported on %v", name, m.plat)
	}

	a.MovRI(RAX, int64(nr))
	a.Syscall()

	if name != "exit" {
		a.Ret()
	}

	return nil
}
