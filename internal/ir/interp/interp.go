// Package interp executes IR directly. It is the reference semantics the
// optimizer and the encoder are checked against.
package interp

import (
	"bytes"
	"encoding/binary"

	"tlog.app/go/errors"

	"github.com/JoeySoprano420/C.A.S.E.-Programming-Language--sub003/internal/ir"
)

// ExitError reports a call of the exit extern.
type ExitError struct {
	Code int64
}

func (e *ExitError) Error() string { return "exit" }

var (
	ErrStepLimit  = errors.New("step limit exceeded")
	ErrStackDepth = errors.New("call depth exceeded")
)

const (
	globalBase = 0x1000
	stackBase  = 0x10_0000
	memSize    = 0x40_0000
)

// Machine runs functions of one module.
type Machine struct {
	m *ir.Module

	mem     []byte
	sp      uint64
	globals map[string]uint64

	// Output collects bytes passed to the write extern.
	Output bytes.Buffer

	// MaxSteps bounds the number of executed instructions.
	MaxSteps int
	steps    int
	depth    int
}

// New prepares a machine with globals laid out and initialized.
func New(m *ir.Module) *Machine {
	vm := &Machine{
		m:        m,
		mem:      make([]byte, memSize),
		sp:       stackBase,
		globals:  map[string]uint64{},
		MaxSteps: 10_000_000,
	}

	addr := uint64(globalBase)

	for _, g := range m.Globals {
		addr = alignUp(addr, uint64(g.Type.Align()))
		vm.globals[g.Name] = addr
		copy(vm.mem[addr:], g.Init)

		addr += uint64(max(g.Type.Size(), len(g.Init)))
	}

	return vm
}

// value is a scalar (bits) or a vector (lanes).
type value struct {
	bits  uint64
	lanes []uint64
}

type frame struct {
	f    *ir.Function
	regs []value
	args []value
}

// Run calls the named function with integer arguments. An exit call ends
// the run with its code and a nil error.
func (vm *Machine) Run(name string, args ...int64) (ret int64, err error) {
	f := vm.m.Func(name)
	if f == nil {
		return 0, errors.New("no function %q", name)
	}

	vals := make([]value, len(args))
	for i, a := range args {
		vals[i] = value{bits: uint64(a)}
	}

	r, err := vm.call(f, vals)

	var exit *ExitError
	if errors.As(err, &exit) {
		return exit.Code, nil
	}

	if err != nil {
		return 0, err
	}

	return ir.Normalize(f.Result.Kind, r.bits), nil
}

func (vm *Machine) call(f *ir.Function, args []value) (value, error) {
	if vm.depth++; vm.depth > 1000 {
		return value{}, ErrStackDepth
	}

	defer func(sp uint64) {
		vm.depth--
		vm.sp = sp
	}(vm.sp)

	fr := &frame{f: f, regs: make([]value, f.NumValues()), args: args}

	prev := ir.NoBlock
	cur := f.Entry

	for {
		next, ret, done, err := vm.block(fr, prev, cur)
		if err != nil {
			return value{}, err
		}

		if done {
			return ret, nil
		}

		prev, cur = cur, next
	}
}

func (vm *Machine) block(fr *frame, prev, cur ir.BlockID) (next ir.BlockID, ret value, done bool, err error) {
	f := fr.f
	b := f.Block(cur)

	if b == nil {
		return 0, value{}, false, errors.New("%s: jump to missing block %v", f.Name, cur)
	}

	// phis read their operands simultaneously
	var phiVals []value

	for _, p := range f.Phis(cur) {
		v, ok := p.PhiValue(prev)
		if !ok {
			return 0, value{}, false, errors.New("%s: phi %v has no edge from %v", f.Name, p.Result, prev)
		}

		phiVals = append(phiVals, vm.get(fr, v))
	}

	for i, p := range f.Phis(cur) {
		fr.regs[p.Result] = phiVals[i]
	}

	for _, id := range b.Instrs[len(phiVals):] {
		in := f.Instr(id)

		if vm.steps++; vm.MaxSteps > 0 && vm.steps > vm.MaxSteps {
			return 0, value{}, false, ErrStepLimit
		}

		switch in.Op {
		case ir.OpBr:
			return in.Targets[0], value{}, false, nil
		case ir.OpCondBr:
			if vm.get(fr, in.Args[0]).bits&1 != 0 {
				return in.Targets[0], value{}, false, nil
			}

			return in.Targets[1], value{}, false, nil
		case ir.OpSwitch:
			x := ir.Normalize(f.TypeOf(in.Args[0]).Kind, vm.get(fr, in.Args[0]).bits)

			for i, c := range in.Cases {
				if c == x {
					return in.Targets[i+1], value{}, false, nil
				}
			}

			return in.Targets[0], value{}, false, nil
		case ir.OpRet:
			if len(in.Args) != 0 {
				ret = vm.get(fr, in.Args[0])
			}

			return 0, ret, true, nil
		}

		r, err := vm.exec(fr, in)
		if err != nil {
			return 0, value{}, false, err
		}

		if in.Result != ir.NoValue {
			fr.regs[in.Result] = r
		}
	}

	return 0, value{}, false, errors.New("%s: fell off the end of %v", f.Name, cur)
}

func (vm *Machine) exec(fr *frame, in *ir.Instr) (value, error) {
	f := fr.f
	arg := func(i int) value { return vm.get(fr, in.Args[i]) }
	kind := func(i int) ir.Kind { return f.TypeOf(in.Args[i]).Kind }

	switch in.Op {
	case ir.OpParam:
		return fr.args[in.Index], nil
	case ir.OpCmp:
		if ir.EvalCmp(in.Pred, kind(0), arg(0).bits, arg(1).bits) {
			return value{bits: 1}, nil
		}

		return value{}, nil
	case ir.OpAlloca:
		size := uint64(in.Type.Size())
		vm.sp = alignUp(vm.sp, 16)
		addr := vm.sp
		vm.sp += size

		if vm.sp > memSize {
			return value{}, errors.New("stack overflow")
		}

		clear(vm.mem[addr:vm.sp])

		return value{bits: addr}, nil
	case ir.OpLoad:
		return vm.load(f.TypeOf(in.Result), arg(0).bits)
	case ir.OpStore:
		return value{}, vm.store(f.TypeOf(in.Args[0]), arg(1).bits, arg(0))
	case ir.OpVectorLoad:
		return vm.load(f.TypeOf(in.Result), arg(0).bits)
	case ir.OpVectorStore:
		return value{}, vm.store(f.TypeOf(in.Args[0]), arg(1).bits, arg(0))
	case ir.OpElemPtr:
		return value{bits: arg(0).bits + arg(1).bits*uint64(in.Type.Size())}, nil
	case ir.OpGlobalAddr:
		return value{bits: vm.globals[in.Callee]}, nil
	case ir.OpCall:
		return vm.callee(fr, in)
	case ir.OpBroadcast:
		t := f.TypeOf(in.Result)
		v := value{lanes: make([]uint64, t.Lanes)}

		for i := range v.lanes {
			v.lanes[i] = arg(0).bits
		}

		return v, nil
	case ir.OpVectorAdd, ir.OpVectorSub, ir.OpVectorMul:
		t := f.TypeOf(in.Result)
		a, b := arg(0), arg(1)
		v := value{lanes: make([]uint64, t.Lanes)}

		for i := range v.lanes {
			v.lanes[i] = ir.EvalBinary(ir.ScalarOf(in.Op), t.Elem, a.lanes[i], b.lanes[i])
		}

		return v, nil
	}

	switch {
	case in.Op.IsBinary():
		return value{bits: ir.EvalBinary(in.Op, kind(0), arg(0).bits, arg(1).bits)}, nil
	case in.Op.IsUnary():
		return value{bits: ir.EvalUnary(in.Op, kind(0), f.TypeOf(in.Result).Kind, arg(0).bits)}, nil
	}

	return value{}, errors.New("%s: cannot interpret %v", f.Name, in.Op)
}

func (vm *Machine) callee(fr *frame, in *ir.Instr) (value, error) {
	args := make([]value, len(in.Args))
	for i, a := range in.Args {
		args[i] = vm.get(fr, a)
	}

	if g := vm.m.Func(in.Callee); g != nil {
		return vm.call(g, args)
	}

	switch in.Callee {
	case "exit":
		return value{}, &ExitError{Code: int64(args[0].bits)}
	case "write":
		ptr, n := args[1].bits, args[2].bits
		if ptr+n > memSize {
			return value{}, errors.New("write out of bounds")
		}

		vm.Output.Write(vm.mem[ptr : ptr+n])

		return value{bits: n}, nil
	}

	return value{}, errors.New("call of unknown extern %q", in.Callee)
}

func (vm *Machine) get(fr *frame, id ir.ValueID) value {
	v := fr.f.Value(id)
	if v.IsConst() {
		return value{bits: v.Bits}
	}

	return fr.regs[id]
}

func (vm *Machine) load(t ir.Type, addr uint64) (value, error) {
	if addr+uint64(t.Size()) > memSize || addr < globalBase {
		return value{}, errors.New("load of %v at %#x out of bounds", t, addr)
	}

	if t.IsVector() {
		size := uint64(t.Elem.Bits() / 8)
		v := value{lanes: make([]uint64, t.Lanes)}

		for i := range v.lanes {
			v.lanes[i] = vm.read(t.Elem, addr+uint64(i)*size)
		}

		return v, nil
	}

	return value{bits: vm.read(t.Kind, addr)}, nil
}

func (vm *Machine) read(k ir.Kind, addr uint64) uint64 {
	var raw uint64

	switch k.Bits() {
	case 8:
		raw = uint64(vm.mem[addr])
	case 16:
		raw = uint64(binary.LittleEndian.Uint16(vm.mem[addr:]))
	case 32:
		raw = uint64(binary.LittleEndian.Uint32(vm.mem[addr:]))
	default:
		raw = binary.LittleEndian.Uint64(vm.mem[addr:])
	}

	if k.IsFloat() {
		return raw
	}

	return uint64(ir.Normalize(k, raw))
}

func (vm *Machine) store(t ir.Type, addr uint64, v value) error {
	if addr+uint64(t.Size()) > memSize || addr < globalBase {
		return errors.New("store of %v at %#x out of bounds", t, addr)
	}

	if t.IsVector() {
		size := uint64(t.Elem.Bits() / 8)

		for i, l := range v.lanes {
			vm.write(t.Elem, addr+uint64(i)*size, l)
		}

		return nil
	}

	vm.write(t.Kind, addr, v.bits)

	return nil
}

func (vm *Machine) write(k ir.Kind, addr, bits uint64) {
	switch k.Bits() {
	case 8:
		vm.mem[addr] = byte(bits)
	case 16:
		binary.LittleEndian.PutUint16(vm.mem[addr:], uint16(bits))
	case 32:
		binary.LittleEndian.PutUint32(vm.mem[addr:], uint32(bits))
	default:
		binary.LittleEndian.PutUint64(vm.mem[addr:], bits)
	}
}

// Mem returns size bytes of memory at addr, for tests inspecting stores.
func (vm *Machine) Mem(addr uint64, size int) []byte {
	return vm.mem[addr : addr+uint64(size)]
}

// GlobalAddr returns where a global was placed.
func (vm *Machine) GlobalAddr(name string) uint64 { return vm.globals[name] }

func alignUp(x, a uint64) uint64 {
	if a <= 1 {
		return x
	}

	return (x + a - 1) &^ (a - 1)
}
