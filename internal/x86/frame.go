package x86

import (
	"github.com/samber/lo"

	"github.com/JoeySoprano420/C.A.S.E.-Programming-Language--sub003/internal/diag"
	"github.com/JoeySoprano420/C.A.S.E.-Programming-Language--sub003/internal/ir"
)

// frame is the stack layout of one function, rbp relative:
//
//	[rbp+8]            return address
//	[rbp]              saved rbp
//	[rbp-8*k]          saved callee-saved registers
//	[rbp-base-off]     fixed area: allocas and vector values
//	[rbp-base-F-8(i+1)] slot i: home and spill slots
//	[rsp, rsp+shadow)  shadow space for callees
type frame struct {
	saved  []Reg
	fixed  int
	slots  int
	shadow int

	realign bool // entry function: align rsp instead of trusting the caller
}

func alignUp(n, a int) int { return (n + a - 1) &^ (a - 1) }

func (fr frame) base() int { return alignUp(8*len(fr.saved), 16) }

// fixedDisp is the displacement of a fixed area object ending off bytes
// below the saved registers.
func (fr frame) fixedDisp(off int) int32 { return -int32(fr.base() + off) }

func (fr frame) slotDisp(slot int) int32 {
	return -int32(fr.base() + fr.fixed + 8*(slot+1))
}

// size is what the prologue subtracts from rsp after pushing the saved
// registers. rsp stays 16-byte aligned at every call.
func (fr frame) size() int {
	pushed := 8 * len(fr.saved)
	total := alignUp(fr.base()+fr.fixed+8*fr.slots+fr.shadow, 16)

	return total - pushed
}

// analysis is everything the encoder needs to know about a function before
// emitting it. It does not depend on register assignment, so both passes
// share it.
type analysis struct {
	rpo []ir.BlockID

	uses  map[ir.ValueID]int
	last  map[ir.ValueID]int // local values: index of the last use in their block
	home  map[ir.ValueID]bool
	homes []ir.ValueID // SetHome order

	params []*ir.Instr

	alloca  map[ir.ValueID]int // frame offset
	vslot   map[ir.ValueID]int // frame offset of a vector value
	globals map[ir.ValueID]string

	fixed int
	zero  bool // allocas present: clear the fixed area on entry
	wide  bool // 256-bit vectors
}

func analyze(f *ir.Function) (*analysis, error) {
	an := &analysis{
		rpo:     f.RPO(),
		uses:    map[ir.ValueID]int{},
		last:    map[ir.ValueID]int{},
		home:    map[ir.ValueID]bool{},
		alloca:  map[ir.ValueID]int{},
		vslot:   map[ir.ValueID]int{},
		globals: map[ir.ValueID]string{},
	}

	defBlock := func(v ir.ValueID) ir.BlockID {
		if d := f.Def(v); d != nil {
			return d.Block
		}

		return ir.NoBlock
	}

	setHome := func(v ir.ValueID) {
		if !an.home[v] {
			an.home[v] = true
			an.homes = append(an.homes, v)
		}
	}

	for _, b := range an.rpo {
		for i, id := range f.Block(b).Instrs {
			in := f.Instr(id)

			for _, a := range in.Args {
				if _, ok := f.IsConst(a); ok {
					continue
				}

				an.uses[a]++

				if in.Op == ir.OpPhi || defBlock(a) != b {
					setHome(a)
				} else {
					an.last[a] = i
				}
			}

			if err := an.result(f, in); err != nil {
				return nil, err
			}

			switch in.Op {
			case ir.OpPhi:
				if f.TypeOf(in.Result).IsVector() {
					return nil, unsupported(f, in, "vector phi")
				}

				setHome(in.Result)
			case ir.OpParam:
				an.params = append(an.params, in)
				setHome(in.Result)
			}
		}
	}

	an.fixed = alignUp(an.fixed, 16)

	// homes that are rematerialized or live in the fixed area need no slot
	an.homes = lo.Filter(an.homes, func(v ir.ValueID, _ int) bool { return an.allocated(f, v) })

	return an, nil
}

// result places allocas and vector values into the fixed area.
func (an *analysis) result(f *ir.Function, in *ir.Instr) error {
	switch {
	case in.Op == ir.OpAlloca:
		size := alignUp(max(in.Type.Size(), 1), 8)
		a := 8
		if size >= 16 {
			a = 16
		}

		an.fixed = alignUp(an.fixed+size, a)
		an.alloca[in.Result] = an.fixed
		an.zero = true
	case in.Op == ir.OpGlobalAddr:
		an.globals[in.Result] = in.Callee
	case in.Result != ir.NoValue && f.TypeOf(in.Result).IsVector():
		bits := f.TypeOf(in.Result).Bits()
		if bits != 128 && bits != 256 {
			return unsupported(f, in, "%d-bit vector", bits)
		}

		an.wide = an.wide || bits == 256
		an.fixed = alignUp(an.fixed+bits/8, 16)
		an.vslot[in.Result] = an.fixed
	case in.Result != ir.NoValue:
		if k := f.TypeOf(in.Result).Kind; !k.IsScalar() {
			return unsupported(f, in, "value of type %v", f.TypeOf(in.Result))
		}
	}

	return nil
}

// allocated reports whether v is a scalar held by the register allocator.
// Constants, allocas and global addresses are rematerialized on use.
func (an *analysis) allocated(f *ir.Function, v ir.ValueID) bool {
	if _, ok := f.IsConst(v); ok {
		return false
	}

	if _, ok := an.alloca[v]; ok {
		return false
	}

	if _, ok := an.vslot[v]; ok {
		return false
	}

	_, ok := an.globals[v]

	return !ok
}

func unsupported(f *ir.Function, in *ir.Instr, format string, args ...any) error {
	return diag.New(diag.KindEncode, where(f, in), "unsupported instruction: "+format, args...)
}

func where(f *ir.Function, in *ir.Instr) diag.Where {
	w := diag.Where{Func: f.Name}

	if in != nil {
		if b := f.Block(in.Block); b != nil {
			w.Block = b.String()
		}

		w.Instr = f.FormatInstr(in)
	}

	return w
}
