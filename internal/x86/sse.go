package x86

import (
	"github.com/JoeySoprano420/C.A.S.E.-Programming-Language--sub003/internal/ir"
)

// Mandatory prefix selector shared by the legacy and VEX encodings.
const (
	ppNone byte = iota
	pp66
	ppF3
	ppF2
)

var ppByte = [...]byte{0, 0x66, 0xf3, 0xf2}

// Opcode maps.
const (
	map0F   byte = 1
	map0F38 byte = 2
)

// sseOp is one SSE instruction: prefix, map and opcode.
type sseOp struct {
	pp  byte
	mm  byte
	op  byte
	w   bool
	ext bool // reg field is an opcode extension
}

// sse emits the legacy SSE encoding with reg in ModRM.reg and a register
// rm operand.
func (a Asm) sse(o sseOp, reg, rm byte) {
	if o.pp != ppNone {
		a.Emit8(ppByte[o.pp])
	}

	a.rex(o.w, reg, 0, rm, false)
	a.Emit8(0x0f)

	if o.mm == map0F38 {
		a.Emit8(0x38)
	}

	a.EmitBytes(o.op, modrm(3, reg, rm))
}

// sseMem is the memory form [base+disp].
func (a Asm) sseMem(o sseOp, reg byte, base Reg, disp int32) {
	if o.pp != ppNone {
		a.Emit8(ppByte[o.pp])
	}

	a.rex(o.w, reg, 0, byte(base), false)
	a.Emit8(0x0f)

	if o.mm == map0F38 {
		a.Emit8(0x38)
	}

	a.Emit8(o.op)
	a.mem(reg, base, disp)
}

// vex emits a three byte VEX prefix. vvvv is the extra source register.
func (a Asm) vex(o sseOp, reg, vvvv, base byte, l256 bool) {
	b1 := o.mm

	if reg&8 == 0 {
		b1 |= 0x80
	}

	b1 |= 0x40 // no index register

	if base&8 == 0 {
		b1 |= 0x20
	}

	b2 := (^vvvv&15)<<3 | o.pp

	if o.w {
		b2 |= 0x80
	}

	if l256 {
		b2 |= 4
	}

	a.EmitBytes(0xc4, b1, b2, o.op)
}

// MovqToX is movq x, r64; the upper lanes are zeroed.
func (a Asm) MovqToX(x XReg, r Reg) {
	a.sse(sseOp{pp: pp66, mm: map0F, op: 0x6e, w: true}, byte(x), byte(r))
}

// MovqFromX is movq r64, x.
func (a Asm) MovqFromX(r Reg, x XReg) {
	a.sse(sseOp{pp: pp66, mm: map0F, op: 0x7e, w: true}, byte(x), byte(r))
}

// MovdToX is movd x, r32.
func (a Asm) MovdToX(x XReg, r Reg) {
	a.sse(sseOp{pp: pp66, mm: map0F, op: 0x6e}, byte(x), byte(r))
}

// MovdFromX is movd r32, x; the result is zero-extended.
func (a Asm) MovdFromX(r Reg, x XReg) {
	a.sse(sseOp{pp: pp66, mm: map0F, op: 0x7e}, byte(x), byte(r))
}

// ToX moves the bits of a scalar of kind k from r into the low lane of x.
func (a Asm) ToX(x XReg, r Reg, k ir.Kind) {
	if k == ir.KindF32 {
		a.MovdToX(x, r)
		return
	}

	a.MovqToX(x, r)
}

// FromX moves the low lane of x into r as a scalar of kind k.
func (a Asm) FromX(r Reg, x XReg, k ir.Kind) {
	if k == ir.KindF32 {
		a.MovdFromX(r, x)
		return
	}

	a.MovqFromX(r, x)
}

func scalarPP(k ir.Kind) byte {
	if k == ir.KindF32 {
		return ppF3
	}

	return ppF2
}

// FloatOp is dst = dst op src on the low lane: addsd/subsd/mulsd/divsd or
// the single precision forms.
func (a Asm) FloatOp(op ir.Op, k ir.Kind, dst, src XReg) {
	code := map[ir.Op]byte{ir.OpAdd: 0x58, ir.OpMul: 0x59, ir.OpSub: 0x5c, ir.OpDiv: 0x5e}[op]
	a.sse(sseOp{pp: scalarPP(k), mm: map0F, op: code}, byte(dst), byte(src))
}

// Ucomis compares the low lanes of x and y and sets ZF, PF and CF.
func (a Asm) Ucomis(k ir.Kind, x, y XReg) {
	pp := pp66
	if k == ir.KindF32 {
		pp = ppNone
	}

	a.sse(sseOp{pp: pp, mm: map0F, op: 0x2e}, byte(x), byte(y))
}

// Xorps clears or flips bits of a whole register.
func (a Asm) Xorps(dst, src XReg) {
	a.sse(sseOp{mm: map0F, op: 0x57}, byte(dst), byte(src))
}

// Cvtsi2sd converts the signed 64-bit r into a double in x.
func (a Asm) Cvtsi2sd(x XReg, r Reg) {
	a.sse(sseOp{pp: ppF2, mm: map0F, op: 0x2a, w: true}, byte(x), byte(r))
}

// Cvttsd2si truncates the low lane of x, a double or a float, into r.
func (a Asm) Cvttsd2si(r Reg, x XReg, k ir.Kind) {
	a.sse(sseOp{pp: scalarPP(k), mm: map0F, op: 0x2c, w: true}, byte(r), byte(x))
}

// Cvtsd2ss narrows the double in src to a float in dst.
func (a Asm) Cvtsd2ss(dst, src XReg) {
	a.sse(sseOp{pp: ppF2, mm: map0F, op: 0x5a}, byte(dst), byte(src))
}

// packedOps maps lane-wise ops and element kinds to instructions.
var packedOps = map[ir.Op]map[ir.Kind]sseOp{
	ir.OpVectorAdd: {
		ir.KindI32: {pp: pp66, mm: map0F, op: 0xfe}, // paddd
		ir.KindU32: {pp: pp66, mm: map0F, op: 0xfe},
		ir.KindI64: {pp: pp66, mm: map0F, op: 0xd4}, // paddq
		ir.KindU64: {pp: pp66, mm: map0F, op: 0xd4},
		ir.KindF32: {pp: ppNone, mm: map0F, op: 0x58}, // addps
		ir.KindF64: {pp: pp66, mm: map0F, op: 0x58},   // addpd
	},
	ir.OpVectorSub: {
		ir.KindI32: {pp: pp66, mm: map0F, op: 0xfa}, // psubd
		ir.KindU32: {pp: pp66, mm: map0F, op: 0xfa},
		ir.KindI64: {pp: pp66, mm: map0F, op: 0xfb}, // psubq
		ir.KindU64: {pp: pp66, mm: map0F, op: 0xfb},
		ir.KindF32: {pp: ppNone, mm: map0F, op: 0x5c},
		ir.KindF64: {pp: pp66, mm: map0F, op: 0x5c},
	},
	ir.OpVectorMul: {
		ir.KindI32: {pp: pp66, mm: map0F38, op: 0x40}, // pmulld
		ir.KindU32: {pp: pp66, mm: map0F38, op: 0x40},
		ir.KindF32: {pp: ppNone, mm: map0F, op: 0x59},
		ir.KindF64: {pp: pp66, mm: map0F, op: 0x59},
	},
}

// PackedOp is dst = dst op src over all lanes. Wide selects the VEX.256
// three operand form dst = dst op src.
func (a Asm) PackedOp(op ir.Op, k ir.Kind, dst, src XReg, wide bool) bool {
	o, ok := packedOps[op][k]
	if !ok {
		return false
	}

	if wide {
		a.vex(o, byte(dst), byte(dst), byte(src), true)
		a.Emit8(modrm(3, byte(dst), byte(src)))

		return true
	}

	a.sse(o, byte(dst), byte(src))

	return true
}

var (
	movdquLoad  = sseOp{pp: ppF3, mm: map0F, op: 0x6f}
	movdquStore = sseOp{pp: ppF3, mm: map0F, op: 0x7f}
)

// LoadVec is movdqu x, [base+disp] (vmovdqu ymm when wide).
func (a Asm) LoadVec(x XReg, base Reg, disp int32, wide bool) {
	if wide {
		a.vex(movdquLoad, byte(x), 0, byte(base), true)
		a.mem(byte(x), base, disp)

		return
	}

	a.sseMem(movdquLoad, byte(x), base, disp)
}

// StoreVec is movdqu [base+disp], x.
func (a Asm) StoreVec(base Reg, disp int32, x XReg, wide bool) {
	if wide {
		a.vex(movdquStore, byte(x), 0, byte(base), true)
		a.mem(byte(x), base, disp)

		return
	}

	a.sseMem(movdquStore, byte(x), base, disp)
}

// Broadcast replicates the low element of bits width of x into every
// lane of x.
func (a Asm) Broadcast(x XReg, bits int, wide bool) {
	if wide {
		op := byte(0x58) // vpbroadcastd
		if bits == 64 {
			op = 0x59 // vpbroadcastq
		}

		a.vex(sseOp{pp: pp66, mm: map0F38, op: op}, byte(x), 0, byte(x), true)
		a.Emit8(modrm(3, byte(x), byte(x)))

		return
	}

	if bits == 64 {
		a.sse(sseOp{pp: pp66, mm: map0F, op: 0x6c}, byte(x), byte(x)) // punpcklqdq
		return
	}

	a.sse(sseOp{pp: pp66, mm: map0F, op: 0x70}, byte(x), byte(x)) // pshufd x, x, 0
	a.Emit8(0)
}

// Vzeroupper clears the upper halves of the ymm registers.
func (a Asm) Vzeroupper() { a.EmitBytes(0xc5, 0xf8, 0x77) }
