package x86

import (
	"github.com/JoeySoprano420/C.A.S.E.-Programming-Language--sub003/internal/codebuf"
)

// Asm appends x86-64 instructions to a code buffer. Each method has one
// encoding path; register, immediate and memory forms are separate
// methods.
type Asm struct {
	*codebuf.Buffer
}

// Cond is a condition code as used by Jcc and SETcc.
type Cond byte

const (
	CondO  Cond = 0x0
	CondB  Cond = 0x2 // unsigned <
	CondAE Cond = 0x3 // unsigned >=
	CondE  Cond = 0x4
	CondNE Cond = 0x5
	CondBE Cond = 0x6 // unsigned <=
	CondA  Cond = 0x7 // unsigned >
	CondS  Cond = 0x8
	CondP  Cond = 0xa
	CondNP Cond = 0xb
	CondL  Cond = 0xc // signed <
	CondGE Cond = 0xd
	CondLE Cond = 0xe
	CondG  Cond = 0xf
)

// ALU is the /digit of the group 1 opcodes; op<<3|1 is the r/m, reg form.
type ALU byte

const (
	ADD ALU = 0
	OR  ALU = 1
	AND ALU = 4
	SUB ALU = 5
	XOR ALU = 6
	CMP ALU = 7
)

// Width is an integer operand size in bytes.
type Width int

const (
	W8  Width = 1
	W16 Width = 2
	W32 Width = 4
	W64 Width = 8
)

// rex emits a REX prefix when any bit is set or force is true.
func (a Asm) rex(w bool, reg, index, base byte, force bool) {
	b := byte(0x40)

	if w {
		b |= 8
	}

	if reg&8 != 0 {
		b |= 4
	}

	if index&8 != 0 {
		b |= 2
	}

	if base&8 != 0 {
		b |= 1
	}

	if b != 0x40 || force {
		a.Emit8(b)
	}
}

func modrm(mod, reg, rm byte) byte { return mod<<6 | (reg&7)<<3 | rm&7 }

// mem emits ModRM, SIB and displacement for [base+disp].
func (a Asm) mem(reg byte, base Reg, disp int32) {
	switch {
	case disp == 0 && base.low() != 5:
		a.Emit8(modrm(0, reg, base.low()))
	case disp == int32(int8(disp)):
		a.Emit8(modrm(1, reg, base.low()))
	default:
		a.Emit8(modrm(2, reg, base.low()))
	}

	if base.low() == 4 {
		a.Emit8(0x24)
	}

	switch {
	case disp == 0 && base.low() != 5:
	case disp == int32(int8(disp)):
		a.Emit8(byte(int8(disp)))
	default:
		a.Emit32(uint32(disp))
	}
}

// MovRR is mov dst, src.
func (a Asm) MovRR(dst, src Reg) {
	a.rex(true, byte(src), 0, byte(dst), false)
	a.EmitBytes(0x89, modrm(3, byte(src), byte(dst)))
}

// MovRI loads a 64-bit immediate with the shortest encoding.
func (a Asm) MovRI(dst Reg, imm int64) {
	switch {
	case imm == 0:
		a.rex(false, byte(dst), 0, byte(dst), false)
		a.EmitBytes(0x31, modrm(3, byte(dst), byte(dst)))
	case uint64(imm) <= 0xffffffff:
		a.rex(false, 0, 0, byte(dst), false)
		a.Emit8(0xb8 + dst.low())
		a.Emit32(uint32(imm))
	case imm == int64(int32(imm)):
		a.rex(true, 0, 0, byte(dst), false)
		a.EmitBytes(0xc7, modrm(3, 0, byte(dst)))
		a.Emit32(uint32(imm))
	default:
		a.rex(true, 0, 0, byte(dst), false)
		a.Emit8(0xb8 + dst.low())
		a.Emit64(uint64(imm))
	}
}

// Load is a zero- or sign-extending load of w bytes into the full dst.
func (a Asm) Load(dst Reg, w Width, signed bool, base Reg, disp int32) {
	switch {
	case w == W64:
		a.rex(true, byte(dst), 0, byte(base), false)
		a.Emit8(0x8b)
	case w == W32 && signed:
		a.rex(true, byte(dst), 0, byte(base), false)
		a.Emit8(0x63)
	case w == W32:
		a.rex(false, byte(dst), 0, byte(base), false)
		a.Emit8(0x8b)
	case signed:
		a.rex(true, byte(dst), 0, byte(base), false)
		a.EmitBytes(0x0f, 0xbe|byte(w>>1))
	default:
		a.rex(false, byte(dst), 0, byte(base), false)
		a.EmitBytes(0x0f, 0xb6|byte(w>>1))
	}

	a.mem(byte(dst), base, disp)
}

// Store writes the low w bytes of src.
func (a Asm) Store(base Reg, disp int32, src Reg, w Width) {
	if w == W16 {
		a.Emit8(0x66)
	}

	a.rex(w == W64, byte(src), 0, byte(base), w == W8 && src >= RSP)

	if w == W8 {
		a.Emit8(0x88)
	} else {
		a.Emit8(0x89)
	}

	a.mem(byte(src), base, disp)
}

// Lea is lea dst, [base+disp].
func (a Asm) Lea(dst, base Reg, disp int32) {
	a.rex(true, byte(dst), 0, byte(base), false)
	a.Emit8(0x8d)
	a.mem(byte(dst), base, disp)
}

// LeaIndex is lea dst, [base+index*scale].
func (a Asm) LeaIndex(dst, base, index Reg, scale int) {
	ss := map[int]byte{1: 0, 2: 1, 4: 2, 8: 3}[scale]

	a.rex(true, byte(dst), byte(index), byte(base), false)
	a.EmitBytes(0x8d, modrm(0, byte(dst), 4), ss<<6|index.low()<<3|base.low())
}

// LeaRIP is lea dst, [rip+sym]; the displacement is a relocation.
func (a Asm) LeaRIP(dst Reg, sym string) {
	a.rex(true, byte(dst), 0, 0, false)
	a.EmitBytes(0x8d, modrm(0, byte(dst), 5))
	a.AddReloc(codebuf.Rel32, sym, 0)
}

// Op is dst = dst op src for the group 1 arithmetic.
func (a Asm) Op(op ALU, dst, src Reg) {
	a.rex(true, byte(src), 0, byte(dst), false)
	a.EmitBytes(byte(op)<<3|1, modrm(3, byte(src), byte(dst)))
}

// OpImm is dst = dst op imm with a sign-extended immediate.
func (a Asm) OpImm(op ALU, dst Reg, imm int32) {
	a.rex(true, 0, 0, byte(dst), false)

	if imm == int32(int8(imm)) {
		a.EmitBytes(0x83, modrm(3, byte(op), byte(dst)), byte(int8(imm)))
		return
	}

	a.EmitBytes(0x81, modrm(3, byte(op), byte(dst)))
	a.Emit32(uint32(imm))
}

// Op32Imm is the 32-bit form; the result is zero-extended.
func (a Asm) Op32Imm(op ALU, dst Reg, imm int32) {
	a.rex(false, 0, 0, byte(dst), false)
	a.EmitBytes(0x81, modrm(3, byte(op), byte(dst)))
	a.Emit32(uint32(imm))
}

// Test is test x, y.
func (a Asm) Test(x, y Reg) {
	a.rex(true, byte(y), 0, byte(x), false)
	a.EmitBytes(0x85, modrm(3, byte(y), byte(x)))
}

// Imul is dst = dst * src, low 64 bits.
func (a Asm) Imul(dst, src Reg) {
	a.rex(true, byte(dst), 0, byte(src), false)
	a.EmitBytes(0x0f, 0xaf, modrm(3, byte(dst), byte(src)))
}

func (a Asm) group3(ext byte, r Reg) {
	a.rex(true, 0, 0, byte(r), false)
	a.EmitBytes(0xf7, modrm(3, ext, byte(r)))
}

func (a Asm) Not(r Reg)  { a.group3(2, r) }
func (a Asm) Neg(r Reg)  { a.group3(3, r) }
func (a Asm) Div(r Reg)  { a.group3(6, r) }
func (a Asm) Idiv(r Reg) { a.group3(7, r) }

// Cqo sign-extends rax into rdx.
func (a Asm) Cqo() { a.EmitBytes(0x48, 0x99) }

func (a Asm) shift(ext byte, r Reg) {
	a.rex(true, 0, 0, byte(r), false)
	a.EmitBytes(0xd3, modrm(3, ext, byte(r)))
}

// Shl, Shr and Sar shift by cl.
func (a Asm) Shl(r Reg) { a.shift(4, r) }
func (a Asm) Shr(r Reg) { a.shift(5, r) }
func (a Asm) Sar(r Reg) { a.shift(7, r) }

// ShrImm is shr r, n.
func (a Asm) ShrImm(r Reg, n byte) {
	a.rex(true, 0, 0, byte(r), false)
	a.EmitBytes(0xc1, modrm(3, 5, byte(r)), n)
}

// Setcc sets the low byte of r (rax..rbx only) to the condition.
func (a Asm) Setcc(c Cond, r Reg) {
	a.EmitBytes(0x0f, 0x90|byte(c), modrm(3, 0, byte(r)))
}

// Extend normalizes r in place to w bytes, signed or unsigned.
func (a Asm) Extend(r Reg, w Width, signed bool) {
	switch {
	case w == W64:
	case w == W32 && signed:
		a.rex(true, byte(r), 0, byte(r), false)
		a.EmitBytes(0x63, modrm(3, byte(r), byte(r)))
	case w == W32:
		a.rex(false, byte(r), 0, byte(r), false)
		a.EmitBytes(0x89, modrm(3, byte(r), byte(r)))
	case signed:
		a.rex(true, byte(r), 0, byte(r), false)
		a.EmitBytes(0x0f, 0xbe|byte(w>>1), modrm(3, byte(r), byte(r)))
	default:
		a.rex(false, byte(r), 0, byte(r), w == W8 && r >= RSP)
		a.EmitBytes(0x0f, 0xb6|byte(w>>1), modrm(3, byte(r), byte(r)))
	}
}

func (a Asm) Push(r Reg) {
	a.rex(false, 0, 0, byte(r), false)
	a.Emit8(0x50 + r.low())
}

func (a Asm) Pop(r Reg) {
	a.rex(false, 0, 0, byte(r), false)
	a.Emit8(0x58 + r.low())
}

// PushMem is push qword [base+disp].
func (a Asm) PushMem(base Reg, disp int32) {
	a.rex(false, 0, 0, byte(base), false)
	a.Emit8(0xff)
	a.mem(6, base, disp)
}

// PopMem is pop qword [base+disp].
func (a Asm) PopMem(base Reg, disp int32) {
	a.rex(false, 0, 0, byte(base), false)
	a.Emit8(0x8f)
	a.mem(0, base, disp)
}

// Call is call rel32 to a label.
func (a Asm) Call(label string) {
	a.Emit8(0xe8)
	a.ReferenceLabel(label)
}

// CallRIP is call qword [rip+sym], an indirect call through an import slot.
func (a Asm) CallRIP(sym string) {
	a.EmitBytes(0xff, 0x15)
	a.AddReloc(codebuf.Rel32, sym, 0)
}

// Jmp is jmp rel32.
func (a Asm) Jmp(label string) {
	a.Emit8(0xe9)
	a.ReferenceLabel(label)
}

// Jcc is jcc rel32.
func (a Asm) Jcc(c Cond, label string) {
	a.EmitBytes(0x0f, 0x80|byte(c))
	a.ReferenceLabel(label)
}

func (a Asm) Ret()     { a.Emit8(0xc3) }
func (a Asm) Leave()   { a.Emit8(0xc9) }
func (a Asm) Nop()     { a.Emit8(0x90) }
func (a Asm) Syscall() { a.EmitBytes(0x0f, 0x05) }
