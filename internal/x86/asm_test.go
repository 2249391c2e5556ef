package x86

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/JoeySoprano420/C.A.S.E.-Programming-Language--sub003/internal/codebuf"
	"github.com/JoeySoprano420/C.A.S.E.-Programming-Language--sub003/internal/ir"
)

func encodeOne(f func(a Asm)) []byte {
	a := Asm{codebuf.New()}
	f(a)

	return a.Bytes()
}

func TestEncodeGPR(t *testing.T) {
	for _, tc := range []struct {
		name string
		emit func(a Asm)
		want []byte
	}{
		{"add rax, rcx", func(a Asm) { a.Op(ADD, RAX, RCX) }, []byte{0x48, 0x01, 0xc8}},
		{"sub r8, rax", func(a Asm) { a.Op(SUB, R8, RAX) }, []byte{0x49, 0x29, 0xc0}},
		{"cmp rax, rcx", func(a Asm) { a.Op(CMP, RAX, RCX) }, []byte{0x48, 0x39, 0xc8}},
		{"mov rbx, r12", func(a Asm) { a.MovRR(RBX, R12) }, []byte{0x4c, 0x89, 0xe3}},

		{"xor eax, eax", func(a Asm) { a.MovRI(RAX, 0) }, []byte{0x31, 0xc0}},
		{"mov ecx, 60", func(a Asm) { a.MovRI(RCX, 60) }, []byte{0xb9, 0x3c, 0, 0, 0}},
		{"mov r9d, 1", func(a Asm) { a.MovRI(R9, 1) }, []byte{0x41, 0xb9, 1, 0, 0, 0}},
		{"mov rax, -1", func(a Asm) { a.MovRI(RAX, -1) }, []byte{0x48, 0xc7, 0xc0, 0xff, 0xff, 0xff, 0xff}},
		{"movabs rdx", func(a Asm) { a.MovRI(RDX, 1<<40) }, []byte{0x48, 0xba, 0, 0, 0, 0, 0, 1, 0, 0}},

		{"mov rax, [rbp-8]", func(a Asm) { a.Load(RAX, W64, false, RBP, -8) }, []byte{0x48, 0x8b, 0x45, 0xf8}},
		{"mov rax, [rsp]", func(a Asm) { a.Load(RAX, W64, false, RSP, 0) }, []byte{0x48, 0x8b, 0x04, 0x24}},
		{"mov rax, [r13]", func(a Asm) { a.Load(RAX, W64, false, R13, 0) }, []byte{0x49, 0x8b, 0x45, 0x00}},
		{"movsx rcx, byte [rax]", func(a Asm) { a.Load(RCX, W8, true, RAX, 0) }, []byte{0x48, 0x0f, 0xbe, 0x08}},
		{"movzx ecx, word [rax]", func(a Asm) { a.Load(RCX, W16, false, RAX, 0) }, []byte{0x0f, 0xb7, 0x08}},
		{"movsxd rax, [rcx]", func(a Asm) { a.Load(RAX, W32, true, RCX, 0) }, []byte{0x48, 0x63, 0x01}},

		{"mov [rbp-16], sil", func(a Asm) { a.Store(RBP, -16, RSI, W8) }, []byte{0x40, 0x88, 0x75, 0xf0}},
		{"mov [rcx], ax", func(a Asm) { a.Store(RCX, 0, RAX, W16) }, []byte{0x66, 0x89, 0x01}},
		{"mov [r12+256], rax", func(a Asm) { a.Store(R12, 0x100, RAX, W64) }, []byte{0x49, 0x89, 0x84, 0x24, 0, 1, 0, 0}},

		{"lea rcx, [rbp-32]", func(a Asm) { a.Lea(RCX, RBP, -32) }, []byte{0x48, 0x8d, 0x4d, 0xe0}},
		{"lea rax, [rax+rcx*8]", func(a Asm) { a.LeaIndex(RAX, RAX, RCX, 8) }, []byte{0x48, 0x8d, 0x04, 0xc8}},

		{"sub rsp, 16", func(a Asm) { a.OpImm(SUB, RSP, 16) }, []byte{0x48, 0x83, 0xec, 0x10}},
		{"and rsp, -16", func(a Asm) { a.OpImm(AND, RSP, -16) }, []byte{0x48, 0x83, 0xe4, 0xf0}},
		{"add rax, 1000", func(a Asm) { a.OpImm(ADD, RAX, 1000) }, []byte{0x48, 0x81, 0xc0, 0xe8, 0x03, 0, 0}},
		{"and eax, 1", func(a Asm) { a.Op32Imm(AND, RAX, 1) }, []byte{0x81, 0xe0, 1, 0, 0, 0}},

		{"imul rax, rcx", func(a Asm) { a.Imul(RAX, RCX) }, []byte{0x48, 0x0f, 0xaf, 0xc1}},
		{"cqo", func(a Asm) { a.Cqo() }, []byte{0x48, 0x99}},
		{"idiv rcx", func(a Asm) { a.Idiv(RCX) }, []byte{0x48, 0xf7, 0xf9}},
		{"neg rax", func(a Asm) { a.Neg(RAX) }, []byte{0x48, 0xf7, 0xd8}},
		{"shl rax, cl", func(a Asm) { a.Shl(RAX) }, []byte{0x48, 0xd3, 0xe0}},
		{"sar rax, cl", func(a Asm) { a.Sar(RAX) }, []byte{0x48, 0xd3, 0xf8}},
		{"shr rcx, 1", func(a Asm) { a.ShrImm(RCX, 1) }, []byte{0x48, 0xc1, 0xe9, 1}},
		{"test rax, rax", func(a Asm) { a.Test(RAX, RAX) }, []byte{0x48, 0x85, 0xc0}},

		{"sete al", func(a Asm) { a.Setcc(CondE, RAX) }, []byte{0x0f, 0x94, 0xc0}},
		{"movzx eax, al", func(a Asm) { a.Extend(RAX, W8, false) }, []byte{0x0f, 0xb6, 0xc0}},
		{"movsxd rax, eax", func(a Asm) { a.Extend(RAX, W32, true) }, []byte{0x48, 0x63, 0xc0}},
		{"mov eax, eax", func(a Asm) { a.Extend(RAX, W32, false) }, []byte{0x89, 0xc0}},

		{"push rbp", func(a Asm) { a.Push(RBP) }, []byte{0x55}},
		{"push r12", func(a Asm) { a.Push(R12) }, []byte{0x41, 0x54}},
		{"pop r15", func(a Asm) { a.Pop(R15) }, []byte{0x41, 0x5f}},
		{"push [rbp-8]", func(a Asm) { a.PushMem(RBP, -8) }, []byte{0xff, 0x75, 0xf8}},
		{"pop [rbp-24]", func(a Asm) { a.PopMem(RBP, -24) }, []byte{0x8f, 0x45, 0xe8}},

		{"ret", func(a Asm) { a.Ret() }, []byte{0xc3}},
		{"leave", func(a Asm) { a.Leave() }, []byte{0xc9}},
		{"syscall", func(a Asm) { a.Syscall() }, []byte{0x0f, 0x05}},
	} {
		assert.Equal(t, tc.want, encodeOne(tc.emit), tc.name)
	}
}

func TestEncodeSSE(t *testing.T) {
	for _, tc := range []struct {
		name string
		emit func(a Asm)
		want []byte
	}{
		{"movq xmm0, rax", func(a Asm) { a.MovqToX(X0, RAX) }, []byte{0x66, 0x48, 0x0f, 0x6e, 0xc0}},
		{"movq rax, xmm1", func(a Asm) { a.MovqFromX(RAX, X1) }, []byte{0x66, 0x48, 0x0f, 0x7e, 0xc8}},
		{"movd xmm0, eax", func(a Asm) { a.ToX(X0, RAX, ir.KindF32) }, []byte{0x66, 0x0f, 0x6e, 0xc0}},
		{"addsd", func(a Asm) { a.FloatOp(ir.OpAdd, ir.KindF64, X0, X1) }, []byte{0xf2, 0x0f, 0x58, 0xc1}},
		{"mulss", func(a Asm) { a.FloatOp(ir.OpMul, ir.KindF32, X0, X1) }, []byte{0xf3, 0x0f, 0x59, 0xc1}},
		{"ucomisd", func(a Asm) { a.Ucomis(ir.KindF64, X1, X2) }, []byte{0x66, 0x0f, 0x2e, 0xca}},
		{"ucomiss", func(a Asm) { a.Ucomis(ir.KindF32, X0, X1) }, []byte{0x0f, 0x2e, 0xc1}},
		{"xorps", func(a Asm) { a.Xorps(X2, X2) }, []byte{0x0f, 0x57, 0xd2}},
		{"cvtsi2sd", func(a Asm) { a.Cvtsi2sd(X0, RAX) }, []byte{0xf2, 0x48, 0x0f, 0x2a, 0xc0}},
		{"cvttsd2si", func(a Asm) { a.Cvttsd2si(RAX, X0, ir.KindF64) }, []byte{0xf2, 0x48, 0x0f, 0x2c, 0xc0}},
		{"cvtsd2ss", func(a Asm) { a.Cvtsd2ss(X0, X0) }, []byte{0xf2, 0x0f, 0x5a, 0xc0}},
		{"movdqu load", func(a Asm) { a.LoadVec(X0, RBP, -32, false) }, []byte{0xf3, 0x0f, 0x6f, 0x45, 0xe0}},
		{"movdqu store", func(a Asm) { a.StoreVec(RCX, 0, X0, false) }, []byte{0xf3, 0x0f, 0x7f, 0x01}},
		{"paddd", func(a Asm) { a.PackedOp(ir.OpVectorAdd, ir.KindI32, X0, X1, false) }, []byte{0x66, 0x0f, 0xfe, 0xc1}},
		{"pmulld", func(a Asm) { a.PackedOp(ir.OpVectorMul, ir.KindI32, X0, X1, false) }, []byte{0x66, 0x0f, 0x38, 0x40, 0xc1}},
		{"vpaddd ymm", func(a Asm) { a.PackedOp(ir.OpVectorAdd, ir.KindI32, X0, X1, true) }, []byte{0xc4, 0xe1, 0x7d, 0xfe, 0xc1}},
		{"pshufd", func(a Asm) { a.Broadcast(X0, 32, false) }, []byte{0x66, 0x0f, 0x70, 0xc0, 0}},
		{"punpcklqdq", func(a Asm) { a.Broadcast(X0, 64, false) }, []byte{0x66, 0x0f, 0x6c, 0xc0}},
		{"vzeroupper", func(a Asm) { a.Vzeroupper() }, []byte{0xc5, 0xf8, 0x77}},
	} {
		assert.Equal(t, tc.want, encodeOne(tc.emit), tc.name)
	}

	assert.False(t, Asm{codebuf.New()}.PackedOp(ir.OpVectorMul, ir.KindI64, X0, X1, false), "no packed 64-bit multiply")
}

func TestJumpsAreLabelRefs(t *testing.T) {
	a := Asm{codebuf.New()}

	a.Jmp("end")
	a.Jcc(CondNE, "end")
	a.Call("f")
	assert.NoError(t, a.DefineLabel("f"))
	a.Ret()
	assert.NoError(t, a.DefineLabel("end"))

	assert.Equal(t, []codebuf.Ref{{Patch: 1, Label: "end"}, {Patch: 7, Label: "end"}, {Patch: 12, Label: "f"}}, a.Refs())
	assert.NoError(t, a.ResolveLabels())

	assert.Equal(t, []byte{
		0xe9, 12, 0, 0, 0,
		0x0f, 0x85, 6, 0, 0, 0,
		0xe8, 0, 0, 0, 0,
		0xc3,
	}, a.Bytes())
}
