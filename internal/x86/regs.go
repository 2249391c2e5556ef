package x86

import (
	"github.com/JoeySoprano420/C.A.S.E.-Programming-Language--sub003/internal/regalloc"
)

// Reg is a general purpose register by its hardware encoding.
type Reg uint8

const (
	RAX Reg = iota
	RCX
	RDX
	RBX
	RSP
	RBP
	RSI
	RDI
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15
)

// XReg is an xmm/ymm register.
type XReg uint8

const (
	X0 XReg = iota
	X1
	X2
)

var regNames = [...]string{
	"rax", "rcx", "rdx", "rbx", "rsp", "rbp", "rsi", "rdi",
	"r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15",
}

func (r Reg) String() string {
	if int(r) < len(regNames) {
		return regNames[r]
	}

	return "r?"
}

func (r Reg) low() byte  { return byte(r) & 7 }
func (r Reg) ext() bool  { return r >= R8 }
func (x XReg) low() byte { return byte(x) & 7 }

// Scratch registers are used inside instruction templates and never hold
// allocated values.
var Scratch = []Reg{RAX, RCX, RDX, R11}

func isScratch(r Reg) bool {
	for _, s := range Scratch {
		if s == r {
			return true
		}
	}

	return false
}

func toAlloc(rs []Reg) []regalloc.Reg {
	r := make([]regalloc.Reg, len(rs))
	for i, x := range rs {
		r[i] = regalloc.Reg(x)
	}

	return r
}
