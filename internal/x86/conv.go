package x86

import (
	"github.com/JoeySoprano420/C.A.S.E.-Programming-Language--sub003/internal/engine"
)

// CallConv describes the platform calling convention. Every scalar
// argument, floats included, is passed in the integer argument registers;
// the only foreign callees are the integer-only exit and write.
type CallConv struct {
	Name        string
	Args        []Reg
	Ret         Reg
	CallerSaved []Reg
	CalleeSaved []Reg
	Shadow      int // bytes the caller reserves above the return address
}

var (
	// SysV is the System V AMD64 convention of Linux and macOS.
	SysV = CallConv{
		Name:        "sysv",
		Args:        []Reg{RDI, RSI, RDX, RCX, R8, R9},
		Ret:         RAX,
		CallerSaved: []Reg{RAX, RCX, RDX, RSI, RDI, R8, R9, R10, R11},
		CalleeSaved: []Reg{RBX, R12, R13, R14, R15},
	}

	// Win64 is the Microsoft x64 convention.
	Win64 = CallConv{
		Name:        "win64",
		Args:        []Reg{RCX, RDX, R8, R9},
		Ret:         RAX,
		CallerSaved: []Reg{RAX, RCX, RDX, R8, R9, R10, R11},
		CalleeSaved: []Reg{RBX, RSI, RDI, R12, R13, R14, R15},
		Shadow:      32,
	}
)

func ConvFor(p engine.Platform) CallConv {
	if p.OS == engine.OSWindows {
		return Win64
	}

	return SysV
}

// Pool is the allocation order: callee-saved registers first, so leaf
// functions with few values never save anything around calls.
func (c CallConv) Pool() []Reg {
	var r []Reg

	for _, set := range [][]Reg{c.CalleeSaved, c.CallerSaved} {
		for _, x := range set {
			if !isScratch(x) && x != RSP && x != RBP {
				r = append(r, x)
			}
		}
	}

	return r
}

// Volatile is the part of Pool a call may clobber.
func (c CallConv) Volatile() []Reg {
	var r []Reg

	for _, x := range c.CallerSaved {
		if !isScratch(x) {
			r = append(r, x)
		}
	}

	return r
}

func (c CallConv) calleeSaved(r Reg) bool {
	for _, x := range c.CalleeSaved {
		if x == r {
			return true
		}
	}

	return false
}
