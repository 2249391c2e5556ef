// Package binfmt wraps encoded machine code and data into executables the
// operating system loads directly: PE32+ for Windows, ELF64 for Linux and
// Mach-O 64 for macOS.
//
// All three share one input, the Image. Label references are already
// resolved in Code; what remains are relocations against data symbols and
// imports, which each container resolves once it has placed its sections.
package binfmt

import (
	"encoding/binary"

	"github.com/JoeySoprano420/C.A.S.E.-Programming-Language--sub003/internal/codebuf"
	"github.com/JoeySoprano420/C.A.S.E.-Programming-Language--sub003/internal/diag"
	"github.com/JoeySoprano420/C.A.S.E.-Programming-Language--sub003/internal/engine"
)

type (
	Image struct {
		Code []byte
		Data []byte

		// DataSyms are offsets of named objects in Data.
		DataSyms map[string]int

		// Entry is the offset of the entry point in Code.
		Entry int

		Relocs  []codebuf.Reloc
		Symbols []Symbol
		Imports []string

		// Debug adds a symbol table where the container has an optional one.
		Debug bool
	}

	// Symbol is a function in Code.
	Symbol struct {
		Name   string
		Offset int
		Size   int
	}

	Emitter interface {
		Emit(img *Image) ([]byte, error)
	}
)

// New returns the emitter of a container format.
func New(c engine.Container) (Emitter, error) {
	switch c {
	case engine.ContainerELF:
		return ELF{}, nil
	case engine.ContainerPE:
		return PE{}, nil
	case engine.ContainerMachO:
		return MachO{}, nil
	default:
		return nil, diag.New(diag.KindEmit, diag.Where{}, "unsupported container %v", c)
	}
}

func alignUp(n, a uint64) uint64 { return (n + a - 1) &^ (a - 1) }

// patch resolves the relocations of img into code, which starts at the
// virtual address text. addr gives the address of a symbol.
func patch(code []byte, img *Image, text uint64, addr func(sym string) (uint64, bool)) error {
	for _, r := range img.Relocs {
		if r.Offset < 0 || r.Offset+r.Kind.Size() > len(code) {
			return diag.New(diag.KindRelocation, diag.Where{}, "%v relocation at %#x is outside the code", r.Kind, r.Offset)
		}

		s, ok := addr(r.Symbol)
		if !ok {
			return diag.New(diag.KindRelocation, diag.Where{}, "relocation against undefined symbol %q at %#x", r.Symbol, r.Offset)
		}

		s += uint64(r.Addend)

		switch r.Kind {
		case codebuf.Rel32:
			d := int64(s) - int64(text+uint64(r.Offset)+4)
			if d != int64(int32(d)) {
				return diag.New(diag.KindRelocation, diag.Where{}, "symbol %q out of rel32 range at %#x", r.Symbol, r.Offset)
			}

			binary.LittleEndian.PutUint32(code[r.Offset:], uint32(int32(d)))
		case codebuf.Abs64:
			binary.LittleEndian.PutUint64(code[r.Offset:], s)
		default:
			return diag.New(diag.KindRelocation, diag.Where{}, "unknown relocation kind %v", r.Kind)
		}
	}

	return nil
}

// dataAddr resolves data symbols placed at base.
func dataAddr(img *Image, base uint64) func(string) (uint64, bool) {
	return func(sym string) (uint64, bool) {
		off, ok := img.DataSyms[sym]
		return base + uint64(off), ok
	}
}

func hasAbs(img *Image) bool {
	for _, r := range img.Relocs {
		if r.Kind == codebuf.Abs64 {
			return true
		}
	}

	return false
}

// noImports rejects imports for containers that only know syscall stubs.
func noImports(img *Image, c engine.Container) error {
	if len(img.Imports) == 0 {
		return nil
	}

	return diag.New(diag.KindEmit, diag.Where{}, "%v executables have no import table: cannot import %q", c, img.Imports[0]).
		WithHelp("supported externs on this target: exit, write")
}

func checkEntry(img *Image) error {
	if img.Entry < 0 || img.Entry >= len(img.Code) {
		return diag.New(diag.KindEmit, diag.Where{}, "entry offset %#x outside of %d bytes of code", img.Entry, len(img.Code))
	}

	return nil
}

// out is a little endian byte writer for fixed size header structs.
type out struct {
	b []byte
}

func (o *out) put(vs ...any) {
	for _, v := range vs {
		var err error

		o.b, err = binary.Append(o.b, binary.LittleEndian, v)
		if err != nil {
			panic(err)
		}
	}
}

func (o *out) bytes(p []byte) { o.b = append(o.b, p...) }

// padTo zero-fills up to offset n.
func (o *out) padTo(n uint64) {
	for uint64(len(o.b)) < n {
		o.b = append(o.b, 0)
	}
}

func (o *out) len() uint64 { return uint64(len(o.b)) }

// strtab collects NUL terminated names.
type strtab struct {
	b   []byte
	off map[string]uint32
}

func newStrtab(first ...byte) *strtab {
	return &strtab{b: first, off: map[string]uint32{}}
}

func (t *strtab) add(s string) uint32 {
	if off, ok := t.off[s]; ok {
		return off
	}

	off := uint32(len(t.b))
	t.b = append(t.b, s...)
	t.b = append(t.b, 0)
	t.off[s] = off

	return off
}
