// Package codebuf is the growable machine code buffer. It records label
// definitions, pending rel32 label references and relocations against
// symbols placed by the binary emitter.
package codebuf

import (
	"encoding/binary"
	"fmt"
	"slices"

	"github.com/JoeySoprano420/C.A.S.E.-Programming-Language--sub003/internal/diag"
)

type (
	// Buffer holds the code of one module. After ResolveLabels it is
	// committed and further writes panic.
	Buffer struct {
		b []byte

		labels map[string]int
		refs   []Ref
		relocs []Reloc

		resolved bool
	}

	// Ref is a 4-byte displacement at Patch that should reach Label.
	Ref struct {
		Patch int
		Label string
	}

	RelocKind uint8

	// Reloc is a field the binary emitter patches once section addresses
	// are known.
	Reloc struct {
		Offset int
		Kind   RelocKind
		Symbol string
		Addend int64
	}
)

const (
	// Rel32 is a rip-relative displacement ending at Offset+4.
	Rel32 RelocKind = iota
	// Abs64 is an absolute 64-bit address.
	Abs64
)

const nop = 0x90

func (k RelocKind) String() string {
	switch k {
	case Rel32:
		return "rel32"
	case Abs64:
		return "abs64"
	default:
		return fmt.Sprintf("reloc(%d)", uint8(k))
	}
}

// Size is the width of the patched field.
func (k RelocKind) Size() int {
	if k == Abs64 {
		return 8
	}

	return 4
}

func New() *Buffer {
	return &Buffer{labels: map[string]int{}}
}

func (c *Buffer) Len() int { return len(c.b) }

// Bytes returns the buffer contents. The slice aliases the buffer.
func (c *Buffer) Bytes() []byte { return c.b }

func (c *Buffer) Resolved() bool { return c.resolved }

func (c *Buffer) mustWrite() {
	if c.resolved {
		panic("codebuf: write after ResolveLabels")
	}
}

func (c *Buffer) Emit8(v byte) {
	c.mustWrite()
	c.b = append(c.b, v)
}

func (c *Buffer) Emit16(v uint16) {
	c.mustWrite()
	c.b = binary.LittleEndian.AppendUint16(c.b, v)
}

func (c *Buffer) Emit32(v uint32) {
	c.mustWrite()
	c.b = binary.LittleEndian.AppendUint32(c.b, v)
}

func (c *Buffer) Emit64(v uint64) {
	c.mustWrite()
	c.b = binary.LittleEndian.AppendUint64(c.b, v)
}

func (c *Buffer) EmitBytes(p ...byte) {
	c.mustWrite()
	c.b = append(c.b, p...)
}

// DefineLabel binds name to the current offset.
func (c *Buffer) DefineLabel(name string) error {
	if off, ok := c.labels[name]; ok {
		return diag.New(diag.KindRelocation, diag.Where{}, "label %q defined twice (at %#x and %#x)", name, off, len(c.b))
	}

	c.labels[name] = len(c.b)

	return nil
}

// Label returns the offset of a defined label.
func (c *Buffer) Label(name string) (int, bool) {
	off, ok := c.labels[name]
	return off, ok
}

// Labels returns the defined labels sorted by offset, then name.
func (c *Buffer) Labels() []string {
	r := make([]string, 0, len(c.labels))
	for l := range c.labels {
		r = append(r, l)
	}

	slices.SortFunc(r, func(a, b string) int {
		if d := c.labels[a] - c.labels[b]; d != 0 {
			return d
		}

		if a < b {
			return -1
		}

		return 1
	})

	return r
}

// ReferenceLabel emits a zero rel32 placeholder to be patched with the
// distance to name and returns the placeholder offset.
func (c *Buffer) ReferenceLabel(name string) int {
	patch := len(c.b)

	c.Emit32(0)
	c.refs = append(c.refs, Ref{Patch: patch, Label: name})

	return patch
}

// Refs returns the label references recorded so far.
func (c *Buffer) Refs() []Ref { return c.refs }

// AddReloc emits a zero placeholder of the kind's size and records it.
func (c *Buffer) AddReloc(kind RelocKind, sym string, addend int64) int {
	off := len(c.b)

	if kind == Abs64 {
		c.Emit64(0)
	} else {
		c.Emit32(0)
	}

	c.relocs = append(c.relocs, Reloc{Offset: off, Kind: kind, Symbol: sym, Addend: addend})

	return off
}

func (c *Buffer) Relocs() []Reloc { return c.relocs }

// Patch32 overwrites 4 bytes at off.
func (c *Buffer) Patch32(off int, v uint32) {
	binary.LittleEndian.PutUint32(c.b[off:], v)
}

// Align pads with single-byte NOPs to a multiple of n. It is meant for
// function and section boundaries only.
func (c *Buffer) Align(n int) {
	for len(c.b)%n != 0 {
		c.Emit8(nop)
	}
}

// ResolveLabels patches every reference with target-(patch+4) and commits
// the buffer. It may be called once.
func (c *Buffer) ResolveLabels() error {
	if c.resolved {
		return diag.New(diag.KindRelocation, diag.Where{}, "labels already resolved")
	}

	for _, r := range c.refs {
		target, ok := c.labels[r.Label]
		if !ok {
			return diag.New(diag.KindRelocation, diag.Where{}, "undefined label %q referenced at %#x", r.Label, r.Patch)
		}

		d := int64(target) - int64(r.Patch+4)
		if d != int64(int32(d)) {
			return diag.New(diag.KindRelocation, diag.Where{}, "label %q out of rel32 range from %#x", r.Label, r.Patch)
		}

		c.Patch32(r.Patch, uint32(int32(d)))
	}

	c.resolved = true

	return nil
}
