package ir

import (
	"fmt"
	"strconv"
	"strings"

	"tlog.app/go/errors"
)

// Kind is the base kind of a Type.
type Kind uint8

const (
	KindVoid Kind = iota
	KindBool
	KindI8
	KindI16
	KindI32
	KindI64
	KindU8
	KindU16
	KindU32
	KindU64
	KindF32
	KindF64
	KindPtr
	KindVector
	KindStruct
	KindArray
)

var kindNames = [...]string{
	KindVoid:   "void",
	KindBool:   "bool",
	KindI8:     "i8",
	KindI16:    "i16",
	KindI32:    "i32",
	KindI64:    "i64",
	KindU8:     "u8",
	KindU16:    "u16",
	KindU32:    "u32",
	KindU64:    "u64",
	KindF32:    "f32",
	KindF64:    "f64",
	KindPtr:    "ptr",
	KindVector: "vector",
	KindStruct: "struct",
	KindArray:  "array",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}

	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Bits is the width of a scalar kind.
func (k Kind) Bits() int {
	switch k {
	case KindBool, KindI8, KindU8:
		return 8
	case KindI16, KindU16:
		return 16
	case KindI32, KindU32, KindF32:
		return 32
	case KindI64, KindU64, KindF64, KindPtr:
		return 64
	default:
		return 0
	}
}

func (k Kind) IsInt() bool    { return k >= KindI8 && k <= KindU64 }
func (k Kind) IsSigned() bool { return k >= KindI8 && k <= KindI64 }
func (k Kind) IsFloat() bool  { return k == KindF32 || k == KindF64 }
func (k Kind) IsScalar() bool { return k >= KindBool && k <= KindPtr }

// Type is a node of the type lattice. Lanes is non-zero only for vectors
// (lane count) and arrays (length); Elem is their scalar element kind.
type Type struct {
	Kind   Kind
	Elem   Kind
	Lanes  int
	Name   string
	Fields []Type
}

var (
	Void = Type{Kind: KindVoid}
	Bool = Type{Kind: KindBool}
	I8   = Type{Kind: KindI8}
	I16  = Type{Kind: KindI16}
	I32  = Type{Kind: KindI32}
	I64  = Type{Kind: KindI64}
	U8   = Type{Kind: KindU8}
	U16  = Type{Kind: KindU16}
	U32  = Type{Kind: KindU32}
	U64  = Type{Kind: KindU64}
	F32  = Type{Kind: KindF32}
	F64  = Type{Kind: KindF64}
	Ptr  = Type{Kind: KindPtr}
)

// Vector returns the SIMD type of lanes elements of kind elem.
func Vector(elem Kind, lanes int) Type {
	return Type{Kind: KindVector, Elem: elem, Lanes: lanes}
}

// Array returns a fixed-size array type, used by Alloca.
func Array(elem Kind, n int) Type {
	return Type{Kind: KindArray, Elem: elem, Lanes: n}
}

// Struct returns a named struct type.
func Struct(name string, fields ...Type) Type {
	return Type{Kind: KindStruct, Name: name, Fields: fields}
}

// Scalar returns the scalar type of kind k.
func Scalar(k Kind) Type { return Type{Kind: k} }

// ElemType is the scalar element of a vector or array.
func (t Type) ElemType() Type { return Type{Kind: t.Elem} }

// Bits is the storage width in bits.
func (t Type) Bits() int {
	switch t.Kind {
	case KindVector, KindArray:
		return t.Elem.Bits() * t.Lanes
	case KindStruct:
		return t.Size() * 8
	default:
		return t.Kind.Bits()
	}
}

// VectorWidth is the lane count; it is non-zero only for vector types.
func (t Type) VectorWidth() int {
	if t.Kind != KindVector {
		return 0
	}

	return t.Lanes
}

// Size is the size in bytes. Struct fields are naturally aligned.
func (t Type) Size() int {
	switch t.Kind {
	case KindVoid:
		return 0
	case KindStruct:
		off, maxAlign := 0, 1

		for _, f := range t.Fields {
			a := f.Align()
			off = (off + a - 1) &^ (a - 1)
			off += f.Size()

			maxAlign = max(maxAlign, a)
		}

		return (off + maxAlign - 1) &^ (maxAlign - 1)
	default:
		return t.Bits() / 8
	}
}

// Align is the natural alignment in bytes.
func (t Type) Align() int {
	switch t.Kind {
	case KindStruct:
		a := 1
		for _, f := range t.Fields {
			a = max(a, f.Align())
		}

		return a
	case KindArray:
		return max(1, t.Elem.Bits()/8)
	case KindVector:
		return 16
	default:
		return max(1, t.Kind.Bits()/8)
	}
}

func (t Type) IsInt() bool    { return t.Kind.IsInt() }
func (t Type) IsFloat() bool  { return t.Kind.IsFloat() }
func (t Type) IsVector() bool { return t.Kind == KindVector }
func (t Type) IsVoid() bool   { return t.Kind == KindVoid }

// IsIntLike covers everything held in a general purpose register as an integer.
func (t Type) IsIntLike() bool {
	return t.Kind.IsInt() || t.Kind == KindBool || t.Kind == KindPtr
}

// Equal reports structural type equality.
func (t Type) Equal(u Type) bool {
	if t.Kind != u.Kind || t.Elem != u.Elem || t.Lanes != u.Lanes || t.Name != u.Name || len(t.Fields) != len(u.Fields) {
		return false
	}

	for i := range t.Fields {
		if !t.Fields[i].Equal(u.Fields[i]) {
			return false
		}
	}

	return true
}

func (t Type) String() string {
	switch t.Kind {
	case KindVector:
		return fmt.Sprintf("<%d x %v>", t.Lanes, t.Elem)
	case KindArray:
		return fmt.Sprintf("[%d x %v]", t.Lanes, t.Elem)
	case KindStruct:
		if t.Name != "" {
			return "%" + t.Name
		}

		var b strings.Builder
		b.WriteString("{")

		for i, f := range t.Fields {
			if i != 0 {
				b.WriteString(", ")
			}

			b.WriteString(f.String())
		}

		b.WriteString("}")

		return b.String()
	default:
		return t.Kind.String()
	}
}

// ParseType parses the scalar, vector (<4 x i32>) and array ([16 x i64])
// spellings produced by Type.String.
func ParseType(s string) (Type, error) {
	s = strings.TrimSpace(s)

	for k, name := range kindNames {
		if name == s && (Kind(k) == KindVoid || Kind(k).IsScalar()) {
			return Type{Kind: Kind(k)}, nil
		}
	}

	if len(s) > 2 && (s[0] == '<' && s[len(s)-1] == '>' || s[0] == '[' && s[len(s)-1] == ']') {
		n, elem, ok := strings.Cut(s[1:len(s)-1], " x ")
		if !ok {
			return Type{}, errors.New("bad type %q", s)
		}

		lanes, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil || lanes <= 0 {
			return Type{}, errors.New("bad type %q: lane count", s)
		}

		et, err := ParseType(elem)
		if err != nil || !et.Kind.IsScalar() || et.Kind == KindBool {
			return Type{}, errors.New("bad type %q: element", s)
		}

		if s[0] == '<' {
			return Vector(et.Kind, lanes), nil
		}

		return Array(et.Kind, lanes), nil
	}

	return Type{}, errors.New("unknown type %q", s)
}
