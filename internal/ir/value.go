package ir

import (
	"math"
	"strconv"
)

type (
	// ValueID indexes Function values. Zero is NoValue.
	ValueID uint32

	// InstrID indexes Function instructions. Zero is NoInstr.
	InstrID uint32

	// BlockID indexes Function blocks. The entry block is usually 0.
	BlockID uint32
)

const (
	NoValue ValueID = 0
	NoInstr InstrID = 0
	NoBlock BlockID = math.MaxUint32
)

func (id ValueID) IsValid() bool { return id != NoValue }
func (id BlockID) IsValid() bool { return id != NoBlock }

func (id ValueID) String() string { return "%" + strconv.FormatUint(uint64(id), 10) }
func (id BlockID) String() string {
	if id == NoBlock {
		return "b?"
	}

	return "b" + strconv.FormatUint(uint64(id), 10)
}

// ValueKind distinguishes SSA registers from constants.
type ValueKind uint8

const (
	ValueRegister ValueKind = iota
	ValueConstant
)

// Value is an SSA value owned by a Function. Registers are the result of
// exactly one instruction (Def). Constants carry their payload in Bits:
// two's complement for integers, IEEE-754 bits for floats.
type Value struct {
	ID   ValueID
	Kind ValueKind
	Type Type
	Name string

	Def  InstrID
	Bits uint64
}

func (v *Value) IsConst() bool { return v.Kind == ValueConstant }

// Int returns the constant payload sign- or zero-extended from its width.
func (v *Value) Int() int64 {
	return Normalize(v.Type.Kind, v.Bits)
}

func (v *Value) Uint() uint64 {
	return uint64(Normalize(v.Type.Kind, v.Bits))
}

func (v *Value) Float() float64 {
	if v.Type.Kind == KindF32 {
		return float64(math.Float32frombits(uint32(v.Bits)))
	}

	return math.Float64frombits(v.Bits)
}

// Normalize wraps raw bits to the declared width of k and re-extends them
// to 64 bits: sign extension for signed kinds, zero extension otherwise.
func Normalize(k Kind, bits uint64) int64 {
	switch k {
	case KindBool:
		if bits&1 != 0 {
			return 1
		}

		return 0
	case KindI8:
		return int64(int8(bits))
	case KindI16:
		return int64(int16(bits))
	case KindI32:
		return int64(int32(bits))
	case KindU8:
		return int64(uint8(bits))
	case KindU16:
		return int64(uint16(bits))
	case KindU32:
		return int64(uint32(bits))
	case KindF32:
		return int64(uint32(bits))
	default:
		return int64(bits)
	}
}

// FloatBits encodes f for a float kind.
func FloatBits(k Kind, f float64) uint64 {
	if k == KindF32 {
		return uint64(math.Float32bits(float32(f)))
	}

	return math.Float64bits(f)
}

type constKey struct {
	kind Kind
	bits uint64
}
