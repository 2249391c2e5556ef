package ir

import "math"

// Scalar semantics shared by constant folding, the interpreter and the
// encoder. Integers are held as 64-bit values normalized to their declared
// width (see Normalize); every result is normalized again, so arithmetic
// wraps at the declared width. Division or remainder by zero yields zero,
// for floats as well. Shift counts are taken modulo 64.

// EvalBinary computes a binary op on normalized operands of kind k.
func EvalBinary(op Op, k Kind, a, b uint64) uint64 {
	if k.IsFloat() {
		return evalFloat(op, k, a, b)
	}

	x, y := Normalize(k, a), Normalize(k, b)

	var r int64

	switch op {
	case OpAdd:
		r = x + y
	case OpSub:
		r = x - y
	case OpMul:
		r = x * y
	case OpDiv, OpRem:
		r = evalDiv(op, k, x, y)
	case OpAnd:
		r = x & y
	case OpOr:
		r = x | y
	case OpXor:
		r = x ^ y
	case OpShl:
		r = x << (uint64(y) & 63)
	case OpShr:
		if k.IsSigned() {
			r = x >> (uint64(y) & 63)
		} else {
			r = int64(uint64(x) >> (uint64(y) & 63))
		}
	}

	return uint64(Normalize(k, uint64(r)))
}

func evalDiv(op Op, k Kind, x, y int64) int64 {
	switch {
	case y == 0:
		return 0
	case !k.IsSigned() && k != KindBool:
		if op == OpDiv {
			return int64(uint64(x) / uint64(y))
		}

		return int64(uint64(x) % uint64(y))
	case y == -1:
		// MinInt64 / -1 wraps like negation instead of trapping
		if op == OpDiv {
			return -x
		}

		return 0
	case op == OpDiv:
		return x / y
	default:
		return x % y
	}
}

func evalFloat(op Op, k Kind, a, b uint64) uint64 {
	x, y := floatOf(k, a), floatOf(k, b)

	var r float64

	switch op {
	case OpAdd:
		r = x + y
	case OpSub:
		r = x - y
	case OpMul:
		r = x * y
	case OpDiv:
		if y == 0 {
			r = 0
		} else {
			r = x / y
		}
	}

	if k == KindF32 {
		r = float64(float32(r))
	}

	return FloatBits(k, r)
}

func floatOf(k Kind, bits uint64) float64 {
	if k == KindF32 {
		return float64(math.Float32frombits(uint32(bits)))
	}

	return math.Float64frombits(bits)
}

// EvalUnary computes Neg, Not, ICast, IToF and FToI. from is the operand
// kind, to the result kind.
func EvalUnary(op Op, from, to Kind, a uint64) uint64 {
	switch op {
	case OpNeg:
		if from.IsFloat() {
			return FloatBits(from, -floatOf(from, a))
		}

		return uint64(Normalize(from, uint64(-Normalize(from, a))))
	case OpNot:
		if from == KindBool {
			return a&1 ^ 1
		}

		return uint64(Normalize(from, ^a))
	case OpICast:
		return uint64(Normalize(to, a))
	case OpIToF:
		var f float64

		if from.IsSigned() {
			f = float64(Normalize(from, a))
		} else {
			f = float64(uint64(Normalize(from, a)))
		}

		return FloatBits(to, f)
	case OpFToI:
		return uint64(Normalize(to, uint64(truncFloat(floatOf(from, a)))))
	}

	return 0
}

// truncFloat converts like cvttsd2si: NaN and out-of-range values become
// the "integer indefinite" value MinInt64.
func truncFloat(f float64) int64 {
	if math.IsNaN(f) || f >= 9.223372036854775807e18 || f < -9.223372036854775808e18 {
		return math.MinInt64
	}

	return int64(f)
}

// EvalCmp compares two normalized operands of kind k. Float comparisons are
// ordered: any comparison involving NaN is false except ne.
func EvalCmp(p Pred, k Kind, a, b uint64) bool {
	if k.IsFloat() {
		x, y := floatOf(k, a), floatOf(k, b)

		switch p {
		case PredEQ:
			return x == y
		case PredNE:
			return x != y
		case PredLT:
			return x < y
		case PredLE:
			return x <= y
		case PredGT:
			return x > y
		default:
			return x >= y
		}
	}

	if k.IsSigned() {
		x, y := Normalize(k, a), Normalize(k, b)

		switch p {
		case PredEQ:
			return x == y
		case PredNE:
			return x != y
		case PredLT:
			return x < y
		case PredLE:
			return x <= y
		case PredGT:
			return x > y
		default:
			return x >= y
		}
	}

	x, y := uint64(Normalize(k, a)), uint64(Normalize(k, b))

	switch p {
	case PredEQ:
		return x == y
	case PredNE:
		return x != y
	case PredLT:
		return x < y
	case PredLE:
		return x <= y
	case PredGT:
		return x > y
	default:
		return x >= y
	}
}
