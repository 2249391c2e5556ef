package ir

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvalBinaryWraps(t *testing.T) {
	tests := []struct {
		op   Op
		k    Kind
		a, b int64
		want int64
	}{
		{OpAdd, KindI8, 127, 1, -128},
		{OpAdd, KindU8, 255, 1, 0},
		{OpMul, KindI16, 300, 300, int64(int16(90000 & 0xffff))},
		{OpSub, KindU32, 0, 1, math.MaxUint32},
		{OpAdd, KindI64, math.MaxInt64, 1, math.MinInt64},
		{OpDiv, KindI64, 7, 0, 0},
		{OpRem, KindU64, 7, 0, 0},
		{OpDiv, KindI64, math.MinInt64, -1, math.MinInt64},
		{OpRem, KindI64, math.MinInt64, -1, 0},
		{OpDiv, KindI32, -7, 2, -3},
		{OpRem, KindI32, -7, 2, -1},
		{OpShl, KindI64, 1, 65, 2},
		{OpShr, KindI8, -128, 1, -64},
		{OpShr, KindU8, 128, 1, 64},
	}

	for _, tc := range tests {
		got := Normalize(tc.k, EvalBinary(tc.op, tc.k, uint64(tc.a), uint64(tc.b)))
		assert.Equal(t, tc.want, got, "%v %v %d %d", tc.op, tc.k, tc.a, tc.b)
	}
}

func TestEvalBinaryMatchesNativeWidth(t *testing.T) {
	r := rand.New(rand.NewSource(1))

	for i := 0; i < 2000; i++ {
		a, b := r.Int63()-r.Int63(), r.Int63()-r.Int63()

		assert.Equal(t, int64(int32(a)+int32(b)), Normalize(KindI32, EvalBinary(OpAdd, KindI32, uint64(a), uint64(b))))
		assert.Equal(t, int64(int8(a)*int8(b)), Normalize(KindI8, EvalBinary(OpMul, KindI8, uint64(a), uint64(b))))
		assert.Equal(t, int64(uint16(a)-uint16(b)), Normalize(KindU16, EvalBinary(OpSub, KindU16, uint64(a), uint64(b))))
		assert.Equal(t, a*b, int64(EvalBinary(OpMul, KindI64, uint64(a), uint64(b))))
	}
}

func TestEvalFloat(t *testing.T) {
	bits := func(f float64) uint64 { return math.Float64bits(f) }

	assert.Equal(t, 3.5, math.Float64frombits(EvalBinary(OpAdd, KindF64, bits(1.25), bits(2.25))))
	assert.Equal(t, 0.0, math.Float64frombits(EvalBinary(OpDiv, KindF64, bits(1), bits(0))))

	assert.Equal(t, int64(-2), int64(EvalUnary(OpFToI, KindF64, KindI64, bits(-2.9))))
	assert.Equal(t, int64(math.MinInt64), int64(EvalUnary(OpFToI, KindF64, KindI64, bits(math.NaN()))))
	assert.Equal(t, 5.0, math.Float64frombits(EvalUnary(OpIToF, KindI64, KindF64, 5)))
	assert.Equal(t, 1.8446744073709552e19, math.Float64frombits(EvalUnary(OpIToF, KindU64, KindF64, math.MaxUint64)))

	nan := bits(math.NaN())
	assert.False(t, EvalCmp(PredEQ, KindF64, nan, nan))
	assert.True(t, EvalCmp(PredNE, KindF64, nan, nan))
}

func TestEvalCmpSignedness(t *testing.T) {
	minus1 := uint64(math.MaxUint64)

	assert.True(t, EvalCmp(PredLT, KindI64, minus1, 0))
	assert.False(t, EvalCmp(PredLT, KindU64, minus1, 0))
	assert.True(t, EvalCmp(PredGT, KindU8, 200, 100))
	assert.False(t, EvalCmp(PredGT, KindI8, uint64(Normalize(KindI8, 200)), 100))
}

func TestEvalUnary(t *testing.T) {
	assert.Equal(t, uint64(1), EvalUnary(OpNot, KindBool, KindBool, 0))
	assert.Equal(t, int64(-128), Normalize(KindI8, EvalUnary(OpNeg, KindI8, KindI8, uint64(Normalize(KindI8, 128)))))
	assert.Equal(t, int64(0xfe), Normalize(KindU8, EvalUnary(OpNot, KindU8, KindU8, 1)))
}
