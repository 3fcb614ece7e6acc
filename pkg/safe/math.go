package safe

import (
	"math"

	"github.com/holiman/uint256"
)

// SafeAdd performs int64 addition and panics on overflow/underflow.
func SafeAdd(a, b int64) int64 {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		panic("CORE_SAFE_ADD_OVERFLOW")
	}
	return a + b
}

// SafeSub performs int64 subtraction and panics on overflow/underflow.
func SafeSub(a, b int64) int64 {
	if (b > 0 && a < math.MinInt64+b) || (b < 0 && a > math.MaxInt64+b) {
		panic("CORE_SAFE_SUB_OVERFLOW")
	}
	return a - b
}

// MulDivFloor returns floor(a * b / d) for non-negative a, b and positive d.
// The product is computed in 256 bits so it never overflows; only a result
// that does not fit in int64 panics.
func MulDivFloor(a, b, d int64) int64 {
	if a < 0 || b < 0 {
		panic("CORE_SAFE_MULDIV_NEGATIVE")
	}
	if d <= 0 {
		panic("CORE_SAFE_DIV_BY_ZERO")
	}
	if a == 0 || b == 0 {
		return 0
	}

	x := uint256.NewInt(uint64(a))
	y := uint256.NewInt(uint64(b))
	z, overflow := new(uint256.Int).MulDivOverflow(x, y, uint256.NewInt(uint64(d)))
	if overflow || !z.IsUint64() || z.Uint64() > math.MaxInt64 {
		panic("CORE_SAFE_MULDIV_OVERFLOW")
	}
	return int64(z.Uint64())
}
