package quant

import (
	"errors"
	"math"
	"strconv"
	"sync/atomic"

	"github.com/shopspring/decimal"
)

// Tick is a signed price tick. A bucket is a Tick that is a multiple of the
// pool's bucket width.
type Tick int64

// TimeStamp represents Unix Microseconds.
type TimeStamp int64

var (
	// ErrInvalidWidth is returned when the bucket width is not positive.
	ErrInvalidWidth = errors.New("bucket width must be positive")

	// ErrTickOutOfRange is returned when the containing bucket is not representable.
	ErrTickOutOfRange = errors.New("bucket out of int64 range")
)

// tickBase is the price ratio between adjacent ticks (1.0001).
var tickBase = decimal.New(10001, -4)

// BucketOf returns the bucket containing price: floor(price / width) * width,
// rounding toward negative infinity rather than toward zero.
func BucketOf(price, width Tick) (Tick, error) {
	if width <= 0 {
		return 0, ErrInvalidWidth
	}

	q := price / width
	if price < 0 && price%width != 0 {
		q--
	}
	if int64(q) < math.MinInt64/int64(width) {
		return 0, ErrTickOutOfRange
	}
	return q * width, nil
}

// Price returns 1.0001^t, the price of the base asset in the quote asset.
// Only used at the boundary (paper pool, display).
func (t Tick) Price() decimal.Decimal {
	return tickBase.Pow(decimal.NewFromInt(int64(t)))
}

func (t Tick) String() string {
	return strconv.FormatInt(int64(t), 10)
}

// NextSeq generates the next sequence number atomically.
func NextSeq(ptr *uint64) uint64 {
	return atomic.AddUint64(ptr, 1)
}
