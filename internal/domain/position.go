package domain

import (
	"encoding/binary"
	"encoding/hex"

	"limit_go/pkg/quant"

	"github.com/zeebo/blake3"
)

var positionPrefix = []byte("posn")

// PositionID identifies the aggregate of all orders at (pool, bucket, direction).
type PositionID [32]byte

// PositionIDOf derives the position identifier:
// BLAKE3("posn" || pool || bucket (big-endian) || direction).
func PositionIDOf(pool PoolID, bucket quant.Tick, dir Direction) PositionID {
	h := blake3.New()
	h.Write(positionPrefix)
	h.Write(pool[:])

	var bucketBytes [8]byte
	binary.BigEndian.PutUint64(bucketBytes[:], uint64(bucket))
	h.Write(bucketBytes[:])

	if dir == SellA {
		h.Write([]byte{1})
	} else {
		h.Write([]byte{0})
	}

	var id PositionID
	h.Digest().Read(id[:])
	return id
}

func (id PositionID) String() string {
	return hex.EncodeToString(id[:])
}

// Short returns the first 8 hex characters, for logs.
func (id PositionID) Short() string {
	return id.String()[:8]
}

func (id PositionID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *PositionID) UnmarshalText(text []byte) error {
	return decodeID(id[:], text)
}

// Position tracks supply and claimable output of one (pool, bucket, direction).
type Position struct {
	ID          PositionID `json:"id"`
	Pool        PoolID     `json:"pool"`
	Bucket      quant.Tick `json:"bucket"`
	Direction   Direction  `json:"direction"`
	TotalSupply int64      `json:"total_supply"`
	Claimable   int64      `json:"claimable"`
	// Filled is set by fulfillment and cleared once supply returns to zero.
	Filled bool `json:"filled"`
}
