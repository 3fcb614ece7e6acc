package domain

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"limit_go/pkg/quant"

	"github.com/zeebo/blake3"
)

// Asset identifies a fungible asset.
type Asset string

// Account identifies a holder, the pool authority or the engine custody account.
type Account string

// PoolID is the opaque pool identifier.
type PoolID [32]byte

func (id PoolID) String() string {
	return hex.EncodeToString(id[:])
}

// Short returns the first 8 hex characters, for logs.
func (id PoolID) Short() string {
	return id.String()[:8]
}

func (id PoolID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *PoolID) UnmarshalText(text []byte) error {
	return decodeID(id[:], text)
}

// PoolKey describes a two-asset pool and its bucket width.
type PoolKey struct {
	AssetA      Asset      `json:"asset_a"`
	AssetB      Asset      `json:"asset_b"`
	BucketWidth quant.Tick `json:"bucket_width"`
}

// ID computes the pool identifier: BLAKE3(assetA || 0x00 || assetB || 0x00 || width).
func (k PoolKey) ID() PoolID {
	h := blake3.New()
	h.Write([]byte(k.AssetA))
	h.Write([]byte{0})
	h.Write([]byte(k.AssetB))
	h.Write([]byte{0})

	var widthBytes [8]byte
	binary.BigEndian.PutUint64(widthBytes[:], uint64(k.BucketWidth))
	h.Write(widthBytes[:])

	var id PoolID
	h.Digest().Read(id[:])
	return id
}

// Validate checks that the key can host buckets.
func (k PoolKey) Validate() error {
	if k.BucketWidth <= 0 {
		return fmt.Errorf("%w: bucket width %d", ErrInvalidConfiguration, k.BucketWidth)
	}
	if k.AssetA == "" || k.AssetB == "" || k.AssetA == k.AssetB {
		return fmt.Errorf("%w: assets %q/%q", ErrInvalidConfiguration, k.AssetA, k.AssetB)
	}
	return nil
}

// Direction selects which pool asset a pending order sells.
type Direction bool

const (
	SellA Direction = true  // A -> B, fulfilled by a rising price
	SellB Direction = false // B -> A, fulfilled by a falling price
)

// InputAsset returns the asset sold in this direction.
func (d Direction) InputAsset(k PoolKey) Asset {
	if d == SellA {
		return k.AssetA
	}
	return k.AssetB
}

// OutputAsset returns the asset received in this direction.
func (d Direction) OutputAsset(k PoolKey) Asset {
	if d == SellA {
		return k.AssetB
	}
	return k.AssetA
}

func (d Direction) String() string {
	if d == SellA {
		return "A->B"
	}
	return "B->A"
}

func decodeID(dst []byte, text []byte) error {
	if hex.DecodedLen(len(text)) != len(dst) {
		return fmt.Errorf("invalid id length %d", len(text))
	}
	_, err := hex.Decode(dst, text)
	return err
}
