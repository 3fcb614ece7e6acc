package domain

import (
	"time"
)

// Persistence records. Ids are stored as hex text; amounts as int64.

// PoolRecord is a registered pool key.
type PoolRecord struct {
	PoolID      string `gorm:"primaryKey" json:"pool_id"`
	AssetA      string `json:"asset_a"`
	AssetB      string `json:"asset_b"`
	BucketWidth int64  `json:"bucket_width"`
	LastBucket  int64  `json:"last_bucket"`
	HasCursor   bool   `json:"has_cursor"`
}

// CellRecord is one non-zero PendingOrderAmount.
type CellRecord struct {
	PoolID    string `gorm:"primaryKey" json:"pool_id"`
	Bucket    int64  `gorm:"primaryKey" json:"bucket"`
	Direction bool   `gorm:"primaryKey" json:"direction"`
	Amount    int64  `json:"amount"`
}

// PositionRecord mirrors Position.
type PositionRecord struct {
	PositionID  string `gorm:"primaryKey" json:"position_id"`
	PoolID      string `gorm:"index" json:"pool_id"`
	Bucket      int64  `json:"bucket"`
	Direction   bool   `json:"direction"`
	TotalSupply int64  `json:"total_supply"`
	Claimable   int64  `json:"claimable"`
	Filled      bool   `json:"filled"`
}

// ShareRecord is one holder balance.
type ShareRecord struct {
	PositionID string `gorm:"primaryKey" json:"position_id"`
	Holder     string `gorm:"primaryKey" json:"holder"`
	Amount     int64  `json:"amount"`
}

// CustodyRecord is the engine custody balance of one asset.
type CustodyRecord struct {
	Asset    string `gorm:"primaryKey" json:"asset"`
	Amount   int64  `json:"amount"`
	Reserved int64  `json:"reserved"`
}

// FillRecord is the audit trail of one bucket fulfillment.
type FillRecord struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Seq        uint64    `gorm:"index" json:"seq"`
	PoolID     string    `gorm:"index" json:"pool_id"`
	PositionID string    `json:"position_id"`
	Bucket     int64     `json:"bucket"`
	Direction  bool      `json:"direction"`
	Input      int64     `json:"input"`
	Owed       int64     `json:"owed"`
	Received   int64     `json:"received"`
	CreatedAt  time.Time `json:"created_at"`
}

// EventRecord is one command written ahead of processing.
type EventRecord struct {
	Seq       uint64    `gorm:"primaryKey" json:"seq"`
	Type      uint16    `json:"type"`
	Ts        int64     `json:"ts"`
	Payload   []byte    `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
}

// AppConfig represents key-value metadata (snapshot sequence, timestamps)
type AppConfig struct {
	Key       string    `gorm:"primaryKey" json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}
