package domain

import "limit_go/pkg/quant"

// Cursor is a LastObservedBucket entry.
type Cursor struct {
	Pool   PoolID     `json:"pool"`
	Bucket quant.Tick `json:"bucket"`
}

// LedgerSnapshot is a point-in-time capture of all ledger state.
// Durability is the host's concern; storage adapters persist it as-is.
type LedgerSnapshot struct {
	Seq       uint64        `json:"seq"`
	TsUnix    int64         `json:"ts"`
	Pools     []PoolKey     `json:"pools"`
	Cursors   []Cursor      `json:"cursors"`
	Cells     []Cell        `json:"cells"`
	Positions []Position    `json:"positions"`
	Shares    []HolderShare `json:"shares"`
	Custody   []Balance     `json:"custody"`
}
