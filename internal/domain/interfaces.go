package domain

import (
	"context"

	"limit_go/pkg/quant"
)

// PriceTolerance bounds how far a fulfillment swap may move the pool price.
// The zero value (AnyPrice) accepts any resulting price: there is no
// minimum-output protection on fulfillment.
type PriceTolerance struct {
	Bounded  bool  `json:"bounded"`
	MaxTicks int64 `json:"max_ticks"` // Maximum tick movement when Bounded
}

// AnyPrice accepts unbounded price impact.
var AnyPrice = PriceTolerance{}

// IsUnbounded reports whether the tolerance accepts any price.
func (t PriceTolerance) IsUnbounded() bool {
	return !t.Bounded
}

// SwapResult is what a pool execution left owed by and credited to the engine.
type SwapResult struct {
	Owed     int64 // Input asset the engine must settle to the pool
	Received int64 // Output asset the engine may take from the pool
}

// Market is the external liquidity pool. ExecuteSwap must be atomic:
// on error nothing was debited or credited.
type Market interface {
	CurrentPrice(ctx context.Context, pool PoolID) (quant.Tick, error)
	ExecuteSwap(ctx context.Context, pool PoolID, dir Direction, input int64, tol PriceTolerance) (SwapResult, error)
	// Settle pays an owed leg to the pool and acknowledges it.
	Settle(ctx context.Context, pool PoolID, asset Asset, amount int64) error
	// Take moves a received leg from the pool to destination.
	Take(ctx context.Context, pool PoolID, asset Asset, destination Account, amount int64) error
}

// Transfer moves fungible balances between accounts.
type Transfer interface {
	Pull(ctx context.Context, asset Asset, from, to Account, amount int64) error
	Push(ctx context.Context, asset Asset, from, to Account, amount int64) error
}

// CursorStore keeps the LastObservedBucket per pool.
type CursorStore interface {
	Get(pool PoolID) (quant.Tick, bool)
	Set(pool PoolID, bucket quant.Tick)
	Delete(pool PoolID)
	All() map[PoolID]quant.Tick
}
