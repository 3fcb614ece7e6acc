package engine

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"limit_go/internal/domain"
	"limit_go/pkg/quant"
)

// BookLevel is one position of a pool as seen by readers.
type BookLevel struct {
	Bucket      quant.Tick        `json:"bucket"`
	Direction   domain.Direction  `json:"direction"`
	Position    domain.PositionID `json:"position"`
	Pending     int64             `json:"pending"`
	TotalSupply int64             `json:"total_supply"`
	Claimable   int64             `json:"claimable"`
	Filled      bool              `json:"filled"`
}

// PoolBook is a read model of one pool, levels ordered by bucket.
type PoolBook struct {
	Pool      domain.PoolID  `json:"pool"`
	Key       domain.PoolKey `json:"key"`
	Cursor    quant.Tick     `json:"cursor"`
	HasCursor bool           `json:"has_cursor"`
	Levels    []BookLevel    `json:"levels"`
	UpdatedAt int64          `json:"updated_at"`
}

// Book builds the read model of a registered pool.
func (e *Engine) Book(pool domain.PoolID) (PoolBook, error) {
	key, ok := e.pools[pool]
	if !ok {
		return PoolBook{}, fmt.Errorf("%w: %s", domain.ErrUnknownPool, pool.Short())
	}

	book := PoolBook{Pool: pool, Key: key, UpdatedAt: e.now().Unix()}
	book.Cursor, book.HasCursor = e.cursors.Get(pool)

	for _, p := range e.registry.Positions(pool) {
		if p.TotalSupply == 0 && p.Claimable == 0 {
			continue
		}
		book.Levels = append(book.Levels, BookLevel{
			Bucket:      p.Bucket,
			Direction:   p.Direction,
			Position:    p.ID,
			Pending:     e.ledger.Peek(pool, p.Bucket, p.Direction),
			TotalSupply: p.TotalSupply,
			Claimable:   p.Claimable,
			Filled:      p.Filled,
		})
	}
	return book, nil
}

// Pools returns every registered pool id, ordered.
func (e *Engine) Pools() []domain.PoolID {
	ids := make([]domain.PoolID, 0, len(e.pools))
	for id := range e.pools {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

// Snapshot captures all ledger state. Share holders are included when the
// share ledger is the in-memory ShareBook.
func (e *Engine) Snapshot() *domain.LedgerSnapshot {
	snap := &domain.LedgerSnapshot{
		TsUnix:    e.now().Unix(),
		Pools:     make([]domain.PoolKey, 0, len(e.pools)),
		Cells:     e.ledger.All(),
		Positions: e.registry.All(),
		Custody:   e.custody.Snapshot(),
	}

	for _, id := range e.Pools() {
		snap.Pools = append(snap.Pools, e.pools[id])
		if bucket, ok := e.cursors.Get(id); ok {
			snap.Cursors = append(snap.Cursors, domain.Cursor{Pool: id, Bucket: bucket})
		}
	}
	if book, ok := e.registry.Shares().(*domain.ShareBook); ok {
		snap.Shares = book.Holders()
	}
	return snap
}

// Restore replaces all engine state with snap and verifies the invariants.
func (e *Engine) Restore(snap *domain.LedgerSnapshot) error {
	if e.inTx {
		return domain.NewOpError("restore", domain.ErrReentrant)
	}
	if snap == nil {
		return fmt.Errorf("%w: nil snapshot", domain.ErrInvalidConfiguration)
	}

	pools := make(map[domain.PoolID]domain.PoolKey, len(snap.Pools))
	for _, key := range snap.Pools {
		if err := key.Validate(); err != nil {
			return err
		}
		pools[key.ID()] = key
	}
	if err := e.ledger.Restore(snap.Cells); err != nil {
		return err
	}
	if err := e.registry.Restore(snap.Positions); err != nil {
		return err
	}
	if book, ok := e.registry.Shares().(*domain.ShareBook); ok {
		if err := book.Restore(snap.Shares); err != nil {
			return err
		}
	}
	e.custody.Restore(snap.Custody)

	for id := range e.cursors.All() {
		e.cursors.Delete(id)
	}
	for _, c := range snap.Cursors {
		e.cursors.Set(c.Pool, c.Bucket)
	}
	e.pools = pools
	e.journal.Commit()

	if err := e.VerifyInvariants(); err != nil {
		return domain.NewOpError("restore", err)
	}
	e.logger.Info("Ledger restored",
		slog.Uint64("seq", snap.Seq),
		slog.Int("pools", len(snap.Pools)),
		slog.Int("positions", len(snap.Positions)),
	)
	return nil
}

// DumpState writes the entire ledger state to a file (for post-mortem).
func (e *Engine) DumpState(filename string) {
	e.logger.Info("Dumping ledger state...", slog.String("file", filename))

	b, err := json.MarshalIndent(e.Snapshot(), "", "  ")
	if err != nil {
		e.logger.Error("Failed to marshal state", slog.Any("error", err))
		return
	}
	if err := os.WriteFile(filename, b, 0644); err != nil {
		e.logger.Error("Failed to write state dump", slog.Any("error", err))
	}
}
