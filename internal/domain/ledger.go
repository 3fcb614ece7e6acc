package domain

import (
	"fmt"
	"sort"

	"limit_go/pkg/quant"
	"limit_go/pkg/safe"
)

// CellKey addresses one PendingOrderAmount cell.
type CellKey struct {
	Pool      PoolID
	Bucket    quant.Tick
	Direction Direction
}

// Cell is a non-zero pending amount, for snapshots and read models.
type Cell struct {
	Pool      PoolID     `json:"pool"`
	Bucket    quant.Tick `json:"bucket"`
	Direction Direction  `json:"direction"`
	Amount    int64      `json:"amount"`
}

// OrderLedger stores the pooled pending input amount per (pool, bucket, direction).
// Zero cells are not stored.
type OrderLedger struct {
	cells   map[CellKey]int64
	journal *Journal
}

// NewOrderLedger creates an empty ledger recording into journal (may be nil).
func NewOrderLedger(journal *Journal) *OrderLedger {
	return &OrderLedger{
		cells:   make(map[CellKey]int64),
		journal: journal,
	}
}

// Place adds amount to the cell of the bucket containing price and returns that bucket.
func (l *OrderLedger) Place(pool PoolID, price, width quant.Tick, dir Direction, amount int64) (quant.Tick, error) {
	bucket, err := BucketOf(price, width)
	if err != nil {
		return 0, err
	}
	if amount <= 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}

	key := CellKey{Pool: pool, Bucket: bucket, Direction: dir}
	l.set(key, safe.SafeAdd(l.cells[key], amount))
	return bucket, nil
}

// CancelAll removes a holder's whole share from the cell.
func (l *OrderLedger) CancelAll(pool PoolID, bucket quant.Tick, dir Direction, holderShare int64) error {
	if holderShare <= 0 {
		return ErrNothingToCancel
	}

	key := CellKey{Pool: pool, Bucket: bucket, Direction: dir}
	current := l.cells[key]
	if current < holderShare {
		return fmt.Errorf("%w: cell %d, share %d", ErrInsufficient, current, holderShare)
	}
	l.set(key, safe.SafeSub(current, holderShare))
	return nil
}

// Peek returns the pending amount of a cell.
func (l *OrderLedger) Peek(pool PoolID, bucket quant.Tick, dir Direction) int64 {
	return l.cells[CellKey{Pool: pool, Bucket: bucket, Direction: dir}]
}

// Clear zeroes a cell after its pooled order executed and returns the previous amount.
func (l *OrderLedger) Clear(pool PoolID, bucket quant.Tick, dir Direction) int64 {
	key := CellKey{Pool: pool, Bucket: bucket, Direction: dir}
	prev := l.cells[key]
	if prev != 0 {
		l.set(key, 0)
	}
	return prev
}

// Cells returns the non-zero cells of a pool ordered by bucket, SellB first on ties.
func (l *OrderLedger) Cells(pool PoolID) []Cell {
	result := make([]Cell, 0)
	for k, v := range l.cells {
		if k.Pool == pool {
			result = append(result, Cell{Pool: k.Pool, Bucket: k.Bucket, Direction: k.Direction, Amount: v})
		}
	}
	sortCells(result)
	return result
}

// All returns every non-zero cell.
func (l *OrderLedger) All() []Cell {
	result := make([]Cell, 0, len(l.cells))
	for k, v := range l.cells {
		result = append(result, Cell{Pool: k.Pool, Bucket: k.Bucket, Direction: k.Direction, Amount: v})
	}
	sortCells(result)
	return result
}

// Restore replaces the ledger content. Not journaled.
func (l *OrderLedger) Restore(cells []Cell) error {
	next := make(map[CellKey]int64, len(cells))
	for _, c := range cells {
		if c.Amount < 0 {
			return fmt.Errorf("%w: negative cell %d at bucket %d", ErrInternalConsistency, c.Amount, c.Bucket)
		}
		if c.Amount == 0 {
			continue
		}
		next[CellKey{Pool: c.Pool, Bucket: c.Bucket, Direction: c.Direction}] = c.Amount
	}
	l.cells = next
	return nil
}

func (l *OrderLedger) set(key CellKey, amount int64) {
	prev, existed := l.cells[key]
	if amount == 0 {
		delete(l.cells, key)
	} else {
		l.cells[key] = amount
	}
	l.journal.Append(func() {
		if existed {
			l.cells[key] = prev
		} else {
			delete(l.cells, key)
		}
	})
}

func sortCells(cells []Cell) {
	sort.Slice(cells, func(i, j int) bool {
		if cells[i].Pool != cells[j].Pool {
			return cells[i].Pool.String() < cells[j].Pool.String()
		}
		if cells[i].Bucket != cells[j].Bucket {
			return cells[i].Bucket < cells[j].Bucket
		}
		return !bool(cells[i].Direction) && bool(cells[j].Direction)
	})
}

// BucketOf maps quant.BucketOf failures into ErrInvalidConfiguration.
func BucketOf(price, width quant.Tick) (quant.Tick, error) {
	bucket, err := quant.BucketOf(price, width)
	if err != nil {
		return 0, configError(err)
	}
	return bucket, nil
}

// NextPending returns the first bucket holding a pending amount for dir when
// walking from `from` toward `to`: ascending visits from <= b < to, descending
// visits to < b <= from. Zero buckets are skipped without being enumerated.
func (l *OrderLedger) NextPending(pool PoolID, dir Direction, from, to quant.Tick) (quant.Tick, bool) {
	ascending := from < to
	var best quant.Tick
	found := false
	for k := range l.cells {
		if k.Pool != pool || k.Direction != dir {
			continue
		}
		if ascending {
			if k.Bucket < from || k.Bucket >= to {
				continue
			}
			if !found || k.Bucket < best {
				best, found = k.Bucket, true
			}
		} else {
			if k.Bucket > from || k.Bucket <= to {
				continue
			}
			if !found || k.Bucket > best {
				best, found = k.Bucket, true
			}
		}
	}
	return best, found
}
