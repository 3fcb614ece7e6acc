package engine

import (
	"context"
	"fmt"
	"log/slog"

	"limit_go/internal/domain"
	"limit_go/pkg/quant"
)

// Fill records one bucket executed against the pool.
type Fill struct {
	Pool      domain.PoolID     `json:"pool"`
	Position  domain.PositionID `json:"position"`
	Bucket    quant.Tick        `json:"bucket"`
	Direction domain.Direction  `json:"direction"`
	Input     int64             `json:"input"`
	Owed      int64             `json:"owed"`
	Received  int64             `json:"received"`
}

// ScanReport is the outcome of one price update.
type ScanReport struct {
	Pool  domain.PoolID
	From  quant.Tick // Cursor before the scan
	To    quant.Tick // Cursor after the scan
	Fills []Fill
	// Resume is set when the scan stopped after a fill; the cursor then
	// points at the next unvisited bucket and the caller should scan again.
	Resume bool
	// Skipped is set when the update arrived inside an open transaction.
	Skipped bool
}

// OnPoolInitialized registers a pool and records the bucket of its initial price.
func (e *Engine) OnPoolInitialized(ctx context.Context, caller domain.Account, key domain.PoolKey, tick quant.Tick) error {
	return e.atomically("initialize", func() error {
		if err := e.authorize(caller); err != nil {
			return err
		}
		pool, key, err := e.lookupPool(key)
		if err != nil {
			return err
		}
		bucket, err := domain.BucketOf(tick, key.BucketWidth)
		if err != nil {
			return err
		}
		e.setCursor(pool, bucket)

		e.logger.Info("Pool initialized",
			slog.String("pool", pool.Short()),
			slog.String("pair", string(key.AssetA)+"/"+string(key.AssetB)),
			slog.Int64("width", int64(key.BucketWidth)),
			slog.Int64("bucket", int64(bucket)),
		)
		return nil
	})
}

// OnPriceUpdate fulfills every bucket the price crossed since the last
// observation. Moving up fills SellA buckets in [last, curr); moving down
// fills SellB buckets in (curr, last].
func (e *Engine) OnPriceUpdate(ctx context.Context, caller domain.Account, key domain.PoolKey, tick quant.Tick) (ScanReport, error) {
	if e.inTx {
		// Our own swaps move the price; the outer scan re-reads it.
		e.logger.Debug("Nested price update ignored", slog.String("pool", key.ID().Short()))
		return ScanReport{Pool: key.ID(), Skipped: true}, nil
	}

	var report ScanReport
	err := e.atomically("price update", func() error {
		if err := e.authorize(caller); err != nil {
			return err
		}
		var err error
		report, err = e.scan(ctx, key, tick)
		return err
	})
	if err != nil {
		return ScanReport{Pool: key.ID()}, err
	}
	return report, nil
}

// Rescan re-runs the scan at the pool's current price. Used to resume a
// scan that stopped after a fill.
func (e *Engine) Rescan(ctx context.Context, caller domain.Account, key domain.PoolKey) (ScanReport, error) {
	tick, err := e.market.CurrentPrice(ctx, key.ID())
	if err != nil {
		return ScanReport{Pool: key.ID()}, domain.NewOpError("rescan", executionError(err))
	}
	return e.OnPriceUpdate(ctx, caller, key, tick)
}

func (e *Engine) scan(ctx context.Context, key domain.PoolKey, tick quant.Tick) (ScanReport, error) {
	pool, key, err := e.lookupPool(key)
	if err != nil {
		return ScanReport{}, err
	}
	width := key.BucketWidth

	curr, err := domain.BucketOf(tick, width)
	if err != nil {
		return ScanReport{}, err
	}

	report := ScanReport{Pool: pool, From: curr, To: curr}
	last, ok := e.cursors.Get(pool)
	if !ok {
		e.setCursor(pool, curr)
		e.logger.Debug("Cursor initialized", slog.String("pool", pool.Short()), slog.Int64("bucket", int64(curr)))
		return report, nil
	}
	report.From = last
	if last == curr {
		report.To = last
		return report, nil
	}

	b := last
	for b != curr {
		// A fill can reverse the price; the walk then turns around at b,
		// the first boundary it has not visited.
		target := domain.SellB
		if b < curr {
			target = domain.SellA
		}
		next, found := e.ledger.NextPending(pool, target, b, curr)
		if !found {
			break
		}

		fill, err := e.fillBucket(ctx, pool, key, next, target)
		if err != nil {
			return report, err
		}
		report.Fills = append(report.Fills, fill)

		if target == domain.SellA {
			b = next + width
		} else {
			b = next - width
		}
		if e.cfg.Policy == ScanStopAfterFirstFill {
			// The next call resumes right after the filled bucket.
			e.setCursor(pool, b)
			report.To = b
			report.Resume = true
			return report, nil
		}

		price, err := e.market.CurrentPrice(ctx, pool)
		if err != nil {
			return report, executionError(err)
		}
		if curr, err = domain.BucketOf(price, width); err != nil {
			return report, err
		}
	}

	e.setCursor(pool, curr)
	report.To = curr

	if len(report.Fills) == 0 {
		e.logger.Debug("Price update without fills",
			slog.String("pool", pool.Short()),
			slog.Int64("from", int64(last)),
			slog.Int64("to", int64(curr)),
		)
	}
	return report, nil
}

// fillBucket executes the whole pending amount of one cell as a single swap
// and assigns the proceeds to the cell's position.
func (e *Engine) fillBucket(ctx context.Context, pool domain.PoolID, key domain.PoolKey, bucket quant.Tick, dir domain.Direction) (Fill, error) {
	amount := e.ledger.Peek(pool, bucket, dir)
	in, out := dir.InputAsset(key), dir.OutputAsset(key)

	res, err := e.market.ExecuteSwap(ctx, pool, dir, amount, e.cfg.Tolerance)
	if err != nil {
		return Fill{}, executionError(err)
	}
	if res.Owed < 0 || res.Received < 0 {
		return Fill{}, fmt.Errorf("%w: negative swap deltas owed=%d received=%d", domain.ErrExecutionFailed, res.Owed, res.Received)
	}
	if res.Owed > amount {
		return Fill{}, fmt.Errorf("%w: pool asks %d %s for input %d", domain.ErrExecutionFailed, res.Owed, in, amount)
	}
	if res.Received == 0 {
		// A filled position without proceeds could never be drained.
		return Fill{}, fmt.Errorf("%w: swap of %d %s returned no %s", domain.ErrExecutionFailed, amount, in, out)
	}

	e.custody.Release(in, amount)
	if res.Owed > 0 {
		if err := e.market.Settle(ctx, pool, in, res.Owed); err != nil {
			return Fill{}, transferError(err)
		}
		e.custody.Debit(in, res.Owed)
	}
	if err := e.market.Take(ctx, pool, out, e.cfg.Custody, res.Received); err != nil {
		return Fill{}, transferError(err)
	}
	e.custody.Credit(out, res.Received)
	e.custody.Reserve(out, res.Received)

	e.ledger.Clear(pool, bucket, dir)
	id := e.registry.EnsurePosition(pool, bucket, dir)
	if err := e.registry.AddClaimable(id, res.Received); err != nil {
		return Fill{}, err
	}
	if err := e.registry.MarkFilled(id); err != nil {
		return Fill{}, err
	}

	if res.Owed < amount {
		e.logger.Warn("Swap consumed less than the pending amount",
			slog.String("pool", pool.Short()),
			slog.Int64("bucket", int64(bucket)),
			slog.Int64("pending", amount),
			slog.Int64("owed", res.Owed),
		)
	}
	e.logger.Info("Bucket filled",
		slog.String("pool", pool.Short()),
		slog.String("position", id.Short()),
		slog.Int64("bucket", int64(bucket)),
		slog.String("direction", dir.String()),
		slog.Int64("input", amount),
		slog.Int64("received", res.Received),
	)

	return Fill{
		Pool:      pool,
		Position:  id,
		Bucket:    bucket,
		Direction: dir,
		Input:     amount,
		Owed:      res.Owed,
		Received:  res.Received,
	}, nil
}
