package engine

import (
	"context"
	"fmt"
	"log/slog"

	"limit_go/internal/domain"
	"limit_go/pkg/quant"
)

// Placement identifies where an order was pooled.
type Placement struct {
	Pool     domain.PoolID
	Bucket   quant.Tick
	Position domain.PositionID
}

// PlaceOrder pools amount of the input asset at the bucket containing tick
// and mints the holder an equal share of the bucket's position.
// The input asset is pulled from holder into custody.
func (e *Engine) PlaceOrder(ctx context.Context, key domain.PoolKey, tick quant.Tick, dir domain.Direction, amount int64, holder domain.Account) (Placement, error) {
	var placement Placement
	err := e.atomically("place", func() error {
		pool, key, err := e.lookupPool(key)
		if err != nil {
			return err
		}
		bucket, err := domain.BucketOf(tick, key.BucketWidth)
		if err != nil {
			return err
		}
		if amount <= 0 {
			return fmt.Errorf("%w: %d", domain.ErrInvalidAmount, amount)
		}
		if p, ok := e.registry.Get(domain.PositionIDOf(pool, bucket, dir)); ok && p.Filled {
			return fmt.Errorf("%w: bucket %d %s", domain.ErrPositionFilled, bucket, dir)
		}

		if _, err := e.ledger.Place(pool, tick, key.BucketWidth, dir, amount); err != nil {
			return err
		}
		id := e.registry.EnsurePosition(pool, bucket, dir)
		if err := e.registry.MintShare(id, holder, amount); err != nil {
			return err
		}

		in := dir.InputAsset(key)
		e.custody.Credit(in, amount)
		e.custody.Reserve(in, amount)
		if err := e.transfer.Pull(ctx, in, holder, e.cfg.Custody, amount); err != nil {
			return transferError(err)
		}

		placement = Placement{Pool: pool, Bucket: bucket, Position: id}
		e.logger.Info("Order placed",
			slog.String("pool", pool.Short()),
			slog.String("position", id.Short()),
			slog.Int64("bucket", int64(bucket)),
			slog.String("direction", dir.String()),
			slog.Int64("amount", amount),
			slog.String("holder", string(holder)),
		)
		return nil
	})
	if err != nil {
		return Placement{}, err
	}
	return placement, nil
}

// CancelOrder removes the holder's whole share from an unfilled position and
// refunds it in the input asset. Returns the refunded amount.
func (e *Engine) CancelOrder(ctx context.Context, key domain.PoolKey, tick quant.Tick, dir domain.Direction, holder domain.Account) (int64, error) {
	var refund int64
	err := e.atomically("cancel", func() error {
		pool, key, err := e.lookupPool(key)
		if err != nil {
			return err
		}
		bucket, err := domain.BucketOf(tick, key.BucketWidth)
		if err != nil {
			return err
		}

		id := domain.PositionIDOf(pool, bucket, dir)
		p, ok := e.registry.Get(id)
		if !ok {
			return domain.ErrNothingToCancel
		}
		share := e.registry.ShareOf(id, holder)
		if share == 0 {
			return domain.ErrNothingToCancel
		}
		if p.Filled {
			return fmt.Errorf("%w: redeem instead", domain.ErrPositionFilled)
		}

		if err := e.registry.BurnShare(id, holder, share); err != nil {
			return err
		}
		if err := e.ledger.CancelAll(pool, bucket, dir, share); err != nil {
			return err
		}

		in := dir.InputAsset(key)
		e.custody.Release(in, share)
		e.custody.Debit(in, share)
		if err := e.transfer.Push(ctx, in, e.cfg.Custody, holder, share); err != nil {
			return transferError(err)
		}

		refund = share
		e.logger.Info("Order cancelled",
			slog.String("pool", pool.Short()),
			slog.String("position", id.Short()),
			slog.Int64("bucket", int64(bucket)),
			slog.Int64("refund", share),
			slog.String("holder", string(holder)),
		)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return refund, nil
}

// Redeem burns shareAmount of the holder's share in a filled position and
// pays the pro-rata output to destination. Returns the payout.
func (e *Engine) Redeem(ctx context.Context, id domain.PositionID, shareAmount int64, holder, destination domain.Account) (int64, error) {
	var payout int64
	err := e.atomically("redeem", func() error {
		p, ok := e.registry.Get(id)
		if !ok {
			return fmt.Errorf("%w: %s", domain.ErrUnknownPosition, id.Short())
		}
		key, ok := e.pools[p.Pool]
		if !ok {
			return fmt.Errorf("%w: %s", domain.ErrUnknownPool, p.Pool.Short())
		}

		amount, err := e.registry.ConsumeClaim(id, holder, shareAmount)
		if err != nil {
			return err
		}

		out := p.Direction.OutputAsset(key)
		if amount > 0 {
			e.custody.Release(out, amount)
			e.custody.Debit(out, amount)
			if err := e.transfer.Push(ctx, out, e.cfg.Custody, destination, amount); err != nil {
				return transferError(err)
			}
		}

		payout = amount
		e.logger.Info("Claim redeemed",
			slog.String("position", id.Short()),
			slog.Int64("share", shareAmount),
			slog.Int64("payout", amount),
			slog.String("holder", string(holder)),
			slog.String("destination", string(destination)),
		)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return payout, nil
}

// TransferShares moves a claim on a position to another holder.
func (e *Engine) TransferShares(ctx context.Context, id domain.PositionID, from, to domain.Account, shareAmount int64) error {
	return e.atomically("transfer shares", func() error {
		if err := e.registry.TransferShare(id, from, to, shareAmount); err != nil {
			return err
		}
		e.logger.Debug("Shares transferred",
			slog.String("position", id.Short()),
			slog.Int64("amount", shareAmount),
			slog.String("from", string(from)),
			slog.String("to", string(to)),
		)
		return nil
	})
}
