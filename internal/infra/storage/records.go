package storage

import (
	"fmt"

	"limit_go/internal/domain"
	"limit_go/pkg/quant"
)

type records struct {
	pools     []domain.PoolRecord
	cells     []domain.CellRecord
	positions []domain.PositionRecord
	shares    []domain.ShareRecord
	custody   []domain.CustodyRecord
}

func toRecords(snap *domain.LedgerSnapshot) records {
	cursors := make(map[domain.PoolID]quant.Tick, len(snap.Cursors))
	for _, c := range snap.Cursors {
		cursors[c.Pool] = c.Bucket
	}

	var r records
	for _, key := range snap.Pools {
		id := key.ID()
		bucket, ok := cursors[id]
		r.pools = append(r.pools, domain.PoolRecord{
			PoolID:      id.String(),
			AssetA:      string(key.AssetA),
			AssetB:      string(key.AssetB),
			BucketWidth: int64(key.BucketWidth),
			LastBucket:  int64(bucket),
			HasCursor:   ok,
		})
	}
	for _, c := range snap.Cells {
		r.cells = append(r.cells, domain.CellRecord{
			PoolID:    c.Pool.String(),
			Bucket:    int64(c.Bucket),
			Direction: bool(c.Direction),
			Amount:    c.Amount,
		})
	}
	for _, p := range snap.Positions {
		r.positions = append(r.positions, domain.PositionRecord{
			PositionID:  p.ID.String(),
			PoolID:      p.Pool.String(),
			Bucket:      int64(p.Bucket),
			Direction:   bool(p.Direction),
			TotalSupply: p.TotalSupply,
			Claimable:   p.Claimable,
			Filled:      p.Filled,
		})
	}
	for _, h := range snap.Shares {
		r.shares = append(r.shares, domain.ShareRecord{
			PositionID: h.Position.String(),
			Holder:     string(h.Holder),
			Amount:     h.Amount,
		})
	}
	for _, b := range snap.Custody {
		r.custody = append(r.custody, domain.CustodyRecord{
			Asset:    string(b.Asset),
			Amount:   b.Amount,
			Reserved: b.Reserved,
		})
	}
	return r
}

func (r records) snapshot() (*domain.LedgerSnapshot, error) {
	snap := &domain.LedgerSnapshot{}

	for _, rec := range r.pools {
		key := domain.PoolKey{
			AssetA:      domain.Asset(rec.AssetA),
			AssetB:      domain.Asset(rec.AssetB),
			BucketWidth: quant.Tick(rec.BucketWidth),
		}
		if key.ID().String() != rec.PoolID {
			return nil, fmt.Errorf("pool %s does not match its key", rec.PoolID)
		}
		snap.Pools = append(snap.Pools, key)
		if rec.HasCursor {
			snap.Cursors = append(snap.Cursors, domain.Cursor{Pool: key.ID(), Bucket: quant.Tick(rec.LastBucket)})
		}
	}
	for _, rec := range r.cells {
		var pool domain.PoolID
		if err := pool.UnmarshalText([]byte(rec.PoolID)); err != nil {
			return nil, fmt.Errorf("cell pool: %w", err)
		}
		snap.Cells = append(snap.Cells, domain.Cell{
			Pool:      pool,
			Bucket:    quant.Tick(rec.Bucket),
			Direction: domain.Direction(rec.Direction),
			Amount:    rec.Amount,
		})
	}
	for _, rec := range r.positions {
		var p domain.Position
		if err := p.ID.UnmarshalText([]byte(rec.PositionID)); err != nil {
			return nil, fmt.Errorf("position id: %w", err)
		}
		if err := p.Pool.UnmarshalText([]byte(rec.PoolID)); err != nil {
			return nil, fmt.Errorf("position pool: %w", err)
		}
		p.Bucket = quant.Tick(rec.Bucket)
		p.Direction = domain.Direction(rec.Direction)
		p.TotalSupply = rec.TotalSupply
		p.Claimable = rec.Claimable
		p.Filled = rec.Filled
		snap.Positions = append(snap.Positions, p)
	}
	for _, rec := range r.shares {
		h := domain.HolderShare{Holder: domain.Account(rec.Holder), Amount: rec.Amount}
		if err := h.Position.UnmarshalText([]byte(rec.PositionID)); err != nil {
			return nil, fmt.Errorf("share position: %w", err)
		}
		snap.Shares = append(snap.Shares, h)
	}
	for _, rec := range r.custody {
		snap.Custody = append(snap.Custody, domain.Balance{
			Asset:    domain.Asset(rec.Asset),
			Amount:   rec.Amount,
			Reserved: rec.Reserved,
		})
	}
	return snap, nil
}
