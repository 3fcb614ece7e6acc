package domain

import (
	"fmt"
	"sort"

	"limit_go/pkg/quant"
	"limit_go/pkg/safe"
)

// PositionRegistry maps (pool, bucket, direction) to positions and keeps
// their supply and claimable counters. Holder balances live in the ShareLedger.
//
// Invariant: sum of holder shares == TotalSupply for every position.
type PositionRegistry struct {
	positions map[PositionID]*Position
	shares    ShareLedger
	journal   *Journal
}

// NewPositionRegistry creates a registry over shares, recording into journal (may be nil).
func NewPositionRegistry(shares ShareLedger, journal *Journal) *PositionRegistry {
	return &PositionRegistry{
		positions: make(map[PositionID]*Position),
		shares:    shares,
		journal:   journal,
	}
}

// Shares returns the backing share ledger.
func (r *PositionRegistry) Shares() ShareLedger {
	return r.shares
}

// EnsurePosition returns the position id for the triple, creating it with zero counters if unseen.
func (r *PositionRegistry) EnsurePosition(pool PoolID, bucket quant.Tick, dir Direction) PositionID {
	id := PositionIDOf(pool, bucket, dir)
	if _, ok := r.positions[id]; ok {
		return id
	}

	r.positions[id] = &Position{ID: id, Pool: pool, Bucket: bucket, Direction: dir}
	r.journal.Append(func() { delete(r.positions, id) })
	return id
}

// Get returns a copy of a position.
func (r *PositionRegistry) Get(id PositionID) (Position, bool) {
	p, ok := r.positions[id]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

// ShareOf returns a holder's share balance.
func (r *PositionRegistry) ShareOf(id PositionID, holder Account) int64 {
	return r.shares.BalanceOf(id, holder)
}

// MintShare increases total supply and the holder's share by amount.
func (r *PositionRegistry) MintShare(id PositionID, holder Account, amount int64) error {
	p, err := r.lookup(id)
	if err != nil {
		return err
	}
	if amount <= 0 {
		return fmt.Errorf("%w: mint %d", ErrInvalidAmount, amount)
	}

	r.update(p, func(p *Position) {
		p.TotalSupply = safe.SafeAdd(p.TotalSupply, amount)
	})
	if err := r.shares.Mint(id, holder, amount); err != nil {
		return err
	}
	r.journal.Append(func() { _ = r.shares.Burn(id, holder, amount) })
	return nil
}

// BurnShare decreases total supply and the holder's share by amount.
func (r *PositionRegistry) BurnShare(id PositionID, holder Account, amount int64) error {
	p, err := r.lookup(id)
	if err != nil {
		return err
	}
	if amount <= 0 {
		return fmt.Errorf("%w: burn %d", ErrInvalidAmount, amount)
	}
	if have := r.shares.BalanceOf(id, holder); have < amount {
		return fmt.Errorf("%w: holder %s has %d, need %d", ErrInsufficientShare, holder, have, amount)
	}
	if p.TotalSupply < amount {
		return fmt.Errorf("%w: supply %d below burn %d", ErrInternalConsistency, p.TotalSupply, amount)
	}

	if err := r.shares.Burn(id, holder, amount); err != nil {
		return err
	}
	r.journal.Append(func() { _ = r.shares.Mint(id, holder, amount) })
	r.update(p, func(p *Position) {
		p.TotalSupply = safe.SafeSub(p.TotalSupply, amount)
		if p.TotalSupply == 0 {
			p.Filled = false
		}
	})
	return nil
}

// AddClaimable increases the output amount available for redemption.
func (r *PositionRegistry) AddClaimable(id PositionID, amount int64) error {
	p, err := r.lookup(id)
	if err != nil {
		return err
	}
	if amount < 0 {
		return fmt.Errorf("%w: claimable %d", ErrInvalidAmount, amount)
	}
	r.update(p, func(p *Position) {
		p.Claimable = safe.SafeAdd(p.Claimable, amount)
	})
	return nil
}

// MarkFilled flags a position whose pooled order executed.
func (r *PositionRegistry) MarkFilled(id PositionID) error {
	p, err := r.lookup(id)
	if err != nil {
		return err
	}
	if p.TotalSupply > 0 {
		r.update(p, func(p *Position) { p.Filled = true })
	}
	return nil
}

// ConsumeClaim burns shareAmount of the holder's share and returns the
// pro-rata payout floor(shareAmount * claimable / totalSupply), computed on
// the pre-burn supply. The payout never exceeds the claimable amount.
func (r *PositionRegistry) ConsumeClaim(id PositionID, holder Account, shareAmount int64) (int64, error) {
	p, err := r.lookup(id)
	if err != nil {
		return 0, err
	}
	if p.Claimable <= 0 {
		return 0, ErrNoClaimable
	}
	if shareAmount <= 0 {
		return 0, fmt.Errorf("%w: redeem %d", ErrInvalidAmount, shareAmount)
	}
	if have := r.shares.BalanceOf(id, holder); have < shareAmount {
		return 0, fmt.Errorf("%w: holder %s has %d, need %d", ErrInsufficientShare, holder, have, shareAmount)
	}
	if p.TotalSupply < shareAmount {
		return 0, fmt.Errorf("%w: supply %d below share %d", ErrInternalConsistency, p.TotalSupply, shareAmount)
	}

	payout := safe.MulDivFloor(shareAmount, p.Claimable, p.TotalSupply)
	if err := r.BurnShare(id, holder, shareAmount); err != nil {
		return 0, err
	}
	r.update(p, func(p *Position) {
		p.Claimable = safe.SafeSub(p.Claimable, payout)
	})
	return payout, nil
}

// TransferShare moves shareAmount of a position between holders.
func (r *PositionRegistry) TransferShare(id PositionID, from, to Account, shareAmount int64) error {
	if _, err := r.lookup(id); err != nil {
		return err
	}
	if shareAmount <= 0 {
		return fmt.Errorf("%w: transfer %d", ErrInvalidAmount, shareAmount)
	}
	if have := r.shares.BalanceOf(id, from); have < shareAmount {
		return fmt.Errorf("%w: holder %s has %d, need %d", ErrInsufficientShare, from, have, shareAmount)
	}
	if from == to {
		return nil
	}
	if err := r.shares.Transfer(id, from, to, shareAmount); err != nil {
		return err
	}
	r.journal.Append(func() { _ = r.shares.Transfer(id, to, from, shareAmount) })
	return nil
}

// Positions returns copies of all positions of a pool, ordered by bucket.
func (r *PositionRegistry) Positions(pool PoolID) []Position {
	result := make([]Position, 0)
	for _, p := range r.positions {
		if p.Pool == pool {
			result = append(result, *p)
		}
	}
	sortPositions(result)
	return result
}

// All returns copies of every position.
func (r *PositionRegistry) All() []Position {
	result := make([]Position, 0, len(r.positions))
	for _, p := range r.positions {
		result = append(result, *p)
	}
	sortPositions(result)
	return result
}

// Restore replaces all positions. Not journaled.
func (r *PositionRegistry) Restore(positions []Position) error {
	next := make(map[PositionID]*Position, len(positions))
	for _, p := range positions {
		if p.TotalSupply < 0 || p.Claimable < 0 {
			return fmt.Errorf("%w: negative counters on position %s", ErrInternalConsistency, p.ID.Short())
		}
		if PositionIDOf(p.Pool, p.Bucket, p.Direction) != p.ID {
			return fmt.Errorf("%w: position id mismatch %s", ErrInternalConsistency, p.ID.Short())
		}
		cp := p
		next[p.ID] = &cp
	}
	r.positions = next
	return nil
}

func (r *PositionRegistry) lookup(id PositionID) (*Position, error) {
	p, ok := r.positions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPosition, id.Short())
	}
	return p, nil
}

// update applies fn to p and journals the previous value.
func (r *PositionRegistry) update(p *Position, fn func(*Position)) {
	prev := *p
	fn(p)
	r.journal.Append(func() { *p = prev })
}

func sortPositions(ps []Position) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].Pool != ps[j].Pool {
			return ps[i].Pool.String() < ps[j].Pool.String()
		}
		if ps[i].Bucket != ps[j].Bucket {
			return ps[i].Bucket < ps[j].Bucket
		}
		return !bool(ps[i].Direction) && bool(ps[j].Direction)
	})
}
