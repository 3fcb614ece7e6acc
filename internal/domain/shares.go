package domain

import (
	"fmt"
	"sort"

	"limit_go/pkg/safe"
)

// ShareLedger is the multi-asset ownership capability backing positions:
// one fungible share balance per (position, holder).
type ShareLedger interface {
	Mint(id PositionID, holder Account, amount int64) error
	Burn(id PositionID, holder Account, amount int64) error
	BalanceOf(id PositionID, holder Account) int64
	Transfer(id PositionID, from, to Account, amount int64) error
}

// HolderShare is one holder's balance in a position.
type HolderShare struct {
	Position PositionID `json:"position"`
	Holder   Account    `json:"holder"`
	Amount   int64      `json:"amount"`
}

// ShareBook is the in-memory ShareLedger.
type ShareBook struct {
	balances map[PositionID]map[Account]int64
}

// NewShareBook creates an empty share book.
func NewShareBook() *ShareBook {
	return &ShareBook{balances: make(map[PositionID]map[Account]int64)}
}

func (b *ShareBook) Mint(id PositionID, holder Account, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("%w: mint %d", ErrInvalidAmount, amount)
	}
	if amount == 0 {
		return nil
	}
	holders, ok := b.balances[id]
	if !ok {
		holders = make(map[Account]int64)
		b.balances[id] = holders
	}
	holders[holder] = safe.SafeAdd(holders[holder], amount)
	return nil
}

func (b *ShareBook) Burn(id PositionID, holder Account, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("%w: burn %d", ErrInvalidAmount, amount)
	}
	current := b.BalanceOf(id, holder)
	if current < amount {
		return fmt.Errorf("%w: holder %s has %d, burn %d", ErrInsufficientShare, holder, current, amount)
	}
	b.setBalance(id, holder, current-amount)
	return nil
}

func (b *ShareBook) BalanceOf(id PositionID, holder Account) int64 {
	return b.balances[id][holder]
}

func (b *ShareBook) Transfer(id PositionID, from, to Account, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: transfer %d", ErrInvalidAmount, amount)
	}
	if from == to {
		return nil
	}
	if err := b.Burn(id, from, amount); err != nil {
		return err
	}
	return b.Mint(id, to, amount)
}

// Holders returns every non-zero balance ordered by position then holder.
func (b *ShareBook) Holders() []HolderShare {
	result := make([]HolderShare, 0)
	for id, holders := range b.balances {
		for holder, amount := range holders {
			result = append(result, HolderShare{Position: id, Holder: holder, Amount: amount})
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Position != result[j].Position {
			return result[i].Position.String() < result[j].Position.String()
		}
		return result[i].Holder < result[j].Holder
	})
	return result
}

// SumOf returns the sum of all holder balances of a position.
func (b *ShareBook) SumOf(id PositionID) int64 {
	var total int64
	for _, amount := range b.balances[id] {
		total = safe.SafeAdd(total, amount)
	}
	return total
}

// Restore replaces all balances.
func (b *ShareBook) Restore(shares []HolderShare) error {
	b.balances = make(map[PositionID]map[Account]int64)
	for _, s := range shares {
		if s.Amount < 0 {
			return fmt.Errorf("%w: negative share %d for %s", ErrInternalConsistency, s.Amount, s.Holder)
		}
		if err := b.Mint(s.Position, s.Holder, s.Amount); err != nil {
			return err
		}
	}
	return nil
}

func (b *ShareBook) setBalance(id PositionID, holder Account, amount int64) {
	holders := b.balances[id]
	if amount == 0 {
		delete(holders, holder)
		if len(holders) == 0 {
			delete(b.balances, id)
		}
		return
	}
	holders[holder] = amount
}
