package domain

import (
	"fmt"
	"sort"

	"limit_go/pkg/safe"
)

// Balance is the engine's custody holding of one asset.
// Reserved is the part assigned to pending orders or claimable amounts;
// Amount - Reserved is unassigned residue and is never paid out.
type Balance struct {
	Asset    Asset `json:"asset"`
	Amount   int64 `json:"amount"`   // Held in custody
	Reserved int64 `json:"reserved"` // Assigned to a position
}

// Available returns the unassigned balance (Amount - Reserved).
func (b *Balance) Available() int64 {
	return safe.SafeSub(b.Amount, b.Reserved)
}

// VerifyInvariant checks that balance satisfies invariants.
// Call this after any state change to ensure data integrity.
func (b *Balance) VerifyInvariant() {
	// Invariant 1: Amount must be non-negative
	if b.Amount < 0 {
		panic(fmt.Sprintf("CUSTODY_INVARIANT_NEGATIVE_AMOUNT: %s = %d", b.Asset, b.Amount))
	}

	// Invariant 2: Reserved must be non-negative
	if b.Reserved < 0 {
		panic(fmt.Sprintf("CUSTODY_INVARIANT_NEGATIVE_RESERVED: %s = %d", b.Asset, b.Reserved))
	}

	// Invariant 3: Reserved cannot exceed Amount
	if b.Reserved > b.Amount {
		panic(fmt.Sprintf("CUSTODY_INVARIANT_RESERVED_EXCEEDS_AMOUNT: %s reserved=%d, amount=%d",
			b.Asset, b.Reserved, b.Amount))
	}
}

// BalanceBook tracks custody per asset. Every change is journaled.
type BalanceBook struct {
	balances map[Asset]*Balance
	journal  *Journal
}

// NewBalanceBook creates an empty book recording into journal (may be nil).
func NewBalanceBook(journal *Journal) *BalanceBook {
	return &BalanceBook{
		balances: make(map[Asset]*Balance),
		journal:  journal,
	}
}

// Get returns a copy of the balance for an asset.
func (bb *BalanceBook) Get(asset Asset) Balance {
	if b, ok := bb.balances[asset]; ok {
		return *b
	}
	return Balance{Asset: asset}
}

// Credit adds funds to custody. Panics on overflow.
func (bb *BalanceBook) Credit(asset Asset, amount int64) {
	bb.apply(asset, func(b *Balance) {
		b.Amount = safe.SafeAdd(b.Amount, amount)
	})
}

// Debit removes unassigned funds. Panics if insufficient.
func (bb *BalanceBook) Debit(asset Asset, amount int64) {
	bb.apply(asset, func(b *Balance) {
		if amount > b.Available() {
			panic(fmt.Sprintf("CUSTODY_INSUFFICIENT: %s need %d, available %d", asset, amount, b.Available()))
		}
		b.Amount = safe.SafeSub(b.Amount, amount)
	})
}

// Reserve assigns funds to a position.
func (bb *BalanceBook) Reserve(asset Asset, amount int64) {
	bb.apply(asset, func(b *Balance) {
		if amount > b.Available() {
			panic(fmt.Sprintf("CUSTODY_RESERVE_INSUFFICIENT: %s need %d, available %d", asset, amount, b.Available()))
		}
		b.Reserved = safe.SafeAdd(b.Reserved, amount)
	})
}

// Release unassigns funds.
func (bb *BalanceBook) Release(asset Asset, amount int64) {
	bb.apply(asset, func(b *Balance) {
		if amount > b.Reserved {
			panic(fmt.Sprintf("CUSTODY_RELEASE_EXCEEDS_RESERVED: %s release %d, reserved %d", asset, amount, b.Reserved))
		}
		b.Reserved = safe.SafeSub(b.Reserved, amount)
	})
}

// VerifyAll checks invariants on all balances.
func (bb *BalanceBook) VerifyAll() {
	for _, b := range bb.balances {
		b.VerifyInvariant()
	}
}

// Snapshot returns a copy of all balances ordered by asset.
func (bb *BalanceBook) Snapshot() []Balance {
	result := make([]Balance, 0, len(bb.balances))
	for _, v := range bb.balances {
		result = append(result, *v)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Asset < result[j].Asset })
	return result
}

// Restore replaces all balances. Not journaled.
func (bb *BalanceBook) Restore(balances []Balance) {
	bb.balances = make(map[Asset]*Balance, len(balances))
	for _, b := range balances {
		cp := b
		bb.balances[b.Asset] = &cp
	}
}

func (bb *BalanceBook) apply(asset Asset, fn func(*Balance)) {
	if bb.journal != nil {
		prev, existed := bb.balances[asset]
		var saved Balance
		if existed {
			saved = *prev
		}
		bb.journal.Append(func() {
			if existed {
				*bb.balances[asset] = saved
			} else {
				delete(bb.balances, asset)
			}
		})
	}

	b, ok := bb.balances[asset]
	if !ok {
		b = &Balance{Asset: asset}
		bb.balances[asset] = b
	}
	fn(b)
}
