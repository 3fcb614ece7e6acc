package execution

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"limit_go/internal/domain"
)

// PaperBank simulates the account ledger behind domain.Transfer with one
// BalanceBook per account.
type PaperBank struct {
	books map[domain.Account]*domain.BalanceBook
	mu    sync.Mutex
}

// NewPaperBank creates an empty bank.
func NewPaperBank() *PaperBank {
	return &PaperBank{books: make(map[domain.Account]*domain.BalanceBook)}
}

// Deposit adds funds to an account.
func (b *PaperBank) Deposit(account domain.Account, asset domain.Asset, amount int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.book(account).Credit(asset, amount)
}

// Withdraw removes funds from an account.
func (b *PaperBank) Withdraw(account domain.Account, asset domain.Asset, amount int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.debit(account, asset, amount)
}

// Balance returns an account balance.
func (b *PaperBank) Balance(account domain.Account, asset domain.Asset) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.book(account).Get(asset).Amount
}

// Pull moves funds from a holder into the engine's account.
func (b *PaperBank) Pull(ctx context.Context, asset domain.Asset, from, to domain.Account, amount int64) error {
	return b.move(ctx, "pull", asset, from, to, amount)
}

// Push moves funds from the engine's account to a holder.
func (b *PaperBank) Push(ctx context.Context, asset domain.Asset, from, to domain.Account, amount int64) error {
	return b.move(ctx, "push", asset, from, to, amount)
}

func (b *PaperBank) move(ctx context.Context, op string, asset domain.Asset, from, to domain.Account, amount int64) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransferFailed, err)
	}
	if amount <= 0 {
		return fmt.Errorf("%w: %s amount %d", domain.ErrTransferFailed, op, amount)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.debit(from, asset, amount); err != nil {
		return err
	}
	b.book(to).Credit(asset, amount)

	slog.Debug("PAPER BANK: Transfer",
		slog.String("op", op),
		slog.String("asset", string(asset)),
		slog.String("from", string(from)),
		slog.String("to", string(to)),
		slog.Int64("amount", amount))
	return nil
}

func (b *PaperBank) debit(account domain.Account, asset domain.Asset, amount int64) error {
	book := b.book(account)
	bal := book.Get(asset)
	if bal.Available() < amount {
		return fmt.Errorf("%w: insufficient %s balance for %s: need %d, have %d",
			domain.ErrTransferFailed, asset, account, amount, bal.Available())
	}
	book.Debit(asset, amount)
	return nil
}

func (b *PaperBank) book(account domain.Account) *domain.BalanceBook {
	book, ok := b.books[account]
	if !ok {
		book = domain.NewBalanceBook(nil)
		b.books[account] = book
	}
	return book
}
