package domain

import (
	"testing"
)

func TestBalanceBook_ReserveFlow(t *testing.T) {
	bb := NewBalanceBook(nil)

	bb.Credit("ETH", 100)
	bb.Reserve("ETH", 100)

	b := bb.Get("ETH")
	if b.Amount != 100 || b.Reserved != 100 || b.Available() != 0 {
		t.Errorf("Unexpected balance %+v", b)
	}

	bb.Release("ETH", 100)
	bb.Debit("ETH", 98)
	b = bb.Get("ETH")
	if b.Amount != 2 || b.Reserved != 0 {
		t.Errorf("Unexpected balance %+v", b)
	}
	bb.VerifyAll()
}

func TestBalanceBook_Panics(t *testing.T) {
	cases := map[string]func(bb *BalanceBook){
		"Debit reserved funds": func(bb *BalanceBook) {
			bb.Credit("ETH", 10)
			bb.Reserve("ETH", 10)
			bb.Debit("ETH", 1)
		},
		"Reserve beyond amount": func(bb *BalanceBook) {
			bb.Credit("ETH", 10)
			bb.Reserve("ETH", 11)
		},
		"Release beyond reserved": func(bb *BalanceBook) {
			bb.Credit("ETH", 10)
			bb.Release("ETH", 1)
		},
	}

	for name, fn := range cases {
		t.Run(name, func(t *testing.T) {
			defer func() {
				if r := recover(); r == nil {
					t.Error("Should have panicked")
				}
			}()
			fn(NewBalanceBook(nil))
		})
	}
}

func TestBalanceBook_JournalRevert(t *testing.T) {
	j := NewJournal()
	bb := NewBalanceBook(j)
	bb.Credit("ETH", 50)
	j.Commit()

	mark := j.Mark()
	bb.Credit("ETH", 10)
	bb.Reserve("ETH", 60)
	bb.Credit("USDC", 7)
	j.RevertTo(mark)

	if b := bb.Get("ETH"); b.Amount != 50 || b.Reserved != 0 {
		t.Errorf("Expected ETH restored, got %+v", b)
	}
	if len(bb.Snapshot()) != 1 {
		t.Errorf("Expected USDC entry removed, got %+v", bb.Snapshot())
	}
}

func TestBalanceBook_RevertAfterPanic(t *testing.T) {
	j := NewJournal()
	bb := NewBalanceBook(j)
	bb.Credit("ETH", 5)
	j.Commit()

	func() {
		defer func() {
			recover()
			j.RevertTo(0)
		}()
		bb.Reserve("ETH", 5)
		bb.Debit("ETH", 1) // panics: nothing available
	}()

	if b := bb.Get("ETH"); b.Amount != 5 || b.Reserved != 0 {
		t.Errorf("Expected clean balance after revert, got %+v", b)
	}
}
