package service

import (
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"limit_go/internal/domain"
	"limit_go/internal/engine"
)

// BookService caches the latest read model of every pool.
// Update is called from the sequencer goroutine; readers may be anywhere.
type BookService struct {
	mu    sync.RWMutex
	books map[domain.PoolID]engine.PoolBook
}

// NewBookService creates an empty BookService.
func NewBookService() *BookService {
	return &BookService{books: make(map[domain.PoolID]engine.PoolBook)}
}

// Update replaces the cached book of one pool.
func (s *BookService) Update(book engine.PoolBook) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.books[book.Pool] = book
}

// Get returns the cached book of a pool.
func (s *BookService) Get(pool domain.PoolID) (engine.PoolBook, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	book, ok := s.books[pool]
	return book, ok
}

// GetAll returns all cached books sorted by pool id.
func (s *BookService) GetAll() []engine.PoolBook {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]engine.PoolBook, 0, len(s.books))
	for _, b := range s.books {
		result = append(result, b)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Pool.String() < result[j].Pool.String()
	})
	return result
}

// Summary aggregates one pool book for display.
type Summary struct {
	Pool          domain.PoolID
	Pair          string
	CursorPrice   decimal.Decimal // 1.0001^cursor, zero without a cursor
	PendingA      int64           // SellA input waiting to fill
	PendingB      int64           // SellB input waiting to fill
	ClaimableA    int64           // AssetA owed to SellB holders
	ClaimableB    int64           // AssetB owed to SellA holders
	OpenPositions int
}

// Summarize returns the summary of every cached pool, sorted by pool id.
func (s *BookService) Summarize() []Summary {
	books := s.GetAll()
	result := make([]Summary, 0, len(books))
	for _, b := range books {
		sum := Summary{Pool: b.Pool, Pair: string(b.Key.AssetA) + "/" + string(b.Key.AssetB)}
		if b.HasCursor {
			sum.CursorPrice = b.Cursor.Price()
		}
		for _, l := range b.Levels {
			if l.Direction == domain.SellA {
				sum.PendingA += l.Pending
				sum.ClaimableB += l.Claimable
			} else {
				sum.PendingB += l.Pending
				sum.ClaimableA += l.Claimable
			}
			if l.Pending > 0 {
				sum.OpenPositions++
			}
		}
		result = append(result, sum)
	}
	return result
}
