package domain

import "limit_go/pkg/quant"

// MemoryCursors is the in-memory CursorStore.
type MemoryCursors struct {
	cursors map[PoolID]quant.Tick
}

// NewMemoryCursors creates an empty cursor store.
func NewMemoryCursors() *MemoryCursors {
	return &MemoryCursors{cursors: make(map[PoolID]quant.Tick)}
}

func (m *MemoryCursors) Get(pool PoolID) (quant.Tick, bool) {
	b, ok := m.cursors[pool]
	return b, ok
}

func (m *MemoryCursors) Set(pool PoolID, bucket quant.Tick) {
	m.cursors[pool] = bucket
}

func (m *MemoryCursors) Delete(pool PoolID) {
	delete(m.cursors, pool)
}

func (m *MemoryCursors) All() map[PoolID]quant.Tick {
	result := make(map[PoolID]quant.Tick, len(m.cursors))
	for k, v := range m.cursors {
		result[k] = v
	}
	return result
}
