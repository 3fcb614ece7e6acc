package infra

import (
	"sync/atomic"
	"time"

	"limit_go/internal/engine"
)

var _ engine.Recorder = (*Metrics)(nil)

// Metrics provides lightweight observability without external dependencies.
// Uses atomic operations for thread-safety.
type Metrics struct {
	// Counters
	commandsProcessed atomic.Uint64
	bucketsFilled     atomic.Uint64
	ordersPlaced      atomic.Uint64
	ordersCancelled   atomic.Uint64
	claimsRedeemed    atomic.Uint64
	errorsTotal       atomic.Uint64
	rollbacksTotal    atomic.Uint64

	// Latency tracking
	latencySumNs atomic.Int64
	latencyCount atomic.Uint64

	// Gauges
	activeConnections atomic.Int32
}

// GlobalMetrics is the singleton metrics instance.
var GlobalMetrics = &Metrics{}

// RecordCommand records a processed command with latency.
func (m *Metrics) RecordCommand(latencyNs int64) {
	m.commandsProcessed.Add(1)
	m.latencySumNs.Add(latencyNs)
	m.latencyCount.Add(1)
}

// RecordError records a failed command. Failed commands are always rolled back.
func (m *Metrics) RecordError() {
	m.errorsTotal.Add(1)
	m.rollbacksTotal.Add(1)
}

// RecordFills records executed buckets.
func (m *Metrics) RecordFills(n int) {
	if n > 0 {
		m.bucketsFilled.Add(uint64(n))
	}
}

func (m *Metrics) RecordPlacement()  { m.ordersPlaced.Add(1) }
func (m *Metrics) RecordCancel()     { m.ordersCancelled.Add(1) }
func (m *Metrics) RecordRedemption() { m.claimsRedeemed.Add(1) }

// IncrementConnections increments active connections by 1.
func (m *Metrics) IncrementConnections() {
	m.activeConnections.Add(1)
}

// DecrementConnections decrements active connections by 1.
func (m *Metrics) DecrementConnections() {
	m.activeConnections.Add(-1)
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	CommandsProcessed uint64
	BucketsFilled     uint64
	OrdersPlaced      uint64
	OrdersCancelled   uint64
	ClaimsRedeemed    uint64
	ErrorsTotal       uint64
	RollbacksTotal    uint64
	AvgLatencyNs      int64
	ActiveConnections int32
	Timestamp         time.Time
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var avgLatency int64
	count := m.latencyCount.Load()
	if count > 0 {
		avgLatency = m.latencySumNs.Load() / int64(count)
	}

	return MetricsSnapshot{
		CommandsProcessed: m.commandsProcessed.Load(),
		BucketsFilled:     m.bucketsFilled.Load(),
		OrdersPlaced:      m.ordersPlaced.Load(),
		OrdersCancelled:   m.ordersCancelled.Load(),
		ClaimsRedeemed:    m.claimsRedeemed.Load(),
		ErrorsTotal:       m.errorsTotal.Load(),
		RollbacksTotal:    m.rollbacksTotal.Load(),
		AvgLatencyNs:      avgLatency,
		ActiveConnections: m.activeConnections.Load(),
		Timestamp:         time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	m.commandsProcessed.Store(0)
	m.bucketsFilled.Store(0)
	m.ordersPlaced.Store(0)
	m.ordersCancelled.Store(0)
	m.claimsRedeemed.Store(0)
	m.errorsTotal.Store(0)
	m.rollbacksTotal.Store(0)
	m.latencySumNs.Store(0)
	m.latencyCount.Store(0)
	m.activeConnections.Store(0)
}
