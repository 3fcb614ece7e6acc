package event

import (
	"sync"
)

// priceUpdatePool recycles PriceUpdateEvent allocations on the feed hot path.
//
// Usage:
//
//	ev := AcquirePriceUpdateEvent()
//	ev.Key = key
//	// ... submit and wait for the result ...
//	ReleasePriceUpdateEvent(ev)
var priceUpdatePool = sync.Pool{
	New: func() interface{} {
		return &PriceUpdateEvent{}
	},
}

// AcquirePriceUpdateEvent gets a PriceUpdateEvent from the pool.
// The returned event has zero values and must be initialized.
func AcquirePriceUpdateEvent() *PriceUpdateEvent {
	return priceUpdatePool.Get().(*PriceUpdateEvent)
}

// ReleasePriceUpdateEvent returns a PriceUpdateEvent to the pool.
// The event is reset to zero values before being pooled.
func ReleasePriceUpdateEvent(ev *PriceUpdateEvent) {
	if ev == nil {
		return
	}
	*ev = PriceUpdateEvent{}
	priceUpdatePool.Put(ev)
}

// Warmup pre-allocates event objects to reduce GC pressure at startup.
func Warmup() {
	const batchSize = 1000

	evs := make([]*PriceUpdateEvent, 0, batchSize)
	for i := 0; i < batchSize; i++ {
		evs = append(evs, AcquirePriceUpdateEvent())
	}
	for _, ev := range evs {
		ReleasePriceUpdateEvent(ev)
	}
}
