package engine

import (
	"context"
	"testing"

	"limit_go/internal/event"
	"limit_go/pkg/quant"
)

// BenchmarkSequencer_PriceUpdate measures the no-fill price update hot path.
func BenchmarkSequencer_PriceUpdate(b *testing.B) {
	market := newScriptedMarket()
	bank := &failingBank{}
	eng, _ := New(Config{Authority: testAuthority, Custody: testCustody}, market, bank, WithLogger(quietLogger()))
	seq := NewSequencer(1000, eng)
	ctx := context.Background()

	eng.OnPoolInitialized(ctx, testAuthority, testKey, 0)
	ev := event.AcquirePriceUpdateEvent()

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		ev.BaseEvent = event.BaseEvent{}
		ev.Caller = testAuthority
		ev.Key = testKey
		ev.Tick = quant.Tick(i % 600)
		seq.process(ctx, ev)
	}

	event.ReleasePriceUpdateEvent(ev)
}

// BenchmarkSequencer_FullPipeline measures end-to-end command processing.
// Note: This benchmark includes channel overhead.
func BenchmarkSequencer_FullPipeline(b *testing.B) {
	eng, _ := New(Config{Authority: testAuthority, Custody: testCustody}, newScriptedMarket(), &failingBank{}, WithLogger(quietLogger()))
	seq := NewSequencer(1000, eng)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go seq.Run(ctx)

	seq.Submit(ctx, &event.PoolInitializedEvent{Caller: testAuthority, Key: testKey, Tick: 0})

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		seq.Submit(ctx, &event.PriceUpdateEvent{Caller: testAuthority, Key: testKey, Tick: quant.Tick(i % 600)})
	}
}
