package backtest

import (
	"context"
	"fmt"
	"log/slog"

	"limit_go/internal/engine"
	"limit_go/internal/event"
)

// EventSource reads logged commands.
type EventSource interface {
	LoadEvents(ctx context.Context, after uint64) ([]event.Event, error)
}

// Stats summarizes a replay.
type Stats struct {
	Events   int
	Fills    int
	Rejected int
	LastSeq  uint64
}

// Replayer reads the command log and feeds it into a Sequencer.
type Replayer struct {
	source  EventSource
	prepare func(event.Event) error
	logger  *slog.Logger
}

// NewReplayer creates a new replayer instance. prepare, when set, runs before
// every command, e.g. to mirror host prices into paper pools.
func NewReplayer(source EventSource, prepare func(event.Event) error, logger *slog.Logger) *Replayer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Replayer{source: source, prepare: prepare, logger: logger}
}

// RunReplay replays every command with seq > after. The sequencer must not be
// running and must expect after+1 next.
func (r *Replayer) RunReplay(ctx context.Context, after uint64, seq *engine.Sequencer) (Stats, error) {
	events, err := r.source.LoadEvents(ctx, after)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to load events: %w", err)
	}

	stats := Stats{LastSeq: after}
	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if r.prepare != nil {
			if err := r.prepare(ev); err != nil {
				return stats, fmt.Errorf("prepare event %d: %w", ev.GetSeq(), err)
			}
		}

		// Synchronous for deterministic replay.
		res := seq.ReplayEvent(ctx, ev)
		stats.Events++
		stats.Fills += len(res.Report.Fills)
		stats.LastSeq = ev.GetSeq()
		if res.Err != nil {
			stats.Rejected++
			r.logger.Debug("Replayed command rejected",
				slog.Uint64("seq", ev.GetSeq()),
				slog.String("type", ev.GetType().String()),
				slog.Any("error", res.Err),
			)
		}
	}

	r.logger.Info("Replay completed",
		slog.Int("events", stats.Events),
		slog.Int("fills", stats.Fills),
		slog.Int("rejected", stats.Rejected),
		slog.Uint64("last_seq", stats.LastSeq),
	)
	return stats, nil
}
