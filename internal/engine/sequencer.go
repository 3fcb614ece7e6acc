package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"limit_go/internal/domain"
	"limit_go/internal/event"
	"limit_go/pkg/quant"
)

// ErrSequencerStopped is returned by Submit once the loop has exited.
var ErrSequencerStopped = errors.New("sequencer stopped")

// EventLog is the write-ahead command log.
type EventLog interface {
	AppendEvent(ctx context.Context, ev event.Event) error
}

// FillLog records executed buckets.
type FillLog interface {
	AppendFills(ctx context.Context, seq uint64, fills []Fill) error
}

// SnapshotStore persists ledger snapshots.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snap *domain.LedgerSnapshot) error
}

// Recorder receives command metrics.
type Recorder interface {
	RecordCommand(latencyNs int64)
	RecordError()
	RecordFills(n int)
	RecordPlacement()
	RecordCancel()
	RecordRedemption()
}

// Result is the reply to a submitted command.
type Result struct {
	Seq       uint64
	Report    ScanReport // Price updates
	Placement Placement  // Placements
	Amount    int64      // Refund or payout
	Err       error
}

type envelope struct {
	ev    event.Event
	reply chan Result
}

// Sequencer is the single goroutine that owns the engine. Every command is
// stamped with a gap-free sequence number, logged, then applied.
type Sequencer struct {
	inbox   chan envelope
	done    chan struct{}
	engine  *Engine
	nextSeq uint64

	log        EventLog
	fills      FillLog
	snapshots  SnapshotStore
	snapEvery  uint64
	recorder   Recorder
	maxResumes int
	dumpFile   string

	// Boundary: used to notify readers of book changes
	onStateUpdate func(PoolBook)

	logger *slog.Logger
}

// SequencerOption configures a Sequencer.
type SequencerOption func(*Sequencer)

// WithEventLog enables WAL-first logging of every command.
func WithEventLog(log EventLog) SequencerOption {
	return func(s *Sequencer) { s.log = log }
}

// WithFillLog records every fill after its command commits.
func WithFillLog(fills FillLog) SequencerOption {
	return func(s *Sequencer) { s.fills = fills }
}

// WithSnapshots saves a snapshot every `every` commands and on shutdown.
func WithSnapshots(store SnapshotStore, every uint64) SequencerOption {
	return func(s *Sequencer) {
		s.snapshots = store
		s.snapEvery = every
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) SequencerOption {
	return func(s *Sequencer) { s.recorder = r }
}

// WithStateHook is called from the loop goroutine after a pool changed.
func WithStateHook(fn func(PoolBook)) SequencerOption {
	return func(s *Sequencer) { s.onStateUpdate = fn }
}

// WithMaxResumes bounds how often a stopped scan is resumed per price update.
func WithMaxResumes(n int) SequencerOption {
	return func(s *Sequencer) { s.maxResumes = n }
}

// WithDumpFile sets where the state is dumped on a panic.
func WithDumpFile(name string) SequencerOption {
	return func(s *Sequencer) { s.dumpFile = name }
}

// NewSequencer creates a new sequencer instance.
func NewSequencer(inboxSize int, eng *Engine, opts ...SequencerOption) *Sequencer {
	s := &Sequencer{
		inbox:      make(chan envelope, inboxSize),
		done:       make(chan struct{}),
		engine:     eng,
		nextSeq:    1,
		maxResumes: 16,
		dumpFile:   "panic_dump.json",
		logger:     eng.logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetNextSeq positions the sequence after a restore. Call before Run.
func (s *Sequencer) SetNextSeq(seq uint64) {
	s.nextSeq = seq
}

// NextSeq returns the sequence number the next command will get.
// Only safe before Run or after it returned.
func (s *Sequencer) NextSeq() uint64 {
	return s.nextSeq
}

// Done is closed once Run has returned.
func (s *Sequencer) Done() <-chan struct{} {
	return s.done
}

// Submit queues a command and waits for its result.
func (s *Sequencer) Submit(ctx context.Context, ev event.Event) Result {
	env := envelope{ev: ev, reply: make(chan Result, 1)}

	select {
	case s.inbox <- env:
	case <-ctx.Done():
		return Result{Err: ctx.Err()}
	case <-s.done:
		return Result{Err: ErrSequencerStopped}
	}

	select {
	case r := <-env.reply:
		return r
	case <-ctx.Done():
		return Result{Err: ctx.Err()}
	case <-s.done:
		return Result{Err: ErrSequencerStopped}
	}
}

// Run starts the main event loop. This MUST be run in a single goroutine.
func (s *Sequencer) Run(ctx context.Context) {
	s.logger.Info("Sequencer started", slog.Uint64("next_seq", s.nextSeq))

	defer close(s.done)
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("CRITICAL_PANIC_DETECTED", slog.Any("panic", r))
			s.engine.DumpState(s.dumpFile)
			// Halt after dump.
			panic(fmt.Sprintf("HALTED: %v", r))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Sequencer stopping...")
			s.saveSnapshot(context.Background())
			return
		case env := <-s.inbox:
			env.reply <- s.process(ctx, env.ev)
		}
	}
}

func (s *Sequencer) process(ctx context.Context, ev event.Event) Result {
	start := time.Now()

	// 1. Sequence stamping (Halt Policy on gaps)
	switch ev.GetSeq() {
	case 0:
		ev.Stamp(s.nextSeq, quant.TimeStamp(start.UnixMicro()))
	case s.nextSeq:
	default:
		panic(fmt.Sprintf("SEQUENCE_GAP_DETECTED: expected %d, got %d", s.nextSeq, ev.GetSeq()))
	}

	// 2. WAL-first: Persistence
	if s.log != nil {
		if err := s.log.AppendEvent(ctx, ev); err != nil {
			panic(fmt.Sprintf("PERSISTENCE_FAILURE: %v", err))
		}
	}

	// 3. Logic Dispatch
	res, pool, ok := s.dispatch(ctx, ev)
	res.Seq = ev.GetSeq()

	// 4. Increment Sequence
	s.nextSeq++

	s.afterCommand(ctx, ev, res, pool, ok, time.Since(start))
	if s.snapEvery > 0 && res.Seq%s.snapEvery == 0 {
		s.saveSnapshot(ctx)
	}
	return res
}

// ReplayEvent applies a logged command without writing it to the WAL.
func (s *Sequencer) ReplayEvent(ctx context.Context, ev event.Event) Result {
	// Replay must still respect sequence order
	if ev.GetSeq() != s.nextSeq {
		panic(fmt.Sprintf("REPLAY_GAP_DETECTED: expected %d, got %d", s.nextSeq, ev.GetSeq()))
	}

	res, _, _ := s.dispatch(ctx, ev)
	res.Seq = ev.GetSeq()
	s.nextSeq++
	return res
}

// dispatch applies ev to the engine and returns the pool it touched.
func (s *Sequencer) dispatch(ctx context.Context, ev event.Event) (Result, domain.PoolID, bool) {
	var res Result

	switch e := ev.(type) {
	case *event.PoolInitializedEvent:
		res.Err = s.engine.OnPoolInitialized(ctx, e.Caller, e.Key, e.Tick)
		return res, e.Key.ID(), true

	case *event.PriceUpdateEvent:
		res.Report, res.Err = s.engine.OnPriceUpdate(ctx, e.Caller, e.Key, e.Tick)
		for resumes := 0; res.Err == nil && res.Report.Resume && resumes < s.maxResumes; resumes++ {
			next, err := s.engine.Rescan(ctx, e.Caller, e.Key)
			if err != nil {
				// Earlier rounds are committed; report what they did.
				s.logger.Warn("Scan resume failed", slog.String("pool", e.Key.ID().Short()), slog.Any("error", err))
				break
			}
			res.Report.Fills = append(res.Report.Fills, next.Fills...)
			res.Report.To = next.To
			res.Report.Resume = next.Resume
		}
		return res, e.Key.ID(), true

	case *event.PlaceOrderEvent:
		res.Placement, res.Err = s.engine.PlaceOrder(ctx, e.Key, e.Tick, e.Direction, e.Amount, e.Holder)
		res.Amount = e.Amount
		return res, e.Key.ID(), true

	case *event.CancelOrderEvent:
		res.Amount, res.Err = s.engine.CancelOrder(ctx, e.Key, e.Tick, e.Direction, e.Holder)
		return res, e.Key.ID(), true

	case *event.RedeemEvent:
		res.Amount, res.Err = s.engine.Redeem(ctx, e.Position, e.Amount, e.Holder, e.Destination)
		p, ok := s.engine.Position(e.Position)
		return res, p.Pool, ok

	case *event.TransferSharesEvent:
		res.Err = s.engine.TransferShares(ctx, e.Position, e.From, e.To, e.Amount)
		p, ok := s.engine.Position(e.Position)
		return res, p.Pool, ok

	default:
		s.logger.Warn("Unknown event type", slog.Any("type", ev.GetType()))
		res.Err = fmt.Errorf("%w: event type %s", domain.ErrInvalidConfiguration, ev.GetType())
		return res, domain.PoolID{}, false
	}
}

func (s *Sequencer) afterCommand(ctx context.Context, ev event.Event, res Result, pool domain.PoolID, touched bool, elapsed time.Duration) {
	if s.recorder != nil {
		s.recorder.RecordCommand(elapsed.Nanoseconds())
	}

	if res.Err != nil {
		if s.recorder != nil {
			s.recorder.RecordError()
		}
		s.logger.Debug("Command rejected",
			slog.Uint64("seq", ev.GetSeq()),
			slog.String("type", ev.GetType().String()),
			slog.Any("error", res.Err),
		)
		// Fills committed by earlier resume rounds still count.
		if len(res.Report.Fills) == 0 {
			return
		}
	}

	if s.recorder != nil {
		switch ev.GetType() {
		case event.EvPlaceOrder:
			s.recorder.RecordPlacement()
		case event.EvCancelOrder:
			s.recorder.RecordCancel()
		case event.EvRedeem:
			s.recorder.RecordRedemption()
		}
		s.recorder.RecordFills(len(res.Report.Fills))
	}

	if s.fills != nil && len(res.Report.Fills) > 0 {
		if err := s.fills.AppendFills(ctx, ev.GetSeq(), res.Report.Fills); err != nil {
			s.logger.Error("Failed to record fills", slog.Uint64("seq", ev.GetSeq()), slog.Any("error", err))
		}
	}

	if touched && s.onStateUpdate != nil {
		if book, err := s.engine.Book(pool); err == nil {
			s.onStateUpdate(book)
		}
	}
}

func (s *Sequencer) saveSnapshot(ctx context.Context) {
	if s.snapshots == nil {
		return
	}
	snap := s.engine.Snapshot()
	snap.Seq = s.nextSeq - 1
	if err := s.snapshots.SaveSnapshot(ctx, snap); err != nil {
		s.logger.Error("Failed to save snapshot", slog.Uint64("seq", snap.Seq), slog.Any("error", err))
	}
}
