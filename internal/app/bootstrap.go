package app

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"limit_go/backtest"
	"limit_go/internal/domain"
	"limit_go/internal/engine"
	"limit_go/internal/event"
	"limit_go/internal/execution"
	"limit_go/internal/infra"
	"limit_go/internal/infra/feed"
	"limit_go/internal/infra/storage"
	"limit_go/internal/service"
	"limit_go/pkg/quant"
)

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config    *infra.Config
	Logger    *slog.Logger
	Storage   *storage.Storage
	Metrics   *infra.Metrics
	Books     *service.BookService
	Bank      *execution.PaperBank
	Market    *execution.PaperPool
	Engine    *engine.Engine
	Sequencer *engine.Sequencer

	feed *feed.Worker
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize loads the config file and assembles the node.
func (b *Bootstrap) Initialize(ctx context.Context, configPath string) error {
	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return err // Let main handle the error
	}

	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)
	return b.InitializeWith(ctx, cfg, logger)
}

// InitializeWith assembles the node from an already loaded config:
// storage, paper market, engine, recovery and the sequencer.
func (b *Bootstrap) InitializeWith(ctx context.Context, cfg *infra.Config, logger *slog.Logger) error {
	b.Config = cfg
	b.Logger = logger
	logger.Info("🚀 Bootstrapping limit engine...", slog.String("version", cfg.App.Version))

	// 1. Storage (DB)
	store, err := storage.NewStorage(cfg.Storage.Path)
	if err != nil {
		return err
	}
	b.Storage = store
	logger.Info("✅ Database initialized", slog.String("path", cfg.Storage.Path))

	// 2. Paper host mirror
	b.Bank = execution.NewPaperBank()
	for account, assets := range cfg.Paper.Balances {
		for asset, amount := range assets {
			b.Bank.Deposit(domain.Account(account), domain.Asset(asset), amount)
		}
	}
	engineCfg, err := cfg.EngineConfig()
	if err != nil {
		return err
	}
	b.Market = execution.NewPaperPool(cfg.Paper.Depth).WithBank(b.Bank, engineCfg.Custody).WithLogger(logger)

	// 3. Engine
	if engineCfg.Tolerance.IsUnbounded() {
		logger.Warn("⚠️ Fulfillment swaps accept any price (price_tolerance: none)")
	}
	b.Engine, err = engine.New(engineCfg, b.Market, b.Bank, engine.WithLogger(logger))
	if err != nil {
		return err
	}

	// 4. Sequencer
	b.Metrics = infra.GlobalMetrics
	b.Books = service.NewBookService()
	b.Sequencer = engine.NewSequencer(cfg.Sequencer.InboxSize, b.Engine,
		engine.WithEventLog(store),
		engine.WithFillLog(store),
		engine.WithSnapshots(store, cfg.Storage.SnapshotEvery),
		engine.WithRecorder(b.Metrics),
		engine.WithStateHook(b.Books.Update),
		engine.WithMaxResumes(cfg.Sequencer.MaxResumes),
		engine.WithDumpFile(filepath.Join(filepath.Dir(cfg.Storage.Path), "panic_dump.json")),
	)

	// 5. Recovery
	if err := b.recover(ctx); err != nil {
		return fmt.Errorf("recovery failed: %w", err)
	}

	// 6. Feed
	if cfg.Feed.URL != "" {
		keys := make([]domain.PoolKey, 0, len(cfg.Feed.Pools))
		for _, p := range cfg.Feed.Pools {
			keys = append(keys, p.Key())
		}
		b.feed = feed.NewWorker(cfg.Feed.URL, engineCfg.Authority, b,
			feed.WithPools(keys...),
			feed.WithConnTracker(b.Metrics),
			feed.WithLogger(logger),
		)
	}
	return nil
}

// recover restores the last snapshot and replays the command log after it.
func (b *Bootstrap) recover(ctx context.Context) error {
	var after uint64
	snap, err := b.Storage.LoadSnapshot(ctx)
	if err != nil {
		return err
	}
	if snap != nil {
		if err := b.Engine.Restore(snap); err != nil {
			return err
		}
		b.seedPaper(snap)
		after = snap.Seq
	}
	b.Sequencer.SetNextSeq(after + 1)

	stats, err := backtest.NewReplayer(b.Storage, b.Market.Mirror, b.Logger).RunReplay(ctx, after, b.Sequencer)
	if err != nil {
		return err
	}

	for _, id := range b.Engine.Pools() {
		if book, err := b.Engine.Book(id); err == nil {
			b.Books.Update(book)
		}
	}
	b.Logger.Info("✅ State recovered",
		slog.Uint64("snapshot_seq", after),
		slog.Int("replayed", stats.Events),
		slog.Uint64("next_seq", b.Sequencer.NextSeq()),
	)
	return nil
}

// seedPaper recreates the paper pools at their cursors and funds custody
// with the restored balances.
func (b *Bootstrap) seedPaper(snap *domain.LedgerSnapshot) {
	cursors := make(map[domain.PoolID]quant.Tick, len(snap.Cursors))
	for _, c := range snap.Cursors {
		cursors[c.Pool] = c.Bucket
	}
	for _, key := range snap.Pools {
		if err := b.Market.Initialize(key, cursors[key.ID()]); err != nil {
			b.Logger.Warn("Failed to mirror pool", slog.String("pool", key.ID().Short()), slog.Any("error", err))
		}
	}
	custody := domain.Account(b.Config.Engine.Custody)
	for _, bal := range snap.Custody {
		b.Bank.Deposit(custody, bal.Asset, bal.Amount)
	}
}

// Submit mirrors host prices into the paper pools, then sequences the command.
func (b *Bootstrap) Submit(ctx context.Context, ev event.Event) engine.Result {
	if err := b.Market.Mirror(ev); err != nil {
		return engine.Result{Err: err}
	}
	return b.Sequencer.Submit(ctx, ev)
}

// Run starts the sequencer and the feed and blocks until ctx is done and the
// sequencer has saved its final snapshot.
func (b *Bootstrap) Run(ctx context.Context) {
	go b.Sequencer.Run(ctx)
	b.Logger.InfoContext(ctx, "✅ Sequencer started")

	if b.feed != nil {
		b.feed.Start(ctx)
		defer b.feed.Stop()
		b.Logger.InfoContext(ctx, "✅ Feed worker started", slog.String("url", b.Config.Feed.URL))
	}

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-b.Sequencer.Done():
			return
		case <-ticker.C:
			b.logStatus()
		}
	}
}

func (b *Bootstrap) logStatus() {
	m := b.Metrics.Snapshot()
	b.Logger.Info("📊 Engine status",
		slog.Uint64("commands", m.CommandsProcessed),
		slog.Uint64("fills", m.BucketsFilled),
		slog.Uint64("errors", m.ErrorsTotal),
		slog.Int64("avg_latency_ns", m.AvgLatencyNs),
		slog.Int("connections", int(m.ActiveConnections)),
	)
	for _, s := range b.Books.Summarize() {
		b.Logger.Info("📖 Pool",
			slog.String("pair", s.Pair),
			slog.String("price", s.CursorPrice.StringFixed(6)),
			slog.Int64("pending_a", s.PendingA),
			slog.Int64("pending_b", s.PendingB),
			slog.Int("open_positions", s.OpenPositions),
		)
	}
}

// Close releases storage.
func (b *Bootstrap) Close() error {
	if b.Storage == nil {
		return nil
	}
	return b.Storage.Close()
}
