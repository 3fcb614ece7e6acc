package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"limit_go/internal/domain"
	"limit_go/internal/engine"
	"limit_go/internal/event"
	"limit_go/internal/execution"
	"limit_go/internal/infra"
	"limit_go/internal/service"
	"limit_go/pkg/quant"
)

const (
	authority domain.Account = "pool-host"
	custody   domain.Account = "limit-engine"
)

type order struct {
	holder domain.Account
	tick   quant.Tick
	dir    domain.Direction
	amount int64
}

func main() {
	policyName := flag.String("policy", "continue", "scan policy: continue | stop")
	depth := flag.Int64("depth", 50, "input units per tick of price impact")
	level := flag.String("log", "info", "log level")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: infra.ParseLevel(*level)}))
	slog.SetDefault(logger)

	policy, err := engine.ParseScanPolicy(*policyName)
	if err != nil {
		logger.Error("❌ Invalid policy", slog.Any("error", err))
		os.Exit(1)
	}

	key := domain.PoolKey{AssetA: "ETH", AssetB: "USDC", BucketWidth: 60}

	// 1. Paper host
	bank := execution.NewPaperBank()
	for _, who := range []domain.Account{"alice", "bob"} {
		bank.Deposit(who, key.AssetA, 10_000)
		bank.Deposit(who, key.AssetB, 10_000)
	}
	pool := execution.NewPaperPool(*depth).WithBank(bank, custody).WithLogger(logger)
	if err := pool.Initialize(key, 0); err != nil {
		logger.Error("❌ Pool setup failed", slog.Any("error", err))
		os.Exit(1)
	}

	// 2. Engine + sequencer
	cfg := engine.Config{Authority: authority, Custody: custody, Policy: policy, Tolerance: domain.AnyPrice}
	eng, err := engine.New(cfg, pool, bank, engine.WithLogger(logger))
	if err != nil {
		logger.Error("❌ Engine setup failed", slog.Any("error", err))
		os.Exit(1)
	}
	books := service.NewBookService()
	metrics := infra.GlobalMetrics
	seq := engine.NewSequencer(256, eng,
		engine.WithRecorder(metrics),
		engine.WithStateHook(books.Update),
		engine.WithDumpFile(filepath.Join(os.TempDir(), "limit_sim_dump.json")),
	)

	ctx, cancel := context.WithCancel(context.Background())
	go seq.Run(ctx)

	// 3. Host notifications: every price change, including the engine's own
	// swaps, is reported back as the pool authority.
	var pending sync.WaitGroup
	notes := make(chan quant.Tick, 1024)
	pool.SetObserver(func(k domain.PoolKey, tick quant.Tick) {
		pending.Add(1)
		notes <- tick
	})
	go func() {
		for tick := range notes {
			ev := event.AcquirePriceUpdateEvent()
			ev.Caller, ev.Key, ev.Tick = authority, key, tick
			res := seq.Submit(ctx, ev)
			event.ReleasePriceUpdateEvent(ev)
			if res.Err != nil {
				logger.Warn("Price update rejected", slog.Any("error", res.Err))
			} else if len(res.Report.Fills) > 0 {
				logger.Info("🎯 Buckets filled", slog.Int64("tick", int64(tick)), slog.Int("fills", len(res.Report.Fills)))
			}
			pending.Done()
		}
	}()

	submit := func(ev event.Event) engine.Result {
		res := seq.Submit(ctx, ev)
		if res.Err != nil {
			logger.Warn("Command rejected", slog.String("type", ev.GetType().String()), slog.Any("error", res.Err))
		}
		return res
	}

	submit(&event.PoolInitializedEvent{Caller: authority, Key: key, Tick: 0})

	// 4. Orders
	shares := make(map[domain.PositionID]map[domain.Account]int64)
	for _, o := range []order{
		{"alice", 125, domain.SellA, 500},
		{"bob", 130, domain.SellA, 250},
		{"alice", 250, domain.SellA, 400},
		{"bob", -130, domain.SellB, 1_000},
	} {
		res := submit(&event.PlaceOrderEvent{Key: key, Tick: o.tick, Direction: o.dir, Amount: o.amount, Holder: o.holder})
		if res.Err != nil {
			continue
		}
		id := res.Placement.Position
		if shares[id] == nil {
			shares[id] = make(map[domain.Account]int64)
		}
		shares[id][o.holder] += o.amount
	}

	// 5. Other traders move the price up, then down.
	for _, tick := range []quant.Tick{320, -240} {
		logger.Info("📈 Market moves", slog.Int64("tick", int64(tick)))
		if err := pool.SetPrice(key.ID(), tick); err != nil {
			logger.Error("SetPrice failed", slog.Any("error", err))
		}
		pending.Wait()
	}

	// 6. Everyone redeems their claims.
	book, _ := books.Get(key.ID())
	for _, l := range book.Levels {
		if !l.Filled {
			continue
		}
		for h, amount := range shares[l.Position] {
			res := submit(&event.RedeemEvent{Position: l.Position, Amount: amount, Holder: h, Destination: h})
			if res.Err == nil {
				logger.Info("💰 Claim redeemed", slog.String("holder", string(h)), slog.Int64("bucket", int64(l.Bucket)), slog.Int64("payout", res.Amount))
			}
		}
	}

	cancel()
	<-seq.Done()
	close(notes)

	m := metrics.Snapshot()
	fmt.Printf("\ncommands=%d fills=%d placements=%d redemptions=%d errors=%d\n",
		m.CommandsProcessed, m.BucketsFilled, m.OrdersPlaced, m.ClaimsRedeemed, m.ErrorsTotal)
	for _, who := range []domain.Account{"alice", "bob"} {
		fmt.Printf("%-6s ETH=%d USDC=%d\n", who, bank.Balance(who, key.AssetA), bank.Balance(who, key.AssetB))
	}
	for _, s := range books.Summarize() {
		fmt.Printf("%s price=%s pendingA=%d pendingB=%d claimableA=%d claimableB=%d\n",
			s.Pair, s.CursorPrice.StringFixed(4), s.PendingA, s.PendingB, s.ClaimableA, s.ClaimableB)
	}
}
