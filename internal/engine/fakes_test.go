package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"limit_go/internal/domain"
	"limit_go/internal/execution"
	"limit_go/pkg/quant"
)

const (
	testAuthority domain.Account = "pool-host"
	testCustody   domain.Account = "engine"
)

var testKey = domain.PoolKey{AssetA: "ETH", AssetB: "USDC", BucketWidth: 60}

var errScripted = errors.New("scripted failure")

// scriptedMarket returns scripted prices and swap results.
type scriptedMarket struct {
	ticks map[domain.PoolID]quant.Tick

	// rate converts input to received output; default doubles it.
	rate func(dir domain.Direction, input int64) domain.SwapResult
	// afterSwap moves the price after each swap when set.
	afterSwap func(pool domain.PoolID, n int, tick quant.Tick) quant.Tick
	// onSwap runs inside ExecuteSwap, e.g. to simulate host re-entry.
	onSwap func()

	swapErr, settleErr, takeErr, priceErr error

	// bank mirrors settled and taken legs on custody balances.
	bank *execution.PaperBank

	swaps   []int64
	settled map[domain.Asset]int64
	taken   map[domain.Asset]int64
}

func newScriptedMarket() *scriptedMarket {
	return &scriptedMarket{
		ticks:   make(map[domain.PoolID]quant.Tick),
		settled: make(map[domain.Asset]int64),
		taken:   make(map[domain.Asset]int64),
	}
}

func (m *scriptedMarket) CurrentPrice(ctx context.Context, pool domain.PoolID) (quant.Tick, error) {
	if m.priceErr != nil {
		return 0, m.priceErr
	}
	return m.ticks[pool], nil
}

func (m *scriptedMarket) ExecuteSwap(ctx context.Context, pool domain.PoolID, dir domain.Direction, input int64, tol domain.PriceTolerance) (domain.SwapResult, error) {
	if m.swapErr != nil {
		return domain.SwapResult{}, m.swapErr
	}
	if m.onSwap != nil {
		m.onSwap()
	}
	m.swaps = append(m.swaps, input)

	res := domain.SwapResult{Owed: input, Received: input * 2}
	if m.rate != nil {
		res = m.rate(dir, input)
	}
	if m.afterSwap != nil {
		m.ticks[pool] = m.afterSwap(pool, len(m.swaps), m.ticks[pool])
	}
	return res, nil
}

func (m *scriptedMarket) Settle(ctx context.Context, pool domain.PoolID, asset domain.Asset, amount int64) error {
	if m.settleErr != nil {
		return m.settleErr
	}
	if m.bank != nil {
		if err := m.bank.Withdraw(testCustody, asset, amount); err != nil {
			return err
		}
	}
	m.settled[asset] += amount
	return nil
}

func (m *scriptedMarket) Take(ctx context.Context, pool domain.PoolID, asset domain.Asset, destination domain.Account, amount int64) error {
	if m.takeErr != nil {
		return m.takeErr
	}
	if m.bank != nil {
		m.bank.Deposit(destination, asset, amount)
	}
	m.taken[asset] += amount
	return nil
}

// failingBank wraps a PaperBank and fails scripted legs.
type failingBank struct {
	*execution.PaperBank
	pullErr, pushErr error
}

func (b *failingBank) Pull(ctx context.Context, asset domain.Asset, from, to domain.Account, amount int64) error {
	if b.pullErr != nil {
		return b.pullErr
	}
	return b.PaperBank.Pull(ctx, asset, from, to, amount)
}

func (b *failingBank) Push(ctx context.Context, asset domain.Asset, from, to domain.Account, amount int64) error {
	if b.pushErr != nil {
		return b.pushErr
	}
	return b.PaperBank.Push(ctx, asset, from, to, amount)
}

type fixture struct {
	engine *Engine
	market *scriptedMarket
	bank   *failingBank
	ctx    context.Context
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T, policy ScanPolicy) *fixture {
	t.Helper()
	market := newScriptedMarket()
	bank := &failingBank{PaperBank: execution.NewPaperBank()}
	bank.Deposit("alice", "ETH", 10_000)
	bank.Deposit("alice", "USDC", 10_000)
	bank.Deposit("bob", "ETH", 10_000)
	bank.Deposit("bob", "USDC", 10_000)
	market.bank = bank.PaperBank

	cfg := Config{Authority: testAuthority, Custody: testCustody, Policy: policy, Tolerance: domain.AnyPrice}
	eng, err := New(cfg, market, bank, WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return &fixture{engine: eng, market: market, bank: bank, ctx: context.Background()}
}

// init registers testKey at tick.
func (f *fixture) init(t *testing.T, tick quant.Tick) {
	t.Helper()
	f.market.ticks[testKey.ID()] = tick
	if err := f.engine.OnPoolInitialized(f.ctx, testAuthority, testKey, tick); err != nil {
		t.Fatalf("OnPoolInitialized failed: %v", err)
	}
}

func (f *fixture) place(t *testing.T, tick quant.Tick, dir domain.Direction, amount int64, holder domain.Account) Placement {
	t.Helper()
	p, err := f.engine.PlaceOrder(f.ctx, testKey, tick, dir, amount, holder)
	if err != nil {
		t.Fatalf("PlaceOrder failed: %v", err)
	}
	return p
}

// move sets the market price and reports it to the engine.
func (f *fixture) move(t *testing.T, tick quant.Tick) ScanReport {
	t.Helper()
	f.market.ticks[testKey.ID()] = tick
	report, err := f.engine.OnPriceUpdate(f.ctx, testAuthority, testKey, tick)
	if err != nil {
		t.Fatalf("OnPriceUpdate failed: %v", err)
	}
	return report
}

func (f *fixture) verify(t *testing.T) {
	t.Helper()
	if err := f.engine.VerifyInvariants(); err != nil {
		t.Fatalf("Invariant violated: %v", err)
	}
}
