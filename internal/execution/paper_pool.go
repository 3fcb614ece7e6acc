package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"limit_go/internal/domain"
	"limit_go/pkg/quant"
	"limit_go/pkg/safe"
)

// ErrPriceLimit is returned when a swap would move the price further than allowed.
var ErrPriceLimit = errors.New("price limit exceeded")

// ErrDust is returned when a swap input is too small to buy one output unit.
var ErrDust = errors.New("swap output below one unit")

// Swap is one simulated pool execution.
type Swap struct {
	Pool      domain.PoolID
	Direction domain.Direction
	Input     int64
	Output    int64
	FromTick  quant.Tick
	ToTick    quant.Tick
}

type paperState struct {
	key  domain.PoolKey
	tick quant.Tick
	owed map[domain.Asset]int64 // Input the engine still has to settle
	due  map[domain.Asset]int64 // Output the engine may still take
}

// PaperPool simulates the external liquidity pools behind domain.Market.
// The price of asset A in asset B is 1.0001^tick; every `depth` units of
// input move the price by one tick against the seller.
type PaperPool struct {
	pools map[domain.PoolID]*paperState
	depth int64
	swaps []Swap

	// Optional settlement against a PaperBank: settled input leaves
	// custody, taken output is credited to the destination.
	bank    *PaperBank
	custody domain.Account

	observer func(key domain.PoolKey, tick quant.Tick)
	logger   *slog.Logger
	mu       sync.Mutex
}

// NewPaperPool creates a simulator where depth input units move the price one tick.
func NewPaperPool(depth int64) *PaperPool {
	if depth <= 0 {
		depth = 1
	}
	return &PaperPool{
		pools:  make(map[domain.PoolID]*paperState),
		depth:  depth,
		logger: slog.Default(),
	}
}

// WithLogger sets the logger used for swap records.
func (p *PaperPool) WithLogger(logger *slog.Logger) *PaperPool {
	p.logger = logger
	return p
}

// WithBank settles swaps against bank balances of the custody account.
func (p *PaperPool) WithBank(bank *PaperBank, custody domain.Account) *PaperPool {
	p.bank = bank
	p.custody = custody
	return p
}

// SetObserver registers a callback fired after every price change, like the
// pool host notifying its hooks. It is called without the pool lock held.
func (p *PaperPool) SetObserver(fn func(key domain.PoolKey, tick quant.Tick)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observer = fn
}

// Initialize creates a pool at a starting tick.
func (p *PaperPool) Initialize(key domain.PoolKey, tick quant.Tick) error {
	if err := key.Validate(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	id := key.ID()
	if _, ok := p.pools[id]; ok {
		return fmt.Errorf("pool %s already initialized", id.Short())
	}
	p.pools[id] = &paperState{
		key:  key,
		tick: tick,
		owed: make(map[domain.Asset]int64),
		due:  make(map[domain.Asset]int64),
	}
	return nil
}

func (p *PaperPool) known(pool domain.PoolID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.pools[pool]
	return ok
}

// SetPrice moves a pool price (another trader swapping) and notifies the observer.
func (p *PaperPool) SetPrice(pool domain.PoolID, tick quant.Tick) error {
	p.mu.Lock()
	st, ok := p.pools[pool]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", domain.ErrUnknownPool, pool.Short())
	}
	st.tick = tick
	key, observer := st.key, p.observer
	p.mu.Unlock()

	if observer != nil {
		observer(key, tick)
	}
	return nil
}

func (p *PaperPool) CurrentPrice(ctx context.Context, pool domain.PoolID) (quant.Tick, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.pools[pool]
	if !ok {
		return 0, fmt.Errorf("%w: %s", domain.ErrUnknownPool, pool.Short())
	}
	return st.tick, nil
}

// ExecuteSwap sells the whole input at the current price and moves the
// price by input/depth ticks. Bounded tolerances reject larger moves.
func (p *PaperPool) ExecuteSwap(ctx context.Context, pool domain.PoolID, dir domain.Direction, input int64, tol domain.PriceTolerance) (domain.SwapResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.SwapResult{}, err
	}
	if input <= 0 {
		return domain.SwapResult{}, fmt.Errorf("swap input must be positive, got %d", input)
	}

	p.mu.Lock()
	st, ok := p.pools[pool]
	if !ok {
		p.mu.Unlock()
		return domain.SwapResult{}, fmt.Errorf("%w: %s", domain.ErrUnknownPool, pool.Short())
	}

	move := input / p.depth
	if tol.Bounded && move > tol.MaxTicks {
		p.mu.Unlock()
		return domain.SwapResult{}, fmt.Errorf("%w: move %d ticks, max %d", ErrPriceLimit, move, tol.MaxTicks)
	}

	price := st.tick.Price()
	amount := decimal.NewFromInt(input)
	var quote decimal.Decimal
	if dir == domain.SellA {
		quote = amount.Mul(price).Floor()
	} else {
		quote = amount.Div(price).Floor()
	}
	if !quote.BigInt().IsInt64() {
		p.mu.Unlock()
		return domain.SwapResult{}, fmt.Errorf("swap output %s overflows int64", quote.String())
	}
	output := quote.IntPart()
	if output == 0 {
		p.mu.Unlock()
		return domain.SwapResult{}, fmt.Errorf("%w: input %d rounds to zero output", ErrDust, input)
	}

	from := st.tick
	if dir == domain.SellA {
		st.tick = quant.Tick(safe.SafeSub(int64(st.tick), move))
	} else {
		st.tick = quant.Tick(safe.SafeAdd(int64(st.tick), move))
	}

	in, out := dir.InputAsset(st.key), dir.OutputAsset(st.key)
	st.owed[in] = safe.SafeAdd(st.owed[in], input)
	st.due[out] = safe.SafeAdd(st.due[out], output)

	p.swaps = append(p.swaps, Swap{
		Pool:      pool,
		Direction: dir,
		Input:     input,
		Output:    output,
		FromTick:  from,
		ToTick:    st.tick,
	})
	key, tick, observer := st.key, st.tick, p.observer
	p.mu.Unlock()

	p.logger.Info("PAPER POOL: Swap executed",
		slog.String("pool", pool.Short()),
		slog.String("direction", dir.String()),
		slog.Int64("input", input),
		slog.Int64("output", output),
		slog.Int64("from_tick", int64(from)),
		slog.Int64("to_tick", int64(tick)))

	if observer != nil && tick != from {
		observer(key, tick)
	}
	return domain.SwapResult{Owed: input, Received: output}, nil
}

func (p *PaperPool) Settle(ctx context.Context, pool domain.PoolID, asset domain.Asset, amount int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.pools[pool]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownPool, pool.Short())
	}
	if amount <= 0 || amount > st.owed[asset] {
		return fmt.Errorf("settle %d %s, owed %d", amount, asset, st.owed[asset])
	}
	if p.bank != nil {
		if err := p.bank.Withdraw(p.custody, asset, amount); err != nil {
			return err
		}
	}
	st.owed[asset] = safe.SafeSub(st.owed[asset], amount)
	return nil
}

func (p *PaperPool) Take(ctx context.Context, pool domain.PoolID, asset domain.Asset, destination domain.Account, amount int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.pools[pool]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownPool, pool.Short())
	}
	if amount <= 0 || amount > st.due[asset] {
		return fmt.Errorf("take %d %s, due %d", amount, asset, st.due[asset])
	}
	if p.bank != nil {
		p.bank.Deposit(destination, asset, amount)
	}
	st.due[asset] = safe.SafeSub(st.due[asset], amount)
	return nil
}

// Outstanding returns the unsettled input and untaken output of a pool asset.
func (p *PaperPool) Outstanding(pool domain.PoolID, asset domain.Asset) (owed, due int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.pools[pool]
	if !ok {
		return 0, 0
	}
	return st.owed[asset], st.due[asset]
}

// Swaps returns all executed swaps.
func (p *PaperPool) Swaps() []Swap {
	p.mu.Lock()
	defer p.mu.Unlock()
	result := make([]Swap, len(p.swaps))
	copy(result, p.swaps)
	return result
}
