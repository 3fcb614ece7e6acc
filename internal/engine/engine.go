package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"limit_go/internal/domain"
	"limit_go/pkg/quant"
	"limit_go/pkg/safe"
)

// ScanPolicy decides what a price update does after a bucket fills.
// The two policies differ in the number of external calls per update.
type ScanPolicy int

const (
	// ScanContinue re-reads the price after a fill and keeps walking toward
	// the new current bucket within the same call.
	ScanContinue ScanPolicy = iota
	// ScanStopAfterFirstFill returns after a fill with the cursor on the
	// next unvisited bucket and Resume set; the caller rescans.
	ScanStopAfterFirstFill
)

func (p ScanPolicy) String() string {
	switch p {
	case ScanContinue:
		return "continue"
	case ScanStopAfterFirstFill:
		return "stop"
	default:
		return fmt.Sprintf("ScanPolicy(%d)", int(p))
	}
}

// ParseScanPolicy converts a config value into a ScanPolicy.
func ParseScanPolicy(s string) (ScanPolicy, error) {
	switch s {
	case "", "continue":
		return ScanContinue, nil
	case "stop":
		return ScanStopAfterFirstFill, nil
	}
	return 0, fmt.Errorf("%w: scan policy %q", domain.ErrInvalidConfiguration, s)
}

// Config holds the engine parameters.
type Config struct {
	// Authority is the only caller allowed on pool lifecycle entry points.
	Authority domain.Account
	// Custody is the engine's own account, shared across all pools.
	Custody   domain.Account
	Policy    ScanPolicy
	Tolerance domain.PriceTolerance
}

// Engine is the conditional order ledger and fulfillment engine.
// It is single-threaded: callers serialize operations (see Sequencer).
type Engine struct {
	cfg      Config
	market   domain.Market
	transfer domain.Transfer

	journal  *domain.Journal
	pools    map[domain.PoolID]domain.PoolKey
	cursors  domain.CursorStore
	ledger   *domain.OrderLedger
	registry *domain.PositionRegistry
	custody  *domain.BalanceBook

	inTx   bool
	logger *slog.Logger
	now    func() time.Time
}

// Option configures optional collaborators.
type Option func(*Engine)

// WithShareLedger replaces the in-memory share book.
func WithShareLedger(shares domain.ShareLedger) Option {
	return func(e *Engine) {
		e.registry = domain.NewPositionRegistry(shares, e.journal)
	}
}

// WithCursorStore replaces the in-memory LastObservedBucket store.
func WithCursorStore(store domain.CursorStore) Option {
	return func(e *Engine) { e.cursors = store }
}

// WithLogger sets the logger (default slog.Default()).
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithClock sets the time source used for snapshots.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an engine over the external pool and transfer collaborators.
func New(cfg Config, market domain.Market, transfer domain.Transfer, opts ...Option) (*Engine, error) {
	if market == nil || transfer == nil {
		return nil, fmt.Errorf("%w: market and transfer collaborators are required", domain.ErrInvalidConfiguration)
	}
	if cfg.Authority == "" || cfg.Custody == "" {
		return nil, fmt.Errorf("%w: authority and custody accounts are required", domain.ErrInvalidConfiguration)
	}
	if cfg.Tolerance.Bounded && cfg.Tolerance.MaxTicks <= 0 {
		return nil, fmt.Errorf("%w: bounded tolerance needs max ticks", domain.ErrInvalidConfiguration)
	}

	journal := domain.NewJournal()
	e := &Engine{
		cfg:      cfg,
		market:   market,
		transfer: transfer,
		journal:  journal,
		pools:    make(map[domain.PoolID]domain.PoolKey),
		cursors:  domain.NewMemoryCursors(),
		ledger:   domain.NewOrderLedger(journal),
		registry: domain.NewPositionRegistry(domain.NewShareBook(), journal),
		custody:  domain.NewBalanceBook(journal),
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Config returns the engine parameters.
func (e *Engine) Config() Config {
	return e.cfg
}

// atomically runs fn as one transaction: on error or panic every ledger,
// registry, cursor and custody change made by fn is undone.
func (e *Engine) atomically(op string, fn func() error) (err error) {
	if e.inTx {
		return domain.NewOpError(op, domain.ErrReentrant)
	}
	e.inTx = true
	mark := e.journal.Mark()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", domain.ErrInternalConsistency, r)
			e.logger.Error("Ledger fault, rolling back", slog.String("op", op), slog.Any("error", err))
		}
		if err != nil {
			e.journal.RevertTo(mark)
			err = domain.NewOpError(op, err)
			e.logger.Warn("Operation rolled back", slog.String("op", op), slog.Any("error", err))
		} else {
			e.journal.Commit()
		}
		e.inTx = false
	}()

	return fn()
}

// setCursor journals a LastObservedBucket change.
func (e *Engine) setCursor(pool domain.PoolID, bucket quant.Tick) {
	prev, existed := e.cursors.Get(pool)
	e.cursors.Set(pool, bucket)
	e.journal.Append(func() {
		if existed {
			e.cursors.Set(pool, prev)
		} else {
			e.cursors.Delete(pool)
		}
	})
}

// registerPool journals a new pool key.
func (e *Engine) registerPool(key domain.PoolKey) (domain.PoolID, error) {
	if err := key.Validate(); err != nil {
		return domain.PoolID{}, err
	}
	id := key.ID()
	if _, ok := e.pools[id]; !ok {
		e.pools[id] = key
		e.journal.Append(func() { delete(e.pools, id) })
	}
	return id, nil
}

// Pool returns a registered pool key.
func (e *Engine) Pool(id domain.PoolID) (domain.PoolKey, bool) {
	key, ok := e.pools[id]
	return key, ok
}

// Cursor returns the LastObservedBucket of a pool.
func (e *Engine) Cursor(pool domain.PoolID) (quant.Tick, bool) {
	return e.cursors.Get(pool)
}

// PendingAt returns PendingOrderAmount for a cell.
func (e *Engine) PendingAt(pool domain.PoolID, bucket quant.Tick, dir domain.Direction) int64 {
	return e.ledger.Peek(pool, bucket, dir)
}

// Position returns a position by id.
func (e *Engine) Position(id domain.PositionID) (domain.Position, bool) {
	return e.registry.Get(id)
}

// ShareOf returns a holder's share in a position.
func (e *Engine) ShareOf(id domain.PositionID, holder domain.Account) int64 {
	return e.registry.ShareOf(id, holder)
}

// CustodyBalance returns the engine custody balance of an asset.
func (e *Engine) CustodyBalance(asset domain.Asset) domain.Balance {
	return e.custody.Get(asset)
}

// PositionIDOf derives the position identifier of (pool, bucket, direction).
func (e *Engine) PositionIDOf(pool domain.PoolID, bucket quant.Tick, dir domain.Direction) domain.PositionID {
	return domain.PositionIDOf(pool, bucket, dir)
}

// VerifyInvariants checks every ledger invariant:
// non-negative counters, supply == sum of shares (when the share ledger can
// enumerate), pending == supply for unfilled positions, and custody
// reservations equal to pending plus claimable per asset.
func (e *Engine) VerifyInvariants() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", domain.ErrInternalConsistency, r)
		}
	}()

	reserved := make(map[domain.Asset]int64)

	for _, c := range e.ledger.All() {
		if c.Amount < 0 {
			return fmt.Errorf("%w: negative pending %d at bucket %d", domain.ErrInternalConsistency, c.Amount, c.Bucket)
		}
		key, ok := e.pools[c.Pool]
		if !ok {
			return fmt.Errorf("%w: pending cell for unregistered pool %s", domain.ErrInternalConsistency, c.Pool.Short())
		}
		asset := c.Direction.InputAsset(key)
		reserved[asset] = safe.SafeAdd(reserved[asset], c.Amount)
	}

	book, enumerable := e.registry.Shares().(*domain.ShareBook)
	for _, p := range e.registry.All() {
		if p.TotalSupply < 0 || p.Claimable < 0 {
			return fmt.Errorf("%w: negative counters on position %s", domain.ErrInternalConsistency, p.ID.Short())
		}
		if enumerable && book.SumOf(p.ID) != p.TotalSupply {
			return fmt.Errorf("%w: position %s supply %d, shares %d",
				domain.ErrInternalConsistency, p.ID.Short(), p.TotalSupply, book.SumOf(p.ID))
		}
		pending := e.ledger.Peek(p.Pool, p.Bucket, p.Direction)
		if !p.Filled && pending != p.TotalSupply {
			return fmt.Errorf("%w: position %s pending %d, supply %d",
				domain.ErrInternalConsistency, p.ID.Short(), pending, p.TotalSupply)
		}
		if p.Filled && pending != 0 {
			return fmt.Errorf("%w: filled position %s has pending %d", domain.ErrInternalConsistency, p.ID.Short(), pending)
		}
		if p.Claimable > 0 {
			asset := p.Direction.OutputAsset(e.pools[p.Pool])
			reserved[asset] = safe.SafeAdd(reserved[asset], p.Claimable)
		}
	}

	e.custody.VerifyAll()
	for _, b := range e.custody.Snapshot() {
		if b.Reserved != reserved[b.Asset] {
			return fmt.Errorf("%w: custody %s reserved %d, ledger assigns %d",
				domain.ErrInternalConsistency, b.Asset, b.Reserved, reserved[b.Asset])
		}
		delete(reserved, b.Asset)
	}
	for asset, amount := range reserved {
		if amount != 0 {
			return fmt.Errorf("%w: ledger assigns %d %s with no custody", domain.ErrInternalConsistency, amount, asset)
		}
	}
	return nil
}

// authorize rejects non-authority callers of pool lifecycle entry points.
func (e *Engine) authorize(caller domain.Account) error {
	if caller != e.cfg.Authority {
		return fmt.Errorf("%w: caller %q", domain.ErrUnauthorized, caller)
	}
	return nil
}

// lookupPool returns the registered key, or registers key when given.
func (e *Engine) lookupPool(key domain.PoolKey) (domain.PoolID, domain.PoolKey, error) {
	id, err := e.registerPool(key)
	if err != nil {
		return domain.PoolID{}, domain.PoolKey{}, err
	}
	return id, e.pools[id], nil
}

// transferError tags collaborator failures with the transfer taxonomy.
func transferError(err error) error {
	return tagged(err, domain.ErrTransferFailed)
}

// executionError tags collaborator failures with the execution taxonomy.
func executionError(err error) error {
	return tagged(err, domain.ErrExecutionFailed)
}

func tagged(err, kind error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, kind) {
		return err
	}
	return fmt.Errorf("%w: %v", kind, err)
}
