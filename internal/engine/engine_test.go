package engine

import (
	"errors"
	"reflect"
	"testing"

	"limit_go/internal/domain"
	"limit_go/pkg/quant"
)

// state returns a snapshot without the timestamp, for equality checks.
func state(e *Engine) *domain.LedgerSnapshot {
	snap := e.Snapshot()
	snap.TsUnix = 0
	return snap
}

func TestNew_Validation(t *testing.T) {
	market := newScriptedMarket()
	bank := &failingBank{}

	tests := []struct {
		name   string
		cfg    Config
		market domain.Market
	}{
		{"Missing market", Config{Authority: "a", Custody: "c"}, nil},
		{"Missing accounts", Config{}, market},
		{"Bounded without ticks", Config{Authority: "a", Custody: "c", Tolerance: domain.PriceTolerance{Bounded: true}}, market},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg, tt.market, bank)
			if !errors.Is(err, domain.ErrInvalidConfiguration) {
				t.Errorf("Expected ErrInvalidConfiguration, got %v", err)
			}
		})
	}
}

func TestParseScanPolicy(t *testing.T) {
	tests := map[string]ScanPolicy{"": ScanContinue, "continue": ScanContinue, "stop": ScanStopAfterFirstFill}
	for input, want := range tests {
		got, err := ParseScanPolicy(input)
		if err != nil || got != want {
			t.Errorf("ParseScanPolicy(%q) = %v, %v; want %v", input, got, err, want)
		}
	}
	if _, err := ParseScanPolicy("sometimes"); !errors.Is(err, domain.ErrInvalidConfiguration) {
		t.Errorf("Expected ErrInvalidConfiguration, got %v", err)
	}
}

func TestEngine_EndToEnd(t *testing.T) {
	f := newFixture(t, ScanContinue)
	f.init(t, 100)

	if cursor, _ := f.engine.Cursor(testKey.ID()); cursor != 60 {
		t.Fatalf("Expected cursor 60, got %d", cursor)
	}

	placement := f.place(t, 125, domain.SellA, 100, "alice")
	if placement.Bucket != 120 {
		t.Fatalf("Expected bucket 120, got %d", placement.Bucket)
	}
	if placement.Position != f.engine.PositionIDOf(testKey.ID(), 120, domain.SellA) {
		t.Error("Placement should return the derived position id")
	}
	if f.bank.Balance("alice", "ETH") != 9_900 || f.bank.Balance(testCustody, "ETH") != 100 {
		t.Error("Place should pull the input into custody")
	}
	f.verify(t)

	report := f.move(t, 185)
	if len(report.Fills) != 1 {
		t.Fatalf("Expected exactly 1 fill, got %d", len(report.Fills))
	}
	fill := report.Fills[0]
	if fill.Bucket != 120 || fill.Input != 100 || fill.Received != 200 {
		t.Errorf("Unexpected fill %+v", fill)
	}
	if report.From != 60 || report.To != 180 || report.Resume {
		t.Errorf("Expected scan 60 -> 180 without resume, got %+v", report)
	}
	if got := f.engine.PendingAt(testKey.ID(), 120, domain.SellA); got != 0 {
		t.Errorf("Expected pending 0, got %d", got)
	}
	pos, _ := f.engine.Position(placement.Position)
	if pos.Claimable != 200 || !pos.Filled {
		t.Errorf("Expected claimable 200 and filled, got %+v", pos)
	}
	f.verify(t)

	payout, err := f.engine.Redeem(f.ctx, placement.Position, 100, "alice", "alice")
	if err != nil {
		t.Fatalf("Redeem failed: %v", err)
	}
	if payout != 200 {
		t.Errorf("Expected payout 200, got %d", payout)
	}
	pos, _ = f.engine.Position(placement.Position)
	if pos.TotalSupply != 0 || pos.Claimable != 0 || pos.Filled {
		t.Errorf("Expected drained position, got %+v", pos)
	}
	if f.bank.Balance("alice", "USDC") != 10_200 {
		t.Errorf("Expected alice USDC 10200, got %d", f.bank.Balance("alice", "USDC"))
	}
	f.verify(t)
}

func TestEngine_FulfillmentExhaustiveness(t *testing.T) {
	for _, policy := range []ScanPolicy{ScanContinue, ScanStopAfterFirstFill} {
		t.Run(policy.String(), func(t *testing.T) {
			f := newFixture(t, policy)
			key := domain.PoolKey{AssetA: "ETH", AssetB: "USDC", BucketWidth: 1}
			pool := key.ID()
			f.market.ticks[pool] = 10

			if err := f.engine.OnPoolInitialized(f.ctx, testAuthority, key, 10); err != nil {
				t.Fatalf("OnPoolInitialized failed: %v", err)
			}
			mustPlace := func(tick quant.Tick, dir domain.Direction, amount int64) {
				if _, err := f.engine.PlaceOrder(f.ctx, key, tick, dir, amount, "alice"); err != nil {
					t.Fatalf("PlaceOrder failed: %v", err)
				}
			}
			mustPlace(12, domain.SellA, 50)
			mustPlace(11, domain.SellB, 10)
			mustPlace(10, domain.SellB, 10)
			mustPlace(13, domain.SellA, 7)

			f.market.ticks[pool] = 13
			report, err := f.engine.OnPriceUpdate(f.ctx, testAuthority, key, 13)
			for err == nil && report.Resume {
				report, err = f.engine.Rescan(f.ctx, testAuthority, key)
			}
			if err != nil {
				t.Fatalf("Scan failed: %v", err)
			}

			if got := f.engine.PendingAt(pool, 12, domain.SellA); got != 0 {
				t.Errorf("Bucket 12 should be zeroed, got %d", got)
			}
			pos, _ := f.engine.Position(domain.PositionIDOf(pool, 12, domain.SellA))
			if pos.Claimable <= 0 {
				t.Errorf("Expected positive claimable, got %d", pos.Claimable)
			}
			if f.engine.PendingAt(pool, 10, domain.SellB) != 10 || f.engine.PendingAt(pool, 11, domain.SellB) != 10 {
				t.Error("Buckets 10 and 11 must not be touched")
			}
			if f.engine.PendingAt(pool, 13, domain.SellA) != 7 {
				t.Error("Bucket 13 must not be touched")
			}
			if len(f.market.swaps) != 1 {
				t.Errorf("Expected 1 swap, got %d", len(f.market.swaps))
			}
			f.verify(t)
		})
	}
}

func TestEngine_NoOpPriceUpdate(t *testing.T) {
	f := newFixture(t, ScanContinue)
	f.init(t, 100)
	f.place(t, 125, domain.SellA, 100, "alice")

	before := state(f.engine)
	if report := f.move(t, 110); len(report.Fills) != 0 {
		t.Error("Update within the same bucket must not fill")
	}
	if !reflect.DeepEqual(before, state(f.engine)) {
		t.Error("Same-bucket update must not mutate state")
	}

	f.move(t, 185)
	after := state(f.engine)
	report := f.move(t, 185)
	if len(report.Fills) != 0 {
		t.Error("Repeated update must not fill")
	}
	if !reflect.DeepEqual(after, state(f.engine)) {
		t.Error("Repeated update must not mutate state")
	}
	if len(f.market.swaps) != 1 {
		t.Errorf("Expected 1 swap, got %d", len(f.market.swaps))
	}
}

func TestEngine_CursorInitializedByFirstUpdate(t *testing.T) {
	f := newFixture(t, ScanContinue)
	f.place(t, 125, domain.SellA, 100, "alice")

	report := f.move(t, 185)
	if len(report.Fills) != 0 {
		t.Error("First observation must not fill")
	}
	if cursor, ok := f.engine.Cursor(testKey.ID()); !ok || cursor != 180 {
		t.Errorf("Expected cursor 180, got %d (%v)", cursor, ok)
	}
}

func TestEngine_CancelThenPlaceIdempotence(t *testing.T) {
	once := newFixture(t, ScanContinue)
	once.init(t, 100)
	once.place(t, 125, domain.SellA, 100, "alice")

	twice := newFixture(t, ScanContinue)
	twice.init(t, 100)
	twice.place(t, 125, domain.SellA, 100, "alice")
	refund, err := twice.engine.CancelOrder(twice.ctx, testKey, 125, domain.SellA, "alice")
	if err != nil {
		t.Fatalf("CancelOrder failed: %v", err)
	}
	if refund != 100 {
		t.Errorf("Expected refund 100, got %d", refund)
	}
	if twice.bank.Balance("alice", "ETH") != 10_000 {
		t.Error("Cancel should refund the whole share")
	}
	twice.verify(t)
	twice.place(t, 125, domain.SellA, 100, "alice")

	if !reflect.DeepEqual(state(once.engine), state(twice.engine)) {
		t.Errorf("State mismatch:\n once=%+v\ntwice=%+v", state(once.engine), state(twice.engine))
	}
}

func TestEngine_Rollback(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *fixture)
		run   func(f *fixture) error
		kind  error
	}{
		{
			name:  "Pull failure on place",
			setup: func(f *fixture) { f.bank.pullErr = errScripted },
			run: func(f *fixture) error {
				_, err := f.engine.PlaceOrder(f.ctx, testKey, 190, domain.SellA, 10, "bob")
				return err
			},
			kind: domain.ErrTransferFailed,
		},
		{
			name:  "Push failure on cancel",
			setup: func(f *fixture) { f.bank.pushErr = errScripted },
			run: func(f *fixture) error {
				_, err := f.engine.CancelOrder(f.ctx, testKey, 125, domain.SellA, "alice")
				return err
			},
			kind: domain.ErrTransferFailed,
		},
		{
			name:  "Swap failure",
			setup: func(f *fixture) { f.market.swapErr = errScripted },
			run: func(f *fixture) error {
				f.market.ticks[testKey.ID()] = 185
				_, err := f.engine.OnPriceUpdate(f.ctx, testAuthority, testKey, 185)
				return err
			},
			kind: domain.ErrExecutionFailed,
		},
		{
			name:  "Take failure",
			setup: func(f *fixture) { f.market.takeErr = errScripted },
			run: func(f *fixture) error {
				f.market.ticks[testKey.ID()] = 185
				_, err := f.engine.OnPriceUpdate(f.ctx, testAuthority, testKey, 185)
				return err
			},
			kind: domain.ErrTransferFailed,
		},
		{
			name: "Owed above pending",
			setup: func(f *fixture) {
				f.market.rate = func(dir domain.Direction, input int64) domain.SwapResult {
					return domain.SwapResult{Owed: input + 1, Received: input}
				}
			},
			run: func(f *fixture) error {
				f.market.ticks[testKey.ID()] = 185
				_, err := f.engine.OnPriceUpdate(f.ctx, testAuthority, testKey, 185)
				return err
			},
			kind: domain.ErrExecutionFailed,
		},
		{
			name:  "Second fill fails after the first",
			setup: func(f *fixture) {},
			run: func(f *fixture) error {
				f.market.afterSwap = func(pool domain.PoolID, n int, tick quant.Tick) quant.Tick {
					f.market.swapErr = errScripted
					return tick
				}
				f.market.ticks[testKey.ID()] = 250
				_, err := f.engine.OnPriceUpdate(f.ctx, testAuthority, testKey, 250)
				return err
			},
			kind: domain.ErrExecutionFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, ScanContinue)
			f.init(t, 100)
			f.place(t, 125, domain.SellA, 100, "alice")
			f.place(t, 190, domain.SellA, 50, "alice")
			before := state(f.engine)

			tt.setup(f)
			err := tt.run(f)
			if !errors.Is(err, tt.kind) {
				t.Fatalf("Expected %v, got %v", tt.kind, err)
			}
			if !domain.IsRetriable(err) {
				t.Error("Collaborator failures should be retriable")
			}
			if !reflect.DeepEqual(before, state(f.engine)) {
				t.Errorf("State changed after failure:\nbefore=%+v\n after=%+v", before, state(f.engine))
			}
			f.verify(t)
		})
	}
}

func TestEngine_RedeemPushFailureRollsBack(t *testing.T) {
	f := newFixture(t, ScanContinue)
	f.init(t, 100)
	p := f.place(t, 125, domain.SellA, 100, "alice")
	f.move(t, 185)
	before := state(f.engine)

	f.bank.pushErr = errScripted
	_, err := f.engine.Redeem(f.ctx, p.Position, 100, "alice", "alice")
	if !errors.Is(err, domain.ErrTransferFailed) {
		t.Fatalf("Expected ErrTransferFailed, got %v", err)
	}
	if !reflect.DeepEqual(before, state(f.engine)) {
		t.Error("Failed redeem must not change state")
	}
}

func TestEngine_Unauthorized(t *testing.T) {
	f := newFixture(t, ScanContinue)

	err := f.engine.OnPoolInitialized(f.ctx, "mallory", testKey, 100)
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("Expected ErrUnauthorized, got %v", err)
	}
	if _, ok := f.engine.Cursor(testKey.ID()); ok {
		t.Error("Rejected initialization must not set a cursor")
	}

	f.init(t, 100)
	f.place(t, 125, domain.SellA, 100, "alice")
	_, err = f.engine.OnPriceUpdate(f.ctx, "mallory", testKey, 185)
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("Expected ErrUnauthorized, got %v", err)
	}
	if domain.IsRetriable(err) {
		t.Error("Unauthorized must not be retriable")
	}
	if f.engine.PendingAt(testKey.ID(), 120, domain.SellA) != 100 {
		t.Error("Unauthorized update must not fill")
	}
}

func TestEngine_Reentrancy(t *testing.T) {
	f := newFixture(t, ScanContinue)
	f.init(t, 100)
	f.place(t, 125, domain.SellA, 100, "alice")

	var nested ScanReport
	var nestedErr, placeErr error
	f.market.onSwap = func() {
		nested, nestedErr = f.engine.OnPriceUpdate(f.ctx, testAuthority, testKey, 500)
		_, placeErr = f.engine.PlaceOrder(f.ctx, testKey, 125, domain.SellA, 1, "bob")
	}

	report := f.move(t, 185)
	if !nested.Skipped || nestedErr != nil {
		t.Errorf("Nested price update should be skipped, got %+v, %v", nested, nestedErr)
	}
	if !errors.Is(placeErr, domain.ErrReentrant) {
		t.Errorf("Expected ErrReentrant, got %v", placeErr)
	}
	if len(report.Fills) != 1 {
		t.Errorf("Outer scan should still fill once, got %d", len(report.Fills))
	}
	f.verify(t)
}

func TestEngine_ScanPolicies(t *testing.T) {
	t.Run("Continue fills every crossed bucket", func(t *testing.T) {
		f := newFixture(t, ScanContinue)
		f.init(t, 100)
		f.place(t, 125, domain.SellA, 100, "alice")
		f.place(t, 190, domain.SellA, 50, "bob")

		report := f.move(t, 250)
		if len(report.Fills) != 2 || report.Resume || report.To != 240 {
			t.Errorf("Expected 2 fills ending at 240, got %+v", report)
		}
		f.verify(t)
	})

	t.Run("Continue follows the re-read price", func(t *testing.T) {
		f := newFixture(t, ScanContinue)
		f.init(t, 100)
		f.place(t, 125, domain.SellA, 100, "alice")
		f.place(t, 190, domain.SellA, 50, "bob")
		f.market.afterSwap = func(pool domain.PoolID, n int, tick quant.Tick) quant.Tick {
			return 150
		}

		report := f.move(t, 250)
		if len(report.Fills) != 1 || report.To != 120 {
			t.Errorf("Expected 1 fill ending at 120, got %+v", report)
		}
		if f.engine.PendingAt(testKey.ID(), 180, domain.SellA) != 50 {
			t.Error("Bucket above the re-read price must stay pending")
		}
		f.verify(t)
	})

	t.Run("Stop resumes after each fill", func(t *testing.T) {
		f := newFixture(t, ScanStopAfterFirstFill)
		f.init(t, 100)
		f.place(t, 125, domain.SellA, 100, "alice")
		f.place(t, 190, domain.SellA, 50, "bob")

		r1 := f.move(t, 250)
		if len(r1.Fills) != 1 || r1.Fills[0].Bucket != 120 || !r1.Resume || r1.To != 180 {
			t.Fatalf("Expected first stop at 180, got %+v", r1)
		}
		f.verify(t)

		r2, err := f.engine.Rescan(f.ctx, testAuthority, testKey)
		if err != nil {
			t.Fatalf("Rescan failed: %v", err)
		}
		if len(r2.Fills) != 1 || r2.Fills[0].Bucket != 180 || !r2.Resume || r2.To != 240 {
			t.Fatalf("Expected second stop at 240, got %+v", r2)
		}

		r3, err := f.engine.Rescan(f.ctx, testAuthority, testKey)
		if err != nil {
			t.Fatalf("Rescan failed: %v", err)
		}
		if len(r3.Fills) != 0 || r3.Resume {
			t.Errorf("Expected final no-op rescan, got %+v", r3)
		}
		f.verify(t)
	})
}

func TestEngine_ScanTurnsOnReversal(t *testing.T) {
	for _, policy := range []ScanPolicy{ScanContinue, ScanStopAfterFirstFill} {
		t.Run(policy.String(), func(t *testing.T) {
			f := newFixture(t, policy)
			f.init(t, 100)
			f.place(t, 125, domain.SellA, 100, "alice")
			f.place(t, 70, domain.SellB, 50, "bob")
			// The first fill drops the price below both buckets.
			f.market.afterSwap = func(pool domain.PoolID, n int, tick quant.Tick) quant.Tick {
				return 0
			}

			report := f.move(t, 185)
			fills := report.Fills
			for err := error(nil); report.Resume; {
				report, err = f.engine.Rescan(f.ctx, testAuthority, testKey)
				if err != nil {
					t.Fatalf("Rescan failed: %v", err)
				}
				fills = append(fills, report.Fills...)
			}

			if len(fills) != 2 || fills[0].Bucket != 120 || fills[1].Bucket != 60 {
				t.Fatalf("Expected fills at 120 then 60, got %+v", fills)
			}
			if fills[1].Direction != domain.SellB {
				t.Error("The way back down must fill SellB")
			}
			if got := f.engine.PendingAt(testKey.ID(), 60, domain.SellB); got != 0 {
				t.Errorf("Expected SellB at 60 drained, got %d", got)
			}
			if cursor, _ := f.engine.Cursor(testKey.ID()); cursor != 0 {
				t.Errorf("Expected cursor 0, got %d", cursor)
			}
			if len(f.market.swaps) != 2 {
				t.Errorf("Expected 2 swaps, got %d", len(f.market.swaps))
			}
			f.verify(t)
		})
	}
}

func TestEngine_ZeroOutputSwapKeepsOrder(t *testing.T) {
	f := newFixture(t, ScanContinue)
	f.init(t, 100)
	p := f.place(t, 125, domain.SellA, 100, "alice")
	f.market.rate = func(dir domain.Direction, input int64) domain.SwapResult {
		return domain.SwapResult{Owed: input, Received: 0}
	}

	f.market.ticks[testKey.ID()] = 185
	_, err := f.engine.OnPriceUpdate(f.ctx, testAuthority, testKey, 185)
	if !errors.Is(err, domain.ErrExecutionFailed) {
		t.Fatalf("Expected ErrExecutionFailed, got %v", err)
	}
	if got := f.engine.PendingAt(testKey.ID(), 120, domain.SellA); got != 100 {
		t.Errorf("Order must stay pending, got %d", got)
	}
	if pos, _ := f.engine.Position(p.Position); pos.Filled || pos.Claimable != 0 {
		t.Errorf("Position must stay open, got %+v", pos)
	}
	if cursor, _ := f.engine.Cursor(testKey.ID()); cursor != 60 {
		t.Errorf("Cursor must not move, got %d", cursor)
	}
	f.verify(t)

	// The cell stays usable.
	f.place(t, 130, domain.SellA, 20, "bob")
	refund, err := f.engine.CancelOrder(f.ctx, testKey, 125, domain.SellA, "alice")
	if err != nil || refund != 100 {
		t.Fatalf("Expected refund 100, got %d (%v)", refund, err)
	}
	f.verify(t)
}

func TestEngine_DescendingScan(t *testing.T) {
	for _, policy := range []ScanPolicy{ScanContinue, ScanStopAfterFirstFill} {
		t.Run(policy.String(), func(t *testing.T) {
			f := newFixture(t, policy)
			f.init(t, 300)
			f.place(t, 250, domain.SellB, 100, "alice")
			f.place(t, 200, domain.SellB, 50, "bob")
			f.place(t, 200, domain.SellA, 70, "bob")

			report := f.move(t, 100)
			fills := report.Fills
			for err := error(nil); report.Resume; {
				report, err = f.engine.Rescan(f.ctx, testAuthority, testKey)
				if err != nil {
					t.Fatalf("Rescan failed: %v", err)
				}
				fills = append(fills, report.Fills...)
			}

			if len(fills) != 2 || fills[0].Bucket != 240 || fills[1].Bucket != 180 {
				t.Fatalf("Expected fills at 240 then 180, got %+v", fills)
			}
			if fills[0].Direction != domain.SellB {
				t.Error("Falling price must fill SellB")
			}
			if f.engine.PendingAt(testKey.ID(), 180, domain.SellA) != 70 {
				t.Error("SellA must not fill on a falling price")
			}
			if cursor, _ := f.engine.Cursor(testKey.ID()); cursor != 60 {
				t.Errorf("Expected cursor 60, got %d", cursor)
			}
			eth := f.engine.CustodyBalance("ETH")
			if eth.Reserved != 70+300 {
				t.Errorf("Expected ETH reserved 370, got %d", eth.Reserved)
			}
			f.verify(t)
		})
	}
}

func TestEngine_ProRataRedemption(t *testing.T) {
	f := newFixture(t, ScanContinue)
	f.market.rate = func(dir domain.Direction, input int64) domain.SwapResult {
		return domain.SwapResult{Owed: input, Received: 301}
	}
	f.init(t, 100)
	p := f.place(t, 125, domain.SellA, 100, "alice")
	f.place(t, 130, domain.SellA, 50, "bob")
	f.move(t, 185)

	a, err := f.engine.Redeem(f.ctx, p.Position, 100, "alice", "alice")
	if err != nil || a != 200 {
		t.Fatalf("Expected alice payout 200, got %d (%v)", a, err)
	}
	f.verify(t)

	b, err := f.engine.Redeem(f.ctx, p.Position, 50, "bob", "bob")
	if err != nil || b != 101 {
		t.Fatalf("Expected bob payout 101, got %d (%v)", b, err)
	}
	pos, _ := f.engine.Position(p.Position)
	if pos.Claimable != 0 || pos.TotalSupply != 0 {
		t.Errorf("Expected drained position, got %+v", pos)
	}
	f.verify(t)
}

func TestEngine_RedeemErrors(t *testing.T) {
	f := newFixture(t, ScanContinue)
	f.init(t, 100)
	p := f.place(t, 125, domain.SellA, 100, "alice")

	if _, err := f.engine.Redeem(f.ctx, p.Position, 100, "alice", "alice"); !errors.Is(err, domain.ErrNoClaimable) {
		t.Errorf("Expected ErrNoClaimable, got %v", err)
	}
	unknown := domain.PositionIDOf(testKey.ID(), 999, domain.SellA)
	if _, err := f.engine.Redeem(f.ctx, unknown, 1, "alice", "alice"); !errors.Is(err, domain.ErrUnknownPosition) {
		t.Errorf("Expected ErrUnknownPosition, got %v", err)
	}

	f.move(t, 185)
	if _, err := f.engine.Redeem(f.ctx, p.Position, 101, "alice", "alice"); !errors.Is(err, domain.ErrInsufficientShare) {
		t.Errorf("Expected ErrInsufficientShare, got %v", err)
	}
	if _, err := f.engine.Redeem(f.ctx, p.Position, 1, "bob", "bob"); !errors.Is(err, domain.ErrInsufficientShare) {
		t.Errorf("Expected ErrInsufficientShare for non-holder, got %v", err)
	}
	f.verify(t)
}

func TestEngine_PlaceAndCancelErrors(t *testing.T) {
	f := newFixture(t, ScanContinue)
	f.init(t, 100)

	if _, err := f.engine.PlaceOrder(f.ctx, testKey, 125, domain.SellA, 0, "alice"); !errors.Is(err, domain.ErrInvalidAmount) {
		t.Errorf("Expected ErrInvalidAmount, got %v", err)
	}
	bad := domain.PoolKey{AssetA: "ETH", AssetB: "USDC", BucketWidth: 0}
	if _, err := f.engine.PlaceOrder(f.ctx, bad, 125, domain.SellA, 10, "alice"); !errors.Is(err, domain.ErrInvalidConfiguration) {
		t.Errorf("Expected ErrInvalidConfiguration, got %v", err)
	}
	if _, err := f.engine.CancelOrder(f.ctx, testKey, 125, domain.SellA, "alice"); !errors.Is(err, domain.ErrNothingToCancel) {
		t.Errorf("Expected ErrNothingToCancel, got %v", err)
	}

	f.place(t, 125, domain.SellA, 100, "alice")
	if _, err := f.engine.CancelOrder(f.ctx, testKey, 125, domain.SellA, "bob"); !errors.Is(err, domain.ErrNothingToCancel) {
		t.Errorf("Expected ErrNothingToCancel for non-holder, got %v", err)
	}
	f.verify(t)
}

func TestEngine_FilledPositionGuard(t *testing.T) {
	f := newFixture(t, ScanContinue)
	f.init(t, 100)
	p := f.place(t, 125, domain.SellA, 100, "alice")
	f.move(t, 185)

	if _, err := f.engine.PlaceOrder(f.ctx, testKey, 125, domain.SellA, 10, "bob"); !errors.Is(err, domain.ErrPositionFilled) {
		t.Errorf("Expected ErrPositionFilled on place, got %v", err)
	}
	if _, err := f.engine.CancelOrder(f.ctx, testKey, 125, domain.SellA, "alice"); !errors.Is(err, domain.ErrPositionFilled) {
		t.Errorf("Expected ErrPositionFilled on cancel, got %v", err)
	}

	if _, err := f.engine.Redeem(f.ctx, p.Position, 100, "alice", "alice"); err != nil {
		t.Fatalf("Redeem failed: %v", err)
	}
	again := f.place(t, 125, domain.SellA, 10, "bob")
	if again.Position != p.Position {
		t.Error("Drained position should be reused")
	}
	pos, _ := f.engine.Position(p.Position)
	if pos.Filled || pos.TotalSupply != 10 || pos.Claimable != 0 {
		t.Errorf("Expected fresh reused position, got %+v", pos)
	}
	f.verify(t)
}

func TestEngine_TransferShares(t *testing.T) {
	f := newFixture(t, ScanContinue)
	f.init(t, 100)
	p := f.place(t, 125, domain.SellA, 100, "alice")
	f.move(t, 185)

	if err := f.engine.TransferShares(f.ctx, p.Position, "alice", "bob", 40); err != nil {
		t.Fatalf("TransferShares failed: %v", err)
	}
	if f.engine.ShareOf(p.Position, "bob") != 40 || f.engine.ShareOf(p.Position, "alice") != 60 {
		t.Error("Shares should move 40 to bob")
	}
	f.verify(t)

	payout, err := f.engine.Redeem(f.ctx, p.Position, 40, "bob", "carol")
	if err != nil || payout != 80 {
		t.Fatalf("Expected payout 80, got %d (%v)", payout, err)
	}
	if f.bank.Balance("carol", "USDC") != 80 {
		t.Error("Payout should go to the destination")
	}
	if err := f.engine.TransferShares(f.ctx, p.Position, "bob", "alice", 1); !errors.Is(err, domain.ErrInsufficientShare) {
		t.Errorf("Expected ErrInsufficientShare, got %v", err)
	}
	f.verify(t)
}

func TestEngine_SnapshotRestore(t *testing.T) {
	f := newFixture(t, ScanContinue)
	f.init(t, 100)
	f.place(t, 125, domain.SellA, 100, "alice")
	f.place(t, 30, domain.SellB, 40, "bob")
	f.move(t, 185)

	snap := f.engine.Snapshot()

	other := newFixture(t, ScanContinue)
	if err := other.engine.Restore(snap); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if !reflect.DeepEqual(state(f.engine), state(other.engine)) {
		t.Error("Restored state should match the source")
	}

	corrupt := f.engine.Snapshot()
	for i := range corrupt.Custody {
		if corrupt.Custody[i].Asset == "USDC" {
			corrupt.Custody[i].Reserved--
		}
	}
	if err := newFixture(t, ScanContinue).engine.Restore(corrupt); !errors.Is(err, domain.ErrInternalConsistency) {
		t.Errorf("Expected ErrInternalConsistency, got %v", err)
	}
}

func TestEngine_Book(t *testing.T) {
	f := newFixture(t, ScanContinue)
	f.init(t, 100)
	f.place(t, 125, domain.SellA, 100, "alice")
	f.place(t, 30, domain.SellB, 40, "bob")

	book, err := f.engine.Book(testKey.ID())
	if err != nil {
		t.Fatalf("Book failed: %v", err)
	}
	if !book.HasCursor || book.Cursor != 60 {
		t.Errorf("Expected cursor 60, got %d", book.Cursor)
	}
	if len(book.Levels) != 2 || book.Levels[0].Bucket != 0 || book.Levels[1].Bucket != 120 {
		t.Fatalf("Expected levels at 0 and 120, got %+v", book.Levels)
	}
	if book.Levels[1].Pending != 100 || book.Levels[1].TotalSupply != 100 {
		t.Errorf("Unexpected level %+v", book.Levels[1])
	}

	if _, err := f.engine.Book(domain.PoolKey{AssetA: "X", AssetB: "Y", BucketWidth: 1}.ID()); !errors.Is(err, domain.ErrUnknownPool) {
		t.Errorf("Expected ErrUnknownPool, got %v", err)
	}
}
