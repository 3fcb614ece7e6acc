package event

import (
	"encoding/json"
	"testing"

	"limit_go/internal/domain"
)

func TestDecode(t *testing.T) {
	key := domain.PoolKey{AssetA: "ETH", AssetB: "USDC", BucketWidth: 60}
	pos := domain.PositionIDOf(key.ID(), 120, domain.SellA)

	events := []Event{
		&PoolInitializedEvent{Caller: "host", Key: key, Tick: 100},
		&PriceUpdateEvent{Caller: "host", Key: key, Tick: -61},
		&PlaceOrderEvent{Key: key, Tick: 125, Direction: domain.SellA, Amount: 100, Holder: "alice"},
		&CancelOrderEvent{Key: key, Tick: 125, Direction: domain.SellB, Holder: "alice"},
		&RedeemEvent{Position: pos, Amount: 100, Holder: "alice", Destination: "bob"},
		&TransferSharesEvent{Position: pos, From: "alice", To: "bob", Amount: 10},
	}

	for i, ev := range events {
		ev.Stamp(uint64(i+1), 1000)
		t.Run(ev.GetType().String(), func(t *testing.T) {
			payload, err := json.Marshal(ev)
			if err != nil {
				t.Fatalf("Marshal failed: %v", err)
			}
			got, err := Decode(ev.GetType(), payload)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if got.GetType() != ev.GetType() || got.GetSeq() != ev.GetSeq() {
				t.Errorf("Expected %s seq %d, got %s seq %d", ev.GetType(), ev.GetSeq(), got.GetType(), got.GetSeq())
			}
		})
	}

	if _, err := Decode(Type(99), []byte("{}")); err == nil {
		t.Error("Expected error for unknown type")
	}
}

func TestDecode_PreservesPayload(t *testing.T) {
	key := domain.PoolKey{AssetA: "ETH", AssetB: "USDC", BucketWidth: 60}
	pos := domain.PositionIDOf(key.ID(), -60, domain.SellB)
	ev := &RedeemEvent{Position: pos, Amount: 5, Holder: "alice", Destination: "carol"}

	payload, _ := json.Marshal(ev)
	got, err := Decode(EvRedeem, payload)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	r := got.(*RedeemEvent)
	if r.Position != pos || r.Destination != "carol" || r.Amount != 5 {
		t.Errorf("Payload mismatch: %+v", r)
	}
}
