package event

import (
	"encoding/json"
	"fmt"

	"limit_go/internal/domain"
	"limit_go/pkg/quant"
)

// Type defines the type of event.
type Type uint16

const (
	EvPoolInitialized Type = iota + 1
	EvPriceUpdate
	EvPlaceOrder
	EvCancelOrder
	EvRedeem
	EvTransferShares
)

func (t Type) String() string {
	switch t {
	case EvPoolInitialized:
		return "pool_initialized"
	case EvPriceUpdate:
		return "price_update"
	case EvPlaceOrder:
		return "place_order"
	case EvCancelOrder:
		return "cancel_order"
	case EvRedeem:
		return "redeem"
	case EvTransferShares:
		return "transfer_shares"
	default:
		return fmt.Sprintf("Type(%d)", uint16(t))
	}
}

// Event is the interface for all sequencer commands.
type Event interface {
	GetSeq() uint64
	GetTs() quant.TimeStamp
	GetType() Type
	// Stamp assigns the sequence number and timestamp. Called by the sequencer only.
	Stamp(seq uint64, ts quant.TimeStamp)
}

// BaseEvent contains common fields for all events.
type BaseEvent struct {
	Seq uint64          `json:"seq"`
	Ts  quant.TimeStamp `json:"ts"`
}

func (e BaseEvent) GetSeq() uint64         { return e.Seq }
func (e BaseEvent) GetTs() quant.TimeStamp { return e.Ts }

func (e *BaseEvent) Stamp(seq uint64, ts quant.TimeStamp) {
	e.Seq = seq
	e.Ts = ts
}

// PoolInitializedEvent is sent by the pool host when a pool gets its first price.
type PoolInitializedEvent struct {
	BaseEvent
	Caller domain.Account `json:"caller"`
	Key    domain.PoolKey `json:"key"`
	Tick   quant.Tick     `json:"tick"`
}

func (e PoolInitializedEvent) GetType() Type { return EvPoolInitialized }

// PriceUpdateEvent is sent by the pool host after any price-changing operation.
type PriceUpdateEvent struct {
	BaseEvent
	Caller domain.Account `json:"caller"`
	Key    domain.PoolKey `json:"key"`
	Tick   quant.Tick     `json:"tick"`
}

func (e PriceUpdateEvent) GetType() Type { return EvPriceUpdate }

// PlaceOrderEvent pools a conditional sell order.
type PlaceOrderEvent struct {
	BaseEvent
	Key       domain.PoolKey   `json:"key"`
	Tick      quant.Tick       `json:"tick"`
	Direction domain.Direction `json:"direction"`
	Amount    int64            `json:"amount"`
	Holder    domain.Account   `json:"holder"`
}

func (e PlaceOrderEvent) GetType() Type { return EvPlaceOrder }

// CancelOrderEvent withdraws a holder's whole unfilled share.
type CancelOrderEvent struct {
	BaseEvent
	Key       domain.PoolKey   `json:"key"`
	Tick      quant.Tick       `json:"tick"`
	Direction domain.Direction `json:"direction"`
	Holder    domain.Account   `json:"holder"`
}

func (e CancelOrderEvent) GetType() Type { return EvCancelOrder }

// RedeemEvent claims the output of a filled position.
type RedeemEvent struct {
	BaseEvent
	Position    domain.PositionID `json:"position"`
	Amount      int64             `json:"amount"`
	Holder      domain.Account    `json:"holder"`
	Destination domain.Account    `json:"destination"`
}

func (e RedeemEvent) GetType() Type { return EvRedeem }

// TransferSharesEvent moves position shares between holders.
type TransferSharesEvent struct {
	BaseEvent
	Position domain.PositionID `json:"position"`
	From     domain.Account    `json:"from"`
	To       domain.Account    `json:"to"`
	Amount   int64             `json:"amount"`
}

func (e TransferSharesEvent) GetType() Type { return EvTransferShares }

// Decode rebuilds a logged event from its type and JSON payload.
func Decode(t Type, payload []byte) (Event, error) {
	var ev Event
	switch t {
	case EvPoolInitialized:
		ev = &PoolInitializedEvent{}
	case EvPriceUpdate:
		ev = &PriceUpdateEvent{}
	case EvPlaceOrder:
		ev = &PlaceOrderEvent{}
	case EvCancelOrder:
		ev = &CancelOrderEvent{}
	case EvRedeem:
		ev = &RedeemEvent{}
	case EvTransferShares:
		ev = &TransferSharesEvent{}
	default:
		return nil, fmt.Errorf("unknown event type %d", t)
	}
	if err := json.Unmarshal(payload, ev); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", t, err)
	}
	return ev, nil
}
