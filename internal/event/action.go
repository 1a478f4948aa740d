package event

import (
	"math/big"

	"github.com/google/uuid"

	"gmsol/internal/state"
)

// OrderCreated announces a pending action accepted into the store.
type OrderCreated struct {
	Ref     string      `json:"ref"`
	Market  state.Token `json:"market_token"`
	OrderID uuid.UUID   `json:"order_id"`
	Kind    string      `json:"kind"`
	Owner   string      `json:"owner"`
}

func (e *OrderCreated) EventType() EventType      { return EventTypeOrderCreated }
func (e *OrderCreated) MarketToken() *state.Token { return &e.Market }
func (e *OrderCreated) ActionRef() string         { return e.Ref }

// OrderUpdated reports a parameter change on a pending action.
type OrderUpdated struct {
	Ref     string      `json:"ref"`
	Market  state.Token `json:"market_token"`
	OrderID uuid.UUID   `json:"order_id"`

	SizeDeltaUsd    *big.Int `json:"size_delta_usd,omitempty"`
	TriggerPrice    *big.Int `json:"trigger_price,omitempty"`
	AcceptablePrice *big.Int `json:"acceptable_price,omitempty"`
	MinOutputAmount *big.Int `json:"min_output_amount,omitempty"`
}

func (e *OrderUpdated) EventType() EventType      { return EventTypeOrderUpdated }
func (e *OrderUpdated) MarketToken() *state.Token { return &e.Market }
func (e *OrderUpdated) ActionRef() string         { return e.Ref }

// OrderRemoved reports a pending action leaving the store, with the
// terminal state it reached.
type OrderRemoved struct {
	Ref     string      `json:"ref"`
	Market  state.Token `json:"market_token"`
	OrderID uuid.UUID   `json:"order_id"`
	Kind    string      `json:"kind"`

	// Executed, Cancelled or Completed
	FinalState string `json:"final_state"`
	Reason     string `json:"reason,omitempty"`
}

func (e *OrderRemoved) EventType() EventType      { return EventTypeOrderRemoved }
func (e *OrderRemoved) MarketToken() *state.Token { return &e.Market }
func (e *OrderRemoved) ActionRef() string         { return e.Ref }
