package event

import (
	"time"

	"gmsol/internal/state"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeMarketStateUpdated
	EventTypeMarketFeesUpdated
	EventTypeBorrowingFeesUpdated
	EventTypeFundingFeesUpdated
	EventTypePositionIncreased
	EventTypePositionDecreased
	EventTypeSwapExecuted
	EventTypeDepositExecuted
	EventTypeWithdrawalExecuted
	EventTypeShiftExecuted
	EventTypeOrderCreated
	EventTypeOrderUpdated
	EventTypeOrderRemoved
	EventTypeInsufficientFundingFeePayment
	EventTypeMarketCreated
	EventTypeMarketConfigUpdated
	EventTypePositionImpactDistributed
	EventTypeAdlStateUpdated
)

// Envelope wraps every event in the log.
type Envelope struct {
	// Global monotonic sequence assigned by the engine
	Sequence int64

	// The action this event was emitted under (stable dedup key)
	ActionRef string

	EventType EventType

	// Market context (nil for store-level events)
	MarketToken *state.Token

	// Versioned input timestamp from the triggering request; the engine
	// never reads the wall clock.
	Timestamp time.Time

	// JSON-encoded event-specific payload
	Payload []byte

	// SHA-256 of touched state AFTER applying this event
	StateHash [32]byte

	// Previous event's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all event payloads implement.
type Event interface {
	// EventType returns the discriminator
	EventType() EventType

	// MarketToken returns the market context (nil for store-level events)
	MarketToken() *state.Token

	// ActionRef returns the id of the action that produced the event
	ActionRef() string
}

func (et EventType) String() string {
	switch et {
	case EventTypeMarketStateUpdated:
		return "MarketStateUpdated"
	case EventTypeMarketFeesUpdated:
		return "MarketFeesUpdated"
	case EventTypeBorrowingFeesUpdated:
		return "BorrowingFeesUpdated"
	case EventTypeFundingFeesUpdated:
		return "FundingFeesUpdated"
	case EventTypePositionIncreased:
		return "PositionIncreased"
	case EventTypePositionDecreased:
		return "PositionDecreased"
	case EventTypeSwapExecuted:
		return "SwapExecuted"
	case EventTypeDepositExecuted:
		return "DepositExecuted"
	case EventTypeWithdrawalExecuted:
		return "WithdrawalExecuted"
	case EventTypeShiftExecuted:
		return "ShiftExecuted"
	case EventTypeOrderCreated:
		return "OrderCreated"
	case EventTypeOrderUpdated:
		return "OrderUpdated"
	case EventTypeOrderRemoved:
		return "OrderRemoved"
	case EventTypeInsufficientFundingFeePayment:
		return "InsufficientFundingFeePayment"
	case EventTypeMarketCreated:
		return "MarketCreated"
	case EventTypeMarketConfigUpdated:
		return "MarketConfigUpdated"
	case EventTypePositionImpactDistributed:
		return "PositionImpactDistributed"
	case EventTypeAdlStateUpdated:
		return "AdlStateUpdated"
	default:
		return "Unknown"
	}
}
