package event

import (
	"encoding/json"
	"fmt"
)

// Decode unmarshals a stored payload back into its typed event. Used when
// replaying the event log into projections.
func Decode(eventType EventType, payload []byte) (Event, error) {
	var e Event
	switch eventType {
	case EventTypeMarketStateUpdated:
		e = &MarketStateUpdated{}
	case EventTypeMarketFeesUpdated:
		e = &MarketFeesUpdated{}
	case EventTypeBorrowingFeesUpdated:
		e = &BorrowingFeesUpdated{}
	case EventTypeFundingFeesUpdated:
		e = &FundingFeesUpdated{}
	case EventTypePositionIncreased:
		e = &IncreaseReport{}
	case EventTypePositionDecreased:
		e = &DecreaseReport{}
	case EventTypeSwapExecuted:
		e = &SwapReport{}
	case EventTypeDepositExecuted:
		e = &DepositReport{}
	case EventTypeWithdrawalExecuted:
		e = &WithdrawalReport{}
	case EventTypeShiftExecuted:
		e = &ShiftReport{}
	case EventTypeOrderCreated:
		e = &OrderCreated{}
	case EventTypeOrderUpdated:
		e = &OrderUpdated{}
	case EventTypeOrderRemoved:
		e = &OrderRemoved{}
	case EventTypeInsufficientFundingFeePayment:
		e = &InsufficientFundingFeePayment{}
	case EventTypeMarketCreated:
		e = &MarketCreated{}
	case EventTypeMarketConfigUpdated:
		e = &MarketConfigUpdated{}
	case EventTypePositionImpactDistributed:
		e = &PositionImpactDistributed{}
	case EventTypeAdlStateUpdated:
		e = &AdlStateUpdated{}
	default:
		return nil, fmt.Errorf("decode: unknown event type %d", eventType)
	}
	if err := json.Unmarshal(payload, e); err != nil {
		return nil, fmt.Errorf("decode %s: %w", eventType, err)
	}
	return e, nil
}

// EventTypeFromString parses the wire name of an event type.
func EventTypeFromString(name string) (EventType, bool) {
	for t := EventTypeMarketStateUpdated; t <= EventTypeAdlStateUpdated; t++ {
		if t.String() == name {
			return t, true
		}
	}
	return EventTypeUnknown, false
}
