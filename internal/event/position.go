package event

import (
	"math/big"

	"github.com/google/uuid"

	"gmsol/internal/state"
)

// ExecutionFees breaks an order fee down into its destinations.
type ExecutionFees struct {
	OrderFeeForPool     *big.Int `json:"order_fee_for_pool"`
	OrderFeeForReceiver *big.Int `json:"order_fee_for_receiver"`
	BorrowingFee        *big.Int `json:"borrowing_fee"`
	FundingFee          *big.Int `json:"funding_fee"`
	LiquidationFee      *big.Int `json:"liquidation_fee,omitempty"`
}

// Total is the sum paid from collateral, excluding claimable funding.
func (f *ExecutionFees) Total() *big.Int {
	total := new(big.Int).Add(f.OrderFeeForPool, f.OrderFeeForReceiver)
	total.Add(total, f.BorrowingFee)
	total.Add(total, f.FundingFee)
	if f.LiquidationFee != nil {
		total.Add(total, f.LiquidationFee)
	}
	return total
}

// IncreaseReport is the outcome of an executed increase order.
type IncreaseReport struct {
	Ref        string      `json:"ref"`
	Market     state.Token `json:"market_token"`
	PositionID uuid.UUID   `json:"position_id"`
	IsLong     bool        `json:"is_long"`

	ExecutionPrice  *big.Int `json:"execution_price"`
	SizeDeltaUsd    *big.Int `json:"size_delta_usd"`
	SizeDeltaTokens *big.Int `json:"size_delta_tokens"`
	CollateralDelta *big.Int `json:"collateral_delta"`

	// Signed price impact in USD at execution
	PriceImpactValue *big.Int `json:"price_impact_value"`
	Fees             ExecutionFees `json:"fees"`

	SizeInUsd        *big.Int `json:"size_in_usd"`
	CollateralAmount *big.Int `json:"collateral_amount"`
}

func (e *IncreaseReport) EventType() EventType      { return EventTypePositionIncreased }
func (e *IncreaseReport) MarketToken() *state.Token { return &e.Market }
func (e *IncreaseReport) ActionRef() string         { return e.Ref }

// DecreaseReport is the outcome of an executed decrease order, including
// liquidations and auto-deleveraging.
type DecreaseReport struct {
	Ref        string      `json:"ref"`
	Market     state.Token `json:"market_token"`
	PositionID uuid.UUID   `json:"position_id"`
	IsLong     bool        `json:"is_long"`

	ExecutionPrice  *big.Int `json:"execution_price"`
	SizeDeltaUsd    *big.Int `json:"size_delta_usd"`
	SizeDeltaTokens *big.Int `json:"size_delta_tokens"`

	// Signed realized PnL in USD for the closed portion
	BasePnlUsd       *big.Int `json:"base_pnl_usd"`
	PriceImpactValue *big.Int `json:"price_impact_value"`
	Fees             ExecutionFees `json:"fees"`

	// Amounts paid out, denominated in the respective tokens
	OutputAmount          *big.Int `json:"output_amount"`
	SecondaryOutputAmount *big.Int `json:"secondary_output_amount"`

	// Position state after the decrease; zero size means closed
	SizeInUsd        *big.Int `json:"size_in_usd"`
	CollateralAmount *big.Int `json:"collateral_amount"`

	IsLiquidation bool `json:"is_liquidation"`
	IsAdl         bool `json:"is_adl"`
}

func (e *DecreaseReport) EventType() EventType      { return EventTypePositionDecreased }
func (e *DecreaseReport) MarketToken() *state.Token { return &e.Market }
func (e *DecreaseReport) ActionRef() string         { return e.Ref }

// InsufficientFundingFeePayment reports a funding fee that could not be
// fully paid from collateral and was absorbed by the pool.
type InsufficientFundingFeePayment struct {
	Ref             string      `json:"ref"`
	Market          state.Token `json:"market_token"`
	PositionID      uuid.UUID   `json:"position_id"`
	CostAmount      *big.Int    `json:"cost_amount"`
	PaidAmount      *big.Int    `json:"paid_amount"`
	IsCollateralLong bool       `json:"is_collateral_long"`
}

func (e *InsufficientFundingFeePayment) EventType() EventType {
	return EventTypeInsufficientFundingFeePayment
}
func (e *InsufficientFundingFeePayment) MarketToken() *state.Token { return &e.Market }
func (e *InsufficientFundingFeePayment) ActionRef() string         { return e.Ref }
