package event

import (
	"math/big"

	"gmsol/internal/state"
)

// SwapReport is the outcome of one swap hop.
type SwapReport struct {
	Ref    string      `json:"ref"`
	Market state.Token `json:"market_token"`

	TokenIn  state.Token `json:"token_in"`
	TokenOut state.Token `json:"token_out"`

	AmountIn  *big.Int `json:"amount_in"`
	AmountOut *big.Int `json:"amount_out"`

	// Signed price impact in USD
	PriceImpactValue *big.Int `json:"price_impact_value"`
	FeeForPool       *big.Int `json:"fee_for_pool"`
	FeeForReceiver   *big.Int `json:"fee_for_receiver"`
}

func (e *SwapReport) EventType() EventType      { return EventTypeSwapExecuted }
func (e *SwapReport) MarketToken() *state.Token { return &e.Market }
func (e *SwapReport) ActionRef() string         { return e.Ref }

// DepositReport is the outcome of an executed deposit.
type DepositReport struct {
	Ref    string      `json:"ref"`
	Market state.Token `json:"market_token"`

	LongTokenAmount  *big.Int `json:"long_token_amount"`
	ShortTokenAmount *big.Int `json:"short_token_amount"`
	MintedAmount     *big.Int `json:"minted_amount"`

	MarketTokenSupply *big.Int `json:"market_token_supply"`
}

func (e *DepositReport) EventType() EventType      { return EventTypeDepositExecuted }
func (e *DepositReport) MarketToken() *state.Token { return &e.Market }
func (e *DepositReport) ActionRef() string         { return e.Ref }

// WithdrawalReport is the outcome of an executed withdrawal.
type WithdrawalReport struct {
	Ref    string      `json:"ref"`
	Market state.Token `json:"market_token"`

	BurnedAmount     *big.Int `json:"burned_amount"`
	LongTokenAmount  *big.Int `json:"long_token_amount"`
	ShortTokenAmount *big.Int `json:"short_token_amount"`

	MarketTokenSupply *big.Int `json:"market_token_supply"`
}

func (e *WithdrawalReport) EventType() EventType      { return EventTypeWithdrawalExecuted }
func (e *WithdrawalReport) MarketToken() *state.Token { return &e.Market }
func (e *WithdrawalReport) ActionRef() string         { return e.Ref }

// ShiftReport is the outcome of moving liquidity between two markets
// sharing the same collateral pair.
type ShiftReport struct {
	Ref        string      `json:"ref"`
	FromMarket state.Token `json:"from_market_token"`
	ToMarket   state.Token `json:"to_market_token"`

	FromMarketTokenAmount *big.Int `json:"from_market_token_amount"`
	LongTokenAmount       *big.Int `json:"long_token_amount"`
	ShortTokenAmount      *big.Int `json:"short_token_amount"`
	ToMarketTokenAmount   *big.Int `json:"to_market_token_amount"`
}

func (e *ShiftReport) EventType() EventType      { return EventTypeShiftExecuted }
func (e *ShiftReport) MarketToken() *state.Token { return &e.FromMarket }
func (e *ShiftReport) ActionRef() string         { return e.Ref }
