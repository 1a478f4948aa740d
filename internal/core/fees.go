package core

import (
	"math/big"

	fpmath "gmsol/internal/math"
	"gmsol/internal/oracle"
	"gmsol/internal/state"
)

// FeeParams carries one fee schedule: a factor per impact sign and the
// share routed to the fee receiver.
type FeeParams struct {
	ReceiverFactor    *big.Int
	FactorForPositive *big.Int
	FactorForNegative *big.Int
}

// SwapFeeParams reads the swap fee schedule from the market config.
func SwapFeeParams(cfg *state.MarketConfig) FeeParams {
	return FeeParams{
		ReceiverFactor:    cfg.Get(state.KeySwapFeeReceiverFactor),
		FactorForPositive: cfg.Get(state.KeySwapFeeFactorForPositiveImpact),
		FactorForNegative: cfg.Get(state.KeySwapFeeFactorForNegativeImpact),
	}
}

// OrderFeeParams reads the order fee schedule from the market config.
func OrderFeeParams(cfg *state.MarketConfig) FeeParams {
	return FeeParams{
		ReceiverFactor:    cfg.Get(state.KeyOrderFeeReceiverFactor),
		FactorForPositive: cfg.Get(state.KeyOrderFeeFactorForPositiveImpact),
		FactorForNegative: cfg.Get(state.KeyOrderFeeFactorForNegativeImpact),
	}
}

// Fees is a fee amount split into its two destinations.
type Fees struct {
	ForPool     *big.Int
	ForReceiver *big.Int
}

// Total returns the full fee amount.
func (f Fees) Total() *big.Int {
	return new(big.Int).Add(f.ForPool, f.ForReceiver)
}

// Apply charges the fee on amount, choosing the factor by impact sign.
// Zero impact pays the positive-impact factor. Returns the amount after the
// fee and the split.
func (p FeeParams) Apply(amount *big.Int, isPositiveImpact bool) (*big.Int, Fees, error) {
	factor := p.FactorForNegative
	if isPositiveImpact {
		factor = p.FactorForPositive
	}
	fee, err := fpmath.ApplyFactor(amount, factor)
	if err != nil {
		return nil, Fees{}, err
	}
	receiver, err := fpmath.ApplyFactor(fee, p.ReceiverFactor)
	if err != nil {
		return nil, Fees{}, err
	}
	if amount.Cmp(fee) < 0 {
		return nil, Fees{}, ErrInsufficientFunds
	}
	return new(big.Int).Sub(amount, fee), Fees{
		ForPool:     new(big.Int).Sub(fee, receiver),
		ForReceiver: receiver,
	}, nil
}

// SplitByReceiverFactor divides a fee amount by a receiver factor.
func SplitByReceiverFactor(amount, receiverFactor *big.Int) (Fees, error) {
	receiver, err := fpmath.ApplyFactor(amount, receiverFactor)
	if err != nil {
		return Fees{}, err
	}
	return Fees{
		ForPool:     new(big.Int).Sub(amount, receiver),
		ForReceiver: receiver,
	}, nil
}

// LiquidationFee returns the liquidation fee in collateral tokens for a
// position of the given USD size, split by the configured receiver factor.
// Only liquidation orders pay it.
func LiquidationFee(cfg *state.MarketConfig, sizeInUsd *big.Int, collateralPrice oracle.Price) (*big.Int, Fees, error) {
	feeUsd, err := fpmath.ApplyFactor(sizeInUsd, cfg.Get(state.KeyLiquidationFeeFactor))
	if err != nil {
		return nil, Fees{}, err
	}
	feeAmount, err := fpmath.Div(feeUsd, collateralPrice.Min, fpmath.RoundUp)
	if err != nil {
		return nil, Fees{}, err
	}
	split, err := SplitByReceiverFactor(feeAmount, cfg.Get(state.KeyLiquidationFeeReceiverFactor))
	if err != nil {
		return nil, Fees{}, err
	}
	return feeAmount, split, nil
}
