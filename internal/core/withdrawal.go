package core

import (
	"fmt"
	"math/big"

	"gmsol/internal/event"
	fpmath "gmsol/internal/math"
	"gmsol/internal/oracle"
	"gmsol/internal/state"
)

// WithdrawalParams are the executed-withdrawal inputs.
type WithdrawalParams struct {
	MarketTokenAmount   *big.Int
	MinLongTokenAmount  *big.Int
	MinShortTokenAmount *big.Int
}

// ExecuteWithdrawal burns market tokens and pays out both collateral sides
// proportionally to their pool value, charging the swap fee on each side.
// The PnL-factor gate is checked before any state changes.
func ExecuteWithdrawal(rm *RevertibleMarket, prices oracle.Prices, params WithdrawalParams, ref string) (*event.WithdrawalReport, []*event.MarketFeesUpdated, error) {
	burn := zeroIfNil(params.MarketTokenAmount)
	if burn.Sign() == 0 {
		return nil, nil, fmt.Errorf("withdrawal: %w: zero amount", ErrInvalidArgument)
	}
	view := rm.View()
	for _, isLong := range [2]bool{true, false} {
		excess, err := view.PnlFactorExceeded(prices, state.PnlFactorForWithdrawal, isLong)
		if err != nil {
			return nil, nil, err
		}
		if excess != nil {
			return nil, nil, fmt.Errorf("%w: %s withdrawal", ErrPnlFactorExceeded, sideName(isLong))
		}
	}

	supply := rm.State().MarketTokenSupply
	if supply.Sign() == 0 || burn.Cmp(supply) > 0 {
		return nil, nil, fmt.Errorf("withdrawal: %w: burn %s exceeds supply %s", ErrInvalidArgument, burn, supply)
	}
	// Value the pool at minimized prices so withdrawals never overpay.
	poolValue, err := view.PoolValue(prices, false)
	if err != nil {
		return nil, nil, err
	}
	if poolValue.Sign() <= 0 {
		return nil, nil, fmt.Errorf("withdrawal: %w: non-positive pool value", ErrPreconditionsAreNotMet)
	}
	totalUsd, err := fpmath.MulDiv(burn, poolValue, supply, fpmath.RoundDown)
	if err != nil {
		return nil, nil, err
	}

	primary := rm.Pool(state.PoolPrimary)
	longUsd := new(big.Int).Mul(primary.LongAmount(), prices.Long.Pick(false))
	shortUsd := new(big.Int).Mul(primary.ShortAmount(), prices.Short.Pick(false))
	sideSum := new(big.Int).Add(longUsd, shortUsd)
	if sideSum.Sign() == 0 {
		return nil, nil, fmt.Errorf("withdrawal: %w: empty pool", ErrPreconditionsAreNotMet)
	}

	meta := rm.Market().Meta
	feeParams := SwapFeeParams(rm.Market().Config())
	var feeEvents []*event.MarketFeesUpdated
	payOut := func(isLong bool, sideUsd *big.Int, token state.Token, minOut *big.Int) (*big.Int, error) {
		outUsd, err := fpmath.MulDiv(totalUsd, sideUsd, sideSum, fpmath.RoundDown)
		if err != nil {
			return nil, err
		}
		price := prices.Collateral(isLong)
		amount, err := fpmath.Div(outUsd, price.Pick(false), fpmath.RoundDown)
		if err != nil {
			return nil, err
		}
		afterFee, fees, err := feeParams.Apply(amount, false)
		if err != nil {
			return nil, err
		}
		if afterFee.Cmp(zeroIfNil(minOut)) < 0 {
			return nil, fmt.Errorf("withdrawal: %w: %s side", ErrInsufficientOutputAmount, sideName(isLong))
		}
		// The pool keeps its fee share in place; only the paid amount and
		// the receiver share leave it.
		removed := new(big.Int).Add(afterFee, fees.ForReceiver)
		neg, err := fpmath.ToOppositeSigned(removed)
		if err != nil {
			return nil, err
		}
		if err := rm.ApplyPoolDelta(state.PoolPrimary, isLong, neg); err != nil {
			return nil, fmt.Errorf("withdrawal: %w: %v", ErrInsufficientReserve, err)
		}
		if fees.ForReceiver.Sign() > 0 {
			if err := rm.ApplyPoolDelta(state.PoolClaimableFee, isLong, fees.ForReceiver); err != nil {
				return nil, err
			}
			feeEvents = append(feeEvents, &event.MarketFeesUpdated{
				Ref:            ref,
				Market:         meta.MarketToken,
				Token:          token,
				FeeForPool:     fees.ForPool,
				FeeForReceiver: fees.ForReceiver,
			})
		}
		return afterFee, nil
	}
	longOut, err := payOut(true, longUsd, meta.LongToken, params.MinLongTokenAmount)
	if err != nil {
		return nil, nil, err
	}
	shortOut, err := payOut(false, shortUsd, meta.ShortToken, params.MinShortTokenAmount)
	if err != nil {
		return nil, nil, err
	}

	other := rm.State()
	other.MarketTokenSupply = new(big.Int).Sub(other.MarketTokenSupply, burn)
	newLongBal := new(big.Int).Sub(other.LongTokenBalance, longOut)
	newShortBal := new(big.Int).Sub(other.ShortTokenBalance, shortOut)
	if newLongBal.Sign() < 0 || newShortBal.Sign() < 0 {
		return nil, nil, fmt.Errorf("withdrawal: %w", ErrInsufficientFunds)
	}
	other.LongTokenBalance = newLongBal
	other.ShortTokenBalance = newShortBal
	rm.MarkStateDirty()

	for _, isLong := range [2]bool{true, false} {
		if err := ValidateReserve(rm, prices, isLong); err != nil {
			return nil, nil, err
		}
	}

	return &event.WithdrawalReport{
		Ref:               ref,
		Market:            meta.MarketToken,
		BurnedAmount:      burn,
		LongTokenAmount:   longOut,
		ShortTokenAmount:  shortOut,
		MarketTokenSupply: new(big.Int).Set(other.MarketTokenSupply),
	}, feeEvents, nil
}
