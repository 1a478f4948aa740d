package core

import (
	"fmt"
	"math/big"

	fpmath "gmsol/internal/math"
	"gmsol/internal/oracle"
	"gmsol/internal/state"
)

// ExecutionPrice derives the effective index price for a size delta with a
// settled USD impact folded in. On increase the trader enters at the worse
// bound of the index spread; on decrease they exit at it. Positive impact
// always moves the price in the trader's favor.
func ExecutionPrice(indexPrice oracle.Price, sizeDeltaUsd, impactUsd *big.Int, isLong, isIncrease bool) (*big.Int, error) {
	if sizeDeltaUsd.Sign() == 0 {
		return indexPrice.Pick(isLong == isIncrease), nil
	}
	base := indexPrice.Pick(isLong == isIncrease)
	adjusted := new(big.Int).Add(sizeDeltaUsd, impactUsd)
	if adjusted.Sign() <= 0 {
		return nil, fmt.Errorf("execution price: %w: impact swallows the whole delta", ErrUnacceptablePrice)
	}
	// Long entries and short exits pay size/(size+impact); the mirrored
	// cases pay (size+impact)/size. Rounding is always against the trader.
	if isLong == isIncrease {
		return fpmath.MulDiv(base, sizeDeltaUsd, adjusted, fpmath.RoundUp)
	}
	return fpmath.MulDiv(base, adjusted, sizeDeltaUsd, fpmath.RoundDown)
}

// CheckAcceptablePrice rejects an execution price worse than the trader's
// bound. A nil or zero bound disables the check.
func CheckAcceptablePrice(executionPrice, acceptable *big.Int, isLong, isIncrease bool) error {
	if acceptable == nil || acceptable.Sign() == 0 {
		return nil
	}
	// Longs want to buy low and sell high; shorts mirrored.
	wantBelow := isLong == isIncrease
	if wantBelow && executionPrice.Cmp(acceptable) > 0 {
		return ErrUnacceptablePrice
	}
	if !wantBelow && executionPrice.Cmp(acceptable) < 0 {
		return ErrUnacceptablePrice
	}
	return nil
}

// PositionPnl returns the signed USD PnL for closing sizeDeltaUsd of the
// position at the given execution price, along with the size-in-tokens
// share being closed. Closing the full size closes all tokens so no dust
// survives a full close.
func PositionPnl(p *state.Position, executionPrice, sizeDeltaUsd *big.Int) (pnlUsd, sizeDeltaTokens *big.Int, err error) {
	st := p.State
	if st.SizeInUsd.Sign() == 0 || sizeDeltaUsd.Sign() == 0 {
		return new(big.Int), new(big.Int), nil
	}
	if sizeDeltaUsd.Cmp(st.SizeInUsd) >= 0 {
		sizeDeltaTokens = new(big.Int).Set(st.SizeInTokens)
		sizeDeltaUsd = st.SizeInUsd
	} else {
		sizeDeltaTokens, err = fpmath.MulDiv(st.SizeInTokens, sizeDeltaUsd, st.SizeInUsd, fpmath.RoundDown)
		if err != nil {
			return nil, nil, err
		}
	}
	value := new(big.Int).Mul(sizeDeltaTokens, executionPrice)
	if err := fpmath.CheckU128(value); err != nil {
		return nil, nil, err
	}
	if p.Kind.IsLong() {
		pnlUsd = new(big.Int).Sub(value, sizeDeltaUsd)
	} else {
		pnlUsd = new(big.Int).Sub(sizeDeltaUsd, value)
	}
	if err := fpmath.CheckI128(pnlUsd); err != nil {
		return nil, nil, err
	}
	return pnlUsd, sizeDeltaTokens, nil
}

// minCollateralFactor returns the effective minimum collateral factor,
// raised by the configured open-interest multiplier so crowded sides demand
// more collateral.
func minCollateralFactor(m *state.Market, isLong bool) (*big.Int, error) {
	cfg := m.Config()
	base := cfg.Get(state.KeyMinCollateralFactor)
	multiplier := cfg.MinCollateralFactorForOpenInterestMultiplier(isLong)
	if multiplier.Sign() == 0 {
		return base, nil
	}
	scaled, err := fpmath.ApplyFactor(m.OpenInterest(isLong), multiplier)
	if err != nil {
		return nil, err
	}
	return fpmath.Max(base, scaled), nil
}

// IsLiquidatable reports whether a position's remaining collateral value,
// after pending PnL and all accrued fees at liquidation prices, falls below
// the required minimum. Pending funding fees exceeding collateral also
// trigger liquidation.
func IsLiquidatable(m *state.Market, p *state.Position, prices oracle.Prices) (bool, error) {
	st := p.State
	if st.SizeInUsd.Sign() == 0 {
		return false, nil
	}
	isLong := p.Kind.IsLong()
	collateralIsLong, err := p.IsCollateralLong(m)
	if err != nil {
		return false, err
	}
	collateralPrice := prices.Collateral(collateralIsLong)
	collateralValue := new(big.Int).Mul(st.CollateralAmount, collateralPrice.Min)
	if err := fpmath.CheckU128(collateralValue); err != nil {
		return false, err
	}

	// Worst-case exit price for the trader.
	exitPrice := prices.Index.Pick(!isLong)
	pnlUsd, _, err := PositionPnl(p, exitPrice, st.SizeInUsd)
	if err != nil {
		return false, err
	}

	borrowingUsd, err := PositionBorrowingFee(m.CumulativeBorrowingFactor(isLong), p)
	if err != nil {
		return false, err
	}
	funding, err := ComputePositionFundingFees(m, p, collateralIsLong)
	if err != nil {
		return false, err
	}
	fundingUsd := new(big.Int).Mul(funding.Amount, collateralPrice.Min)
	if funding.Amount.Cmp(st.CollateralAmount) > 0 {
		return true, nil
	}

	remaining := new(big.Int).Add(collateralValue, pnlUsd)
	remaining.Sub(remaining, borrowingUsd)
	remaining.Sub(remaining, fundingUsd)

	factor, err := minCollateralFactor(m, isLong)
	if err != nil {
		return false, err
	}
	required, err := fpmath.ApplyFactor(st.SizeInUsd, factor)
	if err != nil {
		return false, err
	}
	required = fpmath.Max(required, m.Config().Get(state.KeyMinCollateralValue))
	return remaining.Cmp(required) < 0, nil
}

// validatePositionAfterChange runs the post-mutation checks shared by
// increase and partial decrease.
func validatePositionAfterChange(rm *RevertibleMarket, p *state.Position, prices oracle.Prices) error {
	view := rm.View()
	cfg := rm.Market().Config()
	isLong := p.Kind.IsLong()

	if p.State.SizeInUsd.Sign() > 0 {
		if p.State.SizeInUsd.Cmp(cfg.Get(state.KeyMinPositionSizeUsd)) < 0 {
			return ErrMinPositionSize
		}
		collateralIsLong, err := p.IsCollateralLong(view)
		if err != nil {
			return err
		}
		collateralValue := new(big.Int).Mul(p.State.CollateralAmount, prices.Collateral(collateralIsLong).Min)
		if collateralValue.Cmp(cfg.Get(state.KeyMinCollateralValue)) < 0 {
			return ErrMinCollateral
		}
		liq, err := IsLiquidatable(view, p, prices)
		if err != nil {
			return err
		}
		if liq {
			return ErrLiquidatable
		}
	}
	if view.OpenInterest(isLong).Cmp(cfg.MaxOpenInterest(isLong)) > 0 {
		return ErrMaxOpenInterestExceeded
	}
	return ValidateReserve(rm, prices, isLong)
}
