package core

import (
	"fmt"
	"math/big"

	"gmsol/internal/event"
	fpmath "gmsol/internal/math"
	"gmsol/internal/oracle"
	"gmsol/internal/state"
)

// IncreaseParams are the executed increase-order inputs.
type IncreaseParams struct {
	CollateralDeltaAmount *big.Int
	SizeDeltaUsd          *big.Int
	AcceptablePrice       *big.Int
}

// ExecutePositionIncrease grows a position: accruals first, then impact,
// execution price, fee settlement, pool and position updates, and the full
// validation list. The ordering of the pre-steps (impact distribution,
// borrowing, funding) is a contract shared with every other operation.
func ExecutePositionIncrease(rm *RevertibleMarket, rp *RevertiblePosition, prices oracle.Prices, params IncreaseParams, now int64, ref string) (*event.IncreaseReport, []event.Event, error) {
	pre, err := runAccruals(rm, prices, now, ref)
	if err != nil {
		return nil, nil, err
	}
	p := rp.Position()
	isLong := p.Kind.IsLong()
	sizeDelta := zeroIfNil(params.SizeDeltaUsd)
	collateralDelta := zeroIfNil(params.CollateralDeltaAmount)
	view := rm.View()
	collateralIsLong, err := p.IsCollateralLong(view)
	if err != nil {
		return nil, nil, err
	}
	// Position price impact from the open-interest imbalance change. The
	// capped remainder of a positive impact simply does not improve the
	// execution price.
	settledImpact := new(big.Int)
	if sizeDelta.Sign() > 0 {
		impactUsd, err := openInterestImpact(view, rm.Market().Config(), sizeDelta, isLong, true)
		if err != nil {
			return nil, nil, err
		}
		impactUsd, err = CapPositionImpact(rm.Market().Config(), sizeDelta, impactUsd, false)
		if err != nil {
			return nil, nil, err
		}
		settledImpact, _, err = ApplyPositionImpact(rm, prices.Index, impactUsd)
		if err != nil {
			return nil, nil, err
		}
	}

	executionPrice, err := ExecutionPrice(prices.Index, sizeDelta, settledImpact, isLong, true)
	if err != nil {
		return nil, nil, err
	}
	if err := CheckAcceptablePrice(executionPrice, params.AcceptablePrice, isLong, true); err != nil {
		return nil, nil, err
	}

	settle, feeEvents, err := settlePositionFees(rm, p, prices, collateralIsLong, sizeDelta, settledImpact.Sign() >= 0, false, ref)
	if err != nil {
		return nil, nil, err
	}
	pre = append(pre, feeEvents...)

	// Collateral after the delta and all fees.
	newCollateral := new(big.Int).Add(p.State.CollateralAmount, collateralDelta)
	if newCollateral.Cmp(settle.totalCost) < 0 {
		return nil, nil, fmt.Errorf("increase: %w", ErrInsufficientFunds)
	}
	newCollateral.Sub(newCollateral, settle.totalCost)

	// Size delta in index tokens: floor for longs, ceil for shorts, so the
	// books never credit a long more tokens than paid for.
	rounding := fpmath.RoundDown
	if !isLong {
		rounding = fpmath.RoundUp
	}
	sizeDeltaTokens := new(big.Int)
	if sizeDelta.Sign() > 0 {
		sizeDeltaTokens, err = fpmath.Div(sizeDelta, executionPrice, rounding)
		if err != nil {
			return nil, nil, err
		}
	}

	if sizeDelta.Sign() > 0 {
		if err := rm.ApplyPoolDelta(openInterestPool(isLong), collateralIsLong, sizeDelta); err != nil {
			return nil, nil, err
		}
		if err := rm.ApplyPoolDelta(openInterestInTokensPool(isLong), collateralIsLong, sizeDeltaTokens); err != nil {
			return nil, nil, err
		}
	}
	collateralChange := new(big.Int).Sub(newCollateral, p.State.CollateralAmount)
	if collateralChange.Sign() != 0 {
		if err := rm.ApplyPoolDelta(collateralSumPool(isLong), collateralIsLong, collateralChange); err != nil {
			return nil, nil, err
		}
	}

	other := rm.State()
	other.TradeCount++
	tradeID := other.TradeCount
	other.LongTokenBalance, other.ShortTokenBalance, err = adjustBalance(other, collateralIsLong, collateralDelta)
	if err != nil {
		return nil, nil, err
	}
	rm.MarkStateDirty()

	st := p.State
	st.SizeInUsd = new(big.Int).Add(st.SizeInUsd, sizeDelta)
	st.SizeInTokens = new(big.Int).Add(st.SizeInTokens, sizeDeltaTokens)
	st.CollateralAmount = newCollateral
	st.BorrowingFactorAtOpen = settle.cumulativeBorrowing
	st.FundingFeeAmountPerSizeAtOpen = settle.funding.AmountPerSize
	st.ClaimableFundingPerSizeLongAtOpen = settle.funding.ClaimablePerSizeLongToken
	st.ClaimableFundingPerSizeShortAtOpen = settle.funding.ClaimablePerSizeShortToken
	st.TradeID = tradeID
	st.IncreasedAt = now

	if err := p.Validate(view); err != nil {
		return nil, nil, err
	}
	if err := validatePositionAfterChange(rm, p, prices); err != nil {
		return nil, nil, err
	}

	return &event.IncreaseReport{
		Ref:              ref,
		Market:           rm.Market().Meta.MarketToken,
		PositionID:       p.ID,
		IsLong:           isLong,
		ExecutionPrice:   executionPrice,
		SizeDeltaUsd:     sizeDelta,
		SizeDeltaTokens:  sizeDeltaTokens,
		CollateralDelta:  collateralDelta,
		PriceImpactValue: settledImpact,
		Fees:             settle.report(),
		SizeInUsd:        new(big.Int).Set(st.SizeInUsd),
		CollateralAmount: new(big.Int).Set(st.CollateralAmount),
	}, pre, nil
}

// runAccruals performs the ordered pre-steps every operation starts with.
func runAccruals(rm *RevertibleMarket, prices oracle.Prices, now int64, ref string) ([]event.Event, error) {
	var events []event.Event
	if evt, err := DistributePositionImpact(rm, now, ref); err != nil {
		return nil, err
	} else if evt != nil {
		events = append(events, evt)
	}
	if evt, err := UpdateBorrowingState(rm, prices, now, ref); err != nil {
		return nil, err
	} else if evt != nil {
		events = append(events, evt)
	}
	if evt, err := UpdateFundingState(rm, prices, now, ref); err != nil {
		return nil, err
	} else if evt != nil {
		events = append(events, evt)
	}
	return events, nil
}

// openInterestImpact prices the OI imbalance change of adding or removing
// sizeDeltaUsd on one side.
func openInterestImpact(view *state.Market, cfg *state.MarketConfig, sizeDeltaUsd *big.Int, isLong, isIncrease bool) (*big.Int, error) {
	longOI := view.OpenInterest(true)
	shortOI := view.OpenInterest(false)
	nextLong := new(big.Int).Set(longOI)
	nextShort := new(big.Int).Set(shortOI)
	target := nextLong
	if !isLong {
		target = nextShort
	}
	if isIncrease {
		target.Add(target, sizeDeltaUsd)
	} else {
		target.Sub(target, sizeDeltaUsd)
		if target.Sign() < 0 {
			return nil, fmt.Errorf("impact: %w: size delta exceeds open interest", ErrInvalidArgument)
		}
	}
	return PriceImpact(PositionImpactParams(cfg), longOI, shortOI, nextLong, nextShort)
}

func openInterestPool(isLong bool) state.PoolKind {
	if isLong {
		return state.PoolOpenInterestForLong
	}
	return state.PoolOpenInterestForShort
}

func openInterestInTokensPool(isLong bool) state.PoolKind {
	if isLong {
		return state.PoolOpenInterestInTokensForLong
	}
	return state.PoolOpenInterestInTokensForShort
}

func collateralSumPool(isLong bool) state.PoolKind {
	if isLong {
		return state.PoolCollateralSumForLong
	}
	return state.PoolCollateralSumForShort
}

func adjustBalance(other *state.OtherState, collateralIsLong bool, delta *big.Int) (*big.Int, *big.Int, error) {
	longBal := new(big.Int).Set(other.LongTokenBalance)
	shortBal := new(big.Int).Set(other.ShortTokenBalance)
	target := longBal
	if !collateralIsLong {
		target = shortBal
	}
	target.Add(target, delta)
	if target.Sign() < 0 {
		return nil, nil, ErrInsufficientFunds
	}
	return longBal, shortBal, nil
}
