package core

import (
	"fmt"
	"math/big"

	"gmsol/internal/event"
	fpmath "gmsol/internal/math"
	"gmsol/internal/oracle"
	"gmsol/internal/state"
)

// DecreaseSwapType selects how the two output legs are combined.
type DecreaseSwapType int32

const (
	DecreaseSwapNone DecreaseSwapType = iota
	// Swap the profit leg into the collateral token
	DecreaseSwapPnlTokenToCollateralToken
	// Swap the collateral leg into the profit token
	DecreaseSwapCollateralTokenToPnlToken
)

// DecreaseFlavor distinguishes user decreases from forced ones.
type DecreaseFlavor int32

const (
	DecreaseFlavorUser DecreaseFlavor = iota
	DecreaseFlavorLiquidation
	DecreaseFlavorAdl
)

// DecreaseParams are the executed decrease-order inputs.
type DecreaseParams struct {
	SizeDeltaUsd               *big.Int
	CollateralWithdrawalAmount *big.Int
	AcceptablePrice            *big.Int
	SwapType                   DecreaseSwapType
	Flavor                     DecreaseFlavor
}

// ExecutePositionDecrease shrinks or closes a position, realizing PnL and
// settling all pending fees. Liquidation requires the liquidation predicate
// to hold; ADL requires the side's ADL flag and must reduce the pnl factor.
// A size delta at or above the position size closes it entirely, tokens
// included, so repeated closes are idempotent.
func ExecutePositionDecrease(rm *RevertibleMarket, rp *RevertiblePosition, prices oracle.Prices, params DecreaseParams, now int64, ref string) (*event.DecreaseReport, []event.Event, error) {
	pre, err := runAccruals(rm, prices, now, ref)
	if err != nil {
		return nil, nil, err
	}
	p := rp.Position()
	isLong := p.Kind.IsLong()
	view := rm.View()
	collateralIsLong, err := p.IsCollateralLong(view)
	if err != nil {
		return nil, nil, err
	}
	if p.State.SizeInUsd.Sign() == 0 {
		return nil, nil, fmt.Errorf("decrease: %w: empty position", ErrInvalidPosition)
	}

	isLiquidation := params.Flavor == DecreaseFlavorLiquidation
	isAdl := params.Flavor == DecreaseFlavorAdl
	switch params.Flavor {
	case DecreaseFlavorLiquidation:
		liq, err := IsLiquidatable(view, p, prices)
		if err != nil {
			return nil, nil, err
		}
		if !liq {
			return nil, nil, ErrNotLiquidatable
		}
	case DecreaseFlavorAdl:
		flag := state.FlagAdlEnabledForShort
		if isLong {
			flag = state.FlagAdlEnabledForLong
		}
		if !rm.Market().Flags.Has(flag) {
			return nil, nil, ErrAdlNotRequired
		}
	}

	sizeDelta := zeroIfNil(params.SizeDeltaUsd)
	if isLiquidation || sizeDelta.Cmp(p.State.SizeInUsd) > 0 {
		sizeDelta = new(big.Int).Set(p.State.SizeInUsd)
	}
	if sizeDelta.Sign() == 0 && zeroIfNil(params.CollateralWithdrawalAmount).Sign() == 0 {
		return nil, nil, fmt.Errorf("decrease: %w: empty delta", ErrInvalidArgument)
	}
	willClose := sizeDelta.Cmp(p.State.SizeInUsd) == 0

	// Impact of removing size from this side.
	settledImpact := new(big.Int)
	if sizeDelta.Sign() > 0 {
		impactUsd, err := openInterestImpact(view, rm.Market().Config(), sizeDelta, isLong, false)
		if err != nil {
			return nil, nil, err
		}
		impactUsd, err = CapPositionImpact(rm.Market().Config(), sizeDelta, impactUsd, isLiquidation)
		if err != nil {
			return nil, nil, err
		}
		settledImpact, _, err = ApplyPositionImpact(rm, prices.Index, impactUsd)
		if err != nil {
			return nil, nil, err
		}
	}

	executionPrice, err := ExecutionPrice(prices.Index, sizeDelta, settledImpact, isLong, false)
	if err != nil {
		return nil, nil, err
	}
	if !isLiquidation && !isAdl {
		if err := CheckAcceptablePrice(executionPrice, params.AcceptablePrice, isLong, false); err != nil {
			return nil, nil, err
		}
	}

	pnlUsd, sizeDeltaTokens, err := PositionPnl(p, executionPrice, sizeDelta)
	if err != nil {
		return nil, nil, err
	}
	pnlUsd, err = capRealizedPnl(view, prices, pnlUsd, isLong, isAdl)
	if err != nil {
		return nil, nil, err
	}

	settle, feeEvents, err := settlePositionFees(rm, p, prices, collateralIsLong, sizeDelta, settledImpact.Sign() >= 0, isLiquidation, ref)
	if err != nil {
		return nil, nil, err
	}
	pre = append(pre, feeEvents...)

	collateral := new(big.Int).Set(p.State.CollateralAmount)
	if collateral.Cmp(settle.totalCost) < 0 {
		if !isLiquidation {
			return nil, nil, fmt.Errorf("decrease: %w", ErrInsufficientFunds)
		}
		collateral = new(big.Int)
	} else {
		collateral.Sub(collateral, settle.totalCost)
	}

	collateralPrice := prices.Collateral(collateralIsLong)
	secondaryIsLong := !collateralIsLong
	secondaryPrice := prices.Collateral(secondaryIsLong)
	meta := rm.Market().Meta

	output := new(big.Int)
	secondaryOutput := new(big.Int)
	switch pnlUsd.Sign() {
	case 1:
		// Profit is paid from the pool in the non-collateral token.
		profitTokens, err := fpmath.Div(pnlUsd, secondaryPrice.Max, fpmath.RoundDown)
		if err != nil {
			return nil, nil, err
		}
		neg, err := fpmath.ToOppositeSigned(profitTokens)
		if err != nil {
			return nil, nil, err
		}
		if err := rm.ApplyPoolDelta(state.PoolPrimary, secondaryIsLong, neg); err != nil {
			return nil, nil, fmt.Errorf("decrease: %w: %v", ErrInsufficientReserve, err)
		}
		secondaryOutput = profitTokens
	case -1:
		// Losses move collateral tokens into the pool.
		lossUsd := new(big.Int).Neg(pnlUsd)
		lossTokens, err := fpmath.Div(lossUsd, collateralPrice.Min, fpmath.RoundUp)
		if err != nil {
			return nil, nil, err
		}
		if lossTokens.Cmp(collateral) > 0 {
			if !isLiquidation && !isAdl {
				return nil, nil, fmt.Errorf("decrease: %w: loss exceeds collateral", ErrInsufficientFunds)
			}
			lossTokens = new(big.Int).Set(collateral)
		}
		if err := rm.ApplyPoolDelta(state.PoolPrimary, collateralIsLong, lossTokens); err != nil {
			return nil, nil, err
		}
		collateral.Sub(collateral, lossTokens)
	}

	// Collateral withdrawal, plus the full remainder on close.
	withdrawal := zeroIfNil(params.CollateralWithdrawalAmount)
	if willClose || withdrawal.Cmp(collateral) > 0 {
		withdrawal = new(big.Int).Set(collateral)
	}
	collateral.Sub(collateral, withdrawal)
	output.Add(output, withdrawal)

	// Optional same-market swap between the two output legs.
	outputToken := collateralToken(meta, collateralIsLong)
	secondaryToken := collateralToken(meta, secondaryIsLong)
	if !meta.IsPure() {
		switch params.SwapType {
		case DecreaseSwapPnlTokenToCollateralToken:
			if secondaryOutput.Sign() > 0 {
				swapped, report, err := swapWithin(rm, prices, secondaryToken, secondaryOutput, ref)
				if err != nil {
					return nil, nil, err
				}
				pre = append(pre, report)
				output.Add(output, swapped)
				secondaryOutput = new(big.Int)
			}
		case DecreaseSwapCollateralTokenToPnlToken:
			if output.Sign() > 0 {
				swapped, report, err := swapWithin(rm, prices, outputToken, output, ref)
				if err != nil {
					return nil, nil, err
				}
				pre = append(pre, report)
				secondaryOutput.Add(secondaryOutput, swapped)
				output = new(big.Int)
			}
		}
	} else if secondaryOutput.Sign() > 0 {
		// Pure market: both legs are the same mint.
		output.Add(output, secondaryOutput)
		secondaryOutput = new(big.Int)
	}

	// Pool updates for the closed size.
	if sizeDelta.Sign() > 0 {
		negSize, err := fpmath.ToOppositeSigned(sizeDelta)
		if err != nil {
			return nil, nil, err
		}
		if err := rm.ApplyPoolDelta(openInterestPool(isLong), collateralIsLong, negSize); err != nil {
			return nil, nil, err
		}
		negTokens, err := fpmath.ToOppositeSigned(sizeDeltaTokens)
		if err != nil {
			return nil, nil, err
		}
		if err := rm.ApplyPoolDelta(openInterestInTokensPool(isLong), collateralIsLong, negTokens); err != nil {
			return nil, nil, err
		}
	}
	collateralChange := new(big.Int).Sub(collateral, p.State.CollateralAmount)
	if collateralChange.Sign() != 0 {
		if err := rm.ApplyPoolDelta(collateralSumPool(isLong), collateralIsLong, collateralChange); err != nil {
			return nil, nil, err
		}
	}

	other := rm.State()
	other.TradeCount++
	tradeID := other.TradeCount
	if output.Sign() > 0 {
		neg := new(big.Int).Neg(output)
		other.LongTokenBalance, other.ShortTokenBalance, err = adjustBalance(other, outputToken == meta.LongToken, neg)
		if err != nil {
			return nil, nil, err
		}
	}
	if secondaryOutput.Sign() > 0 {
		neg := new(big.Int).Neg(secondaryOutput)
		other.LongTokenBalance, other.ShortTokenBalance, err = adjustBalance(other, secondaryToken == meta.LongToken, neg)
		if err != nil {
			return nil, nil, err
		}
	}
	rm.MarkStateDirty()

	// Position state after the decrease.
	st := p.State
	st.SizeInUsd = new(big.Int).Sub(st.SizeInUsd, sizeDelta)
	st.SizeInTokens = new(big.Int).Sub(st.SizeInTokens, sizeDeltaTokens)
	st.CollateralAmount = collateral
	st.BorrowingFactorAtOpen = settle.cumulativeBorrowing
	st.FundingFeeAmountPerSizeAtOpen = settle.funding.AmountPerSize
	st.ClaimableFundingPerSizeLongAtOpen = settle.funding.ClaimablePerSizeLongToken
	st.ClaimableFundingPerSizeShortAtOpen = settle.funding.ClaimablePerSizeShortToken
	st.TradeID = tradeID
	st.DecreasedAt = now
	if st.SizeInUsd.Sign() == 0 {
		// No token dust may survive a close.
		st.SizeInTokens = new(big.Int)
	}
	if st.SizeInUsd.Sign() < 0 || st.SizeInTokens.Sign() < 0 {
		return nil, nil, fmt.Errorf("decrease: %w: negative remainder", ErrInvalidPosition)
	}

	if isAdl {
		if err := validateAdlOutcome(rm.View(), prices, isLong); err != nil {
			return nil, nil, err
		}
	}
	if st.SizeInUsd.Sign() > 0 {
		if err := validatePositionAfterChange(rm, p, prices); err != nil {
			return nil, nil, err
		}
	}

	return &event.DecreaseReport{
		Ref:                   ref,
		Market:                meta.MarketToken,
		PositionID:            p.ID,
		IsLong:                isLong,
		ExecutionPrice:        executionPrice,
		SizeDeltaUsd:          sizeDelta,
		SizeDeltaTokens:       sizeDeltaTokens,
		BasePnlUsd:            pnlUsd,
		PriceImpactValue:      settledImpact,
		Fees:                  settle.report(),
		OutputAmount:          output,
		SecondaryOutputAmount: secondaryOutput,
		SizeInUsd:             new(big.Int).Set(st.SizeInUsd),
		CollateralAmount:      new(big.Int).Set(st.CollateralAmount),
		IsLiquidation:         isLiquidation,
		IsAdl:                 isAdl,
	}, pre, nil
}

// capRealizedPnl bounds a profit by the side's max pnl factor over the
// side's pool value. ADL uses its own cap. Losses pass through unchanged.
func capRealizedPnl(view *state.Market, prices oracle.Prices, pnlUsd *big.Int, isLong, isAdl bool) (*big.Int, error) {
	if pnlUsd.Sign() <= 0 {
		return pnlUsd, nil
	}
	kind := state.PnlFactorForTrader
	if isAdl {
		kind = state.PnlFactorForAdl
	}
	poolValue, err := view.SidePoolValue(prices, isLong, false)
	if err != nil {
		return nil, err
	}
	maxPnl, err := fpmath.ApplyFactor(poolValue, view.Config().MaxPnlFactor(kind, isLong))
	if err != nil {
		return nil, err
	}
	return fpmath.Min(pnlUsd, maxPnl), nil
}

// swapWithin swaps an output leg through this market's own primary pool,
// reporting it as a regular swap.
func swapWithin(rm *RevertibleMarket, prices oracle.Prices, tokenIn state.Token, amountIn *big.Int, ref string) (*big.Int, *event.SwapReport, error) {
	meta := rm.Market().Meta
	snapshot := &oracle.Snapshot{
		Prices: oracle.PriceMap{
			meta.IndexToken.Bytes(): prices.Index,
			meta.LongToken.Bytes():  prices.Long,
			meta.ShortToken.Bytes(): prices.Short,
		},
	}
	_, out, report, err := SwapHop(rm, snapshot, tokenIn, amountIn, ref)
	if err != nil {
		return nil, nil, err
	}
	return out, report, nil
}

// validateAdlOutcome requires the pnl factor to have fallen to or below the
// post-ADL floor's gate: after the forced close it must no longer exceed
// the ADL trigger, and it must not undershoot the configured minimum.
func validateAdlOutcome(view *state.Market, prices oracle.Prices, isLong bool) error {
	factor, err := view.PnlFactor(prices, isLong, true)
	if err != nil {
		return err
	}
	minAfter := view.Config().MinPnlFactorAfterAdl(isLong)
	if factor.Cmp(minAfter) < 0 {
		return ErrInvalidAdlDirection
	}
	return nil
}
