package core

import (
	"math/big"

	"gmsol/internal/event"
	fpmath "gmsol/internal/math"
	"gmsol/internal/oracle"
	"gmsol/internal/state"
)

// nextFundingFactorPerSecond steps the signed funding rate. The side with
// the larger open interest pays; the rate drifts toward that side at the
// increase slope when the imbalance exceeds the stable threshold, decays at
// the decrease slope when the imbalance is below the decrease threshold or
// the rate points at the lighter side, and holds otherwise. The magnitude
// is clamped to [min, max] per second.
func nextFundingFactorPerSecond(cfg *state.MarketConfig, current *big.Int, longOI, shortOI *big.Int, elapsed int64) (*big.Int, error) {
	total := new(big.Int).Add(longOI, shortOI)
	if total.Sign() == 0 {
		return new(big.Int).Set(current), nil
	}
	diff := fpmath.Diff(longOI, shortOI)
	diffFactor, err := fpmath.DivToFactor(diff, total, false)
	if err != nil {
		return nil, err
	}
	exponent := cfg.Get(state.KeyFundingFeeExponent)
	diffFactor, err = fpmath.ApplyExponentFactor(diffFactor, exponent)
	if err != nil {
		return nil, err
	}

	next := new(big.Int).Set(current)
	heavierIsLong := longOI.Cmp(shortOI) > 0
	balanced := diff.Sign() == 0
	pointsAtHeavier := !balanced &&
		((heavierIsLong && current.Sign() >= 0) || (!heavierIsLong && current.Sign() <= 0))

	elapsedBig := big.NewInt(elapsed)
	switch {
	case balanced || !pointsAtHeavier:
		// Decay toward zero without crossing it.
		decay := new(big.Int).Mul(cfg.Get(state.KeyFundingFeeDecreaseFactorPerSecond), elapsedBig)
		magnitude := new(big.Int).Abs(next)
		if magnitude.Cmp(decay) <= 0 {
			next.SetInt64(0)
		} else if next.Sign() > 0 {
			next.Sub(next, decay)
		} else {
			next.Add(next, decay)
		}
	case diffFactor.Cmp(cfg.Get(state.KeyFundingFeeThresholdForStableFunding)) > 0:
		// Push harder toward the heavier side, scaled by the imbalance.
		step := new(big.Int).Mul(cfg.Get(state.KeyFundingFeeIncreaseFactorPerSecond), elapsedBig)
		step.Mul(step, diffFactor)
		step.Quo(step, fpmath.Unit)
		if heavierIsLong {
			next.Add(next, step)
		} else {
			next.Sub(next, step)
		}
	case diffFactor.Cmp(cfg.Get(state.KeyFundingFeeThresholdForDecreaseFunding)) < 0:
		decay := new(big.Int).Mul(cfg.Get(state.KeyFundingFeeDecreaseFactorPerSecond), elapsedBig)
		magnitude := new(big.Int).Abs(next)
		if magnitude.Cmp(decay) <= 0 {
			next.SetInt64(0)
		} else if next.Sign() > 0 {
			next.Sub(next, decay)
		} else {
			next.Add(next, decay)
		}
	default:
		// Stable band: hold the rate.
	}

	if next.Sign() != 0 {
		magnitude := new(big.Int).Abs(next)
		magnitude = fpmath.Clamp(magnitude,
			cfg.Get(state.KeyFundingFeeMinFactorPerSecond),
			cfg.Get(state.KeyFundingFeeMaxFactorPerSecond))
		if next.Sign() < 0 {
			magnitude.Neg(magnitude)
		}
		next = magnitude
	}
	if err := fpmath.CheckI128(next); err != nil {
		return nil, err
	}
	return next, nil
}

// UpdateFundingState advances the funding clock, steps the signed rate, and
// accrues the per-size funding pools: the paying side's FundingAmountPerSize
// rises (rounding against the payer) and the receiving side's
// ClaimableFundingAmountPerSize rises (rounding against the claimant), in
// both collateral tokens. Returns nil when no time elapsed.
func UpdateFundingState(rm *RevertibleMarket, prices oracle.Prices, now int64, ref string) (*event.FundingFeesUpdated, error) {
	elapsed := rm.AdvanceClock(state.ClockFunding, now)
	if elapsed <= 0 {
		return nil, nil
	}
	view := rm.View()
	cfg := rm.Market().Config()
	longOI := view.OpenInterest(true)
	shortOI := view.OpenInterest(false)

	current := rm.State().FundingFactorPerSecond
	next, err := nextFundingFactorPerSecond(cfg, current, longOI, shortOI, elapsed)
	if err != nil {
		return nil, err
	}

	// Accrue at the previous rate over the elapsed window, then store the
	// stepped rate for the next window.
	magnitude := new(big.Int).Abs(current)
	if magnitude.Sign() > 0 {
		longPaysShort := current.Sign() > 0
		perSize := new(big.Int).Mul(magnitude, big.NewInt(elapsed))

		payingPool := state.PoolFundingAmountPerSizeForShort
		claimPool := state.PoolClaimableFundingAmountPerSizeForLong
		if longPaysShort {
			payingPool = state.PoolFundingAmountPerSizeForLong
			claimPool = state.PoolClaimableFundingAmountPerSizeForShort
		}
		for _, collateralIsLong := range [2]bool{true, false} {
			price := prices.Collateral(collateralIsLong)
			paid, err := fpmath.Div(perSize, price.Max, fpmath.RoundUp)
			if err != nil {
				return nil, err
			}
			if err := rm.ApplyPoolDelta(payingPool, collateralIsLong, paid); err != nil {
				return nil, err
			}
			claimable, err := fpmath.Div(perSize, price.Max, fpmath.RoundDown)
			if err != nil {
				return nil, err
			}
			if err := rm.ApplyPoolDelta(claimPool, collateralIsLong, claimable); err != nil {
				return nil, err
			}
		}
	}

	if next.Cmp(current) != 0 {
		rm.State().FundingFactorPerSecond = new(big.Int).Set(next)
		rm.MarkStateDirty()
	}
	return &event.FundingFeesUpdated{
		Ref:                    ref,
		Market:                 rm.Market().Meta.MarketToken,
		ElapsedSeconds:         elapsed,
		FundingFactorPerSecond: next,
		LongPaysShort:          next.Sign() > 0,
	}, nil
}

// PositionFundingFees is the funding cost and claimables owed to a position
// since it last settled.
type PositionFundingFees struct {
	// Amount owed, in the position's collateral token
	Amount *big.Int
	// Claimable amounts, one per collateral token
	ClaimableLongTokenAmount  *big.Int
	ClaimableShortTokenAmount *big.Int

	// Latest per-size values to stamp into the position on settle
	AmountPerSize              *big.Int
	ClaimablePerSizeLongToken  *big.Int
	ClaimablePerSizeShortToken *big.Int
}

// ComputePositionFundingFees reads the per-size pools at their current
// values and charges a position for growth since its stamps.
func ComputePositionFundingFees(m *state.Market, p *state.Position, collateralIsLong bool) (*PositionFundingFees, error) {
	isLong := p.Kind.IsLong()
	fees := &PositionFundingFees{
		AmountPerSize:              m.FundingAmountPerSize(isLong, collateralIsLong),
		ClaimablePerSizeLongToken:  m.ClaimableFundingAmountPerSize(isLong, true),
		ClaimablePerSizeShortToken: m.ClaimableFundingAmountPerSize(isLong, false),
	}
	var err error
	fees.Amount, err = perSizeDue(p.State.SizeInUsd, fees.AmountPerSize, p.State.FundingFeeAmountPerSizeAtOpen)
	if err != nil {
		return nil, err
	}
	fees.ClaimableLongTokenAmount, err = perSizeDue(p.State.SizeInUsd, fees.ClaimablePerSizeLongToken, p.State.ClaimableFundingPerSizeLongAtOpen)
	if err != nil {
		return nil, err
	}
	fees.ClaimableShortTokenAmount, err = perSizeDue(p.State.SizeInUsd, fees.ClaimablePerSizeShortToken, p.State.ClaimableFundingPerSizeShortAtOpen)
	if err != nil {
		return nil, err
	}
	return fees, nil
}

func perSizeDue(sizeInUsd, current, atOpen *big.Int) (*big.Int, error) {
	if current.Cmp(atOpen) < 0 {
		return nil, ErrInvalidPosition
	}
	delta := new(big.Int).Sub(current, atOpen)
	return fpmath.ApplyFactor(sizeInUsd, delta)
}
