package core

import (
	"fmt"
	"math/big"

	"gmsol/internal/event"
	fpmath "gmsol/internal/math"
	"gmsol/internal/oracle"
	"gmsol/internal/state"
)

// ImpactParams selects the impact curve of one pool.
type ImpactParams struct {
	Exponent       *big.Int
	PositiveFactor *big.Int
	NegativeFactor *big.Int
}

// SwapImpactParams reads the swap impact curve from the market config.
func SwapImpactParams(cfg *state.MarketConfig) ImpactParams {
	return ImpactParams{
		Exponent:       cfg.Get(state.KeySwapImpactExponent),
		PositiveFactor: cfg.Get(state.KeySwapImpactPositiveFactor),
		NegativeFactor: cfg.Get(state.KeySwapImpactNegativeFactor),
	}
}

// PositionImpactParams reads the position impact curve from the market config.
func PositionImpactParams(cfg *state.MarketConfig) ImpactParams {
	return ImpactParams{
		Exponent:       cfg.Get(state.KeyPositionImpactExponent),
		PositiveFactor: cfg.Get(state.KeyPositionImpactPositiveFactor),
		NegativeFactor: cfg.Get(state.KeyPositionImpactNegativeFactor),
	}
}

// PriceImpact returns the signed USD impact of moving a pool's long/short
// USD values from (initialLong, initialShort) to (nextLong, nextShort).
//
// Same-side rebalance: sign is positive iff the imbalance shrinks, and the
// magnitude is |f(initial) - f(next)| on the curve matching the sign.
// Cross-over: the improving leg is priced on the positive curve, the
// worsening leg on the negative curve, and the two are netted.
func PriceImpact(params ImpactParams, initialLong, initialShort, nextLong, nextShort *big.Int) (*big.Int, error) {
	initial := fpmath.Diff(initialLong, initialShort)
	next := fpmath.Diff(nextLong, nextShort)

	sameSide := (initialLong.Cmp(initialShort) <= 0) == (nextLong.Cmp(nextShort) <= 0)
	if sameSide {
		positive := next.Cmp(initial) < 0
		factor := params.NegativeFactor
		if positive {
			factor = params.PositiveFactor
		}
		fInitial, err := impactValue(initial, factor, params.Exponent)
		if err != nil {
			return nil, err
		}
		fNext, err := impactValue(next, factor, params.Exponent)
		if err != nil {
			return nil, err
		}
		magnitude := fpmath.Diff(fInitial, fNext)
		if !positive {
			return magnitude.Neg(magnitude), nil
		}
		return magnitude, nil
	}

	// Cross-over: the initial imbalance is fully corrected (positive leg)
	// and a new imbalance of the opposite sign is created (negative leg).
	positiveLeg, err := impactValue(initial, params.PositiveFactor, params.Exponent)
	if err != nil {
		return nil, err
	}
	negativeLeg, err := impactValue(next, params.NegativeFactor, params.Exponent)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Sub(positiveLeg, negativeLeg), nil
}

// impactValue computes factor * imbalance^exponent / unit.
func impactValue(imbalance, factor, exponent *big.Int) (*big.Int, error) {
	powed, err := fpmath.ApplyExponentFactor(imbalance, exponent)
	if err != nil {
		return nil, fmt.Errorf("impact exponent: %w", err)
	}
	return fpmath.ApplyFactor(powed, factor)
}

// CapPositionImpact bounds a signed position impact by the configured
// per-size factors. Liquidations use their own negative bound.
func CapPositionImpact(cfg *state.MarketConfig, sizeDeltaUsd, impact *big.Int, isLiquidation bool) (*big.Int, error) {
	if impact.Sign() > 0 {
		limit, err := fpmath.ApplyFactor(sizeDeltaUsd, cfg.Get(state.KeyMaxPositivePositionImpactFactor))
		if err != nil {
			return nil, err
		}
		return fpmath.Min(impact, limit), nil
	}
	if impact.Sign() < 0 {
		key := state.KeyMaxNegativePositionImpactFactor
		if isLiquidation {
			key = state.KeyMaxPositionImpactFactorForLiquidations
		}
		limit, err := fpmath.ApplyFactor(sizeDeltaUsd, cfg.Get(key))
		if err != nil {
			return nil, err
		}
		bound := new(big.Int).Neg(limit)
		return fpmath.Max(impact, bound), nil
	}
	return new(big.Int), nil
}

// ApplySwapImpact settles a signed USD swap impact against the SwapImpact
// pool on the side of the given token, returning the signed token delta for
// the trader. Positive impact pays extra output tokens out of the pool,
// capped to the pool's current amount; negative impact collects tokens into
// the pool, rounding against the trader.
func ApplySwapImpact(rm *RevertibleMarket, isLong bool, price oracle.Price, impactUsd *big.Int) (*big.Int, error) {
	switch impactUsd.Sign() {
	case 0:
		return new(big.Int), nil
	case 1:
		amount, err := fpmath.Div(impactUsd, price.Max, fpmath.RoundDown)
		if err != nil {
			return nil, err
		}
		available := rm.Pool(state.PoolSwapImpact).Amount(isLong)
		amount = fpmath.Min(amount, available)
		if amount.Sign() == 0 {
			return new(big.Int), nil
		}
		neg, err := fpmath.ToOppositeSigned(amount)
		if err != nil {
			return nil, err
		}
		if err := rm.ApplyPoolDelta(state.PoolSwapImpact, isLong, neg); err != nil {
			return nil, err
		}
		return amount, nil
	default:
		magnitude := new(big.Int).Neg(impactUsd)
		amount, err := fpmath.Div(magnitude, price.Min, fpmath.RoundUp)
		if err != nil {
			return nil, err
		}
		if err := rm.ApplyPoolDelta(state.PoolSwapImpact, isLong, amount); err != nil {
			return nil, err
		}
		return new(big.Int).Neg(amount), nil
	}
}

// ApplyPositionImpact settles a signed USD position impact against the
// PositionImpact pool, denominated in index tokens. Positive impact is
// capped to the pool amount; the uncovered remainder is returned so the
// caller can exclude it from the execution price.
func ApplyPositionImpact(rm *RevertibleMarket, indexPrice oracle.Price, impactUsd *big.Int) (settled, cappedUsd *big.Int, err error) {
	cappedUsd = new(big.Int)
	switch impactUsd.Sign() {
	case 0:
		return new(big.Int), cappedUsd, nil
	case 1:
		amount, err := fpmath.Div(impactUsd, indexPrice.Max, fpmath.RoundDown)
		if err != nil {
			return nil, nil, err
		}
		available := rm.Pool(state.PoolPositionImpact).LongAmount()
		if amount.Cmp(available) > 0 {
			over := new(big.Int).Sub(amount, available)
			cappedUsd = new(big.Int).Mul(over, indexPrice.Max)
			if err := fpmath.CheckU128(cappedUsd); err != nil {
				return nil, nil, err
			}
			amount = available
		}
		if amount.Sign() > 0 {
			neg, err := fpmath.ToOppositeSigned(amount)
			if err != nil {
				return nil, nil, err
			}
			if err := rm.ApplyPoolDelta(state.PoolPositionImpact, true, neg); err != nil {
				return nil, nil, err
			}
		}
		settled = new(big.Int).Sub(impactUsd, cappedUsd)
		return settled, cappedUsd, nil
	default:
		magnitude := new(big.Int).Neg(impactUsd)
		amount, err := fpmath.Div(magnitude, indexPrice.Min, fpmath.RoundUp)
		if err != nil {
			return nil, nil, err
		}
		if err := rm.ApplyPoolDelta(state.PoolPositionImpact, true, amount); err != nil {
			return nil, nil, err
		}
		return new(big.Int).Set(impactUsd), cappedUsd, nil
	}
}

// DistributePositionImpact releases impact-pool tokens to the liquidity
// providers at the configured per-second factor, down to the configured
// floor. Advances the distribution clock; returns nil when nothing moves.
func DistributePositionImpact(rm *RevertibleMarket, now int64, ref string) (*event.PositionImpactDistributed, error) {
	elapsed := rm.AdvanceClock(state.ClockPriceImpactDistribution, now)
	if elapsed <= 0 {
		return nil, nil
	}
	cfg := rm.Market().Config()
	factor := cfg.Get(state.KeyPositionImpactDistributeFactor)
	if factor.Sign() == 0 {
		return nil, nil
	}
	amount := rm.Pool(state.PoolPositionImpact).LongAmount()
	minAmount := cfg.Get(state.KeyMinPositionImpactPoolAmount)
	if amount.Cmp(minAmount) <= 0 {
		return nil, nil
	}
	perElapsed := new(big.Int).Mul(factor, big.NewInt(elapsed))
	release, err := fpmath.ApplyFactor(amount, perElapsed)
	if err != nil {
		return nil, err
	}
	headroom := new(big.Int).Sub(amount, minAmount)
	release = fpmath.Min(release, headroom)
	if release.Sign() == 0 {
		return nil, nil
	}
	neg, err := fpmath.ToOppositeSigned(release)
	if err != nil {
		return nil, err
	}
	if err := rm.ApplyPoolDelta(state.PoolPositionImpact, true, neg); err != nil {
		return nil, err
	}
	return &event.PositionImpactDistributed{
		Ref:               ref,
		Market:            rm.Market().Meta.MarketToken,
		DistributedAmount: release,
	}, nil
}
