package core

import (
	"fmt"
	"math/big"

	"gmsol/internal/event"
	fpmath "gmsol/internal/math"
	"gmsol/internal/oracle"
	"gmsol/internal/state"
)

// SwapParams is the swap path spec carried by an action: an ordered list of
// market tokens the input amount is routed through.
type SwapParams struct {
	Path     []state.Token
	TokenIn  state.Token
	TokenOut state.Token
}

// IsEmpty reports whether the params describe no swap.
func (p SwapParams) IsEmpty() bool {
	return len(p.Path) == 0
}

// ValidatePath checks the chain rule over a path: every hop's market must
// belong to the store, be enabled, and accept the running token as one of
// its collateral pair; the hop's output is the opposite collateral; the
// final output must be tokenOut; no market repeats. Returns the set of
// mints the path touches, which bounds the oracle feeds an execution needs.
func ValidatePath(lookup func(state.Token) (*state.Market, error), store [32]byte, path []state.Token, tokenIn, tokenOut state.Token) (map[state.Token]struct{}, error) {
	if len(path) == 0 {
		if tokenIn != tokenOut {
			return nil, fmt.Errorf("%w: empty path with different tokens", ErrInvalidSwapPath)
		}
		return map[state.Token]struct{}{tokenIn: {}}, nil
	}
	seen := make(map[state.Token]struct{}, len(path))
	tokens := map[state.Token]struct{}{tokenIn: {}}
	current := tokenIn
	for _, marketToken := range path {
		if _, dup := seen[marketToken]; dup {
			return nil, fmt.Errorf("%w: market %s repeats", ErrInvalidSwapPath, marketToken)
		}
		seen[marketToken] = struct{}{}
		m, err := lookup(marketToken)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrInvalidSwapPath, marketToken)
		}
		if err := m.Validate(store); err != nil {
			return nil, fmt.Errorf("%w: market %s: %v", ErrInvalidSwapPath, marketToken, err)
		}
		if !m.Meta.IsCollateral(current) {
			return nil, fmt.Errorf("%w: market %s does not accept %s", ErrInvalidSwapPath, marketToken, current)
		}
		next, err := m.Meta.Opposite(current)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSwapPath, err)
		}
		tokens[m.Meta.IndexToken] = struct{}{}
		tokens[m.Meta.LongToken] = struct{}{}
		tokens[m.Meta.ShortToken] = struct{}{}
		current = next
	}
	if current != tokenOut {
		return nil, fmt.Errorf("%w: path ends at %s, want %s", ErrInvalidSwapPath, current, tokenOut)
	}
	return tokens, nil
}

// SwapHop executes one swap on an open revertible market: impact on the
// Primary pool imbalance, fee by impact sign, pool update, reserve
// validation. Returns the output amount and the hop report.
func SwapHop(rm *RevertibleMarket, snapshot *oracle.Snapshot, tokenIn state.Token, amountIn *big.Int, ref string) (state.Token, *big.Int, *event.SwapReport, error) {
	meta := rm.Market().Meta
	if !meta.IsCollateral(tokenIn) {
		return state.Token{}, nil, nil, fmt.Errorf("%w: %s not a collateral of %s", ErrInvalidSwapPath, tokenIn, meta.MarketToken)
	}
	tokenOut, err := meta.Opposite(tokenIn)
	if err != nil {
		return state.Token{}, nil, nil, err
	}
	if tokenIn == tokenOut {
		return state.Token{}, nil, nil, ErrSameTokenSwap
	}
	prices, err := snapshot.MarketPrices(meta.IndexToken.Bytes(), meta.LongToken.Bytes(), meta.ShortToken.Bytes())
	if err != nil {
		return state.Token{}, nil, nil, err
	}
	inIsLong := tokenIn == meta.LongToken
	priceIn := prices.Collateral(inIsLong)
	priceOut := prices.Collateral(!inIsLong)

	// Impact of the pool imbalance change, valued at mid prices.
	primary := rm.Pool(state.PoolPrimary)
	longUsd := new(big.Int).Mul(primary.LongAmount(), prices.Long.Mid())
	shortUsd := new(big.Int).Mul(primary.ShortAmount(), prices.Short.Mid())
	usdIn := new(big.Int).Mul(amountIn, priceIn.Mid())
	nextLongUsd := new(big.Int).Set(longUsd)
	nextShortUsd := new(big.Int).Set(shortUsd)
	if inIsLong {
		nextLongUsd.Add(nextLongUsd, usdIn)
		nextShortUsd.Sub(nextShortUsd, usdIn)
	} else {
		nextShortUsd.Add(nextShortUsd, usdIn)
		nextLongUsd.Sub(nextLongUsd, usdIn)
	}
	if nextLongUsd.Sign() < 0 || nextShortUsd.Sign() < 0 {
		return state.Token{}, nil, nil, fmt.Errorf("swap: %w", ErrInsufficientReserve)
	}
	impactUsd, err := PriceImpact(SwapImpactParams(rm.Market().Config()), longUsd, shortUsd, nextLongUsd, nextShortUsd)
	if err != nil {
		return state.Token{}, nil, nil, err
	}

	afterFee, fees, err := SwapFeeParams(rm.Market().Config()).Apply(amountIn, impactUsd.Sign() >= 0)
	if err != nil {
		return state.Token{}, nil, nil, err
	}

	// Negative impact is collected on the input side before conversion;
	// positive impact pays extra output tokens from the impact pool.
	var extraOut *big.Int
	effectiveIn := new(big.Int).Set(afterFee)
	if impactUsd.Sign() < 0 {
		delta, err := ApplySwapImpact(rm, inIsLong, priceIn, impactUsd)
		if err != nil {
			return state.Token{}, nil, nil, err
		}
		effectiveIn.Add(effectiveIn, delta)
		if effectiveIn.Sign() < 0 {
			return state.Token{}, nil, nil, fmt.Errorf("swap: %w", ErrInsufficientOutputAmount)
		}
		extraOut = new(big.Int)
	} else {
		extraOut, err = ApplySwapImpact(rm, !inIsLong, priceOut, impactUsd)
		if err != nil {
			return state.Token{}, nil, nil, err
		}
	}

	usdValue := new(big.Int).Mul(effectiveIn, priceIn.Min)
	amountOut, err := fpmath.Div(usdValue, priceOut.Max, fpmath.RoundDown)
	if err != nil {
		return state.Token{}, nil, nil, err
	}
	amountOut.Add(amountOut, extraOut)

	// Pool update: input side gains the swapped amount plus the retained
	// pool fee, output side pays the converted amount (not the impact-pool
	// bonus).
	poolIn := new(big.Int).Add(effectiveIn, fees.ForPool)
	if err := rm.ApplyPoolDelta(state.PoolPrimary, inIsLong, poolIn); err != nil {
		return state.Token{}, nil, nil, err
	}
	baseOut := new(big.Int).Sub(amountOut, extraOut)
	negOut, err := fpmath.ToOppositeSigned(baseOut)
	if err != nil {
		return state.Token{}, nil, nil, err
	}
	if err := rm.ApplyPoolDelta(state.PoolPrimary, !inIsLong, negOut); err != nil {
		return state.Token{}, nil, nil, fmt.Errorf("swap: %w: %v", ErrInsufficientReserve, err)
	}
	if fees.ForReceiver.Sign() > 0 {
		if err := rm.ApplyPoolDelta(state.PoolClaimableFee, inIsLong, fees.ForReceiver); err != nil {
			return state.Token{}, nil, nil, err
		}
	}

	if err := ValidatePoolLimits(rm, inIsLong); err != nil {
		return state.Token{}, nil, nil, err
	}
	if err := ValidateReserve(rm, prices, !inIsLong); err != nil {
		return state.Token{}, nil, nil, err
	}

	return tokenOut, amountOut, &event.SwapReport{
		Ref:              ref,
		Market:           meta.MarketToken,
		TokenIn:          tokenIn,
		TokenOut:         tokenOut,
		AmountIn:         new(big.Int).Set(amountIn),
		AmountOut:        amountOut,
		PriceImpactValue: impactUsd,
		FeeForPool:       fees.ForPool,
		FeeForReceiver:   fees.ForReceiver,
	}, nil
}

// SwapAlongPath routes amountIn through a validated path, one hop per
// market, observing the overlays' uncommitted writes.
func SwapAlongPath(sm *SwapMarkets, snapshot *oracle.Snapshot, params SwapParams, amountIn *big.Int, ref string) (*big.Int, []*event.SwapReport, error) {
	current := params.TokenIn
	amount := new(big.Int).Set(amountIn)
	var reports []*event.SwapReport
	for _, marketToken := range params.Path {
		rm, err := sm.Get(marketToken)
		if err != nil {
			return nil, nil, err
		}
		next, out, report, err := SwapHop(rm, snapshot, current, amount, ref)
		if err != nil {
			return nil, nil, err
		}
		current, amount = next, out
		reports = append(reports, report)
	}
	if current != params.TokenOut {
		return nil, nil, fmt.Errorf("%w: path ends at %s, want %s", ErrInvalidSwapPath, current, params.TokenOut)
	}
	return amount, reports, nil
}

// ValidateReserve checks that the side's reserved value stays within the
// reserve factor of the side's pool value, and within the open-interest
// reserve factor.
func ValidateReserve(rm *RevertibleMarket, prices oracle.Prices, isLong bool) error {
	view := rm.View()
	reserved, err := view.ReservedValue(prices, isLong)
	if err != nil {
		return err
	}
	if reserved.Sign() == 0 {
		return nil
	}
	poolValue, err := view.SidePoolValue(prices, isLong, false)
	if err != nil {
		return err
	}
	cfg := rm.Market().Config()
	for _, factorKey := range [2]state.MarketConfigKey{state.KeyReserveFactor, state.KeyOpenInterestReserveFactor} {
		maxReserved, err := fpmath.ApplyFactor(poolValue, cfg.Get(factorKey))
		if err != nil {
			return err
		}
		if reserved.Cmp(maxReserved) > 0 {
			return fmt.Errorf("%w: %s", ErrInsufficientReserve, factorKey)
		}
	}
	return nil
}

// ValidatePoolLimits checks the side's primary pool amount cap.
func ValidatePoolLimits(rm *RevertibleMarket, isLong bool) error {
	amount := rm.Pool(state.PoolPrimary).Amount(isLong)
	if amount.Cmp(rm.Market().Config().MaxPoolAmount(isLong)) > 0 {
		return ErrMaxPoolAmountExceeded
	}
	return nil
}
