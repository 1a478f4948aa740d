package core

import (
	"fmt"
	"math/big"

	"gmsol/internal/event"
	fpmath "gmsol/internal/math"
	"gmsol/internal/oracle"
	"gmsol/internal/state"
)

// MarketTokenDecimals is the decimal count of every market (LP) token.
const MarketTokenDecimals = 9

// marketTokenUnitDivisor converts USD value to market tokens at 1 USD per
// token for the first deposit: 10^(MarketDecimals - MarketTokenDecimals).
var marketTokenUnitDivisor = fpmath.Exp10(fpmath.MarketDecimals - MarketTokenDecimals)

// DepositParams are the executed-deposit inputs after any swap path ran.
type DepositParams struct {
	LongTokenAmount      *big.Int
	ShortTokenAmount     *big.Int
	MinMarketTokenAmount *big.Int
}

// ExecuteDeposit adds collateral to the primary pool and mints market
// tokens against the prudently-valued pool. The pool is valued before the
// deposit, maximizing value so later depositors never dilute earlier ones.
func ExecuteDeposit(rm *RevertibleMarket, prices oracle.Prices, params DepositParams, ref string) (*event.DepositReport, []*event.MarketFeesUpdated, error) {
	longIn := zeroIfNil(params.LongTokenAmount)
	shortIn := zeroIfNil(params.ShortTokenAmount)
	if longIn.Sign() == 0 && shortIn.Sign() == 0 {
		return nil, nil, fmt.Errorf("deposit: %w: empty amounts", ErrInvalidArgument)
	}
	view := rm.View()
	poolValue, err := view.PoolValue(prices, true)
	if err != nil {
		return nil, nil, err
	}
	if poolValue.Sign() < 0 {
		return nil, nil, fmt.Errorf("deposit: %w: negative pool value", ErrPreconditionsAreNotMet)
	}

	meta := rm.Market().Meta
	feeParams := SwapFeeParams(rm.Market().Config())
	impactParams := SwapImpactParams(rm.Market().Config())

	// Impact of the combined delta on the primary pool imbalance.
	primary := rm.Pool(state.PoolPrimary)
	longUsd := new(big.Int).Mul(primary.LongAmount(), prices.Long.Mid())
	shortUsd := new(big.Int).Mul(primary.ShortAmount(), prices.Short.Mid())
	nextLongUsd := new(big.Int).Add(longUsd, new(big.Int).Mul(longIn, prices.Long.Mid()))
	nextShortUsd := new(big.Int).Add(shortUsd, new(big.Int).Mul(shortIn, prices.Short.Mid()))
	impactUsd, err := PriceImpact(impactParams, longUsd, shortUsd, nextLongUsd, nextShortUsd)
	if err != nil {
		return nil, nil, err
	}
	isPositive := impactUsd.Sign() >= 0

	usdIn := new(big.Int)
	var feeEvents []*event.MarketFeesUpdated
	apply := func(amount *big.Int, isLong bool, token state.Token) error {
		if amount.Sign() == 0 {
			return nil
		}
		afterFee, fees, err := feeParams.Apply(amount, isPositive)
		if err != nil {
			return err
		}
		price := prices.Collateral(isLong)
		added := new(big.Int).Add(afterFee, fees.ForPool)
		if err := rm.ApplyPoolDelta(state.PoolPrimary, isLong, added); err != nil {
			return err
		}
		if fees.ForReceiver.Sign() > 0 {
			if err := rm.ApplyPoolDelta(state.PoolClaimableFee, isLong, fees.ForReceiver); err != nil {
				return err
			}
			feeEvents = append(feeEvents, &event.MarketFeesUpdated{
				Ref:              ref,
				Market:           meta.MarketToken,
				Token:            token,
				FeeForPool:       fees.ForPool,
				FeeForReceiver:   fees.ForReceiver,
				IsPositiveImpact: isPositive,
			})
		}
		value := new(big.Int).Mul(afterFee, price.Pick(false))
		usdIn.Add(usdIn, value)
		return fpmath.CheckU128(usdIn)
	}
	if err := apply(longIn, true, meta.LongToken); err != nil {
		return nil, nil, err
	}
	// For a pure market the short amount lands in the same slot via the
	// pool's redirection; only the valuation side differs.
	if err := apply(shortIn, false, meta.ShortToken); err != nil {
		return nil, nil, err
	}

	supply := rm.State().MarketTokenSupply
	var mint *big.Int
	if supply.Sign() == 0 {
		mint, err = fpmath.Div(usdIn, marketTokenUnitDivisor, fpmath.RoundDown)
		if err != nil {
			return nil, nil, err
		}
		minFirst := rm.Market().Config().Get(state.KeyMinTokensForFirstDeposit)
		if mint.Cmp(minFirst) < 0 {
			return nil, nil, fmt.Errorf("deposit: %w: below first-deposit minimum", ErrInsufficientOutputAmount)
		}
	} else {
		mint, err = fpmath.MulDiv(usdIn, supply, poolValue, fpmath.RoundDown)
		if err != nil {
			return nil, nil, err
		}
	}
	if min := zeroIfNil(params.MinMarketTokenAmount); mint.Cmp(min) < 0 {
		return nil, nil, fmt.Errorf("deposit: %w: minted %s below min %s", ErrInsufficientOutputAmount, mint, min)
	}

	other := rm.State()
	other.MarketTokenSupply = new(big.Int).Add(other.MarketTokenSupply, mint)
	if err := fpmath.CheckU128(other.MarketTokenSupply); err != nil {
		return nil, nil, err
	}
	other.LongTokenBalance = new(big.Int).Add(other.LongTokenBalance, longIn)
	other.ShortTokenBalance = new(big.Int).Add(other.ShortTokenBalance, shortIn)
	rm.MarkStateDirty()

	if err := validateDepositLimits(rm, prices, longIn.Sign() > 0, shortIn.Sign() > 0); err != nil {
		return nil, nil, err
	}

	return &event.DepositReport{
		Ref:               ref,
		Market:            meta.MarketToken,
		LongTokenAmount:   longIn,
		ShortTokenAmount:  shortIn,
		MintedAmount:      mint,
		MarketTokenSupply: new(big.Int).Set(other.MarketTokenSupply),
	}, feeEvents, nil
}

// validateDepositLimits checks pool amount caps, deposit value caps, and
// the deposit PnL-factor gate for each side that received tokens.
func validateDepositLimits(rm *RevertibleMarket, prices oracle.Prices, longTouched, shortTouched bool) error {
	view := rm.View()
	cfg := rm.Market().Config()
	for _, side := range [2]struct {
		isLong  bool
		touched bool
		kind    state.PnlFactorKind
	}{
		{true, longTouched, state.PnlFactorForDeposit},
		{false, shortTouched, state.PnlFactorForDeposit},
	} {
		if !side.touched {
			continue
		}
		if err := ValidatePoolLimits(rm, side.isLong); err != nil {
			return err
		}
		value, err := view.SidePoolValue(prices, side.isLong, true)
		if err != nil {
			return err
		}
		if value.Cmp(cfg.MaxPoolValueForDeposit(side.isLong)) > 0 {
			return ErrMaxPoolValueExceeded
		}
		excess, err := view.PnlFactorExceeded(prices, side.kind, side.isLong)
		if err != nil {
			return err
		}
		if excess != nil {
			return fmt.Errorf("%w: %s deposit", ErrPnlFactorExceeded, sideName(side.isLong))
		}
	}
	return nil
}

func sideName(isLong bool) string {
	if isLong {
		return "long"
	}
	return "short"
}

func zeroIfNil(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
