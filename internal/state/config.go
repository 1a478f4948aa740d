package state

import (
	"fmt"
	"math/big"

	fpmath "gmsol/internal/math"
)

// MarketConfigKey is the closed set of tunable per-market factors. All
// values are u128 factors in the MarketDecimals space unless the name says
// otherwise (token or USD amounts).
type MarketConfigKey int32

const (
	KeySwapImpactExponent MarketConfigKey = iota
	KeySwapImpactPositiveFactor
	KeySwapImpactNegativeFactor
	KeySwapFeeReceiverFactor
	KeySwapFeeFactorForPositiveImpact
	KeySwapFeeFactorForNegativeImpact
	KeyMinPositionSizeUsd
	KeyMinCollateralValue
	KeyMinCollateralFactor
	KeyMinCollateralFactorForOpenInterestMultiplierForLong
	KeyMinCollateralFactorForOpenInterestMultiplierForShort
	KeyMaxPositivePositionImpactFactor
	KeyMaxNegativePositionImpactFactor
	KeyMaxPositionImpactFactorForLiquidations
	KeyPositionImpactExponent
	KeyPositionImpactPositiveFactor
	KeyPositionImpactNegativeFactor
	KeyOrderFeeReceiverFactor
	KeyOrderFeeFactorForPositiveImpact
	KeyOrderFeeFactorForNegativeImpact
	KeyLiquidationFeeReceiverFactor
	KeyLiquidationFeeFactor
	KeyPositionImpactDistributeFactor
	KeyMinPositionImpactPoolAmount
	KeyBorrowingFeeReceiverFactor
	KeyBorrowingFeeFactorForLong
	KeyBorrowingFeeFactorForShort
	KeyBorrowingFeeExponentForLong
	KeyBorrowingFeeExponentForShort
	KeyBorrowingFeeOptimalUsageFactorForLong
	KeyBorrowingFeeOptimalUsageFactorForShort
	KeyBorrowingFeeBaseFactorForLong
	KeyBorrowingFeeBaseFactorForShort
	KeyBorrowingFeeAboveOptimalUsageFactorForLong
	KeyBorrowingFeeAboveOptimalUsageFactorForShort
	KeyFundingFeeExponent
	KeyFundingFeeFactor
	KeyFundingFeeMaxFactorPerSecond
	KeyFundingFeeMinFactorPerSecond
	KeyFundingFeeIncreaseFactorPerSecond
	KeyFundingFeeDecreaseFactorPerSecond
	KeyFundingFeeThresholdForStableFunding
	KeyFundingFeeThresholdForDecreaseFunding
	KeyReserveFactor
	KeyOpenInterestReserveFactor
	KeyMaxPnlFactorForLongDeposit
	KeyMaxPnlFactorForShortDeposit
	KeyMaxPnlFactorForLongWithdrawal
	KeyMaxPnlFactorForShortWithdrawal
	KeyMaxPnlFactorForLongTrader
	KeyMaxPnlFactorForShortTrader
	KeyMaxPnlFactorForLongAdl
	KeyMaxPnlFactorForShortAdl
	KeyMinPnlFactorAfterLongAdl
	KeyMinPnlFactorAfterShortAdl
	KeyMaxPoolAmountForLongToken
	KeyMaxPoolAmountForShortToken
	KeyMaxPoolValueForDepositForLongToken
	KeyMaxPoolValueForDepositForShortToken
	KeyMaxOpenInterestForLong
	KeyMaxOpenInterestForShort
	KeyMinTokensForFirstDeposit

	NumMarketConfigKeys = int(KeyMinTokensForFirstDeposit) + 1
)

// MarketConfig holds every tunable factor of a market. Mutated only through
// admin config updates; the accounting core reads it.
type MarketConfig struct {
	values [NumMarketConfigKeys]*big.Int
}

// NewMarketConfig returns a config with every key set to zero.
func NewMarketConfig() *MarketConfig {
	c := &MarketConfig{}
	for i := range c.values {
		c.values[i] = big.NewInt(0)
	}
	return c
}

// DefaultMarketConfig returns the defaults used at market creation: unit
// exponents, prudent PnL caps, and everything fee-related zeroed so a new
// market charges nothing until configured.
func DefaultMarketConfig() *MarketConfig {
	c := NewMarketConfig()
	unit := new(big.Int).Set(fpmath.Unit)
	c.values[KeySwapImpactExponent] = new(big.Int).Set(unit)
	c.values[KeyPositionImpactExponent] = new(big.Int).Set(unit)
	c.values[KeyBorrowingFeeExponentForLong] = new(big.Int).Set(unit)
	c.values[KeyBorrowingFeeExponentForShort] = new(big.Int).Set(unit)
	c.values[KeyFundingFeeExponent] = new(big.Int).Set(unit)
	c.values[KeyReserveFactor] = new(big.Int).Set(unit)
	c.values[KeyOpenInterestReserveFactor] = new(big.Int).Set(unit)
	for _, k := range []MarketConfigKey{
		KeyMaxPnlFactorForLongDeposit, KeyMaxPnlFactorForShortDeposit,
		KeyMaxPnlFactorForLongWithdrawal, KeyMaxPnlFactorForShortWithdrawal,
		KeyMaxPnlFactorForLongTrader, KeyMaxPnlFactorForShortTrader,
		KeyMaxPnlFactorForLongAdl, KeyMaxPnlFactorForShortAdl,
	} {
		c.values[k] = new(big.Int).Set(unit)
	}
	// Effectively no cap until the operator sets real limits.
	uncapped := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))
	c.values[KeyMaxPoolAmountForLongToken] = new(big.Int).Set(uncapped)
	c.values[KeyMaxPoolAmountForShortToken] = new(big.Int).Set(uncapped)
	c.values[KeyMaxPoolValueForDepositForLongToken] = new(big.Int).Set(uncapped)
	c.values[KeyMaxPoolValueForDepositForShortToken] = new(big.Int).Set(uncapped)
	c.values[KeyMaxOpenInterestForLong] = new(big.Int).Set(uncapped)
	c.values[KeyMaxOpenInterestForShort] = new(big.Int).Set(uncapped)
	return c
}

// Get returns the value for a key. The returned value is a copy.
func (c *MarketConfig) Get(key MarketConfigKey) *big.Int {
	if int(key) < 0 || int(key) >= NumMarketConfigKeys {
		panic(fmt.Sprintf("state: invalid config key %d", key))
	}
	return new(big.Int).Set(c.values[key])
}

// Set replaces the value for a key. Negative values are rejected: every
// config value is unsigned.
func (c *MarketConfig) Set(key MarketConfigKey, v *big.Int) error {
	if int(key) < 0 || int(key) >= NumMarketConfigKeys {
		return fmt.Errorf("state: invalid config key %d", key)
	}
	if err := fpmath.CheckU128(v); err != nil {
		return err
	}
	c.values[key] = new(big.Int).Set(v)
	return nil
}

// Clone deep-copies the config.
func (c *MarketConfig) Clone() *MarketConfig {
	out := &MarketConfig{}
	for i, v := range c.values {
		out.values[i] = new(big.Int).Set(v)
	}
	return out
}

// --- Per-side accessors used by the accounting core ---

func sideKey(isLong bool, long, short MarketConfigKey) MarketConfigKey {
	if isLong {
		return long
	}
	return short
}

// PnlFactorKind selects which PnL-factor cap applies to an operation.
type PnlFactorKind int32

const (
	PnlFactorForDeposit PnlFactorKind = iota
	PnlFactorForWithdrawal
	PnlFactorForTrader
	PnlFactorForAdl
)

func (k PnlFactorKind) String() string {
	switch k {
	case PnlFactorForDeposit:
		return "Deposit"
	case PnlFactorForWithdrawal:
		return "Withdrawal"
	case PnlFactorForTrader:
		return "Trader"
	case PnlFactorForAdl:
		return "Adl"
	default:
		return "Unknown"
	}
}

// MaxPnlFactor returns the cap for the given operation kind and side.
func (c *MarketConfig) MaxPnlFactor(kind PnlFactorKind, isLong bool) *big.Int {
	switch kind {
	case PnlFactorForDeposit:
		return c.Get(sideKey(isLong, KeyMaxPnlFactorForLongDeposit, KeyMaxPnlFactorForShortDeposit))
	case PnlFactorForWithdrawal:
		return c.Get(sideKey(isLong, KeyMaxPnlFactorForLongWithdrawal, KeyMaxPnlFactorForShortWithdrawal))
	case PnlFactorForTrader:
		return c.Get(sideKey(isLong, KeyMaxPnlFactorForLongTrader, KeyMaxPnlFactorForShortTrader))
	case PnlFactorForAdl:
		return c.Get(sideKey(isLong, KeyMaxPnlFactorForLongAdl, KeyMaxPnlFactorForShortAdl))
	default:
		panic(fmt.Sprintf("state: invalid pnl factor kind %d", kind))
	}
}

// MinPnlFactorAfterAdl returns the floor the PnL factor must stay above
// once an ADL round completes.
func (c *MarketConfig) MinPnlFactorAfterAdl(isLong bool) *big.Int {
	return c.Get(sideKey(isLong, KeyMinPnlFactorAfterLongAdl, KeyMinPnlFactorAfterShortAdl))
}

// BorrowingFeeFactor returns the per-side borrowing fee factor.
func (c *MarketConfig) BorrowingFeeFactor(isLong bool) *big.Int {
	return c.Get(sideKey(isLong, KeyBorrowingFeeFactorForLong, KeyBorrowingFeeFactorForShort))
}

// BorrowingFeeExponent returns the per-side borrowing fee exponent.
func (c *MarketConfig) BorrowingFeeExponent(isLong bool) *big.Int {
	return c.Get(sideKey(isLong, KeyBorrowingFeeExponentForLong, KeyBorrowingFeeExponentForShort))
}

// BorrowingFeeOptimalUsageFactor returns the kink point of the borrowing
// model, or zero when the single-slope model applies.
func (c *MarketConfig) BorrowingFeeOptimalUsageFactor(isLong bool) *big.Int {
	return c.Get(sideKey(isLong, KeyBorrowingFeeOptimalUsageFactorForLong, KeyBorrowingFeeOptimalUsageFactorForShort))
}

// BorrowingFeeBaseFactor returns the below-kink slope of the kink model.
func (c *MarketConfig) BorrowingFeeBaseFactor(isLong bool) *big.Int {
	return c.Get(sideKey(isLong, KeyBorrowingFeeBaseFactorForLong, KeyBorrowingFeeBaseFactorForShort))
}

// BorrowingFeeAboveOptimalUsageFactor returns the above-kink slope.
func (c *MarketConfig) BorrowingFeeAboveOptimalUsageFactor(isLong bool) *big.Int {
	return c.Get(sideKey(isLong, KeyBorrowingFeeAboveOptimalUsageFactorForLong, KeyBorrowingFeeAboveOptimalUsageFactorForShort))
}

// MaxPoolAmount returns the token-amount cap of the given collateral side.
func (c *MarketConfig) MaxPoolAmount(isLong bool) *big.Int {
	return c.Get(sideKey(isLong, KeyMaxPoolAmountForLongToken, KeyMaxPoolAmountForShortToken))
}

// MaxPoolValueForDeposit returns the USD cap applied during deposits.
func (c *MarketConfig) MaxPoolValueForDeposit(isLong bool) *big.Int {
	return c.Get(sideKey(isLong, KeyMaxPoolValueForDepositForLongToken, KeyMaxPoolValueForDepositForShortToken))
}

// MaxOpenInterest returns the USD open-interest cap for a side.
func (c *MarketConfig) MaxOpenInterest(isLong bool) *big.Int {
	return c.Get(sideKey(isLong, KeyMaxOpenInterestForLong, KeyMaxOpenInterestForShort))
}

// MinCollateralFactorForOpenInterestMultiplier scales the min collateral
// factor with the side's open interest.
func (c *MarketConfig) MinCollateralFactorForOpenInterestMultiplier(isLong bool) *big.Int {
	return c.Get(sideKey(isLong,
		KeyMinCollateralFactorForOpenInterestMultiplierForLong,
		KeyMinCollateralFactorForOpenInterestMultiplierForShort))
}

// MarketConfigKeyFromString resolves a key by its canonical name; used by
// the admin config-update request parser.
func MarketConfigKeyFromString(name string) (MarketConfigKey, bool) {
	for k := MarketConfigKey(0); int(k) < NumMarketConfigKeys; k++ {
		if k.String() == name {
			return k, true
		}
	}
	return 0, false
}

func (k MarketConfigKey) String() string {
	switch k {
	case KeySwapImpactExponent:
		return "SwapImpactExponent"
	case KeySwapImpactPositiveFactor:
		return "SwapImpactPositiveFactor"
	case KeySwapImpactNegativeFactor:
		return "SwapImpactNegativeFactor"
	case KeySwapFeeReceiverFactor:
		return "SwapFeeReceiverFactor"
	case KeySwapFeeFactorForPositiveImpact:
		return "SwapFeeFactorForPositiveImpact"
	case KeySwapFeeFactorForNegativeImpact:
		return "SwapFeeFactorForNegativeImpact"
	case KeyMinPositionSizeUsd:
		return "MinPositionSizeUsd"
	case KeyMinCollateralValue:
		return "MinCollateralValue"
	case KeyMinCollateralFactor:
		return "MinCollateralFactor"
	case KeyMinCollateralFactorForOpenInterestMultiplierForLong:
		return "MinCollateralFactorForOpenInterestMultiplierForLong"
	case KeyMinCollateralFactorForOpenInterestMultiplierForShort:
		return "MinCollateralFactorForOpenInterestMultiplierForShort"
	case KeyMaxPositivePositionImpactFactor:
		return "MaxPositivePositionImpactFactor"
	case KeyMaxNegativePositionImpactFactor:
		return "MaxNegativePositionImpactFactor"
	case KeyMaxPositionImpactFactorForLiquidations:
		return "MaxPositionImpactFactorForLiquidations"
	case KeyPositionImpactExponent:
		return "PositionImpactExponent"
	case KeyPositionImpactPositiveFactor:
		return "PositionImpactPositiveFactor"
	case KeyPositionImpactNegativeFactor:
		return "PositionImpactNegativeFactor"
	case KeyOrderFeeReceiverFactor:
		return "OrderFeeReceiverFactor"
	case KeyOrderFeeFactorForPositiveImpact:
		return "OrderFeeFactorForPositiveImpact"
	case KeyOrderFeeFactorForNegativeImpact:
		return "OrderFeeFactorForNegativeImpact"
	case KeyLiquidationFeeReceiverFactor:
		return "LiquidationFeeReceiverFactor"
	case KeyLiquidationFeeFactor:
		return "LiquidationFeeFactor"
	case KeyPositionImpactDistributeFactor:
		return "PositionImpactDistributeFactor"
	case KeyMinPositionImpactPoolAmount:
		return "MinPositionImpactPoolAmount"
	case KeyBorrowingFeeReceiverFactor:
		return "BorrowingFeeReceiverFactor"
	case KeyBorrowingFeeFactorForLong:
		return "BorrowingFeeFactorForLong"
	case KeyBorrowingFeeFactorForShort:
		return "BorrowingFeeFactorForShort"
	case KeyBorrowingFeeExponentForLong:
		return "BorrowingFeeExponentForLong"
	case KeyBorrowingFeeExponentForShort:
		return "BorrowingFeeExponentForShort"
	case KeyBorrowingFeeOptimalUsageFactorForLong:
		return "BorrowingFeeOptimalUsageFactorForLong"
	case KeyBorrowingFeeOptimalUsageFactorForShort:
		return "BorrowingFeeOptimalUsageFactorForShort"
	case KeyBorrowingFeeBaseFactorForLong:
		return "BorrowingFeeBaseFactorForLong"
	case KeyBorrowingFeeBaseFactorForShort:
		return "BorrowingFeeBaseFactorForShort"
	case KeyBorrowingFeeAboveOptimalUsageFactorForLong:
		return "BorrowingFeeAboveOptimalUsageFactorForLong"
	case KeyBorrowingFeeAboveOptimalUsageFactorForShort:
		return "BorrowingFeeAboveOptimalUsageFactorForShort"
	case KeyFundingFeeExponent:
		return "FundingFeeExponent"
	case KeyFundingFeeFactor:
		return "FundingFeeFactor"
	case KeyFundingFeeMaxFactorPerSecond:
		return "FundingFeeMaxFactorPerSecond"
	case KeyFundingFeeMinFactorPerSecond:
		return "FundingFeeMinFactorPerSecond"
	case KeyFundingFeeIncreaseFactorPerSecond:
		return "FundingFeeIncreaseFactorPerSecond"
	case KeyFundingFeeDecreaseFactorPerSecond:
		return "FundingFeeDecreaseFactorPerSecond"
	case KeyFundingFeeThresholdForStableFunding:
		return "FundingFeeThresholdForStableFunding"
	case KeyFundingFeeThresholdForDecreaseFunding:
		return "FundingFeeThresholdForDecreaseFunding"
	case KeyReserveFactor:
		return "ReserveFactor"
	case KeyOpenInterestReserveFactor:
		return "OpenInterestReserveFactor"
	case KeyMaxPnlFactorForLongDeposit:
		return "MaxPnlFactorForLongDeposit"
	case KeyMaxPnlFactorForShortDeposit:
		return "MaxPnlFactorForShortDeposit"
	case KeyMaxPnlFactorForLongWithdrawal:
		return "MaxPnlFactorForLongWithdrawal"
	case KeyMaxPnlFactorForShortWithdrawal:
		return "MaxPnlFactorForShortWithdrawal"
	case KeyMaxPnlFactorForLongTrader:
		return "MaxPnlFactorForLongTrader"
	case KeyMaxPnlFactorForShortTrader:
		return "MaxPnlFactorForShortTrader"
	case KeyMaxPnlFactorForLongAdl:
		return "MaxPnlFactorForLongAdl"
	case KeyMaxPnlFactorForShortAdl:
		return "MaxPnlFactorForShortAdl"
	case KeyMinPnlFactorAfterLongAdl:
		return "MinPnlFactorAfterLongAdl"
	case KeyMinPnlFactorAfterShortAdl:
		return "MinPnlFactorAfterShortAdl"
	case KeyMaxPoolAmountForLongToken:
		return "MaxPoolAmountForLongToken"
	case KeyMaxPoolAmountForShortToken:
		return "MaxPoolAmountForShortToken"
	case KeyMaxPoolValueForDepositForLongToken:
		return "MaxPoolValueForDepositForLongToken"
	case KeyMaxPoolValueForDepositForShortToken:
		return "MaxPoolValueForDepositForShortToken"
	case KeyMaxOpenInterestForLong:
		return "MaxOpenInterestForLong"
	case KeyMaxOpenInterestForShort:
		return "MaxOpenInterestForShort"
	case KeyMinTokensForFirstDeposit:
		return "MinTokensForFirstDeposit"
	default:
		return "Unknown"
	}
}
