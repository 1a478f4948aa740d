package state

// PoolKind identifies one of the per-market accounting pools. The set is
// closed: every kind is stored in a fixed array inside Market and dispatch
// is by exhaustive switch, never by table.
type PoolKind int32

const (
	PoolPrimary PoolKind = iota
	PoolSwapImpact
	PoolClaimableFee
	PoolOpenInterestForLong
	PoolOpenInterestForShort
	PoolOpenInterestInTokensForLong
	PoolOpenInterestInTokensForShort
	PoolPositionImpact
	PoolBorrowingFactor
	PoolFundingAmountPerSizeForLong
	PoolFundingAmountPerSizeForShort
	PoolClaimableFundingAmountPerSizeForLong
	PoolClaimableFundingAmountPerSizeForShort
	PoolCollateralSumForLong
	PoolCollateralSumForShort
	PoolTotalBorrowing

	NumPoolKinds = int(PoolTotalBorrowing) + 1
)

func (k PoolKind) String() string {
	switch k {
	case PoolPrimary:
		return "Primary"
	case PoolSwapImpact:
		return "SwapImpact"
	case PoolClaimableFee:
		return "ClaimableFee"
	case PoolOpenInterestForLong:
		return "OpenInterestForLong"
	case PoolOpenInterestForShort:
		return "OpenInterestForShort"
	case PoolOpenInterestInTokensForLong:
		return "OpenInterestInTokensForLong"
	case PoolOpenInterestInTokensForShort:
		return "OpenInterestInTokensForShort"
	case PoolPositionImpact:
		return "PositionImpact"
	case PoolBorrowingFactor:
		return "BorrowingFactor"
	case PoolFundingAmountPerSizeForLong:
		return "FundingAmountPerSizeForLong"
	case PoolFundingAmountPerSizeForShort:
		return "FundingAmountPerSizeForShort"
	case PoolClaimableFundingAmountPerSizeForLong:
		return "ClaimableFundingAmountPerSizeForLong"
	case PoolClaimableFundingAmountPerSizeForShort:
		return "ClaimableFundingAmountPerSizeForShort"
	case PoolCollateralSumForLong:
		return "CollateralSumForLong"
	case PoolCollateralSumForShort:
		return "CollateralSumForShort"
	case PoolTotalBorrowing:
		return "TotalBorrowing"
	default:
		return "Unknown"
	}
}

// AlwaysNonPure reports whether the kind keeps distinct long/short slots
// even in a pure market. These pools track factors or per-side sums where
// collapsing the sides would corrupt the accrual math.
func (k PoolKind) AlwaysNonPure() bool {
	switch k {
	case PoolPositionImpact, PoolBorrowingFactor, PoolTotalBorrowing:
		return true
	default:
		return false
	}
}
