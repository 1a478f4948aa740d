package state

import (
	"errors"
	"math/big"

	"github.com/google/uuid"
)

var (
	ErrPositionMarketMismatch = errors.New("state: position does not belong to market")
	ErrCorruptPosition        = errors.New("state: size_in_usd > 0 requires size_in_tokens > 0")
)

// PositionKind is the exposure direction.
type PositionKind int32

const (
	PositionLong PositionKind = iota
	PositionShort
)

func (k PositionKind) String() string {
	if k == PositionLong {
		return "Long"
	}
	return "Short"
}

// IsLong is a convenience predicate.
func (k PositionKind) IsLong() bool {
	return k == PositionLong
}

// PositionState is the mutable accounting state of a position.
type PositionState struct {
	SizeInUsd        *big.Int
	SizeInTokens     *big.Int
	CollateralAmount *big.Int

	BorrowingFactorAtOpen        *big.Int
	FundingFeeAmountPerSizeAtOpen *big.Int
	// Claimable per-size marks for each collateral token of the market.
	ClaimableFundingPerSizeLongAtOpen  *big.Int
	ClaimableFundingPerSizeShortAtOpen *big.Int

	TradeID       uint64
	IncreasedAt   int64
	DecreasedAt   int64
	UpdatedAtSlot uint64
}

// NewPositionState returns a zeroed state.
func NewPositionState() *PositionState {
	return &PositionState{
		SizeInUsd:                          big.NewInt(0),
		SizeInTokens:                       big.NewInt(0),
		CollateralAmount:                   big.NewInt(0),
		BorrowingFactorAtOpen:              big.NewInt(0),
		FundingFeeAmountPerSizeAtOpen:      big.NewInt(0),
		ClaimableFundingPerSizeLongAtOpen:  big.NewInt(0),
		ClaimableFundingPerSizeShortAtOpen: big.NewInt(0),
	}
}

// Clone deep-copies the state.
func (s *PositionState) Clone() *PositionState {
	return &PositionState{
		SizeInUsd:                          new(big.Int).Set(s.SizeInUsd),
		SizeInTokens:                       new(big.Int).Set(s.SizeInTokens),
		CollateralAmount:                   new(big.Int).Set(s.CollateralAmount),
		BorrowingFactorAtOpen:              new(big.Int).Set(s.BorrowingFactorAtOpen),
		FundingFeeAmountPerSizeAtOpen:      new(big.Int).Set(s.FundingFeeAmountPerSizeAtOpen),
		ClaimableFundingPerSizeLongAtOpen:  new(big.Int).Set(s.ClaimableFundingPerSizeLongAtOpen),
		ClaimableFundingPerSizeShortAtOpen: new(big.Int).Set(s.ClaimableFundingPerSizeShortAtOpen),
		TradeID:                            s.TradeID,
		IncreasedAt:                        s.IncreasedAt,
		DecreasedAt:                        s.DecreasedAt,
		UpdatedAtSlot:                      s.UpdatedAtSlot,
	}
}

// Position is a trader's open exposure in one market with a chosen
// collateral side.
type Position struct {
	ID              uuid.UUID
	Owner           [32]byte
	MarketToken     Token
	CollateralToken Token
	Kind            PositionKind
	State           *PositionState
}

// NewPosition creates an empty position record.
func NewPosition(owner [32]byte, market Token, collateral Token, kind PositionKind) *Position {
	return &Position{
		ID:              uuid.New(),
		Owner:           owner,
		MarketToken:     market,
		CollateralToken: collateral,
		Kind:            kind,
		State:           NewPositionState(),
	}
}

// IsEmpty reports whether the position holds no size and no collateral and
// may be removed.
func (p *Position) IsEmpty() bool {
	return p.State.SizeInUsd.Sign() == 0 &&
		p.State.SizeInTokens.Sign() == 0 &&
		p.State.CollateralAmount.Sign() == 0
}

// Validate checks the position against its market: collateral must be one
// of the market's pair and size fields must be consistent.
func (p *Position) Validate(m *Market) error {
	if p.MarketToken != m.Meta.MarketToken {
		return ErrPositionMarketMismatch
	}
	if !m.Meta.IsCollateral(p.CollateralToken) {
		return ErrBadCollateral
	}
	if p.State.SizeInUsd.Sign() > 0 && p.State.SizeInTokens.Sign() == 0 {
		return ErrCorruptPosition
	}
	return nil
}

// IsCollateralLong reports the side of the collateral token within m.
func (p *Position) IsCollateralLong(m *Market) (bool, error) {
	return m.Meta.IsLongCollateral(p.CollateralToken)
}

// EntryPrice returns size_in_usd / size_in_tokens, the average entry unit
// price, rounded down. Zero-size positions have no entry price.
func (p *Position) EntryPrice() *big.Int {
	if p.State.SizeInTokens.Sign() == 0 {
		return big.NewInt(0)
	}
	return new(big.Int).Quo(p.State.SizeInUsd, p.State.SizeInTokens)
}

// Clone deep-copies the position.
func (p *Position) Clone() *Position {
	out := *p
	out.State = p.State.Clone()
	return &out
}
