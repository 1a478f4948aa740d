package event

import (
	"math/big"

	"gmsol/internal/state"
)

// PoolSnapshot is the committed amounts of one pool.
type PoolSnapshot struct {
	Kind  state.PoolKind `json:"kind"`
	Long  *big.Int       `json:"long"`
	Short *big.Int       `json:"short"`
}

// MarketStateUpdated lists the pools an action changed, emitted at commit.
type MarketStateUpdated struct {
	Ref         string       `json:"ref"`
	Rev         uint64       `json:"rev"`
	Market      state.Token  `json:"market_token"`
	Pools       []PoolSnapshot `json:"pools"`
	ClocksDirty bool         `json:"clocks_dirty"`
	StateDirty  bool         `json:"state_dirty"`
	// FundingFactorPerSecond is included when StateDirty is set.
	FundingFactorPerSecond *big.Int `json:"funding_factor_per_second,omitempty"`
}

func (e *MarketStateUpdated) EventType() EventType       { return EventTypeMarketStateUpdated }
func (e *MarketStateUpdated) MarketToken() *state.Token  { return &e.Market }
func (e *MarketStateUpdated) ActionRef() string          { return e.Ref }

// MarketFeesUpdated reports fee amounts charged by one operation.
type MarketFeesUpdated struct {
	Ref             string      `json:"ref"`
	Market          state.Token `json:"market_token"`
	Token           state.Token `json:"token"`
	FeeForPool      *big.Int    `json:"fee_for_pool"`
	FeeForReceiver  *big.Int    `json:"fee_for_receiver"`
	IsPositiveImpact bool       `json:"is_positive_impact"`
}

func (e *MarketFeesUpdated) EventType() EventType      { return EventTypeMarketFeesUpdated }
func (e *MarketFeesUpdated) MarketToken() *state.Token { return &e.Market }
func (e *MarketFeesUpdated) ActionRef() string         { return e.Ref }

// BorrowingFeesUpdated reports a borrowing clock advance.
type BorrowingFeesUpdated struct {
	Ref                   string      `json:"ref"`
	Market                state.Token `json:"market_token"`
	ElapsedSeconds        int64       `json:"elapsed_seconds"`
	LongFactorPerSecond   *big.Int    `json:"long_factor_per_second"`
	ShortFactorPerSecond  *big.Int    `json:"short_factor_per_second"`
	CumulativeLongFactor  *big.Int    `json:"cumulative_long_factor"`
	CumulativeShortFactor *big.Int    `json:"cumulative_short_factor"`
}

func (e *BorrowingFeesUpdated) EventType() EventType      { return EventTypeBorrowingFeesUpdated }
func (e *BorrowingFeesUpdated) MarketToken() *state.Token { return &e.Market }
func (e *BorrowingFeesUpdated) ActionRef() string         { return e.Ref }

// FundingFeesUpdated reports a funding clock advance.
type FundingFeesUpdated struct {
	Ref                    string      `json:"ref"`
	Market                 state.Token `json:"market_token"`
	ElapsedSeconds         int64       `json:"elapsed_seconds"`
	FundingFactorPerSecond *big.Int    `json:"funding_factor_per_second"`
	LongPaysShort          bool        `json:"long_pays_short"`
}

func (e *FundingFeesUpdated) EventType() EventType      { return EventTypeFundingFeesUpdated }
func (e *FundingFeesUpdated) MarketToken() *state.Token { return &e.Market }
func (e *FundingFeesUpdated) ActionRef() string         { return e.Ref }

// PositionImpactDistributed reports impact-pool distribution to traders.
type PositionImpactDistributed struct {
	Ref               string      `json:"ref"`
	Market            state.Token `json:"market_token"`
	DistributedAmount *big.Int    `json:"distributed_amount"`
}

func (e *PositionImpactDistributed) EventType() EventType      { return EventTypePositionImpactDistributed }
func (e *PositionImpactDistributed) MarketToken() *state.Token { return &e.Market }
func (e *PositionImpactDistributed) ActionRef() string         { return e.Ref }

// AdlStateUpdated reports a recomputed auto-deleveraging flag.
type AdlStateUpdated struct {
	Ref       string      `json:"ref"`
	Market    state.Token `json:"market_token"`
	IsLong    bool        `json:"is_long"`
	Enabled   bool        `json:"enabled"`
	PnlFactor *big.Int    `json:"pnl_factor"`
}

func (e *AdlStateUpdated) EventType() EventType      { return EventTypeAdlStateUpdated }
func (e *AdlStateUpdated) MarketToken() *state.Token { return &e.Market }
func (e *AdlStateUpdated) ActionRef() string         { return e.Ref }

// MarketCreated announces a new market registered in the store.
type MarketCreated struct {
	Ref    string      `json:"ref"`
	Market state.Token `json:"market_token"`
	Index  state.Token `json:"index_token"`
	Long   state.Token `json:"long_token"`
	Short  state.Token `json:"short_token"`
	IsPure bool        `json:"is_pure"`
}

func (e *MarketCreated) EventType() EventType      { return EventTypeMarketCreated }
func (e *MarketCreated) MarketToken() *state.Token { return &e.Market }
func (e *MarketCreated) ActionRef() string         { return e.Ref }

// MarketConfigUpdated reports an admin factor change.
type MarketConfigUpdated struct {
	Ref    string      `json:"ref"`
	Market state.Token `json:"market_token"`
	Key    string      `json:"key"`
	Value  *big.Int    `json:"value"`
}

func (e *MarketConfigUpdated) EventType() EventType      { return EventTypeMarketConfigUpdated }
func (e *MarketConfigUpdated) MarketToken() *state.Token { return &e.Market }
func (e *MarketConfigUpdated) ActionRef() string         { return e.Ref }
