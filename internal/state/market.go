package state

import (
	"errors"
	"fmt"
	"math/big"

	fpmath "gmsol/internal/math"
	"gmsol/internal/oracle"
)

var (
	ErrDisabledMarket  = errors.New("state: market is disabled")
	ErrStoreMismatch   = errors.New("state: market does not belong to store")
	ErrColliding       = errors.New("state: collateral tokens must differ from market token")
	ErrEmptyPoolValue  = errors.New("state: pool value is zero with non-zero reserve")
	ErrBadCollateral   = errors.New("state: token is not a collateral of this market")
	ErrUnknownPoolKind = errors.New("state: unknown pool kind")
)

// MarketFlags is a bit set of market toggles.
type MarketFlags uint8

const (
	FlagEnabled MarketFlags = 1 << iota
	FlagAdlEnabledForLong
	FlagAdlEnabledForShort
	FlagSkipBorrowingFeeForSmallerSide
	FlagGTEnabled
)

// Has reports whether all bits in f are set.
func (m MarketFlags) Has(f MarketFlags) bool {
	return m&f == f
}

// MarketMeta identifies the market's four mints. Frozen at creation.
type MarketMeta struct {
	MarketToken Token
	IndexToken  Token
	LongToken   Token
	ShortToken  Token
}

// IsPure reports whether long and short collateral coincide.
func (m MarketMeta) IsPure() bool {
	return m.LongToken == m.ShortToken
}

// IsCollateral reports whether token is one of the market's collaterals.
func (m MarketMeta) IsCollateral(token Token) bool {
	return token == m.LongToken || token == m.ShortToken
}

// Opposite returns the other collateral token. For a pure market both sides
// are the same mint.
func (m MarketMeta) Opposite(token Token) (Token, error) {
	switch token {
	case m.LongToken:
		return m.ShortToken, nil
	case m.ShortToken:
		return m.LongToken, nil
	default:
		return Token{}, ErrBadCollateral
	}
}

// IsLongCollateral reports the side of a collateral token. Pure markets
// resolve to the long side.
func (m MarketMeta) IsLongCollateral(token Token) (bool, error) {
	if token == m.LongToken {
		return true, nil
	}
	if token == m.ShortToken {
		return false, nil
	}
	return false, ErrBadCollateral
}

// OtherState carries the non-pool mutable bits of a market.
type OtherState struct {
	TradeCount uint64
	// FundingFactorPerSecond is signed: positive means longs pay shorts.
	FundingFactorPerSecond *big.Int
	LongTokenBalance       *big.Int
	ShortTokenBalance      *big.Int
	MarketTokenSupply      *big.Int
}

// Clone deep-copies the state.
func (s *OtherState) Clone() *OtherState {
	return &OtherState{
		TradeCount:             s.TradeCount,
		FundingFactorPerSecond: new(big.Int).Set(s.FundingFactorPerSecond),
		LongTokenBalance:       new(big.Int).Set(s.LongTokenBalance),
		ShortTokenBalance:      new(big.Int).Set(s.ShortTokenBalance),
		MarketTokenSupply:      new(big.Int).Set(s.MarketTokenSupply),
	}
}

// Market is the persistent per-market accounting record: meta, the fixed
// pool array, accrual clocks, other state, config, and flag bits.
//
// Pools, clocks, and other state are mutated only through the revertible
// layer; reads outside an action see committed state.
type Market struct {
	Store  [32]byte
	Meta   MarketMeta
	Flags  MarketFlags
	Rev    uint64
	pools  [NumPoolKinds]*Pool
	clocks *Clocks
	other  *OtherState
	config *MarketConfig
}

// NewMarket creates an enabled market with empty pools and default config.
func NewMarket(store [32]byte, meta MarketMeta) (*Market, error) {
	if meta.MarketToken == meta.LongToken || meta.MarketToken == meta.ShortToken {
		return nil, ErrColliding
	}
	m := &Market{
		Store:  store,
		Meta:   meta,
		Flags:  FlagEnabled,
		clocks: &Clocks{},
		other: &OtherState{
			FundingFactorPerSecond: big.NewInt(0),
			LongTokenBalance:       big.NewInt(0),
			ShortTokenBalance:      big.NewInt(0),
			MarketTokenSupply:      big.NewInt(0),
		},
		config: DefaultMarketConfig(),
	}
	pure := meta.IsPure()
	for i := range m.pools {
		kind := PoolKind(i)
		m.pools[i] = NewPool(pure && !kind.AlwaysNonPure())
	}
	return m, nil
}

// ShallowView returns a market value sharing this market's committed pools,
// clocks, state and config. The revertible layer swaps its overlay copies
// into the view so valuation helpers read through uncommitted changes. The
// view must never be mutated directly.
func ShallowView(m *Market) *Market {
	return &Market{
		Store:  m.Store,
		Meta:   m.Meta,
		Flags:  m.Flags,
		Rev:    m.Rev,
		pools:  m.pools,
		clocks: m.clocks,
		other:  m.other,
		config: m.config,
	}
}

// Pool returns the pool of the given kind. Callers must treat the result
// as read-only; mutation goes through the revertible layer.
func (m *Market) Pool(kind PoolKind) *Pool {
	if int(kind) < 0 || int(kind) >= NumPoolKinds {
		panic(fmt.Sprintf("state: invalid pool kind %d", kind))
	}
	return m.pools[kind]
}

// SetPool installs a pool; used by the revertible commit path.
func (m *Market) SetPool(kind PoolKind, p *Pool) {
	m.pools[kind] = p
}

// Clocks returns the live clock set.
func (m *Market) Clocks() *Clocks {
	return m.clocks
}

// SetClocks installs the clock set; revertible commit path.
func (m *Market) SetClocks(c *Clocks) {
	m.clocks = c
}

// State returns the live other-state.
func (m *Market) State() *OtherState {
	return m.other
}

// SetState installs other-state; revertible commit path.
func (m *Market) SetState(s *OtherState) {
	m.other = s
}

// Config returns the live config.
func (m *Market) Config() *MarketConfig {
	return m.config
}

// SetConfig installs a config; admin path.
func (m *Market) SetConfig(c *MarketConfig) {
	m.config = c
}

// Validate rejects disabled markets and markets from a different store.
func (m *Market) Validate(store [32]byte) error {
	if m.Store != store {
		return ErrStoreMismatch
	}
	if !m.Flags.Has(FlagEnabled) {
		return ErrDisabledMarket
	}
	return nil
}

// --- Derived quantities ---

// OpenInterest returns the USD open interest of a side, summing both
// collateral slots of the side's pool.
func (m *Market) OpenInterest(isLong bool) *big.Int {
	p := m.Pool(sidePool(isLong, PoolOpenInterestForLong, PoolOpenInterestForShort))
	return new(big.Int).Add(p.LongAmount(), p.ShortAmount())
}

// OpenInterestInTokens returns the index-token open interest of a side.
func (m *Market) OpenInterestInTokens(isLong bool) *big.Int {
	p := m.Pool(sidePool(isLong, PoolOpenInterestInTokensForLong, PoolOpenInterestInTokensForShort))
	return new(big.Int).Add(p.LongAmount(), p.ShortAmount())
}

// CollateralSum returns the token-denominated collateral sum of a side.
func (m *Market) CollateralSum(isLong bool) *Pool {
	return m.Pool(sidePool(isLong, PoolCollateralSumForLong, PoolCollateralSumForShort))
}

// ReservedValue is the USD value reserved against open positions of a
// side: for longs, tokens reserved at the max index price (profit is paid
// in index exposure); for shorts, the open interest itself.
func (m *Market) ReservedValue(prices oracle.Prices, isLong bool) (*big.Int, error) {
	if isLong {
		out := new(big.Int).Mul(m.OpenInterestInTokens(true), prices.Index.Max)
		if err := fpmath.CheckU128(out); err != nil {
			return nil, err
		}
		return out, nil
	}
	return m.OpenInterest(false), nil
}

// PendingPnl returns the aggregate unrealized trader PnL of a side, signed
// from the traders' perspective. maximize picks the index price that
// maximizes the result.
func (m *Market) PendingPnl(prices oracle.Prices, isLong, maximize bool) (*big.Int, error) {
	oiUsd := m.OpenInterest(isLong)
	oiTokens := m.OpenInterestInTokens(isLong)
	if oiUsd.Sign() == 0 && oiTokens.Sign() == 0 {
		return big.NewInt(0), nil
	}
	// Long pnl grows with price, short pnl shrinks with price.
	price := prices.Index.Pick(maximize == isLong)
	value := new(big.Int).Mul(oiTokens, price)
	var pnl *big.Int
	if isLong {
		pnl = value.Sub(value, oiUsd)
	} else {
		pnl = new(big.Int).Sub(oiUsd, value)
	}
	if err := fpmath.CheckI128(pnl); err != nil {
		return nil, err
	}
	return pnl, nil
}

// PoolValueWithoutPnl is the USD value of the primary pool at min or max
// collateral prices.
func (m *Market) PoolValueWithoutPnl(prices oracle.Prices, maximize bool) (*big.Int, error) {
	p := m.Pool(PoolPrimary)
	longValue := new(big.Int).Mul(p.LongAmount(), prices.Long.Pick(maximize))
	shortValue := new(big.Int).Mul(p.ShortAmount(), prices.Short.Pick(maximize))
	out := longValue.Add(longValue, shortValue)
	if err := fpmath.CheckU128(out); err != nil {
		return nil, err
	}
	return out, nil
}

// PoolValue is the primary pool value net of pending trader PnL, signed.
// maximize=false is the prudent view used for deposits: min collateral
// prices and maximized trader PnL deducted.
func (m *Market) PoolValue(prices oracle.Prices, maximize bool) (*big.Int, error) {
	base, err := m.PoolValueWithoutPnl(prices, maximize)
	if err != nil {
		return nil, err
	}
	longPnl, err := m.PendingPnl(prices, true, !maximize)
	if err != nil {
		return nil, err
	}
	shortPnl, err := m.PendingPnl(prices, false, !maximize)
	if err != nil {
		return nil, err
	}
	out := new(big.Int).Sub(base, longPnl)
	out.Sub(out, shortPnl)
	if err := fpmath.CheckI128(out); err != nil {
		return nil, err
	}
	return out, nil
}

// SidePoolValue is the USD value of one collateral side of the primary
// pool, used as the denominator of PnL factors.
func (m *Market) SidePoolValue(prices oracle.Prices, isLong, maximize bool) (*big.Int, error) {
	p := m.Pool(PoolPrimary)
	price := prices.Collateral(isLong).Pick(maximize)
	out := new(big.Int).Mul(p.Amount(isLong), price)
	if err := fpmath.CheckU128(out); err != nil {
		return nil, err
	}
	return out, nil
}

// PnlFactor returns pending_pnl / side_pool_value as a signed factor.
func (m *Market) PnlFactor(prices oracle.Prices, isLong, maximize bool) (*big.Int, error) {
	pnl, err := m.PendingPnl(prices, isLong, maximize)
	if err != nil {
		return nil, err
	}
	if pnl.Sign() == 0 {
		return big.NewInt(0), nil
	}
	poolUsd, err := m.SidePoolValue(prices, isLong, !maximize)
	if err != nil {
		return nil, err
	}
	if poolUsd.Sign() == 0 {
		return nil, ErrEmptyPoolValue
	}
	return fpmath.DivToFactorSigned(pnl, poolUsd)
}

// PnlFactorExceeded returns the excess over the configured cap when the
// side's PnL factor exceeds max_pnl_factor_for(kind), or nil.
func (m *Market) PnlFactorExceeded(prices oracle.Prices, kind PnlFactorKind, isLong bool) (*big.Int, error) {
	factor, err := m.PnlFactor(prices, isLong, true)
	if err != nil {
		return nil, err
	}
	if factor.Sign() <= 0 {
		return nil, nil
	}
	max := m.Config().MaxPnlFactor(kind, isLong)
	if factor.Cmp(max) <= 0 {
		return nil, nil
	}
	return new(big.Int).Sub(factor, max), nil
}

func sidePool(isLong bool, long, short PoolKind) PoolKind {
	if isLong {
		return long
	}
	return short
}

// CumulativeBorrowingFactor returns the per-side cumulative factor stored
// in the BorrowingFactor pool (long slot for longs, short for shorts).
func (m *Market) CumulativeBorrowingFactor(isLong bool) *big.Int {
	p := m.Pool(PoolBorrowingFactor)
	if isLong {
		return p.LongAmount()
	}
	return p.ShortAmount()
}

// FundingAmountPerSize returns the per-size funding accrual for positions
// of the given side, denominated in the given collateral side's token.
func (m *Market) FundingAmountPerSize(positionIsLong, collateralIsLong bool) *big.Int {
	p := m.Pool(sidePool(positionIsLong, PoolFundingAmountPerSizeForLong, PoolFundingAmountPerSizeForShort))
	return p.Amount(collateralIsLong)
}

// ClaimableFundingAmountPerSize mirrors FundingAmountPerSize for the
// receiving side.
func (m *Market) ClaimableFundingAmountPerSize(positionIsLong, collateralIsLong bool) *big.Int {
	p := m.Pool(sidePool(positionIsLong, PoolClaimableFundingAmountPerSizeForLong, PoolClaimableFundingAmountPerSizeForShort))
	return p.Amount(collateralIsLong)
}
