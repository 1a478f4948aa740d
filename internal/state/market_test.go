package state_test

import (
	"math/big"
	"testing"

	fpmath "gmsol/internal/math"
	"gmsol/internal/oracle"
	"gmsol/internal/state"
)

var testStore = [32]byte{1}

func newTestMarket(t *testing.T, pure bool) *state.Market {
	t.Helper()
	meta := state.MarketMeta{
		MarketToken: state.TokenFromString("GM-SOL-USDC"),
		IndexToken:  state.TokenFromString("WSOL"),
		LongToken:   state.TokenFromString("WSOL"),
		ShortToken:  state.TokenFromString("USDC"),
	}
	if pure {
		meta.LongToken = state.TokenFromString("USDC")
	}
	m, err := state.NewMarket(testStore, meta)
	if err != nil {
		t.Fatalf("NewMarket: %v", err)
	}
	return m
}

func testPrices() oracle.Prices {
	return oracle.Prices{
		Index: oracle.UnitPrice(20, 9), // $20 WSOL, 9 decimals
		Long:  oracle.UnitPrice(20, 9),
		Short: oracle.UnitPrice(1, 6), // $1 USDC, 6 decimals
	}
}

func TestMarket_Validate(t *testing.T) {
	m := newTestMarket(t, false)
	if err := m.Validate(testStore); err != nil {
		t.Errorf("enabled market in store should validate: %v", err)
	}

	other := [32]byte{9}
	if err := m.Validate(other); err != state.ErrStoreMismatch {
		t.Errorf("got %v, want ErrStoreMismatch", err)
	}

	m.Flags &^= state.FlagEnabled
	if err := m.Validate(testStore); err != state.ErrDisabledMarket {
		t.Errorf("got %v, want ErrDisabledMarket", err)
	}
}

func TestMarket_PureMarketPools(t *testing.T) {
	m := newTestMarket(t, true)
	if !m.Meta.IsPure() {
		t.Fatal("expected pure market")
	}
	if !m.Pool(state.PoolPrimary).IsPure() {
		t.Error("primary pool of a pure market must be pure")
	}
	// Accrual pools keep distinct sides regardless of purity.
	for _, k := range []state.PoolKind{
		state.PoolPositionImpact, state.PoolBorrowingFactor, state.PoolTotalBorrowing,
	} {
		if m.Pool(k).IsPure() {
			t.Errorf("%s pool must never be pure", k)
		}
	}
}

func TestMarket_PoolValueWithoutPnl(t *testing.T) {
	m := newTestMarket(t, false)
	prices := testPrices()

	// 10 WSOL (10^10 lamports) and 200 USDC (2*10^8).
	_ = m.Pool(state.PoolPrimary).ApplyDeltaToLongAmount(big.NewInt(10_000_000_000))
	_ = m.Pool(state.PoolPrimary).ApplyDeltaToShortAmount(big.NewInt(200_000_000))

	v, err := m.PoolValueWithoutPnl(prices, false)
	if err != nil {
		t.Fatalf("PoolValueWithoutPnl: %v", err)
	}
	// 10 * $20 + 200 * $1 = $400 scaled by 10^20.
	want := new(big.Int).Mul(big.NewInt(400), fpmath.Unit)
	if v.Cmp(want) != 0 {
		t.Errorf("got %s, want %s", v, want)
	}
}

func TestMarket_PendingPnlLong(t *testing.T) {
	m := newTestMarket(t, false)
	prices := testPrices()

	// Open interest: 1000 USD at entry, 100 tokens (10^11 lamports would be
	// 100 SOL; use 50 SOL opened at $20 → 1000 USD, now still $20 → pnl 0).
	oiUsd := new(big.Int).Mul(big.NewInt(1000), fpmath.Unit)
	oiTokens := big.NewInt(50_000_000_000) // 50 SOL
	_ = m.Pool(state.PoolOpenInterestForLong).ApplyDeltaToLongAmount(oiUsd)
	_ = m.Pool(state.PoolOpenInterestInTokensForLong).ApplyDeltaToLongAmount(oiTokens)

	pnl, err := m.PendingPnl(prices, true, true)
	if err != nil {
		t.Fatalf("PendingPnl: %v", err)
	}
	if pnl.Sign() != 0 {
		t.Errorf("pnl at entry price should be zero, got %s", pnl)
	}

	// Price doubles: pnl = 50 * $40 - $1000 = $1000.
	up := oracle.Prices{
		Index: oracle.UnitPrice(40, 9),
		Long:  oracle.UnitPrice(40, 9),
		Short: oracle.UnitPrice(1, 6),
	}
	pnl, err = m.PendingPnl(up, true, true)
	if err != nil {
		t.Fatalf("PendingPnl: %v", err)
	}
	want := new(big.Int).Mul(big.NewInt(1000), fpmath.Unit)
	if pnl.Cmp(want) != 0 {
		t.Errorf("got %s, want %s", pnl, want)
	}
}

func TestMarket_PnlFactorExceeded(t *testing.T) {
	m := newTestMarket(t, false)
	prices := testPrices()

	// Pool: 100 SOL = $2000. Long OI: 50 SOL opened at $10 = $500.
	_ = m.Pool(state.PoolPrimary).ApplyDeltaToLongAmount(big.NewInt(100_000_000_000))
	_ = m.Pool(state.PoolOpenInterestForLong).ApplyDeltaToLongAmount(new(big.Int).Mul(big.NewInt(500), fpmath.Unit))
	_ = m.Pool(state.PoolOpenInterestInTokensForLong).ApplyDeltaToLongAmount(big.NewInt(50_000_000_000))

	// Pending pnl = 50*$20 - $500 = $500; factor = 500/2000 = 0.25.
	// Cap at 20% → exceeded by 0.05.
	cap := new(big.Int).Quo(fpmath.Unit, big.NewInt(5))
	if err := m.Config().Set(state.KeyMaxPnlFactorForLongWithdrawal, cap); err != nil {
		t.Fatal(err)
	}

	excess, err := m.PnlFactorExceeded(prices, state.PnlFactorForWithdrawal, true)
	if err != nil {
		t.Fatalf("PnlFactorExceeded: %v", err)
	}
	if excess == nil {
		t.Fatal("expected excess, got nil")
	}
	want := new(big.Int).Quo(fpmath.Unit, big.NewInt(20)) // 0.05
	if excess.Cmp(want) != 0 {
		t.Errorf("excess: got %s, want %s", excess, want)
	}

	// Raise the cap: no longer exceeded.
	if err := m.Config().Set(state.KeyMaxPnlFactorForLongWithdrawal, new(big.Int).Set(fpmath.Unit)); err != nil {
		t.Fatal(err)
	}
	excess, err = m.PnlFactorExceeded(prices, state.PnlFactorForWithdrawal, true)
	if err != nil {
		t.Fatalf("PnlFactorExceeded: %v", err)
	}
	if excess != nil {
		t.Errorf("expected nil, got %s", excess)
	}
}

func TestMarketMeta_Opposite(t *testing.T) {
	m := newTestMarket(t, false)
	long := state.TokenFromString("WSOL")
	short := state.TokenFromString("USDC")

	got, err := m.Meta.Opposite(long)
	if err != nil || got != short {
		t.Errorf("Opposite(long): got %v (%v)", got, err)
	}
	got, err = m.Meta.Opposite(short)
	if err != nil || got != long {
		t.Errorf("Opposite(short): got %v (%v)", got, err)
	}
	if _, err := m.Meta.Opposite(state.TokenFromString("WBTC")); err != state.ErrBadCollateral {
		t.Errorf("got %v, want ErrBadCollateral", err)
	}
}

func TestMarketConfig_GetSet(t *testing.T) {
	c := state.NewMarketConfig()
	v := big.NewInt(123456)
	if err := c.Set(state.KeyReserveFactor, v); err != nil {
		t.Fatal(err)
	}
	if got := c.Get(state.KeyReserveFactor); got.Cmp(v) != 0 {
		t.Errorf("got %s, want %s", got, v)
	}
	if err := c.Set(state.KeyReserveFactor, big.NewInt(-1)); err == nil {
		t.Error("negative config value should be rejected")
	}
}

func TestMarketConfigKey_RoundTrip(t *testing.T) {
	for k := state.MarketConfigKey(0); int(k) < state.NumMarketConfigKeys; k++ {
		name := k.String()
		if name == "Unknown" {
			t.Fatalf("key %d has no name", k)
		}
		back, ok := state.MarketConfigKeyFromString(name)
		if !ok || back != k {
			t.Errorf("round trip failed for %s", name)
		}
	}
}
