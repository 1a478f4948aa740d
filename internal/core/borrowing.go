package core

import (
	"fmt"
	"math/big"

	"gmsol/internal/event"
	fpmath "gmsol/internal/math"
	"gmsol/internal/oracle"
	"gmsol/internal/state"
)

// BorrowingFactorPerSecond returns the per-second borrowing factor for one
// side of the market at the given prices. Zero when nothing is reserved, or
// when the side is the smaller open-interest side and the market skips it.
// It is an error for the side's pool to be empty while value is reserved.
func BorrowingFactorPerSecond(m *state.Market, prices oracle.Prices, isLong bool) (*big.Int, error) {
	reserved, err := m.ReservedValue(prices, isLong)
	if err != nil {
		return nil, err
	}
	if reserved.Sign() == 0 {
		return new(big.Int), nil
	}
	if m.Flags.Has(state.FlagSkipBorrowingFeeForSmallerSide) {
		if m.OpenInterest(isLong).Cmp(m.OpenInterest(!isLong)) < 0 {
			return new(big.Int), nil
		}
	}
	poolValue, err := m.SidePoolValue(prices, isLong, false)
	if err != nil {
		return nil, err
	}
	if poolValue.Sign() == 0 {
		return nil, fmt.Errorf("borrowing: %w: reserved value with empty pool", fpmath.ErrDivisionByZero)
	}

	cfg := m.Config()
	optimal := cfg.BorrowingFeeOptimalUsageFactor(isLong)
	if optimal.Sign() > 0 {
		return kinkBorrowingFactorPerSecond(cfg, reserved, poolValue, optimal, isLong)
	}

	powed, err := fpmath.ApplyExponentFactor(reserved, cfg.BorrowingFeeExponent(isLong))
	if err != nil {
		return nil, err
	}
	usage, err := fpmath.DivToFactor(powed, poolValue, false)
	if err != nil {
		return nil, err
	}
	return fpmath.ApplyFactor(usage, cfg.BorrowingFeeFactor(isLong))
}

// kinkBorrowingFactorPerSecond applies the optimal-usage model: a base
// slope below the optimal usage point and a steeper slope above it.
func kinkBorrowingFactorPerSecond(cfg *state.MarketConfig, reserved, poolValue, optimal *big.Int, isLong bool) (*big.Int, error) {
	usage, err := fpmath.DivToFactor(reserved, poolValue, false)
	if err != nil {
		return nil, err
	}
	if usage.Cmp(optimal) <= 0 {
		return fpmath.ApplyFactor(usage, cfg.BorrowingFeeBaseFactor(isLong))
	}
	base, err := fpmath.ApplyFactor(optimal, cfg.BorrowingFeeBaseFactor(isLong))
	if err != nil {
		return nil, err
	}
	excess := new(big.Int).Sub(usage, optimal)
	above, err := fpmath.ApplyFactor(excess, cfg.BorrowingFeeAboveOptimalUsageFactor(isLong))
	if err != nil {
		return nil, err
	}
	return new(big.Int).Add(base, above), nil
}

// UpdateBorrowingState advances the borrowing clock, accrues the cumulative
// borrowing factor of each side by per_second * elapsed, and tracks the
// total borrowing owed by open interest. Returns nil when no time elapsed.
func UpdateBorrowingState(rm *RevertibleMarket, prices oracle.Prices, now int64, ref string) (*event.BorrowingFeesUpdated, error) {
	elapsed := rm.AdvanceClock(state.ClockBorrowing, now)
	if elapsed <= 0 {
		return nil, nil
	}
	view := rm.View()
	evt := &event.BorrowingFeesUpdated{
		Ref:            ref,
		Market:         rm.Market().Meta.MarketToken,
		ElapsedSeconds: elapsed,
	}
	for _, isLong := range [2]bool{true, false} {
		perSecond, err := BorrowingFactorPerSecond(view, prices, isLong)
		if err != nil {
			return nil, err
		}
		delta := new(big.Int).Mul(perSecond, big.NewInt(elapsed))
		if err := fpmath.CheckU128(delta); err != nil {
			return nil, err
		}
		if delta.Sign() > 0 {
			if err := rm.ApplyPoolDelta(state.PoolBorrowingFactor, isLong, delta); err != nil {
				return nil, err
			}
			owed, err := fpmath.ApplyFactor(view.OpenInterest(isLong), delta)
			if err != nil {
				return nil, err
			}
			if owed.Sign() > 0 {
				if err := rm.ApplyPoolDelta(state.PoolTotalBorrowing, isLong, owed); err != nil {
					return nil, err
				}
			}
		}
		cumulative := rm.Pool(state.PoolBorrowingFactor).Amount(isLong)
		if isLong {
			evt.LongFactorPerSecond = perSecond
			evt.CumulativeLongFactor = cumulative
		} else {
			evt.ShortFactorPerSecond = perSecond
			evt.CumulativeShortFactor = cumulative
		}
	}
	return evt, nil
}

// PositionBorrowingFee returns the USD borrowing fee accrued by a position
// since it last settled, given the current cumulative factor of its side.
func PositionBorrowingFee(cumulative *big.Int, p *state.Position) (*big.Int, error) {
	delta := new(big.Int).Sub(cumulative, p.State.BorrowingFactorAtOpen)
	if delta.Sign() < 0 {
		return nil, fmt.Errorf("borrowing: cumulative factor went backwards: %w", ErrInvalidPosition)
	}
	return fpmath.ApplyFactor(p.State.SizeInUsd, delta)
}
