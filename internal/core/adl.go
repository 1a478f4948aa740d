package core

import (
	"gmsol/internal/event"
	"gmsol/internal/oracle"
	"gmsol/internal/state"
)

// UpdateAdlState recomputes the auto-deleveraging flag for one side from
// the ADL pnl-factor gate and stamps the side's ADL clock with the oracle's
// max timestamp. A keeper runs this before executing ADL orders; executing
// one requires the flag and a clock at least as fresh as the oracle window.
func UpdateAdlState(rm *RevertibleMarket, prices oracle.Prices, maxTs int64, isLong bool, ref string) (*event.AdlStateUpdated, error) {
	view := rm.View()
	excess, err := view.PnlFactorExceeded(prices, state.PnlFactorForAdl, isLong)
	if err != nil {
		return nil, err
	}
	enabled := excess != nil

	flag := state.FlagAdlEnabledForShort
	clock := state.ClockAdlForShort
	if isLong {
		flag = state.FlagAdlEnabledForLong
		clock = state.ClockAdlForLong
	}
	m := rm.Market()
	if enabled {
		m.Flags |= flag
	} else {
		m.Flags &^= flag
	}
	rm.SetClock(clock, maxTs)

	factor, err := view.PnlFactor(prices, isLong, true)
	if err != nil {
		return nil, err
	}
	return &event.AdlStateUpdated{
		Ref:       ref,
		Market:    m.Meta.MarketToken,
		IsLong:    isLong,
		Enabled:   enabled,
		PnlFactor: factor,
	}, nil
}
