package core

import (
	"fmt"
	"math/big"
	"sort"

	"gmsol/internal/event"
	"gmsol/internal/state"
)

// RevertibleMarket is a commit-or-discard overlay over one market. Pools,
// clocks and other-state are copied on first touch; the persistent market is
// never mutated until Commit. Dropping the overlay without committing leaves
// the market exactly as it was.
type RevertibleMarket struct {
	market *state.Market

	pools       [state.NumPoolKinds]*state.Pool
	dirtyPools  [state.NumPoolKinds]bool
	clocks      *state.Clocks
	clocksDirty bool
	other       *state.OtherState
	otherDirty  bool
}

// NewRevertibleMarket opens an overlay after validating the market against
// the store.
func NewRevertibleMarket(m *state.Market, store [32]byte) (*RevertibleMarket, error) {
	if err := m.Validate(store); err != nil {
		return nil, err
	}
	return &RevertibleMarket{market: m}, nil
}

// Market returns the underlying persistent market. Callers must treat it as
// read-only while the overlay is open.
func (r *RevertibleMarket) Market() *state.Market {
	return r.market
}

// Pool returns the overlay copy of a pool, creating it on first touch.
func (r *RevertibleMarket) Pool(kind state.PoolKind) *state.Pool {
	if r.pools[kind] == nil {
		r.pools[kind] = r.market.Pool(kind).Clone()
	}
	return r.pools[kind]
}

// MarkPoolDirty records that the overlay copy has been mutated and must be
// written back on commit.
func (r *RevertibleMarket) MarkPoolDirty(kind state.PoolKind) {
	r.Pool(kind)
	r.dirtyPools[kind] = true
}

// ApplyPoolDelta mutates the overlay copy of a pool and marks it dirty.
func (r *RevertibleMarket) ApplyPoolDelta(kind state.PoolKind, isLong bool, delta *big.Int) error {
	p := r.Pool(kind)
	if err := p.ApplyDelta(isLong, delta); err != nil {
		return fmt.Errorf("pool %s: %w", kind, err)
	}
	r.dirtyPools[kind] = true
	return nil
}

// Clocks returns the overlay copy of the clock set.
func (r *RevertibleMarket) Clocks() *state.Clocks {
	if r.clocks == nil {
		r.clocks = r.market.Clocks().Clone()
	}
	return r.clocks
}

// AdvanceClock advances an overlay clock and returns the elapsed seconds.
func (r *RevertibleMarket) AdvanceClock(kind state.ClockKind, now int64) int64 {
	elapsed := r.Clocks().Advance(kind, now)
	if elapsed > 0 {
		r.clocksDirty = true
	}
	return elapsed
}

// SetClock stamps an overlay clock without reading elapsed time.
func (r *RevertibleMarket) SetClock(kind state.ClockKind, ts int64) {
	r.Clocks().Set(kind, ts)
	r.clocksDirty = true
}

// State returns the overlay copy of the other-state.
func (r *RevertibleMarket) State() *state.OtherState {
	if r.other == nil {
		r.other = r.market.State().Clone()
	}
	return r.other
}

// MarkStateDirty records an other-state mutation for commit.
func (r *RevertibleMarket) MarkStateDirty() {
	r.State()
	r.otherDirty = true
}

// view returns a market value whose accessors read through the overlay, for
// the valuation helpers (pool value, pnl factor, reserved value) that take a
// *state.Market. The returned market shares overlay pool copies; it must not
// be mutated and must not outlive the overlay.
func (r *RevertibleMarket) view() *state.Market {
	v := state.ShallowView(r.market)
	for i := range r.pools {
		if r.pools[i] != nil {
			v.SetPool(state.PoolKind(i), r.pools[i])
		}
	}
	if r.clocks != nil {
		v.SetClocks(r.clocks)
	}
	if r.other != nil {
		v.SetState(r.other)
	}
	return v
}

// View exposes the read-through market for valuation during execution.
func (r *RevertibleMarket) View() *state.Market {
	return r.view()
}

// Dirty reports whether the overlay holds any uncommitted change.
func (r *RevertibleMarket) Dirty() bool {
	if r.clocksDirty || r.otherDirty {
		return true
	}
	for _, d := range r.dirtyPools {
		if d {
			return true
		}
	}
	return false
}

// Commit writes every dirty overlay entry back to the persistent market in
// one pass, bumps the revision, and returns a MarketStateUpdated event
// listing only the pools that changed. Returns nil when nothing is dirty.
func (r *RevertibleMarket) Commit(ref string) *event.MarketStateUpdated {
	if !r.Dirty() {
		return nil
	}
	evt := &event.MarketStateUpdated{
		Ref:    ref,
		Market: r.market.Meta.MarketToken,
	}
	for i, dirty := range r.dirtyPools {
		if !dirty {
			continue
		}
		kind := state.PoolKind(i)
		r.market.SetPool(kind, r.pools[i])
		evt.Pools = append(evt.Pools, event.PoolSnapshot{
			Kind:  kind,
			Long:  r.pools[i].LongAmount(),
			Short: r.pools[i].ShortAmount(),
		})
	}
	if r.clocksDirty {
		r.market.SetClocks(r.clocks)
		evt.ClocksDirty = true
	}
	if r.otherDirty {
		r.market.SetState(r.other)
		evt.StateDirty = true
		evt.FundingFactorPerSecond = new(big.Int).Set(r.other.FundingFactorPerSecond)
	}
	r.market.Rev++
	evt.Rev = r.market.Rev
	r.reset()
	return evt
}

func (r *RevertibleMarket) reset() {
	for i := range r.pools {
		r.pools[i] = nil
		r.dirtyPools[i] = false
	}
	r.clocks = nil
	r.clocksDirty = false
	r.other = nil
	r.otherDirty = false
}

// SwapMarkets composes revertible markets keyed by market token for path
// execution. Opening the same market twice returns the same overlay, so a
// multi-hop action observes its own uncommitted writes.
type SwapMarkets struct {
	store   [32]byte
	lookup  func(state.Token) (*state.Market, error)
	opened  map[state.Token]*RevertibleMarket
	ordered []state.Token
}

// NewSwapMarkets creates an empty composition over a market lookup.
func NewSwapMarkets(store [32]byte, lookup func(state.Token) (*state.Market, error)) *SwapMarkets {
	return &SwapMarkets{
		store:  store,
		lookup: lookup,
		opened: make(map[state.Token]*RevertibleMarket),
	}
}

// Get opens (or returns the already-open) overlay for a market token.
func (s *SwapMarkets) Get(marketToken state.Token) (*RevertibleMarket, error) {
	if r, ok := s.opened[marketToken]; ok {
		return r, nil
	}
	m, err := s.lookup(marketToken)
	if err != nil {
		return nil, err
	}
	r, err := NewRevertibleMarket(m, s.store)
	if err != nil {
		return nil, err
	}
	s.opened[marketToken] = r
	s.ordered = append(s.ordered, marketToken)
	return r, nil
}

// CommitAll commits every opened overlay in deterministic (token) order and
// returns the per-market state events.
func (s *SwapMarkets) CommitAll(ref string) []*event.MarketStateUpdated {
	tokens := make([]state.Token, len(s.ordered))
	copy(tokens, s.ordered)
	sort.Slice(tokens, func(i, j int) bool {
		a, b := tokens[i], tokens[j]
		for k := range a {
			if a[k] != b[k] {
				return a[k] < b[k]
			}
		}
		return false
	})
	var events []*event.MarketStateUpdated
	for _, tok := range tokens {
		if evt := s.opened[tok].Commit(ref); evt != nil {
			events = append(events, evt)
		}
	}
	return events
}

// RevertiblePosition overlays one position the same way.
type RevertiblePosition struct {
	original *state.Position
	working  *state.Position
}

// NewRevertiblePosition opens an overlay over a position after validating it
// against its market.
func NewRevertiblePosition(p *state.Position, m *state.Market) (*RevertiblePosition, error) {
	if err := p.Validate(m); err != nil {
		return nil, err
	}
	return &RevertiblePosition{original: p, working: p.Clone()}, nil
}

// Position returns the mutable working copy.
func (r *RevertiblePosition) Position() *state.Position {
	return r.working
}

// Commit writes the working copy back over the original.
func (r *RevertiblePosition) Commit() {
	*r.original = *r.working
	r.original.State = r.working.State.Clone()
	r.working = r.original.Clone()
}
