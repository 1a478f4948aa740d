// Package projection maintains the read model served by the query API.
// It is fed exclusively by engine events, so it can be rebuilt from the
// event log at any time and never reads engine state directly.
package projection

import (
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"

	"gmsol/internal/event"
	"gmsol/internal/state"
)

// PoolView is the last committed amounts of one pool.
type PoolView struct {
	Long  *big.Int `json:"long"`
	Short *big.Int `json:"short"`
}

// MarketView is the per-market read model.
type MarketView struct {
	MarketToken state.Token `json:"market_token"`
	IndexToken  state.Token `json:"index_token"`
	LongToken   state.Token `json:"long_token"`
	ShortToken  state.Token `json:"short_token"`
	IsPure      bool        `json:"is_pure"`

	Rev   uint64                      `json:"rev"`
	Pools map[state.PoolKind]PoolView `json:"pools"`

	FundingFactorPerSecond *big.Int `json:"funding_factor_per_second,omitempty"`
	CumulativeBorrowLong   *big.Int `json:"cumulative_borrowing_factor_long,omitempty"`
	CumulativeBorrowShort  *big.Int `json:"cumulative_borrowing_factor_short,omitempty"`

	AdlEnabledLong  bool `json:"adl_enabled_long"`
	AdlEnabledShort bool `json:"adl_enabled_short"`

	Config map[string]string `json:"config,omitempty"`

	TradeCount    uint64 `json:"trade_count"`
	LastUpdateSeq int64  `json:"last_update_sequence"`
}

// PositionView is the last reported state of one position. Increase and
// decrease reports carry absolute post-execution amounts, so the view is
// exact at its LastUpdateSeq.
type PositionView struct {
	PositionID  uuid.UUID   `json:"position_id"`
	MarketToken state.Token `json:"market_token"`
	IsLong      bool        `json:"is_long"`

	SizeInUsd        *big.Int `json:"size_in_usd"`
	CollateralAmount *big.Int `json:"collateral_amount"`

	TradeCount    uint64 `json:"trade_count"`
	LastUpdateSeq int64  `json:"last_update_sequence"`
}

// OrderView is a pending or recently closed action.
type OrderView struct {
	OrderID     uuid.UUID   `json:"order_id"`
	MarketToken state.Token `json:"market_token"`
	Kind        string      `json:"kind"`
	Owner       string      `json:"owner"`
	FinalState  string      `json:"final_state,omitempty"`
	Reason      string      `json:"reason,omitempty"`
	CreatedSeq  int64       `json:"created_sequence"`
	RemovedSeq  int64       `json:"removed_sequence,omitempty"`
}

// EnvelopeView is a rendered event for the recent-events feed.
type EnvelopeView struct {
	Sequence    int64       `json:"sequence"`
	ActionRef   string      `json:"action_ref"`
	EventType   string      `json:"event_type"`
	MarketToken *state.Token `json:"market_token,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
	Payload     interface{} `json:"payload"`
}

// recentEventsCap bounds the in-memory event feed.
const recentEventsCap = 512

// Store is the in-memory read model. Writes come from the projection
// worker only; reads come from the query API under the read lock.
type Store struct {
	mu sync.RWMutex

	lastSequence  int64
	lastStateHash [32]byte

	markets   map[state.Token]*MarketView
	positions map[uuid.UUID]*PositionView
	orders    map[uuid.UUID]*OrderView

	recent []EnvelopeView
}

func NewStore() *Store {
	return &Store{
		markets:   make(map[state.Token]*MarketView),
		positions: make(map[uuid.UUID]*PositionView),
		orders:    make(map[uuid.UUID]*OrderView),
	}
}

// Apply folds one envelope plus its typed event into the read model.
func (s *Store) Apply(env *event.Envelope, evt event.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastSequence = env.Sequence
	s.lastStateHash = env.StateHash

	s.recent = append(s.recent, EnvelopeView{
		Sequence:    env.Sequence,
		ActionRef:   env.ActionRef,
		EventType:   env.EventType.String(),
		MarketToken: env.MarketToken,
		Timestamp:   env.Timestamp,
		Payload:     evt,
	})
	if len(s.recent) > recentEventsCap {
		s.recent = s.recent[len(s.recent)-recentEventsCap:]
	}

	switch e := evt.(type) {
	case *event.MarketCreated:
		s.markets[e.Market] = &MarketView{
			MarketToken:   e.Market,
			IndexToken:    e.Index,
			LongToken:     e.Long,
			ShortToken:    e.Short,
			IsPure:        e.IsPure,
			Pools:         make(map[state.PoolKind]PoolView),
			Config:        make(map[string]string),
			LastUpdateSeq: env.Sequence,
		}

	case *event.MarketStateUpdated:
		m := s.market(e.Market, env.Sequence)
		m.Rev = e.Rev
		for _, p := range e.Pools {
			m.Pools[p.Kind] = PoolView{Long: p.Long, Short: p.Short}
		}
		if e.FundingFactorPerSecond != nil {
			m.FundingFactorPerSecond = e.FundingFactorPerSecond
		}
		m.LastUpdateSeq = env.Sequence

	case *event.BorrowingFeesUpdated:
		m := s.market(e.Market, env.Sequence)
		m.CumulativeBorrowLong = e.CumulativeLongFactor
		m.CumulativeBorrowShort = e.CumulativeShortFactor
		m.LastUpdateSeq = env.Sequence

	case *event.FundingFeesUpdated:
		m := s.market(e.Market, env.Sequence)
		m.FundingFactorPerSecond = e.FundingFactorPerSecond
		m.LastUpdateSeq = env.Sequence

	case *event.AdlStateUpdated:
		m := s.market(e.Market, env.Sequence)
		if e.IsLong {
			m.AdlEnabledLong = e.Enabled
		} else {
			m.AdlEnabledShort = e.Enabled
		}
		m.LastUpdateSeq = env.Sequence

	case *event.MarketConfigUpdated:
		m := s.market(e.Market, env.Sequence)
		m.Config[e.Key] = e.Value.String()
		m.LastUpdateSeq = env.Sequence

	case *event.IncreaseReport:
		m := s.market(e.Market, env.Sequence)
		m.TradeCount++
		m.LastUpdateSeq = env.Sequence
		s.applyPositionReport(e.PositionID, e.Market, e.IsLong, e.SizeInUsd, e.CollateralAmount, env.Sequence)

	case *event.DecreaseReport:
		m := s.market(e.Market, env.Sequence)
		m.TradeCount++
		m.LastUpdateSeq = env.Sequence
		s.applyPositionReport(e.PositionID, e.Market, e.IsLong, e.SizeInUsd, e.CollateralAmount, env.Sequence)

	case *event.OrderCreated:
		s.orders[e.OrderID] = &OrderView{
			OrderID:     e.OrderID,
			MarketToken: e.Market,
			Kind:        e.Kind,
			Owner:       e.Owner,
			CreatedSeq:  env.Sequence,
		}

	case *event.OrderRemoved:
		if o, ok := s.orders[e.OrderID]; ok {
			o.FinalState = e.FinalState
			o.Reason = e.Reason
			o.RemovedSeq = env.Sequence
		}
	}
}

// applyPositionReport folds absolute post-execution amounts into the
// position view. A position reported with zero size and collateral is
// closed and dropped.
func (s *Store) applyPositionReport(id uuid.UUID, market state.Token, isLong bool, sizeInUsd, collateral *big.Int, seq int64) {
	if sizeInUsd.Sign() == 0 && collateral.Sign() == 0 {
		delete(s.positions, id)
		return
	}
	p, ok := s.positions[id]
	if !ok {
		p = &PositionView{
			PositionID:  id,
			MarketToken: market,
			IsLong:      isLong,
		}
		s.positions[id] = p
	}
	p.SizeInUsd = sizeInUsd
	p.CollateralAmount = collateral
	p.TradeCount++
	p.LastUpdateSeq = seq
}

// market returns the view for a token, creating a placeholder when the
// MarketCreated event predates the replay window.
func (s *Store) market(token state.Token, seq int64) *MarketView {
	m, ok := s.markets[token]
	if !ok {
		m = &MarketView{
			MarketToken:   token,
			Pools:         make(map[state.PoolKind]PoolView),
			Config:        make(map[string]string),
			LastUpdateSeq: seq,
		}
		s.markets[token] = m
	}
	return m
}

// LastSequence returns the highest applied sequence.
func (s *Store) LastSequence() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSequence
}

// LastStateHash returns the hash of the last applied envelope.
func (s *Store) LastStateHash() [32]byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastStateHash
}

// GetMarket returns a copy of one market view.
func (s *Store) GetMarket(token state.Token) (*MarketView, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.markets[token]
	if !ok {
		return nil, false
	}
	cp := *m
	cp.Pools = make(map[state.PoolKind]PoolView, len(m.Pools))
	for k, v := range m.Pools {
		cp.Pools[k] = v
	}
	cp.Config = make(map[string]string, len(m.Config))
	for k, v := range m.Config {
		cp.Config[k] = v
	}
	return &cp, true
}

// ListMarkets returns copies of all market views.
func (s *Store) ListMarkets() []*MarketView {
	s.mu.RLock()
	tokens := make([]state.Token, 0, len(s.markets))
	for t := range s.markets {
		tokens = append(tokens, t)
	}
	s.mu.RUnlock()

	views := make([]*MarketView, 0, len(tokens))
	for _, t := range tokens {
		if v, ok := s.GetMarket(t); ok {
			views = append(views, v)
		}
	}
	return views
}

// GetPosition returns one position view.
func (s *Store) GetPosition(id uuid.UUID) (*PositionView, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.positions[id]
	if !ok {
		return nil, false
	}
	cp := *p
	return &cp, true
}

// ListPositions returns open positions, optionally filtered by market.
func (s *Store) ListPositions(marketToken *state.Token) []*PositionView {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*PositionView
	for _, p := range s.positions {
		if marketToken != nil && p.MarketToken != *marketToken {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	return out
}

// GetOrder returns one order view.
func (s *Store) GetOrder(id uuid.UUID) (*OrderView, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, false
	}
	cp := *o
	return &cp, true
}

// ListOpenOrders returns orders not yet removed, optionally filtered by
// market token.
func (s *Store) ListOpenOrders(marketToken *state.Token) []*OrderView {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*OrderView
	for _, o := range s.orders {
		if o.RemovedSeq != 0 {
			continue
		}
		if marketToken != nil && o.MarketToken != *marketToken {
			continue
		}
		cp := *o
		out = append(out, &cp)
	}
	return out
}

// RecentEvents returns up to limit newest events, newest last.
func (s *Store) RecentEvents(limit int) []EnvelopeView {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > len(s.recent) {
		limit = len(s.recent)
	}
	out := make([]EnvelopeView, limit)
	copy(out, s.recent[len(s.recent)-limit:])
	return out
}
