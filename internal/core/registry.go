package core

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"gmsol/internal/state"
)

// MarketRegistry holds every market of one store. The engine is the only
// writer; the query service reads concurrently, so access is guarded.
type MarketRegistry struct {
	mu      sync.RWMutex
	store   [32]byte
	markets map[state.Token]*state.Market
}

// NewMarketRegistry creates an empty registry for a store.
func NewMarketRegistry(store [32]byte) *MarketRegistry {
	return &MarketRegistry{
		store:   store,
		markets: make(map[state.Token]*state.Market),
	}
}

// Store returns the registry's store identity.
func (r *MarketRegistry) Store() [32]byte {
	return r.store
}

// Add registers a new market. The market token must be unused.
func (r *MarketRegistry) Add(m *state.Market) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m.Store != r.store {
		return state.ErrStoreMismatch
	}
	token := m.Meta.MarketToken
	if _, exists := r.markets[token]; exists {
		return fmt.Errorf("%w: market %s already registered", ErrInvalidArgument, token)
	}
	r.markets[token] = m
	return nil
}

// Get returns the market for a token.
func (r *MarketRegistry) Get(token state.Token) (*state.Market, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.markets[token]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMarketNotFound, token)
	}
	return m, nil
}

// Tokens returns all market tokens in deterministic order.
func (r *MarketRegistry) Tokens() []state.Token {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tokens := make([]state.Token, 0, len(r.markets))
	for token := range r.markets {
		tokens = append(tokens, token)
	}
	sort.Slice(tokens, func(i, j int) bool {
		a, b := tokens[i], tokens[j]
		for k := range a {
			if a[k] != b[k] {
				return a[k] < b[k]
			}
		}
		return false
	})
	return tokens
}

// Len returns the number of registered markets.
func (r *MarketRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.markets)
}

// positionKey identifies a position by its distinguishing tuple: one
// position per (owner, market, collateral side, direction).
type positionKey struct {
	owner      [32]byte
	market     state.Token
	collateral state.Token
	kind       state.PositionKind
}

// PositionStore holds open positions. Same locking discipline as the
// market registry.
type PositionStore struct {
	mu    sync.RWMutex
	byID  map[uuid.UUID]*state.Position
	byKey map[positionKey]uuid.UUID
}

// NewPositionStore creates an empty store.
func NewPositionStore() *PositionStore {
	return &PositionStore{
		byID:  make(map[uuid.UUID]*state.Position),
		byKey: make(map[positionKey]uuid.UUID),
	}
}

// GetOrCreate returns the position for the tuple, creating an empty one if
// none exists.
func (s *PositionStore) GetOrCreate(owner [32]byte, market, collateral state.Token, kind state.PositionKind) *state.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := positionKey{owner: owner, market: market, collateral: collateral, kind: kind}
	if id, ok := s.byKey[key]; ok {
		return s.byID[id]
	}
	p := state.NewPosition(owner, market, collateral, kind)
	s.byID[p.ID] = p
	s.byKey[key] = p.ID
	return p
}

// Get returns a position by id.
func (s *PositionStore) Get(id uuid.UUID) (*state.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPositionNotFound, id)
	}
	return p, nil
}

// Remove deletes a fully closed position. Removing a live one is an error.
func (s *PositionStore) Remove(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPositionNotFound, id)
	}
	if !p.IsEmpty() {
		return fmt.Errorf("%w: position %s still open", ErrInvalidPosition, id)
	}
	delete(s.byID, id)
	delete(s.byKey, positionKey{owner: p.Owner, market: p.MarketToken, collateral: p.CollateralToken, kind: p.Kind})
	return nil
}

// ForMarket returns the positions open in one market, in id order.
func (s *PositionStore) ForMarket(market state.Token) []*state.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*state.Position
	for _, p := range s.byID {
		if p.MarketToken == market {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

// ForOwner returns the positions of one owner, in id order.
func (s *PositionStore) ForOwner(owner [32]byte) []*state.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*state.Position
	for _, p := range s.byID {
		if p.Owner == owner {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

// Len returns the number of open positions.
func (s *PositionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// restore inserts a position during snapshot recovery, keeping its id.
func (s *PositionStore) restore(p *state.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[p.ID] = p
	s.byKey[positionKey{owner: p.Owner, market: p.MarketToken, collateral: p.CollateralToken, kind: p.Kind}] = p.ID
}

// all returns every open position in id order.
func (s *PositionStore) all() []*state.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*state.Position, 0, len(s.byID))
	for _, p := range s.byID {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}
