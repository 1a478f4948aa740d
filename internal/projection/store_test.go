package projection

import (
	"math/big"
	"testing"
	"time"

	"github.com/google/uuid"

	"gmsol/internal/event"
	"gmsol/internal/state"
)

var (
	gmSol = state.TokenFromString("GM-SOL-USDC")
	gmBtc = state.TokenFromString("GM-BTC-USDC")
)

func envelopeFor(seq int64, evt event.Event) *event.Envelope {
	return &event.Envelope{
		Sequence:    seq,
		ActionRef:   evt.ActionRef(),
		EventType:   evt.EventType(),
		MarketToken: evt.MarketToken(),
		Timestamp:   time.Unix(1000+seq, 0).UTC(),
	}
}

func apply(s *Store, seq int64, evt event.Event) {
	s.Apply(envelopeFor(seq, evt), evt)
}

func marketCreated(market state.Token) *event.MarketCreated {
	return &event.MarketCreated{
		Ref:    uuid.NewString(),
		Market: market,
		Index:  state.TokenFromString("SOL"),
		Long:   state.TokenFromString("SOL"),
		Short:  state.TokenFromString("USDC"),
	}
}

func TestStore_MarketLifecycle(t *testing.T) {
	s := NewStore()

	apply(s, 0, marketCreated(gmSol))
	apply(s, 1, &event.MarketStateUpdated{
		Ref:    "a",
		Rev:    2,
		Market: gmSol,
		Pools: []event.PoolSnapshot{
			{Kind: state.PoolPrimary, Long: big.NewInt(500), Short: big.NewInt(900)},
		},
	})

	m, ok := s.GetMarket(gmSol)
	if !ok {
		t.Fatal("market not found")
	}
	if m.Rev != 2 {
		t.Errorf("expected rev 2, got %d", m.Rev)
	}
	p, ok := m.Pools[state.PoolPrimary]
	if !ok {
		t.Fatal("primary pool missing")
	}
	if p.Long.Cmp(big.NewInt(500)) != 0 || p.Short.Cmp(big.NewInt(900)) != 0 {
		t.Errorf("pool amounts %v/%v", p.Long, p.Short)
	}
	if s.LastSequence() != 1 {
		t.Errorf("expected last sequence 1, got %d", s.LastSequence())
	}
}

func TestStore_PlaceholderBeforeReplayWindow(t *testing.T) {
	s := NewStore()

	// A state update arriving without its MarketCreated still lands.
	apply(s, 7, &event.MarketStateUpdated{
		Ref:    "a",
		Rev:    1,
		Market: gmBtc,
		Pools: []event.PoolSnapshot{
			{Kind: state.PoolPrimary, Long: big.NewInt(10), Short: big.NewInt(20)},
		},
	})

	m, ok := s.GetMarket(gmBtc)
	if !ok {
		t.Fatal("placeholder market not created")
	}
	if m.Rev != 1 {
		t.Errorf("expected rev 1, got %d", m.Rev)
	}
}

func TestStore_BorrowingAndAdl(t *testing.T) {
	s := NewStore()
	apply(s, 0, marketCreated(gmSol))
	apply(s, 1, &event.BorrowingFeesUpdated{
		Ref:                   "a",
		Market:                gmSol,
		CumulativeLongFactor:  big.NewInt(111),
		CumulativeShortFactor: big.NewInt(222),
	})
	apply(s, 2, &event.AdlStateUpdated{
		Ref:     "b",
		Market:  gmSol,
		IsLong:  true,
		Enabled: true,
	})

	m, _ := s.GetMarket(gmSol)
	if m.CumulativeBorrowLong.Cmp(big.NewInt(111)) != 0 {
		t.Errorf("long factor %v", m.CumulativeBorrowLong)
	}
	if !m.AdlEnabledLong || m.AdlEnabledShort {
		t.Errorf("adl flags long=%v short=%v", m.AdlEnabledLong, m.AdlEnabledShort)
	}
}

func TestStore_OrderLifecycle(t *testing.T) {
	s := NewStore()
	apply(s, 0, marketCreated(gmSol))
	apply(s, 1, marketCreated(gmBtc))

	idA := uuid.New()
	idB := uuid.New()
	apply(s, 2, &event.OrderCreated{Ref: idA.String(), Market: gmSol, OrderID: idA, Kind: "Deposit"})
	apply(s, 3, &event.OrderCreated{Ref: idB.String(), Market: gmBtc, OrderID: idB, Kind: "OrderIncrease"})

	if got := len(s.ListOpenOrders(nil)); got != 2 {
		t.Fatalf("expected 2 open orders, got %d", got)
	}
	if got := len(s.ListOpenOrders(&gmSol)); got != 1 {
		t.Fatalf("expected 1 open order for market, got %d", got)
	}

	apply(s, 4, &event.OrderRemoved{
		Ref:        idA.String(),
		Market:     gmSol,
		OrderID:    idA,
		Kind:       "Deposit",
		FinalState: "Executed",
	})

	if got := len(s.ListOpenOrders(nil)); got != 1 {
		t.Fatalf("expected 1 open order after removal, got %d", got)
	}
	o, ok := s.GetOrder(idA)
	if !ok {
		t.Fatal("removed order no longer queryable")
	}
	if o.FinalState != "Executed" || o.RemovedSeq != 4 {
		t.Errorf("final state %q removed at %d", o.FinalState, o.RemovedSeq)
	}
}

func TestStore_PositionTracking(t *testing.T) {
	s := NewStore()
	apply(s, 0, marketCreated(gmSol))

	posID := uuid.New()
	apply(s, 1, &event.IncreaseReport{
		Ref:              "a",
		Market:           gmSol,
		PositionID:       posID,
		IsLong:           true,
		SizeInUsd:        big.NewInt(10_000),
		CollateralAmount: big.NewInt(500),
	})

	p, ok := s.GetPosition(posID)
	if !ok {
		t.Fatal("position not tracked")
	}
	if p.SizeInUsd.Cmp(big.NewInt(10_000)) != 0 {
		t.Errorf("size %v", p.SizeInUsd)
	}
	if got := len(s.ListPositions(&gmSol)); got != 1 {
		t.Errorf("expected 1 position for market, got %d", got)
	}

	// Partial decrease keeps the view with the new absolute amounts.
	apply(s, 2, &event.DecreaseReport{
		Ref:              "b",
		Market:           gmSol,
		PositionID:       posID,
		IsLong:           true,
		SizeInUsd:        big.NewInt(4_000),
		CollateralAmount: big.NewInt(300),
	})
	p, _ = s.GetPosition(posID)
	if p.SizeInUsd.Cmp(big.NewInt(4_000)) != 0 || p.TradeCount != 2 {
		t.Errorf("size %v trades %d", p.SizeInUsd, p.TradeCount)
	}

	// Full close drops it.
	apply(s, 3, &event.DecreaseReport{
		Ref:              "c",
		Market:           gmSol,
		PositionID:       posID,
		IsLong:           true,
		SizeInUsd:        big.NewInt(0),
		CollateralAmount: big.NewInt(0),
	})
	if _, ok := s.GetPosition(posID); ok {
		t.Error("closed position still tracked")
	}
	if got := len(s.ListPositions(nil)); got != 0 {
		t.Errorf("expected 0 positions, got %d", got)
	}
}

func TestStore_RecentEventsBounded(t *testing.T) {
	s := NewStore()
	apply(s, 0, marketCreated(gmSol))

	for i := int64(1); i <= int64(recentEventsCap)+10; i++ {
		apply(s, i, &event.MarketStateUpdated{Ref: "a", Rev: uint64(i), Market: gmSol})
	}

	recent := s.RecentEvents(0)
	if len(recent) != recentEventsCap {
		t.Fatalf("expected %d recent events, got %d", recentEventsCap, len(recent))
	}
	if recent[len(recent)-1].Sequence != int64(recentEventsCap)+10 {
		t.Errorf("newest event sequence %d", recent[len(recent)-1].Sequence)
	}

	limited := s.RecentEvents(5)
	if len(limited) != 5 {
		t.Fatalf("expected 5 events, got %d", len(limited))
	}
	if limited[0].Sequence != recent[len(recent)-5].Sequence {
		t.Error("limited slice not the newest tail")
	}
}
