// Package query serves the read side: market and order views from the
// projection store, history and integrity checks from the event log.
package query

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"gmsol/internal/persistence"
	"gmsol/internal/projection"
	"gmsol/internal/state"
)

var ErrNotFound = errors.New("query: not found")

// Service answers read requests. It never touches engine state: markets
// and orders come from the projection, history from Postgres.
type Service struct {
	store       *projection.Store
	snapshotMgr *persistence.SnapshotManager
	startTime   time.Time
}

func NewService(store *projection.Store, snapshotMgr *persistence.SnapshotManager) *Service {
	return &Service{
		store:       store,
		snapshotMgr: snapshotMgr,
		startTime:   time.Now(),
	}
}

// Status is the system-level view returned by the status endpoint.
type Status struct {
	LastSequence     int64  `json:"last_sequence"`
	StateHash        string `json:"state_hash"`
	Markets          int    `json:"markets"`
	UptimeSeconds    int64  `json:"uptime_seconds"`
	PersistedLastSeq int64  `json:"persisted_last_sequence"`
}

func (s *Service) GetStatus(ctx context.Context) (*Status, error) {
	persisted, err := s.snapshotMgr.GetLatestSequence(ctx)
	if err != nil {
		return nil, fmt.Errorf("latest persisted sequence: %w", err)
	}

	hash := s.store.LastStateHash()
	return &Status{
		LastSequence:     s.store.LastSequence(),
		StateHash:        hex.EncodeToString(hash[:]),
		Markets:          len(s.store.ListMarkets()),
		UptimeSeconds:    int64(time.Since(s.startTime).Seconds()),
		PersistedLastSeq: persisted,
	}, nil
}

func (s *Service) ListMarkets(ctx context.Context) []*projection.MarketView {
	return s.store.ListMarkets()
}

func (s *Service) GetMarket(ctx context.Context, token state.Token) (*projection.MarketView, error) {
	m, ok := s.store.GetMarket(token)
	if !ok {
		return nil, fmt.Errorf("%w: market %s", ErrNotFound, token)
	}
	return m, nil
}

func (s *Service) GetPosition(ctx context.Context, id uuid.UUID) (*projection.PositionView, error) {
	p, ok := s.store.GetPosition(id)
	if !ok {
		return nil, fmt.Errorf("%w: position %s", ErrNotFound, id)
	}
	return p, nil
}

func (s *Service) ListPositions(ctx context.Context, marketToken *state.Token) []*projection.PositionView {
	return s.store.ListPositions(marketToken)
}

func (s *Service) GetOrder(ctx context.Context, id uuid.UUID) (*projection.OrderView, error) {
	o, ok := s.store.GetOrder(id)
	if !ok {
		return nil, fmt.Errorf("%w: order %s", ErrNotFound, id)
	}
	return o, nil
}

func (s *Service) ListOpenOrders(ctx context.Context, marketToken *state.Token) []*projection.OrderView {
	return s.store.ListOpenOrders(marketToken)
}

func (s *Service) RecentEvents(ctx context.Context, limit int) []projection.EnvelopeView {
	return s.store.RecentEvents(limit)
}

// EventHistory pages the persisted event log.
func (s *Service) EventHistory(ctx context.Context, fromSequence int64, limit int) ([]persistence.EventRow, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	return s.snapshotMgr.LoadEventsFrom(ctx, fromSequence, limit)
}

// IntegrityReport is the outcome of walking the persisted hash chain.
type IntegrityReport struct {
	FromSequence    int64   `json:"from_sequence"`
	CheckedEvents   int64   `json:"checked_events"`
	Passed          bool    `json:"passed"`
	HashChainBreaks []int64 `json:"hash_chain_breaks,omitempty"`
	SequenceGaps    []int64 `json:"sequence_gaps,omitempty"`
}

// VerifyIntegrity walks the event log from fromSequence and checks that
// sequences are contiguous and every prev_hash equals the preceding
// state_hash.
func (s *Service) VerifyIntegrity(ctx context.Context, fromSequence int64, maxEvents int64) (*IntegrityReport, error) {
	report := &IntegrityReport{FromSequence: fromSequence, Passed: true}

	const pageSize = 1000
	next := fromSequence
	var prevHash []byte
	var prevSeq int64

	for maxEvents <= 0 || report.CheckedEvents < maxEvents {
		rows, err := s.snapshotMgr.LoadEventsFrom(ctx, next, pageSize)
		if err != nil {
			return nil, fmt.Errorf("load events from %d: %w", next, err)
		}
		if len(rows) == 0 {
			break
		}

		for _, row := range rows {
			if prevHash != nil {
				if row.Sequence != prevSeq+1 {
					report.Passed = false
					report.SequenceGaps = append(report.SequenceGaps, row.Sequence)
				} else if !bytes.Equal(row.PrevHash, prevHash) {
					report.Passed = false
					report.HashChainBreaks = append(report.HashChainBreaks, row.Sequence)
				}
			}
			prevHash = row.StateHash
			prevSeq = row.Sequence
			report.CheckedEvents++
		}

		next = prevSeq + 1
		if len(rows) < pageSize {
			break
		}
	}

	return report, nil
}
