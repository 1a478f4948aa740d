package projection

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/rs/zerolog"

	"gmsol/internal/event"
	"gmsol/internal/observability"
	"gmsol/internal/persistence"
	"gmsol/internal/state"
)

// rebuildBatchSize bounds one event-log page during replay.
const rebuildBatchSize = 1000

// Rebuild replays the event log from fromSequence into the store. Called
// on startup to warm the read model and on demand after a projection gap.
func Rebuild(ctx context.Context, sm *persistence.SnapshotManager, store *Store, fromSequence int64, metrics *observability.Metrics, log zerolog.Logger) (int64, error) {
	var replayed int64
	next := fromSequence

	for {
		rows, err := sm.LoadEventsFrom(ctx, next, rebuildBatchSize)
		if err != nil {
			return replayed, fmt.Errorf("load events from %d: %w", next, err)
		}
		if len(rows) == 0 {
			break
		}

		for _, row := range rows {
			env, evt, err := envelopeFromRow(row)
			if err != nil {
				return replayed, fmt.Errorf("sequence %d: %w", row.Sequence, err)
			}
			store.Apply(env, evt)
			replayed++
			if metrics != nil {
				metrics.ReplayEventsTotal.Inc()
			}
		}

		next = rows[len(rows)-1].Sequence + 1
		if len(rows) < rebuildBatchSize {
			break
		}
	}

	log.Info().Int64("from", fromSequence).Int64("replayed", replayed).Msg("projection rebuilt")
	return replayed, nil
}

func envelopeFromRow(row persistence.EventRow) (*event.Envelope, event.Event, error) {
	eventType, ok := event.EventTypeFromString(row.EventType)
	if !ok {
		return nil, nil, fmt.Errorf("unknown event type %q", row.EventType)
	}

	evt, err := event.Decode(eventType, row.Payload)
	if err != nil {
		return nil, nil, err
	}

	env := &event.Envelope{
		Sequence:  row.Sequence,
		ActionRef: row.ActionRef,
		EventType: eventType,
		Timestamp: row.Timestamp,
		Payload:   row.Payload,
	}
	copy(env.StateHash[:], row.StateHash)
	copy(env.PrevHash[:], row.PrevHash)

	if row.MarketToken != nil {
		raw, err := hex.DecodeString(*row.MarketToken)
		if err != nil || len(raw) != 32 {
			return nil, nil, fmt.Errorf("bad market token %q", *row.MarketToken)
		}
		var token state.Token
		copy(token[:], raw)
		env.MarketToken = &token
	}

	return env, evt, nil
}
