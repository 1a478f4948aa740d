package ingestion

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"gmsol/internal/core"
	"gmsol/internal/observability"
)

// SnapshotFunc persists an engine snapshot. Called from the engine
// goroutine so the state it captures is consistent.
type SnapshotFunc func(ctx context.Context, snap *core.SnapshotState) error

// Processor is the single goroutine that owns the engine. All requests
// funnel through requestChan; snapshots run on a timer inside the same
// loop so no state is ever read concurrently with a mutation.
type Processor struct {
	engine      *core.Engine
	requestChan <-chan RawRequest

	snapshotInterval time.Duration
	snapshotFn       SnapshotFunc

	metrics *observability.Metrics
	log     zerolog.Logger
}

func NewProcessor(engine *core.Engine, requestChan <-chan RawRequest, snapshotInterval time.Duration, snapshotFn SnapshotFunc, metrics *observability.Metrics, log zerolog.Logger) *Processor {
	return &Processor{
		engine:           engine,
		requestChan:      requestChan,
		snapshotInterval: snapshotInterval,
		snapshotFn:       snapshotFn,
		metrics:          metrics,
		log:              log,
	}
}

// Run processes requests until ctx is cancelled or the channel closes.
func (p *Processor) Run(ctx context.Context) error {
	var snapshotTick <-chan time.Time
	if p.snapshotInterval > 0 && p.snapshotFn != nil {
		ticker := time.NewTicker(p.snapshotInterval)
		defer ticker.Stop()
		snapshotTick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-snapshotTick:
			p.takeSnapshot(ctx)

		case raw, ok := <-p.requestChan:
			if !ok {
				return nil
			}
			p.handle(raw)
		}
	}
}

func (p *Processor) handle(raw RawRequest) {
	kind, ok := KindFromSubject(raw.Subject)
	if !ok {
		p.log.Warn().Str("subject", raw.Subject).Msg("unroutable subject")
		raw.AckFunc()
		return
	}

	switch kind {
	case RequestCreate:
		a, err := ParseCreateRequest(raw.Data)
		if err != nil {
			// Malformed payloads never succeed on redelivery.
			p.log.Warn().Err(err).Msg("bad create request")
			raw.AckFunc()
			return
		}
		if err := p.engine.CreateAction(a); err != nil {
			p.log.Warn().Err(err).Str("action", a.Header.ID.String()).Str("kind", a.Kind.String()).Msg("create rejected")
		}
		raw.AckFunc()

	case RequestExecute:
		id, snap, err := ParseExecuteRequest(raw.Data)
		if err != nil {
			p.log.Warn().Err(err).Msg("bad execute request")
			raw.AckFunc()
			return
		}
		if err := p.engine.ExecuteAction(id, snap); err != nil {
			// The create leg may still be in flight on another subject.
			if errors.Is(err, core.ErrActionNotFound) {
				raw.NakFunc()
				return
			}
			p.log.Warn().Err(err).Str("action", id.String()).Msg("execute failed")
		}
		raw.AckFunc()

	case RequestCancel:
		id, reason, err := ParseCancelRequest(raw.Data)
		if err != nil {
			p.log.Warn().Err(err).Msg("bad cancel request")
			raw.AckFunc()
			return
		}
		if err := p.engine.CancelAction(id, reason); err != nil {
			if errors.Is(err, core.ErrActionNotFound) {
				raw.NakFunc()
				return
			}
			p.log.Warn().Err(err).Str("action", id.String()).Msg("cancel failed")
		}
		raw.AckFunc()
	}

	if p.metrics != nil {
		p.metrics.IngestToApply.WithLabelValues(kind).Observe(time.Since(raw.Timestamp).Seconds())
	}
}

func (p *Processor) takeSnapshot(ctx context.Context) {
	start := time.Now()
	snap := p.engine.CreateSnapshotState()

	snapCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := p.snapshotFn(snapCtx, snap); err != nil {
		p.log.Error().Err(err).Int64("sequence", snap.Sequence).Msg("snapshot failed")
		return
	}

	if p.metrics != nil {
		p.metrics.SnapshotTaken.Inc()
		p.metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
		p.metrics.SnapshotLastSeq.Set(float64(snap.Sequence))
	}
	p.log.Info().Int64("sequence", snap.Sequence).Dur("took", time.Since(start)).Msg("snapshot saved")
}
