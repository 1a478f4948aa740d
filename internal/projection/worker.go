package projection

import (
	"context"

	"github.com/rs/zerolog"

	"gmsol/internal/core"
	"gmsol/internal/observability"
)

// Worker folds live engine output into the store. The engine drops
// messages rather than block when this consumer falls behind, so the
// store tracks its own last sequence and gaps are repaired by Rebuild.
type Worker struct {
	store     *Store
	inputChan <-chan core.EngineOutput
	broadcast func(core.EngineOutput)
	metrics   *observability.Metrics
	log       zerolog.Logger
}

// NewWorker builds a projection worker. broadcast, when non-nil, is
// invoked after each apply so streamers see events in projection order.
func NewWorker(store *Store, inputChan <-chan core.EngineOutput, broadcast func(core.EngineOutput), metrics *observability.Metrics, log zerolog.Logger) *Worker {
	return &Worker{
		store:     store,
		inputChan: inputChan,
		broadcast: broadcast,
		metrics:   metrics,
		log:       log,
	}
}

// Run applies outputs until ctx is cancelled or the channel closes.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-w.inputChan:
			if !ok {
				return nil
			}

			last := w.store.LastSequence()
			if last != 0 && out.Envelope.Sequence != last+1 {
				w.log.Warn().
					Int64("expected", last+1).
					Int64("got", out.Envelope.Sequence).
					Msg("projection gap, rebuild required for full history")
			}

			w.store.Apply(out.Envelope, out.Event)
			if w.broadcast != nil {
				w.broadcast(out)
			}
			if w.metrics != nil {
				w.metrics.ProjectionApplied.Inc()
			}
		}
	}
}
