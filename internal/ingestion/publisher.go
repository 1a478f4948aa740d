package ingestion

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"gmsol/internal/core"
)

// OutboundPublisher publishes engine events to NATS for downstream
// consumers. Subjects follow gmsol.events.{event_type}[.{market_token}].
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan core.EngineOutput
	log       zerolog.Logger
}

// outboundJSON is the wire form of a published envelope.
type outboundJSON struct {
	Sequence    int64           `json:"sequence"`
	ActionRef   string          `json:"action_ref"`
	EventType   string          `json:"event_type"`
	MarketToken *string         `json:"market_token,omitempty"`
	Payload     json.RawMessage `json:"payload"`
	StateHash   string          `json:"state_hash"`
	PrevHash    string          `json:"prev_hash"`
	Timestamp   time.Time       `json:"timestamp"`
}

func NewOutboundPublisher(js jetstream.JetStream, inputChan <-chan core.EngineOutput, log zerolog.Logger) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		log:       log,
	}
}

// Run starts the outbound publisher loop. Publish failures are non-fatal:
// downstream consumers can replay from the event log.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-op.inputChan:
			if !ok {
				return nil
			}

			if err := op.publish(ctx, out); err != nil {
				op.log.Warn().Err(err).Int64("sequence", out.Envelope.Sequence).Msg("outbound publish failed")
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, out core.EngineOutput) error {
	env := out.Envelope

	wire := outboundJSON{
		Sequence:  env.Sequence,
		ActionRef: env.ActionRef,
		EventType: env.EventType.String(),
		Payload:   env.Payload,
		StateHash: hex.EncodeToString(env.StateHash[:]),
		PrevHash:  hex.EncodeToString(env.PrevHash[:]),
		Timestamp: env.Timestamp,
	}

	subject := fmt.Sprintf("gmsol.events.%s", env.EventType)
	if env.MarketToken != nil {
		mt := hex.EncodeToString(env.MarketToken[:])
		wire.MarketToken = &mt
		// Subject uses the short token form to keep it readable.
		subject = fmt.Sprintf("%s.%s", subject, env.MarketToken.String())
	}

	data, err := json.Marshal(wire)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	_, err = op.js.Publish(ctx, subject, data)
	return err
}

// EnsureOutboundStream creates the outbound events stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream, log zerolog.Logger) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "GMSOL_EVENTS",
		Subjects:  []string{"gmsol.events.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	log.Info().Str("stream", "GMSOL_EVENTS").Msg("ensured outbound stream")
	return nil
}
