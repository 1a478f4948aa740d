package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// NATSSubscriber pulls action requests off JetStream and feeds them into
// the engine goroutine via requestChan. Each subject carries one request
// kind so keeper and user traffic scale independently.
type NATSSubscriber struct {
	js          jetstream.JetStream
	requestChan chan<- RawRequest
	consumers   []jetstream.ConsumeContext
	log         zerolog.Logger
}

// RawRequest is a parsed-but-untyped request from NATS, ready to be
// converted into a typed engine call.
type RawRequest struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
	AckFunc   func() // ACK after the engine has accepted the request
	NakFunc   func() // NAK on failure, message is redelivered
}

// SubjectConfig maps a NATS subject to a request kind.
type SubjectConfig struct {
	Subject      string
	RequestKind  string
	ConsumerName string
	StreamName   string
}

// DefaultSubjects returns the standard subject layout. Creation requests
// come from users, execution and cancellation come from keepers.
func DefaultSubjects() []SubjectConfig {
	return []SubjectConfig{
		{Subject: "gmsol.actions.create.>", RequestKind: RequestCreate, ConsumerName: "gmsol-create", StreamName: "GMSOL_ACTIONS"},
		{Subject: "gmsol.actions.execute.>", RequestKind: RequestExecute, ConsumerName: "gmsol-execute", StreamName: "GMSOL_ACTIONS"},
		{Subject: "gmsol.actions.cancel.>", RequestKind: RequestCancel, ConsumerName: "gmsol-cancel", StreamName: "GMSOL_ACTIONS"},
	}
}

func NewNATSSubscriber(js jetstream.JetStream, requestChan chan<- RawRequest, log zerolog.Logger) *NATSSubscriber {
	return &NATSSubscriber{
		js:          js,
		requestChan: requestChan,
		log:         log,
	}
}

// Subscribe creates JetStream consumers for all configured subjects.
// Consumers use explicit ACK, max_deliver=5, ack_wait=30s.
func (ns *NATSSubscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		consumer, err := ns.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Durable:       cfg.ConsumerName,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
			raw := RawRequest{
				Subject:   msg.Subject(),
				Data:      msg.Data(),
				Timestamp: time.Now(),
				AckFunc:   func() { msg.Ack() },
				NakFunc:   func() { msg.Nak() },
			}

			select {
			case ns.requestChan <- raw:
			case <-ctx.Done():
				msg.Nak()
			}
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		ns.consumers = append(ns.consumers, consumerContext)
		ns.log.Info().Str("subject", cfg.Subject).Str("consumer", cfg.ConsumerName).Msg("subscribed")
	}

	return nil
}

// EnsureStreams creates the required JetStream streams if they don't exist.
// Streams use FileStorage, retention=Limits, max_age=72h.
func EnsureStreams(ctx context.Context, js jetstream.JetStream, log zerolog.Logger) error {
	streams := []jetstream.StreamConfig{
		{
			Name:      "GMSOL_ACTIONS",
			Subjects:  []string{"gmsol.actions.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
	}

	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		log.Info().Str("stream", cfg.Name).Msg("ensured stream")
	}

	return nil
}

// Stop gracefully stops all consumers.
func (ns *NATSSubscriber) Stop() {
	for _, cc := range ns.consumers {
		cc.Stop()
	}
	ns.log.Info().Msg("NATS subscribers stopped")
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, log zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
