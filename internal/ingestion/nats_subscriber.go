package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// Subscriber pulls raw activity and market-data messages off JetStream and
// feeds them to the ingest loop via msgChan.
type Subscriber struct {
	js        jetstream.JetStream
	msgChan   chan<- RawMessage
	consumers []jetstream.ConsumeContext
	log       zerolog.Logger
}

// RawMessage is one undecoded message off the wire, ready for the shell to
// parse, dedup and store. Ack after the payload is handled (or rejected as
// unparseable); Nak to force redelivery.
type RawMessage struct {
	Subject   string
	Type      string // parser message type, from the subject binding
	Data      []byte
	Timestamp time.Time
	AckFunc   func()
	NakFunc   func()
}

// SubjectConfig binds one NATS subject to the parser's message type.
type SubjectConfig struct {
	Subject      string
	MessageType  string
	ConsumerName string
	StreamName   string
}

// DefaultSubjects returns the standard intake topology: one subject per
// activity kind on PM_ACTIVITY, market data on PM_MARKETS.
func DefaultSubjects() []SubjectConfig {
	return []SubjectConfig{
		{Subject: "pm.activity.trades", MessageType: "OrderFilled", ConsumerName: "pnl-trades", StreamName: "PM_ACTIVITY"},
		{Subject: "pm.activity.splits", MessageType: "PositionSplit", ConsumerName: "pnl-splits", StreamName: "PM_ACTIVITY"},
		{Subject: "pm.activity.merges", MessageType: "PositionsMerged", ConsumerName: "pnl-merges", StreamName: "PM_ACTIVITY"},
		{Subject: "pm.activity.redemptions", MessageType: "PayoutRedemption", ConsumerName: "pnl-redemptions", StreamName: "PM_ACTIVITY"},
		{Subject: "pm.activity.transfers", MessageType: "TokenTransfer", ConsumerName: "pnl-transfers", StreamName: "PM_ACTIVITY"},
		{Subject: "pm.markets.resolutions", MessageType: "MarketResolved", ConsumerName: "pnl-resolutions", StreamName: "PM_MARKETS"},
		{Subject: "pm.markets.marks", MessageType: "MarkPriceUpdate", ConsumerName: "pnl-marks", StreamName: "PM_MARKETS"},
		{Subject: "pm.markets.tokens", MessageType: "TokenMapUpsert", ConsumerName: "pnl-tokens", StreamName: "PM_MARKETS"},
	}
}

func NewSubscriber(js jetstream.JetStream, msgChan chan<- RawMessage, log zerolog.Logger) *Subscriber {
	return &Subscriber{
		js:      js,
		msgChan: msgChan,
		log:     log,
	}
}

// Subscribe creates durable JetStream consumers for all configured subjects.
// Consumers use explicit ACK, max_deliver=5, ack_wait=30s.
func (s *Subscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		consumer, err := s.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
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

		msgType := cfg.MessageType
		cc, err := consumer.Consume(func(msg jetstream.Msg) {
			raw := RawMessage{
				Subject:   msg.Subject(),
				Type:      msgType,
				Data:      msg.Data(),
				Timestamp: time.Now(),
				AckFunc:   func() { msg.Ack() },
				NakFunc:   func() { msg.Nak() },
			}

			select {
			case s.msgChan <- raw:
				// Queued; the ingest loop acks after handling.
			case <-ctx.Done():
				msg.Nak()
			}
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		s.consumers = append(s.consumers, cc)
		s.log.Info().Str("subject", cfg.Subject).Str("consumer", cfg.ConsumerName).Msg("subscribed")
	}

	return nil
}

// Stop gracefully stops all consumers.
func (s *Subscriber) Stop() {
	for _, cc := range s.consumers {
		cc.Stop()
	}
	s.log.Info().Msg("NATS consumers stopped")
}

// EnsureStreams creates the intake streams if missing. FileStorage with a
// 72h age limit: the raw store in Postgres is the system of record, the
// streams only have to cover an outage window.
func EnsureStreams(ctx context.Context, js jetstream.JetStream, log zerolog.Logger) error {
	streams := []jetstream.StreamConfig{
		{
			Name:      "PM_ACTIVITY",
			Subjects:  []string{"pm.activity.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "PM_MARKETS",
			Subjects:  []string{"pm.markets.>"},
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
