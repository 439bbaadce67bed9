package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"PredLedger/internal/engine"
	"PredLedger/internal/observability"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// ResultPublisher pushes finished wallet results to NATS for downstream
// consumers (leaderboards, copy-trade screens, alerting). Results reach
// this channel only after the persist write, so a subscriber never sees a
// result the store does not hold.
type ResultPublisher struct {
	js      jetstream.JetStream
	input   <-chan *engine.WalletPnlResult
	log     zerolog.Logger
	metrics *observability.Metrics
}

func NewResultPublisher(js jetstream.JetStream, input <-chan *engine.WalletPnlResult, log zerolog.Logger, metrics *observability.Metrics) *ResultPublisher {
	return &ResultPublisher{
		js:      js,
		input:   input,
		log:     log,
		metrics: metrics,
	}
}

// Run drains the input channel until it closes or the context ends.
// Publish failures are non-fatal: the result is already persisted and
// queryable over HTTP.
func (rp *ResultPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case res, ok := <-rp.input:
			if !ok {
				return nil
			}

			if err := rp.publish(ctx, res); err != nil {
				rp.log.Warn().Err(err).Str("wallet", res.Wallet).Msg("result publish failed")
			}
		}
	}
}

// publish writes the result to pm.pnl.results.{tier}, so consumers can
// filter by cohort at the subscription level.
func (rp *ResultPublisher) publish(ctx context.Context, res *engine.WalletPnlResult) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	subject := fmt.Sprintf("pm.pnl.results.%s", strings.ToLower(res.Cohort.Tier.String()))
	if _, err := rp.js.Publish(ctx, subject, data); err != nil {
		return err
	}

	if rp.metrics != nil {
		rp.metrics.PublishedResults.WithLabelValues(res.Cohort.Tier.String()).Inc()
	}
	return nil
}

// EnsureResultsStream creates the outbound results stream.
func EnsureResultsStream(ctx context.Context, js jetstream.JetStream, log zerolog.Logger) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "PM_PNL_RESULTS",
		Subjects:  []string{"pm.pnl.results.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create results stream: %w", err)
	}
	log.Info().Msg("ensured stream PM_PNL_RESULTS")
	return nil
}
