// Package projection maintains the queryable wallet history table. It is
// downstream of the results table and eventually consistent: a missed append
// is a warning, not a failure, because history can be reseeded from results.
package projection

import (
	"context"
	"database/sql"
	"fmt"

	"PredLedger/internal/engine"

	"github.com/rs/zerolog"
)

// HistoryWorker appends one history row per committed result. Its input is
// the results worker's non-blocking fanout channel, so under pressure it
// sees a thinned stream rather than applying backpressure to persistence.
type HistoryWorker struct {
	db    *sql.DB
	input <-chan *engine.WalletPnlResult
	log   zerolog.Logger
}

func NewHistoryWorker(db *sql.DB, input <-chan *engine.WalletPnlResult, log zerolog.Logger) *HistoryWorker {
	return &HistoryWorker{
		db:    db,
		input: input,
		log:   log.With().Str("component", "history_worker").Logger(),
	}
}

// Run drains results until the channel closes or the context is cancelled.
func (w *HistoryWorker) Run(ctx context.Context) error {
	w.log.Info().Msg("history worker started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case res, ok := <-w.input:
			if !ok {
				w.log.Info().Msg("history channel closed, worker exiting")
				return nil
			}

			if err := w.append(ctx, res); err != nil {
				w.log.Warn().Err(err).
					Str("wallet", res.Wallet).
					Str("mode", res.RealizationMode).
					Msg("history append failed")
			}
		}
	}
}

// append writes one history row. A recompute that reproduces an identical
// result (same digest) is not a new point in time and is skipped via the
// conflict clause.
func (w *HistoryWorker) append(ctx context.Context, res *engine.WalletPnlResult) error {
	_, err := w.db.ExecContext(ctx, `
		INSERT INTO pnl.wallet_history
			(wallet, mode, realized, unrealized, total, cohort_tier, digest, computed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (wallet, mode, digest) DO NOTHING
	`,
		res.Wallet, res.RealizationMode,
		res.RealizedPnl, res.UnrealizedPnl, res.TotalPnl,
		res.Cohort.Tier.String(), res.Digest, res.ComputedAt,
	)
	if err != nil {
		return fmt.Errorf("insert history row: %w", err)
	}
	return nil
}

// Rebuild truncates the history table and reseeds it from the current
// results table. Depth before the reseed is gone; callers wanting full depth
// clear the compute watermarks and let the engine recompute forward.
func Rebuild(ctx context.Context, db *sql.DB, log zerolog.Logger) error {
	if _, err := db.ExecContext(ctx, `TRUNCATE pnl.wallet_history`); err != nil {
		return fmt.Errorf("truncate history: %w", err)
	}

	res, err := db.ExecContext(ctx, `
		INSERT INTO pnl.wallet_history
			(wallet, mode, realized, unrealized, total, cohort_tier, digest, computed_at)
		SELECT wallet, mode, realized, unrealized, total, cohort_tier, digest, computed_at
		FROM pnl.wallet_results
	`)
	if err != nil {
		return fmt.Errorf("reseed history from results: %w", err)
	}

	seeded, _ := res.RowsAffected()
	log.Info().Int64("rows", seeded).Msg("history rebuild complete")
	return nil
}
