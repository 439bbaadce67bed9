package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"PredLedger/internal/engine"
	"PredLedger/internal/observability"

	"github.com/rs/zerolog"
)

// Invalidator drops any cached copy of a wallet's result after the row has
// been rewritten. The query cache implements this.
type Invalidator interface {
	Invalidate(ctx context.Context, wallet, mode string)
}

// WatermarkSetter advances a wallet's compute watermark. The store
// implements this.
type WatermarkSetter interface {
	SetWatermark(ctx context.Context, wallet string, lastRowID int64) error
}

// ComputedResult pairs one wallet result with the newest raw row id the
// computation covered. ThroughRow zero marks a partial computation (time
// budget hit, page fetch failed): the result is still persisted so callers
// see the partial number and its warning tier, but the watermark holds and
// the next scheduler pass retries the wallet.
type ComputedResult struct {
	Result     *engine.WalletPnlResult
	ThroughRow int64
}

// resultColumns is the column count per row in the results upsert.
const resultColumns = 13

// ResultWriter upserts computed wallet results into pnl.wallet_results.
type ResultWriter struct {
	db *sql.DB
}

func NewResultWriter(db *sql.DB) *ResultWriter {
	return &ResultWriter{db: db}
}

// WriteBatch upserts a batch of results inside the given transaction. The
// batch must hold at most one result per (wallet, mode) pair: Postgres
// rejects a multi-row upsert that touches the same key twice.
func (w *ResultWriter) WriteBatch(ctx context.Context, tx *sql.Tx, results []*engine.WalletPnlResult) error {
	if len(results) == 0 {
		return nil
	}

	var (
		placeholders []string
		args         []interface{}
	)
	for i, res := range results {
		base := i * resultColumns
		placeholders = append(placeholders, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, NOW())",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7,
			base+8, base+9, base+10, base+11, base+12, base+13,
		))

		markets, err := json.Marshal(res.Markets)
		if err != nil {
			return fmt.Errorf("marshal markets for %s: %w", res.Wallet, err)
		}
		diagnostics, err := json.Marshal(res.Diagnostics)
		if err != nil {
			return fmt.Errorf("marshal diagnostics for %s: %w", res.Wallet, err)
		}

		args = append(args,
			res.Wallet, res.RealizationMode, res.CostBasisMethod, res.IncludeTransfers,
			res.RealizedPnl, res.UnrealizedPnl, res.TotalPnl,
			markets, diagnostics,
			res.Cohort.Tier.String(), res.Cohort.Reason,
			res.Digest, res.ComputedAt,
		)
	}

	query := fmt.Sprintf(`
		INSERT INTO pnl.wallet_results
			(wallet, mode, method, include_transfers,
			 realized, unrealized, total,
			 markets, diagnostics, cohort_tier, cohort_reason,
			 digest, computed_at, updated_at)
		VALUES %s
		ON CONFLICT (wallet, mode) DO UPDATE SET
			method            = EXCLUDED.method,
			include_transfers = EXCLUDED.include_transfers,
			realized          = EXCLUDED.realized,
			unrealized        = EXCLUDED.unrealized,
			total             = EXCLUDED.total,
			markets           = EXCLUDED.markets,
			diagnostics       = EXCLUDED.diagnostics,
			cohort_tier       = EXCLUDED.cohort_tier,
			cohort_reason     = EXCLUDED.cohort_reason,
			digest            = EXCLUDED.digest,
			computed_at       = EXCLUDED.computed_at,
			updated_at        = NOW()`,
		strings.Join(placeholders, ", "))

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert wallet results: %w", err)
	}
	return nil
}

type resultKey struct {
	wallet string
	mode   string
}

// ResultsWorkerConfig wires a ResultsWorker. Watermarks, Cache,
// ProjectionOut and PublishOut are optional; the fanout sends are
// non-blocking so a stalled consumer degrades to dropped notifications,
// never to a stalled flush.
type ResultsWorkerConfig struct {
	DB            *sql.DB
	Input         <-chan ComputedResult
	BatchSize     int
	FlushTimeout  time.Duration
	Watermarks    WatermarkSetter
	Cache         Invalidator
	ProjectionOut chan<- *engine.WalletPnlResult
	PublishOut    chan<- *engine.WalletPnlResult
	Log           zerolog.Logger
	Metrics       *observability.Metrics
}

// ResultsWorker drains computed results from the engine, batches them, and
// upserts each batch in one transaction. Watermark advances, cache
// invalidation and the projection/publish fanout all run only after the
// batch has committed, so nothing downstream ever observes a result the
// results table does not hold.
type ResultsWorker struct {
	writer        *ResultWriter
	input         <-chan ComputedResult
	batchSize     int
	flushTimeout  time.Duration
	watermarks    WatermarkSetter
	cache         Invalidator
	projectionOut chan<- *engine.WalletPnlResult
	publishOut    chan<- *engine.WalletPnlResult
	log           zerolog.Logger
	metrics       *observability.Metrics
}

func NewResultsWorker(cfg ResultsWorkerConfig) *ResultsWorker {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = 5 * time.Second
	}
	return &ResultsWorker{
		writer:        NewResultWriter(cfg.DB),
		input:         cfg.Input,
		batchSize:     cfg.BatchSize,
		flushTimeout:  cfg.FlushTimeout,
		watermarks:    cfg.Watermarks,
		cache:         cfg.Cache,
		projectionOut: cfg.ProjectionOut,
		publishOut:    cfg.PublishOut,
		log:           cfg.Log.With().Str("component", "results_worker").Logger(),
		metrics:       cfg.Metrics,
	}
}

// Run consumes results until the input channel closes or the context is
// cancelled. Pending results are always flushed before returning; a flush
// interrupted by cancellation retries once on a background context so a
// committed computation is never silently discarded.
func (r *ResultsWorker) Run(ctx context.Context) {
	r.log.Info().
		Int("batch_size", r.batchSize).
		Dur("flush_timeout", r.flushTimeout).
		Msg("results worker started")

	pending := make([]ComputedResult, 0, r.batchSize)
	index := make(map[resultKey]int, r.batchSize)
	timer := time.NewTimer(r.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			r.finalFlush(pending)
			r.log.Info().Int("pending", len(pending)).Msg("results worker stopped")
			return

		case cr, ok := <-r.input:
			if !ok {
				r.finalFlush(pending)
				r.log.Info().Msg("results channel closed, worker exiting")
				return
			}
			pending = r.add(pending, index, cr)
			if len(pending) >= r.batchSize {
				r.flushWithRetry(ctx, pending)
				pending = pending[:0]
				clear(index)
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(r.flushTimeout)
			}

		case <-timer.C:
			if len(pending) > 0 {
				r.flushWithRetry(ctx, pending)
				pending = pending[:0]
				clear(index)
			}
			timer.Reset(r.flushTimeout)
		}
	}
}

// add appends a result, replacing any earlier result for the same
// (wallet, mode) so the batch never carries two rows for one key. The later
// result supersedes wholesale, its ThroughRow included: it was computed
// from a longer event prefix.
func (r *ResultsWorker) add(pending []ComputedResult, index map[resultKey]int, cr ComputedResult) []ComputedResult {
	key := resultKey{wallet: cr.Result.Wallet, mode: cr.Result.RealizationMode}
	if i, ok := index[key]; ok {
		pending[i] = cr
		return pending
	}
	index[key] = len(pending)
	return append(pending, cr)
}

// flushWithRetry retries a failed flush with exponential backoff rather
// than dropping the batch: the computation is already done, and the
// watermarks for these wallets only advance once the batch commits.
func (r *ResultsWorker) flushWithRetry(ctx context.Context, batch []ComputedResult) {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 1; ; attempt++ {
		err := r.flush(ctx, batch)
		if err == nil {
			if attempt > 1 {
				r.log.Info().Int("attempt", attempt).Int("batch_size", len(batch)).
					Msg("results flush succeeded after retry")
			}
			return
		}

		r.metrics.PersistRetry.Inc()
		r.log.Warn().Err(err).
			Int("attempt", attempt).
			Int("batch_size", len(batch)).
			Dur("backoff", backoff).
			Msg("results flush failed, retrying")

		select {
		case <-ctx.Done():
			r.finalFlush(batch)
			return
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// finalFlush is the shutdown path: one attempt on a short background
// context, since the caller's context is already dead.
func (r *ResultsWorker) finalFlush(batch []ComputedResult) {
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.flush(ctx, batch); err != nil {
		r.metrics.PersistErrors.WithLabelValues("final_flush").Inc()
		r.log.Error().Err(err).Int("batch_size", len(batch)).
			Msg("final results flush failed, batch lost")
	}
}

func (r *ResultsWorker) flush(ctx context.Context, batch []ComputedResult) error {
	start := time.Now()

	results := make([]*engine.WalletPnlResult, len(batch))
	for i, cr := range batch {
		results[i] = cr.Result
	}

	tx, err := r.writer.db.BeginTx(ctx, nil)
	if err != nil {
		r.metrics.PersistErrors.WithLabelValues("tx_begin").Inc()
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := r.writer.WriteBatch(ctx, tx, results); err != nil {
		tx.Rollback()
		r.metrics.PersistErrors.WithLabelValues("write_results").Inc()
		return err
	}

	if err := tx.Commit(); err != nil {
		r.metrics.PersistErrors.WithLabelValues("tx_commit").Inc()
		return fmt.Errorf("commit tx: %w", err)
	}

	r.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
	r.metrics.ResultsWritten.Add(float64(len(batch)))
	r.log.Debug().Int("batch_size", len(batch)).
		Dur("took", time.Since(start)).
		Msg("results batch committed")

	r.advanceWatermarks(ctx, batch)
	r.fanout(ctx, batch)
	return nil
}

// advanceWatermarks runs strictly after commit, so a watermark can never
// point past rows the results table does not reflect. The failure mode is
// the safe direction: a watermark that failed to advance leaves its wallet
// pending, and the next pass recomputes it into the same upsert.
func (r *ResultsWorker) advanceWatermarks(ctx context.Context, batch []ComputedResult) {
	if r.watermarks == nil {
		return
	}
	for _, cr := range batch {
		if cr.ThroughRow <= 0 {
			continue
		}
		if err := r.watermarks.SetWatermark(ctx, cr.Result.Wallet, cr.ThroughRow); err != nil {
			r.metrics.PersistErrors.WithLabelValues("watermark").Inc()
			r.log.Warn().Err(err).Str("wallet", cr.Result.Wallet).
				Msg("watermark advance failed, wallet stays pending")
		}
	}
}

// fanout runs only after commit, so downstream consumers never observe a
// result the results table does not hold.
func (r *ResultsWorker) fanout(ctx context.Context, batch []ComputedResult) {
	for _, cr := range batch {
		res := cr.Result
		if r.cache != nil {
			r.cache.Invalidate(ctx, res.Wallet, res.RealizationMode)
		}

		if r.projectionOut != nil {
			select {
			case r.projectionOut <- res:
			default:
				r.metrics.ProjectionDrops.Inc()
			}
		}

		if r.publishOut != nil {
			select {
			case r.publishOut <- res:
			default:
				r.metrics.PublishDrops.Inc()
			}
		}
	}
}
