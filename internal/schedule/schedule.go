// Package schedule drives the compute loop. Each pass finds wallets whose
// raw activity moved past their watermark, folds them through the engine's
// worker pool, and hands finished results to the persistence worker. The
// watermark itself only advances after the result commits, so a pass can
// always be repeated safely.
package schedule

import (
	"context"
	"time"

	"PredLedger/internal/engine"
	"PredLedger/internal/observability"
	"PredLedger/internal/persistence"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// passChunk bounds how many wallet results a pass holds in memory between
// the engine pool and the persist channel.
const passChunk = 256

// Store is the scheduling slice of the persistence store.
type Store interface {
	WalletsWithNewActivity(ctx context.Context) ([]string, error)
	MaxActivityRowID(ctx context.Context, wallet string) (int64, error)
}

// Config wires a Scheduler.
type Config struct {
	Engine      *engine.Engine
	Store       Store
	Out         chan<- persistence.ComputedResult
	Interval    time.Duration
	Concurrency int
	Log         zerolog.Logger
	Metrics     *observability.Metrics
}

// Scheduler runs compute passes on a fixed interval. The send into Out is
// blocking: when the persist worker falls behind, the scheduler slows down
// instead of buffering unbounded finished results.
type Scheduler struct {
	engine      *engine.Engine
	store       Store
	out         chan<- persistence.ComputedResult
	interval    time.Duration
	concurrency int
	log         zerolog.Logger
	metrics     *observability.Metrics
}

func New(cfg Config) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Scheduler{
		engine:      cfg.Engine,
		store:       cfg.Store,
		out:         cfg.Out,
		interval:    cfg.Interval,
		concurrency: cfg.Concurrency,
		log:         cfg.Log.With().Str("component", "scheduler").Logger(),
		metrics:     cfg.Metrics,
	}
}

// Run passes immediately on start, then on every interval tick, until the
// context ends. A restart therefore repays its backlog without waiting out
// a full interval.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info().
		Dur("interval", s.interval).
		Int("concurrency", s.concurrency).
		Msg("compute scheduler started")

	s.pass(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("compute scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.pass(ctx)
		}
	}
}

// pass computes every pending wallet once. Failures are per-wallet and
// non-fatal: a wallet that could not be scanned or folded simply stays
// pending for the next pass.
func (s *Scheduler) pass(ctx context.Context) {
	start := time.Now()
	log := s.log.With().Str("run_id", uuid.NewString()).Logger()

	wallets, err := s.store.WalletsWithNewActivity(ctx)
	if err != nil {
		log.Error().Err(err).Msg("pending wallet scan failed, pass skipped")
		return
	}
	if len(wallets) == 0 {
		if s.metrics != nil {
			s.metrics.LastComputePass.SetToCurrentTime()
		}
		return
	}

	log.Info().Int("wallets", len(wallets)).Msg("compute pass started")

	var sent, partial int
	for off := 0; off < len(wallets) && ctx.Err() == nil; off += passChunk {
		end := off + passChunk
		if end > len(wallets) {
			end = len(wallets)
		}
		n, p := s.computeChunk(ctx, log, wallets[off:end])
		sent += n
		partial += p
	}

	if s.metrics != nil {
		s.metrics.LastComputePass.SetToCurrentTime()
	}
	log.Info().
		Int("wallets", len(wallets)).
		Int("sent", sent).
		Int("partial", partial).
		Dur("took", time.Since(start)).
		Msg("compute pass finished")
}

// computeChunk snapshots each wallet's newest row id before folding it, so
// rows that land mid-computation stay past the watermark and re-queue the
// wallet on the next pass.
func (s *Scheduler) computeChunk(ctx context.Context, log zerolog.Logger, wallets []string) (sent, partial int) {
	rowHigh := make(map[string]int64, len(wallets))
	batch := make([]string, 0, len(wallets))
	for _, w := range wallets {
		maxRow, err := s.store.MaxActivityRowID(ctx, w)
		if err != nil {
			log.Warn().Err(err).Str("wallet", w).Msg("row id snapshot failed, wallet deferred")
			continue
		}
		rowHigh[w] = maxRow
		batch = append(batch, w)
	}
	if len(batch) == 0 {
		return 0, 0
	}

	results, err := s.engine.ComputeBatch(ctx, batch, s.concurrency)
	if err != nil {
		// Internal inconsistency in at least one wallet; its result slot is
		// nil and it stays pending. The rest of the batch is still good.
		log.Error().Err(err).Int("batch", len(batch)).Msg("compute batch reported an error")
	}

	for _, res := range results {
		if res == nil {
			continue
		}
		through := rowHigh[res.Wallet]
		if res.Diagnostics.Timeout || res.Diagnostics.FetchError != "" {
			// Partial fold: persist the result for visibility but hold the
			// watermark so the next pass retries the wallet.
			through = 0
		}
		select {
		case s.out <- persistence.ComputedResult{Result: res, ThroughRow: through}:
			sent++
			if through == 0 {
				partial++
			}
		case <-ctx.Done():
			return sent, partial
		}
	}
	return sent, partial
}
