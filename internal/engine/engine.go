// Package engine ties the pipeline together: normalize, fold, settle,
// reconcile, classify, digest. Compute is the pure form over in-memory
// rows; Engine streams store pages through the identical fold so a
// high-volume wallet never needs its full history in memory at once.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"PredLedger/internal/event"
	"PredLedger/internal/ledger"
	"PredLedger/internal/normalize"
	"PredLedger/internal/observability"
	"PredLedger/internal/reconcile"
	"PredLedger/internal/settle"

	"github.com/rs/zerolog"
)

// DefaultPageSize is the activity page size when none is configured.
const DefaultPageSize = 5000

// Deps are the reference inputs of a computation besides the activity rows.
type Deps struct {
	Tokens      event.TokenSet
	Resolutions event.ResolutionSet
	Marks       event.MarkSet
}

// Compute runs the full pipeline over a wallet's complete in-memory
// history. Rows may arrive in any order; ordering, dedup and token
// resolution happen inside. Only configuration and internal-consistency
// errors return as errors; data problems land in the result diagnostics.
func Compute(wallet string, rows []event.RawActivity, deps Deps, cfg Config) (*WalletPnlResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	acts, counts := normalize.NormalizeAll(rows, deps.Tokens, deps.Resolutions)

	book := ledger.NewWalletBook(wallet, cfg.CostBasisMethod, cfg.IncludeTransfers, deps.Resolutions, deps.Marks)
	for _, act := range acts {
		book.Apply(act)
	}

	if err := settle.Apply(book, cfg.RealizationMode); err != nil {
		return nil, fmt.Errorf("settle wallet %s: %w", wallet, err)
	}

	failures := reconcile.NewChecker(cfg.Epsilon).Check(book)
	return buildResult(wallet, cfg, book, counts, failures, false, ""), nil
}

// Cursor marks a position in a wallet's activity feed. The zero Cursor
// starts from the beginning. RowID breaks ties between rows sharing
// (timestamp, source_id): duplicate rows are real rows in the raw log
// and must survive page boundaries so the normalizer can count them.
type Cursor struct {
	TS       time.Time
	SourceID string
	RowID    int64
}

// ActivitySource pages one wallet's raw history in ascending
// (occurred_at, source_id, row_id) order. Rows whose timestamps never
// parsed are not pageable and are reported through MalformedCount instead.
type ActivitySource interface {
	ActivityPage(ctx context.Context, wallet string, after Cursor, limit int) ([]event.RawActivity, Cursor, error)
	MalformedCount(ctx context.Context, wallet string) (int64, error)
}

// ReferenceSource loads the market lookup tables.
type ReferenceSource interface {
	TokenMap(ctx context.Context) (event.TokenSet, error)
	Resolutions(ctx context.Context) (event.ResolutionSet, error)
	MarkPrices(ctx context.Context) (event.MarkSet, error)
}

// Engine is the streaming facade bound to a store. One Engine serves many
// wallets concurrently; all per-wallet state lives inside ComputeWallet.
type Engine struct {
	cfg      Config
	store    ActivitySource
	refs     ReferenceSource
	pageSize int
	log      zerolog.Logger
	metrics  *observability.Metrics
}

// New validates the config once so ComputeWallet never fails on it.
func New(cfg Config, store ActivitySource, refs ReferenceSource, pageSize int, log zerolog.Logger, metrics *observability.Metrics) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Engine{
		cfg:      cfg,
		store:    store,
		refs:     refs,
		pageSize: pageSize,
		log:      log,
		metrics:  metrics,
	}, nil
}

// Config returns the engine's validated configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// ComputeWallet folds the wallet's stored history page by page. On budget
// exhaustion or a fetch failure the fold stops where it is; the partial
// book still goes through settlement, reconciliation and classification,
// tagged so the classifier lands the wallet in Suspect. A non-nil error
// means an internal inconsistency, not a data or infrastructure problem.
func (e *Engine) ComputeWallet(ctx context.Context, wallet string) (*WalletPnlResult, error) {
	start := time.Now()
	if e.metrics != nil {
		e.metrics.ComputeInflight.Inc()
		defer e.metrics.ComputeInflight.Dec()
	}

	if e.cfg.TimeBudget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.TimeBudget)
		defer cancel()
	}

	var (
		timeout  bool
		fetchErr string
	)
	interrupted := func(err error) {
		if errors.Is(err, context.DeadlineExceeded) {
			timeout = true
		} else {
			fetchErr = err.Error()
		}
	}

	refs, err := e.loadRefs(ctx)
	if err != nil {
		// Nothing can be folded without the lookup tables; emit an empty
		// Suspect result rather than losing the wallet silently.
		interrupted(err)
		book := ledger.NewWalletBook(wallet, e.cfg.CostBasisMethod, e.cfg.IncludeTransfers, nil, nil)
		return e.finish(wallet, book, normalize.Counts{}, timeout, fetchErr, start)
	}

	norm := normalize.New(refs.Tokens, refs.Resolutions)
	book := ledger.NewWalletBook(wallet, e.cfg.CostBasisMethod, e.cfg.IncludeTransfers, refs.Resolutions, refs.Marks)

	var cursor Cursor
	for {
		if err := ctx.Err(); err != nil {
			interrupted(err)
			break
		}

		fetchStart := time.Now()
		page, next, err := e.store.ActivityPage(ctx, wallet, cursor, e.pageSize)
		if err != nil {
			interrupted(err)
			break
		}
		if e.metrics != nil {
			e.metrics.PageFetchDuration.Observe(time.Since(fetchStart).Seconds())
		}
		if len(page) == 0 {
			break
		}
		cursor = next

		acts, err := norm.Push(page)
		if err != nil {
			// Ordering regression between pages: the feed cannot be folded
			// further without corrupting path-dependent cost basis.
			fetchErr = err.Error()
			break
		}
		for _, act := range acts {
			book.Apply(act)
		}

		if len(page) < e.pageSize {
			break
		}
	}

	counts := norm.Counts()
	if !timeout && fetchErr == "" {
		if malformed, err := e.store.MalformedCount(ctx, wallet); err == nil {
			counts.Malformed += malformed
		} else {
			e.log.Debug().Err(err).Str("wallet", wallet).Msg("malformed count unavailable")
		}
	}

	return e.finish(wallet, book, counts, timeout, fetchErr, start)
}

func (e *Engine) finish(wallet string, book *ledger.WalletBook, counts normalize.Counts, timeout bool, fetchErr string, start time.Time) (*WalletPnlResult, error) {
	if err := settle.Apply(book, e.cfg.RealizationMode); err != nil {
		return nil, fmt.Errorf("settle wallet %s: %w", wallet, err)
	}
	failures := reconcile.NewChecker(e.cfg.Epsilon).Check(book)
	res := buildResult(wallet, e.cfg, book, counts, failures, timeout, fetchErr)

	if e.metrics != nil {
		e.metrics.ComputeWallets.WithLabelValues(res.Cohort.Tier.String()).Inc()
		e.metrics.ComputeDuration.Observe(time.Since(start).Seconds())
		e.metrics.ComputeEventsFolded.Add(float64(res.Diagnostics.EventsProcessed))
		e.metrics.ComputeClamped.Add(float64(res.Diagnostics.ClampedPositions))
		e.metrics.ComputeUnmapped.Add(float64(res.Diagnostics.UnmappedTokens))
		e.metrics.ReconcileFailures.Add(float64(len(failures)))
		if timeout {
			e.metrics.ComputeTimeouts.Inc()
		}
	}

	if timeout || fetchErr != "" {
		e.log.Warn().
			Str("wallet", wallet).
			Bool("timeout", timeout).
			Str("fetch_error", fetchErr).
			Int64("events", res.Diagnostics.EventsProcessed).
			Msg("partial wallet computation")
	} else {
		e.log.Debug().
			Str("wallet", wallet).
			Str("tier", res.Cohort.Tier.String()).
			Int64("events", res.Diagnostics.EventsProcessed).
			Dur("took", time.Since(start)).
			Msg("wallet computed")
	}
	return res, nil
}

func (e *Engine) loadRefs(ctx context.Context) (Deps, error) {
	tokens, err := e.refs.TokenMap(ctx)
	if err != nil {
		return Deps{}, fmt.Errorf("load token map: %w", err)
	}
	resolutions, err := e.refs.Resolutions(ctx)
	if err != nil {
		return Deps{}, fmt.Errorf("load resolutions: %w", err)
	}
	marks, err := e.refs.MarkPrices(ctx)
	if err != nil {
		return Deps{}, fmt.Errorf("load mark prices: %w", err)
	}
	return Deps{Tokens: tokens, Resolutions: resolutions, Marks: marks}, nil
}
