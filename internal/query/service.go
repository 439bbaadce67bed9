// Package query serves read-only views over the result tables. The compute
// pipeline is the only writer; everything here is a projection of what it
// committed, plus freshness metadata so callers can tell how stale a number
// is.
package query

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"PredLedger/internal/engine"
)

// ErrNotFound means no result row exists for the wallet and mode. The wallet
// may be unknown, or ingested but not yet past its first compute pass.
var ErrNotFound = errors.New("no result for wallet")

// Reader is the read surface the HTTP layer depends on. Service implements
// it against Postgres; CachedReader wraps any Reader with Redis.
type Reader interface {
	WalletPnl(ctx context.Context, wallet, mode string) (*WalletPnlResponse, error)
	WalletMarkets(ctx context.Context, wallet, mode string) ([]engine.MarketRow, error)
	WalletHistory(ctx context.Context, wallet, mode string, limit int, before *time.Time) ([]HistoryPoint, error)
	Stats(ctx context.Context) (*ServiceStats, error)
}

type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// WalletPnl returns the stored result for one wallet and realization mode.
func (s *Service) WalletPnl(ctx context.Context, wallet, mode string) (*WalletPnlResponse, error) {
	var (
		resp        WalletPnlResponse
		diagnostics []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT wallet, mode, method, include_transfers,
		       realized, unrealized, total,
		       cohort_tier, cohort_reason, diagnostics,
		       digest, computed_at, updated_at
		FROM pnl.wallet_results
		WHERE wallet = $1 AND mode = $2
	`, wallet, mode).Scan(
		&resp.Wallet, &resp.Mode, &resp.Method, &resp.IncludeTransfers,
		&resp.RealizedPnl, &resp.UnrealizedPnl, &resp.TotalPnl,
		&resp.CohortTier, &resp.CohortReason, &diagnostics,
		&resp.Digest, &resp.ComputedAt, &resp.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query wallet result: %w", err)
	}

	resp.Diagnostics = json.RawMessage(diagnostics)
	return &resp, nil
}

// WalletMarkets returns the per-market breakdown stored with the result.
func (s *Service) WalletMarkets(ctx context.Context, wallet, mode string) ([]engine.MarketRow, error) {
	var markets []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT markets FROM pnl.wallet_results WHERE wallet = $1 AND mode = $2
	`, wallet, mode).Scan(&markets)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query market breakdown: %w", err)
	}

	var rows []engine.MarketRow
	if err := json.Unmarshal(markets, &rows); err != nil {
		return nil, fmt.Errorf("decode market breakdown for %s: %w", wallet, err)
	}
	return rows, nil
}

// WalletHistory returns the wallet's result series, newest first. A before
// cursor pages backwards through time.
func (s *Service) WalletHistory(ctx context.Context, wallet, mode string, limit int, before *time.Time) ([]HistoryPoint, error) {
	query := `
		SELECT realized, unrealized, total, cohort_tier, digest, computed_at
		FROM pnl.wallet_history
		WHERE wallet = $1 AND mode = $2
	`
	args := []interface{}{wallet, mode}
	argIdx := 3

	if before != nil {
		query += fmt.Sprintf(" AND computed_at < $%d", argIdx)
		args = append(args, *before)
		argIdx++
	}

	query += " ORDER BY computed_at DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query wallet history: %w", err)
	}
	defer rows.Close()

	var points []HistoryPoint
	for rows.Next() {
		var p HistoryPoint
		if err := rows.Scan(
			&p.RealizedPnl, &p.UnrealizedPnl, &p.TotalPnl,
			&p.CohortTier, &p.Digest, &p.ComputedAt,
		); err != nil {
			return nil, fmt.Errorf("scan history point: %w", err)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// Stats reports whole-pipeline counters for the stats endpoint.
func (s *Service) Stats(ctx context.Context) (*ServiceStats, error) {
	stats := &ServiceStats{}

	counts := []struct {
		query string
		dest  *int64
	}{
		{`SELECT COUNT(DISTINCT wallet) FROM activity.raw_events`, &stats.WalletsTracked},
		{`SELECT COUNT(*) FROM pnl.wallet_results`, &stats.ResultsStored},
		{`SELECT COUNT(*) FROM pnl.wallet_history`, &stats.HistoryRows},
		{`SELECT COUNT(*) FROM activity.raw_events WHERE occurred_at IS NULL`, &stats.MalformedRows},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return nil, fmt.Errorf("stats count: %w", err)
		}
	}

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM (
			SELECT r.wallet
			FROM activity.raw_events r
			LEFT JOIN pnl.compute_watermarks w ON w.wallet = r.wallet
			GROUP BY r.wallet, w.last_row_id
			HAVING MAX(r.id) > COALESCE(w.last_row_id, 0)
		) pending
	`).Scan(&stats.PendingWallets)
	if err != nil {
		return nil, fmt.Errorf("stats pending wallets: %w", err)
	}

	var last sql.NullTime
	err = s.db.QueryRowContext(ctx,
		`SELECT MAX(computed_at) FROM pnl.wallet_results`,
	).Scan(&last)
	if err != nil {
		return nil, fmt.Errorf("stats last computed: %w", err)
	}
	if last.Valid {
		stats.LastComputedAt = &last.Time
	}

	return stats, nil
}
