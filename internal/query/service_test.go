package query_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"PredLedger/internal/query"
	"PredLedger/internal/testutil"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// seedResult inserts one stored computation outcome. The query layer never
// writes, so fixtures go in through raw SQL.
func seedResult(t *testing.T, db *sql.DB, wallet, mode string) {
	t.Helper()
	_, err := db.Exec(`
		INSERT INTO pnl.wallet_results
			(wallet, mode, method, include_transfers, realized, unrealized, total,
			 markets, diagnostics, cohort_tier, cohort_reason, digest, computed_at, updated_at)
		VALUES
			($1, $2, 'average', false, 12.5, -2.25, 10.25,
			 '[{"condition_id":"c1","realized_pnl":"12.5","unrealized_pnl":"-2.25","net_cash_flow":"12.5","remaining_cost_basis":"4","events":3}]',
			 '{"events_processed":3}', 'Safe', 'clean directional history', 'digest-'||$1, NOW(), NOW())
	`, wallet, mode)
	if err != nil {
		t.Fatalf("seed result: %v", err)
	}
}

func TestServiceWalletPnlScansStoredRow(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	seedResult(t, db, "0xq1", "asymmetric")

	svc := query.NewService(db)
	resp, err := svc.WalletPnl(ctx, "0xq1", "asymmetric")
	if err != nil {
		t.Fatalf("WalletPnl: %v", err)
	}

	if resp.Wallet != "0xq1" || resp.Mode != "asymmetric" || resp.Method != "average" {
		t.Errorf("identity fields: %+v", resp)
	}
	if !resp.RealizedPnl.Equal(dec("12.5")) {
		t.Errorf("realized: got %s, want 12.5", resp.RealizedPnl)
	}
	if !resp.UnrealizedPnl.Equal(dec("-2.25")) {
		t.Errorf("unrealized: got %s, want -2.25", resp.UnrealizedPnl)
	}
	if !resp.TotalPnl.Equal(dec("10.25")) {
		t.Errorf("total: got %s, want 10.25", resp.TotalPnl)
	}
	if resp.CohortTier != "Safe" {
		t.Errorf("tier: got %s, want Safe", resp.CohortTier)
	}

	var diag struct {
		EventsProcessed int64 `json:"events_processed"`
	}
	if err := json.Unmarshal(resp.Diagnostics, &diag); err != nil {
		t.Fatalf("decode diagnostics: %v", err)
	}
	if diag.EventsProcessed != 3 {
		t.Errorf("diagnostics events: got %d, want 3", diag.EventsProcessed)
	}

	// The other mode has no row; the wallet existing is not enough.
	if _, err := svc.WalletPnl(ctx, "0xq1", "symmetric"); !errors.Is(err, query.ErrNotFound) {
		t.Errorf("missing mode: got %v, want ErrNotFound", err)
	}
	if _, err := svc.WalletPnl(ctx, "0xnobody", "asymmetric"); !errors.Is(err, query.ErrNotFound) {
		t.Errorf("missing wallet: got %v, want ErrNotFound", err)
	}
}

func TestServiceWalletMarketsDecodesBreakdown(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	seedResult(t, db, "0xq2", "asymmetric")

	svc := query.NewService(db)
	rows, err := svc.WalletMarkets(ctx, "0xq2", "asymmetric")
	if err != nil {
		t.Fatalf("WalletMarkets: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("markets: got %d rows, want 1", len(rows))
	}
	if rows[0].ConditionID != "c1" {
		t.Errorf("condition: got %s, want c1", rows[0].ConditionID)
	}
	if !rows[0].NetCashFlow.Equal(dec("12.5")) {
		t.Errorf("net cash flow: got %s, want 12.5", rows[0].NetCashFlow)
	}
	if rows[0].Events != 3 {
		t.Errorf("events: got %d, want 3", rows[0].Events)
	}
}

func TestServiceWalletHistoryNewestFirstWithBeforeCursor(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i, digest := range []string{"h-1", "h-2", "h-3"} {
		_, err := db.ExecContext(ctx, `
			INSERT INTO pnl.wallet_history
				(wallet, mode, realized, unrealized, total, cohort_tier, digest, computed_at)
			VALUES ('0xq3', 'asymmetric', $1, 0, $1, 'Moderate', $2, $3)
		`, i, digest, base.Add(time.Duration(i)*5*time.Minute))
		if err != nil {
			t.Fatalf("seed history %s: %v", digest, err)
		}
	}

	svc := query.NewService(db)
	points, err := svc.WalletHistory(ctx, "0xq3", "asymmetric", 2, nil)
	if err != nil {
		t.Fatalf("WalletHistory: %v", err)
	}
	if len(points) != 2 {
		t.Fatalf("points: got %d, want 2 (limit applied)", len(points))
	}
	if points[0].Digest != "h-3" || points[1].Digest != "h-2" {
		t.Errorf("order: got [%s %s], want newest first [h-3 h-2]", points[0].Digest, points[1].Digest)
	}

	before := base.Add(10 * time.Minute) // h-3's timestamp
	points, err = svc.WalletHistory(ctx, "0xq3", "asymmetric", 10, &before)
	if err != nil {
		t.Fatalf("WalletHistory with before: %v", err)
	}
	if len(points) != 2 || points[0].Digest != "h-2" || points[1].Digest != "h-1" {
		t.Errorf("before cursor: got %d points starting %s, want [h-2 h-1]", len(points), points[0].Digest)
	}
}

func TestServiceStatsCountsPipeline(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	// Two tracked wallets; 0xs2's only row never parsed a timestamp.
	_, err := db.ExecContext(ctx, `
		INSERT INTO activity.raw_events
			(source_id, wallet, kind, token_id, qty_tokens, usdc_notional, ts_raw, occurred_at)
		VALUES
			('st-1', '0xs1', 'Buy',  'tok-yes', 100, 40, '1709294400', to_timestamp(1709294400)),
			('st-2', '0xs1', 'Sell', 'tok-yes', 50,  35, '1709294500', to_timestamp(1709294500)),
			('st-3', '0xs2', 'Buy',  'tok-no',  10,  4,  'garbage',    NULL)
	`)
	if err != nil {
		t.Fatalf("seed raw events: %v", err)
	}

	// 0xs1 is fully computed: watermark at its newest row. 0xs2 has no
	// watermark at all and must count as pending.
	var maxID int64
	if err := db.QueryRowContext(ctx,
		`SELECT MAX(id) FROM activity.raw_events WHERE wallet = '0xs1'`,
	).Scan(&maxID); err != nil {
		t.Fatalf("max row id: %v", err)
	}
	if _, err := db.ExecContext(ctx, `
		INSERT INTO pnl.compute_watermarks (wallet, last_row_id, updated_at)
		VALUES ('0xs1', $1, NOW())
	`, maxID); err != nil {
		t.Fatalf("seed watermark: %v", err)
	}

	seedResult(t, db, "0xs1", "asymmetric")
	if _, err := db.ExecContext(ctx, `
		INSERT INTO pnl.wallet_history
			(wallet, mode, realized, unrealized, total, cohort_tier, digest, computed_at)
		VALUES ('0xs1', 'asymmetric', 10, 0, 10, 'Safe', 'digest-0xs1', NOW())
	`); err != nil {
		t.Fatalf("seed history: %v", err)
	}

	svc := query.NewService(db)
	stats, err := svc.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}

	if stats.WalletsTracked != 2 {
		t.Errorf("wallets tracked: got %d, want 2", stats.WalletsTracked)
	}
	if stats.ResultsStored != 1 {
		t.Errorf("results stored: got %d, want 1", stats.ResultsStored)
	}
	if stats.HistoryRows != 1 {
		t.Errorf("history rows: got %d, want 1", stats.HistoryRows)
	}
	if stats.MalformedRows != 1 {
		t.Errorf("malformed rows: got %d, want 1", stats.MalformedRows)
	}
	if stats.PendingWallets != 1 {
		t.Errorf("pending wallets: got %d, want 1 (only 0xs2)", stats.PendingWallets)
	}
	if stats.LastComputedAt == nil {
		t.Error("last computed at: got nil, want the seeded time")
	}
}
