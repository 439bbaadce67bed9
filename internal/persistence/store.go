// Package persistence owns the Postgres side of the pipeline: the
// append-only raw activity log, the market reference tables, compute
// watermarks and the wallet result models. The raw log stores what it got:
// duplicate source ids and malformed timestamps are data, not constraint
// violations; the normalizer sorts them out at compute time.
package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"PredLedger/internal/engine"
	"PredLedger/internal/event"
	"PredLedger/internal/normalize"

	"github.com/shopspring/decimal"
)

// Store is the Postgres-backed activity and reference source. It implements
// engine.ActivitySource and engine.ReferenceSource.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// InsertRawActivities appends rows to activity.raw_events using one
// multi-row INSERT. Timestamps are parsed here, with the same parser the
// normalizer uses, so database ordering and fold ordering agree; rows whose
// timestamp never parses get a NULL occurred_at and stay out of the keyset
// pages.
func (s *Store) InsertRawActivities(ctx context.Context, rows []event.RawActivity) error {
	if len(rows) == 0 {
		return nil
	}

	query := `INSERT INTO activity.raw_events
		(source_id, wallet, kind, token_id, condition_id, outcome_index, qty_tokens, usdc_notional, ts_raw, occurred_at, tx_hash)
		VALUES `

	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*11)

	for i, r := range rows {
		base := i * 11
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10, base+11,
		))

		var occurredAt interface{}
		if ts, ok := normalize.ParseTimestamp(r.Timestamp); ok {
			occurredAt = ts
		}

		args = append(args,
			r.SourceID, r.Wallet, r.Kind,
			nullIfEmpty(r.TokenID), nullIfEmpty(r.ConditionID), nullableInt(r.OutcomeIndex),
			r.QtyTokens, r.UsdcNotional, r.Timestamp, occurredAt, nullIfEmpty(r.TxHash),
		)
	}

	query += strings.Join(values, ", ")

	_, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("insert raw activities: %w", err)
	}
	return nil
}

// ActivityPage returns up to limit rows after the cursor, in ascending
// (occurred_at, source_id, id) order. The row id is part of the keyset so a
// duplicate source id straddling a page boundary is still delivered; rows
// with NULL occurred_at are not pageable.
func (s *Store) ActivityPage(ctx context.Context, wallet string, after engine.Cursor, limit int) ([]event.RawActivity, engine.Cursor, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source_id, wallet, kind, token_id, condition_id, outcome_index,
		       qty_tokens, usdc_notional, ts_raw, tx_hash, occurred_at, id
		FROM activity.raw_events
		WHERE wallet = $1
		  AND occurred_at IS NOT NULL
		  AND (occurred_at, source_id, id) > ($2, $3, $4)
		ORDER BY occurred_at, source_id, id
		LIMIT $5
	`, wallet, after.TS, after.SourceID, after.RowID, limit)
	if err != nil {
		return nil, after, fmt.Errorf("query activity page: %w", err)
	}
	defer rows.Close()

	var page []event.RawActivity
	next := after
	for rows.Next() {
		var (
			r            event.RawActivity
			tokenID      sql.NullString
			conditionID  sql.NullString
			outcomeIndex sql.NullInt32
			txHash       sql.NullString
			occurredAt   time.Time
			rowID        int64
		)
		if err := rows.Scan(
			&r.SourceID, &r.Wallet, &r.Kind, &tokenID, &conditionID, &outcomeIndex,
			&r.QtyTokens, &r.UsdcNotional, &r.Timestamp, &txHash, &occurredAt, &rowID,
		); err != nil {
			return nil, after, fmt.Errorf("scan activity row: %w", err)
		}

		r.TokenID = tokenID.String
		r.ConditionID = conditionID.String
		if outcomeIndex.Valid {
			idx := int(outcomeIndex.Int32)
			r.OutcomeIndex = &idx
		}
		r.TxHash = txHash.String

		page = append(page, r)
		next = engine.Cursor{TS: occurredAt, SourceID: r.SourceID, RowID: rowID}
	}
	if err := rows.Err(); err != nil {
		return nil, after, fmt.Errorf("iterate activity page: %w", err)
	}

	return page, next, nil
}

// MalformedCount reports rows whose timestamp never parsed. They cannot be
// folded, but the diagnostics must still know about them.
func (s *Store) MalformedCount(ctx context.Context, wallet string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM activity.raw_events
		WHERE wallet = $1 AND occurred_at IS NULL
	`, wallet).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count malformed rows: %w", err)
	}
	return n, nil
}

// --- reference tables ---

// TokenMap loads the full token_id -> (condition, outcome) mapping. The
// table is small relative to activity (one row per outcome token), so a
// full load per compute pass beats per-row lookups.
func (s *Store) TokenMap(ctx context.Context) (event.TokenSet, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT token_id, condition_id, outcome_index FROM markets.token_map
	`)
	if err != nil {
		return nil, fmt.Errorf("query token map: %w", err)
	}
	defer rows.Close()

	tokens := make(event.TokenSet)
	for rows.Next() {
		var tokenID string
		var ref event.TokenRef
		if err := rows.Scan(&tokenID, &ref.ConditionID, &ref.OutcomeIndex); err != nil {
			return nil, fmt.Errorf("scan token map row: %w", err)
		}
		tokens[tokenID] = ref
	}
	return tokens, rows.Err()
}

// Resolutions loads all settlement records. Payout vectors are stored
// normalized, so no re-normalization happens on the read path.
func (s *Store) Resolutions(ctx context.Context) (event.ResolutionSet, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT condition_id, payouts, resolved_at, renormalized FROM markets.resolutions
	`)
	if err != nil {
		return nil, fmt.Errorf("query resolutions: %w", err)
	}
	defer rows.Close()

	resolutions := make(event.ResolutionSet)
	for rows.Next() {
		var (
			res     event.Resolution
			payouts []byte
		)
		if err := rows.Scan(&res.ConditionID, &payouts, &res.ResolvedAt, &res.Renormalized); err != nil {
			return nil, fmt.Errorf("scan resolution row: %w", err)
		}
		if err := json.Unmarshal(payouts, &res.Payouts); err != nil {
			return nil, fmt.Errorf("decode payouts for %s: %w", res.ConditionID, err)
		}
		r := res
		resolutions[res.ConditionID] = &r
	}
	return resolutions, rows.Err()
}

// MarkPrices loads the last-trade price table.
func (s *Store) MarkPrices(ctx context.Context) (event.MarkSet, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT condition_id, outcome_index, price FROM markets.mark_prices
	`)
	if err != nil {
		return nil, fmt.Errorf("query mark prices: %w", err)
	}
	defer rows.Close()

	marks := make(event.MarkSet)
	for rows.Next() {
		var key event.MarkKey
		var price decimal.Decimal
		if err := rows.Scan(&key.ConditionID, &key.OutcomeIndex, &price); err != nil {
			return nil, fmt.Errorf("scan mark price row: %w", err)
		}
		marks[key] = price
	}
	return marks, rows.Err()
}

// UpsertTokenMap registers or re-registers one token mapping.
func (s *Store) UpsertTokenMap(ctx context.Context, t *event.TokenMapUpsert) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO markets.token_map (token_id, condition_id, outcome_index, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (token_id) DO UPDATE
		SET condition_id = EXCLUDED.condition_id,
		    outcome_index = EXCLUDED.outcome_index,
		    updated_at = NOW()
	`, t.TokenID, t.ConditionID, t.OutcomeIndex)
	if err != nil {
		return fmt.Errorf("upsert token map %s: %w", t.TokenID, err)
	}
	return nil
}

// UpsertResolution stores a settlement record. A condition resolves at most
// once; re-deliveries hit the conflict clause and change nothing.
func (s *Store) UpsertResolution(ctx context.Context, r *event.Resolution) error {
	payouts, err := json.Marshal(r.Payouts)
	if err != nil {
		return fmt.Errorf("encode payouts for %s: %w", r.ConditionID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO markets.resolutions (condition_id, payouts, resolved_at, renormalized)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (condition_id) DO NOTHING
	`, r.ConditionID, payouts, r.ResolvedAt, r.Renormalized)
	if err != nil {
		return fmt.Errorf("upsert resolution %s: %w", r.ConditionID, err)
	}
	return nil
}

// UpsertMarkPrice stores a last-trade price. Older observations never
// overwrite newer ones, so out-of-order deliveries are harmless.
func (s *Store) UpsertMarkPrice(ctx context.Context, m *event.MarkPriceUpdate) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO markets.mark_prices (condition_id, outcome_index, price, observed_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (condition_id, outcome_index) DO UPDATE
		SET price = EXCLUDED.price, observed_at = EXCLUDED.observed_at
		WHERE markets.mark_prices.observed_at <= EXCLUDED.observed_at
	`, m.ConditionID, m.OutcomeIndex, m.Price, m.ObservedAt)
	if err != nil {
		return fmt.Errorf("upsert mark price %s/%d: %w", m.ConditionID, m.OutcomeIndex, err)
	}
	return nil
}

// --- compute watermarks ---

// WalletsWithNewActivity returns wallets whose newest pageable row is past
// their compute watermark (or that have no watermark yet). This is the
// scheduler's work queue.
func (s *Store) WalletsWithNewActivity(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.wallet
		FROM activity.raw_events r
		LEFT JOIN pnl.compute_watermarks w ON w.wallet = r.wallet
		GROUP BY r.wallet, w.last_row_id
		HAVING MAX(r.id) > COALESCE(w.last_row_id, 0)
	`)
	if err != nil {
		return nil, fmt.Errorf("query wallets with new activity: %w", err)
	}
	defer rows.Close()

	var wallets []string
	for rows.Next() {
		var w string
		if err := rows.Scan(&w); err != nil {
			return nil, fmt.Errorf("scan wallet: %w", err)
		}
		wallets = append(wallets, w)
	}
	return wallets, rows.Err()
}

// MaxActivityRowID returns the wallet's newest raw row id. The scheduler
// reads it before computing and the results worker sets the watermark
// there after the result commits, so rows that arrive mid-compute are
// picked up by the next pass.
func (s *Store) MaxActivityRowID(ctx context.Context, wallet string) (int64, error) {
	var id sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(id) FROM activity.raw_events WHERE wallet = $1
	`, wallet).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("max activity row id: %w", err)
	}
	return id.Int64, nil
}

// SetWatermark records how far a wallet's history has been computed.
func (s *Store) SetWatermark(ctx context.Context, wallet string, lastRowID int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pnl.compute_watermarks (wallet, last_row_id, computed_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (wallet) DO UPDATE
		SET last_row_id = EXCLUDED.last_row_id, computed_at = NOW()
	`, wallet, lastRowID)
	if err != nil {
		return fmt.Errorf("set watermark %s: %w", wallet, err)
	}
	return nil
}

// ClearWatermark forces the wallet into the next scheduler pass. Used by
// the admin recompute endpoint.
func (s *Store) ClearWatermark(ctx context.Context, wallet string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM pnl.compute_watermarks WHERE wallet = $1
	`, wallet)
	if err != nil {
		return fmt.Errorf("clear watermark %s: %w", wallet, err)
	}
	return nil
}

// RecentSourceIDs returns the newest source ids for warming the dedup LRU
// at boot.
func (s *Store) RecentSourceIDs(ctx context.Context, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source_id FROM activity.raw_events ORDER BY id DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent source ids: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan source id: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// --- scan helpers ---

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullableInt(p *int) interface{} {
	if p == nil {
		return nil
	}
	return *p
}
