package query

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// WalletPnlResponse is the read shape for one (wallet, mode) result row.
// Diagnostics passes through as stored JSON; re-decoding it here would only
// risk drift against what the engine wrote.
type WalletPnlResponse struct {
	Wallet           string          `json:"wallet"`
	Mode             string          `json:"mode"`
	Method           string          `json:"method"`
	IncludeTransfers bool            `json:"include_transfers"`
	RealizedPnl      decimal.Decimal `json:"realized_pnl"`
	UnrealizedPnl    decimal.Decimal `json:"unrealized_pnl"`
	TotalPnl         decimal.Decimal `json:"total_pnl"`
	CohortTier       string          `json:"cohort_tier"`
	CohortReason     string          `json:"cohort_reason"`
	Diagnostics      json.RawMessage `json:"diagnostics"`
	Digest           string          `json:"digest"`
	ComputedAt       time.Time       `json:"computed_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// HistoryPoint is one entry of a wallet's PnL-over-time series.
type HistoryPoint struct {
	RealizedPnl   decimal.Decimal `json:"realized_pnl"`
	UnrealizedPnl decimal.Decimal `json:"unrealized_pnl"`
	TotalPnl      decimal.Decimal `json:"total_pnl"`
	CohortTier    string          `json:"cohort_tier"`
	Digest        string          `json:"digest"`
	ComputedAt    time.Time       `json:"computed_at"`
}

// ServiceStats summarizes pipeline state for the stats endpoint.
type ServiceStats struct {
	WalletsTracked int64      `json:"wallets_tracked"`
	ResultsStored  int64      `json:"results_stored"`
	HistoryRows    int64      `json:"history_rows"`
	PendingWallets int64      `json:"pending_wallets"`
	MalformedRows  int64      `json:"malformed_rows"`
	LastComputedAt *time.Time `json:"last_computed_at,omitempty"`
}
