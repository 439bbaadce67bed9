package engine

import (
	"sort"
	"time"

	"PredLedger/internal/cohort"
	"PredLedger/internal/ledger"
	"PredLedger/internal/normalize"
	"PredLedger/internal/reconcile"

	"github.com/shopspring/decimal"
)

// MarketRow is the per-condition slice of a wallet result.
type MarketRow struct {
	ConditionID        string          `json:"condition_id"`
	RealizedPnl        decimal.Decimal `json:"realized_pnl"`
	UnrealizedPnl      decimal.Decimal `json:"unrealized_pnl"`
	NetCashFlow        decimal.Decimal `json:"net_cash_flow"`
	RemainingCostBasis decimal.Decimal `json:"remaining_cost_basis"`
	Events             int64           `json:"events"`
}

// Diagnostics carries every data-quality observation made during a
// computation. Nothing here alters the PnL; it qualifies how far the
// number can be trusted.
type Diagnostics struct {
	EventsProcessed       int64           `json:"events_processed"`
	MalformedEvents       int64           `json:"malformed_events"`
	Duplicates            int64           `json:"duplicates"`
	DuplicateConflicts    int64           `json:"duplicate_conflicts"`
	UnmappedTokens        int64           `json:"unmapped_tokens"`
	UnmappedQty           decimal.Decimal `json:"unmapped_qty"`
	ClampedPositions      int64           `json:"clamped_positions"`
	UntrackedQty          decimal.Decimal `json:"untracked_qty"`
	UnresolvedRedemptions int64           `json:"unresolved_redemptions"`
	IgnoredTransfers      int64           `json:"ignored_transfers"`
	UnpricedPositions     int64           `json:"unpriced_positions"`
	PayoutNotNormalized   int64           `json:"payout_not_normalized"`

	ReconciliationFailures []reconcile.Failure `json:"reconciliation_failures,omitempty"`

	Timeout    bool   `json:"timeout,omitempty"`
	FetchError string `json:"fetch_error,omitempty"`
}

// WalletPnlResult is the complete output of one wallet computation.
type WalletPnlResult struct {
	Wallet string `json:"wallet"`

	CostBasisMethod  string `json:"cost_basis_method"`
	RealizationMode  string `json:"realization_mode"`
	IncludeTransfers bool   `json:"include_transfers"`

	RealizedPnl   decimal.Decimal `json:"realized_pnl"`
	UnrealizedPnl decimal.Decimal `json:"unrealized_pnl"`
	TotalPnl      decimal.Decimal `json:"total_pnl"`

	Markets     []MarketRow  `json:"markets"`
	Diagnostics Diagnostics  `json:"diagnostics"`
	Cohort      cohort.Label `json:"cohort"`

	// Digest is the hex SHA-256 of the canonical result serialization.
	// Identical inputs and config always produce an identical digest.
	Digest string `json:"digest"`

	ComputedAt time.Time `json:"computed_at"`
}

// valueOpenInventory prices the quantity still held after settlement:
// resolved winners at their payout, open positions at the last mark. An
// open position without a mark contributes zero and is counted; a missing
// mark must not manufacture unrealized PnL.
func valueOpenInventory(b *ledger.WalletBook) (map[string]decimal.Decimal, int64) {
	unrealized := make(map[string]decimal.Decimal)
	var unpriced int64

	for key, pos := range b.Positions() {
		if !pos.Quantity.IsPositive() {
			continue
		}

		var price decimal.Decimal
		switch pos.State {
		case ledger.StateResolvedWinner:
			res, ok := b.ResolutionFor(key.ConditionID)
			if !ok {
				unpriced++
				continue
			}
			price = res.Payout(key.OutcomeIndex)
		case ledger.StateOpen:
			mark, ok := b.MarkFor(key.ConditionID, key.OutcomeIndex)
			if !ok {
				unpriced++
				continue
			}
			price = mark
		default:
			// Losers and redeemed winners hold no quantity after settlement.
			continue
		}

		delta := price.Mul(pos.Quantity).Sub(pos.CostBasis)
		unrealized[key.ConditionID] = unrealized[key.ConditionID].Add(delta)
	}
	return unrealized, unpriced
}

// buildResult assembles the result from a settled book. The market rows
// are sorted by condition so the serialization is canonical.
func buildResult(
	wallet string,
	cfg Config,
	b *ledger.WalletBook,
	counts normalize.Counts,
	failures []reconcile.Failure,
	timeout bool,
	fetchErr string,
) *WalletPnlResult {
	ctrs := b.Counters()
	unrealized, unpriced := valueOpenInventory(b)

	remainingBasis := make(map[string]decimal.Decimal)
	for key, pos := range b.Positions() {
		remainingBasis[key.ConditionID] = remainingBasis[key.ConditionID].Add(pos.CostBasis)
	}

	tallies := b.Tallies()
	conditions := make([]string, 0, len(tallies))
	for conditionID := range tallies {
		conditions = append(conditions, conditionID)
	}
	sort.Strings(conditions)

	var (
		realized            decimal.Decimal
		unrealizedTotal     decimal.Decimal
		payoutNotNormalized int64
	)
	rows := make([]MarketRow, 0, len(conditions))
	for _, conditionID := range conditions {
		t := tallies[conditionID]
		rows = append(rows, MarketRow{
			ConditionID:        conditionID,
			RealizedPnl:        t.RealizedPnl,
			UnrealizedPnl:      unrealized[conditionID],
			NetCashFlow:        t.NetCashFlow,
			RemainingCostBasis: remainingBasis[conditionID],
			Events:             t.Events,
		})
		realized = realized.Add(t.RealizedPnl)
		unrealizedTotal = unrealizedTotal.Add(unrealized[conditionID])

		if res, ok := b.ResolutionFor(conditionID); ok && res.Renormalized {
			payoutNotNormalized++
		}
	}

	both, traded := b.BothSides()
	label := cohort.Classify(cohort.Stats{
		Events:                 ctrs.Events,
		Trades:                 ctrs.Trades,
		Splits:                 ctrs.Splits,
		Merges:                 ctrs.Merges,
		Volume:                 ctrs.Volume,
		UnmappedQty:            counts.UnmappedQty,
		UntrackedQty:           ctrs.UntrackedQty,
		ConditionsTraded:       traded,
		BothSidesConditions:    both,
		ReconciliationFailures: len(failures),
		Timeout:                timeout,
		FetchError:             fetchErr != "",
	}, cfg.Cohort)

	res := &WalletPnlResult{
		Wallet:           wallet,
		CostBasisMethod:  cfg.CostBasisMethod.String(),
		RealizationMode:  cfg.RealizationMode.String(),
		IncludeTransfers: cfg.IncludeTransfers,
		RealizedPnl:      realized,
		UnrealizedPnl:    unrealizedTotal,
		TotalPnl:         realized.Add(unrealizedTotal),
		Markets:          rows,
		Diagnostics: Diagnostics{
			EventsProcessed:        counts.Emitted,
			MalformedEvents:        counts.Malformed,
			Duplicates:             counts.Duplicates,
			DuplicateConflicts:     counts.DuplicateConflicts,
			UnmappedTokens:         counts.UnmappedTokens,
			UnmappedQty:            counts.UnmappedQty,
			ClampedPositions:       ctrs.ClampedPositions,
			UntrackedQty:           ctrs.UntrackedQty,
			UnresolvedRedemptions:  ctrs.UnresolvedRedemptions,
			IgnoredTransfers:       ctrs.IgnoredTransfers,
			UnpricedPositions:      unpriced,
			PayoutNotNormalized:    payoutNotNormalized,
			ReconciliationFailures: failures,
			Timeout:                timeout,
			FetchError:             fetchErr,
		},
		Cohort:     label,
		ComputedAt: time.Now().UTC(),
	}
	res.Digest = computeDigest(res, b)
	return res
}
