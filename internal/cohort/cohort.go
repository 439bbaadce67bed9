// Package cohort assigns each wallet a confidence tier from its computation
// diagnostics. The tier is advisory metadata for consumers ranking wallets;
// it never alters the PnL numbers themselves.
package cohort

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Tier orders wallets by how much their computed PnL can be trusted
type Tier int32

const (
	TierModerate Tier = iota
	TierSafe
	TierRisky
	TierSuspect
)

func (t Tier) String() string {
	switch t {
	case TierModerate:
		return "Moderate"
	case TierSafe:
		return "Safe"
	case TierRisky:
		return "Risky"
	case TierSuspect:
		return "Suspect"
	default:
		return "Unknown"
	}
}

// Label is the classification result: tier plus the human-readable reason
// the first matching rule produced.
type Label struct {
	Tier   Tier   `json:"tier"`
	Reason string `json:"reason"`
}

// Params defines the classification thresholds
type Params struct {
	// Suspect: unmapped token volume at or above this fraction of traded
	// volume means the history is materially incomplete.
	MaterialUnmappedFraction decimal.Decimal
	// Suspect: untracked (clamped) quantity at or above this fraction of
	// traded volume.
	MaxUntrackedFraction decimal.Decimal
	// Risky: folded event count at or above this marks maker-scale flow.
	MakerEventCount int64
	// Risky: fraction of traded conditions where both sides were traded.
	BothSidesFraction decimal.Decimal
	// BothSidesFraction only applies once this many conditions were traded.
	BothSidesMinConditions int
	// Risky: (splits+merges)/trades at or above this.
	SplitMergeRatio decimal.Decimal
	// Safe requires at least this many trades.
	MinTradesForSafe int64
}

// DefaultParams are the production thresholds
var DefaultParams = Params{
	MaterialUnmappedFraction: decimal.New(1, -2),  // 1%
	MaxUntrackedFraction:     decimal.New(5, -2),  // 5%
	MakerEventCount:          10_000,
	BothSidesFraction:        decimal.New(5, -1),  // 50%
	BothSidesMinConditions:   5,
	SplitMergeRatio:          decimal.New(25, -2), // 25%
	MinTradesForSafe:         10,
}

// ValidateParams checks that classification thresholds are within valid
// ranges: fractions in (0, 1], counts > 0.
func ValidateParams(p *Params) error {
	one := decimal.NewFromInt(1)
	if !p.MaterialUnmappedFraction.IsPositive() || p.MaterialUnmappedFraction.GreaterThan(one) {
		return fmt.Errorf("material_unmapped_fraction must be in (0, 1], got %s", p.MaterialUnmappedFraction)
	}
	if !p.MaxUntrackedFraction.IsPositive() || p.MaxUntrackedFraction.GreaterThan(one) {
		return fmt.Errorf("max_untracked_fraction must be in (0, 1], got %s", p.MaxUntrackedFraction)
	}
	if p.MakerEventCount <= 0 {
		return fmt.Errorf("maker_event_count must be > 0, got %d", p.MakerEventCount)
	}
	if !p.BothSidesFraction.IsPositive() || p.BothSidesFraction.GreaterThan(one) {
		return fmt.Errorf("both_sides_fraction must be in (0, 1], got %s", p.BothSidesFraction)
	}
	if p.BothSidesMinConditions <= 0 {
		return fmt.Errorf("both_sides_min_conditions must be > 0, got %d", p.BothSidesMinConditions)
	}
	if !p.SplitMergeRatio.IsPositive() {
		return fmt.Errorf("split_merge_ratio must be > 0, got %s", p.SplitMergeRatio)
	}
	if p.MinTradesForSafe <= 0 {
		return fmt.Errorf("min_trades_for_safe must be > 0, got %d", p.MinTradesForSafe)
	}
	return nil
}

// Stats is the classifier's view of one wallet computation, assembled from
// the normalizer counts, the fold counters, and the reconciliation report.
type Stats struct {
	Events                 int64
	Trades                 int64
	Splits                 int64
	Merges                 int64
	Volume                 decimal.Decimal // traded token volume, buys+sells
	UnmappedQty            decimal.Decimal
	UntrackedQty           decimal.Decimal
	ConditionsTraded       int
	BothSidesConditions    int
	ReconciliationFailures int
	Timeout                bool
	FetchError             bool
}

// Classify applies the rules in precedence order: Suspect beats Risky beats
// Safe beats Moderate. The first matching rule names the reason.
func Classify(stats Stats, p Params) Label {
	// Suspect: the number itself cannot be trusted.
	if stats.Timeout {
		return Label{Tier: TierSuspect, Reason: "partial history: computation timed out"}
	}
	if stats.FetchError {
		return Label{Tier: TierSuspect, Reason: "partial history: event fetch failed"}
	}
	if stats.ReconciliationFailures > 0 {
		return Label{Tier: TierSuspect, Reason: fmt.Sprintf("%d reconciliation failure(s)", stats.ReconciliationFailures)}
	}
	if stats.UnmappedQty.IsPositive() && stats.UnmappedQty.GreaterThanOrEqual(stats.Volume.Mul(p.MaterialUnmappedFraction)) {
		return Label{Tier: TierSuspect, Reason: fmt.Sprintf("unmapped token quantity %s is material against traded volume %s",
			stats.UnmappedQty, stats.Volume)}
	}
	if stats.UntrackedQty.IsPositive() && stats.UntrackedQty.GreaterThanOrEqual(stats.Volume.Mul(p.MaxUntrackedFraction)) {
		return Label{Tier: TierSuspect, Reason: fmt.Sprintf("untracked quantity %s exceeds %s of traded volume %s",
			stats.UntrackedQty, p.MaxUntrackedFraction, stats.Volume)}
	}

	// Risky: the number is fine but the wallet is not a directional trader.
	if stats.Events >= p.MakerEventCount {
		return Label{Tier: TierRisky, Reason: fmt.Sprintf("maker-scale activity: %d events", stats.Events)}
	}
	if stats.ConditionsTraded >= p.BothSidesMinConditions {
		both := decimal.NewFromInt(int64(stats.BothSidesConditions))
		traded := decimal.NewFromInt(int64(stats.ConditionsTraded))
		if both.GreaterThanOrEqual(traded.Mul(p.BothSidesFraction)) {
			return Label{Tier: TierRisky, Reason: fmt.Sprintf("traded both sides in %d of %d markets",
				stats.BothSidesConditions, stats.ConditionsTraded)}
		}
	}
	if sm := stats.Splits + stats.Merges; sm > 0 {
		if decimal.NewFromInt(sm).GreaterThanOrEqual(decimal.NewFromInt(stats.Trades).Mul(p.SplitMergeRatio)) {
			return Label{Tier: TierRisky, Reason: fmt.Sprintf("split/merge heavy: %d against %d trades", sm, stats.Trades)}
		}
	}

	// Safe: simple, fully-tracked directional history.
	if stats.Splits == 0 && stats.Merges == 0 && stats.UntrackedQty.IsZero() && stats.Trades >= p.MinTradesForSafe {
		return Label{Tier: TierSafe, Reason: fmt.Sprintf("clean directional history: %d trades, fully tracked", stats.Trades)}
	}

	return Label{Tier: TierModerate, Reason: "mixed activity profile"}
}
