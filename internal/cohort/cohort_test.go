package cohort_test

import (
	"strings"
	"testing"

	"PredLedger/internal/cohort"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// cleanStats is a wallet that should classify Safe.
func cleanStats() cohort.Stats {
	return cohort.Stats{
		Events: 40,
		Trades: 40,
		Volume: dec("5000"),
	}
}

// ============================================================================
// Test: Params validation
// ============================================================================

func TestValidateParams_DefaultsValid(t *testing.T) {
	p := cohort.DefaultParams
	if err := cohort.ValidateParams(&p); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestValidateParams_RejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*cohort.Params)
	}{
		{"zero unmapped fraction", func(p *cohort.Params) { p.MaterialUnmappedFraction = decimal.Zero }},
		{"unmapped fraction above one", func(p *cohort.Params) { p.MaterialUnmappedFraction = dec("1.5") }},
		{"negative untracked fraction", func(p *cohort.Params) { p.MaxUntrackedFraction = dec("-0.1") }},
		{"zero maker count", func(p *cohort.Params) { p.MakerEventCount = 0 }},
		{"zero both-sides fraction", func(p *cohort.Params) { p.BothSidesFraction = decimal.Zero }},
		{"zero min conditions", func(p *cohort.Params) { p.BothSidesMinConditions = 0 }},
		{"zero split-merge ratio", func(p *cohort.Params) { p.SplitMergeRatio = decimal.Zero }},
		{"zero safe trades", func(p *cohort.Params) { p.MinTradesForSafe = 0 }},
	}
	for _, tc := range cases {
		p := cohort.DefaultParams
		tc.mutate(&p)
		if err := cohort.ValidateParams(&p); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
}

// ============================================================================
// Test: Suspect rules
// ============================================================================

func TestClassify_TimeoutIsSuspect(t *testing.T) {
	stats := cleanStats()
	stats.Timeout = true

	label := cohort.Classify(stats, cohort.DefaultParams)
	if label.Tier != cohort.TierSuspect {
		t.Errorf("tier: got %s, want Suspect", label.Tier)
	}
	if !strings.Contains(label.Reason, "timed out") {
		t.Errorf("reason should mention the timeout, got %q", label.Reason)
	}
}

func TestClassify_ReconciliationFailureIsSuspect(t *testing.T) {
	stats := cleanStats()
	stats.ReconciliationFailures = 2

	if label := cohort.Classify(stats, cohort.DefaultParams); label.Tier != cohort.TierSuspect {
		t.Errorf("tier: got %s, want Suspect", label.Tier)
	}
}

func TestClassify_MaterialUnmappedIsSuspect(t *testing.T) {
	stats := cleanStats()
	stats.UnmappedQty = dec("100") // 2% of 5000 volume, above the 1% default

	if label := cohort.Classify(stats, cohort.DefaultParams); label.Tier != cohort.TierSuspect {
		t.Errorf("tier: got %s, want Suspect", label.Tier)
	}
}

func TestClassify_ImmaterialUnmappedNotSuspect(t *testing.T) {
	stats := cleanStats()
	stats.UnmappedQty = dec("10") // 0.2% of volume

	if label := cohort.Classify(stats, cohort.DefaultParams); label.Tier == cohort.TierSuspect {
		t.Errorf("immaterial unmapped volume should not be Suspect: %q", label.Reason)
	}
}

func TestClassify_UnmappedWithZeroVolumeIsSuspect(t *testing.T) {
	stats := cohort.Stats{UnmappedQty: dec("5")}

	if label := cohort.Classify(stats, cohort.DefaultParams); label.Tier != cohort.TierSuspect {
		t.Errorf("tier: got %s, want Suspect when volume is unknown", label.Tier)
	}
}

func TestClassify_UntrackedAboveThresholdIsSuspect(t *testing.T) {
	stats := cleanStats()
	stats.UntrackedQty = dec("300") // 6% of 5000

	if label := cohort.Classify(stats, cohort.DefaultParams); label.Tier != cohort.TierSuspect {
		t.Errorf("tier: got %s, want Suspect", label.Tier)
	}
}

// ============================================================================
// Test: Risky rules
// ============================================================================

func TestClassify_MakerEventCountIsRisky(t *testing.T) {
	stats := cleanStats()
	stats.Events = 10_000

	if label := cohort.Classify(stats, cohort.DefaultParams); label.Tier != cohort.TierRisky {
		t.Errorf("tier: got %s, want Risky", label.Tier)
	}
}

func TestClassify_BothSidesIsRisky(t *testing.T) {
	stats := cleanStats()
	stats.ConditionsTraded = 10
	stats.BothSidesConditions = 6

	if label := cohort.Classify(stats, cohort.DefaultParams); label.Tier != cohort.TierRisky {
		t.Errorf("tier: got %s, want Risky", label.Tier)
	}
}

func TestClassify_BothSidesNeedsMinConditions(t *testing.T) {
	stats := cleanStats()
	stats.ConditionsTraded = 3
	stats.BothSidesConditions = 3 // 100%, but only 3 conditions

	if label := cohort.Classify(stats, cohort.DefaultParams); label.Tier == cohort.TierRisky {
		t.Errorf("below the condition floor should not be Risky: %q", label.Reason)
	}
}

func TestClassify_SplitMergeHeavyIsRisky(t *testing.T) {
	stats := cleanStats()
	stats.Splits = 8
	stats.Merges = 4 // 12 against 40 trades = 30%

	label := cohort.Classify(stats, cohort.DefaultParams)
	if label.Tier != cohort.TierRisky {
		t.Errorf("tier: got %s, want Risky", label.Tier)
	}
}

func TestClassify_SuspectBeatsRisky(t *testing.T) {
	stats := cleanStats()
	stats.Events = 50_000
	stats.ReconciliationFailures = 1

	if label := cohort.Classify(stats, cohort.DefaultParams); label.Tier != cohort.TierSuspect {
		t.Errorf("tier: got %s, want Suspect to win precedence", label.Tier)
	}
}

// ============================================================================
// Test: Safe and Moderate
// ============================================================================

func TestClassify_CleanHistoryIsSafe(t *testing.T) {
	label := cohort.Classify(cleanStats(), cohort.DefaultParams)
	if label.Tier != cohort.TierSafe {
		t.Errorf("tier: got %s (%q), want Safe", label.Tier, label.Reason)
	}
}

func TestClassify_TooFewTradesIsModerate(t *testing.T) {
	stats := cleanStats()
	stats.Trades = 3
	stats.Events = 3

	if label := cohort.Classify(stats, cohort.DefaultParams); label.Tier != cohort.TierModerate {
		t.Errorf("tier: got %s, want Moderate", label.Tier)
	}
}

func TestClassify_SmallSplitUsageIsModerate(t *testing.T) {
	stats := cleanStats()
	stats.Trades = 100
	stats.Events = 101
	stats.Splits = 1 // 1% of trades: not Risky, but disqualifies Safe

	label := cohort.Classify(stats, cohort.DefaultParams)
	if label.Tier != cohort.TierModerate {
		t.Errorf("tier: got %s (%q), want Moderate", label.Tier, label.Reason)
	}
}
