package reconcile_test

import (
	"testing"
	"time"

	"PredLedger/internal/event"
	"PredLedger/internal/ledger"
	"PredLedger/internal/reconcile"
	"PredLedger/internal/settle"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

var testTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func act(kind event.Kind, cond string, outcome int, qty, notional string) event.Activity {
	return event.Activity{
		SourceID:     "src",
		Wallet:       "w1",
		Kind:         kind,
		ConditionID:  cond,
		OutcomeIndex: outcome,
		Qty:          dec(qty),
		UsdcNotional: dec(notional),
		OccurredAt:   testTime,
	}
}

func resolvedYes() event.ResolutionSet {
	return event.ResolutionSet{
		"c1": &event.Resolution{
			ConditionID: "c1",
			Payouts:     []decimal.Decimal{decimal.NewFromInt(1), decimal.Zero},
			ResolvedAt:  testTime,
		},
	}
}

func mustCheck(t *testing.T, b *ledger.WalletBook) []reconcile.Failure {
	t.Helper()
	return reconcile.NewChecker(decimal.Zero).Check(b)
}

// ============================================================================
// Test: Cash identity (R-01)
// ============================================================================

func TestCheck_CleanHistoryBalances(t *testing.T) {
	b := ledger.NewWalletBook("w1", ledger.MethodAverage, false, resolvedYes(), nil)
	b.Apply(act(event.KindBuy, "c1", 0, "100", "40"))
	b.Apply(act(event.KindSell, "c1", 0, "60", "42"))
	b.Apply(act(event.KindRedemption, "c1", 0, "40", "40"))
	if err := settle.Apply(b, settle.ModeAsymmetric); err != nil {
		t.Fatalf("settle: %v", err)
	}

	if failures := mustCheck(t, b); len(failures) != 0 {
		t.Errorf("clean history should balance, got %v", failures)
	}
}

func TestCheck_SplitMergeHistoryBalances(t *testing.T) {
	for _, method := range []ledger.Method{ledger.MethodAverage, ledger.MethodFIFO} {
		b := ledger.NewWalletBook("w1", method, false, nil, nil)
		b.Apply(act(event.KindSplit, "c1", 0, "100", "100"))
		b.Apply(act(event.KindSell, "c1", 1, "40", "18"))
		b.Apply(act(event.KindMerge, "c1", 0, "60", "60"))

		if failures := mustCheck(t, b); len(failures) != 0 {
			t.Errorf("%s: split/merge history should balance, got %v", method, failures)
		}
	}
}

func TestCheck_ClampedSellStillBalances(t *testing.T) {
	b := ledger.NewWalletBook("w1", ledger.MethodAverage, false, nil, nil)
	b.Apply(act(event.KindBuy, "c1", 0, "400", "160"))
	b.Apply(act(event.KindSell, "c1", 0, "1000", "500"))

	if failures := mustCheck(t, b); len(failures) != 0 {
		t.Errorf("clamped sell should balance through ClampedSellValue, got %v", failures)
	}
}

func TestCheck_SymmetricSettlementBalances(t *testing.T) {
	b := ledger.NewWalletBook("w1", ledger.MethodAverage, false, resolvedYes(), nil)
	b.Apply(act(event.KindBuy, "c1", 0, "50", "15"))
	b.Apply(act(event.KindBuy, "c1", 1, "30", "12"))
	if err := settle.Apply(b, settle.ModeSymmetric); err != nil {
		t.Fatalf("settle: %v", err)
	}

	if failures := mustCheck(t, b); len(failures) != 0 {
		t.Errorf("symmetric settlement should balance via SettlementCredit, got %v", failures)
	}
}

func TestCheck_TransferHistoryBalances(t *testing.T) {
	b := ledger.NewWalletBook("w1", ledger.MethodAverage, true, nil, nil)
	b.Apply(act(event.KindBuy, "c1", 0, "100", "40"))
	b.Apply(act(event.KindTransferOut, "c1", 0, "70", "0"))
	b.Apply(act(event.KindTransferIn, "c1", 1, "20", "0"))
	b.Apply(act(event.KindSell, "c1", 1, "20", "9"))

	if failures := mustCheck(t, b); len(failures) != 0 {
		t.Errorf("transfer history should balance through TransferOutBasis, got %v", failures)
	}
}

func TestCheck_TamperedTallyFails(t *testing.T) {
	b := ledger.NewWalletBook("w1", ledger.MethodAverage, false, nil, nil)
	b.Apply(act(event.KindBuy, "c1", 0, "100", "40"))
	b.Apply(act(event.KindSell, "c1", 0, "100", "70"))

	// Inflate realized PnL past what cash supports.
	b.Tally("c1").RealizedPnl = b.Tally("c1").RealizedPnl.Add(dec("5"))

	failures := mustCheck(t, b)
	if len(failures) != 1 || failures[0].Invariant != "R-01" {
		t.Fatalf("want one R-01 failure, got %v", failures)
	}
	if failures[0].ConditionID != "c1" {
		t.Errorf("failure condition: got %s, want c1", failures[0].ConditionID)
	}
}

// ============================================================================
// Test: Inventory (R-02)
// ============================================================================

func TestCheck_NegativeInventoryFlagged(t *testing.T) {
	b := ledger.NewWalletBook("w1", ledger.MethodAverage, false, nil, nil)
	b.Apply(act(event.KindBuy, "c1", 0, "100", "40"))

	// Corrupt the position directly; the fold itself cannot produce this.
	b.Position("c1", 0).Quantity = dec("-1")

	failures := mustCheck(t, b)
	found := false
	for _, f := range failures {
		if f.Invariant == "R-02" {
			found = true
		}
	}
	if !found {
		t.Errorf("want an R-02 failure, got %v", failures)
	}
}

// ============================================================================
// Test: Payout normalization (R-03)
// ============================================================================

func TestCheck_RenormalizedPayoutFlagged(t *testing.T) {
	res := &event.Resolution{
		ConditionID: "c1",
		Payouts:     []decimal.Decimal{dec("0.8"), dec("0.4")},
		ResolvedAt:  testTime,
	}
	res.Normalize()
	if !res.Renormalized {
		t.Fatal("fixture should require renormalization")
	}

	b := ledger.NewWalletBook("w1", ledger.MethodAverage, false, event.ResolutionSet{"c1": res}, nil)
	b.Apply(act(event.KindBuy, "c1", 0, "10", "5"))
	if err := settle.Apply(b, settle.ModeSymmetric); err != nil {
		t.Fatalf("settle: %v", err)
	}

	foundR03 := false
	for _, f := range mustCheck(t, b) {
		if f.Invariant == "R-03" {
			foundR03 = true
		}
		if f.Invariant == "R-01" {
			t.Errorf("renormalized payouts should still balance cash: %v", f)
		}
	}
	if !foundR03 {
		t.Error("want an R-03 failure for the renormalized vector")
	}
}

func TestCheck_NonUnitPayoutSumFlagged(t *testing.T) {
	res := event.ResolutionSet{
		"c1": &event.Resolution{
			ConditionID: "c1",
			Payouts:     []decimal.Decimal{dec("0.7"), dec("0.7")},
			ResolvedAt:  testTime,
		},
	}
	b := ledger.NewWalletBook("w1", ledger.MethodAverage, false, res, nil)
	b.Apply(act(event.KindBuy, "c1", 0, "10", "5"))

	foundR03 := false
	for _, f := range mustCheck(t, b) {
		if f.Invariant == "R-03" {
			foundR03 = true
		}
	}
	if !foundR03 {
		t.Error("want an R-03 failure for a vector that does not sum to 1")
	}
}
