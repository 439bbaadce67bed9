package settle_test

import (
	"testing"
	"time"

	"PredLedger/internal/event"
	"PredLedger/internal/ledger"
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

// binaryResolved resolves c1 with outcome 0 winning at the given payout.
func binaryResolved(payout string) event.ResolutionSet {
	p := dec(payout)
	return event.ResolutionSet{
		"c1": &event.Resolution{
			ConditionID: "c1",
			Payouts:     []decimal.Decimal{p, decimal.NewFromInt(1).Sub(p)},
			ResolvedAt:  testTime,
		},
	}
}

// ============================================================================
// Test: Mode parsing
// ============================================================================

func TestParseMode(t *testing.T) {
	if m, ok := settle.ParseMode("symmetric"); !ok || m != settle.ModeSymmetric {
		t.Errorf("symmetric: got (%v, %v)", m, ok)
	}
	if m, ok := settle.ParseMode("asymmetric"); !ok || m != settle.ModeAsymmetric {
		t.Errorf("asymmetric: got (%v, %v)", m, ok)
	}
	if _, ok := settle.ParseMode("eager"); ok {
		t.Error("unknown mode should not parse")
	}
}

// ============================================================================
// Test: Winner realization timing
// ============================================================================

func TestApply_AsymmetricDefersWinners(t *testing.T) {
	b := ledger.NewWalletBook("w1", ledger.MethodAverage, false, binaryResolved("1"), nil)
	b.Apply(act(event.KindBuy, "c1", 0, "50", "15"))

	if err := settle.Apply(b, settle.ModeAsymmetric); err != nil {
		t.Fatalf("settle: %v", err)
	}

	tally := b.Tally("c1")
	if !tally.RealizedPnl.IsZero() {
		t.Errorf("realized: got %s, want 0 (winner not yet redeemed)", tally.RealizedPnl)
	}
	pos := b.Position("c1", 0)
	if pos.State != ledger.StateResolvedWinner {
		t.Errorf("state: got %s, want ResolvedWinner", pos.State)
	}
	if !pos.Quantity.Equal(dec("50")) {
		t.Errorf("qty: got %s, want 50 (inventory held until redemption)", pos.Quantity)
	}
}

func TestApply_SymmetricRealizesWinners(t *testing.T) {
	b := ledger.NewWalletBook("w1", ledger.MethodAverage, false, binaryResolved("1"), nil)
	b.Apply(act(event.KindBuy, "c1", 0, "50", "15"))

	if err := settle.Apply(b, settle.ModeSymmetric); err != nil {
		t.Fatalf("settle: %v", err)
	}

	tally := b.Tally("c1")
	if !tally.RealizedPnl.Equal(dec("35")) {
		t.Errorf("realized: got %s, want 35", tally.RealizedPnl)
	}
	if !tally.SettlementCredit.Equal(dec("50")) {
		t.Errorf("settlement credit: got %s, want 50 (non-cash payout value)", tally.SettlementCredit)
	}
	if pos := b.Position("c1", 0); !pos.Quantity.IsZero() {
		t.Errorf("qty: got %s, want 0", pos.Quantity)
	}
}

func TestApply_WinnerFlipsToRealizedOnRedemption(t *testing.T) {
	b := ledger.NewWalletBook("w1", ledger.MethodAverage, false, binaryResolved("1"), nil)
	b.Apply(act(event.KindBuy, "c1", 0, "50", "15"))
	b.Apply(act(event.KindRedemption, "c1", 0, "50", "50"))

	if err := settle.Apply(b, settle.ModeAsymmetric); err != nil {
		t.Fatalf("settle: %v", err)
	}

	tally := b.Tally("c1")
	if !tally.RealizedPnl.Equal(dec("35")) {
		t.Errorf("realized: got %s, want 35", tally.RealizedPnl)
	}
	// Cash came from the redemption event, so no settlement credit.
	if !tally.SettlementCredit.IsZero() {
		t.Errorf("settlement credit: got %s, want 0", tally.SettlementCredit)
	}
	if pos := b.Position("c1", 0); pos.State != ledger.StateRedeemedWinner {
		t.Errorf("state: got %s, want RedeemedWinner", pos.State)
	}
}

// ============================================================================
// Test: Loser realization
// ============================================================================

func TestApply_LoserRealizationIdenticalAcrossModes(t *testing.T) {
	for _, mode := range []settle.Mode{settle.ModeAsymmetric, settle.ModeSymmetric} {
		b := ledger.NewWalletBook("w1", ledger.MethodAverage, false, binaryResolved("1"), nil)
		b.Apply(act(event.KindBuy, "c1", 1, "50", "20"))

		if err := settle.Apply(b, mode); err != nil {
			t.Fatalf("%s: settle: %v", mode, err)
		}

		tally := b.Tally("c1")
		if !tally.RealizedPnl.Equal(dec("-20")) {
			t.Errorf("%s: realized: got %s, want -20", mode, tally.RealizedPnl)
		}
		if !tally.SettlementCredit.IsZero() {
			t.Errorf("%s: settlement credit: got %s, want 0", mode, tally.SettlementCredit)
		}
		pos := b.Position("c1", 1)
		if pos.State != ledger.StateResolvedLoser {
			t.Errorf("%s: state: got %s, want ResolvedLoser", mode, pos.State)
		}
		if !pos.Quantity.IsZero() {
			t.Errorf("%s: qty: got %s, want 0", mode, pos.Quantity)
		}
	}
}

// ============================================================================
// Test: Partial payouts and open markets
// ============================================================================

func TestApply_FractionalPayout(t *testing.T) {
	b := ledger.NewWalletBook("w1", ledger.MethodAverage, false, binaryResolved("0.6"), nil)
	b.Apply(act(event.KindBuy, "c1", 0, "100", "50"))

	if err := settle.Apply(b, settle.ModeSymmetric); err != nil {
		t.Fatalf("settle: %v", err)
	}

	// 100 x 0.6 - 50 = 10; the 0.4 side would also have settled had we held it.
	if got := b.Tally("c1").RealizedPnl; !got.Equal(dec("10")) {
		t.Errorf("realized: got %s, want 10", got)
	}
}

func TestApply_UnresolvedStaysOpen(t *testing.T) {
	b := ledger.NewWalletBook("w1", ledger.MethodAverage, false, nil, nil)
	b.Apply(act(event.KindBuy, "c1", 0, "50", "15"))

	if err := settle.Apply(b, settle.ModeSymmetric); err != nil {
		t.Fatalf("settle: %v", err)
	}

	pos := b.Position("c1", 0)
	if pos.State != ledger.StateOpen {
		t.Errorf("state: got %s, want Open", pos.State)
	}
	if !b.Tally("c1").RealizedPnl.IsZero() {
		t.Error("unresolved positions must not realize")
	}
}
