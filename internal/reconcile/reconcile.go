// Package reconcile cross-checks a settled wallet book against the cash
// that actually moved. A wallet whose accounting cannot be tied back to its
// cash flows must not be trusted, so failures are surfaced as diagnostics
// on the result; they never abort a computation.
package reconcile

import (
	"fmt"

	"PredLedger/internal/ledger"
	"PredLedger/internal/money"

	"github.com/shopspring/decimal"
)

// Failure is one invariant violation, tagged with the condition it
// occurred in. The wallet context comes from the surrounding result.
type Failure struct {
	Invariant   string `json:"invariant"`
	ConditionID string `json:"condition_id,omitempty"`
	Detail      string `json:"detail"`
}

// Checker validates the accounting invariants of one wallet book
type Checker struct {
	epsilon decimal.Decimal
}

// NewChecker returns a Checker with the given comparison tolerance; zero
// selects the default epsilon.
func NewChecker(epsilon decimal.Decimal) *Checker {
	if epsilon.IsZero() {
		epsilon = money.DefaultEpsilon
	}
	return &Checker{epsilon: epsilon}
}

// Check runs every invariant over the book and collects violations.
func (c *Checker) Check(b *ledger.WalletBook) []Failure {
	var failures []Failure

	remaining := remainingBasisByCondition(b)
	for conditionID, tally := range b.Tallies() {
		if f := c.CheckCashIdentity(conditionID, tally, remaining[conditionID]); f != nil {
			failures = append(failures, *f)
		}
		if f := c.CheckPayoutNormalization(b, conditionID); f != nil {
			failures = append(failures, *f)
		}
	}
	failures = append(failures, c.CheckInventory(b)...)
	return failures
}

// CheckCashIdentity verifies the per-condition cash-flow identity (R-01):
//
//	NetCashFlow + RemainingCostBasis + TransferOutBasis
//	    - RealizedPnl + SettlementCredit == ClampedSellValue
//
// Every collateral unit that entered the book must be accounted for as
// realized PnL, basis still held, basis transferred away, non-cash
// settlement value, or the value of sells the book never saw the buys for.
func (c *Checker) CheckCashIdentity(conditionID string, t *ledger.MarketTally, remainingBasis decimal.Decimal) *Failure {
	lhs := t.NetCashFlow.
		Add(remainingBasis).
		Add(t.TransferOutBasis).
		Sub(t.RealizedPnl).
		Add(t.SettlementCredit)

	if money.WithinEpsilon(lhs, t.ClampedSellValue, c.epsilon) {
		return nil
	}
	return &Failure{
		Invariant:   "R-01",
		ConditionID: conditionID,
		Detail: fmt.Sprintf("cash identity off by %s (lhs=%s clamped=%s)",
			lhs.Sub(t.ClampedSellValue), lhs, t.ClampedSellValue),
	}
}

// CheckInventory verifies no position carries negative quantity or negative
// basis (R-02). The fold's clamp makes this unreachable; a hit here means
// the fold itself is broken.
func (c *Checker) CheckInventory(b *ledger.WalletBook) []Failure {
	var failures []Failure
	for key, pos := range b.Positions() {
		if pos.Quantity.IsNegative() || pos.CostBasis.IsNegative() {
			failures = append(failures, Failure{
				Invariant:   "R-02",
				ConditionID: key.ConditionID,
				Detail: fmt.Sprintf("negative inventory at outcome %d: qty=%s basis=%s",
					key.OutcomeIndex, pos.Quantity, pos.CostBasis),
			})
		}
	}
	return failures
}

// CheckPayoutNormalization verifies the resolution payout vector sums to 1
// (R-03). A vector that arrived malformed and was renormalized upstream is
// still reported: the settlement math ran on corrected data.
func (c *Checker) CheckPayoutNormalization(b *ledger.WalletBook, conditionID string) *Failure {
	res, ok := b.ResolutionFor(conditionID)
	if !ok {
		return nil
	}
	sum := decimal.Zero
	for _, p := range res.Payouts {
		sum = sum.Add(p)
	}
	if res.Renormalized {
		return &Failure{
			Invariant:   "R-03",
			ConditionID: conditionID,
			Detail:      "payout vector renormalized from a non-unit sum",
		}
	}
	if !money.WithinEpsilon(sum, decimal.NewFromInt(1), c.epsilon) {
		return &Failure{
			Invariant:   "R-03",
			ConditionID: conditionID,
			Detail:      fmt.Sprintf("payout vector sums to %s", sum),
		}
	}
	return nil
}

func remainingBasisByCondition(b *ledger.WalletBook) map[string]decimal.Decimal {
	remaining := make(map[string]decimal.Decimal)
	for key, pos := range b.Positions() {
		remaining[key.ConditionID] = remaining[key.ConditionID].Add(pos.CostBasis)
	}
	return remaining
}
