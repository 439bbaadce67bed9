// Package settle applies market resolutions to a folded wallet book. It
// runs after the activity fold: redemptions that happened in the history
// have already consumed their inventory, and this pass decides what happens
// to whatever is still held in resolved markets.
package settle

import (
	"PredLedger/internal/ledger"

	"github.com/shopspring/decimal"
)

// Mode selects when winning inventory converts to realized PnL
type Mode int32

const (
	// ModeAsymmetric realizes losers at resolution (the loss is certain)
	// but keeps winners unrealized until their redemption event arrives.
	// Crediting winners before redemption once ranked net losers as top
	// performers; the default stays conservative.
	ModeAsymmetric Mode = iota

	// ModeSymmetric realizes everything at payout the moment the market
	// resolves, tracking the non-cash payout value as SettlementCredit.
	ModeSymmetric
)

func (m Mode) String() string {
	switch m {
	case ModeAsymmetric:
		return "asymmetric"
	case ModeSymmetric:
		return "symmetric"
	default:
		return "unknown"
	}
}

// ParseMode maps a config string to its mode.
func ParseMode(s string) (Mode, bool) {
	switch s {
	case "asymmetric":
		return ModeAsymmetric, true
	case "symmetric":
		return ModeSymmetric, true
	default:
		return ModeAsymmetric, false
	}
}

// Apply settles every position whose condition has resolved and drives the
// settlement state machine. Loser realization is identical in both modes.
// Positions in unresolved conditions are left untouched. The only error
// path is an invalid state transition, which is an internal inconsistency,
// not bad data.
func Apply(b *ledger.WalletBook, mode Mode) error {
	for key, pos := range b.Positions() {
		res, ok := b.ResolutionFor(key.ConditionID)
		if !ok {
			continue
		}
		payout := res.Payout(key.OutcomeIndex)

		if payout.IsZero() {
			if err := pos.TransitionTo(ledger.StateResolvedLoser); err != nil {
				return err
			}
			b.SettleAtPrice(key, decimal.Zero)
			continue
		}

		fullyRedeemed := pos.Quantity.IsZero() && pos.RedeemedQty.IsPositive()
		if err := pos.TransitionTo(ledger.StateResolvedWinner); err != nil {
			return err
		}
		if mode == ModeSymmetric && pos.Quantity.IsPositive() {
			b.SettleAtPrice(key, payout)
		}
		if fullyRedeemed {
			if err := pos.TransitionTo(ledger.StateRedeemedWinner); err != nil {
				return err
			}
		}
	}
	return nil
}
