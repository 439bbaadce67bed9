package ledger

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// SettlementState tracks a position through market resolution
type SettlementState int32

const (
	StateOpen SettlementState = iota
	StateResolvedWinner
	StateResolvedLoser
	StateRedeemedWinner
)

func (s SettlementState) String() string {
	switch s {
	case StateOpen:
		return "Open"
	case StateResolvedWinner:
		return "ResolvedWinner"
	case StateResolvedLoser:
		return "ResolvedLoser"
	case StateRedeemedWinner:
		return "RedeemedWinner"
	default:
		return "Unknown"
	}
}

// CanTransitionTo validates state transitions. Losers are terminal at
// resolution; winners pass through ResolvedWinner before redemption.
func (s SettlementState) CanTransitionTo(next SettlementState) bool {
	validTransitions := map[SettlementState][]SettlementState{
		StateOpen: {
			StateResolvedWinner,
			StateResolvedLoser,
		},
		StateResolvedWinner: {
			StateRedeemedWinner,
		},
	}

	allowed, ok := validTransitions[s]
	if !ok {
		return false
	}

	for _, allowedState := range allowed {
		if next == allowedState {
			return true
		}
	}

	return false
}

// PositionKey identifies one outcome holding within a wallet's book
type PositionKey struct {
	ConditionID  string
	OutcomeIndex int
}

// Lot is one FIFO acquisition layer. Cost is the total collateral paid for
// Qty tokens, not a unit price. AcquiredAt keeps the layer traceable to its
// source event; queue order alone drives consumption.
type Lot struct {
	Qty        decimal.Decimal
	Cost       decimal.Decimal
	AcquiredAt time.Time
}

// Position is a wallet's holding of one outcome token. CostBasis is the
// TOTAL basis of the holding; the average unit cost is derived on demand.
// Quantity never goes negative: disposals are clamped by the book and the
// shortfall recorded as untracked.
type Position struct {
	Key         PositionKey
	Quantity    decimal.Decimal
	CostBasis   decimal.Decimal
	Lots        []Lot // Maintained only under FIFO
	State       SettlementState
	RedeemedQty decimal.Decimal

	clamped bool
}

// AvgCost returns the average unit cost, zero for an empty position.
func (p *Position) AvgCost() decimal.Decimal {
	if p.Quantity.IsZero() {
		return decimal.Zero
	}
	return p.CostBasis.Div(p.Quantity)
}

func (p *Position) IsEmpty() bool {
	return p.Quantity.IsZero() && p.CostBasis.IsZero()
}

// TransitionTo advances the settlement state, rejecting transitions outside
// the table. A rejected transition is a programming error, not bad data.
func (p *Position) TransitionTo(next SettlementState) error {
	if !p.State.CanTransitionTo(next) {
		return fmt.Errorf("invalid settlement transition: %s -> %s (condition=%s outcome=%d)",
			p.State, next, p.Key.ConditionID, p.Key.OutcomeIndex)
	}
	p.State = next
	return nil
}

// CanonicalBytes returns deterministic serialization for result digests
func (p *Position) CanonicalBytes() []byte {
	buf := make([]byte, 0, 128)

	// condition_id (length-prefixed)
	buf = append(buf, byte(len(p.Key.ConditionID)))
	buf = append(buf, []byte(p.Key.ConditionID)...)

	// outcome_index (8 bytes LE)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(p.Key.OutcomeIndex))

	// quantity, cost_basis, redeemed_qty (length-prefixed decimal strings)
	for _, d := range []decimal.Decimal{p.Quantity, p.CostBasis, p.RedeemedQty} {
		s := d.String()
		buf = append(buf, byte(len(s)))
		buf = append(buf, []byte(s)...)
	}

	// settlement_state (1 byte)
	buf = append(buf, byte(p.State))

	return buf
}
