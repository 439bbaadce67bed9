package event

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// MarketResolved carries the oracle's payout vector for one condition.
// A condition resolves at most once; re-deliveries are dropped by key.
// Idempotency key: condition_id.
type MarketResolved struct {
	ConditionID string
	Payouts     []decimal.Decimal
	ResolvedAt  time.Time
	TxHash      string
}

func (m *MarketResolved) DedupKey() string {
	return "resolve:" + m.ConditionID
}

func (m *MarketResolved) InboundType() InboundType {
	return InboundMarketResolved
}

// Resolution converts the event to its reference-table record, with the
// payout vector normalized to sum to 1.
func (m *MarketResolved) Resolution() *Resolution {
	r := &Resolution{
		ConditionID: m.ConditionID,
		Payouts:     append([]decimal.Decimal(nil), m.Payouts...),
		ResolvedAt:  m.ResolvedAt,
	}
	r.Normalize()
	return r
}

// MarkPriceUpdate carries the last traded price of one outcome token, used
// only to value open positions. Updates supersede each other per token, so
// the dedup key includes the observation time.
type MarkPriceUpdate struct {
	ConditionID  string
	OutcomeIndex int
	Price        decimal.Decimal
	ObservedAt   time.Time
}

func (m *MarkPriceUpdate) DedupKey() string {
	return fmt.Sprintf("mark:%s:%d:%d", m.ConditionID, m.OutcomeIndex, m.ObservedAt.UnixNano())
}

func (m *MarkPriceUpdate) InboundType() InboundType {
	return InboundMarkPriceUpdate
}

// TokenMapUpsert registers (or re-registers) the mapping from a position
// token to its condition and outcome index.
// Idempotency key: token_id.
type TokenMapUpsert struct {
	TokenID      string
	ConditionID  string
	OutcomeIndex int
}

func (t *TokenMapUpsert) DedupKey() string {
	return "token:" + t.TokenID
}

func (t *TokenMapUpsert) InboundType() InboundType {
	return InboundTokenMapUpsert
}
