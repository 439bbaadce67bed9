package event

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionSplit represents a wallet locking collateral to mint one full
// outcome set per unit. Splits are condition-level on the wire: every
// outcome of the condition receives Qty tokens.
// Idempotency key: source_id.
type PositionSplit struct {
	SourceID    string
	Wallet      string
	ConditionID string
	Qty         decimal.Decimal // Sets minted; each outcome leg receives Qty tokens
	UsdcSize    decimal.Decimal // Collateral locked
	TxHash      string
	OccurredAt  time.Time
}

func (p *PositionSplit) DedupKey() string {
	return p.SourceID
}

func (p *PositionSplit) InboundType() InboundType {
	return InboundPositionSplit
}

func (p *PositionSplit) AsRaw() RawActivity {
	return RawActivity{
		SourceID:     p.SourceID,
		Wallet:       p.Wallet,
		Kind:         KindSplit.String(),
		ConditionID:  p.ConditionID,
		QtyTokens:    p.Qty,
		UsdcNotional: p.UsdcSize,
		Timestamp:    p.OccurredAt.UTC().Format(time.RFC3339Nano),
		TxHash:       p.TxHash,
	}
}

// PositionsMerged is the reverse of a split: a full outcome set burned back
// into collateral.
// Idempotency key: source_id.
type PositionsMerged struct {
	SourceID    string
	Wallet      string
	ConditionID string
	Qty         decimal.Decimal // Sets burned; each outcome leg gives up Qty tokens
	UsdcSize    decimal.Decimal // Collateral released
	TxHash      string
	OccurredAt  time.Time
}

func (m *PositionsMerged) DedupKey() string {
	return m.SourceID
}

func (m *PositionsMerged) InboundType() InboundType {
	return InboundPositionsMerged
}

func (m *PositionsMerged) AsRaw() RawActivity {
	return RawActivity{
		SourceID:     m.SourceID,
		Wallet:       m.Wallet,
		Kind:         KindMerge.String(),
		ConditionID:  m.ConditionID,
		QtyTokens:    m.Qty,
		UsdcNotional: m.UsdcSize,
		Timestamp:    m.OccurredAt.UTC().Format(time.RFC3339Nano),
		TxHash:       m.TxHash,
	}
}
