package event

import (
	"time"

	"github.com/shopspring/decimal"
)

// PayoutRedemption represents a wallet exchanging resolved outcome tokens
// for collateral. Some indexers report the token, some only the condition;
// when only the condition is known the normalizer attributes the quantity
// to the winning outcome.
// Idempotency key: source_id.
type PayoutRedemption struct {
	SourceID    string
	Wallet      string
	ConditionID string
	TokenID     string // Empty when the source reports condition-level only
	Qty         decimal.Decimal
	UsdcSize    decimal.Decimal // Collateral received
	TxHash      string
	OccurredAt  time.Time
}

func (r *PayoutRedemption) DedupKey() string {
	return r.SourceID
}

func (r *PayoutRedemption) InboundType() InboundType {
	return InboundPayoutRedemption
}

func (r *PayoutRedemption) AsRaw() RawActivity {
	return RawActivity{
		SourceID:     r.SourceID,
		Wallet:       r.Wallet,
		Kind:         KindRedemption.String(),
		TokenID:      r.TokenID,
		ConditionID:  r.ConditionID,
		QtyTokens:    r.Qty,
		UsdcNotional: r.UsdcSize,
		Timestamp:    r.OccurredAt.UTC().Format(time.RFC3339Nano),
		TxHash:       r.TxHash,
	}
}
