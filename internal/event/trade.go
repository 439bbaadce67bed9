package event

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side represents trade direction
type Side int32

const (
	SideUnknown Side = iota
	SideBuy
	SideSell
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "BUY"
	case SideSell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// OrderFilled represents one fill against the order book, as reported by the
// activity indexer. Trades reference the outcome token, not the condition;
// the mapping is resolved during normalization.
// Idempotency key: source_id (tx hash + token + side, assigned upstream).
type OrderFilled struct {
	SourceID   string
	Wallet     string
	TokenID    string
	TradeSide  Side
	Qty        decimal.Decimal // Outcome tokens
	UsdcSize   decimal.Decimal // Collateral notional
	TxHash     string
	OccurredAt time.Time // Source timestamp (NOT wall-clock)
}

func (o *OrderFilled) DedupKey() string {
	return o.SourceID
}

func (o *OrderFilled) InboundType() InboundType {
	return InboundOrderFilled
}

func (o *OrderFilled) AsRaw() RawActivity {
	kind := KindBuy
	if o.TradeSide == SideSell {
		kind = KindSell
	}
	return RawActivity{
		SourceID:     o.SourceID,
		Wallet:       o.Wallet,
		Kind:         kind.String(),
		TokenID:      o.TokenID,
		QtyTokens:    o.Qty,
		UsdcNotional: o.UsdcSize,
		Timestamp:    o.OccurredAt.UTC().Format(time.RFC3339Nano),
		TxHash:       o.TxHash,
	}
}
