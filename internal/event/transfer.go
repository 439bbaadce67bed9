package event

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransferDirection distinguishes inbound from outbound token moves
type TransferDirection int32

const (
	DirectionUnknown TransferDirection = iota
	DirectionIn
	DirectionOut
)

// TokenTransfer represents an ERC-1155 transfer of outcome tokens that is
// not a trade: gifts, wallet consolidation, airdrops. No collateral moves.
// Idempotency key: source_id.
type TokenTransfer struct {
	SourceID     string
	Wallet       string // The tracked wallet
	Counterparty string
	TokenID      string
	Direction    TransferDirection
	Qty          decimal.Decimal
	TxHash       string
	OccurredAt   time.Time
}

func (t *TokenTransfer) DedupKey() string {
	return t.SourceID
}

func (t *TokenTransfer) InboundType() InboundType {
	return InboundTokenTransfer
}

func (t *TokenTransfer) AsRaw() RawActivity {
	kind := KindTransferIn
	if t.Direction == DirectionOut {
		kind = KindTransferOut
	}
	return RawActivity{
		SourceID:     t.SourceID,
		Wallet:       t.Wallet,
		Kind:         kind.String(),
		TokenID:      t.TokenID,
		QtyTokens:    t.Qty,
		UsdcNotional: decimal.Zero,
		Timestamp:    t.OccurredAt.UTC().Format(time.RFC3339Nano),
		TxHash:       t.TxHash,
	}
}
