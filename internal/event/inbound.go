package event

// InboundType discriminator for stream payloads
type InboundType int32

const (
	InboundUnknown InboundType = iota
	InboundOrderFilled
	InboundPositionSplit
	InboundPositionsMerged
	InboundPayoutRedemption
	InboundTokenTransfer
	InboundMarketResolved
	InboundMarkPriceUpdate
	InboundTokenMapUpsert
)

// Inbound is the interface all stream payloads must implement
type Inbound interface {
	// DedupKey returns the stable idempotency key
	DedupKey() string

	// InboundType returns the discriminator
	InboundType() InboundType
}

// WalletActivity is implemented by inbound events that append to the raw
// activity log. Market-data events (resolutions, marks, token map) are not
// wallet activity and only update reference tables.
type WalletActivity interface {
	Inbound

	// AsRaw converts the event to its raw activity log row
	AsRaw() RawActivity
}

func (it InboundType) String() string {
	switch it {
	case InboundOrderFilled:
		return "OrderFilled"
	case InboundPositionSplit:
		return "PositionSplit"
	case InboundPositionsMerged:
		return "PositionsMerged"
	case InboundPayoutRedemption:
		return "PayoutRedemption"
	case InboundTokenTransfer:
		return "TokenTransfer"
	case InboundMarketResolved:
		return "MarketResolved"
	case InboundMarkPriceUpdate:
		return "MarkPriceUpdate"
	case InboundTokenMapUpsert:
		return "TokenMapUpsert"
	default:
		return "Unknown"
	}
}
