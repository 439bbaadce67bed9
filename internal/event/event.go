package event

import (
	"time"

	"github.com/shopspring/decimal"
)

// Kind discriminates normalized activity events.
type Kind int32

const (
	KindUnknown Kind = iota
	KindBuy
	KindSell
	KindSplit
	KindMerge
	KindRedemption
	KindTransferIn
	KindTransferOut
)

func (k Kind) String() string {
	switch k {
	case KindBuy:
		return "Buy"
	case KindSell:
		return "Sell"
	case KindSplit:
		return "Split"
	case KindMerge:
		return "Merge"
	case KindRedemption:
		return "Redemption"
	case KindTransferIn:
		return "TransferIn"
	case KindTransferOut:
		return "TransferOut"
	default:
		return "Unknown"
	}
}

// ParseKind maps a stored kind string back to its discriminator.
func ParseKind(s string) (Kind, bool) {
	switch s {
	case "Buy":
		return KindBuy, true
	case "Sell":
		return KindSell, true
	case "Split":
		return KindSplit, true
	case "Merge":
		return KindMerge, true
	case "Redemption":
		return KindRedemption, true
	case "TransferIn":
		return KindTransferIn, true
	case "TransferOut":
		return KindTransferOut, true
	default:
		return KindUnknown, false
	}
}

// RawActivity is one row of the append-only raw activity log, as received
// from upstream indexers. Raw stores may hold several physical rows per
// logical event (same SourceID), may reference tokens with no mapping, and
// carry timestamps in whatever format the source used; the normalizer owns
// all of that. Timestamp is kept as text on purpose: sources disagree
// (RFC3339 vs unix seconds) and malformed values are data, not errors.
type RawActivity struct {
	SourceID     string          `json:"source_id"`
	Wallet       string          `json:"wallet"`
	Kind         string          `json:"kind"`
	TokenID      string          `json:"token_id,omitempty"`
	ConditionID  string          `json:"condition_id,omitempty"`
	OutcomeIndex *int            `json:"outcome_index,omitempty"`
	QtyTokens    decimal.Decimal `json:"qty_tokens"`
	UsdcNotional decimal.Decimal `json:"usdc_notional"`
	Timestamp    string          `json:"timestamp"`
	TxHash       string          `json:"tx_hash,omitempty"`
}

// Activity is a normalized, deduplicated, token-resolved event ready for the
// ledger fold. OutcomeIndex is meaningless for Split/Merge (they touch every
// outcome of the condition) and is zero there.
type Activity struct {
	SourceID     string
	Wallet       string
	Kind         Kind
	ConditionID  string
	OutcomeIndex int
	Qty          decimal.Decimal
	UsdcNotional decimal.Decimal
	OccurredAt   time.Time
}

// Resolution is the settlement record of one condition: a payout fraction
// per outcome index. A fully resolved market's payouts sum to 1; vectors
// that do not are renormalized and flagged, never silently corrected beyond
// that.
type Resolution struct {
	ConditionID  string
	Payouts      []decimal.Decimal
	ResolvedAt   time.Time
	Renormalized bool
}

// Normalize scales the payout vector so it sums to 1, marking the resolution
// when input needed correction. A zero-sum vector is left untouched (it
// carries no usable signal and the flag lets diagnostics surface it).
func (r *Resolution) Normalize() {
	sum := decimal.Zero
	for _, p := range r.Payouts {
		sum = sum.Add(p)
	}
	if sum.IsZero() || sum.Equal(decimal.NewFromInt(1)) {
		return
	}
	for i, p := range r.Payouts {
		r.Payouts[i] = p.Div(sum)
	}
	r.Renormalized = true
}

// Payout returns the payout fraction for an outcome index, zero when the
// index is out of range.
func (r *Resolution) Payout(outcome int) decimal.Decimal {
	if outcome < 0 || outcome >= len(r.Payouts) {
		return decimal.Zero
	}
	return r.Payouts[outcome]
}

// WinningOutcome returns the index with the highest payout, used to
// attribute condition-level redemption rows that carry no token reference.
func (r *Resolution) WinningOutcome() int {
	best := 0
	for i := 1; i < len(r.Payouts); i++ {
		if r.Payouts[i].GreaterThan(r.Payouts[best]) {
			best = i
		}
	}
	return best
}

// TokenRef is the mapping target of one position token.
type TokenRef struct {
	ConditionID  string
	OutcomeIndex int
}

// TokenSet is an in-memory token_id → (condition, outcome) mapping. The
// Postgres store loads one per compute pass; tests build them directly.
type TokenSet map[string]TokenRef

func (ts TokenSet) Lookup(tokenID string) (string, int, bool) {
	ref, ok := ts[tokenID]
	if !ok {
		return "", 0, false
	}
	return ref.ConditionID, ref.OutcomeIndex, true
}

// ResolutionSet is an in-memory condition_id → Resolution lookup.
type ResolutionSet map[string]*Resolution

func (rs ResolutionSet) Lookup(conditionID string) (*Resolution, bool) {
	r, ok := rs[conditionID]
	return r, ok
}

// MarkKey addresses a last-trade price for one outcome token.
type MarkKey struct {
	ConditionID  string
	OutcomeIndex int
}

// MarkSet is an in-memory (condition, outcome) → last trade price lookup,
// used only to value open positions.
type MarkSet map[MarkKey]decimal.Decimal

func (ms MarkSet) Lookup(conditionID string, outcome int) (decimal.Decimal, bool) {
	p, ok := ms[MarkKey{ConditionID: conditionID, OutcomeIndex: outcome}]
	return p, ok
}
