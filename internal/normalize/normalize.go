// Package normalize turns raw activity rows into a clean, ordered event
// stream: timestamps parsed, duplicates collapsed, token references resolved
// to (condition, outcome). Bad data is counted and excluded, never fatal;
// the counters feed wallet diagnostics downstream.
package normalize

import (
	"fmt"
	"sort"
	"time"

	"PredLedger/internal/event"

	"github.com/shopspring/decimal"
)

// TokenLookup resolves a position token to its condition and outcome.
type TokenLookup interface {
	Lookup(tokenID string) (conditionID string, outcomeIndex int, ok bool)
}

// ResolutionLookup returns the settlement record for a condition, used to
// attribute condition-level redemption rows to the winning outcome.
type ResolutionLookup interface {
	Lookup(conditionID string) (*event.Resolution, bool)
}

// Counts tallies rows excluded during normalization. Malformed covers every
// row that cannot be interpreted at all: unparseable timestamp, unknown
// kind, negative quantity or notional.
type Counts struct {
	Seen               int64
	Emitted            int64
	Malformed          int64
	Duplicates         int64
	DuplicateConflicts int64
	UnmappedTokens     int64
	UnmappedQty        decimal.Decimal
}

type dupSig struct {
	qty      decimal.Decimal
	notional decimal.Decimal
}

// Normalizer validates and resolves raw activity pages into ordered
// activities. State carries across pages: the dedup index spans the whole
// stream, and page boundaries are checked for ordering regressions.
// Not thread-safe; one Normalizer per wallet computation.
type Normalizer struct {
	tokens      TokenLookup
	resolutions ResolutionLookup

	seen       map[string]dupSig
	lastTS     time.Time
	lastSource string
	started    bool

	counts Counts
}

// New returns a Normalizer. resolutions may be nil when no settlement data
// is available; condition-level redemptions then count as unmapped.
func New(tokens TokenLookup, resolutions ResolutionLookup) *Normalizer {
	return &Normalizer{
		tokens:      tokens,
		resolutions: resolutions,
		seen:        make(map[string]dupSig),
	}
}

// NormalizeAll runs the whole batch through a fresh Normalizer. The single
// page is sorted internally, so the input may arrive in any order.
func NormalizeAll(raw []event.RawActivity, tokens TokenLookup, resolutions ResolutionLookup) ([]event.Activity, Counts) {
	n := New(tokens, resolutions)
	out, _ := n.Push(raw) // one page, no boundary to regress across
	return out, n.Counts()
}

type parsedRow struct {
	raw event.RawActivity
	ts  time.Time
	kk  event.Kind
}

// Push normalizes one page. Pages must arrive in global (timestamp,
// source_id) order; rows within a page are sorted here, but a page whose
// first row precedes the previous page's last row is an ordering regression
// in the feed and fails the whole computation.
func (n *Normalizer) Push(raw []event.RawActivity) ([]event.Activity, error) {
	rows := make([]parsedRow, 0, len(raw))
	for _, r := range raw {
		n.counts.Seen++
		ts, ok := ParseTimestamp(r.Timestamp)
		if !ok {
			n.counts.Malformed++
			continue
		}
		kind, ok := event.ParseKind(r.Kind)
		if !ok || r.QtyTokens.IsNegative() || r.UsdcNotional.IsNegative() {
			n.counts.Malformed++
			continue
		}
		rows = append(rows, parsedRow{raw: r, ts: ts, kk: kind})
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].ts.Equal(rows[j].ts) {
			return rows[i].ts.Before(rows[j].ts)
		}
		return rows[i].raw.SourceID < rows[j].raw.SourceID
	})

	out := make([]event.Activity, 0, len(rows))
	for _, row := range rows {
		if n.started {
			if row.ts.Before(n.lastTS) || (row.ts.Equal(n.lastTS) && row.raw.SourceID < n.lastSource) {
				return out, fmt.Errorf("out-of-order page: last=(%s, %s), got=(%s, %s)",
					n.lastTS.Format(time.RFC3339Nano), n.lastSource,
					row.ts.Format(time.RFC3339Nano), row.raw.SourceID)
			}
		}
		n.started = true
		n.lastTS = row.ts
		n.lastSource = row.raw.SourceID

		if sig, dup := n.seen[row.raw.SourceID]; dup {
			n.counts.Duplicates++
			if !sig.qty.Equal(row.raw.QtyTokens) || !sig.notional.Equal(row.raw.UsdcNotional) {
				n.counts.DuplicateConflicts++
			}
			continue
		}
		n.seen[row.raw.SourceID] = dupSig{qty: row.raw.QtyTokens, notional: row.raw.UsdcNotional}

		act, ok := n.resolve(row)
		if !ok {
			n.counts.UnmappedTokens++
			n.counts.UnmappedQty = n.counts.UnmappedQty.Add(row.raw.QtyTokens)
			continue
		}
		n.counts.Emitted++
		out = append(out, act)
	}
	return out, nil
}

// resolve attributes a row to (condition, outcome). Splits and merges are
// condition-level and touch every outcome, so their index stays zero.
func (n *Normalizer) resolve(row parsedRow) (event.Activity, bool) {
	act := event.Activity{
		SourceID:     row.raw.SourceID,
		Wallet:       row.raw.Wallet,
		Kind:         row.kk,
		Qty:          row.raw.QtyTokens,
		UsdcNotional: row.raw.UsdcNotional,
		OccurredAt:   row.ts,
	}

	switch row.kk {
	case event.KindSplit, event.KindMerge:
		if row.raw.ConditionID == "" {
			return event.Activity{}, false
		}
		act.ConditionID = row.raw.ConditionID
		return act, true

	case event.KindRedemption:
		if cond, idx, ok := n.lookupToken(row.raw); ok {
			act.ConditionID = cond
			act.OutcomeIndex = idx
			return act, true
		}
		// Condition-level redemption: attribute to the winning outcome.
		if row.raw.ConditionID != "" && n.resolutions != nil {
			if res, ok := n.resolutions.Lookup(row.raw.ConditionID); ok {
				act.ConditionID = row.raw.ConditionID
				act.OutcomeIndex = res.WinningOutcome()
				return act, true
			}
		}
		return event.Activity{}, false

	default:
		cond, idx, ok := n.lookupToken(row.raw)
		if !ok {
			return event.Activity{}, false
		}
		act.ConditionID = cond
		act.OutcomeIndex = idx
		return act, true
	}
}

// lookupToken prefers an explicit (condition, outcome) pair on the row and
// falls back to the token map.
func (n *Normalizer) lookupToken(raw event.RawActivity) (string, int, bool) {
	if raw.ConditionID != "" && raw.OutcomeIndex != nil {
		return raw.ConditionID, *raw.OutcomeIndex, true
	}
	if raw.TokenID == "" {
		return "", 0, false
	}
	return n.tokens.Lookup(raw.TokenID)
}

// Counts returns the exclusion tallies accumulated so far.
func (n *Normalizer) Counts() Counts {
	return n.counts
}
