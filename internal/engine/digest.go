package engine

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"sort"

	"PredLedger/internal/ledger"
)

const resultDigestSeed = "PredLedger:result:v1"

// computeDigest hashes the canonical serialization of a result: config,
// totals, sorted market rows, sorted position states and the diagnostic
// counts. Map iteration order never leaks in, and wall-clock fields
// (ComputedAt, timeout, fetch errors) stay out, so identical inputs give
// an identical digest across runs and hosts.
func computeDigest(res *WalletPnlResult, b *ledger.WalletBook) string {
	h := sha256.New()
	h.Write([]byte(resultDigestSeed))

	writeLenPrefixed(h, res.Wallet)
	writeLenPrefixed(h, res.CostBasisMethod)
	writeLenPrefixed(h, res.RealizationMode)
	if res.IncludeTransfers {
		h.Write([]byte{1})
	} else {
		h.Write([]byte{0})
	}

	writeLenPrefixed(h, res.RealizedPnl.String())
	writeLenPrefixed(h, res.UnrealizedPnl.String())

	for _, row := range res.Markets {
		writeLenPrefixed(h, row.ConditionID)
		writeLenPrefixed(h, row.RealizedPnl.String())
		writeLenPrefixed(h, row.UnrealizedPnl.String())
		writeLenPrefixed(h, row.NetCashFlow.String())
		writeLenPrefixed(h, row.RemainingCostBasis.String())
		writeInt64LE(h, row.Events)
	}

	positions := b.Positions()
	keys := make([]ledger.PositionKey, 0, len(positions))
	for key := range positions {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].ConditionID != keys[j].ConditionID {
			return keys[i].ConditionID < keys[j].ConditionID
		}
		return keys[i].OutcomeIndex < keys[j].OutcomeIndex
	})
	for _, key := range keys {
		h.Write(positions[key].CanonicalBytes())
	}

	d := res.Diagnostics
	for _, v := range []int64{
		d.EventsProcessed,
		d.MalformedEvents,
		d.Duplicates,
		d.DuplicateConflicts,
		d.UnmappedTokens,
		d.ClampedPositions,
		d.UnresolvedRedemptions,
		d.IgnoredTransfers,
		d.UnpricedPositions,
		d.PayoutNotNormalized,
		int64(len(d.ReconciliationFailures)),
	} {
		writeInt64LE(h, v)
	}
	writeLenPrefixed(h, d.UnmappedQty.String())
	writeLenPrefixed(h, d.UntrackedQty.String())
	writeLenPrefixed(h, res.Cohort.Tier.String())

	return hex.EncodeToString(h.Sum(nil))
}

func writeLenPrefixed(h hash.Hash, s string) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(len(s)))
	h.Write(buf[:])
	h.Write([]byte(s))
}

func writeInt64LE(h hash.Hash, v int64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(v))
	h.Write(buf[:])
}
