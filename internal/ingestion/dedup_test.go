package ingestion_test

import (
	"context"
	"errors"
	"testing"

	"PredLedger/internal/ingestion"

	"github.com/rs/zerolog"
)

type fakeProber struct {
	seen  map[string]bool
	err   error
	calls int
}

func (f *fakeProber) SeenKey(_ context.Context, key string) (bool, error) {
	f.calls++
	if f.err != nil {
		return false, f.err
	}
	return f.seen[key], nil
}

func newDeduper(capacity int, db ingestion.DBProber) *ingestion.Deduper {
	return ingestion.NewDeduper(capacity, db, zerolog.Nop(), nil)
}

func TestDeduper_LRUCatchesRepeat(t *testing.T) {
	db := &fakeProber{seen: map[string]bool{}}
	d := newDeduper(100, db)

	d.MarkSeen("src-1")

	if !d.IsDuplicate(context.Background(), "OrderFilled", "src-1") {
		t.Error("expected LRU hit for marked key")
	}
	if db.calls != 0 {
		t.Errorf("db calls: got %d, want 0 (LRU should short-circuit)", db.calls)
	}
}

func TestDeduper_DBHitPromotesToLRU(t *testing.T) {
	db := &fakeProber{seen: map[string]bool{"src-2": true}}
	d := newDeduper(100, db)

	if !d.IsDuplicate(context.Background(), "OrderFilled", "src-2") {
		t.Fatal("expected Postgres tier to report duplicate")
	}
	if db.calls != 1 {
		t.Fatalf("db calls: got %d, want 1", db.calls)
	}

	// Second delivery stays on the hot path.
	if !d.IsDuplicate(context.Background(), "OrderFilled", "src-2") {
		t.Error("expected duplicate after promotion")
	}
	if db.calls != 1 {
		t.Errorf("db calls after promotion: got %d, want 1", db.calls)
	}
}

func TestDeduper_FreshKeyPassesBothTiers(t *testing.T) {
	db := &fakeProber{seen: map[string]bool{}}
	d := newDeduper(100, db)

	if d.IsDuplicate(context.Background(), "OrderFilled", "src-3") {
		t.Error("fresh key reported as duplicate")
	}
	if db.calls != 1 {
		t.Errorf("db calls: got %d, want 1", db.calls)
	}
}

func TestDeduper_ProbeErrorTreatsKeyAsFresh(t *testing.T) {
	db := &fakeProber{err: errors.New("connection refused")}
	d := newDeduper(100, db)

	if d.IsDuplicate(context.Background(), "OrderFilled", "src-4") {
		t.Error("probe error must not report duplicate")
	}
}

func TestDeduper_NilProberSkipsColdTier(t *testing.T) {
	d := newDeduper(100, nil)

	if d.IsDuplicate(context.Background(), "OrderFilled", "src-5") {
		t.Error("unknown key reported as duplicate without a prober")
	}
}

func TestDeduper_EvictionDropsOldest(t *testing.T) {
	db := &fakeProber{seen: map[string]bool{}}
	d := newDeduper(2, db)

	d.MarkSeen("a")
	d.MarkSeen("b")
	d.MarkSeen("c") // evicts a

	if !d.IsDuplicate(context.Background(), "OrderFilled", "b") {
		t.Error("expected b to survive eviction")
	}
	if !d.IsDuplicate(context.Background(), "OrderFilled", "c") {
		t.Error("expected c to survive eviction")
	}
	if db.calls != 0 {
		t.Fatalf("db calls before evicted probe: got %d, want 0", db.calls)
	}

	if d.IsDuplicate(context.Background(), "OrderFilled", "a") {
		t.Error("evicted key reported duplicate with empty db")
	}
	if db.calls != 1 {
		t.Errorf("db calls for evicted key: got %d, want 1", db.calls)
	}
}

func TestDeduper_WarmPreloadsKeys(t *testing.T) {
	db := &fakeProber{seen: map[string]bool{}}
	d := newDeduper(100, db)

	d.Warm([]string{"w-1", "w-2", "w-3"})

	for _, key := range []string{"w-1", "w-2", "w-3"} {
		if !d.IsDuplicate(context.Background(), "OrderFilled", key) {
			t.Errorf("warmed key %s not found in LRU", key)
		}
	}
	if db.calls != 0 {
		t.Errorf("db calls: got %d, want 0", db.calls)
	}
}
