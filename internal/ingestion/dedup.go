package ingestion

import (
	"container/list"
	"context"
	"sync"
	"time"

	"PredLedger/internal/observability"

	"github.com/rs/zerolog"
)

// Deduper screens inbound messages before they reach the raw store. Two
// tiers: an in-memory LRU takes the hot path, a Postgres probe covers keys
// that aged out of memory. Safe for concurrent use; every consumer
// callback funnels through it.
//
// The raw store tolerates duplicate rows (the normalizer drops them by
// key), so the deduper only has to be good, not perfect.
type Deduper struct {
	mu  sync.Mutex
	lru *dedupLRU

	db      DBProber
	log     zerolog.Logger
	metrics *observability.Metrics
}

// DBProber is the cold-tier lookup, backed by Postgres.
type DBProber interface {
	SeenKey(ctx context.Context, key string) (bool, error)
}

func NewDeduper(capacity int, db DBProber, log zerolog.Logger, metrics *observability.Metrics) *Deduper {
	return &Deduper{
		lru:     newDedupLRU(capacity),
		db:      db,
		log:     log,
		metrics: metrics,
	}
}

// IsDuplicate reports whether the key has been seen before. A probe error
// counts the key as fresh: a flaky database must not stall ingestion.
func (d *Deduper) IsDuplicate(ctx context.Context, msgType, key string) bool {
	d.mu.Lock()
	hit := d.lru.contains(key)
	d.mu.Unlock()

	if hit {
		if d.metrics != nil {
			d.metrics.IngestDuplicates.WithLabelValues(msgType, "lru").Inc()
		}
		return true
	}

	if d.db == nil {
		return false
	}

	start := time.Now()
	seen, err := d.db.SeenKey(ctx, key)
	if d.metrics != nil {
		d.metrics.DedupProbeDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		d.log.Warn().Err(err).Str("key", key).Msg("dedup probe failed, treating key as fresh")
		if d.metrics != nil {
			d.metrics.PersistErrors.WithLabelValues("dedup_probe").Inc()
		}
		return false
	}

	if seen {
		if d.metrics != nil {
			d.metrics.IngestDuplicates.WithLabelValues(msgType, "postgres").Inc()
		}
		// Promote so the next delivery stays off the cold path.
		d.MarkSeen(key)
		return true
	}

	return false
}

// MarkSeen records the key after its row is stored (or confirmed stored).
func (d *Deduper) MarkSeen(key string) {
	d.mu.Lock()
	evicted := d.lru.add(key)
	size := d.lru.size()
	d.mu.Unlock()

	if d.metrics != nil {
		d.metrics.DedupLRUSize.Set(float64(size))
		if evicted {
			d.metrics.DedupLRUEvictions.Inc()
		}
	}
}

// Warm preloads keys, typically the newest source ids from Postgres at
// boot, so a restart does not pay the cold tier for the stream's working
// set.
func (d *Deduper) Warm(keys []string) {
	d.mu.Lock()
	for _, key := range keys {
		d.lru.add(key)
	}
	size := d.lru.size()
	d.mu.Unlock()

	if d.metrics != nil {
		d.metrics.DedupLRUSize.Set(float64(size))
	}
}

// --- LRU tier ---

type dedupLRU struct {
	capacity int
	entries  map[string]*list.Element
	order    *list.List
}

type lruKey struct {
	key string
}

func newDedupLRU(capacity int) *dedupLRU {
	if capacity < 1 {
		capacity = 1
	}
	return &dedupLRU{
		capacity: capacity,
		entries:  make(map[string]*list.Element, capacity),
		order:    list.New(),
	}
}

// contains reports membership and promotes the key to most recently used.
func (l *dedupLRU) contains(key string) bool {
	elem, ok := l.entries[key]
	if ok {
		l.order.MoveToFront(elem)
	}
	return ok
}

// add inserts or promotes, reporting whether an older key was evicted.
func (l *dedupLRU) add(key string) bool {
	if elem, ok := l.entries[key]; ok {
		l.order.MoveToFront(elem)
		return false
	}

	l.entries[key] = l.order.PushFront(&lruKey{key: key})

	if l.order.Len() > l.capacity {
		oldest := l.order.Back()
		l.order.Remove(oldest)
		delete(l.entries, oldest.Value.(*lruKey).key)
		return true
	}
	return false
}

func (l *dedupLRU) size() int {
	return l.order.Len()
}
