package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// dedupProbeTimeout bounds the per-message existence probe. A slow database
// must not stall the ingest loop; the caller treats a timeout as "not seen"
// and relies on the raw log tolerating duplicates.
const dedupProbeTimeout = 500 * time.Millisecond

// DedupProbe answers "has this source id already been stored?" against the
// raw activity log. It backs the in-memory LRU as the second dedup tier.
type DedupProbe struct {
	db *sql.DB
}

func NewDedupProbe(db *sql.DB) *DedupProbe {
	return &DedupProbe{db: db}
}

func (p *DedupProbe) SeenKey(ctx context.Context, key string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, dedupProbeTimeout)
	defer cancel()

	var exists bool
	err := p.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM activity.raw_events WHERE source_id = $1)`,
		key,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("probe source_id %s: %w", key, err)
	}
	return exists, nil
}
