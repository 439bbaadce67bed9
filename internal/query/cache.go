package query

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"PredLedger/internal/engine"
	"PredLedger/internal/observability"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// CachedReader wraps a Reader with a Redis read-through cache on the hot
// path (WalletPnl). The results worker invalidates on every upsert, so the
// TTL only bounds staleness when an invalidation is lost. Redis being down
// degrades to uncached reads, never to errors.
type CachedReader struct {
	primary Reader
	rdb     *redis.Client
	ttl     time.Duration
	log     zerolog.Logger
	metrics *observability.Metrics
}

func NewCachedReader(primary Reader, rdb *redis.Client, ttl time.Duration, log zerolog.Logger, metrics *observability.Metrics) *CachedReader {
	return &CachedReader{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
		log:     log.With().Str("component", "query_cache").Logger(),
		metrics: metrics,
	}
}

func (c *CachedReader) WalletPnl(ctx context.Context, wallet, mode string) (*WalletPnlResponse, error) {
	data, err := c.rdb.Get(ctx, pnlKey(wallet, mode)).Bytes()
	if err == nil {
		var resp WalletPnlResponse
		if json.Unmarshal(data, &resp) == nil {
			if c.metrics != nil {
				c.metrics.CacheHits.Inc()
			}
			return &resp, nil
		}
	}

	if c.metrics != nil {
		c.metrics.CacheMisses.Inc()
	}
	resp, err := c.primary.WalletPnl(ctx, wallet, mode)
	if err != nil {
		// ErrNotFound is not cached: the wallet's first result must be
		// visible the moment it lands.
		return nil, err
	}

	if data, err := json.Marshal(resp); err == nil {
		if err := c.rdb.Set(ctx, pnlKey(wallet, mode), data, c.ttl).Err(); err != nil {
			c.log.Debug().Err(err).Str("wallet", wallet).Msg("cache set failed")
		}
	}
	return resp, nil
}

// Invalidate drops the cached row for a wallet and mode. Called by the
// results worker after each committed upsert.
func (c *CachedReader) Invalidate(ctx context.Context, wallet, mode string) {
	if err := c.rdb.Del(ctx, pnlKey(wallet, mode)).Err(); err != nil {
		c.log.Debug().Err(err).Str("wallet", wallet).Msg("cache invalidation failed")
	}
}

// --- passthrough ---

func (c *CachedReader) WalletMarkets(ctx context.Context, wallet, mode string) ([]engine.MarketRow, error) {
	return c.primary.WalletMarkets(ctx, wallet, mode)
}

func (c *CachedReader) WalletHistory(ctx context.Context, wallet, mode string, limit int, before *time.Time) ([]HistoryPoint, error) {
	return c.primary.WalletHistory(ctx, wallet, mode, limit, before)
}

func (c *CachedReader) Stats(ctx context.Context) (*ServiceStats, error) {
	return c.primary.Stats(ctx)
}

func pnlKey(wallet, mode string) string {
	return fmt.Sprintf("pnl:%s:%s", wallet, mode)
}
