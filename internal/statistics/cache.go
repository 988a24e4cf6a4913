package statistics

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dspace-analytics/statistics-api/pkg/metrics"
	"github.com/dspace-analytics/statistics-api/pkg/redis"
)

// responseCache stores assembled JSON responses in Redis and collapses
// concurrent identical requests with singleflight. All methods are safe on
// a nil receiver, which is how a deployment without Redis runs.
type responseCache struct {
	redis   *redis.Client
	ttl     time.Duration
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func newResponseCache(client *redis.Client, ttl time.Duration, m *metrics.Metrics) *responseCache {
	if client == nil {
		return nil
	}
	return &responseCache{
		redis:   client,
		ttl:     ttl,
		metrics: m,
		logger:  slog.Default().With("component", "response-cache"),
	}
}

// get unmarshals the cached value for key into out. Cache errors count as
// misses; a broken Redis must not break the request.
func (c *responseCache) get(ctx context.Context, key string, out any) bool {
	if c == nil {
		return false
	}
	raw, err := c.redis.Get(ctx, key)
	if err != nil {
		if !redis.IsNilError(err) {
			c.logger.Warn("cache read failed", "key", key, "error", err)
		}
		c.miss()
		return false
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		c.logger.Warn("cache entry corrupt, ignoring", "key", key, "error", err)
		c.miss()
		return false
	}
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.Inc()
	}
	return true
}

func (c *responseCache) put(ctx context.Context, key string, value any) {
	if c == nil {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn("cache encode failed", "key", key, "error", err)
		return
	}
	if err := c.redis.Set(ctx, key, data, c.ttl); err != nil {
		c.logger.Warn("cache write failed", "key", key, "error", err)
	}
}

// once deduplicates concurrent computations of the same key.
func (c *responseCache) once(key string, fn func() (any, error)) (any, error) {
	if c == nil {
		return fn()
	}
	v, err, _ := c.group.Do(key, fn)
	return v, err
}

func (c *responseCache) miss() {
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}
}
