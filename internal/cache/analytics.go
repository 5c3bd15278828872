// Package cache provides a two-tier read cache for analytics summaries: an
// in-process LRU for hot users backed by an optional shared Redis tier. Cache
// failures degrade to recomputation and never surface to callers.
package cache

import (
	"context"
	"encoding/json"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/symptom-biomarker-engine/internal/domain"
)

// Config holds cache tuning knobs.
type Config struct {
	// MaxEntries bounds the in-process tier.
	MaxEntries int
	// TTL applies to both tiers. Summaries go stale quickly, so keep this
	// short; invalidation on write handles correctness, TTL handles drift.
	TTL time.Duration
	// RedisURL enables the shared tier when non-empty.
	RedisURL string
	// RedisPoolSize sizes the Redis connection pool.
	RedisPoolSize int
}

// cachedSummary is the Redis envelope.
type cachedSummary struct {
	Data      *domain.AnalyticsSummary `json:"data"`
	CachedAt  time.Time                `json:"cached_at"`
	ExpiresAt time.Time                `json:"expires_at"`
}

// AnalyticsCache implements the engine's SummaryCache. The memory tier is
// authoritative for hits; Redis is consulted only on memory misses so a
// multi-instance deployment still shares warm entries.
type AnalyticsCache struct {
	memory  *lru.LRU[string, *domain.AnalyticsSummary]
	redis   *redis.Client
	breaker *gobreaker.CircuitBreaker
	ttl     time.Duration
	log     *logrus.Logger
}

// New creates the cache. With an empty RedisURL only the memory tier runs;
// with one set, Redis failures trip a breaker and the cache quietly runs on
// memory alone until Redis recovers.
func New(config Config, logger *logrus.Logger) (*AnalyticsCache, error) {
	if config.MaxEntries <= 0 {
		config.MaxEntries = 1024
	}
	if config.TTL <= 0 {
		config.TTL = 5 * time.Minute
	}

	c := &AnalyticsCache{
		memory: lru.NewLRU[string, *domain.AnalyticsSummary](config.MaxEntries, nil, config.TTL),
		ttl:    config.TTL,
		log:    logger,
	}

	if config.RedisURL != "" {
		opts, err := redis.ParseURL(config.RedisURL)
		if err != nil {
			return nil, err
		}
		if config.RedisPoolSize > 0 {
			opts.PoolSize = config.RedisPoolSize
		}
		c.redis = redis.NewClient(opts)
		c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "analytics-cache-redis",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.WithFields(logrus.Fields{
					"breaker": name,
					"from":    from.String(),
					"to":      to.String(),
				}).Warn("Cache circuit breaker state change")
			},
		})
	}

	return c, nil
}

// Get returns a cached summary. Misses and Redis failures both report a miss.
func (c *AnalyticsCache) Get(ctx context.Context, userID string) (*domain.AnalyticsSummary, bool) {
	if summary, ok := c.memory.Get(userID); ok {
		return summary, true
	}
	if c.redis == nil {
		return nil, false
	}

	val, err := c.breaker.Execute(func() (interface{}, error) {
		s, err := c.redis.Get(ctx, cacheKey(userID)).Result()
		if err == redis.Nil {
			// A miss is a healthy response, not a breaker failure.
			return nil, nil
		}
		return s, err
	})
	if err != nil {
		c.log.WithError(err).Debug("Redis cache read failed")
		return nil, false
	}
	if val == nil {
		return nil, false
	}

	var cached cachedSummary
	if err := json.Unmarshal([]byte(val.(string)), &cached); err != nil {
		c.redis.Del(ctx, cacheKey(userID))
		return nil, false
	}
	if time.Now().After(cached.ExpiresAt) {
		c.redis.Del(ctx, cacheKey(userID))
		return nil, false
	}

	// Promote to the memory tier for the next read.
	c.memory.Add(userID, cached.Data)
	return cached.Data, true
}

// Set stores a summary in both tiers.
func (c *AnalyticsCache) Set(ctx context.Context, userID string, summary *domain.AnalyticsSummary) {
	c.memory.Add(userID, summary)
	if c.redis == nil {
		return
	}

	cached := cachedSummary{
		Data:      summary,
		CachedAt:  time.Now(),
		ExpiresAt: time.Now().Add(c.ttl),
	}
	data, err := json.Marshal(cached)
	if err != nil {
		c.log.WithError(err).Warn("Failed to encode summary for cache")
		return
	}

	if _, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.redis.Set(ctx, cacheKey(userID), data, c.ttl).Err()
	}); err != nil {
		c.log.WithError(err).Debug("Redis cache write failed")
	}
}

// Invalidate drops a user's cached summary from both tiers. Called on every
// write for the user so reads never see a pre-write snapshot.
func (c *AnalyticsCache) Invalidate(ctx context.Context, userID string) {
	c.memory.Remove(userID)
	if c.redis == nil {
		return
	}

	if _, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.redis.Del(ctx, cacheKey(userID)).Err()
	}); err != nil {
		c.log.WithError(err).Debug("Redis cache invalidation failed")
	}
}

// Ping checks the Redis tier. Memory-only caches are always healthy.
func (c *AnalyticsCache) Ping(ctx context.Context) error {
	if c.redis == nil {
		return nil
	}
	return c.redis.Ping(ctx).Err()
}

// Close releases the Redis connection if one exists.
func (c *AnalyticsCache) Close() error {
	if c.redis != nil {
		return c.redis.Close()
	}
	return nil
}

func cacheKey(userID string) string {
	return "analytics:summary:" + userID
}
