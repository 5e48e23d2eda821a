package importer

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/mealplanner/importer/internal/common/configtypes"
	"github.com/mealplanner/importer/internal/common/redis"
	"github.com/mealplanner/importer/internal/metrics"
	"github.com/mealplanner/importer/internal/recipe"
)

// DefaultCacheTTL applies when the cache is enabled without a ttl.
const DefaultCacheTTL = 7 * 24 * time.Hour

// Store is the subset of *redis.Client the cache needs.
type Store interface {
	GetBytes(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, expiration time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// Cache keeps imported recipes keyed by canonical URL. Validation verdicts
// are never stored here. Store failures are logged and reported as misses.
type Cache struct {
	store       Store
	prefix      string
	ttl         time.Duration
	compression string
	metrics     Metrics
	logger      *zap.Logger
}

// NewCache returns nil when the cache is disabled; a nil *Cache is a valid
// always-miss cache.
func NewCache(store Store, cfg configtypes.CacheConfig, m Metrics, logger *zap.Logger) *Cache {
	if !cfg.Enabled || store == nil {
		return nil
	}
	if m == nil {
		m = nopMetrics{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Cache{
		store:       store,
		prefix:      cfg.KeyPrefix,
		ttl:         time.Duration(cfg.TTL),
		compression: cfg.Compression,
		metrics:     m,
		logger:      logger,
	}
	if c.ttl <= 0 {
		c.ttl = DefaultCacheTTL
	}
	return c
}

// Get returns the cached recipe for canonicalURL.
func (c *Cache) Get(ctx context.Context, canonicalURL string) (*recipe.Recipe, bool) {
	if c == nil {
		return nil, false
	}
	key := redis.ImportKey(c.prefix, canonicalURL)

	payload, found, err := c.store.GetBytes(ctx, key)
	if err != nil {
		c.metrics.RecordCacheOperation("get", metrics.CacheError)
		c.logger.Warn("Import cache read failed, fetching instead",
			zap.String("url", canonicalURL),
			zap.Error(err))
		return nil, false
	}
	if !found {
		c.metrics.RecordCacheOperation("get", metrics.CacheMiss)
		return nil, false
	}

	data, err := decompress(payload)
	if err == nil {
		var r recipe.Recipe
		if err = json.Unmarshal(data, &r); err == nil {
			c.metrics.RecordCacheOperation("get", metrics.CacheHit)
			return &r, true
		}
	}

	c.metrics.RecordCacheOperation("get", metrics.CacheError)
	c.logger.Warn("Dropping unreadable import cache entry",
		zap.String("url", canonicalURL),
		zap.String("key", key),
		zap.Error(err))
	if delErr := c.store.Del(ctx, key); delErr != nil {
		c.logger.Debug("Failed to delete unreadable cache entry", zap.Error(delErr))
	}
	return nil, false
}

// Put stores r under canonicalURL.
func (c *Cache) Put(ctx context.Context, canonicalURL string, r *recipe.Recipe) {
	if c == nil || r == nil {
		return
	}

	data, err := json.Marshal(r)
	if err != nil {
		c.metrics.RecordCacheOperation("set", metrics.CacheError)
		c.logger.Error("Failed to encode recipe for cache", zap.Error(err))
		return
	}
	payload, err := compress(data, c.compression)
	if err != nil {
		c.metrics.RecordCacheOperation("set", metrics.CacheError)
		c.logger.Error("Failed to compress recipe for cache", zap.Error(err))
		return
	}

	if err := c.store.Set(ctx, redis.ImportKey(c.prefix, canonicalURL), payload, c.ttl); err != nil {
		c.metrics.RecordCacheOperation("set", metrics.CacheError)
		c.logger.Warn("Import cache write failed",
			zap.String("url", canonicalURL),
			zap.Error(err))
		return
	}
	c.metrics.RecordCacheOperation("set", metrics.CacheOK)
	c.logger.Debug("Cached imported recipe",
		zap.String("url", canonicalURL),
		zap.Int("bytes", len(payload)),
		zap.Int("raw_bytes", len(data)))
}
