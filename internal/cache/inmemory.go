package cache

import (
	"context"
	"strings"
	"time"

	"github.com/commercebridge/taxcore/internal/config"
	goCache "github.com/patrickmn/go-cache"
)

// DefaultExpiration is the default expiration time for cache entries
const DefaultExpiration = 30 * time.Minute

// DefaultCleanupInterval is how often expired items are removed from the cache
const DefaultCleanupInterval = 1 * time.Hour

// InMemoryCache implements the Cache interface using github.com/patrickmn/go-cache
type InMemoryCache struct {
	cache *goCache.Cache
	cfg   *config.Configuration
}

// NewInMemoryCache creates a new InMemoryCache instance
func NewInMemoryCache(cfg *config.Configuration) Cache {
	expiration := DefaultExpiration
	if cfg.Cache.ExpirationMinutes > 0 {
		expiration = time.Duration(cfg.Cache.ExpirationMinutes) * time.Minute
	}

	cleanup := DefaultCleanupInterval
	if cfg.Cache.CleanupIntervalHours > 0 {
		cleanup = time.Duration(cfg.Cache.CleanupIntervalHours) * time.Hour
	}

	return &InMemoryCache{
		cache: goCache.New(expiration, cleanup),
		cfg:   cfg,
	}
}

// Get retrieves a value from the cache
func (c *InMemoryCache) Get(_ context.Context, key string) (interface{}, bool) {
	if !c.cfg.Cache.Enabled {
		return nil, false
	}
	return c.cache.Get(key)
}

// Set adds a value to the cache with the specified expiration
func (c *InMemoryCache) Set(_ context.Context, key string, value interface{}, expiration time.Duration) {
	if !c.cfg.Cache.Enabled {
		return
	}
	c.cache.Set(key, value, expiration)
}

// Delete removes a value from the cache
func (c *InMemoryCache) Delete(_ context.Context, key string) {
	c.cache.Delete(key)
}

// DeleteByPrefix removes all values whose key starts with the given prefix.
// Used by the rule write path to drop stale tenant snapshots.
func (c *InMemoryCache) DeleteByPrefix(_ context.Context, prefix string) {
	for key := range c.cache.Items() {
		if strings.HasPrefix(key, prefix) {
			c.cache.Delete(key)
		}
	}
}
