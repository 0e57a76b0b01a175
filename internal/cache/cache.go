package cache

import (
	"context"
	"strings"
	"time"
)

// Cache is a simple expiring key-value store used to memoize per-tenant
// tax rule snapshots between writes.
type Cache interface {
	Get(ctx context.Context, key string) (interface{}, bool)
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration)
	Delete(ctx context.Context, key string)
	DeleteByPrefix(ctx context.Context, prefix string)
}

// Key builds a cache key from parts, e.g. Key("taxrule", tenantID)
func Key(parts ...string) string {
	return strings.Join(parts, ":")
}

const (
	// PrefixTaxRule namespaces the per-tenant rule snapshot entries
	PrefixTaxRule = "taxrule"
)
