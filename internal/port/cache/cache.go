// Package cache defines the port the user service uses to cache CRM
// contact lookups between requests.
package cache

import (
	"context"
	"time"
)

// Cache stores marshaled CRM responses by key with a per-entry TTL.
// Get returns found=false both for missing and for expired entries.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
