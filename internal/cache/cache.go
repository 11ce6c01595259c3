// Package cache defines the uniform KV-cache interface that
// internal/cache/memory and internal/cache/rediskv implement, and that
// every cache-dependent component (session, subscription, tierconfig,
// usage) depends on instead of a concrete backend.
package cache

import (
	"context"
	"time"
)

// KV is a byte-oriented key/value store with per-entry TTL, plus the list
// primitives the usage-retry queue needs.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error

	// Expire resets a key's TTL without touching its value, used to keep a
	// session alive on access.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// RPush appends val to the list at key, creating it if absent.
	RPush(ctx context.Context, key string, val []byte) error
	// LPop removes and returns the first element of the list at key.
	LPop(ctx context.Context, key string) ([]byte, bool, error)
	// LLen returns the number of elements in the list at key.
	LLen(ctx context.Context, key string) (int64, error)
}
