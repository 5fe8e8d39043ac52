// Package cache implements the analytics cache: a key/value store with
// per-entry TTL, prefix invalidation, and a coalescing read-through loader.
//
// Two stores are provided: MemoryStore for single-process deployments and
// tests, and RedisStore for deployments where API and warming replicas
// share one cache. Both treat an expired entry exactly like a miss.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/ignite/outreach-analytics/internal/domain"
)

// ErrMiss is returned by Store.Get when the key is absent or expired.
var ErrMiss = errors.New("cache miss")

// Entry is a cached computation result. Value holds the JSON encoding of
// the computed data so every store can persist it the same way.
type Entry struct {
	Key        string          `json:"key"`
	Domain     domain.Domain   `json:"domain"`
	Value      json.RawMessage `json:"value"`
	ComputedAt time.Time       `json:"computedAt"`
	ExpiresAt  time.Time       `json:"expiresAt"`
}

// Expired reports whether the entry is no longer servable at now.
func (e *Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.After(now)
}

// Store is the cache contract. Implementations must be safe for concurrent
// use; a Set always fully replaces the previous value (last write wins).
type Store interface {
	// Get returns the live entry for key, or ErrMiss.
	Get(ctx context.Context, key string) (*Entry, error)

	// Set stores e under e.Key for ttl. A non-positive ttl stores nothing.
	Set(ctx context.Context, e Entry, ttl time.Duration) error

	// Invalidate removes every key starting with keyOrPrefix and returns
	// how many were removed. A full key is its own prefix.
	Invalidate(ctx context.Context, keyOrPrefix string) (int, error)

	// Ping reports whether the backing store is reachable.
	Ping(ctx context.Context) error
}
