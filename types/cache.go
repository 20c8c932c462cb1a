package types

import (
	"context"
	"time"
)

// CacheStore is the versioned, TTL-bound persistence layer for accepted
// enrichment results. All operations fail closed: a backend error degrades to
// a miss (reads) or a no-op (writes/deletes) and is logged by the
// implementation, never propagated as a failure of the enclosing enrichment
// call.
//
// TTL and payload validity are category policies applied lazily at read time:
// an entry whose age exceeds its category TTL, or whose payload is missing a
// required field, is deleted during the read and reported as absent. There is
// no background expiry sweep; version bumps orphan old rows until the cron
// sweep removes them.
type CacheStore interface {
	LifecycleManager
	Get(ctx context.Context, key string) (*CacheEntry, bool)
	BatchGet(ctx context.Context, keys []string) map[string]*CacheEntry
	Set(ctx context.Context, key string, payload interface{}) error
	Delete(ctx context.Context, key string) error
	DeleteMany(ctx context.Context, keys []string) (int64, error)
	// DeleteByPattern removes every entry whose key matches pattern, where
	// '*' matches any run of characters. Used to clear an entity or a whole
	// category regardless of schema version drift.
	DeleteByPattern(ctx context.Context, pattern string) (int64, error)
}

type CacheStoreCreator func(config *CacheConfig) (CacheStore, error)

// CacheEntry is immutable once written; Set replaces it wholesale on key
// conflict (last-write-wins).
type CacheEntry struct {
	Key       string      `json:"key"`
	Payload   interface{} `json:"payload"`
	CreatedAt time.Time   `json:"created_at"`
}
