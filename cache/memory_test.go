package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-enrichment/logger"
	"github.com/saiset-co/sai-enrichment/types"
)

func newMemoryStoreForTest(t *testing.T) *MemoryStore {
	t.Helper()

	log := logger.NewZapWrapper(zap.NewNop())
	policies := NewPolicies(&types.CacheConfig{DefaultTTL: time.Hour}, testEnrichmentConfig())

	store, err := NewMemoryStore(log, policies, nil)
	require.NoError(t, err)
	require.NoError(t, store.Start())
	t.Cleanup(func() { _ = store.Stop() })

	return store
}

func TestMemoryStoreSetGet(t *testing.T) {
	store := newMemoryStoreForTest(t)
	ctx := context.Background()

	payload := map[string]interface{}{"url": "https://cdn/1.jpg"}
	require.NoError(t, store.Set(ctx, "images:v2:osm-1", payload))

	entry, found := store.Get(ctx, "images:v2:osm-1")
	require.True(t, found)
	assert.Equal(t, "images:v2:osm-1", entry.Key)
	assert.Equal(t, payload, entry.Payload)

	_, found = store.Get(ctx, "images:v2:absent")
	assert.False(t, found)

	assert.ErrorIs(t, store.Set(ctx, "", payload), types.ErrCacheKeyEmpty)
}

func TestMemoryStoreLazyExpiry(t *testing.T) {
	store := newMemoryStoreForTest(t)
	ctx := context.Background()

	base := time.Date(2026, time.June, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return base }

	require.NoError(t, store.Set(ctx, "images:v2:osm-1", map[string]interface{}{"url": "u"}))

	// still fresh just inside the 2160h image TTL
	store.now = func() time.Time { return base.Add(2159 * time.Hour) }
	_, found := store.Get(ctx, "images:v2:osm-1")
	assert.True(t, found)

	// stale one hour past it, and the read removes the entry
	store.now = func() time.Time { return base.Add(2161 * time.Hour) }
	_, found = store.Get(ctx, "images:v2:osm-1")
	assert.False(t, found)

	store.mu.RLock()
	_, stillThere := store.data["images:v2:osm-1"]
	store.mu.RUnlock()
	assert.False(t, stillThere)
}

func TestMemoryStoreInvalidPayloadTreatedAsMiss(t *testing.T) {
	store := newMemoryStoreForTest(t)
	ctx := context.Background()

	// missing the required "url" field for the images category
	require.NoError(t, store.Set(ctx, "images:v2:osm-1", map[string]interface{}{"title": "x"}))

	_, found := store.Get(ctx, "images:v2:osm-1")
	assert.False(t, found)
}

func TestMemoryStoreBatchGet(t *testing.T) {
	store := newMemoryStoreForTest(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "images:v2:a", map[string]interface{}{"url": "u"}))
	require.NoError(t, store.Set(ctx, "images:v2:b", map[string]interface{}{"url": "u"}))

	found := store.BatchGet(ctx, []string{"images:v2:a", "images:v2:b", "images:v2:c"})
	assert.Len(t, found, 2)
	assert.Contains(t, found, "images:v2:a")
	assert.NotContains(t, found, "images:v2:c")
}

func TestMemoryStoreDeleteMany(t *testing.T) {
	store := newMemoryStoreForTest(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "images:v2:a", map[string]interface{}{"url": "u"}))
	require.NoError(t, store.Set(ctx, "images:v2:b", map[string]interface{}{"url": "u"}))

	removed, err := store.DeleteMany(ctx, []string{"images:v2:a", "images:v2:b", "images:v2:c"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)
}

func TestMemoryStoreDeleteByPattern(t *testing.T) {
	store := newMemoryStoreForTest(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "images:v1:a", map[string]interface{}{"url": "u"}))
	require.NoError(t, store.Set(ctx, "images:v1:b", map[string]interface{}{"url": "u"}))
	require.NoError(t, store.Set(ctx, "images:v2:a", map[string]interface{}{"url": "u"}))

	removed, err := store.DeleteByPattern(ctx, "images:v1:*")
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	_, found := store.Get(ctx, "images:v2:a")
	assert.True(t, found)

	_, err = store.DeleteByPattern(ctx, "")
	assert.ErrorIs(t, err, types.ErrPatternEmpty)
}

func TestMemoryStoreLifecycle(t *testing.T) {
	log := logger.NewZapWrapper(zap.NewNop())
	policies := NewPolicies(&types.CacheConfig{DefaultTTL: time.Hour}, testEnrichmentConfig())

	store, err := NewMemoryStore(log, policies, nil)
	require.NoError(t, err)

	assert.False(t, store.IsRunning())
	require.NoError(t, store.Start())
	assert.True(t, store.IsRunning())
	assert.ErrorIs(t, store.Start(), types.ErrComponentAlreadyRunning)

	require.NoError(t, store.Stop())
	assert.False(t, store.IsRunning())
	assert.ErrorIs(t, store.Stop(), types.ErrComponentNotRunning)
}
