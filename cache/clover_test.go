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

func newCloverStoreForTest(t *testing.T) *CloverStore {
	t.Helper()

	log := logger.NewZapWrapper(zap.NewNop())
	policies := NewPolicies(&types.CacheConfig{DefaultTTL: time.Hour}, testEnrichmentConfig())

	store, err := NewCloverStore(log, &types.CacheConfig{}, policies, nil)
	require.NoError(t, err)
	require.NoError(t, store.Start())
	t.Cleanup(func() { _ = store.Stop() })

	return store
}

func TestCloverStoreSetGetReplaces(t *testing.T) {
	store := newCloverStoreForTest(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "images:v2:osm-1", map[string]interface{}{"url": "old"}))
	require.NoError(t, store.Set(ctx, "images:v2:osm-1", map[string]interface{}{"url": "new"}))

	entry, found := store.Get(ctx, "images:v2:osm-1")
	require.True(t, found)
	assert.Equal(t, map[string]interface{}{"url": "new"}, entry.Payload)

	_, found = store.Get(ctx, "images:v2:absent")
	assert.False(t, found)
}

func TestCloverStoreLazyExpiry(t *testing.T) {
	store := newCloverStoreForTest(t)
	ctx := context.Background()

	base := time.Date(2026, time.June, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return base }

	require.NoError(t, store.Set(ctx, "images:v2:osm-1", map[string]interface{}{"url": "u"}))

	store.now = func() time.Time { return base.Add(2161 * time.Hour) }
	_, found := store.Get(ctx, "images:v2:osm-1")
	assert.False(t, found)
}

func TestCloverStoreDeleteByPattern(t *testing.T) {
	store := newCloverStoreForTest(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "images:v1:a", map[string]interface{}{"url": "u"}))
	require.NoError(t, store.Set(ctx, "images:v2:a", map[string]interface{}{"url": "u"}))

	removed, err := store.DeleteByPattern(ctx, "images:v1:*")
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	_, found := store.Get(ctx, "images:v2:a")
	assert.True(t, found)
}
