package enrichment

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/saiset-co/sai-enrichment/cache"
	"github.com/saiset-co/sai-enrichment/config"
	"github.com/saiset-co/sai-enrichment/dedup"
	"github.com/saiset-co/sai-enrichment/logger"
	"github.com/saiset-co/sai-enrichment/metrics"
	"github.com/saiset-co/sai-enrichment/scoring"
	"github.com/saiset-co/sai-enrichment/types"
)

type testRig struct {
	orchestrator *Orchestrator
	store        *cache.MemoryStore
	metrics      *metrics.MemoryMetrics
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	return newTestRigWithLogger(t, logger.NewZapWrapper(zap.NewNop()))
}

func newTestRigWithLogger(t *testing.T, log types.Logger) *testRig {
	t.Helper()

	enrichCfg := config.DefaultEnrichment()

	policies := cache.NewPolicies(&types.CacheConfig{DefaultTTL: time.Hour}, enrichCfg)
	store, err := cache.NewMemoryStore(log, policies, nil)
	require.NoError(t, err)
	require.NoError(t, store.Start())
	t.Cleanup(func() { _ = store.Stop() })

	mm := metrics.NewMemoryMetrics()
	dd := dedup.NewDeduplicator(context.Background(), log)

	o, err := NewOrchestrator(log, mm, store, dd, scoring.NewScorer(nil), enrichCfg)
	require.NoError(t, err)

	return &testRig{orchestrator: o, store: store, metrics: mm}
}

func strongCandidate() types.Candidate {
	return types.Candidate{
		Title:     "City playground with slide 2025",
		SourceURL: "https://parks.springfield.gov/photo.jpg",
		Width:     2000,
		Height:    1500,
		Format:    "jpg",
		Payload:   map[string]interface{}{"url": "https://parks.springfield.gov/photo.jpg"},
	}
}

func middlingCandidate() types.Candidate {
	// wikipedia trust 28, short text 5, relevance 10: lands between the
	// accept and cacheable thresholds
	return types.Candidate{
		Title:     "playground",
		Text:      "swing",
		SourceURL: "https://en.wikipedia.org/wiki/x",
		Payload:   map[string]interface{}{"url": "https://en.wikipedia.org/img.png"},
	}
}

func junkCandidate() types.Candidate {
	return types.Candidate{
		Title:     "Office building",
		SourceURL: "https://random.example.net/x.png",
		Payload:   map[string]interface{}{"url": "https://random.example.net/x.png"},
	}
}

func TestDeriveCacheKey(t *testing.T) {
	cat := &types.CategoryConfig{SchemaVersion: 3}

	key, err := DeriveCacheKey("insights", cat, types.EntityRef{ID: "osm-123"})
	require.NoError(t, err)
	assert.Equal(t, "insights:v3:osm-123", key)

	again, err := DeriveCacheKey("insights", cat, types.EntityRef{ID: "osm-123"})
	require.NoError(t, err)
	assert.Equal(t, key, again)

	coord, err := DeriveCacheKey("images", &types.CategoryConfig{SchemaVersion: 2},
		types.EntityRef{Lat: 52.52001, Lon: 13.40495, HasCoords: true})
	require.NoError(t, err)
	assert.Equal(t, "images:v2:52.5200,13.4050", coord)

	_, err = DeriveCacheKey("insights", cat, types.EntityRef{})
	assert.ErrorIs(t, err, types.ErrEntityRefEmpty)

	_, err = DeriveCacheKey("bad:name", cat, types.EntityRef{ID: "x"})
	assert.ErrorIs(t, err, types.ErrCategoryNameInvalid)
}

func TestFetchWithCacheHitShortCircuits(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	ref := types.EntityRef{ID: "osm-1"}

	var calls int32
	require.NoError(t, rig.orchestrator.RegisterProvider("images", func(ctx context.Context, ref types.EntityRef) ([]types.Candidate, error) {
		atomic.AddInt32(&calls, 1)
		return []types.Candidate{strongCandidate()}, nil
	}))

	require.NoError(t, rig.store.Set(ctx, "images:v2:osm-1", map[string]interface{}{"url": "https://cdn/1.jpg"}))

	result, err := rig.orchestrator.FetchWithCache(ctx, "images", ref)
	require.NoError(t, err)

	assert.True(t, result.FromCache)
	assert.Equal(t, "osm-1", result.EntityID)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
	assert.Equal(t, float64(1), rig.metrics.CounterValue("enrichment_requests_total",
		map[string]string{"category": "images", "result": "hit"}))
}

func TestFetchWithCacheMissFetchesAndPersists(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	ref := types.EntityRef{ID: "osm-2"}

	var calls int32
	require.NoError(t, rig.orchestrator.RegisterProvider("images", func(ctx context.Context, ref types.EntityRef) ([]types.Candidate, error) {
		atomic.AddInt32(&calls, 1)
		return []types.Candidate{strongCandidate()}, nil
	}))

	result, err := rig.orchestrator.FetchWithCache(ctx, "images", ref)
	require.NoError(t, err)
	assert.False(t, result.FromCache)
	assert.Greater(t, result.Score, float64(50))

	// the accepted payload is now served from cache
	second, err := rig.orchestrator.FetchWithCache(ctx, "images", ref)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestFetchRejectDoesNotPoisonCache(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	ref := types.EntityRef{ID: "osm-3"}

	require.NoError(t, rig.orchestrator.RegisterProvider("images", func(ctx context.Context, ref types.EntityRef) ([]types.Candidate, error) {
		return []types.Candidate{junkCandidate()}, nil
	}))

	_, err := rig.orchestrator.FetchWithCache(ctx, "images", ref)
	require.Error(t, err)
	assert.True(t, types.IsError(err, types.ErrLowConfidence))

	_, found := rig.store.Get(ctx, "images:v2:osm-3")
	assert.False(t, found)
	assert.Equal(t, float64(1), rig.metrics.CounterValue("enrichment_requests_total",
		map[string]string{"category": "images", "result": "rejected"}))
}

func TestFetchAcceptedButNotCacheable(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	ref := types.EntityRef{ID: "osm-4"}

	var calls int32
	require.NoError(t, rig.orchestrator.RegisterProvider("images", func(ctx context.Context, ref types.EntityRef) ([]types.Candidate, error) {
		atomic.AddInt32(&calls, 1)
		return []types.Candidate{middlingCandidate()}, nil
	}))

	result, err := rig.orchestrator.FetchWithCache(ctx, "images", ref)
	require.NoError(t, err)
	assert.False(t, result.FromCache)
	assert.GreaterOrEqual(t, result.Score, float64(30))
	assert.Less(t, result.Score, float64(50))

	// nothing persisted, so the next fetch goes upstream again
	_, found := rig.store.Get(ctx, "images:v2:osm-4")
	assert.False(t, found)

	_, err = rig.orchestrator.FetchWithCache(ctx, "images", ref)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestFetchProviderErrors(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	require.NoError(t, rig.orchestrator.RegisterProvider("images", func(ctx context.Context, ref types.EntityRef) ([]types.Candidate, error) {
		return nil, types.Errorf(types.ErrProviderRateLimited, "try later")
	}))
	require.NoError(t, rig.orchestrator.RegisterProvider("insights", func(ctx context.Context, ref types.EntityRef) ([]types.Candidate, error) {
		return nil, fmt.Errorf("connection refused")
	}))

	_, err := rig.orchestrator.FetchWithCache(ctx, "images", types.EntityRef{ID: "a"})
	assert.True(t, types.IsError(err, types.ErrProviderRateLimited))

	_, err = rig.orchestrator.FetchWithCache(ctx, "insights", types.EntityRef{ID: "b"})
	assert.True(t, types.IsError(err, types.ErrProviderFailed))

	_, err = rig.orchestrator.FetchWithCache(ctx, "unknown", types.EntityRef{ID: "c"})
	assert.True(t, types.IsError(err, types.ErrCategoryUnknown))

	_, err = rig.orchestrator.FetchWithCache(ctx, "images", types.EntityRef{ID: "d"})
	assert.True(t, types.IsError(err, types.ErrProviderRateLimited))
}

func TestFetchFiltersLowLocationConfidence(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	weak := strongCandidate()
	weak.LocationConfidence = 0.2

	require.NoError(t, rig.orchestrator.RegisterProvider("images", func(ctx context.Context, ref types.EntityRef) ([]types.Candidate, error) {
		return []types.Candidate{weak}, nil
	}))

	_, err := rig.orchestrator.FetchWithCache(ctx, "images", types.EntityRef{ID: "osm-5"})
	assert.True(t, types.IsError(err, types.ErrLowConfidence))

	// a candidate with no location signal at all is not filtered
	unsignaled := strongCandidate()
	require.NoError(t, rig.orchestrator.RegisterProvider("images", func(ctx context.Context, ref types.EntityRef) ([]types.Candidate, error) {
		return []types.Candidate{unsignaled}, nil
	}))

	result, err := rig.orchestrator.FetchWithCache(ctx, "images", types.EntityRef{ID: "osm-6"})
	require.NoError(t, err)
	assert.False(t, result.FromCache)
}

func TestFetchManyMixedHitsAndMisses(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	var calls int32
	require.NoError(t, rig.orchestrator.RegisterProvider("images", func(ctx context.Context, ref types.EntityRef) ([]types.Candidate, error) {
		atomic.AddInt32(&calls, 1)
		return []types.Candidate{strongCandidate()}, nil
	}))

	refs := make([]types.EntityRef, 0, 5)
	for i := 1; i <= 5; i++ {
		refs = append(refs, types.EntityRef{ID: fmt.Sprintf("osm-%d", i)})
	}
	for i := 1; i <= 3; i++ {
		key := fmt.Sprintf("images:v2:osm-%d", i)
		require.NoError(t, rig.store.Set(ctx, key, map[string]interface{}{"url": "https://cdn/x.jpg"}))
	}

	results, err := rig.orchestrator.FetchManyWithCache(ctx, "images", refs)
	require.NoError(t, err)

	require.Len(t, results, 5)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))

	cached := 0
	for id, r := range results {
		require.NotNil(t, r, id)
		assert.Equal(t, id, r.EntityID)
		if r.FromCache {
			cached++
		}
	}
	assert.Equal(t, 3, cached)
}

func TestFetchManyMapsFailedEntriesToNil(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	require.NoError(t, rig.orchestrator.RegisterProvider("images", func(ctx context.Context, ref types.EntityRef) ([]types.Candidate, error) {
		if ref.ID == "broken" {
			return nil, fmt.Errorf("boom")
		}
		return []types.Candidate{strongCandidate()}, nil
	}))

	results, err := rig.orchestrator.FetchManyWithCache(ctx, "images", []types.EntityRef{
		{ID: "ok"}, {ID: "broken"},
	})
	require.NoError(t, err)

	// every input is represented by entity id; the failure maps to nil
	require.Len(t, results, 2)
	require.Contains(t, results, "ok")
	require.Contains(t, results, "broken")
	require.NotNil(t, results["ok"])
	assert.Equal(t, "images:v2:ok", results["ok"].Key)
	assert.Nil(t, results["broken"])
}

func TestFetchFailureLoggingByClass(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	rig := newTestRigWithLogger(t, logger.NewZapWrapper(zap.New(core)))
	ctx := context.Background()

	require.NoError(t, rig.orchestrator.RegisterProvider("images", func(ctx context.Context, ref types.EntityRef) ([]types.Candidate, error) {
		return nil, types.Errorf(types.ErrProviderRateLimited, "try later")
	}))
	require.NoError(t, rig.orchestrator.RegisterProvider("insights", func(ctx context.Context, ref types.EntityRef) ([]types.Candidate, error) {
		return []types.Candidate{junkCandidate()}, nil
	}))

	_, err := rig.orchestrator.FetchWithCache(ctx, "images", types.EntityRef{ID: "a"})
	require.Error(t, err)
	_, err = rig.orchestrator.FetchWithCache(ctx, "insights", types.EntityRef{ID: "b"})
	require.Error(t, err)

	throttled := logs.FilterMessage("provider rate limited").All()
	require.Len(t, throttled, 1)
	assert.Equal(t, zapcore.WarnLevel, throttled[0].Level)

	rejected := logs.FilterMessage("candidate rejected below accept threshold").All()
	require.Len(t, rejected, 1)
	assert.Equal(t, zapcore.DebugLevel, rejected[0].Level)
}

func TestConcurrentFetchesCollapseToOneCall(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	ref := types.EntityRef{ID: "osm-hot"}

	var calls int32
	require.NoError(t, rig.orchestrator.RegisterProvider("images", func(ctx context.Context, ref types.EntityRef) ([]types.Candidate, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(50 * time.Millisecond)
		return []types.Candidate{strongCandidate()}, nil
	}))

	const waiters = 10
	var wg sync.WaitGroup
	errs := make([]error, waiters)

	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = rig.orchestrator.FetchWithCache(ctx, "images", ref)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestInvalidate(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	require.NoError(t, rig.store.Set(ctx, "images:v2:osm-7", map[string]interface{}{"url": "u"}))
	require.NoError(t, rig.orchestrator.Invalidate(ctx, "images", types.EntityRef{ID: "osm-7"}))

	_, found := rig.store.Get(ctx, "images:v2:osm-7")
	assert.False(t, found)
}

func TestInvalidateCategory(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	require.NoError(t, rig.store.Set(ctx, "images:v2:a", map[string]interface{}{"url": "u"}))
	require.NoError(t, rig.store.Set(ctx, "images:v2:b", map[string]interface{}{"url": "u"}))
	require.NoError(t, rig.store.Set(ctx, "insights:v3:a", map[string]interface{}{"summary": "s"}))

	deleted, err := rig.orchestrator.InvalidateCategory(ctx, "images")
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	_, found := rig.store.Get(ctx, "insights:v3:a")
	assert.True(t, found)
}

func TestSweepStaleVersions(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	// images is at v2, insights at v3: only older versions get swept
	require.NoError(t, rig.store.Set(ctx, "images:v1:a", map[string]interface{}{"url": "u"}))
	require.NoError(t, rig.store.Set(ctx, "images:v2:a", map[string]interface{}{"url": "u"}))
	require.NoError(t, rig.store.Set(ctx, "insights:v1:a", map[string]interface{}{"summary": "s"}))
	require.NoError(t, rig.store.Set(ctx, "insights:v2:a", map[string]interface{}{"summary": "s"}))
	require.NoError(t, rig.store.Set(ctx, "insights:v3:a", map[string]interface{}{"summary": "s"}))

	deleted, err := rig.orchestrator.SweepStaleVersions(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)

	_, found := rig.store.Get(ctx, "images:v2:a")
	assert.True(t, found)
	_, found = rig.store.Get(ctx, "insights:v3:a")
	assert.True(t, found)
}

func TestRegisterProviderUnknownCategory(t *testing.T) {
	rig := newTestRig(t)

	err := rig.orchestrator.RegisterProvider("videos", func(ctx context.Context, ref types.EntityRef) ([]types.Candidate, error) {
		return nil, nil
	})
	assert.True(t, types.IsError(err, types.ErrCategoryUnknown))
}
