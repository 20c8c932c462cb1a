package cache

import (
	"context"
	"time"

	"github.com/saiset-co/sai-enrichment/types"
)

var customStoreCreators = make(map[string]types.CacheStoreCreator)

func RegisterCacheStore(storeType string, creator types.CacheStoreCreator) {
	customStoreCreators[storeType] = creator
}

func NewCacheStore(ctx context.Context, logger types.Logger, metrics types.MetricsManager, health types.HealthManager, cacheConfig *types.CacheConfig, enrichment *types.EnrichmentConfig) (types.CacheStore, error) {
	if cacheConfig == nil || !cacheConfig.Enabled {
		return nil, types.ErrStoreIsDisabled
	}

	policies := NewPolicies(cacheConfig, enrichment)

	var impl types.CacheStore
	var err error

	switch cacheConfig.Type {
	case "memory":
		impl, err = NewMemoryStore(logger, policies, health)
	case "redis":
		impl, err = NewRedisStore(ctx, logger, cacheConfig, policies, health)
	case "sqlite":
		impl, err = NewSQLiteStore(ctx, logger, cacheConfig, policies, health)
	case "clover":
		impl, err = NewCloverStore(logger, cacheConfig, policies, health)
	default:
		if creator, exists := customStoreCreators[cacheConfig.Type]; exists {
			impl, err = creator(cacheConfig)
		} else {
			return nil, types.Errorf(types.ErrStoreTypeUnknown, "type: %s", cacheConfig.Type)
		}
	}

	if err != nil {
		return nil, err
	}

	if metrics == nil {
		return impl, nil
	}

	return newInstrumentedStore(metrics, impl), nil
}

type instrumentedStore struct {
	impl    types.CacheStore
	metrics types.MetricsManager
}

func newInstrumentedStore(metrics types.MetricsManager, impl types.CacheStore) types.CacheStore {
	return &instrumentedStore{
		impl:    impl,
		metrics: metrics,
	}
}

func (is *instrumentedStore) Get(ctx context.Context, key string) (*types.CacheEntry, bool) {
	start := time.Now()
	entry, exists := is.impl.Get(ctx, key)

	result := "miss"
	if exists {
		result = "hit"
	}
	is.recordMetric("get", result, time.Since(start))

	return entry, exists
}

func (is *instrumentedStore) BatchGet(ctx context.Context, keys []string) map[string]*types.CacheEntry {
	start := time.Now()
	entries := is.impl.BatchGet(ctx, keys)
	duration := time.Since(start)

	is.recordMetric("batch_get", "hit", duration)
	is.Counter("cache_batch_entries_total", map[string]string{"result": "hit"}).Add(float64(len(entries)))
	is.Counter("cache_batch_entries_total", map[string]string{"result": "miss"}).Add(float64(len(keys) - len(entries)))

	return entries
}

func (is *instrumentedStore) Set(ctx context.Context, key string, payload interface{}) error {
	start := time.Now()
	err := is.impl.Set(ctx, key, payload)
	is.recordMetric("set", resultOf(err), time.Since(start))
	return err
}

func (is *instrumentedStore) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := is.impl.Delete(ctx, key)
	is.recordMetric("delete", resultOf(err), time.Since(start))
	return err
}

func (is *instrumentedStore) DeleteMany(ctx context.Context, keys []string) (int64, error) {
	start := time.Now()
	count, err := is.impl.DeleteMany(ctx, keys)
	is.recordMetric("delete_many", resultOf(err), time.Since(start))
	return count, err
}

func (is *instrumentedStore) DeleteByPattern(ctx context.Context, pattern string) (int64, error) {
	start := time.Now()
	count, err := is.impl.DeleteByPattern(ctx, pattern)
	is.recordMetric("delete_by_pattern", resultOf(err), time.Since(start))
	return count, err
}

func (is *instrumentedStore) Start() error {
	return is.impl.Start()
}

func (is *instrumentedStore) Stop() error {
	return is.impl.Stop()
}

func (is *instrumentedStore) IsRunning() bool {
	return is.impl.IsRunning()
}

func (is *instrumentedStore) Counter(name string, labels map[string]string) types.Counter {
	return is.metrics.Counter(name, labels)
}

func (is *instrumentedStore) recordMetric(operation, result string, duration time.Duration) {
	is.metrics.Counter("cache_operations_total", map[string]string{
		"operation": operation,
		"result":    result,
	}).Inc()

	is.metrics.Histogram("cache_operation_duration_seconds",
		[]float64{0.0001, 0.001, 0.01, 0.1, 1.0},
		map[string]string{"operation": operation},
	).Observe(duration.Seconds())
}

func resultOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
