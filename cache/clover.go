package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ostafen/clover"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-enrichment/types"
	"github.com/saiset-co/sai-enrichment/utils"
)

type CloverConfig struct {
	Path       string `yaml:"path" json:"path"`
	Collection string `yaml:"collection" json:"collection"`
}

// CloverStore keeps entries in a clover document collection, one document per
// cache key. An empty path opens an in-memory database, which the tests use.
type CloverStore struct {
	logger   types.Logger
	health   types.HealthManager
	config   *CloverConfig
	policies *Policies
	db       *clover.DB
	mu       sync.Mutex
	started  int32
	now      func() time.Time
}

func NewCloverStore(logger types.Logger, config *types.CacheConfig, policies *Policies, health types.HealthManager) (*CloverStore, error) {
	var cloverConfig = &CloverConfig{
		Path:       "",
		Collection: "enrichment_cache",
	}

	if config.Config != nil {
		err := utils.UnmarshalConfig(config.Config, cloverConfig)
		if err != nil {
			return nil, types.WrapError(err, "failed to unmarshal clover cache config")
		}
	}

	var db *clover.DB
	var err error
	if cloverConfig.Path == "" {
		db, err = clover.Open("", clover.InMemoryMode(true))
	} else {
		db, err = clover.Open(cloverConfig.Path)
	}
	if err != nil {
		return nil, types.WrapError(err, "failed to open clover database")
	}

	exists, err := db.HasCollection(cloverConfig.Collection)
	if err != nil {
		db.Close()
		return nil, types.WrapError(err, "failed to check cache collection")
	}
	if !exists {
		if err := db.CreateCollection(cloverConfig.Collection); err != nil {
			db.Close()
			return nil, types.WrapError(err, "failed to create cache collection")
		}
	}

	return &CloverStore{
		logger:   logger,
		health:   health,
		config:   cloverConfig,
		policies: policies,
		db:       db,
		now:      time.Now,
	}, nil
}

func (c *CloverStore) Get(ctx context.Context, key string) (*types.CacheEntry, bool) {
	if key == "" {
		return nil, false
	}

	docs, err := c.db.Query(c.config.Collection).
		Where(clover.Field("cache_key").Eq(key)).
		Limit(1).
		FindAll()
	if err != nil {
		c.logger.Error("Failed to get cache entry", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	if len(docs) == 0 {
		return nil, false
	}

	entry := c.decode(key, docs[0])
	if entry == nil || c.policies.Expired(entry, c.now()) || !c.policies.ValidPayload(key, entry.Payload) {
		if err := c.Delete(ctx, key); err != nil {
			c.logger.Error("Failed to delete stale cache entry", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}

	return entry, true
}

func (c *CloverStore) BatchGet(ctx context.Context, keys []string) map[string]*types.CacheEntry {
	found := make(map[string]*types.CacheEntry, len(keys))
	if len(keys) == 0 {
		return found
	}

	values := make([]interface{}, len(keys))
	for i, key := range keys {
		values[i] = key
	}

	docs, err := c.db.Query(c.config.Collection).
		Where(clover.Field("cache_key").In(values...)).
		FindAll()
	if err != nil {
		c.logger.Error("Failed to batch-get cache entries", zap.Int("keys", len(keys)), zap.Error(err))
		return found
	}

	now := c.now()
	var stale []string

	for _, doc := range docs {
		key, _ := doc.Get("cache_key").(string)
		if key == "" {
			continue
		}

		entry := c.decode(key, doc)
		if entry == nil || c.policies.Expired(entry, now) || !c.policies.ValidPayload(key, entry.Payload) {
			stale = append(stale, key)
			continue
		}
		found[key] = entry
	}

	if len(stale) > 0 {
		if _, err := c.DeleteMany(ctx, stale); err != nil {
			c.logger.Error("Failed to clean up stale cache entries", zap.Error(err))
		}
	}

	return found
}

func (c *CloverStore) Set(ctx context.Context, key string, payload interface{}) error {
	if key == "" {
		return types.ErrCacheKeyEmpty
	}

	data, err := utils.Marshal(payload)
	if err != nil {
		return types.WrapError(err, "failed to marshal cache payload")
	}

	doc := clover.NewDocument()
	doc.Set("cache_key", key)
	doc.Set("payload", string(data))
	doc.Set("created_at", c.now().UnixNano())

	// Clover has no native upsert; delete-then-insert under a local lock
	// keeps the unique-key invariant.
	c.mu.Lock()
	defer c.mu.Unlock()

	err = c.db.Query(c.config.Collection).
		Where(clover.Field("cache_key").Eq(key)).
		Delete()
	if err != nil {
		c.logger.Error("Failed to replace cache entry", zap.String("key", key), zap.Error(err))
		return types.WrapError(err, "failed to replace cache entry")
	}

	if err := c.db.Insert(c.config.Collection, doc); err != nil {
		c.logger.Error("Failed to set cache entry", zap.String("key", key), zap.Error(err))
		return types.WrapError(err, "failed to set cache entry")
	}

	return nil
}

func (c *CloverStore) Delete(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}

	err := c.db.Query(c.config.Collection).
		Where(clover.Field("cache_key").Eq(key)).
		Delete()
	if err != nil {
		c.logger.Error("Failed to delete cache key", zap.String("key", key), zap.Error(err))
		return types.WrapError(err, "failed to delete cache key")
	}

	return nil
}

func (c *CloverStore) DeleteMany(ctx context.Context, keys []string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}

	values := make([]interface{}, len(keys))
	for i, key := range keys {
		values[i] = key
	}

	query := c.db.Query(c.config.Collection).
		Where(clover.Field("cache_key").In(values...))

	count, err := query.Count()
	if err != nil {
		return 0, types.WrapError(err, "failed to count matching cache keys")
	}

	if err := query.Delete(); err != nil {
		c.logger.Error("Failed to delete cache keys", zap.Int("keys", len(keys)), zap.Error(err))
		return 0, types.WrapError(err, "failed to delete cache keys")
	}

	return int64(count), nil
}

func (c *CloverStore) DeleteByPattern(ctx context.Context, pattern string) (int64, error) {
	if pattern == "" {
		return 0, types.ErrPatternEmpty
	}

	re, err := patternToRegexp(pattern)
	if err != nil {
		return 0, types.WrapError(err, "invalid cache pattern")
	}

	query := c.db.Query(c.config.Collection).
		Where(clover.Field("cache_key").Like(re.String()))

	count, err := query.Count()
	if err != nil {
		return 0, types.WrapError(err, "failed to count matching cache keys")
	}

	if err := query.Delete(); err != nil {
		c.logger.Error("Failed to delete cache keys by pattern",
			zap.String("pattern", pattern), zap.Error(err))
		return 0, types.WrapError(err, "failed to delete cache keys by pattern")
	}

	return int64(count), nil
}

func (c *CloverStore) Start() error {
	if !atomic.CompareAndSwapInt32(&c.started, 0, 1) {
		return types.ErrComponentAlreadyRunning
	}

	if c.health != nil {
		c.health.SetStatus("cache", types.HealthStatusUp, "")
	}

	c.logger.Info("Clover store started",
		zap.String("path", c.config.Path),
		zap.String("collection", c.config.Collection))

	return nil
}

func (c *CloverStore) Stop() error {
	if !atomic.CompareAndSwapInt32(&c.started, 1, 0) {
		return types.ErrComponentNotRunning
	}

	if err := c.db.Close(); err != nil {
		c.logger.Error("Failed to close clover database", zap.Error(err))
		return types.WrapError(err, "failed to close clover database")
	}

	if c.health != nil {
		c.health.SetStatus("cache", types.HealthStatusDown, "stopped")
	}

	c.logger.Info("Clover store stopped gracefully")
	return nil
}

func (c *CloverStore) IsRunning() bool {
	return atomic.LoadInt32(&c.started) == 1
}

func (c *CloverStore) decode(key string, doc *clover.Document) *types.CacheEntry {
	raw, _ := doc.Get("payload").(string)
	if raw == "" {
		return nil
	}

	var payload interface{}
	if err := utils.Unmarshal([]byte(raw), &payload); err != nil {
		c.logger.Error("Failed to unmarshal cache payload", zap.String("key", key), zap.Error(err))
		return nil
	}

	createdAt, ok := doc.Get("created_at").(int64)
	if !ok {
		if f, okf := doc.Get("created_at").(float64); okf {
			createdAt = int64(f)
		}
	}

	return &types.CacheEntry{
		Key:       key,
		Payload:   payload,
		CreatedAt: time.Unix(0, createdAt),
	}
}
