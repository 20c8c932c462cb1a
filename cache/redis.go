package cache

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-enrichment/types"
	"github.com/saiset-co/sai-enrichment/utils"
)

type RedisConfig struct {
	Host               string        `yaml:"host" json:"host"`
	Port               int           `yaml:"port" json:"port"`
	Password           string        `yaml:"password" json:"password"`
	DB                 int           `yaml:"db" json:"db"`
	PoolSize           int           `yaml:"pool_size" json:"pool_size"`
	MinIdleConnections int           `yaml:"min_idle_connections" json:"min_idle_connections"`
	DialTimeout        time.Duration `yaml:"dial_timeout" json:"dial_timeout"`
	ReadTimeout        time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout       time.Duration `yaml:"write_timeout" json:"write_timeout"`
	KeyPrefix          string        `yaml:"key_prefix" json:"key_prefix"`
	ScanCount          int64         `yaml:"scan_count" json:"scan_count"`
}

// RedisStore persists entries as JSON values under a prefixed key. The lazy
// expiry check runs against the entry's own created_at; the redis native TTL
// is set as a backstop so orphaned rows do not pile up forever.
type RedisStore struct {
	ctx      context.Context
	logger   types.Logger
	health   types.HealthManager
	config   *RedisConfig
	policies *Policies
	client   *redis.Client
	started  int32
	now      func() time.Time
}

func NewRedisStore(ctx context.Context, logger types.Logger, config *types.CacheConfig, policies *Policies, health types.HealthManager) (*RedisStore, error) {
	var redisConfig = &RedisConfig{
		Host:               "localhost",
		Port:               6379,
		DB:                 0,
		PoolSize:           10,
		MinIdleConnections: 2,
		DialTimeout:        5 * time.Second,
		ReadTimeout:        3 * time.Second,
		WriteTimeout:       3 * time.Second,
		KeyPrefix:          "sai-enrichment",
		ScanCount:          200,
	}

	if config.Config != nil {
		err := utils.UnmarshalConfig(config.Config, redisConfig)
		if err != nil {
			return nil, types.WrapError(err, "failed to unmarshal redis cache config")
		}
	}

	store := &RedisStore{
		ctx:      ctx,
		logger:   logger,
		health:   health,
		config:   redisConfig,
		policies: policies,
		now:      time.Now,
	}

	store.client = redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", redisConfig.Host, redisConfig.Port),
		Password:     redisConfig.Password,
		DB:           redisConfig.DB,
		PoolSize:     redisConfig.PoolSize,
		MinIdleConns: redisConfig.MinIdleConnections,
		DialTimeout:  redisConfig.DialTimeout,
		ReadTimeout:  redisConfig.ReadTimeout,
		WriteTimeout: redisConfig.WriteTimeout,
	})

	if err := store.ping(); err != nil {
		return nil, types.WrapError(err, "failed to connect to redis")
	}

	return store, nil
}

func (r *RedisStore) Get(ctx context.Context, key string) (*types.CacheEntry, bool) {
	if key == "" {
		return nil, false
	}

	result, err := r.client.Get(ctx, r.fullKey(key)).Result()
	if err != nil {
		if !types.IsError(err, redis.Nil) {
			r.logger.Error("Failed to get cache entry", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}

	entry := r.decode(key, result)
	if entry == nil {
		return nil, false
	}

	if r.policies.Expired(entry, r.now()) || !r.policies.ValidPayload(key, entry.Payload) {
		if err := r.Delete(ctx, key); err != nil {
			r.logger.Error("Failed to delete stale cache entry", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}

	return entry, true
}

func (r *RedisStore) BatchGet(ctx context.Context, keys []string) map[string]*types.CacheEntry {
	if len(keys) == 0 {
		return map[string]*types.CacheEntry{}
	}

	fullKeys := make([]string, len(keys))
	for i, key := range keys {
		fullKeys[i] = r.fullKey(key)
	}

	values, err := r.client.MGet(ctx, fullKeys...).Result()
	if err != nil {
		r.logger.Error("Failed to batch-get cache entries", zap.Int("keys", len(keys)), zap.Error(err))
		return map[string]*types.CacheEntry{}
	}

	now := r.now()
	found := make(map[string]*types.CacheEntry, len(keys))
	var stale []string

	for i, value := range values {
		raw, ok := value.(string)
		if !ok {
			continue
		}

		key := keys[i]
		entry := r.decode(key, raw)
		if entry == nil {
			stale = append(stale, key)
			continue
		}
		if r.policies.Expired(entry, now) || !r.policies.ValidPayload(key, entry.Payload) {
			stale = append(stale, key)
			continue
		}
		found[key] = entry
	}

	if len(stale) > 0 {
		// Best-effort async cleanup; the entries are already invisible to
		// callers.
		go func(keys []string) {
			if _, err := r.DeleteMany(r.ctx, keys); err != nil {
				r.logger.Error("Failed to clean up stale cache entries", zap.Error(err))
			}
		}(stale)
	}

	return found
}

func (r *RedisStore) Set(ctx context.Context, key string, payload interface{}) error {
	if key == "" {
		return types.ErrCacheKeyEmpty
	}

	entry := &types.CacheEntry{
		Key:       key,
		Payload:   payload,
		CreatedAt: r.now(),
	}

	data, err := utils.Marshal(entry)
	if err != nil {
		return types.WrapError(err, "failed to marshal cache entry")
	}

	ttl := r.policies.TTLForKey(key)
	if err := r.client.Set(ctx, r.fullKey(key), data, ttl).Err(); err != nil {
		r.logger.Error("Failed to set cache entry", zap.String("key", key), zap.Error(err))
		return types.WrapError(err, "failed to set cache entry")
	}

	return nil
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}

	if err := r.client.Del(ctx, r.fullKey(key)).Err(); err != nil {
		r.logger.Error("Failed to delete cache key", zap.String("key", key), zap.Error(err))
		return types.WrapError(err, "failed to delete cache key")
	}

	return nil
}

func (r *RedisStore) DeleteMany(ctx context.Context, keys []string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}

	fullKeys := make([]string, len(keys))
	for i, key := range keys {
		fullKeys[i] = r.fullKey(key)
	}

	removed, err := r.client.Del(ctx, fullKeys...).Result()
	if err != nil {
		r.logger.Error("Failed to delete cache keys", zap.Int("keys", len(keys)), zap.Error(err))
		return removed, types.WrapError(err, "failed to delete cache keys")
	}

	return removed, nil
}

func (r *RedisStore) DeleteByPattern(ctx context.Context, pattern string) (int64, error) {
	if pattern == "" {
		return 0, types.ErrPatternEmpty
	}

	match := r.fullKey(pattern)
	var removed int64
	var cursor uint64

	for {
		keys, next, err := r.client.Scan(ctx, cursor, match, r.config.ScanCount).Result()
		if err != nil {
			r.logger.Error("Failed to scan cache keys", zap.String("pattern", pattern), zap.Error(err))
			return removed, types.WrapError(err, "failed to scan cache keys")
		}

		if len(keys) > 0 {
			count, err := r.client.Del(ctx, keys...).Result()
			removed += count
			if err != nil {
				return removed, types.WrapError(err, "failed to delete matched cache keys")
			}
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	return removed, nil
}

func (r *RedisStore) Start() error {
	if !atomic.CompareAndSwapInt32(&r.started, 0, 1) {
		return types.ErrComponentAlreadyRunning
	}

	if r.health != nil {
		r.health.SetStatus("cache", types.HealthStatusUp, "")
	}

	r.logger.Info("Redis store started",
		zap.String("addr", fmt.Sprintf("%s:%d", r.config.Host, r.config.Port)),
		zap.String("key_prefix", r.config.KeyPrefix))

	return nil
}

func (r *RedisStore) Stop() error {
	if !atomic.CompareAndSwapInt32(&r.started, 1, 0) {
		return types.ErrComponentNotRunning
	}

	if err := r.client.Close(); err != nil {
		r.logger.Error("Failed to close redis client", zap.Error(err))
		return types.WrapError(err, "failed to close redis client")
	}

	if r.health != nil {
		r.health.SetStatus("cache", types.HealthStatusDown, "stopped")
	}

	r.logger.Info("Redis store stopped gracefully")
	return nil
}

func (r *RedisStore) IsRunning() bool {
	return atomic.LoadInt32(&r.started) == 1
}

func (r *RedisStore) ping() error {
	ctx, cancel := context.WithTimeout(r.ctx, 5*time.Second)
	defer cancel()

	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) fullKey(key string) string {
	if r.config.KeyPrefix != "" {
		return r.config.KeyPrefix + ":" + key
	}
	return key
}

func (r *RedisStore) decode(key, raw string) *types.CacheEntry {
	var entry types.CacheEntry
	if err := utils.Unmarshal([]byte(raw), &entry); err != nil {
		r.logger.Error("Failed to unmarshal cache entry", zap.String("key", key), zap.Error(err))
		return nil
	}

	if entry.Key == "" {
		entry.Key = key
	} else if entry.Key != key && !strings.HasSuffix(key, entry.Key) {
		r.logger.Warn("Cache entry key mismatch", zap.String("key", key), zap.String("stored", entry.Key))
	}

	return &entry
}
