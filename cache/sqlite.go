package cache

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-enrichment/types"
	"github.com/saiset-co/sai-enrichment/utils"
)

type SQLiteConfig struct {
	Path        string `yaml:"path" json:"path"`
	Table       string `yaml:"table" json:"table"`
	BusyTimeout int    `yaml:"busy_timeout_ms" json:"busy_timeout_ms"`
}

// SQLiteStore backs the cache with a single relational table keyed by a
// unique cache_key column. Payloads are stored as JSON text, created_at as
// unix nanoseconds.
type SQLiteStore struct {
	ctx      context.Context
	logger   types.Logger
	health   types.HealthManager
	config   *SQLiteConfig
	policies *Policies
	db       *sql.DB
	started  int32
	now      func() time.Time
}

func NewSQLiteStore(ctx context.Context, logger types.Logger, config *types.CacheConfig, policies *Policies, health types.HealthManager) (*SQLiteStore, error) {
	var sqliteConfig = &SQLiteConfig{
		Path:        "./enrichment_cache.db",
		Table:       "enrichment_cache",
		BusyTimeout: 5000,
	}

	if config.Config != nil {
		err := utils.UnmarshalConfig(config.Config, sqliteConfig)
		if err != nil {
			return nil, types.WrapError(err, "failed to unmarshal sqlite cache config")
		}
	}

	dsn := sqliteConfig.Path + "?_busy_timeout=" + strconv.Itoa(sqliteConfig.BusyTimeout)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, types.WrapError(err, "failed to open sqlite database")
	}

	store := &SQLiteStore{
		ctx:      ctx,
		logger:   logger,
		health:   health,
		config:   sqliteConfig,
		policies: policies,
		db:       db,
		now:      time.Now,
	}

	if err := store.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS `+s.config.Table+` (
			cache_key  TEXT PRIMARY KEY,
			payload    TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`)
	return types.WrapError(err, "failed to create cache table")
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (*types.CacheEntry, bool) {
	if key == "" {
		return nil, false
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT payload, created_at FROM `+s.config.Table+` WHERE cache_key = ?`, key)

	var raw string
	var createdAt int64
	if err := row.Scan(&raw, &createdAt); err != nil {
		if !types.IsError(err, sql.ErrNoRows) {
			s.logger.Error("Failed to get cache entry", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}

	entry := s.decode(key, raw, createdAt)
	if entry == nil || s.policies.Expired(entry, s.now()) || !s.policies.ValidPayload(key, entry.Payload) {
		if err := s.Delete(ctx, key); err != nil {
			s.logger.Error("Failed to delete stale cache entry", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}

	return entry, true
}

func (s *SQLiteStore) BatchGet(ctx context.Context, keys []string) map[string]*types.CacheEntry {
	found := make(map[string]*types.CacheEntry, len(keys))
	if len(keys) == 0 {
		return found
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
	args := make([]interface{}, len(keys))
	for i, key := range keys {
		args[i] = key
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT cache_key, payload, created_at FROM `+s.config.Table+
			` WHERE cache_key IN (`+placeholders+`)`, args...)
	if err != nil {
		s.logger.Error("Failed to batch-get cache entries", zap.Int("keys", len(keys)), zap.Error(err))
		return found
	}
	defer rows.Close()

	now := s.now()
	var stale []string

	for rows.Next() {
		var key, raw string
		var createdAt int64
		if err := rows.Scan(&key, &raw, &createdAt); err != nil {
			s.logger.Error("Failed to scan cache row", zap.Error(err))
			continue
		}

		entry := s.decode(key, raw, createdAt)
		if entry == nil || s.policies.Expired(entry, now) || !s.policies.ValidPayload(key, entry.Payload) {
			stale = append(stale, key)
			continue
		}
		found[key] = entry
	}

	if err := rows.Err(); err != nil {
		s.logger.Error("Failed to iterate cache rows", zap.Error(err))
	}

	if len(stale) > 0 {
		go func(keys []string) {
			if _, err := s.DeleteMany(s.ctx, keys); err != nil {
				s.logger.Error("Failed to clean up stale cache entries", zap.Error(err))
			}
		}(stale)
	}

	return found
}

func (s *SQLiteStore) Set(ctx context.Context, key string, payload interface{}) error {
	if key == "" {
		return types.ErrCacheKeyEmpty
	}

	data, err := utils.Marshal(payload)
	if err != nil {
		return types.WrapError(err, "failed to marshal cache payload")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO `+s.config.Table+` (cache_key, payload, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(cache_key) DO UPDATE SET
			payload = excluded.payload,
			created_at = excluded.created_at`,
		key, string(data), s.now().UnixNano())
	if err != nil {
		s.logger.Error("Failed to set cache entry", zap.String("key", key), zap.Error(err))
		return types.WrapError(err, "failed to set cache entry")
	}

	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}

	_, err := s.db.ExecContext(ctx,
		`DELETE FROM `+s.config.Table+` WHERE cache_key = ?`, key)
	if err != nil {
		s.logger.Error("Failed to delete cache key", zap.String("key", key), zap.Error(err))
		return types.WrapError(err, "failed to delete cache key")
	}

	return nil
}

func (s *SQLiteStore) DeleteMany(ctx context.Context, keys []string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
	args := make([]interface{}, len(keys))
	for i, key := range keys {
		args[i] = key
	}

	result, err := s.db.ExecContext(ctx,
		`DELETE FROM `+s.config.Table+` WHERE cache_key IN (`+placeholders+`)`, args...)
	if err != nil {
		s.logger.Error("Failed to delete cache keys", zap.Int("keys", len(keys)), zap.Error(err))
		return 0, types.WrapError(err, "failed to delete cache keys")
	}

	removed, _ := result.RowsAffected()
	return removed, nil
}

func (s *SQLiteStore) DeleteByPattern(ctx context.Context, pattern string) (int64, error) {
	if pattern == "" {
		return 0, types.ErrPatternEmpty
	}

	result, err := s.db.ExecContext(ctx,
		`DELETE FROM `+s.config.Table+` WHERE cache_key LIKE ? ESCAPE '\'`,
		patternToLike(pattern))
	if err != nil {
		s.logger.Error("Failed to delete cache keys by pattern",
			zap.String("pattern", pattern), zap.Error(err))
		return 0, types.WrapError(err, "failed to delete cache keys by pattern")
	}

	removed, _ := result.RowsAffected()
	return removed, nil
}

func (s *SQLiteStore) Start() error {
	if !atomic.CompareAndSwapInt32(&s.started, 0, 1) {
		return types.ErrComponentAlreadyRunning
	}

	if err := s.db.PingContext(s.ctx); err != nil {
		atomic.StoreInt32(&s.started, 0)
		if s.health != nil {
			s.health.SetStatus("cache", types.HealthStatusDown, err.Error())
		}
		return types.WrapError(err, "failed to ping sqlite database")
	}

	if s.health != nil {
		s.health.SetStatus("cache", types.HealthStatusUp, "")
	}

	s.logger.Info("SQLite store started",
		zap.String("path", s.config.Path),
		zap.String("table", s.config.Table))

	return nil
}

func (s *SQLiteStore) Stop() error {
	if !atomic.CompareAndSwapInt32(&s.started, 1, 0) {
		return types.ErrComponentNotRunning
	}

	if err := s.db.Close(); err != nil {
		s.logger.Error("Failed to close sqlite database", zap.Error(err))
		return types.WrapError(err, "failed to close sqlite database")
	}

	if s.health != nil {
		s.health.SetStatus("cache", types.HealthStatusDown, "stopped")
	}

	s.logger.Info("SQLite store stopped gracefully")
	return nil
}

func (s *SQLiteStore) IsRunning() bool {
	return atomic.LoadInt32(&s.started) == 1
}

func (s *SQLiteStore) decode(key, raw string, createdAt int64) *types.CacheEntry {
	var payload interface{}
	if err := utils.Unmarshal([]byte(raw), &payload); err != nil {
		s.logger.Error("Failed to unmarshal cache payload", zap.String("key", key), zap.Error(err))
		return nil
	}

	return &types.CacheEntry{
		Key:       key,
		Payload:   payload,
		CreatedAt: time.Unix(0, createdAt),
	}
}
