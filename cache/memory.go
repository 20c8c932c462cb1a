package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-enrichment/types"
)

type MemoryState int32

const (
	MemoryStateStopped MemoryState = iota
	MemoryStateStarting
	MemoryStateRunning
	MemoryStateStopping
)

// MemoryStore keeps entries in a plain map. Expiry is lazy: entries are only
// removed when a read finds them stale or invalid, or on explicit deletes.
type MemoryStore struct {
	logger   types.Logger
	policies *Policies
	health   types.HealthManager
	data     map[string]*types.CacheEntry
	hits     uint64
	misses   uint64
	mu       sync.RWMutex
	state    atomic.Value
	now      func() time.Time
}

func NewMemoryStore(logger types.Logger, policies *Policies, health types.HealthManager) (*MemoryStore, error) {
	store := &MemoryStore{
		logger:   logger,
		policies: policies,
		health:   health,
		data:     make(map[string]*types.CacheEntry),
		now:      time.Now,
	}

	store.state.Store(MemoryStateStopped)

	return store, nil
}

func (m *MemoryStore) Get(ctx context.Context, key string) (*types.CacheEntry, bool) {
	if key == "" {
		return nil, false
	}

	now := m.now()

	m.mu.RLock()
	entry, exists := m.data[key]
	m.mu.RUnlock()

	if !exists {
		atomic.AddUint64(&m.misses, 1)
		return nil, false
	}

	if m.policies.Expired(entry, now) || !m.policies.ValidPayload(key, entry.Payload) {
		m.mu.Lock()
		if current, ok := m.data[key]; ok && current == entry {
			delete(m.data, key)
		}
		m.mu.Unlock()

		atomic.AddUint64(&m.misses, 1)
		return nil, false
	}

	atomic.AddUint64(&m.hits, 1)
	return entry, true
}

func (m *MemoryStore) BatchGet(ctx context.Context, keys []string) map[string]*types.CacheEntry {
	now := m.now()
	found := make(map[string]*types.CacheEntry, len(keys))
	var stale []string

	m.mu.RLock()
	for _, key := range keys {
		entry, exists := m.data[key]
		if !exists {
			continue
		}
		if m.policies.Expired(entry, now) || !m.policies.ValidPayload(key, entry.Payload) {
			stale = append(stale, key)
			continue
		}
		found[key] = entry
	}
	m.mu.RUnlock()

	if len(stale) > 0 {
		m.mu.Lock()
		for _, key := range stale {
			delete(m.data, key)
		}
		m.mu.Unlock()
	}

	atomic.AddUint64(&m.hits, uint64(len(found)))
	atomic.AddUint64(&m.misses, uint64(len(keys)-len(found)))

	return found
}

func (m *MemoryStore) Set(ctx context.Context, key string, payload interface{}) error {
	if key == "" {
		m.logger.Error("Attempted to set cache entry with empty key")
		return types.ErrCacheKeyEmpty
	}

	entry := &types.CacheEntry{
		Key:       key,
		Payload:   payload,
		CreatedAt: m.now(),
	}

	m.mu.Lock()
	m.data[key] = entry
	m.mu.Unlock()

	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) DeleteMany(ctx context.Context, keys []string) (int64, error) {
	var removed int64

	m.mu.Lock()
	for _, key := range keys {
		if _, exists := m.data[key]; exists {
			delete(m.data, key)
			removed++
		}
	}
	m.mu.Unlock()

	return removed, nil
}

func (m *MemoryStore) DeleteByPattern(ctx context.Context, pattern string) (int64, error) {
	if pattern == "" {
		return 0, types.ErrPatternEmpty
	}

	re, err := patternToRegexp(pattern)
	if err != nil {
		return 0, types.WrapError(err, "invalid cache pattern")
	}

	var removed int64

	m.mu.Lock()
	for key := range m.data {
		if re.MatchString(key) {
			delete(m.data, key)
			removed++
		}
	}
	m.mu.Unlock()

	return removed, nil
}

func (m *MemoryStore) Start() error {
	if !m.transitionState(MemoryStateStopped, MemoryStateStarting) {
		m.logger.Warn("Memory store is already running")
		return types.ErrComponentAlreadyRunning
	}

	defer func() {
		if m.getState() == MemoryStateStarting {
			m.setState(MemoryStateRunning)
		}
	}()

	if m.health != nil {
		m.health.SetStatus("cache", types.HealthStatusUp, "")
	}

	m.logger.Info("Memory store started")
	return nil
}

func (m *MemoryStore) Stop() error {
	if !m.transitionState(MemoryStateRunning, MemoryStateStopping) {
		m.logger.Warn("Memory store is not running")
		return types.ErrComponentNotRunning
	}

	defer func() {
		m.setState(MemoryStateStopped)
	}()

	m.mu.Lock()
	entriesCount := len(m.data)
	m.data = make(map[string]*types.CacheEntry)
	m.mu.Unlock()

	if m.health != nil {
		m.health.SetStatus("cache", types.HealthStatusDown, "stopped")
	}

	m.logger.Info("Memory store stopped",
		zap.Int("cleared_entries", entriesCount),
		zap.Uint64("hits", atomic.LoadUint64(&m.hits)),
		zap.Uint64("misses", atomic.LoadUint64(&m.misses)))

	return nil
}

func (m *MemoryStore) IsRunning() bool {
	return m.getState() == MemoryStateRunning
}

func (m *MemoryStore) getState() MemoryState {
	return m.state.Load().(MemoryState)
}

func (m *MemoryStore) setState(newState MemoryState) bool {
	currentState := m.getState()
	return m.state.CompareAndSwap(currentState, newState)
}

func (m *MemoryStore) transitionState(from, to MemoryState) bool {
	return m.state.CompareAndSwap(from, to)
}
