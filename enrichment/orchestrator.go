package enrichment

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saiset-co/sai-enrichment/dedup"
	"github.com/saiset-co/sai-enrichment/scoring"
	"github.com/saiset-co/sai-enrichment/types"
)

// Orchestrator is the enrichment read path: cache lookup, deduplicated
// upstream fetch, scoring, acceptance gating and optional write-back. One
// orchestrator serves all configured categories.
type Orchestrator struct {
	logger  types.Logger
	metrics types.MetricsManager
	store   types.CacheStore
	dedup   *dedup.Deduplicator
	scorer  *scoring.Scorer
	config  *types.EnrichmentConfig

	providersMu sync.RWMutex
	providers   map[string]types.ProviderFunc

	now func() time.Time
}

func NewOrchestrator(
	logger types.Logger,
	metrics types.MetricsManager,
	store types.CacheStore,
	deduplicator *dedup.Deduplicator,
	scorer *scoring.Scorer,
	config *types.EnrichmentConfig,
) (*Orchestrator, error) {
	if config == nil {
		return nil, types.ErrConfigIsNil
	}
	for name := range config.Categories {
		if err := types.ValidateCategoryName(name); err != nil {
			return nil, err
		}
	}

	return &Orchestrator{
		logger:    logger,
		metrics:   metrics,
		store:     store,
		dedup:     deduplicator,
		scorer:    scorer,
		config:    config,
		providers: make(map[string]types.ProviderFunc),
		now:       time.Now,
	}, nil
}

// RegisterProvider attaches the upstream fetch function for one category.
// The category must be configured.
func (o *Orchestrator) RegisterProvider(category string, fn types.ProviderFunc) error {
	if fn == nil {
		return types.Errorf(types.ErrProviderMissing, "nil provider for category: %s", category)
	}
	if _, ok := o.config.Categories[category]; !ok {
		return types.Errorf(types.ErrCategoryUnknown, "category: %s", category)
	}

	o.providersMu.Lock()
	defer o.providersMu.Unlock()
	o.providers[category] = fn

	return nil
}

// FetchWithCache resolves one entity in one category: a fresh valid cache
// entry is returned as-is, otherwise the upstream provider is consulted
// behind the deduplicator, the best candidate is scored and, if it clears
// the gates, returned and possibly persisted.
func (o *Orchestrator) FetchWithCache(ctx context.Context, category string, ref types.EntityRef) (*types.EnrichmentResult, error) {
	cat, ok := o.config.Categories[category]
	if !ok {
		return nil, types.Errorf(types.ErrCategoryUnknown, "category: %s", category)
	}

	key, err := DeriveCacheKey(category, cat, ref)
	if err != nil {
		return nil, err
	}

	if entry, found := o.store.Get(ctx, key); found {
		o.countRequest(category, "hit")
		return o.cachedResult(category, key, entry), nil
	}

	o.countRequest(category, "miss")

	value, err := o.dedup.Do(ctx, key, func(workCtx context.Context) (interface{}, error) {
		return o.fetchUpstream(workCtx, category, cat, key, ref)
	})
	if err != nil {
		o.countRequest(category, resultOf(err))
		o.logFetchFailure(category, key, err)
		return nil, err
	}

	result, ok := value.(*types.EnrichmentResult)
	if !ok {
		return nil, types.Errorf(types.ErrProviderFailed, "unexpected dedup result for key: %s", key)
	}
	return result, nil
}

// FetchManyWithCache resolves a batch of entities in one category. Cached
// entries are collected with a single batched read; only the misses go
// upstream, bounded by the configured parallelism. The returned map is keyed
// by entity id and holds an entry for every input ref: entities that fail to
// resolve are logged and mapped to nil, so one bad upstream call does not
// sink the whole batch.
func (o *Orchestrator) FetchManyWithCache(ctx context.Context, category string, refs []types.EntityRef) (map[string]*types.EnrichmentResult, error) {
	cat, ok := o.config.Categories[category]
	if !ok {
		return nil, types.Errorf(types.ErrCategoryUnknown, "category: %s", category)
	}

	keys := make([]string, 0, len(refs))
	refByKey := make(map[string]types.EntityRef, len(refs))
	for _, ref := range refs {
		key, err := DeriveCacheKey(category, cat, ref)
		if err != nil {
			return nil, err
		}
		if _, seen := refByKey[key]; seen {
			continue
		}
		keys = append(keys, key)
		refByKey[key] = ref
	}

	// every input is represented up front; successes overwrite the nil
	results := make(map[string]*types.EnrichmentResult, len(keys))
	for _, key := range keys {
		results[entityIDOf(key)] = nil
	}
	var resultsMu sync.Mutex

	entries := o.store.BatchGet(ctx, keys)
	misses := make([]string, 0, len(keys))
	for _, key := range keys {
		if entry, found := entries[key]; found && entry != nil {
			o.countRequest(category, "hit")
			results[entityIDOf(key)] = o.cachedResult(category, key, entry)
			continue
		}
		o.countRequest(category, "miss")
		misses = append(misses, key)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.parallelism())

	for _, key := range misses {
		key := key
		ref := refByKey[key]

		g.Go(func() error {
			value, err := o.dedup.Do(gctx, key, func(workCtx context.Context) (interface{}, error) {
				return o.fetchUpstream(workCtx, category, cat, key, ref)
			})
			if err != nil {
				o.countRequest(category, resultOf(err))
				o.logFetchFailure(category, key, err)
				return nil
			}

			if result, ok := value.(*types.EnrichmentResult); ok {
				resultsMu.Lock()
				results[result.EntityID] = result
				resultsMu.Unlock()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return results, nil
}

// Invalidate removes the cached entry for one entity in one category.
func (o *Orchestrator) Invalidate(ctx context.Context, category string, ref types.EntityRef) error {
	cat, ok := o.config.Categories[category]
	if !ok {
		return types.Errorf(types.ErrCategoryUnknown, "category: %s", category)
	}

	key, err := DeriveCacheKey(category, cat, ref)
	if err != nil {
		return err
	}

	return o.store.Delete(ctx, key)
}

// InvalidateCategory removes every cached entry of one category at its
// current schema version.
func (o *Orchestrator) InvalidateCategory(ctx context.Context, category string) (int64, error) {
	cat, ok := o.config.Categories[category]
	if !ok {
		return 0, types.Errorf(types.ErrCategoryUnknown, "category: %s", category)
	}

	return o.store.DeleteByPattern(ctx, VersionPattern(category, cat.SchemaVersion))
}

// InvalidateByPattern removes every cached entry matching the wildcard
// pattern, across categories.
func (o *Orchestrator) InvalidateByPattern(ctx context.Context, pattern string) (int64, error) {
	return o.store.DeleteByPattern(ctx, pattern)
}

// SweepStaleVersions purges entries written under schema versions older than
// the current one, per category. Version bumps already make those entries
// unreachable; the sweep reclaims the space.
func (o *Orchestrator) SweepStaleVersions(ctx context.Context) (int64, error) {
	var total int64

	for name, cat := range o.config.Categories {
		if cat == nil {
			continue
		}
		for version := 1; version < cat.SchemaVersion; version++ {
			deleted, err := o.store.DeleteByPattern(ctx, VersionPattern(name, version))
			if err != nil {
				return total, types.WrapError(err, "sweep stale versions: "+name)
			}
			total += deleted
		}
	}

	return total, nil
}

func (o *Orchestrator) fetchUpstream(ctx context.Context, category string, cat *types.CategoryConfig, key string, ref types.EntityRef) (*types.EnrichmentResult, error) {
	o.providersMu.RLock()
	provider, ok := o.providers[category]
	o.providersMu.RUnlock()
	if !ok {
		return nil, types.Errorf(types.ErrProviderMissing, "category: %s", category)
	}

	o.countProviderCall(category)

	candidates, err := provider(ctx, ref)
	if err != nil {
		if types.IsError(err, types.ErrProviderRateLimited) {
			return nil, err
		}
		return nil, types.Errorf(types.ErrProviderFailed, "category: %s, cause: %v", category, err)
	}

	candidates = o.filterByLocation(candidates, cat)
	if len(candidates) == 0 {
		return nil, types.Errorf(types.ErrLowConfidence, "no usable candidates for key: %s", key)
	}

	sctx := types.ScoreContext{
		QueryTerms: cat.QueryTerms,
		Now:        o.now(),
	}

	best, found := o.scorer.Best(candidates, sctx, cat)
	if !found || !best.Accept {
		return nil, types.Errorf(types.ErrLowConfidence, "best score %.1f below accept threshold for key: %s", best.Score, key)
	}

	entityID, _ := ref.CacheID()
	result := &types.EnrichmentResult{
		EntityID:  entityID,
		Key:       key,
		Category:  category,
		Payload:   best.Candidate.Payload,
		Score:     best.Score,
		FromCache: false,
	}

	if best.Cacheable {
		if err := o.store.Set(ctx, key, best.Candidate.Payload); err != nil {
			// the caller still gets the result, it just will not be reused
			o.logger.Warn("cache write failed",
				zap.String("key", key),
				zap.Error(err))
		}
	}

	return result, nil
}

// filterByLocation drops candidates whose own location signal falls below the
// category floor. Candidates carrying no signal at all pass through and are
// left to the scorer.
func (o *Orchestrator) filterByLocation(candidates []types.Candidate, cat *types.CategoryConfig) []types.Candidate {
	if cat.MinLocationConfidence <= 0 {
		return candidates
	}

	kept := candidates[:0]
	for _, c := range candidates {
		if c.LocationConfidence > 0 && c.LocationConfidence < cat.MinLocationConfidence {
			continue
		}
		kept = append(kept, c)
	}
	return kept
}

func (o *Orchestrator) cachedResult(category, key string, entry *types.CacheEntry) *types.EnrichmentResult {
	return &types.EnrichmentResult{
		EntityID:  entityIDOf(key),
		Key:       key,
		Category:  category,
		Payload:   entry.Payload,
		FromCache: true,
	}
}

func (o *Orchestrator) parallelism() int {
	if o.config.Parallelism > 0 {
		return o.config.Parallelism
	}
	return 1
}

// logFetchFailure keeps the failure classes apart in the logs: throttling is
// actionable and warned about with its own message, a low score is routine
// and stays at debug.
func (o *Orchestrator) logFetchFailure(category, key string, err error) {
	fields := []zap.Field{
		zap.String("category", category),
		zap.String("key", key),
		zap.Error(err),
	}

	switch {
	case types.IsError(err, types.ErrProviderRateLimited):
		o.logger.Warn("provider rate limited", fields...)
	case types.IsError(err, types.ErrLowConfidence):
		o.logger.Debug("candidate rejected below accept threshold", fields...)
	default:
		o.logger.Warn("enrichment fetch failed", fields...)
	}
}

func (o *Orchestrator) countRequest(category, result string) {
	if o.metrics == nil {
		return
	}
	o.metrics.Counter("enrichment_requests_total", map[string]string{
		"category": category,
		"result":   result,
	}).Inc()
}

func (o *Orchestrator) countProviderCall(category string) {
	if o.metrics == nil {
		return
	}
	o.metrics.Counter("enrichment_provider_calls_total", map[string]string{
		"category": category,
	}).Inc()
}

func resultOf(err error) string {
	switch {
	case types.IsError(err, types.ErrLowConfidence):
		return "rejected"
	case types.IsError(err, types.ErrProviderRateLimited):
		return "rate_limited"
	default:
		return "error"
	}
}
