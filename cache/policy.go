package cache

import (
	"strings"
	"time"

	"github.com/saiset-co/sai-enrichment/types"
	"github.com/saiset-co/sai-enrichment/utils"
)

const (
	MaxTTL     = 365 * 24 * time.Hour
	DefaultTTL = 30 * 24 * time.Hour
)

// Policies resolves the retention and validity rules for a cache key. Keys
// are "{category}:v{version}:{entityID}", so the category name is everything
// before the first ':'. Unknown categories fall back to the default TTL with
// no required fields.
type Policies struct {
	defaultTTL time.Duration
	categories map[string]*types.CategoryConfig
}

func NewPolicies(cacheConfig *types.CacheConfig, enrichment *types.EnrichmentConfig) *Policies {
	p := &Policies{
		defaultTTL: DefaultTTL,
		categories: make(map[string]*types.CategoryConfig),
	}

	if cacheConfig != nil && cacheConfig.DefaultTTL > 0 {
		p.defaultTTL = cacheConfig.DefaultTTL
	}
	if p.defaultTTL > MaxTTL {
		p.defaultTTL = MaxTTL
	}

	if enrichment != nil {
		for name, cat := range enrichment.Categories {
			if cat != nil {
				p.categories[name] = cat
			}
		}
	}

	return p
}

func (p *Policies) TTLForKey(key string) time.Duration {
	if cat, ok := p.categories[categoryOf(key)]; ok && cat.TTL > 0 {
		return cat.TTL
	}
	return p.defaultTTL
}

// Expired applies the lazy TTL rule: the entry is stale once its age exceeds
// the category TTL at read time. TTL changes therefore apply retroactively to
// rows already written.
func (p *Policies) Expired(entry *types.CacheEntry, now time.Time) bool {
	if entry == nil {
		return true
	}
	return now.Sub(entry.CreatedAt) > p.TTLForKey(entry.Key)
}

// ValidPayload runs the minimal-validity check: every required field of the
// key's category must be present and non-null in the payload.
func (p *Policies) ValidPayload(key string, payload interface{}) bool {
	cat, ok := p.categories[categoryOf(key)]
	if !ok || len(cat.RequiredFields) == 0 {
		return payload != nil
	}

	m, err := utils.PayloadToMap(payload)
	if err != nil {
		return false
	}

	for _, field := range cat.RequiredFields {
		v, exists := m[field]
		if !exists || v == nil {
			return false
		}
	}
	return true
}

func categoryOf(key string) string {
	if i := strings.IndexByte(key, ':'); i > 0 {
		return key[:i]
	}
	return ""
}
