package types

import (
	"context"
	"time"
)

// Candidate is a raw, unvalidated result from an upstream provider. Image
// candidates carry Width/Height/Format; insight candidates carry Text. Both
// shapes go through the same scorer.
type Candidate struct {
	Title     string            `json:"title"`
	Text      string            `json:"text"`
	SourceURL string            `json:"source_url"`
	Width     int               `json:"width"`
	Height    int               `json:"height"`
	Format    string            `json:"format"`
	Metadata  map[string]string `json:"metadata"`

	// LocationConfidence is the provider's own 0..1 estimate of how sure it
	// is that this result belongs to the requested location. Zero means the
	// provider gave no signal.
	LocationConfidence float64 `json:"location_confidence"`

	// Payload is the provider-shaped result handed back to callers and
	// persisted on acceptance. The scorer never inspects it.
	Payload interface{} `json:"payload"`
}

// ScoredCandidate pairs a candidate with its 0-100 quality score. Accept
// gates whether it is returned to the caller at all; Cacheable is the
// stricter gate for persisting it for future reuse.
type ScoredCandidate struct {
	Candidate Candidate
	Score     float64
	Accept    bool
	Cacheable bool
}

// ScoreContext carries everything the scorer needs besides the candidate
// itself. Now is injected so scoring stays deterministic.
type ScoreContext struct {
	QueryTerms []string
	Now        time.Time
}

// ProviderFunc is the injected upstream fetch for one enrichment category.
// It returns zero or more raw candidates; failures are classified by the
// orchestrator via ErrProviderRateLimited / ErrProviderFailed.
type ProviderFunc func(ctx context.Context, ref EntityRef) ([]Candidate, error)
