package types

import (
	"time"
)

type ConfigManager interface {
	Load() error
	GetConfig() *ServiceConfig
}

type ServiceConfig struct {
	Name       string            `yaml:"name" json:"name" validate:"required"`
	Version    string            `yaml:"version" json:"version" validate:"required"`
	Logger     *LoggerConfig     `yaml:"logger" json:"logger"`
	Cache      *CacheConfig      `yaml:"cache" json:"cache"`
	Metrics    *MetricsConfig    `yaml:"metrics" json:"metrics"`
	Cron       *CronConfig       `yaml:"cron" json:"cron"`
	Scoring    *ScoringConfig    `yaml:"scoring" json:"scoring"`
	Enrichment *EnrichmentConfig `yaml:"enrichment" json:"enrichment"`
}

type LoggerConfig struct {
	Type   string      `yaml:"type" json:"type"`
	Level  string      `yaml:"level" json:"level"`
	Config interface{} `yaml:"config" json:"config"`
}

type CacheConfig struct {
	Enabled    bool          `yaml:"enabled" json:"enabled"`
	Type       string        `yaml:"type" json:"type" validate:"required_if=Enabled true"`
	Config     interface{}   `yaml:"config" json:"config"`
	DefaultTTL time.Duration `yaml:"default_ttl" json:"default_ttl" validate:"min=0"`
}

type MetricsConfig struct {
	Enabled bool        `yaml:"enabled" json:"enabled"`
	Type    string      `yaml:"type" json:"type" validate:"required_if=Enabled true"`
	Config  interface{} `yaml:"config" json:"config"`
}

type CronConfig struct {
	Enabled       bool   `yaml:"enabled" json:"enabled"`
	Timezone      string `yaml:"timezone" json:"timezone"`
	SweepSchedule string `yaml:"sweep_schedule" json:"sweep_schedule"`
}

type EnrichmentConfig struct {
	// Parallelism bounds the number of upstream fetches resolved
	// concurrently by a single batched call.
	Parallelism int                        `yaml:"parallelism" json:"parallelism" validate:"min=0"`
	Categories  map[string]*CategoryConfig `yaml:"categories" json:"categories" validate:"required,dive,required"`
}

// CategoryConfig is the per-enrichment-type policy: key versioning, retention
// window, acceptance gates and the vocabulary the scorer matches against.
type CategoryConfig struct {
	SchemaVersion int           `yaml:"schema_version" json:"schema_version" validate:"min=1"`
	TTL           time.Duration `yaml:"ttl" json:"ttl" validate:"min=0"`

	// AcceptThreshold gates whether a scored candidate is returned at all;
	// CacheableThreshold is the stricter gate for persisting it.
	AcceptThreshold    float64 `yaml:"accept_threshold" json:"accept_threshold" validate:"min=0,max=100"`
	CacheableThreshold float64 `yaml:"cacheable_threshold" json:"cacheable_threshold" validate:"min=0,max=100"`

	// MinLocationConfidence rejects provider results whose own location
	// match signal is too weak, independent of the score. Zero disables
	// the check.
	MinLocationConfidence float64 `yaml:"min_location_confidence" json:"min_location_confidence" validate:"min=0,max=1"`

	// RequiredFields are payload keys that must be present and non-null for
	// a cached entry to be considered valid at read time.
	RequiredFields []string `yaml:"required_fields" json:"required_fields"`

	QueryTerms []string `yaml:"query_terms" json:"query_terms"`
}

type ScoringConfig struct {
	// TrustTiers are matched in order against the candidate source; the
	// first tier containing a matching domain substring wins.
	TrustTiers          []TrustTier `yaml:"trust_tiers" json:"trust_tiers"`
	ExcludedDomains     []string    `yaml:"excluded_domains" json:"excluded_domains"`
	UnknownSourcePoints float64     `yaml:"unknown_source_points" json:"unknown_source_points"`

	// SizeTiers apply to image candidates (pixel area), TextTiers to
	// insight candidates (rune count). Descending thresholds, first match
	// wins.
	SizeTiers []SizeTier `yaml:"size_tiers" json:"size_tiers"`
	TextTiers []SizeTier `yaml:"text_tiers" json:"text_tiers"`

	RecencyWindowYears int     `yaml:"recency_window_years" json:"recency_window_years"`
	RecencyPoints      float64 `yaml:"recency_points" json:"recency_points"`
	RecencyStalePoints float64 `yaml:"recency_stale_points" json:"recency_stale_points"`

	RelevancePointsPerTerm float64 `yaml:"relevance_points_per_term" json:"relevance_points_per_term"`
	RelevanceCap           float64 `yaml:"relevance_cap" json:"relevance_cap"`

	PreferredFormats []string `yaml:"preferred_formats" json:"preferred_formats"`
	FormatPoints     float64  `yaml:"format_points" json:"format_points"`

	Keywords KeywordTiers `yaml:"keywords" json:"keywords"`
}

type TrustTier struct {
	Name    string   `yaml:"name" json:"name"`
	Points  float64  `yaml:"points" json:"points"`
	Domains []string `yaml:"domains" json:"domains"`
}

type SizeTier struct {
	Min    int     `yaml:"min" json:"min"`
	Points float64 `yaml:"points" json:"points"`
}

// KeywordTiers classify candidate text by domain vocabulary. Primary terms
// carry no penalty; weaker tiers are penalized progressively; Excluded terms
// veto the candidate outright.
type KeywordTiers struct {
	Primary   []string `yaml:"primary" json:"primary"`
	Secondary []string `yaml:"secondary" json:"secondary"`
	Tertiary  []string `yaml:"tertiary" json:"tertiary"`
	Excluded  []string `yaml:"excluded" json:"excluded"`

	SecondaryPenalty float64 `yaml:"secondary_penalty" json:"secondary_penalty"`
	TertiaryPenalty  float64 `yaml:"tertiary_penalty" json:"tertiary_penalty"`
	NoMatchPenalty   float64 `yaml:"no_match_penalty" json:"no_match_penalty"`
}
