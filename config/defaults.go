package config

import (
	"time"

	"github.com/saiset-co/sai-enrichment/types"
)

// Threshold and tier point defaults mirror the empirically tuned policy the
// service shipped with. They are configuration, not structure: any of them may
// be overridden per deployment.
const (
	DefaultAcceptThreshold    = 30
	DefaultCacheableThreshold = 50
	DefaultMinLocationConf    = 0.4

	DefaultInsightTTL = 30 * 24 * time.Hour
	DefaultImageTTL   = 90 * 24 * time.Hour
)

func Defaults() *types.ServiceConfig {
	return &types.ServiceConfig{
		Name:    "sai-enrichment",
		Version: "1.0.0",
		Logger: &types.LoggerConfig{
			Level: "info",
		},
		Cache: &types.CacheConfig{
			Enabled:    true,
			Type:       "memory",
			DefaultTTL: DefaultInsightTTL,
		},
		Metrics: &types.MetricsConfig{
			Enabled: false,
			Type:    "memory",
		},
		Cron: &types.CronConfig{
			Enabled:       false,
			Timezone:      "UTC",
			SweepSchedule: "0 0 4 * * *",
		},
		Scoring:    DefaultScoring(),
		Enrichment: DefaultEnrichment(),
	}
}

func DefaultEnrichment() *types.EnrichmentConfig {
	return &types.EnrichmentConfig{
		Parallelism: 4,
		Categories: map[string]*types.CategoryConfig{
			"insights": {
				SchemaVersion:         3,
				TTL:                   DefaultInsightTTL,
				AcceptThreshold:       DefaultAcceptThreshold,
				CacheableThreshold:    DefaultCacheableThreshold,
				MinLocationConfidence: DefaultMinLocationConf,
				RequiredFields:        []string{"summary"},
				QueryTerms:            []string{"playground", "park", "play area"},
			},
			"images": {
				SchemaVersion:         2,
				TTL:                   DefaultImageTTL,
				AcceptThreshold:       DefaultAcceptThreshold,
				CacheableThreshold:    DefaultCacheableThreshold,
				MinLocationConfidence: DefaultMinLocationConf,
				RequiredFields:        []string{"url"},
				QueryTerms:            []string{"playground", "park", "slide", "swing"},
			},
		},
	}
}

func DefaultScoring() *types.ScoringConfig {
	return &types.ScoringConfig{
		TrustTiers: []types.TrustTier{
			{
				Name:   "authoritative",
				Points: 40,
				Domains: []string{
					".gov", ".gouv.", ".edu", "stadt.", "city.",
					"kommune.", "parks.", "recreation.",
				},
			},
			{
				Name:   "community",
				Points: 28,
				Domains: []string{
					"wikimedia.org", "wikipedia.org", "openstreetmap.org",
					"mapillary.com", "flickr.com",
				},
			},
			{
				Name:   "general",
				Points: 18,
				Domains: []string{
					"tripadvisor.", "yelp.", "foursquare.", "google.",
				},
			},
		},
		ExcludedDomains: []string{
			"pinterest.", "alamy.", "shutterstock.", "dreamstime.",
			"gettyimages.", "istockphoto.", "depositphotos.",
		},
		UnknownSourcePoints: 8,

		SizeTiers: []types.SizeTier{
			{Min: 2_000_000, Points: 25},
			{Min: 1_000_000, Points: 22},
			{Min: 480_000, Points: 17},
			{Min: 150_000, Points: 10},
			{Min: 1, Points: 5},
		},
		TextTiers: []types.SizeTier{
			{Min: 800, Points: 25},
			{Min: 400, Points: 20},
			{Min: 200, Points: 15},
			{Min: 80, Points: 10},
			{Min: 1, Points: 5},
		},

		RecencyWindowYears: 3,
		RecencyPoints:      15,
		RecencyStalePoints: 7,

		RelevancePointsPerTerm: 5,
		RelevanceCap:           15,

		PreferredFormats: []string{"jpeg", "jpg", "webp"},
		FormatPoints:     5,

		Keywords: types.KeywordTiers{
			Primary: []string{
				"playground", "play area", "spielplatz", "lekplats",
				"slide", "swing", "climbing frame", "sandbox",
			},
			Secondary: []string{
				"park", "garden", "recreation", "family", "children",
			},
			Tertiary: []string{
				"school", "kindergarten", "daycare", "sports field",
			},
			Excluded: []string{
				"casino", "nightclub", "for sale", "stock photo",
			},
			SecondaryPenalty: 10,
			TertiaryPenalty:  25,
			NoMatchPenalty:   40,
		},
	}
}

// normalize fills sections and per-category values the YAML file left out, so
// the rest of the code never branches on nil config.
func normalize(cfg *types.ServiceConfig) {
	def := Defaults()

	if cfg.Name == "" {
		cfg.Name = def.Name
	}
	if cfg.Version == "" {
		cfg.Version = def.Version
	}
	if cfg.Logger == nil {
		cfg.Logger = def.Logger
	}
	if cfg.Cache == nil {
		cfg.Cache = def.Cache
	}
	if cfg.Metrics == nil {
		cfg.Metrics = def.Metrics
	}
	if cfg.Cron == nil {
		cfg.Cron = def.Cron
	}
	if cfg.Scoring == nil {
		cfg.Scoring = def.Scoring
	}
	if cfg.Enrichment == nil {
		cfg.Enrichment = def.Enrichment
	}
	if cfg.Enrichment.Parallelism <= 0 {
		cfg.Enrichment.Parallelism = def.Enrichment.Parallelism
	}
	if cfg.Enrichment.Categories == nil {
		cfg.Enrichment.Categories = def.Enrichment.Categories
	}

	for _, cat := range cfg.Enrichment.Categories {
		if cat == nil {
			continue
		}
		if cat.SchemaVersion <= 0 {
			cat.SchemaVersion = 1
		}
		if cat.TTL <= 0 {
			cat.TTL = cfg.Cache.DefaultTTL
		}
		if cat.AcceptThreshold <= 0 {
			cat.AcceptThreshold = DefaultAcceptThreshold
		}
		if cat.CacheableThreshold < cat.AcceptThreshold {
			cat.CacheableThreshold = cat.AcceptThreshold
		}
	}
}
