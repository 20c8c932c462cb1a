package types

import (
	"fmt"
	"math"
	"strings"
)

type LifecycleManager interface {
	Start() error
	Stop() error
	IsRunning() bool
}

// EntityRef addresses one real-world place being enriched. ID is the stable
// external identifier (e.g. an OSM or Places id); coordinates serve as a
// fallback when no stable id exists.
type EntityRef struct {
	ID        string  `json:"id"`
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	HasCoords bool    `json:"has_coords"`
}

// CoordPrecision is the number of decimal places kept when a coordinate pair
// stands in for a missing stable id. Four places is roughly 11 meters, enough
// to keep two lookups of the same playground on the same key.
const CoordPrecision = 4

// CacheID returns the stable part of the cache key for this reference: the
// external id when present, otherwise a fixed-precision "lat,lon" string.
// Returns ErrEntityRefEmpty when neither is available.
func (r EntityRef) CacheID() (string, error) {
	if r.ID != "" {
		return r.ID, nil
	}
	if r.HasCoords {
		return fmt.Sprintf("%.*f,%.*f",
			CoordPrecision, roundCoord(r.Lat),
			CoordPrecision, roundCoord(r.Lon)), nil
	}
	return "", ErrEntityRefEmpty
}

// roundCoord rounds half away from zero at CoordPrecision decimals, so values
// sitting on the boundary round up instead of taking whatever %f's banker-ish
// rounding of the binary value happens to produce.
func roundCoord(v float64) float64 {
	scale := math.Pow(10, CoordPrecision)
	return math.Round(v*scale) / scale
}

// EnrichmentResult is what the orchestrator hands back to callers: either a
// trusted cached payload or a freshly scored and accepted candidate.
type EnrichmentResult struct {
	EntityID  string      `json:"entity_id"`
	Key       string      `json:"key"`
	Category  string      `json:"category"`
	Payload   interface{} `json:"payload"`
	Score     float64     `json:"score"`
	FromCache bool        `json:"from_cache"`
}

// ValidateCategoryName rejects names that would break the key format, which
// uses ':' as its separator.
func ValidateCategoryName(name string) error {
	if name == "" || strings.ContainsRune(name, ':') {
		return Errorf(ErrCategoryNameInvalid, "name: %q", name)
	}
	return nil
}
