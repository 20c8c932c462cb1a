package enrichment

import (
	"fmt"
	"strings"

	"github.com/saiset-co/sai-enrichment/types"
)

// DeriveCacheKey builds the canonical "{category}:v{version}:{id}" key for one
// entity. The schema version is baked into the key so a version bump makes old
// entries unreachable without touching them.
func DeriveCacheKey(category string, cat *types.CategoryConfig, ref types.EntityRef) (string, error) {
	if err := types.ValidateCategoryName(category); err != nil {
		return "", err
	}
	if cat == nil {
		return "", types.Errorf(types.ErrCategoryUnknown, "category: %s", category)
	}

	id, err := ref.CacheID()
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%s:v%d:%s", category, cat.SchemaVersion, id), nil
}

// VersionPattern returns the wildcard pattern covering every key of one
// category at one schema version.
func VersionPattern(category string, version int) string {
	return fmt.Sprintf("%s:v%d:*", category, version)
}

// CategoryPattern returns the wildcard pattern covering every key of one
// category across all schema versions.
func CategoryPattern(category string) string {
	return fmt.Sprintf("%s:*", category)
}

// entityIDOf recovers the entity id segment from a derived key. Everything
// past the second separator is the id, so ids containing ':' survive intact.
func entityIDOf(key string) string {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) == 3 {
		return parts[2]
	}
	return key
}
