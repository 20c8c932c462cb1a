package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheIDPrefersStableID(t *testing.T) {
	ref := EntityRef{ID: "osm-123", Lat: 52.52, Lon: 13.40, HasCoords: true}

	id, err := ref.CacheID()
	require.NoError(t, err)
	assert.Equal(t, "osm-123", id)
}

func TestCacheIDCoordinateFallback(t *testing.T) {
	ref := EntityRef{Lat: 52.52001, Lon: 13.404954, HasCoords: true}

	id, err := ref.CacheID()
	require.NoError(t, err)
	assert.Equal(t, "52.5200,13.4050", id)
}

func TestCacheIDCoordinateRoundsHalfUp(t *testing.T) {
	// The fifth decimal sits exactly on the rounding boundary.
	ref := EntityRef{Lat: 52.52001, Lon: 13.40495, HasCoords: true}

	id, err := ref.CacheID()
	require.NoError(t, err)
	assert.Equal(t, "52.5200,13.4050", id)

	neg := EntityRef{Lat: -52.52001, Lon: -13.40495, HasCoords: true}
	id, err = neg.CacheID()
	require.NoError(t, err)
	assert.Equal(t, "-52.5200,-13.4050", id)
}

func TestCacheIDEmptyRef(t *testing.T) {
	_, err := EntityRef{}.CacheID()
	assert.ErrorIs(t, err, ErrEntityRefEmpty)

	// Coordinates without the flag are not trusted as an identity.
	_, err = EntityRef{Lat: 1, Lon: 2}.CacheID()
	assert.ErrorIs(t, err, ErrEntityRefEmpty)
}

func TestValidateCategoryName(t *testing.T) {
	assert.NoError(t, ValidateCategoryName("images"))
	assert.Error(t, ValidateCategoryName(""))
	assert.Error(t, ValidateCategoryName("bad:name"))
}

func TestErrorHelpers(t *testing.T) {
	wrapped := WrapError(ErrCategoryUnknown, "looking up videos")
	assert.True(t, IsError(wrapped, ErrCategoryUnknown))
	assert.Contains(t, wrapped.Error(), "looking up videos")

	assert.Nil(t, WrapError(nil, "nothing happened"))

	tagged := Errorf(ErrCacheKeyEmpty, "category %q", "images")
	assert.True(t, IsError(tagged, ErrCacheKeyEmpty))
}
