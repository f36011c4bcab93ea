package resolver_test

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rootstrail/pinpoint/internal/cache"
	"github.com/rootstrail/pinpoint/internal/models"
	"github.com/rootstrail/pinpoint/internal/resolver"
)

const (
	testFuzzyThreshold  = 0.92
	testMaxEditDistance = 2
)

func floatPtr(f float64) *float64 { return &f }

func newCacheWith(locs ...*models.Location) *cache.AddressCache {
	addrCache := cache.New(slog.Default(), cache.Options{})
	for _, loc := range locs {
		addrCache.Put(loc)
	}
	return addrCache
}

func TestResolver_Resolve_ExactAndAlias(t *testing.T) {
	addrCache := newCacheWith(&models.Location{
		Name:        "Sharon, Ontario",
		DisplayName: "Sharon, East Gwillimbury, Ontario, Canada",
		Lat:         floatPtr(44.1),
		Lon:         floatPtr(-79.44),
	})
	res := resolver.New(addrCache, slog.Default(), testFuzzyThreshold, testMaxEditDistance)

	t.Run("exact key", func(t *testing.T) {
		loc, source := res.Resolve("Sharon, Ontario")
		require.NotNil(t, loc)
		assert.Equal(t, models.SourceCache, source)
		assert.True(t, loc.HasCoordinates())
	})

	t.Run("case insensitive", func(t *testing.T) {
		loc, source := res.Resolve("  SHARON, ONTARIO ")
		require.NotNil(t, loc)
		assert.Equal(t, models.SourceCache, source)
	})

	t.Run("display name alias", func(t *testing.T) {
		loc, source := res.Resolve("Sharon, East Gwillimbury, Ontario, Canada")
		require.NotNil(t, loc)
		assert.Equal(t, models.SourceAlias, source)
		assert.Equal(t, "Sharon, Ontario", loc.Name)
	})

	t.Run("miss", func(t *testing.T) {
		loc, source := res.Resolve("Berlin, Germany")
		assert.Nil(t, loc)
		assert.Equal(t, models.SourceNone, source)
	})

	t.Run("empty address", func(t *testing.T) {
		loc, source := res.Resolve("   ")
		assert.Nil(t, loc)
		assert.Equal(t, models.SourceNone, source)
	})
}

func TestResolver_Resolve_BackfillsNegativeEntries(t *testing.T) {
	t.Run("direct chain", func(t *testing.T) {
		negative := &models.Location{Name: "Smithville", DisplayName: "Smithville, Ontario, Canada"}
		addrCache := newCacheWith(
			negative,
			&models.Location{
				Name: "Smithville, Ontario, Canada",
				Lat:  floatPtr(43.1),
				Lon:  floatPtr(-79.55),
			},
		)
		res := resolver.New(addrCache, slog.Default(), testFuzzyThreshold, testMaxEditDistance)

		loc, source := res.Resolve("Smithville")
		require.NotNil(t, loc)
		assert.Equal(t, models.SourceCache, source)
		require.True(t, loc.HasCoordinates())
		assert.InEpsilon(t, 43.1, *loc.Lat, 1e-9)
		assert.InEpsilon(t, -79.55, *loc.Lon, 1e-9)
	})

	t.Run("chain through alias index", func(t *testing.T) {
		addrCache := newCacheWith(
			&models.Location{Name: "Oldtown", DisplayName: "Oldtown Proper, Canada"},
			&models.Location{
				Name:        "Oldtown, Canada",
				DisplayName: "Oldtown Proper, Canada",
				Lat:         floatPtr(45.0),
				Lon:         floatPtr(-75.0),
			},
		)
		res := resolver.New(addrCache, slog.Default(), testFuzzyThreshold, testMaxEditDistance)

		loc, _ := res.Resolve("Oldtown")
		require.NotNil(t, loc)
		assert.True(t, loc.HasCoordinates())
	})

	t.Run("cycle terminates", func(t *testing.T) {
		addrCache := newCacheWith(
			&models.Location{Name: "Loop One", DisplayName: "Loop Two"},
			&models.Location{Name: "Loop Two", DisplayName: "Loop One"},
		)
		res := resolver.New(addrCache, slog.Default(), testFuzzyThreshold, testMaxEditDistance)

		loc, source := res.Resolve("Loop One")
		require.NotNil(t, loc)
		assert.Equal(t, models.SourceCache, source)
		assert.False(t, loc.HasCoordinates())
	})
}

func TestResolver_Resolve_ChainDepth(t *testing.T) {
	chain := func(names ...string) []*models.Location {
		locs := make([]*models.Location, len(names))
		for i, name := range names {
			locs[i] = &models.Location{Name: name}
			if i > 0 {
				locs[i-1].DisplayName = name
			}
		}
		last := locs[len(locs)-1]
		last.Lat, last.Lon = floatPtr(50.0), floatPtr(10.0)
		return locs
	}

	t.Run("four hops succeed", func(t *testing.T) {
		addrCache := newCacheWith(chain("Hop A", "Hop B", "Hop C", "Hop D", "Hop E")...)
		res := resolver.New(addrCache, slog.Default(), testFuzzyThreshold, testMaxEditDistance)

		loc, _ := res.Resolve("Hop A")
		require.NotNil(t, loc)
		assert.True(t, loc.HasCoordinates())
	})

	t.Run("fifth hop truncated", func(t *testing.T) {
		addrCache := newCacheWith(chain("Hop A", "Hop B", "Hop C", "Hop D", "Hop E", "Hop F")...)
		res := resolver.New(addrCache, slog.Default(), testFuzzyThreshold, testMaxEditDistance)

		loc, _ := res.Resolve("Hop A")
		require.NotNil(t, loc)
		assert.False(t, loc.HasCoordinates())
	})
}

func TestResolver_Resolve_FuzzyMatch(t *testing.T) {
	london := &models.Location{
		Name: "London, England",
		Lat:  floatPtr(51.51),
		Lon:  floatPtr(-0.13),
	}

	t.Run("close misspelling matches", func(t *testing.T) {
		addrCache := newCacheWith(london)
		res := resolver.New(addrCache, slog.Default(), testFuzzyThreshold, testMaxEditDistance)

		loc, source := res.Resolve("Londn, England")
		require.NotNil(t, loc)
		assert.Equal(t, models.SourceFuzzy, source)
		assert.Equal(t, "London, England", loc.Name)
	})

	t.Run("edit distance cap rejects", func(t *testing.T) {
		addrCache := newCacheWith(london)
		res := resolver.New(addrCache, slog.Default(), testFuzzyThreshold, 0)

		loc, source := res.Resolve("Londn, England")
		assert.Nil(t, loc)
		assert.Equal(t, models.SourceNone, source)
	})

	t.Run("similarity threshold rejects", func(t *testing.T) {
		addrCache := newCacheWith(london)
		res := resolver.New(addrCache, slog.Default(), 0.99, testMaxEditDistance)

		loc, _ := res.Resolve("Londn, England")
		assert.Nil(t, loc)
	})

	t.Run("short keys are never fuzzy matched", func(t *testing.T) {
		addrCache := newCacheWith(&models.Location{
			Name: "Rome",
			Lat:  floatPtr(41.9),
			Lon:  floatPtr(12.5),
		})
		res := resolver.New(addrCache, slog.Default(), testFuzzyThreshold, testMaxEditDistance)

		loc, source := res.Resolve("Rom")
		assert.Nil(t, loc)
		assert.Equal(t, models.SourceNone, source)
	})
}
