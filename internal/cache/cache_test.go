package cache_test

import (
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/Flaque/filet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rootstrail/pinpoint/internal/cache"
	"github.com/rootstrail/pinpoint/internal/models"
)

func floatPtr(f float64) *float64 { return &f }

func newTestLocation(name, display string, lat, lon float64) *models.Location {
	return &models.Location{
		Name:        name,
		DisplayName: display,
		Lat:         floatPtr(lat),
		Lon:         floatPtr(lon),
	}
}

func TestAddressCache_SaveAndLoad(t *testing.T) {
	defer filet.CleanUp(t)
	path := filepath.Join(filet.TmpDir(t, ""), cache.DefaultFileName)

	original := cache.New(slog.Default(), cache.Options{})
	full := &models.Location{
		Name:        "Sharon, Ontario",
		DisplayName: "Sharon, East Gwillimbury, Ontario, Canada",
		CountryCode: "CA",
		PlaceType:   "village",
		PlaceClass:  "place",
		ProviderID:  "42",
		Lat:         floatPtr(44.1),
		Lon:         floatPtr(-79.44),
		BoundingBox: []float64{44.09, 44.11, -79.45, -79.43},
		Importance:  floatPtr(0.35),
		UsageCount:  7,
	}
	original.Put(full)
	original.Put(newTestLocation("Paris, France", "Paris, Ile-de-France, France", 48.85, 2.35))

	written, err := original.Save(path)
	require.NoError(t, err)
	assert.True(t, written)

	reloaded := cache.New(slog.Default(), cache.Options{})
	require.NoError(t, reloaded.Load(path))
	assert.Equal(t, 2, reloaded.Len())

	loc, ok := reloaded.Lookup("sharon, ontario")
	require.True(t, ok)
	assert.Equal(t, "Sharon, Ontario", loc.Name)
	assert.Equal(t, "Sharon, East Gwillimbury, Ontario, Canada", loc.DisplayName)
	assert.Equal(t, "CA", loc.CountryCode)
	assert.Equal(t, "village", loc.PlaceType)
	assert.Equal(t, "42", loc.ProviderID)
	require.NotNil(t, loc.Lat)
	assert.InEpsilon(t, 44.1, *loc.Lat, 1e-9)
	assert.Equal(t, []float64{44.09, 44.11, -79.45, -79.43}, loc.BoundingBox)
	require.NotNil(t, loc.Importance)
	assert.InEpsilon(t, 0.35, *loc.Importance, 1e-9)
	assert.Zero(t, loc.UsageCount, "usage counts must reset on load")

	key, ok := reloaded.AliasKey("Sharon, East Gwillimbury, Ontario, Canada")
	require.True(t, ok)
	assert.Equal(t, "sharon, ontario", key)
}

func TestAddressCache_SaveSkipsWhenUnchanged(t *testing.T) {
	defer filet.CleanUp(t)
	path := filepath.Join(filet.TmpDir(t, ""), cache.DefaultFileName)

	addrCache := cache.New(slog.Default(), cache.Options{})

	written, err := addrCache.Save(path)
	require.NoError(t, err)
	assert.False(t, written, "empty cache matches its load state")
	assert.NoFileExists(t, path)

	addrCache.Put(newTestLocation("Kyiv, Ukraine", "Kyiv, Ukraine", 50.45, 30.52))
	assert.True(t, addrCache.Dirty())

	written, err = addrCache.Save(path)
	require.NoError(t, err)
	assert.True(t, written)
	assert.False(t, addrCache.Dirty())

	written, err = addrCache.Save(path)
	require.NoError(t, err)
	assert.False(t, written, "second save with no changes must be skipped")

	// Bumping a usage count alone is not worth a rewrite.
	loc, ok := addrCache.Lookup("Kyiv, Ukraine")
	require.True(t, ok)
	loc.Touch()
	written, err = addrCache.Save(path)
	require.NoError(t, err)
	assert.False(t, written)
}

func TestAddressCache_BackupRotation(t *testing.T) {
	defer filet.CleanUp(t)
	dir := filet.TmpDir(t, "")
	path := filepath.Join(dir, cache.DefaultFileName)

	addrCache := cache.New(slog.Default(), cache.Options{})
	names := []string{"First, Canada", "Second, Canada", "Third, Canada"}
	for i, name := range names {
		addrCache.Put(newTestLocation(name, name, float64(40 + i), -79))
		written, err := addrCache.Save(path)
		require.NoError(t, err)
		require.True(t, written)
	}

	// Each generation holds one snapshot: the primary has all three
	// entries, -1 has two, -2 has one.
	for file, expect := range map[string]int{
		path:                      3,
		cache.BackupPath(path, 1): 2,
		cache.BackupPath(path, 2): 1,
	} {
		snapshot := cache.New(slog.Default(), cache.Options{})
		require.NoError(t, snapshot.Load(file))
		assert.Equal(t, expect, snapshot.Len(), "unexpected entry count in %s", file)
	}

	// A fourth save evicts the one-entry snapshot: every surviving
	// generation shifts down and nothing appears beyond -2.
	addrCache.Put(newTestLocation("Fourth, Canada", "Fourth, Canada", 43, -79))
	written, err := addrCache.Save(path)
	require.NoError(t, err)
	require.True(t, written)

	for file, expect := range map[string]int{
		path:                      4,
		cache.BackupPath(path, 1): 3,
		cache.BackupPath(path, 2): 2,
	} {
		snapshot := cache.New(slog.Default(), cache.Options{})
		require.NoError(t, snapshot.Load(file))
		assert.Equal(t, expect, snapshot.Len(), "unexpected entry count in %s", file)
	}
	assert.NoFileExists(t, cache.BackupPath(path, 3))
}

func TestAddressCache_LoadSkipsMalformedRows(t *testing.T) {
	defer filet.CleanUp(t)

	content := "name,alt,country,type,class,icon,place_id,lat,long,boundry,size,importance,used\n" +
		"\"Good Town, Canada\",\"Good Town, Ontario, Canada\",CA,town,place,,1,44.5,-79.5,,,0.4,0\n" +
		"\"Bad Lat, Canada\",\"Bad Lat, Canada\",CA,town,place,,2,not-a-number,-79.5,,,,0\n" +
		"Too Short\n" +
		",\"Nameless, Canada\",CA,town,place,,3,44.5,-79.5,,,,0\n"
	path := filet.TmpFile(t, "", content).Name()

	addrCache := cache.New(slog.Default(), cache.Options{})
	require.NoError(t, addrCache.Load(path))

	assert.Equal(t, 1, addrCache.Len())
	_, ok := addrCache.Lookup("Good Town, Canada")
	assert.True(t, ok)
}

func TestAddressCache_LoadMissingFile(t *testing.T) {
	defer filet.CleanUp(t)
	path := filepath.Join(filet.TmpDir(t, ""), cache.DefaultFileName)

	addrCache := cache.New(slog.Default(), cache.Options{})
	require.NoError(t, addrCache.Load(path))
	assert.Zero(t, addrCache.Len())
	assert.False(t, addrCache.Dirty())
}

func TestAddressCache_RetryUnresolvedDropsNegatives(t *testing.T) {
	defer filet.CleanUp(t)
	path := filepath.Join(filet.TmpDir(t, ""), cache.DefaultFileName)

	seeded := cache.New(slog.Default(), cache.Options{})
	seeded.Put(newTestLocation("Resolved, Canada", "Resolved, Ontario, Canada", 44.5, -79.5))
	seeded.Put(&models.Location{Name: "Nowhere At All", DisplayName: "Nowhere At All, Canada"})
	_, err := seeded.Save(path)
	require.NoError(t, err)

	kept := cache.New(slog.Default(), cache.Options{})
	require.NoError(t, kept.Load(path))
	assert.Equal(t, 2, kept.Len(), "default load keeps negative entries")

	retried := cache.New(slog.Default(), cache.Options{RetryUnresolved: true})
	require.NoError(t, retried.Load(path))
	assert.Equal(t, 1, retried.Len())
	_, ok := retried.Lookup("Nowhere At All")
	assert.False(t, ok)
}

func TestAddressCache_CacheOnlyNeverWrites(t *testing.T) {
	defer filet.CleanUp(t)
	path := filepath.Join(filet.TmpDir(t, ""), cache.DefaultFileName)

	addrCache := cache.New(slog.Default(), cache.Options{CacheOnly: true})
	addrCache.Put(newTestLocation("Oslo, Norway", "Oslo, Norway", 59.91, 10.75))

	written, err := addrCache.Save(path)
	require.NoError(t, err)
	assert.False(t, written)
	assert.NoFileExists(t, path)
}

func TestAddressCache_Stats(t *testing.T) {
	addrCache := cache.New(slog.Default(), cache.Options{})

	resolved := newTestLocation("Lyon, France", "Lyon, France", 45.76, 4.83)
	resolved.UsageCount = 3
	addrCache.Put(resolved)

	negative := &models.Location{Name: "Atlantis", DisplayName: "Atlantis, Ocean", UsageCount: 2}
	addrCache.Put(negative)

	addrCache.Put(newTestLocation("Untouched, Canada", "Untouched, Ontario, Canada", 44, -79))

	stats := addrCache.Stats()
	assert.Equal(t, 2, stats.UniqueUsed)
	assert.Equal(t, 1, stats.UnresolvedUsed)
	assert.Equal(t, 5, stats.TotalLookups)
}

func TestParseBounds(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []float64
		wantErr bool
	}{
		{
			name:  "plain list",
			input: "[44.09,44.11,-79.45,-79.43]",
			want:  []float64{44.09, 44.11, -79.45, -79.43},
		},
		{
			name:  "legacy quoted elements",
			input: "['44.09', '44.11', '-79.45', '-79.43']",
			want:  []float64{44.09, 44.11, -79.45, -79.43},
		},
		{
			name:  "empty cell",
			input: "",
			want:  nil,
		},
		{
			name:    "wrong element count",
			input:   "[1,2,3]",
			wantErr: true,
		},
		{
			name:    "garbage element",
			input:   "[1,2,three,4]",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := cache.ParseBounds(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
