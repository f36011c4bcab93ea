package models

import (
	"math"
	"strings"
)

// boundsElements is the number of values in a bounding box:
// minimum latitude, maximum latitude, minimum longitude, maximum longitude.
const boundsElements = 4

// areaScale converts bounding box degree spans into the area figure
// stored in the cache file.
const areaScale = 1_000_000

// Key normalizes a free-text address into its cache key form.
func Key(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// Location is one cached place record. Name is the address as first
// encountered and forms the cache key after normalization; DisplayName
// is the canonical name the provider answered with. A Location with
// neither latitude nor longitude is a negative entry: the provider was
// asked and knew nothing.
type Location struct {
	Name        string    // address as first encountered
	DisplayName string    // canonical provider name, secondary index
	CountryCode string    // inferred ISO2 country code
	PlaceType   string    // provider place type (city, village, ...)
	PlaceClass  string    // provider place class (place, boundary, ...)
	IconRef     string    // provider icon reference
	ProviderID  string    // provider-specific place identifier
	Lat         *float64  // latitude, nil when unknown
	Lon         *float64  // longitude, nil when unknown
	BoundingBox []float64 // [min lat, max lat, min lon, max lon]
	AreaSize    *float64  // area estimate, derived from the box when nil
	Importance  *float64  // provider ranking weight
	UsageCount  int       // lookups served this run, never persisted
}

// HasCoordinates reports whether the entry carries a usable position.
func (l *Location) HasCoordinates() bool {
	return l.Lat != nil && l.Lon != nil
}

// Area returns the stored area estimate, deriving it from the bounding
// box when it was never computed.
func (l *Location) Area() float64 {
	if l.AreaSize != nil {
		return *l.AreaSize
	}
	if len(l.BoundingBox) != boundsElements {
		return 0
	}
	latSpan := math.Abs(l.BoundingBox[1] - l.BoundingBox[0])
	lonSpan := math.Abs(l.BoundingBox[3] - l.BoundingBox[2])
	return latSpan * lonSpan * areaScale
}

// Touch records one served lookup.
func (l *Location) Touch() {
	l.UsageCount++
}

// LatLon is a resolved geographic position.
type LatLon struct {
	Lat float64
	Lon float64
}
