package geocoding

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"googlemaps.github.io/maps"

	"github.com/rootstrail/pinpoint/internal/models"
)

// GoogleProvider is a struct that holds the client for Google Maps API
// and a logger for logging purposes. It is used to interact with the
// Google Maps geocoding services.
type GoogleProvider struct {
	client GoogleAPIClient // client is the Google Maps API client
	log    *slog.Logger    // log is the logger for logging operations
}

type GoogleAPIClient interface {
	Geocode(ctx context.Context, r *maps.GeocodingRequest) ([]maps.GeocodingResult, error)
}

// NewGoogleProvider initializes a new GoogleProvider with the given
// API client and logger.
func NewGoogleProvider(client GoogleAPIClient, log *slog.Logger) *GoogleProvider {
	return &GoogleProvider{client: client, log: log}
}

// Geocode takes a context, an address string and an optional ISO country
// code, and returns the top match from the Google Maps Geocoding API.
// The country code is passed through as a region bias. If the address
// cannot be geocoded or the response is empty, it returns an appropriate error.
func (gp *GoogleProvider) Geocode(ctx context.Context, address, countryCode string) (*models.Location, error) {
	gp.log.DebugContext(ctx, "Geocoding using Google Maps", "address", address, "country", countryCode)

	req := maps.GeocodingRequest{Address: address, Region: strings.ToLower(countryCode)}
	geocodeResponse, err := gp.client.Geocode(ctx, &req)
	if err != nil {
		return nil, fmt.Errorf("failed to geocode address: %w", err)
	}

	if len(geocodeResponse) == 0 {
		return nil, ErrNoResult
	}
	result := geocodeResponse[0]
	coords := result.Geometry.Location

	loc := &models.Location{
		Name:        address,
		DisplayName: result.FormattedAddress,
		ProviderID:  result.PlaceID,
		Lat:         &coords.Lat,
		Lon:         &coords.Lng,
	}
	if len(result.Types) > 0 {
		loc.PlaceType = result.Types[0]
	}
	// Viewport spans map onto the same min/max lat, min/max lon layout
	// Nominatim bounding boxes use.
	if viewport := result.Geometry.Viewport; viewport != (maps.LatLngBounds{}) {
		loc.BoundingBox = []float64{
			viewport.SouthWest.Lat, viewport.NorthEast.Lat,
			viewport.SouthWest.Lng, viewport.NorthEast.Lng,
		}
		area := loc.Area()
		loc.AreaSize = &area
	}

	return loc, nil
}
