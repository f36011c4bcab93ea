package geocoding

import (
	"context"
	"errors"

	"github.com/rootstrail/pinpoint/internal/models"
)

// Provider is an interface that defines a method for geocoding an address.
// The Geocode method takes a context, an address string and an optional
// ISO country code to bias the search, and returns the best matching
// place or an error if any occurs.
type Provider interface {
	Geocode(ctx context.Context, address, countryCode string) (*models.Location, error)
}

// ErrNoResult is returned when a provider answered normally but found
// nothing for the address. Callers treat it as a miss, not a failure.
var ErrNoResult = errors.New("provider returned no result")
