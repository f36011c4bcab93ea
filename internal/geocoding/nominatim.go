package geocoding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/rootstrail/pinpoint/internal/models"
)

// NominatimProvider implements the Provider interface using OpenStreetMap's Nominatim API.
// This is a free geocoding service with usage limits (1 request/second for fair use).
type NominatimProvider struct {
	client  HTTPClient   // HTTP client for making requests
	baseURL string       // Base URL for the Nominatim API
	log     *slog.Logger // Logger for logging operations
	// userAgent is required by Nominatim usage policy
	userAgent string
}

// HTTPClient defines the interface for making HTTP requests.
// This allows for easy mocking in tests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// nominatimResponse represents the JSON response from Nominatim API.
type nominatimResponse struct {
	PlaceID     int64    `json:"place_id"`
	DisplayName string   `json:"display_name"`
	Category    string   `json:"category"` // place class under format=jsonv2
	Class       string   `json:"class"`    // place class under the v1 format
	Type        string   `json:"type"`
	Icon        string   `json:"icon"`
	Lat         string   `json:"lat"` // Latitude as string
	Lon         string   `json:"lon"` // Longitude as string
	BoundingBox []string `json:"boundingbox"`
	Importance  *float64 `json:"importance"`
}

// ErrNominatimInvalidCoords is returned when the API answers with
// coordinates that do not parse as numbers.
var ErrNominatimInvalidCoords = errors.New("nominatim API returned invalid coordinates")

// NewNominatimProvider creates a new Nominatim geocoding provider.
// Uses the public Nominatim API endpoint by default. The contact string
// ends up in the User-Agent header as the usage policy requires.
func NewNominatimProvider(contact string, log *slog.Logger) *NominatimProvider {
	const timeout = 10
	return &NominatimProvider{
		client: &http.Client{
			Timeout: timeout * time.Second,
		},
		baseURL: "https://nominatim.openstreetmap.org/search",
		log:     log,
		// User-Agent MUST include valid contact info per Nominatim usage policy:
		// https://operations.osmfoundation.org/policies/nominatim/
		userAgent: buildUserAgent(contact),
	}
}

// NewNominatimProviderWithClient creates a Nominatim provider with a custom HTTP client.
// Useful for testing with mocked HTTP clients.
func NewNominatimProviderWithClient(client HTTPClient, contact string, log *slog.Logger) *NominatimProvider {
	return &NominatimProvider{
		client:    client,
		baseURL:   "https://nominatim.openstreetmap.org/search",
		log:       log,
		userAgent: buildUserAgent(contact),
	}
}

// buildUserAgent formats the User-Agent header. Contact falls back to
// the project URL so the header never ships without a way to reach us.
func buildUserAgent(contact string) string {
	if contact == "" {
		contact = "https://github.com/rootstrail/pinpoint"
	}
	return fmt.Sprintf("pinpoint/1.0 (%s; %s/%s)", contact, runtime.GOOS, runtime.GOARCH)
}

// Geocode looks an address up on the Nominatim API and returns the top
// match. A non-empty countryCode restricts results to that country.
//
// Note: Nominatim has a rate limit of 1 request/second for fair use.
// For production use with high volume, consider self-hosting Nominatim or using a commercial provider.
func (np *NominatimProvider) Geocode(ctx context.Context, address, countryCode string) (*models.Location, error) {
	np.log.DebugContext(ctx, "Geocoding using Nominatim", "address", address, "country", countryCode)

	// Build request URL with query parameters
	reqURL, err := url.Parse(np.baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse base URL: %w", err)
	}

	query := reqURL.Query()
	query.Set("q", address)
	query.Set("format", "jsonv2")
	query.Set("limit", "1")          // Only need the top result
	query.Set("addressdetails", "1") // Include detailed address breakdown for better matching
	if countryCode != "" {
		query.Set("countrycodes", strings.ToLower(countryCode))
	}
	reqURL.RawQuery = query.Encode()

	np.log.DebugContext(ctx, "Nominatim request URL", "url", reqURL.String())

	// Create HTTP request
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	// Set required headers per Nominatim usage policy
	req.Header.Set("User-Agent", np.userAgent)

	// Execute request
	resp, err := np.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute geocoding request: %w", err)
	}
	defer resp.Body.Close()

	// Check HTTP status
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		np.log.ErrorContext(ctx, "Nominatim API error", "status", resp.StatusCode, "body", string(body))
		return nil, fmt.Errorf("nominatim API returned status %d: %s", resp.StatusCode, string(body))
	}

	// Read response body
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	// Parse response
	var results []nominatimResponse
	if err = json.Unmarshal(body, &results); err != nil {
		np.log.ErrorContext(ctx, "Failed to parse Nominatim response", "error", err, "body", string(body))
		return nil, fmt.Errorf("failed to decode nominatim response: %w", err)
	}

	// Check if we got any results
	if len(results) == 0 {
		return nil, ErrNoResult
	}

	np.log.DebugContext(ctx, "Nominatim found result", "display_name", results[0].DisplayName)

	return toLocation(address, results[0])
}

// toLocation maps a Nominatim result onto the cache record shape. The
// queried address becomes the record name; the display name keeps what
// the API actually matched.
func toLocation(address string, result nominatimResponse) (*models.Location, error) {
	const boundsLen = 4

	lat, err := strconv.ParseFloat(result.Lat, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid latitude: %s", ErrNominatimInvalidCoords, result.Lat)
	}
	lon, err := strconv.ParseFloat(result.Lon, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid longitude: %s", ErrNominatimInvalidCoords, result.Lon)
	}

	class := result.Category
	if class == "" {
		class = result.Class
	}

	loc := &models.Location{
		Name:        address,
		DisplayName: result.DisplayName,
		PlaceType:   result.Type,
		PlaceClass:  class,
		IconRef:     result.Icon,
		ProviderID:  strconv.FormatInt(result.PlaceID, 10),
		Lat:         &lat,
		Lon:         &lon,
		Importance:  result.Importance,
	}

	if len(result.BoundingBox) == boundsLen {
		bounds := make([]float64, 0, boundsLen)
		for _, raw := range result.BoundingBox {
			value, perr := strconv.ParseFloat(raw, 64)
			if perr != nil {
				bounds = nil
				break
			}
			bounds = append(bounds, value)
		}
		if bounds != nil {
			loc.BoundingBox = bounds
			area := loc.Area()
			loc.AreaSize = &area
		}
	}

	return loc, nil
}
