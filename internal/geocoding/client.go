package geocoding

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/rootstrail/pinpoint/internal/metrics"
	"github.com/rootstrail/pinpoint/internal/models"
)

// Client wraps a Provider with rate limiting, per-request timeouts,
// a failure cooldown and request metrics. It is the only path the
// rest of the application takes to the network.
type Client struct {
	provider     Provider
	providerName string // Name of the provider for metrics labeling
	limiter      *rate.Limiter
	timeout      time.Duration
	errorWait    time.Duration
	clock        clockwork.Clock
	log          *slog.Logger
	metrics      *metrics.Metrics
}

// ClientConfig holds the knobs for a lookup client. Zero values fall
// back to defaults suited to the public Nominatim API.
type ClientConfig struct {
	RequestsPerSecond float64          // sustained request rate, defaults to 1 rps
	Timeout           time.Duration    // per-request deadline
	ErrorWait         time.Duration    // pause after a provider failure, 0 disables it
	Limiter           *rate.Limiter    // overrides RequestsPerSecond when set
	Clock             clockwork.Clock  // injectable clock for tests
	Logger            *slog.Logger     // Logger for the client
	Metrics           *metrics.Metrics // Metrics for tracking request outcomes
}

// NewClient wraps a provider in a rate-limited lookup client.
func NewClient(provider Provider, providerName string, config ClientConfig) *Client {
	rps := config.RequestsPerSecond
	if rps <= 0 {
		rps = 1 // Nominatim fair-use policy
	}
	limiter := config.Limiter
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
	timeout := config.Timeout
	if timeout <= 0 {
		const defaultTimeout = 5
		timeout = defaultTimeout * time.Second
	}
	clock := config.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	log := config.Logger
	if log == nil {
		log = slog.Default()
	}
	mtr := config.Metrics
	if mtr == nil {
		mtr = metrics.NewMetrics(prometheus.NewRegistry())
	}

	return &Client{
		provider:     provider,
		providerName: providerName,
		limiter:      limiter,
		timeout:      timeout,
		errorWait:    config.ErrorWait,
		clock:        clock,
		log:          log,
		metrics:      mtr,
	}
}

// Lookup geocodes one address, returning nil on a miss or a failure.
// Misses are quiet; failures are logged, counted and followed by the
// configured cooldown so a struggling provider is not hammered.
func (c *Client) Lookup(ctx context.Context, address, countryCode string) *models.Location {
	if err := c.limiter.Wait(ctx); err != nil {
		c.log.DebugContext(ctx, "Rate limiter wait interrupted", "error", err)
		return nil
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	startTime := c.clock.Now()
	loc, err := c.provider.Geocode(reqCtx, address, countryCode)
	duration := c.clock.Since(startTime).Seconds()
	c.metrics.RequestSeconds.WithLabelValues(c.providerName).Observe(duration)

	if err != nil {
		if errors.Is(err, ErrNoResult) {
			c.log.DebugContext(ctx, "Provider found nothing", "address", address)
			return nil
		}
		c.log.ErrorContext(ctx, "Failed to geocode", "address", address, "error", err)
		c.metrics.ProviderErrors.Inc()
		c.cooldown(ctx)
		return nil
	}

	return loc
}

// cooldown pauses after a provider failure, bailing early when the
// run is shutting down.
func (c *Client) cooldown(ctx context.Context) {
	if c.errorWait <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-c.clock.After(c.errorWait):
	}
}
