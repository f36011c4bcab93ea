// Package service drives a resolution run: it answers each place
// reference from the cache, improves and geocodes the misses, and
// checkpoints the cache as new entries accumulate.
package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/rootstrail/pinpoint/internal/cache"
	"github.com/rootstrail/pinpoint/internal/geocoding"
	"github.com/rootstrail/pinpoint/internal/metrics"
	"github.com/rootstrail/pinpoint/internal/models"
	"github.com/rootstrail/pinpoint/internal/normalizer"
	"github.com/rootstrail/pinpoint/internal/resolver"
)

const (
	defaultCheckpointEvery = 512
	defaultCheckpointAge   = 5 * time.Minute
)

// ProgressFunc receives a report after every processed reference.
type ProgressFunc func(models.Progress)

// Options configures a resolution run.
type Options struct {
	CachePath       string          // CachePath is where the cache file lives.
	CheckpointEvery int             // New entries between checkpoint saves.
	CheckpointAge   time.Duration   // Maximum age of unsaved changes before a checkpoint.
	Clock           clockwork.Clock // Injectable clock for tests.
	Progress        ProgressFunc    // Optional per-reference progress callback.
}

// Service resolves batches of place references against the cache and,
// when one is configured, a geocoding provider.
type Service struct {
	log      *slog.Logger           // Logger for logging service activities
	cache    *cache.AddressCache    // In-memory address cache
	resolver *resolver.Resolver     // Cache lookup strategies
	norm     *normalizer.Normalizer // Address cleanup and country inference
	client   *geocoding.Client      // Network lookups, nil in cache-only runs
	metrics  *metrics.Metrics       // Metrics for tracking lookup outcomes
	opts     Options
}

// New creates a resolution service. Passing a nil client keeps the run
// cache-only: misses stay unresolved instead of going to the network.
func New(
	log *slog.Logger,
	addrCache *cache.AddressCache,
	res *resolver.Resolver,
	norm *normalizer.Normalizer,
	client *geocoding.Client,
	mtr *metrics.Metrics,
	opts Options,
) *Service {
	if opts.CheckpointEvery <= 0 {
		opts.CheckpointEvery = defaultCheckpointEvery
	}
	if opts.CheckpointAge <= 0 {
		opts.CheckpointAge = defaultCheckpointAge
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}

	return &Service{
		log:      log,
		cache:    addrCache,
		resolver: res,
		norm:     norm,
		client:   client,
		metrics:  mtr,
		opts:     opts,
	}
}

// runTotals accumulates counters over one ResolveAll call.
type runTotals struct {
	done       int
	hits       int
	misses     int
	failures   int
	newEntries int
	sinceSave  int
}

// ResolveAll works through refs in order, annotating each one in
// place. Cancellation stops the run cleanly: progress so far is saved
// and no error is returned, so an interrupted batch can simply be
// rerun and pick up from the cache.
func (s *Service) ResolveAll(ctx context.Context, refs []*models.PlaceRef) error {
	totals := &runTotals{}
	lastSave := s.opts.Clock.Now()

	for _, ref := range refs {
		if ctx.Err() != nil {
			s.log.InfoContext(ctx, "Run interrupted, saving progress",
				"done", totals.done, "remaining", len(refs)-totals.done)
			s.save(ctx)
			return nil
		}

		s.resolveOne(ctx, ref, totals)
		totals.done++
		s.report(ref, totals, len(refs))

		if totals.sinceSave >= s.opts.CheckpointEvery || s.opts.Clock.Since(lastSave) >= s.opts.CheckpointAge {
			s.save(ctx)
			totals.sinceSave = 0
			lastSave = s.opts.Clock.Now()
		}
	}

	s.save(ctx)
	s.logStats(ctx, totals)
	return nil
}

// resolveOne answers a single reference: cache first, then the cache
// again under the improved address, then the network.
func (s *Service) resolveOne(ctx context.Context, ref *models.PlaceRef, totals *runTotals) {
	address := strings.TrimSpace(ref.Address)
	if address == "" {
		ref.Status = models.StatusUnresolved
		ref.Source = models.SourceNone
		return
	}

	loc, source := s.resolver.Resolve(address)
	improved, country := address, ref.CountryHint
	if loc == nil {
		improved, country = s.norm.Improve(address, ref.CountryHint)
		if !strings.EqualFold(improved, address) {
			loc, source = s.resolver.Resolve(improved)
		}
	}
	if loc == nil {
		loc, source = s.geocode(ctx, ref, improved, country, totals)
	}

	if loc == nil {
		// A lookup cut short by cancellation is not an answer; the
		// reference stays pending so a rerun retries it.
		if ctx.Err() != nil {
			return
		}
		ref.Status = models.StatusUnresolved
		ref.Source = models.SourceNone
		s.metrics.Lookups.WithLabelValues("unresolved").Inc()
		totals.misses++
		return
	}

	loc.Touch()
	s.annotate(ref, loc, source)
	s.metrics.Lookups.WithLabelValues(outcomeLabel(loc, source)).Inc()
	if source == models.SourceNetwork {
		totals.misses++
	} else {
		totals.hits++
	}
}

// geocode asks the provider about an address the cache could not
// answer. Both outcomes are cached: a match as a regular entry, a miss
// as a negative entry so the provider is never asked about the same
// address twice. A lookup interrupted by cancellation is neither
// outcome and caches nothing.
func (s *Service) geocode(
	ctx context.Context,
	ref *models.PlaceRef,
	improved, country string,
	totals *runTotals,
) (*models.Location, models.ResolutionSource) {
	if s.client == nil {
		return nil, models.SourceNone
	}

	loc := s.client.Lookup(ctx, improved, country)
	if loc == nil && ctx.Err() != nil {
		// The run is shutting down, not the provider saying "unknown".
		return nil, models.SourceNone
	}
	if loc == nil {
		totals.failures++
		loc = &models.Location{Name: ref.Address, DisplayName: improved, CountryCode: country}
	} else {
		// The raw address keys the entry; the provider's display name
		// stays on it as the alias.
		loc.Name = ref.Address
		loc.CountryCode = country
	}

	s.cache.Put(loc)
	totals.newEntries++
	totals.sinceSave++
	return loc, models.SourceNetwork
}

func (s *Service) annotate(ref *models.PlaceRef, loc *models.Location, source models.ResolutionSource) {
	ref.Source = source
	if loc.HasCoordinates() {
		ref.Position = &models.LatLon{Lat: *loc.Lat, Lon: *loc.Lon}
		ref.Status = models.StatusResolved
	} else {
		ref.Position = nil
		ref.Status = models.StatusUnresolved
	}
}

func (s *Service) report(ref *models.PlaceRef, totals *runTotals, target int) {
	if s.opts.Progress == nil {
		return
	}
	s.opts.Progress(models.Progress{
		Address:    ref.Address,
		Done:       totals.done,
		Target:     target,
		Hits:       totals.hits,
		Misses:     totals.misses,
		Failures:   totals.failures,
		NewEntries: totals.newEntries,
	})
}

// save checkpoints the cache and refreshes the cache gauges. Failures
// are logged rather than propagated so one bad write never aborts a
// long run.
func (s *Service) save(ctx context.Context) {
	written, err := s.cache.Save(s.opts.CachePath)
	switch {
	case err != nil:
		s.log.ErrorContext(ctx, "Failed to save address cache", "error", err)
		s.metrics.CacheSaves.WithLabelValues("failed").Inc()
	case written:
		s.metrics.CacheSaves.WithLabelValues("written").Inc()
	default:
		s.metrics.CacheSaves.WithLabelValues("skipped").Inc()
	}
	s.metrics.CacheEntries.Set(float64(s.cache.Len()))
}

func (s *Service) logStats(ctx context.Context, totals *runTotals) {
	stats := s.cache.Stats()
	hitRate := 0.0
	if totals.done > 0 {
		hitRate = float64(totals.hits) / float64(totals.done)
	}
	s.log.InfoContext(ctx, "Resolution run finished",
		"processed", totals.done,
		"hits", totals.hits,
		"misses", totals.misses,
		"provider_failures", totals.failures,
		"new_entries", totals.newEntries,
		"unique_used", stats.UniqueUsed,
		"unresolved_used", stats.UnresolvedUsed,
		"total_lookups", stats.TotalLookups,
		"hit_rate", hitRate,
	)
}

// outcomeLabel names a lookup outcome for the metrics counter.
func outcomeLabel(loc *models.Location, source models.ResolutionSource) string {
	if !loc.HasCoordinates() {
		if source == models.SourceNetwork {
			return "unresolved"
		}
		return "negative_hit"
	}
	switch source {
	case models.SourceCache:
		return "cache_hit"
	case models.SourceAlias:
		return "alias_hit"
	case models.SourceFuzzy:
		return "fuzzy_hit"
	case models.SourceNetwork:
		return "network_hit"
	default:
		return "unknown"
	}
}
