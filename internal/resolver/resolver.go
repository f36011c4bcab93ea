// Package resolver answers address lookups from the cache, trying an
// exact key, then the display-name alias index, then a fuzzy key scan.
package resolver

import (
	"log/slog"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"github.com/xrash/smetrics"

	"github.com/rootstrail/pinpoint/internal/cache"
	"github.com/rootstrail/pinpoint/internal/models"
)

// maxAliasDepth bounds how many display-name hops a backfill may take.
const maxAliasDepth = 4

// minFuzzyLength is the shortest key worth fuzzy matching. Anything
// shorter produces far too many false positives.
const minFuzzyLength = 4

// Jaro-Winkler parameters, the conventional values.
const (
	jaroBoostThreshold = 0.7
	jaroPrefixSize     = 4
)

// Resolver serves lookups against an address cache.
type Resolver struct {
	cache       *cache.AddressCache
	log         *slog.Logger
	jwThreshold float64
	maxDistance int
}

// New creates a resolver. jwThreshold is the minimum Jaro-Winkler
// similarity for a fuzzy match; maxDistance caps the edit distance a
// fuzzy match may have on top of that.
func New(addrCache *cache.AddressCache, log *slog.Logger, jwThreshold float64, maxDistance int) *Resolver {
	return &Resolver{
		cache:       addrCache,
		log:         log,
		jwThreshold: jwThreshold,
		maxDistance: maxDistance,
	}
}

// Resolve looks an address up in the cache and reports where the match
// came from. Entries without coordinates are backfilled from their
// display-name chain first, so a negative entry whose display name was
// later resolved still yields a position.
func (r *Resolver) Resolve(address string) (*models.Location, models.ResolutionSource) {
	key := models.Key(address)
	if key == "" {
		return nil, models.SourceNone
	}
	visited := map[string]bool{key: true}

	if loc, ok := r.cache.Lookup(key); ok {
		r.backfill(loc, 0, visited)
		return loc, models.SourceCache
	}

	if canon, ok := r.cache.AliasKey(key); ok {
		if loc, found := r.cache.Lookup(canon); found {
			visited[canon] = true
			r.backfill(loc, 0, visited)
			return loc, models.SourceAlias
		}
	}

	if match := r.fuzzyKey(key); match != "" {
		if loc, ok := r.cache.Lookup(match); ok {
			r.log.Debug("fuzzy key match", "address", address, "match", match)
			visited[match] = true
			r.backfill(loc, 0, visited)
			return loc, models.SourceFuzzy
		}
	}

	return nil, models.SourceNone
}

// backfill copies coordinates onto loc from the entry its display name
// points at, following the chain up to maxAliasDepth hops. visited
// guards against display names that loop back on themselves.
func (r *Resolver) backfill(loc *models.Location, depth int, visited map[string]bool) {
	if loc.HasCoordinates() {
		return
	}
	next := models.Key(loc.DisplayName)
	if next == "" {
		return
	}
	if depth >= maxAliasDepth {
		r.log.Warn("display name chain truncated", "entry", loc.Name, "depth", depth)
		return
	}
	if visited[next] {
		return
	}
	visited[next] = true

	target, ok := r.cache.Lookup(next)
	if !ok {
		canon, found := r.cache.AliasKey(next)
		if !found || visited[canon] {
			return
		}
		visited[canon] = true
		if target, ok = r.cache.Lookup(canon); !ok {
			return
		}
	}

	r.backfill(target, depth+1, visited)
	if target.HasCoordinates() {
		loc.Lat, loc.Lon = target.Lat, target.Lon
	}
}

// fuzzyKey scans all cache keys for the closest one to key. A match
// must clear the Jaro-Winkler threshold and stay within the edit
// distance cap; the highest-scoring candidate wins.
func (r *Resolver) fuzzyKey(key string) string {
	if utf8.RuneCountInString(key) < minFuzzyLength {
		return ""
	}

	best, bestScore := "", 0.0
	for _, candidate := range r.cache.Keys() {
		score := smetrics.JaroWinkler(key, candidate, jaroBoostThreshold, jaroPrefixSize)
		if score < r.jwThreshold || score <= bestScore {
			continue
		}
		if levenshtein.ComputeDistance(key, candidate) > r.maxDistance {
			continue
		}
		best, bestScore = candidate, score
	}
	return best
}
