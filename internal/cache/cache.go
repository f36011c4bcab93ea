// Package cache keeps resolved place records in memory and persists
// them as a portable CSV file with generational backups.
package cache

import (
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rootstrail/pinpoint/internal/models"
)

// DefaultFileName is the primary cache file name. The historical name
// is kept so caches written by earlier tooling keep loading.
const DefaultFileName = "geodat-address-cache.csv"

// backupGenerations is how many rotated copies are kept next to the
// primary file.
const backupGenerations = 2

const boundsElements = 4

// header is the fixed column set. "boundry" is misspelled in every
// existing cache file and must stay that way for compatibility.
var header = []string{
	"name", "alt", "country", "type", "class", "icon",
	"place_id", "lat", "long", "boundry", "size", "importance", "used",
}

// Options configures cache behavior for a run.
type Options struct {
	CacheOnly       bool // never write the file
	RetryUnresolved bool // drop negative entries at load so they are retried
}

// AddressCache is an in-memory place index backed by a CSV file.
// Lookups are keyed by the lowercased address; provider display names
// form a secondary index pointing back at the canonical key.
type AddressCache struct {
	log     *slog.Logger
	opts    Options
	entries map[string]*models.Location
	aliases map[string]string
	loadSum string
}

// New creates an empty cache.
func New(log *slog.Logger, opts Options) *AddressCache {
	cache := &AddressCache{
		log:     log,
		opts:    opts,
		entries: make(map[string]*models.Location),
		aliases: make(map[string]string),
	}
	cache.loadSum = cache.checksum()
	return cache
}

// Load reads the cache file at path. A missing file leaves the cache
// empty and is not an error. Malformed rows are skipped with a warning
// so one bad row never discards a usable cache.
func (c *AddressCache) Load(path string) error {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			c.log.Info("no address cache found, starting empty", "path", path)
			c.loadSum = c.checksum()
			return nil
		}
		return fmt.Errorf("failed to open cache file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	if _, err = reader.Read(); err != nil { // header row
		if errors.Is(err, io.EOF) {
			c.loadSum = c.checksum()
			return nil
		}
		return fmt.Errorf("failed to read cache header: %w", err)
	}

	loaded, skipped := 0, 0
	for line := 2; ; line++ {
		record, rerr := reader.Read()
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			c.log.Warn("skipping unreadable cache row", "line", line, "error", rerr)
			skipped++
			continue
		}

		loc, perr := parseRow(record)
		if perr != nil {
			c.log.Warn("skipping malformed cache row", "line", line, "error", perr)
			skipped++
			continue
		}
		if loc == nil { // blank name
			continue
		}
		if c.opts.RetryUnresolved && !loc.HasCoordinates() {
			continue
		}

		c.Put(loc)
		loaded++
	}

	c.loadSum = c.checksum()
	c.log.Info("address cache loaded", "path", path, "entries", loaded, "skipped", skipped)
	return nil
}

// parseRow turns one CSV record into a Location. A nil Location with a
// nil error means the row carried no name and is silently dropped.
func parseRow(record []string) (*models.Location, error) {
	if len(record) < len(header) {
		return nil, fmt.Errorf("expected %d columns, got %d", len(header), len(record))
	}
	name := strings.TrimSpace(record[0])
	if name == "" {
		return nil, nil
	}

	loc := &models.Location{
		Name:        name,
		DisplayName: record[1],
		CountryCode: record[2],
		PlaceType:   record[3],
		PlaceClass:  record[4],
		IconRef:     record[5],
		ProviderID:  record[6],
	}

	lat, err := parseOptionalFloat(record[7])
	if err != nil {
		return nil, fmt.Errorf("bad latitude %q: %w", record[7], err)
	}
	lon, err := parseOptionalFloat(record[8])
	if err != nil {
		return nil, fmt.Errorf("bad longitude %q: %w", record[8], err)
	}
	loc.Lat, loc.Lon = lat, lon

	// Auxiliary fields degrade to empty instead of discarding the row.
	if bounds, berr := ParseBounds(record[9]); berr == nil {
		loc.BoundingBox = bounds
	}
	if size, serr := parseOptionalFloat(record[10]); serr == nil {
		loc.AreaSize = size
	}
	if importance, ierr := parseOptionalFloat(record[11]); ierr == nil {
		loc.Importance = importance
	}

	// The used column is intentionally ignored: counts start at zero
	// every run.
	return loc, nil
}

// ParseBounds parses a bounding box cell. Cells written by this
// implementation look like [44.1,44.2,-79.2,-79.1]; files from the
// predecessor tooling carry Python list syntax with quoted elements,
// which is accepted too. Anything else is rejected.
func ParseBounds(s string) ([]float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")

	parts := strings.Split(s, ",")
	if len(parts) != boundsElements {
		return nil, fmt.Errorf("bounding box has %d elements, want %d", len(parts), boundsElements)
	}

	bounds := make([]float64, 0, len(parts))
	for _, part := range parts {
		part = strings.Trim(strings.TrimSpace(part), `'"`)
		value, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return nil, fmt.Errorf("bad bounding box element %q: %w", part, err)
		}
		bounds = append(bounds, value)
	}
	return bounds, nil
}

// Put inserts or replaces an entry and indexes its display name.
func (c *AddressCache) Put(loc *models.Location) {
	key := models.Key(loc.Name)
	if key == "" {
		return
	}
	c.entries[key] = loc
	if alt := models.Key(loc.DisplayName); alt != "" {
		c.aliases[alt] = key
	}
}

// Lookup returns the entry stored under an address, if any.
func (c *AddressCache) Lookup(address string) (*models.Location, bool) {
	loc, ok := c.entries[models.Key(address)]
	return loc, ok
}

// AliasKey maps a provider display name back to its canonical key.
func (c *AddressCache) AliasKey(displayName string) (string, bool) {
	key, ok := c.aliases[models.Key(displayName)]
	return key, ok
}

// Len returns the number of cached entries.
func (c *AddressCache) Len() int {
	return len(c.entries)
}

// Keys returns every cache key in sorted order.
func (c *AddressCache) Keys() []string {
	keys := make([]string, 0, len(c.entries))
	for key := range c.entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Dirty reports whether the in-memory entries differ from what was
// last loaded or saved.
func (c *AddressCache) Dirty() bool {
	return c.checksum() != c.loadSum
}

// Save writes the cache to path, rotating the backup generations
// first. The write is skipped in cache-only mode and when nothing
// persistable changed since the last load or save. It reports whether
// a file was written.
func (c *AddressCache) Save(path string) (bool, error) {
	if c.opts.CacheOnly {
		c.log.Debug("cache-only mode, not writing cache file")
		return false, nil
	}
	sum := c.checksum()
	if sum == c.loadSum {
		c.log.Debug("address cache unchanged, skipping write", "path", path)
		return false, nil
	}

	if err := rotateBackups(path); err != nil {
		return false, fmt.Errorf("failed to rotate cache backups: %w", err)
	}
	if err := c.writeFile(path); err != nil {
		return false, fmt.Errorf("failed to write cache file: %w", err)
	}

	c.loadSum = sum
	c.log.Info("address cache saved", "path", path, "entries", len(c.entries))
	return true, nil
}

// Stats summarizes how the cache served the current run.
type Stats struct {
	UniqueUsed     int // entries looked up at least once
	UnresolvedUsed int // used entries that carry no coordinates
	TotalLookups   int // every lookup served, counting repeats
}

// Stats tallies usage counters across all entries.
func (c *AddressCache) Stats() Stats {
	var stats Stats
	for _, loc := range c.entries {
		if loc.UsageCount == 0 {
			continue
		}
		stats.UniqueUsed++
		stats.TotalLookups += loc.UsageCount
		if !loc.HasCoordinates() {
			stats.UnresolvedUsed++
		}
	}
	return stats
}

// BackupPath returns the nth backup name for a cache path, for example
// geodat-address-cache-1.csv for n=1.
func BackupPath(path string, n int) string {
	ext := filepath.Ext(path)
	return fmt.Sprintf("%s-%d%s", strings.TrimSuffix(path, ext), n, ext)
}

// rotateBackups shifts path to path-1 to path-2, dropping the oldest
// generation.
func rotateBackups(path string) error {
	oldest := BackupPath(path, backupGenerations)
	if _, err := os.Stat(oldest); err == nil {
		if err = os.Remove(oldest); err != nil {
			return fmt.Errorf("failed to remove oldest backup: %w", err)
		}
	}
	for n := backupGenerations - 1; n >= 1; n-- {
		from := BackupPath(path, n)
		if _, err := os.Stat(from); err == nil {
			if err = os.Rename(from, BackupPath(path, n+1)); err != nil {
				return fmt.Errorf("failed to shift backup %d: %w", n, err)
			}
		}
	}
	if _, err := os.Stat(path); err == nil {
		if err = os.Rename(path, BackupPath(path, 1)); err != nil {
			return fmt.Errorf("failed to back up cache file: %w", err)
		}
	}
	return nil
}

// writeFile writes all entries to a temp file in the target directory
// and renames it into place, so a crash mid-write never truncates the
// primary file.
func (c *AddressCache) writeFile(path string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	writer := csv.NewWriter(tmp)
	if err = writer.Write(header); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, key := range c.Keys() {
		if err = writer.Write(formatRow(c.entries[key])); err != nil {
			tmp.Close()
			return fmt.Errorf("failed to write row: %w", err)
		}
	}
	writer.Flush()
	if err = writer.Error(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to flush rows: %w", err)
	}

	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move cache file into place: %w", err)
	}
	return nil
}

func formatRow(loc *models.Location) []string {
	size := loc.AreaSize
	if size == nil && len(loc.BoundingBox) == boundsElements {
		area := loc.Area()
		size = &area
	}
	return []string{
		loc.Name,
		loc.DisplayName,
		loc.CountryCode,
		loc.PlaceType,
		loc.PlaceClass,
		loc.IconRef,
		loc.ProviderID,
		formatOptionalFloat(loc.Lat),
		formatOptionalFloat(loc.Lon),
		formatBounds(loc.BoundingBox),
		formatOptionalFloat(size),
		formatOptionalFloat(loc.Importance),
		strconv.Itoa(loc.UsageCount),
	}
}

func formatBounds(bounds []float64) string {
	if len(bounds) != boundsElements {
		return ""
	}
	parts := make([]string, len(bounds))
	for i, value := range bounds {
		parts[i] = strconv.FormatFloat(value, 'f', -1, 64)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func parseOptionalFloat(s string) (*float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	value, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return &value, nil
}

func formatOptionalFloat(f *float64) string {
	if f == nil {
		return ""
	}
	return strconv.FormatFloat(*f, 'f', -1, 64)
}

// checksum fingerprints the fields worth persisting. Usage counts are
// excluded so runs that only count hits skip the rewrite.
func (c *AddressCache) checksum() string {
	hash := sha256.New()
	for _, key := range c.Keys() {
		loc := c.entries[key]
		hash.Write([]byte(loc.Name))
		hash.Write([]byte(loc.DisplayName))
		hash.Write([]byte(formatOptionalFloat(loc.Lat)))
		hash.Write([]byte(formatOptionalFloat(loc.Lon)))
	}
	return hex.EncodeToString(hash.Sum(nil))
}
