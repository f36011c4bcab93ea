package main

import (
	"bufio"
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rootstrail/pinpoint/internal/cache"
	"github.com/rootstrail/pinpoint/internal/config"
	"github.com/rootstrail/pinpoint/internal/geocoding"
	"github.com/rootstrail/pinpoint/internal/metrics"
	"github.com/rootstrail/pinpoint/internal/models"
	"github.com/rootstrail/pinpoint/internal/normalizer"
	"github.com/rootstrail/pinpoint/internal/resolver"
	"github.com/rootstrail/pinpoint/internal/service"
)

// Constants for different environment types.
const (
	envLocal = "local"
	envDev   = "development"
	envProd  = "production"
)

// Sources for the -refresh-tables download.
const (
	countriesURL = "https://raw.githubusercontent.com/nnjeim/world/master/resources/json/countries.json"
	statesURL    = "https://raw.githubusercontent.com/nnjeim/world/master/resources/json/states.json"
)

// progressInterval is how many references pass between progress log lines.
const progressInterval = 25

// main is the entry point of the application.
func main() {
	// Create a context that will be canceled when an interrupt signal is received.
	// This allows for graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	inputPath := flag.String("input", "-", "place references to resolve, '-' for stdin")
	outputPath := flag.String("output", "-", "where resolved references are written, '-' for stdout")
	refreshTables := flag.Bool("refresh-tables", false, "download fresh country and state tables before the run")
	flag.Parse()

	// Load application configuration.
	cfg := config.MustLoad()

	// Set up the logger based on the environment configuration.
	logger := setupLogger(cfg.Env)
	logger.InfoContext(ctx, "Configuration was loaded successfully")

	// Create a separate registry for application metrics.
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	appMetrics := metrics.NewMetrics(reg)

	if *refreshTables {
		if err := refreshLookupTables(ctx, logger, cfg); err != nil {
			log.Fatalf("Failed to refresh lookup tables: %v", err)
		}
	}

	tables, err := normalizer.LoadTables(cfg.CountriesPath, cfg.StatesPath)
	if err != nil {
		log.Fatalf("Failed to load lookup tables: %v", err)
	}
	rules, err := normalizer.LoadRules(cfg.RulesPath)
	if err != nil {
		log.Fatalf("Failed to load rewrite rules: %v", err)
	}
	norm := normalizer.New(tables, rules, cfg.DefaultCountry, logger)

	// Load the persistent address cache before any lookups run.
	addrCache := cache.New(logger, cache.Options{
		CacheOnly:       cfg.CacheOnly,
		RetryUnresolved: cfg.RetryUnresolved,
	})
	cachePath := filepath.Join(cfg.CacheDir, cache.DefaultFileName)
	if err = addrCache.Load(cachePath); err != nil {
		log.Fatalf("Failed to load address cache: %v", err)
	}

	res := resolver.New(addrCache, logger, cfg.FuzzyThreshold, cfg.MaxEditDistance)

	// In cache-only mode no provider is built and misses stay misses.
	var client *geocoding.Client
	if !cfg.CacheOnly {
		provider, perr := geocoding.NewProvider(geocoding.ProviderConfig{
			Type:    geocoding.ProviderType(cfg.ProviderType),
			APIKey:  cfg.APIKey,
			Contact: cfg.Contact,
			Logger:  logger,
		})
		if perr != nil {
			log.Fatalf("Failed to create geocoding provider: %v", perr)
		}
		logger.InfoContext(ctx, "Geocoding provider initialized", "type", cfg.ProviderType)

		client = geocoding.NewClient(provider, cfg.ProviderType, geocoding.ClientConfig{
			RequestsPerSecond: cfg.RateLimit,
			Timeout:           cfg.RequestTimeout,
			ErrorWait:         cfg.ErrorWait,
			Logger:            logger,
			Metrics:           appMetrics,
		})
	}

	refs, err := readPlaceRefs(*inputPath)
	if err != nil {
		log.Fatalf("Failed to read place references: %v", err)
	}
	logger.InfoContext(ctx, "Loaded place references",
		"count", len(refs),
		"cache_entries", addrCache.Len(),
	)

	svc := service.New(logger, addrCache, res, norm, client, appMetrics, service.Options{
		CachePath:       cachePath,
		CheckpointEvery: cfg.CheckpointEvery,
		CheckpointAge:   cfg.CheckpointAge,
		Progress:        progressLogger(logger),
	})

	// Start the monitoring server in a separate goroutine.
	go startMonitoringServer(ctx, logger, reg, cfg.Port)

	if err = svc.ResolveAll(ctx, refs); err != nil {
		log.Fatalf("Resolution run failed: %v", err)
	}

	if err = writeResults(*outputPath, refs); err != nil {
		log.Fatalf("Failed to write results: %v", err)
	}

	logger.InfoContext(ctx, "Application stopped gracefully.")
}

// progressLogger returns a callback that logs every progressInterval
// references and once more on the final one.
func progressLogger(logger *slog.Logger) service.ProgressFunc {
	return func(progress models.Progress) {
		if progress.Done%progressInterval != 0 && progress.Done != progress.Target {
			return
		}
		logger.Info("Resolution progress",
			"done", progress.Done,
			"target", progress.Target,
			"hits", progress.Hits,
			"misses", progress.Misses,
			"failures", progress.Failures,
			"new_entries", progress.NewEntries,
			"address", progress.Address,
		)
	}
}

// readPlaceRefs reads one place reference per line, formatted as
// "event|address|country code" where the event and country code are
// optional. Blank lines and lines starting with '#' are skipped.
func readPlaceRefs(path string) ([]*models.PlaceRef, error) {
	var reader io.Reader = os.Stdin
	if path != "-" {
		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open input file: %w", err)
		}
		defer file.Close()
		reader = file
	}

	var refs []*models.PlaceRef

	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		const maxFields = 3
		parts := strings.SplitN(line, "|", maxFields)
		for idx := range parts {
			parts[idx] = strings.TrimSpace(parts[idx])
		}

		ref := &models.PlaceRef{Event: models.EventOther, Status: models.StatusPending}
		switch len(parts) {
		case 1:
			ref.Address = parts[0]
		case 2:
			ref.Event = eventKind(parts[0])
			ref.Address = parts[1]
		default:
			ref.Event = eventKind(parts[0])
			ref.Address = parts[1]
			ref.CountryHint = parts[2]
		}
		refs = append(refs, ref)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}

	return refs, nil
}

// eventKind maps an input label onto an event kind, defaulting to other.
func eventKind(label string) models.EventKind {
	switch strings.ToLower(label) {
	case "birth":
		return models.EventBirth
	case "death":
		return models.EventDeath
	case "marriage":
		return models.EventMarriage
	case "burial":
		return models.EventBurial
	case "residence":
		return models.EventResidence
	default:
		return models.EventOther
	}
}

// writeResults writes one CSV row per reference with its resolution.
func writeResults(path string, refs []*models.PlaceRef) error {
	var out io.Writer = os.Stdout
	if path != "-" {
		file, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer file.Close()
		out = file
	}

	writer := csv.NewWriter(out)
	if err := writer.Write([]string{"event", "address", "status", "source", "lat", "long"}); err != nil {
		return fmt.Errorf("failed to write output header: %w", err)
	}
	for _, ref := range refs {
		var lat, lon string
		if ref.Position != nil {
			lat = strconv.FormatFloat(ref.Position.Lat, 'f', -1, 64)
			lon = strconv.FormatFloat(ref.Position.Lon, 'f', -1, 64)
		}
		row := []string{string(ref.Event), ref.Address, string(ref.Status), string(ref.Source), lat, lon}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write output row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("failed to flush output: %w", err)
	}

	return nil
}

// refreshLookupTables downloads the country and state tables into the
// cache directory so later runs load them instead of the embedded
// copies. Files that already exist are kept.
func refreshLookupTables(ctx context.Context, logger *slog.Logger, cfg *config.Config) error {
	if cfg.CountriesPath == "" {
		cfg.CountriesPath = filepath.Join(cfg.CacheDir, "countries.json")
	}
	if cfg.StatesPath == "" {
		cfg.StatesPath = filepath.Join(cfg.CacheDir, "states.json")
	}

	if err := downloadOnce(ctx, logger, countriesURL, cfg.CountriesPath); err != nil {
		return err
	}

	return downloadOnce(ctx, logger, statesURL, cfg.StatesPath)
}

// downloadOnce fetches url into path unless the file already exists.
func downloadOnce(ctx context.Context, logger *slog.Logger, url, path string) error {
	if _, err := os.Stat(path); err == nil {
		logger.InfoContext(ctx, "Lookup table already present, keeping it", "path", path)
		return nil
	}

	const timeout = 30
	reqCtx, cancel := context.WithTimeout(ctx, timeout*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download of %s returned status %d", url, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read download body: %w", err)
	}

	const tableMode = 0o644
	if err = os.WriteFile(path, body, tableMode); err != nil {
		return fmt.Errorf("failed to write lookup table: %w", err)
	}
	logger.InfoContext(ctx, "Lookup table downloaded", "url", url, "path", path)

	return nil
}

// startMonitoringServer starts an HTTP server for monitoring purposes.
// It sets up a health check endpoint at "/healthz" and a metrics
// endpoint at "/metrics".
func startMonitoringServer(ctx context.Context, log *slog.Logger, reg *prometheus.Registry, port int) {
	http.HandleFunc("/healthz", func(writer http.ResponseWriter, _ *http.Request) {
		log.DebugContext(ctx, "Performing health checks...")
		writer.WriteHeader(http.StatusOK)
		if _, err := writer.Write([]byte("OK")); err != nil {
			log.ErrorContext(ctx, "failed to write reply", "error", err)
		}
	})
	http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	log.InfoContext(ctx, "Starting monitoring server", "port", port)
	readTimeout := 5
	writeTimeout := 10
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      http.DefaultServeMux,
		ReadTimeout:  time.Duration(readTimeout) * time.Second,
		WriteTimeout: time.Duration(writeTimeout) * time.Second,
	}
	if err := server.ListenAndServe(); err != nil {
		log.ErrorContext(ctx, "Monitoring server failed", "error", err)
	}
}

// setupLogger initializes a logger based on the provided environment.
//
// Supported environments:
//   - "local": text handler with debug level and source information.
//   - "development": JSON handler with info level.
//   - "production": JSON handler with warn level and no timestamps.
//
// For any other value it falls back to a JSON handler with error level
// and reports the unknown environment.
func setupLogger(env string) *slog.Logger {
	var logger *slog.Logger

	switch env {
	case envLocal:
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level:     slog.LevelDebug,
			AddSource: true,
			ReplaceAttr: func(_ []string, attr slog.Attr) slog.Attr {
				return attr
			},
		}))
	case envDev:
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
			ReplaceAttr: func(_ []string, attr slog.Attr) slog.Attr {
				return attr
			},
		}))
	case envProd:
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelWarn,
			ReplaceAttr: func(_ []string, attr slog.Attr) slog.Attr {
				if attr.Key == slog.TimeKey {
					return slog.Attr{}
				}
				return attr
			},
		}))
	default:
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelError,
			ReplaceAttr: func(_ []string, attr slog.Attr) slog.Attr {
				if attr.Key == slog.TimeKey {
					return slog.Attr{}
				}
				return attr
			},
		}))
		logger.Error(
			"Environment was not specified or was invalid. Please set the ENV variable.",
			"available_envs", "local, development, production",
		)
	}

	return logger
}
