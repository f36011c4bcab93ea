package config

import (
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the configuration settings for an address resolution run.
// It covers the environment, the monitoring server port, the geocoding
// provider, cache behavior, request pacing and the matching thresholds.
//
// Every field can be set through a PINPOINT_* environment variable or a
// .env file; unset fields fall back to built-in defaults.
type Config struct {
	Env          string // Env is the current environment: local, dev, prod.
	Port         int    // Port is the monitoring server port.
	ProviderType string // ProviderType specifies which geocoding provider to use
	APIKey       string // The API key for accessing external services (required for Google).
	Contact      string // Contact info sent to Nominatim in the User-Agent header.

	CacheDir        string // Directory holding the address cache file.
	CacheOnly       bool   // CacheOnly answers from the cache alone, never the network.
	RetryUnresolved bool   // RetryUnresolved drops negative cache entries at load.
	DefaultCountry  string // Appended to addresses that carry no recognizable country.

	RateLimit      float64       // Provider requests per second.
	RequestTimeout time.Duration // Per-request deadline for provider calls.
	ErrorWait      time.Duration // Pause after a provider failure, 0 disables it.

	CheckpointEvery int           // New entries between checkpoint saves.
	CheckpointAge   time.Duration // Maximum age of unsaved changes before a checkpoint.

	FuzzyThreshold  float64 // Minimum Jaro-Winkler similarity for fuzzy cache hits.
	MaxEditDistance int     // Edit distance cap for fuzzy cache hits.

	CountriesPath string // Optional override for the embedded country table.
	StatesPath    string // Optional override for the embedded state table.
	RulesPath     string // Optional override for the embedded rewrite rules.
}

// MustLoad reads the configuration from the environment, including a
// .env file when one is present, and returns a Config struct. It panics
// on values the run cannot proceed with.
func MustLoad() *Config {
	_ = godotenv.Load()

	vpr := viper.New()
	vpr.SetEnvPrefix("PINPOINT")
	vpr.AutomaticEnv()

	vpr.SetDefault("ENV", "production")
	vpr.SetDefault("HEALTH_PORT", 8080)
	vpr.SetDefault("PROVIDER_TYPE", "nominatim")
	vpr.SetDefault("CACHE_DIR", ".")
	vpr.SetDefault("RATE_LIMIT", 1.0)
	vpr.SetDefault("REQUEST_TIMEOUT", "5s")
	vpr.SetDefault("ERROR_WAIT", "1s")
	vpr.SetDefault("CHECKPOINT_ENTRIES", 512)
	vpr.SetDefault("CHECKPOINT_AGE", "5m")
	vpr.SetDefault("FUZZY_THRESHOLD", 0.92)
	vpr.SetDefault("MAX_EDIT_DISTANCE", 2)

	cfg := &Config{
		Env:             vpr.GetString("ENV"),
		Port:            vpr.GetInt("HEALTH_PORT"),
		ProviderType:    vpr.GetString("PROVIDER_TYPE"),
		APIKey:          vpr.GetString("PROVIDER_KEY"),
		Contact:         vpr.GetString("CONTACT"),
		CacheDir:        vpr.GetString("CACHE_DIR"),
		CacheOnly:       vpr.GetBool("CACHE_ONLY"),
		RetryUnresolved: vpr.GetBool("RETRY_UNRESOLVED"),
		DefaultCountry:  vpr.GetString("DEFAULT_COUNTRY"),
		RateLimit:       vpr.GetFloat64("RATE_LIMIT"),
		RequestTimeout:  vpr.GetDuration("REQUEST_TIMEOUT"),
		ErrorWait:       vpr.GetDuration("ERROR_WAIT"),
		CheckpointEvery: vpr.GetInt("CHECKPOINT_ENTRIES"),
		CheckpointAge:   vpr.GetDuration("CHECKPOINT_AGE"),
		FuzzyThreshold:  vpr.GetFloat64("FUZZY_THRESHOLD"),
		MaxEditDistance: vpr.GetInt("MAX_EDIT_DISTANCE"),
		CountriesPath:   vpr.GetString("COUNTRIES_FILE"),
		StatesPath:      vpr.GetString("STATES_FILE"),
		RulesPath:       vpr.GetString("RULES_FILE"),
	}

	if cfg.Port <= 0 {
		panic("failed to parse port for monitoring server from configuration")
	}
	if cfg.RateLimit <= 0 {
		panic("failed to parse rate limit from configuration, must be a positive number")
	}
	if cfg.RequestTimeout <= 0 {
		panic("failed to parse request timeout from configuration")
	}
	if cfg.CheckpointEvery <= 0 || cfg.CheckpointAge <= 0 {
		panic("failed to parse checkpoint settings from configuration")
	}
	if cfg.FuzzyThreshold <= 0 || cfg.FuzzyThreshold > 1 {
		panic("failed to parse fuzzy threshold from configuration, must be in (0, 1]")
	}
	if cfg.MaxEditDistance < 0 {
		panic("failed to parse edit distance from configuration, must not be negative")
	}

	return cfg
}
