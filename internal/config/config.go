package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the PriceSmith server.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Sync     SyncConfig
	Compare  CompareConfig
	Pricing  PricingConfig
	Provider ProviderConfig
}

// ProviderConfig lists the marketplace gateway endpoints, parsed from
// PROVIDER_ENDPOINTS ("Amazon=http://amazon-gw:8081,eBay=http://ebay-gw:8082").
// With no endpoints configured, development environments fall back to
// offline mock adapters.
type ProviderConfig struct {
	Endpoints         map[string]string
	RequestsPerMinute int
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

// SyncConfig tunes the job queue and worker pool.
type SyncConfig struct {
	Workers        int
	MaxConcurrency int
	PollInterval   time.Duration
	MaxRetries     int
	Retention      time.Duration
	SweepInterval  time.Duration
}

// CompareConfig tunes the price comparator.
type CompareConfig struct {
	CacheTTL      time.Duration
	HistoryLength int
	BatchSize     int
	BatchPause    time.Duration
}

// PricingConfig tunes the dynamic pricing engine.
type PricingConfig struct {
	Interval           time.Duration
	CompetitorWeight   float64
	DemandWeighting    bool
	InventoryWeighting bool
	MinChangePercent   float64
	MaxIncreasePercent float64
	MaxDecreasePercent float64
}

// Load reads configuration from environment variables and returns a validated
// Config. Returns an error with a descriptive message if any required value
// is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("PRICESMITH_PORT", 8080),
			Env:  envString("PRICESMITH_ENV", "development"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Sync: SyncConfig{
			Workers:        envInt("SYNC_WORKERS", 4),
			MaxConcurrency: envInt("SYNC_MAX_CONCURRENCY", 4),
			PollInterval:   envDuration("SYNC_POLL_INTERVAL", 500*time.Millisecond),
			MaxRetries:     envInt("SYNC_MAX_RETRIES", 3),
			Retention:      envDuration("SYNC_JOB_RETENTION", 24*time.Hour),
			SweepInterval:  envDuration("SYNC_SWEEP_INTERVAL", time.Hour),
		},
		Compare: CompareConfig{
			CacheTTL:      envDuration("COMPARE_CACHE_TTL", 30*time.Minute),
			HistoryLength: envInt("COMPARE_HISTORY_LENGTH", 500),
			BatchSize:     envInt("COMPARE_BATCH_SIZE", 10),
			BatchPause:    envDuration("COMPARE_BATCH_PAUSE", 2*time.Second),
		},
		Pricing: PricingConfig{
			Interval:           envDuration("PRICING_INTERVAL", time.Hour),
			CompetitorWeight:   envFloat("PRICING_COMPETITOR_WEIGHT", 0.7),
			DemandWeighting:    envBool("PRICING_DEMAND_WEIGHTING", true),
			InventoryWeighting: envBool("PRICING_INVENTORY_WEIGHTING", true),
			MinChangePercent:   envFloat("PRICING_MIN_CHANGE_PERCENT", 0.01),
			MaxIncreasePercent: envFloat("PRICING_MAX_INCREASE_PERCENT", 0.15),
			MaxDecreasePercent: envFloat("PRICING_MAX_DECREASE_PERCENT", 0.20),
		},
		Provider: ProviderConfig{
			Endpoints:         parseEndpoints(os.Getenv("PROVIDER_ENDPOINTS")),
			RequestsPerMinute: envInt("PROVIDER_RPM", 60),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Sync.Workers < 1 {
		return fmt.Errorf("SYNC_WORKERS must be at least 1, got %d", c.Sync.Workers)
	}
	if c.Sync.MaxConcurrency < 1 {
		return fmt.Errorf("SYNC_MAX_CONCURRENCY must be at least 1, got %d", c.Sync.MaxConcurrency)
	}
	if c.Sync.MaxRetries < 0 {
		return fmt.Errorf("SYNC_MAX_RETRIES must not be negative, got %d", c.Sync.MaxRetries)
	}

	if c.Compare.BatchSize < 1 {
		return fmt.Errorf("COMPARE_BATCH_SIZE must be at least 1, got %d", c.Compare.BatchSize)
	}

	if c.Pricing.CompetitorWeight < 0 || c.Pricing.CompetitorWeight > 1 {
		return fmt.Errorf("PRICING_COMPETITOR_WEIGHT must be between 0 and 1, got %v", c.Pricing.CompetitorWeight)
	}
	if c.Pricing.MaxIncreasePercent <= 0 || c.Pricing.MaxDecreasePercent <= 0 {
		return fmt.Errorf("pricing clamp percentages must be positive")
	}

	return nil
}

func parseEndpoints(raw string) map[string]string {
	out := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		name, u, found := strings.Cut(strings.TrimSpace(pair), "=")
		if !found || name == "" || u == "" {
			continue
		}
		out[name] = u
	}
	return out
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
