package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Port        string     `env:"PORT" envDefault:"8080"`
	Environment string     `env:"ENVIRONMENT" envDefault:"development"`
	LogLevelRaw string     `env:"LOG_LEVEL" envDefault:"info"`
	LogLevel    slog.Level `env:"-"`

	RedisURL string        `env:"REDIS_URL" envDefault:"localhost:6379"`
	StageTTL time.Duration `env:"STAGE_TTL" envDefault:"24h"`

	// Asset catalog
	ManifestPath     string        `env:"MANIFEST_PATH" envDefault:"./assets/manifest.json"`
	AssetDir         string        `env:"ASSET_DIR" envDefault:"./assets"`
	CatalogTTL       time.Duration `env:"CATALOG_TTL" envDefault:"30s"`
	ManifestCacheTTL time.Duration `env:"MANIFEST_CACHE_TTL" envDefault:"5m"`

	// Background generation
	VeniceAPIKey          string          `env:"VENICE_API_KEY"`
	ImageModel            string          `env:"IMAGE_MODEL" envDefault:"hidream"`
	ImageBaseURL          string          `env:"IMAGE_BASE_URL" envDefault:"https://api.venice.ai/api/v1"`
	GenerationRetryDelays []time.Duration `env:"GENERATION_RETRY_DELAYS" envSeparator:"," envDefault:"1s,2s,4s,8s"`

	WorkerID   string `env:"WORKER_ID"`
	APIBaseURL string `env:"API_BASE_URL" envDefault:"http://localhost:8080"`
}

// Load reads an optional .env file, then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		// .env is optional; anything set in the real environment wins anyway
		slog.Debug("No .env file loaded", "error", err)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.LogLevel = parseLogLevel(cfg.LogLevelRaw)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values the rest of the service relies on.
func (c *Config) Validate() error {
	var errs []error
	if c.RedisURL == "" {
		errs = append(errs, errors.New("REDIS_URL is required"))
	}
	if c.StageTTL < 0 {
		errs = append(errs, errors.New("STAGE_TTL must not be negative"))
	}
	if c.CatalogTTL <= 0 {
		errs = append(errs, errors.New("CATALOG_TTL must be positive"))
	}
	if c.ManifestCacheTTL <= 0 {
		errs = append(errs, errors.New("MANIFEST_CACHE_TTL must be positive"))
	}
	if len(c.GenerationRetryDelays) == 0 {
		errs = append(errs, errors.New("GENERATION_RETRY_DELAYS must list at least one delay"))
	}
	for _, d := range c.GenerationRetryDelays {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("GENERATION_RETRY_DELAYS contains non-positive delay %s", d))
			break
		}
	}
	return errors.Join(errs...)
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
