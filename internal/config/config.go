package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Storage backends
const (
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

type Config struct {
	Port        string     `env:"PORT" envDefault:"8080"`
	Environment string     `env:"ENVIRONMENT" envDefault:"development"`
	LogLevelRaw string     `env:"LOG_LEVEL" envDefault:"info"`
	LogLevel    slog.Level // Parsed from LogLevelRaw

	RedisURL       string `env:"REDIS_URL" envDefault:"redis://localhost:6379"`
	StorageBackend string `env:"STORAGE_BACKEND" envDefault:"redis"`
	SQLitePath     string `env:"SQLITE_PATH" envDefault:"data/episodes.db"`
	CatalogDir     string `env:"CATALOG_DIR" envDefault:"data/episodes"`

	MaxCascadeDepth int `env:"MAX_CASCADE_DEPTH" envDefault:"16"`
	MemoryLimit     int `env:"MEMORY_LIMIT" envDefault:"50"`
	SeenEventLimit  int `env:"SEEN_EVENT_LIMIT" envDefault:"64"`

	PrimaryWeight    float64 `env:"PRIMARY_WEIGHT" envDefault:"0.6"`
	SecondaryWeight  float64 `env:"SECONDARY_WEIGHT" envDefault:"0.3"`
	BackgroundWeight float64 `env:"BACKGROUND_WEIGHT" envDefault:"0.1"`

	PlayerLockTTL  time.Duration `env:"PLAYER_LOCK_TTL" envDefault:"30s"`
	PlayerLockWait time.Duration `env:"PLAYER_LOCK_WAIT" envDefault:"10s"`

	WorkerID          string        `env:"WORKER_ID"`
	WorkerPollTimeout time.Duration `env:"WORKER_POLL_TIMEOUT" envDefault:"5s"`
	WorkerLockTTL     time.Duration `env:"WORKER_LOCK_TTL" envDefault:"30s"`
	WorkerBatchSize   int           `env:"WORKER_BATCH_SIZE" envDefault:"32"`
}

// Load reads an optional .env file, then the process environment.
// Variables already set in the environment win over the file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	return Parse()
}

// Parse builds a Config from the process environment only.
func Parse() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	cfg.LogLevel = parseLogLevel(cfg.LogLevelRaw)
	cfg.StorageBackend = strings.ToLower(cfg.StorageBackend)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	switch c.StorageBackend {
	case BackendRedis, BackendSQLite, BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown STORAGE_BACKEND %q (want redis, sqlite or memory)", c.StorageBackend))
	}
	for name, w := range map[string]float64{
		"PRIMARY_WEIGHT":    c.PrimaryWeight,
		"SECONDARY_WEIGHT":  c.SecondaryWeight,
		"BACKGROUND_WEIGHT": c.BackgroundWeight,
	} {
		if w < 0 || w > 1 {
			errs = append(errs, fmt.Errorf("%s must be between 0 and 1, got %v", name, w))
		}
	}
	if c.PlayerLockTTL <= 0 {
		errs = append(errs, fmt.Errorf("PLAYER_LOCK_TTL must be positive, got %v", c.PlayerLockTTL))
	}
	if c.MaxCascadeDepth < 1 {
		errs = append(errs, fmt.Errorf("MAX_CASCADE_DEPTH must be positive, got %d", c.MaxCascadeDepth))
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
