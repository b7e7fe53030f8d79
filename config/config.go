// Package config loads backalpha's YAML configuration, overlaying .env
// values, and wires up the slog default logger.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full configuration for one backtest run.
type Config struct {
	Backtest BacktestConfig `yaml:"backtest"`
	Bundle   BundleConfig   `yaml:"bundle"`
	Storage  StorageConfig  `yaml:"storage"`
	Log      LogConfig      `yaml:"log"`
}

// BacktestConfig controls the engine's own behavior — fill timing,
// pipeline recomputation, cost-basis method — independent of where the
// data comes from.
type BacktestConfig struct {
	StartingCash        float64 `yaml:"starting_cash"`
	DefaultFrequency    string  `yaml:"default_frequency"`      // daily | minute
	CostBasisMethod     string  `yaml:"cost_basis_method"`      // fifo | lifo | average
	SameBarFills        bool    `yaml:"same_bar_fills"`         // Open Question 3 override
	RecomputeOnEveryBar bool    `yaml:"recompute_on_every_bar"` // Open Question 2 override
	StrictMode          bool    `yaml:"strict_mode"`            // callback errors abort the run instead of warning
}

// BundleConfig locates the on-disk columnar bundle this run reads bars
// from.
type BundleConfig struct {
	Path              string `yaml:"path"`
	StaleAfterSeconds int    `yaml:"stale_after_seconds"`
}

// StorageConfig controls where completed runs are persisted.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // path to the SQLite file, or ":memory:"
}

// LogConfig controls logging format and level.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load reads cfg from the YAML file at path, overlaying any .env file in
// the working directory. Env values take precedence over YAML for the
// keys they cover.
func Load(path string) (*Config, error) {
	_ = godotenv.Load() // silently no-op if no .env file present

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	return &cfg, nil
}

// StaleAfter returns Bundle.StaleAfterSeconds as a time.Duration.
func (c *Config) StaleAfter() time.Duration {
	return time.Duration(c.Bundle.StaleAfterSeconds) * time.Second
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("STORAGE_DSN"); v != "" {
		cfg.Storage.DSN = v
	}
}

func setDefaults(cfg *Config) {
	if cfg.Backtest.StartingCash <= 0 {
		cfg.Backtest.StartingCash = 100000
	}
	if cfg.Backtest.DefaultFrequency == "" {
		cfg.Backtest.DefaultFrequency = "daily"
	}
	if cfg.Backtest.CostBasisMethod == "" {
		cfg.Backtest.CostBasisMethod = "fifo"
	}
	if cfg.Bundle.StaleAfterSeconds <= 0 {
		cfg.Bundle.StaleAfterSeconds = 86400 // one session
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "backalpha.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

// SetupLogger installs a slog default logger configured per cfg.
func SetupLogger(cfg LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
