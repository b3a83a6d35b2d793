// Package config loads runtime configuration from an optional YAML file
// layered under ESPALIER_* environment variables, and derives the process
// logger from it. Configuration travels as an explicit Runtime value;
// nothing here is process-global.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jacentio/espalier/dynamo"
)

// Config holds the settings of an espalier-backed process.
type Config struct {
	// Table is the DynamoDB record table name.
	Table string `yaml:"table"`

	// UniqueTable is the unique constraints table name. Empty disables
	// the transactional constraint rows.
	UniqueTable string `yaml:"unique_table"`

	// Index is the (kind, path) global secondary index name.
	Index string `yaml:"index"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// LogFormat is json or text.
	LogFormat string `yaml:"log_format"`
}

// Default returns the built-in defaults.
func Default() Config {
	dc := dynamo.DefaultConfig()
	return Config{
		Table:       dc.Table,
		UniqueTable: dc.UniqueTable,
		Index:       dc.Index,
		LogLevel:    "info",
		LogFormat:   "json",
	}
}

// Load builds a Config from the defaults, the YAML file at path when path
// is non-empty, and finally the ESPALIER_* environment variables.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.Table = getenv("ESPALIER_TABLE", cfg.Table)
	cfg.UniqueTable = getenv("ESPALIER_UNIQUE_TABLE", cfg.UniqueTable)
	cfg.Index = getenv("ESPALIER_INDEX", cfg.Index)
	cfg.LogLevel = getenv("ESPALIER_LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getenv("ESPALIER_LOG_FORMAT", cfg.LogFormat)
	return cfg, nil
}

func getenv(k, fallback string) string {
	if v, ok := os.LookupEnv(k); ok && strings.TrimSpace(v) != "" {
		return v
	}
	return fallback
}

// Dynamo bridges to the store configuration.
func (c Config) Dynamo() dynamo.Config {
	return dynamo.Config{
		Table:       c.Table,
		UniqueTable: c.UniqueTable,
		Index:       c.Index,
	}
}

func (c Config) slogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds the logger the config describes, writing to stderr.
func (c Config) NewLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.slogLevel()}
	if strings.ToLower(c.LogFormat) == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

// Runtime bundles a Config with the logger derived from it. Callers pass
// the Runtime (or pieces of it) down explicitly instead of reaching for
// package state.
type Runtime struct {
	cfg    Config
	logger *slog.Logger
}

// NewRuntime creates a runtime for the config.
func NewRuntime(cfg Config) *Runtime {
	return &Runtime{cfg: cfg, logger: cfg.NewLogger()}
}

// Config returns the runtime's configuration.
func (r *Runtime) Config() Config { return r.cfg }

// Logger returns the runtime's logger.
func (r *Runtime) Logger() *slog.Logger { return r.logger }

// SetLogger swaps the logger, for tests and embedders with their own
// logging setup.
func (r *Runtime) SetLogger(logger *slog.Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// Reset re-derives the logger from the configuration, discarding any
// SetLogger override.
func (r *Runtime) Reset() {
	r.logger = r.cfg.NewLogger()
}
