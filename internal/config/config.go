// Package config holds server and scheduler configuration with documented
// defaults. Values come from (lowest to highest precedence) built-in
// defaults, an optional YAML file, then command-line flags.
package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig holds configuration for the scheduler server.
type ServerConfig struct {
	Addr      string `yaml:"addr"`       // Listen address (default ":8080")
	LogLevel  string `yaml:"log_level"`  // debug, info, warn, error
	LogFormat string `yaml:"log_format"` // text, json

	// DBPath selects the SQLite database file (":memory:" for testing).
	// When PostgresDSN is set it takes precedence over DBPath.
	DBPath      string `yaml:"db_path"`
	PostgresDSN string `yaml:"postgres_dsn"`

	Scheduler SchedulerConfig `yaml:"scheduler"`

	// LogRetention bounds how long task log rows are kept; the prune job
	// runs on PruneSchedule (a cron expression).
	LogRetention  Duration `yaml:"log_retention"`
	PruneSchedule string   `yaml:"prune_schedule"`
}

// SchedulerConfig holds the loop cadences and task defaults.
type SchedulerConfig struct {
	// PollInterval is the discovery loop cadence (pending -> queued).
	PollInterval Duration `yaml:"poll_interval"`
	// DispatchInterval is the execution loop cadence; shorter than
	// PollInterval so the queue drains promptly.
	DispatchInterval Duration `yaml:"dispatch_interval"`

	// MaxConcurrent caps how many tasks execute at once.
	MaxConcurrent int `yaml:"max_concurrent"`

	// Defaults applied to tasks created without explicit values.
	DefaultTimeoutSeconds int `yaml:"default_timeout_seconds"`
	DefaultMaxRetries     int `yaml:"default_max_retries"`
}

// DefaultServerConfig returns the documented defaults: 1 s poll, 500 ms
// dispatch, 300 s task timeout, 3 retries.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:          ":8080",
		LogLevel:      "info",
		LogFormat:     "text",
		Scheduler:     DefaultSchedulerConfig(),
		LogRetention:  Duration(7 * 24 * time.Hour),
		PruneSchedule: "@hourly",
	}
}

// DefaultSchedulerConfig returns the reference cadences and task defaults.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		PollInterval:          Duration(1 * time.Second),
		DispatchInterval:      Duration(500 * time.Millisecond),
		MaxConcurrent:         4,
		DefaultTimeoutSeconds: 300,
		DefaultMaxRetries:     3,
	}
}

// LoadFile merges a YAML config file over cfg. Unknown fields are rejected so
// typos fail loudly.
func LoadFile(path string, cfg *ServerConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}
