// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New() initializer to build a Config with defaults.
// - Load layers an optional YAML file and environment variables on top.
// - Validation failures wrap ErrInvalidConfig.
package config

import (
	"fmt"
	"strings"
)

// Billing cycle identifiers accepted in configuration.
const (
	CycleMonthly   = "monthly"
	CycleQuarterly = "quarterly"
	Cycle28Day     = "28_day"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects text or json log lines.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// StoreDSN locates the engine's own SQLite database.
	StoreDSN string `koanf:"store_dsn"`

	// SourceDSN locates the CRM/outbound store. libsql:// and wss:// URLs
	// select the remote libsql driver, anything else is a local SQLite file.
	SourceDSN string `koanf:"source_dsn"`

	// ChunkSize bounds the number of keys sent per send-index lookup.
	ChunkSize int `koanf:"chunk_size"`

	// ChunkParallelism bounds concurrent chunk lookups within one client.
	ChunkParallelism int `koanf:"chunk_parallelism"`

	// ChunkMaxRetries is the number of attempts per chunk before the run fails.
	ChunkMaxRetries int `koanf:"chunk_max_retries"`

	// BatchSize is the number of conversion events matched between checkpoints.
	BatchSize int `koanf:"batch_size"`

	// JobQueueSize bounds the number of jobs waiting for the runner.
	JobQueueSize int `koanf:"job_queue_size"`

	// Defaults applied to clients that have no stored configuration.
	DefaultAttributionWindowDays int    `koanf:"default_attribution_window_days"`
	DefaultReviewWindowDays      int    `koanf:"default_review_window_days"`
	DefaultBillingCycle          string `koanf:"default_billing_cycle"`

	// SuffixFile optionally points to a TOML file overriding the multi-part suffix list.
	SuffixFile string `koanf:"suffix_file"`

	// ExtraSuffixes are appended to the multi-part suffix list.
	ExtraSuffixes []string `koanf:"extra_suffixes"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:                     "info",
		LogFormat:                    "text",
		Addr:                         ":9080",
		StoreDSN:                     "attribution.db",
		SourceDSN:                    "source.db",
		ChunkSize:                    100,
		ChunkParallelism:             4,
		ChunkMaxRetries:              3,
		BatchSize:                    500,
		JobQueueSize:                 64,
		DefaultAttributionWindowDays: 31,
		DefaultReviewWindowDays:      7,
		DefaultBillingCycle:          CycleMonthly,
	}
}

// Validate checks the configuration for values the engine cannot run with.
func (c *Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Addr) == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case strings.TrimSpace(c.StoreDSN) == "":
		return fmt.Errorf("%w: store_dsn must not be empty", ErrInvalidConfig)
	case strings.TrimSpace(c.SourceDSN) == "":
		return fmt.Errorf("%w: source_dsn must not be empty", ErrInvalidConfig)
	case c.ChunkSize <= 0:
		return fmt.Errorf("%w: chunk_size must be positive", ErrInvalidConfig)
	case c.ChunkParallelism <= 0:
		return fmt.Errorf("%w: chunk_parallelism must be positive", ErrInvalidConfig)
	case c.ChunkMaxRetries <= 0:
		return fmt.Errorf("%w: chunk_max_retries must be positive", ErrInvalidConfig)
	case c.BatchSize <= 0:
		return fmt.Errorf("%w: batch_size must be positive", ErrInvalidConfig)
	case c.JobQueueSize <= 0:
		return fmt.Errorf("%w: job_queue_size must be positive", ErrInvalidConfig)
	case c.DefaultAttributionWindowDays < 0:
		return fmt.Errorf("%w: default_attribution_window_days must not be negative", ErrInvalidConfig)
	case c.DefaultReviewWindowDays < 0:
		return fmt.Errorf("%w: default_review_window_days must not be negative", ErrInvalidConfig)
	}
	switch c.DefaultBillingCycle {
	case CycleMonthly, CycleQuarterly, Cycle28Day:
	default:
		return fmt.Errorf("%w: unknown default_billing_cycle %q", ErrInvalidConfig, c.DefaultBillingCycle)
	}
	return nil
}
