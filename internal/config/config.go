// Pacesetter - Speedrun Leaderboard Sync and Ranking Engine
// Copyright 2026 Pacesetter contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pacesetter-app/pacesetter

// Package config defines and loads the application configuration from
// layered sources: struct defaults, an optional YAML file, and environment
// variables, in ascending precedence.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/pacesetter-app/pacesetter/internal/points"
)

// Config is the root application configuration.
type Config struct {
	Upstream UpstreamConfig `koanf:"upstream" validate:"required"`
	Database DatabaseConfig `koanf:"database" validate:"required"`
	Points   points.Config  `koanf:"points" validate:"required"`
	NATS     NATSConfig     `koanf:"nats"`
	Sweep    SweepConfig    `koanf:"sweep"`
	Metrics  MetricsConfig  `koanf:"metrics"`
	Backup   BackupConfig   `koanf:"backup"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// MetricsConfig configures the Prometheus scrape endpoint.
type MetricsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr"`
}

// BackupConfig configures periodic database snapshots.
type BackupConfig struct {
	Enabled  bool          `koanf:"enabled"`
	Dir      string        `koanf:"dir"`
	Interval time.Duration `koanf:"interval"`
	// Keep is how many snapshots retention preserves; zero keeps all.
	Keep int `koanf:"keep" validate:"gte=0"`
}

// UpstreamConfig configures the speedrun.com API client.
type UpstreamConfig struct {
	// BaseURL is the API root, without a trailing slash.
	BaseURL string `koanf:"base_url" validate:"required,url"`

	// UserAgent identifies this deployment to the upstream operators.
	UserAgent string `koanf:"user_agent" validate:"required"`

	// ThrottleDelay is how long to sleep before retrying a request the
	// upstream answered with 420 or 503. Retries continue until the
	// request context is canceled.
	ThrottleDelay time.Duration `koanf:"throttle_delay" validate:"gt=0"`

	// RequestsPerSecond caps the client-side request rate. Zero disables
	// the limiter.
	RequestsPerSecond float64 `koanf:"requests_per_second" validate:"gte=0"`

	// PageSize is the page size for paginated endpoints. The upstream
	// maximum is 200.
	PageSize int `koanf:"page_size" validate:"gt=0,lte=200"`

	Timeout time.Duration `koanf:"timeout" validate:"gt=0"`

	// Circuit breaker settings for the upstream transport.
	BreakerMaxFailures uint32        `koanf:"breaker_max_failures"`
	BreakerTimeout     time.Duration `koanf:"breaker_timeout"`
}

// DatabaseConfig configures the DuckDB store.
type DatabaseConfig struct {
	Path      string `koanf:"path" validate:"required"`
	MaxMemory string `koanf:"max_memory"`
	// Threads: 0 = use runtime.NumCPU().
	Threads int `koanf:"threads" validate:"gte=0"`
}

// NATSConfig configures the job queue transport. When Enabled is false the
// worker runs on an in-process queue, which is only useful for development.
type NATSConfig struct {
	Enabled     bool   `koanf:"enabled"`
	URL         string `koanf:"url"`
	StreamName  string `koanf:"stream_name"`
	DurableName string `koanf:"durable_name"`
	QueueGroup  string `koanf:"queue_group"`

	MaxReconnects   int           `koanf:"max_reconnects"`
	ReconnectWait   time.Duration `koanf:"reconnect_wait"`
	ReconnectBuffer int           `koanf:"reconnect_buffer"`

	// Router middleware settings.
	RetryCount           int           `koanf:"retry_count" validate:"gte=0"`
	RetryInitialInterval time.Duration `koanf:"retry_initial_interval"`
	PoisonQueueEnabled   bool          `koanf:"poison_queue_enabled"`
	PoisonQueueTopic     string        `koanf:"poison_queue_topic"`
	CloseTimeout         time.Duration `koanf:"close_timeout"`
}

// SweepConfig configures the scheduled streak anniversary sweep.
type SweepConfig struct {
	Enabled bool `koanf:"enabled"`
	// Interval between sweep runs. The sweep is idempotent within a day,
	// so anything from hourly to daily is reasonable.
	Interval time.Duration `koanf:"interval" validate:"gt=0"`
	DryRun   bool          `koanf:"dry_run"`
}

// LoggingConfig configures the global logger.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error fatal disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// Validate checks the configuration for structural errors. It is called by
// LoadWithKoanf after all layers are merged.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.NATS.Enabled && c.NATS.URL == "" {
		return fmt.Errorf("nats.url is required when nats.enabled is true")
	}
	if c.NATS.PoisonQueueEnabled && c.NATS.PoisonQueueTopic == "" {
		return fmt.Errorf("nats.poison_queue_topic is required when the poison queue is enabled")
	}
	if c.Points.MaxStreakMonths <= 0 {
		return fmt.Errorf("points.max_streak_months must be positive")
	}

	return nil
}
