// Pacesetter - Speedrun Leaderboard Sync and Ranking Engine
// Copyright 2026 Pacesetter contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pacesetter-app/pacesetter

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/pacesetter-app/pacesetter/internal/points"
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority. The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/pacesetter/config.yaml",
	"/etc/pacesetter/config.yml",
}

// ConfigPathEnvVar overrides the config file path when set.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config with all default values. Defaults are
// applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Upstream: UpstreamConfig{
			BaseURL:            "https://www.speedrun.com/api/v1",
			UserAgent:          "pacesetter/1.0 (https://github.com/pacesetter-app/pacesetter)",
			ThrottleDelay:      60 * time.Second,
			RequestsPerSecond:  1,
			PageSize:           200,
			Timeout:            30 * time.Second,
			BreakerMaxFailures: 5,
			BreakerTimeout:     2 * time.Minute,
		},
		Database: DatabaseConfig{
			Path:      "/data/pacesetter.duckdb",
			MaxMemory: "2GB",
			Threads:   0, // 0 = use runtime.NumCPU()
		},
		Points: points.DefaultConfig(),
		NATS: NATSConfig{
			Enabled:              false,
			URL:                  "nats://127.0.0.1:4222",
			StreamName:           "PACESETTER_JOBS",
			DurableName:          "pacesetter-worker",
			QueueGroup:           "workers",
			MaxReconnects:        -1, // retry forever
			ReconnectWait:        2 * time.Second,
			ReconnectBuffer:      8 * 1024 * 1024,
			RetryCount:           3,
			RetryInitialInterval: 100 * time.Millisecond,
			PoisonQueueEnabled:   true,
			PoisonQueueTopic:     "jobs.poison",
			CloseTimeout:         30 * time.Second,
		},
		Sweep: SweepConfig{
			Enabled:  true,
			Interval: 6 * time.Hour,
			DryRun:   false,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":9090",
		},
		Backup: BackupConfig{
			Enabled:  false,
			Dir:      "./backups",
			Interval: 24 * time.Hour,
			Keep:     7,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// LoadWithKoanf loads configuration using Koanf v2 with layered sources:
//  1. Defaults: built-in values
//  2. Config file: optional YAML file (if present)
//  3. Environment variables: override any setting
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// SRC_USER_AGENT -> upstream.user_agent, DUCKDB_PATH -> database.path, ...
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file, honoring CONFIG_PATH first.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// envTransformFunc maps environment variable names to koanf config paths.
// Unmapped variables are dropped so unrelated environment noise cannot
// pollute the configuration.
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		// Upstream client
		"src_base_url":            "upstream.base_url",
		"src_user_agent":          "upstream.user_agent",
		"src_throttle_delay":      "upstream.throttle_delay",
		"src_requests_per_second": "upstream.requests_per_second",
		"src_page_size":           "upstream.page_size",
		"src_timeout":             "upstream.timeout",

		// Database
		"duckdb_path":       "database.path",
		"duckdb_max_memory": "database.max_memory",
		"duckdb_threads":    "database.threads",

		// Scoring
		"points_extension_max":     "points.extension_max",
		"points_full_game_monthly": "points.full_game_monthly",
		"points_level_monthly":     "points.level_monthly",
		"points_max_streak_months": "points.max_streak_months",

		// NATS / queue
		"nats_enabled":        "nats.enabled",
		"nats_url":            "nats.url",
		"nats_stream_name":    "nats.stream_name",
		"nats_durable_name":   "nats.durable_name",
		"nats_queue_group":    "nats.queue_group",
		"nats_retry_count":    "nats.retry_count",
		"nats_retry_interval": "nats.retry_initial_interval",
		"nats_poison_enabled": "nats.poison_queue_enabled",
		"nats_poison_topic":   "nats.poison_queue_topic",
		"nats_close_timeout":  "nats.close_timeout",

		// Sweep
		"sweep_enabled":  "sweep.enabled",
		"sweep_interval": "sweep.interval",
		"sweep_dry_run":  "sweep.dry_run",

		// Logging
		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}
	return ""
}
