// StarSync - GitHub Stars Mirroring and Sync Engine
// Copyright 2026 awillheartwu
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/awillheartwu/starsync

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
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority. The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/starsync/config.yaml",
	"/etc/starsync/config.yml",
}

// ConfigPathEnvVar overrides the config file path when set.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config with all defaults applied. Defaults load
// first, then the config file, then environment variables.
func defaultConfig() *Config {
	return &Config{
		Github: GithubConfig{
			Username:          "",
			Token:             "",
			BaseURL:           "https://api.github.com",
			Timeout:           30 * time.Second,
			RetryAttempts:     3,
			RetryDelay:        2 * time.Second,
			RequestsPerSecond: 5,
		},
		Sync: SyncConfig{
			Interval:            30 * time.Minute,
			PerPage:             50,
			MaxPages:            0, // unbounded
			SoftDeleteUnstarred: false,
			Precheck:            true,
			ReadmePrefetch:      false,
		},
		Queue: QueueConfig{
			Concurrency:  2,
			MaxAttempts:  3,
			RetryDelay:   30 * time.Second,
			PollInterval: time.Second,
		},
		Maintenance: MaintenanceConfig{
			Enabled:          true,
			Interval:         24 * time.Hour,
			BatchSize:        500,
			ArchiveRetention: 90 * 24 * time.Hour,
			JobRetention:     7 * 24 * time.Hour,
			LockPath:         "", // lock disabled by default
			LockTTL:          5 * time.Minute,
		},
		Database: DatabaseConfig{
			Path:      "/data/starsync.duckdb",
			MaxMemory: "512MB",
			Threads:   0, // 0 = use runtime.NumCPU()
		},
		Cache: CacheConfig{
			TTL: 6 * time.Hour,
		},
		Server: ServerConfig{
			Host:    "0.0.0.0",
			Port:    8320,
			Timeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load builds configuration using koanf v2 with layered sources:
//  1. Defaults: built-in sensible defaults
//  2. Config file: optional YAML file (if present)
//  3. Environment variables: override any setting
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
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

// findConfigFile searches the env override then the default paths.
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
// Unknown variables map to "" and are skipped, so unrelated environment
// noise never pollutes the configuration.
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		"github_username":            "github.username",
		"github_token":               "github.token",
		"github_base_url":            "github.base_url",
		"github_timeout":             "github.timeout",
		"github_retry_attempts":      "github.retry_attempts",
		"github_retry_delay":         "github.retry_delay",
		"github_requests_per_second": "github.requests_per_second",

		"sync_interval":              "sync.interval",
		"sync_per_page":              "sync.per_page",
		"sync_max_pages":             "sync.max_pages",
		"sync_soft_delete_unstarred": "sync.soft_delete_unstarred",
		"sync_precheck":              "sync.precheck",
		"sync_readme_prefetch":       "sync.readme_prefetch",

		"queue_concurrency":   "queue.concurrency",
		"queue_max_attempts":  "queue.max_attempts",
		"queue_retry_delay":   "queue.retry_delay",
		"queue_poll_interval": "queue.poll_interval",

		"maintenance_enabled":           "maintenance.enabled",
		"maintenance_interval":          "maintenance.interval",
		"maintenance_batch_size":        "maintenance.batch_size",
		"maintenance_archive_retention": "maintenance.archive_retention",
		"maintenance_job_retention":     "maintenance.job_retention",
		"maintenance_lock_path":         "maintenance.lock_path",
		"maintenance_lock_ttl":          "maintenance.lock_ttl",

		"duckdb_path":       "database.path",
		"duckdb_max_memory": "database.max_memory",
		"duckdb_threads":    "database.threads",

		"cache_ttl": "cache.ttl",

		"http_host":    "server.host",
		"http_port":    "server.port",
		"http_timeout": "server.timeout",

		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}
	return ""
}
