// StarSync - GitHub Stars Mirroring and Sync Engine
// Copyright 2026 awillheartwu
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/awillheartwu/starsync

// Package config holds the layered application configuration. A single
// *Config is constructed at startup and passed into every component; no
// package reads configuration ambiently.
package config

import (
	"fmt"
	"time"
)

// Config is the root application configuration.
type Config struct {
	Github      GithubConfig      `koanf:"github"`
	Sync        SyncConfig        `koanf:"sync"`
	Queue       QueueConfig       `koanf:"queue"`
	Maintenance MaintenanceConfig `koanf:"maintenance"`
	Database    DatabaseConfig    `koanf:"database"`
	Cache       CacheConfig       `koanf:"cache"`
	Server      ServerConfig      `koanf:"server"`
	Logging     LoggingConfig     `koanf:"logging"`
}

// GithubConfig configures the external fetcher.
type GithubConfig struct {
	// Username whose starred collection is mirrored.
	Username string `koanf:"username"`
	// Token is a personal access token; unauthenticated requests are
	// rate-limited to 60/hour and not useful for real collections.
	Token string `koanf:"token"`
	// BaseURL is overridable for tests and GitHub Enterprise.
	BaseURL string        `koanf:"base_url"`
	Timeout time.Duration `koanf:"timeout"`
	// RetryAttempts bounds transient-failure retries inside one page fetch.
	RetryAttempts int           `koanf:"retry_attempts"`
	RetryDelay    time.Duration `koanf:"retry_delay"`
	// RequestsPerSecond paces outgoing calls; 0 disables client pacing.
	RequestsPerSecond float64 `koanf:"requests_per_second"`
}

// SyncConfig configures the reconciliation engine and its schedule.
type SyncConfig struct {
	// Interval between scheduled incremental runs.
	Interval time.Duration `koanf:"interval"`
	PerPage  int           `koanf:"per_page"`
	// MaxPages caps one walk; 0 means unbounded.
	MaxPages int `koanf:"max_pages"`
	// SoftDeleteUnstarred applies to scheduled incremental runs; manual
	// runs carry their own flag. Full runs always default to enabled.
	SoftDeleteUnstarred bool `koanf:"soft_delete_unstarred"`
	// Precheck short-circuits incremental runs with a 1-item conditional
	// head request before paginating.
	Precheck bool `koanf:"precheck"`
	// ReadmePrefetch populates the README cache for newly created
	// projects during reconciliation (best-effort).
	ReadmePrefetch bool `koanf:"readme_prefetch"`
}

// QueueConfig configures the durable job queue and worker pool.
type QueueConfig struct {
	Concurrency int `koanf:"concurrency"`
	MaxAttempts int `koanf:"max_attempts"`
	// RetryDelay is the fixed delay between job attempts.
	RetryDelay time.Duration `koanf:"retry_delay"`
	// PollInterval is how often idle workers look for work.
	PollInterval time.Duration `koanf:"poll_interval"`
}

// MaintenanceConfig configures the cleanup task.
type MaintenanceConfig struct {
	Enabled  bool          `koanf:"enabled"`
	Interval time.Duration `koanf:"interval"`
	// BatchSize bounds each purge statement.
	BatchSize int `koanf:"batch_size"`
	// ArchiveRetention is how long archived snapshots are kept.
	ArchiveRetention time.Duration `koanf:"archive_retention"`
	// JobRetention is how long completed/failed job rows are kept.
	JobRetention time.Duration `koanf:"job_retention"`
	// LockPath enables the badger-backed mutual-exclusion lock when set.
	LockPath string        `koanf:"lock_path"`
	LockTTL  time.Duration `koanf:"lock_ttl"`
}

// DatabaseConfig configures the DuckDB store.
type DatabaseConfig struct {
	Path      string `koanf:"path"`
	MaxMemory string `koanf:"max_memory"`
	// Threads for DuckDB; 0 uses runtime.NumCPU().
	Threads int `koanf:"threads"`
}

// CacheConfig configures the README content cache.
type CacheConfig struct {
	TTL time.Duration `koanf:"ttl"`
}

// ServerConfig configures the admin HTTP surface.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port"`
	Timeout time.Duration `koanf:"timeout"`
}

// LoggingConfig configures the global logger.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Validate checks invariants that would otherwise surface as confusing
// runtime failures.
func (c *Config) Validate() error {
	if c.Github.Username == "" {
		return fmt.Errorf("github.username is required")
	}
	if c.Github.BaseURL == "" {
		return fmt.Errorf("github.base_url must not be empty")
	}
	if c.Sync.PerPage < 1 || c.Sync.PerPage > 100 {
		return fmt.Errorf("sync.per_page must be in [1,100], got %d", c.Sync.PerPage)
	}
	if c.Sync.MaxPages < 0 {
		return fmt.Errorf("sync.max_pages must be >= 0, got %d", c.Sync.MaxPages)
	}
	if c.Sync.Interval < time.Minute {
		return fmt.Errorf("sync.interval must be >= 1m, got %s", c.Sync.Interval)
	}
	if c.Queue.Concurrency < 1 {
		return fmt.Errorf("queue.concurrency must be >= 1, got %d", c.Queue.Concurrency)
	}
	if c.Queue.MaxAttempts < 1 {
		return fmt.Errorf("queue.max_attempts must be >= 1, got %d", c.Queue.MaxAttempts)
	}
	if c.Maintenance.BatchSize < 1 {
		return fmt.Errorf("maintenance.batch_size must be >= 1, got %d", c.Maintenance.BatchSize)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in [1,65535], got %d", c.Server.Port)
	}
	return nil
}
