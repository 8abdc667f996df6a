// StarSync - GitHub Stars Mirroring and Sync Engine
// Copyright 2026 awillheartwu
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/awillheartwu/starsync

package store

import (
	"context"
	"fmt"
	"time"
)

// schemaContext returns a context with timeout for schema operations
func schemaContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 60*time.Second)
}

// createTables creates the core database tables and indexes
func (s *Store) createTables() error {
	ctx, cancel := schemaContext()
	defer cancel()

	for _, query := range tableCreationQueries() {
		if _, err := s.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute query: %s: %w", query, err)
		}
	}

	return nil
}

// tableCreationQueries returns the table creation SQL statements.
// All columns are defined in the initial CREATE TABLE statements so the
// full schema has a single source of truth and startup needs no migrations.
func tableCreationQueries() []string {
	return []string{
		// Mirrored repositories. github_id is the upstream identity and the
		// dedup key; id is the local surrogate used by foreign references.
		`CREATE TABLE IF NOT EXISTS projects (
			id UUID PRIMARY KEY,
			github_id BIGINT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			full_name TEXT NOT NULL,
			url TEXT NOT NULL,
			description TEXT,
			language TEXT,
			stars INTEGER NOT NULL DEFAULT 0,
			forks INTEGER NOT NULL DEFAULT 0,
			pushed_at TIMESTAMP,
			starred_at TIMESTAMP NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			last_sync_at TIMESTAMP,
			touched_at TIMESTAMP NOT NULL
		)`,

		// Snapshots of projects removed because they were no longer observed
		// upstream (or removed manually). Append-only apart from retention purges.
		`CREATE TABLE IF NOT EXISTS archived_projects (
			id UUID PRIMARY KEY,
			github_id BIGINT NOT NULL,
			name TEXT NOT NULL,
			full_name TEXT NOT NULL,
			url TEXT NOT NULL,
			description TEXT,
			language TEXT,
			stars INTEGER NOT NULL DEFAULT 0,
			forks INTEGER NOT NULL DEFAULT 0,
			pushed_at TIMESTAMP,
			starred_at TIMESTAMP NOT NULL,
			reason TEXT NOT NULL,
			archived_at TIMESTAMP NOT NULL
		)`,

		// One live row per (source, key) sync stream.
		`CREATE TABLE IF NOT EXISTS sync_state (
			source TEXT NOT NULL,
			key TEXT NOT NULL,
			cursor TEXT,
			etag TEXT,
			last_run_at TIMESTAMP,
			last_success_at TIMESTAMP,
			last_error_at TIMESTAMP,
			last_error TEXT,
			stats_json TEXT,
			PRIMARY KEY (source, key)
		)`,

		// Append-only audit trail of completed runs, one row per outcome.
		`CREATE TABLE IF NOT EXISTS sync_state_history (
			id UUID PRIMARY KEY,
			source TEXT NOT NULL,
			key TEXT NOT NULL,
			cursor TEXT,
			etag TEXT,
			last_run_at TIMESTAMP,
			last_success_at TIMESTAMP,
			last_error_at TIMESTAMP,
			last_error TEXT,
			stats_json TEXT,
			created_at TIMESTAMP NOT NULL
		)`,

		// Durable job queue. id is deterministic per task identity so
		// duplicate submissions collide instead of stacking up.
		`CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			priority INTEGER NOT NULL DEFAULT 0,
			payload BLOB,
			state TEXT NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			max_attempts INTEGER NOT NULL DEFAULT 3,
			next_run_at TIMESTAMP NOT NULL,
			last_error TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,

		// Recurring schedule registrations, so maintenance can detect and
		// trim registrations whose owning schedule no longer exists.
		`CREATE TABLE IF NOT EXISTS recurring_jobs (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			schedule TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_projects_github_id ON projects(github_id)`,
		`CREATE INDEX IF NOT EXISTS idx_projects_touched_at ON projects(touched_at)`,
		`CREATE INDEX IF NOT EXISTS idx_archived_archived_at ON archived_projects(archived_at)`,
		`CREATE INDEX IF NOT EXISTS idx_history_source_key ON sync_state_history(source, key, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_claim ON jobs(state, next_run_at, priority)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_updated_at ON jobs(updated_at)`,
	}
}
