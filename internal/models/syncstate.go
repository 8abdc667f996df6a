// StarSync - GitHub Stars Mirroring and Sync Engine
// Copyright 2026 awillheartwu
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/awillheartwu/starsync

package models

import (
	"time"

	"github.com/google/uuid"
)

// SyncState is the single source of truth for resuming one logical sync
// task. (Source, Key) is unique; Cursor and Etag are opaque tokens owned by
// the reconciliation engine and are only advanced on a successful run.
type SyncState struct {
	Source        string     `json:"source"`
	Key           string     `json:"key"`
	Cursor        *string    `json:"cursor,omitempty"`
	Etag          *string    `json:"etag,omitempty"`
	LastRunAt     *time.Time `json:"last_run_at,omitempty"`
	LastSuccessAt *time.Time `json:"last_success_at,omitempty"`
	LastErrorAt   *time.Time `json:"last_error_at,omitempty"`
	LastError     *string    `json:"last_error,omitempty"`
	StatsJSON     *string    `json:"stats_json,omitempty"`
}

// SyncStateHistory is one append-only audit row per run attempt. The engine
// never reads, updates, or deletes history; it exists for observability.
type SyncStateHistory struct {
	ID        uuid.UUID `json:"id"`
	SyncState
	CreatedAt time.Time `json:"created_at"`
}

// RunMode selects how much of the remote collection a run reads.
type RunMode string

const (
	// RunModeFull ignores cursor and ETag and walks the whole collection.
	RunModeFull RunMode = "full"
	// RunModeIncremental uses the persisted cursor/ETag to stop early.
	RunModeIncremental RunMode = "incremental"
)

// Valid reports whether m is a known run mode.
func (m RunMode) Valid() bool {
	return m == RunModeFull || m == RunModeIncremental
}

// RunStats is the compact per-run statistics blob persisted with the sync
// state and carried in run notifications.
type RunStats struct {
	Scanned     int `json:"scanned"`
	Created     int `json:"created"`
	Updated     int `json:"updated"`
	Unchanged   int `json:"unchanged"`
	SoftDeleted int `json:"softDeleted"`
	Pages       int `json:"pages"`
}

// RunOptions parameterize one reconciliation run.
type RunOptions struct {
	Mode    RunMode `json:"mode"`
	PerPage int     `json:"perPage"`
	// MaxPages caps the walk; 0 means unbounded.
	MaxPages int `json:"maxPages"`
	// SoftDeleteUnstarred enables archival of projects absent from a
	// complete walk. When nil, it defaults to enabled for full runs and
	// disabled for incremental runs.
	SoftDeleteUnstarred *bool `json:"softDeleteUnstarred,omitempty"`
}

// SoftDelete resolves the soft-delete flag against the mode default.
func (o RunOptions) SoftDelete() bool {
	if o.SoftDeleteUnstarred != nil {
		return *o.SoftDeleteUnstarred
	}
	return o.Mode == RunModeFull
}
