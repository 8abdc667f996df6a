// StarSync - GitHub Stars Mirroring and Sync Engine
// Copyright 2026 awillheartwu
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/awillheartwu/starsync

package models

import (
	"time"
)

// TaskKind discriminates the tagged union of job payloads.
type TaskKind string

const (
	// TaskKindSync runs the reconciliation engine against the remote
	// starred collection.
	TaskKindSync TaskKind = "sync"
	// TaskKindMaintenance runs the batched cleanup task.
	TaskKindMaintenance TaskKind = "maintenance"
)

// JobState is the queue lifecycle state of a job row.
type JobState string

const (
	JobStateWaiting   JobState = "waiting"
	JobStateActive    JobState = "active"
	JobStateDelayed   JobState = "delayed"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
)

// Terminal reports whether the state permits replacing the job row with a
// fresh enqueue of the same deterministic id.
func (s JobState) Terminal() bool {
	return s == JobStateCompleted || s == JobStateFailed
}

// Job is one durable queue entry. ID is deterministic (task type plus either
// a fixed scheduled suffix or a hash of the caller's options), which gives
// queue-level deduplication without external locking.
type Job struct {
	ID          string    `json:"id"`
	Kind        TaskKind  `json:"kind"`
	Priority    int       `json:"priority"`
	Payload     []byte    `json:"payload"`
	State       JobState  `json:"state"`
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"max_attempts"`
	NextRunAt   time.Time `json:"next_run_at"`
	LastError   *string   `json:"last_error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// SyncTask is the payload for TaskKindSync jobs.
type SyncTask struct {
	Options RunOptions `json:"options"`
}

// MaintenanceOptions parameterize one cleanup pass.
type MaintenanceOptions struct {
	// DryRun only counts purge candidates without deleting anything.
	DryRun bool `json:"dryRun"`
	// BatchSize bounds each delete statement; 0 uses the configured default.
	BatchSize int `json:"batchSize"`
}

// MaintenanceTask is the payload for TaskKindMaintenance jobs.
type MaintenanceTask struct {
	Options MaintenanceOptions `json:"options"`
}

// MaintenanceSummary reports the outcome of one cleanup pass.
type MaintenanceSummary struct {
	DryRun             bool `json:"dryRun"`
	LockSkipped        bool `json:"lockSkipped"`
	ArchivesPurged     int  `json:"archivesPurged"`
	JobsPurged         int  `json:"jobsPurged"`
	StrayRegistrations int  `json:"strayRegistrations"`
}

// QueueCounts is a per-state snapshot of the durable queue.
type QueueCounts struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Delayed   int `json:"delayed"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// RecurringJob records one registered recurring schedule. Registration with
// an identical (ID, Schedule) pair is a no-op; maintenance removes rows
// whose schedule no longer matches the running configuration.
type RecurringJob struct {
	ID        string    `json:"id"`
	Kind      TaskKind  `json:"kind"`
	Schedule  string    `json:"schedule"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
