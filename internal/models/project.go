// StarSync - GitHub Stars Mirroring and Sync Engine
// Copyright 2026 awillheartwu
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/awillheartwu/starsync

// Package models defines the persistent data shapes shared by the store,
// the reconciliation engine, and the job orchestrator.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Project is a locally mirrored starred repository. GithubID is the
// immutable external identity; everything else is a mutable observation.
//
// LastSyncAt moves only when a tracked scalar attribute actually changed.
// TouchedAt moves on every observation, changed or not, so a full walk
// leaves a consistent "seen during this pass" watermark.
type Project struct {
	ID          uuid.UUID  `json:"id"`
	GithubID    int64      `json:"github_id"`
	Name        string     `json:"name"`
	FullName    string     `json:"full_name"`
	URL         string     `json:"url"`
	Description *string    `json:"description,omitempty"`
	Language    *string    `json:"language,omitempty"`
	Stars       int        `json:"stars"`
	Forks       int        `json:"forks"`
	PushedAt    *time.Time `json:"pushed_at,omitempty"`
	StarredAt   time.Time  `json:"starred_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	LastSyncAt  *time.Time `json:"last_sync_at,omitempty"`
	TouchedAt   time.Time  `json:"touched_at"`
}

// ProjectPatch is a minimal-diff update: only non-nil fields are written.
// The engine builds one patch per changed project so unrelated columns are
// never rewritten.
type ProjectPatch struct {
	Name        *string
	FullName    *string
	URL         *string
	Description *string
	Language    *string
	Stars       *int
	Forks       *int
	PushedAt    *time.Time
}

// IsEmpty reports whether the patch carries no field changes.
func (p *ProjectPatch) IsEmpty() bool {
	return p.Name == nil && p.FullName == nil && p.URL == nil &&
		p.Description == nil && p.Language == nil &&
		p.Stars == nil && p.Forks == nil && p.PushedAt == nil
}

// ArchiveReason tags why a project snapshot was taken.
type ArchiveReason string

const (
	// ArchiveReasonManual marks an operator-requested archival.
	ArchiveReasonManual ArchiveReason = "manual"
	// ArchiveReasonNotObserved marks a project absent from a complete walk
	// of the upstream collection (unstarred remotely).
	ArchiveReasonNotObserved ArchiveReason = "not-observed"
)

// ArchivedProject is an immutable snapshot of a Project at deletion time.
// GithubID is informational, not unique: the same repository may be starred,
// unstarred, and archived repeatedly.
type ArchivedProject struct {
	ID          uuid.UUID     `json:"id"`
	GithubID    int64         `json:"github_id"`
	Name        string        `json:"name"`
	FullName    string        `json:"full_name"`
	URL         string        `json:"url"`
	Description *string       `json:"description,omitempty"`
	Language    *string       `json:"language,omitempty"`
	Stars       int           `json:"stars"`
	Forks       int           `json:"forks"`
	PushedAt    *time.Time    `json:"pushed_at,omitempty"`
	StarredAt   time.Time     `json:"starred_at"`
	Reason      ArchiveReason `json:"reason"`
	ArchivedAt  time.Time     `json:"archived_at"`
}
