// StarSync - GitHub Stars Mirroring and Sync Engine
// Copyright 2026 awillheartwu
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/awillheartwu/starsync

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/awillheartwu/starsync/internal/models"
)

// GetProjectByGithubID returns the mirrored project with the given upstream
// id, or ErrNotFound.
func (s *Store) GetProjectByGithubID(ctx context.Context, githubID int64) (*models.Project, error) {
	row := s.conn.QueryRowContext(ctx, `
		SELECT id, github_id, name, full_name, url, description, language,
		       stars, forks, pushed_at, starred_at, created_at, updated_at,
		       last_sync_at, touched_at
		FROM projects WHERE github_id = ?`, githubID)

	var p models.Project
	err := row.Scan(&p.ID, &p.GithubID, &p.Name, &p.FullName, &p.URL,
		&p.Description, &p.Language, &p.Stars, &p.Forks, &p.PushedAt,
		&p.StarredAt, &p.CreatedAt, &p.UpdatedAt, &p.LastSyncAt, &p.TouchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load project %d: %w", githubID, err)
	}
	return &p, nil
}

// CreateProject inserts a newly observed project. The caller supplies the
// upstream fields; identity and timestamps are assigned here.
func (s *Store) CreateProject(ctx context.Context, p *models.Project) error {
	now := time.Now().UTC()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.CreatedAt = now
	p.UpdatedAt = now
	p.LastSyncAt = &now
	p.TouchedAt = now

	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO projects
			(id, github_id, name, full_name, url, description, language,
			 stars, forks, pushed_at, starred_at, created_at, updated_at,
			 last_sync_at, touched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.GithubID, p.Name, p.FullName, p.URL, p.Description, p.Language,
		p.Stars, p.Forks, p.PushedAt, p.StarredAt, p.CreatedAt, p.UpdatedAt,
		p.LastSyncAt, p.TouchedAt)
	if err != nil {
		return fmt.Errorf("failed to create project %d: %w", p.GithubID, err)
	}
	return nil
}

// ApplyProjectPatch updates only the fields present in the patch. The row's
// last_sync_at and updated_at advance because real data changed; touched_at
// advances as with any observation. Empty patches are a no-op.
func (s *Store) ApplyProjectPatch(ctx context.Context, githubID int64, patch models.ProjectPatch, at time.Time) error {
	if patch.IsEmpty() {
		return nil
	}

	set := make([]string, 0, 10)
	args := make([]any, 0, 12)
	add := func(col string, v any) {
		set = append(set, col+" = ?")
		args = append(args, v)
	}

	if patch.Name != nil {
		add("name", *patch.Name)
	}
	if patch.FullName != nil {
		add("full_name", *patch.FullName)
	}
	if patch.URL != nil {
		add("url", *patch.URL)
	}
	if patch.Description != nil {
		add("description", *patch.Description)
	}
	if patch.Language != nil {
		add("language", *patch.Language)
	}
	if patch.Stars != nil {
		add("stars", *patch.Stars)
	}
	if patch.Forks != nil {
		add("forks", *patch.Forks)
	}
	if patch.PushedAt != nil {
		add("pushed_at", *patch.PushedAt)
	}

	ts := at.UTC()
	add("updated_at", ts)
	add("last_sync_at", ts)
	add("touched_at", ts)

	query := "UPDATE projects SET "
	for i, clause := range set {
		if i > 0 {
			query += ", "
		}
		query += clause
	}
	query += " WHERE github_id = ?"
	args = append(args, githubID)

	res, err := s.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to patch project %d: %w", githubID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("project %d: %w", githubID, ErrNotFound)
	}
	return nil
}

// TouchProject records that a project was observed upstream without any
// field changing. Only touched_at advances.
func (s *Store) TouchProject(ctx context.Context, githubID int64, at time.Time) error {
	res, err := s.conn.ExecContext(ctx, `
		UPDATE projects SET touched_at = ? WHERE github_id = ?`, at.UTC(), githubID)
	if err != nil {
		return fmt.Errorf("failed to touch project %d: %w", githubID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("project %d: %w", githubID, ErrNotFound)
	}
	return nil
}

// ListActiveGithubIDs returns the upstream ids of every mirrored project.
func (s *Store) ListActiveGithubIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT github_id FROM projects ORDER BY github_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active github ids: %w", err)
	}
	defer closeRows(rows)

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan github id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CountProjects returns the number of mirrored projects.
func (s *Store) CountProjects(ctx context.Context) (int, error) {
	var n int
	if err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM projects`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count projects: %w", err)
	}
	return n, nil
}

// ArchiveProject snapshots the project into archived_projects and removes it
// from projects inside a single transaction. Returns ErrNotFound when the
// project does not exist.
func (s *Store) ArchiveProject(ctx context.Context, githubID int64, reason models.ArchiveReason, at time.Time) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin archive transaction: %w", err)
	}
	defer rollbackQuietly(tx)

	res, err := tx.ExecContext(ctx, `
		INSERT INTO archived_projects
			(id, github_id, name, full_name, url, description, language,
			 stars, forks, pushed_at, starred_at, reason, archived_at)
		SELECT ?, github_id, name, full_name, url, description, language,
		       stars, forks, pushed_at, starred_at, ?, ?
		FROM projects WHERE github_id = ?`,
		uuid.New(), string(reason), at.UTC(), githubID)
	if err != nil {
		return fmt.Errorf("failed to snapshot project %d: %w", githubID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("project %d: %w", githubID, ErrNotFound)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE github_id = ?`, githubID); err != nil {
		return fmt.Errorf("failed to delete project %d: %w", githubID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit archive of project %d: %w", githubID, err)
	}
	return nil
}

// ListArchivedProjects returns archive snapshots, newest first.
func (s *Store) ListArchivedProjects(ctx context.Context, limit int) ([]models.ArchivedProject, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, github_id, name, full_name, url, description, language,
		       stars, forks, pushed_at, starred_at, reason, archived_at
		FROM archived_projects ORDER BY archived_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list archived projects: %w", err)
	}
	defer closeRows(rows)

	var out []models.ArchivedProject
	for rows.Next() {
		var a models.ArchivedProject
		if err := rows.Scan(&a.ID, &a.GithubID, &a.Name, &a.FullName, &a.URL,
			&a.Description, &a.Language, &a.Stars, &a.Forks, &a.PushedAt,
			&a.StarredAt, &a.Reason, &a.ArchivedAt); err != nil {
			return nil, fmt.Errorf("failed to scan archived project: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// PurgeArchivedBefore deletes archive snapshots older than the cutoff, at
// most limit rows per call so retention runs in bounded batches.
func (s *Store) PurgeArchivedBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	res, err := s.conn.ExecContext(ctx, `
		DELETE FROM archived_projects WHERE id IN (
			SELECT id FROM archived_projects WHERE archived_at < ?
			ORDER BY archived_at LIMIT ?
		)`, cutoff.UTC(), limit)
	if err != nil {
		return 0, fmt.Errorf("failed to purge archived projects: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n, nil
}

// CountArchivedBefore returns the number of archive snapshots older than
// the cutoff. Used by maintenance dry runs.
func (s *Store) CountArchivedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	var n int
	err := s.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM archived_projects WHERE archived_at < ?`, cutoff.UTC()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count archived projects: %w", err)
	}
	return n, nil
}

// rollbackQuietly rolls back a transaction, ignoring the error seen after
// a successful commit.
func rollbackQuietly(tx *sql.Tx) {
	_ = tx.Rollback()
}
