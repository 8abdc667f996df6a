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

	"github.com/awillheartwu/starsync/internal/models"
)

// GetJob returns the job with the given id, or ErrNotFound.
func (s *Store) GetJob(ctx context.Context, id string) (*models.Job, error) {
	row := s.conn.QueryRowContext(ctx, `
		SELECT id, kind, priority, payload, state, attempts, max_attempts,
		       next_run_at, last_error, created_at, updated_at
		FROM jobs WHERE id = ?`, id)

	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", id, err)
	}
	return j, nil
}

// InsertJob stores a new job in the waiting (or delayed) state. Inserting an
// id that already exists fails; callers resolve duplicates first via GetJob.
func (s *Store) InsertJob(ctx context.Context, j *models.Job) error {
	now := time.Now().UTC()
	j.CreatedAt = now
	j.UpdatedAt = now
	if j.NextRunAt.IsZero() {
		j.NextRunAt = now
	}
	if j.State == "" {
		j.State = models.JobStateWaiting
	}

	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO jobs
			(id, kind, priority, payload, state, attempts, max_attempts,
			 next_run_at, last_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, string(j.Kind), j.Priority, j.Payload, string(j.State),
		j.Attempts, j.MaxAttempts, j.NextRunAt.UTC(), j.LastError,
		j.CreatedAt, j.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert job %s: %w", j.ID, err)
	}
	return nil
}

// DeleteJob removes a job row. Used when a terminal job is replaced by a
// fresh submission with the same deterministic id.
func (s *Store) DeleteJob(ctx context.Context, id string) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete job %s: %w", id, err)
	}
	return nil
}

// ClaimNextJob atomically picks the next runnable job (waiting, or delayed
// and due) and moves it to active. Highest priority first, oldest first
// within a priority. Returns ErrNotFound when nothing is runnable.
func (s *Store) ClaimNextJob(ctx context.Context, now time.Time) (*models.Job, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim transaction: %w", err)
	}
	defer rollbackQuietly(tx)

	row := tx.QueryRowContext(ctx, `
		SELECT id, kind, priority, payload, state, attempts, max_attempts,
		       next_run_at, last_error, created_at, updated_at
		FROM jobs
		WHERE (state = 'waiting' OR (state = 'delayed' AND next_run_at <= ?))
		ORDER BY priority DESC, created_at ASC
		LIMIT 1`, now.UTC())

	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan claimable job: %w", err)
	}

	j.State = models.JobStateActive
	j.Attempts++
	j.UpdatedAt = now.UTC()
	if _, err := tx.ExecContext(ctx, `
		UPDATE jobs SET state = 'active', attempts = ?, updated_at = ?
		WHERE id = ?`, j.Attempts, j.UpdatedAt, j.ID); err != nil {
		return nil, fmt.Errorf("failed to claim job %s: %w", j.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim of job %s: %w", j.ID, err)
	}
	return j, nil
}

// MarkJobCompleted moves a job to the completed state.
func (s *Store) MarkJobCompleted(ctx context.Context, id string) error {
	return s.setJobState(ctx, id, models.JobStateCompleted, nil, nil)
}

// MarkJobDelayed reschedules a job for a retry at nextRun, recording the
// error that caused the delay.
func (s *Store) MarkJobDelayed(ctx context.Context, id string, nextRun time.Time, cause string) error {
	return s.setJobState(ctx, id, models.JobStateDelayed, &nextRun, &cause)
}

// MarkJobFailed moves a job to the terminal failed state with its final error.
func (s *Store) MarkJobFailed(ctx context.Context, id string, cause string) error {
	return s.setJobState(ctx, id, models.JobStateFailed, nil, &cause)
}

func (s *Store) setJobState(ctx context.Context, id string, state models.JobState, nextRun *time.Time, cause *string) error {
	now := time.Now().UTC()

	var res sql.Result
	var err error
	switch {
	case nextRun != nil:
		t := nextRun.UTC()
		res, err = s.conn.ExecContext(ctx, `
			UPDATE jobs SET state = ?, next_run_at = ?, last_error = ?, updated_at = ?
			WHERE id = ?`, string(state), t, truncateCause(cause), now, id)
	case cause != nil:
		res, err = s.conn.ExecContext(ctx, `
			UPDATE jobs SET state = ?, last_error = ?, updated_at = ?
			WHERE id = ?`, string(state), truncateCause(cause), now, id)
	default:
		res, err = s.conn.ExecContext(ctx, `
			UPDATE jobs SET state = ?, last_error = NULL, updated_at = ?
			WHERE id = ?`, string(state), now, id)
	}
	if err != nil {
		return fmt.Errorf("failed to set job %s to %s: %w", id, state, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return nil
}

// RequeueActiveJobs moves every active job back to waiting. Run once at
// startup so jobs orphaned by a crash are picked up again.
func (s *Store) RequeueActiveJobs(ctx context.Context) (int64, error) {
	res, err := s.conn.ExecContext(ctx, `
		UPDATE jobs SET state = 'waiting', updated_at = ?
		WHERE state = 'active'`, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to requeue active jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n, nil
}

// JobCounts returns the number of jobs in each state.
func (s *Store) JobCounts(ctx context.Context) (models.QueueCounts, error) {
	var counts models.QueueCounts
	rows, err := s.conn.QueryContext(ctx, `SELECT state, COUNT(*) FROM jobs GROUP BY state`)
	if err != nil {
		return counts, fmt.Errorf("failed to count jobs: %w", err)
	}
	defer closeRows(rows)

	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return counts, fmt.Errorf("failed to scan job count: %w", err)
		}
		switch models.JobState(state) {
		case models.JobStateWaiting:
			counts.Waiting = n
		case models.JobStateActive:
			counts.Active = n
		case models.JobStateDelayed:
			counts.Delayed = n
		case models.JobStateCompleted:
			counts.Completed = n
		case models.JobStateFailed:
			counts.Failed = n
		}
	}
	return counts, rows.Err()
}

// PurgeTerminalJobsBefore deletes completed and failed jobs last updated
// before the cutoff, at most limit rows per call.
func (s *Store) PurgeTerminalJobsBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	res, err := s.conn.ExecContext(ctx, `
		DELETE FROM jobs WHERE id IN (
			SELECT id FROM jobs
			WHERE state IN ('completed', 'failed') AND updated_at < ?
			ORDER BY updated_at LIMIT ?
		)`, cutoff.UTC(), limit)
	if err != nil {
		return 0, fmt.Errorf("failed to purge terminal jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n, nil
}

// CountTerminalJobsBefore returns the number of completed and failed jobs
// last updated before the cutoff. Used by maintenance dry runs.
func (s *Store) CountTerminalJobsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	var n int
	err := s.conn.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM jobs
		WHERE state IN ('completed', 'failed') AND updated_at < ?`, cutoff.UTC()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count terminal jobs: %w", err)
	}
	return n, nil
}

// UpsertRecurringJob registers (or refreshes) a recurring schedule.
func (s *Store) UpsertRecurringJob(ctx context.Context, r *models.RecurringJob) error {
	now := time.Now().UTC()
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO recurring_jobs (id, kind, schedule, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			kind = excluded.kind,
			schedule = excluded.schedule,
			updated_at = excluded.updated_at`,
		r.ID, string(r.Kind), r.Schedule, now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert recurring job %s: %w", r.ID, err)
	}
	return nil
}

// ListRecurringJobs returns all registered recurring schedules.
func (s *Store) ListRecurringJobs(ctx context.Context) ([]models.RecurringJob, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, kind, schedule, created_at, updated_at
		FROM recurring_jobs ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list recurring jobs: %w", err)
	}
	defer closeRows(rows)

	var out []models.RecurringJob
	for rows.Next() {
		var r models.RecurringJob
		var kind string
		if err := rows.Scan(&r.ID, &kind, &r.Schedule, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan recurring job: %w", err)
		}
		r.Kind = models.TaskKind(kind)
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteRecurringJob removes a recurring schedule registration.
func (s *Store) DeleteRecurringJob(ctx context.Context, id string) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM recurring_jobs WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete recurring job %s: %w", id, err)
	}
	return nil
}

// scanJob reads one job row from either a *sql.Row or *sql.Rows.
func scanJob(row interface{ Scan(...any) error }) (*models.Job, error) {
	var j models.Job
	var kind, state string
	if err := row.Scan(&j.ID, &kind, &j.Priority, &j.Payload, &state,
		&j.Attempts, &j.MaxAttempts, &j.NextRunAt, &j.LastError,
		&j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	j.Kind = models.TaskKind(kind)
	j.State = models.JobState(state)
	return &j, nil
}

func truncateCause(cause *string) *string {
	if cause == nil {
		return nil
	}
	c := truncateString(*cause, maxErrorBytes)
	return &c
}
