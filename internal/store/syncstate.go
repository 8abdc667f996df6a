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
	"unicode/utf8"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/awillheartwu/starsync/internal/logging"
	"github.com/awillheartwu/starsync/internal/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

const (
	// maxStatsJSONBytes caps the serialized run stats stored per state row
	maxStatsJSONBytes = 4096
	// maxErrorBytes caps the persisted error message
	maxErrorBytes = 1024
)

// truncateString caps s at max bytes, backing off to a rune boundary so the
// stored value is always valid UTF-8.
func truncateString(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}

// GetSyncState returns the live state row for (source, key), or ErrNotFound.
func (s *Store) GetSyncState(ctx context.Context, source, key string) (*models.SyncState, error) {
	row := s.conn.QueryRowContext(ctx, `
		SELECT source, key, cursor, etag, last_run_at, last_success_at,
		       last_error_at, last_error, stats_json
		FROM sync_state WHERE source = ? AND key = ?`, source, key)

	var st models.SyncState
	err := row.Scan(&st.Source, &st.Key, &st.Cursor, &st.Etag,
		&st.LastRunAt, &st.LastSuccessAt, &st.LastErrorAt, &st.LastError, &st.StatsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load sync state %s/%s: %w", source, key, err)
	}
	return &st, nil
}

// EnsureSyncState creates the state row for (source, key) if it does not
// already exist, and returns the current row either way.
func (s *Store) EnsureSyncState(ctx context.Context, source, key string) (*models.SyncState, error) {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO sync_state (source, key) VALUES (?, ?)
		ON CONFLICT (source, key) DO NOTHING`, source, key)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure sync state %s/%s: %w", source, key, err)
	}
	return s.GetSyncState(ctx, source, key)
}

// TouchRun records that a run started now. Cursor, etag, and outcome
// fields are left untouched.
func (s *Store) TouchRun(ctx context.Context, source, key string, at time.Time) error {
	res, err := s.conn.ExecContext(ctx, `
		UPDATE sync_state SET last_run_at = ? WHERE source = ? AND key = ?`,
		at.UTC(), source, key)
	if err != nil {
		return fmt.Errorf("failed to touch run for %s/%s: %w", source, key, err)
	}
	return requireRow(res, source, key)
}

// MarkSuccess records a successful run: advances cursor and etag, stamps
// last_success_at, clears the error fields, and stores the run stats.
// A history row is appended best-effort; history failures are logged and
// never fail the run.
func (s *Store) MarkSuccess(ctx context.Context, source, key string, cursor, etag *string, stats models.RunStats, at time.Time) error {
	statsJSON := encodeStats(stats)

	res, err := s.conn.ExecContext(ctx, `
		UPDATE sync_state
		SET cursor = ?, etag = ?, last_success_at = ?,
		    last_error_at = NULL, last_error = NULL, stats_json = ?
		WHERE source = ? AND key = ?`,
		cursor, etag, at.UTC(), statsJSON, source, key)
	if err != nil {
		return fmt.Errorf("failed to mark success for %s/%s: %w", source, key, err)
	}
	if err := requireRow(res, source, key); err != nil {
		return err
	}

	s.appendHistory(ctx, source, key, at)
	return nil
}

// MarkError records a failed run: stamps last_error_at and the truncated
// error message. Cursor, etag, and stats are preserved so the next run
// resumes from the last good position.
func (s *Store) MarkError(ctx context.Context, source, key, errMsg string, at time.Time) error {
	errMsg = truncateString(errMsg, maxErrorBytes)

	res, err := s.conn.ExecContext(ctx, `
		UPDATE sync_state SET last_error_at = ?, last_error = ?
		WHERE source = ? AND key = ?`,
		at.UTC(), errMsg, source, key)
	if err != nil {
		return fmt.Errorf("failed to mark error for %s/%s: %w", source, key, err)
	}
	if err := requireRow(res, source, key); err != nil {
		return err
	}

	s.appendHistory(ctx, source, key, at)
	return nil
}

// appendHistory snapshots the current state row into sync_state_history.
// Best-effort: a failure here must not fail the run that produced it.
func (s *Store) appendHistory(ctx context.Context, source, key string, at time.Time) {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO sync_state_history
			(id, source, key, cursor, etag, last_run_at, last_success_at,
			 last_error_at, last_error, stats_json, created_at)
		SELECT ?, source, key, cursor, etag, last_run_at, last_success_at,
		       last_error_at, last_error, stats_json, ?
		FROM sync_state WHERE source = ? AND key = ?`,
		uuid.New(), at.UTC(), source, key)
	if err != nil {
		logging.Warn().Err(err).
			Str("source", source).
			Str("key", key).
			Msg("Failed to append sync state history")
	}
}

// ListSyncStateHistory returns the most recent history rows for (source, key),
// newest first.
func (s *Store) ListSyncStateHistory(ctx context.Context, source, key string, limit int) ([]models.SyncStateHistory, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, source, key, cursor, etag, last_run_at, last_success_at,
		       last_error_at, last_error, stats_json, created_at
		FROM sync_state_history
		WHERE source = ? AND key = ?
		ORDER BY created_at DESC LIMIT ?`, source, key, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync state history: %w", err)
	}
	defer closeRows(rows)

	var out []models.SyncStateHistory
	for rows.Next() {
		var h models.SyncStateHistory
		if err := rows.Scan(&h.ID, &h.Source, &h.Key, &h.Cursor, &h.Etag,
			&h.LastRunAt, &h.LastSuccessAt, &h.LastErrorAt, &h.LastError,
			&h.StatsJSON, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// encodeStats serializes run stats, capping the stored payload. RunStats is
// tiny so the cap should never trip, but a capped row must still decode.
func encodeStats(stats models.RunStats) string {
	b, err := json.Marshal(stats)
	if err != nil || len(b) > maxStatsJSONBytes {
		if err != nil {
			logging.Warn().Err(err).Msg("Failed to encode run stats")
		} else {
			logging.Warn().Int("bytes", len(b)).Msg("Run stats payload over cap, storing empty object")
		}
		return "{}"
	}
	return string(b)
}

// requireRow converts a zero-row UPDATE into ErrNotFound
func requireRow(res sql.Result, source, key string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("sync state %s/%s: %w", source, key, ErrNotFound)
	}
	return nil
}

// closeRows closes a result set, logging on failure
func closeRows(rows *sql.Rows) {
	if err := rows.Close(); err != nil {
		logging.Warn().Err(err).Msg("Failed to close result set")
	}
}
