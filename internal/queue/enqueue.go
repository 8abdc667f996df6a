// StarSync - GitHub Stars Mirroring and Sync Engine
// Copyright 2026 awillheartwu
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/awillheartwu/starsync

package queue

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	json "github.com/goccy/go-json"

	"github.com/awillheartwu/starsync/internal/logging"
	"github.com/awillheartwu/starsync/internal/models"
	"github.com/awillheartwu/starsync/internal/store"
)

// Deterministic job ids. A given task identity always maps to the same id,
// so a duplicate submission collides with the live job instead of queueing
// a second copy.
const (
	ScheduledSyncJobID        = "sync:stars:scheduled"
	manualSyncJobPrefix       = "sync:stars:manual:"
	ScheduledMaintenanceJobID  = "maintenance:scheduled"
	manualMaintenanceJobPrefix = "maintenance:manual:"
)

// ConflictError reports that an equivalent job already exists and has not
// reached a terminal state.
type ConflictError struct {
	JobID string
	State models.JobState
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("job %s already %s", e.JobID, e.State)
}

// IsConflict reports whether err carries a *ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// Enqueue inserts a job with dedup semantics: if a job with the same id
// exists and is not terminal, a ConflictError identifying it is returned;
// if it is terminal, the old row is replaced by the fresh submission.
func (q *Queue) Enqueue(ctx context.Context, job *models.Job) error {
	existing, err := q.store.GetJob(ctx, job.ID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		// fresh id
	case err != nil:
		return err
	case existing.State.Terminal():
		if err := q.store.DeleteJob(ctx, existing.ID); err != nil {
			return err
		}
		logging.Debug().Str("jobId", existing.ID).Str("priorState", string(existing.State)).
			Msg("Replaced terminal job with fresh submission")
	default:
		return &ConflictError{JobID: existing.ID, State: existing.State}
	}

	if job.MaxAttempts <= 0 {
		job.MaxAttempts = q.cfg.MaxAttempts
	}
	if err := q.store.InsertJob(ctx, job); err != nil {
		return err
	}
	logging.Info().Str("jobId", job.ID).Str("kind", string(job.Kind)).Msg("Job enqueued")
	return nil
}

// EnqueueScheduledSync submits the recurring incremental sync job. At most
// one scheduled sync exists at a time; a tick that fires while the previous
// run is still queued or active is a conflict and is skipped.
func (q *Queue) EnqueueScheduledSync(ctx context.Context, opts models.RunOptions) error {
	payload, err := json.Marshal(models.SyncTask{Options: opts})
	if err != nil {
		return fmt.Errorf("failed to encode sync task: %w", err)
	}
	return q.Enqueue(ctx, &models.Job{
		ID:      ScheduledSyncJobID,
		Kind:    models.TaskKindSync,
		Payload: payload,
	})
}

// EnqueueManualSync submits an operator-triggered sync. The id is derived
// from the normalized options, so resubmitting identical options while the
// job is live conflicts, while different options queue separately. Manual
// jobs outrank scheduled ones.
func (q *Queue) EnqueueManualSync(ctx context.Context, opts models.RunOptions) (string, error) {
	payload, err := json.Marshal(models.SyncTask{Options: opts})
	if err != nil {
		return "", fmt.Errorf("failed to encode sync task: %w", err)
	}
	id := manualSyncJobPrefix + optionsHash(payload)
	job := &models.Job{
		ID:       id,
		Kind:     models.TaskKindSync,
		Priority: 10,
		Payload:  payload,
	}
	if err := q.Enqueue(ctx, job); err != nil {
		return id, err
	}
	return id, nil
}

// EnqueueMaintenance submits a maintenance job. Scheduled submissions use a
// fixed id; manual ones derive theirs from the options, so a dry run never
// collides with a pending destructive run.
func (q *Queue) EnqueueMaintenance(ctx context.Context, opts models.MaintenanceOptions, scheduled bool) (string, error) {
	payload, err := json.Marshal(models.MaintenanceTask{Options: opts})
	if err != nil {
		return "", fmt.Errorf("failed to encode maintenance task: %w", err)
	}
	id := manualMaintenanceJobPrefix + optionsHash(payload)
	if scheduled {
		id = ScheduledMaintenanceJobID
	}
	job := &models.Job{
		ID:      id,
		Kind:    models.TaskKindMaintenance,
		Payload: payload,
	}
	if err := q.Enqueue(ctx, job); err != nil {
		return id, err
	}
	return id, nil
}

// optionsHash derives a short stable digest of an encoded task payload.
func optionsHash(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])[:16]
}
