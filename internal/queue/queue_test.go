// StarSync - GitHub Stars Mirroring and Sync Engine
// Copyright 2026 awillheartwu
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/awillheartwu/starsync

package queue

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/awillheartwu/starsync/internal/config"
	"github.com/awillheartwu/starsync/internal/github"
	"github.com/awillheartwu/starsync/internal/models"
	"github.com/awillheartwu/starsync/internal/store"
)

func newTestQueue(t *testing.T) (*Queue, *store.Store) {
	t.Helper()
	st, err := store.New(&config.DatabaseConfig{
		Path:      filepath.Join(t.TempDir(), "queue.duckdb"),
		MaxMemory: "256MB",
		Threads:   1,
	})
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	q := New(st, &config.QueueConfig{
		Concurrency:  1,
		MaxAttempts:  3,
		RetryDelay:   50 * time.Millisecond,
		PollInterval: 10 * time.Millisecond,
	})
	return q, st
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestEnqueueDeduplicates(t *testing.T) {
	t.Parallel()
	q, st := newTestQueue(t)
	ctx := context.Background()

	opts := models.RunOptions{Mode: models.RunModeIncremental}
	if err := q.EnqueueScheduledSync(ctx, opts); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}

	// Same identity while live: conflict naming the existing job
	err := q.EnqueueScheduledSync(ctx, opts)
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if conflict.JobID != ScheduledSyncJobID {
		t.Errorf("conflict job id: expected %s, got %s", ScheduledSyncJobID, conflict.JobID)
	}
	if conflict.State != models.JobStateWaiting {
		t.Errorf("conflict state: expected waiting, got %s", conflict.State)
	}

	// Terminal job is replaced by a fresh submission
	if err := st.MarkJobFailed(ctx, ScheduledSyncJobID, "boom"); err != nil {
		t.Fatalf("MarkJobFailed: %v", err)
	}
	if err := q.EnqueueScheduledSync(ctx, opts); err != nil {
		t.Fatalf("enqueue over terminal job: %v", err)
	}
	j, err := st.GetJob(ctx, ScheduledSyncJobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if j.State != models.JobStateWaiting {
		t.Errorf("replacement should be waiting, got %s", j.State)
	}
	if j.Attempts != 0 {
		t.Errorf("replacement should start fresh, got %d attempts", j.Attempts)
	}
}

func TestManualSyncIDDependsOnOptions(t *testing.T) {
	t.Parallel()
	q, _ := newTestQueue(t)
	ctx := context.Background()

	idA, err := q.EnqueueManualSync(ctx, models.RunOptions{Mode: models.RunModeIncremental})
	if err != nil {
		t.Fatalf("first manual enqueue: %v", err)
	}

	// Identical options collide
	idDup, err := q.EnqueueManualSync(ctx, models.RunOptions{Mode: models.RunModeIncremental})
	if !IsConflict(err) {
		t.Fatalf("expected conflict for identical options, got %v", err)
	}
	if idDup != idA {
		t.Errorf("identical options must map to the same id: %s vs %s", idA, idDup)
	}

	// Different options queue separately
	idB, err := q.EnqueueManualSync(ctx, models.RunOptions{Mode: models.RunModeFull})
	if err != nil {
		t.Fatalf("different options should enqueue: %v", err)
	}
	if idB == idA {
		t.Error("different options must map to different ids")
	}
}

func TestManualMaintenanceIDDependsOnOptions(t *testing.T) {
	t.Parallel()
	q, _ := newTestQueue(t)
	ctx := context.Background()

	dryID, err := q.EnqueueMaintenance(ctx, models.MaintenanceOptions{DryRun: true}, false)
	if err != nil {
		t.Fatalf("dry-run enqueue: %v", err)
	}

	// A destructive run queues independently of the pending dry run
	realID, err := q.EnqueueMaintenance(ctx, models.MaintenanceOptions{}, false)
	if err != nil {
		t.Fatalf("different options should enqueue: %v", err)
	}
	if realID == dryID {
		t.Error("different options must map to different ids")
	}

	// Identical options collide
	dupID, err := q.EnqueueMaintenance(ctx, models.MaintenanceOptions{DryRun: true}, false)
	if !IsConflict(err) {
		t.Fatalf("expected conflict for identical options, got %v", err)
	}
	if dupID != dryID {
		t.Errorf("identical options must map to the same id: %s vs %s", dryID, dupID)
	}

	// Scheduled submissions keep their fixed id
	schedID, err := q.EnqueueMaintenance(ctx, models.MaintenanceOptions{}, true)
	if err != nil {
		t.Fatalf("scheduled enqueue: %v", err)
	}
	if schedID != ScheduledMaintenanceJobID {
		t.Errorf("scheduled id: expected %s, got %s", ScheduledMaintenanceJobID, schedID)
	}
}

func TestWorkerProcessesJobs(t *testing.T) {
	t.Parallel()
	q, st := newTestQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var processed atomic.Int32
	q.Register(models.TaskKindSync, func(ctx context.Context, job *models.Job) error {
		processed.Add(1)
		return nil
	})

	if err := q.EnqueueScheduledSync(ctx, models.RunOptions{Mode: models.RunModeIncremental}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer q.Stop()

	waitFor(t, 3*time.Second, func() bool { return processed.Load() == 1 })

	waitFor(t, 3*time.Second, func() bool {
		j, err := st.GetJob(ctx, ScheduledSyncJobID)
		return err == nil && j.State == models.JobStateCompleted
	})
}

func TestWorkerRetriesThenFails(t *testing.T) {
	t.Parallel()
	q, st := newTestQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var attempts atomic.Int32
	q.Register(models.TaskKindSync, func(ctx context.Context, job *models.Job) error {
		attempts.Add(1)
		return fmt.Errorf("always broken")
	})

	if err := q.EnqueueScheduledSync(ctx, models.RunOptions{Mode: models.RunModeIncremental}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer q.Stop()

	waitFor(t, 5*time.Second, func() bool {
		j, err := st.GetJob(ctx, ScheduledSyncJobID)
		return err == nil && j.State == models.JobStateFailed
	})

	if got := attempts.Load(); got != 3 {
		t.Errorf("expected 3 attempts before terminal failure, got %d", got)
	}
	j, _ := st.GetJob(ctx, ScheduledSyncJobID)
	if j.LastError == nil || *j.LastError != "always broken" {
		t.Errorf("final error should be recorded, got %v", j.LastError)
	}
}

func TestFailureHookFiresOnlyOnTerminalFailure(t *testing.T) {
	t.Parallel()
	q, st := newTestQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var attempts, hookCalls atomic.Int32
	q.Register(models.TaskKindSync, func(ctx context.Context, job *models.Job) error {
		attempts.Add(1)
		return fmt.Errorf("always broken")
	})
	q.OnFailure(func(job *models.Job, cause error) {
		hookCalls.Add(1)
		if job.ID != ScheduledSyncJobID {
			t.Errorf("hook job id: expected %s, got %s", ScheduledSyncJobID, job.ID)
		}
		if cause == nil || cause.Error() != "always broken" {
			t.Errorf("hook cause: expected the handler error, got %v", cause)
		}
	})

	if err := q.EnqueueScheduledSync(ctx, models.RunOptions{Mode: models.RunModeIncremental}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer q.Stop()

	waitFor(t, 5*time.Second, func() bool {
		j, err := st.GetJob(ctx, ScheduledSyncJobID)
		return err == nil && j.State == models.JobStateFailed
	})

	if got := attempts.Load(); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
	// Retried attempts must not fire the hook; only the terminal failure does.
	if got := hookCalls.Load(); got != 1 {
		t.Errorf("expected exactly 1 hook call, got %d", got)
	}
}

func TestRateLimitHintDrivesRetryDelay(t *testing.T) {
	t.Parallel()
	q, st := newTestQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q.Register(models.TaskKindSync, func(ctx context.Context, job *models.Job) error {
		return fmt.Errorf("fetch: %w", &github.RateLimitError{
			RetryAfter: time.Hour,
			StatusCode: 429,
		})
	})

	if err := q.EnqueueScheduledSync(ctx, models.RunOptions{Mode: models.RunModeIncremental}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer q.Stop()

	waitFor(t, 3*time.Second, func() bool {
		j, err := st.GetJob(ctx, ScheduledSyncJobID)
		return err == nil && j.State == models.JobStateDelayed
	})

	j, _ := st.GetJob(ctx, ScheduledSyncJobID)
	if until := time.Until(j.NextRunAt); until < 50*time.Minute {
		t.Errorf("retry should honor the rate limit hint, next run in %s", until)
	}
}
