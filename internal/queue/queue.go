// StarSync - GitHub Stars Mirroring and Sync Engine
// Copyright 2026 awillheartwu
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/awillheartwu/starsync

package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/awillheartwu/starsync/internal/config"
	"github.com/awillheartwu/starsync/internal/github"
	"github.com/awillheartwu/starsync/internal/logging"
	"github.com/awillheartwu/starsync/internal/metrics"
	"github.com/awillheartwu/starsync/internal/models"
	"github.com/awillheartwu/starsync/internal/store"
)

// Handler executes one claimed job. A nil return completes the job; an
// error schedules a retry or, past the attempt budget, fails it.
type Handler func(ctx context.Context, job *models.Job) error

// Queue is a durable job queue backed by the store's jobs table. A fixed
// pool of workers polls for runnable jobs and dispatches them to the
// registered handler for their kind.
type Queue struct {
	store *store.Store
	cfg   *config.QueueConfig

	mu        sync.RWMutex
	handlers  map[models.TaskKind]Handler
	onFailure func(job *models.Job, cause error)

	stopCh  chan struct{}
	stopped chan struct{}
	wg      sync.WaitGroup
	started bool
}

// New creates a queue over the given store.
func New(st *store.Store, cfg *config.QueueConfig) *Queue {
	return &Queue{
		store:    st,
		cfg:      cfg,
		handlers: make(map[models.TaskKind]Handler),
		stopCh:   make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// Register installs the handler for a task kind. Must be called before Start.
func (q *Queue) Register(kind models.TaskKind, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[kind] = h
}

// OnFailure installs a hook invoked once per job, only when the job fails
// terminally. Retried attempts do not fire it. Must be called before Start.
func (q *Queue) OnFailure(hook func(job *models.Job, cause error)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onFailure = hook
}

// Start requeues jobs orphaned by a previous crash and launches the worker
// pool. Workers run until Stop is called or the context is canceled.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return errors.New("queue already started")
	}
	q.started = true
	q.mu.Unlock()

	n, err := q.store.RequeueActiveJobs(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		logging.Warn().Int64("count", n).Msg("Requeued jobs orphaned by previous shutdown")
	}

	for i := 0; i < q.cfg.Concurrency; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i)
	}
	q.wg.Add(1)
	go q.depthLoop(ctx)

	logging.Info().Int("workers", q.cfg.Concurrency).Msg("Job queue started")
	return nil
}

// Stop signals the workers and waits for in-flight jobs to finish.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.started {
		q.mu.Unlock()
		return
	}
	q.started = false
	q.mu.Unlock()

	close(q.stopCh)
	q.wg.Wait()
	close(q.stopped)
	logging.Info().Msg("Job queue stopped")
}

// Counts reports the number of jobs per state.
func (q *Queue) Counts(ctx context.Context) (models.QueueCounts, error) {
	return q.store.JobCounts(ctx)
}

// worker polls for runnable jobs and processes them one at a time.
func (q *Queue) worker(ctx context.Context, id int) {
	defer q.wg.Done()

	ticker := time.NewTicker(q.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-q.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Drain everything runnable before going back to sleep
			for q.runOne(ctx, id) {
				select {
				case <-q.stopCh:
					return
				case <-ctx.Done():
					return
				default:
				}
			}
		}
	}
}

// runOne claims and processes a single job. Returns false when no job was
// runnable so the worker can sleep.
func (q *Queue) runOne(ctx context.Context, workerID int) bool {
	job, err := q.store.ClaimNextJob(ctx, time.Now())
	if errors.Is(err, store.ErrNotFound) {
		return false
	}
	if err != nil {
		logging.Error().Err(err).Int("worker", workerID).Msg("Failed to claim job")
		return false
	}

	log := logging.With().
		Str("jobId", job.ID).
		Str("kind", string(job.Kind)).
		Int("attempt", job.Attempts).
		Int("worker", workerID).
		Logger()
	log.Debug().Msg("Job claimed")

	q.mu.RLock()
	handler, ok := q.handlers[job.Kind]
	q.mu.RUnlock()
	if !ok {
		log.Error().Msg("No handler registered for job kind")
		q.finalize(ctx, job, errors.New("no handler registered"))
		return true
	}

	if err := handler(ctx, job); err != nil {
		q.retryOrFail(ctx, job, err, log)
		return true
	}

	if err := q.store.MarkJobCompleted(ctx, job.ID); err != nil {
		log.Error().Err(err).Msg("Failed to mark job completed")
	}
	metrics.JobsProcessed.WithLabelValues(string(job.Kind), "completed").Inc()
	log.Info().Msg("Job completed")
	return true
}

// retryOrFail schedules a retry with the configured delay, honoring a rate
// limit hint when one is attached to the error. Past the attempt budget the
// job fails terminally.
func (q *Queue) retryOrFail(ctx context.Context, job *models.Job, cause error, log zerolog.Logger) {
	if job.Attempts >= job.MaxAttempts {
		q.finalize(ctx, job, cause)
		return
	}

	delay := q.cfg.RetryDelay
	var rl *github.RateLimitError
	if errors.As(cause, &rl) && rl.RetryAfter > 0 {
		delay = rl.RetryAfter
	}

	nextRun := time.Now().Add(delay)
	if err := q.store.MarkJobDelayed(ctx, job.ID, nextRun, cause.Error()); err != nil {
		log.Error().Err(err).Msg("Failed to delay job")
		return
	}
	metrics.JobsProcessed.WithLabelValues(string(job.Kind), "delayed").Inc()
	log.Warn().Err(cause).Dur("delay", delay).Time("nextRun", nextRun).Msg("Job delayed for retry")
}

func (q *Queue) finalize(ctx context.Context, job *models.Job, cause error) {
	if err := q.store.MarkJobFailed(ctx, job.ID, cause.Error()); err != nil {
		logging.Error().Err(err).Str("jobId", job.ID).Msg("Failed to mark job failed")
	}
	metrics.JobsProcessed.WithLabelValues(string(job.Kind), "failed").Inc()
	logging.Error().Err(cause).Str("jobId", job.ID).Int("attempts", job.Attempts).Msg("Job failed terminally")

	q.mu.RLock()
	hook := q.onFailure
	q.mu.RUnlock()
	if hook != nil {
		hook(job, cause)
	}
}

// depthLoop periodically exports queue depth gauges.
func (q *Queue) depthLoop(ctx context.Context) {
	defer q.wg.Done()

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-q.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			counts, err := q.store.JobCounts(ctx)
			if err != nil {
				logging.Debug().Err(err).Msg("Failed to read queue depth")
				continue
			}
			metrics.QueueDepth.WithLabelValues("waiting").Set(float64(counts.Waiting))
			metrics.QueueDepth.WithLabelValues("active").Set(float64(counts.Active))
			metrics.QueueDepth.WithLabelValues("delayed").Set(float64(counts.Delayed))
		}
	}
}
