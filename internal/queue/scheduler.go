// StarSync - GitHub Stars Mirroring and Sync Engine
// Copyright 2026 awillheartwu
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/awillheartwu/starsync

package queue

import (
	"context"
	"sync"
	"time"

	"github.com/awillheartwu/starsync/internal/config"
	"github.com/awillheartwu/starsync/internal/logging"
	"github.com/awillheartwu/starsync/internal/models"
)

// Scheduler submits recurring jobs on fixed intervals. Each schedule is
// registered in the store so maintenance can detect registrations whose
// schedule no longer exists.
type Scheduler struct {
	queue   *Queue
	syncCfg *config.SyncConfig
	mntCfg  *config.MaintenanceConfig

	stopCh chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
	active bool
}

// NewScheduler wires a scheduler over the queue.
func NewScheduler(q *Queue, syncCfg *config.SyncConfig, mntCfg *config.MaintenanceConfig) *Scheduler {
	return &Scheduler{
		queue:   q,
		syncCfg: syncCfg,
		mntCfg:  mntCfg,
		stopCh:  make(chan struct{}),
	}
}

// Start registers the recurring schedules and launches the tick loops.
// The first sync is submitted immediately so a fresh deployment mirrors
// without waiting a full interval.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return nil
	}
	s.active = true
	s.mu.Unlock()

	if err := s.register(ctx); err != nil {
		return err
	}

	s.wg.Add(1)
	go s.syncLoop(ctx)

	if s.mntCfg.Enabled {
		s.wg.Add(1)
		go s.maintenanceLoop(ctx)
	}

	logging.Info().
		Dur("syncInterval", s.syncCfg.Interval).
		Bool("maintenance", s.mntCfg.Enabled).
		Msg("Scheduler started")
	return nil
}

// Stop halts the tick loops. In-flight jobs are unaffected.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.active = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()
	logging.Info().Msg("Scheduler stopped")
}

// register persists the recurring schedule registrations.
func (s *Scheduler) register(ctx context.Context) error {
	err := s.queue.store.UpsertRecurringJob(ctx, &models.RecurringJob{
		ID:       ScheduledSyncJobID,
		Kind:     models.TaskKindSync,
		Schedule: "@every " + s.syncCfg.Interval.String(),
	})
	if err != nil {
		return err
	}
	if !s.mntCfg.Enabled {
		return nil
	}
	return s.queue.store.UpsertRecurringJob(ctx, &models.RecurringJob{
		ID:       ScheduledMaintenanceJobID,
		Kind:     models.TaskKindMaintenance,
		Schedule: "@every " + s.mntCfg.Interval.String(),
	})
}

func (s *Scheduler) syncLoop(ctx context.Context) {
	defer s.wg.Done()

	s.submitSync(ctx)

	ticker := time.NewTicker(s.syncCfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.submitSync(ctx)
		}
	}
}

func (s *Scheduler) maintenanceLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.mntCfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.submitMaintenance(ctx)
		}
	}
}

// submitSync enqueues the scheduled incremental sync. A conflict means the
// previous run is still queued or in flight; the tick is skipped, never
// stacked.
func (s *Scheduler) submitSync(ctx context.Context) {
	err := s.queue.EnqueueScheduledSync(ctx, models.RunOptions{
		Mode:    models.RunModeIncremental,
		PerPage: s.syncCfg.PerPage,
	})
	if IsConflict(err) {
		logging.Debug().Msg("Scheduled sync still pending, skipping tick")
		return
	}
	if err != nil {
		logging.Error().Err(err).Msg("Failed to enqueue scheduled sync")
	}
}

func (s *Scheduler) submitMaintenance(ctx context.Context) {
	_, err := s.queue.EnqueueMaintenance(ctx, models.MaintenanceOptions{
		BatchSize: s.mntCfg.BatchSize,
	}, true)
	if IsConflict(err) {
		logging.Debug().Msg("Scheduled maintenance still pending, skipping tick")
		return
	}
	if err != nil {
		logging.Error().Err(err).Msg("Failed to enqueue scheduled maintenance")
	}
}
