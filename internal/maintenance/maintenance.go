// StarSync - GitHub Stars Mirroring and Sync Engine
// Copyright 2026 awillheartwu
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/awillheartwu/starsync

// Package maintenance implements periodic cleanup of data that only grows:
// archive snapshots past retention, terminal queue jobs past retention, and
// recurring schedule registrations whose owner no longer exists. A TTL lock
// keeps passes from overlapping.
package maintenance

import (
	"context"
	"errors"
	"time"

	"github.com/awillheartwu/starsync/internal/config"
	"github.com/awillheartwu/starsync/internal/logging"
	"github.com/awillheartwu/starsync/internal/models"
	"github.com/awillheartwu/starsync/internal/store"
)

// Runner executes maintenance passes against the store.
type Runner struct {
	store *store.Store
	cfg   *config.MaintenanceConfig
	lock  *Lock

	// knownSchedules are the recurring job ids the running configuration
	// owns. Registrations outside this set are stray and get trimmed.
	knownSchedules map[string]struct{}
}

// NewRunner wires a maintenance runner. knownSchedules lists the recurring
// job ids registered by the current deployment.
func NewRunner(st *store.Store, cfg *config.MaintenanceConfig, lock *Lock, knownSchedules []string) *Runner {
	known := make(map[string]struct{}, len(knownSchedules))
	for _, id := range knownSchedules {
		known[id] = struct{}{}
	}
	return &Runner{store: st, cfg: cfg, lock: lock, knownSchedules: known}
}

// Run executes one cleanup pass. When the lock is held by another pass the
// run reports LockSkipped and does nothing. Dry runs count purge candidates
// without deleting.
func (r *Runner) Run(ctx context.Context, opts models.MaintenanceOptions) (*models.MaintenanceSummary, error) {
	summary := &models.MaintenanceSummary{DryRun: opts.DryRun}

	if err := r.lock.Acquire("maintenance"); err != nil {
		if errors.Is(err, ErrLockHeld) {
			summary.LockSkipped = true
			logging.Info().Msg("Maintenance lock held by another pass, skipping")
			return summary, nil
		}
		return nil, err
	}
	defer func() {
		if err := r.lock.Release(); err != nil {
			logging.Warn().Err(err).Msg("Failed to release maintenance lock")
		}
	}()

	batch := opts.BatchSize
	if batch <= 0 {
		batch = r.cfg.BatchSize
	}
	started := time.Now()

	archives, err := r.purgeArchives(ctx, opts.DryRun, batch)
	if err != nil {
		return summary, err
	}
	summary.ArchivesPurged = archives

	jobs, err := r.purgeJobs(ctx, opts.DryRun, batch)
	if err != nil {
		return summary, err
	}
	summary.JobsPurged = jobs

	stray, err := r.trimStraySchedules(ctx, opts.DryRun)
	if err != nil {
		return summary, err
	}
	summary.StrayRegistrations = stray

	logging.Info().
		Bool("dryRun", opts.DryRun).
		Int("archivesPurged", summary.ArchivesPurged).
		Int("jobsPurged", summary.JobsPurged).
		Int("strayRegistrations", summary.StrayRegistrations).
		Dur("duration", time.Since(started)).
		Msg("Maintenance pass completed")
	return summary, nil
}

// purgeArchives removes archive snapshots past the retention window, in
// bounded batches until none remain.
func (r *Runner) purgeArchives(ctx context.Context, dryRun bool, batch int) (int, error) {
	cutoff := time.Now().Add(-r.cfg.ArchiveRetention)

	if dryRun {
		return r.store.CountArchivedBefore(ctx, cutoff)
	}

	total := 0
	for {
		n, err := r.store.PurgeArchivedBefore(ctx, cutoff, batch)
		if err != nil {
			return total, err
		}
		total += int(n)
		if n < int64(batch) {
			return total, nil
		}
		if err := ctx.Err(); err != nil {
			return total, err
		}
	}
}

// purgeJobs removes completed and failed jobs past the retention window.
func (r *Runner) purgeJobs(ctx context.Context, dryRun bool, batch int) (int, error) {
	cutoff := time.Now().Add(-r.cfg.JobRetention)

	if dryRun {
		return r.store.CountTerminalJobsBefore(ctx, cutoff)
	}

	total := 0
	for {
		n, err := r.store.PurgeTerminalJobsBefore(ctx, cutoff, batch)
		if err != nil {
			return total, err
		}
		total += int(n)
		if n < int64(batch) {
			return total, nil
		}
		if err := ctx.Err(); err != nil {
			return total, err
		}
	}
}

// trimStraySchedules removes recurring registrations the running
// configuration does not own, for example a maintenance schedule left
// behind after maintenance was disabled.
func (r *Runner) trimStraySchedules(ctx context.Context, dryRun bool) (int, error) {
	regs, err := r.store.ListRecurringJobs(ctx)
	if err != nil {
		return 0, err
	}

	stray := 0
	for _, reg := range regs {
		if _, ok := r.knownSchedules[reg.ID]; ok {
			continue
		}
		stray++
		if dryRun {
			continue
		}
		if err := r.store.DeleteRecurringJob(ctx, reg.ID); err != nil {
			return stray, err
		}
		logging.Warn().Str("id", reg.ID).Str("schedule", reg.Schedule).
			Msg("Removed stray recurring registration")
	}
	return stray, nil
}
