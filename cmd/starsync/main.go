// StarSync - GitHub Stars Mirroring and Sync Engine
// Copyright 2026 awillheartwu
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/awillheartwu/starsync

// Package main is the entry point for the StarSync server.
//
// StarSync mirrors a GitHub user's starred repositories into a local DuckDB
// store and keeps the mirror current with incremental, conditional syncs.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: layered settings from defaults, config.yaml, and
//     environment variables (Koanf v2)
//  2. Store: DuckDB database holding projects, sync state, archives, and
//     the durable job queue
//  3. GitHub client: rate-limited, circuit-broken fetcher for the starred
//     collection
//  4. Queue and scheduler: worker pool over the jobs table plus interval
//     ticks for recurring sync and maintenance
//  5. HTTP server: admin API, health, and Prometheus metrics
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins): environment variables, config file, built-in defaults.
// The minimum viable configuration is:
//
//	export GITHUB_USERNAME=you
//	export GITHUB_TOKEN=ghp_xxx
//	./starsync
//
// # Signal Handling
//
// The server handles graceful shutdown on SIGINT and SIGTERM: the HTTP
// server drains in-flight requests, the scheduler stops ticking, workers
// finish their current job, and the store closes last.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	json "github.com/goccy/go-json"

	"github.com/awillheartwu/starsync/internal/api"
	"github.com/awillheartwu/starsync/internal/cache"
	"github.com/awillheartwu/starsync/internal/config"
	"github.com/awillheartwu/starsync/internal/engine"
	"github.com/awillheartwu/starsync/internal/github"
	"github.com/awillheartwu/starsync/internal/logging"
	"github.com/awillheartwu/starsync/internal/maintenance"
	"github.com/awillheartwu/starsync/internal/models"
	"github.com/awillheartwu/starsync/internal/notify"
	"github.com/awillheartwu/starsync/internal/queue"
	"github.com/awillheartwu/starsync/internal/store"
)

func main() {
	if err := run(); err != nil {
		logging.Fatal().Err(err).Msg("Fatal error")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().Str("username", cfg.Github.Username).Msg("StarSync starting")

	st, err := store.New(&cfg.Database)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logging.Warn().Err(err).Msg("Failed to close store")
		}
	}()

	client := github.NewClient(&cfg.Github)
	readmeCache := cache.New(cfg.Cache.TTL)
	defer readmeCache.Stop()

	notifier := notify.New()
	defer func() {
		if err := notifier.Close(); err != nil {
			logging.Warn().Err(err).Msg("Failed to close notifier")
		}
	}()

	runner := engine.NewRunner(client, st, &cfg.Sync, readmeCache)

	lock, err := maintenance.NewLock(cfg.Maintenance.LockPath, cfg.Maintenance.LockTTL)
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Close(); err != nil {
			logging.Warn().Err(err).Msg("Failed to close maintenance lock")
		}
	}()
	mnt := maintenance.NewRunner(st, &cfg.Maintenance, lock, []string{
		queue.ScheduledSyncJobID,
		queue.ScheduledMaintenanceJobID,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := notifier.StartLogSubscriber(ctx); err != nil {
		return err
	}

	q := queue.New(st, &cfg.Queue)
	q.Register(models.TaskKindSync, syncHandler(runner, notifier))
	q.Register(models.TaskKindMaintenance, maintenanceHandler(mnt, notifier))
	q.OnFailure(failureNotifier(notifier))
	if err := q.Start(ctx); err != nil {
		return err
	}
	defer q.Stop()

	scheduler := queue.NewScheduler(q, &cfg.Sync, &cfg.Maintenance)
	if err := scheduler.Start(ctx); err != nil {
		return err
	}
	defer scheduler.Stop()

	handler := api.NewHandler(st, q, runner.StateKey())
	router := api.NewRouter(handler)
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.Setup(),
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", server.Addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
	case err := <-serverErr:
		logging.Error().Err(err).Msg("HTTP server error")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logging.Warn().Err(err).Msg("HTTP server shutdown incomplete")
	}

	cancel()
	logging.Info().Msg("StarSync stopped gracefully")
	return nil
}

// syncHandler adapts the engine to the queue's handler contract and
// publishes the success outcome. Failure events are published by the
// queue's terminal-failure hook, not per attempt: a failure that will be
// retried is not an outcome yet.
func syncHandler(runner *engine.Runner, notifier *notify.Notifier) queue.Handler {
	return func(ctx context.Context, job *models.Job) error {
		var task models.SyncTask
		if err := json.Unmarshal(job.Payload, &task); err != nil {
			return fmt.Errorf("failed to decode sync task: %w", err)
		}

		stats, err := runner.Run(ctx, task.Options)
		if err != nil {
			return err
		}
		notifier.NotifyRunSucceeded(string(task.Options.Mode), *stats)
		return nil
	}
}

// failureNotifier publishes run.failed once a sync job has exhausted its
// attempts and failed terminally.
func failureNotifier(notifier *notify.Notifier) func(job *models.Job, cause error) {
	return func(job *models.Job, cause error) {
		if job.Kind != models.TaskKindSync {
			return
		}
		mode := string(models.RunModeIncremental)
		var task models.SyncTask
		if err := json.Unmarshal(job.Payload, &task); err == nil && task.Options.Mode.Valid() {
			mode = string(task.Options.Mode)
		}
		notifier.NotifyRunFailed(mode, cause)
	}
}

// maintenanceHandler adapts the maintenance runner to the queue.
func maintenanceHandler(mnt *maintenance.Runner, notifier *notify.Notifier) queue.Handler {
	return func(ctx context.Context, job *models.Job) error {
		var task models.MaintenanceTask
		if err := json.Unmarshal(job.Payload, &task); err != nil {
			return fmt.Errorf("failed to decode maintenance task: %w", err)
		}

		summary, err := mnt.Run(ctx, task.Options)
		if err != nil {
			return err
		}
		notifier.NotifyMaintenanceSucceeded(*summary)
		return nil
	}
}
