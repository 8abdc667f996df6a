// StarSync - GitHub Stars Mirroring and Sync Engine
// Copyright 2026 awillheartwu
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/awillheartwu/starsync

// Package metrics exposes Prometheus instrumentation for the sync engine,
// the external fetcher, and the job queue.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Sync run metrics
	SyncRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "starsync_runs_total",
			Help: "Total number of sync runs by mode and result",
		},
		[]string{"mode", "result"}, // result: "success", "error", "rate_limited"
	)

	SyncRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "starsync_run_duration_seconds",
			Help:    "Duration of sync runs in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
	)

	SyncItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "starsync_items_total",
			Help: "Items processed by sync runs, by classification",
		},
		[]string{"action"}, // "created", "updated", "unchanged", "archived"
	)

	SyncPagesFetched = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "starsync_pages_fetched_total",
			Help: "Total remote pages fetched across all runs",
		},
	)

	SyncNotModified = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "starsync_not_modified_total",
			Help: "Conditional requests answered with HTTP 304",
		},
	)

	// Fetcher metrics
	FetchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "starsync_fetch_duration_seconds",
			Help:    "Duration of individual remote page fetches",
			Buckets: prometheus.DefBuckets,
		},
	)

	FetchRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "starsync_fetch_retries_total",
			Help: "Transient-failure retries performed by the fetcher",
		},
	)

	RateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "starsync_rate_limit_hits_total",
			Help: "Secondary rate-limit responses from the remote API",
		},
	)

	RateRemaining = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "starsync_rate_remaining",
			Help: "Most recently observed remote rate-limit remaining budget",
		},
	)

	// Queue metrics
	JobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "starsync_jobs_processed_total",
			Help: "Jobs pulled off the queue, by kind and outcome",
		},
		[]string{"kind", "outcome"}, // outcome: "completed", "retried", "failed"
	)

	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "starsync_queue_depth",
			Help: "Current number of jobs per queue state",
		},
		[]string{"state"},
	)

	// Cache metrics
	ReadmeCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "starsync_readme_cache_hits_total",
			Help: "README cache hits during reconciliation",
		},
	)

	ReadmeCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "starsync_readme_cache_misses_total",
			Help: "README cache misses during reconciliation",
		},
	)
)

// RecordRun observes one finished sync run.
func RecordRun(mode string, duration time.Duration, result string) {
	SyncRunsTotal.WithLabelValues(mode, result).Inc()
	SyncRunDuration.Observe(duration.Seconds())
}
