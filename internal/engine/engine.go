// StarSync - GitHub Stars Mirroring and Sync Engine
// Copyright 2026 awillheartwu
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/awillheartwu/starsync

package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/awillheartwu/starsync/internal/cache"
	"github.com/awillheartwu/starsync/internal/config"
	"github.com/awillheartwu/starsync/internal/github"
	"github.com/awillheartwu/starsync/internal/logging"
	"github.com/awillheartwu/starsync/internal/metrics"
	"github.com/awillheartwu/starsync/internal/models"
	"github.com/awillheartwu/starsync/internal/store"
)

// Source identifies the upstream system in sync_state rows.
const Source = "github"

// Runner executes reconciliation runs: it walks the starred collection,
// mirrors it into the store, and advances the persisted cursor and etag.
type Runner struct {
	client *github.Client
	store  *store.Store
	cfg    *config.SyncConfig
	cache  *cache.Cache
}

// NewRunner wires a Runner. The cache is optional; when nil, README
// prefetching is disabled regardless of configuration.
func NewRunner(client *github.Client, st *store.Store, cfg *config.SyncConfig, c *cache.Cache) *Runner {
	return &Runner{client: client, store: st, cfg: cfg, cache: c}
}

// StateKey returns the sync_state key for this runner's stream.
func (r *Runner) StateKey() string {
	return "stars:" + r.client.Username()
}

// Run executes one reconciliation run and returns its stats. The persisted
// state row always reflects the outcome: MarkSuccess on success with the new
// cursor and etag, MarkError on failure with cursor and etag untouched.
func (r *Runner) Run(ctx context.Context, opts models.RunOptions) (*models.RunStats, error) {
	opts = r.normalize(opts)
	key := r.StateKey()
	started := time.Now()

	st, err := r.store.EnsureSyncState(ctx, Source, key)
	if err != nil {
		return nil, err
	}
	if err := r.store.TouchRun(ctx, Source, key, started); err != nil {
		return nil, err
	}

	log := logging.With().
		Str("mode", string(opts.Mode)).
		Str("key", key).
		Logger()
	log.Info().Int("perPage", opts.PerPage).Int("maxPages", opts.MaxPages).Msg("Sync run started")

	stats, newCursor, newEtag, runErr := r.execute(ctx, st, opts)
	duration := time.Since(started)

	if runErr != nil {
		metrics.RecordRun(string(opts.Mode), duration, "error")
		if err := r.store.MarkError(ctx, Source, key, runErr.Error(), time.Now()); err != nil {
			log.Error().Err(err).Msg("Failed to record run error")
		}
		log.Error().Err(runErr).Dur("duration", duration).Msg("Sync run failed")
		return stats, runErr
	}

	if err := r.store.MarkSuccess(ctx, Source, key, newCursor, newEtag, *stats, time.Now()); err != nil {
		metrics.RecordRun(string(opts.Mode), duration, "error")
		return stats, err
	}

	metrics.RecordRun(string(opts.Mode), duration, "success")
	log.Info().
		Dur("duration", duration).
		Int("scanned", stats.Scanned).
		Int("created", stats.Created).
		Int("updated", stats.Updated).
		Int("unchanged", stats.Unchanged).
		Int("softDeleted", stats.SoftDeleted).
		Int("pages", stats.Pages).
		Msg("Sync run completed")
	return stats, nil
}

// normalize fills option defaults from configuration.
func (r *Runner) normalize(opts models.RunOptions) models.RunOptions {
	if !opts.Mode.Valid() {
		opts.Mode = models.RunModeIncremental
	}
	if opts.PerPage <= 0 || opts.PerPage > 100 {
		opts.PerPage = r.cfg.PerPage
	}
	if opts.MaxPages < 0 {
		opts.MaxPages = r.cfg.MaxPages
	}
	if opts.MaxPages == 0 && r.cfg.MaxPages > 0 && opts.Mode == models.RunModeIncremental {
		opts.MaxPages = r.cfg.MaxPages
	}
	return opts
}

// execute performs the walk. It returns the stats, the cursor and etag to
// persist on success, and the run error if any. On error the returned cursor
// and etag are unused; MarkError leaves the stored values alone.
func (r *Runner) execute(ctx context.Context, st *models.SyncState, opts models.RunOptions) (*models.RunStats, *string, *string, error) {
	stats := &models.RunStats{}
	incremental := opts.Mode == models.RunModeIncremental

	cursorTime, hasCursor := parseCursor(st.Cursor)
	newCursor := st.Cursor
	newEtag := st.Etag

	// Head precheck: one conditional item. A 304 means nothing changed at
	// the head of the collection, so the whole run is a no-op.
	if incremental && r.cfg.Precheck && st.Etag != nil && *st.Etag != "" {
		head, err := r.client.FetchPage(ctx, 1, 1, *st.Etag)
		if err != nil {
			return stats, nil, nil, fmt.Errorf("head precheck: %w", err)
		}
		if head.NotModified {
			metrics.SyncNotModified.Inc()
			logging.Debug().Str("etag", *st.Etag).Msg("Head precheck not modified, skipping run")
			return stats, newCursor, newEtag, nil
		}
		// Changed: fall through to the full walk. The one-item page is
		// discarded; the walk refetches from page one.
	}

	walkEtag := ""
	if incremental && st.Etag != nil {
		walkEtag = *st.Etag
	}

	iter := r.client.Pages(opts.PerPage, opts.MaxPages, walkEtag)
	seen := make(map[int64]struct{})
	firstPage := true

walk:
	for {
		page, ok, err := iter.Next(ctx)
		if err != nil {
			return stats, nil, nil, fmt.Errorf("page %d: %w", stats.Pages+1, err)
		}
		if !ok {
			break
		}

		if page.RateRemaining >= 0 {
			metrics.RateRemaining.Set(float64(page.RateRemaining))
		}

		if page.NotModified {
			metrics.SyncNotModified.Inc()
			logging.Debug().Msg("Collection not modified, skipping run")
			return stats, newCursor, newEtag, nil
		}

		stats.Pages++
		metrics.SyncPagesFetched.Inc()

		if firstPage {
			firstPage = false
			if page.ETag != "" {
				newEtag = &page.ETag
			}
			if len(page.Items) > 0 {
				c := formatCursor(page.Items[0].StarredAt)
				newCursor = &c
			}
		}

		for _, item := range page.Items {
			// Items arrive newest first. Once an item is at or behind the
			// stored cursor, everything after it was seen by a prior run.
			if incremental && hasCursor && !item.StarredAt.After(cursorTime) {
				iter.Stop()
				break walk
			}

			if err := r.reconcile(ctx, item, stats); err != nil {
				return stats, nil, nil, fmt.Errorf("item %d (%s): %w", item.GithubID, item.FullName, err)
			}
			seen[item.GithubID] = struct{}{}
		}
	}

	r.archiveUnseen(ctx, iter.Termination(), opts, seen, stats)
	return stats, newCursor, newEtag, nil
}

// reconcile mirrors one observed item: create when unknown, patch when
// changed, touch when identical.
func (r *Runner) reconcile(ctx context.Context, item github.StarredRepo, stats *models.RunStats) error {
	stats.Scanned++
	now := time.Now()

	existing, err := r.store.GetProjectByGithubID(ctx, item.GithubID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		p := projectFromRepo(item)
		if err := r.store.CreateProject(ctx, p); err != nil {
			return err
		}
		stats.Created++
		metrics.SyncItemsTotal.WithLabelValues("created").Inc()
		r.prefetchReadme(ctx, item.FullName)
		return nil
	case err != nil:
		return err
	}

	patch := buildPatch(existing, item)
	if patch.IsEmpty() {
		if err := r.store.TouchProject(ctx, item.GithubID, now); err != nil {
			return err
		}
		stats.Unchanged++
		metrics.SyncItemsTotal.WithLabelValues("unchanged").Inc()
		return nil
	}

	if err := r.store.ApplyProjectPatch(ctx, item.GithubID, patch, now); err != nil {
		return err
	}
	stats.Updated++
	metrics.SyncItemsTotal.WithLabelValues("updated").Inc()
	return nil
}

// archiveUnseen archives projects absent from a complete walk. Gated hard:
// soft delete must be enabled, the walk must have reached natural end of
// data (not an early stop, not a page cap), and at least one item must have
// been observed. An empty observation set never wipes the mirror.
func (r *Runner) archiveUnseen(ctx context.Context, term github.Termination, opts models.RunOptions, seen map[int64]struct{}, stats *models.RunStats) {
	if !opts.SoftDelete() || term != github.TerminationEndOfData || len(seen) == 0 {
		return
	}

	ids, err := r.store.ListActiveGithubIDs(ctx)
	if err != nil {
		logging.Warn().Err(err).Msg("Failed to list projects for archival")
		return
	}

	now := time.Now()
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		if err := r.store.ArchiveProject(ctx, id, models.ArchiveReasonNotObserved, now); err != nil {
			logging.Warn().Err(err).Int64("githubId", id).Msg("Failed to archive project")
			continue
		}
		stats.SoftDeleted++
		metrics.SyncItemsTotal.WithLabelValues("archived").Inc()
	}
}

// prefetchReadme warms the README cache for a newly mirrored project.
// Best-effort: failures are logged and never affect the run.
func (r *Runner) prefetchReadme(ctx context.Context, fullName string) {
	if !r.cfg.ReadmePrefetch || r.cache == nil {
		return
	}
	key := cache.GenerateKey("readme", fullName)
	if _, ok := r.cache.Get(key); ok {
		metrics.ReadmeCacheHits.Inc()
		return
	}
	metrics.ReadmeCacheMisses.Inc()
	readme, err := r.client.FetchReadme(ctx, fullName)
	if err != nil {
		logging.Debug().Err(err).Str("repo", fullName).Msg("README prefetch failed")
		return
	}
	if readme != "" {
		r.cache.Set(key, readme)
	}
}

// projectFromRepo builds a fresh mirror row from an observed item.
func projectFromRepo(item github.StarredRepo) *models.Project {
	return &models.Project{
		GithubID:    item.GithubID,
		Name:        item.Name,
		FullName:    item.FullName,
		URL:         item.URL,
		Description: item.Description,
		Language:    item.Language,
		Stars:       item.Stars,
		Forks:       item.Forks,
		PushedAt:    item.PushedAt,
		StarredAt:   item.StarredAt,
	}
}

// parseCursor decodes the stored ordering token. The token is the RFC 3339
// timestamp of the newest starred_at previously seen.
func parseCursor(cursor *string) (time.Time, bool) {
	if cursor == nil || *cursor == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, *cursor)
	if err != nil {
		logging.Warn().Str("cursor", *cursor).Msg("Unparseable cursor, treating as unset")
		return time.Time{}, false
	}
	return t, true
}

func formatCursor(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
