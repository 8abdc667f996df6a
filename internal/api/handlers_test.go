// StarSync - GitHub Stars Mirroring and Sync Engine
// Copyright 2026 awillheartwu
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/awillheartwu/starsync

package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"github.com/awillheartwu/starsync/internal/config"
	"github.com/awillheartwu/starsync/internal/engine"
	"github.com/awillheartwu/starsync/internal/models"
	"github.com/awillheartwu/starsync/internal/queue"
	"github.com/awillheartwu/starsync/internal/store"
)

const testStateKey = "stars:octocat"

func newTestServer(t *testing.T) (*httptest.Server, *store.Store) {
	t.Helper()

	st, err := store.New(&config.DatabaseConfig{
		Path:      filepath.Join(t.TempDir(), "api.duckdb"),
		MaxMemory: "256MB",
		Threads:   1,
	})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	q := queue.New(st, &config.QueueConfig{
		Concurrency:  1,
		MaxAttempts:  3,
		RetryDelay:   time.Second,
		PollInterval: time.Second,
	})

	srv := httptest.NewServer(NewRouter(NewHandler(st, q, testStateKey)).Setup())
	t.Cleanup(srv.Close)
	return srv, st
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, models.APIResponse) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}

	var envelope models.APIResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if err := resp.Body.Close(); err != nil {
		t.Fatalf("close body: %v", err)
	}
	return resp, envelope
}

func dataMap(t *testing.T, envelope models.APIResponse) map[string]any {
	t.Helper()
	m, ok := envelope.Data.(map[string]any)
	if !ok {
		t.Fatalf("expected object data, got %T", envelope.Data)
	}
	return m
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)

	resp, envelope := doJSON(t, http.MethodGet, srv.URL+"/healthz", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if envelope.Status != "ok" {
		t.Errorf("envelope status = %q", envelope.Status)
	}
}

func TestTriggerSyncAcceptsThenConflicts(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)
	body := map[string]any{"mode": "incremental"}

	resp, envelope := doJSON(t, http.MethodPost, srv.URL+"/api/v1/sync/run", body)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("first trigger status = %d, want 202", resp.StatusCode)
	}
	jobID, _ := dataMap(t, envelope)["jobId"].(string)
	if jobID == "" {
		t.Fatal("accepted response must carry a job id")
	}

	resp, envelope = doJSON(t, http.MethodPost, srv.URL+"/api/v1/sync/run", body)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate trigger status = %d, want 409", resp.StatusCode)
	}
	if envelope.Error == nil || envelope.Error.Code != "JOB_EXISTS" {
		t.Errorf("conflict error = %+v, want JOB_EXISTS", envelope.Error)
	}
	data := dataMap(t, envelope)
	if data["jobId"] != jobID {
		t.Errorf("conflict jobId = %v, want %q", data["jobId"], jobID)
	}
	if data["state"] != string(models.JobStateWaiting) {
		t.Errorf("conflict state = %v, want waiting", data["state"])
	}
}

func TestTriggerSyncRejectsBadInput(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)

	resp, envelope := doJSON(t, http.MethodPost, srv.URL+"/api/v1/sync/run",
		map[string]any{"mode": "sideways"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad mode status = %d, want 400", resp.StatusCode)
	}
	if envelope.Error == nil || envelope.Error.Code != "BAD_MODE" {
		t.Errorf("error = %+v, want BAD_MODE", envelope.Error)
	}

	resp, envelope = doJSON(t, http.MethodPost, srv.URL+"/api/v1/sync/run",
		map[string]any{"perPage": 500})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad perPage status = %d, want 400", resp.StatusCode)
	}
	if envelope.Error == nil || envelope.Error.Code != "BAD_PER_PAGE" {
		t.Errorf("error = %+v, want BAD_PER_PAGE", envelope.Error)
	}
}

func TestSyncStatusBeforeAndAfterRun(t *testing.T) {
	t.Parallel()

	srv, st := newTestServer(t)
	ctx := context.Background()

	resp, envelope := doJSON(t, http.MethodGet, srv.URL+"/api/v1/sync/status", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status before any run = %d, want 404", resp.StatusCode)
	}
	if envelope.Error == nil || envelope.Error.Code != "NO_STATE" {
		t.Errorf("error = %+v, want NO_STATE", envelope.Error)
	}

	if _, err := st.EnsureSyncState(ctx, engine.Source, testStateKey); err != nil {
		t.Fatalf("ensure state: %v", err)
	}
	cursor := "2026-05-01T12:00:00Z"
	etag := "abc123"
	stats := models.RunStats{Scanned: 7, Created: 7, Pages: 2}
	if err := st.MarkSuccess(ctx, engine.Source, testStateKey, &cursor, &etag, stats, time.Now()); err != nil {
		t.Fatalf("mark success: %v", err)
	}

	resp, envelope = doJSON(t, http.MethodGet, srv.URL+"/api/v1/sync/status", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status after run = %d, want 200", resp.StatusCode)
	}
	data := dataMap(t, envelope)
	if data["cursor"] != cursor {
		t.Errorf("cursor = %v, want %q", data["cursor"], cursor)
	}
	if data["etag"] != etag {
		t.Errorf("etag = %v, want %q", data["etag"], etag)
	}
	lastStats, ok := data["lastStats"].(map[string]any)
	if !ok {
		t.Fatalf("lastStats missing from %v", data)
	}
	if lastStats["scanned"] != float64(7) {
		t.Errorf("lastStats.scanned = %v, want 7", lastStats["scanned"])
	}
}

func TestQueueCountsEndpoint(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)

	doJSON(t, http.MethodPost, srv.URL+"/api/v1/sync/run", nil)

	resp, envelope := doJSON(t, http.MethodGet, srv.URL+"/api/v1/queue/counts", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	data := dataMap(t, envelope)
	if data["waiting"] != float64(1) {
		t.Errorf("waiting = %v, want 1", data["waiting"])
	}
}

func TestTriggerMaintenanceEndpoint(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)

	resp, envelope := doJSON(t, http.MethodPost, srv.URL+"/api/v1/maintenance/run",
		map[string]any{"dryRun": true})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	if jobID, _ := dataMap(t, envelope)["jobId"].(string); jobID == "" {
		t.Error("accepted response must carry a job id")
	}

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/v1/maintenance/run",
		map[string]any{"dryRun": true})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate status = %d, want 409", resp.StatusCode)
	}
}

func TestArchiveEndpoint(t *testing.T) {
	t.Parallel()

	srv, st := newTestServer(t)
	ctx := context.Background()

	desc := "kept for posterity"
	project := &models.Project{
		GithubID:    900,
		Name:        "gone",
		FullName:    "octocat/gone",
		URL:         "https://github.com/octocat/gone",
		Description: &desc,
		StarredAt:   time.Now().Add(-time.Hour),
	}
	if err := st.CreateProject(ctx, project); err != nil {
		t.Fatalf("create project: %v", err)
	}
	if err := st.ArchiveProject(ctx, 900, models.ArchiveReasonNotObserved, time.Now()); err != nil {
		t.Fatalf("archive project: %v", err)
	}

	resp, envelope := doJSON(t, http.MethodGet, srv.URL+"/api/v1/archive", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	rows, ok := envelope.Data.([]any)
	if !ok || len(rows) != 1 {
		t.Fatalf("expected one archive row, got %v", envelope.Data)
	}
	row := rows[0].(map[string]any)
	if row["full_name"] != "octocat/gone" {
		t.Errorf("archived full_name = %v", row["full_name"])
	}
	if row["reason"] != string(models.ArchiveReasonNotObserved) {
		t.Errorf("archived reason = %v", row["reason"])
	}
}
