// StarSync - GitHub Stars Mirroring and Sync Engine
// Copyright 2026 awillheartwu
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/awillheartwu/starsync

package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/awillheartwu/starsync/internal/config"
)

const testBaseTime = "2026-05-01T12:00:00Z"

// starredJSON renders one star+json entry. Items are emitted newest first,
// one minute apart, matching the API's descending starred_at ordering.
func starredJSON(id int64, offsetMinutes int) string {
	base, _ := time.Parse(time.RFC3339, testBaseTime)
	starredAt := base.Add(-time.Duration(offsetMinutes) * time.Minute)
	return fmt.Sprintf(`{
		"starred_at": %q,
		"repo": {
			"id": %d,
			"name": "repo-%d",
			"full_name": "owner/repo-%d",
			"html_url": "https://github.com/owner/repo-%d",
			"description": "desc %d",
			"language": "Go",
			"stargazers_count": %d,
			"forks_count": 2,
			"pushed_at": "2026-04-01T00:00:00Z"
		}
	}`, starredAt.Format(time.RFC3339), id, id, id, id, id, 100+id)
}

func newTestClient(t *testing.T, srvURL string) *Client {
	t.Helper()
	return NewClient(&config.GithubConfig{
		Username:      "octocat",
		Token:         "test-token",
		BaseURL:       srvURL,
		Timeout:       5 * time.Second,
		RetryAttempts: 2,
		RetryDelay:    time.Millisecond,
	})
}

func TestFetchPageDecodesItems(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/users/octocat/starred" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Accept"); got != starMediaType {
			t.Errorf("Accept: expected %q, got %q", starMediaType, got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("Authorization: expected bearer token, got %q", got)
		}
		if got := r.Header.Get("X-GitHub-Api-Version"); got != apiVersion {
			t.Errorf("api version: expected %q, got %q", apiVersion, got)
		}
		w.Header().Set("ETag", `W/"abc123"`)
		w.Header().Set("x-ratelimit-remaining", "57")
		fmt.Fprintf(w, "[%s,%s]", starredJSON(1, 0), starredJSON(2, 1))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	page, err := client.FetchPage(context.Background(), 1, 2, "")
	if err != nil {
		t.Fatalf("FetchPage: %v", err)
	}

	if len(page.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(page.Items))
	}
	if page.ETag != "abc123" {
		t.Errorf("etag should be normalized, got %q", page.ETag)
	}
	if page.RateRemaining != 57 {
		t.Errorf("rate remaining: expected 57, got %d", page.RateRemaining)
	}

	item := page.Items[0]
	if item.GithubID != 1 {
		t.Errorf("github id: expected 1, got %d", item.GithubID)
	}
	if item.FullName != "owner/repo-1" {
		t.Errorf("full name: expected owner/repo-1, got %q", item.FullName)
	}
	if item.Stars != 101 {
		t.Errorf("stars: expected 101, got %d", item.Stars)
	}
	if item.Description == nil || *item.Description != "desc 1" {
		t.Errorf("description: expected desc 1, got %v", item.Description)
	}
	if !page.Items[0].StarredAt.After(page.Items[1].StarredAt) {
		t.Error("items should be ordered newest first")
	}
}

func TestFetchPageNotModified(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("If-None-Match"); got != `"abc123"` {
			t.Errorf("If-None-Match: expected quoted etag, got %q", got)
		}
		w.WriteHeader(http.StatusNotModified)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	page, err := client.FetchPage(context.Background(), 1, 30, "abc123")
	if err != nil {
		t.Fatalf("FetchPage: %v", err)
	}

	if !page.NotModified {
		t.Error("expected NotModified")
	}
	if len(page.Items) != 0 {
		t.Errorf("expected no items, got %d", len(page.Items))
	}
	if page.ETag != "abc123" {
		t.Errorf("etag should be preserved on 304, got %q", page.ETag)
	}
}

func TestFetchPageRateLimited(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		status     int
		headers    map[string]string
		retryAfter time.Duration
	}{
		{
			name:       "429 with retry-after",
			status:     http.StatusTooManyRequests,
			headers:    map[string]string{"Retry-After": "30"},
			retryAfter: 30 * time.Second,
		},
		{
			name:       "403 with retry-after",
			status:     http.StatusForbidden,
			headers:    map[string]string{"Retry-After": "60"},
			retryAfter: 60 * time.Second,
		},
		{
			name:    "403 with exhausted budget",
			status:  http.StatusForbidden,
			headers: map[string]string{"x-ratelimit-remaining": "0", "x-ratelimit-reset": "1767225600"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				for k, v := range tt.headers {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			client := newTestClient(t, srv.URL)
			_, err := client.FetchPage(context.Background(), 1, 30, "")
			if err == nil {
				t.Fatal("expected error")
			}

			var rle *RateLimitError
			if !errors.As(err, &rle) {
				t.Fatalf("expected *RateLimitError, got %T: %v", err, err)
			}
			if rle.RetryAfter != tt.retryAfter {
				t.Errorf("retry after: expected %s, got %s", tt.retryAfter, rle.RetryAfter)
			}
			if got := calls.Load(); got != 1 {
				t.Errorf("rate limited requests must not be retried, got %d calls", got)
			}
		})
	}
}

func TestFetchPageRetriesServerErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprintf(w, "[%s]", starredJSON(1, 0))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	page, err := client.FetchPage(context.Background(), 1, 30, "")
	if err != nil {
		t.Fatalf("FetchPage should succeed after retries: %v", err)
	}
	if len(page.Items) != 1 {
		t.Errorf("expected 1 item, got %d", len(page.Items))
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
}

func TestFetchPageExhaustsRetries(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	_, err := client.FetchPage(context.Background(), 1, 30, "")
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if IsRateLimited(err) {
		t.Error("server errors must not classify as rate limiting")
	}
}

func TestFetchReadme(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/repos/owner/repo-1/readme":
			fmt.Fprint(w, "# Hello")
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)

	readme, err := client.FetchReadme(context.Background(), "owner/repo-1")
	if err != nil {
		t.Fatalf("FetchReadme: %v", err)
	}
	if readme != "# Hello" {
		t.Errorf("readme: expected %q, got %q", "# Hello", readme)
	}

	missing, err := client.FetchReadme(context.Background(), "owner/missing")
	if err != nil {
		t.Fatalf("missing readme should not error: %v", err)
	}
	if missing != "" {
		t.Errorf("missing readme should be empty, got %q", missing)
	}
}

func TestNormalizeETag(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{`W/"abc"`, "abc"},
		{`"abc"`, "abc"},
		{"abc", "abc"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := normalizeETag(tt.in); got != tt.want {
			t.Errorf("normalizeETag(%q): expected %q, got %q", tt.in, tt.want, got)
		}
	}
}
