// StarSync - GitHub Stars Mirroring and Sync Engine
// Copyright 2026 awillheartwu
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/awillheartwu/starsync

/*
client.go - GitHub REST API client

Core HTTP communication layer for mirroring a user's starred collection.

Client Features:
  - Token authentication (Authorization: Bearer)
  - Conditional requests via normalized ETags (If-None-Match / HTTP 304)
  - Secondary rate-limit classification into typed *RateLimitError
  - Bounded retries with exponential backoff for transient failures
  - Circuit breaker protection (sony/gobreaker v2)
  - Client-side request pacing (golang.org/x/time/rate)

Resilience Mechanisms:
  - Transient 5xx/network errors: retried up to cfg.RetryAttempts with
    doubling delay, cancellable via context
  - Rate limiting: never retried here; surfaced with the Retry-After hint
  - Circuit breaker: opens after 3 consecutive failures, 60s open period;
    an open breaker reads as a transient failure upstream
*/

//nolint:staticcheck // File documentation, not package doc
package github

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/awillheartwu/starsync/internal/config"
	"github.com/awillheartwu/starsync/internal/logging"
	"github.com/awillheartwu/starsync/internal/metrics"
)

// maxErrorBodySize limits how much of an error response body is read for
// diagnostics.
const maxErrorBodySize = 64 * 1024 // 64KB

// apiVersion pins the REST API revision on every request.
const apiVersion = "2022-11-28"

// starMediaType exposes starred_at on star listings.
const starMediaType = "application/vnd.github.star+json"

// Client talks to the GitHub REST API for one configured user.
//
// Thread safety: safe for concurrent use; each call builds its own request.
type Client struct {
	baseURL       string
	username      string
	token         string
	http          *http.Client
	retryAttempts int
	retryDelay    time.Duration
	breaker       *gobreaker.CircuitBreaker[*http.Response]
	limiter       *rate.Limiter
}

// NewClient creates a GitHub API client from configuration.
func NewClient(cfg *config.GithubConfig) *Client {
	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	breaker := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:    "github",
		Timeout: 60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Circuit breaker state change")
		},
	})

	return &Client{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		username:      cfg.Username,
		token:         cfg.Token,
		http:          &http.Client{Timeout: cfg.Timeout},
		retryAttempts: cfg.RetryAttempts,
		retryDelay:    cfg.RetryDelay,
		breaker:       breaker,
		limiter:       limiter,
	}
}

// Username returns the configured user whose stars are mirrored.
func (c *Client) Username() string {
	return c.username
}

// doRequest executes one request with pacing, breaker protection, and
// transient-failure retries. Rate limiting is classified before any retry
// decision so a limited response surfaces immediately as *RateLimitError.
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, accept, etag string) (*http.Response, error) {
	var lastErr error
	delay := c.retryDelay

	for attempt := 0; attempt <= c.retryAttempts; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		resp, err := c.attempt(ctx, method, path, query, accept, etag)
		if err == nil {
			return resp, nil
		}
		if IsRateLimited(err) || ctx.Err() != nil {
			return nil, err
		}
		lastErr = err

		if attempt < c.retryAttempts {
			metrics.FetchRetries.Inc()
			logging.Warn().Err(err).Int("attempt", attempt+1).Int("max_attempts", c.retryAttempts).Dur("delay", delay).Str("path", path).Msg("Retrying request")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			delay *= 2
		}
	}

	return nil, fmt.Errorf("max retry attempts reached: %w", lastErr)
}

// attempt performs a single HTTP exchange through the circuit breaker.
func (c *Client) attempt(ctx context.Context, method, path string, query url.Values, accept, etag string) (*http.Response, error) {
	reqURL := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, reqURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if len(query) > 0 {
		req.URL.RawQuery = query.Encode()
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("X-GitHub-Api-Version", apiVersion)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if etag != "" {
		req.Header.Set("If-None-Match", `"`+etag+`"`)
	}

	start := time.Now()
	resp, err := c.breaker.Execute(func() (*http.Response, error) {
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("HTTP request failed: %w", err)
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			body := readBodyForError(resp.Body)
			closeQuietly(resp.Body)
			return nil, fmt.Errorf("server error (HTTP %d): %s", resp.StatusCode, string(body))
		}
		return resp, nil
	})
	metrics.FetchDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}

	if rle := classifyRateLimit(resp); rle != nil {
		closeQuietly(resp.Body)
		metrics.RateLimitHits.Inc()
		return nil, rle
	}

	return resp, nil
}

// classifyRateLimit detects secondary rate limiting: HTTP 429, or HTTP 403
// carrying either a Retry-After hint or an exhausted primary budget.
func classifyRateLimit(resp *http.Response) *RateLimitError {
	limited := resp.StatusCode == http.StatusTooManyRequests
	if resp.StatusCode == http.StatusForbidden {
		if resp.Header.Get("Retry-After") != "" || resp.Header.Get("x-ratelimit-remaining") == "0" {
			limited = true
		}
	}
	if !limited {
		return nil
	}

	rle := &RateLimitError{StatusCode: resp.StatusCode}
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
			rle.RetryAfter = time.Duration(seconds) * time.Second
		}
	}
	if reset := resp.Header.Get("x-ratelimit-reset"); reset != "" {
		if unix, err := strconv.ParseInt(reset, 10, 64); err == nil {
			rle.ResetAt = time.Unix(unix, 0).UTC()
		}
	}
	return rle
}

// normalizeETag strips the weak-validator prefix and surrounding quotes so
// stored tokens compare stably across responses.
func normalizeETag(etag string) string {
	etag = strings.TrimPrefix(etag, "W/")
	return strings.Trim(etag, `"`)
}

// rateHeaders extracts the primary rate budget from response headers.
// Remaining is -1 when the header is absent.
func rateHeaders(resp *http.Response) (remaining int, resetAt time.Time) {
	remaining = -1
	if v := resp.Header.Get("x-ratelimit-remaining"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			remaining = n
			metrics.RateRemaining.Set(float64(n))
		}
	}
	if v := resp.Header.Get("x-ratelimit-reset"); v != "" {
		if unix, err := strconv.ParseInt(v, 10, 64); err == nil {
			resetAt = time.Unix(unix, 0).UTC()
		}
	}
	return remaining, resetAt
}

// readBodyForError reads at most maxErrorBodySize bytes for diagnostics.
func readBodyForError(r io.Reader) []byte {
	body, err := io.ReadAll(io.LimitReader(r, maxErrorBodySize))
	if err != nil {
		return []byte("(failed to read response body)")
	}
	if len(body) == maxErrorBodySize {
		return append(body, []byte("... (truncated)")...)
	}
	return body
}

// readAllBody reads a success response body in full.
func readAllBody(resp *http.Response) ([]byte, error) {
	return io.ReadAll(resp.Body)
}

func closeQuietly(c io.Closer) {
	_ = c.Close()
}
