// StarSync - GitHub Stars Mirroring and Sync Engine
// Copyright 2026 awillheartwu
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/awillheartwu/starsync

package github

import (
	"errors"
	"fmt"
	"time"
)

// RateLimitError signals secondary (soft) rate limiting by the remote API.
// It is never retried at the fetcher level; the job orchestrator decides
// whether to back off using the RetryAfter hint.
type RateLimitError struct {
	// RetryAfter is the server-provided wait hint; 0 when the server gave
	// none.
	RetryAfter time.Duration
	// ResetAt is the primary rate-limit window reset time, when known.
	ResetAt    time.Time
	StatusCode int
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited (HTTP %d), retry after %s", e.StatusCode, e.RetryAfter)
	}
	if !e.ResetAt.IsZero() {
		return fmt.Sprintf("rate limited (HTTP %d), window resets at %s", e.StatusCode, e.ResetAt.Format(time.RFC3339))
	}
	return fmt.Sprintf("rate limited (HTTP %d)", e.StatusCode)
}

// IsRateLimited reports whether err carries a *RateLimitError anywhere in
// its chain.
func IsRateLimited(err error) bool {
	var rle *RateLimitError
	return errors.As(err, &rle)
}
