// StarSync - GitHub Stars Mirroring and Sync Engine
// Copyright 2026 awillheartwu
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/awillheartwu/starsync

package github

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"
)

// StarredRepo is one item from the user's starred collection. StarredAt is
// the ordering key: the API returns the collection in descending starred_at
// order, newest first.
type StarredRepo struct {
	GithubID    int64
	Name        string
	FullName    string
	URL         string
	Description *string
	Language    *string
	Stars       int
	Forks       int
	PushedAt    *time.Time
	StarredAt   time.Time
}

// Page is the result of one conditional paginated request.
type Page struct {
	Items []StarredRepo
	// ETag is the normalized freshness token of this response. On a 304 it
	// carries the caller's own token back unchanged.
	ETag string
	// RateRemaining is the primary rate budget after this request, or -1
	// when the header was absent.
	RateRemaining int
	RateResetAt   time.Time
	NotModified   bool
	StatusCode    int
}

// starredEntry matches the star+json media type wire shape.
type starredEntry struct {
	StarredAt time.Time   `json:"starred_at"`
	Repo      repoPayload `json:"repo"`
}

type repoPayload struct {
	ID              int64      `json:"id"`
	Name            string     `json:"name"`
	FullName        string     `json:"full_name"`
	HTMLURL         string     `json:"html_url"`
	Description     *string    `json:"description"`
	Language        *string    `json:"language"`
	StargazersCount int        `json:"stargazers_count"`
	ForksCount      int        `json:"forks_count"`
	PushedAt        *time.Time `json:"pushed_at"`
}

// FetchPage performs one conditional request against the starred listing.
// An empty etag disables the conditional header. A 304 response yields
// NotModified=true with no items and the caller's etag preserved.
func (c *Client) FetchPage(ctx context.Context, page, perPage int, etag string) (*Page, error) {
	query := url.Values{}
	query.Set("per_page", strconv.Itoa(perPage))
	query.Set("page", strconv.Itoa(page))

	path := fmt.Sprintf("/users/%s/starred", url.PathEscape(c.username))
	resp, err := c.doRequest(ctx, http.MethodGet, path, query, starMediaType, etag)
	if err != nil {
		return nil, fmt.Errorf("fetch starred page %d: %w", page, err)
	}
	defer closeQuietly(resp.Body)

	remaining, resetAt := rateHeaders(resp)

	if resp.StatusCode == http.StatusNotModified {
		return &Page{
			ETag:          etag,
			RateRemaining: remaining,
			RateResetAt:   resetAt,
			NotModified:   true,
			StatusCode:    resp.StatusCode,
		}, nil
	}

	if resp.StatusCode != http.StatusOK {
		body := readBodyForError(resp.Body)
		return nil, fmt.Errorf("unexpected status fetching starred page %d: %d: %s", page, resp.StatusCode, string(body))
	}

	var entries []starredEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode starred page %d: %w", page, err)
	}

	items := make([]StarredRepo, 0, len(entries))
	for _, e := range entries {
		items = append(items, StarredRepo{
			GithubID:    e.Repo.ID,
			Name:        e.Repo.Name,
			FullName:    e.Repo.FullName,
			URL:         e.Repo.HTMLURL,
			Description: e.Repo.Description,
			Language:    e.Repo.Language,
			Stars:       e.Repo.StargazersCount,
			Forks:       e.Repo.ForksCount,
			PushedAt:    e.Repo.PushedAt,
			StarredAt:   e.StarredAt,
		})
	}

	return &Page{
		Items:         items,
		ETag:          normalizeETag(resp.Header.Get("ETag")),
		RateRemaining: remaining,
		RateResetAt:   resetAt,
		StatusCode:    resp.StatusCode,
	}, nil
}

// FetchReadme retrieves the raw README body for a repository, or "" when
// the repository has none.
func (c *Client) FetchReadme(ctx context.Context, fullName string) (string, error) {
	path := fmt.Sprintf("/repos/%s/readme", fullName)
	resp, err := c.doRequest(ctx, http.MethodGet, path, nil, "application/vnd.github.raw+json", "")
	if err != nil {
		return "", fmt.Errorf("fetch readme for %s: %w", fullName, err)
	}
	defer closeQuietly(resp.Body)

	if resp.StatusCode == http.StatusNotFound {
		return "", nil
	}
	if resp.StatusCode != http.StatusOK {
		body := readBodyForError(resp.Body)
		return "", fmt.Errorf("unexpected status fetching readme for %s: %d: %s", fullName, resp.StatusCode, string(body))
	}

	body, err := readAllBody(resp)
	if err != nil {
		return "", fmt.Errorf("read readme for %s: %w", fullName, err)
	}
	return string(body), nil
}
