// StarSync - GitHub Stars Mirroring and Sync Engine
// Copyright 2026 awillheartwu
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/awillheartwu/starsync

package github

import (
	"context"
)

// Termination records how a page walk ended. The reconciliation engine
// gates archival on TerminationEndOfData: only a walk that proved it saw
// the true tail of the collection may archive absent entities.
type Termination int

const (
	// TerminationNone means the walk has not ended yet.
	TerminationNone Termination = iota
	// TerminationEndOfData means a page returned fewer items than
	// requested: the natural end of the collection.
	TerminationEndOfData
	// TerminationPageCap means the maxPages bound was reached.
	TerminationPageCap
	// TerminationStopped means the caller stopped the walk early.
	TerminationStopped
	// TerminationError means a fetch failed.
	TerminationError
)

// String returns the termination name for logging.
func (t Termination) String() string {
	switch t {
	case TerminationEndOfData:
		return "end-of-data"
	case TerminationPageCap:
		return "page-cap"
	case TerminationStopped:
		return "stopped"
	case TerminationError:
		return "error"
	default:
		return "none"
	}
}

// PageIter walks the starred collection page by page, strictly in order.
// It is lazy and finite: iteration ends on a short page, the page cap, a
// caller Stop, or an error. A fresh iterator always restarts from page 1.
//
// The conditional ETag applies to the first page only; a 304 there is
// surfaced to the caller as a NotModified page and ends the walk.
type PageIter struct {
	client   *Client
	perPage  int
	maxPages int
	etag     string

	page int
	term Termination
	err  error
}

// Pages returns a new iterator over the starred collection. maxPages 0
// means unbounded.
func (c *Client) Pages(perPage, maxPages int, etag string) *PageIter {
	return &PageIter{
		client:   c,
		perPage:  perPage,
		maxPages: maxPages,
		etag:     etag,
	}
}

// Next fetches the next page. It returns (nil, false, nil) when the walk
// has ended; consult Termination and Err for why.
func (it *PageIter) Next(ctx context.Context) (*Page, bool, error) {
	if it.term != TerminationNone {
		return nil, false, it.err
	}

	if it.maxPages > 0 && it.page >= it.maxPages {
		it.term = TerminationPageCap
		return nil, false, nil
	}
	it.page++

	etag := ""
	if it.page == 1 {
		etag = it.etag
	}

	page, err := it.client.FetchPage(ctx, it.page, it.perPage, etag)
	if err != nil {
		it.term = TerminationError
		it.err = err
		return nil, false, err
	}

	if page.NotModified || len(page.Items) < it.perPage {
		// Short page: this is the tail. The page is still delivered;
		// the next call reports end-of-data.
		it.term = TerminationEndOfData
	}

	return page, true, nil
}

// Stop ends the walk early (cursor hit). No further pages are fetched. A
// caller stop overrides a pending end-of-data: a cursor hit inside the final
// short page is still an early stop, and the walk did not prove it saw the
// whole collection.
func (it *PageIter) Stop() {
	if it.term == TerminationNone || it.term == TerminationEndOfData {
		it.term = TerminationStopped
	}
}

// Termination reports how the walk ended.
func (it *PageIter) Termination() Termination {
	return it.term
}

// Err returns the fetch error that ended the walk, if any.
func (it *PageIter) Err() error {
	return it.err
}
