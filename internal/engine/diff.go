// StarSync - GitHub Stars Mirroring and Sync Engine
// Copyright 2026 awillheartwu
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/awillheartwu/starsync

package engine

import (
	"time"

	"github.com/awillheartwu/starsync/internal/github"
	"github.com/awillheartwu/starsync/internal/models"
)

// buildPatch compares an observed item against the stored row and returns a
// patch holding only the fields that actually differ. The comparison covers
// a fixed allow-list: name, full_name, url, description, language, stars,
// forks, pushed_at. Everything else on the row is local state and never
// overwritten by upstream data.
func buildPatch(existing *models.Project, item github.StarredRepo) models.ProjectPatch {
	var patch models.ProjectPatch

	if existing.Name != item.Name {
		patch.Name = &item.Name
	}
	if existing.FullName != item.FullName {
		patch.FullName = &item.FullName
	}
	if existing.URL != item.URL {
		patch.URL = &item.URL
	}
	if !strPtrEqual(existing.Description, item.Description) {
		patch.Description = nilSafeStr(item.Description)
	}
	if !strPtrEqual(existing.Language, item.Language) {
		patch.Language = nilSafeStr(item.Language)
	}
	if existing.Stars != item.Stars {
		patch.Stars = &item.Stars
	}
	if existing.Forks != item.Forks {
		patch.Forks = &item.Forks
	}
	if !timePtrEqual(existing.PushedAt, item.PushedAt) {
		patch.PushedAt = nilSafeTime(item.PushedAt)
	}

	return patch
}

func strPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return emptyStr(a) == emptyStr(b)
	}
	return *a == *b
}

func emptyStr(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// timePtrEqual compares instants, not wall representations: the wire value
// is UTC while the stored value may carry a local zone.
func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

// nilSafeStr turns a cleared upstream field into an explicit empty value so
// the patch still records the transition.
func nilSafeStr(p *string) *string {
	if p != nil {
		return p
	}
	empty := ""
	return &empty
}

func nilSafeTime(p *time.Time) *time.Time {
	if p != nil {
		return p
	}
	zero := time.Time{}
	return &zero
}
