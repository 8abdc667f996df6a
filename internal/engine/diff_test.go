// StarSync - GitHub Stars Mirroring and Sync Engine
// Copyright 2026 awillheartwu
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/awillheartwu/starsync

package engine

import (
	"testing"
	"time"

	"github.com/awillheartwu/starsync/internal/github"
	"github.com/awillheartwu/starsync/internal/models"
)

func strPtr(s string) *string { return &s }

func baseProject() *models.Project {
	pushed := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	return &models.Project{
		GithubID:    1,
		Name:        "repo",
		FullName:    "owner/repo",
		URL:         "https://github.com/owner/repo",
		Description: strPtr("desc"),
		Language:    strPtr("Go"),
		Stars:       10,
		Forks:       2,
		PushedAt:    &pushed,
	}
}

func baseItem() github.StarredRepo {
	pushed := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	return github.StarredRepo{
		GithubID:    1,
		Name:        "repo",
		FullName:    "owner/repo",
		URL:         "https://github.com/owner/repo",
		Description: strPtr("desc"),
		Language:    strPtr("Go"),
		Stars:       10,
		Forks:       2,
		PushedAt:    &pushed,
	}
}

func TestBuildPatchIdenticalIsEmpty(t *testing.T) {
	t.Parallel()

	patch := buildPatch(baseProject(), baseItem())
	if !patch.IsEmpty() {
		t.Errorf("identical item should yield an empty patch, got %+v", patch)
	}
}

func TestBuildPatchSingleField(t *testing.T) {
	t.Parallel()

	item := baseItem()
	item.Stars = 42

	patch := buildPatch(baseProject(), item)
	if patch.Stars == nil || *patch.Stars != 42 {
		t.Fatalf("stars patch: expected 42, got %v", patch.Stars)
	}
	if patch.Name != nil || patch.FullName != nil || patch.URL != nil ||
		patch.Description != nil || patch.Language != nil ||
		patch.Forks != nil || patch.PushedAt != nil {
		t.Errorf("only the changed field may appear in the patch, got %+v", patch)
	}
}

func TestBuildPatchClearedDescription(t *testing.T) {
	t.Parallel()

	item := baseItem()
	item.Description = nil

	patch := buildPatch(baseProject(), item)
	if patch.Description == nil || *patch.Description != "" {
		t.Errorf("cleared description should patch to empty, got %v", patch.Description)
	}
}

func TestBuildPatchNilDescriptionBothWays(t *testing.T) {
	t.Parallel()

	p := baseProject()
	p.Description = nil
	item := baseItem()
	item.Description = nil

	patch := buildPatch(p, item)
	if patch.Description != nil {
		t.Errorf("nil on both sides is not a change, got %v", patch.Description)
	}

	// nil stored vs empty upstream is also not a change
	item.Description = strPtr("")
	patch = buildPatch(p, item)
	if patch.Description != nil {
		t.Errorf("nil vs empty is not a change, got %v", patch.Description)
	}
}

func TestBuildPatchPushedAtZoneInsensitive(t *testing.T) {
	t.Parallel()

	p := baseProject()
	local := p.PushedAt.In(time.FixedZone("UTC+8", 8*3600))
	item := baseItem()
	item.PushedAt = &local

	patch := buildPatch(p, item)
	if patch.PushedAt != nil {
		t.Errorf("same instant in another zone is not a change, got %v", patch.PushedAt)
	}
}

func TestBuildPatchMultipleFields(t *testing.T) {
	t.Parallel()

	item := baseItem()
	item.Name = "renamed"
	item.FullName = "owner/renamed"
	item.URL = "https://github.com/owner/renamed"
	item.Language = strPtr("Rust")
	item.Forks = 9

	patch := buildPatch(baseProject(), item)
	if patch.Name == nil || *patch.Name != "renamed" {
		t.Errorf("name patch missing: %v", patch.Name)
	}
	if patch.FullName == nil || *patch.FullName != "owner/renamed" {
		t.Errorf("full name patch missing: %v", patch.FullName)
	}
	if patch.URL == nil {
		t.Error("url patch missing")
	}
	if patch.Language == nil || *patch.Language != "Rust" {
		t.Errorf("language patch missing: %v", patch.Language)
	}
	if patch.Forks == nil || *patch.Forks != 9 {
		t.Errorf("forks patch missing: %v", patch.Forks)
	}
	if patch.Stars != nil {
		t.Error("unchanged stars must not appear in the patch")
	}
}
