// StarSync - GitHub Stars Mirroring and Sync Engine
// Copyright 2026 awillheartwu
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/awillheartwu/starsync

package maintenance

import (
	"errors"
	"testing"
	"time"
)

func newTestLock(t *testing.T, ttl time.Duration) *Lock {
	t.Helper()
	l, err := NewLock("", ttl)
	if err != nil {
		t.Fatalf("NewLock: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestLockSingleHolder(t *testing.T) {
	t.Parallel()
	l := newTestLock(t, time.Minute)

	if err := l.Acquire("first"); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := l.Acquire("second"); !errors.Is(err, ErrLockHeld) {
		t.Fatalf("expected ErrLockHeld, got %v", err)
	}

	if err := l.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := l.Acquire("second"); err != nil {
		t.Errorf("Acquire after release: %v", err)
	}
}

func TestLockExpiresAfterTTL(t *testing.T) {
	t.Parallel()
	l := newTestLock(t, 50*time.Millisecond)

	if err := l.Acquire("crashed-holder"); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	if err := l.Acquire("recovering"); err != nil {
		t.Errorf("expired lock should be acquirable, got %v", err)
	}
}

func TestReleaseWithoutAcquireIsNoop(t *testing.T) {
	t.Parallel()
	l := newTestLock(t, time.Minute)

	if err := l.Release(); err != nil {
		t.Errorf("releasing an unheld lock should not error, got %v", err)
	}
}
