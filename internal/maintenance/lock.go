// StarSync - GitHub Stars Mirroring and Sync Engine
// Copyright 2026 awillheartwu
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/awillheartwu/starsync

package maintenance

import (
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	json "github.com/goccy/go-json"

	"github.com/awillheartwu/starsync/internal/logging"
)

// ErrLockHeld indicates another maintenance pass currently holds the lock.
var ErrLockHeld = errors.New("maintenance lock held")

var lockKey = []byte("lock:maintenance")

// lockRecord is the stored lock payload, useful when debugging a stuck lock.
type lockRecord struct {
	Owner      string    `json:"owner"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Lock is a single-holder TTL lock backed by BadgerDB. The TTL guarantees a
// crashed holder never blocks maintenance forever.
type Lock struct {
	db  *badger.DB
	ttl time.Duration
}

// NewLock opens (or creates) the lock database at path. An empty path opens
// an in-memory database, which only makes sense in tests.
func NewLock(path string, ttl time.Duration) (*Lock, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock database: %w", err)
	}
	return &Lock{db: db, ttl: ttl}, nil
}

// Acquire atomically takes the lock for owner. Returns ErrLockHeld when a
// live lock exists. Badger expires the entry after the TTL, so Acquire also
// succeeds over an expired but not yet garbage-collected record.
func (l *Lock) Acquire(owner string) error {
	now := time.Now()
	return l.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(lockKey)
		if err == nil {
			var existing lockRecord
			if valErr := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &existing)
			}); valErr == nil && now.Before(existing.ExpiresAt) {
				logging.Debug().
					Str("owner", existing.Owner).
					Time("expiresAt", existing.ExpiresAt).
					Msg("Maintenance lock held")
				return ErrLockHeld
			}
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		rec := lockRecord{Owner: owner, AcquiredAt: now, ExpiresAt: now.Add(l.ttl)}
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		e := badger.NewEntry(lockKey, data).WithTTL(l.ttl)
		return txn.SetEntry(e)
	})
}

// Release drops the lock. Releasing a lock that already expired is a no-op.
func (l *Lock) Release() error {
	return l.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete(lockKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}

// Close closes the lock database.
func (l *Lock) Close() error {
	return l.db.Close()
}
