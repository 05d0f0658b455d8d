// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

const badgerMaxConflictRetries = 64

// Badger stores records in an embedded badger database.
type Badger struct {
	db *badger.DB
}

// OpenBadger opens the badger database in dir.
func OpenBadger(dir string) (*Badger, error) {
	if dir == "" {
		return nil, errors.New("badger store: directory is required")
	}
	opts := badger.DefaultOptions(dir).WithLogger(nil).WithSyncWrites(true)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger store: open failed: %w", err)
	}
	return &Badger{db: db}, nil
}

func (s *Badger) Get(_ context.Context, key string) ([]byte, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, persistErr(BackendBadger, "get", key, err)
	}
	return out, nil
}

func (s *Badger) Put(_ context.Context, key string, value []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
	if err != nil {
		return persistErr(BackendBadger, "put", key, err)
	}
	return nil
}

func (s *Badger) Delete(_ context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return persistErr(BackendBadger, "delete", key, err)
	}
	return nil
}

// fnError marks an error returned by the caller's UpdateFunc.
type fnError struct{ err error }

func (e fnError) Error() string { return e.err.Error() }
func (e fnError) Unwrap() error { return e.err }

// Update retries on transaction conflicts; fn may therefore run more than once.
func (s *Badger) Update(ctx context.Context, key string, fn UpdateFunc) error {
	if err := validateKey(key); err != nil {
		return err
	}
	for attempt := 0; attempt < badgerMaxConflictRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.db.Update(func(txn *badger.Txn) error {
			var old []byte
			found := true
			item, err := txn.Get([]byte(key))
			switch {
			case errors.Is(err, badger.ErrKeyNotFound):
				found = false
			case err != nil:
				return err
			default:
				if old, err = item.ValueCopy(nil); err != nil {
					return err
				}
			}

			next, err := fn(old, found)
			if err != nil {
				return fnError{err}
			}
			if next == nil {
				return txn.Delete([]byte(key))
			}
			return txn.Set([]byte(key), next)
		})
		if errors.Is(err, badger.ErrConflict) {
			continue
		}
		var fe fnError
		if errors.As(err, &fe) {
			return fe.err
		}
		if err != nil {
			return persistErr(BackendBadger, "update", key, err)
		}
		return nil
	}
	return persistErr(BackendBadger, "update", key, badger.ErrConflict)
}

func (s *Badger) Close() error {
	return s.db.Close()
}
