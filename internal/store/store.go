// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package store provides durable per-key records with atomic read-modify-write.
//
// Keys are independent: every backend writes one key per transaction (or file),
// so an interrupted write to one key never affects another.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
)

var (
	// ErrNotFound is returned by Get when the key has no record.
	ErrNotFound = errors.New("store: not found")
	// ErrPersistence wraps every backend failure.
	ErrPersistence = errors.New("store: persistence failure")
	// ErrInvalidKey is returned for keys outside [a-z0-9_.-].
	ErrInvalidKey = errors.New("store: invalid key")
	// ErrCorrupt is returned by Verify when the backend reports damage.
	ErrCorrupt = errors.New("store: corrupt")
)

// UpdateFunc computes the next value from the current one. found is false when
// the key has no record. Returning a nil slice deletes the key. A non-nil error
// aborts the update without writing and is returned unchanged.
type UpdateFunc func(old []byte, found bool) ([]byte, error)

// Store is a durable key-value store for small state records.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	// Delete is idempotent.
	Delete(ctx context.Context, key string) error
	// Update applies fn atomically with respect to other writers of key.
	Update(ctx context.Context, key string, fn UpdateFunc) error
	Close() error
}

var keyPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_.-]{0,127}$`)

func validateKey(key string) error {
	if !keyPattern.MatchString(key) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

func persistErr(backend, op, key string, err error) error {
	return fmt.Errorf("%w: %s %s %q: %w", ErrPersistence, backend, op, key, err)
}

// GetJSON reads key and decodes it into a T.
func GetJSON[T any](ctx context.Context, s Store, key string) (T, error) {
	var v T
	raw, err := s.Get(ctx, key)
	if err != nil {
		return v, err
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("%w: decode %q: %w", ErrPersistence, key, err)
	}
	return v, nil
}

// PutJSON encodes v and stores it under key.
func PutJSON(ctx context.Context, s Store, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}
	return s.Put(ctx, key, raw)
}

// UpdateJSON atomically transforms the record under key. cur is the zero value
// when found is false. The value written is returned.
func UpdateJSON[T any](ctx context.Context, s Store, key string, fn func(cur T, found bool) (T, error)) (T, error) {
	var next T
	err := s.Update(ctx, key, func(old []byte, found bool) ([]byte, error) {
		var cur T
		if found {
			if err := json.Unmarshal(old, &cur); err != nil {
				return nil, fmt.Errorf("%w: decode %q: %w", ErrPersistence, key, err)
			}
		}
		v, err := fn(cur, found)
		if err != nil {
			return nil, err
		}
		next = v
		return json.Marshal(v)
	})
	return next, err
}
