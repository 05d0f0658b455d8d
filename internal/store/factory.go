// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/ManuGH/streamguard/internal/metrics"
)

// Backend names accepted by Open.
const (
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
	BackendRedis  = "redis"
	BackendFile   = "file"
	BackendMemory = "memory"
)

// Open creates a Store for backend. path is the database file (sqlite), the
// directory (badger, file) or a redis:// URL (redis); memory ignores it.
func Open(backend, path string) (Store, error) {
	if backend == "" {
		backend = BackendSQLite
	}

	var (
		s   Store
		err error
	)
	switch backend {
	case BackendSQLite:
		s, err = OpenSQLite(path, DefaultSQLiteConfig())
	case BackendBadger:
		s, err = OpenBadger(path)
	case BackendRedis:
		s, err = OpenRedis(path)
	case BackendFile:
		s, err = OpenFile(path)
	case BackendMemory:
		s = NewMemory()
	default:
		return nil, fmt.Errorf("unknown store backend: %s (supported: sqlite, badger, redis, file, memory)", backend)
	}
	if err != nil {
		return nil, err
	}
	return &instrumented{Store: s, backend: backend}, nil
}

// Verifier is implemented by backends that can check their own integrity.
type Verifier interface {
	Verify(ctx context.Context) error
}

// AsVerifier returns the integrity check of s when its backend has one.
func AsVerifier(s Store) (Verifier, bool) {
	if i, ok := s.(*instrumented); ok {
		s = i.Store
	}
	v, ok := s.(Verifier)
	return v, ok
}

// instrumented records per-operation metrics.
type instrumented struct {
	Store
	backend string
}

func (i *instrumented) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := i.Store.Get(ctx, key)
	if err == nil || errors.Is(err, ErrNotFound) {
		metrics.RecordStoreOp(i.backend, "get", nil)
	} else {
		metrics.RecordStoreOp(i.backend, "get", err)
	}
	return v, err
}

func (i *instrumented) Put(ctx context.Context, key string, value []byte) error {
	err := i.Store.Put(ctx, key, value)
	metrics.RecordStoreOp(i.backend, "put", err)
	return err
}

func (i *instrumented) Delete(ctx context.Context, key string) error {
	err := i.Store.Delete(ctx, key)
	metrics.RecordStoreOp(i.backend, "delete", err)
	return err
}

func (i *instrumented) Update(ctx context.Context, key string, fn UpdateFunc) error {
	err := i.Store.Update(ctx, key, fn)
	metrics.RecordStoreOp(i.backend, "update", err)
	return err
}
