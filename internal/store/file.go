// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/renameio/v2"
)

const fileSuffix = ".state"

// File stores one file per key. Writes go through renameio (temp file, fsync,
// atomic rename), so a reader sees either the old or the new record.
// Update is serialized per key within the process.
type File struct {
	dir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// OpenFile uses dir as the state directory, creating it if needed.
func OpenFile(dir string) (*File, error) {
	if dir == "" {
		return nil, errors.New("file store: directory is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("file store: create dir: %w", err)
	}
	return &File{dir: dir, locks: make(map[string]*sync.Mutex)}, nil
}

func (s *File) path(key string) string {
	return filepath.Join(s.dir, key+fileSuffix)
}

func (s *File) lock(key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

func (s *File) read(key string) ([]byte, bool, error) {
	b, err := os.ReadFile(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (s *File) write(key string, value []byte) error {
	return renameio.WriteFile(s.path(key), value, 0o600)
}

func (s *File) remove(key string) error {
	err := os.Remove(s.path(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (s *File) Get(_ context.Context, key string) ([]byte, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	b, found, err := s.read(key)
	if err != nil {
		return nil, persistErr(BackendFile, "get", key, err)
	}
	if !found {
		return nil, ErrNotFound
	}
	return b, nil
}

func (s *File) Put(_ context.Context, key string, value []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	l := s.lock(key)
	l.Lock()
	defer l.Unlock()
	if err := s.write(key, value); err != nil {
		return persistErr(BackendFile, "put", key, err)
	}
	return nil
}

func (s *File) Delete(_ context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	l := s.lock(key)
	l.Lock()
	defer l.Unlock()
	if err := s.remove(key); err != nil {
		return persistErr(BackendFile, "delete", key, err)
	}
	return nil
}

func (s *File) Update(_ context.Context, key string, fn UpdateFunc) error {
	if err := validateKey(key); err != nil {
		return err
	}
	l := s.lock(key)
	l.Lock()
	defer l.Unlock()

	old, found, err := s.read(key)
	if err != nil {
		return persistErr(BackendFile, "read", key, err)
	}
	next, err := fn(old, found)
	if err != nil {
		return err
	}
	if next == nil {
		err = s.remove(key)
	} else {
		err = s.write(key, next)
	}
	if err != nil {
		return persistErr(BackendFile, "write", key, err)
	}
	return nil
}

func (s *File) Close() error { return nil }
