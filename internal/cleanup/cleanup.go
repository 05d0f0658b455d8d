// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package cleanup removes aged generated artifacts to relieve disk pressure.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	xglog "github.com/ManuGH/streamguard/internal/log"
	"github.com/ManuGH/streamguard/internal/metrics"
	"github.com/rs/zerolog"
)

// Target is one directory tree whose aged files may be removed.
type Target struct {
	Name       string
	Dir        string
	Extensions []string // lower-case, with dot; empty matches every file
	MaxAge     time.Duration
}

// Config bounds a cleanup run.
type Config struct {
	Targets  []Target
	MaxFiles int           // per run across all targets; 0 means unlimited
	Deadline time.Duration // wall time budget for one run
}

// DefaultConfig returns the production retention for media and log directories.
func DefaultConfig(mediaDir, logDir string) Config {
	return Config{
		Targets: []Target{
			{Name: "media", Dir: mediaDir, Extensions: []string{".mp4", ".ts", ".mkv", ".flv", ".wav", ".mp3", ".png"}, MaxAge: 48 * time.Hour},
			{Name: "logs", Dir: logDir, Extensions: []string{".log", ".gz"}, MaxAge: 7 * 24 * time.Hour},
		},
		MaxFiles: 500,
		Deadline: 30 * time.Second,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	var errs []error
	if c.MaxFiles < 0 {
		errs = append(errs, fmt.Errorf("max files %d must not be negative", c.MaxFiles))
	}
	if c.Deadline < 0 {
		errs = append(errs, fmt.Errorf("deadline %s must not be negative", c.Deadline))
	}
	for i, t := range c.Targets {
		if t.Dir == "" {
			continue
		}
		if !filepath.IsAbs(t.Dir) {
			errs = append(errs, fmt.Errorf("target %d (%s): dir %q must be absolute", i, t.Name, t.Dir))
		}
		if filepath.Clean(t.Dir) == "/" {
			errs = append(errs, fmt.Errorf("target %d (%s): refusing to clean filesystem root", i, t.Name))
		}
		if t.MaxAge <= 0 {
			errs = append(errs, fmt.Errorf("target %d (%s): max age must be positive", i, t.Name))
		}
	}
	return errors.Join(errs...)
}

// TargetResult is the outcome for one target.
type TargetResult struct {
	Name       string `json:"name"`
	Scanned    int    `json:"scanned"`
	Removed    int    `json:"removed"`
	Failed     int    `json:"failed"`
	FreedBytes int64  `json:"freed_bytes"`
}

// Result summarizes a cleanup run.
type Result struct {
	Targets   []TargetResult `json:"targets"`
	Removed   int            `json:"removed"`
	Failed    int            `json:"failed"`
	Truncated bool           `json:"truncated"` // MaxFiles or Deadline reached
	Duration  time.Duration  `json:"duration"`
}

// Cleaner performs bounded, best-effort cleanup passes.
type Cleaner struct {
	cfg    Config
	now    func() time.Time
	remove func(string) error
	logger zerolog.Logger
}

// Option configures a Cleaner.
type Option func(*Cleaner)

// WithClock overrides the time source used for age checks.
func WithClock(now func() time.Time) Option {
	return func(c *Cleaner) { c.now = now }
}

// New creates a Cleaner.
func New(cfg Config, opts ...Option) *Cleaner {
	if cfg.Deadline <= 0 {
		cfg.Deadline = 30 * time.Second
	}
	c := &Cleaner{
		cfg:    cfg,
		now:    time.Now,
		remove: os.Remove,
		logger: xglog.WithComponent("cleanup"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type candidate struct {
	path    string
	size    int64
	modTime time.Time
}

var errBudget = errors.New("cleanup budget exhausted")

// Run removes files older than each target's MaxAge. Individual delete
// failures are counted, never returned. The oldest files go first so that a
// MaxFiles cap keeps the most recent artifacts. Symlinks are never followed
// and never removed. The returned error is non-nil only when the parent
// context is cancelled.
func (c *Cleaner) Run(ctx context.Context) (Result, error) {
	start := time.Now()
	runCtx, cancel := context.WithTimeout(ctx, c.cfg.Deadline)
	defer cancel()

	logger := xglog.WithContext(ctx, c.logger)
	var res Result
	budget := c.cfg.MaxFiles

	for _, t := range c.cfg.Targets {
		if t.Dir == "" {
			continue
		}
		tr := TargetResult{Name: t.Name}
		cands, err := c.collect(runCtx, t, &tr)
		if err != nil && !errors.Is(err, context.DeadlineExceeded) {
			if ctx.Err() != nil {
				res.Duration = time.Since(start)
				return res, ctx.Err()
			}
			logger.Warn().Err(err).
				Str(xglog.FieldEvent, "cleanup.target_skipped").
				Str(xglog.FieldPath, t.Dir).
				Msg("cleanup target could not be scanned")
		}

		for _, cand := range cands {
			if runCtx.Err() != nil {
				res.Truncated = true
				break
			}
			if c.cfg.MaxFiles > 0 && budget <= 0 {
				res.Truncated = true
				break
			}
			if err := c.remove(cand.path); err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					continue
				}
				tr.Failed++
				logger.Debug().Err(err).
					Str(xglog.FieldEvent, "cleanup.remove_failed").
					Str(xglog.FieldPath, cand.path).
					Msg("failed to remove file")
				continue
			}
			budget--
			tr.Removed++
			tr.FreedBytes += cand.size
		}

		metrics.RecordCleanup(t.Name, tr.Removed, tr.Failed, tr.FreedBytes)
		res.Targets = append(res.Targets, tr)
		res.Removed += tr.Removed
		res.Failed += tr.Failed
		if runCtx.Err() != nil {
			res.Truncated = true
		}
	}

	res.Duration = time.Since(start)
	if ctx.Err() != nil {
		return res, ctx.Err()
	}

	logger.Info().
		Str(xglog.FieldEvent, "cleanup.completed").
		Int("removed", res.Removed).
		Int("failed", res.Failed).
		Bool("truncated", res.Truncated).
		Dur("duration", res.Duration).
		Msg("disk cleanup pass finished")
	return res, nil
}

// Clean runs one pass and reports failed deletions as an error.
func (c *Cleaner) Clean(ctx context.Context) error {
	res, err := c.Run(ctx)
	if err != nil {
		return err
	}
	if res.Failed > 0 {
		return fmt.Errorf("cleanup: %d of %d deletions failed", res.Failed, res.Failed+res.Removed)
	}
	return nil
}

func (c *Cleaner) collect(ctx context.Context, t Target, tr *TargetResult) ([]candidate, error) {
	root, err := filepath.EvalSymlinks(t.Dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("resolve %s: %w", t.Dir, err)
	}
	root = filepath.Clean(root)
	cutoff := c.now().Add(-t.MaxAge)

	var cands []candidate
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			if d != nil && d.IsDir() && path != root {
				return fs.SkipDir
			}
			return nil
		}
		// WalkDir reports symlinks without following them; only regular files qualify.
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return nil
		}
		if !matchExt(d.Name(), t.Extensions) {
			return nil
		}
		tr.Scanned++
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().Before(cutoff) {
			cands = append(cands, candidate{path: path, size: info.Size(), modTime: info.ModTime()})
		}
		return nil
	})
	sort.Slice(cands, func(i, j int) bool { return cands[i].modTime.Before(cands[j].modTime) })
	return cands, err
}

func matchExt(name string, exts []string) bool {
	if len(exts) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range exts {
		if ext == strings.ToLower(e) {
			return true
		}
	}
	return false
}
