// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package health

import (
	"context"
	"sync"
	"time"

	xglog "github.com/ManuGH/streamguard/internal/log"
	"github.com/rs/zerolog"
)

// Cleaner removes disposable artifacts to relieve disk pressure.
type Cleaner interface {
	Clean(ctx context.Context) error
}

// DiskReader re-reads disk usage after a cleanup pass.
type DiskReader interface {
	DiskUsage(ctx context.Context) Metric
}

// Evaluation is the outcome of one Evaluate call.
type Evaluation struct {
	Status   Status    `json:"status"`
	Reasons  []string  `json:"reasons,omitempty"`
	Snapshot Snapshot  `json:"snapshot"`
	Cleaned  bool      `json:"cleaned"`
	At       time.Time `json:"evaluated_at"`
}

// Evaluator classifies snapshots and runs the disk cleanup side effect.
type Evaluator struct {
	mu         sync.RWMutex
	thresholds Thresholds

	cleaner      Cleaner
	disk         DiskReader
	cleanTimeout time.Duration
	logger       zerolog.Logger
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithCleaner installs the cleanup pass triggered above the disk warning threshold.
func WithCleaner(c Cleaner, disk DiskReader, timeout time.Duration) Option {
	return func(e *Evaluator) {
		e.cleaner = c
		e.disk = disk
		if timeout > 0 {
			e.cleanTimeout = timeout
		}
	}
}

// WithLogger overrides the component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Evaluator) { e.logger = l }
}

// NewEvaluator creates an evaluator for the given thresholds.
func NewEvaluator(t Thresholds, opts ...Option) *Evaluator {
	e := &Evaluator{
		thresholds:   t,
		cleanTimeout: 30 * time.Second,
		logger:       xglog.WithComponent("evaluator"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Thresholds returns the thresholds currently in force.
func (e *Evaluator) Thresholds() Thresholds {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.thresholds
}

// SetThresholds swaps the thresholds, used by config hot reload.
func (e *Evaluator) SetThresholds(t Thresholds) {
	e.mu.Lock()
	e.thresholds = t
	e.mu.Unlock()
}

// Evaluate classifies snap. When disk usage exceeds the warning threshold a
// single bounded cleanup pass runs first and disk usage is re-read; the
// classification then uses the derived snapshot. Cleanup failures are logged only.
func (e *Evaluator) Evaluate(ctx context.Context, snap Snapshot) Evaluation {
	t := e.Thresholds()
	logger := xglog.WithContext(ctx, e.logger)

	cleaned := false
	if e.cleaner != nil && snap.Resources().DiskUsedPct.Above(t.DiskWarningPct) {
		cleaned = true
		cctx, cancel := context.WithTimeout(ctx, e.cleanTimeout)
		err := e.cleaner.Clean(cctx)
		cancel()
		if err != nil {
			logger.Warn().Err(err).
				Str(xglog.FieldEvent, "cleanup.failed").
				Float64(xglog.FieldDiskPct, snap.Resources().DiskUsedPct.Value).
				Msg("disk cleanup failed")
		}
		if e.disk != nil {
			if m := e.disk.DiskUsage(ctx); m.Available {
				logger.Info().
					Str(xglog.FieldEvent, "cleanup.disk_reread").
					Float64("before", snap.Resources().DiskUsedPct.Value).
					Float64("after", m.Value).
					Msg("disk usage re-read after cleanup")
				snap = snap.WithDisk(m)
			}
		}
	}

	status, reasons := Classify(snap, t)
	return Evaluation{
		Status:   status,
		Reasons:  reasons,
		Snapshot: snap,
		Cleaned:  cleaned,
		At:       time.Now(),
	}
}
