// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package watchdog runs the periodic evaluation cycle: sample, evaluate,
// track consecutive failures and escalate into emergency mode.
package watchdog

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ManuGH/streamguard/internal/emergency"
	"github.com/ManuGH/streamguard/internal/escalation"
	"github.com/ManuGH/streamguard/internal/health"
	xglog "github.com/ManuGH/streamguard/internal/log"
	"github.com/ManuGH/streamguard/internal/metrics"
	"github.com/ManuGH/streamguard/internal/telemetry"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultInterval     = 60 * time.Second
	DefaultCycleTimeout = 10 * time.Minute
)

// Sampler takes one health snapshot.
type Sampler interface {
	Sample(ctx context.Context) health.Snapshot
}

// Evaluator classifies a snapshot.
type Evaluator interface {
	Evaluate(ctx context.Context, snap health.Snapshot) health.Evaluation
}

// Recorder folds an evaluation status into the failure counter.
type Recorder interface {
	Record(ctx context.Context, status health.Status) (escalation.Decision, error)
}

// Activator enters emergency mode.
type Activator interface {
	Activate(ctx context.Context, reason string) (emergency.State, error)
}

// Config controls the scheduler cadence.
type Config struct {
	Interval     time.Duration
	CycleTimeout time.Duration
}

// Deps are the scheduler collaborators. Tracker and Emergency may be nil for a
// read-only check.
type Deps struct {
	Sampler   Sampler
	Evaluator Evaluator
	Tracker   Recorder
	Emergency Activator
}

// Scheduler drives evaluation cycles. At most one cycle runs at a time.
type Scheduler struct {
	cfg    Config
	deps   Deps
	logger zerolog.Logger
	tracer trace.Tracer

	busy atomic.Bool
	wg   sync.WaitGroup

	mu      sync.RWMutex
	last    health.Evaluation
	hasLast bool
}

// New creates a scheduler.
func New(cfg Config, deps Deps) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.CycleTimeout <= 0 {
		cfg.CycleTimeout = DefaultCycleTimeout
	}
	return &Scheduler{
		cfg:    cfg,
		deps:   deps,
		logger: xglog.WithComponent("watchdog"),
		tracer: telemetry.Tracer(telemetry.TracerName),
	}
}

// Interval returns the tick interval.
func (s *Scheduler) Interval() time.Duration { return s.cfg.Interval }

// Run ticks until ctx is cancelled. The first cycle starts immediately. A tick
// that fires while a cycle is still running is skipped, never queued. Run
// waits for an in-flight cycle before returning.
func (s *Scheduler) Run(ctx context.Context) error {
	logger := xglog.WithContext(ctx, s.logger)
	logger.Info().
		Str(xglog.FieldEvent, "watchdog.started").
		Dur("interval", s.cfg.Interval).
		Msg("watchdog scheduler started")

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	defer s.wg.Wait()

	s.tryStart(ctx)
	for {
		select {
		case <-ctx.Done():
			logger.Info().Str(xglog.FieldEvent, "watchdog.stopped").Msg("watchdog scheduler stopped")
			return nil
		case <-ticker.C:
			s.tryStart(ctx)
		}
	}
}

func (s *Scheduler) tryStart(ctx context.Context) {
	if !s.busy.CompareAndSwap(false, true) {
		metrics.IncSkippedTick()
		logger := xglog.WithContext(ctx, s.logger)
		logger.Warn().
			Str(xglog.FieldEvent, "watchdog.tick_skipped").
			Msg("previous cycle still running, skipping tick")
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.busy.Store(false)
		s.RunOnce(ctx)
	}()
}

// RunOnce performs one full cycle and returns its evaluation. Failures after
// evaluation are logged and never abort the caller.
func (s *Scheduler) RunOnce(ctx context.Context) health.Evaluation {
	start := time.Now()
	cycleID := uuid.NewString()
	ctx = xglog.ContextWithCycleID(ctx, cycleID)
	ctx, cancel := context.WithTimeout(ctx, s.cfg.CycleTimeout)
	defer cancel()
	ctx, span := s.tracer.Start(ctx, "watchdog.cycle", trace.WithAttributes(attribute.String(telemetry.CycleIDKey, cycleID)))
	defer span.End()
	logger := xglog.WithContext(ctx, s.logger)

	snap := s.deps.Sampler.Sample(ctx)
	eval := s.deps.Evaluator.Evaluate(ctx, snap)
	s.setLast(eval)
	span.SetAttributes(telemetry.CycleAttributes(cycleID, eval.Status.String(), len(eval.Reasons), eval.Cleaned)...)

	decision := escalation.None
	if s.deps.Tracker != nil {
		d, err := s.deps.Tracker.Record(ctx, eval.Status)
		if err != nil {
			telemetry.RecordError(span, err, "persistence")
			logger.Error().Err(err).
				Str(xglog.FieldEvent, "watchdog.tracker_failed").
				Msg("failure counter update failed, retrying next cycle")
		} else {
			decision = d
		}
	}
	span.SetAttributes(attribute.String(telemetry.EscalationKey, decision.String()))

	if decision == escalation.Escalate && s.deps.Emergency != nil {
		reason := "consecutive critical evaluations: " + strings.Join(eval.Reasons, "; ")
		st, err := s.deps.Emergency.Activate(ctx, reason)
		if err != nil {
			telemetry.RecordError(span, err, "emergency")
			logger.Error().Err(err).
				Str(xglog.FieldEvent, "watchdog.activation_failed").
				Msg("emergency activation failed")
		} else {
			span.SetAttributes(telemetry.EmergencyAttributes(string(st.Phase), st.Level.String())...)
		}
	}

	d := time.Since(start)
	metrics.RecordCycle(eval.Status.String(), d)

	ev := logger.Info()
	if eval.Status != health.Healthy {
		ev = logger.Warn()
	}
	ev.Str(xglog.FieldEvent, "cycle.completed").
		Str("status", eval.Status.String()).
		Strs("reasons", eval.Reasons).
		Bool("cleaned", eval.Cleaned).
		Str("decision", decision.String()).
		Dur("duration", d).
		Msg("evaluation cycle completed")
	return eval
}

func (s *Scheduler) setLast(eval health.Evaluation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = eval
	s.hasLast = true
}

// Last returns the most recent evaluation, if any.
func (s *Scheduler) Last() (health.Evaluation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last, s.hasLast
}
