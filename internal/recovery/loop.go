// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package recovery restores the stream: the bounded retry loop run during an
// emergency and the boot-time recovery sequence.
package recovery

import (
	"context"
	"errors"
	"time"

	"github.com/ManuGH/streamguard/internal/collab"
	"github.com/ManuGH/streamguard/internal/emergency"
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
	DefaultMaxAttempts = 10
	DefaultInterval    = 5 * time.Minute
	DefaultGrace       = 30 * time.Second
)

// LoopConfig controls the retry loop. Services are restarted in the given
// order, so dependencies come first.
type LoopConfig struct {
	Services    []string
	MaxAttempts int
	Interval    time.Duration
	Grace       time.Duration
}

func (c LoopConfig) withDefaults() LoopConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.Interval < 0 {
		c.Interval = 0
	}
	if c.Grace < 0 {
		c.Grace = 0
	}
	return c
}

// RetryLoop restarts the required services until they are all active or the
// attempts run out. It implements emergency.Loop.
type RetryLoop struct {
	cfg      LoopConfig
	services collab.ServiceManager
	logger   zerolog.Logger
	tracer   trace.Tracer
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewRetryLoop creates a loop over the given service manager.
func NewRetryLoop(cfg LoopConfig, services collab.ServiceManager) *RetryLoop {
	return &RetryLoop{
		cfg:      cfg.withDefaults(),
		services: services,
		logger:   xglog.WithComponent("recovery"),
		tracer:   telemetry.Tracer(telemetry.TracerName),
		sleep:    sleepCtx,
	}
}

// Run executes the loop until success, exhaustion, or cancellation. A report
// rejected because the emergency ended or the run was superseded stops the
// loop without further reports.
func (l *RetryLoop) Run(ctx context.Context, r emergency.Reporter) {
	logger := xglog.WithContext(ctx, l.logger)

	for n := 1; n <= l.cfg.MaxAttempts; n++ {
		if ctx.Err() != nil {
			logger.Info().Str(xglog.FieldEvent, "recovery.cancelled").Int("attempt", n).Msg("recovery loop cancelled")
			return
		}
		if err := r.RecordAttempt(ctx, n); err != nil {
			if stop(err) {
				return
			}
			logger.Warn().Err(err).Str(xglog.FieldEvent, "recovery.record_failed").Int("attempt", n).Msg("could not persist attempt")
		}

		actx := xglog.ContextWithAttemptID(ctx, uuid.NewString())
		ok := l.attempt(actx, n)
		metrics.RecordRecoveryAttempt("loop", ok)
		if ok {
			err := r.RecoverySucceeded(actx)
			if err == nil {
				return
			}
			if stop(err) {
				return
			}
			alog := xglog.WithContext(actx, l.logger)
			alog.Warn().Err(err).
				Str(xglog.FieldEvent, "recovery.confirm_failed").
				Int("attempt", n).
				Msg("services up but recovery could not be confirmed")
		}

		if n < l.cfg.MaxAttempts {
			if err := l.sleep(ctx, l.cfg.Interval); err != nil {
				logger.Info().Str(xglog.FieldEvent, "recovery.cancelled").Int("attempt", n).Msg("recovery loop cancelled")
				return
			}
		}
	}

	if ctx.Err() != nil {
		return
	}
	if err := r.RecoveryExhausted(ctx); err != nil && !stop(err) {
		logger.Error().Err(err).Str(xglog.FieldEvent, "recovery.record_failed").Msg("could not persist exhaustion")
	}
}

func stop(err error) bool {
	return errors.Is(err, emergency.ErrLoopSuperseded) || errors.Is(err, emergency.ErrIllegalTransition)
}

// attempt restarts every service in order, waits out the grace period and
// reports whether all of them are active.
func (l *RetryLoop) attempt(ctx context.Context, n int) (ok bool) {
	ctx, span := l.tracer.Start(ctx, "recovery.attempt", trace.WithAttributes(attribute.Int(telemetry.RecoveryAttemptKey, n)))
	defer func() {
		outcome := "failed"
		if ok {
			outcome = "succeeded"
		}
		span.SetAttributes(telemetry.RecoveryAttributes("loop", n, outcome)...)
		span.End()
	}()

	logger := xglog.WithContext(ctx, l.logger)
	logger.Info().
		Str(xglog.FieldEvent, "recovery.attempt_started").
		Int("attempt", n).
		Int("max_attempts", l.cfg.MaxAttempts).
		Strs("services", l.cfg.Services).
		Msg("recovery attempt")

	for _, name := range l.cfg.Services {
		if err := l.services.Restart(ctx, name); err != nil {
			logger.Warn().Err(err).
				Str(xglog.FieldEvent, "recovery.restart_failed").
				Str("service", name).
				Msg("service restart failed")
		}
	}
	if err := l.sleep(ctx, l.cfg.Grace); err != nil {
		return false
	}

	down := inactive(ctx, l.services, l.cfg.Services)
	if len(down) > 0 {
		logger.Warn().
			Str(xglog.FieldEvent, "recovery.attempt_failed").
			Int("attempt", n).
			Strs("down", down).
			Msg("services still down after restart")
		return false
	}
	logger.Info().Str(xglog.FieldEvent, "recovery.attempt_succeeded").Int("attempt", n).Msg("all services active")
	return true
}

// inactive returns the services that are not active. A failed query counts as
// not active.
func inactive(ctx context.Context, services collab.ServiceManager, names []string) []string {
	var down []string
	for _, name := range names {
		st, err := services.Status(ctx, name)
		if err != nil || st != health.ServiceActive {
			down = append(down, name)
		}
	}
	return down
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
