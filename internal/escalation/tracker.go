// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package escalation counts consecutive critical evaluations and decides when
// the watchdog must enter emergency mode.
package escalation

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/ManuGH/streamguard/internal/health"
	xglog "github.com/ManuGH/streamguard/internal/log"
	"github.com/ManuGH/streamguard/internal/metrics"
	"github.com/ManuGH/streamguard/internal/store"
	"github.com/rs/zerolog"
)

// KeyFailureCounter is the store key of the durable counter.
const KeyFailureCounter = "failure_counter"

// DefaultMaxConsecutiveFailures is the escalation threshold.
const DefaultMaxConsecutiveFailures = 3

// Decision is the result of recording one evaluation.
type Decision int

const (
	None Decision = iota
	Escalate
)

func (d Decision) String() string {
	if d == Escalate {
		return "escalate"
	}
	return "none"
}

// Tracker owns the failure_counter key. It is the only writer of that key.
type Tracker struct {
	store       store.Store
	maxFailures int
	logger      zerolog.Logger
}

// NewTracker creates a tracker. maxFailures below 1 uses the default.
func NewTracker(s store.Store, maxFailures int) *Tracker {
	if maxFailures < 1 {
		maxFailures = DefaultMaxConsecutiveFailures
	}
	return &Tracker{
		store:       s,
		maxFailures: maxFailures,
		logger:      xglog.WithComponent("escalation"),
	}
}

// MaxFailures returns the escalation threshold.
func (t *Tracker) MaxFailures() int { return t.maxFailures }

// Record folds one evaluation status into the counter. A Critical status
// increments it; reaching the threshold returns Escalate and writes zero in the
// same atomic update, so a single crossing escalates exactly once. Any other
// status resets a non-zero counter.
func (t *Tracker) Record(ctx context.Context, status health.Status) (Decision, error) {
	logger := xglog.WithContext(ctx, t.logger)

	var (
		before, after int
		decision      = None
	)
	err := t.store.Update(ctx, KeyFailureCounter, func(old []byte, found bool) ([]byte, error) {
		n, err := decode(old, found)
		if err != nil {
			logger.Warn().Err(err).
				Str(xglog.FieldEvent, "escalation.counter_corrupt").
				Msg("failure counter unreadable, restarting from zero")
			n, found = 0, false
		}
		before, after, decision = n, n, None
		if status == health.Critical {
			after = n + 1
			if after >= t.maxFailures {
				decision = Escalate
				after = 0
			}
		} else {
			if n == 0 && found {
				return old, nil
			}
			after = 0
		}
		return encode(after), nil
	})
	if err != nil {
		return None, fmt.Errorf("record %s: %w", status, err)
	}
	metrics.SetFailureCount(after)

	switch {
	case decision == Escalate:
		logger.Warn().
			Str(xglog.FieldEvent, "escalation.threshold_crossed").
			Int(xglog.FieldFailures, before+1).
			Int(xglog.FieldMaxFailures, t.maxFailures).
			Msg("consecutive failure threshold reached, escalating")
	case status == health.Critical:
		logger.Info().
			Str(xglog.FieldEvent, "escalation.failure_recorded").
			Int(xglog.FieldFailures, after).
			Int(xglog.FieldMaxFailures, t.maxFailures).
			Msg("critical evaluation recorded")
	case before > 0:
		logger.Info().
			Str(xglog.FieldEvent, "escalation.recovered").
			Int(xglog.FieldFailures, before).
			Str(xglog.FieldStatus, status.String()).
			Msg("health recovered, failure counter reset")
	}
	return decision, nil
}

// Reset writes zero. Resetting twice is a no-op.
func (t *Tracker) Reset(ctx context.Context) error {
	err := t.store.Update(ctx, KeyFailureCounter, func(_ []byte, _ bool) ([]byte, error) {
		return encode(0), nil
	})
	if err != nil {
		return fmt.Errorf("reset failure counter: %w", err)
	}
	metrics.SetFailureCount(0)
	return nil
}

// Count returns the current counter value; a missing record counts as zero.
func (t *Tracker) Count(ctx context.Context) (int, error) {
	raw, err := t.store.Get(ctx, KeyFailureCounter)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return decode(raw, true)
}

func decode(raw []byte, found bool) (int, error) {
	if !found {
		return 0, nil
	}
	n, err := strconv.Atoi(string(raw))
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: corrupt failure counter %q", store.ErrPersistence, raw)
	}
	return n, nil
}

func encode(n int) []byte {
	return []byte(strconv.Itoa(n))
}
