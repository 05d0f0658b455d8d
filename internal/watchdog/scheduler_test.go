// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package watchdog

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ManuGH/streamguard/internal/emergency"
	"github.com/ManuGH/streamguard/internal/escalation"
	"github.com/ManuGH/streamguard/internal/health"
	xglog "github.com/ManuGH/streamguard/internal/log"
	"github.com/ManuGH/streamguard/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type funcSampler func(ctx context.Context) health.Snapshot

func (f funcSampler) Sample(ctx context.Context) health.Snapshot { return f(ctx) }

// statusEvaluator returns the next queued status on every call.
type statusEvaluator struct {
	mu       sync.Mutex
	statuses []health.Status
}

func (e *statusEvaluator) Evaluate(_ context.Context, snap health.Snapshot) health.Evaluation {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := health.Healthy
	if len(e.statuses) > 0 {
		st, e.statuses = e.statuses[0], e.statuses[1:]
	}
	var reasons []string
	if st == health.Critical {
		reasons = []string{"disk usage critical"}
	}
	return health.Evaluation{Status: st, Reasons: reasons, Snapshot: snap, At: time.Now()}
}

type recordingActivator struct {
	mu      sync.Mutex
	reasons []string
	err     error
}

func (a *recordingActivator) Activate(_ context.Context, reason string) (emergency.State, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reasons = append(a.reasons, reason)
	return emergency.State{Active: true, Phase: emergency.PhaseHigh, Level: emergency.LevelHigh}, a.err
}

type failingRecorder struct{}

func (failingRecorder) Record(context.Context, health.Status) (escalation.Decision, error) {
	return escalation.None, store.ErrPersistence
}

func emptySampler() funcSampler {
	return func(context.Context) health.Snapshot { return health.Snapshot{} }
}

func TestRunOnce_RecordsLastEvaluation(t *testing.T) {
	s := New(Config{}, Deps{Sampler: emptySampler(), Evaluator: &statusEvaluator{}})

	_, ok := s.Last()
	assert.False(t, ok)

	eval := s.RunOnce(context.Background())
	assert.Equal(t, health.Healthy, eval.Status)
	last, ok := s.Last()
	require.True(t, ok)
	assert.Equal(t, eval.At, last.At)
	assert.Equal(t, DefaultInterval, s.Interval())
}

func TestRunOnce_CycleIDInContext(t *testing.T) {
	var seen string
	s := New(Config{}, Deps{
		Sampler: funcSampler(func(ctx context.Context) health.Snapshot {
			seen = xglog.CycleIDFromContext(ctx)
			return health.Snapshot{}
		}),
		Evaluator: &statusEvaluator{},
	})
	s.RunOnce(context.Background())
	assert.Len(t, seen, 36)
}

func TestRunOnce_EscalatesAfterConsecutiveCriticals(t *testing.T) {
	ctx := context.Background()
	eval := &statusEvaluator{statuses: []health.Status{
		health.Critical, health.Critical, health.Critical, health.Critical,
	}}
	act := &recordingActivator{}
	tracker := escalation.NewTracker(store.NewMemory(), 3)
	s := New(Config{}, Deps{Sampler: emptySampler(), Evaluator: eval, Tracker: tracker, Emergency: act})

	for i := 0; i < 2; i++ {
		s.RunOnce(ctx)
	}
	assert.Empty(t, act.reasons)

	s.RunOnce(ctx)
	require.Len(t, act.reasons, 1)
	assert.Contains(t, act.reasons[0], "disk usage critical")

	s.RunOnce(ctx)
	assert.Len(t, act.reasons, 1, "counter restarts after escalation")
	n, err := tracker.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRunOnce_HealthyResetsStreak(t *testing.T) {
	ctx := context.Background()
	eval := &statusEvaluator{statuses: []health.Status{
		health.Critical, health.Critical, health.Warning, health.Critical, health.Critical,
	}}
	act := &recordingActivator{}
	s := New(Config{}, Deps{
		Sampler:   emptySampler(),
		Evaluator: eval,
		Tracker:   escalation.NewTracker(store.NewMemory(), 3),
		Emergency: act,
	})
	for i := 0; i < 5; i++ {
		s.RunOnce(ctx)
	}
	assert.Empty(t, act.reasons)
}

func TestRunOnce_TrackerFailureDoesNotEscalate(t *testing.T) {
	act := &recordingActivator{}
	s := New(Config{}, Deps{
		Sampler:   emptySampler(),
		Evaluator: &statusEvaluator{statuses: []health.Status{health.Critical}},
		Tracker:   failingRecorder{},
		Emergency: act,
	})
	eval := s.RunOnce(context.Background())
	assert.Equal(t, health.Critical, eval.Status)
	assert.Empty(t, act.reasons)
}

func TestRunOnce_ActivationFailureIsLogged(t *testing.T) {
	act := &recordingActivator{err: errors.New("store down")}
	s := New(Config{}, Deps{
		Sampler:   emptySampler(),
		Evaluator: &statusEvaluator{statuses: []health.Status{health.Critical}},
		Tracker:   escalation.NewTracker(store.NewMemory(), 1),
		Emergency: act,
	})
	eval := s.RunOnce(context.Background())
	assert.Equal(t, health.Critical, eval.Status)
	assert.Len(t, act.reasons, 1)
}

func TestRun_FirstCycleIsImmediate(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	var calls atomic.Int32
	s := New(Config{Interval: time.Hour}, Deps{
		Sampler: funcSampler(func(context.Context) health.Snapshot {
			calls.Add(1)
			return health.Snapshot{}
		}),
		Evaluator: &statusEvaluator{},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestRun_SkipsTicksWhileBusy(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	release := make(chan struct{})
	var calls atomic.Int32
	s := New(Config{Interval: 5 * time.Millisecond}, Deps{
		Sampler: funcSampler(func(ctx context.Context) health.Snapshot {
			if calls.Add(1) == 1 {
				<-release
			}
			return health.Snapshot{}
		}),
		Evaluator: &statusEvaluator{},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	// several ticks pass while the first cycle is blocked
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())

	close(release)
	require.Eventually(t, func() bool { return calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestRun_WaitsForInFlightCycle(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	entered := make(chan struct{})
	var finished atomic.Bool
	s := New(Config{Interval: time.Hour}, Deps{
		Sampler: funcSampler(func(ctx context.Context) health.Snapshot {
			close(entered)
			<-ctx.Done()
			time.Sleep(10 * time.Millisecond)
			finished.Store(true)
			return health.Snapshot{}
		}),
		Evaluator: &statusEvaluator{},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	<-entered
	cancel()
	require.NoError(t, <-done)
	assert.True(t, finished.Load())
}
