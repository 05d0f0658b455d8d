// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package recovery

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ManuGH/streamguard/internal/collab/fake"
	"github.com/ManuGH/streamguard/internal/emergency"
	"github.com/ManuGH/streamguard/internal/health"
	"github.com/ManuGH/streamguard/internal/store"
	"github.com/ManuGH/streamguard/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/goleak"
)

const (
	displaySvc = "display.service"
	streamSvc  = "stream.service"
)

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

type recordingReporter struct {
	mu         sync.Mutex
	attempts   []int
	succeeded  int
	exhausted  int
	succeedErr error
	attemptErr error
}

func (r *recordingReporter) RecordAttempt(_ context.Context, n int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, n)
	return r.attemptErr
}

func (r *recordingReporter) RecoverySucceeded(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.succeeded++
	return r.succeedErr
}

func (r *recordingReporter) RecoveryExhausted(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exhausted++
	return nil
}

func newLoop(services *fake.ServiceManager, max int) *RetryLoop {
	l := NewRetryLoop(LoopConfig{Services: []string{displaySvc, streamSvc}, MaxAttempts: max}, services)
	l.sleep = noSleep
	return l
}

func TestRetryLoop_SucceedsFirstAttempt(t *testing.T) {
	services := fake.NewServiceManager(nil)
	r := &recordingReporter{}

	newLoop(services, 10).Run(context.Background(), r)

	assert.Equal(t, []int{1}, r.attempts)
	assert.Equal(t, 1, r.succeeded)
	assert.Zero(t, r.exhausted)
	assert.Equal(t, []string{displaySvc, streamSvc}, services.CallsOf("restart"), "dependency order")
}

func TestRetryLoop_Exhausts(t *testing.T) {
	services := fake.NewServiceManager(nil)
	services.FailStart(streamSvc, true)
	r := &recordingReporter{}

	newLoop(services, 3).Run(context.Background(), r)

	assert.Equal(t, []int{1, 2, 3}, r.attempts)
	assert.Zero(t, r.succeeded)
	assert.Equal(t, 1, r.exhausted)
	assert.Len(t, services.CallsOf("restart"), 6)
}

func TestRetryLoop_UnconfirmedSuccessCountsAsFailure(t *testing.T) {
	services := fake.NewServiceManager(nil)
	r := &recordingReporter{succeedErr: errors.New("obs down")}

	newLoop(services, 2).Run(context.Background(), r)

	assert.Equal(t, 2, r.succeeded)
	assert.Equal(t, 1, r.exhausted)
}

func TestRetryLoop_StopsWhenSuperseded(t *testing.T) {
	services := fake.NewServiceManager(nil)
	r := &recordingReporter{attemptErr: emergency.ErrLoopSuperseded}

	newLoop(services, 5).Run(context.Background(), r)

	assert.Equal(t, []int{1}, r.attempts)
	assert.Empty(t, services.Calls())
	assert.Zero(t, r.exhausted)
}

func TestRetryLoop_CancelDuringInterval(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	services := fake.NewServiceManager(nil)
	services.FailStart(streamSvc, true)
	l := NewRetryLoop(LoopConfig{
		Services:    []string{displaySvc, streamSvc},
		MaxAttempts: 10,
		Interval:    time.Hour,
	}, services)
	r := &recordingReporter{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		l.Run(ctx, r)
	}()

	require.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return len(r.attempts) == 1
	}, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not observe cancellation")
	}
	assert.Zero(t, r.exhausted)
}

func TestRetryLoop_Defaults(t *testing.T) {
	l := NewRetryLoop(LoopConfig{}, fake.NewServiceManager(nil))
	assert.Equal(t, DefaultMaxAttempts, l.cfg.MaxAttempts)
}

// RetryLoop driven by a real controller: emergency → recovering → normal.
func TestRetryLoop_WithController(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	ctx := context.Background()

	services := fake.NewServiceManager(nil)
	services.FailStart(streamSvc, true)
	stream := &fake.StreamController{}
	loop := newLoop(services, 10)
	var attempts atomic.Int32
	loop.sleep = func(ctx context.Context, d time.Duration) error {
		// the stream unit heals after the second attempt
		if d == loop.cfg.Grace && attempts.Add(1) == 2 {
			services.FailStart(streamSvc, false)
		}
		return ctx.Err()
	}

	ctrl := emergency.New(emergency.Config{
		StreamService:  streamSvc,
		DisplayService: displaySvc,
		AutoRecovery:   true,
	}, emergency.Deps{
		Store:    store.NewMemory(),
		Services: services,
		Stream:   stream,
		Loop:     loop,
	})
	defer ctrl.Close()

	_, err := ctrl.Activate(ctx, "both down")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return !ctrl.LoopRunning() }, 2*time.Second, 5*time.Millisecond)

	st, err := ctrl.Current(ctx)
	require.NoError(t, err)
	assert.False(t, st.Active)
	assert.Equal(t, []string{"fallback", "live"}, stream.Switches())
}

type bootHarness struct {
	orch     *Orchestrator
	store    store.Store
	services *fake.ServiceManager
	stream   *fake.StreamController
	notifier *fake.Notifier
	emerg    *fakeEmergency
	network  *fakeNetwork
	commands [][]string
}

type fakeNetwork struct{ up atomic.Bool }

func (n *fakeNetwork) NetworkReachable(context.Context) bool { return n.up.Load() }

type fakeEmergency struct {
	activated []string
	cleared   []string
}

func (e *fakeEmergency) Activate(_ context.Context, reason string) (emergency.State, error) {
	e.activated = append(e.activated, reason)
	return emergency.State{Active: true, Reason: reason}, nil
}

func (e *fakeEmergency) Clear(_ context.Context, by string) (emergency.State, error) {
	e.cleared = append(e.cleared, by)
	return emergency.State{Phase: emergency.PhaseNormal}, nil
}

func newBoot(t *testing.T, cfg BootConfig) *bootHarness {
	t.Helper()
	h := &bootHarness{
		store:    store.NewMemory(),
		services: fake.NewServiceManager(nil),
		stream:   &fake.StreamController{},
		notifier: &fake.Notifier{},
		emerg:    &fakeEmergency{},
		network:  &fakeNetwork{},
	}
	h.network.up.Store(true)
	if cfg.Services == nil {
		cfg.Services = []string{displaySvc, streamSvc}
	}
	if cfg.RecheckAttempts == 0 {
		cfg.RecheckAttempts = 2
	}
	h.orch = NewOrchestrator(cfg, BootDeps{
		Store:     h.store,
		Services:  h.services,
		Stream:    h.stream,
		Network:   h.network,
		Emergency: h.emerg,
		Notifier:  h.notifier,
		Run: func(_ context.Context, argv []string) error {
			h.commands = append(h.commands, argv)
			return nil
		},
	})
	h.orch.sleep = noSleep
	return h
}

func TestBoot_UnplannedStartsServices(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "media", "ready")
	h := newBoot(t, BootConfig{Directories: []string{dir}, PrereqCommand: []string{"/opt/venv/setup.sh"}})

	res, err := h.orch.Boot(ctx)
	require.NoError(t, err)
	assert.Equal(t, BootRecovered, res.Outcome)
	assert.False(t, res.Planned)
	assert.DirExists(t, dir)
	assert.Equal(t, [][]string{{"/opt/venv/setup.sh"}}, h.commands)
	assert.Equal(t, []string{displaySvc, streamSvc}, h.services.CallsOf("start"))
	assert.Equal(t, []string{"boot-recovery"}, h.emerg.cleared)
	assert.Empty(t, h.emerg.activated)
	assert.Contains(t, h.notifier.Events(), "recovery.boot_succeeded")
}

func TestBoot_PlannedNotStreamingLeavesServicesStopped(t *testing.T) {
	ctx := context.Background()
	h := newBoot(t, BootConfig{})
	_, err := h.orch.PrepareReboot(ctx, "operator", "kernel update")
	require.NoError(t, err)

	res, err := h.orch.Boot(ctx)
	require.NoError(t, err)
	assert.Equal(t, BootLeftStopped, res.Outcome)
	assert.True(t, res.Planned)
	assert.Empty(t, h.services.Calls())

	_, found, err := ReadMarker(ctx, h.store)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestBoot_PlannedStreamingDeletesMarker(t *testing.T) {
	ctx := context.Background()
	h := newBoot(t, BootConfig{})
	h.services.Set(streamSvc, health.ServiceActive)

	m, err := h.orch.PrepareReboot(ctx, "operator", "maintenance")
	require.NoError(t, err)
	assert.True(t, m.WasStreaming)
	h.services.Set(streamSvc, health.ServiceInactive)

	res, err := h.orch.Boot(ctx)
	require.NoError(t, err)
	assert.Equal(t, BootRecovered, res.Outcome)
	require.NotNil(t, res.Marker)
	assert.Equal(t, "maintenance", res.Marker.Reason)

	_, found, err := ReadMarker(ctx, h.store)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestBoot_ServicesStayDownActivatesEmergency(t *testing.T) {
	ctx := context.Background()
	h := newBoot(t, BootConfig{})
	h.services.FailStart(streamSvc, true)

	res, err := h.orch.Boot(ctx)
	require.ErrorIs(t, err, ErrRecoveryFailed)
	assert.Equal(t, BootFailed, res.Outcome)
	assert.Equal(t, []string{streamSvc}, res.Down)
	assert.Equal(t, []string{"boot recovery failed"}, h.emerg.activated)
	assert.Contains(t, h.notifier.Events(), "recovery.boot_failed")
}

func TestBoot_PrerequisiteFailure(t *testing.T) {
	ctx := context.Background()
	h := newBoot(t, BootConfig{PrereqCommand: []string{"false"}})
	h.orch.deps.Run = func(context.Context, []string) error { return errors.New("exit status 1") }

	res, err := h.orch.Boot(ctx)
	require.ErrorIs(t, err, ErrRecoveryFailed)
	assert.Equal(t, BootFailed, res.Outcome)
	assert.Empty(t, h.services.CallsOf("start"))
	assert.Len(t, h.emerg.activated, 1)
}

func TestBoot_NetworkTimeout(t *testing.T) {
	ctx := context.Background()
	h := newBoot(t, BootConfig{NetworkTimeout: 30 * time.Millisecond, NetworkPoll: 5 * time.Millisecond})
	h.orch.sleep = sleepCtx
	h.network.up.Store(false)

	res, err := h.orch.Boot(ctx)
	require.ErrorIs(t, err, ErrNetworkTimeout)
	assert.Equal(t, BootNetworkFailed, res.Outcome)
	assert.Empty(t, h.services.Calls())
	assert.Equal(t, []string{"recovery.network_timeout"}, h.notifier.Events())
	assert.Equal(t, []string{"network unreachable after boot"}, h.emerg.activated)
}

func TestBoot_CancelledNetworkWaitDoesNotActivate(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h := newBoot(t, BootConfig{NetworkTimeout: time.Minute, NetworkPoll: time.Millisecond})
	h.network.up.Store(false)

	res, err := h.orch.Boot(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, BootNetworkFailed, res.Outcome)
	assert.Empty(t, h.emerg.activated)
}

func TestBoot_NetworkComesUp(t *testing.T) {
	ctx := context.Background()
	h := newBoot(t, BootConfig{NetworkTimeout: time.Second, NetworkPoll: time.Millisecond})
	h.network.up.Store(false)
	var polls atomic.Int32
	h.orch.sleep = func(ctx context.Context, d time.Duration) error {
		if d == h.orch.cfg.NetworkPoll && polls.Add(1) == 3 {
			h.network.up.Store(true)
		}
		return ctx.Err()
	}

	res, err := h.orch.Boot(ctx)
	require.NoError(t, err)
	assert.Equal(t, BootRecovered, res.Outcome)
	assert.GreaterOrEqual(t, polls.Load(), int32(3))
}

func TestBoot_SwitchesLiveWhenOnFallback(t *testing.T) {
	ctx := context.Background()
	h := newBoot(t, BootConfig{})
	require.NoError(t, h.stream.SwitchToFallback(ctx, "stale"))

	_, err := h.orch.Boot(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"fallback", "live"}, h.stream.Switches())
}

func TestPrepareReboot_StatusFailure(t *testing.T) {
	h := newBoot(t, BootConfig{})
	h.services.FailQuery(streamSvc, true)
	_, err := h.orch.PrepareReboot(context.Background(), "op", "x")
	require.Error(t, err)
	_, found, _ := ReadMarker(context.Background(), h.store)
	assert.False(t, found)
}

func TestReadMarker_Corrupt(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	require.NoError(t, s.Put(ctx, KeyRebootMarker, []byte("{not json")))
	_, _, err := ReadMarker(ctx, s)
	assert.ErrorIs(t, err, store.ErrPersistence)
}

func TestExecCommand_ReportsOutput(t *testing.T) {
	require.NoError(t, ExecCommand(context.Background(), []string{"true"}))

	err := ExecCommand(context.Background(), []string{"sh", "-c", "echo broken mount; exit 3"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken mount")
	assert.Contains(t, err.Error(), "sh -c")
}

func spanAttrs(s sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
	out := make(map[attribute.Key]attribute.Value)
	for _, kv := range s.Attributes() {
		out[kv.Key] = kv.Value
	}
	return out
}

func TestRetryLoop_SpanPerAttempt(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))

	services := fake.NewServiceManager(nil)
	services.FailStart(streamSvc, true)
	l := newLoop(services, 2)
	l.tracer = tp.Tracer("test")

	l.Run(context.Background(), &recordingReporter{})

	ended := rec.Ended()
	require.Len(t, ended, 2)
	for i, s := range ended {
		assert.Equal(t, "recovery.attempt", s.Name())
		attrs := spanAttrs(s)
		assert.Equal(t, "loop", attrs[telemetry.RecoveryModeKey].AsString())
		assert.Equal(t, int64(i+1), attrs[telemetry.RecoveryAttemptKey].AsInt64())
		assert.Equal(t, "failed", attrs[telemetry.RecoveryOutcomeKey].AsString())
	}
}

func TestBoot_RecordsSpan(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))

	h := newBoot(t, BootConfig{})
	h.orch.tracer = tp.Tracer("test")
	h.services.FailStart(streamSvc, true)

	_, err := h.orch.Boot(context.Background())
	require.ErrorIs(t, err, ErrRecoveryFailed)

	ended := rec.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "recovery.boot", ended[0].Name())
	attrs := spanAttrs(ended[0])
	assert.Equal(t, "boot", attrs[telemetry.RecoveryModeKey].AsString())
	assert.Equal(t, string(BootFailed), attrs[telemetry.RecoveryOutcomeKey].AsString())
	assert.True(t, attrs[telemetry.ErrorKey].AsBool())
}
