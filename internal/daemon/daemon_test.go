// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/ManuGH/streamguard/internal/collab/fake"
	"github.com/ManuGH/streamguard/internal/config"
	"github.com/ManuGH/streamguard/internal/emergency"
	"github.com/ManuGH/streamguard/internal/health"
	"github.com/ManuGH/streamguard/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	streamSvc  = "stream.service"
	displaySvc = "display.service"
)

// testConfig returns a config that reaches nothing outside the test: the
// network target is a local listener and cleanup, API and OBS are unused.
func testConfig(t *testing.T) config.Config {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			_ = conn.Close()
		}
	}()

	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Store.Backend = store.BackendMemory
	cfg.Watchdog.Interval = 20 * time.Millisecond
	cfg.Probes.Timeout = time.Second
	cfg.Probes.MountPath = cfg.DataDir
	cfg.Probes.NetworkTargets = []string{ln.Addr().String()}
	cfg.Cleanup.Enabled = false
	cfg.API.Enabled = false
	cfg.Recovery.Grace = 0
	cfg.Recovery.Interval = 10 * time.Millisecond
	cfg.Version = "test"
	return cfg
}

type fakes struct {
	services *fake.ServiceManager
	stream   *fake.StreamController
	notifier *fake.Notifier
	store    *store.Memory
}

func build(t *testing.T, cfg config.Config) (*Components, *fakes) {
	t.Helper()
	f := &fakes{
		services: fake.NewServiceManager(map[string]health.ServiceState{
			streamSvc:  health.ServiceActive,
			displaySvc: health.ServiceActive,
		}),
		stream:   &fake.StreamController{},
		notifier: &fake.Notifier{},
		store:    store.NewMemory(),
	}
	comp, err := Build(cfg, Overrides{
		Store:    f.store,
		Services: f.services,
		Stream:   f.stream,
		Pipeline: &fake.Pipeline{Depth: 900},
		Notifier: f.notifier,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = comp.Close() })
	return comp, f
}

func TestBuild_RunOnceSamplesConfiguredServices(t *testing.T) {
	comp, _ := build(t, testConfig(t))

	ev := comp.Scheduler.RunOnce(context.Background())
	st, ok := ev.Snapshot.Service(streamSvc)
	require.True(t, ok)
	assert.Equal(t, health.ServiceActive, st)
	assert.True(t, ev.Snapshot.NetworkOK())
	assert.True(t, ev.Snapshot.StreamExpected())
	assert.Equal(t, 900, ev.Snapshot.Buffer().Seconds)

	last, ok := comp.Scheduler.Last()
	require.True(t, ok)
	assert.Equal(t, ev.At, last.At)
}

func TestBuild_StoreBackendFromConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Backend = store.BackendFile
	cfg.Store.Path = t.TempDir()

	comp, err := Build(cfg, Overrides{
		Services: fake.NewServiceManager(nil),
		Stream:   &fake.StreamController{},
		Notifier: &fake.Notifier{},
	})
	require.NoError(t, err)
	defer func() { assert.NoError(t, comp.Close()) }()

	require.NoError(t, store.PutJSON(context.Background(), comp.Store, "probe", 1))
	n, err := store.GetJSON[int](context.Background(), comp.Store, "probe")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestApplyThresholds(t *testing.T) {
	cfg := testConfig(t)
	comp, _ := build(t, cfg)

	next := cfg
	next.Thresholds.DiskCriticalPct = 99
	next.Services.Required = []string{displaySvc, streamSvc, "encoder.service"}
	next.Services.StreamExpected = false
	comp.ApplyThresholds(next)

	assert.Equal(t, 99.0, comp.Evaluator.Thresholds().DiskCriticalPct)
	assert.Contains(t, comp.serviceNames(), "encoder.service")

	snap := comp.Sampler.Sample(context.Background())
	assert.False(t, snap.StreamExpected())
}

func TestStreamExpected_FollowsEmergencyHold(t *testing.T) {
	cfg := testConfig(t)
	cfg.Emergency.AutoRecovery = false
	comp, f := build(t, cfg)
	ctx := context.Background()

	assert.True(t, comp.streamExpected(ctx))

	f.services.Set(streamSvc, health.ServiceFailed)
	f.services.Set(displaySvc, health.ServiceFailed)
	st, err := comp.Emergency.Activate(ctx, "test")
	require.NoError(t, err)
	require.Equal(t, emergency.LevelHigh, st.Level)
	assert.False(t, comp.streamExpected(ctx))
}

func TestApp_RunResumesRecoveryAndStops(t *testing.T) {
	cfg := testConfig(t)
	comp, f := build(t, cfg)
	ctx := context.Background()

	require.NoError(t, store.PutJSON(ctx, f.store, emergency.KeyState, emergency.State{
		Active:              true,
		Level:               emergency.LevelHigh,
		Phase:               emergency.PhaseRecovering,
		Reason:              "before restart",
		ActivatedAt:         time.Now().Add(-time.Hour),
		AutoRecoveryEnabled: true,
	}))

	app, err := NewApp(comp, nil)
	require.NoError(t, err)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- app.Run(runCtx) }()

	require.Eventually(t, func() bool {
		st, err := comp.Emergency.Current(ctx)
		return err == nil && !st.Active
	}, 5*time.Second, 10*time.Millisecond, "resumed loop should recover")
	assert.Contains(t, f.stream.Switches(), "live")

	require.Eventually(t, func() bool {
		_, ok := comp.Scheduler.Last()
		return ok
	}, 5*time.Second, 10*time.Millisecond)

	assert.ErrorIs(t, app.Run(runCtx), ErrAlreadyRunning)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("app did not stop")
	}
	assert.False(t, comp.Emergency.LoopRunning())
}

func TestNewApp_RequiresComponents(t *testing.T) {
	_, err := NewApp(nil, nil)
	assert.ErrorIs(t, err, ErrMissingComponents)
}

func TestRunOnce_ThreeCriticalCyclesActivateOnce(t *testing.T) {
	cfg := testConfig(t)
	cfg.Emergency.AutoRecovery = false
	cfg.Watchdog.MaxConsecutiveFailures = 3
	comp, f := build(t, cfg)
	ctx := context.Background()

	f.services.Set(streamSvc, health.ServiceFailed)

	for i := 1; i <= 2; i++ {
		ev := comp.Scheduler.RunOnce(ctx)
		require.Equal(t, health.Critical, ev.Status, "cycle %d", i)
		st, err := comp.Emergency.Current(ctx)
		require.NoError(t, err)
		assert.False(t, st.Active, "cycle %d", i)
	}

	comp.Scheduler.RunOnce(ctx)
	st, err := comp.Emergency.Current(ctx)
	require.NoError(t, err)
	assert.True(t, st.Active)
	assert.Equal(t, emergency.LevelMedium, st.Level)
	assert.Equal(t, emergency.PhaseMedium, st.Phase)
	assert.Equal(t, []string{"fallback"}, f.stream.Switches())

	for i := 0; i < 2; i++ {
		comp.Scheduler.RunOnce(ctx)
	}
	assessing := 0
	for _, tr := range comp.Emergency.History() {
		if tr.To == emergency.PhaseAssessing {
			assessing++
		}
	}
	assert.Equal(t, 1, assessing)
	assert.Len(t, f.stream.Switches(), 1)
}

func TestNewApp_ReadinessVerifiesSQLiteStore(t *testing.T) {
	cfg := testConfig(t)
	cfg.API.Enabled = true
	cfg.API.ListenAddr = "127.0.0.1:0"
	cfg.Store.Backend = store.BackendSQLite
	cfg.Store.Path = filepath.Join(t.TempDir(), "state.sqlite")

	comp, err := Build(cfg, Overrides{
		Services: fake.NewServiceManager(nil),
		Stream:   &fake.StreamController{},
		Notifier: &fake.Notifier{},
	})
	require.NoError(t, err)
	defer func() { assert.NoError(t, comp.Close()) }()

	app, err := NewApp(comp, nil)
	require.NoError(t, err)
	require.NotNil(t, app.health)

	resp := app.health.Readiness(context.Background())
	check, ok := resp.Checks["state_store_integrity"]
	require.True(t, ok)
	assert.Equal(t, health.CheckHealthy, check.Status)
	assert.Contains(t, resp.Checks, "state_store")
}
