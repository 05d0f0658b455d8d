// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/ManuGH/streamguard/internal/api"
	"github.com/ManuGH/streamguard/internal/collab/fake"
	"github.com/ManuGH/streamguard/internal/daemon"
	"github.com/ManuGH/streamguard/internal/emergency"
	"github.com/ManuGH/streamguard/internal/health"
	"github.com/ManuGH/streamguard/internal/recovery"
	"github.com/ManuGH/streamguard/internal/store"
	"github.com/ManuGH/streamguard/internal/version"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	streamSvc  = "stream.service"
	displaySvc = "display.service"
)

func TestMain(m *testing.M) {
	for _, e := range os.Environ() {
		if strings.HasPrefix(e, "STREAMGUARD_") {
			k, _, _ := strings.Cut(e, "=")
			_ = os.Unsetenv(k)
		}
	}
	os.Exit(m.Run())
}

// isolate points every probe and path at test-local resources.
func isolate(t *testing.T) {
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

	dir := t.TempDir()
	for k, v := range map[string]string{
		"DATA_DIR":            dir,
		"STORE_BACKEND":       "memory",
		"NETWORK_TARGETS":     ln.Addr().String(),
		"MOUNT_PATH":          dir,
		"CLEANUP_ENABLED":     "false",
		"MEMORY_WARNING_PCT":  "100",
		"MEMORY_CRITICAL_PCT": "100",
		"AUTO_RECOVERY":       "false",
		"RECOVERY_GRACE":      "0s",
		"LOG_LEVEL":           "error",
	} {
		t.Setenv("STREAMGUARD_"+k, v)
	}
}

func run(t *testing.T, opts *rootOptions, args ...string) (int, string, string) {
	t.Helper()
	if opts == nil {
		opts = &rootOptions{}
	}
	var stdout, stderr bytes.Buffer
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	code := execute(ctx, opts, args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func fakeOverrides(states map[string]health.ServiceState) (daemon.Overrides, *fake.ServiceManager) {
	services := fake.NewServiceManager(states)
	return daemon.Overrides{
		Store:    store.NewMemory(),
		Services: services,
		Stream:   &fake.StreamController{},
		Notifier: &fake.Notifier{},
	}, services
}

func TestVersion(t *testing.T) {
	code, out, _ := run(t, nil, "version")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "streamguard "+version.Version)
}

func TestUnknownCommand(t *testing.T) {
	code, _, errOut := run(t, nil, "frobnicate")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "unknown command")
}

func TestCheck_ExitCodes(t *testing.T) {
	isolate(t)
	relaxed := []string{"check", "--disk-warning=100", "--disk-critical=100"}

	ov, _ := fakeOverrides(map[string]health.ServiceState{
		streamSvc:  health.ServiceActive,
		displaySvc: health.ServiceActive,
	})
	code, out, _ := run(t, &rootOptions{overrides: ov}, relaxed...)
	assert.Equal(t, 0, code, out)
	assert.Contains(t, out, "status: healthy")

	ov, _ = fakeOverrides(map[string]health.ServiceState{
		streamSvc:  health.ServiceFailed,
		displaySvc: health.ServiceActive,
	})
	code, out, _ = run(t, &rootOptions{overrides: ov}, append(relaxed, "--json")...)
	assert.Equal(t, 2, code)
	var ev health.Evaluation
	require.NoError(t, json.Unmarshal([]byte(out), &ev))
	assert.Equal(t, health.Critical, ev.Status)
	assert.NotEmpty(t, ev.Reasons)
}

func TestCheck_InvalidFlagOverride(t *testing.T) {
	isolate(t)
	code, _, errOut := run(t, nil, "check", "--disk-warning=99", "--disk-critical=90")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "invalid configuration")
}

func TestPrepareRebootThenRecover(t *testing.T) {
	isolate(t)
	ov, services := fakeOverrides(map[string]health.ServiceState{
		streamSvc:  health.ServiceActive,
		displaySvc: health.ServiceActive,
	})
	opts := &rootOptions{overrides: ov}

	code, out, errOut := run(t, opts, "prepare-reboot", "--by", "ops", "--reason", "kernel update")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "was_streaming=true")

	// the reboot stops everything
	services.Set(streamSvc, health.ServiceInactive)
	services.Set(displaySvc, health.ServiceInactive)

	code, out, errOut = run(t, opts, "recover")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "outcome: "+string(recovery.BootRecovered))
	assert.Contains(t, out, "marker: was_streaming=true by=ops")
	assert.Equal(t, []string{displaySvc, streamSvc}, services.CallsOf("start"))

	_, found, err := recovery.ReadMarker(context.Background(), ov.Store)
	require.NoError(t, err)
	assert.False(t, found, "marker is consumed")
}

func TestRecover_FailureExitsOne(t *testing.T) {
	isolate(t)
	ov, services := fakeOverrides(nil)
	services.FailStart(streamSvc, true)

	code, out, errOut := run(t, &rootOptions{overrides: ov}, "recover")
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "outcome: "+string(recovery.BootFailed))
	assert.Contains(t, errOut, "Error:")

	st, err := store.GetJSON[emergency.State](context.Background(), ov.Store, emergency.KeyState)
	require.NoError(t, err)
	assert.True(t, st.Active)
	assert.Equal(t, "boot recovery failed", st.Reason)
}

func TestEmergencyActivate_GoesThroughAPI(t *testing.T) {
	isolate(t)
	t.Setenv("STREAMGUARD_API_TOKEN", "tok")

	var gotReason, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/emergency/activate", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		var req api.ActivateRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		gotReason = req.Reason
		_ = json.NewEncoder(w).Encode(emergency.State{
			Active: true, Level: emergency.LevelHigh, Phase: emergency.PhaseHigh, Reason: "manual: " + req.Reason,
		})
	}))
	defer srv.Close()

	code, out, errOut := run(t, nil, "emergency", "activate", "--api", srv.URL, "--reason", "drill")
	require.Equal(t, 0, code, errOut)
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, "drill", gotReason)
	assert.Contains(t, out, "level: high")
	assert.Contains(t, out, "reason: manual: drill")
}

func TestEmergencyClear_ReportsAPIError(t *testing.T) {
	isolate(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
	}))
	defer srv.Close()

	code, _, errOut := run(t, nil, "emergency", "clear", "--api", srv.URL)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "unauthorized (HTTP 401)")
}

func TestStatus_RendersTables(t *testing.T) {
	isolate(t)
	now := time.Now()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/status", r.URL.Path)
		_ = json.NewEncoder(w).Encode(api.StatusResponse{
			Version:     "v1",
			Evaluation:  &health.Evaluation{Status: health.Critical, Reasons: []string{"disk usage 97.0% above 95.0%"}, At: now},
			Failures:    2,
			MaxFailures: 3,
			Emergency: emergency.State{
				Active: true, Level: emergency.LevelMedium, Phase: emergency.PhaseRecovering,
				Reason: "consecutive critical evaluations", RecoveryAttemptCount: 4,
			},
			LoopRunning: true,
			History: []emergency.Transition{
				{From: emergency.PhaseNormal, To: emergency.PhaseAssessing, At: now},
				{From: emergency.PhaseMedium, To: emergency.PhaseRecovering, Level: emergency.LevelMedium, At: now},
			},
		})
	}))
	defer srv.Close()

	code, out, errOut := run(t, nil, "status", "--api", srv.URL)
	require.Equal(t, 0, code, errOut)
	for _, want := range []string{"critical", "disk usage 97.0%", "2/3", "recovering", "assessing"} {
		assert.Contains(t, out, want)
	}
}

func TestHealthcheck(t *testing.T) {
	isolate(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/readyz" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	code, _, _ := run(t, nil, "healthcheck", "--api", srv.URL)
	assert.Equal(t, 1, code)

	code, out, _ := run(t, nil, "healthcheck", "--api", srv.URL, "--mode", "live")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "healthcheck successful (live)")

	code, _, _ = run(t, nil, "healthcheck", "--mode", "sideways")
	assert.Equal(t, 1, code)
}
