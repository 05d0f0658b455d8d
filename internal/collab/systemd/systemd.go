// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package systemd implements collab.ServiceManager on top of systemctl.
package systemd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ManuGH/streamguard/internal/collab"
	"github.com/ManuGH/streamguard/internal/health"
	xglog "github.com/ManuGH/streamguard/internal/log"
	"github.com/ManuGH/streamguard/internal/procgroup"
	"github.com/rs/zerolog"
)

// Runner executes a command and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs the command in its own process group.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return procgroup.Output(ctx, 0, append([]string{name}, args...)...)
}

// Config selects the systemctl binary and scope.
type Config struct {
	Binary  string        // default "systemctl"
	User    bool          // pass --user
	Timeout time.Duration // per call; default 30s
}

// Manager drives systemd units.
type Manager struct {
	cfg    Config
	run    Runner
	logger zerolog.Logger
}

// New creates a Manager. A nil runner uses ExecRunner.
func New(cfg Config, run Runner) *Manager {
	if cfg.Binary == "" {
		cfg.Binary = "systemctl"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if run == nil {
		run = ExecRunner
	}
	return &Manager{cfg: cfg, run: run, logger: xglog.WithComponent("systemd")}
}

func (m *Manager) args(verb, unit string) []string {
	args := make([]string, 0, 4)
	if m.cfg.User {
		args = append(args, "--user")
	}
	return append(args, verb, unit)
}

// Status maps `systemctl is-active` output to a service state. is-active
// exits non-zero for every state except active, so the output text decides.
func (m *Manager) Status(ctx context.Context, name string) (health.ServiceState, error) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	out, err := m.run(ctx, m.cfg.Binary, m.args("is-active", name)...)
	state := parseActiveState(out)
	if state == health.ServiceUnknown {
		if err == nil {
			err = fmt.Errorf("unexpected output %q", strings.TrimSpace(string(out)))
		}
		return health.ServiceUnknown, collab.CallError("systemd", "status "+name, err)
	}
	return state, nil
}

func parseActiveState(out []byte) health.ServiceState {
	line := strings.TrimSpace(string(out))
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}
	switch line {
	case "active", "reloading", "refreshing":
		return health.ServiceActive
	case "inactive", "deactivating":
		return health.ServiceInactive
	case "failed":
		return health.ServiceFailed
	default:
		// "activating" is still unknown: the unit may never come up.
		return health.ServiceUnknown
	}
}

func (m *Manager) Start(ctx context.Context, name string) error {
	return m.control(ctx, "start", name)
}

func (m *Manager) Stop(ctx context.Context, name string) error {
	return m.control(ctx, "stop", name)
}

func (m *Manager) Restart(ctx context.Context, name string) error {
	return m.control(ctx, "restart", name)
}

func (m *Manager) control(ctx context.Context, verb, name string) error {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	logger := xglog.WithContext(ctx, m.logger)
	start := time.Now()
	out, err := m.run(ctx, m.cfg.Binary, m.args(verb, name)...)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("timed out after %s: %w", m.cfg.Timeout, err)
		}
		logger.Warn().Err(err).
			Str(xglog.FieldEvent, "systemd.call_failed").
			Str(xglog.FieldUnit, name).
			Str("verb", verb).
			Str("output", strings.TrimSpace(string(out))).
			Msg("systemctl call failed")
		return collab.CallError("systemd", verb+" "+name, err)
	}
	logger.Info().
		Str(xglog.FieldEvent, "systemd.call_ok").
		Str(xglog.FieldUnit, name).
		Str("verb", verb).
		Dur("duration", time.Since(start)).
		Msg("systemctl call succeeded")
	return nil
}
