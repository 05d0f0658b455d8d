// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package recovery

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ManuGH/streamguard/internal/collab"
	"github.com/ManuGH/streamguard/internal/emergency"
	"github.com/ManuGH/streamguard/internal/health"
	xglog "github.com/ManuGH/streamguard/internal/log"
	"github.com/ManuGH/streamguard/internal/metrics"
	"github.com/ManuGH/streamguard/internal/procgroup"
	"github.com/ManuGH/streamguard/internal/store"
	"github.com/ManuGH/streamguard/internal/telemetry"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultNetworkTimeout  = 2 * time.Minute
	DefaultNetworkPoll     = 5 * time.Second
	DefaultRecheckAttempts = 6
	DefaultPrereqTimeout   = 5 * time.Minute
)

// BootConfig controls boot recovery.
type BootConfig struct {
	// Services in dependency order; the primary stream service is last.
	Services      []string
	StreamService string

	NetworkTimeout  time.Duration
	NetworkPoll     time.Duration
	Directories     []string
	PrereqCommand   []string
	PrereqTimeout   time.Duration
	RecheckAttempts int
	Grace           time.Duration
}

func (c BootConfig) withDefaults() BootConfig {
	if c.NetworkTimeout <= 0 {
		c.NetworkTimeout = DefaultNetworkTimeout
	}
	if c.NetworkPoll <= 0 {
		c.NetworkPoll = DefaultNetworkPoll
	}
	if c.PrereqTimeout <= 0 {
		c.PrereqTimeout = DefaultPrereqTimeout
	}
	if c.RecheckAttempts <= 0 {
		c.RecheckAttempts = DefaultRecheckAttempts
	}
	if c.Grace < 0 {
		c.Grace = 0
	}
	if c.StreamService == "" && len(c.Services) > 0 {
		c.StreamService = c.Services[len(c.Services)-1]
	}
	return c
}

// NetworkChecker reports whether the network is usable.
type NetworkChecker interface {
	NetworkReachable(ctx context.Context) bool
}

// EmergencyControl is the part of the emergency controller boot recovery uses.
type EmergencyControl interface {
	Activate(ctx context.Context, reason string) (emergency.State, error)
	Clear(ctx context.Context, by string) (emergency.State, error)
}

// CommandRunner runs a prerequisite command.
type CommandRunner func(ctx context.Context, argv []string) error

// ExecCommand runs argv in its own process group and includes its output in
// the error.
func ExecCommand(ctx context.Context, argv []string) error {
	out, err := procgroup.Output(ctx, 0, argv...)
	if err != nil {
		return fmt.Errorf("%s: %w: %s", strings.Join(argv, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}

// BootDeps are the collaborators of an Orchestrator.
type BootDeps struct {
	Store     store.Store
	Services  collab.ServiceManager
	Stream    collab.StreamController
	Network   NetworkChecker
	Emergency EmergencyControl
	Notifier  collab.Notifier
	Run       CommandRunner
}

// BootOutcome describes what Boot did.
type BootOutcome string

const (
	BootRecovered     BootOutcome = "recovered"
	BootLeftStopped   BootOutcome = "left_stopped"
	BootFailed        BootOutcome = "failed"
	BootNetworkFailed BootOutcome = "network_unreachable"
)

// BootResult is returned by Boot.
type BootResult struct {
	Outcome  BootOutcome   `json:"outcome"`
	Planned  bool          `json:"planned"`
	Marker   *RebootMarker `json:"marker,omitempty"`
	Down     []string      `json:"down,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Orchestrator runs boot recovery and writes the reboot marker. It is the only
// writer of the marker key.
type Orchestrator struct {
	cfg    BootConfig
	deps   BootDeps
	logger zerolog.Logger
	tracer trace.Tracer
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewOrchestrator creates a boot orchestrator.
func NewOrchestrator(cfg BootConfig, deps BootDeps) *Orchestrator {
	if deps.Run == nil {
		deps.Run = ExecCommand
	}
	return &Orchestrator{
		cfg:    cfg.withDefaults(),
		deps:   deps,
		logger: xglog.WithComponent("recovery"),
		tracer: telemetry.Tracer(telemetry.TracerName),
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

// PrepareReboot records whether the stream is running so the next boot can
// restore the same situation.
func (o *Orchestrator) PrepareReboot(ctx context.Context, initiatedBy, reason string) (RebootMarker, error) {
	streaming := false
	if o.cfg.StreamService != "" {
		st, err := o.deps.Services.Status(ctx, o.cfg.StreamService)
		if err != nil {
			return RebootMarker{}, err
		}
		streaming = st == health.ServiceActive
	}
	m := RebootMarker{
		WasStreaming: streaming,
		InitiatedBy:  initiatedBy,
		Reason:       reason,
		At:           o.now().UTC(),
	}
	if err := store.PutJSON(ctx, o.deps.Store, KeyRebootMarker, m); err != nil {
		return RebootMarker{}, err
	}
	logger := xglog.WithContext(ctx, o.logger)
	logger.Info().
		Str(xglog.FieldEvent, "recovery.reboot_prepared").
		Bool("was_streaming", m.WasStreaming).
		Str("initiated_by", initiatedBy).
		Str("reason", reason).
		Msg("reboot marker written")
	return m, nil
}

// Boot restores the stream after a reboot. A missing marker means the reboot
// was unplanned and the stream is assumed to have been running.
func (o *Orchestrator) Boot(ctx context.Context) (BootResult, error) {
	ctx, span := o.tracer.Start(ctx, "recovery.boot")
	defer span.End()

	start := o.now()
	logger := xglog.WithContext(ctx, o.logger)
	res := BootResult{}

	shouldStream := true
	marker, found, err := ReadMarker(ctx, o.deps.Store)
	switch {
	case err != nil:
		logger.Warn().Err(err).
			Str(xglog.FieldEvent, "recovery.marker_unreadable").
			Msg("reboot marker unreadable, assuming stream was running")
	case found:
		res.Planned = true
		res.Marker = &marker
		shouldStream = marker.WasStreaming
	}
	logger.Info().
		Str(xglog.FieldEvent, "recovery.boot_started").
		Bool("planned", res.Planned).
		Bool("should_stream", shouldStream).
		Msg("boot recovery started")

	done := func(outcome BootOutcome, err error) (BootResult, error) {
		res.Outcome = outcome
		res.Duration = o.now().Sub(start)
		metrics.RecordRecoveryAttempt("boot", outcome == BootRecovered || outcome == BootLeftStopped)
		span.SetAttributes(telemetry.RecoveryAttributes("boot", 1, string(outcome))...)
		telemetry.RecordError(span, err, "recovery")
		return res, err
	}

	if err := o.waitNetwork(ctx); err != nil {
		logger.Error().Err(err).
			Str(xglog.FieldEvent, "recovery.network_timeout").
			Dur("timeout", o.cfg.NetworkTimeout).
			Msg("network did not come up")
		collab.Notify(ctx, o.deps.Notifier, collab.Notification{
			Event:    "recovery.network_timeout",
			Message:  fmt.Sprintf("network unreachable %s after boot", o.cfg.NetworkTimeout),
			Severity: collab.SeverityCritical,
		})
		if errors.Is(err, ErrNetworkTimeout) {
			o.activate(ctx, "network unreachable after boot")
		}
		return done(BootNetworkFailed, err)
	}

	if err := o.prerequisites(ctx); err != nil {
		logger.Error().Err(err).Str(xglog.FieldEvent, "recovery.prerequisites_failed").Msg("boot prerequisites failed")
		return done(BootFailed, o.fail(ctx, err.Error()))
	}

	if !shouldStream {
		if err := o.deps.Store.Delete(ctx, KeyRebootMarker); err != nil {
			logger.Warn().Err(err).Str(xglog.FieldEvent, "recovery.marker_delete_failed").Msg("could not delete reboot marker")
		}
		logger.Info().Str(xglog.FieldEvent, "recovery.left_stopped").Msg("stream was not running before reboot, leaving services stopped")
		return done(BootLeftStopped, nil)
	}

	for _, name := range o.cfg.Services {
		if err := o.deps.Services.Start(ctx, name); err != nil {
			logger.Warn().Err(err).Str(xglog.FieldEvent, "recovery.start_failed").Str("service", name).Msg("service start failed")
		}
	}

	down, err := o.recheck(ctx)
	if err != nil {
		return done(BootFailed, err)
	}
	if len(down) > 0 {
		res.Down = down
		return done(BootFailed, o.fail(ctx, "services down: "+strings.Join(down, ", ")))
	}

	if err := o.deps.Store.Delete(ctx, KeyRebootMarker); err != nil {
		logger.Warn().Err(err).Str(xglog.FieldEvent, "recovery.marker_delete_failed").Msg("could not delete reboot marker")
	}
	if o.deps.Emergency != nil {
		if _, err := o.deps.Emergency.Clear(ctx, "boot-recovery"); err != nil {
			logger.Warn().Err(err).Str(xglog.FieldEvent, "recovery.clear_failed").Msg("could not clear stale emergency state")
		}
	}
	if on, err := o.deps.Stream.IsOnFallback(ctx); err != nil || on {
		if err := o.deps.Stream.SwitchToLive(ctx); err != nil {
			logger.Warn().Err(err).Str(xglog.FieldEvent, "recovery.switch_live_failed").Msg("switch to live failed")
		}
	}
	logger.Info().Str(xglog.FieldEvent, "recovery.boot_succeeded").Msg("boot recovery complete")
	collab.Notify(ctx, o.deps.Notifier, collab.Notification{
		Event:    "recovery.boot_succeeded",
		Message:  "stream restored after boot",
		Severity: collab.SeverityInfo,
	})
	return done(BootRecovered, nil)
}

// waitNetwork polls until the network is reachable or the timeout passes.
func (o *Orchestrator) waitNetwork(ctx context.Context) error {
	if o.deps.Network == nil {
		return nil
	}
	wctx, cancel := context.WithTimeout(ctx, o.cfg.NetworkTimeout)
	defer cancel()
	for {
		if o.deps.Network.NetworkReachable(wctx) {
			return nil
		}
		if err := o.sleep(wctx, o.cfg.NetworkPoll); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return ErrNetworkTimeout
		}
	}
}

func (o *Orchestrator) prerequisites(ctx context.Context) error {
	for _, dir := range o.cfg.Directories {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("ensure directory %s: %w", dir, err)
		}
	}
	if len(o.cfg.PrereqCommand) == 0 {
		return nil
	}
	cctx, cancel := context.WithTimeout(ctx, o.cfg.PrereqTimeout)
	defer cancel()
	if err := o.deps.Run(cctx, o.cfg.PrereqCommand); err != nil {
		return fmt.Errorf("prerequisite command: %w", err)
	}
	return nil
}

// recheck waits for all services to become active, up to RecheckAttempts
// checks spaced by Grace. It returns the services still down.
func (o *Orchestrator) recheck(ctx context.Context) ([]string, error) {
	var down []string
	for i := 1; i <= o.cfg.RecheckAttempts; i++ {
		if err := o.sleep(ctx, o.cfg.Grace); err != nil {
			return nil, err
		}
		down = inactive(ctx, o.deps.Services, o.cfg.Services)
		if len(down) == 0 {
			return nil, nil
		}
		logger := xglog.WithContext(ctx, o.logger)
		logger.Debug().
			Str(xglog.FieldEvent, "recovery.recheck").
			Int("check", i).
			Strs("down", down).
			Msg("services not yet active")
	}
	return down, nil
}

// fail activates the emergency and returns ErrRecoveryFailed.
func (o *Orchestrator) fail(ctx context.Context, detail string) error {
	logger := xglog.WithContext(ctx, o.logger)
	logger.Error().Str(xglog.FieldEvent, "recovery.boot_failed").Str("detail", detail).Msg("boot recovery failed")
	o.activate(ctx, "boot recovery failed")
	collab.Notify(ctx, o.deps.Notifier, collab.Notification{
		Event:    "recovery.boot_failed",
		Message:  "boot recovery failed: " + detail,
		Severity: collab.SeverityCritical,
	})
	return fmt.Errorf("%w: %s", ErrRecoveryFailed, detail)
}

// activate leaves the system in emergency mode after a failed boot.
func (o *Orchestrator) activate(ctx context.Context, reason string) {
	if o.deps.Emergency == nil {
		return
	}
	if _, err := o.deps.Emergency.Activate(ctx, reason); err != nil {
		logger := xglog.WithContext(ctx, o.logger)
		logger.Error().Err(err).Str(xglog.FieldEvent, "recovery.activate_failed").Msg("could not activate emergency")
	}
}
