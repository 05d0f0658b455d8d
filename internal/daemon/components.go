// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package daemon wires the watchdog components together and owns the
// long-lived runtime lifecycle.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"sync/atomic"

	"github.com/ManuGH/streamguard/internal/cleanup"
	"github.com/ManuGH/streamguard/internal/collab"
	"github.com/ManuGH/streamguard/internal/collab/notify"
	"github.com/ManuGH/streamguard/internal/collab/obs"
	"github.com/ManuGH/streamguard/internal/collab/pipeline"
	"github.com/ManuGH/streamguard/internal/collab/systemd"
	"github.com/ManuGH/streamguard/internal/config"
	"github.com/ManuGH/streamguard/internal/emergency"
	"github.com/ManuGH/streamguard/internal/escalation"
	"github.com/ManuGH/streamguard/internal/health"
	xglog "github.com/ManuGH/streamguard/internal/log"
	"github.com/ManuGH/streamguard/internal/probe"
	"github.com/ManuGH/streamguard/internal/recovery"
	"github.com/ManuGH/streamguard/internal/store"
	"github.com/ManuGH/streamguard/internal/watchdog"
)

// Overrides replaces production collaborators. Nil fields use the
// production implementation built from config.
type Overrides struct {
	Store    store.Store
	Services collab.ServiceManager
	Stream   collab.StreamController
	Pipeline collab.ContentPipeline
	Notifier collab.Notifier
	Command  recovery.CommandRunner
}

// Components is the wired object graph shared by the daemon and the one-shot
// CLI commands.
type Components struct {
	Config config.Config

	Store    store.Store
	Services collab.ServiceManager
	Stream   collab.StreamController
	Notifier collab.Notifier

	Resources    *probe.ResourceProbe
	Connectivity *probe.ConnectivityProbe
	Sampler      *probe.Sampler
	Evaluator    *health.Evaluator
	Tracker      *escalation.Tracker
	Emergency    *emergency.Controller
	RetryLoop    *recovery.RetryLoop
	Boot         *recovery.Orchestrator
	Scheduler    *watchdog.Scheduler

	expectStream atomic.Bool
	closers      []func() error
}

// Build constructs every component from cfg. The caller must Close the
// result.
func Build(cfg config.Config, ov Overrides) (*Components, error) {
	c := &Components{Config: cfg}
	c.expectStream.Store(cfg.Services.StreamExpected)

	if ov.Store != nil {
		c.Store = ov.Store
	} else {
		if cfg.Store.Backend != store.BackendRedis && cfg.Store.Backend != store.BackendMemory {
			if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
				return nil, fmt.Errorf("create data dir: %w", err)
			}
		}
		st, err := store.Open(cfg.Store.Backend, cfg.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("open %s store: %w", cfg.Store.Backend, err)
		}
		c.Store = st
		c.closers = append(c.closers, st.Close)
	}

	c.Services = ov.Services
	if c.Services == nil {
		c.Services = systemd.New(systemd.Config{
			Binary:  cfg.Services.Systemctl,
			User:    cfg.Services.UserUnits,
			Timeout: cfg.Services.Timeout,
		}, systemd.ExecRunner)
	}

	c.Stream = ov.Stream
	if c.Stream == nil {
		ctrl := obs.New(obs.Config{
			URL:           cfg.OBS.URL,
			Password:      cfg.OBS.Password,
			LiveScene:     cfg.OBS.LiveScene,
			FallbackScene: cfg.OBS.FallbackScene,
			Timeout:       cfg.OBS.Timeout,
		})
		c.Stream = ctrl
		c.closers = append(c.closers, ctrl.Close)
	}

	c.Notifier = ov.Notifier
	if c.Notifier == nil {
		c.Notifier = buildNotifier(cfg.Notify)
	}

	var contentPipeline collab.ContentPipeline
	switch {
	case ov.Pipeline != nil:
		contentPipeline = ov.Pipeline
	case cfg.Probes.PipelineURL != "":
		contentPipeline = pipeline.NewClient(cfg.Probes.PipelineURL, cfg.Probes.Timeout)
	}

	c.Tracker = escalation.NewTracker(c.Store, cfg.Watchdog.MaxConsecutiveFailures)

	c.RetryLoop = recovery.NewRetryLoop(recovery.LoopConfig{
		Services:    cfg.Services.Required,
		MaxAttempts: cfg.Recovery.MaxAttempts,
		Interval:    cfg.Recovery.Interval,
		Grace:       cfg.Recovery.Grace,
	}, c.Services)

	c.Emergency = emergency.New(emergency.Config{
		StreamService:  cfg.Services.Stream,
		DisplayService: cfg.Services.Display,
		AutoRecovery:   cfg.Emergency.AutoRecovery,
		LowGrace:       cfg.Emergency.LowGrace,
	}, emergency.Deps{
		Store:    c.Store,
		Services: c.Services,
		Stream:   c.Stream,
		Tracker:  c.Tracker,
		Notifier: c.Notifier,
		Loop:     c.RetryLoop,
	})
	c.closers = append(c.closers, func() error { c.Emergency.Close(); return nil })

	c.Resources = probe.NewResourceProbe(cfg.Probes.MountPath, cfg.Probes.Timeout)
	c.Connectivity = probe.NewConnectivityProbe(cfg.Probes.NetworkTargets, cfg.Probes.DependencyAPI, cfg.Probes.Timeout)
	services := probe.NewServiceProbe(c.Services, contentPipeline, cfg.Probes.Timeout)
	c.Sampler = probe.NewSampler(c.Resources, c.Connectivity, services, c.serviceNames, c.streamExpected)

	var opts []health.Option
	if cfg.Cleanup.Enabled {
		cc := cfg.CleanupTargets()
		opts = append(opts, health.WithCleaner(cleanup.New(cc), c.Resources, cc.Deadline))
	}
	c.Evaluator = health.NewEvaluator(cfg.HealthThresholds(), opts...)

	c.Scheduler = watchdog.New(watchdog.Config{
		Interval:     cfg.Watchdog.Interval,
		CycleTimeout: cfg.Watchdog.CycleTimeout,
	}, watchdog.Deps{
		Sampler:   c.Sampler,
		Evaluator: c.Evaluator,
		Tracker:   c.Tracker,
		Emergency: c.Emergency,
	})

	c.Boot = recovery.NewOrchestrator(recovery.BootConfig{
		Services:        cfg.Services.Required,
		StreamService:   cfg.Services.Stream,
		NetworkTimeout:  cfg.Recovery.Boot.NetworkTimeout,
		NetworkPoll:     cfg.Recovery.Boot.NetworkPoll,
		Directories:     cfg.Recovery.Boot.Directories,
		PrereqCommand:   cfg.Recovery.Boot.PrereqCommand,
		PrereqTimeout:   cfg.Recovery.Boot.PrereqTimeout,
		RecheckAttempts: cfg.Recovery.Boot.RecheckAttempts,
		Grace:           cfg.Recovery.Grace,
	}, recovery.BootDeps{
		Store:     c.Store,
		Services:  c.Services,
		Stream:    c.Stream,
		Network:   c.Connectivity,
		Emergency: c.Emergency,
		Notifier:  c.Notifier,
		Run:       ov.Command,
	})

	return c, nil
}

func buildNotifier(cfg config.NotifyConfig) collab.Notifier {
	logNotifier := notify.NewLog()
	if cfg.WebhookURL == "" {
		return logNotifier
	}
	return notify.Multi{logNotifier, notify.NewWebhook(notify.WebhookConfig{
		URL:         cfg.WebhookURL,
		Timeout:     cfg.Timeout,
		MinSeverity: collab.Severity(cfg.MinSeverity),
	})}
}

// serviceNames is the probe's name source; it follows evaluator thresholds
// so a reload of the service list takes effect on the next cycle.
func (c *Components) serviceNames() []string {
	t := c.Evaluator.Thresholds()
	names := append([]string(nil), t.RequiredServices...)
	for _, n := range t.ExpectedStopped {
		if !slices.Contains(names, n) {
			names = append(names, n)
		}
	}
	return names
}

func (c *Components) streamExpected(ctx context.Context) bool {
	return c.expectStream.Load() && c.Emergency.StreamExpected(ctx)
}

// ApplyThresholds pushes reloaded thresholds and stream intent to the
// evaluation path.
func (c *Components) ApplyThresholds(cfg config.Config) {
	c.Evaluator.SetThresholds(cfg.HealthThresholds())
	c.expectStream.Store(cfg.Services.StreamExpected)
	logger := xglog.WithComponent("daemon")
	logger.Info().
		Str(xglog.FieldEvent, "daemon.thresholds_applied").
		Float64(xglog.FieldDiskPct, cfg.Thresholds.DiskCriticalPct).
		Strs("required", cfg.Services.Required).
		Msg("applied reloaded thresholds")
}

// Close releases resources in reverse construction order.
func (c *Components) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
