// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"fmt"
	"slices"
	"time"

	"github.com/ManuGH/streamguard/internal/store"
	"github.com/ManuGH/streamguard/internal/validate"
)

var (
	logFormats  = []string{"json", "console"}
	backends    = []string{store.BackendSQLite, store.BackendBadger, store.BackendRedis, store.BackendFile, store.BackendMemory}
	severities  = []string{"info", "warning", "critical"}
	otlpExports = []string{"grpc", "http"}
)

// Validate checks cfg and returns every problem found, wrapped in
// ErrInvalidConfig.
func Validate(cfg Config) error {
	v := validate.New()

	if _, err := validate.ParseLogLevel(cfg.LogLevel); err != nil {
		v.AddError("logLevel", err.Error(), cfg.LogLevel)
	}
	v.OneOf("logFormat", cfg.LogFormat, logFormats)
	v.Directory("dataDir", cfg.DataDir, false)

	v.MinDuration("watchdog.interval", cfg.Watchdog.Interval, time.Second)
	v.MinDuration("watchdog.cycleTimeout", cfg.Watchdog.CycleTimeout, time.Second)
	v.Range("watchdog.maxConsecutiveFailures", cfg.Watchdog.MaxConsecutiveFailures, 1, 100)

	if len(cfg.Services.Required) == 0 {
		v.AddError("services.required", "at least one required service", cfg.Services.Required)
	}
	v.NotEmpty("services.stream", cfg.Services.Stream)
	v.NotEmpty("services.display", cfg.Services.Display)
	for _, name := range []string{cfg.Services.Stream, cfg.Services.Display} {
		if name != "" && !slices.Contains(cfg.Services.Required, name) {
			v.AddError("services.required", fmt.Sprintf("must include %q", name), cfg.Services.Required)
		}
	}
	before := len(v.Errors())
	v.Percent("thresholds.diskWarningPct", cfg.Thresholds.DiskWarningPct)
	v.Percent("thresholds.diskCriticalPct", cfg.Thresholds.DiskCriticalPct)
	v.Percent("thresholds.memoryWarningPct", cfg.Thresholds.MemoryWarningPct)
	v.Percent("thresholds.memoryCriticalPct", cfg.Thresholds.MemoryCriticalPct)
	if len(v.Errors()) == before {
		th := cfg.HealthThresholds()
		v.Custom("thresholds", th, func(any) error { return th.Validate() })
	}

	v.MinDuration("probes.timeout", cfg.Probes.Timeout, 100*time.Millisecond)
	if cfg.Probes.DependencyAPI != "" {
		v.URL("probes.dependencyApi", cfg.Probes.DependencyAPI, []string{"http", "https"})
	}
	if cfg.Probes.PipelineURL != "" {
		v.URL("probes.pipelineUrl", cfg.Probes.PipelineURL, []string{"http", "https"})
	}
	for _, target := range cfg.Probes.NetworkTargets {
		v.HostPort("probes.networkTargets", target)
	}

	if cfg.Cleanup.Enabled {
		cc := cfg.CleanupTargets()
		v.Custom("cleanup", cc.Targets, func(any) error { return cc.Validate() })
	}

	v.Range("recovery.maxAttempts", cfg.Recovery.MaxAttempts, 1, 1000)
	v.NonNegative("recovery.boot.recheckAttempts", cfg.Recovery.Boot.RecheckAttempts)
	if cfg.Recovery.Interval < 0 || cfg.Recovery.Grace < 0 || cfg.Emergency.LowGrace < 0 {
		v.AddError("recovery", "durations must not be negative", nil)
	}

	v.OneOf("store.backend", cfg.Store.Backend, backends)
	if cfg.Store.Backend == store.BackendRedis {
		v.URL("store.path", cfg.Store.Path, []string{"redis", "rediss"})
	}

	v.URL("obs.url", cfg.OBS.URL, []string{"ws", "wss"})
	v.NotEmpty("obs.liveScene", cfg.OBS.LiveScene)
	v.NotEmpty("obs.fallbackScene", cfg.OBS.FallbackScene)
	if cfg.OBS.LiveScene != "" && cfg.OBS.LiveScene == cfg.OBS.FallbackScene {
		v.AddError("obs.fallbackScene", "must differ from liveScene", cfg.OBS.FallbackScene)
	}

	if cfg.Notify.WebhookURL != "" {
		v.URL("notify.webhookUrl", cfg.Notify.WebhookURL, []string{"http", "https"})
	}
	v.OneOf("notify.minSeverity", cfg.Notify.MinSeverity, severities)

	if cfg.API.Enabled {
		v.HostPort("api.listenAddr", cfg.API.ListenAddr)
		v.Positive("api.rateLimit", cfg.API.RateLimit)
	}

	if cfg.Telemetry.Enabled {
		v.OneOf("telemetry.exporter", cfg.Telemetry.ExporterType, otlpExports)
		v.NotEmpty("telemetry.endpoint", cfg.Telemetry.Endpoint)
	}

	if err := v.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}
