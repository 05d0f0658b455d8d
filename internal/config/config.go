// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config loads streamguard configuration with precedence
// ENV > YAML file > defaults, validates it and hot-reloads thresholds.
package config

import (
	"time"

	"github.com/ManuGH/streamguard/internal/cleanup"
	"github.com/ManuGH/streamguard/internal/health"
	"github.com/ManuGH/streamguard/internal/telemetry"
)

// Config is the complete streamguard configuration.
type Config struct {
	LogLevel  string `yaml:"logLevel"`
	LogFormat string `yaml:"logFormat"` // json or console
	DataDir   string `yaml:"dataDir"`

	Watchdog   WatchdogConfig   `yaml:"watchdog"`
	Services   ServicesConfig   `yaml:"services"`
	Thresholds ThresholdsConfig `yaml:"thresholds"`
	Probes     ProbesConfig     `yaml:"probes"`
	Cleanup    CleanupConfig    `yaml:"cleanup"`
	Emergency  EmergencyConfig  `yaml:"emergency"`
	Recovery   RecoveryConfig   `yaml:"recovery"`
	Store      StoreConfig      `yaml:"store"`
	OBS        OBSConfig        `yaml:"obs"`
	Notify     NotifyConfig     `yaml:"notify"`
	API        APIConfig        `yaml:"api"`
	Telemetry  telemetry.Config `yaml:"telemetry"`

	// Version is set from the binary, never from file or env.
	Version string `yaml:"-"`
}

// WatchdogConfig controls the evaluation cadence.
type WatchdogConfig struct {
	Interval               time.Duration `yaml:"interval"`
	CycleTimeout           time.Duration `yaml:"cycleTimeout"`
	MaxConsecutiveFailures int           `yaml:"maxConsecutiveFailures"`
}

// ServicesConfig names the managed services.
type ServicesConfig struct {
	// Required services in dependency order.
	Required        []string      `yaml:"required"`
	ExpectedStopped []string      `yaml:"expectedStopped"`
	Stream          string        `yaml:"stream"`
	Display         string        `yaml:"display"`
	// StreamExpected is false while the operator keeps the stream off on
	// purpose. The stream service then counts as expected stopped.
	StreamExpected  bool          `yaml:"streamExpected"`
	Systemctl       string        `yaml:"systemctl"`
	UserUnits       bool          `yaml:"userUnits"`
	Timeout         time.Duration `yaml:"timeout"`
}

// ThresholdsConfig mirrors health.Thresholds in file form.
type ThresholdsConfig struct {
	DiskWarningPct    float64 `yaml:"diskWarningPct"`
	DiskCriticalPct   float64 `yaml:"diskCriticalPct"`
	MemoryWarningPct  float64 `yaml:"memoryWarningPct"`
	MemoryCriticalPct float64 `yaml:"memoryCriticalPct"`
	LoadWarning       float64 `yaml:"loadWarning"`
	MinBufferSeconds  int     `yaml:"minBufferSeconds"`
}

// ProbesConfig configures the probes.
type ProbesConfig struct {
	Timeout        time.Duration `yaml:"timeout"`
	MountPath      string        `yaml:"mountPath"`
	NetworkTargets []string      `yaml:"networkTargets"`
	DependencyAPI  string        `yaml:"dependencyApi"`
	PipelineURL    string        `yaml:"pipelineUrl"`
}

// CleanupConfig configures artifact cleanup.
type CleanupConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MediaDir    string        `yaml:"mediaDir"`
	LogDir      string        `yaml:"logDir"`
	MediaMaxAge time.Duration `yaml:"mediaMaxAge"`
	LogMaxAge   time.Duration `yaml:"logMaxAge"`
	MaxFiles    int           `yaml:"maxFiles"`
	Deadline    time.Duration `yaml:"deadline"`
}

// EmergencyConfig configures the emergency controller.
type EmergencyConfig struct {
	AutoRecovery bool          `yaml:"autoRecovery"`
	LowGrace     time.Duration `yaml:"lowGrace"`
}

// RecoveryConfig configures the retry loop and boot recovery.
type RecoveryConfig struct {
	MaxAttempts int           `yaml:"maxAttempts"`
	Interval    time.Duration `yaml:"interval"`
	Grace       time.Duration `yaml:"grace"`
	Boot        BootConfig    `yaml:"boot"`
}

// BootConfig configures boot recovery.
type BootConfig struct {
	NetworkTimeout  time.Duration `yaml:"networkTimeout"`
	NetworkPoll     time.Duration `yaml:"networkPoll"`
	Directories     []string      `yaml:"directories"`
	PrereqCommand   []string      `yaml:"prereqCommand"`
	PrereqTimeout   time.Duration `yaml:"prereqTimeout"`
	RecheckAttempts int           `yaml:"recheckAttempts"`
}

// StoreConfig selects the state store backend.
type StoreConfig struct {
	Backend string `yaml:"backend"`
	// Path is a file or directory for local backends and a redis:// URL for
	// redis. Empty derives a location from the data directory.
	Path string `yaml:"path"`
}

// OBSConfig configures the OBS WebSocket stream controller.
type OBSConfig struct {
	URL           string        `yaml:"url"`
	Password      string        `yaml:"password"`
	LiveScene     string        `yaml:"liveScene"`
	FallbackScene string        `yaml:"fallbackScene"`
	Timeout       time.Duration `yaml:"timeout"`
}

// NotifyConfig configures outbound notifications.
type NotifyConfig struct {
	WebhookURL  string        `yaml:"webhookUrl"`
	MinSeverity string        `yaml:"minSeverity"`
	Timeout     time.Duration `yaml:"timeout"`
}

// APIConfig configures the HTTP surface.
type APIConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listenAddr"`
	Token      string `yaml:"token"`
	// RateLimit is the number of mutating requests allowed per minute.
	RateLimit int `yaml:"rateLimit"`
}

// Default returns the built-in defaults.
func Default() Config {
	const dataDir = "/var/lib/streamguard"
	th := health.DefaultThresholds()
	return Config{
		LogLevel:  "info",
		LogFormat: "json",
		DataDir:   dataDir,
		Watchdog: WatchdogConfig{
			Interval:               60 * time.Second,
			CycleTimeout:           10 * time.Minute,
			MaxConsecutiveFailures: 3,
		},
		Services: ServicesConfig{
			Required:       []string{"display.service", "stream.service"},
			Stream:         "stream.service",
			Display:        "display.service",
			StreamExpected: true,
			Systemctl:      "systemctl",
			Timeout:        30 * time.Second,
		},
		Thresholds: ThresholdsConfig{
			DiskWarningPct:    th.DiskWarningPct,
			DiskCriticalPct:   th.DiskCriticalPct,
			MemoryWarningPct:  th.MemoryWarningPct,
			MemoryCriticalPct: th.MemoryCriticalPct,
			MinBufferSeconds:  th.MinBufferSeconds,
		},
		Probes: ProbesConfig{
			Timeout:        5 * time.Second,
			MountPath:      "/",
			NetworkTargets: []string{"1.1.1.1:53", "8.8.8.8:53"},
		},
		Cleanup: CleanupConfig{
			Enabled:     true,
			MediaDir:    "/var/lib/streamguard/media",
			LogDir:      "/var/log/streamguard",
			MediaMaxAge: 48 * time.Hour,
			LogMaxAge:   7 * 24 * time.Hour,
			MaxFiles:    500,
			Deadline:    30 * time.Second,
		},
		Emergency: EmergencyConfig{
			AutoRecovery: true,
			LowGrace:     10 * time.Second,
		},
		Recovery: RecoveryConfig{
			MaxAttempts: 10,
			Interval:    5 * time.Minute,
			Grace:       30 * time.Second,
			Boot: BootConfig{
				NetworkTimeout:  2 * time.Minute,
				NetworkPoll:     5 * time.Second,
				PrereqTimeout:   5 * time.Minute,
				RecheckAttempts: 6,
			},
		},
		Store: StoreConfig{
			Backend: "sqlite",
		},
		OBS: OBSConfig{
			URL:           "ws://127.0.0.1:4455",
			LiveScene:     "Live",
			FallbackScene: "Fallback",
			Timeout:       10 * time.Second,
		},
		Notify: NotifyConfig{
			MinSeverity: "warning",
			Timeout:     5 * time.Second,
		},
		API: APIConfig{
			Enabled:    true,
			ListenAddr: "127.0.0.1:9477",
			RateLimit:  30,
		},
		Telemetry: telemetry.Config{
			ServiceName:  "streamguard",
			ExporterType: "grpc",
			Endpoint:     "localhost:4317",
			SamplingRate: 1.0,
		},
	}
}

// HealthThresholds converts the file form into evaluator thresholds.
func (c Config) HealthThresholds() health.Thresholds {
	return health.Thresholds{
		DiskWarningPct:    c.Thresholds.DiskWarningPct,
		DiskCriticalPct:   c.Thresholds.DiskCriticalPct,
		MemoryWarningPct:  c.Thresholds.MemoryWarningPct,
		MemoryCriticalPct: c.Thresholds.MemoryCriticalPct,
		LoadWarning:       c.Thresholds.LoadWarning,
		MinBufferSeconds:  c.Thresholds.MinBufferSeconds,
		RequiredServices:  append([]string(nil), c.Services.Required...),
		ExpectedStopped:   append([]string(nil), c.Services.ExpectedStopped...),
		StreamService:     c.Services.Stream,
	}
}

// CleanupTargets converts the cleanup section into cleaner configuration.
func (c Config) CleanupTargets() cleanup.Config {
	cc := cleanup.DefaultConfig(c.Cleanup.MediaDir, c.Cleanup.LogDir)
	for i := range cc.Targets {
		switch cc.Targets[i].Name {
		case "media":
			cc.Targets[i].MaxAge = c.Cleanup.MediaMaxAge
		case "logs":
			cc.Targets[i].MaxAge = c.Cleanup.LogMaxAge
		}
	}
	cc.MaxFiles = c.Cleanup.MaxFiles
	cc.Deadline = c.Cleanup.Deadline
	return cc
}

// String renders the config with secrets redacted.
func (c Config) String() string {
	r := c
	r.OBS.Password = mask(r.OBS.Password)
	r.API.Token = mask(r.API.Token)
	r.Notify.WebhookURL = mask(r.Notify.WebhookURL)
	out, err := marshalYAML(r)
	if err != nil {
		return "<unrenderable config>"
	}
	return out
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "***redacted***"
}
