// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	xglog "github.com/ManuGH/streamguard/internal/log"
	"gopkg.in/yaml.v3"
)

// Loader handles configuration loading with precedence
type Loader struct {
	configPath      string
	version         string
	ConsumedEnvKeys map[string]struct{} // keys read during the last Load
}

// NewLoader creates a new configuration loader
func NewLoader(configPath, version string) *Loader {
	return &Loader{
		configPath:      configPath,
		version:         version,
		ConsumedEnvKeys: make(map[string]struct{}),
	}
}

// Path returns the config file path, empty for env-only configuration.
func (l *Loader) Path() string { return l.configPath }

func (l *Loader) key(name string) string {
	k := EnvPrefix + name
	l.ConsumedEnvKeys[k] = struct{}{}
	return k
}

func (l *Loader) envString(name, def string) string { return ParseString(l.key(name), def) }
func (l *Loader) envBool(name string, def bool) bool { return ParseBool(l.key(name), def) }
func (l *Loader) envInt(name string, def int) int    { return ParseInt(l.key(name), def) }
func (l *Loader) envFloat(name string, def float64) float64 {
	return ParseFloat(l.key(name), def)
}
func (l *Loader) envSlice(name string, def []string) []string {
	return ParseStringSlice(l.key(name), def)
}

// Load loads configuration with precedence: ENV > File > Defaults, then
// validates the result.
func (l *Loader) Load() (Config, error) {
	cfg := Default()

	if l.configPath != "" {
		if err := l.loadFile(l.configPath, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	l.mergeEnv(&cfg)
	l.warnUnknownEnv()

	if abs, err := filepath.Abs(cfg.DataDir); err == nil {
		cfg.DataDir = abs
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = defaultStorePath(cfg.DataDir, cfg.Store.Backend)
	}
	cfg.Version = l.version
	cfg.Telemetry.ServiceVersion = l.version

	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func defaultStorePath(dataDir, backend string) string {
	switch backend {
	case "badger":
		return filepath.Join(dataDir, "badger")
	case "file":
		return filepath.Join(dataDir, "state")
	case "redis":
		return "redis://127.0.0.1:6379/0"
	default:
		return filepath.Join(dataDir, "state.db")
	}
}

// loadFile decodes a YAML file over cfg with STRICT parsing.
// Unknown fields will cause a fatal error to prevent misconfiguration.
func (l *Loader) loadFile(path string, cfg *Config) error {
	path = filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	// #nosec G304 -- configuration file paths are provided by the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		if strings.Contains(err.Error(), "field") && strings.Contains(err.Error(), "not found") {
			return fmt.Errorf("%w: %w", ErrUnknownConfigField, err)
		}
		return fmt.Errorf("strict config parse error: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("config file contains multiple documents or trailing content")
	}
	return nil
}

// mergeEnv applies STREAMGUARD_* overrides.
func (l *Loader) mergeEnv(cfg *Config) {
	cfg.LogLevel = l.envString("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = l.envString("LOG_FORMAT", cfg.LogFormat)
	cfg.DataDir = l.envString("DATA_DIR", cfg.DataDir)

	w := &cfg.Watchdog
	w.Interval = ParseDuration(l.key("INTERVAL"), w.Interval)
	w.CycleTimeout = ParseDuration(l.key("CYCLE_TIMEOUT"), w.CycleTimeout)
	w.MaxConsecutiveFailures = l.envInt("MAX_CONSECUTIVE_FAILURES", w.MaxConsecutiveFailures)

	s := &cfg.Services
	s.Required = l.envSlice("REQUIRED_SERVICES", s.Required)
	s.ExpectedStopped = l.envSlice("EXPECTED_STOPPED", s.ExpectedStopped)
	s.Stream = l.envString("STREAM_SERVICE", s.Stream)
	s.Display = l.envString("DISPLAY_SERVICE", s.Display)
	s.StreamExpected = l.envBool("STREAM_EXPECTED", s.StreamExpected)
	s.Systemctl = l.envString("SYSTEMCTL", s.Systemctl)
	s.UserUnits = l.envBool("USER_UNITS", s.UserUnits)

	t := &cfg.Thresholds
	t.DiskWarningPct = l.envFloat("DISK_WARNING_PCT", t.DiskWarningPct)
	t.DiskCriticalPct = l.envFloat("DISK_CRITICAL_PCT", t.DiskCriticalPct)
	t.MemoryWarningPct = l.envFloat("MEMORY_WARNING_PCT", t.MemoryWarningPct)
	t.MemoryCriticalPct = l.envFloat("MEMORY_CRITICAL_PCT", t.MemoryCriticalPct)
	t.LoadWarning = l.envFloat("LOAD_WARNING", t.LoadWarning)
	t.MinBufferSeconds = l.envInt("MIN_BUFFER_SECONDS", t.MinBufferSeconds)

	p := &cfg.Probes
	p.Timeout = ParseDuration(l.key("PROBE_TIMEOUT"), p.Timeout)
	p.MountPath = l.envString("MOUNT_PATH", p.MountPath)
	p.NetworkTargets = l.envSlice("NETWORK_TARGETS", p.NetworkTargets)
	p.DependencyAPI = l.envString("DEPENDENCY_API", p.DependencyAPI)
	p.PipelineURL = l.envString("PIPELINE_URL", p.PipelineURL)

	c := &cfg.Cleanup
	c.Enabled = l.envBool("CLEANUP_ENABLED", c.Enabled)
	c.MediaDir = l.envString("MEDIA_DIR", c.MediaDir)
	c.LogDir = l.envString("LOG_DIR", c.LogDir)

	cfg.Emergency.AutoRecovery = l.envBool("AUTO_RECOVERY", cfg.Emergency.AutoRecovery)

	r := &cfg.Recovery
	r.MaxAttempts = l.envInt("RECOVERY_MAX_ATTEMPTS", r.MaxAttempts)
	r.Interval = ParseDuration(l.key("RECOVERY_INTERVAL"), r.Interval)
	r.Grace = ParseDuration(l.key("RECOVERY_GRACE"), r.Grace)
	r.Boot.NetworkTimeout = ParseDuration(l.key("NETWORK_TIMEOUT"), r.Boot.NetworkTimeout)

	cfg.Store.Backend = l.envString("STORE_BACKEND", cfg.Store.Backend)
	cfg.Store.Path = l.envString("STORE_PATH", cfg.Store.Path)

	o := &cfg.OBS
	o.URL = l.envString("OBS_URL", o.URL)
	o.Password = l.envString("OBS_PASSWORD", o.Password)
	o.LiveScene = l.envString("OBS_LIVE_SCENE", o.LiveScene)
	o.FallbackScene = l.envString("OBS_FALLBACK_SCENE", o.FallbackScene)

	cfg.Notify.WebhookURL = l.envString("WEBHOOK_URL", cfg.Notify.WebhookURL)
	cfg.Notify.MinSeverity = l.envString("NOTIFY_MIN_SEVERITY", cfg.Notify.MinSeverity)

	a := &cfg.API
	a.Enabled = l.envBool("API_ENABLED", a.Enabled)
	a.ListenAddr = l.envString("API_LISTEN", a.ListenAddr)
	a.Token = l.envString("API_TOKEN", a.Token)
	a.RateLimit = l.envInt("API_RATE_LIMIT", a.RateLimit)

	cfg.Telemetry.Enabled = l.envBool("TELEMETRY_ENABLED", cfg.Telemetry.Enabled)
	cfg.Telemetry.Endpoint = l.envString("OTLP_ENDPOINT", cfg.Telemetry.Endpoint)
	cfg.Telemetry.ExporterType = l.envString("OTLP_EXPORTER", cfg.Telemetry.ExporterType)
}

// UnknownEnvKeys lists STREAMGUARD_* variables that Load did not consume.
func (l *Loader) UnknownEnvKeys() []string {
	var unknown []string
	for _, kv := range os.Environ() {
		k, _, _ := strings.Cut(kv, "=")
		if !strings.HasPrefix(k, EnvPrefix) || k == EnvPrefix+"CONFIG" {
			continue
		}
		if _, ok := l.ConsumedEnvKeys[k]; !ok {
			unknown = append(unknown, k)
		}
	}
	sort.Strings(unknown)
	return unknown
}

func (l *Loader) warnUnknownEnv() {
	if unknown := l.UnknownEnvKeys(); len(unknown) > 0 {
		logger := xglog.WithComponent("config")
		logger.Warn().
			Str(xglog.FieldEvent, "config.unknown_env").
			Strs("keys", unknown).
			Msg("ignoring unknown environment variables")
	}
}

func marshalYAML(v any) (string, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	if err := enc.Close(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
