// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"fmt"
	"time"

	"github.com/ManuGH/streamguard/internal/config"
	"github.com/ManuGH/streamguard/internal/daemon"
	xglog "github.com/ManuGH/streamguard/internal/log"
	"github.com/ManuGH/streamguard/internal/version"
	"github.com/spf13/cobra"
)

// rootOptions holds the persistent flags. overrides is only set by tests.
type rootOptions struct {
	configPath string
	logLevel   string
	interval   time.Duration
	diskWarn   float64
	diskCrit   float64
	services   []string

	overrides daemon.Overrides
}

func newRootCmd(o *rootOptions) *cobra.Command {
	root := &cobra.Command{
		Use:           "streamguard",
		Short:         "Watchdog and recovery supervisor for a 24/7 live stream",
		Long:          "streamguard samples the health of a streaming host, escalates persistent failures into an emergency, switches the output to fallback content and recovers automatically, including after a reboot.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&o.configPath, "config", config.ParseString(config.EnvPrefix+"CONFIG", ""), "path to config file (YAML); env STREAMGUARD_CONFIG")
	pf.StringVar(&o.logLevel, "log-level", "", "override the configured log level")
	pf.DurationVar(&o.interval, "interval", 0, "override the evaluation interval")
	pf.Float64Var(&o.diskWarn, "disk-warning", 0, "override the disk warning threshold in percent")
	pf.Float64Var(&o.diskCrit, "disk-critical", 0, "override the disk critical threshold in percent")
	pf.StringSliceVar(&o.services, "services", nil, "override the required services, in dependency order")

	root.AddCommand(
		newRunCmd(o),
		newCheckCmd(o),
		newRecoverCmd(o),
		newPrepareRebootCmd(o),
		newEmergencyCmd(o),
		newStatusCmd(o),
		newHealthcheckCmd(o),
		newVersionCmd(),
	)
	return root
}

// loadConfig loads the configuration, applies flag overrides and configures
// logging to the command's error stream.
func (o *rootOptions) loadConfig(cmd *cobra.Command) (config.Config, *config.Loader, error) {
	loader := config.NewLoader(o.configPath, version.Version)
	cfg, err := loader.Load()
	if err != nil {
		return cfg, nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.LogLevel = o.logLevel
	}
	if flags.Changed("interval") {
		cfg.Watchdog.Interval = o.interval
	}
	if flags.Changed("disk-warning") {
		cfg.Thresholds.DiskWarningPct = o.diskWarn
	}
	if flags.Changed("disk-critical") {
		cfg.Thresholds.DiskCriticalPct = o.diskCrit
	}
	if flags.Changed("services") {
		cfg.Services.Required = o.services
	}
	if err := config.Validate(cfg); err != nil {
		return cfg, nil, fmt.Errorf("flags: %w", err)
	}

	xglog.Configure(xglog.Config{
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
		Output:  cmd.ErrOrStderr(),
		Service: "streamguard",
		Version: version.Version,
	})
	return cfg, loader, nil
}
