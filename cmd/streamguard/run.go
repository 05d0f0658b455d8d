// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"fmt"

	"github.com/ManuGH/streamguard/internal/config"
	"github.com/ManuGH/streamguard/internal/daemon"
	xglog "github.com/ManuGH/streamguard/internal/log"
	"github.com/ManuGH/streamguard/internal/telemetry"
	"github.com/spf13/cobra"
)

func newRunCmd(o *rootOptions) *cobra.Command {
	var bootFirst bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the watchdog daemon",
		Long:  "Run the periodic watchdog, the HTTP API and the config watcher until interrupted. A persisted emergency with pending automatic recovery is resumed on start.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, loader, err := o.loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := xglog.WithComponent("cli")
			logger.Info().
				Str(xglog.FieldEvent, "config.loaded").
				Str(xglog.FieldPath, loader.Path()).
				Str(xglog.FieldBackend, cfg.Store.Backend).
				Msg("configuration loaded")

			tp, err := telemetry.NewProvider(ctx, cfg.Telemetry)
			if err != nil {
				return fmt.Errorf("telemetry: %w", err)
			}
			defer func() { _ = tp.Shutdown(context.WithoutCancel(ctx)) }()

			comp, err := daemon.Build(cfg, o.overrides)
			if err != nil {
				return err
			}
			defer func() { _ = comp.Close() }()

			if bootFirst {
				res, err := comp.Boot.Boot(ctx)
				if err != nil {
					logger.Error().Err(err).
						Str(xglog.FieldEvent, "recovery.boot_before_run_failed").
						Str("outcome", string(res.Outcome)).
						Msg("boot recovery failed, continuing with the watchdog")
				}
			}

			app, err := daemon.NewApp(comp, config.NewConfigHolder(cfg, loader))
			if err != nil {
				return err
			}
			return app.Run(ctx)
		},
	}
	cmd.Flags().BoolVar(&bootFirst, "recover", false, "run boot recovery before starting the watchdog")
	return cmd
}
