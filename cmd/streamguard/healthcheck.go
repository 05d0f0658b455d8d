// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/ManuGH/streamguard/internal/config"
	"github.com/spf13/cobra"
)

func newHealthcheckCmd(o *rootOptions) *cobra.Command {
	var (
		mode    string
		addr    string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "healthcheck",
		Short: "Probe the daemon's liveness or readiness endpoint (for container health checks)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := "/healthz"
			switch mode {
			case "ready":
				path = "/readyz"
			case "live":
			default:
				return fmt.Errorf("unknown mode %q (want ready or live)", mode)
			}

			// A broken config must not mask a healthy daemon.
			cfg, _, err := o.loadConfig(cmd)
			if err != nil {
				cfg = config.Default()
			}
			c := newAPIClient(cfg, addr, timeout)

			resp, err := c.http.Get(c.base + path) //nolint:noctx // bounded by client timeout
			if err != nil {
				return &exitError{code: 1, err: fmt.Errorf("healthcheck failed (network): %w", err)}
			}
			_ = resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return &exitError{code: 1, err: fmt.Errorf("healthcheck failed (status): %s", resp.Status)}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "healthcheck successful (%s)\n", mode)
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "ready", "healthcheck mode: ready or live")
	cmd.Flags().StringVar(&addr, "api", "", "daemon API address (default from api.listenAddr)")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "check timeout")
	return cmd
}
