// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/ManuGH/streamguard/internal/daemon"
	"github.com/ManuGH/streamguard/internal/recovery"
	"github.com/spf13/cobra"
)

func newRecoverCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Run boot recovery; exit 0 on success, 1 on failure",
		Long:  "Read the reboot marker, wait for the network, repair prerequisites and restart the stream if it was running before the reboot. Run this once from a boot unit.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := o.loadConfig(cmd)
			if err != nil {
				return err
			}
			comp, err := daemon.Build(cfg, o.overrides)
			if err != nil {
				return err
			}
			defer func() { _ = comp.Close() }()

			res, err := comp.Boot.Boot(cmd.Context())
			printBootResult(cmd, res)
			if err != nil {
				return &exitError{code: 1, err: err}
			}
			return nil
		},
	}
}

func printBootResult(cmd *cobra.Command, res recovery.BootResult) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "outcome: %s\n", res.Outcome)
	fmt.Fprintf(w, "planned: %t\n", res.Planned)
	if res.Marker != nil {
		fmt.Fprintf(w, "marker: was_streaming=%t by=%s\n", res.Marker.WasStreaming, res.Marker.InitiatedBy)
	}
	for _, d := range res.Down {
		fmt.Fprintf(w, "down: %s\n", d)
	}
	fmt.Fprintf(w, "duration: %s\n", res.Duration.Round(time.Millisecond))
}

func newPrepareRebootCmd(o *rootOptions) *cobra.Command {
	var by, reason string
	cmd := &cobra.Command{
		Use:   "prepare-reboot",
		Short: "Record whether the stream is running before a planned reboot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := o.loadConfig(cmd)
			if err != nil {
				return err
			}
			comp, err := daemon.Build(cfg, o.overrides)
			if err != nil {
				return err
			}
			defer func() { _ = comp.Close() }()

			m, err := comp.Boot.PrepareReboot(cmd.Context(), by, reason)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reboot marker written (was_streaming=%t)\n", m.WasStreaming)
			return nil
		},
	}
	defaultBy := os.Getenv("USER")
	if defaultBy == "" {
		defaultBy = "cli"
	}
	cmd.Flags().StringVar(&by, "by", defaultBy, "who initiated the reboot")
	cmd.Flags().StringVar(&reason, "reason", "planned reboot", "why the host reboots")
	return cmd
}
