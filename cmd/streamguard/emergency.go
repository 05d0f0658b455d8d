// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ManuGH/streamguard/internal/api"
	"github.com/ManuGH/streamguard/internal/emergency"
	"github.com/spf13/cobra"
)

type remoteOptions struct {
	addr    string
	timeout time.Duration
}

func (r *remoteOptions) register(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&r.addr, "api", "", "daemon API address (default from api.listenAddr)")
	cmd.PersistentFlags().DurationVar(&r.timeout, "timeout", 60*time.Second, "request timeout")
}

func (r *remoteOptions) client(o *rootOptions, cmd *cobra.Command) (*apiClient, error) {
	cfg, _, err := o.loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return newAPIClient(cfg, r.addr, r.timeout), nil
}

func newEmergencyCmd(o *rootOptions) *cobra.Command {
	remote := &remoteOptions{}
	cmd := &cobra.Command{
		Use:   "emergency",
		Short: "Inspect or control the emergency state of a running daemon",
	}
	remote.register(cmd)

	status := &cobra.Command{
		Use:   "status",
		Short: "Show the emergency state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := remote.client(o, cmd)
			if err != nil {
				return err
			}
			var resp api.StatusResponse
			if err := c.do(cmd.Context(), http.MethodGet, "/api/v1/status", nil, &resp); err != nil {
				return err
			}
			printState(cmd.OutOrStdout(), resp.Emergency)
			fmt.Fprintf(cmd.OutOrStdout(), "recovery loop: %t\n", resp.LoopRunning)
			return nil
		},
	}

	var reason string
	activate := &cobra.Command{
		Use:   "activate",
		Short: "Activate the emergency manually",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := remote.client(o, cmd)
			if err != nil {
				return err
			}
			var st emergency.State
			if err := c.do(cmd.Context(), http.MethodPost, "/api/v1/emergency/activate", api.ActivateRequest{Reason: reason}, &st); err != nil {
				return err
			}
			printState(cmd.OutOrStdout(), st)
			return nil
		},
	}
	activate.Flags().StringVar(&reason, "reason", "", "reason recorded with the activation")

	var by string
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear the emergency, stop recovery and switch back to live",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := remote.client(o, cmd)
			if err != nil {
				return err
			}
			var st emergency.State
			if err := c.do(cmd.Context(), http.MethodPost, "/api/v1/emergency/clear", api.ClearRequest{By: by}, &st); err != nil {
				return err
			}
			printState(cmd.OutOrStdout(), st)
			return nil
		},
	}
	clearCmd.Flags().StringVar(&by, "by", "cli", "who cleared the emergency")

	cmd.AddCommand(status, activate, clearCmd)
	return cmd
}

func printState(w io.Writer, st emergency.State) {
	fmt.Fprintf(w, "active: %t\n", st.Active)
	fmt.Fprintf(w, "phase: %s\n", st.Phase)
	if !st.Active {
		return
	}
	fmt.Fprintf(w, "level: %s\n", st.Level)
	fmt.Fprintf(w, "reason: %s\n", st.Reason)
	fmt.Fprintf(w, "since: %s\n", st.ActivatedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "recovery attempts: %d\n", st.RecoveryAttemptCount)
	if st.Exhausted {
		fmt.Fprintln(w, "recovery exhausted: manual clear required")
	}
}
