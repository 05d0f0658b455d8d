// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/ManuGH/streamguard/internal/daemon"
	"github.com/ManuGH/streamguard/internal/health"
	"github.com/ManuGH/streamguard/internal/store"
	"github.com/ManuGH/streamguard/internal/watchdog"
	"github.com/spf13/cobra"
)

func newCheckCmd(o *rootOptions) *cobra.Command {
	var (
		asJSON    bool
		noCleanup bool
	)
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Evaluate health once and exit 0 (healthy), 1 (warning) or 2 (critical)",
		Long:  "Sample and evaluate once without touching the failure counter or the emergency state.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := o.loadConfig(cmd)
			if err != nil {
				return err
			}
			if noCleanup {
				cfg.Cleanup.Enabled = false
			}

			ov := o.overrides
			ov.Store = store.NewMemory()
			comp, err := daemon.Build(cfg, ov)
			if err != nil {
				return err
			}
			defer func() { _ = comp.Close() }()

			sched := watchdog.New(watchdog.Config{
				Interval:     cfg.Watchdog.Interval,
				CycleTimeout: cfg.Watchdog.CycleTimeout,
			}, watchdog.Deps{Sampler: comp.Sampler, Evaluator: comp.Evaluator})
			ev := sched.RunOnce(cmd.Context())

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(ev); err != nil {
					return err
				}
			} else {
				printEvaluation(cmd.OutOrStdout(), ev)
			}
			if code := ev.Status.ExitCode(); code != 0 {
				return &exitError{code: code}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the evaluation as JSON")
	cmd.Flags().BoolVar(&noCleanup, "no-cleanup", false, "skip the artifact cleanup side effect")
	return cmd
}

func printEvaluation(w io.Writer, ev health.Evaluation) {
	fmt.Fprintf(w, "status: %s\n", ev.Status)
	for _, r := range ev.Reasons {
		fmt.Fprintf(w, "  - %s\n", r)
	}
	if ev.Cleaned {
		fmt.Fprintln(w, "cleanup: ran")
	}
}
