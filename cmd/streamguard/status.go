// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ManuGH/streamguard/internal/api"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func newStatusCmd(o *rootOptions) *cobra.Command {
	remote := &remoteOptions{}
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the daemon's last evaluation, failure count and emergency history",
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
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(resp)
			}
			return renderStatus(cmd.OutOrStdout(), resp)
		},
	}
	remote.register(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw status as JSON")
	return cmd
}

func renderStatus(w io.Writer, resp api.StatusResponse) error {
	summary := tablewriter.NewWriter(w)
	summary.Header("Field", "Value")

	rows := [][]string{{"version", resp.Version}}
	if ev := resp.Evaluation; ev != nil {
		rows = append(rows,
			[]string{"status", ev.Status.String()},
			[]string{"evaluated", ev.At.Format(time.RFC3339)},
		)
		if len(ev.Reasons) > 0 {
			rows = append(rows, []string{"reasons", strings.Join(ev.Reasons, "; ")})
		}
	} else {
		rows = append(rows, []string{"status", "no cycle yet"})
	}
	rows = append(rows,
		[]string{"failures", fmt.Sprintf("%d/%d", resp.Failures, resp.MaxFailures)},
		[]string{"emergency", fmt.Sprintf("%s (%s)", resp.Emergency.Phase, resp.Emergency.Level)},
		[]string{"recovery loop", fmt.Sprintf("%t", resp.LoopRunning)},
	)
	if resp.Emergency.Active {
		rows = append(rows,
			[]string{"reason", resp.Emergency.Reason},
			[]string{"attempts", fmt.Sprintf("%d", resp.Emergency.RecoveryAttemptCount)},
		)
	}
	for _, e := range resp.Errors {
		rows = append(rows, []string{"error", e})
	}
	for _, r := range rows {
		if err := summary.Append(r[0], r[1]); err != nil {
			return err
		}
	}
	if err := summary.Render(); err != nil {
		return err
	}

	if len(resp.History) == 0 {
		return nil
	}
	fmt.Fprintln(w)
	history := tablewriter.NewWriter(w)
	history.Header("At", "From", "To", "Level", "Reason")
	for _, t := range resp.History {
		if err := history.Append(t.At.Format(time.RFC3339), string(t.From), string(t.To), t.Level.String(), t.Reason); err != nil {
			return err
		}
	}
	return history.Render()
}
