// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.


// Package procgroup runs external commands in their own process group so a
// cancelled context reaps the whole tree, not just the direct child.
package procgroup

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"
)

// DefaultGrace is the SIGTERM to SIGKILL delay used when none is given.
const DefaultGrace = 5 * time.Second

// ErrEmptyCommand is returned for an empty argv.
var ErrEmptyCommand = errors.New("empty command")

// Command builds a context-bound command that starts in a new process group.
// When ctx ends the group receives SIGTERM and, after grace, SIGKILL.
func Command(ctx context.Context, grace time.Duration, name string, args ...string) *exec.Cmd {
	if grace <= 0 {
		grace = DefaultGrace
	}
	cmd := exec.CommandContext(ctx, name, args...)
	Set(cmd)
	cmd.Cancel = func() error { return Terminate(cmd) }
	cmd.WaitDelay = grace
	return cmd
}

// Output runs the command and returns stdout and stderr interleaved.
func Output(ctx context.Context, grace time.Duration, argv ...string) ([]byte, error) {
	if len(argv) == 0 || argv[0] == "" {
		return nil, ErrEmptyCommand
	}
	cmd := Command(ctx, grace, argv[0], argv[1:]...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.Bytes(), err
}
