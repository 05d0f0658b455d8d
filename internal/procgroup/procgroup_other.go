// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.


//go:build !unix

package procgroup

import (
	"os"
	"os/exec"
)

// Set is a no-op where process groups are unavailable.
func Set(*exec.Cmd) {}

// Terminate kills the direct child only.
func Terminate(cmd *exec.Cmd) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	if err := cmd.Process.Kill(); err != nil && err != os.ErrProcessDone {
		return err
	}
	return nil
}
