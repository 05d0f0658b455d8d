// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.


//go:build linux

package procgroup

import (
	"context"
	"os/exec"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutput_CollectsBothStreams(t *testing.T) {
	out, err := Output(context.Background(), 0, "sh", "-c", "echo out; echo err 1>&2")
	require.NoError(t, err)
	assert.Contains(t, string(out), "out")
	assert.Contains(t, string(out), "err")
}

func TestOutput_EmptyCommand(t *testing.T) {
	_, err := Output(context.Background(), 0)
	assert.ErrorIs(t, err, ErrEmptyCommand)
}

func TestCommand_CancelReapsGroup(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cmd := Command(ctx, 200*time.Millisecond, "sh", "-c", "sleep 100 & sleep 100")
	require.NoError(t, cmd.Start())

	pid := cmd.Process.Pid
	pgid, err := syscall.Getpgid(pid)
	require.NoError(t, err)
	require.Equal(t, pid, pgid, "child leads its own group")

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("command did not exit after cancel")
	}
	require.Eventually(t, func() bool {
		return syscall.Kill(-pgid, syscall.Signal(0)) == syscall.ESRCH
	}, 2*time.Second, 20*time.Millisecond, "process group is gone")
}

func TestKill_AfterExitIsNoop(t *testing.T) {
	cmd := exec.Command("true")
	Set(cmd)
	require.NoError(t, cmd.Run())
	assert.NoError(t, Kill(cmd, syscall.SIGTERM))
}
