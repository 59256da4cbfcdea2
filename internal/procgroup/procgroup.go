// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package procgroup starts node processes in their own process group and
// stops the whole group on shutdown.
package procgroup

import (
	"errors"
	"os/exec"
	"syscall"
	"time"

	"github.com/ManuGH/stacks-devnet/internal/metrics"
)

// ErrKillFailed is returned when a process survived SIGKILL.
var ErrKillFailed = errors.New("kill operation failed")

// Set configures cmd to start in a new process group.
// Mandatory for Terminate to reach the node's children.
func Set(cmd *exec.Cmd) {
	set(cmd)
}

// Terminate stops the process group of cmd: SIGTERM, wait up to grace for
// waitCh, then SIGKILL and wait up to killTimeout. It returns the wait result
// of the process. A nil command or process is a no-op.
func Terminate(cmd *exec.Cmd, waitCh <-chan error, grace, killTimeout time.Duration) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	signalGroup(cmd, syscall.SIGTERM)
	select {
	case err := <-waitCh:
		recordWait(err, false)
		return err
	case <-time.After(grace):
	}

	signalGroup(cmd, syscall.SIGKILL)
	select {
	case err := <-waitCh:
		recordWait(err, true)
		return err
	case <-time.After(killTimeout):
		metrics.IncProcWait("kill_timeout")
		return ErrKillFailed
	}
}

func signalGroup(cmd *exec.Cmd, sig syscall.Signal) {
	name := "SIGTERM"
	if sig == syscall.SIGKILL {
		name = "SIGKILL"
	}
	switch err := kill(cmd, sig); {
	case err == nil:
		metrics.IncProcTerminate(name, "sent")
	case errors.Is(err, syscall.ESRCH):
		metrics.IncProcTerminate(name, "esrch")
	default:
		metrics.IncProcTerminate(name, "error")
	}
}

func recordWait(err error, forced bool) {
	switch {
	case forced && err == nil:
		metrics.IncProcWait("forced_exit0")
	case forced:
		metrics.IncProcWait("forced_error")
	case err == nil:
		metrics.IncProcWait("exit0")
	default:
		metrics.IncProcWait("exit_nonzero")
	}
}
