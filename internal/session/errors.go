// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package session

import (
	"errors"
)

var (
	// ErrWorkerPanicked is wrapped when a worker terminated abnormally.
	ErrWorkerPanicked = errors.New("worker panicked")
	// ErrJoinTimeout is returned when workers did not finish in time.
	ErrJoinTimeout = errors.New("timed out joining workers")
	// ErrAlreadyRunning is returned when a session is run twice.
	ErrAlreadyRunning = errors.New("session already running")
	// ErrNoDashboard is returned when dashboard mode lacks a dashboard.
	ErrNoDashboard = errors.New("dashboard mode requires a dashboard")
)

// FatalError is the run result when a FatalError event ended the session.
// Its message is the event message unchanged.
type FatalError struct {
	Message string
}

func (e *FatalError) Error() string { return e.Message }

// WorkerError is the run result when a worker failed. It reads as the
// worker's own error message.
type WorkerError struct {
	Worker string
	Err    error
}

func (e *WorkerError) Error() string { return e.Err.Error() }

func (e *WorkerError) Unwrap() error { return e.Err }
