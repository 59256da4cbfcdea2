// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package mining defines the commands that drive base-chain block production
// and the single-use handle handed out at boot completion.
package mining

import (
	"errors"
	"sync"
)

// Command is a block production instruction understood by the coordinator's
// mining loop.
type Command int

const (
	// Start begins automatic block production at the configured cadence.
	Start Command = iota + 1
	// Pause stops automatic block production.
	Pause
	// Mine produces a single block immediately.
	Mine
)

func (c Command) String() string {
	switch c {
	case Start:
		return "start"
	case Pause:
		return "pause"
	case Mine:
		return "mine"
	default:
		return "unknown"
	}
}

var (
	// ErrHandleConsumed is returned when a Handle is used more than once.
	ErrHandleConsumed = errors.New("mining handle already used")
	// ErrCommandDropped is returned when the mining loop is gone or saturated.
	ErrCommandDropped = errors.New("mining command dropped")
)

// TrySend delivers cmd without blocking. It reports false when the receiver is
// saturated; a nil channel always reports false.
func TrySend(ch chan<- Command, cmd Command) bool {
	if ch == nil {
		return false
	}
	select {
	case ch <- cmd:
		return true
	default:
		return false
	}
}

// Handle is a one-shot capability for steering block production once the
// cluster has booted. The first Start or Pause consumes it.
type Handle struct {
	once sync.Once
	ch   chan<- Command
}

// NewHandle wraps the mining command channel in a single-use handle.
func NewHandle(ch chan<- Command) *Handle {
	return &Handle{ch: ch}
}

// Start asks the mining loop to begin automatic block production.
func (h *Handle) Start() error {
	return h.use(Start)
}

// Pause asks the mining loop to stop automatic block production.
func (h *Handle) Pause() error {
	return h.use(Pause)
}

func (h *Handle) use(cmd Command) error {
	if h == nil {
		return ErrHandleConsumed
	}
	used := false
	h.once.Do(func() { used = true })
	if !used {
		return ErrHandleConsumed
	}
	if !TrySend(h.ch, cmd) {
		return ErrCommandDropped
	}
	return nil
}
