// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package cluster starts and stops the node processes of a devnet.
package cluster

import (
	"context"
	"errors"
	"time"

	"github.com/ManuGH/stacks-devnet/internal/bus"
)

var (
	// ErrNodeExited is wrapped when a node stops without being asked to.
	ErrNodeExited = errors.New("node exited")
	// ErrNodeNotReady is wrapped when a node misses its readiness deadline.
	ErrNodeNotReady = errors.New("node not ready")
	// ErrAlreadyStarted is returned when a controller is started twice.
	ErrAlreadyStarted = errors.New("cluster already started")
)

// Controller is the node cluster capability used by a session.
type Controller interface {
	// Start brings up every configured node and supervises them until
	// terminate fires, ctx is done or a node fails.
	Start(ctx context.Context, events bus.Producer, terminate <-chan struct{}, noSnapshot bool) error
	// InitializeBaseChainOnly brings up the base chain nodes and returns once
	// they are ready. They keep running until the controller is closed.
	InitializeBaseChainOnly(ctx context.Context, events bus.Producer, noSnapshot bool) error
	// Terminated is closed once every node the controller started is down.
	Terminated() <-chan struct{}
}

// StopBudgeter is implemented by controllers that know how long stopping
// every node can take.
type StopBudgeter interface {
	StopBudget() time.Duration
}
