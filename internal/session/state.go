// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package session

import "sync/atomic"

// State is the termination state of a session. It only moves forward.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateTerminating
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateTerminating:
		return "terminating"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

type stateMachine struct {
	v atomic.Int32
}

func (m *stateMachine) load() State { return State(m.v.Load()) }

// advance moves to next if it is later than the current state.
func (m *stateMachine) advance(next State) (State, bool) {
	for {
		cur := State(m.v.Load())
		if cur >= next {
			return cur, false
		}
		if m.v.CompareAndSwap(int32(cur), int32(next)) {
			return cur, true
		}
	}
}
