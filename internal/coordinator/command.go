// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package coordinator

// Command is an instruction for the coordinator loop.
type Command int

const (
	// Terminate stops the coordinator and everything it steers.
	Terminate Command = iota + 1
)

func (c Command) String() string {
	if c == Terminate {
		return "terminate"
	}
	return "unknown"
}

// TrySend delivers cmd without blocking.
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
