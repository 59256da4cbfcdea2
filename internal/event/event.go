// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package event defines the values carried on the devnet event bus.
//
// Exactly four variants exist: Log, BootCompleted, FatalError and Terminate.
// Producers build them, hand them to the bus, and the single consumer
// receives each value once.
package event

import (
	"time"

	"github.com/ManuGH/stacks-devnet/internal/mining"
)

// Event is a value on the devnet event bus.
type Event interface {
	isEvent()
}

// Log carries a human readable log record.
type Log struct {
	Data LogData
}

// BootCompleted is emitted once the cluster produced its first usable block.
// It carries the one-shot handle that steers block production.
type BootCompleted struct {
	Mining *mining.Handle
}

// FatalError ends the session with an error.
type FatalError struct {
	Message string
}

// Terminate ends the session successfully.
type Terminate struct{}

func (Log) isEvent()           {}
func (BootCompleted) isEvent() {}
func (FatalError) isEvent()    {}
func (Terminate) isEvent()     {}

// Kind returns a stable label for ev, used for metrics and logs.
func Kind(ev Event) string {
	switch ev.(type) {
	case Log:
		return "log"
	case BootCompleted:
		return "boot_completed"
	case FatalError:
		return "fatal_error"
	case Terminate:
		return "terminate"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether ev ends the consumer loop.
func IsTerminal(ev Event) bool {
	switch ev.(type) {
	case FatalError, Terminate:
		return true
	default:
		return false
	}
}

func newLog(level LogLevel, msg string) Event {
	return Log{Data: LogData{Level: level, Message: msg, Timestamp: time.Now()}}
}

// Debug builds a debug level log event.
func Debug(msg string) Event { return newLog(LevelDebug, msg) }

// Info builds an info level log event.
func Info(msg string) Event { return newLog(LevelInfo, msg) }

// Success builds a success level log event.
func Success(msg string) Event { return newLog(LevelSuccess, msg) }

// Warning builds a warning level log event.
func Warning(msg string) Event { return newLog(LevelWarning, msg) }

// Error builds an error level log event.
func Error(msg string) Event { return newLog(LevelError, msg) }
