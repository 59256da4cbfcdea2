// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package dashboard renders the devnet event stream for an operator.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ManuGH/stacks-devnet/internal/config"
	"github.com/ManuGH/stacks-devnet/internal/coordinator"
	"github.com/ManuGH/stacks-devnet/internal/event"
	"github.com/rs/zerolog"
)

// Deps is what a dashboard consumes. The dashboard is the only reader of Events.
type Deps struct {
	Events     <-chan event.Event
	Commands   chan<- coordinator.Command
	Terminated <-chan struct{}
	Devnet     config.DevnetConfig
}

// Dashboard consumes a session's event stream until the session ends.
type Dashboard interface {
	Run(ctx context.Context, deps Deps) error
}

// Console is a line oriented dashboard on a terminal.
type Console struct {
	out    io.Writer
	logger zerolog.Logger
}

// NewConsole returns a console dashboard writing to w (os.Stderr when nil).
func NewConsole(w io.Writer) *Console {
	if w == nil {
		w = os.Stderr
	}
	cw := zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}
	return &Console{
		out:    w,
		logger: zerolog.New(cw).Level(zerolog.DebugLevel),
	}
}

// Run renders events. Cancelling ctx asks the coordinator to stop; Run then
// keeps rendering until the cluster reports it terminated. A FatalError is
// returned as an error carrying its message.
func (c *Console) Run(ctx context.Context, deps Deps) error {
	if deps.Events == nil {
		return errors.New("dashboard: no event stream")
	}
	c.header(deps.Devnet)

	stopping := false
	done := ctx.Done()
	for {
		select {
		case <-done:
			done = nil
			if !stopping {
				stopping = true
				c.logger.Warn().Msg("Stopping devnet...")
				coordinator.TrySend(deps.Commands, coordinator.Terminate)
			}
		case <-deps.Terminated:
			c.logger.Info().Msg("Devnet terminated")
			return nil
		case ev := <-deps.Events:
			switch e := ev.(type) {
			case event.Log:
				c.render(e.Data)
			case event.BootCompleted:
				c.logger.Info().Msg("Devnet booted")
				if deps.Devnet.AutominingEnabled() {
					if err := e.Mining.Start(); err != nil {
						c.logger.Warn().Err(err).Msg("Unable to start mining")
					}
				}
			case event.FatalError:
				c.logger.Error().Msg(e.Message)
				return errors.New(e.Message)
			case event.Terminate:
				return nil
			}
		}
	}
}

func (c *Console) header(d config.DevnetConfig) {
	mode := "automining"
	if !d.AutominingEnabled() {
		mode = "manual mining"
	}
	_, _ = fmt.Fprintf(c.out, "stacks-devnet | %d node(s) | %s | %s\n", len(d.ActiveNodes()), mode, d.WorkingDir)
}

func (c *Console) render(d event.LogData) {
	var ev *zerolog.Event
	switch d.Level {
	case event.LevelDebug:
		ev = c.logger.Debug()
	case event.LevelWarning:
		ev = c.logger.Warn()
	case event.LevelError:
		ev = c.logger.Error()
	default:
		ev = c.logger.Info()
	}
	if d.Level == event.LevelSuccess {
		ev = ev.Bool("ok", true)
	}
	ev.Time(zerolog.TimestampFieldName, d.Timestamp).Msg(d.Message)
}
