// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package session

import (
	"github.com/ManuGH/stacks-devnet/internal/event"
	"github.com/rs/zerolog"
)

// relay is the headless consumer loop. It returns nil on Terminate and a
// *FatalError on FatalError; nothing else ends it.
type relay struct {
	events   <-chan event.Event
	sink     func(event.LogData)
	logger   zerolog.Logger
	automine bool
	onBoot   func()
}

func (r *relay) run() error {
	for ev := range r.events {
		switch e := ev.(type) {
		case event.Log:
			r.log(e.Data)
		case event.BootCompleted:
			if r.onBoot != nil {
				r.onBoot()
			}
			if !r.automine {
				continue
			}
			if err := e.Mining.Start(); err != nil {
				r.logger.Warn().Err(err).Msg("unable to start mining")
			}
		case event.FatalError:
			return &FatalError{Message: e.Message}
		case event.Terminate:
			return nil
		}
	}
	return nil
}

func (r *relay) log(d event.LogData) {
	if r.sink != nil {
		r.sink(d)
		return
	}
	var ev *zerolog.Event
	switch d.Level {
	case event.LevelDebug:
		ev = r.logger.Debug()
	case event.LevelInfo, event.LevelSuccess:
		ev = r.logger.Info()
	case event.LevelWarning:
		ev = r.logger.Warn()
	case event.LevelError:
		ev = r.logger.Error()
	default:
		ev = r.logger.Info()
	}
	ev.Time("at", d.Timestamp).Msg(d.Message)
}
