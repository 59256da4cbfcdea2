// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package session

import (
	"sync"
	"time"

	"github.com/ManuGH/stacks-devnet/internal/bus"
	"github.com/ManuGH/stacks-devnet/internal/event"
	"github.com/ManuGH/stacks-devnet/internal/mining"
	"github.com/ManuGH/stacks-devnet/internal/observer"
	"github.com/rs/zerolog"
)

// cascade is the interrupt path of a session: stop the cluster, the observer
// and mining, let in-flight I/O settle, then unblock the consumer.
type cascade struct {
	once sync.Once

	terminateCluster func()
	observerCmds     chan<- observer.Command
	miningCmds       chan<- mining.Command
	events           bus.Producer
	grace            time.Duration
	sleep            func(time.Duration)
	logger           zerolog.Logger
}

// Run performs the cascade once. Later calls return immediately. Every send
// is best effort.
func (c *cascade) Run() {
	c.once.Do(func() {
		c.logger.Info().Dur("grace", c.grace).Msg("terminating devnet")
		c.terminateCluster()
		if !observer.TrySend(c.observerCmds, observer.Terminate) {
			c.logger.Debug().Msg("observer terminate not delivered")
		}
		if !mining.TrySend(c.miningCmds, mining.Pause) {
			c.logger.Debug().Msg("mining pause not delivered")
		}
		c.sleep(c.grace)
		if err := c.events.Publish(event.Terminate{}); err != nil {
			c.logger.Debug().Err(err).Msg("terminate event not delivered")
		}
	})
}
