// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package coordinator runs the chain event loop of a devnet session: it
// consumes observer notifications, applies chainhooks, relays chain
// activity onto the event bus, detects boot completion and steers block
// production.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ManuGH/stacks-devnet/internal/bus"
	"github.com/ManuGH/stacks-devnet/internal/chainhook"
	"github.com/ManuGH/stacks-devnet/internal/config"
	"github.com/ManuGH/stacks-devnet/internal/event"
	"github.com/ManuGH/stacks-devnet/internal/log"
	"github.com/ManuGH/stacks-devnet/internal/metrics"
	"github.com/ManuGH/stacks-devnet/internal/mining"
	"github.com/ManuGH/stacks-devnet/internal/observer"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const hookTimeout = 10 * time.Second

// Observer is the source of chain notifications.
type Observer interface {
	Run(ctx context.Context, commands <-chan observer.Command) error
	Feed() <-chan observer.ChainEvent
}

// Deps are the channels and collaborators a coordinator takes ownership of.
type Deps struct {
	Events   bus.Producer
	Commands <-chan Command

	Observer         Observer
	ObserverCommands chan observer.Command
	MiningCommands   chan mining.Command

	Hooks    *chainhook.Store
	Producer BlockProducer

	// TerminateCluster asks the node cluster to stop. Idempotent.
	TerminateCluster func()

	Logger zerolog.Logger
}

// Config is the static part of a coordinator.
type Config struct {
	Devnet      config.DevnetConfig
	UseSnapshot bool
}

// Status is a point-in-time view of chain progress.
type Status struct {
	Booted     bool   `json:"booted"`
	BaseHeight uint64 `json:"baseHeight"`
	L2Height   uint64 `json:"l2Height"`
}

// Coordinator is the chain event loop. Run may be called once.
type Coordinator struct {
	deps      Deps
	cfg       Config
	bootChain string
	miner     *miner
	logger    zerolog.Logger

	booted     atomic.Bool
	baseHeight atomic.Uint64
	l2Height   atomic.Uint64

	hooks sync.WaitGroup
	ran   atomic.Bool
}

// ErrAlreadyRan is returned by a second call to Run.
var ErrAlreadyRan = errors.New("coordinator already ran")

// New validates deps and builds a coordinator.
func New(deps Deps, cfg Config) (*Coordinator, error) {
	var errs []error
	if deps.Events == nil {
		errs = append(errs, errors.New("events producer is required"))
	}
	if deps.Observer == nil {
		errs = append(errs, errors.New("observer is required"))
	}
	if deps.MiningCommands == nil {
		errs = append(errs, errors.New("mining command channel is required"))
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("coordinator: %w", errors.Join(errs...))
	}
	if deps.Hooks == nil {
		deps.Hooks, _ = chainhook.NewStore()
	}
	if deps.TerminateCluster == nil {
		deps.TerminateCluster = func() {}
	}

	interval := cfg.Devnet.BitcoinControllerBlockTime
	if interval <= 0 {
		interval = config.DefaultBlockTime
	}
	logger := log.Component(deps.Logger, "coordinator")

	return &Coordinator{
		deps:      deps,
		cfg:       cfg,
		bootChain: cfg.Devnet.BootChain(),
		logger:    logger,
		miner: &miner{
			commands: deps.MiningCommands,
			producer: deps.Producer,
			events:   deps.Events,
			interval: interval,
			logger:   log.Component(deps.Logger, "mining"),
		},
	}, nil
}

// Status returns the current chain progress.
func (c *Coordinator) Status() Status {
	return Status{
		Booted:     c.booted.Load(),
		BaseHeight: c.baseHeight.Load(),
		L2Height:   c.l2Height.Load(),
	}
}

// Run processes chain events until a Terminate command arrives, the observer
// feed closes or ctx is done. Errors of the observer are returned.
func (c *Coordinator) Run(ctx context.Context) error {
	if c.ran.Swap(true) {
		return ErrAlreadyRan
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		return c.deps.Observer.Run(gctx, c.deps.ObserverCommands)
	})
	g.Go(func() error {
		return c.miner.run(gctx)
	})
	g.Go(func() error {
		defer cancel()
		return c.loop(gctx)
	})

	err := g.Wait()
	c.hooks.Wait()
	return err
}

func (c *Coordinator) loop(ctx context.Context) error {
	started := time.Now()
	if c.cfg.UseSnapshot {
		_ = c.deps.Events.Publish(event.Info("Starting chains from snapshot data"))
	}
	c.logger.Info().
		Str(log.FieldChain, c.bootChain).
		Uint64(log.FieldHeight, c.cfg.Devnet.BootHeight).
		Msg("waiting for boot block")

	feed := c.deps.Observer.Feed()
	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd := <-c.deps.Commands:
			if cmd == Terminate {
				c.shutdown()
				return nil
			}
			c.logger.Warn().Int("command", int(cmd)).Msg("unknown coordinator command")
		case ev, ok := <-feed:
			if !ok {
				c.logger.Info().Msg("observer feed closed")
				return nil
			}
			c.handle(ctx, ev, started)
		}
	}
}

// shutdown fans the terminate out to everything the coordinator steers.
func (c *Coordinator) shutdown() {
	c.logger.Info().Msg("terminate received, stopping chains")
	c.deps.TerminateCluster()
	observer.TrySend(c.deps.ObserverCommands, observer.Terminate)
	mining.TrySend(c.deps.MiningCommands, mining.Pause)
}

func (c *Coordinator) handle(ctx context.Context, ev observer.ChainEvent, started time.Time) {
	switch e := ev.(type) {
	case observer.BlockEvent:
		c.relayBlock(e)
		if !c.booted.Load() && e.Chain == c.bootChain && e.Height >= c.cfg.Devnet.BootHeight {
			c.booted.Store(true)
			boot := time.Since(started)
			metrics.ObserveBoot(boot)
			c.logger.Info().Dur("elapsed", boot).Uint64(log.FieldHeight, e.Height).Msg("boot completed")
			_ = c.deps.Events.Publish(event.BootCompleted{Mining: mining.NewHandle(c.deps.MiningCommands)})
		}
	case observer.MempoolEvent:
		verb := "entered"
		if e.Dropped {
			verb = "dropped from"
		}
		_ = c.deps.Events.Publish(event.Debug(fmt.Sprintf("%d transaction(s) %s mempool", len(e.TxIDs), verb)))
	}
	c.applyHooks(ctx, ev)
}

func (c *Coordinator) relayBlock(e observer.BlockEvent) {
	switch e.Chain {
	case config.ChainBase:
		c.baseHeight.Store(e.Height)
		_ = c.deps.Events.Publish(event.Info(fmt.Sprintf("Bitcoin block #%d received", e.Height)))
	case config.ChainL2:
		c.l2Height.Store(e.Height)
		_ = c.deps.Events.Publish(event.Success(fmt.Sprintf("Stacks block #%d mined (%d transactions)", e.Height, e.TxCount())))
	default:
		_ = c.deps.Events.Publish(event.Info(fmt.Sprintf("Block #%d received on %s chain", e.Height, e.Chain)))
	}
}

func (c *Coordinator) applyHooks(ctx context.Context, ev observer.ChainEvent) {
	for _, h := range c.deps.Hooks.Evaluate(ev) {
		_ = c.deps.Events.Publish(event.Info(fmt.Sprintf("Chainhook '%s' triggered", h.Name)))
		occ := chainhook.NewOccurrence(h, ev)
		c.hooks.Add(1)
		go func() {
			defer c.hooks.Done()
			hctx, cancel := context.WithTimeout(ctx, hookTimeout)
			defer cancel()
			if err := h.Action.Execute(hctx, occ); err != nil {
				metrics.IncChainhookTrigger("failed")
				c.logger.Warn().Err(err).Str(log.FieldHookID, h.ID).Msg("chainhook action failed")
				_ = c.deps.Events.Publish(event.Warning(fmt.Sprintf("Chainhook '%s' action failed: %v", h.Name, err)))
				return
			}
			metrics.IncChainhookTrigger("ok")
		}()
	}
}
