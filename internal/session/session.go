// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package session wires one devnet run: the snapshot gate, the chain event
// coordinator and node cluster workers, the event bus consumer and the
// shutdown protocol that reaches every worker exactly once.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/ManuGH/stacks-devnet/internal/bus"
	"github.com/ManuGH/stacks-devnet/internal/chainhook"
	"github.com/ManuGH/stacks-devnet/internal/cluster"
	"github.com/ManuGH/stacks-devnet/internal/config"
	"github.com/ManuGH/stacks-devnet/internal/coordinator"
	"github.com/ManuGH/stacks-devnet/internal/dashboard"
	"github.com/ManuGH/stacks-devnet/internal/event"
	"github.com/ManuGH/stacks-devnet/internal/log"
	"github.com/ManuGH/stacks-devnet/internal/mining"
	"github.com/ManuGH/stacks-devnet/internal/observer"
	"github.com/ManuGH/stacks-devnet/internal/snapshot"
	"github.com/ManuGH/stacks-devnet/internal/telemetry"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
)

const (
	commandBuffer = 8
	// joinMargin is added to the cluster stop budget when it exceeds the
	// configured join timeout.
	joinMargin = 2 * time.Second
)

// Deps are the collaborators of a session.
type Deps struct {
	Config     config.AppConfig
	Controller cluster.Controller
	Observer   coordinator.Observer

	// Gate is optional; without it no snapshot is used.
	Gate      *snapshot.Gate
	Hooks     *chainhook.Store
	Producer  coordinator.BlockProducer
	Dashboard dashboard.Dashboard

	// LogSink receives log records verbatim instead of the logger.
	LogSink func(event.LogData)
	// Interrupts replaces the process signal handler in headless mode.
	Interrupts <-chan os.Signal

	Logger zerolog.Logger

	// sleep is the grace window clock; tests shorten it.
	sleep func(time.Duration)
}

// Options select how a session runs.
type Options struct {
	// StartLocal starts the full node set; otherwise only the base chain is
	// initialized for an externally coordinated network.
	StartLocal bool
	NoSnapshot bool
	Dashboard  bool
}

// Status is a point-in-time view of a session.
type Status struct {
	ID          string             `json:"id"`
	State       string             `json:"state"`
	UseSnapshot bool               `json:"useSnapshot"`
	Chain       coordinator.Status `json:"chain"`
}

// Session is one devnet run. Run methods may be called once.
type Session struct {
	deps   Deps
	opts   Options
	devnet config.DevnetConfig
	id     string
	logger zerolog.Logger
	state  stateMachine
	rt     atomic.Pointer[wiring]
}

// New validates the configuration. Configuration errors surface here,
// before any worker exists.
func New(deps Deps, opts Options) (*Session, error) {
	if deps.Config.Devnet == nil {
		return nil, config.ErrMissingDevnetConfig
	}
	if deps.Controller == nil {
		return nil, errors.New("session: cluster controller is required")
	}
	if deps.Observer == nil {
		return nil, errors.New("session: observer is required")
	}
	if opts.Dashboard && deps.Dashboard == nil {
		return nil, ErrNoDashboard
	}
	if deps.sleep == nil {
		deps.sleep = time.Sleep
	}
	id := uuid.NewString()
	return &Session{
		deps:   deps,
		opts:   opts,
		devnet: *deps.Config.Devnet,
		id:     id,
		logger: log.Component(deps.Logger, "session").With().Str(log.FieldSessionID, id).Logger(),
	}, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the termination state.
func (s *Session) State() State { return s.state.load() }

// Status reports the session and chain progress.
func (s *Session) Status() Status {
	st := Status{ID: s.id, State: s.State().String()}
	if rt := s.rt.Load(); rt != nil {
		st.UseSnapshot = rt.useSnapshot
		st.Chain = rt.coord.Status()
	}
	return st
}

// RequestTerminate runs the shutdown cascade in the background. It is safe
// to call any number of times, before, during or after a run.
func (s *Session) RequestTerminate() {
	if rt := s.rt.Load(); rt != nil {
		s.state.advance(StateTerminating)
		go rt.cascade.Run()
	}
}

// wiring holds the channels and workers of a started session.
type wiring struct {
	bus         *bus.Bus
	events      *terminalOnce
	ended       chan struct{}
	coord       *coordinator.Coordinator
	workers     *workers
	cascade     *cascade
	useSnapshot bool

	coordCmds    chan coordinator.Command
	observerCmds chan observer.Command
	miningCmds   chan mining.Command

	terminateOnce sync.Once
	terminate     chan struct{}

	logger zerolog.Logger
}

// terminateCluster fires the cluster terminator. Idempotent.
func (rt *wiring) terminateCluster() {
	rt.terminateOnce.Do(func() { close(rt.terminate) })
}

// signalAll asks every worker to stop. Idempotent.
func (rt *wiring) signalAll() {
	rt.terminateCluster()
	coordinator.TrySend(rt.coordCmds, coordinator.Terminate)
	observer.TrySend(rt.observerCmds, observer.Terminate)
}

func (s *Session) start(ctx context.Context) (*wiring, error) {
	if _, ok := s.state.advance(StateRunning); !ok {
		return nil, ErrAlreadyRunning
	}
	ctx = log.ContextWithSessionID(ctx, s.id)

	b := bus.New(bus.DefaultCapacity)
	rt := &wiring{
		bus:          b,
		events:       &terminalOnce{next: b},
		ended:        make(chan struct{}),
		logger:       s.logger,
		coordCmds:    make(chan coordinator.Command, commandBuffer),
		observerCmds: make(chan observer.Command, commandBuffer),
		miningCmds:   make(chan mining.Command, commandBuffer),
		terminate:    make(chan struct{}),
	}

	// The gate completes before any node can read the snapshot directory.
	_, span := telemetry.StartPhase(ctx, telemetry.PhaseSnapshot, s.id)
	if s.deps.Gate != nil {
		rt.useSnapshot = s.deps.Gate.Prepare(ctx, s.devnet, snapshot.Options{
			StartLocal: s.opts.StartLocal,
			NoSnapshot: s.opts.NoSnapshot,
		}, rt.events)
	}
	span.SetAttributes(telemetry.SessionAttributes(s.id, s.opts.StartLocal, rt.useSnapshot)...)
	span.End()

	coord, err := coordinator.New(coordinator.Deps{
		Events:           rt.events,
		Commands:         rt.coordCmds,
		Observer:         s.deps.Observer,
		ObserverCommands: rt.observerCmds,
		MiningCommands:   rt.miningCmds,
		Hooks:            s.deps.Hooks,
		Producer:         s.deps.Producer,
		TerminateCluster: rt.terminateCluster,
		Logger:           s.deps.Logger,
	}, coordinator.Config{Devnet: s.devnet, UseSnapshot: rt.useSnapshot})
	if err != nil {
		return nil, err
	}
	rt.coord = coord

	grace := s.deps.Config.Session.GracePeriod
	if grace <= 0 {
		grace = config.DefaultGracePeriod
	}
	rt.cascade = &cascade{
		terminateCluster: rt.terminateCluster,
		observerCmds:     rt.observerCmds,
		miningCmds:       rt.miningCmds,
		events:           rt.events,
		grace:            grace,
		sleep:            s.deps.sleep,
		logger:           s.logger,
	}

	// Coordinator first so the observer listens before nodes come up.
	rt.workers = newWorkers(s.logger, func(_ string, err error) {
		rt.fail(err)
	})
	rt.workers.Go("coordinator", func() error {
		err := coord.Run(ctx)
		if err != nil {
			rt.fail(err)
		}
		return err
	})
	rt.workers.Go("cluster", func() error {
		return s.runCluster(ctx, rt)
	})
	rt.workers.seal()
	go rt.watch()

	s.rt.Store(rt)
	s.logger.Info().
		Bool("start_local", s.opts.StartLocal).
		Bool("use_snapshot", rt.useSnapshot).
		Str(log.FieldWorkingDir, s.devnet.WorkingDir).
		Msg("devnet session started")
	return rt, nil
}

func (s *Session) runCluster(ctx context.Context, rt *wiring) error {
	var err error
	if s.opts.StartLocal {
		err = s.deps.Controller.Start(ctx, rt.events, rt.terminate, s.opts.NoSnapshot)
	} else {
		err = s.deps.Controller.InitializeBaseChainOnly(ctx, rt.events, s.opts.NoSnapshot)
	}
	if err != nil {
		_ = rt.events.Publish(event.FatalError{Message: err.Error()})
		coordinator.TrySend(rt.coordCmds, coordinator.Terminate)
	}
	return err
}

// watch publishes Terminate once every worker returned, so the stream ends
// with a terminal event on every exit path, then closes ended.
func (rt *wiring) watch() {
	<-rt.workers.Done()
	if err := rt.events.Publish(event.Terminate{}); err != nil && !errors.Is(err, bus.ErrClosed) {
		rt.logger.Debug().Err(err).Msg("terminate event not delivered")
	}
	close(rt.ended)
}

// terminalOnce forwards events to the bus and lets only the first terminal
// event through. Later terminal events are discarded without error.
type terminalOnce struct {
	next bus.Producer

	mu   sync.Mutex
	sent bool
}

func (t *terminalOnce) Publish(ev event.Event) error {
	if !event.IsTerminal(ev) {
		return t.next.Publish(ev)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sent {
		return nil
	}
	if err := t.next.Publish(ev); err != nil {
		return err
	}
	t.sent = true
	return nil
}

// fail reports a worker failure on the bus and stops the siblings.
func (rt *wiring) fail(err error) {
	_ = rt.events.Publish(event.FatalError{Message: err.Error()})
	rt.signalAll()
}

// RunEmbedded runs the session to completion, consuming events with the
// headless relay loop or the dashboard. In headless mode an interrupt runs
// the shutdown cascade.
func (s *Session) RunEmbedded(ctx context.Context) error {
	rt, err := s.start(ctx)
	if err != nil {
		return err
	}

	ctx, span := telemetry.StartPhase(ctx, telemetry.PhaseRun, s.id)
	var consumeErr error
	if s.opts.Dashboard {
		consumeErr = s.deps.Dashboard.Run(ctx, dashboard.Deps{
			Events:     rt.bus.C(),
			Commands:   rt.coordCmds,
			Terminated: s.deps.Controller.Terminated(),
			Devnet:     s.devnet,
		})
	} else {
		consumeErr = s.runHeadless(ctx, rt)
	}
	if consumeErr != nil {
		span.RecordError(consumeErr)
		span.SetStatus(codes.Error, consumeErr.Error())
	}
	span.End()

	joinErr := s.finish(ctx, rt, true)
	if consumeErr != nil {
		return consumeErr
	}
	return joinErr
}

// interrupts returns the channel that starts the cascade in headless mode.
// Without injected interrupts the process signal handler is installed, unless
// an external log sink is configured. A nil channel never fires.
func (s *Session) interrupts() (<-chan os.Signal, func()) {
	if s.deps.Interrupts != nil {
		return s.deps.Interrupts, func() {}
	}
	if s.deps.LogSink != nil {
		return nil, func() {}
	}
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	return ch, func() { signal.Stop(ch) }
}

func (s *Session) runHeadless(ctx context.Context, rt *wiring) error {
	interrupts, release := s.interrupts()
	defer release()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case sig := <-interrupts:
			s.logger.Info().Str("signal", fmt.Sprint(sig)).Msg("interrupt received")
		case <-ctx.Done():
		case <-rt.ended:
			return
		case <-stop:
			return
		}
		s.state.advance(StateTerminating)
		rt.cascade.Run()
	}()

	r := &relay{
		events:   rt.bus.C(),
		sink:     s.deps.LogSink,
		logger:   s.logger,
		automine: s.devnet.AutominingEnabled(),
		onBoot: func() {
			s.logger.Info().Bool("automining", s.devnet.AutominingEnabled()).Msg("devnet boot completed")
		},
	}
	return r.run()
}

// finish signals every worker, detaches the bus and joins the workers. With
// drain set, events nobody will read are discarded.
func (s *Session) finish(ctx context.Context, rt *wiring, drain bool) error {
	_, span := telemetry.StartPhase(ctx, telemetry.PhaseJoin, s.id)
	defer span.End()

	s.state.advance(StateTerminating)
	rt.signalAll()
	if drain {
		rt.bus.Close()
		if n := rt.bus.Drain(); n > 0 {
			s.logger.Debug().Int("events", n).Msg("discarded queued events")
		}
	}

	err := rt.workers.Join(context.WithoutCancel(ctx), s.joinTimeout())
	if err == nil {
		select {
		case <-rt.ended:
		case <-ctx.Done():
			rt.bus.Close()
			<-rt.ended
		}
	}
	rt.bus.Close()

	if closer, ok := s.deps.Controller.(io.Closer); ok {
		if cerr := closer.Close(); cerr != nil {
			s.logger.Warn().Err(cerr).Msg("cluster close failed")
		}
	}
	s.state.advance(StateTerminated)

	if err != nil {
		span.RecordError(err)
		s.logger.Error().Err(err).Msg("devnet session ended with error")
		return err
	}
	s.logger.Info().Msg("devnet session terminated")
	return nil
}

// joinTimeout is the configured join timeout, raised above the controller's
// stop budget when that is longer.
func (s *Session) joinTimeout() time.Duration {
	timeout := s.deps.Config.Session.JoinTimeout
	if timeout <= 0 {
		timeout = config.DefaultJoinTimeout
	}
	if b, ok := s.deps.Controller.(cluster.StopBudgeter); ok {
		if budget := b.StopBudget() + joinMargin; budget > timeout {
			timeout = budget
		}
	}
	return timeout
}

// External is a session driven by the caller. The caller is the only
// reader of Events.
type External struct {
	// Events is the consumer half of the event bus.
	Events <-chan event.Event
	// Terminate fires the cluster terminator.
	Terminate func()
	// Commands reaches the chain event coordinator.
	Commands chan<- coordinator.Command

	wait func(ctx context.Context) error
}

// Wait returns once the workers stopped and the terminal event is queued on
// Events, then releases the session. It does not stop the workers itself.
// Events stays readable after Wait; queued events are kept.
func (e *External) Wait(ctx context.Context) error {
	return e.wait(ctx)
}

// RunExternal starts the session and returns immediately, handing the event
// stream and the termination controls to the caller. No interrupt handler
// is installed.
func (s *Session) RunExternal(ctx context.Context) (*External, error) {
	rt, err := s.start(ctx)
	if err != nil {
		return nil, err
	}
	var once sync.Once
	var waitErr error
	return &External{
		Events:    rt.bus.C(),
		Terminate: rt.terminateCluster,
		Commands:  rt.coordCmds,
		wait: func(wctx context.Context) error {
			once.Do(func() {
				select {
				case <-rt.ended:
				case <-wctx.Done():
				}
				waitErr = s.finish(wctx, rt, false)
			})
			return waitErr
		},
	}, nil
}
