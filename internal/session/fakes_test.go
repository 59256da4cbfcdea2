// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ManuGH/stacks-devnet/internal/bus"
	"github.com/ManuGH/stacks-devnet/internal/coordinator"
	"github.com/ManuGH/stacks-devnet/internal/event"
	"github.com/ManuGH/stacks-devnet/internal/observer"
)

// fakeController starts nothing. Start blocks until terminate, unless a
// result or a panic is configured.
type fakeController struct {
	startErr   error
	panicWith  any
	startCalls atomic.Int32
	initCalls  atomic.Int32
	sawStop    atomic.Bool

	once       sync.Once
	terminated chan struct{}
}

func newFakeController() *fakeController {
	return &fakeController{terminated: make(chan struct{})}
}

func (f *fakeController) Start(ctx context.Context, events bus.Producer, terminate <-chan struct{}, _ bool) error {
	f.startCalls.Add(1)
	defer f.once.Do(func() { close(f.terminated) })
	if f.panicWith != nil {
		panic(f.panicWith)
	}
	_ = events.Publish(event.Info("cluster starting"))
	if f.startErr != nil {
		return f.startErr
	}
	select {
	case <-terminate:
		f.sawStop.Store(true)
	case <-ctx.Done():
	}
	return nil
}

func (f *fakeController) InitializeBaseChainOnly(_ context.Context, events bus.Producer, _ bool) error {
	f.initCalls.Add(1)
	_ = events.Publish(event.Success("Base chain initialized"))
	return f.startErr
}

func (f *fakeController) Terminated() <-chan struct{} { return f.terminated }

// fakeObserver stops on its first command and then closes the feed. With
// runErr set it fails right away instead.
type fakeObserver struct {
	feed     chan observer.ChainEvent
	commands chan observer.Command
	runErr   error
}

func newFakeObserver() *fakeObserver {
	return &fakeObserver{
		feed:     make(chan observer.ChainEvent, 16),
		commands: make(chan observer.Command, 4),
	}
}

func (f *fakeObserver) Run(ctx context.Context, cmds <-chan observer.Command) error {
	defer close(f.feed)
	if f.runErr != nil {
		return f.runErr
	}
	select {
	case cmd := <-cmds:
		f.commands <- cmd
	case <-ctx.Done():
	}
	return nil
}

func (f *fakeObserver) Feed() <-chan observer.ChainEvent { return f.feed }

type fakeProducer struct {
	mined chan struct{}
}

func (p *fakeProducer) MineBlocks(context.Context, int) ([]string, error) {
	select {
	case p.mined <- struct{}{}:
	default:
	}
	return []string{"0x00"}, nil
}

// logSink records log messages in arrival order.
type logSink struct {
	mu   sync.Mutex
	logs []event.LogData
}

func (s *logSink) record(d event.LogData) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, d)
}

func (s *logSink) messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.logs))
	for _, l := range s.logs {
		out = append(out, l.Message)
	}
	return out
}

func (s *logSink) count(level event.LogLevel) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, l := range s.logs {
		if l.Level == level {
			n++
		}
	}
	return n
}

func (s *logSink) has(msg string) func() bool {
	return func() bool {
		for _, m := range s.messages() {
			if m == msg {
				return true
			}
		}
		return false
	}
}

func noSleep(time.Duration) {}

// budgetController is a fakeController that reports a stop budget.
type budgetController struct {
	*fakeController
	budget time.Duration
}

func (b budgetController) StopBudget() time.Duration { return b.budget }

func trySendCoordinator(ext *External) bool {
	return coordinator.TrySend(ext.Commands, coordinator.Terminate)
}
