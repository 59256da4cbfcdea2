// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package bus implements the devnet event bus: an ordered multi-producer,
// single-consumer queue of event.Event values.
package bus

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/ManuGH/stacks-devnet/internal/event"
	"github.com/ManuGH/stacks-devnet/internal/log"
	"github.com/ManuGH/stacks-devnet/internal/metrics"
)

// DefaultCapacity is the queue depth used by New when capacity <= 0.
const DefaultCapacity = 1024

const dropLogEvery = 100

// ErrClosed is returned by Publish once the consumer side has gone away.
var ErrClosed = errors.New("event bus closed")

// Producer is the sending half handed to every component.
type Producer interface {
	Publish(ev event.Event) error
}

// ProducerFunc adapts a function to the Producer interface.
type ProducerFunc func(ev event.Event) error

func (f ProducerFunc) Publish(ev event.Event) error { return f(ev) }

// Bus is the single event channel of a session. Events from one producer are
// received in publish order; no order is defined across producers.
type Bus struct {
	ch        chan event.Event
	closed    chan struct{}
	closeOnce sync.Once
	dropped   atomic.Uint64
}

// New creates a bus with the given queue capacity.
func New(capacity int) *Bus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Bus{
		ch:     make(chan event.Event, capacity),
		closed: make(chan struct{}),
	}
}

// Publish enqueues ev. It blocks while the queue is full and the consumer is
// still attached, and fails fast with ErrClosed after Close.
func (b *Bus) Publish(ev event.Event) error {
	kind := event.Kind(ev)
	select {
	case <-b.closed:
		b.drop(kind, "closed")
		return ErrClosed
	default:
	}
	select {
	case b.ch <- ev:
		metrics.IncBusEvent(kind)
		return nil
	case <-b.closed:
		b.drop(kind, "closed")
		return ErrClosed
	}
}

func (b *Bus) drop(kind, reason string) {
	metrics.IncBusDrop(kind, reason)
	count := b.dropped.Add(1)
	if count%dropLogEvery == 0 {
		logger := log.WithComponent("bus")
		logger.Warn().
			Str("kind", kind).
			Str("reason", reason).
			Uint64("dropped", count).
			Msg("event bus dropped events after consumer detached")
	}
}

// C returns the receiving half. It is never closed; consumers stop on a
// terminal event.
func (b *Bus) C() <-chan event.Event {
	return b.ch
}

// Close detaches the consumer. Later publishes fail with ErrClosed. Close is
// idempotent.
func (b *Bus) Close() {
	b.closeOnce.Do(func() { close(b.closed) })
}

// Closed reports whether Close was called.
func (b *Bus) Closed() bool {
	select {
	case <-b.closed:
		return true
	default:
		return false
	}
}

// Drain discards every queued event and returns how many were dropped.
func (b *Bus) Drain() int {
	n := 0
	for {
		select {
		case ev := <-b.ch:
			n++
			metrics.IncBusDrop(event.Kind(ev), "drained")
		default:
			return n
		}
	}
}

// Dropped returns how many publishes were rejected after Close.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Ensure compliance
var _ Producer = (*Bus)(nil)
