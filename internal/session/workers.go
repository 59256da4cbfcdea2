// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package session

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/ManuGH/stacks-devnet/internal/log"
	"github.com/ManuGH/stacks-devnet/internal/metrics"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// workers supervises the session goroutines. Each worker result is kept; the
// first failure becomes the join error.
type workers struct {
	g       errgroup.Group
	done    chan struct{}
	err     error
	onPanic func(name string, err error)
	logger  zerolog.Logger
}

// newWorkers returns a supervisor. onPanic, if set, runs after a worker
// panic was recovered.
func newWorkers(logger zerolog.Logger, onPanic func(name string, err error)) *workers {
	return &workers{done: make(chan struct{}), onPanic: onPanic, logger: logger}
}

// Go runs fn as the named worker. A panic is recovered and reported as a
// *WorkerError wrapping ErrWorkerPanicked.
func (w *workers) Go(name string, fn func() error) {
	w.g.Go(func() (err error) {
		logger := w.logger.With().Str(log.FieldWorker, name).Logger()
		defer func() {
			if r := recover(); r != nil {
				logger.Error().
					Interface("panic", r).
					Bytes("stack", debug.Stack()).
					Msg("worker panicked")
				metrics.IncWorkerExit(name, "panic")
				err = &WorkerError{Worker: name, Err: fmt.Errorf("%w: %v", ErrWorkerPanicked, r)}
				if w.onPanic != nil {
					w.onPanic(name, err)
				}
			}
		}()

		if err := fn(); err != nil {
			logger.Warn().Err(err).Msg("worker failed")
			metrics.IncWorkerExit(name, "error")
			return &WorkerError{Worker: name, Err: err}
		}
		logger.Debug().Msg("worker finished")
		metrics.IncWorkerExit(name, "ok")
		return nil
	})
}

// seal starts watching for completion. No worker may be added afterwards.
func (w *workers) seal() {
	go func() {
		w.err = w.g.Wait()
		close(w.done)
	}()
}

// Done is closed once every worker returned.
func (w *workers) Done() <-chan struct{} { return w.done }

// Join waits for every worker up to timeout (0 waits forever) or until ctx
// is done.
func (w *workers) Join(ctx context.Context, timeout time.Duration) error {
	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}
	select {
	case <-w.done:
		return w.err
	case <-expired:
		return fmt.Errorf("%w after %s", ErrJoinTimeout, timeout)
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrJoinTimeout, ctx.Err())
	}
}
