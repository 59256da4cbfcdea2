// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package observer receives the event notifications chain nodes post over
// HTTP and turns them into a feed of ChainEvent values.
package observer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/ManuGH/stacks-devnet/internal/config"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

const (
	maxBodyBytes    = 16 << 20
	shutdownTimeout = 2 * time.Second
)

// ErrAlreadyRunning is returned by a second call to Run.
var ErrAlreadyRunning = errors.New("observer already running")

// Server is the event observer endpoint. Run may be called once.
type Server struct {
	addr   string
	logger zerolog.Logger

	feed     chan ChainEvent
	stopping chan struct{}
	stopOnce sync.Once

	mu     sync.RWMutex
	closed bool

	startOnce sync.Once
	boundAddr chan string
}

// NewServer creates an observer listening on addr once Run is called.
func NewServer(addr string, logger zerolog.Logger) *Server {
	return &Server{
		addr:      addr,
		logger:    logger.With().Str("component", "observer").Logger(),
		feed:      make(chan ChainEvent, 64),
		stopping:  make(chan struct{}),
		boundAddr: make(chan string, 1),
	}
}

// Feed delivers chain events in arrival order. It is closed when Run returns.
func (s *Server) Feed() <-chan ChainEvent { return s.feed }

// Addr blocks until the listener is bound and returns its address.
func (s *Server) Addr(ctx context.Context) (string, error) {
	select {
	case a := <-s.boundAddr:
		s.boundAddr <- a
		return a, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Handler returns the HTTP routes of the observer.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/ping", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Post("/new_block", s.handleNewBlock)
	r.Post("/new_burn_block", s.handleNewBurnBlock)
	r.Post("/new_mempool_tx", s.handleNewMempoolTx)
	r.Post("/drop_mempool_tx", s.handleDropMempoolTx)
	r.Post("/new_microblocks", s.accept)
	r.Post("/attachments/new", s.accept)
	return r
}

// Run serves until ctx is done or a Terminate command arrives, then shuts the
// server down and closes the feed.
func (s *Server) Run(ctx context.Context, commands <-chan Command) error {
	started := false
	s.startOnce.Do(func() { started = true })
	if !started {
		return ErrAlreadyRunning
	}
	defer s.closeFeed()

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("observer listen %s: %w", s.addr, err)
	}
	s.boundAddr <- ln.Addr().String()

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ln) }()
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("event observer listening")

	var runErr error
	select {
	case <-ctx.Done():
	case cmd := <-commands:
		s.logger.Debug().Int("command", int(cmd)).Msg("observer command received")
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("observer serve: %w", err)
		}
	}

	s.stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn().Err(err).Msg("observer shutdown incomplete")
		_ = srv.Close()
	}
	s.logger.Info().Msg("event observer stopped")
	return runErr
}

func (s *Server) stop() {
	s.stopOnce.Do(func() { close(s.stopping) })
}

func (s *Server) closeFeed() {
	s.stop()
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.feed)
	}
}

// emit forwards ev to the feed, giving up when the request or the server ends.
func (s *Server) emit(ctx context.Context, ev ChainEvent) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	select {
	case s.feed <- ev:
		return true
	case <-s.stopping:
		return false
	case <-ctx.Done():
		return false
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v); err != nil {
		http.Error(w, "invalid payload: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) deliver(w http.ResponseWriter, r *http.Request, ev ChainEvent) {
	if !s.emit(r.Context(), ev) {
		http.Error(w, "observer stopping", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleNewBlock(w http.ResponseWriter, r *http.Request) {
	var p newBlockPayload
	if !decode(w, r, &p) {
		return
	}
	ev := BlockEvent{Chain: config.ChainL2, Height: p.BlockHeight, Hash: p.BlockHash}
	for _, tx := range p.Transactions {
		ev.TxIDs = append(ev.TxIDs, tx.TxID)
	}
	s.deliver(w, r, ev)
}

func (s *Server) handleNewBurnBlock(w http.ResponseWriter, r *http.Request) {
	var p newBurnBlockPayload
	if !decode(w, r, &p) {
		return
	}
	s.deliver(w, r, BlockEvent{Chain: config.ChainBase, Height: p.BurnBlockHeight, Hash: p.BurnBlockHash})
}

func (s *Server) handleNewMempoolTx(w http.ResponseWriter, r *http.Request) {
	var raw []string
	if !decode(w, r, &raw) {
		return
	}
	s.deliver(w, r, MempoolEvent{TxIDs: raw})
}

func (s *Server) handleDropMempoolTx(w http.ResponseWriter, r *http.Request) {
	var p dropMempoolPayload
	if !decode(w, r, &p) {
		return
	}
	s.deliver(w, r, MempoolEvent{TxIDs: p.DroppedTxIDs, Dropped: true, Reason: p.Reason})
}

func (s *Server) accept(w http.ResponseWriter, r *http.Request) {
	_, _ = io.Copy(io.Discard, io.LimitReader(r.Body, maxBodyBytes))
	w.WriteHeader(http.StatusOK)
}
