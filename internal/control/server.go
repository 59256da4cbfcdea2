// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package control serves the optional HTTP status and control API of a
// devnet session.
package control

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/ManuGH/stacks-devnet/internal/config"
	"github.com/ManuGH/stacks-devnet/internal/health"
	"github.com/ManuGH/stacks-devnet/internal/log"
	"github.com/ManuGH/stacks-devnet/internal/session"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	rateWindow      = time.Minute
	shutdownTimeout = 5 * time.Second
)

// Target is the session the control API reports on and steers.
type Target interface {
	Status() session.Status
	RequestTerminate()
}

// Server is the control HTTP server.
type Server struct {
	cfg    config.ControlConfig
	target Target
	health *health.Manager
	logger zerolog.Logger
	srv    *http.Server
}

// NewServer builds the server. health may be nil, in which case readiness
// only reflects boot completion.
func NewServer(cfg config.ControlConfig, target Target, hm *health.Manager, logger zerolog.Logger) *Server {
	logger = log.Component(logger, "control")
	if hm == nil {
		hm = health.NewManager("", logger)
	}
	hm.RegisterChecker(health.NewFuncChecker("boot", health.StatusUnhealthy, func() (bool, string) {
		if target.Status().Chain.Booted {
			return true, "devnet booted"
		}
		return false, "waiting for boot block"
	}))
	if cfg.RequestLimit <= 0 {
		cfg.RequestLimit = config.DefaultRequestLimit
	}
	s := &Server{cfg: cfg, target: target, health: hm, logger: logger}
	s.srv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(recoverer(s.logger))
	r.Use(requestID)
	r.Use(metrics)

	r.Get("/healthz", s.health.ServeHealth)
	r.Get("/readyz", s.health.ServeReady)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(rateLimit(s.cfg.RequestLimit, rateWindow))
		r.Get("/status", s.handleStatus)
		r.Post("/terminate", s.handleTerminate)
	})
	return otelhttp.NewHandler(r, "devnet-control",
		otelhttp.WithFilter(func(r *http.Request) bool {
			switch r.URL.Path {
			case "/healthz", "/readyz", "/metrics":
				return false
			}
			return true
		}),
	)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.target.Status())
}

func (s *Server) handleTerminate(w http.ResponseWriter, r *http.Request) {
	l := log.WithContext(r.Context(), s.logger)
	l.Info().Str("remote_addr", r.RemoteAddr).Msg("terminate requested over control API")
	s.target.RequestTerminate()
	writeJSON(w, http.StatusAccepted, s.target.Status())
}

// Run serves until ctx is done, then shuts the server down.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("control listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.Info().Str(log.FieldAddr, ln.Addr().String()).Msg("control API listening")
	errCh := make(chan error, 1)
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn().Err(err).Msg("control API shutdown error")
	}
	return <-errCh
}
