// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Command devnet boots a local Stacks development network and supervises it
// until interrupted.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ManuGH/stacks-devnet/internal/chainhook"
	"github.com/ManuGH/stacks-devnet/internal/cluster"
	"github.com/ManuGH/stacks-devnet/internal/config"
	"github.com/ManuGH/stacks-devnet/internal/control"
	"github.com/ManuGH/stacks-devnet/internal/coordinator"
	"github.com/ManuGH/stacks-devnet/internal/dashboard"
	"github.com/ManuGH/stacks-devnet/internal/health"
	"github.com/ManuGH/stacks-devnet/internal/log"
	"github.com/ManuGH/stacks-devnet/internal/observer"
	"github.com/ManuGH/stacks-devnet/internal/session"
	"github.com/ManuGH/stacks-devnet/internal/snapshot"
	"github.com/ManuGH/stacks-devnet/internal/telemetry"
	"github.com/rs/zerolog"
)

var (
	version   = "v0.1.0"
	commit    = "none"
	buildDate = "unknown"
)

// flags are the command line options of one run.
type flags struct {
	configPath string
	noSnapshot bool
	dashboard  bool
	namespace  string
	hookURL    string
}

// errDashboardAttach rejects the dashboard for a coordinated network.
var errDashboardAttach = errors.New("the dashboard is not available with -namespace")

func (f flags) validate() error {
	if f.dashboard && f.namespace != "" {
		return errDashboardAttach
	}
	return nil
}

func (f flags) options() session.Options {
	return session.Options{
		StartLocal: f.namespace == "",
		NoSnapshot: f.noSnapshot,
		Dashboard:  f.dashboard,
	}
}

func main() {
	var f flags
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.StringVar(&f.configPath, "config", "", "path to config file (YAML)")
	flag.BoolVar(&f.noSnapshot, "no-snapshot", false, "boot from genesis instead of the snapshot")
	flag.BoolVar(&f.dashboard, "dashboard", false, "render events on the console dashboard")
	flag.StringVar(&f.namespace, "namespace", "", "attach to an externally coordinated network in this namespace")
	flag.StringVar(&f.hookURL, "chainhook-url", "", "POST every new block to this URL")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	boot := log.New(log.Config{Level: "info", Service: "stacks-devnet", Version: version})
	if err := f.validate(); err != nil {
		boot.Fatal().Err(err).Str("event", "flags.invalid").Msg("invalid command line")
	}

	cfg, err := config.NewLoader(f.configPath, version).Load()
	if err != nil {
		boot.Fatal().
			Err(err).
			Str("event", "config.load_failed").
			Str("config_path", f.configPath).
			Msg("failed to load configuration")
	}

	log.Configure(log.Config{
		Level:   cfg.LogLevel,
		Service: cfg.LogService,
		Version: cfg.Version,
	})
	logger := log.WithComponent("devnet")

	if err := run(cfg, f, logger); err != nil {
		logger.Fatal().Err(err).Str("event", "devnet.failed").Msg("devnet terminated with error")
	}
}

func run(cfg config.AppConfig, f flags, logger zerolog.Logger) error {
	opts := f.options()
	d := cfg.Devnet

	if err := health.PerformStartupChecks(context.Background(), cfg, health.StartupOptions{StartLocal: opts.StartLocal}, logger); err != nil {
		return fmt.Errorf("startup checks failed: %w", err)
	}

	tp, err := telemetry.NewProvider(context.Background(), telemetry.FromConfig(cfg.Telemetry, cfg.LogService, cfg.Version, d))
	if err != nil {
		logger.Warn().Err(err).Msg("telemetry initialization failed, continuing without tracing")
	} else {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(ctx); err != nil {
				logger.Warn().Err(err).Msg("telemetry shutdown error")
			}
		}()
	}

	// Node and observer chatter goes to networking.log when this process
	// runs the nodes itself.
	netLogger := logger
	if opts.StartLocal {
		file, err := log.OpenFile(d.WorkingDir, log.NetworkingLogName)
		if err != nil {
			return err
		}
		defer func() { _ = file.Close() }()
		netLogger = log.New(log.Config{Level: cfg.LogLevel, Output: file, Service: cfg.LogService, Version: cfg.Version})
	} else {
		logger.Info().Str("namespace", f.namespace).Msg("attaching to coordinated network")
	}

	var bundle snapshot.Bundle = snapshot.NoBundle{}
	if d.Snapshot.Bundle != "" {
		bundle = snapshot.FileBundle{Path: d.Snapshot.Bundle}
	}
	gate := snapshot.NewGate(d.Snapshot.Dir, bundle, logger)

	hooks, err := chainhook.NewStore()
	if err != nil {
		return err
	}
	if f.hookURL != "" {
		if _, err := hooks.Register(chainhook.Hook{
			Name:      "block-webhook",
			Predicate: chainhook.Predicate{Scope: chainhook.ScopeBlock},
			Action:    chainhook.HTTPPost{URL: f.hookURL},
		}); err != nil {
			return err
		}
	}

	deps := session.Deps{
		Config:     cfg,
		Controller: cluster.NewProcessController(*d, gate.Dir(), netLogger),
		Observer:   observer.NewServer(d.Observer.ListenAddr, netLogger),
		Gate:       gate,
		Hooks:      hooks,
		Producer:   coordinator.NewRPCProducer(d.BitcoinRPC, d.MinerAddress, nil),
		Logger:     logger,
	}
	if opts.Dashboard {
		deps.Dashboard = dashboard.NewConsole(os.Stderr)
	}
	sess, err := session.New(deps, opts)
	if err != nil {
		return err
	}

	// Headless sessions install their own interrupt handler; the dashboard
	// reacts to a cancelled context instead.
	ctx := context.Background()
	if opts.Dashboard {
		var stop context.CancelFunc
		ctx, stop = signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()
	}

	if cfg.Control.ListenAddr != "" {
		hm := health.NewManager(cfg.Version, logger)
		hm.RegisterChecker(health.NewDirChecker("working_dir", d.WorkingDir))
		srv := control.NewServer(cfg.Control, sess, hm, logger)

		ctrlCtx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := srv.Run(ctrlCtx); err != nil {
				logger.Error().Err(err).Msg("control API failed")
			}
		}()
		defer func() {
			cancel()
			<-done
		}()
	}

	return sess.RunEmbedded(ctx)
}
