// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package health

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"os/exec"
	"strconv"

	"github.com/ManuGH/stacks-devnet/internal/config"
	"github.com/rs/zerolog"
)

// StartupOptions select which environment checks apply.
type StartupOptions struct {
	// StartLocal requires every active node binary to be on PATH.
	StartLocal bool
	// LookPath resolves node commands; nil uses exec.LookPath.
	LookPath func(string) (string, error)
}

// PerformStartupChecks validates the environment before any worker starts.
// Every failure is collected into the returned error.
func PerformStartupChecks(_ context.Context, cfg config.AppConfig, opts StartupOptions, logger zerolog.Logger) error {
	if cfg.Devnet == nil {
		return config.ErrMissingDevnetConfig
	}
	d := cfg.Devnet
	logger.Info().Msg("running startup checks")

	var errs []error
	if err := os.MkdirAll(d.WorkingDir, 0o755); err != nil {
		errs = append(errs, fmt.Errorf("create working directory: %w", err))
	} else if err := checkWritableDir(d.WorkingDir); err != nil {
		errs = append(errs, fmt.Errorf("working directory check failed: %w", err))
	} else {
		logger.Debug().Str("path", d.WorkingDir).Msg("working directory is writable")
	}

	if err := checkListenAddr("observer", d.Observer.ListenAddr); err != nil {
		errs = append(errs, err)
	}
	if cfg.Control.ListenAddr != "" {
		if err := checkListenAddr("control", cfg.Control.ListenAddr); err != nil {
			errs = append(errs, err)
		}
	}
	if err := checkHTTPURL("bitcoin RPC", d.BitcoinRPC.URL); err != nil {
		errs = append(errs, err)
	}

	if opts.StartLocal {
		lookPath := opts.LookPath
		if lookPath == nil {
			lookPath = exec.LookPath
		}
		for _, n := range d.ActiveNodes() {
			if _, err := lookPath(n.Command); err != nil {
				errs = append(errs, fmt.Errorf("node %s: command %q not found: %w", n.Name, n.Command, err))
			}
		}
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}
	logger.Info().Msg("all startup checks passed")
	return nil
}

func checkListenAddr(name, addr string) error {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid %s listen address %q: %w", name, addr, err)
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 0 || n > 65535 {
		return fmt.Errorf("invalid %s listen port %q in %q", name, port, addr)
	}
	return nil
}

func checkHTTPURL(name, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s URL: %w", name, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s URL scheme must be http or https, got: %q", name, u.Scheme)
	}
	return nil
}
