// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// Validate checks cross-field invariants of a loaded configuration.
func Validate(cfg AppConfig) error {
	if cfg.Devnet == nil {
		return ErrMissingDevnetConfig
	}

	var errs []error
	d := cfg.Devnet

	if strings.TrimSpace(d.WorkingDir) == "" {
		errs = append(errs, fmt.Errorf("devnet.workingDir is required"))
	}
	if d.BitcoinControllerBlockTime <= 0 {
		errs = append(errs, fmt.Errorf("devnet.bitcoinControllerBlockTime must be positive, got %s", d.BitcoinControllerBlockTime))
	}
	if d.Observer.ListenAddr != "" {
		if _, _, err := net.SplitHostPort(d.Observer.ListenAddr); err != nil {
			errs = append(errs, fmt.Errorf("devnet.observer.listenAddr %q: %w", d.Observer.ListenAddr, err))
		}
	}
	errs = append(errs, validateNodes(d.Nodes)...)

	if cfg.Session.GracePeriod < 0 {
		errs = append(errs, fmt.Errorf("session.gracePeriod must not be negative"))
	}
	if cfg.Session.JoinTimeout < 0 {
		errs = append(errs, fmt.Errorf("session.joinTimeout must not be negative"))
	}

	if cfg.Control.ListenAddr != "" {
		if _, _, err := net.SplitHostPort(cfg.Control.ListenAddr); err != nil {
			errs = append(errs, fmt.Errorf("control.listenAddr %q: %w", cfg.Control.ListenAddr, err))
		}
	}

	if cfg.Telemetry.Enabled {
		switch cfg.Telemetry.ExporterType {
		case "grpc", "http":
		default:
			errs = append(errs, fmt.Errorf("telemetry.exporterType %q unsupported (grpc, http)", cfg.Telemetry.ExporterType))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

func validateNodes(nodes []NodeSpec) []error {
	var errs []error
	seen := make(map[string]struct{}, len(nodes))
	base := 0
	for i, n := range nodes {
		if n.Name == "" {
			errs = append(errs, fmt.Errorf("devnet.nodes[%d].name is required", i))
		} else if _, dup := seen[n.Name]; dup {
			errs = append(errs, fmt.Errorf("devnet.nodes[%d]: duplicate node name %q", i, n.Name))
		}
		seen[n.Name] = struct{}{}

		if n.Command == "" {
			errs = append(errs, fmt.Errorf("devnet.nodes[%d].command is required", i))
		}
		switch n.Chain {
		case ChainBase:
			base++
		case ChainL2, ChainAuxiliary:
		default:
			errs = append(errs, fmt.Errorf("devnet.nodes[%d].chain %q unsupported (base, l2, aux)", i, n.Chain))
		}
	}
	if len(nodes) > 0 && base == 0 {
		errs = append(errs, fmt.Errorf("devnet.nodes must contain a base chain node"))
	}
	return errs
}
