// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package snapshot decides whether a cached chain-state snapshot can be used
// for a devnet run and extracts the bundled baseline when no cache exists.
//
// Every failure in this package degrades to a warning on the event bus; the
// run always continues, with or without a snapshot.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ManuGH/stacks-devnet/internal/bus"
	"github.com/ManuGH/stacks-devnet/internal/config"
	"github.com/ManuGH/stacks-devnet/internal/event"
	"github.com/google/go-cmp/cmp"
	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

const (
	// ReadyMarker exists once a snapshot directory is complete.
	ReadyMarker = "epoch_3_ready"
	// RecordedConfigName holds the fingerprint the snapshot was built with.
	RecordedConfigName = "snapshot.yaml"
)

// Verdict is the outcome of comparing the requested configuration with the
// configuration recorded for the cached snapshot.
type Verdict struct {
	Compatible bool
	Reason     string
}

// Options selects whether the gate applies to a run.
type Options struct {
	// StartLocal is true when this process starts the node services itself.
	StartLocal bool
	// NoSnapshot is the operator opt-out.
	NoSnapshot bool
}

// Gate guards one snapshot directory.
type Gate struct {
	dir    string
	bundle Bundle
	logger zerolog.Logger
}

// NewGate returns a gate for dir. A nil bundle behaves like NoBundle.
func NewGate(dir string, bundle Bundle, logger zerolog.Logger) *Gate {
	if bundle == nil {
		bundle = NoBundle{}
	}
	return &Gate{
		dir:    dir,
		bundle: bundle,
		logger: logger.With().Str("component", "snapshot").Logger(),
	}
}

// Dir returns the snapshot directory.
func (g *Gate) Dir() string { return g.dir }

// Ready reports whether the ready marker exists.
func (g *Gate) Ready() bool {
	_, err := os.Stat(filepath.Join(g.dir, ReadyMarker))
	return err == nil
}

// Recorded returns the fingerprint stored next to the cached snapshot, or the
// bundled default when nothing was recorded.
func (g *Gate) Recorded() (config.Fingerprint, error) {
	data, err := os.ReadFile(filepath.Join(g.dir, RecordedConfigName))
	if errors.Is(err, os.ErrNotExist) {
		return config.DefaultFingerprint(), nil
	}
	if err != nil {
		return config.Fingerprint{}, fmt.Errorf("read recorded snapshot config: %w", err)
	}
	var fp config.Fingerprint
	if err := yaml.Unmarshal(data, &fp); err != nil {
		return config.Fingerprint{}, fmt.Errorf("parse recorded snapshot config: %w", err)
	}
	return fp, nil
}

// Evaluate compares the requested configuration with the recorded one.
func (g *Gate) Evaluate(cfg config.DevnetConfig) Verdict {
	recorded, err := g.Recorded()
	if err != nil {
		return Verdict{Reason: err.Error()}
	}
	if diff := cmp.Diff(recorded, cfg.Fingerprint()); diff != "" {
		return Verdict{Reason: "configuration differs from snapshot (-snapshot +requested):\n" + diff}
	}
	return Verdict{Compatible: true}
}

// Ensure extracts the bundled snapshot when no ready snapshot exists. Each
// outcome is reported on events; the returned error is informational only.
func (g *Gate) Ensure(ctx context.Context, events bus.Producer) (bool, error) {
	if g.Ready() {
		return true, nil
	}

	_ = events.Publish(event.Info("No existing snapshot found, extracting embedded snapshot data..."))

	extracted, err := g.extract(ctx)
	switch {
	case err != nil:
		_ = events.Publish(event.Warning(fmt.Sprintf(
			"Failed to extract embedded snapshot: %v. Continuing without snapshot.", err)))
		return false, err
	case !extracted:
		_ = events.Publish(event.Warning("No embedded snapshot available"))
		return false, nil
	default:
		_ = events.Publish(event.Success("Embedded snapshot extracted successfully"))
		return true, nil
	}
}

// Prepare runs the gate for a session and reports whether nodes may start
// from the snapshot. It never fails the run.
func (g *Gate) Prepare(ctx context.Context, cfg config.DevnetConfig, opts Options, events bus.Producer) bool {
	if !opts.StartLocal || opts.NoSnapshot {
		g.logger.Debug().
			Bool("start_local", opts.StartLocal).
			Bool("no_snapshot", opts.NoSnapshot).
			Msg("snapshot gate skipped")
		return false
	}

	verdict := g.Evaluate(cfg)
	if !verdict.Compatible {
		g.logger.Warn().Str("reason", verdict.Reason).Msg("snapshot incompatible with requested configuration")
		_ = events.Publish(event.Warning("Default snapshot can not be used: " + verdict.Reason))
		return false
	}

	ready, err := g.Ensure(ctx, events)
	if err != nil {
		g.logger.Warn().Err(err).Msg("snapshot extraction failed")
	}
	return ready
}

// extract unpacks the bundle into a staging directory next to g.dir and
// swaps it into place once complete.
func (g *Gate) extract(ctx context.Context) (bool, error) {
	rc, err := g.bundle.Open()
	if errors.Is(err, ErrNoBundle) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer func() { _ = rc.Close() }()

	parent := filepath.Dir(g.dir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return false, fmt.Errorf("create snapshot parent: %w", err)
	}
	staging, err := os.MkdirTemp(parent, ".snapshot-*")
	if err != nil {
		return false, fmt.Errorf("create staging dir: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = os.RemoveAll(staging)
		}
	}()

	files, err := extractTar(ctx, rc, staging, g.logger)
	if err != nil {
		return false, err
	}

	recordedPath := filepath.Join(staging, RecordedConfigName)
	if _, err := os.Stat(recordedPath); errors.Is(err, os.ErrNotExist) {
		data, err := yaml.Marshal(config.DefaultFingerprint())
		if err != nil {
			return false, fmt.Errorf("encode snapshot config: %w", err)
		}
		if err := renameio.WriteFile(recordedPath, data, 0o644); err != nil {
			return false, fmt.Errorf("record snapshot config: %w", err)
		}
	}
	if err := renameio.WriteFile(filepath.Join(staging, ReadyMarker), nil, 0o644); err != nil {
		return false, fmt.Errorf("write ready marker: %w", err)
	}

	if err := os.RemoveAll(g.dir); err != nil {
		return false, fmt.Errorf("clear stale snapshot: %w", err)
	}
	if err := os.Rename(staging, g.dir); err != nil {
		return false, fmt.Errorf("install snapshot: %w", err)
	}
	committed = true

	g.logger.Info().
		Str("path", g.dir).
		Int("files", files).
		Msg("snapshot extracted")
	return true, nil
}
