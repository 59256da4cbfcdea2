// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Loader handles configuration loading with precedence ENV > File > Defaults.
type Loader struct {
	configPath      string
	version         string
	ConsumedEnvKeys map[string]struct{}
}

// NewLoader creates a new configuration loader
func NewLoader(configPath, version string) *Loader {
	return &Loader{
		configPath:      configPath,
		version:         version,
		ConsumedEnvKeys: make(map[string]struct{}),
	}
}

func (l *Loader) envString(key, defaultVal string) string {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseString(key, defaultVal)
}

func (l *Loader) envBool(key string, defaultVal bool) bool {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseBool(key, defaultVal)
}

// Load loads configuration: defaults, then the YAML file (strict), then
// environment overrides, then validation.
func (l *Loader) Load() (AppConfig, error) {
	cfg := defaults()

	if l.configPath != "" {
		if err := l.loadFile(l.configPath, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	l.mergeEnv(&cfg)

	if cfg.Devnet == nil {
		return cfg, ErrMissingDevnetConfig
	}
	if len(cfg.Devnet.Nodes) == 0 {
		cfg.Devnet.Nodes = DefaultNodes(cfg.Devnet)
	}
	if abs, err := filepath.Abs(cfg.Devnet.WorkingDir); err == nil {
		cfg.Devnet.WorkingDir = abs
	}
	if cfg.Devnet.Snapshot.Dir != "" {
		if abs, err := filepath.Abs(cfg.Devnet.Snapshot.Dir); err == nil {
			cfg.Devnet.Snapshot.Dir = abs
		}
	}

	cfg.Version = l.version

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// loadFile decodes a YAML file into cfg with STRICT parsing.
// Unknown fields cause an error to prevent misconfiguration.
func (l *Loader) loadFile(path string, cfg *AppConfig) error {
	path = filepath.Clean(path)

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	// #nosec G304 -- configuration file paths are provided by the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	var presence struct {
		Devnet *yaml.Node `yaml:"devnet"`
	}
	if err := yaml.Unmarshal(data, &presence); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	if presence.Devnet == nil {
		return ErrMissingDevnetConfig
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		if strings.Contains(err.Error(), "field") && strings.Contains(err.Error(), "not found") {
			return fmt.Errorf("%w: %v", ErrUnknownConfigField, err)
		}
		return fmt.Errorf("strict config parse error: %w", err)
	}

	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("config file contains multiple documents or trailing content")
	}
	return nil
}

func (l *Loader) mergeEnv(cfg *AppConfig) {
	cfg.LogLevel = l.envString("DEVNET_LOG_LEVEL", cfg.LogLevel)

	if d := cfg.Devnet; d != nil {
		d.WorkingDir = l.envString("DEVNET_WORKING_DIR", d.WorkingDir)
		d.BitcoinControllerAutominingDisabled = l.envBool("DEVNET_AUTOMINING_DISABLED", d.BitcoinControllerAutominingDisabled)
		d.EnableSubnetNode = l.envBool("DEVNET_ENABLE_SUBNET_NODE", d.EnableSubnetNode)
		d.Observer.ListenAddr = l.envString("DEVNET_OBSERVER_LISTEN", d.Observer.ListenAddr)
		d.Snapshot.Dir = l.envString("DEVNET_SNAPSHOT_DIR", d.Snapshot.Dir)
		d.Snapshot.Bundle = l.envString("DEVNET_SNAPSHOT_BUNDLE", d.Snapshot.Bundle)
		d.BitcoinRPC.URL = l.envString("DEVNET_BITCOIN_RPC_URL", d.BitcoinRPC.URL)
		d.BitcoinRPC.Password = l.envString("DEVNET_BITCOIN_RPC_PASSWORD", d.BitcoinRPC.Password)

		l.ConsumedEnvKeys["DEVNET_BLOCK_TIME"] = struct{}{}
		d.BitcoinControllerBlockTime = ParseDuration("DEVNET_BLOCK_TIME", d.BitcoinControllerBlockTime)
	}

	l.ConsumedEnvKeys["DEVNET_GRACE_PERIOD"] = struct{}{}
	cfg.Session.GracePeriod = ParseDuration("DEVNET_GRACE_PERIOD", cfg.Session.GracePeriod)
	l.ConsumedEnvKeys["DEVNET_JOIN_TIMEOUT"] = struct{}{}
	cfg.Session.JoinTimeout = ParseDuration("DEVNET_JOIN_TIMEOUT", cfg.Session.JoinTimeout)

	cfg.Control.ListenAddr = l.envString("DEVNET_CONTROL_LISTEN", cfg.Control.ListenAddr)
	l.ConsumedEnvKeys["DEVNET_CONTROL_REQUEST_LIMIT"] = struct{}{}
	cfg.Control.RequestLimit = ParseInt("DEVNET_CONTROL_REQUEST_LIMIT", cfg.Control.RequestLimit)

	cfg.Telemetry.Enabled = l.envBool("DEVNET_TELEMETRY_ENABLED", cfg.Telemetry.Enabled)
	cfg.Telemetry.Endpoint = l.envString("DEVNET_OTLP_ENDPOINT", cfg.Telemetry.Endpoint)
	cfg.Telemetry.ExporterType = l.envString("DEVNET_OTLP_EXPORTER", cfg.Telemetry.ExporterType)
}
