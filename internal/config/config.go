// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config loads the YAML project configuration (PDS host and
// repository DID, pacing, logging and metrics settings) with
// environment-variable overrides
// layered on top, mirroring how the rest of the ecosystem treats config
// files as the base and the environment as the deployment-specific
// override.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/ewanc26/lfmimport/internal/errors"
)

const (
	defaultConfigDir  = ".lfmimport"
	defaultConfigFile = "config.yaml"
	configVersion     = "1"
)

// Config is the on-disk lfmimport config.yaml.
type Config struct {
	Version string        `yaml:"version"`
	Repo    RepoConfig    `yaml:"repo"`
	Pacing  PacingConfig  `yaml:"pacing,omitempty"`
	Logging LoggingConfig `yaml:"logging,omitempty"`
	Metrics MetricsConfig `yaml:"metrics,omitempty"`
}

// RepoConfig describes the remote repository target.
type RepoConfig struct {
	Host string `yaml:"host"` // PDS base URL, e.g. https://bsky.social
	DID  string `yaml:"did"`  // repository identifier the records are written into
}

// PacingConfig holds pacing settings read from config.yaml and the
// environment. The CLI does not apply them: the ledger uses its own
// headroom threshold, and a dry run is selected only by --dry-run.
type PacingConfig struct {
	HeadroomThreshold float64 `yaml:"headroom_threshold,omitempty"`
	DryRun            bool    `yaml:"dry_run,omitempty"`
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	Level string `yaml:"level,omitempty"` // debug, info, warn, error
	JSON  bool   `yaml:"json,omitempty"`
}

// MetricsConfig holds prometheus listener settings read from config.yaml
// and LFMIMPORT_METRICS_ADDR. The CLI does not apply them: its listener
// is started only by --metrics-addr.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled,omitempty"`
	Addr    string `yaml:"addr,omitempty"` // e.g. :9090
}

// Default returns a Config with every field at its sensible default,
// used when no config.yaml exists yet.
func Default() *Config {
	return &Config{
		Version: configVersion,
		Logging: LoggingConfig{Level: "info"},
		Metrics: MetricsConfig{Addr: ":9090"},
	}
}

// Load reads configPath (or discovers it via findConfigFile if empty),
// falling back to Default() if no file exists anywhere, and layers
// environment-variable overrides on top either way.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = os.Getenv("LFMIMPORT_CONFIG_PATH")
	}
	if configPath == "" {
		found, err := findConfigFile()
		if err != nil {
			cfg := Default()
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		configPath = found
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, errors.NewConfigError(
			"Cannot read configuration file",
			fmt.Sprintf("failed to read %s", configPath),
			"Check file permissions and ensure the file exists.",
			err,
		)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.NewConfigError(
			"Invalid configuration format",
			"YAML parsing failed — the config file contains syntax errors",
			fmt.Sprintf("Edit %s to fix syntax errors, or delete it to regenerate defaults.", configPath),
			err,
		)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides lets deployment environment variables win over
// file-based configuration, without requiring a config file to exist
// at all.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("LFMIMPORT_PDS_HOST"); v != "" {
		c.Repo.Host = v
	}
	if v := os.Getenv("LFMIMPORT_REPO_DID"); v != "" {
		c.Repo.DID = v
	}
	if v := os.Getenv("LFMIMPORT_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("LFMIMPORT_METRICS_ADDR"); v != "" {
		c.Metrics.Enabled = true
		c.Metrics.Addr = v
	}
	if os.Getenv("LFMIMPORT_DRY_RUN") != "" {
		c.Pacing.DryRun = true
	}
}

// Save writes cfg to configPath as YAML, creating parent directories as
// needed.
func Save(cfg *Config, configPath string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.NewInternalError(
			"Cannot encode configuration",
			"YAML marshaling failed unexpectedly",
			"This is a bug. Please report it.",
			err,
		)
	}

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return errors.NewPermissionError(
			"Cannot create configuration directory",
			fmt.Sprintf("permission denied creating %s", dir),
			"Check directory permissions.",
			err,
		)
	}
	if err := os.WriteFile(configPath, data, 0o600); err != nil {
		return errors.NewPermissionError(
			"Cannot write configuration file",
			fmt.Sprintf("permission denied writing to %s", configPath),
			"Check file permissions and available disk space.",
			err,
		)
	}
	return nil
}

// Path returns the default config file path under dir (typically the
// user's home directory).
func Path(dir string) string {
	return filepath.Join(dir, defaultConfigDir, defaultConfigFile)
}

// Dir returns the default config directory under dir.
func Dir(dir string) string {
	return filepath.Join(dir, defaultConfigDir)
}

// findConfigFile looks for .lfmimport/config.yaml starting in the
// current directory and walking up to the filesystem root.
func findConfigFile() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}

	dir := cwd
	for {
		candidate := Path(dir)
		if _, statErr := os.Stat(candidate); statErr == nil {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", errors.NewConfigError(
		"Configuration file not found",
		"no .lfmimport/config.yaml found in the current directory or any parent",
		"Run 'lfmimport config init' to create one, or set LFMIMPORT_CONFIG_PATH.",
		nil,
	)
}
