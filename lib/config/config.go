// Copyright 2026 The Tracery Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for Tracery
// components.
//
// Configuration is loaded from a single file specified by either the
// TRACERY_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There are no fallbacks, no ~/.config discovery,
// and no automatic file search. This ensures deterministic, auditable
// configuration with no hidden overrides.
//
// The configuration file supports environment-specific sections
// (development, staging, production) that override base values when
// [Config].Environment matches.
//
// Variable expansion is performed on path fields after loading:
// ${HOME}, ${TRACERY_ROOT}, and ${VAR:-default} patterns are
// expanded. No other environment variables override config values.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Staging is for pre-production testing.
	Staging Environment = "staging"
	// Production is for production deployments.
	Production Environment = "production"
)

// Config is the master configuration for Tracery.
type Config struct {
	// Environment identifies the deployment type.
	Environment Environment `yaml:"environment"`

	// Paths configures directory locations.
	Paths PathsConfig `yaml:"paths"`

	// Server configures the Tracery server (edge worker API,
	// scheduler, lineage store).
	Server ServerConfig `yaml:"server"`

	// Worker configures the edge worker daemon.
	Worker WorkerConfig `yaml:"worker"`

	// Lineage configures lineage forwarding.
	Lineage LineageConfig `yaml:"lineage"`

	// Per-environment overrides, applied after the base config.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per
// environment.
type ConfigOverrides struct {
	Paths   *PathsConfig   `yaml:"paths,omitempty"`
	Server  *ServerConfig  `yaml:"server,omitempty"`
	Worker  *WorkerConfig  `yaml:"worker,omitempty"`
	Lineage *LineageConfig `yaml:"lineage,omitempty"`
}

// PathsConfig configures directory locations.
type PathsConfig struct {
	// Root is the base directory for Tracery data.
	Root string `yaml:"root"`

	// State is where databases and runtime state are stored.
	State string `yaml:"state"`

	// Logs is where the server materializes job log files.
	Logs string `yaml:"logs"`

	// Workflows is the directory of workflow definition files
	// (.jsonc) loaded by the server at startup.
	Workflows string `yaml:"workflows"`

	// Keys is the directory holding the token signing keypair.
	Keys string `yaml:"keys"`
}

// ServerConfig configures the Tracery server.
type ServerConfig struct {
	// ListenAddress is the TCP address of the edge worker API
	// (e.g., "127.0.0.1:8447").
	ListenAddress string `yaml:"listen_address"`

	// PublicKey is the hex-encoded Ed25519 public key used to
	// verify worker tokens. When empty, the server loads the
	// keypair from Paths.Keys instead.
	PublicKey string `yaml:"public_key,omitempty"`

	// HeartbeatInterval is how often workers should report state
	// (duration string, e.g. "30s").
	HeartbeatInterval string `yaml:"heartbeat_interval"`

	// StalenessWindow is how long a worker may go silent before the
	// reaper marks it offline and orphans its running jobs.
	StalenessWindow string `yaml:"staleness_window"`

	// SchedulerInterval is how often the scheduler evaluates
	// workflow schedules.
	SchedulerInterval string `yaml:"scheduler_interval"`

	// GraphDepthLimit bounds lineage.graph walks. Zero means the
	// built-in default of 10.
	GraphDepthLimit int `yaml:"graph_depth_limit,omitempty"`
}

// WorkerConfig configures the edge worker daemon.
type WorkerConfig struct {
	// Name is the worker's unique identifier. Defaults to the
	// hostname when empty.
	Name string `yaml:"name,omitempty"`

	// ServerURL is the base URL of the Tracery server
	// (e.g., "http://scheduler.internal:8447").
	ServerURL string `yaml:"server_url"`

	// TokenFile is the path to the worker's bearer token
	// (base64url, as minted by "tracery token").
	TokenFile string `yaml:"token_file"`

	// Queues are the queues this worker serves.
	Queues []string `yaml:"queues"`

	// Concurrency is the number of jobs the worker runs at once.
	Concurrency int `yaml:"concurrency"`

	// PollInterval is how often the worker asks for jobs when it
	// has free slots.
	PollInterval string `yaml:"poll_interval"`

	// LogFlushInterval is how often buffered job output is pushed
	// to the server.
	LogFlushInterval string `yaml:"log_flush_interval"`

	// MaintenanceMarker is the path of the atomic maintenance
	// marker file. Empty disables file-driven maintenance mode.
	MaintenanceMarker string `yaml:"maintenance_marker,omitempty"`
}

// LineageConfig configures lineage forwarding to an external service.
type LineageConfig struct {
	// ForwardURL is the endpoint that receives JSON batches of
	// lineage events. Empty disables forwarding; events are still
	// recorded in the local store.
	ForwardURL string `yaml:"forward_url,omitempty"`

	// RetryLimit is the number of delivery attempts per batch.
	RetryLimit int `yaml:"retry_limit"`

	// RetryBackoff is the base delay between delivery attempts;
	// doubled per attempt.
	RetryBackoff string `yaml:"retry_backoff"`
}

// Default returns the default configuration. These defaults ensure
// all fields have sensible zero-values before the config file loads —
// the config file itself is required.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultRoot := filepath.Join(homeDir, ".cache", "tracery")

	return &Config{
		Environment: Development,
		Paths: PathsConfig{
			Root:      defaultRoot,
			State:     filepath.Join(defaultRoot, "state"),
			Logs:      filepath.Join(defaultRoot, "logs"),
			Workflows: filepath.Join(defaultRoot, "workflows"),
			Keys:      filepath.Join(defaultRoot, "keys"),
		},
		Server: ServerConfig{
			ListenAddress:     "127.0.0.1:8447",
			HeartbeatInterval: "30s",
			StalenessWindow:   "2m",
			SchedulerInterval: "20s",
		},
		Worker: WorkerConfig{
			ServerURL:        "http://127.0.0.1:8447",
			Queues:           []string{"default"},
			Concurrency:      4,
			PollInterval:     "5s",
			LogFlushInterval: "3s",
		},
		Lineage: LineageConfig{
			RetryLimit:   5,
			RetryBackoff: "2s",
		},
	}
}

// Load loads configuration from the TRACERY_CONFIG environment
// variable. There are no fallbacks — if TRACERY_CONFIG is not set,
// this fails.
func Load() (*Config, error) {
	configPath := os.Getenv("TRACERY_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("TRACERY_CONFIG environment variable not set; " +
			"set it to the path of your tracery.yaml config file, or use --config flag")
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path. The config
// file is the single source of truth; environment variables do not
// override config values. The only expansion performed is ${HOME} and
// similar path variables for portability.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()

	return cfg, nil
}

// applyEnvironmentOverrides applies the section matching
// c.Environment.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides
	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
	}
	if overrides == nil {
		return
	}

	if overrides.Paths != nil {
		overrideString(&c.Paths.Root, overrides.Paths.Root)
		overrideString(&c.Paths.State, overrides.Paths.State)
		overrideString(&c.Paths.Logs, overrides.Paths.Logs)
		overrideString(&c.Paths.Workflows, overrides.Paths.Workflows)
		overrideString(&c.Paths.Keys, overrides.Paths.Keys)
	}
	if overrides.Server != nil {
		overrideString(&c.Server.ListenAddress, overrides.Server.ListenAddress)
		overrideString(&c.Server.PublicKey, overrides.Server.PublicKey)
		overrideString(&c.Server.HeartbeatInterval, overrides.Server.HeartbeatInterval)
		overrideString(&c.Server.StalenessWindow, overrides.Server.StalenessWindow)
		overrideString(&c.Server.SchedulerInterval, overrides.Server.SchedulerInterval)
		if overrides.Server.GraphDepthLimit != 0 {
			c.Server.GraphDepthLimit = overrides.Server.GraphDepthLimit
		}
	}
	if overrides.Worker != nil {
		overrideString(&c.Worker.Name, overrides.Worker.Name)
		overrideString(&c.Worker.ServerURL, overrides.Worker.ServerURL)
		overrideString(&c.Worker.TokenFile, overrides.Worker.TokenFile)
		if len(overrides.Worker.Queues) > 0 {
			c.Worker.Queues = overrides.Worker.Queues
		}
		if overrides.Worker.Concurrency != 0 {
			c.Worker.Concurrency = overrides.Worker.Concurrency
		}
		overrideString(&c.Worker.PollInterval, overrides.Worker.PollInterval)
		overrideString(&c.Worker.LogFlushInterval, overrides.Worker.LogFlushInterval)
		overrideString(&c.Worker.MaintenanceMarker, overrides.Worker.MaintenanceMarker)
	}
	if overrides.Lineage != nil {
		overrideString(&c.Lineage.ForwardURL, overrides.Lineage.ForwardURL)
		if overrides.Lineage.RetryLimit != 0 {
			c.Lineage.RetryLimit = overrides.Lineage.RetryLimit
		}
		overrideString(&c.Lineage.RetryBackoff, overrides.Lineage.RetryBackoff)
	}
}

func overrideString(target *string, value string) {
	if value != "" {
		*target = value
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in
// paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"TRACERY_ROOT": c.Paths.Root,
		"HOME":         os.Getenv("HOME"),
	}

	c.Paths.Root = expandVars(c.Paths.Root, vars)
	vars["TRACERY_ROOT"] = c.Paths.Root // dependent paths see the expanded root

	c.Paths.State = expandVars(c.Paths.State, vars)
	c.Paths.Logs = expandVars(c.Paths.Logs, vars)
	c.Paths.Workflows = expandVars(c.Paths.Workflows, vars)
	c.Paths.Keys = expandVars(c.Paths.Keys, vars)
	c.Worker.TokenFile = expandVars(c.Worker.TokenFile, vars)
	c.Worker.MaintenanceMarker = expandVars(c.Worker.MaintenanceMarker, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}
	if c.Paths.Root == "" {
		errs = append(errs, fmt.Errorf("paths.root is required"))
	}
	if c.Server.ListenAddress == "" {
		errs = append(errs, fmt.Errorf("server.listen_address is required"))
	}

	durations := map[string]string{
		"server.heartbeat_interval": c.Server.HeartbeatInterval,
		"server.staleness_window":   c.Server.StalenessWindow,
		"server.scheduler_interval": c.Server.SchedulerInterval,
		"worker.poll_interval":      c.Worker.PollInterval,
		"worker.log_flush_interval": c.Worker.LogFlushInterval,
		"lineage.retry_backoff":     c.Lineage.RetryBackoff,
	}
	for field, value := range durations {
		if value == "" {
			errs = append(errs, fmt.Errorf("%s is required", field))
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field, err))
		}
	}

	if c.Worker.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("worker.concurrency must be >= 1"))
	}
	if len(c.Worker.Queues) == 0 {
		errs = append(errs, fmt.Errorf("worker.queues must not be empty"))
	}
	if c.Lineage.RetryLimit < 1 {
		errs = append(errs, fmt.Errorf("lineage.retry_limit must be >= 1"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Duration returns a parsed duration field. Call Validate first;
// Duration panics on unparseable input because that indicates a
// skipped validation, not a runtime condition.
func Duration(value string) time.Duration {
	parsed, err := time.ParseDuration(value)
	if err != nil {
		panic(fmt.Sprintf("config: unvalidated duration %q: %v", value, err))
	}
	return parsed
}

// EnsurePaths creates all configured directories if they don't exist.
func (c *Config) EnsurePaths() error {
	for _, path := range []string{c.Paths.Root, c.Paths.State, c.Paths.Logs, c.Paths.Workflows, c.Paths.Keys} {
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}
	return nil
}
