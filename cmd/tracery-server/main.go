// Copyright 2026 The Tracery Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"crypto/ed25519"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/tracery-project/tracery/edge"
	"github.com/tracery-project/tracery/lib/clock"
	"github.com/tracery-project/tracery/lib/config"
	"github.com/tracery-project/tracery/lib/dagdef"
	"github.com/tracery-project/tracery/lib/version"
	"github.com/tracery-project/tracery/lib/workertoken"
	"github.com/tracery-project/tracery/lineage"
	"github.com/tracery-project/tracery/sched"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	var showVersion bool

	flag.StringVar(&configPath, "config", "", "path to config file (defaults to $TRACERY_CONFIG)")
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("tracery-server %s\n", version.Info())
		return nil
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.EnsurePaths(); err != nil {
		return err
	}

	publicKey, err := serverPublicKey(cfg)
	if err != nil {
		return err
	}

	workflows, err := dagdef.LoadDir(cfg.Paths.Workflows)
	if err != nil {
		return fmt.Errorf("loading workflows: %w", err)
	}

	logger.Info("starting tracery-server",
		"version", version.Info(),
		"listen_address", cfg.Server.ListenAddress,
		"workflows", len(workflows),
	)

	wallClock := clock.Real()

	store, err := edge.OpenStore(edge.StoreConfig{
		Path:   filepath.Join(cfg.Paths.State, "edge.db"),
		Clock:  wallClock,
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("opening edge store: %w", err)
	}
	defer store.Close()

	lineageStore, err := lineage.OpenStore(lineage.StoreConfig{
		Path:   filepath.Join(cfg.Paths.State, "lineage.db"),
		Clock:  wallClock,
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("opening lineage store: %w", err)
	}
	defer lineageStore.Close()

	logs, err := edge.NewLogManager(cfg.Paths.Logs, store, logger)
	if err != nil {
		return fmt.Errorf("creating log manager: %w", err)
	}

	var forward lineage.Backend
	if cfg.Lineage.ForwardURL != "" {
		forward = &lineage.HTTPBackend{
			URL:          cfg.Lineage.ForwardURL,
			RetryLimit:   cfg.Lineage.RetryLimit,
			RetryBackoff: config.Duration(cfg.Lineage.RetryBackoff),
			Clock:        wallClock,
			Logger:       logger,
		}
		logger.Info("forwarding lineage events", "url", cfg.Lineage.ForwardURL)
	}

	server, err := edge.NewServer(edge.ServerConfig{
		ListenAddress:     cfg.Server.ListenAddress,
		PublicKey:         publicKey,
		Store:             store,
		Logs:              logs,
		Lineage:           lineageStore,
		Forward:           forward,
		HeartbeatInterval: config.Duration(cfg.Server.HeartbeatInterval),
		GraphDepthLimit:   cfg.Server.GraphDepthLimit,
		Clock:             wallClock,
		Logger:            logger,
	})
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	scheduler, err := sched.New(sched.Config{
		Store:     store,
		Workflows: workflows,
		Interval:  config.Duration(cfg.Server.SchedulerInterval),
		Clock:     wallClock,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	stalenessWindow := config.Duration(cfg.Server.StalenessWindow)
	reaper := edge.NewReaper(store, stalenessWindow, stalenessWindow/2, wallClock, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go scheduler.Run(ctx)
	go reaper.Run(ctx)

	// Run blocks until the signal context is cancelled, then drains
	// in-flight requests.
	if err := server.Run(ctx); err != nil {
		return fmt.Errorf("server: %w", err)
	}

	logger.Info("shutdown complete")
	return nil
}

// loadConfig resolves the --config flag against the TRACERY_CONFIG
// environment variable and validates the result.
func loadConfig(configPath string) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// serverPublicKey returns the token verification key: the inline hex
// value when configured, otherwise the keypair on disk.
func serverPublicKey(cfg *config.Config) (ed25519.PublicKey, error) {
	if cfg.Server.PublicKey != "" {
		key, err := workertoken.ParsePublicKeyHex(cfg.Server.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("server.public_key: %w", err)
		}
		return key, nil
	}
	key, err := workertoken.LoadPublicKey(cfg.Paths.Keys)
	if err != nil {
		return nil, fmt.Errorf("loading public key from %s: %w "+
			"(run 'tracery keygen' first, or set server.public_key)", cfg.Paths.Keys, err)
	}
	return key, nil
}
