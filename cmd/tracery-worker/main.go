// Copyright 2026 The Tracery Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/tracery-project/tracery/lib/clock"
	"github.com/tracery-project/tracery/lib/config"
	"github.com/tracery-project/tracery/lib/version"
	"github.com/tracery-project/tracery/worker"
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
		fmt.Printf("tracery-worker %s\n", version.Info())
		return nil
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	name := cfg.Worker.Name
	if name == "" {
		name, err = os.Hostname()
		if err != nil {
			return fmt.Errorf("worker.name not set and hostname unavailable: %w", err)
		}
	}

	if cfg.Worker.TokenFile == "" {
		return fmt.Errorf("worker.token_file is required")
	}
	tokenBytes, err := os.ReadFile(cfg.Worker.TokenFile)
	if err != nil {
		return fmt.Errorf("reading worker token: %w", err)
	}

	logger.Info("starting tracery-worker",
		"version", version.Info(),
		"worker", name,
		"server_url", cfg.Worker.ServerURL,
		"queues", cfg.Worker.Queues,
		"concurrency", cfg.Worker.Concurrency,
	)

	w, err := worker.New(worker.Config{
		Name:              name,
		ServerURL:         cfg.Worker.ServerURL,
		Token:             strings.TrimSpace(string(tokenBytes)),
		Queues:            cfg.Worker.Queues,
		Concurrency:       cfg.Worker.Concurrency,
		PollInterval:      config.Duration(cfg.Worker.PollInterval),
		HeartbeatInterval: config.Duration(cfg.Server.HeartbeatInterval),
		LogFlushInterval:  config.Duration(cfg.Worker.LogFlushInterval),
		MaintenanceMarker: cfg.Worker.MaintenanceMarker,
		Version:           version.Short(),
		Clock:             clock.Real(),
		Logger:            logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Run drains on cancellation: running jobs finish and report
	// before the worker goes offline.
	if err := w.Run(ctx); err != nil {
		return fmt.Errorf("worker: %w", err)
	}

	logger.Info("shutdown complete")
	return nil
}
