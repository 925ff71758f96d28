// Copyright 2026 The Tracery Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"path/filepath"

	"github.com/tracery-project/tracery/cmd/tracery/cli"
	"github.com/tracery-project/tracery/edge"
	"github.com/tracery-project/tracery/lib/clock"
	"github.com/tracery-project/tracery/lib/config"
	"github.com/tracery-project/tracery/lineage"
)

// loadConfig resolves a --config flag value against TRACERY_CONFIG
// and validates the result.
func loadConfig(configPath string) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// openEdgeStore opens the server's worker/job database from the
// configured state directory. The caller must Close it.
func openEdgeStore(cfg *config.Config) (*edge.Store, error) {
	store, err := edge.OpenStore(edge.StoreConfig{
		Path:     filepath.Join(cfg.Paths.State, "edge.db"),
		PoolSize: 1,
		Clock:    clock.Real(),
		Logger:   cli.NewCommandLogger(),
	})
	if err != nil {
		return nil, fmt.Errorf("opening edge store: %w", err)
	}
	return store, nil
}

// openLineageStore opens the server's lineage database from the
// configured state directory. The caller must Close it.
func openLineageStore(cfg *config.Config) (*lineage.Store, error) {
	store, err := lineage.OpenStore(lineage.StoreConfig{
		Path:     filepath.Join(cfg.Paths.State, "lineage.db"),
		PoolSize: 1,
		Clock:    clock.Real(),
		Logger:   cli.NewCommandLogger(),
	})
	if err != nil {
		return nil, fmt.Errorf("opening lineage store: %w", err)
	}
	return store, nil
}
