// Copyright 2026 The Tracery Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"os/user"
	"time"

	"github.com/spf13/pflag"

	"github.com/tracery-project/tracery/cmd/tracery/cli"
	"github.com/tracery-project/tracery/worker"
)

// maintenanceCommand returns the "maintenance" command group. It
// operates on the local worker's marker file, so it runs on the
// worker host, not the server.
func maintenanceCommand() *cli.Command {
	var configPath string
	var markerPath string

	flags := func(name string) func() *pflag.FlagSet {
		return func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet(name, pflag.ContinueOnError)
			flagSet.StringVar(&configPath, "config", "", "path to config file (defaults to $TRACERY_CONFIG)")
			flagSet.StringVar(&markerPath, "marker", "", "marker file path (defaults to worker.maintenance_marker from config)")
			return flagSet
		}
	}

	resolveMarker := func() (string, error) {
		if markerPath != "" {
			return markerPath, nil
		}
		cfg, err := loadConfig(configPath)
		if err != nil {
			return "", err
		}
		if cfg.Worker.MaintenanceMarker == "" {
			return "", fmt.Errorf("worker.maintenance_marker not configured; pass --marker")
		}
		return cfg.Worker.MaintenanceMarker, nil
	}

	return &cli.Command{
		Name:    "maintenance",
		Summary: "Drain or resume the local edge worker",
		Description: `Drain the local edge worker without stopping it.

"on" writes the maintenance marker file: the worker finishes its
running jobs, stops fetching new ones, and heartbeats as
maintenance. "off" removes the marker and the worker resumes on its
next poll. The marker is written atomically, so a worker never sees
a half-written file.`,
		Subcommands: []*cli.Command{
			{
				Name:    "on",
				Summary: "Put the local worker into maintenance",
				Flags:   flags("on"),
				Run: func(args []string) error {
					path, err := resolveMarker()
					if err != nil {
						return err
					}
					requestedBy := "operator"
					if current, err := user.Current(); err == nil {
						requestedBy = current.Username
					}
					if err := worker.WriteMarker(path, requestedBy, time.Now()); err != nil {
						return err
					}
					fmt.Printf("maintenance marker written to %s\n", path)
					return nil
				},
			},
			{
				Name:    "off",
				Summary: "Return the local worker to service",
				Flags:   flags("off"),
				Run: func(args []string) error {
					path, err := resolveMarker()
					if err != nil {
						return err
					}
					if err := worker.RemoveMarker(path); err != nil {
						return err
					}
					fmt.Printf("maintenance marker %s removed\n", path)
					return nil
				},
			},
			{
				Name:    "status",
				Summary: "Report whether the marker is present",
				Flags:   flags("status"),
				Run: func(args []string) error {
					path, err := resolveMarker()
					if err != nil {
						return err
					}
					if worker.MarkerPresent(path) {
						fmt.Println("maintenance: on")
						return nil
					}
					fmt.Println("maintenance: off")
					return nil
				},
			},
		},
	}
}
