// Copyright 2026 The Tracery Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/tracery-project/tracery/cmd/tracery/cli"
)

// workersCommand returns the "workers" command group.
func workersCommand() *cli.Command {
	return &cli.Command{
		Name:    "workers",
		Summary: "Inspect the edge worker registry",
		Subcommands: []*cli.Command{
			workersListCommand(),
			workersDrainCommand("drain", true),
			workersDrainCommand("resume", false),
		},
	}
}

// workersDrainCommand builds "workers drain" or "workers resume": the
// server-side counterpart of the local maintenance marker. The request
// reaches the worker on its next heartbeat.
func workersDrainCommand(name string, enable bool) *cli.Command {
	var configPath string

	summary := "Ask a worker to stop fetching jobs"
	if !enable {
		summary = "Return a drained worker to service"
	}

	return &cli.Command{
		Name:    name,
		Summary: summary,
		Usage:   "tracery workers " + name + " <worker-name>",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet(name, pflag.ContinueOnError)
			flagSet.StringVar(&configPath, "config", "", "path to config file (defaults to $TRACERY_CONFIG)")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("usage: tracery workers %s <worker-name>", name)
			}

			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			store, err := openEdgeStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.SetWorkerMaintenance(context.Background(), args[0], enable); err != nil {
				return err
			}
			if enable {
				fmt.Printf("drain requested for %s; takes effect on its next heartbeat\n", args[0])
			} else {
				fmt.Printf("%s returned to service\n", args[0])
			}
			return nil
		},
	}
}

func workersListCommand() *cli.Command {
	var configPath string
	var asJSON bool

	return &cli.Command{
		Name:    "list",
		Summary: "List registered workers and their state",
		Description: `List every worker that has registered with the server, with its
last reported state, queues, slot usage, and heartbeat age. Workers
whose heartbeats outlive the staleness window show as offline once
the reaper has swept them.`,
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("list", pflag.ContinueOnError)
			flagSet.StringVar(&configPath, "config", "", "path to config file (defaults to $TRACERY_CONFIG)")
			flagSet.BoolVar(&asJSON, "json", false, "output as JSON")
			return flagSet
		},
		Run: func(args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			store, err := openEdgeStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			workers, err := store.Workers(context.Background())
			if err != nil {
				return err
			}

			if asJSON {
				return cli.WriteJSON(workers)
			}

			now := time.Now()
			tw := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
			fmt.Fprintln(tw, "NAME\tSTATE\tQUEUES\tJOBS\tHEARTBEAT\tVERSION")
			for _, worker := range workers {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%s\t%s\n",
					worker.Name,
					worker.State,
					strings.Join(worker.Queues, ","),
					worker.JobsActive,
					worker.Concurrency,
					formatAge(now.Sub(worker.LastHeartbeat)),
					worker.Version,
				)
			}
			return tw.Flush()
		},
	}
}

// formatAge renders a heartbeat age like "12s ago".
func formatAge(age time.Duration) string {
	if age < 0 {
		age = 0
	}
	return fmt.Sprintf("%s ago", age.Round(time.Second))
}
