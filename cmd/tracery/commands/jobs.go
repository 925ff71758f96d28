// Copyright 2026 The Tracery Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/tracery-project/tracery/cmd/tracery/cli"
	"github.com/tracery-project/tracery/edge"
)

// jobsCommand returns the "jobs" command group.
func jobsCommand() *cli.Command {
	return &cli.Command{
		Name:    "jobs",
		Summary: "Inspect runs and their jobs",
		Subcommands: []*cli.Command{
			jobsListCommand(),
		},
		Examples: []cli.Example{
			{
				Description: "Show the jobs of the sales workflow's latest run",
				Command:     "tracery jobs list --workflow sales",
			},
			{
				Description: "Show the jobs of a specific run",
				Command:     "tracery jobs list --run 2f1c2f6e-5a1b-4c3d-9e8f-0a1b2c3d4e5f",
			},
		},
	}
}

func jobsListCommand() *cli.Command {
	var configPath string
	var runID string
	var workflow string
	var asJSON bool

	return &cli.Command{
		Name:    "list",
		Summary: "List the jobs of a run",
		Description: `List the jobs of one workflow run with their state, assigned
worker, attempt, and exit code. Select the run by --run, or by
--workflow for that workflow's latest run.`,
		Usage: "tracery jobs list (--run <id> | --workflow <name>)",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("list", pflag.ContinueOnError)
			flagSet.StringVar(&configPath, "config", "", "path to config file (defaults to $TRACERY_CONFIG)")
			flagSet.StringVar(&runID, "run", "", "run ID")
			flagSet.StringVar(&workflow, "workflow", "", "workflow name (uses its latest run)")
			flagSet.BoolVar(&asJSON, "json", false, "output as JSON")
			return flagSet
		},
		Run: func(args []string) error {
			if (runID == "") == (workflow == "") {
				return fmt.Errorf("exactly one of --run or --workflow is required")
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

			ctx := context.Background()
			if runID == "" {
				run, found, err := store.LatestRun(ctx, workflow)
				if err != nil {
					return err
				}
				if !found {
					return fmt.Errorf("workflow %q has no runs", workflow)
				}
				runID = run.ID
			}

			jobs, err := store.JobsForRun(ctx, runID)
			if err != nil {
				return err
			}
			if len(jobs) == 0 {
				return fmt.Errorf("run %q has no jobs", runID)
			}

			if asJSON {
				return cli.WriteJSON(jobs)
			}
			printJobTable(jobs)
			return nil
		},
	}
}

func printJobTable(jobs []edge.JobStatus) {
	tw := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
	fmt.Fprintln(tw, "TASK\tSTATE\tQUEUE\tWORKER\tATTEMPT\tEXIT\tMESSAGE")
	for _, status := range jobs {
		exit := "-"
		if status.ExitCode != nil {
			exit = fmt.Sprintf("%d", *status.ExitCode)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			status.Job.Task,
			status.State,
			status.Job.Queue,
			status.Worker,
			status.Job.Attempt,
			exit,
			status.Message,
		)
	}
	tw.Flush()
}
