// Copyright 2026 The Tracery Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/tracery-project/tracery/cmd/tracery/cli"
	"github.com/tracery-project/tracery/lib/clock"
	"github.com/tracery-project/tracery/lib/dagdef"
	"github.com/tracery-project/tracery/sched"
)

// workflowCommand returns the "workflow" command group.
func workflowCommand() *cli.Command {
	return &cli.Command{
		Name:    "workflow",
		Summary: "Validate, list, and trigger workflows",
		Description: `Manage workflow definitions.

Workflows are JSONC files (JSON plus // comments and trailing commas)
in the configured workflows directory. The file name is the workflow
name: sales.jsonc defines the "sales" workflow. The server loads the
directory at startup, so pushing a new definition means writing the
file and restarting the server.`,
		Subcommands: []*cli.Command{
			workflowValidateCommand(),
			workflowListCommand(),
			workflowTriggerCommand(),
		},
		Examples: []cli.Example{
			{
				Description: "Validate a definition before deploying it",
				Command:     "tracery workflow validate workflows/sales.jsonc",
			},
			{
				Description: "Run the sales workflow now, outside its schedule",
				Command:     "tracery workflow trigger sales",
			},
		},
	}
}

func workflowValidateCommand() *cli.Command {
	return &cli.Command{
		Name:    "validate",
		Summary: "Validate a workflow JSONC file",
		Description: `Validate a workflow definition file: well-formed JSONC, at least one
task, unique identifier-shaped task names, resolvable upstream
references, no dependency cycles, parseable cron schedule, and valid
asset URIs. A purely local check; the server is not contacted.

Exits 1 when the file is invalid.`,
		Usage: "tracery workflow validate <file>",
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("usage: tracery workflow validate <file>")
			}
			path := args[0]

			content, err := dagdef.ReadFile(path)
			if err != nil {
				return err
			}
			if issues := dagdef.Validate(content); len(issues) > 0 {
				for _, issue := range issues {
					fmt.Fprintf(os.Stderr, "  - %s\n", issue)
				}
				fmt.Fprintf(os.Stderr, "%s: %d issue(s) found\n", path, len(issues))
				return &cli.ExitError{Code: 1}
			}

			fmt.Printf("%s: valid (%d tasks)\n", path, len(content.Tasks))
			return nil
		},
	}
}

func workflowListCommand() *cli.Command {
	var configPath string
	var asJSON bool

	return &cli.Command{
		Name:    "list",
		Summary: "List workflow definitions",
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
			workflows, err := dagdef.LoadDir(cfg.Paths.Workflows)
			if err != nil {
				return err
			}

			if asJSON {
				return cli.WriteJSON(workflows)
			}

			tw := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
			fmt.Fprintln(tw, "NAME\tSCHEDULE\tTASKS\tDESCRIPTION")
			for name, content := range workflows {
				schedule := content.Schedule
				if schedule == "" {
					schedule = "(manual)"
				}
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n",
					name, schedule, len(content.Tasks), content.Description)
			}
			return tw.Flush()
		},
	}
}

func workflowTriggerCommand() *cli.Command {
	var configPath string

	return &cli.Command{
		Name:    "trigger",
		Summary: "Create a run of a workflow now",
		Description: `Materialize a run of the named workflow immediately, outside its
cron schedule. The jobs are enqueued against the server's job store
and picked up by edge workers the same way scheduled runs are.

Triggering twice in the same second is idempotent: runs are keyed by
workflow and scheduled time.`,
		Usage: "tracery workflow trigger <workflow>",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("trigger", pflag.ContinueOnError)
			flagSet.StringVar(&configPath, "config", "", "path to config file (defaults to $TRACERY_CONFIG)")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("usage: tracery workflow trigger <workflow>")
			}
			name := args[0]

			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			workflows, err := dagdef.LoadDir(cfg.Paths.Workflows)
			if err != nil {
				return err
			}
			if _, ok := workflows[name]; !ok {
				return fmt.Errorf("unknown workflow %q in %s", name, cfg.Paths.Workflows)
			}

			store, err := openEdgeStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			scheduler, err := sched.New(sched.Config{
				Store:     store,
				Workflows: workflows,
				Interval:  time.Minute, // unused; Run is never called
				Clock:     clock.Real(),
				Logger:    cli.NewCommandLogger(),
			})
			if err != nil {
				return err
			}

			scheduledFor := time.Now().UTC().Truncate(time.Second)
			created, err := scheduler.TriggerRun(context.Background(), name, scheduledFor)
			if err != nil {
				return err
			}
			if !created {
				fmt.Printf("run for %s at %s already exists\n", name, scheduledFor.Format(time.RFC3339))
				return nil
			}

			run, _, err := store.LatestRun(context.Background(), name)
			if err != nil {
				return err
			}
			fmt.Printf("run %s created for workflow %s\n", run.ID, name)
			return nil
		},
	}
}
