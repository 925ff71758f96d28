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
	"github.com/tracery-project/tracery/lib/schema"
)

// lineageCommand returns the "lineage" command group.
func lineageCommand() *cli.Command {
	return &cli.Command{
		Name:    "lineage",
		Summary: "Query the data lineage graph",
		Description: `Query collected lineage: which tasks read and wrote which assets.

The graph is bipartite — asset nodes alternate with task nodes — and
every edge points from producer to consumer. Upstream walks answer
"where did this come from", downstream walks answer "what breaks if
this is wrong".`,
		Subcommands: []*cli.Command{
			lineageGraphCommand(),
			lineageEventsCommand(),
		},
		Examples: []cli.Example{
			{
				Description: "Trace an asset back to its sources, three task hops deep",
				Command:     "tracery lineage graph s3://warehouse/orders_clean --depth 3",
			},
			{
				Description: "Show the raw lineage events of a run",
				Command:     "tracery lineage events --run 2f1c2f6e-5a1b-4c3d-9e8f-0a1b2c3d4e5f",
			},
		},
	}
}

func lineageGraphCommand() *cli.Command {
	var configPath string
	var direction string
	var depth int
	var asJSON bool

	return &cli.Command{
		Name:    "graph",
		Summary: "Walk the lineage graph from an asset",
		Description: `Walk the lineage graph from an asset URI and print the reachable
slice. Depth counts task hops: depth 1 is the directly adjacent
tasks and their other assets. An asset with no recorded lineage
yields an empty graph, not an error.`,
		Usage: "tracery lineage graph <asset-uri> [--direction upstream|downstream] [--depth n]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("graph", pflag.ContinueOnError)
			flagSet.StringVar(&configPath, "config", "", "path to config file (defaults to $TRACERY_CONFIG)")
			flagSet.StringVar(&direction, "direction", "upstream", "walk direction: upstream or downstream")
			flagSet.IntVar(&depth, "depth", 3, "walk depth in task hops")
			flagSet.BoolVar(&asJSON, "json", false, "output as JSON")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("usage: tracery lineage graph <asset-uri>")
			}

			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			store, err := openLineageStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			result, err := store.Graph(context.Background(), args[0],
				schema.GraphDirection(direction), depth)
			if err != nil {
				return err
			}

			if asJSON {
				return cli.WriteJSON(result)
			}
			printGraph(result)
			return nil
		},
	}
}

func printGraph(result schema.LineageGraphResult) {
	if len(result.Nodes) == 0 {
		fmt.Println("no lineage recorded for this asset")
		return
	}

	labels := make(map[string]string, len(result.Nodes))
	fmt.Printf("%d nodes, %d edges\n\n", len(result.Nodes), len(result.Edges))
	tw := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
	for _, node := range result.Nodes {
		labels[node.ID] = node.Label
		fmt.Fprintf(tw, "  %s\t%s\n", node.Kind, node.Label)
	}
	tw.Flush()

	fmt.Println()
	for _, edge := range result.Edges {
		fmt.Printf("  %s -> %s\n", labels[edge.From], labels[edge.To])
	}
}

func lineageEventsCommand() *cli.Command {
	var configPath string
	var runID string
	var asJSON bool

	return &cli.Command{
		Name:    "events",
		Summary: "List the lineage events of a run",
		Usage:   "tracery lineage events --run <id>",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("events", pflag.ContinueOnError)
			flagSet.StringVar(&configPath, "config", "", "path to config file (defaults to $TRACERY_CONFIG)")
			flagSet.StringVar(&runID, "run", "", "run ID (required)")
			flagSet.BoolVar(&asJSON, "json", false, "output as JSON")
			return flagSet
		},
		Run: func(args []string) error {
			if runID == "" {
				return fmt.Errorf("--run is required")
			}

			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			store, err := openLineageStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			events, err := store.Events(context.Background(), runID)
			if err != nil {
				return err
			}

			if asJSON {
				return cli.WriteJSON(events)
			}

			tw := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
			fmt.Fprintln(tw, "EMITTED\tTASK\tPHASE\tWORKER\tINLETS\tOUTLETS")
			for _, event := range events {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\n",
					event.EmittedAt.Format(time.RFC3339),
					event.Task,
					event.Phase,
					event.Worker,
					len(event.Inlets),
					len(event.Outlets),
				)
			}
			return tw.Flush()
		},
	}
}
