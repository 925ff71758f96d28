// Copyright 2026 The Tracery Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands builds the complete tracery CLI command tree.
//
// The CLI is the operator surface: key and token management, workflow
// validation and manual triggering, registry and run inspection, and
// lineage queries. Inspection commands read the server's SQLite
// stores directly from the configured state directory, so they work
// against a running server (WAL allows concurrent readers) and
// against a stopped one.
package commands

import (
	"fmt"

	"github.com/tracery-project/tracery/cmd/tracery/cli"
	"github.com/tracery-project/tracery/lib/version"
)

// Root builds and returns the complete tracery CLI command tree.
func Root() *cli.Command {
	return &cli.Command{
		Name: "tracery",
		Description: `Tracery: workflow orchestration with edge workers and data lineage.

Schedule task DAGs, dispatch them to edge workers over an
authenticated JSON-RPC API, and trace which assets each task read
and wrote.`,
		Subcommands: []*cli.Command{
			keygenCommand(),
			tokenCommand(),
			workflowCommand(),
			workersCommand(),
			jobsCommand(),
			lineageCommand(),
			maintenanceCommand(),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(args []string) error {
					fmt.Printf("tracery %s\n", version.Full())
					return nil
				},
			},
		},
		Examples: []cli.Example{
			{
				Description: "Generate the deployment's token signing keypair",
				Command:     "tracery keygen",
			},
			{
				Description: "Mint a token for an edge worker serving the gpu queue",
				Command:     "tracery token mint --worker edge-gpu-1 --queue gpu --out edge-gpu-1.token",
			},
			{
				Description: "Validate a workflow definition",
				Command:     "tracery workflow validate workflows/sales.jsonc",
			},
			{
				Description: "Trigger a run outside the schedule",
				Command:     "tracery workflow trigger sales",
			},
			{
				Description: "Trace where an asset came from",
				Command:     "tracery lineage graph s3://warehouse/orders_clean --direction upstream",
			},
		},
	}
}
