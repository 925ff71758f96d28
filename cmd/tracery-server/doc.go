// Copyright 2026 The Tracery Authors
// SPDX-License-Identifier: Apache-2.0

// The tracery-server binary runs the Tracery control plane: the edge
// worker API (job dispatch, log ingestion, lineage collection), the
// cron scheduler that materializes workflow runs, and the reaper that
// sweeps workers whose heartbeats have gone stale.
//
// Configuration comes from the file named by --config or the
// TRACERY_CONFIG environment variable. The server loads workflow
// definitions from the configured workflows directory at startup;
// changing a definition requires a restart.
package main
