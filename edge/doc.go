// Copyright 2026 The Tracery Authors
// SPDX-License-Identifier: Apache-2.0

// Package edge implements the server side of the edge worker API: a
// JSON-RPC 2.0 surface on a single POST endpoint through which remote
// workers register, heartbeat, fetch jobs, report results, stream
// logs, and push lineage.
//
// The pieces:
//
//   - [Server] terminates HTTP, authenticates worker tokens, and
//     dispatches RPC methods.
//   - [Store] holds the worker registry, runs, and the job queue in
//     SQLite. Job fetch runs in an IMMEDIATE transaction, so a job is
//     handed to at most one worker.
//   - [LogManager] reassembles zstd-compressed log chunks into files
//     under the server's log root.
//   - [Reaper] turns silence into state: workers past the staleness
//     window go offline and their running jobs become orphaned.
//
// All protocol errors ride HTTP 200 as JSON-RPC error objects; HTTP
// status codes only signal transport problems. The health endpoint is
// the one exception — it is plain GET, unauthenticated, for load
// balancers.
package edge
