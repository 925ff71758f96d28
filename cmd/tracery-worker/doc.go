// Copyright 2026 The Tracery Authors
// SPDX-License-Identifier: Apache-2.0

// The tracery-worker binary runs an edge worker: a daemon on a remote
// machine that polls the Tracery server for jobs on its queues, runs
// them as subprocesses, and streams logs and lineage events back. It
// authenticates every call with a signed worker token minted by
// "tracery token mint".
//
// SIGTERM drains the worker: no new jobs are fetched, running jobs
// finish and report, then the worker goes offline. For a drain
// without a restart, use "tracery maintenance on" on the worker host.
package main
