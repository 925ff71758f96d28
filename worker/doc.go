// Copyright 2026 The Tracery Authors
// SPDX-License-Identifier: Apache-2.0

// Package worker implements the Tracery edge worker: a process that
// runs on machines outside the server's network, authenticates with a
// signed token, and executes workflow tasks fetched over the edge
// worker API.
//
// A [Worker] registers at startup and then runs two loops: a poll loop
// that fetches one job per free slot, and a heartbeat loop that
// reports state and picks up queue or maintenance changes the server
// relays back. Each job runs as a subprocess with its output streamed
// through a [LogBuffer] to the server in compressed chunks, and with
// lineage events emitted at its start and end boundaries.
//
// Shutdown is a drain: cancelling the Run context stops job fetching,
// lets running tasks finish, and reports the offline state. To drain a
// worker without stopping it, touch the maintenance marker file (see
// [MarkerPresent]) or flip maintenance on server-side.
package worker
