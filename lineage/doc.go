// Copyright 2026 The Tracery Authors
// SPDX-License-Identifier: Apache-2.0

// Package lineage records and queries data lineage: which assets each
// task run consumed and produced.
//
// The worker side uses a [Collector] to build [schema.LineageEvent]
// values at task boundaries. A start event carries the job's resolved
// inlets; the terminal event (complete or failed) additionally carries
// the outlets, merged from the job's declared outlets and whatever the
// task process reported at runtime through its lineage report file
// (see [ReadReport]).
//
// The server side persists events in a [Store] backed by SQLite and
// maintains the asset graph: a bipartite graph of asset and task nodes
// connected by consumed/produced edges. [Store.Graph] answers
// upstream/downstream walks from an asset with a depth bound.
//
// Events can additionally be forwarded to external consumers through
// the [Backend] interface: [HTTPBackend] POSTs JSON batches to a
// collector endpoint with bounded retries, [StoreBackend] adapts a
// Store, and [Fanout] composes several backends.
package lineage
