// Copyright 2026 The Tracery Authors
// SPDX-License-Identifier: Apache-2.0

// Package schema defines the wire types shared by the Tracery server,
// the edge worker, and the operator CLI: job and worker lifecycle
// states, workflow definitions, lineage events, and the JSON-RPC
// envelope of the edge worker API.
//
// Content structs carry a Version field where evolution matters
// (lineage events cross process and deployment boundaries). Increment
// the corresponding version constant when adding fields that existing
// code must not silently drop during read-modify-write, and gate
// writes on CanModify.
//
// This package depends only on lib/asset and the standard library.
// Parsing of workflow definition files lives in lib/dagdef; this
// package owns the types and their validation.
package schema
