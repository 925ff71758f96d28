// Copyright 2026 The Tracery Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli provides the command-line framework for the tracery
// unified CLI.
//
// The central type is [Command], a named subcommand with optional
// nested [Command.Subcommands], a [pflag.FlagSet] factory, and a Run
// function. Commands are assembled into a tree in
// cmd/tracery/commands and dispatched via [Command.Execute], which
// handles flag parsing, subcommand routing, and help output with
// examples.
package cli
