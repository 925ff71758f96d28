// Copyright 2026 The Tracery Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"fmt"
	"regexp"
	"time"
)

// WorkerState is the lifecycle state an edge worker reports via
// worker.set_state (and the server records in its registry).
type WorkerState string

const (
	// WorkerStarting: process up, registration in flight.
	WorkerStarting WorkerState = "starting"

	// WorkerIdle: registered, no active jobs, fetching.
	WorkerIdle WorkerState = "idle"

	// WorkerRunning: at least one active job.
	WorkerRunning WorkerState = "running"

	// WorkerMaintenance: heartbeating but not fetching. Entered via
	// the local maintenance marker or a server-side request.
	WorkerMaintenance WorkerState = "maintenance"

	// WorkerTerminating: shutdown requested, draining active jobs.
	WorkerTerminating WorkerState = "terminating"

	// WorkerOffline: final state. Set by the worker on clean exit or
	// by the reaper when heartbeats go stale.
	WorkerOffline WorkerState = "offline"
)

// Valid reports whether s is a known worker state.
func (s WorkerState) Valid() bool {
	switch s {
	case WorkerStarting, WorkerIdle, WorkerRunning, WorkerMaintenance,
		WorkerTerminating, WorkerOffline:
		return true
	}
	return false
}

// workerNamePattern constrains worker names to hostname-like
// identifiers. Worker names appear in lineage events and log paths;
// allowing arbitrary strings would let a worker name inject path
// separators into the log directory layout.
var workerNamePattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9._-]{0,62}[a-z0-9])?$`)

// ValidWorkerName reports whether name is an acceptable worker
// identifier.
func ValidWorkerName(name string) bool {
	return workerNamePattern.MatchString(name)
}

// queueNamePattern constrains queue names to simple identifiers.
var queueNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,62}$`)

// ValidQueueName reports whether name is an acceptable queue name.
func ValidQueueName(name string) bool {
	return queueNamePattern.MatchString(name)
}

// DefaultQueue is the queue tasks and workers use when none is
// configured.
const DefaultQueue = "default"

// WorkerInfo is the server's registry view of one edge worker.
type WorkerInfo struct {
	// Name is the worker's unique identifier.
	Name string `json:"name"`

	// State is the last state the worker reported (or the reaper
	// imposed).
	State WorkerState `json:"state"`

	// Queues are the queues the worker serves.
	Queues []string `json:"queues"`

	// Concurrency is the worker's job slot count.
	Concurrency int `json:"concurrency"`

	// JobsActive is the number of jobs the worker last reported
	// running.
	JobsActive int `json:"jobs_active"`

	// Version is the worker binary's version string.
	Version string `json:"version,omitempty"`

	// Maintenance is the server-side drain request for this worker,
	// set by an operator. Independent of State: a worker in local
	// maintenance reports State maintenance, but only this flag makes
	// the server ask a worker to drain.
	Maintenance bool `json:"maintenance,omitempty"`

	// FirstSeen is when the worker first registered.
	FirstSeen time.Time `json:"first_seen"`

	// LastHeartbeat is the last time any authenticated call arrived
	// from this worker. The reaper compares it against the staleness
	// window.
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

// Validate checks registry invariants.
func (w WorkerInfo) Validate() error {
	if !ValidWorkerName(w.Name) {
		return fmt.Errorf("worker: invalid name %q", w.Name)
	}
	if !w.State.Valid() {
		return fmt.Errorf("worker %s: invalid state %q", w.Name, w.State)
	}
	if len(w.Queues) == 0 {
		return fmt.Errorf("worker %s: no queues", w.Name)
	}
	for _, queue := range w.Queues {
		if !ValidQueueName(queue) {
			return fmt.Errorf("worker %s: invalid queue name %q", w.Name, queue)
		}
	}
	if w.Concurrency < 1 {
		return fmt.Errorf("worker %s: concurrency %d < 1", w.Name, w.Concurrency)
	}
	return nil
}
