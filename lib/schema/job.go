// Copyright 2026 The Tracery Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"fmt"
	"time"

	"github.com/tracery-project/tracery/lib/asset"
)

// JobState is the lifecycle state of a queued task execution.
type JobState string

const (
	// JobQueued means the job is waiting for a worker. Jobs whose
	// upstream jobs have not succeeded are queued but not eligible
	// for fetch.
	JobQueued JobState = "queued"

	// JobRunning means a worker has fetched the job and is executing
	// its command.
	JobRunning JobState = "running"

	// JobSucceeded means the command exited zero.
	JobSucceeded JobState = "succeeded"

	// JobFailed means the command exited non-zero or could not be
	// started.
	JobFailed JobState = "failed"

	// JobOrphaned means the worker running the job went silent past
	// the staleness window. Only the reaper sets this state.
	JobOrphaned JobState = "orphaned"
)

// jobTransitions enumerates the legal state transitions. Workers drive
// queued→running→{succeeded,failed}; the reaper drives
// running→orphaned.
var jobTransitions = map[JobState][]JobState{
	JobQueued:  {JobRunning},
	JobRunning: {JobSucceeded, JobFailed, JobOrphaned},
}

// CanTransition reports whether moving from one job state to another
// is legal.
func CanTransition(from, to JobState) bool {
	for _, allowed := range jobTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Terminal reports whether a job state is final.
func (s JobState) Terminal() bool {
	return s == JobSucceeded || s == JobFailed || s == JobOrphaned
}

// Valid reports whether s is a known job state.
func (s JobState) Valid() bool {
	switch s {
	case JobQueued, JobRunning, JobSucceeded, JobFailed, JobOrphaned:
		return true
	}
	return false
}

// Job is one task execution within a workflow run. The scheduler
// materializes one job per task when a run starts; workers fetch and
// execute them.
type Job struct {
	// ID is the job's unique identifier (UUID).
	ID string `json:"id"`

	// Workflow is the workflow name this job belongs to.
	Workflow string `json:"workflow"`

	// Task is the task name within the workflow.
	Task string `json:"task"`

	// RunID identifies the workflow run (UUID). All jobs of one run
	// share it.
	RunID string `json:"run_id"`

	// Queue routes the job to workers serving that queue.
	Queue string `json:"queue"`

	// Command is the argv to execute. Command[0] is the binary.
	Command []string `json:"command"`

	// Env is extra environment for the command, merged over the
	// worker's base environment.
	Env map[string]string `json:"env,omitempty"`

	// Attempt counts executions of this job, starting at 1. Orphaned
	// jobs re-enqueued by the scheduler increment it.
	Attempt int `json:"attempt"`

	// Inlets are the resolved input assets: the task's explicit
	// inlets plus, for auto-inlet tasks, the declared outlets of its
	// direct upstream tasks. Resolved by the scheduler at
	// materialization time.
	Inlets []asset.Asset `json:"inlets,omitempty"`

	// Outlets are the task's declared output assets. Runtime-reported
	// assets are merged in by the worker's lineage collector.
	Outlets []asset.Asset `json:"outlets,omitempty"`

	// QueuedAt is when the scheduler enqueued the job.
	QueuedAt time.Time `json:"queued_at"`
}

// Validate checks that a job is well-formed for enqueueing.
func (j Job) Validate() error {
	if j.ID == "" {
		return fmt.Errorf("job: missing ID")
	}
	if j.Workflow == "" {
		return fmt.Errorf("job %s: missing workflow", j.ID)
	}
	if j.Task == "" {
		return fmt.Errorf("job %s: missing task", j.ID)
	}
	if j.RunID == "" {
		return fmt.Errorf("job %s: missing run ID", j.ID)
	}
	if j.Queue == "" {
		return fmt.Errorf("job %s: missing queue", j.ID)
	}
	if len(j.Command) == 0 {
		return fmt.Errorf("job %s: empty command", j.ID)
	}
	if j.Attempt < 1 {
		return fmt.Errorf("job %s: attempt %d < 1", j.ID, j.Attempt)
	}
	for _, a := range j.Inlets {
		if err := a.Validate(); err != nil {
			return fmt.Errorf("job %s: inlet: %w", j.ID, err)
		}
	}
	for _, a := range j.Outlets {
		if err := a.Validate(); err != nil {
			return fmt.Errorf("job %s: outlet: %w", j.ID, err)
		}
	}
	return nil
}
