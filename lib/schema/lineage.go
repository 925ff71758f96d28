// Copyright 2026 The Tracery Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"fmt"
	"time"

	"github.com/tracery-project/tracery/lib/asset"
)

// LineageEventVersion is the current schema version for LineageEvent.
// Increment when adding fields that existing consumers must not
// silently drop during read-modify-write.
const LineageEventVersion = 1

// LineagePhase marks which task boundary a lineage event describes.
type LineagePhase string

const (
	// LineageStart is emitted before the task command runs, carrying
	// the resolved inlets.
	LineageStart LineagePhase = "start"

	// LineageComplete is emitted after a successful run, carrying
	// inlets and the merged outlets (declared plus runtime-reported).
	LineageComplete LineagePhase = "complete"

	// LineageFailed is emitted after a failed run. Outlets reported
	// before the failure are still included — a task may have
	// materialized some outputs before dying, and downstream
	// consumers need to know.
	LineageFailed LineagePhase = "failed"
)

// Valid reports whether p is a known phase.
func (p LineagePhase) Valid() bool {
	switch p {
	case LineageStart, LineageComplete, LineageFailed:
		return true
	}
	return false
}

// LineageEvent records the data flow through one task boundary. The
// worker's collector emits one start event and one terminal event per
// job execution; the server stores them and forwards them to
// configured backends.
//
// Events are idempotent on (RunID, Task, Phase): re-delivery after a
// network failure must not duplicate graph edges.
type LineageEvent struct {
	// Version is the schema version (see LineageEventVersion).
	Version int `json:"version"`

	// Workflow is the workflow name.
	Workflow string `json:"workflow"`

	// Task is the task name within the workflow.
	Task string `json:"task"`

	// RunID is the workflow run this execution belongs to.
	RunID string `json:"run_id"`

	// JobID is the job whose execution produced this event.
	JobID string `json:"job_id"`

	// Phase is the task boundary: start, complete, or failed.
	Phase LineagePhase `json:"phase"`

	// Worker is the name of the worker that executed the task.
	Worker string `json:"worker"`

	// Inlets are the assets the task consumed.
	Inlets []asset.Asset `json:"inlets,omitempty"`

	// Outlets are the assets the task produced. Empty for start
	// events.
	Outlets []asset.Asset `json:"outlets,omitempty"`

	// EmittedAt is when the collector produced the event (worker
	// clock).
	EmittedAt time.Time `json:"emitted_at"`
}

// Validate checks that the event is well-formed.
func (e LineageEvent) Validate() error {
	if e.Version < 1 {
		return fmt.Errorf("lineage event: version must be >= 1, got %d", e.Version)
	}
	if e.Workflow == "" {
		return fmt.Errorf("lineage event: missing workflow")
	}
	if e.Task == "" {
		return fmt.Errorf("lineage event: missing task")
	}
	if e.RunID == "" {
		return fmt.Errorf("lineage event: missing run ID")
	}
	if !e.Phase.Valid() {
		return fmt.Errorf("lineage event: invalid phase %q", e.Phase)
	}
	if e.Phase == LineageStart && len(e.Outlets) > 0 {
		return fmt.Errorf("lineage event: start phase carries outlets")
	}
	for _, a := range e.Inlets {
		if err := a.Validate(); err != nil {
			return fmt.Errorf("lineage event: inlet: %w", err)
		}
	}
	for _, a := range e.Outlets {
		if err := a.Validate(); err != nil {
			return fmt.Errorf("lineage event: outlet: %w", err)
		}
	}
	return nil
}

// CanModify returns true if the caller's code understands this
// version. Callers performing read-modify-write should check
// CanModify before writing back, to avoid silently dropping fields
// added in newer versions.
func (e LineageEvent) CanModify() bool {
	return e.Version <= LineageEventVersion
}
