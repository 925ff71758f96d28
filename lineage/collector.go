// Copyright 2026 The Tracery Authors
// SPDX-License-Identifier: Apache-2.0

package lineage

import (
	"github.com/tracery-project/tracery/lib/asset"
	"github.com/tracery-project/tracery/lib/clock"
	"github.com/tracery-project/tracery/lib/schema"
)

// Collector builds lineage events at task boundaries on the worker.
// One collector serves a whole worker; it is stateless per job.
type Collector struct {
	worker string
	clock  clock.Clock
}

// NewCollector returns a collector that stamps events with the given
// worker name.
func NewCollector(worker string, clk clock.Clock) *Collector {
	return &Collector{worker: worker, clock: clk}
}

// Start builds the start-phase event for a job, carrying the job's
// resolved inlets. Emitted before the task command runs.
func (c *Collector) Start(job *schema.Job) schema.LineageEvent {
	return schema.LineageEvent{
		Version:   schema.LineageEventVersion,
		Workflow:  job.Workflow,
		Task:      job.Task,
		RunID:     job.RunID,
		JobID:     job.ID,
		Phase:     schema.LineageStart,
		Worker:    c.worker,
		Inlets:    asset.Dedupe(job.Inlets),
		EmittedAt: c.clock.Now(),
	}
}

// Finish builds the terminal event for a job. Runtime-reported assets
// are merged with the job's declared inlets and outlets; declared
// assets come first so their metadata wins on key collision. Failed
// runs keep their outlets — a task may have materialized some outputs
// before dying.
func (c *Collector) Finish(job *schema.Job, reported Report, failed bool) schema.LineageEvent {
	phase := schema.LineageComplete
	if failed {
		phase = schema.LineageFailed
	}
	return schema.LineageEvent{
		Version:   schema.LineageEventVersion,
		Workflow:  job.Workflow,
		Task:      job.Task,
		RunID:     job.RunID,
		JobID:     job.ID,
		Phase:     phase,
		Worker:    c.worker,
		Inlets:    asset.Dedupe(append(append([]asset.Asset{}, job.Inlets...), reported.Inlets...)),
		Outlets:   asset.Dedupe(append(append([]asset.Asset{}, job.Outlets...), reported.Outlets...)),
		EmittedAt: c.clock.Now(),
	}
}
