// Copyright 2026 The Tracery Authors
// SPDX-License-Identifier: Apache-2.0

// Package sched turns workflow definitions into runs. On every tick
// the scheduler checks each scheduled workflow's cron expression,
// creates a run for the latest due slot, and materializes one job per
// task with dependencies and resolved lineage inlets. It also returns
// orphaned jobs to the queue.
//
// There is no catch-up: a server that was down across several cron
// slots creates at most one run per workflow on restart, for the most
// recent slot. The run store's (workflow, scheduled time) key makes
// ticks idempotent, so a tick that races a previous one is harmless.
package sched

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tracery-project/tracery/edge"
	"github.com/tracery-project/tracery/lib/asset"
	"github.com/tracery-project/tracery/lib/clock"
	"github.com/tracery-project/tracery/lib/cron"
	"github.com/tracery-project/tracery/lib/dagdef"
	"github.com/tracery-project/tracery/lib/schema"
)

// workflowEntry is a loaded workflow with its parsed schedule.
type workflowEntry struct {
	name     string
	content  *schema.WorkflowContent
	schedule *cron.Schedule // nil for trigger-only workflows
}

// Scheduler drives run creation for a set of workflows.
type Scheduler struct {
	store     *edge.Store
	interval  time.Duration
	clock     clock.Clock
	logger    *slog.Logger
	workflows []workflowEntry
	started   time.Time
}

// Config holds the parameters for creating a scheduler.
type Config struct {
	// Store receives created runs and jobs. Required.
	Store *edge.Store

	// Workflows are the loaded workflow definitions, keyed by name
	// (as returned by dagdef.LoadDir). Required.
	Workflows map[string]*schema.WorkflowContent

	// Interval is the tick interval. Required.
	Interval time.Duration

	// Clock drives the ticker and scheduling decisions. Required.
	Clock clock.Clock

	// Logger receives operational logs. Required.
	Logger *slog.Logger
}

// New creates a scheduler. Workflow schedules are parsed up front so a
// bad cron expression fails at startup, not at the slot it would first
// fire.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("scheduler: Store is required")
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("scheduler: Interval must be positive")
	}
	if cfg.Clock == nil {
		return nil, fmt.Errorf("scheduler: Clock is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("scheduler: Logger is required")
	}

	scheduler := &Scheduler{
		store:    cfg.Store,
		interval: cfg.Interval,
		clock:    cfg.Clock,
		logger:   cfg.Logger,
		started:  cfg.Clock.Now(),
	}

	for name, content := range cfg.Workflows {
		if issues := dagdef.Validate(content); len(issues) > 0 {
			return nil, fmt.Errorf("scheduler: workflow %s: %s", name, issues[0])
		}
		entry := workflowEntry{name: name, content: content}
		if content.Schedule != "" {
			schedule, err := cron.Parse(content.Schedule)
			if err != nil {
				return nil, fmt.Errorf("scheduler: workflow %s: %w", name, err)
			}
			entry.schedule = &schedule
		}
		scheduler.workflows = append(scheduler.workflows, entry)
	}

	return scheduler, nil
}

// Run ticks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick performs one scheduling pass: due runs for every scheduled
// workflow, then a requeue sweep for orphaned jobs. Errors are logged;
// the next tick retries.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.clock.Now()

	for _, entry := range s.workflows {
		if entry.schedule == nil {
			continue
		}
		if err := s.scheduleWorkflow(ctx, entry, now); err != nil {
			s.logger.Error("scheduling workflow failed",
				"workflow", entry.name, "error", err)
		}
	}

	requeued, err := s.store.RequeueOrphaned(ctx)
	if err != nil {
		s.logger.Error("requeueing orphaned jobs failed", "error", err)
	} else if requeued > 0 {
		s.logger.Info("requeued orphaned jobs", "jobs", requeued)
	}
}

// scheduleWorkflow creates the workflow's latest due run, if any.
func (s *Scheduler) scheduleWorkflow(ctx context.Context, entry workflowEntry, now time.Time) error {
	// The baseline is the last scheduled run, or scheduler start for
	// a workflow that never ran. Slots before the baseline are gone:
	// no catch-up.
	baseline := s.started
	if latest, found, err := s.store.LatestRun(ctx, entry.name); err != nil {
		return err
	} else if found && latest.ScheduledFor.After(baseline) {
		baseline = latest.ScheduledFor
	}

	due, isDue, err := latestDueSlot(*entry.schedule, baseline, now)
	if err != nil {
		return err
	}
	if !isDue {
		return nil
	}

	created, err := s.TriggerRun(ctx, entry.name, due)
	if err != nil {
		return err
	}
	if created {
		s.logger.Info("run scheduled",
			"workflow", entry.name, "scheduled_for", due.Format(time.RFC3339))
	}
	return nil
}

// latestDueSlot walks the schedule forward from the baseline and
// returns the most recent slot at or before now. Intermediate slots
// are skipped, which is what makes restarts catch-up-free.
func latestDueSlot(schedule cron.Schedule, baseline, now time.Time) (time.Time, bool, error) {
	var due time.Time
	found := false
	cursor := baseline
	for {
		next, err := schedule.Next(cursor)
		if err != nil {
			return time.Time{}, false, err
		}
		if next.After(now) {
			return due, found, nil
		}
		due = next
		found = true
		cursor = next
	}
}

// TriggerRun creates a run of the named workflow for the given slot
// time, materializing its jobs. Returns false when a run for that slot
// already exists. Used by the cron path and by manual triggers.
func (s *Scheduler) TriggerRun(ctx context.Context, workflow string, scheduledFor time.Time) (bool, error) {
	var entry *workflowEntry
	for i := range s.workflows {
		if s.workflows[i].name == workflow {
			entry = &s.workflows[i]
			break
		}
	}
	if entry == nil {
		return false, fmt.Errorf("scheduler: unknown workflow %q", workflow)
	}

	run := edge.Run{
		ID:           uuid.NewString(),
		Workflow:     workflow,
		ScheduledFor: scheduledFor,
		CreatedAt:    s.clock.Now(),
	}

	jobs, dependencies, err := materialize(entry.content, workflow, run.ID, s.clock.Now())
	if err != nil {
		return false, err
	}

	return s.store.CreateRun(ctx, run, jobs, dependencies)
}

// materialize builds one job per task, in topological order, with
// dependency edges and resolved inlets.
func materialize(content *schema.WorkflowContent, workflow, runID string, now time.Time) ([]schema.Job, map[string][]string, error) {
	order, err := dagdef.TopologicalOrder(content.Tasks)
	if err != nil {
		return nil, nil, fmt.Errorf("scheduler: %w", err)
	}

	jobIDByTask := make(map[string]string, len(order))
	jobs := make([]schema.Job, 0, len(order))
	dependencies := make(map[string][]string)

	for _, taskName := range order {
		task, err := content.Task(taskName)
		if err != nil {
			return nil, nil, err
		}

		inlets, err := resolveInlets(content, task)
		if err != nil {
			return nil, nil, fmt.Errorf("scheduler: task %s: %w", taskName, err)
		}
		outlets, err := resolveAssets(task.Outlets)
		if err != nil {
			return nil, nil, fmt.Errorf("scheduler: task %s: %w", taskName, err)
		}

		job := schema.Job{
			ID:       uuid.NewString(),
			Workflow: workflow,
			Task:     taskName,
			RunID:    runID,
			Queue:    content.TaskQueue(task),
			Command:  task.Command,
			Env:      task.Env,
			Attempt:  1,
			Inlets:   inlets,
			Outlets:  outlets,
			QueuedAt: now,
		}
		jobs = append(jobs, job)
		jobIDByTask[taskName] = job.ID

		for _, upstream := range task.Upstream {
			dependencies[job.ID] = append(dependencies[job.ID], jobIDByTask[upstream])
		}
	}

	return jobs, dependencies, nil
}

// resolveInlets resolves a task's declared inlets plus, for auto
// inlets, the declared outlets of its direct upstream tasks.
func resolveInlets(content *schema.WorkflowContent, task schema.TaskSpec) ([]asset.Asset, error) {
	inlets, err := resolveAssets(task.Inlets.Assets)
	if err != nil {
		return nil, err
	}

	if task.Inlets.Auto {
		for _, upstreamName := range task.Upstream {
			upstream, err := content.Task(upstreamName)
			if err != nil {
				return nil, err
			}
			upstreamOutlets, err := resolveAssets(upstream.Outlets)
			if err != nil {
				return nil, err
			}
			inlets = append(inlets, upstreamOutlets...)
		}
	}

	return asset.Dedupe(inlets), nil
}

func resolveAssets(specs []schema.AssetSpec) ([]asset.Asset, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	assets := make([]asset.Asset, 0, len(specs))
	for _, spec := range specs {
		resolved, err := spec.Resolve()
		if err != nil {
			return nil, err
		}
		assets = append(assets, resolved)
	}
	return assets, nil
}
