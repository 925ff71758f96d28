// Copyright 2026 The Tracery Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"fmt"

	"github.com/tracery-project/tracery/lib/asset"
)

// WorkflowContent is a workflow definition: a named DAG of tasks with
// schedules, queues, and lineage declarations. Authored as JSONC files
// (parsed by lib/dagdef) and loaded by the server at startup.
type WorkflowContent struct {
	// Description is a human-readable summary of what this workflow
	// does.
	Description string `json:"description,omitempty"`

	// Schedule is a cron expression or preset (lib/cron syntax).
	// Empty means the workflow only runs when triggered manually.
	Schedule string `json:"schedule,omitempty"`

	// Queue is the default queue for tasks that do not set their
	// own. Empty means DefaultQueue.
	Queue string `json:"queue,omitempty"`

	// Tasks is the task list. At least one task is required. Order
	// in the file carries no meaning — execution order comes from
	// Upstream edges.
	Tasks []TaskSpec `json:"tasks"`
}

// TaskSpec is one task in a workflow definition.
type TaskSpec struct {
	// Name identifies the task within the workflow. Must be unique
	// and identifier-shaped.
	Name string `json:"name"`

	// Command is the argv to execute on the worker.
	Command []string `json:"command"`

	// Env is extra environment for the command.
	Env map[string]string `json:"env,omitempty"`

	// Queue overrides the workflow's default queue for this task.
	Queue string `json:"queue,omitempty"`

	// Upstream lists task names this task depends on. The task's
	// job becomes eligible only after all upstream jobs of the same
	// run succeed.
	Upstream []string `json:"upstream,omitempty"`

	// Inlets declares the task's input assets.
	Inlets InletSpec `json:"inlets,omitempty"`

	// Outlets declares the task's output assets.
	Outlets []AssetSpec `json:"outlets,omitempty"`
}

// InletSpec declares a task's inputs: an explicit asset list, the
// outlets of its direct upstream tasks ("auto"), or both.
type InletSpec struct {
	// Auto resolves the declared outlets of all direct upstream
	// tasks as inlets at job materialization time. Only valid on
	// tasks with at least one upstream.
	Auto bool `json:"auto,omitempty"`

	// Assets are explicitly declared input assets.
	Assets []AssetSpec `json:"assets,omitempty"`
}

// AssetSpec is an asset reference as authored in a workflow file. The
// URI is raw — normalization happens in [AssetSpec.Resolve] during
// validation, so authors get an error at load time rather than a
// silently distinct asset at run time.
type AssetSpec struct {
	URI   string            `json:"uri"`
	Name  string            `json:"name,omitempty"`
	Group string            `json:"group,omitempty"`
	Extra map[string]string `json:"extra,omitempty"`
}

// Resolve normalizes the spec into an asset.Asset.
func (s AssetSpec) Resolve() (asset.Asset, error) {
	uri, err := asset.ParseURI(s.URI)
	if err != nil {
		return asset.Asset{}, err
	}
	return asset.Asset{
		URI:   uri,
		Name:  s.Name,
		Group: s.Group,
		Extra: s.Extra,
	}, nil
}

// TaskQueue returns the effective queue for a task: the task's own
// queue, the workflow default, or DefaultQueue.
func (w WorkflowContent) TaskQueue(task TaskSpec) string {
	if task.Queue != "" {
		return task.Queue
	}
	if w.Queue != "" {
		return w.Queue
	}
	return DefaultQueue
}

// Task returns the task with the given name, or an error. Callers
// that already validated the workflow can ignore the error for names
// taken from Upstream lists.
func (w WorkflowContent) Task(name string) (TaskSpec, error) {
	for _, task := range w.Tasks {
		if task.Name == name {
			return task, nil
		}
	}
	return TaskSpec{}, fmt.Errorf("workflow: no task named %q", name)
}
