// Copyright 2026 The Tracery Authors
// SPDX-License-Identifier: Apache-2.0

package dagdef

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/tracery-project/tracery/lib/cron"
	"github.com/tracery-project/tracery/lib/schema"
)

// taskNamePattern matches valid task names: identifier-shaped, with
// dashes allowed. Task names appear in lineage graph node IDs and in
// log paths, so the character set stays conservative.
var taskNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*$`)

// Validate checks a WorkflowContent for structural issues. Returns a
// list of human-readable issue descriptions; an empty list means the
// workflow is valid.
//
// Structural checks:
//   - At least one task is required
//   - Task names must be unique and identifier-shaped
//   - Each task must have a non-empty command
//   - Upstream references must name existing tasks, and not the task itself
//   - The dependency graph must be acyclic (the cycle is reported)
//   - Queue names (workflow-level and task-level) must be valid
//   - Schedule (when present) must parse as a cron expression or preset
//   - Auto inlets are only valid on tasks with at least one upstream
//   - All declared asset URIs must normalize
func Validate(content *schema.WorkflowContent) []string {
	var issues []string

	if len(content.Tasks) == 0 {
		issues = append(issues, "workflow has no tasks (at least one task is required)")
	}

	if content.Schedule != "" {
		if _, err := cron.Parse(content.Schedule); err != nil {
			issues = append(issues, fmt.Sprintf("schedule %q: %v", content.Schedule, err))
		}
	}

	if content.Queue != "" && !schema.ValidQueueName(content.Queue) {
		issues = append(issues, fmt.Sprintf("invalid queue name %q", content.Queue))
	}

	taskIndex := make(map[string]int, len(content.Tasks))
	for index, task := range content.Tasks {
		if task.Name == "" {
			issues = append(issues, fmt.Sprintf("tasks[%d]: missing name", index))
			continue
		}
		if !taskNamePattern.MatchString(task.Name) {
			issues = append(issues, fmt.Sprintf("tasks[%d] %q: invalid task name", index, task.Name))
		}
		if firstIndex, exists := taskIndex[task.Name]; exists {
			issues = append(issues, fmt.Sprintf(
				"tasks[%d] %q: duplicate task name (first used at tasks[%d])",
				index, task.Name, firstIndex,
			))
		} else {
			taskIndex[task.Name] = index
		}
	}

	for index, task := range content.Tasks {
		prefix := fmt.Sprintf("tasks[%d] %q", index, task.Name)

		if len(task.Command) == 0 {
			issues = append(issues, prefix+": empty command")
		}
		if task.Queue != "" && !schema.ValidQueueName(task.Queue) {
			issues = append(issues, fmt.Sprintf("%s: invalid queue name %q", prefix, task.Queue))
		}

		for _, upstream := range task.Upstream {
			if upstream == task.Name {
				issues = append(issues, prefix+": task depends on itself")
				continue
			}
			if _, exists := taskIndex[upstream]; !exists {
				issues = append(issues, fmt.Sprintf("%s: unknown upstream task %q", prefix, upstream))
			}
		}

		if task.Inlets.Auto && len(task.Upstream) == 0 {
			issues = append(issues, prefix+": auto inlets require at least one upstream task")
		}
		for _, spec := range task.Inlets.Assets {
			if _, err := spec.Resolve(); err != nil {
				issues = append(issues, fmt.Sprintf("%s: inlet: %v", prefix, err))
			}
		}
		for _, spec := range task.Outlets {
			if _, err := spec.Resolve(); err != nil {
				issues = append(issues, fmt.Sprintf("%s: outlet: %v", prefix, err))
			}
		}
	}

	if cycle := findCycle(content.Tasks); len(cycle) > 0 {
		issues = append(issues, "dependency cycle: "+strings.Join(cycle, " -> "))
	}

	return issues
}

// TopologicalOrder returns task names in an order where every task
// appears after all of its upstreams. Ties are broken alphabetically
// so the order is deterministic across runs. Returns an error if the
// graph has a cycle or dangling upstream references — call Validate
// first for a full report.
func TopologicalOrder(tasks []schema.TaskSpec) ([]string, error) {
	remaining := make(map[string]map[string]struct{}, len(tasks))
	downstream := make(map[string][]string, len(tasks))
	for _, task := range tasks {
		pending := make(map[string]struct{}, len(task.Upstream))
		for _, upstream := range task.Upstream {
			pending[upstream] = struct{}{}
			downstream[upstream] = append(downstream[upstream], task.Name)
		}
		remaining[task.Name] = pending
	}

	// The downstream keys are the referenced upstream names; one with
	// no task of its own is a dangling reference, and must be reported
	// as such rather than as the cycle the stuck sort would suggest.
	for upstream := range downstream {
		if _, exists := remaining[upstream]; !exists {
			return nil, fmt.Errorf("dagdef: unknown task %q in upstream reference", upstream)
		}
	}

	var ready []string
	for name, pending := range remaining {
		if len(pending) == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(tasks))
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		order = append(order, name)

		released := false
		for _, successor := range downstream[name] {
			pending := remaining[successor]
			delete(pending, name)
			if len(pending) == 0 {
				ready = append(ready, successor)
				released = true
			}
		}
		if released {
			sort.Strings(ready)
		}
	}

	if len(order) != len(tasks) {
		return nil, fmt.Errorf("dagdef: dependency cycle among %d tasks", len(tasks)-len(order))
	}
	return order, nil
}

// findCycle returns one dependency cycle as a task name path, or nil.
// Depth-first search with the standard three-color marking.
func findCycle(tasks []schema.TaskSpec) []string {
	upstreams := make(map[string][]string, len(tasks))
	for _, task := range tasks {
		upstreams[task.Name] = task.Upstream
	}

	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	state := make(map[string]int, len(tasks))
	var stack []string
	var cycle []string

	var visit func(name string) bool
	visit = func(name string) bool {
		state[name] = inStack
		stack = append(stack, name)

		for _, upstream := range upstreams[name] {
			if _, exists := upstreams[upstream]; !exists {
				continue // dangling reference, reported separately
			}
			switch state[upstream] {
			case inStack:
				// Found it: slice the stack from the first
				// occurrence of upstream, then close the loop.
				for i, onStack := range stack {
					if onStack == upstream {
						cycle = append(append([]string{}, stack[i:]...), upstream)
						return true
					}
				}
			case unvisited:
				if visit(upstream) {
					return true
				}
			}
		}

		stack = stack[:len(stack)-1]
		state[name] = done
		return false
	}

	// Deterministic iteration so the reported cycle is stable.
	names := make([]string, 0, len(tasks))
	for _, task := range tasks {
		names = append(names, task.Name)
	}
	sort.Strings(names)

	for _, name := range names {
		if state[name] == unvisited {
			if visit(name) {
				return cycle
			}
		}
	}
	return nil
}
