// Copyright 2026 The Tracery Authors
// SPDX-License-Identifier: Apache-2.0

package lineage

import (
	"context"
	"fmt"
	"sort"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/tracery-project/tracery/lib/asset"
	"github.com/tracery-project/tracery/lib/schema"
)

// TaskNodeID returns the graph node ID for a task, distinguishing task
// nodes from asset nodes (whose IDs are bare asset keys).
func TaskNodeID(workflow, task string) string {
	return "task:" + workflow + "/" + task
}

// Graph walks the asset graph from a starting asset URI and returns
// the reachable slice as nodes and directed edges (producer to
// consumer). Direction selects which way to walk; depth bounds the
// number of task hops and must be positive.
//
// An asset that was never seen in any lineage event yields an empty
// graph, not an error — absence of lineage is a valid answer.
func (s *Store) Graph(ctx context.Context, rawURI string, direction schema.GraphDirection, depth int) (schema.LineageGraphResult, error) {
	var result schema.LineageGraphResult

	uri, err := asset.ParseURI(rawURI)
	if err != nil {
		return result, fmt.Errorf("lineage graph: %w", err)
	}
	if direction != schema.GraphUpstream && direction != schema.GraphDownstream {
		return result, fmt.Errorf("lineage graph: invalid direction %q", direction)
	}
	if depth <= 0 {
		return result, fmt.Errorf("lineage graph: depth must be positive, got %d", depth)
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return result, err
	}
	defer s.pool.Put(conn)

	walk := &graphWalk{
		conn:      conn,
		direction: direction,
		seenNodes: make(map[string]schema.GraphNode),
		seenEdges: make(map[schema.GraphEdge]struct{}),
	}

	startKey := uri.Key()
	known, err := walk.addAssetNode(startKey)
	if err != nil {
		return result, err
	}
	if !known {
		return result, nil
	}

	frontier := []string{startKey}
	for hop := 0; hop < depth && len(frontier) > 0; hop++ {
		frontier, err = walk.expand(frontier)
		if err != nil {
			return result, err
		}
	}

	return walk.result(), nil
}

// graphWalk accumulates the BFS state for one Graph call. Node and
// edge sets deduplicate revisits when the graph has diamonds.
type graphWalk struct {
	conn      *sqlite.Conn
	direction schema.GraphDirection
	seenNodes map[string]schema.GraphNode
	seenEdges map[schema.GraphEdge]struct{}
}

// expand walks one task hop out from the frontier assets and returns
// the newly discovered asset keys.
func (w *graphWalk) expand(frontier []string) ([]string, error) {
	// Upstream walks against the data flow: producers are tasks with
	// an 'out' edge to the asset, and the next assets are those tasks'
	// 'in' edges. Downstream is the mirror image.
	assetDirection, taskDirection := "out", "in"
	if w.direction == schema.GraphDownstream {
		assetDirection, taskDirection = "in", "out"
	}

	var next []string
	for _, assetKey := range frontier {
		tasks, err := w.tasksForAsset(assetKey, assetDirection)
		if err != nil {
			return nil, err
		}
		for _, taskRef := range tasks {
			taskID := TaskNodeID(taskRef.workflow, taskRef.task)
			if _, seen := w.seenNodes[taskID]; !seen {
				w.seenNodes[taskID] = schema.GraphNode{
					ID:    taskID,
					Kind:  "task",
					Label: taskRef.workflow + "/" + taskRef.task,
				}
			}
			w.addFlowEdge(taskID, assetKey, assetDirection)

			assetKeys, err := w.assetsForTask(taskRef, taskDirection)
			if err != nil {
				return nil, err
			}
			for _, nextKey := range assetKeys {
				w.addFlowEdge(taskID, nextKey, taskDirection)
				if _, seen := w.seenNodes[nextKey]; seen {
					continue
				}
				if _, err := w.addAssetNode(nextKey); err != nil {
					return nil, err
				}
				next = append(next, nextKey)
			}
		}
	}
	return next, nil
}

// addFlowEdge records an edge oriented by data flow: 'in' edges run
// asset to task, 'out' edges run task to asset.
func (w *graphWalk) addFlowEdge(taskID, assetKey, direction string) {
	edge := schema.GraphEdge{From: assetKey, To: taskID}
	if direction == "out" {
		edge = schema.GraphEdge{From: taskID, To: assetKey}
	}
	w.seenEdges[edge] = struct{}{}
}

type taskRef struct {
	workflow string
	task     string
}

func (w *graphWalk) tasksForAsset(assetKey, direction string) ([]taskRef, error) {
	var tasks []taskRef
	err := sqlitex.Execute(w.conn, `
		SELECT workflow, task FROM lineage_edges
		WHERE asset_key = ? AND direction = ?
		ORDER BY workflow, task`,
		&sqlitex.ExecOptions{
			Args: []any{assetKey, direction},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				tasks = append(tasks, taskRef{
					workflow: stmt.ColumnText(0),
					task:     stmt.ColumnText(1),
				})
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("lineage graph: tasks for asset %s: %w", assetKey, err)
	}
	return tasks, nil
}

func (w *graphWalk) assetsForTask(ref taskRef, direction string) ([]string, error) {
	var keys []string
	err := sqlitex.Execute(w.conn, `
		SELECT asset_key FROM lineage_edges
		WHERE workflow = ? AND task = ? AND direction = ?
		ORDER BY asset_key`,
		&sqlitex.ExecOptions{
			Args: []any{ref.workflow, ref.task, direction},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				keys = append(keys, stmt.ColumnText(0))
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("lineage graph: assets for task %s/%s: %w", ref.workflow, ref.task, err)
	}
	return keys, nil
}

// addAssetNode looks up the asset row and records a node for it.
// Reports whether the asset exists in the store.
func (w *graphWalk) addAssetNode(assetKey string) (bool, error) {
	found := false
	err := sqlitex.Execute(w.conn, `
		SELECT uri FROM lineage_assets WHERE asset_key = ?`,
		&sqlitex.ExecOptions{
			Args: []any{assetKey},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				found = true
				w.seenNodes[assetKey] = schema.GraphNode{
					ID:    assetKey,
					Kind:  "asset",
					Label: stmt.ColumnText(0),
				}
				return nil
			},
		})
	if err != nil {
		return false, fmt.Errorf("lineage graph: looking up asset %s: %w", assetKey, err)
	}
	return found, nil
}

// result flattens the walk state into a deterministic node and edge
// order: nodes sorted by ID, edges by (From, To).
func (w *graphWalk) result() schema.LineageGraphResult {
	result := schema.LineageGraphResult{
		Nodes: make([]schema.GraphNode, 0, len(w.seenNodes)),
		Edges: make([]schema.GraphEdge, 0, len(w.seenEdges)),
	}
	for _, node := range w.seenNodes {
		result.Nodes = append(result.Nodes, node)
	}
	sort.Slice(result.Nodes, func(i, j int) bool {
		return result.Nodes[i].ID < result.Nodes[j].ID
	})
	for edge := range w.seenEdges {
		result.Edges = append(result.Edges, edge)
	}
	sort.Slice(result.Edges, func(i, j int) bool {
		if result.Edges[i].From != result.Edges[j].From {
			return result.Edges[i].From < result.Edges[j].From
		}
		return result.Edges[i].To < result.Edges[j].To
	})
	return result
}
