// Copyright 2026 The Tracery Authors
// SPDX-License-Identifier: Apache-2.0

package lineage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/tracery-project/tracery/lib/asset"
	"github.com/tracery-project/tracery/lib/clock"
	"github.com/tracery-project/tracery/lib/schema"
	"github.com/tracery-project/tracery/lib/sqlitepool"
)

// storeSchema creates the lineage tables. Events are keyed on
// (run_id, task, phase) so re-delivered events are no-ops; the asset
// and edge tables accumulate the graph across runs.
//
// Edge direction: 'in' means the asset flows into the task (the task
// consumed it), 'out' means the task produced the asset.
const storeSchema = `
CREATE TABLE IF NOT EXISTS lineage_events (
	run_id     TEXT NOT NULL,
	task       TEXT NOT NULL,
	phase      TEXT NOT NULL,
	workflow   TEXT NOT NULL,
	job_id     TEXT NOT NULL,
	worker     TEXT NOT NULL,
	emitted_at INTEGER NOT NULL,
	payload    TEXT NOT NULL,
	PRIMARY KEY (run_id, task, phase)
);

CREATE TABLE IF NOT EXISTS lineage_assets (
	asset_key   TEXT PRIMARY KEY,
	uri         TEXT NOT NULL,
	name        TEXT NOT NULL DEFAULT '',
	asset_group TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS lineage_edges (
	asset_key TEXT NOT NULL,
	workflow  TEXT NOT NULL,
	task      TEXT NOT NULL,
	direction TEXT NOT NULL,
	PRIMARY KEY (asset_key, workflow, task, direction)
);

CREATE INDEX IF NOT EXISTS lineage_edges_by_task
	ON lineage_edges (workflow, task, direction);
`

// Store persists lineage events and the asset graph in SQLite.
//
// Write path: [Store.Append] inserts a batch of events in a single
// IMMEDIATE transaction. The (run_id, task, phase) primary key makes
// re-delivery idempotent: an event already present contributes nothing
// and is not counted as accepted.
//
// Read path: [Store.Graph] walks the bipartite asset/task graph
// breadth-first from a starting asset, bounded by a depth limit.
type Store struct {
	pool   *sqlitepool.Pool
	clock  clock.Clock
	logger *slog.Logger
}

// StoreConfig holds the parameters for opening a lineage store.
type StoreConfig struct {
	// Path is the filesystem path to the SQLite database file. The
	// parent directory must exist. Use ":memory:" with PoolSize 1
	// for tests.
	Path string

	// PoolSize is the number of pooled connections. Defaults to 4 if
	// zero or negative.
	PoolSize int

	// Clock provides the current time for receive timestamps.
	Clock clock.Clock

	// Logger receives operational messages.
	Logger *slog.Logger
}

// OpenStore opens (creating if needed) a lineage store.
func OpenStore(cfg StoreConfig) (*Store, error) {
	if cfg.Clock == nil {
		return nil, fmt.Errorf("lineage store: Clock is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("lineage store: Logger is required")
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 4
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     cfg.Path,
		PoolSize: poolSize,
		Logger:   cfg.Logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, storeSchema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("lineage store: %w", err)
	}

	return &Store{pool: pool, clock: cfg.Clock, logger: cfg.Logger}, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.pool.Close()
}

// Append writes a batch of lineage events in one IMMEDIATE
// transaction and returns how many were newly recorded. Events whose
// (run, task, phase) key is already present are skipped without error;
// events that fail validation reject the whole batch.
func (s *Store) Append(ctx context.Context, events []schema.LineageEvent) (accepted int, err error) {
	for i := range events {
		if err := events[i].Validate(); err != nil {
			return 0, fmt.Errorf("lineage store: event %d: %w", i, err)
		}
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, err
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return 0, fmt.Errorf("lineage store: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	for i := range events {
		inserted, err := s.insertEvent(conn, &events[i])
		if err != nil {
			return 0, err
		}
		if inserted {
			accepted++
		}
	}

	return accepted, nil
}

// insertEvent writes one event row and, if the row is new, its asset
// and edge rows. Reports whether the event row was newly inserted.
func (s *Store) insertEvent(conn *sqlite.Conn, event *schema.LineageEvent) (bool, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return false, fmt.Errorf("lineage store: encoding event payload: %w", err)
	}

	err = sqlitex.Execute(conn, `
		INSERT OR IGNORE INTO lineage_events
			(run_id, task, phase, workflow, job_id, worker, emitted_at, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{
				event.RunID,
				event.Task,
				string(event.Phase),
				event.Workflow,
				event.JobID,
				event.Worker,
				event.EmittedAt.UnixNano(),
				string(payload),
			},
		})
	if err != nil {
		return false, fmt.Errorf("lineage store: inserting event: %w", err)
	}
	if conn.Changes() == 0 {
		// Duplicate delivery: the graph rows were written the first
		// time, nothing more to do.
		return false, nil
	}

	for i := range event.Inlets {
		if err := s.insertAssetEdge(conn, &event.Inlets[i], event.Workflow, event.Task, "in"); err != nil {
			return false, err
		}
	}
	for i := range event.Outlets {
		if err := s.insertAssetEdge(conn, &event.Outlets[i], event.Workflow, event.Task, "out"); err != nil {
			return false, err
		}
	}

	return true, nil
}

// insertAssetEdge upserts the asset row and its edge to the task node.
func (s *Store) insertAssetEdge(conn *sqlite.Conn, a *asset.Asset, workflow, task, direction string) error {
	key := a.URI.Key()

	err := sqlitex.Execute(conn, `
		INSERT INTO lineage_assets (asset_key, uri, name, asset_group)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (asset_key) DO UPDATE SET
			name = CASE WHEN excluded.name != '' THEN excluded.name ELSE name END,
			asset_group = CASE WHEN excluded.asset_group != '' THEN excluded.asset_group ELSE asset_group END`,
		&sqlitex.ExecOptions{
			Args: []any{key, a.URI.String(), a.Name, a.Group},
		})
	if err != nil {
		return fmt.Errorf("lineage store: upserting asset %s: %w", a.URI, err)
	}

	err = sqlitex.Execute(conn, `
		INSERT OR IGNORE INTO lineage_edges (asset_key, workflow, task, direction)
		VALUES (?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{key, workflow, task, direction},
		})
	if err != nil {
		return fmt.Errorf("lineage store: inserting edge: %w", err)
	}

	return nil
}

// Events returns the stored events for a run, ordered by emission
// time. Used by the CLI and by tests.
func (s *Store) Events(ctx context.Context, runID string) ([]schema.LineageEvent, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var events []schema.LineageEvent
	err = sqlitex.Execute(conn, `
		SELECT payload FROM lineage_events
		WHERE run_id = ?
		ORDER BY emitted_at, task, phase`,
		&sqlitex.ExecOptions{
			Args: []any{runID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				var event schema.LineageEvent
				if err := json.Unmarshal([]byte(stmt.ColumnText(0)), &event); err != nil {
					return fmt.Errorf("decoding event payload: %w", err)
				}
				events = append(events, event)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("lineage store: querying events for run %s: %w", runID, err)
	}
	return events, nil
}
