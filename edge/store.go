// Copyright 2026 The Tracery Authors
// SPDX-License-Identifier: Apache-2.0

package edge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/tracery-project/tracery/lib/clock"
	"github.com/tracery-project/tracery/lib/schema"
	"github.com/tracery-project/tracery/lib/sqlitepool"
)

// storeSchema creates the server-side state tables: the worker
// registry, workflow runs, the job queue, and per-job dependency
// edges.
//
// The jobs table splits immutable definition (payload JSON) from
// mutable execution state (state, worker, timestamps). The runs table
// primary key (workflow, scheduled_for) is what makes run creation
// idempotent across scheduler ticks.
const storeSchema = `
CREATE TABLE IF NOT EXISTS workers (
	name           TEXT PRIMARY KEY,
	state          TEXT NOT NULL,
	queues         TEXT NOT NULL,
	concurrency    INTEGER NOT NULL,
	jobs_active    INTEGER NOT NULL DEFAULT 0,
	version        TEXT NOT NULL DEFAULT '',
	maintenance    INTEGER NOT NULL DEFAULT 0,
	first_seen     INTEGER NOT NULL,
	last_heartbeat INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS runs (
	workflow      TEXT NOT NULL,
	scheduled_for INTEGER NOT NULL,
	run_id        TEXT NOT NULL UNIQUE,
	created_at    INTEGER NOT NULL,
	PRIMARY KEY (workflow, scheduled_for)
);

CREATE TABLE IF NOT EXISTS jobs (
	id          TEXT PRIMARY KEY,
	workflow    TEXT NOT NULL,
	task        TEXT NOT NULL,
	run_id      TEXT NOT NULL,
	queue       TEXT NOT NULL,
	state       TEXT NOT NULL,
	attempt     INTEGER NOT NULL,
	payload     TEXT NOT NULL,
	worker      TEXT NOT NULL DEFAULT '',
	exit_code   INTEGER,
	message     TEXT NOT NULL DEFAULT '',
	log_offset  INTEGER NOT NULL DEFAULT 0,
	queued_at   INTEGER NOT NULL,
	started_at  INTEGER,
	finished_at INTEGER
);

CREATE INDEX IF NOT EXISTS jobs_by_state_queue ON jobs (state, queue, queued_at);
CREATE INDEX IF NOT EXISTS jobs_by_run ON jobs (run_id);
CREATE INDEX IF NOT EXISTS jobs_by_worker ON jobs (worker, state);

CREATE TABLE IF NOT EXISTS job_deps (
	job_id          TEXT NOT NULL,
	upstream_job_id TEXT NOT NULL,
	PRIMARY KEY (job_id, upstream_job_id)
);
`

// Store is the server's persistent state: worker registry, runs, and
// the job queue. All mutations run in IMMEDIATE transactions so the
// at-most-once fetch guarantee holds across concurrent RPC calls.
type Store struct {
	pool   *sqlitepool.Pool
	clock  clock.Clock
	logger *slog.Logger
}

// StoreConfig holds the parameters for opening the server state store.
type StoreConfig struct {
	// Path is the filesystem path to the SQLite database file. Use
	// ":memory:" with PoolSize 1 for tests.
	Path string

	// PoolSize is the number of pooled connections. Defaults to 4 if
	// zero or negative.
	PoolSize int

	// Clock provides timestamps for heartbeats and job transitions.
	Clock clock.Clock

	// Logger receives operational messages.
	Logger *slog.Logger
}

// OpenStore opens (creating if needed) the server state store.
func OpenStore(cfg StoreConfig) (*Store, error) {
	if cfg.Clock == nil {
		return nil, fmt.Errorf("edge store: Clock is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("edge store: Logger is required")
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
		return nil, fmt.Errorf("edge store: %w", err)
	}

	return &Store{pool: pool, clock: cfg.Clock, logger: cfg.Logger}, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.pool.Close()
}

// RegisterWorker upserts a worker registry entry. Re-registration (a
// worker restart) keeps the original first_seen and resets state to
// the given info's state.
func (s *Store) RegisterWorker(ctx context.Context, info schema.WorkerInfo) error {
	if err := info.Validate(); err != nil {
		return fmt.Errorf("edge store: %w", err)
	}

	queues, err := json.Marshal(info.Queues)
	if err != nil {
		return fmt.Errorf("edge store: encoding queues: %w", err)
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	now := s.clock.Now().UnixNano()
	err = sqlitex.Execute(conn, `
		INSERT INTO workers
			(name, state, queues, concurrency, jobs_active, version, first_seen, last_heartbeat)
		VALUES (?, ?, ?, ?, 0, ?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			state = excluded.state,
			queues = excluded.queues,
			concurrency = excluded.concurrency,
			jobs_active = 0,
			version = excluded.version,
			last_heartbeat = excluded.last_heartbeat`,
		&sqlitex.ExecOptions{
			Args: []any{
				info.Name, string(info.State), string(queues),
				info.Concurrency, info.Version, now, now,
			},
		})
	if err != nil {
		return fmt.Errorf("edge store: registering worker %s: %w", info.Name, err)
	}
	return nil
}

// SetWorkerState records a heartbeat: the worker's self-reported state
// and active job count. Returns the stored registry entry so the
// caller can relay queue assignments back to the worker. Fails if the
// worker never registered.
func (s *Store) SetWorkerState(ctx context.Context, name string, state schema.WorkerState, jobsActive int) (schema.WorkerInfo, error) {
	if !state.Valid() {
		return schema.WorkerInfo{}, fmt.Errorf("edge store: invalid worker state %q", state)
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return schema.WorkerInfo{}, err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `
		UPDATE workers
		SET state = ?, jobs_active = ?, last_heartbeat = ?
		WHERE name = ?`,
		&sqlitex.ExecOptions{
			Args: []any{string(state), jobsActive, s.clock.Now().UnixNano(), name},
		})
	if err != nil {
		return schema.WorkerInfo{}, fmt.Errorf("edge store: updating worker %s: %w", name, err)
	}
	if conn.Changes() == 0 {
		return schema.WorkerInfo{}, fmt.Errorf("edge store: worker %s is not registered", name)
	}

	return s.workerLocked(conn, name)
}

// TouchWorker refreshes a worker's heartbeat timestamp. Called on
// every authenticated RPC so a busy worker that never sends
// worker.set_state still counts as alive. Unregistered workers are a
// no-op.
func (s *Store) TouchWorker(ctx context.Context, name string) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `
		UPDATE workers SET last_heartbeat = ? WHERE name = ?`,
		&sqlitex.ExecOptions{
			Args: []any{s.clock.Now().UnixNano(), name},
		})
	if err != nil {
		return fmt.Errorf("edge store: touching worker %s: %w", name, err)
	}
	return nil
}

// SetWorkerMaintenance records an operator drain request for a worker.
// The flag is relayed to the worker on its next worker.set_state call
// and stays set until explicitly cleared — it does not follow the
// state the worker reports, and it survives re-registration. Fails if
// the worker never registered.
func (s *Store) SetWorkerMaintenance(ctx context.Context, name string, enabled bool) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	flag := 0
	if enabled {
		flag = 1
	}
	err = sqlitex.Execute(conn, `
		UPDATE workers SET maintenance = ? WHERE name = ?`,
		&sqlitex.ExecOptions{
			Args: []any{flag, name},
		})
	if err != nil {
		return fmt.Errorf("edge store: setting maintenance for worker %s: %w", name, err)
	}
	if conn.Changes() == 0 {
		return fmt.Errorf("edge store: worker %s is not registered", name)
	}
	return nil
}

// Workers returns all registry entries, sorted by name.
func (s *Store) Workers(ctx context.Context) ([]schema.WorkerInfo, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var workers []schema.WorkerInfo
	err = sqlitex.Execute(conn, `
		SELECT name, state, queues, concurrency, jobs_active, version, maintenance, first_seen, last_heartbeat
		FROM workers ORDER BY name`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				info, err := workerFromRow(stmt)
				if err != nil {
					return err
				}
				workers = append(workers, info)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("edge store: listing workers: %w", err)
	}
	return workers, nil
}

func (s *Store) workerLocked(conn *sqlite.Conn, name string) (schema.WorkerInfo, error) {
	var info schema.WorkerInfo
	found := false
	err := sqlitex.Execute(conn, `
		SELECT name, state, queues, concurrency, jobs_active, version, maintenance, first_seen, last_heartbeat
		FROM workers WHERE name = ?`,
		&sqlitex.ExecOptions{
			Args: []any{name},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				var err error
				info, err = workerFromRow(stmt)
				found = true
				return err
			},
		})
	if err != nil {
		return info, fmt.Errorf("edge store: loading worker %s: %w", name, err)
	}
	if !found {
		return info, fmt.Errorf("edge store: worker %s is not registered", name)
	}
	return info, nil
}

func workerFromRow(stmt *sqlite.Stmt) (schema.WorkerInfo, error) {
	info := schema.WorkerInfo{
		Name:          stmt.ColumnText(0),
		State:         schema.WorkerState(stmt.ColumnText(1)),
		Concurrency:   stmt.ColumnInt(3),
		JobsActive:    stmt.ColumnInt(4),
		Version:       stmt.ColumnText(5),
		Maintenance:   stmt.ColumnInt(6) != 0,
		FirstSeen:     time.Unix(0, stmt.ColumnInt64(7)).UTC(),
		LastHeartbeat: time.Unix(0, stmt.ColumnInt64(8)).UTC(),
	}
	if err := json.Unmarshal([]byte(stmt.ColumnText(2)), &info.Queues); err != nil {
		return info, fmt.Errorf("decoding queues for worker %s: %w", info.Name, err)
	}
	return info, nil
}

// Run is one scheduled materialization of a workflow.
type Run struct {
	ID           string
	Workflow     string
	ScheduledFor time.Time
	CreatedAt    time.Time
}

// CreateRun inserts a run and its jobs atomically. Returns false
// without error when a run for (workflow, scheduled_for) already
// exists — the scheduler calls this on every tick and relies on the
// primary key for idempotency.
//
// Dependencies maps each job ID to the job IDs it waits on; all IDs
// must belong to this run's jobs.
func (s *Store) CreateRun(ctx context.Context, run Run, jobs []schema.Job, dependencies map[string][]string) (created bool, err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return false, err
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return false, fmt.Errorf("edge store: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	err = sqlitex.Execute(conn, `
		INSERT OR IGNORE INTO runs (workflow, scheduled_for, run_id, created_at)
		VALUES (?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{
				run.Workflow,
				run.ScheduledFor.UnixNano(),
				run.ID,
				run.CreatedAt.UnixNano(),
			},
		})
	if err != nil {
		return false, fmt.Errorf("edge store: inserting run: %w", err)
	}
	if conn.Changes() == 0 {
		return false, nil
	}

	for i := range jobs {
		if err := s.insertJob(conn, &jobs[i]); err != nil {
			return false, err
		}
		for _, upstreamID := range dependencies[jobs[i].ID] {
			err = sqlitex.Execute(conn, `
				INSERT INTO job_deps (job_id, upstream_job_id) VALUES (?, ?)`,
				&sqlitex.ExecOptions{
					Args: []any{jobs[i].ID, upstreamID},
				})
			if err != nil {
				return false, fmt.Errorf("edge store: inserting dependency: %w", err)
			}
		}
	}

	return true, nil
}

func (s *Store) insertJob(conn *sqlite.Conn, job *schema.Job) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("edge store: %w", err)
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("edge store: encoding job payload: %w", err)
	}
	err = sqlitex.Execute(conn, `
		INSERT INTO jobs (id, workflow, task, run_id, queue, state, attempt, payload, queued_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{
				job.ID, job.Workflow, job.Task, job.RunID, job.Queue,
				string(schema.JobQueued), job.Attempt, string(payload),
				job.QueuedAt.UnixNano(),
			},
		})
	if err != nil {
		return fmt.Errorf("edge store: inserting job %s: %w", job.ID, err)
	}
	return nil
}

// FetchJob hands the oldest eligible queued job on one of the given
// queues to a worker, transitioning it to running in the same
// IMMEDIATE transaction so no two workers can claim it. A job is
// eligible when every upstream dependency has succeeded. Returns nil
// when nothing is eligible.
func (s *Store) FetchJob(ctx context.Context, worker string, queues []string) (job *schema.Job, err error) {
	if len(queues) == 0 {
		return nil, nil
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return nil, fmt.Errorf("edge store: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(queues)), ", ")
	query := `
		SELECT payload, attempt FROM jobs j
		WHERE j.state = ? AND j.queue IN (` + placeholders + `)
		AND NOT EXISTS (
			SELECT 1 FROM job_deps d
			JOIN jobs u ON u.id = d.upstream_job_id
			WHERE d.job_id = j.id AND u.state != ?
		)
		ORDER BY j.queued_at, j.id
		LIMIT 1`

	args := []any{string(schema.JobQueued)}
	for _, queue := range queues {
		args = append(args, queue)
	}
	args = append(args, string(schema.JobSucceeded))

	var claimed *schema.Job
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			var j schema.Job
			if err := json.Unmarshal([]byte(stmt.ColumnText(0)), &j); err != nil {
				return fmt.Errorf("decoding job payload: %w", err)
			}
			j.Attempt = stmt.ColumnInt(1)
			claimed = &j
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("edge store: selecting eligible job: %w", err)
	}
	if claimed == nil {
		return nil, nil
	}

	err = sqlitex.Execute(conn, `
		UPDATE jobs SET state = ?, worker = ?, started_at = ?
		WHERE id = ? AND state = ?`,
		&sqlitex.ExecOptions{
			Args: []any{
				string(schema.JobRunning), worker, s.clock.Now().UnixNano(),
				claimed.ID, string(schema.JobQueued),
			},
		})
	if err != nil {
		return nil, fmt.Errorf("edge store: claiming job %s: %w", claimed.ID, err)
	}

	return claimed, nil
}

// JobStatus is the server's execution view of one job: the immutable
// definition plus the mutable state columns.
type JobStatus struct {
	Job      schema.Job
	State    schema.JobState
	Worker   string
	ExitCode *int
	Message  string
}

// Job returns the status of one job.
func (s *Store) Job(ctx context.Context, jobID string) (JobStatus, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return JobStatus{}, err
	}
	defer s.pool.Put(conn)
	return s.jobLocked(conn, jobID)
}

func (s *Store) jobLocked(conn *sqlite.Conn, jobID string) (JobStatus, error) {
	var status JobStatus
	found := false
	err := sqlitex.Execute(conn, `
		SELECT payload, state, worker, exit_code, message, attempt
		FROM jobs WHERE id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{jobID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				found = true
				if err := json.Unmarshal([]byte(stmt.ColumnText(0)), &status.Job); err != nil {
					return fmt.Errorf("decoding job payload: %w", err)
				}
				status.State = schema.JobState(stmt.ColumnText(1))
				status.Worker = stmt.ColumnText(2)
				if stmt.ColumnType(3) != sqlite.TypeNull {
					code := stmt.ColumnInt(3)
					status.ExitCode = &code
				}
				status.Message = stmt.ColumnText(4)
				status.Job.Attempt = stmt.ColumnInt(5)
				return nil
			},
		})
	if err != nil {
		return status, fmt.Errorf("edge store: loading job %s: %w", jobID, err)
	}
	if !found {
		return status, fmt.Errorf("edge store: no such job %s", jobID)
	}
	return status, nil
}

// SetJobState applies a worker-reported transition to a job. The
// transition must be legal per [schema.CanTransition], and the
// reporting worker must be the one the job was handed to.
func (s *Store) SetJobState(ctx context.Context, jobID string, worker string, state schema.JobState, exitCode *int, message string) (err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("edge store: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	status, err := s.jobLocked(conn, jobID)
	if err != nil {
		return err
	}
	if status.Worker != worker {
		return fmt.Errorf("edge store: job %s belongs to worker %s, not %s", jobID, status.Worker, worker)
	}
	if !schema.CanTransition(status.State, state) {
		return fmt.Errorf("edge store: job %s cannot transition %s -> %s", jobID, status.State, state)
	}

	var exitValue any
	if exitCode != nil {
		exitValue = *exitCode
	}
	var finishedAt any
	if state.Terminal() {
		finishedAt = s.clock.Now().UnixNano()
	}

	err = sqlitex.Execute(conn, `
		UPDATE jobs SET state = ?, exit_code = ?, message = ?, finished_at = ?
		WHERE id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{string(state), exitValue, message, finishedAt, jobID},
		})
	if err != nil {
		return fmt.Errorf("edge store: updating job %s: %w", jobID, err)
	}
	return nil
}

// JobsForRun returns the statuses of all jobs in a run, sorted by task
// name.
func (s *Store) JobsForRun(ctx context.Context, runID string) ([]JobStatus, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var ids []string
	err = sqlitex.Execute(conn, `
		SELECT id FROM jobs WHERE run_id = ? ORDER BY task`,
		&sqlitex.ExecOptions{
			Args: []any{runID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				ids = append(ids, stmt.ColumnText(0))
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("edge store: listing jobs for run %s: %w", runID, err)
	}

	statuses := make([]JobStatus, 0, len(ids))
	for _, id := range ids {
		status, err := s.jobLocked(conn, id)
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

// LatestRun returns the most recently scheduled run of a workflow, or
// false when the workflow never ran.
func (s *Store) LatestRun(ctx context.Context, workflow string) (Run, bool, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return Run{}, false, err
	}
	defer s.pool.Put(conn)

	var run Run
	found := false
	err = sqlitex.Execute(conn, `
		SELECT run_id, workflow, scheduled_for, created_at FROM runs
		WHERE workflow = ? ORDER BY scheduled_for DESC LIMIT 1`,
		&sqlitex.ExecOptions{
			Args: []any{workflow},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				found = true
				run = Run{
					ID:           stmt.ColumnText(0),
					Workflow:     stmt.ColumnText(1),
					ScheduledFor: time.Unix(0, stmt.ColumnInt64(2)).UTC(),
					CreatedAt:    time.Unix(0, stmt.ColumnInt64(3)).UTC(),
				}
				return nil
			},
		})
	if err != nil {
		return Run{}, false, fmt.Errorf("edge store: latest run of %s: %w", workflow, err)
	}
	return run, found, nil
}

// ReapStale marks workers whose last heartbeat predates the cutoff as
// offline, and their running jobs as orphaned. Returns how many
// workers and jobs were affected.
func (s *Store) ReapStale(ctx context.Context, cutoff time.Time) (workers, jobs int, err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, 0, err
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return 0, 0, fmt.Errorf("edge store: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	var staleNames []string
	err = sqlitex.Execute(conn, `
		SELECT name FROM workers
		WHERE last_heartbeat < ? AND state != ?`,
		&sqlitex.ExecOptions{
			Args: []any{cutoff.UnixNano(), string(schema.WorkerOffline)},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				staleNames = append(staleNames, stmt.ColumnText(0))
				return nil
			},
		})
	if err != nil {
		return 0, 0, fmt.Errorf("edge store: finding stale workers: %w", err)
	}

	for _, name := range staleNames {
		err = sqlitex.Execute(conn, `
			UPDATE workers SET state = ?, jobs_active = 0 WHERE name = ?`,
			&sqlitex.ExecOptions{
				Args: []any{string(schema.WorkerOffline), name},
			})
		if err != nil {
			return 0, 0, fmt.Errorf("edge store: offlining worker %s: %w", name, err)
		}

		err = sqlitex.Execute(conn, `
			UPDATE jobs SET state = ?, finished_at = ?
			WHERE worker = ? AND state = ?`,
			&sqlitex.ExecOptions{
				Args: []any{
					string(schema.JobOrphaned), s.clock.Now().UnixNano(),
					name, string(schema.JobRunning),
				},
			})
		if err != nil {
			return 0, 0, fmt.Errorf("edge store: orphaning jobs of %s: %w", name, err)
		}
		jobs += conn.Changes()
	}

	return len(staleNames), jobs, nil
}

// RequeueOrphaned returns orphaned jobs to the queue with an
// incremented attempt counter and no worker assignment. Returns how
// many jobs were requeued.
func (s *Store) RequeueOrphaned(ctx context.Context) (requeued int, err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, err
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return 0, fmt.Errorf("edge store: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	var orphanIDs []string
	err = sqlitex.Execute(conn, `
		SELECT id FROM jobs WHERE state = ? ORDER BY queued_at, id`,
		&sqlitex.ExecOptions{
			Args: []any{string(schema.JobOrphaned)},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				orphanIDs = append(orphanIDs, stmt.ColumnText(0))
				return nil
			},
		})
	if err != nil {
		return 0, fmt.Errorf("edge store: listing orphaned jobs: %w", err)
	}

	for _, id := range orphanIDs {
		err = sqlitex.Execute(conn, `
			UPDATE jobs
			SET state = ?, worker = '', attempt = attempt + 1,
			    log_offset = 0, started_at = NULL, finished_at = NULL,
			    queued_at = ?
			WHERE id = ?`,
			&sqlitex.ExecOptions{
				Args: []any{string(schema.JobQueued), s.clock.Now().UnixNano(), id},
			})
		if err != nil {
			return 0, fmt.Errorf("edge store: requeueing job %s: %w", id, err)
		}
	}

	return len(orphanIDs), nil
}
