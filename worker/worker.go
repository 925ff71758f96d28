// Copyright 2026 The Tracery Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/tracery-project/tracery/lib/clock"
	"github.com/tracery-project/tracery/lib/schema"
	"github.com/tracery-project/tracery/lineage"
)

// Config holds the parameters for running an edge worker.
type Config struct {
	// Name is the worker's unique name; must match the token subject.
	Name string

	// ServerURL is the base URL of the Tracery server.
	ServerURL string

	// Token is the base64url-encoded worker token.
	Token string

	// Queues are the queues to fetch jobs from.
	Queues []string

	// Concurrency is the number of jobs the worker runs at once.
	Concurrency int

	// PollInterval is how often the worker asks for jobs when it has
	// free slots.
	PollInterval time.Duration

	// HeartbeatInterval is how often the worker reports its state.
	// The server's answer at registration overrides it.
	HeartbeatInterval time.Duration

	// LogFlushInterval is how often buffered job output is pushed.
	LogFlushInterval time.Duration

	// LogBufferSize caps unflushed output per job before the task
	// process is backpressured. Zero means DefaultLogBufferSize.
	LogBufferSize int

	// MaintenanceMarker is the path of the maintenance marker file.
	// Empty disables file-driven maintenance.
	MaintenanceMarker string

	// Version is reported at registration.
	Version string

	// HTTPClient overrides the HTTP client (tests). Nil means
	// http.DefaultClient.
	HTTPClient *http.Client

	// Clock drives the poll and heartbeat tickers. Required.
	Clock clock.Clock

	// Logger receives operational logs. Required.
	Logger *slog.Logger
}

// Worker is an edge worker: it registers with the server, polls its
// queues for jobs, executes them as subprocesses, and streams logs and
// lineage back.
type Worker struct {
	config    Config
	client    *Client
	collector *lineage.Collector
	encoder   *zstd.Encoder
	clock     clock.Clock
	logger    *slog.Logger

	active atomic.Int32
	jobs   sync.WaitGroup

	// serverMaintenance mirrors the operator drain request relayed in
	// each worker.set_state response. It tracks the server: when the
	// operator clears the request, the next heartbeat clears it here.
	serverMaintenance atomic.Bool
}

// New creates a worker. Call [Worker.Run] to start it.
func New(cfg Config) (*Worker, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("worker: Name is required")
	}
	if cfg.ServerURL == "" {
		return nil, fmt.Errorf("worker: ServerURL is required")
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("worker: Token is required")
	}
	if len(cfg.Queues) == 0 {
		return nil, fmt.Errorf("worker: at least one queue is required")
	}
	if cfg.Concurrency < 1 {
		return nil, fmt.Errorf("worker: Concurrency must be at least 1")
	}
	if cfg.PollInterval <= 0 || cfg.HeartbeatInterval <= 0 || cfg.LogFlushInterval <= 0 {
		return nil, fmt.Errorf("worker: PollInterval, HeartbeatInterval, and LogFlushInterval must be positive")
	}
	if cfg.Clock == nil {
		return nil, fmt.Errorf("worker: Clock is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("worker: Logger is required")
	}
	if cfg.LogBufferSize <= 0 {
		cfg.LogBufferSize = DefaultLogBufferSize
	}

	encoder, err := encoderFor()
	if err != nil {
		return nil, fmt.Errorf("worker: creating zstd encoder: %w", err)
	}

	return &Worker{
		config:    cfg,
		client:    NewClient(cfg.ServerURL, cfg.Token, cfg.HTTPClient),
		collector: lineage.NewCollector(cfg.Name, cfg.Clock),
		encoder:   encoder,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
	}, nil
}

// Run registers with the server and serves jobs until ctx is
// cancelled, then drains running jobs and deregisters by reporting the
// offline state.
func (w *Worker) Run(ctx context.Context) error {
	var registerResult schema.WorkerRegisterResult
	err := w.client.Call(ctx, schema.MethodWorkerRegister, schema.WorkerRegisterParams{
		Worker:      w.config.Name,
		Queues:      w.config.Queues,
		Concurrency: w.config.Concurrency,
		Version:     w.config.Version,
	}, &registerResult)
	if err != nil {
		return fmt.Errorf("worker: registering: %w", err)
	}

	heartbeatInterval := w.config.HeartbeatInterval
	if registerResult.HeartbeatInterval > 0 {
		heartbeatInterval = time.Duration(registerResult.HeartbeatInterval) * time.Second
	}
	w.logger.Info("worker registered",
		"name", w.config.Name, "queues", w.config.Queues,
		"concurrency", w.config.Concurrency, "heartbeat_interval", heartbeatInterval)

	if err := w.heartbeat(ctx); err != nil {
		w.logger.Warn("initial heartbeat failed", "error", err)
	}

	pollTicker := w.clock.NewTicker(w.config.PollInterval)
	defer pollTicker.Stop()
	heartbeatTicker := w.clock.NewTicker(heartbeatInterval)
	defer heartbeatTicker.Stop()

	// Jobs run on a context that survives shutdown: cancellation
	// means "stop taking work", not "kill running tasks".
	jobCtx := context.WithoutCancel(ctx)

	for {
		select {
		case <-ctx.Done():
			return w.shutdown(jobCtx)
		case <-pollTicker.C:
			w.poll(jobCtx)
		case <-heartbeatTicker.C:
			if err := w.heartbeat(ctx); err != nil {
				w.logger.Warn("heartbeat failed", "error", err)
			}
		}
	}
}

// inMaintenance reports whether either maintenance channel (marker
// file or server request) is active.
func (w *Worker) inMaintenance() bool {
	if w.serverMaintenance.Load() {
		return true
	}
	return w.config.MaintenanceMarker != "" && MarkerPresent(w.config.MaintenanceMarker)
}

// state derives the worker state to report.
func (w *Worker) state() schema.WorkerState {
	switch {
	case w.inMaintenance():
		return schema.WorkerMaintenance
	case w.active.Load() > 0:
		return schema.WorkerRunning
	default:
		return schema.WorkerIdle
	}
}

// poll fetches jobs for every free slot and launches them.
func (w *Worker) poll(jobCtx context.Context) {
	if w.inMaintenance() {
		return
	}

	for {
		free := w.config.Concurrency - int(w.active.Load())
		if free < 1 {
			return
		}

		var result schema.JobsFetchResult
		err := w.client.Call(jobCtx, schema.MethodJobsFetch, schema.JobsFetchParams{
			Worker:          w.config.Name,
			Queues:          w.config.Queues,
			FreeConcurrency: free,
		}, &result)
		if err != nil {
			w.logger.Warn("fetching jobs failed", "error", err)
			return
		}
		if result.Job == nil {
			return
		}

		job := result.Job
		w.active.Add(1)
		w.jobs.Add(1)
		go func() {
			defer w.jobs.Done()
			defer w.active.Add(-1)
			w.executeJob(jobCtx, job)
		}()
	}
}

// heartbeat reports the worker's state and applies the server's
// answer.
func (w *Worker) heartbeat(ctx context.Context) error {
	var result schema.WorkerSetStateResult
	err := w.client.Call(ctx, schema.MethodWorkerSetState, schema.WorkerSetStateParams{
		Worker:     w.config.Name,
		State:      w.state(),
		JobsActive: int(w.active.Load()),
	}, &result)
	if err != nil {
		return err
	}
	w.serverMaintenance.Store(result.Maintenance)
	return nil
}

// shutdown drains running jobs and reports the terminating and
// offline states. The drain uses the job context: running tasks
// finish normally.
func (w *Worker) shutdown(jobCtx context.Context) error {
	w.logger.Info("worker terminating", "jobs_active", w.active.Load())

	err := w.client.Call(jobCtx, schema.MethodWorkerSetState, schema.WorkerSetStateParams{
		Worker:     w.config.Name,
		State:      schema.WorkerTerminating,
		JobsActive: int(w.active.Load()),
	}, nil)
	if err != nil {
		w.logger.Warn("reporting terminating state failed", "error", err)
	}

	w.jobs.Wait()

	reportCtx, cancel := context.WithTimeout(jobCtx, 10*time.Second)
	defer cancel()
	err = w.client.Call(reportCtx, schema.MethodWorkerSetState, schema.WorkerSetStateParams{
		Worker:     w.config.Name,
		State:      schema.WorkerOffline,
		JobsActive: 0,
	}, nil)
	if err != nil {
		w.logger.Warn("reporting offline state failed", "error", err)
	}

	w.logger.Info("worker stopped")
	return nil
}
