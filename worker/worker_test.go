// Copyright 2026 The Tracery Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tracery-project/tracery/edge"
	"github.com/tracery-project/tracery/lib/asset"
	"github.com/tracery-project/tracery/lib/clock"
	"github.com/tracery-project/tracery/lib/schema"
	"github.com/tracery-project/tracery/lib/testutil"
	"github.com/tracery-project/tracery/lib/workertoken"
	"github.com/tracery-project/tracery/lineage"
)

// harness is a real edge server for the worker to talk to.
type harness struct {
	baseURL      string
	store        *edge.Store
	lineageStore *lineage.Store
	logRoot      string
	token        string
}

func startHarness(t *testing.T) *harness {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)

	store, err := edge.OpenStore(edge.StoreConfig{
		Path: ":memory:", PoolSize: 1, Clock: clock.Real(), Logger: logger,
	})
	if err != nil {
		t.Fatalf("edge.OpenStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	lineageStore, err := lineage.OpenStore(lineage.StoreConfig{
		Path: ":memory:", PoolSize: 1, Clock: clock.Real(), Logger: logger,
	})
	if err != nil {
		t.Fatalf("lineage.OpenStore: %v", err)
	}
	t.Cleanup(func() { lineageStore.Close() })

	logRoot := t.TempDir()
	logs, err := edge.NewLogManager(logRoot, store, logger)
	if err != nil {
		t.Fatalf("NewLogManager: %v", err)
	}

	public, private, err := workertoken.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}

	server, err := edge.NewServer(edge.ServerConfig{
		ListenAddress:     "127.0.0.1:0",
		PublicKey:         public,
		Store:             store,
		Logs:              logs,
		Lineage:           lineageStore,
		HeartbeatInterval: 50 * time.Millisecond,
		Clock:             clock.Real(),
		Logger:            logger,
	})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := server.Run(ctx); err != nil {
			t.Errorf("server.Run: %v", err)
		}
	}()
	t.Cleanup(func() {
		cancel()
		testutil.RequireClosed(t, done, 5*time.Second, "server did not shut down")
	})
	testutil.RequireClosed(t, server.Ready(), 5*time.Second, "server did not become ready")

	raw, err := workertoken.Mint(private, &workertoken.Token{
		Subject:  "edge-1",
		Audience: workertoken.AudienceEdge,
		Queues:   []string{"*"},
		ID:       testutil.UniqueID("token"),
		IssuedAt: time.Now().Unix(),
	})
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	return &harness{
		baseURL:      "http://" + server.Addr(),
		store:        store,
		lineageStore: lineageStore,
		logRoot:      logRoot,
		token:        workertoken.Encode(raw),
	}
}

func (h *harness) workerConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		Name:              "edge-1",
		ServerURL:         h.baseURL,
		Token:             h.token,
		Queues:            []string{"default"},
		Concurrency:       2,
		PollInterval:      20 * time.Millisecond,
		HeartbeatInterval: 50 * time.Millisecond,
		LogFlushInterval:  20 * time.Millisecond,
		Clock:             clock.Real(),
		Logger:            slog.New(slog.DiscardHandler),
	}
}

// seedJob enqueues a single-task run executing the given shell script.
func (h *harness) seedJob(t *testing.T, script string) string {
	t.Helper()
	now := time.Now().UTC()
	inlet, err := asset.New("s3://raw/input.csv")
	if err != nil {
		t.Fatalf("asset.New: %v", err)
	}
	job := schema.Job{
		ID:       "job-1",
		Workflow: "sales",
		Task:     "extract",
		RunID:    "run-1",
		Queue:    "default",
		Command:  []string{"/bin/sh", "-c", script},
		Attempt:  1,
		Inlets:   []asset.Asset{inlet},
		QueuedAt: now,
	}
	created, err := h.store.CreateRun(context.Background(),
		edge.Run{ID: "run-1", Workflow: "sales", ScheduledFor: now, CreatedAt: now},
		[]schema.Job{job}, nil)
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if !created {
		t.Fatal("run not created")
	}
	return job.ID
}

// waitFor polls until the condition holds or the deadline passes.
func waitFor(t *testing.T, what string, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestWorkerExecutesJobEndToEnd(t *testing.T) {
	h := startHarness(t)
	jobID := h.seedJob(t,
		`echo hello from task; printf '{"outlets": ["s3://runtime/output"]}\n' > "$TRACERY_LINEAGE_PATH"`)

	w, err := New(h.workerConfig(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- w.Run(ctx) }()

	waitFor(t, "job to succeed", func() bool {
		status, err := h.store.Job(context.Background(), jobID)
		return err == nil && status.State == schema.JobSucceeded
	})

	// Logs arrive asynchronously on the flush interval.
	logPath := filepath.Join(h.logRoot, "sales", "run-1", "extract.1.log")
	waitFor(t, "log file content", func() bool {
		content, err := os.ReadFile(logPath)
		return err == nil && string(content) == "hello from task\n"
	})

	// Both lineage boundary events, with the runtime-reported outlet
	// merged into the terminal one.
	waitFor(t, "lineage events", func() bool {
		events, err := h.lineageStore.Events(context.Background(), "run-1")
		return err == nil && len(events) == 2
	})
	events, err := h.lineageStore.Events(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	var complete *schema.LineageEvent
	for i := range events {
		if events[i].Phase == schema.LineageComplete {
			complete = &events[i]
		}
	}
	if complete == nil {
		t.Fatalf("no complete event in %+v", events)
	}
	if complete.Worker != "edge-1" {
		t.Errorf("event worker = %q", complete.Worker)
	}
	if len(complete.Outlets) != 1 || complete.Outlets[0].URI != "s3://runtime/output" {
		t.Errorf("outlets = %+v, want the runtime-reported asset", complete.Outlets)
	}
	if len(complete.Inlets) != 1 {
		t.Errorf("inlets = %+v", complete.Inlets)
	}

	// Graceful shutdown reports offline.
	cancel()
	if err := testutil.RequireReceive(t, runDone, 10*time.Second, "worker did not stop"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	workers, err := h.store.Workers(context.Background())
	if err != nil {
		t.Fatalf("Workers: %v", err)
	}
	if len(workers) != 1 || workers[0].State != schema.WorkerOffline {
		t.Errorf("worker registry after shutdown: %+v", workers)
	}
}

func TestWorkerReportsFailure(t *testing.T) {
	h := startHarness(t)
	jobID := h.seedJob(t, `echo about to fail; exit 3`)

	w, err := New(h.workerConfig(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runDone := make(chan error, 1)
	go func() { runDone <- w.Run(ctx) }()

	waitFor(t, "job to fail", func() bool {
		status, err := h.store.Job(context.Background(), jobID)
		return err == nil && status.State == schema.JobFailed
	})

	status, err := h.store.Job(context.Background(), jobID)
	if err != nil {
		t.Fatalf("Job: %v", err)
	}
	if status.ExitCode == nil || *status.ExitCode != 3 {
		t.Errorf("exit code = %v, want 3", status.ExitCode)
	}

	// The failed lineage event still arrives.
	waitFor(t, "failed lineage event", func() bool {
		events, err := h.lineageStore.Events(context.Background(), "run-1")
		if err != nil {
			return false
		}
		for _, event := range events {
			if event.Phase == schema.LineageFailed {
				return true
			}
		}
		return false
	})

	cancel()
	if err := testutil.RequireReceive(t, runDone, 10*time.Second, "worker did not stop"); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestWorkerMaintenanceMarkerStopsFetching(t *testing.T) {
	h := startHarness(t)

	markerPath := filepath.Join(t.TempDir(), "maintenance")
	if err := WriteMarker(markerPath, "test", time.Now()); err != nil {
		t.Fatalf("WriteMarker: %v", err)
	}

	cfg := h.workerConfig(t)
	cfg.MaintenanceMarker = markerPath
	w, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	jobID := h.seedJob(t, `echo should not run`)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runDone := make(chan error, 1)
	go func() { runDone <- w.Run(ctx) }()

	// The worker heartbeats as maintenance and leaves the job queued.
	waitFor(t, "maintenance heartbeat", func() bool {
		workers, err := h.store.Workers(context.Background())
		return err == nil && len(workers) == 1 && workers[0].State == schema.WorkerMaintenance
	})
	status, err := h.store.Job(context.Background(), jobID)
	if err != nil {
		t.Fatalf("Job: %v", err)
	}
	if status.State != schema.JobQueued {
		t.Fatalf("job state = %q, want queued during maintenance", status.State)
	}

	// Clearing the marker resumes fetching.
	if err := RemoveMarker(markerPath); err != nil {
		t.Fatalf("RemoveMarker: %v", err)
	}
	waitFor(t, "job to run after maintenance", func() bool {
		status, err := h.store.Job(context.Background(), jobID)
		return err == nil && status.State == schema.JobSucceeded
	})

	cancel()
	if err := testutil.RequireReceive(t, runDone, 10*time.Second, "worker did not stop"); err != nil {
		t.Fatalf("Run: %v", err)
	}
}
