// Copyright 2026 The Tracery Authors
// SPDX-License-Identifier: Apache-2.0

package edge

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/tracery-project/tracery/lib/asset"
	"github.com/tracery-project/tracery/lib/clock"
	"github.com/tracery-project/tracery/lib/schema"
	"github.com/tracery-project/tracery/lib/testutil"
	"github.com/tracery-project/tracery/lib/workertoken"
	"github.com/tracery-project/tracery/lineage"
)

// testServer is a running edge server plus everything a test needs to
// talk to it.
type testServer struct {
	baseURL    string
	store      *Store
	lineage    *lineage.Store
	logRoot    string
	clock      *clock.FakeClock
	privateKey ed25519.PrivateKey
}

func startServer(t *testing.T) *testServer {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	fakeClock := clock.Fake(storeTestTime)

	store, err := OpenStore(StoreConfig{
		Path: ":memory:", PoolSize: 1, Clock: fakeClock, Logger: logger,
	})
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	lineageStore, err := lineage.OpenStore(lineage.StoreConfig{
		Path: ":memory:", PoolSize: 1, Clock: fakeClock, Logger: logger,
	})
	if err != nil {
		t.Fatalf("lineage.OpenStore: %v", err)
	}
	t.Cleanup(func() { lineageStore.Close() })

	logRoot := t.TempDir()
	logs, err := NewLogManager(logRoot, store, logger)
	if err != nil {
		t.Fatalf("NewLogManager: %v", err)
	}

	public, private, err := workertoken.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}

	server, err := NewServer(ServerConfig{
		ListenAddress:     "127.0.0.1:0",
		PublicKey:         public,
		Store:             store,
		Logs:              logs,
		Lineage:           lineageStore,
		HeartbeatInterval: 30 * time.Second,
		GraphDepthLimit:   10,
		Clock:             fakeClock,
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

	return &testServer{
		baseURL:    "http://" + server.Addr(),
		store:      store,
		lineage:    lineageStore,
		logRoot:    logRoot,
		clock:      fakeClock,
		privateKey: private,
	}
}

// mintToken mints a token for a worker with the given queue grants.
func (ts *testServer) mintToken(t *testing.T, worker string, queues ...string) string {
	t.Helper()
	raw, err := workertoken.Mint(ts.privateKey, &workertoken.Token{
		Subject:  worker,
		Audience: workertoken.AudienceEdge,
		Queues:   queues,
		ID:       testutil.UniqueID("token"),
		IssuedAt: ts.clock.Now().Unix(),
	})
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	return workertoken.Encode(raw)
}

// call posts one JSON-RPC request and decodes the response envelope.
func (ts *testServer) call(t *testing.T, token, method string, params any) schema.RPCResponse {
	t.Helper()
	encodedParams, err := json.Marshal(params)
	if err != nil {
		t.Fatalf("encoding params: %v", err)
	}
	body, err := json.Marshal(schema.RPCRequest{
		JSONRPC: schema.JSONRPCVersion,
		Method:  method,
		Params:  encodedParams,
		ID:      json.RawMessage(`1`),
	})
	if err != nil {
		t.Fatalf("encoding request: %v", err)
	}
	return ts.post(t, token, body)
}

func (ts *testServer) post(t *testing.T, token string, body []byte) schema.RPCResponse {
	t.Helper()
	request, err := http.NewRequest(http.MethodPost, ts.baseURL+schema.RPCPath, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	request.Header.Set("Content-Type", "application/json")
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}

	response, err := http.DefaultClient.Do(request)
	if err != nil {
		t.Fatalf("posting rpc: %v", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		t.Fatalf("rpc endpoint returned HTTP %d", response.StatusCode)
	}

	var envelope schema.RPCResponse
	if err := json.NewDecoder(response.Body).Decode(&envelope); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return envelope
}

// mustResult asserts a successful call and decodes its result.
func mustResult[T any](t *testing.T, response schema.RPCResponse) T {
	t.Helper()
	var result T
	if response.Error != nil {
		t.Fatalf("rpc error: %v", response.Error)
	}
	if err := json.Unmarshal(response.Result, &result); err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	return result
}

func mustErrorCode(t *testing.T, response schema.RPCResponse, code int) {
	t.Helper()
	if response.Error == nil {
		t.Fatalf("call succeeded, want error code %d", code)
	}
	if response.Error.Code != code {
		t.Fatalf("error code = %d (%s), want %d", response.Error.Code, response.Error.Message, code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	ts := startServer(t)

	response, err := http.Get(ts.baseURL + schema.HealthPath)
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		t.Fatalf("health returned HTTP %d", response.StatusCode)
	}
	var status struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(response.Body).Decode(&status); err != nil {
		t.Fatalf("decoding health body: %v", err)
	}
	if status.Status != "ok" {
		t.Errorf("status = %q", status.Status)
	}
}

func TestEnvelopeErrors(t *testing.T) {
	ts := startServer(t)
	token := ts.mintToken(t, "edge-1", "default")

	// Not JSON at all.
	mustErrorCode(t, ts.post(t, token, []byte("not json")), schema.CodeParseError)

	// Wrong jsonrpc version.
	mustErrorCode(t, ts.post(t, token,
		[]byte(`{"jsonrpc":"1.0","method":"jobs.fetch","params":{}}`)),
		schema.CodeInvalidRequest)

	// Params must be an object.
	mustErrorCode(t, ts.post(t, token,
		[]byte(`{"jsonrpc":"2.0","method":"jobs.fetch","params":[1]}`)),
		schema.CodeInvalidRequest)

	// Unknown method. Dispatch is checked before auth, so this works
	// without a token too.
	mustErrorCode(t, ts.post(t, "",
		[]byte(`{"jsonrpc":"2.0","method":"jobs.cancel","params":{}}`)),
		schema.CodeMethodNotFound)
}

func TestAuthRejections(t *testing.T) {
	ts := startServer(t)

	params := schema.JobsFetchParams{Worker: "edge-1", Queues: []string{"default"}, FreeConcurrency: 1}

	// No token.
	mustErrorCode(t, ts.call(t, "", schema.MethodJobsFetch, params), schema.CodeUnauthorized)

	// Garbage token.
	mustErrorCode(t, ts.call(t, "AAAA", schema.MethodJobsFetch, params), schema.CodeUnauthorized)

	// Token for a different worker.
	otherToken := ts.mintToken(t, "edge-2", "default")
	mustErrorCode(t, ts.call(t, otherToken, schema.MethodJobsFetch, params), schema.CodeUnauthorized)

	// Token without the requested queue grant.
	gpuToken := ts.mintToken(t, "edge-1", "gpu")
	mustErrorCode(t, ts.call(t, gpuToken, schema.MethodJobsFetch, params), schema.CodeUnauthorized)
}

func TestWorkerLifecycleOverRPC(t *testing.T) {
	ts := startServer(t)
	token := ts.mintToken(t, "edge-1", "default")

	registerResult := mustResult[schema.WorkerRegisterResult](t, ts.call(t, token,
		schema.MethodWorkerRegister, schema.WorkerRegisterParams{
			Worker: "edge-1", Queues: []string{"default"}, Concurrency: 4, Version: "1.0.0",
		}))
	if registerResult.HeartbeatInterval != 30 {
		t.Errorf("heartbeat interval = %d, want 30", registerResult.HeartbeatInterval)
	}

	stateResult := mustResult[schema.WorkerSetStateResult](t, ts.call(t, token,
		schema.MethodWorkerSetState, schema.WorkerSetStateParams{
			Worker: "edge-1", State: schema.WorkerIdle, JobsActive: 0,
		}))
	if stateResult.Maintenance {
		t.Error("fresh worker put into maintenance")
	}
	if len(stateResult.Queues) != 1 || stateResult.Queues[0] != "default" {
		t.Errorf("queues = %v", stateResult.Queues)
	}
}

func TestJobFlowOverRPC(t *testing.T) {
	ts := startServer(t)
	token := ts.mintToken(t, "edge-1", "default")
	extractID, _ := seedRun(t, ts.store)

	fetchResult := mustResult[schema.JobsFetchResult](t, ts.call(t, token,
		schema.MethodJobsFetch, schema.JobsFetchParams{
			Worker: "edge-1", Queues: []string{"default"}, FreeConcurrency: 2,
		}))
	if fetchResult.Job == nil || fetchResult.Job.ID != extractID {
		t.Fatalf("fetched %+v, want %s", fetchResult.Job, extractID)
	}

	pathResult := mustResult[schema.LogsLogfilePathResult](t, ts.call(t, token,
		schema.MethodLogsLogfilePath, schema.LogsLogfilePathParams{JobID: extractID}))
	wantPath := filepath.Join("sales", "run-1", "extract.1.log")
	if pathResult.Path != wantPath {
		t.Errorf("logfile path = %q, want %q", pathResult.Path, wantPath)
	}

	exitCode := 0
	mustResult[struct{}](t, ts.call(t, token,
		schema.MethodJobsState, schema.JobsStateParams{
			JobID: extractID, State: schema.JobSucceeded, ExitCode: &exitCode,
		}))

	status, err := ts.store.Job(context.Background(), extractID)
	if err != nil {
		t.Fatalf("Job: %v", err)
	}
	if status.State != schema.JobSucceeded {
		t.Errorf("state = %q", status.State)
	}

	// With zero free slots the fetch returns no job instead of
	// claiming one.
	fetchResult = mustResult[schema.JobsFetchResult](t, ts.call(t, token,
		schema.MethodJobsFetch, schema.JobsFetchParams{
			Worker: "edge-1", Queues: []string{"default"}, FreeConcurrency: 0,
		}))
	if fetchResult.Job != nil {
		t.Errorf("fetched %s with zero free concurrency", fetchResult.Job.ID)
	}
}

func compressChunk(t *testing.T, data []byte) []byte {
	t.Helper()
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
	if err != nil {
		t.Fatalf("zstd.NewWriter: %v", err)
	}
	return encoder.EncodeAll(data, nil)
}

func TestLogsPushOverRPC(t *testing.T) {
	ts := startServer(t)
	token := ts.mintToken(t, "edge-1", "default")
	extractID, _ := seedRun(t, ts.store)

	fetchResult := mustResult[schema.JobsFetchResult](t, ts.call(t, token,
		schema.MethodJobsFetch, schema.JobsFetchParams{
			Worker: "edge-1", Queues: []string{"default"}, FreeConcurrency: 1,
		}))
	if fetchResult.Job == nil {
		t.Fatal("no job fetched")
	}

	first := []byte("line one\n")
	second := []byte("line two\n")

	mustResult[struct{}](t, ts.call(t, token,
		schema.MethodLogsPush, schema.LogsPushParams{
			JobID: extractID, Offset: 0, Data: compressChunk(t, first),
		}))

	// Re-pushing the same offset is out of order.
	mustErrorCode(t, ts.call(t, token,
		schema.MethodLogsPush, schema.LogsPushParams{
			JobID: extractID, Offset: 0, Data: compressChunk(t, first),
		}), schema.CodeInvalidParams)

	mustResult[struct{}](t, ts.call(t, token,
		schema.MethodLogsPush, schema.LogsPushParams{
			JobID: extractID, Offset: int64(len(first)), Data: compressChunk(t, second),
		}))

	content, err := os.ReadFile(filepath.Join(ts.logRoot, "sales", "run-1", "extract.1.log"))
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if want := string(first) + string(second); string(content) != want {
		t.Errorf("log file = %q, want %q", content, want)
	}

	// A worker that does not own the job cannot push to it.
	otherToken := ts.mintToken(t, "edge-2", "default")
	response := ts.call(t, otherToken, schema.MethodLogsPush, schema.LogsPushParams{
		JobID: extractID, Offset: int64(len(first) + len(second)), Data: compressChunk(t, []byte("x")),
	})
	if response.Error == nil {
		t.Fatal("foreign worker pushed logs to another worker's job")
	}
}

func TestLineagePushAndGraphOverRPC(t *testing.T) {
	ts := startServer(t)
	token := ts.mintToken(t, "edge-1", "default")
	seedRun(t, ts.store)

	// Claim a task's job, push its lineage, and mark it done so the
	// next task becomes eligible.
	push := func(task string, inlets, outlets []string) {
		t.Helper()
		fetchResult := mustResult[schema.JobsFetchResult](t, ts.call(t, token,
			schema.MethodJobsFetch, schema.JobsFetchParams{
				Worker: "edge-1", Queues: []string{"default"}, FreeConcurrency: 1,
			}))
		if fetchResult.Job == nil || fetchResult.Job.Task != task {
			t.Fatalf("fetched %+v, want task %s", fetchResult.Job, task)
		}
		e := schema.LineageEvent{
			Version:   schema.LineageEventVersion,
			Workflow:  "sales",
			Task:      task,
			RunID:     "run-1",
			JobID:     fetchResult.Job.ID,
			Phase:     schema.LineageComplete,
			EmittedAt: ts.clock.Now(),
		}
		for _, uri := range inlets {
			a, err := asset.New(uri)
			if err != nil {
				t.Fatalf("asset %q: %v", uri, err)
			}
			e.Inlets = append(e.Inlets, a)
		}
		for _, uri := range outlets {
			a, err := asset.New(uri)
			if err != nil {
				t.Fatalf("asset %q: %v", uri, err)
			}
			e.Outlets = append(e.Outlets, a)
		}
		result := mustResult[schema.LineagePushResult](t, ts.call(t, token,
			schema.MethodLineagePush, schema.LineagePushParams{Events: []schema.LineageEvent{e}}))
		if result.Accepted != 1 {
			t.Fatalf("accepted = %d, want 1", result.Accepted)
		}
		exitCode := 0
		mustResult[struct{}](t, ts.call(t, token,
			schema.MethodJobsState, schema.JobsStateParams{
				JobID: e.JobID, State: schema.JobSucceeded, ExitCode: &exitCode,
			}))
	}

	push("extract", []string{"s3://raw/orders.csv"}, []string{"postgres://warehouse/orders"})
	push("load", []string{"postgres://warehouse/orders"}, []string{"s3://reports/daily.parquet"})

	graph := mustResult[schema.LineageGraphResult](t, ts.call(t, token,
		schema.MethodLineageGraph, schema.LineageGraphParams{
			Asset:     "s3://reports/daily.parquet",
			Direction: schema.GraphUpstream,
		}))
	// 3 assets + 2 tasks.
	if len(graph.Nodes) != 5 {
		t.Errorf("graph has %d nodes, want 5: %+v", len(graph.Nodes), graph.Nodes)
	}
	if len(graph.Edges) != 4 {
		t.Errorf("graph has %d edges, want 4: %+v", len(graph.Edges), graph.Edges)
	}

	// Redelivery is idempotent end to end.
	result := mustResult[schema.LineagePushResult](t, ts.call(t, token,
		schema.MethodLineagePush, schema.LineagePushParams{Events: func() []schema.LineageEvent {
			events, err := ts.lineage.Events(context.Background(), "run-1")
			if err != nil {
				t.Fatalf("Events: %v", err)
			}
			return events
		}()}))
	if result.Accepted != 0 {
		t.Errorf("redelivery accepted %d events, want 0", result.Accepted)
	}
}

func TestWorkerDrainRequestOverRPC(t *testing.T) {
	ts := startServer(t)
	token := ts.mintToken(t, "edge-1", "default")
	ctx := context.Background()

	mustResult[schema.WorkerRegisterResult](t, ts.call(t, token,
		schema.MethodWorkerRegister, schema.WorkerRegisterParams{
			Worker: "edge-1", Queues: []string{"default"}, Concurrency: 4,
		}))

	// A worker reporting local maintenance must not see that state
	// reflected back as a server drain request: the marker comes off,
	// the next heartbeat says idle, and the worker resumes.
	stateResult := mustResult[schema.WorkerSetStateResult](t, ts.call(t, token,
		schema.MethodWorkerSetState, schema.WorkerSetStateParams{
			Worker: "edge-1", State: schema.WorkerMaintenance, JobsActive: 0,
		}))
	if stateResult.Maintenance {
		t.Fatal("self-reported maintenance state echoed back as a drain request")
	}

	// An operator drain request is relayed regardless of reported state.
	if err := ts.store.SetWorkerMaintenance(ctx, "edge-1", true); err != nil {
		t.Fatalf("SetWorkerMaintenance: %v", err)
	}
	stateResult = mustResult[schema.WorkerSetStateResult](t, ts.call(t, token,
		schema.MethodWorkerSetState, schema.WorkerSetStateParams{
			Worker: "edge-1", State: schema.WorkerIdle, JobsActive: 0,
		}))
	if !stateResult.Maintenance {
		t.Fatal("operator drain request not relayed")
	}

	// Clearing the request lets the worker resume.
	if err := ts.store.SetWorkerMaintenance(ctx, "edge-1", false); err != nil {
		t.Fatalf("SetWorkerMaintenance: %v", err)
	}
	stateResult = mustResult[schema.WorkerSetStateResult](t, ts.call(t, token,
		schema.MethodWorkerSetState, schema.WorkerSetStateParams{
			Worker: "edge-1", State: schema.WorkerIdle, JobsActive: 0,
		}))
	if stateResult.Maintenance {
		t.Fatal("cleared drain request still relayed")
	}
}

func TestLogfilePathRequiresJobOwnership(t *testing.T) {
	ts := startServer(t)
	token := ts.mintToken(t, "edge-1", "default")
	extractID, _ := seedRun(t, ts.store)

	fetchResult := mustResult[schema.JobsFetchResult](t, ts.call(t, token,
		schema.MethodJobsFetch, schema.JobsFetchParams{
			Worker: "edge-1", Queues: []string{"default"}, FreeConcurrency: 1,
		}))
	if fetchResult.Job == nil {
		t.Fatal("no job fetched")
	}

	otherToken := ts.mintToken(t, "edge-2", "default")
	mustErrorCode(t, ts.call(t, otherToken,
		schema.MethodLogsLogfilePath, schema.LogsLogfilePathParams{JobID: extractID}),
		schema.CodeUnauthorized)
}

func TestLineagePushRequiresJobOwnership(t *testing.T) {
	ts := startServer(t)
	token := ts.mintToken(t, "edge-1", "default")
	extractID, _ := seedRun(t, ts.store)

	fetchResult := mustResult[schema.JobsFetchResult](t, ts.call(t, token,
		schema.MethodJobsFetch, schema.JobsFetchParams{
			Worker: "edge-1", Queues: []string{"default"}, FreeConcurrency: 1,
		}))
	if fetchResult.Job == nil {
		t.Fatal("no job fetched")
	}

	event := schema.LineageEvent{
		Version:   schema.LineageEventVersion,
		Workflow:  "sales",
		Task:      "extract",
		RunID:     "run-1",
		JobID:     extractID,
		Phase:     schema.LineageStart,
		EmittedAt: ts.clock.Now(),
	}

	otherToken := ts.mintToken(t, "edge-2", "default")
	mustErrorCode(t, ts.call(t, otherToken,
		schema.MethodLineagePush, schema.LineagePushParams{Events: []schema.LineageEvent{event}}),
		schema.CodeUnauthorized)

	// An event naming a job the store has never seen is rejected too.
	event.JobID = "job-ghost"
	response := ts.call(t, token,
		schema.MethodLineagePush, schema.LineagePushParams{Events: []schema.LineageEvent{event}})
	if response.Error == nil {
		t.Fatal("event for an unknown job accepted")
	}
}

func TestOversizedBodyRejected(t *testing.T) {
	ts := startServer(t)

	body := bytes.Repeat([]byte("a"), maxRequestBody+2)
	request, err := http.NewRequest(http.MethodPost, ts.baseURL+schema.RPCPath, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		t.Fatalf("posting: %v", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusRequestEntityTooLarge {
		t.Errorf("HTTP status = %d, want 413", response.StatusCode)
	}
}
