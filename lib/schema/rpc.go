// Copyright 2026 The Tracery Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"encoding/json"
	"fmt"
)

// JSONRPCVersion is the only protocol version the edge worker API
// speaks.
const JSONRPCVersion = "2.0"

// RPCPath is the edge worker API endpoint. All methods ride a single
// POST endpoint; the method name is in the envelope, not the URL.
const RPCPath = "/edge_worker/v1/rpcapi"

// HealthPath is the unauthenticated liveness endpoint.
const HealthPath = "/edge_worker/v1/health"

// JSON-RPC 2.0 error codes used by the edge worker API.
const (
	// CodeParseError: body is not valid JSON.
	CodeParseError = -32700
	// CodeInvalidRequest: envelope is malformed (wrong jsonrpc
	// version, missing method, params not an object).
	CodeInvalidRequest = -32600
	// CodeMethodNotFound: no such method.
	CodeMethodNotFound = -32601
	// CodeInvalidParams: params failed method-specific validation.
	CodeInvalidParams = -32602
	// CodeInternalError: the method failed server-side.
	CodeInternalError = -32603
	// CodeUnauthorized: missing or invalid worker token.
	// Implementation-defined code in the JSON-RPC reserved server
	// range.
	CodeUnauthorized = -32001
)

// RPCRequest is the edge worker API request envelope. JSONRPC must be
// "2.0", Method is required, and Params must be a JSON object (it may
// be empty).
type RPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	// ID is echoed in the response. Null/absent IDs are allowed;
	// the edge worker API does not use notification semantics.
	ID json.RawMessage `json:"id,omitempty"`
}

// ValidateEnvelope checks the envelope rules that apply before method
// dispatch. Returns the JSON-RPC error code and a message on failure.
func (r RPCRequest) ValidateEnvelope() (int, string) {
	if r.JSONRPC != JSONRPCVersion {
		return CodeInvalidRequest, fmt.Sprintf("jsonrpc must be %q", JSONRPCVersion)
	}
	if r.Method == "" {
		return CodeInvalidRequest, "method is required"
	}
	if len(r.Params) == 0 {
		return CodeInvalidRequest, "params is required and must be an object"
	}
	// Params must be a JSON object, not an array or scalar. Cheap
	// structural check: first non-space byte must be '{'.
	for _, b := range r.Params {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		case '{':
			return 0, ""
		default:
			return CodeInvalidRequest, "params must be an object"
		}
	}
	return CodeInvalidRequest, "params must be an object"
}

// RPCResponse is the edge worker API response envelope. Exactly one
// of Result and Error is set.
type RPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
}

// RPCError is the JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Error implements the error interface so client code can return
// server-reported errors directly.
func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Method names of the edge worker API.
const (
	MethodWorkerRegister  = "worker.register"
	MethodWorkerSetState  = "worker.set_state"
	MethodJobsFetch       = "jobs.fetch"
	MethodJobsState       = "jobs.state"
	MethodLogsLogfilePath = "logs.logfile_path"
	MethodLogsPush        = "logs.push"
	MethodLineagePush     = "lineage.push"
	MethodLineageGraph    = "lineage.graph"
)

// WorkerRegisterParams is the params object for worker.register.
type WorkerRegisterParams struct {
	Worker      string   `json:"worker"`
	Queues      []string `json:"queues"`
	Concurrency int      `json:"concurrency"`
	Version     string   `json:"version,omitempty"`
}

// WorkerRegisterResult is the result of worker.register.
type WorkerRegisterResult struct {
	// HeartbeatInterval is how often (seconds) the worker should
	// call worker.set_state.
	HeartbeatInterval int `json:"heartbeat_interval"`
}

// WorkerSetStateParams is the params object for worker.set_state.
type WorkerSetStateParams struct {
	Worker     string      `json:"worker"`
	State      WorkerState `json:"state"`
	JobsActive int         `json:"jobs_active"`
}

// WorkerSetStateResult is the result of worker.set_state. The server
// can adjust the worker's queues and request maintenance without a
// separate control channel.
type WorkerSetStateResult struct {
	Queues      []string `json:"queues"`
	Maintenance bool     `json:"maintenance"`
}

// JobsFetchParams is the params object for jobs.fetch.
type JobsFetchParams struct {
	Worker          string   `json:"worker"`
	Queues          []string `json:"queues"`
	FreeConcurrency int      `json:"free_concurrency"`
}

// JobsFetchResult is the result of jobs.fetch. Job is null when
// nothing is eligible.
type JobsFetchResult struct {
	Job *Job `json:"job"`
}

// JobsStateParams is the params object for jobs.state.
type JobsStateParams struct {
	JobID    string   `json:"job_id"`
	State    JobState `json:"state"`
	ExitCode *int     `json:"exit_code,omitempty"`
	Message  string   `json:"message,omitempty"`
}

// LogsLogfilePathParams is the params object for logs.logfile_path.
type LogsLogfilePathParams struct {
	JobID string `json:"job_id"`
}

// LogsLogfilePathResult is the result of logs.logfile_path: the
// server-relative path where the job's log is materialized.
type LogsLogfilePathResult struct {
	Path string `json:"path"`
}

// LogsPushParams is the params object for logs.push. Data is a
// base64-encoded (by encoding/json) zstd-compressed chunk of log
// bytes. Offset is the uncompressed byte offset of the chunk start;
// chunks must arrive in order.
type LogsPushParams struct {
	JobID  string `json:"job_id"`
	Offset int64  `json:"offset"`
	Data   []byte `json:"data"`
}

// LineagePushParams is the params object for lineage.push.
type LineagePushParams struct {
	Events []LineageEvent `json:"events"`
}

// LineagePushResult is the result of lineage.push.
type LineagePushResult struct {
	Accepted int `json:"accepted"`
}

// GraphDirection selects the walk direction for lineage.graph.
type GraphDirection string

const (
	// GraphUpstream walks toward producers: which tasks and assets
	// this asset was derived from.
	GraphUpstream GraphDirection = "upstream"
	// GraphDownstream walks toward consumers.
	GraphDownstream GraphDirection = "downstream"
)

// LineageGraphParams is the params object for lineage.graph.
type LineageGraphParams struct {
	// Asset is the starting asset URI (raw; the server normalizes).
	Asset string `json:"asset"`
	// Direction is upstream or downstream.
	Direction GraphDirection `json:"direction"`
	// Depth bounds the walk; 0 means the server default.
	Depth int `json:"depth,omitempty"`
}

// GraphNode is one node in a lineage graph slice: an asset or a task.
type GraphNode struct {
	// ID is the node key: the asset key, or "task:<workflow>/<task>".
	ID string `json:"id"`
	// Kind is "asset" or "task".
	Kind string `json:"kind"`
	// Label is the display form: the asset URI or the task name.
	Label string `json:"label"`
}

// GraphEdge is a directed edge in a lineage graph slice, from
// producer to consumer.
type GraphEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// LineageGraphResult is the result of lineage.graph.
type LineageGraphResult struct {
	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
}
