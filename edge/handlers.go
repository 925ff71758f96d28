// Copyright 2026 The Tracery Authors
// SPDX-License-Identifier: Apache-2.0

package edge

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/tracery-project/tracery/lib/schema"
	"github.com/tracery-project/tracery/lib/workertoken"
)

func (s *Server) handleWorkerRegister(ctx context.Context, token *workertoken.Token, params json.RawMessage) (any, *schema.RPCError) {
	var p schema.WorkerRegisterParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	if rpcErr := requireSubject(token, p.Worker); rpcErr != nil {
		return nil, rpcErr
	}
	for _, queue := range p.Queues {
		if !token.AllowsQueue(queue) {
			return nil, &schema.RPCError{
				Code:    schema.CodeUnauthorized,
				Message: "token does not grant queue " + queue,
			}
		}
	}

	info := schema.WorkerInfo{
		Name:        p.Worker,
		State:       schema.WorkerStarting,
		Queues:      p.Queues,
		Concurrency: p.Concurrency,
		Version:     p.Version,
	}
	if err := s.store.RegisterWorker(ctx, info); err != nil {
		return nil, invalidParams(err.Error())
	}

	s.logger.Info("worker registered",
		"worker", p.Worker, "queues", p.Queues,
		"concurrency", p.Concurrency, "version", p.Version)

	return schema.WorkerRegisterResult{
		HeartbeatInterval: int(s.config.HeartbeatInterval.Seconds()),
	}, nil
}

func (s *Server) handleWorkerSetState(ctx context.Context, token *workertoken.Token, params json.RawMessage) (any, *schema.RPCError) {
	var p schema.WorkerSetStateParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	if rpcErr := requireSubject(token, p.Worker); rpcErr != nil {
		return nil, rpcErr
	}

	info, err := s.store.SetWorkerState(ctx, p.Worker, p.State, p.JobsActive)
	if err != nil {
		return nil, invalidParams(err.Error())
	}

	// Maintenance is the operator's drain request, not an echo of the
	// state the worker just reported. Echoing the reported state back
	// would latch a locally drained worker into maintenance forever.
	return schema.WorkerSetStateResult{
		Queues:      info.Queues,
		Maintenance: info.Maintenance,
	}, nil
}

func (s *Server) handleJobsFetch(ctx context.Context, token *workertoken.Token, params json.RawMessage) (any, *schema.RPCError) {
	var p schema.JobsFetchParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	if rpcErr := requireSubject(token, p.Worker); rpcErr != nil {
		return nil, rpcErr
	}
	if p.FreeConcurrency < 1 {
		return schema.JobsFetchResult{}, nil
	}
	for _, queue := range p.Queues {
		if !token.AllowsQueue(queue) {
			return nil, &schema.RPCError{
				Code:    schema.CodeUnauthorized,
				Message: "token does not grant queue " + queue,
			}
		}
	}

	job, err := s.store.FetchJob(ctx, p.Worker, p.Queues)
	if err != nil {
		return nil, internalError(err)
	}
	if job != nil {
		s.logger.Info("job fetched",
			"job", job.ID, "workflow", job.Workflow, "task", job.Task,
			"worker", p.Worker, "attempt", job.Attempt)
	}
	return schema.JobsFetchResult{Job: job}, nil
}

func (s *Server) handleJobsState(ctx context.Context, token *workertoken.Token, params json.RawMessage) (any, *schema.RPCError) {
	var p schema.JobsStateParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}

	err := s.store.SetJobState(ctx, p.JobID, token.Subject, p.State, p.ExitCode, p.Message)
	if err != nil {
		return nil, invalidParams(err.Error())
	}

	s.logger.Info("job state reported",
		"job", p.JobID, "state", p.State, "worker", token.Subject)
	return struct{}{}, nil
}

func (s *Server) handleLogsLogfilePath(ctx context.Context, token *workertoken.Token, params json.RawMessage) (any, *schema.RPCError) {
	var p schema.LogsLogfilePathParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}

	status, err := s.store.Job(ctx, p.JobID)
	if err != nil {
		return nil, invalidParams(err.Error())
	}
	if status.Worker != token.Subject {
		return nil, &schema.RPCError{
			Code:    schema.CodeUnauthorized,
			Message: "job is not assigned to this worker",
		}
	}
	return schema.LogsLogfilePathResult{Path: LogfilePath(status.Job)}, nil
}

func (s *Server) handleLogsPush(ctx context.Context, token *workertoken.Token, params json.RawMessage) (any, *schema.RPCError) {
	var p schema.LogsPushParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}

	err := s.logs.Append(ctx, p.JobID, token.Subject, p.Offset, p.Data)
	if errors.Is(err, ErrChunkOutOfOrder) {
		return nil, invalidParams(err.Error())
	}
	if err != nil {
		return nil, internalError(err)
	}
	return struct{}{}, nil
}

func (s *Server) handleLineagePush(ctx context.Context, token *workertoken.Token, params json.RawMessage) (any, *schema.RPCError) {
	var p schema.LineagePushParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}

	// The worker identity comes from the token, not the payload, and
	// every event must reference a job assigned to that worker.
	for i := range p.Events {
		p.Events[i].Worker = token.Subject
		if err := p.Events[i].Validate(); err != nil {
			return nil, invalidParams(err.Error())
		}
		status, err := s.store.Job(ctx, p.Events[i].JobID)
		if err != nil {
			return nil, invalidParams(err.Error())
		}
		if status.Worker != token.Subject {
			return nil, &schema.RPCError{
				Code:    schema.CodeUnauthorized,
				Message: "event references a job not assigned to this worker",
			}
		}
	}

	accepted, err := s.lineage.Append(ctx, p.Events)
	if err != nil {
		return nil, internalError(err)
	}

	// Forwarding failures are logged, not surfaced: the events are
	// durably stored, and the forwarder retries internally.
	if s.forward != nil {
		if err := s.forward.Emit(ctx, p.Events); err != nil {
			s.logger.Warn("lineage forwarding failed",
				"events", len(p.Events), "error", err)
		}
	}

	return schema.LineagePushResult{Accepted: accepted}, nil
}

func (s *Server) handleLineageGraph(ctx context.Context, token *workertoken.Token, params json.RawMessage) (any, *schema.RPCError) {
	var p schema.LineageGraphParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}

	depth := p.Depth
	if depth <= 0 || depth > s.config.GraphDepthLimit {
		depth = s.config.GraphDepthLimit
	}

	result, err := s.lineage.Graph(ctx, p.Asset, p.Direction, depth)
	if err != nil {
		return nil, invalidParams(err.Error())
	}
	return result, nil
}
