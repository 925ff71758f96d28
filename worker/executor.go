// Copyright 2026 The Tracery Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/tracery-project/tracery/lib/schema"
	"github.com/tracery-project/tracery/lineage"
)

// Environment variables injected into every task process.
const (
	envJobID    = "TRACERY_JOB_ID"
	envRunID    = "TRACERY_RUN_ID"
	envWorkflow = "TRACERY_WORKFLOW"
	envTask     = "TRACERY_TASK"
	envAttempt  = "TRACERY_ATTEMPT"
)

// maxLogChunk bounds the uncompressed size of one logs.push call,
// comfortably under the server's request body cap even for
// incompressible output.
const maxLogChunk = 256 * 1024

// executeJob runs one fetched job to completion: lineage start event,
// the task process with its output streamed to the server, the
// terminal job state, and the terminal lineage event with
// runtime-reported assets merged in.
//
// Errors are terminal job states, not return values: whatever happens,
// the server hears about the job exactly once.
func (w *Worker) executeJob(ctx context.Context, job *schema.Job) {
	logger := w.logger.With(
		"job", job.ID, "workflow", job.Workflow, "task", job.Task, "attempt", job.Attempt)
	logger.Info("job started")

	startEvent := w.collector.Start(job)
	if err := w.pushLineage(ctx, startEvent); err != nil {
		logger.Warn("pushing lineage start event", "error", err)
	}

	reportDir, err := os.MkdirTemp("", "tracery-job-")
	if err != nil {
		w.reportJobState(ctx, logger, job, schema.JobFailed, nil,
			fmt.Sprintf("creating report directory: %v", err))
		return
	}
	defer os.RemoveAll(reportDir)
	reportPath := filepath.Join(reportDir, "lineage.jsonl")

	buffer := NewLogBuffer(w.config.LogBufferSize)
	shipper := &logShipper{jobID: job.ID}
	flusherDone := make(chan struct{})
	flusherCtx, stopFlusher := context.WithCancel(ctx)
	go func() {
		defer close(flusherDone)
		w.flushLogs(flusherCtx, shipper, buffer, logger)
	}()

	exitCode, runErr := w.runCommand(ctx, job, reportPath, buffer)

	// Let the flusher drain what the process wrote, then take over
	// for the final flush.
	buffer.Close()
	stopFlusher()
	<-flusherDone
	w.drainLogs(ctx, shipper, buffer, logger)

	report, reportErr := lineage.ReadReport(reportPath, logger)
	if reportErr != nil {
		logger.Warn("reading lineage report", "error", reportErr)
	}

	state := schema.JobSucceeded
	message := ""
	if runErr != nil {
		state = schema.JobFailed
		message = runErr.Error()
	} else if exitCode != 0 {
		state = schema.JobFailed
		message = fmt.Sprintf("command exited %d", exitCode)
	}

	finishEvent := w.collector.Finish(job, report, state == schema.JobFailed)
	if err := w.pushLineage(ctx, finishEvent); err != nil {
		logger.Warn("pushing lineage terminal event", "error", err)
	}

	w.reportJobState(ctx, logger, job, state, &exitCode, message)
	logger.Info("job finished", "state", state, "exit_code", exitCode)
}

// runCommand starts the task process and waits for it. The returned
// error covers failures to run at all; a non-zero exit is reported
// through the exit code.
func (w *Worker) runCommand(ctx context.Context, job *schema.Job, reportPath string, buffer *LogBuffer) (int, error) {
	if len(job.Command) == 0 {
		return -1, fmt.Errorf("job has no command")
	}

	cmd := exec.CommandContext(ctx, job.Command[0], job.Command[1:]...)
	cmd.Stdout = buffer
	cmd.Stderr = buffer

	env := os.Environ()
	for key, value := range job.Env {
		env = append(env, key+"="+value)
	}
	env = append(env,
		envJobID+"="+job.ID,
		envRunID+"="+job.RunID,
		envWorkflow+"="+job.Workflow,
		envTask+"="+job.Task,
		envAttempt+"="+fmt.Sprint(job.Attempt),
		lineage.ReportPathEnv+"="+reportPath,
	)
	cmd.Env = env

	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return exitErr.ExitCode(), nil
		}
		return -1, fmt.Errorf("running command: %w", err)
	}
	return 0, nil
}

// logShipper tracks delivery of one job's log stream. The server
// accepts chunks only at the exact next offset, so a chunk taken from
// the buffer is held here until its push is confirmed; a failed push
// leaves it pending for the next flush instead of punching a hole in
// the stream.
type logShipper struct {
	jobID   string
	offset  int64
	pending []byte
}

// flushLogs pushes buffered output on the flush interval until its
// context is cancelled.
func (w *Worker) flushLogs(ctx context.Context, shipper *logShipper, buffer *LogBuffer, logger *slog.Logger) {
	ticker := w.clock.NewTicker(w.config.LogFlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.pushChunks(ctx, shipper, buffer); err != nil {
				logger.Warn("pushing log chunk", "error", err)
			}
		}
	}
}

// drainLogs pushes everything still pending after the process exited.
func (w *Worker) drainLogs(ctx context.Context, shipper *logShipper, buffer *LogBuffer, logger *slog.Logger) {
	if err := w.pushChunks(ctx, shipper, buffer); err != nil {
		logger.Warn("pushing final log chunk", "error", err)
	}
}

// pushChunks ships pending output as compressed chunks: first any
// chunk left over from a failed push, then fresh chunks from the
// buffer until it is empty.
func (w *Worker) pushChunks(ctx context.Context, shipper *logShipper, buffer *LogBuffer) error {
	for {
		if shipper.pending == nil {
			offset, data := buffer.Take(maxLogChunk)
			if len(data) == 0 {
				return nil
			}
			shipper.offset, shipper.pending = offset, data
		}
		params := schema.LogsPushParams{
			JobID:  shipper.jobID,
			Offset: shipper.offset,
			Data:   w.encoder.EncodeAll(shipper.pending, nil),
		}
		if err := w.client.Call(ctx, schema.MethodLogsPush, params, nil); err != nil {
			return err
		}
		shipper.pending = nil
	}
}

func (w *Worker) pushLineage(ctx context.Context, events ...schema.LineageEvent) error {
	var result schema.LineagePushResult
	return w.client.Call(ctx, schema.MethodLineagePush,
		schema.LineagePushParams{Events: events}, &result)
}

// reportJobState reports a terminal state, retrying briefly: losing a
// terminal report would leave the job running server-side until the
// reaper orphans it.
func (w *Worker) reportJobState(ctx context.Context, logger *slog.Logger, job *schema.Job, state schema.JobState, exitCode *int, message string) {
	params := schema.JobsStateParams{
		JobID:    job.ID,
		State:    state,
		ExitCode: exitCode,
		Message:  message,
	}
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			select {
			case <-w.clock.After(time.Duration(attempt) * time.Second):
			case <-ctx.Done():
				return
			}
		}
		if lastErr = w.client.Call(ctx, schema.MethodJobsState, params, nil); lastErr == nil {
			return
		}
	}
	logger.Warn("reporting job state failed", "state", state, "error", lastErr)
}

// encoderFor builds the worker's shared zstd encoder. EncodeAll on a
// shared encoder is safe for concurrent use.
func encoderFor() (*zstd.Encoder, error) {
	return zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
}
