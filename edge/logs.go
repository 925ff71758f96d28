// Copyright 2026 The Tracery Authors
// SPDX-License-Identifier: Apache-2.0

package edge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/tracery-project/tracery/lib/schema"
)

// ErrChunkOutOfOrder is returned when a pushed log chunk's offset does
// not match the number of bytes already received. The worker resends
// from the offset the server expects.
var ErrChunkOutOfOrder = errors.New("edge: log chunk offset out of order")

// LogfilePath returns the log path for one job attempt, relative to
// the server's log root. Each attempt gets its own file so a retried
// job does not interleave with its predecessor's output.
func LogfilePath(job schema.Job) string {
	return filepath.Join(job.Workflow, job.RunID, fmt.Sprintf("%s.%d.log", job.Task, job.Attempt))
}

// LogManager materializes pushed log chunks into files under the log
// root. Chunks arrive zstd-compressed with the uncompressed byte
// offset of their start; the manager enforces in-order delivery so the
// file is an exact replica of the worker-side stream.
type LogManager struct {
	root    string
	store   *Store
	decoder *zstd.Decoder
	logger  *slog.Logger
}

// NewLogManager creates a log manager rooted at the given directory.
func NewLogManager(root string, store *Store, logger *slog.Logger) (*LogManager, error) {
	if root == "" {
		return nil, fmt.Errorf("edge: log root is required")
	}
	// The decoder is used in DecodeAll mode only; a nil reader with
	// concurrency 1 keeps it allocation-light and goroutine-free.
	decoder, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("edge: creating zstd decoder: %w", err)
	}
	return &LogManager{root: root, store: store, decoder: decoder, logger: logger}, nil
}

// Append decompresses a chunk and appends it to the job's log file.
// The job must belong to the pushing worker. Re-pushing an offset the
// server already has returns ErrChunkOutOfOrder with the expected
// offset in the message.
func (m *LogManager) Append(ctx context.Context, jobID, worker string, offset int64, compressed []byte) error {
	status, err := m.store.Job(ctx, jobID)
	if err != nil {
		return err
	}
	if status.Worker != worker {
		return fmt.Errorf("edge: job %s belongs to worker %s, not %s", jobID, status.Worker, worker)
	}

	expected, err := m.store.logOffset(ctx, jobID)
	if err != nil {
		return err
	}
	if offset != expected {
		return fmt.Errorf("%w: got %d, want %d", ErrChunkOutOfOrder, offset, expected)
	}

	data, err := m.decoder.DecodeAll(compressed, nil)
	if err != nil {
		return fmt.Errorf("edge: decompressing log chunk for job %s: %w", jobID, err)
	}
	if len(data) == 0 {
		return nil
	}

	path := filepath.Join(m.root, LogfilePath(status.Job))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("edge: creating log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("edge: opening log file: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		return fmt.Errorf("edge: writing log chunk: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("edge: closing log file: %w", err)
	}

	if err := m.store.setLogOffset(ctx, jobID, expected+int64(len(data))); err != nil {
		return err
	}

	m.logger.Debug("log chunk appended",
		"job", jobID, "offset", offset, "bytes", len(data))
	return nil
}

func (s *Store) logOffset(ctx context.Context, jobID string) (int64, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, err
	}
	defer s.pool.Put(conn)

	var offset int64
	found := false
	err = sqlitex.Execute(conn, `SELECT log_offset FROM jobs WHERE id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{jobID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				offset = stmt.ColumnInt64(0)
				found = true
				return nil
			},
		})
	if err != nil {
		return 0, fmt.Errorf("edge store: reading log offset for %s: %w", jobID, err)
	}
	if !found {
		return 0, fmt.Errorf("edge store: no such job %s", jobID)
	}
	return offset, nil
}

func (s *Store) setLogOffset(ctx context.Context, jobID string, offset int64) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `UPDATE jobs SET log_offset = ? WHERE id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{offset, jobID},
		})
	if err != nil {
		return fmt.Errorf("edge store: updating log offset for %s: %w", jobID, err)
	}
	return nil
}
