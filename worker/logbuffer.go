// Copyright 2026 The Tracery Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"sync"
)

// DefaultLogBufferSize is the default capacity of a job's log buffer:
// how many bytes may sit unflushed before the writing process is
// backpressured.
const DefaultLogBufferSize = 1024 * 1024

// LogBuffer sits between a job process's stdout/stderr and the push
// loop that ships logs to the server. It tracks a monotonically
// increasing byte offset so every flushed chunk carries the offset the
// server expects, keeping the server-side file an exact replica.
//
// Unlike a drop-oldest ring, the buffer applies backpressure: when the
// pending data reaches capacity, Write blocks until the push loop
// drains some. Dropping would break the contiguous-offset contract
// with the server.
//
// All methods are safe for concurrent use.
type LogBuffer struct {
	mutex    sync.Mutex
	notFull  *sync.Cond
	pending  []byte
	capacity int
	// flushedOffset is the byte offset of pending[0] in the overall
	// stream: everything before it has been taken for push.
	flushedOffset int64
	closed        bool
}

// NewLogBuffer creates a log buffer with the given capacity in bytes.
// Use DefaultLogBufferSize for the standard 1 MB buffer.
func NewLogBuffer(capacity int) *LogBuffer {
	buffer := &LogBuffer{capacity: capacity}
	buffer.notFull = sync.NewCond(&buffer.mutex)
	return buffer
}

// Write appends process output, blocking while the buffer is full.
// Implements io.Writer for use as exec.Cmd stdout/stderr. Write on a
// closed buffer discards the data.
func (b *LogBuffer) Write(data []byte) (int, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	written := 0
	for written < len(data) {
		for len(b.pending) >= b.capacity && !b.closed {
			b.notFull.Wait()
		}
		if b.closed {
			return len(data), nil
		}
		space := b.capacity - len(b.pending)
		chunk := len(data) - written
		if chunk > space {
			chunk = space
		}
		b.pending = append(b.pending, data[written:written+chunk]...)
		written += chunk
	}
	return len(data), nil
}

// Take removes up to limit pending bytes and returns them with the
// stream offset of their first byte. Returns nil when nothing is
// pending.
func (b *LogBuffer) Take(limit int) (offset int64, data []byte) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if len(b.pending) == 0 {
		return b.flushedOffset, nil
	}

	take := len(b.pending)
	if take > limit {
		take = limit
	}
	offset = b.flushedOffset
	data = make([]byte, take)
	copy(data, b.pending[:take])
	b.pending = b.pending[take:]
	b.flushedOffset += int64(take)
	b.notFull.Broadcast()
	return offset, data
}

// Close unblocks writers and marks the buffer finished. Pending data
// remains takeable; subsequent writes are discarded.
func (b *LogBuffer) Close() {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.closed = true
	b.notFull.Broadcast()
}

// Pending reports how many bytes await flushing.
func (b *LogBuffer) Pending() int {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return len(b.pending)
}
