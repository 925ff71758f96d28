// Copyright 2026 The Tracery Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"bytes"
	"testing"
	"time"

	"github.com/tracery-project/tracery/lib/testutil"
)

func TestLogBufferOffsetsAreContiguous(t *testing.T) {
	buffer := NewLogBuffer(64)

	if _, err := buffer.Write([]byte("hello ")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := buffer.Write([]byte("world")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	offset, data := buffer.Take(6)
	if offset != 0 || string(data) != "hello " {
		t.Errorf("Take = (%d, %q), want (0, \"hello \")", offset, data)
	}

	offset, data = buffer.Take(100)
	if offset != 6 || string(data) != "world" {
		t.Errorf("Take = (%d, %q), want (6, \"world\")", offset, data)
	}

	// Empty buffer: no data, offset unchanged.
	offset, data = buffer.Take(100)
	if data != nil || offset != 11 {
		t.Errorf("Take on empty = (%d, %q)", offset, data)
	}
}

func TestLogBufferBackpressure(t *testing.T) {
	buffer := NewLogBuffer(8)

	if _, err := buffer.Write(bytes.Repeat([]byte("a"), 8)); err != nil {
		t.Fatalf("Write: %v", err)
	}

	// The next write must block until Take frees space.
	unblocked := make(chan struct{})
	go func() {
		defer close(unblocked)
		buffer.Write([]byte("bb"))
	}()

	select {
	case <-unblocked:
		t.Fatal("Write did not block on a full buffer")
	case <-time.After(50 * time.Millisecond):
	}

	if offset, data := buffer.Take(4); offset != 0 || string(data) != "aaaa" {
		t.Fatalf("Take = (%d, %q)", offset, data)
	}
	testutil.RequireClosed(t, unblocked, 2*time.Second, "Write still blocked after Take")

	// Remaining stream: aaaa then bb, at contiguous offsets.
	offset, data := buffer.Take(100)
	if offset != 4 || string(data) != "aaaabb" {
		t.Errorf("Take = (%d, %q), want (4, \"aaaabb\")", offset, data)
	}
}

func TestLogBufferCloseUnblocksWriters(t *testing.T) {
	buffer := NewLogBuffer(4)
	if _, err := buffer.Write([]byte("full")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	unblocked := make(chan struct{})
	go func() {
		defer close(unblocked)
		buffer.Write([]byte("dropped"))
	}()

	buffer.Close()
	testutil.RequireClosed(t, unblocked, 2*time.Second, "Close did not unblock writer")

	// Pending data written before Close is still takeable; the
	// discarded write is not.
	if offset, data := buffer.Take(100); offset != 0 || string(data) != "full" {
		t.Errorf("Take = (%d, %q)", offset, data)
	}
}
