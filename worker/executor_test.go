// Copyright 2026 The Tracery Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/tracery-project/tracery/lib/clock"
	"github.com/tracery-project/tracery/lib/schema"
)

// TestLogShipperRetainsChunkAcrossPushFailures exercises delivery of a
// log stream through a push failure: the chunk taken from the buffer
// before the failed call must be re-sent at its original offset on the
// next flush, so the server never sees an offset gap.
func TestLogShipperRetainsChunkAcrossPushFailures(t *testing.T) {
	var mu sync.Mutex
	failed := false
	var pushes []schema.LogsPushParams

	fake := httptest.NewServer(http.HandlerFunc(func(response http.ResponseWriter, request *http.Request) {
		var envelope struct {
			ID     json.RawMessage       `json:"id"`
			Params schema.LogsPushParams `json:"params"`
		}
		if err := json.NewDecoder(request.Body).Decode(&envelope); err != nil {
			t.Errorf("decoding push request: %v", err)
			return
		}

		mu.Lock()
		defer mu.Unlock()
		if !failed {
			failed = true
			http.Error(response, "boom", http.StatusInternalServerError)
			return
		}
		pushes = append(pushes, envelope.Params)
		fmt.Fprintf(response, `{"jsonrpc":"2.0","id":%s,"result":{}}`, envelope.ID)
	}))
	defer fake.Close()

	w, err := New(Config{
		Name:              "edge-1",
		ServerURL:         fake.URL,
		Token:             "unused",
		Queues:            []string{"default"},
		Concurrency:       1,
		PollInterval:      time.Second,
		HeartbeatInterval: time.Second,
		LogFlushInterval:  time.Second,
		Clock:             clock.Real(),
		Logger:            slog.New(slog.DiscardHandler),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx := context.Background()
	buffer := NewLogBuffer(1024)
	shipper := &logShipper{jobID: "job-1"}

	if _, err := buffer.Write([]byte("first-chunk:")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.pushChunks(ctx, shipper, buffer); err == nil {
		t.Fatal("pushChunks succeeded against a failing server")
	}

	// More output arrives while the server is unreachable; the next
	// flush must deliver the held chunk first, then the new bytes.
	if _, err := buffer.Write([]byte("second")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.pushChunks(ctx, shipper, buffer); err != nil {
		t.Fatalf("pushChunks after recovery: %v", err)
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		t.Fatalf("zstd.NewReader: %v", err)
	}
	defer decoder.Close()

	mu.Lock()
	defer mu.Unlock()
	var stream []byte
	var next int64
	for _, push := range pushes {
		if push.JobID != "job-1" {
			t.Errorf("push for job %q", push.JobID)
		}
		if push.Offset != next {
			t.Fatalf("push at offset %d, want %d", push.Offset, next)
		}
		data, err := decoder.DecodeAll(push.Data, nil)
		if err != nil {
			t.Fatalf("decompressing chunk at offset %d: %v", push.Offset, err)
		}
		stream = append(stream, data...)
		next += int64(len(data))
	}
	if string(stream) != "first-chunk:second" {
		t.Errorf("delivered stream = %q, want %q", stream, "first-chunk:second")
	}
}
