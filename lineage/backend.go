// Copyright 2026 The Tracery Authors
// SPDX-License-Identifier: Apache-2.0

package lineage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/tracery-project/tracery/lib/clock"
	"github.com/tracery-project/tracery/lib/netutil"
	"github.com/tracery-project/tracery/lib/schema"
)

// Backend consumes batches of lineage events. Emit must be safe to
// call with the same batch more than once: the server retries delivery
// after failures, and every backend is expected to deduplicate on
// (run, task, phase) the way the store does.
type Backend interface {
	Emit(ctx context.Context, events []schema.LineageEvent) error
}

// StoreBackend adapts a [Store] to the [Backend] interface.
type StoreBackend struct {
	Store *Store
}

// Emit appends the batch to the store, discarding the accepted count.
func (b StoreBackend) Emit(ctx context.Context, events []schema.LineageEvent) error {
	_, err := b.Store.Append(ctx, events)
	return err
}

// HTTPBackend forwards lineage events to an external collector as a
// JSON array POSTed to a fixed URL. Delivery is retried with linear
// backoff; the batch fails only after RetryLimit attempts.
type HTTPBackend struct {
	// URL is the collector endpoint.
	URL string

	// Client is the HTTP client to use. If nil, http.DefaultClient.
	Client *http.Client

	// RetryLimit is the maximum number of delivery attempts per
	// batch. Must be at least 1.
	RetryLimit int

	// RetryBackoff is the wait after the first failure; attempt N
	// waits N times this. Zero disables waiting (tests).
	RetryBackoff time.Duration

	// Clock drives the backoff waits.
	Clock clock.Clock

	// Logger receives per-attempt failure messages.
	Logger *slog.Logger
}

// Emit delivers the batch, retrying on any transport or HTTP error.
// Returns nil as soon as one attempt gets a 2xx response.
func (b *HTTPBackend) Emit(ctx context.Context, events []schema.LineageEvent) error {
	if len(events) == 0 {
		return nil
	}

	body, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("lineage http backend: encoding batch: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= b.RetryLimit; attempt++ {
		if attempt > 1 && b.RetryBackoff > 0 {
			wait := time.Duration(attempt-1) * b.RetryBackoff
			select {
			case <-b.Clock.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = b.deliver(ctx, body)
		if lastErr == nil {
			return nil
		}
		b.Logger.Warn("lineage delivery failed",
			"url", b.URL,
			"attempt", attempt,
			"events", len(events),
			"error", lastErr)
	}

	return fmt.Errorf("lineage http backend: %d attempts failed: %w", b.RetryLimit, lastErr)
}

func (b *HTTPBackend) deliver(ctx context.Context, body []byte) error {
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, b.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")

	client := b.Client
	if client == nil {
		client = http.DefaultClient
	}

	response, err := client.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode > 299 {
		return fmt.Errorf("collector returned %s: %s", response.Status, netutil.ErrorBody(response.Body))
	}
	return nil
}

// Fanout delivers each batch to every backend and joins the failures.
// A failing backend does not stop delivery to the others.
type Fanout []Backend

// Emit sends the batch to all backends in order.
func (f Fanout) Emit(ctx context.Context, events []schema.LineageEvent) error {
	var errs []error
	for _, backend := range f {
		if err := backend.Emit(ctx, events); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
