// Copyright 2026 The Tracery Authors
// SPDX-License-Identifier: Apache-2.0

package edge

import (
	"context"
	"log/slog"
	"time"

	"github.com/tracery-project/tracery/lib/clock"
)

// Reaper periodically marks silent workers offline and their running
// jobs orphaned. Orphaned jobs are picked back up by the scheduler's
// requeue pass.
type Reaper struct {
	store           *Store
	stalenessWindow time.Duration
	interval        time.Duration
	clock           clock.Clock
	logger          *slog.Logger
}

// NewReaper creates a reaper. A worker counts as stale when its last
// heartbeat is older than the staleness window.
func NewReaper(store *Store, stalenessWindow, interval time.Duration, clk clock.Clock, logger *slog.Logger) *Reaper {
	return &Reaper{
		store:           store,
		stalenessWindow: stalenessWindow,
		interval:        interval,
		clock:           clk,
		logger:          logger,
	}
}

// Run sweeps on the reaper's interval until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := r.clock.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep performs one reap pass. Errors are logged, not returned: the
// next tick retries.
func (r *Reaper) Sweep(ctx context.Context) {
	cutoff := r.clock.Now().Add(-r.stalenessWindow)
	workers, jobs, err := r.store.ReapStale(ctx, cutoff)
	if err != nil {
		r.logger.Error("reap pass failed", "error", err)
		return
	}
	if workers > 0 {
		r.logger.Warn("reaped stale workers",
			"workers", workers, "orphaned_jobs", jobs,
			"staleness_window", r.stalenessWindow)
	}
}
