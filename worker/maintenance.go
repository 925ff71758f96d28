// Copyright 2026 The Tracery Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Maintenance is controlled by a marker file next to the worker's
// state, so an operator (or a config management run) can drain a
// worker with `tracery worker maintenance on` or a plain touch —
// no API call, no restart. The worker checks the marker on every
// heartbeat: present means stop fetching new jobs and report the
// maintenance state; absent means resume.

// MarkerPresent reports whether the maintenance marker exists.
func MarkerPresent(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// WriteMarker atomically creates the maintenance marker. The content
// records who asked and when, for operators inspecting the host. The
// write goes through a temporary file, fsync, and rename so a reader
// never sees a partial marker.
func WriteMarker(path, requestedBy string, now time.Time) error {
	temporaryPath := path + ".tmp"
	file, err := os.OpenFile(temporaryPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("maintenance marker: creating %s: %w", temporaryPath, err)
	}

	content := fmt.Sprintf("requested_by: %s\nrequested_at: %s\n",
		requestedBy, now.UTC().Format(time.RFC3339))
	if _, err := file.WriteString(content); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("maintenance marker: writing: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("maintenance marker: syncing: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("maintenance marker: closing: %w", err)
	}

	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("maintenance marker: renaming into place: %w", err)
	}

	// Sync the parent directory so the rename survives power loss.
	if parent, err := os.Open(filepath.Dir(path)); err == nil {
		parent.Sync()
		parent.Close()
	}
	return nil
}

// RemoveMarker clears the maintenance marker. Removing an absent
// marker is not an error.
func RemoveMarker(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("maintenance marker: removing %s: %w", path, err)
	}
	return nil
}
