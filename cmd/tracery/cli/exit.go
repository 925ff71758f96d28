// Copyright 2026 The Tracery Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import "fmt"

// ExitError signals a non-zero exit code without printing an extra
// error line. When a command returns an ExitError, main exits with
// the given code and nothing else — the command has already written
// its own output. Used where a non-zero exit is an answer rather
// than a failure, like "workflow validate" on an invalid file.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit code %d", e.Code)
}

// ExitCode returns the exit code. Main checks for this interface on
// returned errors to tell a handled non-zero exit apart from an
// unexpected error that needs printing.
func (e *ExitError) ExitCode() int {
	return e.Code
}
