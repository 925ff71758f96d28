// Copyright 2026 The Tracery Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil provides HTTP I/O hygiene helpers for Tracery.
//
// The response helpers bound all body reads at [MaxResponseSize] so a
// misbehaving server cannot drive unbounded allocation in the worker's
// RPC client or the lineage forwarder. They are for JSON API responses,
// not for streaming or large binary transfers, which should be read
// incrementally with io.Copy.
package netutil

import (
	"encoding/json"
	"fmt"
	"io"
)

// MaxResponseSize bounds JSON API response body reads: 32 MB. A
// legitimate RPC response (a job, a lineage graph slice) is orders of
// magnitude smaller; the limit exists only to keep a pathological
// response from exhausting memory.
const MaxResponseSize int64 = 32 << 20

// ReadResponse reads a JSON API response body up to MaxResponseSize
// bytes. Use instead of io.ReadAll on HTTP response bodies.
func ReadResponse(body io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(body, MaxResponseSize))
}

// DecodeResponse reads a JSON API response body (bounded) and decodes
// it into v.
func DecodeResponse(body io.Reader, v any) error {
	data, err := io.ReadAll(io.LimitReader(body, MaxResponseSize))
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}
	return json.Unmarshal(data, v)
}

// ErrorBody reads an HTTP error response body and returns it as a
// string for diagnostic error messages. Read errors are silently
// ignored — a partial or empty body is still useful in a message.
func ErrorBody(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, MaxResponseSize))
	return string(data)
}
