// Copyright 2026 The Tracery Authors
// SPDX-License-Identifier: Apache-2.0

// Package dagdef provides parsing, validation, and ordering for
// Tracery workflow definitions. Workflows are DAGs of tasks executed
// by edge workers; the scheduler materializes one job per task when a
// run starts.
//
// Definitions are authored on disk as JSONC files (JSON extended with
// comments and trailing commas). The typical flow:
//
//  1. ReadFile or Parse: JSONC bytes → schema.WorkflowContent
//  2. Validate: structural checks (unique names, acyclic graph,
//     parseable schedule, normalizable asset URIs)
//  3. TopologicalOrder: dependency-respecting task order for the
//     scheduler
package dagdef

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"

	"github.com/tracery-project/tracery/lib/schema"
)

// Parse strips JSONC comments and trailing commas from data, then
// unmarshals the result into a WorkflowContent. The input format is
// plain JSON extended with // line comments, /* block comments */,
// and trailing commas.
func Parse(data []byte) (*schema.WorkflowContent, error) {
	stripped := jsonc.ToJSON(data)

	var content schema.WorkflowContent
	if err := json.Unmarshal(stripped, &content); err != nil {
		return nil, fmt.Errorf("parsing workflow: %w", err)
	}

	return &content, nil
}

// ReadFile reads a JSONC workflow file from disk and parses it.
// Returns a descriptive error if the file cannot be read or the JSON
// is malformed.
func ReadFile(path string) (*schema.WorkflowContent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	content, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return content, nil
}

// NameFromPath extracts a workflow name from a file path by stripping
// the directory prefix and the file extension. For example,
// "deploy/workflows/orders-etl.jsonc" returns "orders-etl".
func NameFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// LoadDir reads every .jsonc and .json file in directory, parses and
// validates each, and returns them keyed by NameFromPath. A workflow
// that fails validation aborts the load with an error naming the file
// and its issues — a server must not start with a half-loaded
// workflow set.
func LoadDir(directory string) (map[string]*schema.WorkflowContent, error) {
	entries, err := os.ReadDir(directory)
	if err != nil {
		return nil, fmt.Errorf("reading workflow directory %s: %w", directory, err)
	}

	workflows := make(map[string]*schema.WorkflowContent)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		extension := filepath.Ext(entry.Name())
		if extension != ".jsonc" && extension != ".json" {
			continue
		}

		path := filepath.Join(directory, entry.Name())
		content, err := ReadFile(path)
		if err != nil {
			return nil, err
		}
		if issues := Validate(content); len(issues) > 0 {
			return nil, fmt.Errorf("%s: invalid workflow:\n  %s", path, strings.Join(issues, "\n  "))
		}

		name := NameFromPath(path)
		if _, duplicate := workflows[name]; duplicate {
			return nil, fmt.Errorf("%s: duplicate workflow name %q", path, name)
		}
		workflows[name] = content
	}

	return workflows, nil
}
