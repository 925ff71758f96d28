// Copyright 2026 The Tracery Authors
// SPDX-License-Identifier: Apache-2.0

package lineage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/tracery-project/tracery/lib/asset"
)

// ReportPathEnv is the environment variable through which the worker
// tells a task process where to write its lineage report file.
const ReportPathEnv = "TRACERY_LINEAGE_PATH"

// reportLineLimit bounds a single report line. A task that emits a
// larger line is misbehaving; the line is skipped, not truncated.
const reportLineLimit = 1 << 20

// Report holds the assets a task process reported at runtime, beyond
// what its workflow file declared.
type Report struct {
	Inlets  []asset.Asset
	Outlets []asset.Asset
}

// reportLine is the wire form of one line in the report file. Assets
// may be given as full objects or as bare URI strings.
type reportLine struct {
	Inlets  []reportAsset `json:"inlets"`
	Outlets []reportAsset `json:"outlets"`
}

type reportAsset struct {
	URI   string            `json:"uri"`
	Name  string            `json:"name"`
	Group string            `json:"group"`
	Extra map[string]string `json:"extra"`
}

// UnmarshalJSON accepts either a JSON object or a bare URI string.
func (r *reportAsset) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &r.URI)
	}
	type plain reportAsset
	return json.Unmarshal(data, (*plain)(r))
}

// ReadReport parses the JSON-lines lineage report a task process wrote
// to its report file. Each line is an object with optional "inlets"
// and "outlets" arrays; assets accumulate across lines.
//
// A missing file means the task reported nothing — that is the common
// case and not an error. Malformed lines and invalid URIs are logged
// and skipped: a buggy task must not lose the lineage it did report,
// nor fail the job.
func ReadReport(path string, logger *slog.Logger) (Report, error) {
	var report Report

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return report, nil
		}
		return report, fmt.Errorf("lineage report: opening %s: %w", path, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), reportLineLimit)

	lineNumber := 0
	for scanner.Scan() {
		lineNumber++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		var line reportLine
		if err := json.Unmarshal([]byte(text), &line); err != nil {
			logger.Warn("skipping malformed lineage report line",
				"path", path, "line", lineNumber, "error", err)
			continue
		}

		report.Inlets = appendReported(report.Inlets, line.Inlets, path, lineNumber, logger)
		report.Outlets = appendReported(report.Outlets, line.Outlets, path, lineNumber, logger)
	}
	if err := scanner.Err(); err != nil {
		return report, fmt.Errorf("lineage report: reading %s: %w", path, err)
	}

	report.Inlets = asset.Dedupe(report.Inlets)
	report.Outlets = asset.Dedupe(report.Outlets)
	return report, nil
}

func appendReported(assets []asset.Asset, reported []reportAsset, path string, line int, logger *slog.Logger) []asset.Asset {
	for _, r := range reported {
		uri, err := asset.ParseURI(r.URI)
		if err != nil {
			logger.Warn("skipping reported asset with invalid URI",
				"path", path, "line", line, "uri", r.URI, "error", err)
			continue
		}
		assets = append(assets, asset.Asset{
			URI:   uri,
			Name:  r.Name,
			Group: r.Group,
			Extra: r.Extra,
		})
	}
	return assets
}
