// Copyright 2026 The Tracery Authors
// SPDX-License-Identifier: Apache-2.0

// Package cron parses workflow schedule expressions and computes the
// next occurrence after a given time.
//
// Two forms are accepted: the standard 5-field cron syntax
// (minute hour day-of-month month day-of-week), and the named presets
// workflow authors reach for first:
//
//	@hourly    0 * * * *
//	@daily     0 0 * * *
//	@midnight  0 0 * * *
//	@weekly    0 0 * * 0
//	@monthly   0 0 1 * *
//	@yearly    0 0 1 1 *
//
// Each cron field supports single values (5), ranges (1-5), lists
// (1,3,5), steps (*/15, 1-30/5), and the wildcard (*). All times are
// UTC; there is no seconds field and no named days or months. Workflow
// schedules use UTC wall-clock time exclusively.
package cron

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// presets maps @-shortcuts to their 5-field equivalents.
var presets = map[string]string{
	"@hourly":   "0 * * * *",
	"@daily":    "0 0 * * *",
	"@midnight": "0 0 * * *",
	"@weekly":   "0 0 * * 0",
	"@monthly":  "0 0 1 * *",
	"@yearly":   "0 0 1 1 *",
}

// field indexes into Schedule.fields.
const (
	fieldMinute = iota
	fieldHour
	fieldDayOfMonth
	fieldMonth
	fieldDayOfWeek
	fieldCount
)

// fieldBounds holds the inclusive value range of each cron field.
var fieldBounds = [fieldCount]struct {
	name     string
	min, max int
}{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day-of-month", 1, 31},
	{"month", 1, 12},
	{"day-of-week", 0, 6},
}

// Schedule is a parsed schedule expression. Use [Parse] to create one,
// then call [Schedule.Next] to compute the next matching time.
type Schedule struct {
	fields [fieldCount]bitset64

	// domRestricted and dowRestricted record whether the day fields
	// were written as something other than a wildcard. Standard cron
	// treats the two day fields specially: when both are restricted,
	// a day matching either one matches.
	domRestricted bool
	dowRestricted bool
}

// bitset64 uses a uint64 as a compact set of integers 0-63.
type bitset64 uint64

func (b bitset64) has(value int) bool { return b&(1<<uint(value)) != 0 }
func (b *bitset64) set(value int)     { *b |= 1 << uint(value) }

// Parse parses a schedule expression: either a named preset or a
// standard 5-field cron expression. Returns an error if the
// expression is malformed, contains out-of-range values, or names an
// unknown preset.
func Parse(expression string) (Schedule, error) {
	expression = strings.TrimSpace(expression)

	if strings.HasPrefix(expression, "@") {
		expanded, ok := presets[expression]
		if !ok {
			return Schedule{}, fmt.Errorf("cron: unknown preset %q", expression)
		}
		expression = expanded
	}

	parts := strings.Fields(expression)
	if len(parts) != fieldCount {
		return Schedule{}, fmt.Errorf("cron: expected 5 fields, got %d", len(parts))
	}

	var schedule Schedule
	for index, part := range parts {
		bounds := fieldBounds[index]
		bits, err := parseField(part, bounds.min, bounds.max)
		if err != nil {
			return Schedule{}, fmt.Errorf("cron: %s field: %w", bounds.name, err)
		}
		schedule.fields[index] = bits
	}
	schedule.domRestricted = !wildcardField(parts[fieldDayOfMonth])
	schedule.dowRestricted = !wildcardField(parts[fieldDayOfWeek])
	return schedule, nil
}

// wildcardField reports whether every term in the field is a wildcard
// ("*" or "*/N"). Stepped wildcards count as unrestricted, matching
// Vixie cron's reading of the day fields.
func wildcardField(field string) bool {
	for _, term := range strings.Split(field, ",") {
		rangeExpression, _, _ := strings.Cut(term, "/")
		if rangeExpression != "*" {
			return false
		}
	}
	return true
}

// Next returns the earliest time strictly after t that matches the
// schedule. All computation is in UTC.
//
// Returns an error if no matching time exists within 4 years of t,
// which prevents infinite loops on impossible schedules like Feb 31.
func (s Schedule) Next(t time.Time) (time.Time, error) {
	// Start from the next whole minute after t.
	t = t.UTC().Truncate(time.Minute).Add(time.Minute)

	// 4 years covers every leap-year cycle.
	limit := t.AddDate(4, 0, 0)

	for t.Before(limit) {
		if !s.fields[fieldMonth].has(int(t.Month())) {
			t = time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, time.UTC)
			continue
		}

		if !s.dayMatches(t) {
			t = time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, time.UTC)
			continue
		}

		if !s.fields[fieldHour].has(t.Hour()) {
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour()+1, 0, 0, 0, time.UTC)
			continue
		}

		if !s.fields[fieldMinute].has(t.Minute()) {
			t = t.Add(time.Minute)
			continue
		}

		return t, nil
	}

	return time.Time{}, fmt.Errorf("cron: no matching time within 4 years of %s", t.Format(time.RFC3339))
}

// dayMatches applies standard cron day semantics: when both day
// fields are restricted, a day matching either one matches ("the 13th
// OR any Friday"); otherwise the restricted field (or any day, if
// neither is) decides.
func (s Schedule) dayMatches(t time.Time) bool {
	dom := s.fields[fieldDayOfMonth].has(t.Day())
	dow := s.fields[fieldDayOfWeek].has(int(t.Weekday()))
	if s.domRestricted && s.dowRestricted {
		return dom || dow
	}
	return dom && dow
}

// parseField parses a comma-separated list of terms into a bitset.
func parseField(field string, minimum, maximum int) (bitset64, error) {
	var result bitset64
	for _, term := range strings.Split(field, ",") {
		bits, err := parseTerm(term, minimum, maximum)
		if err != nil {
			return 0, err
		}
		result |= bits
	}
	if result == 0 {
		return 0, fmt.Errorf("field %q produces empty set", field)
	}
	return result, nil
}

// parseTerm parses a single term: *, */N, V, V-V, V-V/N.
func parseTerm(term string, minimum, maximum int) (bitset64, error) {
	rangeExpression, stepExpression, hasStep := strings.Cut(term, "/")
	step := 1
	if hasStep {
		parsed, err := strconv.Atoi(stepExpression)
		if err != nil {
			return 0, fmt.Errorf("invalid step %q: %w", stepExpression, err)
		}
		if parsed <= 0 {
			return 0, fmt.Errorf("step must be positive, got %d", parsed)
		}
		step = parsed
	}

	var rangeStart, rangeEnd int
	switch {
	case rangeExpression == "*":
		rangeStart, rangeEnd = minimum, maximum
	case strings.ContainsRune(rangeExpression, '-'):
		startExpression, endExpression, _ := strings.Cut(rangeExpression, "-")
		var err error
		rangeStart, err = strconv.Atoi(startExpression)
		if err != nil {
			return 0, fmt.Errorf("invalid range start %q: %w", startExpression, err)
		}
		rangeEnd, err = strconv.Atoi(endExpression)
		if err != nil {
			return 0, fmt.Errorf("invalid range end %q: %w", endExpression, err)
		}
		if rangeStart > rangeEnd {
			return 0, fmt.Errorf("range start %d > end %d", rangeStart, rangeEnd)
		}
	default:
		value, err := strconv.Atoi(rangeExpression)
		if err != nil {
			return 0, fmt.Errorf("invalid value %q: %w", rangeExpression, err)
		}
		rangeStart, rangeEnd = value, value
	}

	if rangeStart < minimum || rangeEnd > maximum {
		return 0, fmt.Errorf("value out of range [%d-%d]: got %d-%d", minimum, maximum, rangeStart, rangeEnd)
	}

	var result bitset64
	for value := rangeStart; value <= rangeEnd; value += step {
		result.set(value)
	}
	return result, nil
}
