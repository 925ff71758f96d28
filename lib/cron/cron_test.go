// Copyright 2026 The Tracery Authors
// SPDX-License-Identifier: Apache-2.0

package cron

import (
	"strings"
	"testing"
	"time"
)

func mustParse(t *testing.T, expression string) Schedule {
	t.Helper()
	schedule, err := Parse(expression)
	if err != nil {
		t.Fatalf("Parse(%q): %v", expression, err)
	}
	return schedule
}

func utc(year int, month time.Month, day, hour, minute int) time.Time {
	return time.Date(year, month, day, hour, minute, 0, 0, time.UTC)
}

func TestParseValid(t *testing.T) {
	expressions := []string{
		"* * * * *",
		"0 7 * * *",
		"*/15 0-6 1,15 * 1-5",
		"30 3 * * 0",
		"0 0 1 1 *",
		"5,10,15 * * * *",
		"0-30/5 * * * *",
	}
	for _, expression := range expressions {
		t.Run(expression, func(t *testing.T) {
			if _, err := Parse(expression); err != nil {
				t.Errorf("Parse(%q) = %v, want nil", expression, err)
			}
		})
	}
}

func TestParseInvalid(t *testing.T) {
	tests := []struct {
		name       string
		expression string
		wantErr    string
	}{
		{"too_few_fields", "* * * *", "expected 5 fields"},
		{"too_many_fields", "* * * * * *", "expected 5 fields"},
		{"empty", "", "expected 5 fields"},
		{"minute_out_of_range", "60 * * * *", "out of range"},
		{"hour_out_of_range", "* 24 * * *", "out of range"},
		{"day_zero", "* * 0 * *", "out of range"},
		{"month_out_of_range", "* * * 13 *", "out of range"},
		{"dow_out_of_range", "* * * * 7", "out of range"},
		{"zero_step", "*/0 * * * *", "step must be positive"},
		{"bad_range", "5-3 * * * *", "range start 5 > end 3"},
		{"non_numeric", "abc * * * *", "invalid value"},
		{"bad_step_value", "*/x * * * *", "invalid step"},
		{"unknown_preset", "@fortnightly", "unknown preset"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := Parse(test.expression)
			if err == nil {
				t.Fatalf("Parse(%q) = nil, want error containing %q", test.expression, test.wantErr)
			}
			if !strings.Contains(err.Error(), test.wantErr) {
				t.Errorf("Parse(%q) error = %q, want it to contain %q", test.expression, err, test.wantErr)
			}
		})
	}
}

func TestNext(t *testing.T) {
	tests := []struct {
		name       string
		expression string
		from       time.Time
		want       time.Time
	}{
		{
			name:       "every_minute",
			expression: "* * * * *",
			from:       utc(2026, time.March, 10, 9, 30),
			want:       utc(2026, time.March, 10, 9, 31),
		},
		{
			name:       "daily_seven_am",
			expression: "0 7 * * *",
			from:       utc(2026, time.March, 10, 9, 30),
			want:       utc(2026, time.March, 11, 7, 0),
		},
		{
			name:       "weekday_only",
			expression: "0 12 * * 1-5",
			from:       utc(2026, time.March, 13, 13, 0), // Friday 13:00
			want:       utc(2026, time.March, 16, 12, 0), // Monday
		},
		{
			name:       "first_of_month",
			expression: "30 2 1 * *",
			from:       utc(2026, time.March, 10, 0, 0),
			want:       utc(2026, time.April, 1, 2, 30),
		},
		{
			name:       "yearly_rollover",
			expression: "0 0 1 1 *",
			from:       utc(2026, time.June, 1, 0, 0),
			want:       utc(2027, time.January, 1, 0, 0),
		},
		{
			name:       "exact_boundary_is_strictly_after",
			expression: "30 9 * * *",
			from:       utc(2026, time.March, 10, 9, 30),
			want:       utc(2026, time.March, 11, 9, 30),
		},
		{
			// Both day fields restricted: either one matching fires
			// the schedule, so "the 13th at midnight, and Fridays"
			// hits the next Friday, not the next Friday the 13th.
			name:       "restricted_day_fields_are_alternatives",
			expression: "0 0 13 * 5",
			from:       utc(2026, time.August, 24, 10, 0), // Monday
			want:       utc(2026, time.August, 28, 0, 0),  // Friday the 28th
		},
		{
			name:       "day_of_month_alternative_fires_first",
			expression: "0 0 13 * 5",
			from:       utc(2026, time.September, 12, 0, 0),
			want:       utc(2026, time.September, 13, 0, 0), // a Sunday
		},
		{
			name:       "only_day_of_month_restricted",
			expression: "0 0 13 * *",
			from:       utc(2026, time.August, 24, 10, 0),
			want:       utc(2026, time.September, 13, 0, 0),
		},
		{
			name:       "only_day_of_week_restricted",
			expression: "0 0 * * 5",
			from:       utc(2026, time.August, 24, 10, 0),
			want:       utc(2026, time.August, 28, 0, 0),
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			schedule := mustParse(t, test.expression)
			got, err := schedule.Next(test.from)
			if err != nil {
				t.Fatalf("Next: %v", err)
			}
			if !got.Equal(test.want) {
				t.Errorf("Next(%v) = %v, want %v", test.from, got, test.want)
			}
		})
	}
}

func TestNextImpossibleSchedule(t *testing.T) {
	schedule := mustParse(t, "0 0 31 2 *") // February 31st
	if _, err := schedule.Next(utc(2026, time.January, 1, 0, 0)); err == nil {
		t.Fatal("Next on impossible schedule succeeded, want error")
	}
}

func TestPresetsMatchExpansions(t *testing.T) {
	from := utc(2026, time.March, 10, 9, 30)
	for preset, expansion := range presets {
		t.Run(preset, func(t *testing.T) {
			fromPreset, err := mustParse(t, preset).Next(from)
			if err != nil {
				t.Fatalf("Next(%s): %v", preset, err)
			}
			fromExpansion, err := mustParse(t, expansion).Next(from)
			if err != nil {
				t.Fatalf("Next(%s): %v", expansion, err)
			}
			if !fromPreset.Equal(fromExpansion) {
				t.Errorf("%s: Next = %v, expansion %q gives %v", preset, fromPreset, expansion, fromExpansion)
			}
		})
	}
}
