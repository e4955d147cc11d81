// util/time_test.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package util

import (
	"testing"
	"time"
)

func TestFormatSimTime(t *testing.T) {
	tests := []struct {
		seconds int
		want    string
	}{
		{0, "00:00:00"},
		{59, "00:00:59"},
		{60, "00:01:00"},
		{3661, "01:01:01"},
		{-5, "00:00:00"},
		{36000, "10:00:00"},
	}

	for _, tt := range tests {
		if got := FormatSimTime(tt.seconds); got != tt.want {
			t.Errorf("FormatSimTime(%d) = %q, want %q", tt.seconds, got, tt.want)
		}
	}
}

func TestParseSimTime(t *testing.T) {
	tests := []struct {
		input   string
		want    int
		wantErr bool
	}{
		{"00:00:00", 0, false},
		{"00:01:00", 60, false},
		{"01:01:01", 3661, false},
		{" 00:00:30 ", 30, false},
		{"02:30", 150, false},
		{"45", 45, false},
		{"", 0, true},
		{"00:61:00", 0, true},
		{"aa:00:00", 0, true},
		{"1:2:3:4", 0, true},
		{"-1:00:00", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseSimTime(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseSimTime(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseSimTime(%q) = %d, want %d", tt.input, got, tt.want)
		}
	}

	// Round trip.
	for _, s := range []int{0, 1, 59, 60, 3599, 3600, 86399} {
		v, err := ParseSimTime(FormatSimTime(s))
		if err != nil || v != s {
			t.Errorf("round trip of %d gave %d (%v)", s, v, err)
		}
	}
}

func TestNextBoundary(t *testing.T) {
	base := time.Date(2024, 3, 1, 10, 0, 12, 0, time.UTC)
	got := NextBoundary(base, 30*time.Second)
	want := time.Date(2024, 3, 1, 10, 0, 30, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("NextBoundary = %v, want %v", got, want)
	}

	onBoundary := time.Date(2024, 3, 1, 10, 0, 30, 0, time.UTC)
	if got := NextBoundary(onBoundary, 30*time.Second); !got.Equal(onBoundary.Add(30 * time.Second)) {
		t.Errorf("NextBoundary on boundary = %v", got)
	}

	if got := NextBoundary(base, 0); !got.Equal(base) {
		t.Errorf("NextBoundary with zero interval = %v", got)
	}
}
