// util/time.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package util

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FormatSimTime formats a simulation clock value in seconds as HH:MM:SS.
// Negative values are clamped to zero.
func FormatSimTime(seconds int) string {
	seconds = max(0, seconds)
	return fmt.Sprintf("%02d:%02d:%02d", seconds/3600, (seconds/60)%60, seconds%60)
}

// ParseSimTime parses an HH:MM:SS (or MM:SS or bare seconds) time index and
// returns the number of seconds it represents.
func ParseSimTime(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty time index")
	}

	f := strings.Split(s, ":")
	if len(f) > 3 {
		return 0, fmt.Errorf("%q: invalid time index", s)
	}

	total := 0
	for i, field := range f {
		v, err := strconv.Atoi(field)
		if err != nil || v < 0 {
			return 0, fmt.Errorf("%q: invalid time index", s)
		}
		if i > 0 && v >= 60 {
			return 0, fmt.Errorf("%q: minutes and seconds must be less than 60", s)
		}
		total = total*60 + v
	}
	return total, nil
}

// NextBoundary returns the first time after t that falls on a multiple of
// interval since the start of the day. It is used to line up the start of
// a run with the traffic network's synchronization period.
func NextBoundary(t time.Time, interval time.Duration) time.Time {
	if interval <= 0 {
		return t
	}
	next := t.Truncate(interval).Add(interval)
	return next
}
