// Package duration parses the relative time expressions accepted by query
// parameters such as ?since=.
package duration

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	Day  = 24 * time.Hour
	Week = 7 * Day
)

var units = map[byte]time.Duration{
	'h': time.Hour,
	'd': Day,
	'w': Week,
}

// Parse accepts "<n>h", "<n>d" and "<n>w" with an integer n, and otherwise
// anything time.ParseDuration accepts. Negative durations are rejected.
func Parse(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}

	if unit, ok := units[s[len(s)-1]]; ok {
		if n, err := strconv.Atoi(s[:len(s)-1]); err == nil {
			if n < 0 {
				return 0, fmt.Errorf("negative duration %q", s)
			}
			return time.Duration(n) * unit, nil
		}
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", s)
	}
	return d, nil
}

// ParseSince resolves s to an absolute time. s is either an RFC 3339 timestamp
// or a duration, read as that long before now.
func ParseSince(s string, now time.Time) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	d, err := Parse(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("since must be RFC 3339 or a duration like 24h, 7d, 2w: %w", err)
	}
	return now.Add(-d).UTC(), nil
}
