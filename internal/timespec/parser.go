// Package timespec parses the --since and --until flags of the sessions
// command.
package timespec

import (
	"fmt"
	"time"
)

// Parse parses a time specification into a Unix timestamp in milliseconds.
// Supports Go durations ("90s", "1h30m"), counted back from now, and
// RFC3339 timestamps ("2025-10-29T13:00:00Z").
func Parse(spec string, now time.Time) (int64, error) {
	if spec == "" {
		return 0, fmt.Errorf("empty time specification")
	}

	if t, err := time.Parse(time.RFC3339, spec); err == nil {
		return t.UnixMilli(), nil
	}

	if d, err := time.ParseDuration(spec); err == nil {
		if d < 0 {
			return 0, fmt.Errorf("invalid time specification: %s (durations count back from now and must be positive)", spec)
		}
		return now.Add(-d).UnixMilli(), nil
	}

	return 0, fmt.Errorf("invalid time specification: %s (use duration like '1h30m' or RFC3339 like '2025-10-29T13:00:00Z')", spec)
}

// Range is a half-open interval of Unix milliseconds. A zero bound is
// unbounded.
type Range struct {
	Since int64
	Until int64
}

// Contains reports whether ms falls in [Since, Until).
func (r Range) Contains(ms int64) bool {
	if r.Since > 0 && ms < r.Since {
		return false
	}
	if r.Until > 0 && ms >= r.Until {
		return false
	}
	return true
}

// ParseRange parses both --since and --until flags into a Range.
func ParseRange(since, until string, now time.Time) (Range, error) {
	var r Range
	var err error

	if since != "" {
		if r.Since, err = Parse(since, now); err != nil {
			return Range{}, fmt.Errorf("invalid --since: %w", err)
		}
	}
	if until != "" {
		if r.Until, err = Parse(until, now); err != nil {
			return Range{}, fmt.Errorf("invalid --until: %w", err)
		}
	}

	if r.Since > 0 && r.Until > 0 && r.Since >= r.Until {
		return Range{}, fmt.Errorf("--since must be before --until")
	}
	return r, nil
}
