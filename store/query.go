package store

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/robertmeta/strip-cli/model"
)

var windowPattern = regexp.MustCompile(`^(\d+)([hdwmy])$`)

// windowUnits maps a history window suffix to its length. Months and years
// are counted as 30 and 365 days.
var windowUnits = map[string]time.Duration{
	"h": time.Hour,
	"d": 24 * time.Hour,
	"w": 7 * 24 * time.Hour,
	"m": 30 * 24 * time.Hour,
	"y": 365 * 24 * time.Hour,
}

// ParseWindow parses a history window such as "12h", "7d", "2w", "3m" or "1y".
func ParseWindow(s string) (time.Duration, error) {
	m := windowPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("invalid window %q (expected <number><unit> with unit h, d, w, m or y)", s)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, fmt.Errorf("invalid window %q: %w", s, err)
	}
	return time.Duration(n) * windowUnits[m[2]], nil
}

// WindowStart returns the earliest attempt time covered by window, counted
// back from now.
func WindowStart(window string, now time.Time) (time.Time, error) {
	d, err := ParseWindow(window)
	if err != nil {
		return time.Time{}, err
	}
	return now.Add(-d), nil
}

// BuildQueryOptions turns the history command's flags into QueryOptions.
// An empty since or outcome leaves that filter off.
func BuildQueryOptions(now time.Time, limit, offset int, since, outcome, cycleID string) (QueryOptions, error) {
	opts := QueryOptions{
		Limit:   limit,
		Offset:  offset,
		CycleID: cycleID,
	}

	if outcome != "" {
		o, err := ParseOutcome(outcome)
		if err != nil {
			return opts, err
		}
		opts.Outcome = o
	}

	if since != "" {
		start, err := WindowStart(since, now)
		if err != nil {
			return opts, fmt.Errorf("failed to parse --since flag: %w", err)
		}
		opts.Since = start
	}

	return opts, nil
}

// ParseOutcome validates an outcome name given on the command line.
func ParseOutcome(s string) (model.Outcome, error) {
	switch o := model.Outcome(s); o {
	case model.OutcomeNewStrip, model.OutcomeNotModified, model.OutcomeFailed, model.OutcomeSkipped:
		return o, nil
	default:
		return "", fmt.Errorf("invalid outcome: %s (expected new_strip, not_modified, failed or skipped)", s)
	}
}
