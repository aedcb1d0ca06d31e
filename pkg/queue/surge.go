package queue

import (
	"fmt"
	"strings"
	"time"
)

// Priority is the two-level job priority tier. High priority is granted
// inside configured surge windows, independent of payment tier.
type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// SurgeWindow is a daily wall-clock interval during which submissions get
// high priority. Windows may wrap past midnight.
type SurgeWindow struct {
	start int // minutes since midnight, inclusive
	end   int // minutes since midnight, exclusive
}

// ParseSurgeWindows parses "HH:MM-HH:MM" range specs.
func ParseSurgeWindows(specs []string) ([]SurgeWindow, error) {
	windows := make([]SurgeWindow, 0, len(specs))
	for _, spec := range specs {
		parts := strings.SplitN(spec, "-", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid surge window %q", spec)
		}
		start, err := parseClock(parts[0])
		if err != nil {
			return nil, fmt.Errorf("invalid surge window %q: %w", spec, err)
		}
		end, err := parseClock(parts[1])
		if err != nil {
			return nil, fmt.Errorf("invalid surge window %q: %w", spec, err)
		}
		windows = append(windows, SurgeWindow{start: start, end: end})
	}
	return windows, nil
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

// Contains reports whether the wall-clock time of now falls in the window.
func (w SurgeWindow) Contains(now time.Time) bool {
	minute := now.Hour()*60 + now.Minute()
	if w.start <= w.end {
		return minute >= w.start && minute < w.end
	}
	// wraps midnight
	return minute >= w.start || minute < w.end
}

// PriorityFor selects the tier for a submission at the given time.
func PriorityFor(now time.Time, windows []SurgeWindow) Priority {
	for _, w := range windows {
		if w.Contains(now) {
			return PriorityHigh
		}
	}
	return PriorityNormal
}
