package scheduler

import (
	"fmt"
	"time"
)

// Window is a daily quiet period [Start, End) in minutes after local
// midnight. Start > End wraps past midnight.
type Window struct {
	Start int
	End   int
}

// ParseWindow parses two "HH:MM" clock times.
func ParseWindow(start, end string) (Window, error) {
	s, err := parseClock(start)
	if err != nil {
		return Window{}, fmt.Errorf("window start: %w", err)
	}
	e, err := parseClock(end)
	if err != nil {
		return Window{}, fmt.Errorf("window end: %w", err)
	}
	if s == e {
		return Window{}, fmt.Errorf("window start and end are both %s", start)
	}
	return Window{Start: s, End: e}, nil
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q, want HH:MM", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// Contains reports whether t, in its own location, falls inside the window.
func (w Window) Contains(t time.Time) bool {
	m := t.Hour()*60 + t.Minute()
	if w.Start < w.End {
		return m >= w.Start && m < w.End
	}
	return m >= w.Start || m < w.End
}

// NextEnd returns the first window end strictly after t.
func (w Window) NextEnd(t time.Time) time.Time {
	y, mo, d := t.Date()
	end := time.Date(y, mo, d, w.End/60, w.End%60, 0, 0, t.Location())
	if !end.After(t) {
		end = time.Date(y, mo, d+1, w.End/60, w.End%60, 0, 0, t.Location())
	}
	return end
}

func (w Window) String() string {
	return fmt.Sprintf("%02d:%02d-%02d:%02d", w.Start/60, w.Start%60, w.End/60, w.End%60)
}
