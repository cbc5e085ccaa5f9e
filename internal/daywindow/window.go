// Package daywindow works with time-of-day intervals that may wrap past
// midnight (fasting windows, quiet hours, the awake window).
package daywindow

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const minutesPerDay = 24 * 60

// Window is an inclusive [Start, End] interval in minutes of day.
// Start > End means the window wraps past midnight.
type Window struct {
	Start int
	End   int
}

// New builds a window from minutes of day, normalizing out-of-range values.
func New(start, end int) Window {
	return Window{Start: normalize(start), End: normalize(end)}
}

// Parse builds a window from "HH:MM" strings.
func Parse(start, end string) (Window, error) {
	s, err := ParseClock(start)
	if err != nil {
		return Window{}, err
	}
	e, err := ParseClock(end)
	if err != nil {
		return Window{}, err
	}
	return Window{Start: s, End: e}, nil
}

// Contains reports whether t (in its own location) falls inside the window.
// Both ends are inclusive.
func (w Window) Contains(t time.Time) bool {
	return w.ContainsMinute(MinutesOfDay(t))
}

func (w Window) ContainsMinute(m int) bool {
	m = normalize(m)
	if w.Start <= w.End {
		return w.Start <= m && m <= w.End
	}
	return m >= w.Start || m <= w.End
}

func (w Window) String() string {
	return FormatClock(w.Start) + "-" + FormatClock(w.End)
}

// MinutesOfDay returns minutes since local midnight of t.
func MinutesOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

// ParseClock parses "HH:MM" into minutes of day.
func ParseClock(v string) (int, error) {
	v = strings.TrimSpace(v)
	parts := strings.Split(v, ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid clock %q: expected HH:MM", v)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid clock %q: bad hour", v)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid clock %q: bad minute", v)
	}
	return h*60 + m, nil
}

func FormatClock(minutes int) string {
	minutes = normalize(minutes)
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

func normalize(m int) int {
	m %= minutesPerDay
	if m < 0 {
		m += minutesPerDay
	}
	return m
}
