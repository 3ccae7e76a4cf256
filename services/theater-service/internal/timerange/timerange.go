// Package timerange implements half-open, same-day time intervals with
// minute precision. Ranges are the unit of slot math: overlap checks for
// conflict detection and adjacency merging for contiguous spans.
package timerange

import (
	"errors"
	"fmt"
	"time"
)

const minutesPerDay = 24 * 60

var (
	ErrInvalidRange = errors.New("timerange: start must be before end within one day")
	ErrInvalidMerge = errors.New("timerange: ranges are neither adjacent nor overlapping")
)

// TimeRange is a half-open interval [Start, End) in minutes since midnight.
type TimeRange struct {
	Start int
	End   int
}

// New validates the same-day invariant: 0 <= start < end <= 24h.
// Midnight-crossing ranges are rejected.
func New(start, end int) (TimeRange, error) {
	if start < 0 || end > minutesPerDay || start >= end {
		return TimeRange{}, fmt.Errorf("%w: [%d, %d)", ErrInvalidRange, start, end)
	}
	return TimeRange{Start: start, End: end}, nil
}

// Parse builds a range from "15:04" clock strings.
func Parse(start, end string) (TimeRange, error) {
	s, err := ParseClock(start)
	if err != nil {
		return TimeRange{}, err
	}
	e, err := ParseClock(end)
	if err != nil {
		return TimeRange{}, err
	}
	return New(s, e)
}

// Overlaps reports whether the two half-open intervals share any minute.
func (r TimeRange) Overlaps(o TimeRange) bool {
	return r.Start < o.End && o.Start < r.End
}

// AdjacentOrOverlapping additionally accepts ranges that touch end-to-start,
// the condition under which two slots form one contiguous span.
func (r TimeRange) AdjacentOrOverlapping(o TimeRange) bool {
	return r.Overlaps(o) || r.End == o.Start || o.End == r.Start
}

// Merge returns the covering range of two adjacent or overlapping ranges.
func (r TimeRange) Merge(o TimeRange) (TimeRange, error) {
	if !r.AdjacentOrOverlapping(o) {
		return TimeRange{}, fmt.Errorf("%w: %s and %s", ErrInvalidMerge, r, o)
	}
	merged := r
	if o.Start < merged.Start {
		merged.Start = o.Start
	}
	if o.End > merged.End {
		merged.End = o.End
	}
	return merged, nil
}

// Less orders ranges by start ascending, ties broken by end ascending.
func (r TimeRange) Less(o TimeRange) bool {
	if r.Start != o.Start {
		return r.Start < o.Start
	}
	return r.End < o.End
}

func (r TimeRange) Minutes() int {
	return r.End - r.Start
}

// Duration converts the span to a time.Duration. A negative raw span (end
// before start, possible only for values assembled outside New) wraps by 24h;
// that mirrors how multi-slot surgery durations crossing midnight are
// reported upstream, and is a policy choice rather than inferred correctness.
func (r TimeRange) Duration() time.Duration {
	mins := r.End - r.Start
	if mins < 0 {
		mins += minutesPerDay
	}
	return time.Duration(mins) * time.Minute
}

func (r TimeRange) String() string {
	return FormatClock(r.Start) + "-" + FormatClock(r.End)
}

// ParseClock parses "15:04" into minutes since midnight. "24:00" is accepted
// as an exclusive end bound.
func ParseClock(s string) (int, error) {
	if s == "24:00" {
		return minutesPerDay, nil
	}
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("timerange: invalid clock value %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

func FormatClock(mins int) string {
	if mins == minutesPerDay {
		return "24:00"
	}
	return fmt.Sprintf("%02d:%02d", mins/60, mins%60)
}
