package model

import (
	"time"

	"github.com/theaterops/theaterops/services/theater-service/internal/timerange"
)

// Slot is a fixed bookable interval within an operation theater room.
// Slots are defined per room; the calendar date selects which allocations
// hold them, not which slots exist.
type Slot struct {
	ID     int64
	RoomID int64
	Number string // human label, unique within a room, e.g. "SL01"
	Range  timerange.TimeRange
	Active bool // inactive slots are excluded from booking but kept for history
}

// Date is a calendar day in ISO form (YYYY-MM-DD). The engine never attaches
// a timezone to it; callers resolve local dates before they get here.
type Date string

func ParseDate(s string) (Date, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return "", err
	}
	return Date(t.Format("2006-01-02")), nil
}

func (d Date) String() string { return string(d) }
