package timerange

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func mustRange(t *testing.T, start, end string) TimeRange {
	t.Helper()
	r, err := Parse(start, end)
	require.NoError(t, err)
	return r
}

func TestNew_RejectsInvalid(t *testing.T) {
	_, err := New(600, 600)
	require.ErrorIs(t, err, ErrInvalidRange)

	_, err = New(660, 600)
	require.ErrorIs(t, err, ErrInvalidRange)

	_, err = New(-10, 60)
	require.ErrorIs(t, err, ErrInvalidRange)

	_, err = New(1400, 1500)
	require.ErrorIs(t, err, ErrInvalidRange)
}

func TestOverlaps(t *testing.T) {
	a := mustRange(t, "09:00", "09:30")
	b := mustRange(t, "09:15", "10:00")
	c := mustRange(t, "09:30", "10:00")

	require.True(t, a.Overlaps(b))
	require.True(t, b.Overlaps(a))

	// Touching half-open intervals do not overlap.
	require.False(t, a.Overlaps(c))
	require.False(t, c.Overlaps(a))
}

func TestAdjacentOrOverlapping(t *testing.T) {
	a := mustRange(t, "09:00", "09:30")
	b := mustRange(t, "09:30", "10:00")
	c := mustRange(t, "10:30", "11:00")

	require.True(t, a.AdjacentOrOverlapping(b))
	require.True(t, b.AdjacentOrOverlapping(a))
	require.False(t, a.AdjacentOrOverlapping(c))
}

func TestMerge(t *testing.T) {
	a := mustRange(t, "09:00", "09:30")
	b := mustRange(t, "09:30", "10:00")

	merged, err := a.Merge(b)
	require.NoError(t, err)
	require.Equal(t, mustRange(t, "09:00", "10:00"), merged)

	c := mustRange(t, "10:30", "11:00")
	_, err = a.Merge(c)
	require.ErrorIs(t, err, ErrInvalidMerge)
}

func TestLess_Ordering(t *testing.T) {
	a := mustRange(t, "09:00", "09:30")
	b := mustRange(t, "09:00", "10:00")
	c := mustRange(t, "08:00", "12:00")

	require.True(t, a.Less(b), "same start, shorter end sorts first")
	require.True(t, c.Less(a))
	require.False(t, a.Less(a))
}

func TestDuration_WrapsNegativeSpan(t *testing.T) {
	r := mustRange(t, "09:00", "10:30")
	require.Equal(t, 90*time.Minute, r.Duration())

	// A raw span assembled end-before-start wraps by 24h.
	wrapped := TimeRange{Start: 23 * 60, End: 60}
	require.Equal(t, 2*time.Hour, wrapped.Duration())
}

func TestParseClock(t *testing.T) {
	m, err := ParseClock("00:00")
	require.NoError(t, err)
	require.Equal(t, 0, m)

	m, err = ParseClock("23:59")
	require.NoError(t, err)
	require.Equal(t, 1439, m)

	m, err = ParseClock("24:00")
	require.NoError(t, err)
	require.Equal(t, 1440, m)

	_, err = ParseClock("9am")
	require.Error(t, err)
}

func TestString(t *testing.T) {
	require.Equal(t, "09:00-09:30", mustRange(t, "09:00", "09:30").String())
}
