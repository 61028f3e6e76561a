package rollup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(year int, month time.Month, d int) time.Time {
	return time.Date(year, month, d, 0, 0, 0, 0, time.UTC)
}

func TestDayTruncatesToUTCMidnight(t *testing.T) {
	t.Parallel()

	in := time.Date(2026, time.August, 29, 23, 59, 58, 0, time.FixedZone("X", 3*3600))
	got := Day(in)
	assert.Equal(t, day(2026, time.August, 29), got)
}

func TestRollupKeepsRecentDaysVerbatim(t *testing.T) {
	t.Parallel()

	today := day(2026, time.August, 29)
	points := []Point{
		{Date: today.AddDate(0, 0, -2), Stars: 10},
		{Date: today.AddDate(0, 0, -1), Stars: 11},
		{Date: today, Stars: 12},
	}

	out := Rollup(points, today, 90)

	require.Len(t, out, 3)
	assert.Equal(t, 10, out[0].Stars)
	assert.Equal(t, 12, out[2].Stars)
}

func TestRollupCollapsesHistoryToMonthly(t *testing.T) {
	t.Parallel()

	today := day(2026, time.August, 29)
	var points []Point
	// 200 daily points ending today, stars strictly increasing.
	for i := 199; i >= 0; i-- {
		points = append(points, Point{Date: today.AddDate(0, 0, -i), Stars: 200 - i})
	}

	out := Rollup(points, today, 90)

	// 91 recent days (inclusive window) plus one point per historical month.
	assert.LessOrEqual(t, len(out), 91+5)
	assert.Less(t, len(out), 200)

	for i := 1; i < len(out); i++ {
		assert.True(t, out[i].Date.After(out[i-1].Date), "dates must be ascending")
		assert.GreaterOrEqual(t, out[i].Stars, out[i-1].Stars, "series must stay non-decreasing")
	}
	assert.Equal(t, 200, out[len(out)-1].Stars)
}

func TestRollupLatestObservationPerDayWins(t *testing.T) {
	t.Parallel()

	today := day(2026, time.August, 29)
	points := []Point{
		{Date: today.Add(8 * time.Hour), Stars: 5},
		{Date: today.Add(20 * time.Hour), Stars: 9},
	}

	out := Rollup(points, today, 30)

	require.Len(t, out, 1)
	assert.Equal(t, 9, out[0].Stars)
	assert.Equal(t, today, out[0].Date)
}

func TestRollupEmptyInput(t *testing.T) {
	t.Parallel()

	assert.Nil(t, Rollup(nil, day(2026, time.August, 29), 90))
}

func TestCumulativeRunningTotalsWithOffset(t *testing.T) {
	t.Parallel()

	counts := map[time.Time]int{
		day(2026, time.August, 27): 3,
		day(2026, time.August, 25): 2,
		day(2026, time.August, 26): 1,
	}

	out := Cumulative(counts, 100)

	require.Len(t, out, 3)
	assert.Equal(t, Point{Date: day(2026, time.August, 25), Stars: 102}, out[0])
	assert.Equal(t, Point{Date: day(2026, time.August, 26), Stars: 103}, out[1])
	assert.Equal(t, Point{Date: day(2026, time.August, 27), Stars: 106}, out[2])
}

func TestCumulativeEmpty(t *testing.T) {
	t.Parallel()

	assert.Empty(t, Cumulative(map[time.Time]int{}, 10))
}
