// Package rollup downsamples per-day star series into a bounded retained
// representation: recent days verbatim, older history one point per month.
package rollup

import (
	"sort"
	"time"
)

// Point is one star-count observation for one calendar day.
type Point struct {
	Date  time.Time
	Stars int
}

// Day truncates a timestamp to its UTC calendar day.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Rollup retains points inside [today-recentDays, today] verbatim (one per
// day, latest observation wins) and collapses anything older to the latest
// point per calendar month. Total output is bounded by recentDays plus the
// number of historical months regardless of input size, and a non-decreasing
// input series stays non-decreasing.
func Rollup(points []Point, today time.Time, recentDays int) []Point {
	if len(points) == 0 {
		return nil
	}

	today = Day(today)
	cutoff := today.AddDate(0, 0, -recentDays)

	byDay := make(map[time.Time]Point, len(points))
	for _, point := range points {
		day := Day(point.Date)
		point.Date = day
		if existing, ok := byDay[day]; !ok || point.Stars > existing.Stars {
			byDay[day] = point
		}
	}

	daily := make([]Point, 0, len(byDay))
	for _, point := range byDay {
		daily = append(daily, point)
	}
	sort.Slice(daily, func(i, j int) bool { return daily[i].Date.Before(daily[j].Date) })

	var (
		out           []Point
		monthlyLatest map[string]Point
		monthOrder    []string
	)
	monthlyLatest = make(map[string]Point)

	for _, point := range daily {
		if !point.Date.Before(cutoff) {
			continue
		}
		key := point.Date.Format("2006-01")
		if _, seen := monthlyLatest[key]; !seen {
			monthOrder = append(monthOrder, key)
		}
		// Latest point within the month represents it.
		monthlyLatest[key] = point
	}

	for _, key := range monthOrder {
		out = append(out, monthlyLatest[key])
	}
	for _, point := range daily {
		if !point.Date.Before(cutoff) {
			out = append(out, point)
		}
	}
	return out
}

// Cumulative converts per-day star event counts into a non-decreasing series
// of running totals, offset by the number of stars counted before the first
// observed page.
func Cumulative(countsByDay map[time.Time]int, offset int) []Point {
	days := make([]time.Time, 0, len(countsByDay))
	for day := range countsByDay {
		days = append(days, day)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })

	out := make([]Point, 0, len(days))
	total := offset
	for _, day := range days {
		total += countsByDay[day]
		out = append(out, Point{Date: day, Stars: total})
	}
	return out
}
