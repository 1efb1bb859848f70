// Package experience computes point aggregates over an event log. Like the
// streak calculator it is a pure function of its inputs: no clocks, no
// stores, no hidden state.
package experience

import (
	"errors"
	"sort"
	"time"
)

// ErrNegativePoints indicates an event carrying a negative point value.
var ErrNegativePoints = errors.New("experience: event points must not be negative")

// Event is one immutable point-earning entry.
type Event struct {
	ID        string
	Timestamp time.Time
	Points    int
	Metadata  map[string]any
}

// DayPoints pairs a calendar day with the points earned on it.
type DayPoints struct {
	Date   time.Time
	Points int
}

// Snapshot is the derived point aggregate for one grouping key.
type Snapshot struct {
	TotalPoints int
	// Calendar windows relative to the reference instant. The week starts
	// on Sunday.
	PointsToday     int
	PointsThisWeek  int
	PointsThisMonth int
	PointsThisYear  int
	// Rolling windows ending at the reference instant, inclusive.
	PointsLast7Days   int
	PointsLast30Days  int
	PointsLast365Days int
	TotalEvents       int
	LastEventDate     time.Time
	// RecentDays holds per-day totals for the most recent active days in
	// ascending order, bounded by RecentDayWindow.
	RecentDays []DayPoints
}

// RecentDayWindow bounds the per-day history kept on a snapshot.
const RecentDayWindow = 60

// Engine aggregates experience events into calendar and rolling windows of
// the configured location.
type Engine struct {
	location *time.Location
}

// NewEngine constructs an Engine for the provided location, defaulting to
// UTC when loc is nil.
func NewEngine(loc *time.Location) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	return &Engine{location: loc}
}

// Calculate recomputes the snapshot from the full event log at the given
// reference instant. Events after the reference instant are ignored for
// window sums but still count toward the lifetime total. Repeated calls
// with identical inputs return identical results.
func (e *Engine) Calculate(events []Event, reference time.Time) (Snapshot, error) {
	loc := e.location
	ref := reference.In(loc)

	today := startOfDay(ref, loc)
	weekStart := today.AddDate(0, 0, -int(today.Weekday()))
	monthStart := time.Date(ref.Year(), ref.Month(), 1, 0, 0, 0, 0, loc)
	yearStart := time.Date(ref.Year(), 1, 1, 0, 0, 0, 0, loc)
	last7 := today.AddDate(0, 0, -6)
	last30 := today.AddDate(0, 0, -29)
	last365 := today.AddDate(0, 0, -364)

	snapshot := Snapshot{TotalEvents: len(events)}
	perDay := make(map[time.Time]int)

	for _, event := range events {
		if event.Points < 0 {
			return Snapshot{}, ErrNegativePoints
		}
		snapshot.TotalPoints += event.Points

		at := event.Timestamp.In(loc)
		if at.After(snapshot.LastEventDate) {
			snapshot.LastEventDate = at
		}
		if at.After(ref) {
			continue
		}

		day := startOfDay(at, loc)
		perDay[day] += event.Points

		if !day.Before(today) {
			snapshot.PointsToday += event.Points
		}
		if !day.Before(weekStart) {
			snapshot.PointsThisWeek += event.Points
		}
		if !day.Before(monthStart) {
			snapshot.PointsThisMonth += event.Points
		}
		if !day.Before(yearStart) {
			snapshot.PointsThisYear += event.Points
		}
		if !day.Before(last7) {
			snapshot.PointsLast7Days += event.Points
		}
		if !day.Before(last30) {
			snapshot.PointsLast30Days += event.Points
		}
		if !day.Before(last365) {
			snapshot.PointsLast365Days += event.Points
		}
	}

	snapshot.RecentDays = recentDays(perDay)
	return snapshot, nil
}

func recentDays(perDay map[time.Time]int) []DayPoints {
	days := make([]DayPoints, 0, len(perDay))
	for day, points := range perDay {
		days = append(days, DayPoints{Date: day, Points: points})
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Date.Before(days[j].Date) })
	if len(days) > RecentDayWindow {
		days = days[len(days)-RecentDayWindow:]
	}
	return days
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	year, month, day := t.In(loc).Date()
	return time.Date(year, month, day, 0, 0, 0, 0, loc)
}
