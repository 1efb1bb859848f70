package experience

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

var testReference = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func onDay(offset int, hour int) time.Time {
	return time.Date(2026, 3, 10-offset, hour, 0, 0, 0, time.UTC)
}

func event(id string, at time.Time, points int) Event {
	return Event{ID: id, Timestamp: at, Points: points}
}

func TestCalculateRollingWindows(t *testing.T) {
	t.Parallel()

	engine := NewEngine(time.UTC)
	var events []Event
	for offset := 0; offset < 10; offset++ {
		events = append(events, event("e", onDay(offset, 9), 10))
	}

	snapshot, err := engine.Calculate(events, testReference)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snapshot.PointsToday != 10 {
		t.Fatalf("points today = %d, want 10", snapshot.PointsToday)
	}
	if snapshot.PointsLast7Days != 70 {
		t.Fatalf("points last 7 days = %d, want 70", snapshot.PointsLast7Days)
	}
	if snapshot.PointsLast30Days != 100 {
		t.Fatalf("points last 30 days = %d, want 100", snapshot.PointsLast30Days)
	}
	if snapshot.PointsLast365Days != 100 {
		t.Fatalf("points last 365 days = %d, want 100", snapshot.PointsLast365Days)
	}
	if snapshot.TotalPoints != 100 {
		t.Fatalf("total points = %d, want 100", snapshot.TotalPoints)
	}
	if snapshot.TotalEvents != 10 {
		t.Fatalf("total events = %d, want 10", snapshot.TotalEvents)
	}
}

func TestCalculateCalendarWindows(t *testing.T) {
	t.Parallel()

	engine := NewEngine(time.UTC)
	// 2026-03-10 is a Tuesday; the week starts Sunday 2026-03-08.
	events := []Event{
		event("today", onDay(0, 9), 5),
		event("sunday", time.Date(2026, 3, 8, 9, 0, 0, 0, time.UTC), 7),
		event("saturday", time.Date(2026, 3, 7, 9, 0, 0, 0, time.UTC), 11),
		event("february", time.Date(2026, 2, 20, 9, 0, 0, 0, time.UTC), 13),
		event("last year", time.Date(2025, 12, 31, 9, 0, 0, 0, time.UTC), 17),
	}

	snapshot, err := engine.Calculate(events, testReference)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snapshot.PointsToday != 5 {
		t.Fatalf("points today = %d, want 5", snapshot.PointsToday)
	}
	if snapshot.PointsThisWeek != 12 {
		t.Fatalf("points this week = %d, want 12", snapshot.PointsThisWeek)
	}
	if snapshot.PointsThisMonth != 23 {
		t.Fatalf("points this month = %d, want 23", snapshot.PointsThisMonth)
	}
	if snapshot.PointsThisYear != 36 {
		t.Fatalf("points this year = %d, want 36", snapshot.PointsThisYear)
	}
	if snapshot.TotalPoints != 53 {
		t.Fatalf("total points = %d, want 53", snapshot.TotalPoints)
	}
}

func TestCalculateRecentDaysAscendingPerDayTotals(t *testing.T) {
	t.Parallel()

	engine := NewEngine(time.UTC)
	events := []Event{
		event("e1", onDay(2, 9), 3),
		event("e2", onDay(1, 9), 4),
		event("e3", onDay(1, 19), 6),
		event("e4", onDay(0, 9), 5),
	}

	snapshot, err := engine.Calculate(events, testReference)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []DayPoints{
		{Date: onDay(2, 0), Points: 3},
		{Date: onDay(1, 0), Points: 10},
		{Date: onDay(0, 0), Points: 5},
	}
	if !reflect.DeepEqual(snapshot.RecentDays, want) {
		t.Fatalf("recent days = %v, want %v", snapshot.RecentDays, want)
	}
	if want := onDay(0, 9); !snapshot.LastEventDate.Equal(want) {
		t.Fatalf("last event date = %v, want %v", snapshot.LastEventDate, want)
	}
}

func TestCalculateRejectsNegativePoints(t *testing.T) {
	t.Parallel()

	engine := NewEngine(time.UTC)
	events := []Event{event("bad", onDay(0, 9), -1)}

	_, err := engine.Calculate(events, testReference)
	if !errors.Is(err, ErrNegativePoints) {
		t.Fatalf("error = %v, want %v", err, ErrNegativePoints)
	}
}

func TestCalculateEmptyLogYieldsZeroSnapshot(t *testing.T) {
	t.Parallel()

	engine := NewEngine(time.UTC)
	snapshot, err := engine.Calculate(nil, testReference)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snapshot.TotalPoints != 0 || snapshot.TotalEvents != 0 {
		t.Fatalf("expected zero snapshot, got %+v", snapshot)
	}
	if !snapshot.LastEventDate.IsZero() {
		t.Fatalf("last event date = %v, want zero", snapshot.LastEventDate)
	}
	if len(snapshot.RecentDays) != 0 {
		t.Fatalf("recent days = %v, want empty", snapshot.RecentDays)
	}
}
