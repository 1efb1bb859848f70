package streak

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

var testReference = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

// onDay returns an instant on the day `offset` days before the test
// reference, at the given hour.
func onDay(offset int, hour int) time.Time {
	return time.Date(2026, 3, 10-offset, hour, 0, 0, 0, time.UTC)
}

func event(id string, at time.Time) Event {
	return Event{ID: id, Timestamp: at, Timezone: "UTC"}
}

func freezeEarned(id string, at time.Time) Freeze {
	return Freeze{ID: id, EarnedDate: at}
}

func TestCalculateBasicStreak(t *testing.T) {
	t.Parallel()

	engine := NewEngine(time.UTC)
	events := []Event{
		event("e1", onDay(2, 9)),
		event("e2", onDay(1, 9)),
		event("e3", onDay(0, 9)),
	}
	cfg := Config{EventsRequiredPerDay: 1}

	snapshot, consumptions, err := engine.Calculate(events, nil, cfg, testReference)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snapshot.CurrentStreak != 3 {
		t.Fatalf("current streak = %d, want 3", snapshot.CurrentStreak)
	}
	if snapshot.LongestStreak != 3 {
		t.Fatalf("longest streak = %d, want 3", snapshot.LongestStreak)
	}
	if want := onDay(2, 0); !snapshot.StreakStartDate.Equal(want) {
		t.Fatalf("streak start = %v, want %v", snapshot.StreakStartDate, want)
	}
	if snapshot.TotalEvents != 3 {
		t.Fatalf("total events = %d, want 3", snapshot.TotalEvents)
	}
	if snapshot.TodayEventCount != 1 {
		t.Fatalf("today event count = %d, want 1", snapshot.TodayEventCount)
	}
	if len(consumptions) != 0 {
		t.Fatalf("unexpected consumptions: %v", consumptions)
	}
}

func TestCalculateGapWithYesterdayQualifyingIsAtRisk(t *testing.T) {
	t.Parallel()

	engine := NewEngine(time.UTC)
	events := []Event{
		event("e1", onDay(3, 9)),
		event("e2", onDay(1, 9)),
	}
	cfg := Config{EventsRequiredPerDay: 1}

	snapshot, _, err := engine.Calculate(events, nil, cfg, testReference)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Yesterday qualifies, so today is still completable: the streak is
	// at risk, not broken. The older gap ends the walk.
	if snapshot.CurrentStreak != 1 {
		t.Fatalf("current streak = %d, want 1", snapshot.CurrentStreak)
	}
	if snapshot.LongestStreak != 1 {
		t.Fatalf("longest streak = %d, want 1", snapshot.LongestStreak)
	}
}

func TestCalculateStaleLogBreaksStreak(t *testing.T) {
	t.Parallel()

	engine := NewEngine(time.UTC)
	events := []Event{
		event("e1", onDay(4, 9)),
		event("e2", onDay(3, 9)),
	}
	cfg := Config{EventsRequiredPerDay: 1}

	snapshot, _, err := engine.Calculate(events, nil, cfg, testReference)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snapshot.CurrentStreak != 0 {
		t.Fatalf("current streak = %d, want 0", snapshot.CurrentStreak)
	}
	if !snapshot.StreakStartDate.IsZero() {
		t.Fatalf("streak start = %v, want zero", snapshot.StreakStartDate)
	}
	if snapshot.LongestStreak != 2 {
		t.Fatalf("longest streak = %d, want 2", snapshot.LongestStreak)
	}
}

func TestCalculateAutoFreezeBridgesGap(t *testing.T) {
	t.Parallel()

	engine := NewEngine(time.UTC)
	events := []Event{
		event("e1", onDay(3, 9)),
		event("e2", onDay(1, 9)),
	}
	freezes := []Freeze{freezeEarned("f1", onDay(10, 0))}
	cfg := Config{EventsRequiredPerDay: 1, FreezeBehavior: FreezeBehaviorAutoConsume}

	snapshot, consumptions, err := engine.Calculate(events, freezes, cfg, testReference)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snapshot.CurrentStreak != 3 {
		t.Fatalf("current streak = %d, want 3", snapshot.CurrentStreak)
	}
	if len(consumptions) != 1 {
		t.Fatalf("consumptions = %v, want one entry", consumptions)
	}
	if consumptions[0].FreezeID != "f1" {
		t.Fatalf("consumed freeze = %q, want f1", consumptions[0].FreezeID)
	}
	if want := onDay(2, 0); !consumptions[0].Date.Equal(want) {
		t.Fatalf("consumption date = %v, want %v", consumptions[0].Date, want)
	}
	if snapshot.FreezesRemaining != 0 {
		t.Fatalf("freezes remaining = %d, want 0", snapshot.FreezesRemaining)
	}
}

func TestCalculateAutoFreezeSparesTheExpectedDay(t *testing.T) {
	t.Parallel()

	engine := NewEngine(time.UTC)
	events := []Event{event("e1", onDay(2, 9))}
	freezes := []Freeze{
		freezeEarned("f1", onDay(10, 0)),
		freezeEarned("f2", onDay(9, 0)),
	}
	cfg := Config{EventsRequiredPerDay: 1, FreezeBehavior: FreezeBehaviorAutoConsume}

	snapshot, consumptions, err := engine.Calculate(events, freezes, cfg, testReference)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snapshot.CurrentStreak != 2 {
		t.Fatalf("current streak = %d, want 2", snapshot.CurrentStreak)
	}
	if len(consumptions) != 1 {
		t.Fatalf("consumptions = %v, want one entry", consumptions)
	}
	if want := onDay(1, 0); !consumptions[0].Date.Equal(want) {
		t.Fatalf("consumption date = %v, want %v", consumptions[0].Date, want)
	}
	if snapshot.FreezesRemaining != 1 {
		t.Fatalf("freezes remaining = %d, want 1", snapshot.FreezesRemaining)
	}
}

func TestCalculateAutoFreezeConsumesEarliestEarnedFirst(t *testing.T) {
	t.Parallel()

	engine := NewEngine(time.UTC)
	events := []Event{
		event("e1", onDay(4, 9)),
		event("e2", onDay(1, 9)),
	}
	freezes := []Freeze{
		freezeEarned("newer", onDay(5, 0)),
		freezeEarned("older", onDay(20, 0)),
		freezeEarned("newest", onDay(1, 0)),
	}
	cfg := Config{EventsRequiredPerDay: 1, FreezeBehavior: FreezeBehaviorAutoConsume}

	snapshot, consumptions, err := engine.Calculate(events, freezes, cfg, testReference)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snapshot.CurrentStreak != 4 {
		t.Fatalf("current streak = %d, want 4", snapshot.CurrentStreak)
	}
	if len(consumptions) != 2 {
		t.Fatalf("consumptions = %v, want two entries", consumptions)
	}
	if consumptions[0].FreezeID != "older" || consumptions[1].FreezeID != "newer" {
		t.Fatalf("consumption order = %q, %q; want older, newer", consumptions[0].FreezeID, consumptions[1].FreezeID)
	}
	if want := onDay(2, 0); !consumptions[0].Date.Equal(want) {
		t.Fatalf("first consumption date = %v, want %v", consumptions[0].Date, want)
	}
	if want := onDay(3, 0); !consumptions[1].Date.Equal(want) {
		t.Fatalf("second consumption date = %v, want %v", consumptions[1].Date, want)
	}
	if snapshot.FreezesRemaining != 1 {
		t.Fatalf("freezes remaining = %d, want 1", snapshot.FreezesRemaining)
	}
}

func TestCalculateSkipsUsedAndExpiredFreezes(t *testing.T) {
	t.Parallel()

	engine := NewEngine(time.UTC)
	events := []Event{
		event("e1", onDay(3, 9)),
		event("e2", onDay(1, 9)),
	}
	used := onDay(8, 0)
	expired := onDay(5, 0)
	freezes := []Freeze{
		{ID: "spent", EarnedDate: onDay(10, 0), UsedDate: &used},
		{ID: "stale", EarnedDate: onDay(10, 0), ExpiresDate: &expired},
	}
	cfg := Config{EventsRequiredPerDay: 1, FreezeBehavior: FreezeBehaviorAutoConsume}

	snapshot, consumptions, err := engine.Calculate(events, freezes, cfg, testReference)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(consumptions) != 0 {
		t.Fatalf("unexpected consumptions: %v", consumptions)
	}
	if snapshot.CurrentStreak != 1 {
		t.Fatalf("current streak = %d, want 1", snapshot.CurrentStreak)
	}
	if snapshot.FreezesRemaining != 0 {
		t.Fatalf("freezes remaining = %d, want 0", snapshot.FreezesRemaining)
	}
}

func TestCalculateGoalGating(t *testing.T) {
	t.Parallel()

	engine := NewEngine(time.UTC)
	events := []Event{
		event("e1", onDay(1, 8)),
		event("e2", onDay(1, 18)),
		event("e3", onDay(0, 9)),
	}
	cfg := Config{EventsRequiredPerDay: 2}

	snapshot, _, err := engine.Calculate(events, nil, cfg, testReference)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Today has one event and does not meet the goal yet; yesterday does.
	if snapshot.CurrentStreak != 1 {
		t.Fatalf("current streak = %d, want 1", snapshot.CurrentStreak)
	}
	if snapshot.TodayEventCount != 1 {
		t.Fatalf("today event count = %d, want 1", snapshot.TodayEventCount)
	}
}

func TestCalculateFreezeEventQualifiesDayRegardlessOfGoal(t *testing.T) {
	t.Parallel()

	engine := NewEngine(time.UTC)
	events := []Event{
		event("e1", onDay(2, 8)),
		event("e2", onDay(2, 18)),
		{ID: "fz", Timestamp: onDay(1, 0), Timezone: "UTC", IsFreeze: true, FreezeID: "f1"},
		event("e3", onDay(0, 8)),
		event("e4", onDay(0, 18)),
	}
	cfg := Config{EventsRequiredPerDay: 2}

	snapshot, _, err := engine.Calculate(events, nil, cfg, testReference)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snapshot.CurrentStreak != 3 {
		t.Fatalf("current streak = %d, want 3", snapshot.CurrentStreak)
	}
}

func TestCalculateLeewayExtendsPreviousDay(t *testing.T) {
	t.Parallel()

	engine := NewEngine(time.UTC)
	events := []Event{event("e1", onDay(2, 9))}
	cfg := Config{EventsRequiredPerDay: 1, LeewayHours: 3}

	// Within the leeway window the expected day is still yesterday, so a
	// log ending two days ago is only one day behind.
	within, _, err := engine.Calculate(events, nil, cfg, onDay(0, 2))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if within.CurrentStreak != 1 {
		t.Fatalf("current streak within leeway = %d, want 1", within.CurrentStreak)
	}

	past, _, err := engine.Calculate(events, nil, cfg, onDay(0, 4))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if past.CurrentStreak != 0 {
		t.Fatalf("current streak past leeway = %d, want 0", past.CurrentStreak)
	}
}

// Leeway moves the expected-day anchor only; it never moves an event into
// the previous calendar day.
func TestCalculateLeewayShiftsAnchorWithoutReattributingEvents(t *testing.T) {
	t.Parallel()

	engine := NewEngine(time.UTC)

	t.Run("early event stays on its own day", func(t *testing.T) {
		t.Parallel()
		events := []Event{
			event("e1", onDay(1, 23)),
			event("e2", onDay(0, 1)),
		}
		cfg := Config{EventsRequiredPerDay: 2, LeewayHours: 2}

		snapshot, _, err := engine.Calculate(events, nil, cfg, testReference)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		// One event on each day: neither meets the goal, even though both
		// land within two hours of the midnight between them.
		if snapshot.CurrentStreak != 0 {
			t.Fatalf("current streak = %d, want 0", snapshot.CurrentStreak)
		}
		if snapshot.LongestStreak != 0 {
			t.Fatalf("longest streak = %d, want 0", snapshot.LongestStreak)
		}
		if snapshot.TodayEventCount != 1 {
			t.Fatalf("today event count = %d, want 1", snapshot.TodayEventCount)
		}
	})

	t.Run("window shifts judgment not attribution", func(t *testing.T) {
		t.Parallel()
		events := []Event{
			event("e1", onDay(1, 22)),
			event("e2", onDay(1, 23)),
			event("e3", onDay(0, 1)),
		}
		cfg := Config{EventsRequiredPerDay: 2, LeewayHours: 2}

		snapshot, _, err := engine.Calculate(events, nil, cfg, onDay(0, 1).Add(30*time.Minute))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		// Inside the window the expected day is still yesterday, which
		// qualifies on its own two events. The 01:00 event counts toward
		// today and has not reached the goal yet.
		if snapshot.CurrentStreak != 1 {
			t.Fatalf("current streak = %d, want 1", snapshot.CurrentStreak)
		}
		if snapshot.TodayEventCount != 1 {
			t.Fatalf("today event count = %d, want 1", snapshot.TodayEventCount)
		}
	})
}

func TestCalculateRecentDaysAscending(t *testing.T) {
	t.Parallel()

	engine := NewEngine(time.UTC)
	events := []Event{
		event("e1", onDay(2, 9)),
		event("e2", onDay(1, 9)),
		event("e3", onDay(1, 19)),
		event("e4", onDay(0, 9)),
	}
	cfg := Config{EventsRequiredPerDay: 1}

	snapshot, _, err := engine.Calculate(events, nil, cfg, testReference)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []DayCount{
		{Date: onDay(2, 0), Events: 1},
		{Date: onDay(1, 0), Events: 2},
		{Date: onDay(0, 0), Events: 1},
	}
	if !reflect.DeepEqual(snapshot.RecentDays, want) {
		t.Fatalf("recent days = %v, want %v", snapshot.RecentDays, want)
	}
}

func TestCalculateLongestStreakSurvivesBreak(t *testing.T) {
	t.Parallel()

	engine := NewEngine(time.UTC)
	var events []Event
	for offset := 9; offset >= 5; offset-- {
		events = append(events, event("old", onDay(offset, 9)))
	}
	events = append(events, event("e1", onDay(1, 9)), event("e2", onDay(0, 9)))
	cfg := Config{EventsRequiredPerDay: 1}

	snapshot, _, err := engine.Calculate(events, nil, cfg, testReference)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snapshot.CurrentStreak != 2 {
		t.Fatalf("current streak = %d, want 2", snapshot.CurrentStreak)
	}
	if snapshot.LongestStreak != 5 {
		t.Fatalf("longest streak = %d, want 5", snapshot.LongestStreak)
	}
}

func TestCalculateIsDeterministic(t *testing.T) {
	t.Parallel()

	engine := NewEngine(time.UTC)
	events := []Event{
		event("e1", onDay(4, 9)),
		event("e2", onDay(1, 9)),
		event("e3", onDay(0, 7)),
	}
	freezes := []Freeze{
		freezeEarned("f1", onDay(6, 0)),
		freezeEarned("f2", onDay(12, 0)),
	}
	cfg := Config{EventsRequiredPerDay: 1, FreezeBehavior: FreezeBehaviorAutoConsume}

	first, firstPlan, err := engine.Calculate(events, freezes, cfg, testReference)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, secondPlan, err := engine.Calculate(events, freezes, cfg, testReference)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("snapshots differ:\n%v\n%v", first, second)
	}
	if !reflect.DeepEqual(firstPlan, secondPlan) {
		t.Fatalf("plans differ:\n%v\n%v", firstPlan, secondPlan)
	}
}

func TestCalculateRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	engine := NewEngine(time.UTC)

	cases := []struct {
		name string
		cfg  Config
		want error
	}{
		{name: "zero goal", cfg: Config{EventsRequiredPerDay: 0}, want: ErrInvalidGoal},
		{name: "negative leeway", cfg: Config{EventsRequiredPerDay: 1, LeewayHours: -1}, want: ErrInvalidLeeway},
		{name: "unknown behavior", cfg: Config{EventsRequiredPerDay: 1, FreezeBehavior: FreezeBehavior(99)}, want: ErrInvalidBehavior},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, _, err := engine.Calculate(nil, nil, tc.cfg, testReference)
			if !errors.Is(err, tc.want) {
				t.Fatalf("error = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestPlanManualConsumption(t *testing.T) {
	t.Parallel()

	engine := NewEngine(time.UTC)
	cfg := Config{EventsRequiredPerDay: 1, FreezeBehavior: FreezeBehaviorManualConsume}

	t.Run("fills gap from most recent missing day", func(t *testing.T) {
		t.Parallel()
		events := []Event{event("e1", onDay(3, 9))}
		freezes := []Freeze{
			freezeEarned("second", onDay(4, 0)),
			freezeEarned("first", onDay(8, 0)),
		}
		plan, err := engine.PlanManualConsumption(events, freezes, cfg, testReference)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(plan) != 2 {
			t.Fatalf("plan = %v, want two entries", plan)
		}
		if plan[0].FreezeID != "first" || !plan[0].Date.Equal(onDay(1, 0)) {
			t.Fatalf("plan[0] = %v, want first freeze on %v", plan[0], onDay(1, 0))
		}
		if plan[1].FreezeID != "second" || !plan[1].Date.Equal(onDay(2, 0)) {
			t.Fatalf("plan[1] = %v, want second freeze on %v", plan[1], onDay(2, 0))
		}
	})

	t.Run("no gap yields empty plan", func(t *testing.T) {
		t.Parallel()
		events := []Event{event("e1", onDay(1, 9))}
		freezes := []Freeze{freezeEarned("f1", onDay(4, 0))}
		plan, err := engine.PlanManualConsumption(events, freezes, cfg, testReference)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(plan) != 0 {
			t.Fatalf("plan = %v, want empty", plan)
		}
	})

	t.Run("stops when freezes run out", func(t *testing.T) {
		t.Parallel()
		events := []Event{event("e1", onDay(4, 9))}
		freezes := []Freeze{freezeEarned("f1", onDay(6, 0))}
		plan, err := engine.PlanManualConsumption(events, freezes, cfg, testReference)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(plan) != 1 {
			t.Fatalf("plan = %v, want one entry", plan)
		}
		if !plan[0].Date.Equal(onDay(1, 0)) {
			t.Fatalf("plan[0].Date = %v, want %v", plan[0].Date, onDay(1, 0))
		}
	})

	t.Run("disabled behavior is a no-op", func(t *testing.T) {
		t.Parallel()
		events := []Event{event("e1", onDay(3, 9))}
		freezes := []Freeze{freezeEarned("f1", onDay(4, 0))}
		disabled := Config{EventsRequiredPerDay: 1, FreezeBehavior: FreezeBehaviorNone}
		plan, err := engine.PlanManualConsumption(events, freezes, disabled, testReference)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if plan != nil {
			t.Fatalf("plan = %v, want nil", plan)
		}
	})
}
