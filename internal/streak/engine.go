package streak

import (
	"errors"
	"sort"
	"time"
)

// ErrInvalidGoal indicates the per-day event goal is below 1.
var ErrInvalidGoal = errors.New("streak: events required per day must be at least 1")

// ErrInvalidLeeway indicates a negative leeway window.
var ErrInvalidLeeway = errors.New("streak: leeway hours must not be negative")

// ErrInvalidBehavior indicates an unknown freeze behavior value.
var ErrInvalidBehavior = errors.New("streak: unknown freeze behavior")

// Engine computes streak snapshots from a full event log. The engine is a
// pure planner: it never mutates its inputs and reports freeze consumption
// as a plan for the caller to persist.
type Engine struct {
	location *time.Location
}

// NewEngine constructs an Engine that buckets events into calendar days of
// the provided location. If loc is nil, UTC is used.
func NewEngine(loc *time.Location) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	return &Engine{location: loc}
}

// Calculate recomputes the snapshot for one grouping key.
//
// The walk-back semantics:
//   - Events are bucketed into calendar days of the engine's location; a
//     day qualifies when its event count meets the configured goal, or
//     when it holds a freeze event.
//   - The expected-day anchor is the reference day, shifted back one day
//     while the elapsed hours since local midnight are within the leeway
//     window. Leeway moves the anchor only: an event logged shortly after
//     midnight still counts toward its own calendar day, never the
//     previous one.
//   - A missing expected day leaves the streak at risk rather than broken
//     when the most recent qualifying day is exactly one day earlier and
//     either the reference instant still falls inside the expected day or
//     leeway is configured; the walk continues from that previous day.
//   - Any other gap is bridged by planning freeze consumption (earliest
//     earned first) when auto-consumption is enabled, and otherwise ends
//     the walk. The expected day itself is never bridged while the streak
//     has no head: it can still be completed.
//
// Repeated calls with identical inputs return identical results.
func (e *Engine) Calculate(events []Event, freezes []Freeze, cfg Config, reference time.Time) (Snapshot, []Consumption, error) {
	if err := validateConfig(cfg); err != nil {
		return Snapshot{}, nil, err
	}

	loc := e.location
	ref := reference.In(loc)
	refDay := dayNumber(ref, loc)

	counts, frozenDays, lastEvent := bucketEvents(events, loc)
	qualifying := qualifyingDays(counts, frozenDays, cfg.EventsRequiredPerDay)

	anchor := refDay
	elapsed := ref.Sub(startOfDay(ref, loc))
	if elapsed <= time.Duration(cfg.LeewayHours)*time.Hour {
		anchor--
	}
	atRiskAllowed := anchor == refDay || cfg.LeewayHours > 0

	available := availableFreezes(freezes, dayStart(refDay, loc))

	current := 0
	startDay := int64(0)
	cursor := anchor
	var consumptions []Consumption

walk:
	for _, day := range qualifying {
		switch {
		case day > cursor:
			// The reference day itself qualifies while leeway pulled the
			// anchor back; it still heads the streak.
			if current == 0 {
				current++
				startDay = day
				cursor = day - 1
			}
		case day == cursor:
			current++
			startDay = day
			cursor = day - 1
		default:
			gap := cursor - day
			if current == 0 && gap == 1 && atRiskAllowed {
				// Missing expected day with yesterday qualifying: at
				// risk, not yet broken.
				current++
				startDay = day
				cursor = day - 1
				continue
			}
			if cfg.FreezeBehavior != FreezeBehaviorAutoConsume {
				break walk
			}
			top := cursor
			if current == 0 {
				// The expected day can still be completed; only days
				// before it are bridged.
				top = cursor - 1
			}
			for missing := top; missing > day; missing-- {
				freeze, ok := takeFreeze(&available, dayStart(missing, loc))
				if !ok {
					break walk
				}
				consumptions = append(consumptions, Consumption{FreezeID: freeze.ID, Date: dayStart(missing, loc)})
				current++
				startDay = missing
			}
			current++
			startDay = day
			cursor = day - 1
		}
	}

	longest := longestRun(qualifying)
	if longest < current {
		longest = current
	}

	snapshot := Snapshot{
		CurrentStreak:     current,
		LongestStreak:     longest,
		LastEventDate:     lastEvent.Timestamp,
		LastEventTimezone: lastEvent.Timezone,
		TotalEvents:       len(events),
		FreezesRemaining:  countUsable(available, dayStart(refDay, loc)),
		TodayEventCount:   counts[refDay],
		RecentDays:        recentDays(qualifying, counts, loc),
	}
	if current > 0 {
		snapshot.StreakStartDate = dayStart(startDay, loc)
	}

	return snapshot, consumptions, nil
}

// PlanManualConsumption selects freezes, earliest earned first, for the
// gap between the last qualifying day and the leeway-adjusted expected
// day. The expected day itself is never part of the gap: it can still be
// completed. The plan is empty when there is no gap, no available freeze,
// or freeze behavior is disabled.
func (e *Engine) PlanManualConsumption(events []Event, freezes []Freeze, cfg Config, reference time.Time) ([]Consumption, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	if cfg.FreezeBehavior == FreezeBehaviorNone {
		return nil, nil
	}

	loc := e.location
	ref := reference.In(loc)

	counts, frozenDays, _ := bucketEvents(events, loc)
	qualifying := qualifyingDays(counts, frozenDays, cfg.EventsRequiredPerDay)
	if len(qualifying) == 0 {
		return nil, nil
	}
	last := qualifying[0]

	anchor := dayNumber(ref, loc)
	elapsed := ref.Sub(startOfDay(ref, loc))
	if elapsed <= time.Duration(cfg.LeewayHours)*time.Hour {
		anchor--
	}

	available := availableFreezes(freezes, dayStart(anchor, loc))

	var plan []Consumption
	for missing := anchor - 1; missing > last; missing-- {
		freeze, ok := takeFreeze(&available, dayStart(missing, loc))
		if !ok {
			break
		}
		plan = append(plan, Consumption{FreezeID: freeze.ID, Date: dayStart(missing, loc)})
	}
	return plan, nil
}

func validateConfig(cfg Config) error {
	if cfg.EventsRequiredPerDay < 1 {
		return ErrInvalidGoal
	}
	if cfg.LeewayHours < 0 {
		return ErrInvalidLeeway
	}
	switch cfg.FreezeBehavior {
	case FreezeBehaviorNone, FreezeBehaviorAutoConsume, FreezeBehaviorManualConsume:
		return nil
	default:
		return ErrInvalidBehavior
	}
}

// bucketEvents counts events per calendar day and tracks days covered by
// freeze events along with the most recent event overall.
func bucketEvents(events []Event, loc *time.Location) (map[int64]int, map[int64]bool, Event) {
	counts := make(map[int64]int, len(events))
	frozen := make(map[int64]bool)
	var last Event
	for _, event := range events {
		day := dayNumber(event.Timestamp, loc)
		counts[day]++
		if event.IsFreeze {
			frozen[day] = true
		}
		if last.ID == "" || event.Timestamp.After(last.Timestamp) {
			last = event
		}
	}
	return counts, frozen, last
}

// qualifyingDays returns day numbers meeting the goal, most recent first.
// Freeze-covered days always qualify regardless of the goal.
func qualifyingDays(counts map[int64]int, frozen map[int64]bool, goal int) []int64 {
	days := make([]int64, 0, len(counts))
	for day, count := range counts {
		if count >= goal || frozen[day] {
			days = append(days, day)
		}
	}
	sort.Slice(days, func(i, j int) bool { return days[i] > days[j] })
	return days
}

// availableFreezes filters out used and already-expired freezes and orders
// the rest FIFO by earned date.
func availableFreezes(freezes []Freeze, reference time.Time) []Freeze {
	usable := make([]Freeze, 0, len(freezes))
	for _, freeze := range freezes {
		if freeze.Available(reference) {
			usable = append(usable, freeze)
		}
	}
	sort.Slice(usable, func(i, j int) bool {
		if usable[i].EarnedDate.Equal(usable[j].EarnedDate) {
			return usable[i].ID < usable[j].ID
		}
		return usable[i].EarnedDate.Before(usable[j].EarnedDate)
	})
	return usable
}

// takeFreeze pops the earliest-earned freeze usable for the given date.
func takeFreeze(available *[]Freeze, date time.Time) (Freeze, bool) {
	for i, freeze := range *available {
		if freeze.Available(date) {
			taken := freeze
			*available = append(append([]Freeze{}, (*available)[:i]...), (*available)[i+1:]...)
			return taken, true
		}
	}
	return Freeze{}, false
}

func countUsable(freezes []Freeze, reference time.Time) int {
	count := 0
	for _, freeze := range freezes {
		if freeze.Available(reference) {
			count++
		}
	}
	return count
}

// longestRun finds the longest run of consecutive qualifying days.
func longestRun(daysDescending []int64) int {
	if len(daysDescending) == 0 {
		return 0
	}
	ascending := make([]int64, len(daysDescending))
	copy(ascending, daysDescending)
	sort.Slice(ascending, func(i, j int) bool { return ascending[i] < ascending[j] })

	longest, run := 1, 1
	for i := 1; i < len(ascending); i++ {
		if ascending[i] == ascending[i-1]+1 {
			run++
		} else {
			run = 1
		}
		if run > longest {
			longest = run
		}
	}
	return longest
}

func recentDays(daysDescending []int64, counts map[int64]int, loc *time.Location) []DayCount {
	limit := len(daysDescending)
	if limit > RecentDayWindow {
		limit = RecentDayWindow
	}
	recent := make([]DayCount, 0, limit)
	for i := limit - 1; i >= 0; i-- {
		day := daysDescending[i]
		recent = append(recent, DayCount{Date: dayStart(day, loc), Events: counts[day]})
	}
	return recent
}

// dayNumber converts an instant to its civil day ordinal in the location.
// Using the civil date avoids DST-length days skewing gap arithmetic.
func dayNumber(t time.Time, loc *time.Location) int64 {
	year, month, day := t.In(loc).Date()
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC).Unix() / 86400
}

// dayStart converts a civil day ordinal back to local midnight.
func dayStart(day int64, loc *time.Location) time.Time {
	utcMidnight := time.Unix(day*86400, 0).UTC()
	year, month, d := utcMidnight.Date()
	return time.Date(year, month, d, 0, 0, 0, 0, loc)
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	year, month, day := t.In(loc).Date()
	return time.Date(year, month, day, 0, 0, 0, 0, loc)
}
