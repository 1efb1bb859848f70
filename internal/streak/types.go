package streak

import "time"

// FreezeBehavior controls how missing days interact with earned freezes.
type FreezeBehavior int

const (
	// FreezeBehaviorNone disables freeze consumption entirely.
	FreezeBehaviorNone FreezeBehavior = iota
	// FreezeBehaviorAutoConsume bridges gaps during calculation by
	// planning consumption of available freezes, earliest earned first.
	FreezeBehaviorAutoConsume
	// FreezeBehaviorManualConsume only consumes freezes on explicit
	// request via PlanManualConsumption.
	FreezeBehaviorManualConsume
)

// Event is one immutable entry in a streak event log.
type Event struct {
	ID        string
	Timestamp time.Time
	// Timezone is the IANA identifier the event was recorded under. It is
	// surfaced on the snapshot; day bucketing always uses the engine's
	// configured location.
	Timezone string
	// IsFreeze marks a synthesized event standing in for a bridged day.
	IsFreeze bool
	FreezeID string
	Metadata map[string]any
}

// Freeze is a consumable token that substitutes for a missing day.
type Freeze struct {
	ID          string
	EarnedDate  time.Time
	UsedDate    *time.Time
	ExpiresDate *time.Time
}

// Available reports whether the freeze can still cover the given date.
func (f Freeze) Available(date time.Time) bool {
	if f.UsedDate != nil {
		return false
	}
	if f.ExpiresDate != nil && f.ExpiresDate.Before(date) {
		return false
	}
	return true
}

// Config tunes the calculation for one grouping key.
type Config struct {
	// EventsRequiredPerDay is the per-day goal; a day qualifies only when
	// its event count meets this threshold. Must be at least 1.
	EventsRequiredPerDay int
	// LeewayHours extends the previous day's deadline past midnight.
	LeewayHours    int
	FreezeBehavior FreezeBehavior
}

// DayCount pairs a calendar day with the number of events recorded on it.
type DayCount struct {
	Date   time.Time
	Events int
}

// Consumption records one planned freeze use for a specific missing day.
// The engine only plans; the caller persists freeze state and synthesizes
// the corresponding freeze event.
type Consumption struct {
	FreezeID string
	Date     time.Time
}

// Snapshot is the derived aggregate for one grouping key. Snapshots are
// recreated wholesale on every calculation and never mutated in place.
type Snapshot struct {
	CurrentStreak     int
	LongestStreak     int
	LastEventDate     time.Time
	LastEventTimezone string
	StreakStartDate   time.Time
	TotalEvents       int
	FreezesRemaining  int
	TodayEventCount   int
	// RecentDays holds the most recent qualifying days in ascending
	// order, bounded by RecentDayWindow.
	RecentDays []DayCount
}

// RecentDayWindow bounds the qualifying-day history kept on a snapshot.
const RecentDayWindow = 60
