// Package testfixtures provides deterministic builders shared by tests:
// a controllable clock, a sequential identifier generator, and fixture
// constructors for the event and item types.
package testfixtures

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/example/gamification-engine/internal/experience"
	"github.com/example/gamification-engine/internal/progress"
	"github.com/example/gamification-engine/internal/streak"
)

var (
	streakEventCounter     uint64
	freezeCounter          uint64
	experienceEventCounter uint64
	progressItemCounter    uint64
)

var referenceTime = time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

// ReferenceTime returns the canonical baseline timestamp used by fixtures.
func ReferenceTime() time.Time {
	return referenceTime
}

// ----------------------------- Streak fixtures -----------------------------

// StreakEventOption configures a generated streak event.
type StreakEventOption func(*streak.Event)

// NewStreakEvent returns a deterministic streak event with optional
// overrides. Each call yields a distinct identifier and timestamp.
func NewStreakEvent(opts ...StreakEventOption) streak.Event {
	idx := atomic.AddUint64(&streakEventCounter, 1)
	event := streak.Event{
		ID:        fmt.Sprintf("streak-event-%03d", idx),
		Timestamp: referenceTime.Add(time.Duration(idx) * time.Second),
		Timezone:  "UTC",
	}
	for _, opt := range opts {
		opt(&event)
	}
	return event
}

// WithEventTimestamp overrides the generated timestamp.
func WithEventTimestamp(at time.Time) StreakEventOption {
	return func(e *streak.Event) {
		e.Timestamp = at
	}
}

// WithEventDaysAgo places the event at the given hour on the day the
// given number of days before the reference time.
func WithEventDaysAgo(days, hour int) StreakEventOption {
	return func(e *streak.Event) {
		day := referenceTime.AddDate(0, 0, -days)
		e.Timestamp = time.Date(day.Year(), day.Month(), day.Day(), hour, 0, 0, 0, time.UTC)
	}
}

// WithEventMetadata overrides the event metadata.
func WithEventMetadata(metadata map[string]any) StreakEventOption {
	return func(e *streak.Event) {
		e.Metadata = metadata
	}
}

// FreezeOption configures a generated freeze.
type FreezeOption func(*streak.Freeze)

// NewFreeze returns a deterministic freeze earned well before the
// reference time, with optional overrides.
func NewFreeze(opts ...FreezeOption) streak.Freeze {
	idx := atomic.AddUint64(&freezeCounter, 1)
	freeze := streak.Freeze{
		ID:         fmt.Sprintf("freeze-%03d", idx),
		EarnedDate: referenceTime.AddDate(0, 0, -30).Add(time.Duration(idx) * time.Minute),
	}
	for _, opt := range opts {
		opt(&freeze)
	}
	return freeze
}

// WithFreezeEarned overrides the earned date.
func WithFreezeEarned(at time.Time) FreezeOption {
	return func(f *streak.Freeze) {
		f.EarnedDate = at
	}
}

// WithFreezeUsed marks the freeze consumed at the given date.
func WithFreezeUsed(at time.Time) FreezeOption {
	return func(f *streak.Freeze) {
		f.UsedDate = &at
	}
}

// WithFreezeExpiry sets the expiry date.
func WithFreezeExpiry(at time.Time) FreezeOption {
	return func(f *streak.Freeze) {
		f.ExpiresDate = &at
	}
}

// --------------------------- Experience fixtures ---------------------------

// ExperienceEventOption configures a generated experience event.
type ExperienceEventOption func(*experience.Event)

// NewExperienceEvent returns a deterministic experience event worth ten
// points, with optional overrides.
func NewExperienceEvent(opts ...ExperienceEventOption) experience.Event {
	idx := atomic.AddUint64(&experienceEventCounter, 1)
	event := experience.Event{
		ID:        fmt.Sprintf("xp-event-%03d", idx),
		Timestamp: referenceTime.Add(time.Duration(idx) * time.Second),
		Points:    10,
	}
	for _, opt := range opts {
		opt(&event)
	}
	return event
}

// WithPoints overrides the point value.
func WithPoints(points int) ExperienceEventOption {
	return func(e *experience.Event) {
		e.Points = points
	}
}

// WithXPTimestamp overrides the generated timestamp.
func WithXPTimestamp(at time.Time) ExperienceEventOption {
	return func(e *experience.Event) {
		e.Timestamp = at
	}
}

// ---------------------------- Progress fixtures ----------------------------

// ProgressItemOption configures a generated progress item.
type ProgressItemOption func(*progress.Item)

// NewProgressItem returns a deterministic progress item at half progress,
// with optional overrides.
func NewProgressItem(opts ...ProgressItemOption) progress.Item {
	idx := atomic.AddUint64(&progressItemCounter, 1)
	key := fmt.Sprintf("item_%03d", idx)
	item := progress.Item{
		ID:           key,
		Key:          key,
		RawID:        key,
		Value:        0.5,
		DateCreated:  referenceTime.AddDate(0, 0, -7),
		DateModified: referenceTime.Add(time.Duration(idx) * time.Minute),
	}
	for _, opt := range opts {
		opt(&item)
	}
	return item
}

// WithItemKey overrides the sanitized key, raw identifier, and ID.
func WithItemKey(key string) ProgressItemOption {
	return func(i *progress.Item) {
		i.ID = key
		i.Key = key
		i.RawID = key
	}
}

// WithItemValue overrides the progress value.
func WithItemValue(value float64) ProgressItemOption {
	return func(i *progress.Item) {
		i.Value = value
	}
}
