// Package remote defines the contracts the sync layer uses to talk to the
// backing store shared across a user's devices. Implementations may be
// network clients or in-process services; all blocking calls take a
// context and report failures as errors.
package remote

import (
	"context"
	"errors"
	"time"

	"github.com/example/gamification-engine/internal/experience"
	"github.com/example/gamification-engine/internal/progress"
	"github.com/example/gamification-engine/internal/streak"
)

// ErrNotFound is returned when the remote store has no record for the
// requested key.
var ErrNotFound = errors.New("remote: not found")

// StreakRemote is the remote surface for one user's streak series.
//
// StreamSnapshots delivers authoritative snapshots until the context is
// cancelled; the returned channel is closed on cancellation.
type StreakRemote interface {
	FetchEvents(ctx context.Context, userID, groupKey string) ([]streak.Event, error)
	FetchFreezes(ctx context.Context, userID, groupKey string) ([]streak.Freeze, error)
	FetchSnapshot(ctx context.Context, userID, groupKey string) (streak.Snapshot, error)
	AppendEvent(ctx context.Context, userID, groupKey string, event streak.Event) error
	AddFreeze(ctx context.Context, userID, groupKey string, freeze streak.Freeze) error
	MarkFreezeUsed(ctx context.Context, userID, groupKey, freezeID string, usedDate time.Time) error
	UpsertSnapshot(ctx context.Context, userID, groupKey string, snapshot streak.Snapshot) error
	RequestRecomputation(ctx context.Context, userID, groupKey string) error
	DeleteAll(ctx context.Context, userID, groupKey string) error
	StreamSnapshots(ctx context.Context, userID, groupKey string) (<-chan streak.Snapshot, error)
}

// ExperienceRemote is the remote surface for one user's experience series.
type ExperienceRemote interface {
	FetchEvents(ctx context.Context, userID, groupKey string) ([]experience.Event, error)
	FetchSnapshot(ctx context.Context, userID, groupKey string) (experience.Snapshot, error)
	AppendEvent(ctx context.Context, userID, groupKey string, event experience.Event) error
	UpsertSnapshot(ctx context.Context, userID, groupKey string, snapshot experience.Snapshot) error
	RequestRecomputation(ctx context.Context, userID, groupKey string) error
	DeleteAll(ctx context.Context, userID, groupKey string) error
	StreamSnapshots(ctx context.Context, userID, groupKey string) (<-chan experience.Snapshot, error)
}

// ProgressRemote is the remote surface for one user's progress items.
//
// StreamItems delivers value updates and deletions on two independent
// channels so deletion semantics stay decoupled from update semantics.
// Both channels are closed when the context is cancelled.
type ProgressRemote interface {
	FetchItems(ctx context.Context, userID, groupKey string) ([]progress.Item, error)
	UpsertItem(ctx context.Context, userID, groupKey string, item progress.Item) error
	DeleteItem(ctx context.Context, userID, groupKey, itemKey string) error
	DeleteAll(ctx context.Context, userID, groupKey string) error
	StreamItems(ctx context.Context, userID, groupKey string) (<-chan progress.Item, <-chan string, error)
}
