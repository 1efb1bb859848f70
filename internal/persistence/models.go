package persistence

import "time"

// SnapshotKind distinguishes the aggregate families sharing one table.
type SnapshotKind string

const (
	SnapshotKindStreak     SnapshotKind = "streak"
	SnapshotKindExperience SnapshotKind = "experience"
)

// SnapshotRecord is one durable aggregate copy, keyed by user, grouping
// key, and kind. Payload carries the serialized snapshot; the sync layer
// owns its shape.
type SnapshotRecord struct {
	UserID    string
	GroupKey  string
	Kind      SnapshotKind
	Payload   []byte
	UpdatedAt time.Time
}

// ProgressRecord is one durable progress item. ItemKey is the sanitized
// identifier; RawID preserves the identifier as the caller supplied it.
type ProgressRecord struct {
	UserID       string
	GroupKey     string
	ItemKey      string
	RawID        string
	Value        float64
	DateCreated  time.Time
	DateModified time.Time
}
