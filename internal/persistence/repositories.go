package persistence

import "context"

// SnapshotStore keeps the latest durable copy of each aggregate so reads
// survive restarts while offline.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, record SnapshotRecord) error
	GetSnapshot(ctx context.Context, userID, groupKey string, kind SnapshotKind) (SnapshotRecord, error)
	DeleteSnapshot(ctx context.Context, userID, groupKey string, kind SnapshotKind) error
}

// ProgressStore keeps durable progress items per user and grouping key.
type ProgressStore interface {
	UpsertItem(ctx context.Context, record ProgressRecord) error
	GetItem(ctx context.Context, userID, groupKey, itemKey string) (ProgressRecord, error)
	ListItems(ctx context.Context, userID, groupKey string) ([]ProgressRecord, error)
	DeleteItem(ctx context.Context, userID, groupKey, itemKey string) error
	DeleteItems(ctx context.Context, userID, groupKey string) error
}
