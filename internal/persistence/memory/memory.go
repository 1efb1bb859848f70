// Package memory provides map-backed persistence stores. Tests and
// ephemeral deployments use it in place of the SQLite store.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/example/gamification-engine/internal/persistence"
)

type snapshotKey struct {
	userID   string
	groupKey string
	kind     persistence.SnapshotKind
}

type progressKey struct {
	userID   string
	groupKey string
	itemKey  string
}

// Store implements persistence.SnapshotStore and persistence.ProgressStore
// on in-process maps. It is safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	snapshots map[snapshotKey]persistence.SnapshotRecord
	progress  map[progressKey]persistence.ProgressRecord
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{
		snapshots: make(map[snapshotKey]persistence.SnapshotRecord),
		progress:  make(map[progressKey]persistence.ProgressRecord),
	}
}

// SaveSnapshot inserts or replaces the aggregate copy for one key.
func (s *Store) SaveSnapshot(_ context.Context, record persistence.SnapshotRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := snapshotKey{userID: record.UserID, groupKey: record.GroupKey, kind: record.Kind}
	s.snapshots[key] = cloneSnapshot(record)
	return nil
}

// GetSnapshot returns the stored aggregate copy for one key.
func (s *Store) GetSnapshot(_ context.Context, userID, groupKey string, kind persistence.SnapshotKind) (persistence.SnapshotRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.snapshots[snapshotKey{userID: userID, groupKey: groupKey, kind: kind}]
	if !ok {
		return persistence.SnapshotRecord{}, persistence.ErrNotFound
	}
	return cloneSnapshot(record), nil
}

// DeleteSnapshot removes the aggregate copy for one key. Other grouping
// keys and kinds sharing the store are untouched.
func (s *Store) DeleteSnapshot(_ context.Context, userID, groupKey string, kind persistence.SnapshotKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.snapshots, snapshotKey{userID: userID, groupKey: groupKey, kind: kind})
	return nil
}

// UpsertItem inserts or replaces one progress item, preserving the
// original creation date on replacement.
func (s *Store) UpsertItem(_ context.Context, record persistence.ProgressRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := progressKey{userID: record.UserID, groupKey: record.GroupKey, itemKey: record.ItemKey}
	if existing, ok := s.progress[key]; ok {
		record.DateCreated = existing.DateCreated
	}
	s.progress[key] = record
	return nil
}

// GetItem returns one progress item.
func (s *Store) GetItem(_ context.Context, userID, groupKey, itemKey string) (persistence.ProgressRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.progress[progressKey{userID: userID, groupKey: groupKey, itemKey: itemKey}]
	if !ok {
		return persistence.ProgressRecord{}, persistence.ErrNotFound
	}
	return record, nil
}

// ListItems returns every progress item for a user and grouping key,
// ordered by item key.
func (s *Store) ListItems(_ context.Context, userID, groupKey string) ([]persistence.ProgressRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var records []persistence.ProgressRecord
	for key, record := range s.progress {
		if key.userID == userID && key.groupKey == groupKey {
			records = append(records, record)
		}
	}

	sort.Slice(records, func(i, j int) bool { return records[i].ItemKey < records[j].ItemKey })
	return records, nil
}

// DeleteItem removes one progress item.
func (s *Store) DeleteItem(_ context.Context, userID, groupKey, itemKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := progressKey{userID: userID, groupKey: groupKey, itemKey: itemKey}
	if _, ok := s.progress[key]; !ok {
		return persistence.ErrNotFound
	}
	delete(s.progress, key)
	return nil
}

// DeleteItems removes every progress item for a user and grouping key.
func (s *Store) DeleteItems(_ context.Context, userID, groupKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key := range s.progress {
		if key.userID == userID && key.groupKey == groupKey {
			delete(s.progress, key)
		}
	}
	return nil
}

func cloneSnapshot(record persistence.SnapshotRecord) persistence.SnapshotRecord {
	payload := make([]byte, len(record.Payload))
	copy(payload, record.Payload)
	record.Payload = payload
	return record
}
