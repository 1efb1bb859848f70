package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/gamification-engine/internal/persistence"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func TestSnapshotRoundTrip(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()

	record := persistence.SnapshotRecord{
		UserID:    "user-1",
		GroupKey:  "workout",
		Kind:      persistence.SnapshotKindStreak,
		Payload:   []byte(`{"currentStreak":3}`),
		UpdatedAt: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
	}
	if err := store.SaveSnapshot(ctx, record); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := store.GetSnapshot(ctx, "user-1", "workout", persistence.SnapshotKindStreak)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got.Payload) != string(record.Payload) {
		t.Fatalf("payload = %s, want %s", got.Payload, record.Payload)
	}
	if !got.UpdatedAt.Equal(record.UpdatedAt) {
		t.Fatalf("updated at = %v, want %v", got.UpdatedAt, record.UpdatedAt)
	}
}

func TestSaveSnapshotReplacesExisting(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()

	first := persistence.SnapshotRecord{
		UserID:    "user-1",
		GroupKey:  "workout",
		Kind:      persistence.SnapshotKindExperience,
		Payload:   []byte(`{"totalPoints":10}`),
		UpdatedAt: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
	}
	if err := store.SaveSnapshot(ctx, first); err != nil {
		t.Fatalf("save first: %v", err)
	}

	second := first
	second.Payload = []byte(`{"totalPoints":20}`)
	second.UpdatedAt = first.UpdatedAt.Add(time.Minute)
	if err := store.SaveSnapshot(ctx, second); err != nil {
		t.Fatalf("save second: %v", err)
	}

	got, err := store.GetSnapshot(ctx, "user-1", "workout", persistence.SnapshotKindExperience)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got.Payload) != string(second.Payload) {
		t.Fatalf("payload = %s, want %s", got.Payload, second.Payload)
	}
}

func TestGetSnapshotMissing(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)

	_, err := store.GetSnapshot(context.Background(), "user-1", "workout", persistence.SnapshotKindStreak)
	if !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("error = %v, want %v", err, persistence.ErrNotFound)
	}
}

func TestDeleteSnapshotScopedToKey(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()

	seeds := []struct {
		userID   string
		groupKey string
		kind     persistence.SnapshotKind
	}{
		{"user-1", "workout", persistence.SnapshotKindStreak},
		{"user-1", "reading", persistence.SnapshotKindStreak},
		{"user-1", "workout", persistence.SnapshotKindExperience},
		{"user-2", "workout", persistence.SnapshotKindStreak},
	}
	for _, seed := range seeds {
		record := persistence.SnapshotRecord{
			UserID:    seed.userID,
			GroupKey:  seed.groupKey,
			Kind:      seed.kind,
			Payload:   []byte(`{}`),
			UpdatedAt: time.Now().UTC(),
		}
		if err := store.SaveSnapshot(ctx, record); err != nil {
			t.Fatalf("save %s/%s/%s: %v", seed.userID, seed.groupKey, seed.kind, err)
		}
	}

	if err := store.DeleteSnapshot(ctx, "user-1", "workout", persistence.SnapshotKindStreak); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if _, err := store.GetSnapshot(ctx, "user-1", "workout", persistence.SnapshotKindStreak); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("deleted snapshot error = %v, want %v", err, persistence.ErrNotFound)
	}
	for _, seed := range seeds[1:] {
		if _, err := store.GetSnapshot(ctx, seed.userID, seed.groupKey, seed.kind); err != nil {
			t.Fatalf("%s/%s/%s should survive, got %v", seed.userID, seed.groupKey, seed.kind, err)
		}
	}
}

func TestProgressItemRoundTrip(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()

	record := persistence.ProgressRecord{
		UserID:       "user-1",
		GroupKey:     "course",
		ItemKey:      "chapter_1",
		RawID:        "Chapter 1",
		Value:        0.25,
		DateCreated:  time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
		DateModified: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
	}
	if err := store.UpsertItem(ctx, record); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := store.GetItem(ctx, "user-1", "course", "chapter_1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Value != 0.25 || got.RawID != "Chapter 1" {
		t.Fatalf("got %+v, want value 0.25 raw id Chapter 1", got)
	}
	if !got.DateCreated.Equal(record.DateCreated) || !got.DateModified.Equal(record.DateModified) {
		t.Fatalf("timestamps = %v/%v, want %v/%v", got.DateCreated, got.DateModified, record.DateCreated, record.DateModified)
	}
}

func TestUpsertItemUpdatesValueInPlace(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()

	created := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	record := persistence.ProgressRecord{
		UserID:       "user-1",
		GroupKey:     "course",
		ItemKey:      "chapter_1",
		RawID:        "Chapter 1",
		Value:        0.25,
		DateCreated:  created,
		DateModified: created,
	}
	if err := store.UpsertItem(ctx, record); err != nil {
		t.Fatalf("upsert first: %v", err)
	}

	record.Value = 0.5
	record.DateModified = created.Add(48 * time.Hour)
	if err := store.UpsertItem(ctx, record); err != nil {
		t.Fatalf("upsert second: %v", err)
	}

	got, err := store.GetItem(ctx, "user-1", "course", "chapter_1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Value != 0.5 {
		t.Fatalf("value = %v, want 0.5", got.Value)
	}
	if !got.DateCreated.Equal(created) {
		t.Fatalf("date created = %v, want original %v", got.DateCreated, created)
	}
	if !got.DateModified.Equal(record.DateModified) {
		t.Fatalf("date modified = %v, want %v", got.DateModified, record.DateModified)
	}
}

func TestListItemsOrderedByKey(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	for _, key := range []string{"beta", "alpha", "gamma"} {
		record := persistence.ProgressRecord{
			UserID:       "user-1",
			GroupKey:     "course",
			ItemKey:      key,
			RawID:        key,
			Value:        0.1,
			DateCreated:  now,
			DateModified: now,
		}
		if err := store.UpsertItem(ctx, record); err != nil {
			t.Fatalf("upsert %s: %v", key, err)
		}
	}

	items, err := store.ListItems(ctx, "user-1", "course")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("len = %d, want 3", len(items))
	}
	for i, want := range []string{"alpha", "beta", "gamma"} {
		if items[i].ItemKey != want {
			t.Fatalf("items[%d].ItemKey = %q, want %q", i, items[i].ItemKey, want)
		}
	}
}

func TestDeleteItem(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	record := persistence.ProgressRecord{
		UserID:       "user-1",
		GroupKey:     "course",
		ItemKey:      "chapter_1",
		RawID:        "chapter_1",
		Value:        0.5,
		DateCreated:  now,
		DateModified: now,
	}
	if err := store.UpsertItem(ctx, record); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	if err := store.DeleteItem(ctx, "user-1", "course", "chapter_1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.DeleteItem(ctx, "user-1", "course", "chapter_1"); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("second delete error = %v, want %v", err, persistence.ErrNotFound)
	}
}

func TestDeleteItemsScopedToGroupKey(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	for _, groupKey := range []string{"course", "music"} {
		record := persistence.ProgressRecord{
			UserID:       "user-1",
			GroupKey:     groupKey,
			ItemKey:      "chapter_1",
			RawID:        "chapter_1",
			Value:        0.5,
			DateCreated:  now,
			DateModified: now,
		}
		if err := store.UpsertItem(ctx, record); err != nil {
			t.Fatalf("upsert %s: %v", groupKey, err)
		}
	}

	if err := store.DeleteItems(ctx, "user-1", "course"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if _, err := store.GetItem(ctx, "user-1", "course", "chapter_1"); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("course item error = %v, want %v", err, persistence.ErrNotFound)
	}
	if _, err := store.GetItem(ctx, "user-1", "music", "chapter_1"); err != nil {
		t.Fatalf("music item should survive, got %v", err)
	}
}
