// Package sqlite implements the persistence stores on an embedded SQLite
// database. It is the durable local cache that keeps reads available
// across restarts while offline.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/example/gamification-engine/internal/persistence"
)

// Store implements persistence.SnapshotStore and persistence.ProgressStore.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at the given DSN.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", dsn, err)
	}
	// modernc.org/sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent managers.
	db.SetMaxOpenConns(1)
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate creates the schema when missing.
func (s *Store) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS snapshots (
			user_id    TEXT NOT NULL,
			group_key  TEXT NOT NULL,
			kind       TEXT NOT NULL,
			payload    BLOB NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (user_id, group_key, kind)
		)`,
		`CREATE TABLE IF NOT EXISTS progress_items (
			user_id       TEXT NOT NULL,
			group_key     TEXT NOT NULL,
			item_key      TEXT NOT NULL,
			raw_id        TEXT NOT NULL,
			value         REAL NOT NULL,
			date_created  TEXT NOT NULL,
			date_modified TEXT NOT NULL,
			PRIMARY KEY (user_id, group_key, item_key)
		)`,
	}

	for _, statement := range statements {
		if _, err := s.db.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("sqlite: migrate: %w", err)
		}
	}
	return nil
}

// SaveSnapshot inserts or replaces the aggregate copy for one key.
func (s *Store) SaveSnapshot(ctx context.Context, record persistence.SnapshotRecord) error {
	query := `
		INSERT INTO snapshots (user_id, group_key, kind, payload, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id, group_key, kind)
		DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		record.UserID,
		record.GroupKey,
		string(record.Kind),
		record.Payload,
		record.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("sqlite: save snapshot: %w", err)
	}
	return nil
}

// GetSnapshot returns the stored aggregate copy for one key.
func (s *Store) GetSnapshot(ctx context.Context, userID, groupKey string, kind persistence.SnapshotKind) (persistence.SnapshotRecord, error) {
	query := `
		SELECT payload, updated_at
		FROM snapshots
		WHERE user_id = ? AND group_key = ? AND kind = ?
	`

	record := persistence.SnapshotRecord{UserID: userID, GroupKey: groupKey, Kind: kind}
	var updatedAt string

	err := s.db.QueryRowContext(ctx, query, userID, groupKey, string(kind)).Scan(&record.Payload, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return persistence.SnapshotRecord{}, persistence.ErrNotFound
		}
		return persistence.SnapshotRecord{}, fmt.Errorf("sqlite: get snapshot: %w", err)
	}

	if record.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return persistence.SnapshotRecord{}, fmt.Errorf("sqlite: parse updated_at: %w", err)
	}
	return record, nil
}

// DeleteSnapshot removes the aggregate copy for one key. Other grouping
// keys and kinds sharing the store are untouched.
func (s *Store) DeleteSnapshot(ctx context.Context, userID, groupKey string, kind persistence.SnapshotKind) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE user_id = ? AND group_key = ? AND kind = ?`, userID, groupKey, string(kind)); err != nil {
		return fmt.Errorf("sqlite: delete snapshot: %w", err)
	}
	return nil
}

// UpsertItem inserts or replaces one progress item.
func (s *Store) UpsertItem(ctx context.Context, record persistence.ProgressRecord) error {
	query := `
		INSERT INTO progress_items (user_id, group_key, item_key, raw_id, value, date_created, date_modified)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, group_key, item_key)
		DO UPDATE SET raw_id = excluded.raw_id, value = excluded.value, date_modified = excluded.date_modified
	`

	_, err := s.db.ExecContext(ctx, query,
		record.UserID,
		record.GroupKey,
		record.ItemKey,
		record.RawID,
		record.Value,
		record.DateCreated.UTC().Format(time.RFC3339Nano),
		record.DateModified.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("sqlite: upsert progress item: %w", err)
	}
	return nil
}

// GetItem returns one progress item.
func (s *Store) GetItem(ctx context.Context, userID, groupKey, itemKey string) (persistence.ProgressRecord, error) {
	query := `
		SELECT raw_id, value, date_created, date_modified
		FROM progress_items
		WHERE user_id = ? AND group_key = ? AND item_key = ?
	`

	record := persistence.ProgressRecord{UserID: userID, GroupKey: groupKey, ItemKey: itemKey}
	var created, modified string

	err := s.db.QueryRowContext(ctx, query, userID, groupKey, itemKey).Scan(&record.RawID, &record.Value, &created, &modified)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return persistence.ProgressRecord{}, persistence.ErrNotFound
		}
		return persistence.ProgressRecord{}, fmt.Errorf("sqlite: get progress item: %w", err)
	}

	if record.DateCreated, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return persistence.ProgressRecord{}, fmt.Errorf("sqlite: parse date_created: %w", err)
	}
	if record.DateModified, err = time.Parse(time.RFC3339Nano, modified); err != nil {
		return persistence.ProgressRecord{}, fmt.Errorf("sqlite: parse date_modified: %w", err)
	}
	return record, nil
}

// ListItems returns every progress item for a user and grouping key,
// ordered by item key.
func (s *Store) ListItems(ctx context.Context, userID, groupKey string) ([]persistence.ProgressRecord, error) {
	query := `
		SELECT item_key, raw_id, value, date_created, date_modified
		FROM progress_items
		WHERE user_id = ? AND group_key = ?
		ORDER BY item_key ASC
	`

	rows, err := s.db.QueryContext(ctx, query, userID, groupKey)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list progress items: %w", err)
	}
	defer rows.Close()

	var records []persistence.ProgressRecord
	for rows.Next() {
		record := persistence.ProgressRecord{UserID: userID, GroupKey: groupKey}
		var created, modified string

		if err := rows.Scan(&record.ItemKey, &record.RawID, &record.Value, &created, &modified); err != nil {
			return nil, fmt.Errorf("sqlite: scan progress item: %w", err)
		}
		if record.DateCreated, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, fmt.Errorf("sqlite: parse date_created: %w", err)
		}
		if record.DateModified, err = time.Parse(time.RFC3339Nano, modified); err != nil {
			return nil, fmt.Errorf("sqlite: parse date_modified: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list progress items: %w", err)
	}
	return records, nil
}

// DeleteItem removes one progress item.
func (s *Store) DeleteItem(ctx context.Context, userID, groupKey, itemKey string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM progress_items WHERE user_id = ? AND group_key = ? AND item_key = ?`, userID, groupKey, itemKey)
	if err != nil {
		return fmt.Errorf("sqlite: delete progress item: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: rows affected: %w", err)
	}
	if affected == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

// DeleteItems removes every progress item for a user and grouping key.
func (s *Store) DeleteItems(ctx context.Context, userID, groupKey string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM progress_items WHERE user_id = ? AND group_key = ?`, userID, groupKey); err != nil {
		return fmt.Errorf("sqlite: delete progress items: %w", err)
	}
	return nil
}
