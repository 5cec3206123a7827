package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-esphome/internal/infrastructure/database"
)

// schemaVersion is written with every row so the layout can evolve.
const schemaVersion = 1

// SQLiteStore stores snapshots in the entry_storage table.
type SQLiteStore struct {
	db *database.DB
}

// NewSQLiteStore creates a store on a migrated database.
func NewSQLiteStore(db *database.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Load returns the snapshot saved for key.
func (s *SQLiteStore) Load(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, ErrInvalidKey
	}

	var data string
	err := s.db.QueryRowContext(ctx,
		"SELECT data FROM entry_storage WHERE entry_id = ?", key,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying entry storage: %w", err)
	}
	return []byte(data), nil
}

// Save replaces the snapshot for key.
func (s *SQLiteStore) Save(ctx context.Context, key string, data []byte) error {
	if key == "" {
		return ErrInvalidKey
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entry_storage (entry_id, version, data, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(entry_id) DO UPDATE SET
			version = excluded.version,
			data = excluded.data,
			updated_at = excluded.updated_at`,
		key, schemaVersion, string(data), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("saving entry storage: %w", err)
	}
	return nil
}

// Delete removes the snapshot for key. Deleting a missing key is not an error.
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM entry_storage WHERE entry_id = ?", key); err != nil {
		return fmt.Errorf("deleting entry storage: %w", err)
	}
	return nil
}

// Keys returns every stored key in order.
func (s *SQLiteStore) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT entry_id FROM entry_storage ORDER BY entry_id")
	if err != nil {
		return nil, fmt.Errorf("listing entry storage: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scanning entry storage: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
