package entityregistry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/nerrad567/gray-logic-esphome/internal/entry"
	"github.com/nerrad567/gray-logic-esphome/internal/infrastructure/database"
)

// Entry is one registered entity.
type Entry struct {
	ID            string         `json:"id"`
	EntityID      string         `json:"entity_id"`
	ConfigEntryID string         `json:"config_entry_id"`
	Platform      entry.Platform `json:"platform"`
	Domain        string         `json:"domain"`
	UniqueID      string         `json:"unique_id"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Logger defines the logging interface used by the registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}

// SQLiteRegistry stores entries in the entity_registry table.
//
// Thread Safety: safe for concurrent use; the database serialises writers.
type SQLiteRegistry struct {
	db     *database.DB
	logger Logger
	now    func() time.Time
}

// NewSQLiteRegistry creates a registry on a migrated database.
func NewSQLiteRegistry(db *database.DB) *SQLiteRegistry {
	return &SQLiteRegistry{
		db:     db,
		logger: noopLogger{},
		now:    time.Now,
	}
}

// SetLogger sets the logger for the registry.
func (r *SQLiteRegistry) SetLogger(logger Logger) {
	r.logger = logger
}

const selectColumns = `id, entity_id, config_entry_id, platform, domain, unique_id, created_at, updated_at`

// Register adds an entity. If EntityID is empty one is derived from the
// platform and object id with a numeric suffix on collision.
func (r *SQLiteRegistry) Register(ctx context.Context, e Entry, objectID string) (*Entry, error) {
	if e.Platform == "" || e.Domain == "" || e.UniqueID == "" || e.ConfigEntryID == "" {
		return nil, ErrInvalid
	}

	if e.EntityID == "" {
		id, err := r.freeEntityID(ctx, e.Platform, objectID)
		if err != nil {
			return nil, err
		}
		e.EntityID = id
	}

	now := r.now().UTC()
	e.ID = uuid.NewString()
	e.CreatedAt = now
	e.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO entity_registry (`+selectColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.EntityID, e.ConfigEntryID, string(e.Platform), e.Domain, e.UniqueID,
		now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano),
	)
	if isConstraint(err) {
		return nil, fmt.Errorf("%w: %s", ErrExists, e.EntityID)
	}
	if err != nil {
		return nil, fmt.Errorf("inserting registry entry: %w", err)
	}

	r.logger.Info("entity registered", "entity_id", e.EntityID, "unique_id", e.UniqueID)
	return &e, nil
}

// freeEntityID returns "<platform>.<object_id>" or the first free variant
// with a "_2", "_3", ... suffix.
func (r *SQLiteRegistry) freeEntityID(ctx context.Context, platform entry.Platform, objectID string) (string, error) {
	base := string(platform) + "." + slugify(objectID)
	candidate := base
	for i := 2; ; i++ {
		_, err := r.GetByEntityID(ctx, candidate)
		if errors.Is(err, ErrNotFound) {
			return candidate, nil
		}
		if err != nil {
			return "", err
		}
		candidate = fmt.Sprintf("%s_%d", base, i)
	}
}

// GetByEntityID returns the entry with the given entity id.
func (r *SQLiteRegistry) GetByEntityID(ctx context.Context, entityID string) (*Entry, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+selectColumns+" FROM entity_registry WHERE entity_id = ?", entityID)
	return scanEntry(row)
}

// LookupEntityID implements entry.EntityRegistry.
func (r *SQLiteRegistry) LookupEntityID(ctx context.Context, platform entry.Platform, domain, uniqueID string) (string, bool, error) {
	var entityID string
	err := r.db.QueryRowContext(ctx,
		"SELECT entity_id FROM entity_registry WHERE platform = ? AND domain = ? AND unique_id = ?",
		string(platform), domain, uniqueID,
	).Scan(&entityID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("looking up entity: %w", err)
	}
	return entityID, true, nil
}

// UpdateUniqueID implements entry.EntityRegistry.
func (r *SQLiteRegistry) UpdateUniqueID(ctx context.Context, entityID, newUniqueID string) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE entity_registry SET unique_id = ?, updated_at = ? WHERE entity_id = ?",
		newUniqueID, r.now().UTC().Format(time.RFC3339Nano), entityID,
	)
	if isConstraint(err) {
		return fmt.Errorf("%w: unique id %s", ErrExists, newUniqueID)
	}
	if err != nil {
		return fmt.Errorf("updating unique id: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating unique id: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, entityID)
	}

	r.logger.Debug("unique id updated", "entity_id", entityID, "unique_id", newUniqueID)
	return nil
}

// ListByConfigEntry implements entry.EntityRegistry.
func (r *SQLiteRegistry) ListByConfigEntry(ctx context.Context, configEntryID string) ([]entry.RegistryEntry, error) {
	entries, err := r.List(ctx, configEntryID)
	if err != nil {
		return nil, err
	}
	out := make([]entry.RegistryEntry, len(entries))
	for i, e := range entries {
		out[i] = entry.RegistryEntry{
			EntityID:      e.EntityID,
			ConfigEntryID: e.ConfigEntryID,
			Platform:      e.Platform,
			Domain:        e.Domain,
			UniqueID:      e.UniqueID,
		}
	}
	return out, nil
}

// List returns the entries of a config entry ordered by entity id. An empty
// configEntryID lists every entry.
func (r *SQLiteRegistry) List(ctx context.Context, configEntryID string) ([]Entry, error) {
	query := "SELECT " + selectColumns + " FROM entity_registry"
	var args []any
	if configEntryID != "" {
		query += " WHERE config_entry_id = ?"
		args = append(args, configEntryID)
	}
	query += " ORDER BY entity_id"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing registry: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating registry: %w", err)
	}
	return out, nil
}

// Remove deletes the entry with the given entity id.
func (r *SQLiteRegistry) Remove(ctx context.Context, entityID string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM entity_registry WHERE entity_id = ?", entityID)
	if err != nil {
		return fmt.Errorf("removing registry entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 { //nolint:errcheck // sqlite always reports rows affected
		return fmt.Errorf("%w: %s", ErrNotFound, entityID)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (*Entry, error) {
	var e Entry
	var platform, created, updated string
	err := s.Scan(&e.ID, &e.EntityID, &e.ConfigEntryID, &platform, &e.Domain, &e.UniqueID, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning registry entry: %w", err)
	}
	e.Platform = entry.Platform(platform)
	e.CreatedAt, _ = time.Parse(time.RFC3339Nano, created) //nolint:errcheck // format is ours
	e.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated) //nolint:errcheck // format is ours
	return &e, nil
}

func isConstraint(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint
}

// slugify lower-cases s and replaces runs of other characters with "_".
func slugify(s string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		case !lastUnderscore && b.Len() > 0:
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	out := strings.TrimSuffix(b.String(), "_")
	if out == "" {
		return "unnamed"
	}
	return out
}
