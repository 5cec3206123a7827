// Package storage provides stable storage for entry snapshots.
//
// Two backends implement entry.Store:
//
//   - SQLiteStore keeps one row per entry in the service database.
//   - FileStore keeps one JSON file per entry, written atomically.
//
// Both return ErrNotFound (which matches entry.ErrStoreNotFound) when
// nothing has been saved for a key.
package storage
