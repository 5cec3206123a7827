package storage

import (
	"errors"

	"github.com/nerrad567/gray-logic-esphome/internal/entry"
)

var (
	// ErrNotFound is returned by Load when no snapshot exists for a key.
	ErrNotFound = entry.ErrStoreNotFound

	// ErrInvalidKey is returned for keys that are empty or unsafe as file names.
	ErrInvalidKey = errors.New("storage: invalid key")
)
