package platform

import "errors"

var (
	// ErrNoTypes is returned when a platform has no entity types and no
	// handler of its own.
	ErrNoTypes = errors.New("platform: no entity types for platform")

	// ErrEntryClosed is returned when loading into an entry that was unloaded.
	ErrEntryClosed = errors.New("platform: entry unloaded")
)
