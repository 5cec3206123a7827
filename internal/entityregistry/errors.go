package entityregistry

import "errors"

var (
	// ErrNotFound is returned when no registry entry matches.
	ErrNotFound = errors.New("entityregistry: entry not found")

	// ErrExists is returned when an entity id or unique id is already registered.
	ErrExists = errors.New("entityregistry: entry already exists")

	// ErrInvalid is returned for entries missing required fields.
	ErrInvalid = errors.New("entityregistry: invalid entry")
)
