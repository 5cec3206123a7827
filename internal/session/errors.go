package session

import "errors"

// Domain errors for the session package.
var (
	// ErrInboxFull is returned when a message arrives faster than the inbox
	// is drained. The message is dropped.
	ErrInboxFull = errors.New("session: inbox full")

	// ErrUnknownKind is returned for a device topic leaf the session does not handle.
	ErrUnknownKind = errors.New("session: unknown message kind")

	// ErrInvalidPayload is returned when a message cannot be decoded.
	ErrInvalidPayload = errors.New("session: invalid payload")

	// ErrAlreadyStarted is returned by Start on a running session.
	ErrAlreadyStarted = errors.New("session: already started")
)
