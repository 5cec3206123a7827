package entry

import "errors"

// Domain errors for the entry package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, entry.ErrCallbackFailed) {
//	    // a consumer callback misbehaved
//	}
var (
	// ErrUnknownEntityType is returned when a component type marker is not recognised.
	ErrUnknownEntityType = errors.New("entry: unknown entity type")

	// ErrCallbackFailed wraps an error or panic raised by a consumer callback.
	ErrCallbackFailed = errors.New("entry: consumer callback failed")

	// ErrDuplicateSubscription is logged when a state subscription replaces an
	// active one for the same key without unsubscribing first.
	ErrDuplicateSubscription = errors.New("entry: state subscription already active")

	// ErrNoDeviceInfo is returned when an operation needs device info that has
	// not been received or restored yet.
	ErrNoDeviceInfo = errors.New("entry: device info not available")

	// ErrPlatformLoad is returned when the platform loader fails.
	ErrPlatformLoad = errors.New("entry: platform load failed")
)
