package credentials

import "errors"

// Common store errors
var (
	// ErrNotFound is returned when no usable record exists for the key.
	// Deactivated records are reported as not found on purpose: they must
	// never be handed out as usable.
	ErrNotFound = errors.New("credential not found")
)
