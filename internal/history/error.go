package history

import "errors"

// Error definitions for the history package.
var (
	// ErrNotFound is returned by Last when no run matches.
	ErrNotFound = errors.New("history entry not found")
)
