package backend

import "errors"

// Error definitions for the backend package.
var (
	ErrNotFound          = errors.New("exporter not found in registry")
	ErrAlreadyRegistered = errors.New("exporter is already registered in the registry")

	// ErrCheckpointNotFound means the checkpoint reference could not be resolved.
	ErrCheckpointNotFound = errors.New("checkpoint not found")

	// ErrIncompatibleFormat means the checkpoint exists but is not loadable.
	ErrIncompatibleFormat = errors.New("incompatible checkpoint format")

	// ErrUnsupportedFormat means the requested export format is unknown.
	ErrUnsupportedFormat = errors.New("unsupported export format")

	// ErrUnsupportedOpset means the opset is invalid for the requested format.
	ErrUnsupportedOpset = errors.New("unsupported opset")
)
