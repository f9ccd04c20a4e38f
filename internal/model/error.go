package model

import "errors"

// ErrNotFound is returned when a checkpoint reference cannot be resolved.
var ErrNotFound = errors.New("checkpoint not found")
