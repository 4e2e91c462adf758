package store

import "errors"

// ErrNotFound is returned when a run has no recorded events.
var ErrNotFound = errors.New("not found")
