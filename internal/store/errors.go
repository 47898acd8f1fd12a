package store

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrStaleTransition = errors.New("stale transition")
	ErrInvalidStatus   = errors.New("invalid status")
)
