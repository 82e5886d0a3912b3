package repository

import "errors"

// Sentinel errors.
var (
	ErrNotConfigured = errors.New("storage is not configured")
	ErrCodec         = errors.New("session codec failed")
	ErrInvalid       = errors.New("invalid session")
)
