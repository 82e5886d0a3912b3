package timer

import "errors"

// Sentinel errors.
var (
	ErrUnknownKind  = errors.New("unknown timer kind")
	ErrInvalidDelay = errors.New("invalid timer delay")
	ErrNilCallback  = errors.New("timer callback is nil")
)
