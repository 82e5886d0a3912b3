package eventbus

import "errors"

// Sentinel errors.
var (
	ErrUnknownTopic = errors.New("unknown topic")
	ErrClosed       = errors.New("event bus closed")
	ErrNilHandler   = errors.New("event handler is nil")
)
