package engine

import "errors"

// ErrClosed is returned once Shutdown has been called.
var ErrClosed = errors.New("engine is shut down")
