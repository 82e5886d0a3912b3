package eventbus

import (
	"github.com/benbjohnson/clock"

	"github.com/okian/draftd/pkg/logger"
)

// Option configures a Bus.
type Option func(*Bus)

// WithClock sets the clock used to stamp events.
func WithClock(c clock.Clock) Option {
	return func(b *Bus) {
		if c != nil {
			b.clock = c
		}
	}
}

// WithLogger sets the bus logger.
func WithLogger(l logger.Logger) Option {
	return func(b *Bus) {
		if l != nil {
			b.logger = l
		}
	}
}
