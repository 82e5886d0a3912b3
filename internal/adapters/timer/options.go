package timer

import (
	"github.com/benbjohnson/clock"

	"github.com/okian/draftd/pkg/logger"
)

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock replaces the wall clock, mainly with clock.NewMock in tests.
func WithClock(c clock.Clock) Option {
	return func(s *Scheduler) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithLogger sets the scheduler logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}
