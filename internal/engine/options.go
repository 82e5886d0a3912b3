package engine

import (
	"time"

	"github.com/benbjohnson/clock"
	"go.opentelemetry.io/otel/trace"

	"github.com/okian/draftd/internal/adapters/mq/eventbus"
	"github.com/okian/draftd/internal/adapters/timer"
	"github.com/okian/draftd/internal/domain/draft"
	"github.com/okian/draftd/pkg/logger"
)

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithClock sets the clock used for timestamps. Use the same clock for the
// scheduler in tests.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithScheduler sets the timer scheduler.
func WithScheduler(s *timer.Scheduler) Option {
	return func(e *Engine) {
		if s != nil {
			e.scheduler = s
		}
	}
}

// WithPublisher sets where lifecycle events go.
func WithPublisher(p eventbus.Publisher) Option {
	return func(e *Engine) {
		if p != nil {
			e.events = p
		}
	}
}

// WithLogger sets a custom logger for the engine.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithDefaults sets the settings used for zero-valued fields on create.
func WithDefaults(s draft.Settings) Option {
	return func(e *Engine) {
		e.defaults = s.WithDefaults(e.defaults)
	}
}

// WithCountdown sets how long a full session waits before the first turn.
func WithCountdown(d time.Duration) Option {
	return func(e *Engine) {
		if d >= 0 {
			e.countdown = d
		}
	}
}

// WithMailboxSize bounds the per-session command queue.
func WithMailboxSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.mailboxSize = n
		}
	}
}

// WithMaxHistory caps History results.
func WithMaxHistory(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxHistory = n
		}
	}
}

// WithIDGenerator replaces the session id source.
func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) {
		if fn != nil {
			e.newID = fn
		}
	}
}

// WithTracer sets the tracer for command spans.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) {
		if t != nil {
			e.tracer = t
		}
	}
}
