// Package eventbus is the in-process publish/subscribe channel for draft
// lifecycle events. Every subscription is served by its own goroutine so a
// slow handler delays only itself, and each subscriber sees events in
// publish order.
package eventbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/okian/draftd/internal/domain/draft"
	"github.com/okian/draftd/pkg/logger"
	"github.com/okian/draftd/pkg/metrics"
)

// Event is one published notification.
type Event struct {
	Seq       uint64      `json:"seq"`
	Topic     Topic       `json:"topic"`
	SessionID string      `json:"sessionId"`
	ArenaID   string      `json:"arenaId"`
	At        time.Time   `json:"at"`
	Payload   any         `json:"payload,omitempty"`
	View      *draft.View `json:"view,omitempty"`
}

// Handler consumes events. Errors and panics are logged and counted; they
// never reach the publisher.
type Handler func(ctx context.Context, ev Event) error

// Handle identifies a subscription.
type Handle uint64

// Publisher is the side of the bus the engine depends on.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Bus fans events out to subscribers.
type Bus struct {
	clock  clock.Clock
	logger logger.Logger

	mu     sync.Mutex
	subs   map[Handle]*subscription
	nextID Handle
	seq    uint64
	closed bool
}

// New creates a bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		clock: clock.New(),
		subs:  make(map[Handle]*subscription),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = logger.Get().Named("eventbus")
	}
	return b
}

// Publish stamps ev with a sequence number and time and queues it for every
// matching subscriber.
func (b *Bus) Publish(_ context.Context, ev Event) error {
	if !ev.Topic.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownTopic, ev.Topic)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	b.seq++
	ev.Seq = b.seq
	if ev.At.IsZero() {
		ev.At = b.clock.Now()
	}
	for _, s := range b.subs {
		if s.wants(ev.Topic) {
			s.push(ev)
		}
	}
	metrics.RecordEventPublished(string(ev.Topic))
	return nil
}

// Subscribe registers h for topic.
func (b *Bus) Subscribe(topic Topic, h Handler) (Handle, error) {
	if !topic.Valid() {
		return 0, fmt.Errorf("%w: %q", ErrUnknownTopic, topic)
	}
	return b.add(map[Topic]bool{topic: true}, h)
}

// SubscribeTopics registers h for several topics at once.
func (b *Bus) SubscribeTopics(topics []Topic, h Handler) (Handle, error) {
	set := make(map[Topic]bool, len(topics))
	for _, t := range topics {
		if !t.Valid() {
			return 0, fmt.Errorf("%w: %q", ErrUnknownTopic, t)
		}
		set[t] = true
	}
	return b.add(set, h)
}

// SubscribeAll registers h for every topic.
func (b *Bus) SubscribeAll(h Handler) (Handle, error) {
	return b.add(nil, h)
}

func (b *Bus) add(topics map[Topic]bool, h Handler) (Handle, error) {
	if h == nil {
		return 0, ErrNilHandler
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, ErrClosed
	}
	b.nextID++
	s := newSubscription(b.nextID, topics, h, b.logger)
	b.subs[s.id] = s
	go s.run()
	metrics.UpdateEventSubscribers(len(b.subs))
	return s.id, nil
}

// Unsubscribe removes a subscription and discards its undelivered events.
// It reports whether the handle was known.
func (b *Bus) Unsubscribe(h Handle) bool {
	b.mu.Lock()
	s, ok := b.subs[h]
	if ok {
		delete(b.subs, h)
		metrics.UpdateEventSubscribers(len(b.subs))
	}
	b.mu.Unlock()
	if ok {
		s.stop(false)
	}
	return ok
}

// Close stops accepting events, lets subscribers drain and waits for them
// until ctx expires.
func (b *Bus) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := make([]*subscription, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.subs = map[Handle]*subscription{}
	b.mu.Unlock()

	for _, s := range subs {
		s.stop(true)
	}
	for _, s := range subs {
		select {
		case <-s.done:
		case <-ctx.Done():
			b.logger.Warn(ctx, "event bus close timed out", logger.Int("subscribers", len(subs)))
			return ctx.Err()
		}
	}
	metrics.UpdateEventSubscribers(0)
	return nil
}

// Subscribers returns the number of active subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

type subscription struct {
	id      Handle
	topics  map[Topic]bool
	handler Handler
	logger  logger.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	pending []Event
	stopped bool
	done    chan struct{}
}

func newSubscription(id Handle, topics map[Topic]bool, h Handler, l logger.Logger) *subscription {
	s := &subscription{id: id, topics: topics, handler: h, logger: l, done: make(chan struct{})}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *subscription) wants(t Topic) bool {
	return s.topics == nil || s.topics[t]
}

func (s *subscription) push(ev Event) {
	s.mu.Lock()
	if !s.stopped {
		s.pending = append(s.pending, ev)
		s.cond.Signal()
	}
	s.mu.Unlock()
}

func (s *subscription) stop(drain bool) {
	s.mu.Lock()
	s.stopped = true
	if !drain {
		s.pending = nil
	}
	s.cond.Signal()
	s.mu.Unlock()
}

func (s *subscription) run() {
	defer close(s.done)
	for {
		s.mu.Lock()
		for len(s.pending) == 0 && !s.stopped {
			s.cond.Wait()
		}
		if len(s.pending) == 0 {
			s.mu.Unlock()
			return
		}
		batch := s.pending
		s.pending = nil
		s.mu.Unlock()

		for _, ev := range batch {
			s.deliver(ev)
		}
	}
}

func (s *subscription) deliver(ev Event) {
	ctx := context.Background()
	defer func() {
		if r := recover(); r != nil {
			metrics.RecordEventHandlerFailure(string(ev.Topic))
			s.logger.Error(ctx, "event handler panicked",
				logger.String("topic", string(ev.Topic)),
				logger.String("session_id", ev.SessionID),
				logger.Any("panic", r),
			)
		}
	}()
	if err := s.handler(ctx, ev); err != nil {
		metrics.RecordEventHandlerFailure(string(ev.Topic))
		s.logger.Error(ctx, "event handler failed",
			logger.String("topic", string(ev.Topic)),
			logger.String("session_id", ev.SessionID),
			logger.Error(err),
		)
	}
}
