// Package timer schedules the per-session draft timers. Each (session, kind)
// pair has at most one outstanding timer; scheduling a kind again replaces
// the previous one.
package timer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/okian/draftd/pkg/logger"
	"github.com/okian/draftd/pkg/metrics"
)

// Kind is the closed set of timer kinds.
type Kind string

const (
	// KindCountdown ticks once per second before the draft starts.
	KindCountdown Kind = "countdown"
	// KindTurn expires the current captain's turn.
	KindTurn Kind = "turn"
	// KindBidReset ends the pause after a bid.
	KindBidReset Kind = "bidReset"
)

// Kinds lists every kind.
var Kinds = []Kind{KindCountdown, KindTurn, KindBidReset}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindCountdown, KindTurn, KindBidReset:
		return true
	}
	return false
}

// Fire describes one timer expiry. ID identifies the scheduling that
// produced it so receivers can drop fires from replaced timers.
type Fire struct {
	SessionID string
	Kind      Kind
	ID        uint64
	// Tick counts repeating fires starting at 1; single-shot fires use 1.
	Tick int
	At   time.Time
}

type key struct {
	session string
	kind    Kind
}

type handle struct {
	id       uint64
	timer    *clock.Timer
	deadline time.Time
	interval time.Duration
	tick     int
}

// Scheduler owns every session timer.
type Scheduler struct {
	clock  clock.Clock
	logger logger.Logger

	mu     sync.Mutex
	timers map[key]*handle
	nextID uint64
}

// NewScheduler creates a scheduler.
func NewScheduler(opts ...Option) *Scheduler {
	s := &Scheduler{
		clock:  clock.New(),
		timers: make(map[key]*handle),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("scheduler")
	}
	return s
}

// Schedule arms a single-shot timer and returns its id.
func (s *Scheduler) Schedule(sessionID string, kind Kind, delay time.Duration, onFire func(Fire)) (uint64, error) {
	return s.start(sessionID, kind, delay, 0, onFire)
}

// ScheduleRepeating arms a timer that fires every interval until cancelled.
func (s *Scheduler) ScheduleRepeating(sessionID string, kind Kind, interval time.Duration, onTick func(Fire)) (uint64, error) {
	if interval <= 0 {
		return 0, fmt.Errorf("%w: interval %s", ErrInvalidDelay, interval)
	}
	return s.start(sessionID, kind, interval, interval, onTick)
}

func (s *Scheduler) start(sessionID string, kind Kind, delay, interval time.Duration, fn func(Fire)) (uint64, error) {
	if !kind.Valid() {
		return 0, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if delay < 0 {
		return 0, fmt.Errorf("%w: %s", ErrInvalidDelay, delay)
	}
	if fn == nil {
		return 0, ErrNilCallback
	}

	k := key{session: sessionID, kind: kind}

	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.timers[k]; ok {
		prev.timer.Stop()
		metrics.RecordTimerCancelled(string(kind))
	}
	s.nextID++
	h := &handle{id: s.nextID, interval: interval, deadline: s.clock.Now().Add(delay)}
	h.timer = s.clock.AfterFunc(delay, func() { s.fire(k, h.id, fn) })
	s.timers[k] = h

	metrics.RecordTimerScheduled(string(kind))
	metrics.UpdateTimersActive(len(s.timers))
	s.logger.Debug(context.Background(), "timer scheduled",
		logger.String("session_id", sessionID),
		logger.String("kind", string(kind)),
		logger.Duration("delay", delay),
		logger.Bool("repeating", interval > 0),
	)
	return h.id, nil
}

func (s *Scheduler) fire(k key, id uint64, fn func(Fire)) {
	s.mu.Lock()
	h, ok := s.timers[k]
	if !ok || h.id != id {
		s.mu.Unlock()
		return
	}
	h.tick++
	now := s.clock.Now()
	ev := Fire{SessionID: k.session, Kind: k.kind, ID: id, Tick: h.tick, At: now}
	if h.interval > 0 {
		h.deadline = now.Add(h.interval)
		h.timer = s.clock.AfterFunc(h.interval, func() { s.fire(k, id, fn) })
	} else {
		delete(s.timers, k)
	}
	metrics.UpdateTimersActive(len(s.timers))
	s.mu.Unlock()

	metrics.RecordTimerFired(string(k.kind))
	fn(ev)
}

// Cancel stops the (session, kind) timer. It reports whether one was pending.
func (s *Scheduler) Cancel(sessionID string, kind Kind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelLocked(key{session: sessionID, kind: kind})
}

// CancelAll stops every timer of sessionID and returns how many were pending.
// It is safe to call repeatedly.
func (s *Scheduler) CancelAll(sessionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, kind := range Kinds {
		if s.cancelLocked(key{session: sessionID, kind: kind}) {
			n++
		}
	}
	return n
}

func (s *Scheduler) cancelLocked(k key) bool {
	h, ok := s.timers[k]
	if !ok {
		return false
	}
	h.timer.Stop()
	delete(s.timers, k)
	metrics.RecordTimerCancelled(string(k.kind))
	metrics.UpdateTimersActive(len(s.timers))
	return true
}

// Deadline returns when the (session, kind) timer fires next.
func (s *Scheduler) Deadline(sessionID string, kind Kind) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.timers[key{session: sessionID, kind: kind}]
	if !ok {
		return time.Time{}, false
	}
	return h.deadline, true
}

// Pending reports whether a (session, kind) timer is outstanding.
func (s *Scheduler) Pending(sessionID string, kind Kind) bool {
	_, ok := s.Deadline(sessionID, kind)
	return ok
}

// Active returns the number of outstanding timers.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop cancels every timer.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.timers {
		s.cancelLocked(k)
	}
}

// Now returns the scheduler clock's time.
func (s *Scheduler) Now() time.Time {
	return s.clock.Now()
}
