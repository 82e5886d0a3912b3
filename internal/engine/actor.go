package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/okian/draftd/internal/adapters/mq/eventbus"
	"github.com/okian/draftd/internal/adapters/mq/queue"
	"github.com/okian/draftd/internal/adapters/timer"
	"github.com/okian/draftd/internal/domain/draft"
	"github.com/okian/draftd/pkg/logger"
	"github.com/okian/draftd/pkg/metrics"
)

type command struct {
	ctx   context.Context
	fn    func(context.Context, *actor) error
	reply chan reply
}

type reply struct {
	view *draft.View
	err  error
}

// actor owns one session. Only run's goroutine touches s and timers.
type actor struct {
	e      *Engine
	id     string
	arena  string
	logger logger.Logger

	s       *draft.Session
	timers  map[timer.Kind]uint64
	mailbox *queue.InMemoryQueue[*command]
	view    atomic.Pointer[draft.View]
	done    chan struct{}

	// Timer fires bypass the bounded mailbox. The latest fire per kind waits
	// in pending until run picks it up, so a full mailbox cannot lose one.
	fireMu  sync.Mutex
	pending map[timer.Kind]timer.Fire
	wake    chan struct{}

	countdownTotal int
	countdownLeft  int
	finished       bool
}

func newActor(e *Engine, s *draft.Session) *actor {
	return &actor{
		e:      e,
		id:     s.ID,
		arena:  s.ArenaID,
		logger: e.logger.With(logger.String("sessionID", s.ID), logger.String("arenaID", s.ArenaID)),
		s:      s,
		timers: make(map[timer.Kind]uint64),
		mailbox: queue.NewInMemoryQueue[*command](
			queue.WithCapacity(e.mailboxSize),
			queue.WithName("mailbox"),
		),
		done:    make(chan struct{}),
		pending: make(map[timer.Kind]timer.Fire),
		wake:    make(chan struct{}, 1),
	}
}

// run applies pending timer fires and mailbox commands one at a time until
// the mailbox is closed and empty. Fires that are already due go first.
func (a *actor) run() {
	defer close(a.done)
	for {
		a.drainFires()
		select {
		case <-a.wake:
		case c, ok := <-a.mailbox.Ready():
			if !ok {
				return
			}
			a.mailbox.Took()
			a.handle(c)
			a.refresh()
		}
	}
}

// drainFires applies every pending fire in the order they fired.
func (a *actor) drainFires() {
	a.fireMu.Lock()
	if len(a.pending) == 0 {
		a.fireMu.Unlock()
		return
	}
	fires := make([]timer.Fire, 0, len(a.pending))
	for _, f := range a.pending {
		fires = append(fires, f)
	}
	clear(a.pending)
	a.fireMu.Unlock()

	slices.SortFunc(fires, func(x, y timer.Fire) int { return x.At.Compare(y.At) })
	for _, f := range fires {
		a.fired(f)
		a.refresh()
	}
}

func (a *actor) handle(c *command) {
	if err := c.ctx.Err(); err != nil {
		c.reply <- reply{err: err}
		return
	}
	if err := a.guard(c.ctx, func(ctx context.Context) error { return c.fn(ctx, a) }); err != nil {
		c.reply <- reply{err: err}
		return
	}
	c.reply <- reply{view: a.snapshot()}
}

func (a *actor) fired(f timer.Fire) {
	if id, ok := a.timers[f.Kind]; !ok || id != f.ID {
		metrics.RecordTimerStale(string(f.Kind))
		return
	}
	if f.Kind != timer.KindCountdown {
		delete(a.timers, f.Kind)
	}

	ctx, span := a.e.tracer.Start(context.Background(), "engine.timer."+string(f.Kind), trace.WithAttributes(
		attribute.String("draft.session_id", a.id),
		attribute.Int("draft.timer_tick", f.Tick),
	))
	defer span.End()

	err := a.guard(ctx, func(ctx context.Context) error {
		switch f.Kind {
		case timer.KindCountdown:
			return a.onCountdownTick(ctx, f.Tick)
		case timer.KindTurn:
			return a.onTurnTimeout(ctx)
		case timer.KindBidReset:
			return a.onBidReset(ctx)
		}
		return nil
	})
	if err != nil && !errors.Is(err, draft.ErrNotFound) {
		span.RecordError(err)
		a.logger.Error(ctx, "timer transition failed", logger.String("kind", string(f.Kind)), logger.Error(err))
	}
}

// guard runs fn unless the session is over. A panic in fn is treated as an
// invariant violation.
func (a *actor) guard(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = a.violate(ctx, &draft.InvariantViolation{SessionID: a.id, Detail: fmt.Sprintf("panic: %v", r)})
		}
	}()
	if a.finished || a.s.Status.Terminal() {
		return fmt.Errorf("%w: %s", draft.ErrNotFound, a.id)
	}
	return fn(ctx)
}

// check verifies the session after a mutation and force-cancels it on
// failure.
func (a *actor) check(ctx context.Context) error {
	if err := a.s.CheckInvariants(); err != nil {
		return a.violate(ctx, err)
	}
	return nil
}

func (a *actor) violate(ctx context.Context, err error) error {
	metrics.RecordInvariantViolation()
	a.logger.Error(ctx, "invariant violation, cancelling session",
		logger.Error(err),
		logger.Any("session", a.s.Clone()),
	)
	if !a.finished {
		a.s.Cancel(ReasonInvariant, a.e.clock.Now())
		a.finish(ctx, ReasonInvariant, "")
	}
	var iv *draft.InvariantViolation
	if errors.As(err, &iv) {
		return err
	}
	return &draft.InvariantViolation{SessionID: a.id, Detail: err.Error()}
}

// finish tears down a session already moved to a terminal status.
func (a *actor) finish(ctx context.Context, reason, requestedBy string) {
	a.finished = true
	a.disarmAll()
	a.persist(ctx)

	status := a.s.Status
	if status == draft.StatusCompleted {
		a.publish(ctx, eventbus.TopicSessionCompleted, eventbus.CompletedPayload{FinalStandings: a.s.Standings()})
	} else {
		a.publish(ctx, eventbus.TopicSessionCancelled, eventbus.CancelledPayload{Reason: reason, RequestedBy: requestedBy})
	}

	a.e.sessions.Remove(a.id)
	_ = a.mailbox.Close()

	metrics.RecordSessionFinished(string(status), reason)
	metrics.UpdateSessionsLive(a.e.sessions.Len())
	a.logger.Info(ctx, "session finished",
		logger.String("status", string(status)),
		logger.String("reason", reason),
		logger.Int("picks", a.s.PickCount),
	)
}

func (a *actor) arm(kind timer.Kind, d time.Duration) {
	id, err := a.e.scheduler.Schedule(a.id, kind, d, a.post)
	if err != nil {
		a.logger.Error(context.Background(), "schedule failed", logger.String("kind", string(kind)), logger.Error(err))
		return
	}
	a.timers[kind] = id
}

func (a *actor) armRepeating(kind timer.Kind, interval time.Duration) {
	id, err := a.e.scheduler.ScheduleRepeating(a.id, kind, interval, a.post)
	if err != nil {
		a.logger.Error(context.Background(), "schedule failed", logger.String("kind", string(kind)), logger.Error(err))
		return
	}
	a.timers[kind] = id
}

func (a *actor) disarm(kind timer.Kind) {
	a.e.scheduler.Cancel(a.id, kind)
	delete(a.timers, kind)
}

func (a *actor) disarmAll() {
	a.e.scheduler.CancelAll(a.id)
	clear(a.timers)
}

// post is the scheduler callback. It parks the fire for run and never
// blocks. A newer fire of the same kind replaces an unapplied one: single-shot
// kinds hold one live timer each, and countdown ticks carry their absolute
// tick number.
func (a *actor) post(f timer.Fire) {
	if a.mailbox.IsClosed() {
		return
	}
	a.fireMu.Lock()
	if prev, ok := a.pending[f.Kind]; ok {
		metrics.RecordTimerStale(string(prev.Kind))
	}
	a.pending[f.Kind] = f
	a.fireMu.Unlock()

	select {
	case a.wake <- struct{}{}:
	default:
	}
}

// pendingFires reports how many fires wait to be applied.
func (a *actor) pendingFires() int {
	a.fireMu.Lock()
	defer a.fireMu.Unlock()
	return len(a.pending)
}

func (a *actor) persist(ctx context.Context) {
	if err := a.e.persist.Update(context.WithoutCancel(ctx), a.s); err != nil {
		a.logger.Error(ctx, "persist failed", logger.String("op", "update"), logger.Error(err))
	}
}

func (a *actor) publish(ctx context.Context, topic eventbus.Topic, payload any) {
	ev := eventbus.Event{
		Topic:     topic,
		SessionID: a.id,
		ArenaID:   a.arena,
		Payload:   payload,
		View:      a.snapshot(),
	}
	if err := a.e.events.Publish(ctx, ev); err != nil {
		a.logger.Warn(ctx, "publish failed", logger.String("topic", string(topic)), logger.Error(err))
	}
}

// snapshot projects the session with its timer state.
func (a *actor) snapshot() *draft.View {
	v := a.s.View()
	switch a.s.Status {
	case draft.StatusCountdown:
		v.CountdownRemaining = a.countdownLeft
	case draft.StatusActive:
		if !a.s.BetweenTurns {
			if d, ok := a.e.scheduler.Deadline(a.id, timer.KindTurn); ok {
				v.TurnDeadline = &d
			}
		}
	}
	return v
}

func (a *actor) refresh() {
	a.view.Store(a.snapshot())
}
