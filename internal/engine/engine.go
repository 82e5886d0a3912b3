// Package engine runs draft sessions. Each live session is owned by an actor:
// a goroutine taking commands from a bounded mailbox and timer fires from a
// per-kind slot, so work for one session is applied one at a time while
// different sessions run in parallel.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/okian/draftd/internal/adapters/mq/eventbus"
	"github.com/okian/draftd/internal/adapters/timer"
	"github.com/okian/draftd/internal/domain/draft"
	"github.com/okian/draftd/internal/domain/sessionstore"
	"github.com/okian/draftd/internal/domain/validation"
	"github.com/okian/draftd/pkg/logger"
	"github.com/okian/draftd/pkg/metrics"
)

const (
	tracerName         = "github.com/okian/draftd/internal/engine"
	defaultMailboxSize = 256
	defaultMaxHistory  = 50
	defaultCountdown   = 10 * time.Second
)

// Reasons recorded when a session finishes.
const (
	ReasonRequested       = "requested"
	ReasonInvariant       = "invariant_violation"
	ReasonRostersComplete = "rosters_complete"
)

// Persister receives every session write. Calls are best-effort: failures are
// logged and never undo the in-memory transition.
type Persister interface {
	Save(ctx context.Context, s *draft.Session) error
	Update(ctx context.Context, s *draft.Session) error
}

// Finder reads persisted sessions for recovery and history.
type Finder interface {
	FindActive(ctx context.Context) ([]*draft.Session, error)
	FindByArena(ctx context.Context, arenaID string) ([]*draft.Session, error)
}

// Stats summarises the live sessions.
type Stats struct {
	Live     int                  `json:"live"`
	ByStatus map[draft.Status]int `json:"byStatus"`
	Timers   int                  `json:"timers"`
	Closed   bool                 `json:"closed"`
}

// Engine is the draft state machine.
type Engine struct {
	clock         clock.Clock
	scheduler     *timer.Scheduler
	ownsScheduler bool
	events        eventbus.Publisher
	persist       Persister
	finder        Finder
	logger        logger.Logger
	tracer        trace.Tracer

	defaults    draft.Settings
	countdown   time.Duration
	mailboxSize int
	maxHistory  int
	newID       func() string

	sessions *sessionstore.Store[*actor]

	mu     sync.RWMutex
	closed bool
}

// New creates an engine that writes through persist and recovers from find.
func New(persist Persister, find Finder, opts ...Option) *Engine {
	e := &Engine{
		clock:   clock.New(),
		persist: persist,
		finder:  find,
		defaults: draft.Settings{
			CaptainCount:   2,
			RosterSize:     5,
			Budget:         100,
			TurnTimeoutSec: 30,
			BidResetSec:    10,
		},
		countdown:   defaultCountdown,
		mailboxSize: defaultMailboxSize,
		maxHistory:  defaultMaxHistory,
		newID:       uuid.NewString,
		sessions:    sessionstore.New[*actor](),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logger.Get().Named("engine")
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer(tracerName)
	}
	if e.events == nil {
		e.events = discard{}
	}
	if e.scheduler == nil {
		e.scheduler = timer.NewScheduler(timer.WithClock(e.clock), timer.WithLogger(e.logger.Named("scheduler")))
		e.ownsScheduler = true
	}
	return e
}

type discard struct{}

func (discard) Publish(context.Context, eventbus.Event) error { return nil }

// CreateSession opens a waiting session for arenaID. Zero-valued settings
// take the engine defaults.
func (e *Engine) CreateSession(ctx context.Context, arenaID, managerID string, settings draft.Settings) (*draft.View, error) {
	return e.observe(ctx, "createSession", []attribute.KeyValue{attribute.String("draft.arena_id", arenaID)},
		func(ctx context.Context) (*draft.View, error) {
			if err := e.open(); err != nil {
				return nil, err
			}
			settings = settings.WithDefaults(e.defaults)
			res := validation.ValidateCreation(validation.CreateOptions{
				ArenaID:   arenaID,
				ManagerID: managerID,
				Settings:  settings,
			})
			if !res.OK() {
				return nil, res.Err()
			}
			if _, ok := e.sessions.GetByArena(arenaID); ok {
				return nil, fmt.Errorf("%w: %s", draft.ErrConflict, arenaID)
			}

			s := draft.New(e.newID(), arenaID, managerID, settings, e.clock.Now())
			a := newActor(e, s)
			if err := e.register(a); err != nil {
				if errors.Is(err, sessionstore.ErrConflict) {
					return nil, fmt.Errorf("%w: %s", draft.ErrConflict, arenaID)
				}
				return nil, err
			}
			if err := e.persist.Save(context.WithoutCancel(ctx), s); err != nil {
				a.logger.Error(ctx, "persist failed", logger.String("op", "save"), logger.Error(err))
			}
			a.publish(ctx, eventbus.TopicSessionCreated, eventbus.SessionPayload{ManagerID: managerID, Settings: settings})
			a.refresh()
			go a.run()

			metrics.RecordSessionCreated()
			metrics.UpdateSessionsLive(e.sessions.Len())
			e.logger.Info(ctx, "session created",
				logger.String("sessionID", s.ID),
				logger.String("arenaID", arenaID),
				logger.String("managerID", managerID),
			)
			return a.view.Load(), nil
		})
}

// AddCaptain joins userID to the live session of arenaID. Filling the last
// slot starts the countdown.
func (e *Engine) AddCaptain(ctx context.Context, arenaID, userID string) (*draft.View, error) {
	return e.arenaCommand(ctx, "addCaptain", arenaID, func(ctx context.Context, a *actor) error {
		return a.addCaptain(ctx, userID)
	})
}

// RemoveCaptain takes userID out of a waiting session.
func (e *Engine) RemoveCaptain(ctx context.Context, arenaID, userID string) (*draft.View, error) {
	return e.arenaCommand(ctx, "removeCaptain", arenaID, func(ctx context.Context, a *actor) error {
		return a.removeCaptain(ctx, userID)
	})
}

// PlaceBid drafts playerID for captainID at amount.
func (e *Engine) PlaceBid(ctx context.Context, sessionID, captainID, playerID string, amount int) (*draft.View, error) {
	return e.sessionCommand(ctx, "placeBid", sessionID, func(ctx context.Context, a *actor) error {
		return a.placeBid(ctx, captainID, playerID, amount)
	})
}

// SkipTurn passes the current turn on behalf of requesterID.
func (e *Engine) SkipTurn(ctx context.Context, sessionID, requesterID string) (*draft.View, error) {
	return e.sessionCommand(ctx, "skipTurn", sessionID, func(ctx context.Context, a *actor) error {
		return a.skipTurn(ctx, requesterID)
	})
}

// CancelSession ends the session on behalf of requesterID.
func (e *Engine) CancelSession(ctx context.Context, sessionID, requesterID string) (*draft.View, error) {
	return e.sessionCommand(ctx, "cancelSession", sessionID, func(ctx context.Context, a *actor) error {
		return a.cancel(ctx, requesterID)
	})
}

// Snapshot returns the latest view of a live session by id.
func (e *Engine) Snapshot(_ context.Context, sessionID string) (*draft.View, error) {
	a, ok := e.sessions.GetByID(sessionID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", draft.ErrNotFound, sessionID)
	}
	return a.view.Load(), nil
}

// SnapshotByArena returns the latest view of the live session of arenaID.
func (e *Engine) SnapshotByArena(_ context.Context, arenaID string) (*draft.View, error) {
	a, ok := e.sessions.GetByArena(arenaID)
	if !ok {
		return nil, fmt.Errorf("%w: arena %s", draft.ErrNotFound, arenaID)
	}
	return a.view.Load(), nil
}

// GetSnapshot resolves key as a session id first and an arena id second.
func (e *Engine) GetSnapshot(ctx context.Context, key string) (*draft.View, error) {
	if v, err := e.Snapshot(ctx, key); err == nil {
		return v, nil
	}
	return e.SnapshotByArena(ctx, key)
}

// History returns persisted sessions of arenaID, newest first.
func (e *Engine) History(ctx context.Context, arenaID string) ([]*draft.View, error) {
	if strings.TrimSpace(arenaID) == "" {
		return nil, validation.Reject(validation.CodeArenaRequired, "Arena ID is required").Err()
	}
	sessions, err := e.finder.FindByArena(ctx, arenaID)
	if err != nil {
		return nil, fmt.Errorf("find sessions of arena %s: %w", arenaID, err)
	}
	if len(sessions) > e.maxHistory {
		sessions = sessions[:e.maxHistory]
	}
	views := make([]*draft.View, len(sessions))
	for i, s := range sessions {
		views[i] = s.View()
	}
	return views, nil
}

// Restore re-registers persisted non-terminal sessions and re-arms their
// timers. Sessions whose arena is already live, or whose state is broken,
// are skipped. It returns how many sessions were restored.
func (e *Engine) Restore(ctx context.Context) (int, error) {
	if err := e.open(); err != nil {
		return 0, err
	}
	sessions, err := e.finder.FindActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("find active sessions: %w", err)
	}

	restored := 0
	for _, s := range sessions {
		if s.Status.Terminal() {
			continue
		}
		if err := s.CheckInvariants(); err != nil {
			metrics.RecordInvariantViolation()
			e.logger.Error(ctx, "skipping broken session", logger.String("sessionID", s.ID), logger.Error(err))
			continue
		}
		a := newActor(e, s)
		if err := e.register(a); err != nil {
			if errors.Is(err, ErrClosed) {
				metrics.UpdateSessionsLive(e.sessions.Len())
				return restored, err
			}
			e.logger.Warn(ctx, "skipping session, arena is live",
				logger.String("sessionID", s.ID),
				logger.String("arenaID", s.ArenaID),
			)
			continue
		}
		a.rearm(ctx)
		a.refresh()
		go a.run()

		restored++
		metrics.RecordSessionRestored()
		e.logger.Info(ctx, "session restored",
			logger.String("sessionID", s.ID),
			logger.String("status", string(s.Status)),
		)
	}
	metrics.UpdateSessionsLive(e.sessions.Len())
	return restored, nil
}

// Shutdown stops every actor without ending its session. Queued commands are
// applied first; timers are cancelled so nothing fires afterwards. Persisted
// state stays non-terminal for Restore.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	actors := e.sessions.Values()
	for _, a := range actors {
		_ = a.mailbox.Close()
	}
	var err error
	for _, a := range actors {
		select {
		case <-a.done:
		case <-ctx.Done():
			err = fmt.Errorf("engine shutdown: %w", ctx.Err())
		}
		e.scheduler.CancelAll(a.id)
	}
	if e.ownsScheduler {
		e.scheduler.Stop()
	}
	e.logger.Info(ctx, "engine stopped", logger.Int("sessions", len(actors)))
	return err
}

// Stats counts live sessions by status.
func (e *Engine) Stats() Stats {
	st := Stats{ByStatus: map[draft.Status]int{}, Timers: e.scheduler.Active()}
	for _, a := range e.sessions.Values() {
		if v := a.view.Load(); v != nil {
			st.ByStatus[v.Status]++
			st.Live++
		}
	}
	e.mu.RLock()
	st.Closed = e.closed
	e.mu.RUnlock()
	return st
}

// register adds a to the live sessions. It holds the read lock so Shutdown
// either sees the actor or the caller sees ErrClosed.
func (e *Engine) register(a *actor) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return ErrClosed
	}
	return e.sessions.Create(a.id, a.arena, a)
}

func (e *Engine) open() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return ErrClosed
	}
	return nil
}

func (e *Engine) arenaCommand(ctx context.Context, op, arenaID string, fn func(context.Context, *actor) error) (*draft.View, error) {
	return e.observe(ctx, op, []attribute.KeyValue{attribute.String("draft.arena_id", arenaID)},
		func(ctx context.Context) (*draft.View, error) {
			a, ok := e.sessions.GetByArena(arenaID)
			if !ok {
				return nil, fmt.Errorf("%w: arena %s", draft.ErrNotFound, arenaID)
			}
			return e.dispatch(ctx, a, fn)
		})
}

func (e *Engine) sessionCommand(ctx context.Context, op, sessionID string, fn func(context.Context, *actor) error) (*draft.View, error) {
	return e.observe(ctx, op, []attribute.KeyValue{attribute.String("draft.session_id", sessionID)},
		func(ctx context.Context) (*draft.View, error) {
			a, ok := e.sessions.GetByID(sessionID)
			if !ok {
				return nil, fmt.Errorf("%w: %s", draft.ErrNotFound, sessionID)
			}
			return e.dispatch(ctx, a, fn)
		})
}

// dispatch posts fn to the actor's mailbox and waits for its reply.
func (e *Engine) dispatch(ctx context.Context, a *actor, fn func(context.Context, *actor) error) (*draft.View, error) {
	if err := e.open(); err != nil {
		return nil, err
	}
	c := &command{ctx: ctx, fn: fn, reply: make(chan reply, 1)}
	if !a.mailbox.Enqueue(ctx, c) {
		if a.mailbox.IsClosed() {
			if err := e.open(); err != nil {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %s", draft.ErrNotFound, a.id)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s", draft.ErrBusy, a.id)
	}
	select {
	case r := <-c.reply:
		return r.view, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// observe wraps a command with a span, metrics and rejection logging.
func (e *Engine) observe(ctx context.Context, op string, attrs []attribute.KeyValue, fn func(context.Context) (*draft.View, error)) (*draft.View, error) {
	ctx, span := e.tracer.Start(ctx, "engine."+op, trace.WithAttributes(attrs...))
	defer span.End()

	start := time.Now()
	v, err := fn(ctx)
	result := outcome(err)
	switch result {
	case "ok":
		span.SetAttributes(attribute.String("draft.session_id", v.ID), attribute.String("draft.status", string(v.Status)))
	case "rejected":
		ve, _ := draft.AsValidation(err)
		for _, r := range ve.Reasons {
			metrics.RecordRejection(op, r.Code)
		}
		span.SetAttributes(attribute.Bool("draft.rejected", true))
		e.logger.Debug(ctx, "command rejected", logger.String("op", op), logger.Error(err))
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	metrics.RecordCommand(op, result, float64(time.Since(start).Milliseconds()))
	return v, err
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if _, ok := draft.AsValidation(err); ok {
		return "rejected"
	}
	switch {
	case errors.Is(err, draft.ErrNotFound):
		return "not_found"
	case errors.Is(err, draft.ErrConflict):
		return "conflict"
	case errors.Is(err, draft.ErrBusy):
		return "busy"
	case errors.Is(err, draft.ErrInvariant):
		return "invariant"
	}
	return "error"
}
