package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	. "github.com/smartystreets/goconvey/convey"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/okian/draftd/internal/adapters/mq/eventbus"
	"github.com/okian/draftd/internal/adapters/repository"
	"github.com/okian/draftd/internal/adapters/timer"
	"github.com/okian/draftd/internal/domain/draft"
	"github.com/okian/draftd/internal/domain/validation"
	"github.com/okian/draftd/pkg/logger"
)

const countdownSecs = 3

var ctx = context.Background()

type recorder struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (r *recorder) handle(_ context.Context, ev eventbus.Event) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return nil
}

func (r *recorder) topics(sessionID string) []eventbus.Topic {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []eventbus.Topic
	for _, ev := range r.events {
		if ev.SessionID == sessionID {
			out = append(out, ev.Topic)
		}
	}
	return out
}

func (r *recorder) last(sessionID string, topic eventbus.Topic) (eventbus.Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if ev := r.events[i]; ev.SessionID == sessionID && ev.Topic == topic {
			return ev, true
		}
	}
	return eventbus.Event{}, false
}

func (r *recorder) count(sessionID string) int {
	return len(r.topics(sessionID))
}

type harness struct {
	clock     *clock.Mock
	repo      *repository.MemoryRepository
	bus       *eventbus.Bus
	rec       *recorder
	scheduler *timer.Scheduler
	eng       *Engine
}

func newHarness(opts ...Option) *harness {
	mock := clock.NewMock()
	mock.Set(time.Date(2026, 5, 1, 18, 0, 0, 0, time.UTC))
	h := &harness{
		clock:     mock,
		repo:      repository.NewMemoryRepository(),
		bus:       eventbus.New(eventbus.WithClock(mock), eventbus.WithLogger(logger.Nop())),
		rec:       &recorder{},
		scheduler: timer.NewScheduler(timer.WithClock(mock), timer.WithLogger(logger.Nop())),
	}
	_, _ = h.bus.SubscribeAll(h.rec.handle)

	var n atomic.Int64
	base := []Option{
		WithClock(mock),
		WithScheduler(h.scheduler),
		WithPublisher(h.bus),
		WithLogger(logger.Nop()),
		WithCountdown(countdownSecs * time.Second),
		WithIDGenerator(func() string { return fmt.Sprintf("s%d", n.Add(1)) }),
	}
	h.eng = New(h.repo, h.repo, append(base, opts...)...)
	return h
}

func (h *harness) close() {
	_ = h.eng.Shutdown(ctx)
	_ = h.bus.Close(ctx)
	h.scheduler.Stop()
}

func eventually(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}

func (h *harness) view(id string) *draft.View {
	v, err := h.eng.Snapshot(ctx, id)
	if err != nil {
		return nil
	}
	return v
}

// advance moves the clock one second at a time, waiting for cond after each
// step so chained timers can re-arm.
func (h *harness) advance(seconds int, settled func() bool) bool {
	for i := 0; i < seconds; i++ {
		before := h.scheduler.Active()
		h.clock.Add(time.Second)
		if before > 0 {
			time.Sleep(5 * time.Millisecond)
		}
	}
	return eventually(settled)
}

func (h *harness) waitStatus(id string, status draft.Status) bool {
	return eventually(func() bool {
		v := h.view(id)
		return v != nil && v.Status == status
	})
}

func (h *harness) waitCaptain(id, captain string) bool {
	return eventually(func() bool {
		v := h.view(id)
		return v != nil && v.CurrentCaptain == captain
	})
}

// runCountdown ticks the countdown until the session is active.
func (h *harness) runCountdown(id string) bool {
	for i := 1; i <= countdownSecs; i++ {
		h.clock.Add(time.Second)
		want := countdownSecs - i
		ok := eventually(func() bool {
			v := h.view(id)
			if v == nil {
				return false
			}
			if want == 0 {
				return v.Status == draft.StatusActive
			}
			return v.CountdownRemaining == want
		})
		if !ok {
			return false
		}
	}
	return true
}

var defaultSettings = draft.Settings{CaptainCount: 2, RosterSize: 1, Budget: 100, TurnTimeoutSec: 10, BidResetSec: 5}

// activeSession creates a session in arena with captains joined and the
// countdown elapsed.
func (h *harness) activeSession(arena string, settings draft.Settings, captains ...string) string {
	v, err := h.eng.CreateSession(ctx, arena, "mgr", settings)
	So(err, ShouldBeNil)
	for _, c := range captains {
		_, err := h.eng.AddCaptain(ctx, arena, c)
		So(err, ShouldBeNil)
	}
	So(h.runCountdown(v.ID), ShouldBeTrue)
	return v.ID
}

func validationCode(err error) []string {
	ve, ok := draft.AsValidation(err)
	if !ok {
		return nil
	}
	codes := make([]string, len(ve.Reasons))
	for i, r := range ve.Reasons {
		codes[i] = r.Code
	}
	return codes
}

func TestCreateSession(t *testing.T) {
	Convey("Given an engine", t, func() {
		h := newHarness()
		defer h.close()

		Convey("zero-valued settings take the defaults", func() {
			v, err := h.eng.CreateSession(ctx, "arena", "mgr", draft.Settings{})
			So(err, ShouldBeNil)
			So(v.Status, ShouldEqual, draft.StatusWaiting)
			So(v.Settings, ShouldResemble, draft.Settings{CaptainCount: 2, RosterSize: 5, Budget: 100, TurnTimeoutSec: 30, BidResetSec: 10})
			So(h.repo.Len(), ShouldEqual, 1)
			So(eventually(func() bool { return h.rec.count(v.ID) == 1 }), ShouldBeTrue)
		})

		Convey("out of range settings are rejected with every reason", func() {
			_, err := h.eng.CreateSession(ctx, "arena", "mgr", draft.Settings{CaptainCount: 11, Budget: 5})
			So(validationCode(err), ShouldResemble, []string{validation.CodeCaptainCount, validation.CodeBudget})
			So(h.repo.Len(), ShouldEqual, 0)
		})

		Convey("a second live session in the same arena conflicts", func() {
			first, err := h.eng.CreateSession(ctx, "arena", "mgr", defaultSettings)
			So(err, ShouldBeNil)
			_, err = h.eng.CreateSession(ctx, "arena", "other", defaultSettings)
			So(errors.Is(err, draft.ErrConflict), ShouldBeTrue)

			Convey("until the first one ends", func() {
				_, err := h.eng.CancelSession(ctx, first.ID, "mgr")
				So(err, ShouldBeNil)
				_, err = h.eng.CreateSession(ctx, "arena", "other", defaultSettings)
				So(err, ShouldBeNil)
			})
		})

		Convey("snapshots resolve by id and by arena", func() {
			v, _ := h.eng.CreateSession(ctx, "arena", "mgr", defaultSettings)
			byArena, err := h.eng.GetSnapshot(ctx, "arena")
			So(err, ShouldBeNil)
			So(byArena.ID, ShouldEqual, v.ID)
			_, err = h.eng.GetSnapshot(ctx, "missing")
			So(errors.Is(err, draft.ErrNotFound), ShouldBeTrue)
		})
	})
}

func TestCaptains(t *testing.T) {
	Convey("Given a waiting session", t, func() {
		h := newHarness()
		defer h.close()
		v, _ := h.eng.CreateSession(ctx, "arena", "mgr", defaultSettings)

		Convey("the manager cannot join", func() {
			_, err := h.eng.AddCaptain(ctx, "arena", "mgr")
			So(validationCode(err), ShouldContain, validation.CodeManagerNotCaptain)
		})

		Convey("a captain can leave while waiting", func() {
			_, err := h.eng.AddCaptain(ctx, "arena", "x")
			So(err, ShouldBeNil)
			got, err := h.eng.RemoveCaptain(ctx, "arena", "x")
			So(err, ShouldBeNil)
			So(got.Captains, ShouldBeEmpty)
			So(eventually(func() bool {
				_, ok := h.rec.last(v.ID, eventbus.TopicCaptainRemoved)
				return ok
			}), ShouldBeTrue)
		})

		Convey("filling the last slot starts the countdown", func() {
			h.eng.AddCaptain(ctx, "arena", "x")
			got, err := h.eng.AddCaptain(ctx, "arena", "y")
			So(err, ShouldBeNil)
			So(got.Status, ShouldEqual, draft.StatusCountdown)
			So(got.CountdownRemaining, ShouldEqual, countdownSecs)

			_, err = h.eng.AddCaptain(ctx, "arena", "z")
			So(validationCode(err), ShouldContain, validation.CodeAlreadyStarted)
			_, err = h.eng.RemoveCaptain(ctx, "arena", "x")
			So(validationCode(err), ShouldContain, validation.CodeAlreadyStarted)

			Convey("and the countdown ends with the first turn", func() {
				So(h.runCountdown(v.ID), ShouldBeTrue)
				active := h.view(v.ID)
				So(active.CurrentCaptain, ShouldEqual, "x")
				So(active.Round, ShouldEqual, 1)
				So(active.TurnDeadline, ShouldNotBeNil)
				So(active.TurnDeadline.Equal(h.clock.Now().Add(10*time.Second)), ShouldBeTrue)

				So(eventually(func() bool {
					_, ok := h.rec.last(v.ID, eventbus.TopicTurnStarted)
					return ok
				}), ShouldBeTrue)
				So(h.rec.topics(v.ID), ShouldResemble, []eventbus.Topic{
					eventbus.TopicSessionCreated,
					eventbus.TopicCaptainAdded,
					eventbus.TopicCaptainAdded,
					eventbus.TopicCountdownStarted,
					eventbus.TopicCountdownTick,
					eventbus.TopicCountdownTick,
					eventbus.TopicCountdownTick,
					eventbus.TopicSessionStarted,
					eventbus.TopicTurnStarted,
				})
			})
		})

		Convey("an unknown arena is not found", func() {
			_, err := h.eng.AddCaptain(ctx, "nowhere", "x")
			So(errors.Is(err, draft.ErrNotFound), ShouldBeTrue)
		})
	})
}

func TestBidding(t *testing.T) {
	Convey("Given an active session with rosters of one", t, func() {
		h := newHarness()
		defer h.close()
		id := h.activeSession("arena", defaultSettings, "x", "y")

		Convey("X bids, leaves the rotation and Y finishes the draft", func() {
			v, err := h.eng.PlaceBid(ctx, id, "x", "p", 50)
			So(err, ShouldBeNil)
			So(v.Status, ShouldEqual, draft.StatusActive)
			So(v.Rotation, ShouldResemble, []string{"y"})
			So(v.BetweenTurns, ShouldBeTrue)
			So(v.CurrentCaptain, ShouldEqual, "")

			_, err = h.eng.PlaceBid(ctx, id, "y", "q", 30)
			So(validationCode(err), ShouldContain, validation.CodeTurnNotStarted)

			So(h.advance(5, func() bool { v := h.view(id); return v != nil && v.CurrentCaptain == "y" }), ShouldBeTrue)

			done, err := h.eng.PlaceBid(ctx, id, "y", "q", 30)
			So(err, ShouldBeNil)
			So(done.Status, ShouldEqual, draft.StatusCompleted)
			So(done.CompletedAt, ShouldNotBeNil)

			_, err = h.eng.Snapshot(ctx, id)
			So(errors.Is(err, draft.ErrNotFound), ShouldBeTrue)
			So(h.scheduler.Active(), ShouldEqual, 0)

			So(eventually(func() bool {
				_, ok := h.rec.last(id, eventbus.TopicSessionCompleted)
				return ok
			}), ShouldBeTrue)
			ev, _ := h.rec.last(id, eventbus.TopicSessionCompleted)
			standings := ev.Payload.(eventbus.CompletedPayload).FinalStandings
			So(standings, ShouldHaveLength, 2)
			So(standings[0].CaptainID, ShouldEqual, "y")
			So(standings[0].BudgetRemaining, ShouldEqual, 70)
			So(standings[1].CaptainID, ShouldEqual, "x")

			stored, err := h.repo.FindByArena(ctx, "arena")
			So(err, ShouldBeNil)
			So(stored[0].Status, ShouldEqual, draft.StatusCompleted)
			So(stored[0].CheckInvariants(), ShouldBeNil)
		})

		Convey("Y cannot bid on X's turn", func() {
			_, err := h.eng.PlaceBid(ctx, id, "y", "p", 10)
			So(validationCode(err), ShouldContain, validation.CodeNotYourTurn)
			v := h.view(id)
			So(v.PickCount, ShouldEqual, 0)
			So(v.CurrentCaptain, ShouldEqual, "x")
		})

		Convey("X cannot bid beyond the budget", func() {
			_, err := h.eng.PlaceBid(ctx, id, "x", "p", 150)
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "Insufficient budget. Available: $100")
			So(h.view(id).Teams[0].BudgetRemaining, ShouldEqual, 100)
		})

		Convey("captains and the manager are not draftable", func() {
			_, err := h.eng.PlaceBid(ctx, id, "x", "y", 10)
			So(validationCode(err), ShouldContain, validation.CodeDraftCaptain)
			_, err = h.eng.PlaceBid(ctx, id, "x", "mgr", 10)
			So(validationCode(err), ShouldContain, validation.CodeDraftManager)
		})
	})
}

func TestTurnTimeout(t *testing.T) {
	Convey("Given an active session", t, func() {
		h := newHarness()
		defer h.close()
		id := h.activeSession("arena", defaultSettings, "x", "y")

		Convey("an expired turn passes to the next captain without a new round", func() {
			So(h.advance(10, func() bool { v := h.view(id); return v != nil && v.CurrentCaptain == "y" }), ShouldBeTrue)
			v := h.view(id)
			So(v.Round, ShouldEqual, 1)
			So(v.Teams[0].SkippedRound, ShouldBeFalse)

			So(eventually(func() bool {
				ts := h.rec.topics(id)
				return len(ts) >= 3 && ts[len(ts)-1] == eventbus.TopicTurnStarted && ts[len(ts)-3] == eventbus.TopicTurnTimedOut
			}), ShouldBeTrue)
			topics := h.rec.topics(id)
			So(topics[len(topics)-3:], ShouldResemble, []eventbus.Topic{
				eventbus.TopicTurnTimedOut,
				eventbus.TopicTurnSkipped,
				eventbus.TopicTurnStarted,
			})
			ev, _ := h.rec.last(id, eventbus.TopicTurnTimedOut)
			So(ev.Payload.(eventbus.TurnPayload).CaptainID, ShouldEqual, "x")

			Convey("and wrapping back to X starts round two", func() {
				So(h.advance(10, func() bool { v := h.view(id); return v != nil && v.CurrentCaptain == "x" }), ShouldBeTrue)
				So(h.view(id).Round, ShouldEqual, 2)
			})
		})

		Convey("a bid just before the deadline wins over the timeout", func() {
			h.clock.Add(9 * time.Second)
			_, err := h.eng.PlaceBid(ctx, id, "x", "p", 10)
			So(err, ShouldBeNil)
			h.clock.Add(time.Second)
			time.Sleep(20 * time.Millisecond)
			_, ok := h.rec.last(id, eventbus.TopicTurnTimedOut)
			So(ok, ShouldBeFalse)
		})
	})
}

func TestSkip(t *testing.T) {
	Convey("Given an active session", t, func() {
		h := newHarness()
		defer h.close()
		settings := defaultSettings
		settings.RosterSize = 2
		id := h.activeSession("arena", settings, "x", "y")

		Convey("the current captain can skip once", func() {
			v, err := h.eng.SkipTurn(ctx, id, "x")
			So(err, ShouldBeNil)
			So(v.CurrentCaptain, ShouldEqual, "y")
			So(v.Teams[0].SkippedRound, ShouldBeTrue)
		})

		Convey("the manager can skip for the current captain", func() {
			v, err := h.eng.SkipTurn(ctx, id, "mgr")
			So(err, ShouldBeNil)
			So(v.CurrentCaptain, ShouldEqual, "y")
			So(eventually(func() bool {
				ev, ok := h.rec.last(id, eventbus.TopicTurnSkipped)
				return ok && ev.Payload.(eventbus.TurnPayload).RequestedBy == "mgr"
			}), ShouldBeTrue)
		})

		Convey("other captains cannot skip", func() {
			_, err := h.eng.SkipTurn(ctx, id, "y")
			So(validationCode(err), ShouldContain, validation.CodeSkipNotAllowed)
		})
	})

	Convey("Given a restored session whose current captain already skipped", t, func() {
		h := newHarness()
		defer h.close()
		s := draft.New("r1", "arena", "mgr", draft.Settings{CaptainCount: 3, RosterSize: 2, Budget: 100, TurnTimeoutSec: 30, BidResetSec: 5}, h.clock.Now())
		for _, c := range []string{"x", "y", "z"} {
			s.AddCaptain(c)
		}
		s.Status = draft.StatusCountdown
		s.Start(h.clock.Now())
		s.Teams["x"].SkipsUsedForRound = 1
		So(h.repo.Save(ctx, s), ShouldBeNil)

		n, err := h.eng.Restore(ctx)
		So(err, ShouldBeNil)
		So(n, ShouldEqual, 1)

		Convey("a second skip in the round is rejected", func() {
			_, err := h.eng.SkipTurn(ctx, "r1", "x")
			So(validationCode(err), ShouldContain, validation.CodeSkipUsed)
			So(h.view("r1").CurrentCaptain, ShouldEqual, "x")
		})
	})
}

func TestRoundRobin(t *testing.T) {
	Convey("Given three captains and no skips", t, func() {
		h := newHarness()
		defer h.close()
		settings := draft.Settings{CaptainCount: 3, RosterSize: 3, Budget: 100, TurnTimeoutSec: 30, BidResetSec: 5}
		id := h.activeSession("arena", settings, "x", "y", "z")

		Convey("every captain bids once before the round increments", func() {
			var order []string
			for pick := 0; pick < 4; pick++ {
				v := h.view(id)
				order = append(order, fmt.Sprintf("%s@%d", v.CurrentCaptain, v.Round))
				_, err := h.eng.PlaceBid(ctx, id, v.CurrentCaptain, fmt.Sprintf("p%d", pick), 10)
				So(err, ShouldBeNil)
				So(h.advance(5, func() bool { v := h.view(id); return v != nil && !v.BetweenTurns }), ShouldBeTrue)
			}
			So(order, ShouldResemble, []string{"x@1", "y@1", "z@1", "x@2"})
		})
	})
}

func TestCancel(t *testing.T) {
	Convey("Given an active session", t, func() {
		h := newHarness()
		defer h.close()
		id := h.activeSession("arena", defaultSettings, "x", "y")

		Convey("outsiders cannot cancel", func() {
			_, err := h.eng.CancelSession(ctx, id, "stranger")
			So(validationCode(err), ShouldContain, validation.CodeCancelNotAllowed)
		})

		Convey("cancelling twice succeeds then reports not found", func() {
			v, err := h.eng.CancelSession(ctx, id, "y")
			So(err, ShouldBeNil)
			So(v.Status, ShouldEqual, draft.StatusCancelled)
			So(v.CancelReason, ShouldEqual, ReasonRequested)
			So(h.scheduler.Active(), ShouldEqual, 0)

			_, err = h.eng.CancelSession(ctx, id, "y")
			So(errors.Is(err, draft.ErrNotFound), ShouldBeTrue)

			So(eventually(func() bool {
				_, ok := h.rec.last(id, eventbus.TopicSessionCancelled)
				return ok
			}), ShouldBeTrue)
			seen := h.rec.count(id)
			h.clock.Add(time.Minute)
			time.Sleep(20 * time.Millisecond)
			So(h.rec.count(id), ShouldEqual, seen)

			ev, _ := h.rec.last(id, eventbus.TopicSessionCancelled)
			So(ev.Payload, ShouldResemble, eventbus.CancelledPayload{Reason: ReasonRequested, RequestedBy: "y"})
		})
	})
}

type panicOnce struct {
	next  eventbus.Publisher
	topic eventbus.Topic
	fired atomic.Bool
}

func (p *panicOnce) Publish(ctx context.Context, ev eventbus.Event) error {
	if ev.Topic == p.topic && p.fired.CompareAndSwap(false, true) {
		panic("presentation exploded")
	}
	return p.next.Publish(ctx, ev)
}

func TestInvariantViolation(t *testing.T) {
	Convey("Given a publisher that panics mid-command", t, func() {
		mock := clock.NewMock()
		bus := eventbus.New(eventbus.WithClock(mock), eventbus.WithLogger(logger.Nop()))
		defer bus.Close(ctx)
		rec := &recorder{}
		_, _ = bus.SubscribeAll(rec.handle)
		repo := repository.NewMemoryRepository()
		eng := New(repo, repo,
			WithClock(mock),
			WithPublisher(&panicOnce{next: bus, topic: eventbus.TopicCaptainAdded}),
			WithLogger(logger.Nop()),
		)
		defer eng.Shutdown(ctx)

		v, err := eng.CreateSession(ctx, "arena", "mgr", defaultSettings)
		So(err, ShouldBeNil)

		Convey("the session is force-cancelled", func() {
			_, err := eng.AddCaptain(ctx, "arena", "x")
			So(errors.Is(err, draft.ErrInvariant), ShouldBeTrue)

			_, err = eng.Snapshot(ctx, v.ID)
			So(errors.Is(err, draft.ErrNotFound), ShouldBeTrue)

			stored, _ := repo.FindByArena(ctx, "arena")
			So(stored[0].Status, ShouldEqual, draft.StatusCancelled)
			So(stored[0].CancelReason, ShouldEqual, ReasonInvariant)
			So(eventually(func() bool {
				_, ok := rec.last(v.ID, eventbus.TopicSessionCancelled)
				return ok
			}), ShouldBeTrue)
		})
	})
}

type blockingPublisher struct {
	release chan struct{}
	entered chan struct{}
}

func (b *blockingPublisher) Publish(_ context.Context, ev eventbus.Event) error {
	if ev.Topic == eventbus.TopicCaptainAdded {
		b.entered <- struct{}{}
		<-b.release
	}
	return nil
}

func TestBusyMailbox(t *testing.T) {
	Convey("Given a session whose actor is stuck", t, func() {
		pub := &blockingPublisher{release: make(chan struct{}), entered: make(chan struct{}, 4)}
		repo := repository.NewMemoryRepository()
		eng := New(repo, repo, WithPublisher(pub), WithLogger(logger.Nop()), WithMailboxSize(1))
		v, err := eng.CreateSession(ctx, "arena", "mgr", draft.Settings{CaptainCount: 4})
		So(err, ShouldBeNil)

		go eng.AddCaptain(ctx, "arena", "a")
		<-pub.entered
		a, _ := eng.sessions.GetByID(v.ID)
		go eng.AddCaptain(ctx, "arena", "b")
		So(eventually(func() bool { return a.mailbox.Len() == 1 }), ShouldBeTrue)

		Convey("further commands are rejected as busy", func() {
			_, err := eng.AddCaptain(ctx, "arena", "c")
			So(errors.Is(err, draft.ErrBusy), ShouldBeTrue)

			close(pub.release)
			So(eventually(func() bool {
				got, _ := eng.Snapshot(ctx, v.ID)
				return len(got.Captains) == 2
			}), ShouldBeTrue)
			So(eng.Shutdown(ctx), ShouldBeNil)
		})
	})
}

// gatePublisher holds the first event of topic until release is closed.
type gatePublisher struct {
	next    eventbus.Publisher
	topic   eventbus.Topic
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (g *gatePublisher) Publish(ctx context.Context, ev eventbus.Event) error {
	if ev.Topic == g.topic {
		g.once.Do(func() {
			g.entered <- struct{}{}
			<-g.release
		})
	}
	return g.next.Publish(ctx, ev)
}

func TestTimerFireWithFullMailbox(t *testing.T) {
	Convey("Given an actor stuck publishing a bid while its mailbox is full", t, func() {
		gate := &gatePublisher{topic: eventbus.TopicBidPlaced, entered: make(chan struct{}, 1), release: make(chan struct{})}
		h := newHarness(WithMailboxSize(1), WithPublisher(gate))
		gate.next = h.bus
		defer h.close()
		settings := defaultSettings
		settings.RosterSize = 2
		id := h.activeSession("arena", settings, "x", "y")

		bid := make(chan error, 1)
		go func() {
			_, err := h.eng.PlaceBid(ctx, id, "x", "p", 10)
			bid <- err
		}()
		<-gate.entered

		a, _ := h.eng.sessions.GetByID(id)
		skip := make(chan error, 1)
		go func() {
			_, err := h.eng.SkipTurn(ctx, id, "mgr")
			skip <- err
		}()
		So(eventually(func() bool { return a.mailbox.Len() == 1 }), ShouldBeTrue)

		h.clock.Add(5 * time.Second)
		So(eventually(func() bool { return a.pendingFires() == 1 }), ShouldBeTrue)

		_, err := h.eng.PlaceBid(ctx, id, "y", "q", 10)
		So(errors.Is(err, draft.ErrBusy), ShouldBeTrue)

		Convey("the bid reset still opens the next turn once the actor resumes", func() {
			close(gate.release)
			So(<-bid, ShouldBeNil)
			So(<-skip, ShouldBeNil)

			So(h.waitCaptain(id, "x"), ShouldBeTrue)
			v := h.view(id)
			So(v.BetweenTurns, ShouldBeFalse)
			So(v.Round, ShouldEqual, 2)
			So(v.PickCount, ShouldEqual, 1)
			So(a.pendingFires(), ShouldEqual, 0)

			So(eventually(func() bool {
				ev, ok := h.rec.last(id, eventbus.TopicTurnSkipped)
				return ok && ev.Payload.(eventbus.TurnPayload).RequestedBy == "mgr"
			}), ShouldBeTrue)
			So(h.scheduler.Active(), ShouldBeGreaterThan, 0)
		})
	})
}

func TestShutdownDuringCreate(t *testing.T) {
	Convey("Given a shutdown that lands while a session is being created", t, func() {
		var h *harness
		h = newHarness(WithIDGenerator(func() string {
			_ = h.eng.Shutdown(ctx)
			return "late"
		}))
		defer h.close()

		Convey("the session is never registered", func() {
			_, err := h.eng.CreateSession(ctx, "arena", "mgr", defaultSettings)
			So(errors.Is(err, ErrClosed), ShouldBeTrue)

			_, err = h.eng.Snapshot(ctx, "late")
			So(errors.Is(err, draft.ErrNotFound), ShouldBeTrue)
			So(h.eng.sessions.Len(), ShouldEqual, 0)
			So(h.eng.Stats().Live, ShouldEqual, 0)

			stored, err := h.repo.FindByArena(ctx, "arena")
			So(err, ShouldBeNil)
			So(stored, ShouldBeEmpty)
		})
	})
}

func TestRestore(t *testing.T) {
	Convey("Given persisted sessions", t, func() {
		h := newHarness()
		defer h.close()
		now := h.clock.Now()

		active := draft.New("a1", "arena-a", "mgr", defaultSettings, now)
		active.AddCaptain("x")
		active.AddCaptain("y")
		active.Status = draft.StatusCountdown
		active.Start(now)

		countdown := draft.New("c1", "arena-c", "mgr", defaultSettings, now)
		countdown.AddCaptain("x")
		countdown.AddCaptain("y")
		countdown.Status = draft.StatusCountdown

		broken := draft.New("b1", "arena-b", "mgr", defaultSettings, now)
		broken.AddCaptain("x")
		broken.Teams["x"].BudgetRemaining = -5

		for _, s := range []*draft.Session{active, countdown, broken} {
			So(h.repo.Save(ctx, s), ShouldBeNil)
		}

		n, err := h.eng.Restore(ctx)
		So(err, ShouldBeNil)
		So(n, ShouldEqual, 2)

		Convey("active sessions get a fresh turn timer", func() {
			v := h.view("a1")
			So(v.CurrentCaptain, ShouldEqual, "x")
			So(v.TurnDeadline, ShouldNotBeNil)
			So(h.advance(10, func() bool { v := h.view("a1"); return v != nil && v.CurrentCaptain == "y" }), ShouldBeTrue)
		})

		Convey("countdown sessions restart the countdown", func() {
			So(h.view("c1").CountdownRemaining, ShouldEqual, countdownSecs)
			So(h.runCountdown("c1"), ShouldBeTrue)
		})

		Convey("broken sessions stay down", func() {
			_, err := h.eng.Snapshot(ctx, "b1")
			So(errors.Is(err, draft.ErrNotFound), ShouldBeTrue)
		})

		Convey("restoring again skips live arenas", func() {
			n, err := h.eng.Restore(ctx)
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 0)
		})
	})
}

func TestHistoryStatsAndShutdown(t *testing.T) {
	Convey("Given finished and live sessions", t, func() {
		h := newHarness(WithMaxHistory(2))
		defer h.close()

		for i := 0; i < 3; i++ {
			v, err := h.eng.CreateSession(ctx, "arena", "mgr", defaultSettings)
			So(err, ShouldBeNil)
			_, err = h.eng.CancelSession(ctx, v.ID, "mgr")
			So(err, ShouldBeNil)
			h.clock.Add(time.Minute)
		}
		live, _ := h.eng.CreateSession(ctx, "other", "mgr", defaultSettings)

		Convey("history is newest first and capped", func() {
			views, err := h.eng.History(ctx, "arena")
			So(err, ShouldBeNil)
			So(views, ShouldHaveLength, 2)
			So(views[0].ID, ShouldEqual, "s3")
			So(views[0].Status, ShouldEqual, draft.StatusCancelled)

			_, err = h.eng.History(ctx, " ")
			So(validationCode(err), ShouldContain, validation.CodeArenaRequired)
		})

		Convey("stats count live sessions", func() {
			st := h.eng.Stats()
			So(st.Live, ShouldEqual, 1)
			So(st.ByStatus[draft.StatusWaiting], ShouldEqual, 1)
		})

		Convey("shutdown keeps sessions resumable", func() {
			h.eng.AddCaptain(ctx, "other", "x")
			h.eng.AddCaptain(ctx, "other", "y")
			So(h.eng.Shutdown(ctx), ShouldBeNil)
			So(h.scheduler.Active(), ShouldEqual, 0)
			So(h.eng.Stats().Closed, ShouldBeTrue)

			_, err := h.eng.SkipTurn(ctx, live.ID, "mgr")
			So(errors.Is(err, ErrClosed), ShouldBeTrue)
			_, err = h.eng.CreateSession(ctx, "new", "mgr", defaultSettings)
			So(errors.Is(err, ErrClosed), ShouldBeTrue)

			active, err := h.repo.FindActive(ctx)
			So(err, ShouldBeNil)
			So(active, ShouldHaveLength, 1)
			So(active[0].Status, ShouldEqual, draft.StatusCountdown)
		})
	})
}

func TestSpans(t *testing.T) {
	Convey("Given a recording tracer", t, func() {
		sr := tracetest.NewSpanRecorder()
		tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
		h := newHarness(WithTracer(tp.Tracer("engine-test")))
		defer h.close()

		Convey("each command opens a span named after its operation", func() {
			v, err := h.eng.CreateSession(ctx, "arena", "mgr", defaultSettings)
			So(err, ShouldBeNil)
			_, err = h.eng.PlaceBid(ctx, v.ID, "x", "p", 10)
			So(err, ShouldNotBeNil)
			_, err = h.eng.SkipTurn(ctx, "missing", "x")
			So(err, ShouldNotBeNil)

			spans := sr.Ended()
			So(spans, ShouldHaveLength, 3)
			So(spans[0].Name(), ShouldEqual, "engine.createSession")
			So(spans[0].Status().Code, ShouldEqual, codes.Unset)
			So(spans[1].Name(), ShouldEqual, "engine.placeBid")
			So(spans[1].Status().Code, ShouldEqual, codes.Unset)
			So(spans[2].Name(), ShouldEqual, "engine.skipTurn")
			So(spans[2].Status().Code, ShouldEqual, codes.Error)
		})
	})
}
