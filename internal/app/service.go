// Package service wires storage, the persistence writers, the event bus, the
// timer scheduler and the draft engine into one startable unit that
// implements the dependencies required by the HTTP API.
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/errgroup"

	"github.com/okian/draftd/internal/adapters/mq/eventbus"
	"github.com/okian/draftd/internal/adapters/mq/worker"
	"github.com/okian/draftd/internal/adapters/repository"
	"github.com/okian/draftd/internal/adapters/timer"
	"github.com/okian/draftd/internal/config"
	"github.com/okian/draftd/internal/domain/dedupe"
	"github.com/okian/draftd/internal/domain/draft"
	"github.com/okian/draftd/internal/engine"
	"github.com/okian/draftd/pkg/logger"
	"github.com/okian/draftd/pkg/metrics"
)

const stopTimeout = 30 * time.Second

// Service owns every long-lived component of the draft server.
type Service struct {
	mu sync.RWMutex

	cfg   *config.Config
	clock clock.Clock

	// Core components
	repo      repository.Repository
	ownsRepo  bool
	writer    *worker.Pool
	bus       *eventbus.Bus
	scheduler *timer.Scheduler
	engine    *engine.Engine
	deduper   dedupe.Deduper

	// State
	started   bool
	restored  int
	stopCh    chan struct{}
	sweepDone chan struct{}

	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithConfig sets the configuration. Defaults from config.New are used
// otherwise.
func WithConfig(cfg *config.Config) Option {
	return func(s *Service) {
		if cfg != nil {
			s.cfg = cfg
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock sets the clock shared by timers, events and the sweeper.
func WithClock(c clock.Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithRepository supplies an already opened repository instead of opening
// the configured driver. The service does not close it.
func WithRepository(r repository.Repository) Option {
	return func(s *Service) {
		if r != nil {
			s.repo = r
		}
	}
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		cfg:   config.New(),
		clock: clock.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start opens storage, starts the writers and the engine, restores persisted
// sessions and launches the archive sweeper.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get()
	}
	s.logger.Info(ctx, "starting draft service...", logger.String("storage", s.cfg.StorageDriver))

	if s.repo == nil {
		repo, err := openRepository(ctx, s.cfg)
		if err != nil {
			return fmt.Errorf("open %s repository: %w", s.cfg.StorageDriver, err)
		}
		s.repo = repo
		s.ownsRepo = true
	}

	// Background work must outlive the start request.
	runCtx := context.WithoutCancel(ctx)

	s.writer = worker.NewPool(s.repo,
		worker.WithShards(s.cfg.PersistWorkers),
		worker.WithQueueSize(s.cfg.PersistQueueSize),
		worker.WithPoolLogger(s.logger.Named("persist")),
	)
	s.writer.Start(runCtx)

	s.bus = eventbus.New(eventbus.WithClock(s.clock), eventbus.WithLogger(s.logger.Named("eventbus")))
	s.scheduler = timer.NewScheduler(timer.WithClock(s.clock), timer.WithLogger(s.logger.Named("scheduler")))
	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.cfg.DedupeSize), dedupe.WithClock(s.clock))
	s.engine = engine.New(s.writer, s.repo,
		engine.WithClock(s.clock),
		engine.WithScheduler(s.scheduler),
		engine.WithPublisher(s.bus),
		engine.WithLogger(s.logger.Named("engine")),
		engine.WithDefaults(draft.Settings{
			CaptainCount:   s.cfg.DefaultCaptains,
			RosterSize:     s.cfg.DefaultRosterSize,
			Budget:         s.cfg.DefaultBudget,
			TurnTimeoutSec: s.cfg.DefaultTurnTimeoutSec,
			BidResetSec:    s.cfg.DefaultBidResetSec,
		}),
		engine.WithCountdown(s.cfg.Countdown()),
		engine.WithMailboxSize(s.cfg.MailboxSize),
		engine.WithMaxHistory(s.cfg.MaxHistory),
	)

	restored, err := s.engine.Restore(ctx)
	if err != nil {
		// A failed restore leaves the service usable for new sessions.
		s.logger.Error(ctx, "restore failed", logger.Error(err))
	}
	s.restored = restored

	s.stopCh = make(chan struct{})
	s.sweepDone = make(chan struct{})
	if interval := s.cfg.ArchiveSweepInterval(); interval > 0 {
		go s.sweepLoop(runCtx, interval)
	} else {
		close(s.sweepDone)
	}

	s.started = true
	s.logger.Info(ctx, "draft service started",
		logger.Int("restored", restored),
		logger.Int("writers", s.writer.Shards()),
		logger.Int("mailboxSize", s.cfg.MailboxSize),
	)
	return nil
}

func openRepository(ctx context.Context, cfg *config.Config) (repository.Repository, error) {
	switch cfg.StorageDriver {
	case config.StorageSQLite:
		return repository.OpenSQLite(ctx, cfg.SQLitePath)
	case config.StorageRedis:
		return repository.OpenRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB,
			repository.WithKeyPrefix(cfg.RedisKeyPrefix))
	case config.StorageMemory, "":
		return repository.NewMemoryRepository(), nil
	}
	return nil, fmt.Errorf("%w: unknown driver %q", repository.ErrNotConfigured, cfg.StorageDriver)
}

// Stop shuts the service down. Live sessions are left as persisted so the
// next Start restores them.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	s.logger.Info(ctx, "stopping draft service...")

	close(s.stopCh)
	<-s.sweepDone

	if err := s.engine.Shutdown(ctx); err != nil {
		s.logger.Error(ctx, "engine shutdown failed", logger.Error(err))
	}
	s.scheduler.Stop()

	// The engine is quiet now; flush writes and drain subscribers together.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.writer.Shutdown(gctx) })
	g.Go(func() error { return s.bus.Close(gctx) })
	if err := g.Wait(); err != nil {
		s.logger.Error(ctx, "drain failed", logger.Error(err))
	}

	if s.ownsRepo {
		if err := s.repo.Close(); err != nil {
			s.logger.Error(ctx, "repository close failed", logger.Error(err))
		}
		s.repo = nil
	}

	s.started = false
	s.logger.Info(ctx, "draft service stopped")
}

func (s *Service) sweepLoop(ctx context.Context, interval time.Duration) {
	defer close(s.sweepDone)
	ticker := s.clock.Ticker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			if _, err := s.SweepArchives(ctx); err != nil {
				s.logger.Error(ctx, "archive sweep failed", logger.Error(err))
			}
		}
	}
}

// SweepArchives deletes terminal sessions older than the retention window
// and returns how many deletes were queued.
func (s *Service) SweepArchives(ctx context.Context) (int, error) {
	cutoff := s.clock.Now().Add(-s.cfg.ArchiveRetention())
	ids, err := s.repo.ListArchivedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list archived sessions: %w", err)
	}
	n := 0
	for _, id := range ids {
		if err := s.writer.Delete(ctx, id); err != nil {
			continue
		}
		n++
	}
	metrics.RecordArchivesSwept(n)
	if n > 0 {
		s.logger.Info(ctx, "archived sessions swept", logger.Int("count", n), logger.Time("before", cutoff))
	}
	return n, nil
}

// Engine exposes the running engine.
func (s *Service) Engine() *engine.Engine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// CreateSession opens a session in arenaID.
func (s *Service) CreateSession(ctx context.Context, arenaID, managerID string, settings draft.Settings) (*draft.View, error) {
	return s.Engine().CreateSession(ctx, arenaID, managerID, settings)
}

// AddCaptain joins userID to the session of arenaID.
func (s *Service) AddCaptain(ctx context.Context, arenaID, userID string) (*draft.View, error) {
	return s.Engine().AddCaptain(ctx, arenaID, userID)
}

// RemoveCaptain takes userID out of the session of arenaID.
func (s *Service) RemoveCaptain(ctx context.Context, arenaID, userID string) (*draft.View, error) {
	return s.Engine().RemoveCaptain(ctx, arenaID, userID)
}

// PlaceBid places a bid.
func (s *Service) PlaceBid(ctx context.Context, sessionID, captainID, playerID string, amount int) (*draft.View, error) {
	return s.Engine().PlaceBid(ctx, sessionID, captainID, playerID, amount)
}

// SkipTurn skips the current turn.
func (s *Service) SkipTurn(ctx context.Context, sessionID, requesterID string) (*draft.View, error) {
	return s.Engine().SkipTurn(ctx, sessionID, requesterID)
}

// CancelSession cancels a session.
func (s *Service) CancelSession(ctx context.Context, sessionID, requesterID string) (*draft.View, error) {
	return s.Engine().CancelSession(ctx, sessionID, requesterID)
}

// Snapshot returns a live session by id.
func (s *Service) Snapshot(ctx context.Context, sessionID string) (*draft.View, error) {
	return s.Engine().Snapshot(ctx, sessionID)
}

// SnapshotByArena returns the live session of arenaID.
func (s *Service) SnapshotByArena(ctx context.Context, arenaID string) (*draft.View, error) {
	return s.Engine().SnapshotByArena(ctx, arenaID)
}

// History returns past sessions of arenaID.
func (s *Service) History(ctx context.Context, arenaID string) ([]*draft.View, error) {
	return s.Engine().History(ctx, arenaID)
}

// Subscribe registers h for topics; no topics means every topic.
func (s *Service) Subscribe(topics []eventbus.Topic, h eventbus.Handler) (eventbus.Handle, error) {
	s.mu.RLock()
	bus := s.bus
	s.mu.RUnlock()
	if bus == nil {
		return 0, eventbus.ErrClosed
	}
	if len(topics) == 0 {
		return bus.SubscribeAll(h)
	}
	return bus.SubscribeTopics(topics, h)
}

// Unsubscribe removes a subscription.
func (s *Service) Unsubscribe(h eventbus.Handle) {
	s.mu.RLock()
	bus := s.bus
	s.mu.RUnlock()
	if bus != nil {
		bus.Unsubscribe(h)
	}
}

// Claim records an idempotency key and reports whether it is new.
func (s *Service) Claim(ctx context.Context, key string) bool {
	first := s.deduper.Claim(ctx, key)
	if !first {
		metrics.RecordDuplicateCommand()
	}
	return first
}

// Release forgets an idempotency key so the command can be retried.
func (s *Service) Release(ctx context.Context, key string) {
	s.deduper.Release(ctx, key)
}

// Size returns the number of remembered idempotency keys.
func (s *Service) Size() int {
	if s.deduper == nil {
		return 0
	}
	return s.deduper.Size()
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]interface{}{
		"started":       s.started,
		"storage":       s.cfg.StorageDriver,
		"persistShards": s.cfg.PersistWorkers,
		"mailboxSize":   s.cfg.MailboxSize,
		"dedupeSize":    s.cfg.DedupeSize,
	}
	if s.started {
		st := s.engine.Stats()
		byStatus := make(map[string]int, len(st.ByStatus))
		for status, n := range st.ByStatus {
			byStatus[string(status)] = n
		}
		stats["liveSessions"] = st.Live
		stats["sessionsByStatus"] = byStatus
		stats["activeTimers"] = st.Timers
		stats["pendingWrites"] = s.writer.Pending()
		stats["subscribers"] = s.bus.Subscribers()
		stats["idempotencyKeys"] = s.deduper.Size()
		stats["restored"] = s.restored

		metrics.UpdateSessionsLive(st.Live)
		metrics.UpdateTimersActive(st.Timers)
	}
	return stats
}
