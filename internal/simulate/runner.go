package simulate

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/okian/draftd/internal/domain/draft"
	"github.com/okian/draftd/pkg/logger"
)

// Runner executes simulations against one service.
type Runner struct {
	cfg    Config
	client *client
	logger logger.Logger

	mu       sync.Mutex
	stats    Stats
	failures []error
}

// NewRunner validates cfg and builds a Runner.
func NewRunner(cfg Config, l logger.Logger) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	if l == nil {
		l = logger.Get().Named("simulate")
	}
	return &Runner{cfg: cfg, client: newClient(cfg.BaseURL, cfg.Timeout), logger: l}, nil
}

// Run drives every session to completion and verifies the results. Sessions
// that finish in an inconsistent state are reported together in the error.
func (r *Runner) Run(ctx context.Context) (Stats, error) {
	start := time.Now()
	r.logger.Info(ctx, "starting draft simulation",
		logger.String("baseURL", r.cfg.BaseURL),
		logger.Int("sessions", r.cfg.Sessions),
		logger.Int("captains", r.cfg.Captains),
		logger.Int("rosterSize", r.cfg.RosterSize),
		logger.Int64("seed", r.cfg.Seed))

	if err := r.client.health(ctx); err != nil {
		return Stats{}, fmt.Errorf("service health check failed: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < r.cfg.Sessions; i++ {
		rng := rand.New(rand.NewPCG(uint64(r.cfg.Seed), uint64(i)))
		g.Go(func() error { return r.session(gctx, rng) })
	}
	err := g.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats.Duration = time.Since(start)
	r.logger.Info(ctx, "final statistics",
		logger.Int("sessionsStarted", r.stats.SessionsStarted),
		logger.Int("sessionsCompleted", r.stats.SessionsCompleted),
		logger.Int("sessionsFailed", r.stats.SessionsFailed),
		logger.Int("bids", r.stats.Bids),
		logger.Int("skips", r.stats.Skips),
		logger.Int("rejections", r.stats.Rejections),
		logger.Duration("duration", r.stats.Duration))

	if err != nil {
		return r.stats, err
	}
	return r.stats, errors.Join(r.failures...)
}

func (r *Runner) count(fn func(*Stats)) {
	r.mu.Lock()
	fn(&r.stats)
	r.mu.Unlock()
}

func (r *Runner) fail(err error) {
	r.mu.Lock()
	r.stats.SessionsFailed++
	r.failures = append(r.failures, err)
	r.mu.Unlock()
}

// session runs one draft. Transport errors abort the whole run.
func (r *Runner) session(ctx context.Context, rng *rand.Rand) error {
	arena := "sim-" + uuid.NewString()[:8]
	v, err := r.client.create(ctx, arena, "mgr-"+arena, draft.Settings{
		CaptainCount:   r.cfg.Captains,
		RosterSize:     r.cfg.RosterSize,
		Budget:         r.cfg.Budget,
		TurnTimeoutSec: turnTimeout,
		BidResetSec:    bidReset,
	})
	if err != nil {
		return fmt.Errorf("create session in %s: %w", arena, err)
	}
	r.count(func(s *Stats) { s.SessionsStarted++ })
	id := v.ID

	for i := 0; i < r.cfg.Captains; i++ {
		if err := r.client.join(ctx, arena, fmt.Sprintf("cap-%s-%d", arena, i)); err != nil {
			return fmt.Errorf("join %s: %w", arena, err)
		}
	}

	picks := 0
	for {
		v, err := r.client.get(ctx, id)
		if errors.Is(err, errNotFound) {
			break
		}
		if err != nil {
			return err
		}
		if !actionable(v) {
			if err := sleep(ctx, pollInterval); err != nil {
				return err
			}
			continue
		}

		captain := v.CurrentCaptain
		act := decide(v, captain, rng, r.cfg.SkipRate)
		if act.skip {
			err = r.client.skip(ctx, id, captain)
		} else {
			picks++
			err = r.client.bid(ctx, id, captain, fmt.Sprintf("p-%s-%d", arena, picks), act.amount)
		}
		if ae, ok := rejected(err); ok {
			// The turn can time out between the read and the command.
			r.count(func(s *Stats) { s.Rejections++ })
			if r.cfg.Verbose {
				r.logger.Debug(ctx, "command rejected", logger.String("session", id), logger.String("code", ae.Code))
			}
			continue
		}
		if errors.Is(err, errNotFound) {
			break
		}
		if err != nil {
			return err
		}
		if act.skip {
			r.count(func(s *Stats) { s.Skips++ })
		} else {
			r.count(func(s *Stats) { s.Bids++ })
		}
	}

	final, err := r.final(ctx, arena, id)
	if err != nil {
		return err
	}
	if err := Verify(final, r.cfg); err != nil {
		r.fail(fmt.Errorf("session %s: %w", id, err))
		return nil
	}
	r.count(func(s *Stats) { s.SessionsCompleted++ })
	if r.cfg.Verbose {
		r.logger.Info(ctx, "session verified", logger.String("session", id), logger.Int("picks", final.PickCount))
	}
	return nil
}

// final waits for the terminal record to reach storage.
func (r *Runner) final(ctx context.Context, arena, id string) (*draft.View, error) {
	for {
		views, err := r.client.history(ctx, arena)
		if err != nil {
			return nil, err
		}
		for _, v := range views {
			if v.ID == id && v.Status.Terminal() {
				return v, nil
			}
		}
		if err := sleep(ctx, pollInterval); err != nil {
			return nil, fmt.Errorf("waiting for final state of %s: %w", id, err)
		}
	}
}

func actionable(v *draft.View) bool {
	return v.Status == draft.StatusActive && !v.BetweenTurns && v.CurrentCaptain != ""
}

type action struct {
	skip   bool
	amount int
}

// decide picks a skip or a bid that leaves one unit for every open slot.
func decide(v *draft.View, captain string, rng *rand.Rand, skipRate float64) action {
	var team *draft.TeamView
	for i := range v.Teams {
		if v.Teams[i].CaptainID == captain {
			team = &v.Teams[i]
			break
		}
	}
	if team == nil {
		return action{amount: 1}
	}
	if !team.SkippedRound && rng.Float64() < skipRate {
		return action{skip: true}
	}
	open := v.Settings.RosterSize - len(team.Players)
	limit := team.BudgetRemaining - (open - 1)
	if limit < 1 {
		limit = 1
	}
	return action{amount: 1 + rng.IntN(limit)}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
