package engine

import (
	"context"
	"time"

	"github.com/okian/draftd/internal/adapters/mq/eventbus"
	"github.com/okian/draftd/internal/adapters/timer"
	"github.com/okian/draftd/internal/domain/draft"
	"github.com/okian/draftd/internal/domain/validation"
	"github.com/okian/draftd/pkg/logger"
	"github.com/okian/draftd/pkg/metrics"
)

func (a *actor) addCaptain(ctx context.Context, userID string) error {
	if res := validation.ValidateJoin(a.s, userID); !res.OK() {
		return res.Err()
	}
	a.s.AddCaptain(userID)
	a.s.UpdatedAt = a.e.clock.Now()
	if err := a.check(ctx); err != nil {
		return err
	}
	a.persist(ctx)
	a.publish(ctx, eventbus.TopicCaptainAdded, a.captainPayload(userID))
	if a.s.IsFull() {
		return a.startCountdown(ctx)
	}
	return nil
}

func (a *actor) removeCaptain(ctx context.Context, userID string) error {
	if res := validation.ValidateLeave(a.s, userID); !res.OK() {
		return res.Err()
	}
	a.s.RemoveCaptain(userID)
	a.s.UpdatedAt = a.e.clock.Now()
	if err := a.check(ctx); err != nil {
		return err
	}
	a.persist(ctx)
	a.publish(ctx, eventbus.TopicCaptainRemoved, a.captainPayload(userID))
	return nil
}

func (a *actor) captainPayload(userID string) eventbus.CaptainPayload {
	return eventbus.CaptainPayload{
		UserID:   userID,
		Captains: len(a.s.Participants),
		Needed:   a.s.Settings.CaptainCount - len(a.s.Participants),
	}
}

func (a *actor) startCountdown(ctx context.Context) error {
	a.s.Status = draft.StatusCountdown
	a.s.UpdatedAt = a.e.clock.Now()
	a.persist(ctx)

	total := int(a.e.countdown / time.Second)
	a.countdownTotal, a.countdownLeft = total, total
	a.publish(ctx, eventbus.TopicCountdownStarted, eventbus.CountdownPayload{Remaining: total, Total: total})
	if total <= 0 {
		return a.begin(ctx)
	}
	a.armRepeating(timer.KindCountdown, time.Second)
	return nil
}

func (a *actor) onCountdownTick(ctx context.Context, tick int) error {
	if a.s.Status != draft.StatusCountdown {
		a.disarm(timer.KindCountdown)
		return nil
	}
	a.countdownLeft = max(a.countdownTotal-tick, 0)
	a.publish(ctx, eventbus.TopicCountdownTick, eventbus.CountdownPayload{Remaining: a.countdownLeft, Total: a.countdownTotal})
	if a.countdownLeft > 0 {
		return nil
	}
	a.disarm(timer.KindCountdown)
	return a.begin(ctx)
}

// begin moves the session to active and opens the first turn.
func (a *actor) begin(ctx context.Context) error {
	a.s.Start(a.e.clock.Now())
	if err := a.check(ctx); err != nil {
		return err
	}
	a.persist(ctx)
	a.publish(ctx, eventbus.TopicSessionStarted, eventbus.SessionPayload{ManagerID: a.s.ManagerID, Settings: a.s.Settings})
	a.startTurn(ctx)
	return nil
}

// startTurn arms the turn timer for the current captain.
func (a *actor) startTurn(ctx context.Context) {
	a.arm(timer.KindTurn, a.s.Settings.TurnTimeout())
	p := eventbus.TurnPayload{CaptainID: a.s.CurrentCaptain(), Round: a.s.Round}
	if d, ok := a.e.scheduler.Deadline(a.id, timer.KindTurn); ok {
		p.Deadline = &d
	}
	a.publish(ctx, eventbus.TopicTurnStarted, p)
}

func (a *actor) placeBid(ctx context.Context, captainID, playerID string, amount int) error {
	if res := validation.ValidateBid(a.s, captainID, playerID, amount); !res.OK() {
		return res.Err()
	}
	now := a.e.clock.Now()
	a.disarm(timer.KindTurn)

	pick, rosterFull := a.s.ApplyBid(playerID, amount, now)
	complete := a.s.RotationEmpty()
	if complete {
		a.s.Complete(now)
	} else {
		a.s.BetweenTurns = true
	}
	if err := a.check(ctx); err != nil {
		return err
	}
	metrics.RecordBid(amount)

	payload := eventbus.BidPayload{
		CaptainID:       captainID,
		PlayerID:        playerID,
		Amount:          amount,
		Round:           pick.Round,
		PickNumber:      pick.PickNumber,
		BudgetRemaining: a.s.Teams[captainID].BudgetRemaining,
		RosterComplete:  rosterFull,
	}
	if complete {
		a.publish(ctx, eventbus.TopicBidPlaced, payload)
		a.finish(ctx, ReasonRostersComplete, "")
		return nil
	}
	a.arm(timer.KindBidReset, a.s.Settings.BidReset())
	a.persist(ctx)
	a.publish(ctx, eventbus.TopicBidPlaced, payload)
	a.logger.Debug(ctx, "bid placed",
		logger.String("captainID", captainID),
		logger.String("playerID", playerID),
		logger.Int("amount", amount),
		logger.Bool("rosterComplete", rosterFull),
	)
	return nil
}

func (a *actor) onBidReset(ctx context.Context) error {
	if a.s.Status != draft.StatusActive || !a.s.BetweenTurns {
		return nil
	}
	a.s.EndBidReset(a.e.clock.Now())
	if err := a.check(ctx); err != nil {
		return err
	}
	a.persist(ctx)
	a.startTurn(ctx)
	return nil
}

func (a *actor) skipTurn(ctx context.Context, requesterID string) error {
	if res := validation.ValidateSkip(a.s, requesterID); !res.OK() {
		return res.Err()
	}
	a.disarm(timer.KindTurn)
	round := a.s.Round
	captainID := a.s.ApplySkip(false, a.e.clock.Now())
	if err := a.check(ctx); err != nil {
		return err
	}
	metrics.RecordTurnSkipped("manual")
	a.persist(ctx)
	a.publish(ctx, eventbus.TopicTurnSkipped, eventbus.TurnPayload{CaptainID: captainID, Round: round, RequestedBy: requesterID})
	a.startTurn(ctx)
	return nil
}

// onTurnTimeout skips the current captain without using their skip.
func (a *actor) onTurnTimeout(ctx context.Context) error {
	if a.s.Status != draft.StatusActive || a.s.BetweenTurns {
		return nil
	}
	round := a.s.Round
	captainID := a.s.CurrentCaptain()
	a.publish(ctx, eventbus.TopicTurnTimedOut, eventbus.TurnPayload{CaptainID: captainID, Round: round})

	a.s.ApplySkip(true, a.e.clock.Now())
	if err := a.check(ctx); err != nil {
		return err
	}
	metrics.RecordTurnSkipped("timeout")
	a.persist(ctx)
	a.publish(ctx, eventbus.TopicTurnSkipped, eventbus.TurnPayload{CaptainID: captainID, Round: round})
	a.startTurn(ctx)
	return nil
}

func (a *actor) cancel(ctx context.Context, requesterID string) error {
	if res := validation.ValidateCancel(a.s, requesterID); !res.OK() {
		return res.Err()
	}
	a.s.Cancel(ReasonRequested, a.e.clock.Now())
	a.finish(ctx, ReasonRequested, requesterID)
	return nil
}

// rearm restores the timers of a recovered session. It runs before the
// actor's loop starts.
func (a *actor) rearm(ctx context.Context) {
	switch a.s.Status {
	case draft.StatusCountdown:
		total := int(a.e.countdown / time.Second)
		a.countdownTotal, a.countdownLeft = total, total
		if total <= 0 {
			if err := a.begin(ctx); err != nil {
				a.logger.Error(ctx, "restore failed", logger.Error(err))
			}
			return
		}
		a.armRepeating(timer.KindCountdown, time.Second)
		a.publish(ctx, eventbus.TopicCountdownStarted, eventbus.CountdownPayload{Remaining: total, Total: total})
	case draft.StatusActive:
		if a.s.BetweenTurns {
			a.arm(timer.KindBidReset, a.s.Settings.BidReset())
			return
		}
		a.startTurn(ctx)
	}
}
