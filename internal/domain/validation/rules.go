package validation

import (
	"fmt"
	"strings"

	"github.com/okian/draftd/internal/domain/draft"
)

// CreateOptions is a createSession request after defaults were applied.
type CreateOptions struct {
	ArenaID   string
	ManagerID string
	Settings  draft.Settings
}

// ValidateCreation checks identities and settings bounds.
func ValidateCreation(o CreateOptions) Result {
	var r Result
	if strings.TrimSpace(o.ArenaID) == "" {
		r.add(CodeArenaRequired, "Arena ID is required")
	}
	if strings.TrimSpace(o.ManagerID) == "" {
		r.add(CodeManagerRequired, "Manager ID is required")
	}
	s := o.Settings
	if s.CaptainCount < MinCaptains || s.CaptainCount > MaxCaptains {
		r.add(CodeCaptainCount, fmt.Sprintf("Captains must be between %d and %d", MinCaptains, MaxCaptains))
	}
	if s.RosterSize < MinRosterSize || s.RosterSize > MaxRosterSize {
		r.add(CodeRosterSize, fmt.Sprintf("Roster size must be between %d and %d", MinRosterSize, MaxRosterSize))
	}
	if s.Budget < MinBudget || s.Budget > MaxBudget {
		r.add(CodeBudget, fmt.Sprintf("Budget must be between %d and %d", MinBudget, MaxBudget))
	}
	if s.TurnTimeoutSec < MinTurnTimeoutSec || s.TurnTimeoutSec > MaxTurnTimeoutSec {
		r.add(CodeTurnTimeout, fmt.Sprintf("Turn time must be between %d and %d seconds", MinTurnTimeoutSec, MaxTurnTimeoutSec))
	}
	if s.BidResetSec < MinBidResetSec || s.BidResetSec > MaxBidResetSec {
		r.add(CodeBidReset, fmt.Sprintf("Bid time must be between %d and %d seconds", MinBidResetSec, MaxBidResetSec))
	}
	return r
}

// ValidateJoin checks that userID may become a captain.
func ValidateJoin(s *draft.Session, userID string) Result {
	var r Result
	if strings.TrimSpace(userID) == "" {
		r.add(CodeUserRequired, "User ID is required")
		return r
	}
	if s.Status != draft.StatusWaiting {
		r.add(CodeAlreadyStarted, "Cannot join after draft has started")
	}
	if s.IsCaptain(userID) {
		r.add(CodeAlreadyCaptain, "You are already a captain")
	}
	if s.IsFull() {
		r.add(CodeDraftFull, "Draft is full")
	}
	if userID == s.ManagerID {
		r.add(CodeManagerNotCaptain, "Draft manager cannot be a captain")
	}
	return r
}

// ValidateLeave checks that userID may leave before the draft starts.
func ValidateLeave(s *draft.Session, userID string) Result {
	var r Result
	if s.Status != draft.StatusWaiting {
		r.add(CodeAlreadyStarted, "Cannot leave after draft has started")
	}
	if !s.IsCaptain(userID) {
		r.add(CodeNotCaptain, "You are not a captain in this draft")
	}
	return r
}

// ValidateBid checks a bid by captainID for playerID.
func ValidateBid(s *draft.Session, captainID, playerID string, amount int) Result {
	var r Result
	if s.Status != draft.StatusActive {
		r.add(CodeNotActive, "Draft is not active")
		return r
	}
	if s.BetweenTurns {
		r.add(CodeTurnNotStarted, "Next turn has not started yet")
		return r
	}
	team, isCaptain := s.Teams[captainID]
	if !isCaptain {
		r.add(CodeNotCaptain, "You are not a captain in this draft")
	} else if s.CurrentCaptain() != captainID {
		r.add(CodeNotYourTurn, "Not your turn")
	}
	if amount <= 0 {
		r.add(CodeInvalidAmount, "Bid amount must be a positive integer")
	} else if team != nil && amount > team.BudgetRemaining {
		r.add(CodeInsufficientFunds, fmt.Sprintf("Insufficient budget. Available: $%d", team.BudgetRemaining))
	}
	if strings.TrimSpace(playerID) == "" {
		r.add(CodePlayerRequired, "Player ID is required")
		return r
	}
	if _, taken := s.DraftedBy(playerID); taken {
		r.add(CodeAlreadyDrafted, "Player has already been drafted")
	}
	if team != nil && team.RosterFull(s.Settings.RosterSize) {
		r.add(CodeRosterFull, "Your roster is full")
	}
	if s.IsCaptain(playerID) {
		r.add(CodeDraftCaptain, "Cannot draft a captain")
	}
	if playerID == s.ManagerID {
		r.add(CodeDraftManager, "Cannot draft the draft manager")
	}
	return r
}

// ValidateSkip checks a skip requested by requesterID.
func ValidateSkip(s *draft.Session, requesterID string) Result {
	var r Result
	if s.Status != draft.StatusActive {
		r.add(CodeNotActive, "Draft is not active")
		return r
	}
	if s.BetweenTurns {
		r.add(CodeTurnNotStarted, "Next turn has not started yet")
		return r
	}
	current := s.CurrentCaptain()
	if requesterID != current && requesterID != s.ManagerID {
		r.add(CodeSkipNotAllowed, "Only the current captain or draft manager can skip turns")
		return r
	}
	if team := s.Teams[current]; team != nil && team.HasSkipped(s.Round) {
		r.add(CodeSkipUsed, "You can only skip once per round")
	}
	return r
}

// ValidateCancel checks that requesterID may cancel the session.
func ValidateCancel(s *draft.Session, requesterID string) Result {
	var r Result
	if requesterID != s.ManagerID && !s.IsCaptain(requesterID) {
		r.add(CodeCancelNotAllowed, "Only the draft manager or captains can cancel the draft")
	}
	switch s.Status {
	case draft.StatusCompleted:
		r.add(CodeAlreadyFinished, "Cannot cancel a completed draft")
	case draft.StatusCancelled:
		r.add(CodeAlreadyFinished, "Draft is already cancelled")
	}
	return r
}
