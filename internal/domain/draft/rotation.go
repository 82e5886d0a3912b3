package draft

import "time"

// AdvanceTurn moves the rotation forward by one captain and reports whether
// it wrapped, which starts a new round.
func (s *Session) AdvanceTurn() bool {
	if len(s.Captains) == 0 {
		s.CurrentTurnIndex = 0
		return false
	}
	s.CurrentTurnIndex++
	if s.CurrentTurnIndex >= len(s.Captains) {
		s.CurrentTurnIndex = 0
		s.Round++
		return true
	}
	return false
}

// RemoveFromRotation takes captainID out of the turn order. Later captains
// shift down by one; if the index falls off the end it wraps to 0 and the
// round advances. The return value reports that wrap.
func (s *Session) RemoveFromRotation(captainID string) bool {
	idx := -1
	for i, id := range s.Captains {
		if id == captainID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}
	s.Captains = append(s.Captains[:idx:idx], s.Captains[idx+1:]...)
	if idx < s.CurrentTurnIndex {
		s.CurrentTurnIndex--
	}
	if len(s.Captains) == 0 {
		s.CurrentTurnIndex = 0
		return false
	}
	if s.CurrentTurnIndex >= len(s.Captains) {
		s.CurrentTurnIndex = 0
		s.Round++
		return true
	}
	return false
}

// Start moves a countdown session to active with the first captain up.
func (s *Session) Start(now time.Time) {
	s.Status = StatusActive
	s.CurrentTurnIndex = 0
	s.Round = 1
	s.BetweenTurns = false
	s.AdvancePending = false
	s.UpdatedAt = now
}

// ApplyBid records a pick for the current captain. It assumes the bid was
// validated. The returned bool reports that the captain's roster filled and
// the captain left the rotation.
func (s *Session) ApplyBid(playerID string, amount int, now time.Time) (Pick, bool) {
	captainID := s.CurrentCaptain()
	team := s.Teams[captainID]

	s.PickCount++
	pick := Pick{
		PlayerID:   playerID,
		Amount:     amount,
		Round:      s.Round,
		PickNumber: s.PickCount,
		Timestamp:  now,
	}
	team.Players = append(team.Players, pick)
	team.BudgetRemaining -= amount
	s.Log = append(s.Log, LogEntry{
		Type:      LogPick,
		CaptainID: captainID,
		PlayerID:  playerID,
		Amount:    amount,
		Round:     s.Round,
		Timestamp: now,
	})
	s.UpdatedAt = now

	if team.RosterFull(s.Settings.RosterSize) {
		s.RemoveFromRotation(captainID)
		s.AdvancePending = false
		return pick, true
	}
	s.AdvancePending = true
	return pick, false
}

// ApplySkip logs a skip for the current captain and passes the turn on. A
// manual skip consumes the captain's skip for the round; a timeout does not.
func (s *Session) ApplySkip(timeout bool, now time.Time) string {
	captainID := s.CurrentCaptain()
	if team := s.Teams[captainID]; team != nil && !timeout {
		team.SkipsUsedForRound = s.Round
	}
	s.Log = append(s.Log, LogEntry{
		Type:      LogSkip,
		CaptainID: captainID,
		Round:     s.Round,
		Timeout:   timeout,
		Timestamp: now,
	})
	s.AdvanceTurn()
	s.UpdatedAt = now
	return captainID
}

// EndBidReset closes the between-turns window.
func (s *Session) EndBidReset(now time.Time) {
	s.BetweenTurns = false
	if s.AdvancePending {
		s.AdvancePending = false
		s.AdvanceTurn()
	}
	s.UpdatedAt = now
}

// Complete marks the session completed.
func (s *Session) Complete(now time.Time) {
	s.Status = StatusCompleted
	s.BetweenTurns = false
	s.AdvancePending = false
	s.CompletedAt = &now
	s.UpdatedAt = now
}

// Cancel marks the session cancelled with reason.
func (s *Session) Cancel(reason string, now time.Time) {
	s.Status = StatusCancelled
	s.CancelReason = reason
	s.BetweenTurns = false
	s.AdvancePending = false
	s.CompletedAt = &now
	s.UpdatedAt = now
}

// RotationEmpty reports whether every roster is complete.
func (s *Session) RotationEmpty() bool {
	return len(s.Captains) == 0
}
