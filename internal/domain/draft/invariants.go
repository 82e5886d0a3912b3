package draft

import "fmt"

// CheckInvariants verifies the aggregate's structural rules and returns the
// first violation found.
func (s *Session) CheckInvariants() error {
	fail := func(format string, args ...any) error {
		return &InvariantViolation{SessionID: s.ID, Detail: fmt.Sprintf(format, args...)}
	}

	for _, id := range s.Participants {
		if _, ok := s.Teams[id]; !ok {
			return fail("captain %s has no team", id)
		}
		if id == s.ManagerID {
			return fail("manager %s is a captain", id)
		}
	}
	if len(s.Teams) != len(s.Participants) {
		return fail("%d teams for %d captains", len(s.Teams), len(s.Participants))
	}
	for _, id := range s.Captains {
		if _, ok := s.Teams[id]; !ok {
			return fail("rotation captain %s has no team", id)
		}
	}

	owner := map[string]string{}
	picks := 0
	for id, t := range s.Teams {
		if t.CaptainID != id {
			return fail("team key %s holds captain %s", id, t.CaptainID)
		}
		if t.BudgetRemaining < 0 {
			return fail("team %s budget is negative (%d)", id, t.BudgetRemaining)
		}
		if spent := t.Spent(); spent+t.BudgetRemaining != s.Settings.Budget {
			return fail("team %s spent %d with %d remaining, budget %d", id, spent, t.BudgetRemaining, s.Settings.Budget)
		}
		if len(t.Players) > s.Settings.RosterSize {
			return fail("team %s has %d players, roster size %d", id, len(t.Players), s.Settings.RosterSize)
		}
		for _, p := range t.Players {
			if prev, dup := owner[p.PlayerID]; dup {
				return fail("player %s drafted by %s and %s", p.PlayerID, prev, id)
			}
			owner[p.PlayerID] = id
			picks++
		}
	}
	if picks != s.PickCount {
		return fail("pick count %d but %d picks recorded", s.PickCount, picks)
	}

	if s.Status == StatusActive {
		if len(s.Captains) == 0 {
			return fail("active with an empty rotation")
		}
		if s.CurrentTurnIndex < 0 || s.CurrentTurnIndex >= len(s.Captains) {
			return fail("turn index %d outside rotation of %d", s.CurrentTurnIndex, len(s.Captains))
		}
	}
	if s.Round < 1 {
		return fail("round %d", s.Round)
	}
	return nil
}
