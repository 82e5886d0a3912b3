// Package draft holds the auction draft aggregate: sessions, teams, picks and
// the turn rotation. Nothing here is safe for concurrent use; a session is
// mutated only by the engine actor that owns it.
package draft

import (
	"time"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusCountdown Status = "countdown"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// CanTransition reports whether s -> next is an allowed lifecycle edge.
func (s Status) CanTransition(next Status) bool {
	switch next {
	case StatusCancelled:
		return !s.Terminal()
	case StatusCountdown:
		return s == StatusWaiting
	case StatusActive:
		return s == StatusCountdown
	case StatusCompleted:
		return s == StatusActive
	}
	return false
}

// Settings are fixed once a session leaves waiting.
type Settings struct {
	CaptainCount   int `json:"captainCount"`
	RosterSize     int `json:"rosterSize"`
	Budget         int `json:"budget"`
	TurnTimeoutSec int `json:"turnTimeoutSec"`
	BidResetSec    int `json:"bidResetSec"`
}

// WithDefaults fills zero-valued fields from d.
func (s Settings) WithDefaults(d Settings) Settings {
	if s.CaptainCount == 0 {
		s.CaptainCount = d.CaptainCount
	}
	if s.RosterSize == 0 {
		s.RosterSize = d.RosterSize
	}
	if s.Budget == 0 {
		s.Budget = d.Budget
	}
	if s.TurnTimeoutSec == 0 {
		s.TurnTimeoutSec = d.TurnTimeoutSec
	}
	if s.BidResetSec == 0 {
		s.BidResetSec = d.BidResetSec
	}
	return s
}

// TurnTimeout returns the per-turn deadline.
func (s Settings) TurnTimeout() time.Duration {
	return time.Duration(s.TurnTimeoutSec) * time.Second
}

// BidReset returns the pause between a bid and the next turn.
func (s Settings) BidReset() time.Duration {
	return time.Duration(s.BidResetSec) * time.Second
}

// Pick is one drafted player.
type Pick struct {
	PlayerID   string    `json:"playerId"`
	Amount     int       `json:"amount"`
	Round      int       `json:"round"`
	PickNumber int       `json:"pickNumber"`
	Timestamp  time.Time `json:"timestamp"`
}

// Team is a captain's roster and purse.
type Team struct {
	CaptainID       string `json:"captainId"`
	Players         []Pick `json:"players"`
	BudgetRemaining int    `json:"budgetRemaining"`
	// SkipsUsedForRound holds the last round in which the captain skipped.
	SkipsUsedForRound int `json:"skipsUsedForRound"`
}

// Spent is the sum of pick amounts.
func (t *Team) Spent() int {
	total := 0
	for _, p := range t.Players {
		total += p.Amount
	}
	return total
}

// RosterFull reports whether the team has size players.
func (t *Team) RosterFull(size int) bool {
	return len(t.Players) >= size
}

// HasSkipped reports whether the captain already skipped in round.
func (t *Team) HasSkipped(round int) bool {
	return t.SkipsUsedForRound >= round
}

// LogType tags a LogEntry.
type LogType string

const (
	LogPick LogType = "pick"
	LogSkip LogType = "skip"
)

// LogEntry is an immutable record of a pick or skip.
type LogEntry struct {
	Type      LogType   `json:"type"`
	CaptainID string    `json:"captainId"`
	PlayerID  string    `json:"playerId,omitempty"`
	Amount    int       `json:"amount,omitempty"`
	Round     int       `json:"round"`
	Timeout   bool      `json:"timeout,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is the aggregate root of one draft.
type Session struct {
	ID        string   `json:"id"`
	ArenaID   string   `json:"arenaId"`
	ManagerID string   `json:"managerId"`
	Settings  Settings `json:"settings"`
	Status    Status   `json:"status"`

	// Captains is the live turn rotation. Captains whose roster is full are
	// removed from it once the draft is active.
	Captains []string `json:"captains"`
	// Participants keeps every captain in join order.
	Participants []string         `json:"participants"`
	Teams        map[string]*Team `json:"teams"`

	CurrentTurnIndex int `json:"currentTurnIndex"`
	Round            int `json:"round"`
	PickCount        int `json:"pickCount"`

	// BetweenTurns is set after a bid until the bid reset timer fires.
	BetweenTurns bool `json:"betweenTurns"`
	// AdvancePending tells the bid reset to move the rotation forward. It is
	// false when the bidder left the rotation, which already shifted it.
	AdvancePending bool `json:"advancePending"`

	Log []LogEntry `json:"log"`

	CancelReason string     `json:"cancelReason,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
}

// New returns a waiting session.
func New(id, arenaID, managerID string, settings Settings, now time.Time) *Session {
	return &Session{
		ID:           id,
		ArenaID:      arenaID,
		ManagerID:    managerID,
		Settings:     settings,
		Status:       StatusWaiting,
		Captains:     []string{},
		Participants: []string{},
		Teams:        map[string]*Team{},
		Round:        1,
		Log:          []LogEntry{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// IsCaptain reports whether userID owns a team in this session.
func (s *Session) IsCaptain(userID string) bool {
	_, ok := s.Teams[userID]
	return ok
}

// IsFull reports whether the captain slots are taken.
func (s *Session) IsFull() bool {
	return len(s.Participants) >= s.Settings.CaptainCount
}

// CurrentCaptain returns the captain holding the turn, or "" when none does.
func (s *Session) CurrentCaptain() string {
	if s.Status != StatusActive || s.CurrentTurnIndex < 0 || s.CurrentTurnIndex >= len(s.Captains) {
		return ""
	}
	return s.Captains[s.CurrentTurnIndex]
}

// CurrentTeam returns the team of the current captain.
func (s *Session) CurrentTeam() *Team {
	return s.Teams[s.CurrentCaptain()]
}

// DraftedBy returns the captain that owns playerID, if any.
func (s *Session) DraftedBy(playerID string) (string, bool) {
	for id, t := range s.Teams {
		for _, p := range t.Players {
			if p.PlayerID == playerID {
				return id, true
			}
		}
	}
	return "", false
}

// AddCaptain appends userID with a fresh team.
func (s *Session) AddCaptain(userID string) {
	s.Captains = append(s.Captains, userID)
	s.Participants = append(s.Participants, userID)
	s.Teams[userID] = &Team{CaptainID: userID, Players: []Pick{}, BudgetRemaining: s.Settings.Budget}
}

// RemoveCaptain drops userID and its team. Only used while waiting.
func (s *Session) RemoveCaptain(userID string) {
	s.Captains = without(s.Captains, userID)
	s.Participants = without(s.Participants, userID)
	delete(s.Teams, userID)
}

// Clone returns a deep copy safe to hand to other goroutines.
func (s *Session) Clone() *Session {
	c := *s
	c.Captains = append([]string(nil), s.Captains...)
	c.Participants = append([]string(nil), s.Participants...)
	c.Log = append([]LogEntry(nil), s.Log...)
	c.Teams = make(map[string]*Team, len(s.Teams))
	for id, t := range s.Teams {
		tc := *t
		tc.Players = append([]Pick(nil), t.Players...)
		c.Teams[id] = &tc
	}
	if s.CompletedAt != nil {
		at := *s.CompletedAt
		c.CompletedAt = &at
	}
	return &c
}

func without(ids []string, id string) []string {
	out := ids[:0:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
