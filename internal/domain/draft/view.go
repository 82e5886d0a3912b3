package draft

import (
	"sort"
	"time"
)

// TeamView is a read-only copy of a Team.
type TeamView struct {
	CaptainID       string `json:"captainId"`
	Players         []Pick `json:"players"`
	BudgetRemaining int    `json:"budgetRemaining"`
	Spent           int    `json:"spent"`
	RosterComplete  bool   `json:"rosterComplete"`
	SkippedRound    bool   `json:"skippedThisRound"`
}

// View is an immutable projection of a session for status displays.
type View struct {
	ID                 string     `json:"id"`
	ArenaID            string     `json:"arenaId"`
	ManagerID          string     `json:"managerId"`
	Settings           Settings   `json:"settings"`
	Status             Status     `json:"status"`
	Captains           []string   `json:"captains"`
	Rotation           []string   `json:"rotation"`
	Teams              []TeamView `json:"teams"`
	CurrentCaptain     string     `json:"currentCaptain,omitempty"`
	CurrentTurnIndex   int        `json:"currentTurnIndex"`
	Round              int        `json:"round"`
	PickCount          int        `json:"pickCount"`
	BetweenTurns       bool       `json:"betweenTurns"`
	TurnDeadline       *time.Time `json:"turnDeadline,omitempty"`
	CountdownRemaining int        `json:"countdownRemaining,omitempty"`
	Log                []LogEntry `json:"log"`
	CancelReason       string     `json:"cancelReason,omitempty"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
	CompletedAt        *time.Time `json:"completedAt,omitempty"`
}

// View copies the session into a View. Teams follow join order.
func (s *Session) View() *View {
	v := &View{
		ID:               s.ID,
		ArenaID:          s.ArenaID,
		ManagerID:        s.ManagerID,
		Settings:         s.Settings,
		Status:           s.Status,
		Captains:         append([]string(nil), s.Participants...),
		Rotation:         append([]string(nil), s.Captains...),
		Teams:            make([]TeamView, 0, len(s.Participants)),
		CurrentCaptain:   s.CurrentCaptain(),
		CurrentTurnIndex: s.CurrentTurnIndex,
		Round:            s.Round,
		PickCount:        s.PickCount,
		BetweenTurns:     s.BetweenTurns,
		Log:              append([]LogEntry(nil), s.Log...),
		CancelReason:     s.CancelReason,
		CreatedAt:        s.CreatedAt,
		UpdatedAt:        s.UpdatedAt,
	}
	if v.BetweenTurns {
		v.CurrentCaptain = ""
	}
	if s.CompletedAt != nil {
		at := *s.CompletedAt
		v.CompletedAt = &at
	}
	for _, id := range s.Participants {
		t := s.Teams[id]
		if t == nil {
			continue
		}
		v.Teams = append(v.Teams, TeamView{
			CaptainID:       t.CaptainID,
			Players:         append([]Pick(nil), t.Players...),
			BudgetRemaining: t.BudgetRemaining,
			Spent:           t.Spent(),
			RosterComplete:  t.RosterFull(s.Settings.RosterSize),
			SkippedRound:    t.HasSkipped(s.Round),
		})
	}
	return v
}

// Standing is one line of the final results.
type Standing struct {
	Rank            int    `json:"rank"`
	CaptainID       string `json:"captainId"`
	BudgetRemaining int    `json:"budgetRemaining"`
	Spent           int    `json:"spent"`
	Players         []Pick `json:"players"`
}

// Standings ranks teams by remaining budget, highest first, ties by captain id.
func (s *Session) Standings() []Standing {
	out := make([]Standing, 0, len(s.Teams))
	for id, t := range s.Teams {
		players := append([]Pick(nil), t.Players...)
		sort.Slice(players, func(i, j int) bool { return players[i].PickNumber < players[j].PickNumber })
		out = append(out, Standing{
			CaptainID:       id,
			BudgetRemaining: t.BudgetRemaining,
			Spent:           t.Spent(),
			Players:         players,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BudgetRemaining != out[j].BudgetRemaining {
			return out[i].BudgetRemaining > out[j].BudgetRemaining
		}
		return out[i].CaptainID < out[j].CaptainID
	})
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}
