package eventbus

import (
	"time"

	"github.com/okian/draftd/internal/domain/draft"
)

// Topic is the closed set of lifecycle notifications.
type Topic string

const (
	TopicSessionCreated   Topic = "session.created"
	TopicCaptainAdded     Topic = "captain.added"
	TopicCaptainRemoved   Topic = "captain.removed"
	TopicCountdownStarted Topic = "countdown.started"
	TopicCountdownTick    Topic = "countdown.tick"
	TopicSessionStarted   Topic = "session.started"
	TopicTurnStarted      Topic = "turn.started"
	TopicTurnTimedOut     Topic = "turn.timedOut"
	TopicTurnSkipped      Topic = "turn.skipped"
	TopicBidPlaced        Topic = "bid.placed"
	TopicSessionCompleted Topic = "session.completed"
	TopicSessionCancelled Topic = "session.cancelled"
)

// Topics lists every topic in lifecycle order.
var Topics = []Topic{
	TopicSessionCreated,
	TopicCaptainAdded,
	TopicCaptainRemoved,
	TopicCountdownStarted,
	TopicCountdownTick,
	TopicSessionStarted,
	TopicTurnStarted,
	TopicTurnTimedOut,
	TopicTurnSkipped,
	TopicBidPlaced,
	TopicSessionCompleted,
	TopicSessionCancelled,
}

// Valid reports whether t is a known topic.
func (t Topic) Valid() bool {
	for _, known := range Topics {
		if t == known {
			return true
		}
	}
	return false
}

// ParseTopic converts a wire name into a Topic.
func ParseTopic(name string) (Topic, bool) {
	t := Topic(name)
	return t, t.Valid()
}

// Payloads. Each topic carries one of these in Event.Payload.

// CaptainPayload is sent with captain.added and captain.removed.
type CaptainPayload struct {
	UserID   string `json:"userId"`
	Captains int    `json:"captains"`
	Needed   int    `json:"needed"`
}

// CountdownPayload is sent with countdown.started and countdown.tick.
type CountdownPayload struct {
	Remaining int `json:"remaining"`
	Total     int `json:"total"`
}

// TurnPayload is sent with turn.started, turn.timedOut and turn.skipped.
type TurnPayload struct {
	CaptainID   string     `json:"captainId"`
	Round       int        `json:"round"`
	Deadline    *time.Time `json:"deadline,omitempty"`
	RequestedBy string     `json:"requestedBy,omitempty"`
}

// BidPayload is sent with bid.placed.
type BidPayload struct {
	CaptainID       string `json:"captainId"`
	PlayerID        string `json:"playerId"`
	Amount          int    `json:"amount"`
	Round           int    `json:"round"`
	PickNumber      int    `json:"pickNumber"`
	BudgetRemaining int    `json:"budgetRemaining"`
	RosterComplete  bool   `json:"rosterComplete"`
}

// CompletedPayload is sent with session.completed.
type CompletedPayload struct {
	FinalStandings []draft.Standing `json:"finalStandings"`
}

// CancelledPayload is sent with session.cancelled.
type CancelledPayload struct {
	Reason      string `json:"reason"`
	RequestedBy string `json:"requestedBy,omitempty"`
}

// SessionPayload is sent with session.created and session.started.
type SessionPayload struct {
	ManagerID string         `json:"managerId"`
	Settings  draft.Settings `json:"settings"`
}
