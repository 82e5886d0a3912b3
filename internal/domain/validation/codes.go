package validation

// Reason codes.
const (
	CodeArenaRequired     = "arena_required"
	CodeManagerRequired   = "manager_required"
	CodeCaptainCount      = "captain_count_out_of_range"
	CodeRosterSize        = "roster_size_out_of_range"
	CodeBudget            = "budget_out_of_range"
	CodeTurnTimeout       = "turn_timeout_out_of_range"
	CodeBidReset          = "bid_reset_out_of_range"
	CodeUserRequired      = "user_required"
	CodeAlreadyStarted    = "already_started"
	CodeAlreadyCaptain    = "already_captain"
	CodeDraftFull         = "draft_full"
	CodeManagerNotCaptain = "manager_cannot_captain"
	CodeNotCaptain        = "not_captain"
	CodeNotActive         = "not_active"
	CodeTurnNotStarted    = "turn_not_started"
	CodeNotYourTurn       = "not_your_turn"
	CodeInvalidAmount     = "invalid_amount"
	CodeInsufficientFunds = "insufficient_budget"
	CodePlayerRequired    = "player_required"
	CodeAlreadyDrafted    = "already_drafted"
	CodeRosterFull        = "roster_full"
	CodeDraftCaptain      = "cannot_draft_captain"
	CodeDraftManager      = "cannot_draft_manager"
	CodeSkipNotAllowed    = "skip_not_allowed"
	CodeSkipUsed          = "skip_already_used"
	CodeCancelNotAllowed  = "cancel_not_allowed"
	CodeAlreadyFinished   = "already_finished"
)

// Settings bounds.
const (
	MinCaptains       = 2
	MaxCaptains       = 10
	MinRosterSize     = 1
	MaxRosterSize     = 20
	MinBudget         = 10
	MaxBudget         = 1000
	MinTurnTimeoutSec = 10
	MaxTurnTimeoutSec = 300
	MinBidResetSec    = 5
	MaxBidResetSec    = 60
)
