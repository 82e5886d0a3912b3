package simulate

import (
	"fmt"

	"github.com/okian/draftd/internal/domain/draft"
)

// Verify checks a finished session: it completed, every roster is full, no
// player was drafted twice and every captain's budget is conserved.
func Verify(v *draft.View, cfg Config) error {
	if v.Status != draft.StatusCompleted {
		return fmt.Errorf("status %s, want %s (reason %q)", v.Status, draft.StatusCompleted, v.CancelReason)
	}
	if len(v.Teams) != cfg.Captains {
		return fmt.Errorf("%d teams, want %d", len(v.Teams), cfg.Captains)
	}

	seen := make(map[string]string)
	picks := make(map[int]bool)
	for _, t := range v.Teams {
		if len(t.Players) != cfg.RosterSize {
			return fmt.Errorf("captain %s has %d players, want %d", t.CaptainID, len(t.Players), cfg.RosterSize)
		}
		spent := 0
		for _, p := range t.Players {
			if owner, ok := seen[p.PlayerID]; ok {
				return fmt.Errorf("player %s drafted by %s and %s", p.PlayerID, owner, t.CaptainID)
			}
			seen[p.PlayerID] = t.CaptainID
			if picks[p.PickNumber] {
				return fmt.Errorf("pick number %d used twice", p.PickNumber)
			}
			picks[p.PickNumber] = true
			spent += p.Amount
		}
		if spent != t.Spent {
			return fmt.Errorf("captain %s reports spent %d, picks sum to %d", t.CaptainID, t.Spent, spent)
		}
		if spent+t.BudgetRemaining != cfg.Budget {
			return fmt.Errorf("captain %s: spent %d + remaining %d != budget %d", t.CaptainID, spent, t.BudgetRemaining, cfg.Budget)
		}
	}
	if v.PickCount != len(seen) {
		return fmt.Errorf("pick count %d, rosters hold %d players", v.PickCount, len(seen))
	}
	return nil
}
