// Package repository persists draft sessions. The engine treats every call
// as best-effort; implementations only need to be safe for concurrent use
// across sessions.
package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/okian/draftd/internal/domain/draft"
)

// Repository stores sessions.
type Repository interface {
	// Save writes a new session. Writing an existing id overwrites it.
	Save(ctx context.Context, s *draft.Session) error
	// Update writes the current state of a session, inserting it if missing.
	Update(ctx context.Context, s *draft.Session) error
	// Delete removes a session. Deleting an unknown id is not an error.
	Delete(ctx context.Context, id string) error
	// FindActive returns every non-terminal session.
	FindActive(ctx context.Context) ([]*draft.Session, error)
	// FindByArena returns the sessions of an arena, newest first.
	FindByArena(ctx context.Context, arenaID string) ([]*draft.Session, error)
	// ListArchivedBefore returns ids of terminal sessions finished before t.
	ListArchivedBefore(ctx context.Context, t time.Time) ([]string, error)
	// Close releases the underlying connection.
	Close() error
}

func encode(s *draft.Session) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("%w: encode session %s: %w", ErrCodec, s.ID, err)
	}
	return data, nil
}

func decode(data []byte) (*draft.Session, error) {
	var s draft.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: decode session: %w", ErrCodec, err)
	}
	if s.Teams == nil {
		s.Teams = map[string]*draft.Team{}
	}
	return &s, nil
}

func newestFirst(sessions []*draft.Session) {
	sort.Slice(sessions, func(i, j int) bool {
		if !sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
		}
		return sessions[i].ID > sessions[j].ID
	})
}

func archivedAt(s *draft.Session) time.Time {
	if s.CompletedAt != nil {
		return *s.CompletedAt
	}
	return s.UpdatedAt
}
