package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/okian/draftd/internal/domain/draft"
)

// MemoryRepository keeps sessions in process memory. It is the default
// driver and the test double for the engine.
type MemoryRepository struct {
	mu       sync.RWMutex
	sessions map[string]*draft.Session
}

// NewMemoryRepository returns an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{sessions: make(map[string]*draft.Session)}
}

func (r *MemoryRepository) Save(ctx context.Context, s *draft.Session) error {
	return r.put(ctx, s)
}

func (r *MemoryRepository) Update(ctx context.Context, s *draft.Session) error {
	return r.put(ctx, s)
}

func (r *MemoryRepository) put(ctx context.Context, s *draft.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalid)
	}
	r.mu.Lock()
	r.sessions[s.ID] = s.Clone()
	r.mu.Unlock()
	return nil
}

func (r *MemoryRepository) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
	return nil
}

func (r *MemoryRepository) FindActive(ctx context.Context) ([]*draft.Session, error) {
	return r.filter(ctx, func(s *draft.Session) bool { return !s.Status.Terminal() })
}

func (r *MemoryRepository) FindByArena(ctx context.Context, arenaID string) ([]*draft.Session, error) {
	return r.filter(ctx, func(s *draft.Session) bool { return s.ArenaID == arenaID })
}

func (r *MemoryRepository) ListArchivedBefore(ctx context.Context, t time.Time) ([]string, error) {
	found, err := r.filter(ctx, func(s *draft.Session) bool {
		return s.Status.Terminal() && archivedAt(s).Before(t)
	})
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(found))
	for i, s := range found {
		ids[i] = s.ID
	}
	return ids, nil
}

func (r *MemoryRepository) filter(ctx context.Context, keep func(*draft.Session) bool) ([]*draft.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	out := make([]*draft.Session, 0)
	for _, s := range r.sessions {
		if keep(s) {
			out = append(out, s.Clone())
		}
	}
	r.mu.RUnlock()
	newestFirst(out)
	return out, nil
}

// Len returns the number of stored sessions.
func (r *MemoryRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *MemoryRepository) Close() error { return nil }
