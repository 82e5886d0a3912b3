// Package sessionstore is the in-memory registry of live sessions, indexed by
// session id and by arena. It holds whatever owns a session (the engine
// stores its actors here) and never looks inside.
package sessionstore

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrConflict is returned when an arena already has a live session.
var ErrConflict = errors.New("arena already has a live session")

type entry[T any] struct {
	id    string
	arena string
	value T
}

// Store indexes live sessions. The zero value is not usable; call New.
type Store[T any] struct {
	mu      sync.RWMutex
	byID    map[string]*entry[T]
	byArena map[string]*entry[T]
}

// New returns an empty store.
func New[T any]() *Store[T] {
	return &Store[T]{
		byID:    make(map[string]*entry[T]),
		byArena: make(map[string]*entry[T]),
	}
}

// Create registers value under id and arena. At most one live session may
// exist per arena; a second registration fails with ErrConflict.
func (s *Store[T]) Create(id, arena string, value T) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.byArena[arena]; ok {
		return fmt.Errorf("%w: arena %s is held by session %s", ErrConflict, arena, existing.id)
	}
	if _, ok := s.byID[id]; ok {
		return fmt.Errorf("%w: session %s already registered", ErrConflict, id)
	}
	e := &entry[T]{id: id, arena: arena, value: value}
	s.byID[id] = e
	s.byArena[arena] = e
	return nil
}

// GetByID returns the value registered under id.
func (s *Store[T]) GetByID(id string) (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.byID[id]; ok {
		return e.value, true
	}
	var zero T
	return zero, false
}

// GetByArena returns the live session of arena.
func (s *Store[T]) GetByArena(arena string) (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.byArena[arena]; ok {
		return e.value, true
	}
	var zero T
	return zero, false
}

// Remove drops id from both indexes. Removing an unknown id is a no-op.
func (s *Store[T]) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byID[id]
	if !ok {
		return
	}
	delete(s.byID, id)
	if cur, ok := s.byArena[e.arena]; ok && cur == e {
		delete(s.byArena, e.arena)
	}
}

// Len returns the number of live sessions.
func (s *Store[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// IDs returns the registered session ids in sorted order.
func (s *Store[T]) IDs() []string {
	s.mu.RLock()
	ids := make([]string, 0, len(s.byID))
	for id := range s.byID {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Values returns every registered value.
func (s *Store[T]) Values() []T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]T, 0, len(s.byID))
	for _, e := range s.byID {
		out = append(out, e.value)
	}
	return out
}
