package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is an in-memory Repository for tests and single-process
// development without PostgreSQL.
type MemoryRepository struct {
	mu       sync.RWMutex
	byID     map[uuid.UUID]*Session
	byToken  map[string]uuid.UUID
	byRoomID map[string]uuid.UUID
}

// NewMemoryRepository creates an empty in-memory session repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:     make(map[uuid.UUID]*Session),
		byToken:  make(map[string]uuid.UUID),
		byRoomID: make(map[string]uuid.UUID),
	}
}

// Create stores a new session and assigns its id and timestamps.
func (r *MemoryRepository) Create(_ context.Context, s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	s.ID = uuid.New()
	s.LastActivityAt = now
	s.CreatedAt = now
	s.UpdatedAt = now
	cp := *s
	r.byID[s.ID] = &cp
	r.byToken[s.Token] = s.ID
	r.byRoomID[s.RoomID] = s.ID
	return nil
}

// GetByToken returns the session with the given token.
func (r *MemoryRepository) GetByToken(_ context.Context, token string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byToken[token]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r.byID[id]
	return &cp, nil
}

// GetByRoomID returns the session with the given room id.
func (r *MemoryRepository) GetByRoomID(_ context.Context, roomID string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byRoomID[roomID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r.byID[id]
	return &cp, nil
}

// Update overwrites the stored session.
func (r *MemoryRepository) Update(_ context.Context, s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[s.ID]; !ok {
		return ErrNotFound
	}
	s.UpdatedAt = time.Now()
	cp := *s
	r.byID[s.ID] = &cp
	return nil
}

// TouchActivity bumps last activity for the session in the given room.
func (r *MemoryRepository) TouchActivity(_ context.Context, roomID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byRoomID[roomID]
	if !ok {
		return ErrNotFound
	}
	r.byID[id].LastActivityAt = time.Now()
	return nil
}

// ListIdle returns non-terminal sessions with no activity since cutoff.
func (r *MemoryRepository) ListIdle(_ context.Context, cutoff time.Time) ([]Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var list []Session
	for _, s := range r.byID {
		if !s.Status.Terminal() && s.LastActivityAt.Before(cutoff) {
			list = append(list, *s)
		}
	}
	return list, nil
}
