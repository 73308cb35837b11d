package store

import (
	"context"
	"sync"
	"time"

	"github.com/ashureev/portfolio-skills/internal/domain"
)

type memoryEntry struct {
	data      []byte
	updatedAt time.Time
}

// MemoryStore keeps encoded contexts in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	contexts map[string]memoryEntry
	now      func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		contexts: make(map[string]memoryEntry),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Get returns a copy of the stored context.
func (s *MemoryStore) Get(_ context.Context, sessionID string) (*domain.ConversationContext, error) {
	s.mu.RLock()
	entry, ok := s.contexts[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return decodeContext(entry.data)
}

// Create stores a fresh context unless one already exists.
func (s *MemoryStore) Create(_ context.Context, sessionID string) (*domain.ConversationContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.contexts[sessionID]; ok {
		return decodeContext(entry.data)
	}

	now := s.now()
	c := domain.NewConversationContext(sessionID, now)
	data, err := encodeContext(c)
	if err != nil {
		return nil, err
	}
	s.contexts[sessionID] = memoryEntry{data: data, updatedAt: now}
	return c, nil
}

// Put replaces the stored context.
func (s *MemoryStore) Put(_ context.Context, c *domain.ConversationContext) error {
	c.UpdatedAt = s.now()
	data, err := encodeContext(c)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.contexts[c.SessionID] = memoryEntry{data: data, updatedAt: c.UpdatedAt}
	s.mu.Unlock()
	return nil
}

// Delete removes the context for sessionID.
func (s *MemoryStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	delete(s.contexts, sessionID)
	s.mu.Unlock()
	return nil
}

// PurgeIdle removes contexts not updated within ttl.
func (s *MemoryStore) PurgeIdle(_ context.Context, ttl time.Duration) (int64, error) {
	threshold := s.now().Add(-ttl)

	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, entry := range s.contexts {
		if entry.updatedAt.Before(threshold) {
			delete(s.contexts, id)
			n++
		}
	}
	return n, nil
}

// Ping always succeeds.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }
