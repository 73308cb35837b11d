// Package store provides persistence for conversation contexts.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ashureev/portfolio-skills/internal/domain"
)

// ErrNotFound is returned when no context exists for a session.
var ErrNotFound = errors.New("conversation context not found")

// ContextStore persists one ConversationContext per session id.
//
// Every read returns an independent copy. Mutating a returned context has no
// effect on the stored one until it is written back with Put.
type ContextStore interface {
	// Get returns the context for sessionID or ErrNotFound.
	Get(ctx context.Context, sessionID string) (*domain.ConversationContext, error)

	// Create stores a fresh context in the initial state if none exists and
	// returns the stored context either way.
	Create(ctx context.Context, sessionID string) (*domain.ConversationContext, error)

	// Put replaces the stored context with c.
	Put(ctx context.Context, c *domain.ConversationContext) error

	// Delete removes the context for sessionID. Missing sessions are not an error.
	Delete(ctx context.Context, sessionID string) error

	// PurgeIdle removes contexts not updated within ttl and returns how many were removed.
	PurgeIdle(ctx context.Context, ttl time.Duration) (int64, error)

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

func encodeContext(c *domain.ConversationContext) ([]byte, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode context %s: %w", c.SessionID, err)
	}
	return data, nil
}

func decodeContext(data []byte) (*domain.ConversationContext, error) {
	var c domain.ConversationContext
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode context: %w", err)
	}
	return &c, nil
}
