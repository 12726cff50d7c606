// Package store defines the session storage interface and implementations.
package store

import (
	"context"

	"github.com/ezhao816/chatrelay/domain"
)

// Store defines the interface for session persistence. Lookups for absent
// sessions return (nil, nil); infrastructure failures return a non-nil error.
type Store interface {
	// Create persists a new session with an optional seed message and
	// returns it with a generated id.
	Create(ctx context.Context, title string, seed *domain.Message) (*domain.Session, error)

	// Get retrieves a session with its full message list.
	Get(ctx context.Context, id string) (*domain.Session, error)

	// Update applies a partial update and refreshes updatedAt. Returns
	// (nil, nil) when the session does not exist.
	Update(ctx context.Context, id string, upd domain.SessionUpdate) (*domain.Session, error)

	// Delete removes one session, reporting whether it existed.
	Delete(ctx context.Context, id string) (bool, error)

	// DeleteAll removes every session.
	DeleteAll(ctx context.Context) error

	// ListAll returns all sessions, most recently updated first.
	ListAll(ctx context.Context) ([]domain.Session, error)

	// Lifecycle
	Close() error
}
