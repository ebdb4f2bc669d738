package conversation

import (
	"context"
	"errors"
)

var (
	// ErrSessionNotFound is returned when a session id does not exist or
	// its TTL has lapsed.
	ErrSessionNotFound = errors.New("conversation: session not found")

	// ErrVersionConflict is returned by Put when the stored version no
	// longer matches the session's version, i.e. a concurrent writer won.
	ErrVersionConflict = errors.New("conversation: session version conflict")
)

// Store persists sessions with a per-key TTL and an optimistic version check.
// Every successful mutation refreshes the TTL.
type Store interface {
	// Create inserts a new session with Version 1.
	Create(ctx context.Context, session *Session) error

	// Get returns a copy of the session or ErrSessionNotFound.
	Get(ctx context.Context, id string) (*Session, error)

	// Put replaces the stored session iff the stored version equals
	// session.Version, then increments the version. Returns
	// ErrVersionConflict on mismatch, ErrSessionNotFound if absent.
	Put(ctx context.Context, session *Session) error

	// Delete removes a session, reporting whether it existed.
	Delete(ctx context.Context, id string) (bool, error)
}
