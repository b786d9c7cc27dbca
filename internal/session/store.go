// Package session provides cookie-backed server-side sessions: a Store
// interface with Redis and in-memory implementations, and a Manager that
// issues, resolves, and revokes sessions for request snapshots.
package session

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a session ID does not exist or has expired.
var ErrNotFound = errors.New("session: not found")

// Session is one authenticated visit. Data carries small application values;
// anything heavy belongs in the cache or database keyed by UserID.
type Session struct {
	ID           string            `json:"id"`
	UserID       string            `json:"user_id"`
	Data         map[string]string `json:"data,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	LastAccessAt time.Time         `json:"last_access_at"`
}

// Store persists sessions. Implementations index sessions per user so all of
// a user's sessions can be revoked at once.
type Store interface {
	// Save writes the session with the given TTL, replacing any previous
	// value under the same ID.
	Save(ctx context.Context, sess *Session, ttl time.Duration) error

	// Get returns the session or ErrNotFound.
	Get(ctx context.Context, id string) (*Session, error)

	// Delete removes the session. Deleting an unknown ID is not an error.
	Delete(ctx context.Context, id string) error

	// RevokeUser removes every session belonging to the user.
	RevokeUser(ctx context.Context, userID string) error

	// UserSessions lists the active session IDs for the user.
	UserSessions(ctx context.Context, userID string) ([]string, error)

	// LimitUser revokes the user's oldest sessions until at most limit
	// remain.
	LimitUser(ctx context.Context, userID string, limit int) error

	// Close releases the store's resources.
	Close() error
}
