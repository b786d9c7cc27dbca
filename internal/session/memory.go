package session

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memoryEntry struct {
	sess      Session
	expiresAt time.Time
}

// MemoryStore is a process-local Store for development and tests. Expired
// entries are dropped lazily on read.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	byUser  map[string]map[string]bool
}

// NewMemoryStore returns an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		byUser:  make(map[string]map[string]bool),
	}
}

// Save stores a copy of the session with the given TTL.
func (s *MemoryStore) Save(ctx context.Context, sess *Session, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[sess.ID] = memoryEntry{sess: *sess, expiresAt: time.Now().Add(ttl)}
	if sess.UserID != "" {
		if s.byUser[sess.UserID] == nil {
			s.byUser[sess.UserID] = make(map[string]bool)
		}
		s.byUser[sess.UserID][sess.ID] = true
	}
	return nil
}

// Get returns a copy of the session or ErrNotFound.
func (s *MemoryStore) Get(ctx context.Context, id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	if time.Now().After(entry.expiresAt) {
		s.removeLocked(id, entry.sess.UserID)
		return nil, ErrNotFound
	}
	sess := entry.sess
	return &sess, nil
}

// Delete removes the session. Unknown IDs are ignored.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.entries[id]; ok {
		s.removeLocked(id, entry.sess.UserID)
	}
	return nil
}

// RevokeUser removes every session belonging to the user.
func (s *MemoryStore) RevokeUser(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id := range s.byUser[userID] {
		delete(s.entries, id)
	}
	delete(s.byUser, userID)
	return nil
}

// UserSessions lists the user's live session IDs.
func (s *MemoryStore) UserSessions(ctx context.Context, userID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	ids := make([]string, 0, len(s.byUser[userID]))
	for id := range s.byUser[userID] {
		entry, ok := s.entries[id]
		if !ok || now.After(entry.expiresAt) {
			s.removeLocked(id, userID)
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// LimitUser revokes the user's oldest sessions until at most limit remain.
func (s *MemoryStore) LimitUser(ctx context.Context, userID string, limit int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	live := make([]Session, 0, len(s.byUser[userID]))
	for id := range s.byUser[userID] {
		entry, ok := s.entries[id]
		if !ok || now.After(entry.expiresAt) {
			s.removeLocked(id, userID)
			continue
		}
		live = append(live, entry.sess)
	}
	if len(live) <= limit {
		return nil
	}

	sort.Slice(live, func(i, j int) bool {
		return live[i].CreatedAt.Before(live[j].CreatedAt)
	})
	for _, sess := range live[:len(live)-limit] {
		s.removeLocked(sess.ID, userID)
	}
	return nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) removeLocked(id, userID string) {
	delete(s.entries, id)
	if userID != "" {
		delete(s.byUser[userID], id)
		if len(s.byUser[userID]) == 0 {
			delete(s.byUser, userID)
		}
	}
}
