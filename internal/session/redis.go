package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps sessions as JSON blobs under a key prefix, with a Redis
// set per user for bulk revocation. Expiry is Redis TTL; the user sets live a
// day longer than the sessions they track so revocation still finds stragglers.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore returns a Redis-backed session store using the default
// "session:" key prefix.
func NewRedisStore(client *redis.Client) *RedisStore {
	return NewRedisStoreWithPrefix(client, "session:")
}

// NewRedisStoreWithPrefix returns a Redis-backed session store with a custom
// key prefix.
func NewRedisStoreWithPrefix(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) sessionKey(id string) string {
	return s.prefix + "data:" + id
}

func (s *RedisStore) userKey(userID string) string {
	return s.prefix + "user:" + userID + ":sessions"
}

// Save writes the session blob with the given TTL and records the ID in the
// owner's session set.
func (s *RedisStore) Save(ctx context.Context, sess *Session, ttl time.Duration) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("session: marshaling session: %w", err)
	}
	if err := s.client.Set(ctx, s.sessionKey(sess.ID), data, ttl).Err(); err != nil {
		return fmt.Errorf("session: saving session: %w", err)
	}

	if sess.UserID != "" {
		userKey := s.userKey(sess.UserID)
		if err := s.client.SAdd(ctx, userKey, sess.ID).Err(); err != nil {
			return fmt.Errorf("session: indexing session: %w", err)
		}
		// The set outlives its members so revocation can still clean up.
		s.client.Expire(ctx, userKey, ttl+24*time.Hour)
	}
	return nil
}

// Get returns the session or ErrNotFound once Redis has expired it.
func (s *RedisStore) Get(ctx context.Context, id string) (*Session, error) {
	data, err := s.client.Get(ctx, s.sessionKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session: reading session: %w", err)
	}

	var sess Session
	if err := json.Unmarshal([]byte(data), &sess); err != nil {
		return nil, fmt.Errorf("session: unmarshaling session: %w", err)
	}
	return &sess, nil
}

// Delete removes the session and its user-set entry.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	sess, err := s.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if err := s.client.Del(ctx, s.sessionKey(id)).Err(); err != nil {
		return fmt.Errorf("session: deleting session: %w", err)
	}
	if sess.UserID != "" {
		s.client.SRem(ctx, s.userKey(sess.UserID), id)
	}
	return nil
}

// RevokeUser removes every session in the user's set, then the set itself.
func (s *RedisStore) RevokeUser(ctx context.Context, userID string) error {
	userKey := s.userKey(userID)
	ids, err := s.client.SMembers(ctx, userKey).Result()
	if err != nil {
		return fmt.Errorf("session: listing user sessions: %w", err)
	}

	if len(ids) > 0 {
		keys := make([]string, len(ids))
		for i, id := range ids {
			keys[i] = s.sessionKey(id)
		}
		if err := s.client.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("session: deleting user sessions: %w", err)
		}
	}
	if err := s.client.Del(ctx, userKey).Err(); err != nil {
		return fmt.Errorf("session: deleting user session set: %w", err)
	}
	return nil
}

// UserSessions lists the active session IDs recorded for the user.
func (s *RedisStore) UserSessions(ctx context.Context, userID string) ([]string, error) {
	ids, err := s.client.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("session: listing user sessions: %w", err)
	}
	return ids, nil
}

// LimitUser revokes the user's oldest sessions until at most limit remain.
// Set members whose session blob has already expired are skipped.
func (s *RedisStore) LimitUser(ctx context.Context, userID string, limit int) error {
	ids, err := s.UserSessions(ctx, userID)
	if err != nil {
		return err
	}
	if len(ids) <= limit {
		return nil
	}

	live := make([]*Session, 0, len(ids))
	for _, id := range ids {
		sess, err := s.Get(ctx, id)
		if err != nil {
			continue
		}
		live = append(live, sess)
	}
	if len(live) <= limit {
		return nil
	}

	sort.Slice(live, func(i, j int) bool {
		return live[i].CreatedAt.Before(live[j].CreatedAt)
	})
	for _, sess := range live[:len(live)-limit] {
		if err := s.Delete(ctx, sess.ID); err != nil {
			return fmt.Errorf("session: revoking old session: %w", err)
		}
	}
	return nil
}

// Close releases the Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
