package session

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"app_kernel/internal/request"
)

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// Store persists the sessions. Required.
	Store Store

	// Logger for structured logging (optional, uses slog.Default if nil).
	Logger *slog.Logger

	// CookieName carries the session ID. Default: "app_session".
	CookieName string

	// TTL is the session lifetime, renewed on every resolve. Default: 24h.
	TTL time.Duration

	// MaxPerUser caps concurrent sessions per user; issuing one past the cap
	// revokes the user's oldest. Zero means unlimited.
	MaxPerUser int

	// Secure marks issued cookies Secure. Enable behind TLS.
	Secure bool
}

// Manager issues and resolves sessions against a Store and speaks cookies on
// the HTTP side. Session IDs are v4 UUIDs.
type Manager struct {
	store      Store
	logger     *slog.Logger
	cookieName string
	ttl        time.Duration
	maxPerUser int
	secure     bool
}

// NewManager builds a Manager from config.
func NewManager(config *ManagerConfig) (*Manager, error) {
	if config == nil || config.Store == nil {
		return nil, errors.New("session: config with a store is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cookieName := config.CookieName
	if cookieName == "" {
		cookieName = "app_session"
	}
	ttl := config.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Manager{
		store:      config.Store,
		logger:     logger,
		cookieName: cookieName,
		ttl:        ttl,
		maxPerUser: config.MaxPerUser,
		secure:     config.Secure,
	}, nil
}

// CookieName returns the name of the session cookie.
func (m *Manager) CookieName() string { return m.cookieName }

// Issue creates and persists a session for the user and returns the cookie to
// set on the response. When a per-user cap is configured, the user's oldest
// sessions are revoked to stay within it.
func (m *Manager) Issue(ctx context.Context, userID string, data map[string]string) (*Session, *http.Cookie, error) {
	now := time.Now()
	sess := &Session{
		ID:           uuid.NewString(),
		UserID:       userID,
		Data:         data,
		CreatedAt:    now,
		LastAccessAt: now,
	}
	if err := m.store.Save(ctx, sess, m.ttl); err != nil {
		return nil, nil, err
	}

	if m.maxPerUser > 0 && userID != "" {
		if err := m.store.LimitUser(ctx, userID, m.maxPerUser); err != nil {
			m.logger.Warn("limiting concurrent sessions failed", "user_id", userID, "error", err)
		}
	}

	m.logger.Info("session issued", "session_id", sess.ID, "user_id", userID)
	return sess, m.cookie(sess.ID, m.ttl), nil
}

// Resolve looks up the session named by the snapshot's cookie. A hit renews
// the full TTL (sliding expiration) and stamps the access time; a missing or
// expired session returns ErrNotFound.
func (m *Manager) Resolve(ctx context.Context, snap *request.Snapshot) (*Session, error) {
	cookie, ok := snap.Cookie(m.cookieName)
	if !ok || cookie.Value == "" {
		return nil, ErrNotFound
	}

	sess, err := m.store.Get(ctx, cookie.Value)
	if err != nil {
		return nil, err
	}

	sess.LastAccessAt = time.Now()
	if err := m.store.Save(ctx, sess, m.ttl); err != nil {
		// The caller still has a valid session; renewal failing only costs
		// the slide.
		m.logger.Warn("renewing session failed", "session_id", sess.ID, "error", err)
	}
	return sess, nil
}

// Revoke deletes the session and returns the expired cookie that clears it
// from the client.
func (m *Manager) Revoke(ctx context.Context, id string) (*http.Cookie, error) {
	if err := m.store.Delete(ctx, id); err != nil {
		return nil, err
	}
	m.logger.Info("session revoked", "session_id", id)
	return m.expiredCookie(), nil
}

// RevokeAll deletes every session belonging to the user.
func (m *Manager) RevokeAll(ctx context.Context, userID string) error {
	if err := m.store.RevokeUser(ctx, userID); err != nil {
		return err
	}
	m.logger.Info("all user sessions revoked", "user_id", userID)
	return nil
}

func (m *Manager) cookie(value string, ttl time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     m.cookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	}
}

func (m *Manager) expiredCookie() *http.Cookie {
	return &http.Cookie{
		Name:     m.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	}
}
