package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"app_kernel/internal/controller"
	"app_kernel/internal/security"
	"app_kernel/internal/session"
)

// User is the public shape of a users row.
type User struct {
	ID        int64       `json:"id"`
	Username  string      `json:"username"`
	Email     string      `json:"email"`
	FullName  pgtype.Text `json:"full_name"`
	IsActive  bool        `json:"is_active"`
	CreatedAt time.Time   `json:"created_at"`
}

const userSchema = `
CREATE TABLE IF NOT EXISTS users (
	id            BIGSERIAL PRIMARY KEY,
	username      TEXT NOT NULL UNIQUE,
	email         TEXT NOT NULL UNIQUE,
	full_name     TEXT,
	password_hash TEXT NOT NULL,
	is_active     BOOLEAN NOT NULL DEFAULT TRUE,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// EnsureUserTable creates the users table when it is missing. The create-user
// command applies it; the server assumes the table exists.
func EnsureUserTable(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, userSchema); err != nil {
		return fmt.Errorf("handlers: creating users table: %w", err)
	}
	return nil
}

const userCacheTTL = 5 * time.Minute

func userCacheKey(id int64) string {
	return fmt.Sprintf("user:%d", id)
}

// ShowUser serves GET /users/{id}: cache-aside read of one user.
func (h *Handler) ShowUser(ctx *controller.Context) (any, error) {
	raw := ctx.Params.Value("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		ctx.Status(http.StatusBadRequest)
		return ctx.JSON(map[string]string{"error": "user id must be a positive integer"})
	}

	key := userCacheKey(id)
	if cached, err := h.Cache.Get(ctx.Ctx, key); err == nil {
		ctx.SetHeader("X-Cache", "hit")
		return json.RawMessage(cached), nil
	}

	var u User
	err = h.Pool.QueryRow(ctx.Ctx, `
		SELECT id, username, email, full_name, is_active, created_at
		FROM users
		WHERE id = $1`, id,
	).Scan(&u.ID, &u.Username, &u.Email, &u.FullName, &u.IsActive, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		ctx.Status(http.StatusNotFound)
		return ctx.JSON(map[string]string{"error": "user not found"})
	}
	if err != nil {
		return nil, fmt.Errorf("handlers: loading user %d: %w", id, err)
	}

	body, err := ctx.JSON(u)
	if err != nil {
		return nil, err
	}
	if data, ok := body.([]byte); ok {
		if cerr := h.Cache.Set(ctx.Ctx, key, data, userCacheTTL); cerr != nil {
			ctx.Logger.Debug("user cache write failed", "key", key, "error", cerr)
		}
	}
	return body, nil
}

// Login serves POST /login. Credentials arrive form-encoded (the snapshot
// retains parsed form parameters, not raw bodies); success issues a session
// and sets its cookie.
func (h *Handler) Login(ctx *controller.Context) (any, error) {
	email := ctx.Snapshot.BodyParam("email")
	password := ctx.Snapshot.BodyParam("password")
	if email == "" || password == "" {
		ctx.Status(http.StatusBadRequest)
		return ctx.JSON(map[string]string{"error": "email and password are required"})
	}

	var (
		userID   int64
		username string
		hash     string
		isActive bool
	)
	err := h.Pool.QueryRow(ctx.Ctx, `
		SELECT id, username, password_hash, is_active
		FROM users
		WHERE email = $1`, email,
	).Scan(&userID, &username, &hash, &isActive)
	if errors.Is(err, pgx.ErrNoRows) {
		ctx.Logger.Warn("login attempt for unknown email", "email", email)
		ctx.Status(http.StatusUnauthorized)
		return ctx.JSON(map[string]string{"error": "invalid email or password"})
	}
	if err != nil {
		return nil, fmt.Errorf("handlers: loading credentials: %w", err)
	}

	ok, err := security.VerifyPassword(password, hash)
	if err != nil {
		return nil, fmt.Errorf("handlers: verifying password: %w", err)
	}
	if !ok {
		ctx.Logger.Warn("login attempt with wrong password", "email", email)
		ctx.Status(http.StatusUnauthorized)
		return ctx.JSON(map[string]string{"error": "invalid email or password"})
	}
	if !isActive {
		ctx.Status(http.StatusForbidden)
		return ctx.JSON(map[string]string{"error": "account is deactivated"})
	}

	sess, cookie, err := h.Sessions.Issue(ctx.Ctx, strconv.FormatInt(userID, 10), map[string]string{
		"email":    email,
		"username": username,
	})
	if err != nil {
		return nil, fmt.Errorf("handlers: issuing session: %w", err)
	}
	ctx.SetCookie(cookie)

	ctx.Logger.Info("user logged in", "user_id", userID, "session_id", sess.ID)
	return ctx.JSON(map[string]any{
		"message": "login successful",
		"user": map[string]any{
			"id":       userID,
			"username": username,
			"email":    email,
		},
	})
}

// Logout serves POST /logout: revokes the current session and clears its
// cookie.
func (h *Handler) Logout(ctx *controller.Context) (any, error) {
	sess, err := h.Sessions.Resolve(ctx.Ctx, ctx.Snapshot)
	if errors.Is(err, session.ErrNotFound) {
		ctx.Status(http.StatusUnauthorized)
		return ctx.JSON(map[string]string{"error": "not signed in"})
	}
	if err != nil {
		return nil, fmt.Errorf("handlers: resolving session: %w", err)
	}

	expired, err := h.Sessions.Revoke(ctx.Ctx, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("handlers: revoking session: %w", err)
	}
	ctx.SetCookie(expired)

	return ctx.JSON(map[string]string{"message": "logout successful"})
}

// Profile serves GET /me: the session behind the request's cookie.
func (h *Handler) Profile(ctx *controller.Context) (any, error) {
	sess, err := h.Sessions.Resolve(ctx.Ctx, ctx.Snapshot)
	if errors.Is(err, session.ErrNotFound) {
		ctx.Status(http.StatusUnauthorized)
		return ctx.JSON(map[string]string{"error": "not signed in"})
	}
	if err != nil {
		return nil, fmt.Errorf("handlers: resolving session: %w", err)
	}

	return ctx.JSON(map[string]any{
		"user_id":        sess.UserID,
		"data":           sess.Data,
		"created_at":     sess.CreatedAt,
		"last_access_at": sess.LastAccessAt,
	})
}
