// Package handlers is the reference application served by the dispatch
// kernel: a user endpoint backed by Postgres with cache-aside reads, a
// form-based login flow on the session manager, an audit report export, and
// admin views over the job queue. It exists to exercise every kernel surface
// the way a host application would.
package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"app_kernel/internal/cache"
	"app_kernel/internal/controller"
	"app_kernel/internal/jobs"
	"app_kernel/internal/router"
	"app_kernel/internal/session"
)

// Handler bundles the application dependencies route actions close over.
type Handler struct {
	Pool     *pgxpool.Pool
	Cache    cache.Cache
	Sessions *session.Manager
	Queue    jobs.Queue
	Logger   *slog.Logger

	started time.Time
}

// New builds the handler set. A nil logger falls back to slog.Default.
func New(pool *pgxpool.Pool, c cache.Cache, sessions *session.Manager, queue jobs.Queue, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Pool:     pool,
		Cache:    c,
		Sessions: sessions,
		Queue:    queue,
		Logger:   logger,
		started:  time.Now(),
	}
}

// Register binds every route and named service to the kernel tables. Call it
// before Freeze.
func (h *Handler) Register(routes *router.Table, services *router.Servicer) error {
	bindings := []router.Route{
		{Methods: []string{http.MethodGet}, Pattern: "/", Name: "home", Handler: h.Home},
		{Methods: []string{http.MethodGet}, Pattern: "/users/{id}", Name: "users.show", Handler: h.ShowUser},
		{Methods: []string{http.MethodPost}, Pattern: "/login", Name: "auth.login", Handler: h.Login},
		{Methods: []string{http.MethodPost}, Pattern: "/logout", Name: "auth.logout", Handler: h.Logout},
		{Methods: []string{http.MethodGet}, Pattern: "/me", Name: "auth.profile", Handler: h.Profile},
		{Methods: []string{http.MethodGet}, Pattern: "/admin/jobs", Name: "admin.jobs", Handler: h.JobOverview},
		{Methods: []string{http.MethodGet}, Pattern: "/admin/jobs/{id}", Name: "admin.jobs.show", Handler: h.ShowJob},
		{Methods: []string{http.MethodGet}, Pattern: "/admin/reports/audit", Name: "admin.reports.audit", Handler: h.AuditReport},
	}
	for _, route := range bindings {
		if err := routes.Register(route); err != nil {
			return err
		}
	}

	return services.Register("status", func() controller.Service {
		return &statusService{started: h.started}
	})
}

// Home answers the root route through the output-capture path: the handler
// prints, returns no explicit body, and the kernel drains the scope.
func (h *Handler) Home(ctx *controller.Context) (any, error) {
	ctx.SetHeader("Content-Type", "text/plain; charset=utf-8")
	ctx.Print("app_kernel is serving. Try /users/{id}, /status/info, /healthz, or /metrics.\n")
	return nil, nil
}

// statusService is the named-dispatch example: any /status/... request that
// misses the route table lands here with the trailing segments as args.
type statusService struct {
	started time.Time
}

// Serve implements controller.Service.
func (s *statusService) Serve(ctx *controller.Context) (any, error) {
	return ctx.JSON(map[string]any{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"args":           ctx.Args,
	})
}
