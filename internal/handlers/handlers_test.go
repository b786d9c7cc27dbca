package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"app_kernel/internal/audit"
	"app_kernel/internal/cache"
	"app_kernel/internal/dispatch"
	"app_kernel/internal/jobs"
	"app_kernel/internal/router"
	"app_kernel/internal/session"
)

type testApp struct {
	handler *Handler
	kernel  http.Handler
	cache   cache.Cache
	queue   jobs.Queue
	manager *session.Manager
}

// newTestApp wires the handler set through a real dispatcher. The pool stays
// nil, so tests drive only the paths that answer before touching Postgres.
func newTestApp(t *testing.T) *testApp {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	manager, err := session.NewManager(&session.ManagerConfig{
		Store:  session.NewMemoryStore(),
		Logger: logger,
	})
	if err != nil {
		t.Fatalf("building session manager: %v", err)
	}

	c := cache.NewMemoryCache(nil)
	queue := jobs.NewMemoryQueue()
	t.Cleanup(func() { queue.Close() })

	h := New(nil, c, manager, queue, logger)

	table := router.NewTable(logger)
	services := router.NewServicer(logger)
	if err := h.Register(table, services); err != nil {
		t.Fatalf("registering routes: %v", err)
	}
	table.Freeze()
	services.Freeze()

	kernel, err := dispatch.New(&dispatch.Config{
		Logger:   logger,
		Routes:   table,
		Services: services,
	})
	if err != nil {
		t.Fatalf("building dispatcher: %v", err)
	}

	return &testApp{handler: h, kernel: kernel, cache: c, queue: queue, manager: manager}
}

func (a *testApp) get(path string, mutate ...func(*http.Request)) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodGet, path, nil)
	for _, fn := range mutate {
		fn(r)
	}
	w := httptest.NewRecorder()
	a.kernel.ServeHTTP(w, r)
	return w
}

func (a *testApp) postForm(path, form string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	a.kernel.ServeHTTP(w, r)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var doc map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &doc); err != nil {
		t.Fatalf("body is not a JSON error document: %v (%q)", err, w.Body.String())
	}
	return doc["error"]
}

func TestHomeServesThroughCaptureScope(t *testing.T) {
	app := newTestApp(t)

	w := app.get("/")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "app_kernel is serving") {
		t.Fatalf("unexpected home body: %q", w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("content type = %q, want text/plain", ct)
	}
}

func TestShowUserRejectsBadID(t *testing.T) {
	app := newTestApp(t)

	for _, path := range []string{"/users/abc", "/users/0", "/users/-3"} {
		w := app.get(path)
		if w.Code != http.StatusBadRequest {
			t.Errorf("GET %s = %d, want 400", path, w.Code)
		}
	}
}

func TestShowUserServesCachedValue(t *testing.T) {
	app := newTestApp(t)

	seeded := []byte(`{"id":7,"username":"cached-user"}`)
	if err := app.cache.Set(context.Background(), userCacheKey(7), seeded, time.Minute); err != nil {
		t.Fatalf("seeding cache: %v", err)
	}

	w := app.get("/users/7")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Header().Get("X-Cache") != "hit" {
		t.Error("expected an X-Cache: hit marker")
	}
	if w.Body.String() != string(seeded) {
		t.Fatalf("body = %q, want seeded value %q", w.Body.String(), seeded)
	}
}

func TestLoginRequiresCredentials(t *testing.T) {
	app := newTestApp(t)

	cases := []string{"", "email=a@example.com", "password=Secret123"}
	for _, form := range cases {
		w := app.postForm("/login", form)
		if w.Code != http.StatusBadRequest {
			t.Errorf("POST /login %q = %d, want 400", form, w.Code)
		}
		if msg := decodeError(t, w); !strings.Contains(msg, "required") {
			t.Errorf("error message = %q, want a required-fields message", msg)
		}
	}
}

func TestProfileRequiresSession(t *testing.T) {
	app := newTestApp(t)

	w := app.get("/me")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestLogoutRequiresSession(t *testing.T) {
	app := newTestApp(t)

	w := app.postForm("/logout", "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestProfileReadsIssuedSession(t *testing.T) {
	app := newTestApp(t)

	_, cookie, err := app.manager.Issue(context.Background(), "42", map[string]string{"email": "a@example.com"})
	if err != nil {
		t.Fatalf("issuing session: %v", err)
	}

	w := app.get("/me", func(r *http.Request) { r.AddCookie(cookie) })
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var doc struct {
		UserID string            `json:"user_id"`
		Data   map[string]string `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &doc); err != nil {
		t.Fatalf("decoding profile: %v", err)
	}
	if doc.UserID != "42" {
		t.Errorf("user_id = %q, want 42", doc.UserID)
	}
	if doc.Data["email"] != "a@example.com" {
		t.Errorf("data.email = %q, want a@example.com", doc.Data["email"])
	}
}

func TestLogoutRevokesSession(t *testing.T) {
	app := newTestApp(t)

	_, cookie, err := app.manager.Issue(context.Background(), "42", nil)
	if err != nil {
		t.Fatalf("issuing session: %v", err)
	}

	w := app.postFormWithCookie("/logout", "", cookie)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	// The same cookie must no longer resolve.
	w = app.get("/me", func(r *http.Request) { r.AddCookie(cookie) })
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", w.Code)
	}
}

func (a *testApp) postFormWithCookie(path, form string, cookie *http.Cookie) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	r.AddCookie(cookie)
	w := httptest.NewRecorder()
	a.kernel.ServeHTTP(w, r)
	return w
}

func TestStatusServiceAnswersByName(t *testing.T) {
	app := newTestApp(t)

	w := app.get("/status/info/deep")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var doc struct {
		Status string   `json:"status"`
		Args   []string `json:"args"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &doc); err != nil {
		t.Fatalf("decoding status: %v", err)
	}
	if doc.Status != "ok" {
		t.Errorf("status = %q, want ok", doc.Status)
	}
	if len(doc.Args) != 2 || doc.Args[0] != "info" || doc.Args[1] != "deep" {
		t.Errorf("args = %v, want [info deep]", doc.Args)
	}
}

func TestJobOverviewCountsQueue(t *testing.T) {
	app := newTestApp(t)

	for i := 0; i < 2; i++ {
		job, err := jobs.NewJob("demo", map[string]string{"k": "v"}, nil)
		if err != nil {
			t.Fatalf("building job: %v", err)
		}
		if err := app.queue.Enqueue(context.Background(), job); err != nil {
			t.Fatalf("enqueueing: %v", err)
		}
	}

	w := app.get("/admin/jobs")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var stats jobs.JobStats
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decoding stats: %v", err)
	}
	if stats.TotalJobs != 2 || stats.PendingJobs != 2 {
		t.Errorf("stats = %+v, want 2 total / 2 pending", stats)
	}
}

func TestShowJobByID(t *testing.T) {
	app := newTestApp(t)

	w := app.get("/admin/jobs/unknown-id")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown job, got %d", w.Code)
	}

	job, err := jobs.NewJob("demo", nil, nil)
	if err != nil {
		t.Fatalf("building job: %v", err)
	}
	if err := app.queue.Enqueue(context.Background(), job); err != nil {
		t.Fatalf("enqueueing: %v", err)
	}

	w = app.get("/admin/jobs/" + job.ID)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var got jobs.Job
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decoding job: %v", err)
	}
	if got.ID != job.ID || got.Type != "demo" {
		t.Errorf("job = %+v, want id %s type demo", got, job.ID)
	}
}

func TestAuditWorkbookLayout(t *testing.T) {
	at := time.Date(2026, time.August, 25, 12, 0, 0, 0, time.UTC)
	records := []audit.Record{
		{
			RequestID: "req-1", Method: "GET", Path: "/users/1", Route: "users.show",
			Status: 200, DurationMs: 12, ClientIP: "10.0.0.1", UserAgent: "probe",
			OccurredAt: at,
		},
		{
			RequestID: "req-2", Method: "POST", Path: "/login", Route: "auth.login",
			Status: 401, DurationMs: 40, ClientIP: "10.0.0.2", UserAgent: "probe",
			OccurredAt: at.Add(-time.Minute),
		},
	}

	f, err := buildAuditWorkbook(records)
	if err != nil {
		t.Fatalf("building workbook: %v", err)
	}
	defer f.Close()

	header, err := f.GetCellValue(auditSheet, "A1")
	if err != nil {
		t.Fatalf("reading A1: %v", err)
	}
	if header != "Occurred At" {
		t.Errorf("A1 = %q, want Occurred At", header)
	}

	checks := map[string]string{
		"B2": "req-1",
		"C2": "GET",
		"D2": "/users/1",
		"F2": "200",
		"B3": "req-2",
		"F3": "401",
	}
	for cell, want := range checks {
		got, err := f.GetCellValue(auditSheet, cell)
		if err != nil {
			t.Fatalf("reading %s: %v", cell, err)
		}
		if got != want {
			t.Errorf("%s = %q, want %q", cell, got, want)
		}
	}
}
