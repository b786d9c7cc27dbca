package audit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"app_kernel/internal/controller"
	"app_kernel/internal/jobs"
	"app_kernel/internal/request"
	"app_kernel/internal/response"
)

// capturingQueue records enqueued jobs and can be told to fail.
type capturingQueue struct {
	enqueued []*jobs.Job
	err      error
}

func (q *capturingQueue) Enqueue(_ context.Context, job *jobs.Job) error {
	if q.err != nil {
		return q.err
	}
	q.enqueued = append(q.enqueued, job)
	return nil
}

func (q *capturingQueue) Dequeue(context.Context) (*jobs.Job, error)              { return nil, nil }
func (q *capturingQueue) Complete(context.Context, string, json.RawMessage) error { return nil }
func (q *capturingQueue) Fail(context.Context, string, error) error               { return nil }
func (q *capturingQueue) Retry(context.Context, *jobs.Job) error                  { return nil }
func (q *capturingQueue) Get(context.Context, string) (*jobs.Job, error) {
	return nil, jobs.ErrJobNotFound
}
func (q *capturingQueue) Stats(context.Context) (*jobs.JobStats, error) { return &jobs.JobStats{}, nil }
func (q *capturingQueue) Close() error                                  { return nil }

func handledContext(t *testing.T) *controller.Context {
	t.Helper()

	r := httptest.NewRequest("GET", "/users/42?verbose=1", nil)
	r.Header.Set(request.RequestIDHeader, "req-audit-1")
	r.Header.Set("User-Agent", "audit-probe/1.0")
	r.RemoteAddr = "203.0.113.9:4455"

	snap, err := request.Capture(r)
	if err != nil {
		t.Fatalf("Capture failed: %v", err)
	}

	state := response.New(response.Defaults{ContentType: "application/json"})
	buf := response.NewController(state, nil)
	ctx := controller.NewContext(snap, state, buf, nil)
	ctx.Route = "users.show"
	return ctx
}

func TestListenerEnqueuesRecord(t *testing.T) {
	queue := &capturingQueue{}
	listener := NewListener(queue, nil)

	ctx := handledContext(t)
	if err := ctx.Status(201); err != nil {
		t.Fatalf("Status failed: %v", err)
	}

	if out := listener(ctx); out != nil {
		t.Fatalf("listener should not replace the payload, got %v", out)
	}

	if len(queue.enqueued) != 1 {
		t.Fatalf("expected 1 enqueued job, got %d", len(queue.enqueued))
	}
	job := queue.enqueued[0]
	if job.Type != RecordJobType {
		t.Fatalf("job type = %q, want %q", job.Type, RecordJobType)
	}

	var rec Record
	if err := json.Unmarshal(job.Payload, &rec); err != nil {
		t.Fatalf("payload did not decode: %v", err)
	}
	if rec.RequestID != "req-audit-1" {
		t.Errorf("request id = %q, want req-audit-1", rec.RequestID)
	}
	if rec.Method != "GET" || rec.Path != "/users/42" {
		t.Errorf("method/path = %q %q, want GET /users/42", rec.Method, rec.Path)
	}
	if rec.Route != "users.show" {
		t.Errorf("route = %q, want users.show", rec.Route)
	}
	if rec.Status != 201 {
		t.Errorf("status = %d, want 201", rec.Status)
	}
	if rec.ClientIP != "203.0.113.9" {
		t.Errorf("client ip = %q, want 203.0.113.9", rec.ClientIP)
	}
	if rec.UserAgent != "audit-probe/1.0" {
		t.Errorf("user agent = %q, want audit-probe/1.0", rec.UserAgent)
	}
	if rec.OccurredAt.IsZero() {
		t.Error("occurred_at should be stamped")
	}
	if rec.DurationMs < 0 {
		t.Errorf("duration = %d, want non-negative", rec.DurationMs)
	}
}

func TestListenerIgnoresForeignPayload(t *testing.T) {
	queue := &capturingQueue{}
	listener := NewListener(queue, nil)

	if out := listener("not a controller context"); out != nil {
		t.Fatalf("expected nil for foreign payload, got %v", out)
	}
	if len(queue.enqueued) != 0 {
		t.Fatalf("nothing should be enqueued, got %d jobs", len(queue.enqueued))
	}
}

func TestListenerSwallowsEnqueueFailure(t *testing.T) {
	queue := &capturingQueue{err: errors.New("queue down")}
	listener := NewListener(queue, nil)

	// Must not panic or replace the payload; the request outlives the audit.
	if out := listener(handledContext(t)); out != nil {
		t.Fatalf("expected nil even on enqueue failure, got %v", out)
	}
}

func TestListenerFeedsMemoryQueue(t *testing.T) {
	queue := jobs.NewMemoryQueue()
	defer queue.Close()

	listener := NewListener(queue, nil)
	listener(handledContext(t))

	job, err := queue.Dequeue(context.Background())
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if job == nil {
		t.Fatal("expected the audit job to be dequeued")
	}
	if job.Type != RecordJobType {
		t.Fatalf("job type = %q, want %q", job.Type, RecordJobType)
	}

	var rec Record
	if err := json.Unmarshal(job.Payload, &rec); err != nil {
		t.Fatalf("payload did not decode: %v", err)
	}
	if rec.Path != "/users/42" {
		t.Errorf("path = %q, want /users/42", rec.Path)
	}
}

func TestInsertHandlerRejectsBadPayload(t *testing.T) {
	handler := InsertHandler(nil)

	job := &jobs.Job{ID: "j1", Type: RecordJobType, Payload: json.RawMessage(`{"status":`)}
	if err := handler(context.Background(), job); err == nil {
		t.Fatal("expected a decode error for malformed payload")
	}
}

func TestPartitionName(t *testing.T) {
	at := time.Date(2026, time.March, 15, 10, 0, 0, 0, time.UTC)
	if got := PartitionName(at); got != "audit_logs_2026_03" {
		t.Fatalf("partition name = %q, want audit_logs_2026_03", got)
	}
	// Local times normalize to UTC before naming.
	loc := time.FixedZone("UTC+14", 14*3600)
	edge := time.Date(2026, time.April, 1, 1, 0, 0, 0, loc)
	if got := PartitionName(edge); got != "audit_logs_2026_03" {
		t.Fatalf("partition name = %q, want audit_logs_2026_03 for UTC+14 edge", got)
	}
}
