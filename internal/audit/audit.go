// Package audit turns handled requests into durable audit rows. The dispatch
// pipeline's after hook snapshots each request into a queue job, so the
// request path never waits on the audit store; workers drain the queue into a
// Postgres table partitioned by occurrence month.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"app_kernel/internal/controller"
	"app_kernel/internal/events"
	"app_kernel/internal/jobs"
)

// Job types the package registers handlers for.
const (
	// RecordJobType carries one Record from the request path to the store.
	RecordJobType = "audit.record"

	// PartitionJobType is the scheduled job that rolls partitions forward.
	PartitionJobType = "audit.partitions"
)

// Record is one handled request as persisted to audit_logs.
type Record struct {
	RequestID  string    `json:"request_id"`
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	Route      string    `json:"route"`
	Status     int       `json:"status"`
	DurationMs int64     `json:"duration_ms"`
	ClientIP   string    `json:"client_ip"`
	UserAgent  string    `json:"user_agent"`
	OccurredAt time.Time `json:"occurred_at"`
}

// NewListener returns a lifecycle listener for the dispatcher's after event.
// It captures the request into a Record and enqueues it for asynchronous
// insertion. Enqueue failures are logged and swallowed: auditing must never
// fail the request it describes.
func NewListener(queue jobs.Queue, logger *slog.Logger) events.Listener {
	if logger == nil {
		logger = slog.Default()
	}
	return func(payload any) any {
		ctx, ok := payload.(*controller.Context)
		if !ok {
			return nil
		}
		rec := Record{
			RequestID:  ctx.Snapshot.ID(),
			Method:     ctx.Snapshot.Method(),
			Path:       ctx.Snapshot.Path(),
			Route:      ctx.Route,
			Status:     ctx.Response.Status(),
			DurationMs: ctx.Snapshot.Elapsed().Milliseconds(),
			ClientIP:   ctx.Snapshot.Client().IP,
			UserAgent:  ctx.Snapshot.UserAgent(),
			OccurredAt: time.Now().UTC(),
		}
		job, err := jobs.NewJob(RecordJobType, rec, nil)
		if err != nil {
			logger.Error("audit record encoding failed", "request_id", rec.RequestID, "error", err)
			return nil
		}
		if err := queue.Enqueue(ctx.Ctx, job); err != nil {
			logger.Error("audit record enqueue failed", "request_id", rec.RequestID, "error", err)
		}
		return nil
	}
}

// InsertHandler returns the worker handler that persists audit records. The
// row lands in the partition covering its occurrence month, so partitions
// must exist before records for that month arrive; see EnsurePartitions.
func InsertHandler(pool *pgxpool.Pool) jobs.Handler {
	return func(ctx context.Context, job *jobs.Job) error {
		var rec Record
		if err := json.Unmarshal(job.Payload, &rec); err != nil {
			return fmt.Errorf("audit: decode record: %w", err)
		}
		_, err := pool.Exec(ctx, `
			INSERT INTO audit_logs
				(request_id, method, path, route, status, duration_ms, client_ip, user_agent, occurred_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			rec.RequestID, rec.Method, rec.Path, rec.Route, rec.Status,
			rec.DurationMs, rec.ClientIP, rec.UserAgent, rec.OccurredAt,
		)
		if err != nil {
			return fmt.Errorf("audit: insert record: %w", err)
		}
		return nil
	}
}

// PartitionHandler returns the worker handler behind the partition
// maintenance schedule.
func PartitionHandler(pool *pgxpool.Pool, logger *slog.Logger, monthsAhead int) jobs.Handler {
	return func(ctx context.Context, _ *jobs.Job) error {
		return EnsurePartitions(ctx, pool, logger, monthsAhead)
	}
}

// Register wires both audit job types into the worker registry.
func Register(registry *jobs.Registry, pool *pgxpool.Pool, logger *slog.Logger) {
	registry.Register(RecordJobType, InsertHandler(pool))
	registry.Register(PartitionJobType, PartitionHandler(pool, logger, 1))
}

// schema declares the parent table. Partitioning by occurrence month keeps
// retention a cheap DROP of old partitions instead of a bulk DELETE.
const schema = `
CREATE TABLE IF NOT EXISTS audit_logs (
	id          BIGINT GENERATED ALWAYS AS IDENTITY,
	request_id  TEXT        NOT NULL,
	method      TEXT        NOT NULL,
	path        TEXT        NOT NULL,
	route       TEXT        NOT NULL DEFAULT '',
	status      INT         NOT NULL,
	duration_ms BIGINT      NOT NULL DEFAULT 0,
	client_ip   TEXT        NOT NULL DEFAULT '',
	user_agent  TEXT        NOT NULL DEFAULT '',
	occurred_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (id, occurred_at)
) PARTITION BY RANGE (occurred_at);
CREATE INDEX IF NOT EXISTS idx_audit_logs_occurred_at ON audit_logs (occurred_at DESC);
CREATE INDEX IF NOT EXISTS idx_audit_logs_request_id ON audit_logs (request_id);
`

// EnsurePartitions creates the audit_logs table if needed, plus the monthly
// partitions covering the current month through monthsAhead months out. It is
// idempotent, so the scheduler can run it on the first of every month and an
// operator can run it by hand after a long outage.
func EnsurePartitions(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger, monthsAhead int) error {
	if logger == nil {
		logger = slog.Default()
	}
	if monthsAhead < 1 {
		monthsAhead = 1
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("audit: create audit_logs: %w", err)
	}

	now := time.Now().UTC()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i <= monthsAhead; i++ {
		from := start.AddDate(0, i, 0)
		if err := createPartition(ctx, pool, from); err != nil {
			return err
		}
		logger.Debug("audit partition ensured", "partition", PartitionName(from))
	}
	return nil
}

// PartitionName returns the partition holding rows for the month of t.
func PartitionName(t time.Time) string {
	return "audit_logs_" + t.UTC().Format("2006_01")
}

func createPartition(ctx context.Context, pool *pgxpool.Pool, from time.Time) error {
	to := from.AddDate(0, 1, 0)
	name := PartitionName(from)
	// Partition bounds cannot be bind parameters; the values come from
	// time.Format, never from user input.
	ddl := fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s PARTITION OF audit_logs FOR VALUES FROM ('%s') TO ('%s')`,
		name, from.Format("2006-01-02"), to.Format("2006-01-02"),
	)
	if _, err := pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("audit: create partition %s: %w", name, err)
	}
	return nil
}

// RecentRecords returns the newest audit rows, newest first. A non-positive
// limit asks for 100.
func RecentRecords(ctx context.Context, pool *pgxpool.Pool, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := pool.Query(ctx, `
		SELECT request_id, method, path, route, status, duration_ms, client_ip, user_agent, occurred_at
		FROM audit_logs
		ORDER BY occurred_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("audit: query records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(
			&rec.RequestID, &rec.Method, &rec.Path, &rec.Route, &rec.Status,
			&rec.DurationMs, &rec.ClientIP, &rec.UserAgent, &rec.OccurredAt,
		); err != nil {
			return nil, fmt.Errorf("audit: scan record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: read records: %w", err)
	}
	return records, nil
}
