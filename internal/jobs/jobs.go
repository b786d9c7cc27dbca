// Package jobs implements the background work layer: a queue (Redis-backed
// or in-memory), a worker pool with retries and backoff, and a cron scheduler
// that feeds recurring work into the same queue.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// JobStatus represents the lifecycle state of a job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusRetrying   JobStatus = "retrying"
)

// Job represents one unit of background work.
type Job struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	Status      JobStatus       `json:"status"`
	Priority    int             `json:"priority"`
	MaxRetries  int             `json:"max_retries"`
	Attempts    int             `json:"attempts"`
	Backoff     BackoffStrategy `json:"backoff,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	ScheduledAt time.Time       `json:"scheduled_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	FailedAt    *time.Time      `json:"failed_at,omitempty"`
	Error       string          `json:"error,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
}

// Handler processes one job. A non-nil error sends the job back for retry
// until MaxRetries is spent.
type Handler func(ctx context.Context, job *Job) error

// JobConfig holds per-job options applied at enqueue time.
type JobConfig struct {
	// MaxRetries before the job fails permanently
	MaxRetries int

	// Backoff strategy between retries
	Backoff BackoffStrategy

	// Priority (higher = dispatched sooner)
	Priority int

	// Delay before the job becomes eligible
	Delay time.Duration
}

// DefaultJobConfig returns a default job configuration.
func DefaultJobConfig() *JobConfig {
	return &JobConfig{
		MaxRetries: 3,
		Backoff:    ExponentialBackoff,
		Priority:   0,
		Delay:      0,
	}
}

// NewJob builds a job with a marshaled payload, ready to enqueue.
func NewJob(jobType string, payload any, config *JobConfig) (*Job, error) {
	if config == nil {
		config = DefaultJobConfig()
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	return &Job{
		Type:        jobType,
		Payload:     payloadBytes,
		Priority:    config.Priority,
		MaxRetries:  config.MaxRetries,
		Backoff:     config.Backoff,
		ScheduledAt: time.Now().Add(config.Delay),
	}, nil
}

// BackoffStrategy defines retry backoff behavior.
type BackoffStrategy string

const (
	NoBackoff          BackoffStrategy = "none"
	LinearBackoff      BackoffStrategy = "linear"
	ExponentialBackoff BackoffStrategy = "exponential"
)

// CalculateBackoff returns the delay before the next retry attempt.
func CalculateBackoff(strategy BackoffStrategy, attempt int) time.Duration {
	switch strategy {
	case NoBackoff:
		return 0
	case LinearBackoff:
		return time.Duration(attempt) * time.Second
	case ExponentialBackoff:
		// 2^attempt seconds, capped at 1 hour
		delay := time.Duration(1<<uint(attempt)) * time.Second
		if delay > time.Hour {
			return time.Hour
		}
		return delay
	default:
		return 0
	}
}

// JobStats represents queue counters.
type JobStats struct {
	TotalJobs      int64     `json:"total_jobs"`
	PendingJobs    int64     `json:"pending_jobs"`
	ProcessingJobs int64     `json:"processing_jobs"`
	CompletedJobs  int64     `json:"completed_jobs"`
	FailedJobs     int64     `json:"failed_jobs"`
	LastProcessed  time.Time `json:"last_processed"`
}

// Registry maps job types to handlers. Register everything before workers
// start; the map is read-only afterwards.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry creates a new job registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
	}
}

// Register registers a handler for a job type.
func (r *Registry) Register(jobType string, handler Handler) {
	r.handlers[jobType] = handler
}

// Get retrieves a handler by job type.
func (r *Registry) Get(jobType string) (Handler, bool) {
	handler, ok := r.handlers[jobType]
	return handler, ok
}

// Types returns all registered job types.
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	return types
}
