package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrJobNotFound is returned by Get for unknown job IDs.
var ErrJobNotFound = errors.New("jobs: job not found")

// Queue stores jobs awaiting workers.
type Queue interface {
	// Enqueue adds a job to the queue
	Enqueue(ctx context.Context, job *Job) error

	// Dequeue retrieves the next eligible job, or nil when the queue is empty
	Dequeue(ctx context.Context) (*Job, error)

	// Complete marks a job as completed
	Complete(ctx context.Context, jobID string, result json.RawMessage) error

	// Fail marks a job as permanently failed
	Fail(ctx context.Context, jobID string, err error) error

	// Retry schedules a job to run again after its backoff delay
	Retry(ctx context.Context, job *Job) error

	// Get retrieves a job by ID
	Get(ctx context.Context, jobID string) (*Job, error)

	// Stats returns queue counters
	Stats(ctx context.Context) (*JobStats, error)

	// Close releases queue resources
	Close() error
}

// RedisQueue implements a Redis-backed job queue: one sorted set orders
// pending jobs by scheduled time and priority, one key per job holds its
// state.
type RedisQueue struct {
	client *redis.Client
	config *RedisQueueConfig
	logger *slog.Logger
}

// RedisQueueConfig holds Redis queue configuration.
type RedisQueueConfig struct {
	// Redis client
	Client *redis.Client

	// Key prefix for all queue keys
	Prefix string

	// Logger for structured logging
	Logger *slog.Logger

	// RetainFor keeps finished jobs around for inspection
	// Default: 24 hours
	RetainFor time.Duration
}

// DefaultRedisQueueConfig returns a default Redis queue configuration.
func DefaultRedisQueueConfig() *RedisQueueConfig {
	return &RedisQueueConfig{
		Prefix:    "jobs:",
		RetainFor: 24 * time.Hour,
	}
}

// NewRedisQueue creates a new Redis-backed job queue.
func NewRedisQueue(config *RedisQueueConfig) (*RedisQueue, error) {
	if config == nil {
		config = DefaultRedisQueueConfig()
	}

	if config.Client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if config.Prefix == "" {
		config.Prefix = "jobs:"
	}
	if config.RetainFor <= 0 {
		config.RetainFor = 24 * time.Hour
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("redis queue initialized", "prefix", config.Prefix)

	return &RedisQueue{
		client: config.Client,
		config: config,
		logger: logger,
	}, nil
}

// Enqueue adds a job to the queue. First-time jobs get an ID and creation
// time; re-enqueued jobs keep theirs.
func (q *RedisQueue) Enqueue(ctx context.Context, job *Job) error {
	isNew := job.ID == ""
	if isNew {
		job.ID = uuid.New().String()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	if job.ScheduledAt.IsZero() {
		job.ScheduledAt = time.Now()
	}

	job.Status = JobStatusPending

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	pipe := q.client.Pipeline()

	pipe.Set(ctx, q.jobKey(job.ID), data, 0)

	// Sorted set orders by scheduled time, with priority pulling jobs
	// forward within the same second.
	score := float64(job.ScheduledAt.Unix()) - float64(job.Priority)*1000000
	pipe.ZAdd(ctx, q.queueKey(), redis.Z{Score: score, Member: job.ID})

	if isNew {
		pipe.Incr(ctx, q.statsKey("total"))
	}
	pipe.Incr(ctx, q.statsKey("pending"))

	if _, err := pipe.Exec(ctx); err != nil {
		q.logger.Error("failed to enqueue job", "error", err, "job_id", job.ID)
		return fmt.Errorf("failed to enqueue job: %w", err)
	}

	q.logger.Debug("job enqueued", "job_id", job.ID, "type", job.Type, "priority", job.Priority)
	return nil
}

// Dequeue retrieves the next eligible job. Returns nil, nil when no job is
// ready.
func (q *RedisQueue) Dequeue(ctx context.Context) (*Job, error) {
	now := time.Now()

	results, err := q.client.ZRangeByScoreWithScores(ctx, q.queueKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   fmt.Sprintf("%f", float64(now.Unix())),
		Count: 1,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to query queue: %w", err)
	}
	if len(results) == 0 {
		return nil, nil
	}

	jobID := results[0].Member.(string)

	// ZRem settles contention between workers: only the one that removes
	// the member owns the job.
	removed, err := q.client.ZRem(ctx, q.queueKey(), jobID).Result()
	if err != nil || removed == 0 {
		return nil, nil
	}

	job, err := q.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	job.Status = JobStatusProcessing
	job.Attempts++
	started := time.Now()
	job.StartedAt = &started

	data, _ := json.Marshal(job)
	q.client.Set(ctx, q.jobKey(job.ID), data, 0)

	pipe := q.client.Pipeline()
	pipe.Decr(ctx, q.statsKey("pending"))
	pipe.Incr(ctx, q.statsKey("processing"))
	pipe.Exec(ctx)

	q.logger.Debug("job dequeued", "job_id", job.ID, "type", job.Type, "attempts", job.Attempts)
	return job, nil
}

// Complete marks a job as completed.
func (q *RedisQueue) Complete(ctx context.Context, jobID string, result json.RawMessage) error {
	job, err := q.Get(ctx, jobID)
	if err != nil {
		return err
	}

	now := time.Now()
	job.Status = JobStatusCompleted
	job.CompletedAt = &now
	job.Result = result

	data, _ := json.Marshal(job)
	q.client.Set(ctx, q.jobKey(jobID), data, q.config.RetainFor)

	pipe := q.client.Pipeline()
	pipe.Decr(ctx, q.statsKey("processing"))
	pipe.Incr(ctx, q.statsKey("completed"))
	pipe.Set(ctx, q.statsKey("last_processed"), now.Unix(), 0)
	pipe.Exec(ctx)

	q.logger.Info("job completed", "job_id", jobID, "type", job.Type)
	return nil
}

// Fail marks a job as permanently failed.
func (q *RedisQueue) Fail(ctx context.Context, jobID string, jobErr error) error {
	job, err := q.Get(ctx, jobID)
	if err != nil {
		return err
	}

	now := time.Now()
	job.Status = JobStatusFailed
	job.FailedAt = &now
	job.Error = jobErr.Error()

	data, _ := json.Marshal(job)
	q.client.Set(ctx, q.jobKey(jobID), data, q.config.RetainFor)

	pipe := q.client.Pipeline()
	pipe.Decr(ctx, q.statsKey("processing"))
	pipe.Incr(ctx, q.statsKey("failed"))
	pipe.Exec(ctx)

	q.logger.Error("job failed", "job_id", jobID, "type", job.Type, "error", jobErr)
	return nil
}

// Retry pushes a job back onto the queue after its backoff delay.
func (q *RedisQueue) Retry(ctx context.Context, job *Job) error {
	delay := CalculateBackoff(job.Backoff, job.Attempts)
	job.ScheduledAt = time.Now().Add(delay)
	job.Status = JobStatusRetrying

	q.client.Decr(ctx, q.statsKey("processing"))

	return q.Enqueue(ctx, job)
}

// Get retrieves a job by ID.
func (q *RedisQueue) Get(ctx context.Context, jobID string) (*Job, error) {
	data, err := q.client.Get(ctx, q.jobKey(jobID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}

	return &job, nil
}

// Stats returns queue counters.
func (q *RedisQueue) Stats(ctx context.Context) (*JobStats, error) {
	pipe := q.client.Pipeline()
	totalCmd := pipe.Get(ctx, q.statsKey("total"))
	pendingCmd := pipe.Get(ctx, q.statsKey("pending"))
	processingCmd := pipe.Get(ctx, q.statsKey("processing"))
	completedCmd := pipe.Get(ctx, q.statsKey("completed"))
	failedCmd := pipe.Get(ctx, q.statsKey("failed"))
	lastProcessedCmd := pipe.Get(ctx, q.statsKey("last_processed"))

	_, err := pipe.Exec(ctx)
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}

	stats := &JobStats{}
	stats.TotalJobs, _ = totalCmd.Int64()
	stats.PendingJobs, _ = pendingCmd.Int64()
	stats.ProcessingJobs, _ = processingCmd.Int64()
	stats.CompletedJobs, _ = completedCmd.Int64()
	stats.FailedJobs, _ = failedCmd.Int64()

	lastProcessed, _ := lastProcessedCmd.Int64()
	if lastProcessed > 0 {
		stats.LastProcessed = time.Unix(lastProcessed, 0)
	}

	return stats, nil
}

// Close is a no-op; the Redis client is managed by the caller.
func (q *RedisQueue) Close() error {
	return nil
}

func (q *RedisQueue) jobKey(jobID string) string {
	return q.config.Prefix + "job:" + jobID
}

func (q *RedisQueue) queueKey() string {
	return q.config.Prefix + "queue"
}

func (q *RedisQueue) statsKey(stat string) string {
	return q.config.Prefix + "stats:" + stat
}

// MemoryQueue is an in-process queue for deployments without Redis and for
// tests. Same ordering semantics as RedisQueue.
type MemoryQueue struct {
	mu      sync.Mutex
	pending []*Job
	jobs    map[string]*Job
	stats   JobStats
}

// NewMemoryQueue creates an empty in-memory queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		jobs: make(map[string]*Job),
	}
}

// Enqueue adds a job to the queue.
func (q *MemoryQueue) Enqueue(_ context.Context, job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	isNew := job.ID == ""
	if isNew {
		job.ID = uuid.New().String()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	if job.ScheduledAt.IsZero() {
		job.ScheduledAt = time.Now()
	}

	job.Status = JobStatusPending

	stored := *job
	q.jobs[job.ID] = &stored
	q.pending = append(q.pending, &stored)

	if isNew {
		q.stats.TotalJobs++
	}
	q.stats.PendingJobs++
	return nil
}

// Dequeue retrieves the eligible job with the lowest score, or nil, nil.
func (q *MemoryQueue) Dequeue(_ context.Context) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	best := -1
	var bestScore float64

	for i, job := range q.pending {
		if job.ScheduledAt.After(now) {
			continue
		}
		score := float64(job.ScheduledAt.Unix()) - float64(job.Priority)*1000000
		if best == -1 || score < bestScore {
			best = i
			bestScore = score
		}
	}
	if best == -1 {
		return nil, nil
	}

	job := q.pending[best]
	q.pending = append(q.pending[:best], q.pending[best+1:]...)

	job.Status = JobStatusProcessing
	job.Attempts++
	started := time.Now()
	job.StartedAt = &started

	q.stats.PendingJobs--
	q.stats.ProcessingJobs++

	out := *job
	return &out, nil
}

// Complete marks a job as completed.
func (q *MemoryQueue) Complete(_ context.Context, jobID string, result json.RawMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}

	now := time.Now()
	job.Status = JobStatusCompleted
	job.CompletedAt = &now
	job.Result = result

	q.stats.ProcessingJobs--
	q.stats.CompletedJobs++
	q.stats.LastProcessed = now
	return nil
}

// Fail marks a job as permanently failed.
func (q *MemoryQueue) Fail(_ context.Context, jobID string, jobErr error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}

	now := time.Now()
	job.Status = JobStatusFailed
	job.FailedAt = &now
	job.Error = jobErr.Error()

	q.stats.ProcessingJobs--
	q.stats.FailedJobs++
	return nil
}

// Retry pushes a job back onto the queue after its backoff delay.
func (q *MemoryQueue) Retry(ctx context.Context, job *Job) error {
	delay := CalculateBackoff(job.Backoff, job.Attempts)
	job.ScheduledAt = time.Now().Add(delay)
	job.Status = JobStatusRetrying

	q.mu.Lock()
	q.stats.ProcessingJobs--
	q.mu.Unlock()

	return q.Enqueue(ctx, job)
}

// Get retrieves a job by ID.
func (q *MemoryQueue) Get(_ context.Context, jobID string) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	out := *job
	return &out, nil
}

// Stats returns queue counters.
func (q *MemoryQueue) Stats(_ context.Context) (*JobStats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	stats := q.stats
	return &stats, nil
}

// Close discards pending work.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = nil
	return nil
}
