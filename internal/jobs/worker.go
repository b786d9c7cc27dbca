package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Worker pulls jobs from a queue and runs their handlers.
type Worker struct {
	id       int
	queue    Queue
	registry *Registry
	config   *WorkerConfig
	logger   *slog.Logger
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// WorkerConfig holds worker configuration.
type WorkerConfig struct {
	// JobTimeout bounds one handler execution
	// Default: 5 minutes
	JobTimeout time.Duration

	// PollInterval between queue checks when no work is ready
	// Default: 1 second
	PollInterval time.Duration

	// Logger for structured logging
	Logger *slog.Logger

	// ErrorHandler is called after a job fails (retried or not)
	ErrorHandler func(ctx context.Context, job *Job, err error)

	// SuccessHandler is called after a job completes
	SuccessHandler func(ctx context.Context, job *Job)
}

// DefaultWorkerConfig returns a default worker configuration.
func DefaultWorkerConfig() *WorkerConfig {
	return &WorkerConfig{
		JobTimeout:   5 * time.Minute,
		PollInterval: 1 * time.Second,
	}
}

// NewWorker creates a new worker.
func NewWorker(id int, queue Queue, registry *Registry, config *WorkerConfig) *Worker {
	if config == nil {
		config = DefaultWorkerConfig()
	}
	if config.JobTimeout <= 0 {
		config.JobTimeout = 5 * time.Minute
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 1 * time.Second
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Worker{
		id:       id,
		queue:    queue,
		registry: registry,
		config:   config,
		logger:   logger.With("worker_id", id),
		stopCh:   make(chan struct{}),
	}
}

// Start starts the worker loop.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop stops the worker and waits for the in-flight job.
func (w *Worker) Stop() {
	close(w.stopCh)
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	w.logger.Info("worker started")

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker stopped (context cancelled)")
			return
		case <-w.stopCh:
			w.logger.Info("worker stopped")
			return
		default:
			w.processNext(ctx)
		}
	}
}

func (w *Worker) processNext(ctx context.Context) {
	job, err := w.queue.Dequeue(ctx)
	if err != nil {
		w.logger.Error("failed to dequeue job", "error", err)
		w.idle()
		return
	}
	if job == nil {
		w.idle()
		return
	}

	w.process(ctx, job)
}

// idle waits one poll interval, waking early on stop.
func (w *Worker) idle() {
	select {
	case <-time.After(w.config.PollInterval):
	case <-w.stopCh:
	}
}

func (w *Worker) process(ctx context.Context, job *Job) {
	w.logger.Info("processing job",
		"job_id", job.ID,
		"type", job.Type,
		"attempts", job.Attempts,
	)

	start := time.Now()

	handler, ok := w.registry.Get(job.Type)
	if !ok {
		err := fmt.Errorf("no handler registered for job type: %s", job.Type)
		w.logger.Error("job handler not found", "job_id", job.ID, "type", job.Type)
		w.queue.Fail(ctx, job.ID, err)
		return
	}

	jobCtx, cancel := context.WithTimeout(ctx, w.config.JobTimeout)
	defer cancel()

	err := w.runHandler(jobCtx, handler, job)

	duration := time.Since(start)

	if err != nil {
		w.handleError(ctx, job, err, duration)
	} else {
		w.handleSuccess(ctx, job, duration)
	}
}

// runHandler executes the handler, turning a panic into an error so one bad
// job cannot kill the worker.
func (w *Worker) runHandler(ctx context.Context, handler Handler, job *Job) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("job handler panic: %v", p)
		}
	}()
	return handler(ctx, job)
}

func (w *Worker) handleSuccess(ctx context.Context, job *Job, duration time.Duration) {
	w.logger.Info("job completed",
		"job_id", job.ID,
		"type", job.Type,
		"duration", duration.String(),
	)

	w.queue.Complete(ctx, job.ID, job.Result)

	if w.config.SuccessHandler != nil {
		w.config.SuccessHandler(ctx, job)
	}
}

func (w *Worker) handleError(ctx context.Context, job *Job, err error, duration time.Duration) {
	w.logger.Error("job failed",
		"job_id", job.ID,
		"type", job.Type,
		"error", err,
		"attempts", job.Attempts,
		"duration", duration.String(),
	)

	if job.Attempts < job.MaxRetries {
		w.logger.Info("retrying job",
			"job_id", job.ID,
			"attempts", job.Attempts,
			"max_retries", job.MaxRetries,
		)
		w.queue.Retry(ctx, job)
	} else {
		w.logger.Error("job failed permanently",
			"job_id", job.ID,
			"type", job.Type,
			"attempts", job.Attempts,
		)
		w.queue.Fail(ctx, job.ID, err)
	}

	if w.config.ErrorHandler != nil {
		w.config.ErrorHandler(ctx, job, err)
	}
}

// WorkerPool manages a fixed set of workers on one queue.
type WorkerPool struct {
	workers []*Worker
	queue   Queue
	config  *WorkerPoolConfig
	logger  *slog.Logger
}

// WorkerPoolConfig holds worker pool configuration.
type WorkerPoolConfig struct {
	// NumWorkers in the pool
	// Default: 4
	NumWorkers int

	// WorkerConfig applied to every worker
	WorkerConfig *WorkerConfig

	// Logger for structured logging
	Logger *slog.Logger
}

// DefaultWorkerPoolConfig returns a default worker pool configuration.
func DefaultWorkerPoolConfig() *WorkerPoolConfig {
	return &WorkerPoolConfig{
		NumWorkers:   4,
		WorkerConfig: DefaultWorkerConfig(),
	}
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(queue Queue, registry *Registry, config *WorkerPoolConfig) *WorkerPool {
	if config == nil {
		config = DefaultWorkerPoolConfig()
	}
	if config.NumWorkers <= 0 {
		config.NumWorkers = 4
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	workers := make([]*Worker, config.NumWorkers)
	for i := 0; i < config.NumWorkers; i++ {
		workers[i] = NewWorker(i+1, queue, registry, config.WorkerConfig)
	}

	return &WorkerPool{
		workers: workers,
		queue:   queue,
		config:  config,
		logger:  logger,
	}
}

// Start starts all workers in the pool.
func (wp *WorkerPool) Start(ctx context.Context) {
	wp.logger.Info("starting worker pool", "num_workers", wp.config.NumWorkers)

	for _, worker := range wp.workers {
		worker.Start(ctx)
	}
}

// Stop stops all workers and waits for in-flight jobs.
func (wp *WorkerPool) Stop() {
	wp.logger.Info("stopping worker pool")

	for _, worker := range wp.workers {
		worker.Stop()
	}

	wp.logger.Info("worker pool stopped")
}

// Stats returns the queue counters behind the pool.
func (wp *WorkerPool) Stats(ctx context.Context) (*JobStats, error) {
	return wp.queue.Stats(ctx)
}
