package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler enqueues recurring jobs on cron schedules. It only produces
// work; the worker pool consumes it, so a slow job never delays the next
// tick.
type Scheduler struct {
	queue  Queue
	cron   *cron.Cron
	logger *slog.Logger
}

// SchedulerConfig holds scheduler configuration.
type SchedulerConfig struct {
	// Queue receives the scheduled jobs
	Queue Queue

	// Logger for structured logging
	Logger *slog.Logger

	// Location for evaluating cron expressions
	// Default: time.Local
	Location *time.Location
}

// NewScheduler creates a scheduler using standard five-field cron
// expressions.
func NewScheduler(config *SchedulerConfig) (*Scheduler, error) {
	if config == nil || config.Queue == nil {
		return nil, fmt.Errorf("jobs: scheduler requires a queue")
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	location := config.Location
	if location == nil {
		location = time.Local
	}

	return &Scheduler{
		queue:  config.Queue,
		cron:   cron.New(cron.WithLocation(location)),
		logger: logger,
	}, nil
}

// Schedule registers a recurring job. The payload is marshaled once per
// firing, so mutable payloads reflect their state at tick time.
func (s *Scheduler) Schedule(spec, jobType string, payload any, config *JobConfig) (cron.EntryID, error) {
	id, err := s.cron.AddFunc(spec, func() {
		s.enqueueNow(jobType, payload, config)
	})
	if err != nil {
		return 0, fmt.Errorf("jobs: invalid cron spec %q: %w", spec, err)
	}

	s.logger.Info("cron job scheduled", "spec", spec, "type", jobType)
	return id, nil
}

// Remove unregisters a scheduled entry.
func (s *Scheduler) Remove(id cron.EntryID) {
	s.cron.Remove(id)
}

// Entries returns the registered cron entries.
func (s *Scheduler) Entries() []cron.Entry {
	return s.cron.Entries()
}

// Start begins firing schedules in a background goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", "entries", len(s.cron.Entries()))
}

// Stop halts scheduling and waits for any firing in progress.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) enqueueNow(jobType string, payload any, config *JobConfig) {
	job, err := NewJob(jobType, payload, config)
	if err != nil {
		s.logger.Error("failed to build scheduled job", "type", jobType, "error", err)
		return
	}

	if err := s.queue.Enqueue(context.Background(), job); err != nil {
		s.logger.Error("failed to enqueue scheduled job", "type", jobType, "error", err)
		return
	}

	s.logger.Info("scheduled job enqueued", "job_id", job.ID, "type", jobType)
}
