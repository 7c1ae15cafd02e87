package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is a named task run on a cron schedule.
type Job struct {
	// Name labels the job in logs and metrics.
	Name string

	// Schedule is a standard five-field cron expression or a descriptor
	// such as "@hourly" or "@every 5m". Empty disables the job.
	Schedule string

	// Run performs one execution.
	Run func(ctx context.Context) error
}

// JobRecorder observes finished job runs.
type JobRecorder func(job string, duration time.Duration, err error)

// Scheduler runs jobs on cron schedules. A run that is still in progress
// when its next tick fires causes that tick to be skipped.
type Scheduler struct {
	cron    *cron.Cron
	mu      sync.Mutex
	logger  *slog.Logger
	record  JobRecorder
	entries map[string]cron.EntryID
	running bool
}

// NewScheduler creates a scheduler. record may be nil.
func NewScheduler(logger *slog.Logger, record JobRecorder) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "daemon.scheduler")

	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelWarn))
	return &Scheduler{
		cron: cron.New(cron.WithChain(
			cron.Recover(cronLogger),
			cron.SkipIfStillRunning(cronLogger),
		)),
		logger:  logger,
		record:  record,
		entries: make(map[string]cron.EntryID),
	}
}

// Start schedules jobs and starts the cron loop. Jobs with an empty
// schedule are skipped. The scheduler stops when ctx is cancelled.
//
// Common cron expressions:
//   - "*/15 * * * *" - Every 15 minutes
//   - "0 * * * *"    - Hourly
//   - "@every 30s"   - Every 30 seconds
func (s *Scheduler) Start(ctx context.Context, jobs ...Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}

	for _, job := range jobs {
		if job.Schedule == "" {
			s.logger.Info("job schedule not configured, skipping", "job", job.Name)
			continue
		}

		// Validate cron expression
		if _, err := cron.ParseStandard(job.Schedule); err != nil {
			return fmt.Errorf("invalid cron schedule %q for job %s: %w", job.Schedule, job.Name, err)
		}

		id, err := s.cron.AddFunc(job.Schedule, func() {
			s.runJob(ctx, job)
		})
		if err != nil {
			return fmt.Errorf("failed to schedule job %s: %w", job.Name, err)
		}
		s.entries[job.Name] = id

		s.logger.Info("job scheduled", "job", job.Name, "schedule", job.Schedule)
	}

	s.cron.Start()
	s.running = true

	// Wait for context cancellation in background
	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return nil
}

// runJob executes one run of job.
func (s *Scheduler) runJob(ctx context.Context, job Job) {
	start := time.Now()
	s.logger.DebugContext(ctx, "starting scheduled job", "job", job.Name)

	err := job.Run(ctx)
	elapsed := time.Since(start)

	if s.record != nil {
		s.record(job.Name, elapsed, err)
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "scheduled job failed", "job", job.Name, "error", err)
		return
	}
	s.logger.DebugContext(ctx, "scheduled job completed", "job", job.Name, "duration", elapsed)
}

// Stop stops the scheduler and waits for any running jobs to complete.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		ctx := s.cron.Stop()
		<-ctx.Done() // Wait for running jobs to finish
		s.running = false
		s.logger.Info("scheduler stopped")
	}
}

// IsRunning returns true if the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.running
}

// NextRun returns the next scheduled time of the named job, or nil if the
// job is not scheduled.
func (s *Scheduler) NextRun(job string) *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.entries[job]
	if !ok {
		return nil
	}
	next := s.cron.Entry(id).Next
	if next.IsZero() {
		return nil
	}
	return &next
}
