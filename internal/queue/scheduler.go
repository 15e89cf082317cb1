package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// DefaultSchedulerInterval is how often the scheduler checks for due entries.
const DefaultSchedulerInterval = time.Minute

// JobEnqueuer is the part of Enqueuer the scheduler needs.
type JobEnqueuer interface {
	Enqueue(ctx context.Context, jobType string, payload any, opts ...EnqueueOption) (uuid.UUID, error)
}

// SchedulerConfig holds scheduler parameters.
type SchedulerConfig struct {
	Interval time.Duration
	// Now overrides the clock; tests only.
	Now func() time.Time
}

type recurringJob struct {
	jobType  string
	expr     string
	payload  any
	schedule cron.Schedule
	next     time.Time
}

// Scheduler enqueues recurring job types on cron schedules. Expressions use
// the standard five-field syntax or descriptors such as "@daily". When several
// fire times pass between ticks only one job is enqueued.
type Scheduler struct {
	enq  JobEnqueuer
	cfg  SchedulerConfig
	log  *slog.Logger

	runMu sync.Mutex // serialises RunOnce
	mu    sync.Mutex // guards jobs and each entry's next
	jobs  []*recurringJob
}

// NewScheduler creates a Scheduler with no registered jobs.
func NewScheduler(e JobEnqueuer, cfg SchedulerConfig) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSchedulerInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Scheduler{enq: e, cfg: cfg, log: slog.Default()}
}

// RegisterRecurringJob schedules jobType with payload on cronExpression. The
// first fire time is the next match after registration.
func (s *Scheduler) RegisterRecurringJob(jobType, cronExpression string, payload any) error {
	if jobType == "" {
		return fmt.Errorf("%w: empty type", ErrInvalidJob)
	}
	sched, err := cron.ParseStandard(cronExpression)
	if err != nil {
		return fmt.Errorf("parse cron %q for %s: %w", cronExpression, jobType, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, &recurringJob{
		jobType:  jobType,
		expr:     cronExpression,
		payload:  payload,
		schedule: sched,
		next:     sched.Next(s.cfg.Now()),
	})
	s.log.Info("recurring job registered", "type", jobType, "cron", cronExpression)
	return nil
}

// Start checks for due entries every cfg.Interval until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.mu.Lock()
	n := len(s.jobs)
	s.mu.Unlock()
	s.log.Info("scheduler started", "interval", s.cfg.Interval, "recurring_jobs", n)

	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopping")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce enqueues every entry whose next fire time has passed and returns
// how many jobs were enqueued. An entry whose enqueue fails stays due and is
// retried on the next tick. s.mu is not held across Enqueue; runMu keeps
// concurrent RunOnce calls from enqueuing the same slot twice.
func (s *Scheduler) RunOnce(ctx context.Context) int {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	now := s.cfg.Now()
	s.mu.Lock()
	var due []*recurringJob
	for _, rj := range s.jobs {
		if !now.Before(rj.next) {
			due = append(due, rj)
		}
	}
	s.mu.Unlock()

	enqueued := 0
	for _, rj := range due {
		// jobType, expr, payload and schedule never change after registration.
		id, err := s.enq.Enqueue(ctx, rj.jobType, rj.payload)
		if err != nil {
			s.log.Error("enqueue recurring job", "type", rj.jobType, "error", err)
			continue
		}
		enqueued++
		next := rj.schedule.Next(now)
		s.mu.Lock()
		rj.next = next
		s.mu.Unlock()
		s.log.Info("recurring job enqueued",
			"type", rj.jobType, "cron", rj.expr, "job_id", id, "next_run", next)
	}
	return enqueued
}

// NextRun returns the next fire time of jobType, or false if not registered.
func (s *Scheduler) NextRun(jobType string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rj := range s.jobs {
		if rj.jobType == jobType {
			return rj.next, true
		}
	}
	return time.Time{}, false
}
