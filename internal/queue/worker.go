package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/scarson/leadpilot/internal/store"
)

// DefaultPollInterval is how often each worker goroutine tries to claim a job.
const DefaultPollInterval = 2 * time.Second

// WorkerConfig holds worker tuning parameters (sourced from config.Config).
type WorkerConfig struct {
	PollInterval time.Duration // DefaultPollInterval if zero
	Concurrency  int           // polling goroutines; 1 if zero
	// RetryOnError requeues a job whose handler returned an error while
	// attempts remain. When false a handler error fails the job immediately
	// and only the stuck-job monitor ever retries.
	RetryOnError bool
}

// Worker claims pending jobs one at a time and executes them through a
// Registry. It holds no locks on jobs in memory: the claim UPDATE is the only
// mutual exclusion.
type Worker struct {
	store    WorkerStore
	registry *Registry
	cfg      WorkerConfig
	workerID string
	log      *slog.Logger
}

// NewWorker creates a Worker. A random worker ID is generated at construction
// time and recorded in the locked_by column of claimed rows.
func NewWorker(s WorkerStore, r *Registry, cfg WorkerConfig) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	id := uuid.New().String()
	return &Worker{
		store:    s,
		registry: r,
		cfg:      cfg,
		workerID: id,
		log:      slog.Default().With("worker_id", id),
	}
}

// ID returns the worker's identifier.
func (w *Worker) ID() string { return w.workerID }

// Start launches cfg.Concurrency polling goroutines and blocks until ctx is
// cancelled. In-flight jobs run to completion before Start returns.
func (w *Worker) Start(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < w.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			w.poll(ctx, slot)
		}(i)
	}
	wg.Wait()
	w.log.Info("worker stopped")
}

// poll ticks until ctx is cancelled. Uses time.NewTicker (not time.After) to
// avoid timer leaks.
func (w *Worker) poll(ctx context.Context, slot int) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	w.log.Info("worker polling started", "slot", slot, "interval", w.cfg.PollInterval)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.RunOnce(ctx); err != nil {
				w.log.Error("claim job error", "error", err)
			}
		}
	}
}

// RunOnce claims and executes at most one job. It reports whether a job was
// claimed. The only error returned is a claim failure; execution and
// writeback failures are recorded on the job and logged.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimJob(ctx, w.workerID)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil // nothing pending; normal case
	}
	jobsClaimed.WithLabelValues(job.Type).Inc()

	// Once claimed, a job runs to completion: shutdown must not cancel the
	// handler or the writeback, or the row would be left stuck.
	w.execute(context.WithoutCancel(ctx), job)
	return true, nil
}

func (w *Worker) execute(ctx context.Context, job *store.Job) {
	log := w.log.With("job_id", job.ID, "type", job.Type, "attempts", job.Attempts)

	h := w.registry.Lookup(job.Type)
	if h == nil {
		msg := fmt.Sprintf("no handler for type %q", job.Type)
		log.Error("unknown job type")
		w.fail(ctx, log, job, msg)
		return
	}

	log.Info("executing job")
	start := time.Now()
	result, err := safeCall(ctx, log, h, job.Payload)
	jobDuration.WithLabelValues(job.Type).Observe(time.Since(start).Seconds())

	if err != nil {
		log.Error("job handler failed", "error", err)
		if w.cfg.RetryOnError {
			w.retry(ctx, log, job, err.Error())
			return
		}
		w.fail(ctx, log, job, err.Error())
		return
	}

	if err := w.store.CompleteJob(ctx, job.ID, job.Attempts, result); err != nil {
		w.writebackError(log, "complete job", err)
		return
	}
	jobsFinished.WithLabelValues(job.Type, string(store.JobCompleted)).Inc()
	log.Info("job completed", "duration", time.Since(start))
}

func (w *Worker) fail(ctx context.Context, log *slog.Logger, job *store.Job, msg string) {
	if err := w.store.FailJob(ctx, job.ID, job.Attempts, msg); err != nil {
		w.writebackError(log, "fail job", err)
		return
	}
	jobsFinished.WithLabelValues(job.Type, string(store.JobFailed)).Inc()
}

func (w *Worker) retry(ctx context.Context, log *slog.Logger, job *store.Job, msg string) {
	status, err := w.store.RetryJob(ctx, job.ID, job.Attempts, msg)
	if err != nil {
		w.writebackError(log, "retry job", err)
		return
	}
	jobsFinished.WithLabelValues(job.Type, string(status)).Inc()
	log.Info("job retry decided", "status", status)
}

// writebackError logs a failed terminal write. A lost claim means the monitor
// or another worker already moved the row on; the result is discarded.
func (w *Worker) writebackError(log *slog.Logger, op string, err error) {
	if errors.Is(err, store.ErrClaimLost) {
		log.Warn(op+": claim lost, result discarded", "error", err)
		return
	}
	log.Error(op+" error", "error", err)
}

// safeCall runs h and converts a panic into an error so one bad job cannot
// take down the polling loop.
func safeCall(ctx context.Context, log *slog.Logger, h Handler, payload json.RawMessage) (result json.RawMessage, err error) {
	defer func() {
		if p := recover(); p != nil {
			log.Error("job handler panic", "panic", p, "stack", string(debug.Stack()))
			result, err = nil, fmt.Errorf("handler panic: %v", p)
		}
	}()
	return h(ctx, payload)
}
