package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/scarson/leadpilot/internal/store"
)

const (
	// DefaultMonitorInterval is how often the monitor scans for stuck jobs.
	DefaultMonitorInterval = 5 * time.Minute

	// DefaultStuckTimeout is the age at which a processing job is considered
	// abandoned by its worker.
	DefaultStuckTimeout = 10 * time.Minute

	defaultMonitorBatchSize = 100
)

// MonitorConfig holds monitor tuning parameters (sourced from config.Config).
type MonitorConfig struct {
	Interval     time.Duration
	StuckTimeout time.Duration
	BatchSize    int
}

// MonitorSummary reports the outcome of one scan.
type MonitorSummary struct {
	Scanned  int // stuck rows returned by the scan
	Requeued int // moved back to pending
	Failed   int // attempts exhausted, moved to failed
	Skipped  int // no longer stuck by the time of the update
	Errors   int // per-job update failures
}

// Monitor is the liveness watchdog: it returns jobs abandoned in processing
// to pending while attempts remain, and fails them otherwise. This is the
// only retry path unless the worker runs with RetryOnError.
type Monitor struct {
	store MonitorStore
	cfg   MonitorConfig
	log   *slog.Logger
}

// NewMonitor creates a Monitor, filling zero config values with defaults.
func NewMonitor(s MonitorStore, cfg MonitorConfig) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultMonitorInterval
	}
	if cfg.StuckTimeout <= 0 {
		cfg.StuckTimeout = DefaultStuckTimeout
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultMonitorBatchSize
	}
	return &Monitor{store: s, cfg: cfg, log: slog.Default()}
}

// Start scans immediately and then every cfg.Interval until ctx is cancelled.
func (m *Monitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.log.Info("stuck-job monitor started",
		"interval", m.cfg.Interval, "stuck_timeout", m.cfg.StuckTimeout)

	for {
		m.scan(ctx)
		select {
		case <-ctx.Done():
			m.log.Info("stuck-job monitor stopping")
			return
		case <-ticker.C:
		}
	}
}

func (m *Monitor) scan(ctx context.Context) {
	sum, err := m.RunOnce(ctx)
	if err != nil {
		m.log.Error("stuck job scan error", "error", err)
		return
	}
	if sum.Scanned > 0 {
		m.log.Info("stuck job scan",
			"scanned", sum.Scanned, "requeued", sum.Requeued,
			"failed", sum.Failed, "skipped", sum.Skipped, "errors", sum.Errors)
	}
}

// RunOnce performs one scan. Each stuck job is updated independently: a
// failed update is logged and counted, and the scan continues. The returned
// error is non-nil only when the scan itself fails.
func (m *Monitor) RunOnce(ctx context.Context) (MonitorSummary, error) {
	var sum MonitorSummary
	stuck, err := m.store.ListStuckJobs(ctx, m.cfg.StuckTimeout, m.cfg.BatchSize)
	if err != nil {
		return sum, err
	}
	sum.Scanned = len(stuck)

	for _, j := range stuck {
		rec, err := m.store.RecoverStuckJob(ctx, j.ID, m.cfg.StuckTimeout)
		if err != nil {
			sum.Errors++
			m.log.Error("recover stuck job", "job_id", j.ID, "error", err)
			continue
		}
		if rec == nil {
			sum.Skipped++
			continue
		}
		jobsRecovered.WithLabelValues(string(rec.Status)).Inc()
		switch rec.Status {
		case store.JobPending:
			sum.Requeued++
			m.log.Warn("requeued stuck job",
				"job_id", rec.ID, "type", j.Type, "attempts", rec.Attempts, "max_attempts", j.MaxAttempts)
		case store.JobFailed:
			sum.Failed++
			m.log.Warn("failed stuck job, max attempts reached",
				"job_id", rec.ID, "type", j.Type, "attempts", rec.Attempts)
		}
	}

	m.refreshGauges(ctx)
	return sum, nil
}

func (m *Monitor) refreshGauges(ctx context.Context) {
	counts, err := m.store.CountJobsByStatus(ctx)
	if err != nil {
		m.log.Warn("count jobs by status", "error", err)
		return
	}
	for status, n := range counts {
		jobsByStatus.WithLabelValues(string(status)).Set(float64(n))
	}
}
