package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/scarson/leadpilot/internal/store"
)

// DefaultRetentionWindow is how long completed jobs are kept.
const DefaultRetentionWindow = 7 * 24 * time.Hour

// CleanerConfig holds retention parameters (sourced from config.Config).
type CleanerConfig struct {
	RetentionWindow time.Duration
	// PurgeFailed also deletes failed jobs older than FailedRetentionWindow.
	// Off by default: failed jobs are kept for inspection.
	PurgeFailed           bool
	FailedRetentionWindow time.Duration
	BatchSize             int
}

// CleanerSummary reports rows deleted by one run.
type CleanerSummary struct {
	DeletedCompleted int64
	DeletedFailed    int64
}

// Cleaner deletes terminal jobs past their retention window. It is one-shot:
// an external scheduler (cron, k8s CronJob) invokes it. Pending and
// processing jobs are never touched.
type Cleaner struct {
	store CleanerStore
	cfg   CleanerConfig
	log   *slog.Logger
}

// NewCleaner creates a Cleaner, filling zero config values with defaults.
func NewCleaner(s CleanerStore, cfg CleanerConfig) *Cleaner {
	if cfg.RetentionWindow <= 0 {
		cfg.RetentionWindow = DefaultRetentionWindow
	}
	if cfg.FailedRetentionWindow <= 0 {
		cfg.FailedRetentionWindow = 4 * cfg.RetentionWindow
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10000
	}
	return &Cleaner{store: s, cfg: cfg, log: slog.Default()}
}

// Run performs one retention sweep.
func (c *Cleaner) Run(ctx context.Context) (CleanerSummary, error) {
	var sum CleanerSummary

	n, err := c.store.DeleteCompletedBefore(ctx, c.cfg.RetentionWindow, c.cfg.BatchSize)
	sum.DeletedCompleted = n
	jobsDeleted.WithLabelValues(string(store.JobCompleted)).Add(float64(n))
	if err != nil {
		return sum, fmt.Errorf("purge completed jobs: %w", err)
	}
	c.log.Info("purged completed jobs", "deleted", n, "retention", c.cfg.RetentionWindow)

	if !c.cfg.PurgeFailed {
		return sum, nil
	}
	n, err = c.store.DeleteFailedBefore(ctx, c.cfg.FailedRetentionWindow, c.cfg.BatchSize)
	sum.DeletedFailed = n
	jobsDeleted.WithLabelValues(string(store.JobFailed)).Add(float64(n))
	if err != nil {
		return sum, fmt.Errorf("purge failed jobs: %w", err)
	}
	c.log.Info("purged failed jobs", "deleted", n, "retention", c.cfg.FailedRetentionWindow)
	return sum, nil
}
