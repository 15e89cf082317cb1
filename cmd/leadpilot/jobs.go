package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/scarson/leadpilot/internal/auth"
	"github.com/scarson/leadpilot/internal/config"
	"github.com/scarson/leadpilot/internal/queue"
	"github.com/scarson/leadpilot/internal/store"
)

// ── worker ────────────────────────────────────────────────────────────────────

func workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Start the job worker (no HTTP server)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, db, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()
			serveMetrics(ctx, cfg.MetricsAddr)

			reg := newRegistry(newCompleter(cfg))
			w := queue.NewWorker(store.New(db), reg, workerConfig(cfg))
			slog.Info("worker started",
				"worker_id", w.ID(),
				"concurrency", cfg.WorkerConcurrency,
				"types", reg.Types(),
				"retry_on_error", cfg.JobRetryOnError,
			)
			w.Start(ctx)
			return nil
		},
	}
}

// ── monitor ───────────────────────────────────────────────────────────────────

func monitorCmd() *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Start the stuck-job monitor",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, db, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			m := queue.NewMonitor(store.New(db), queue.MonitorConfig{
				Interval:     cfg.MonitorInterval,
				StuckTimeout: cfg.StuckTimeout,
				BatchSize:    cfg.MonitorBatchSize,
			})
			if once {
				sum, err := m.RunOnce(cmd.Context())
				if err != nil {
					return fmt.Errorf("monitor scan: %w", err)
				}
				slog.Info("monitor scan complete",
					"scanned", sum.Scanned,
					"requeued", sum.Requeued,
					"failed", sum.Failed,
					"skipped", sum.Skipped,
					"errors", sum.Errors,
				)
				return nil
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()
			serveMetrics(ctx, cfg.MetricsAddr)

			m.Start(ctx)
			return nil
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "run a single scan and exit")
	return cmd
}

// ── cleaner ───────────────────────────────────────────────────────────────────

func cleanerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleaner",
		Short: "Delete finished jobs past the retention window and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, db, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			c := queue.NewCleaner(store.New(db), queue.CleanerConfig{
				RetentionWindow:       cfg.RetentionWindow,
				PurgeFailed:           cfg.RetentionPurgeFailed,
				FailedRetentionWindow: cfg.RetentionFailedWindow,
				BatchSize:             cfg.RetentionCleanupBatchSize,
			})
			sum, err := c.Run(ctx)
			if err != nil {
				return fmt.Errorf("retention sweep: %w", err)
			}
			slog.Info("retention sweep complete",
				"deleted_completed", sum.DeletedCompleted,
				"deleted_failed", sum.DeletedFailed,
			)
			return nil
		},
	}
}

// ── scheduler ─────────────────────────────────────────────────────────────────

func schedulerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scheduler",
		Short: "Enqueue recurring jobs on their cron schedules (RECURRING_JOBS)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, db, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			entries, err := cfg.ParseRecurringJobs()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			if len(entries) == 0 {
				slog.Warn("RECURRING_JOBS is empty; scheduler will idle")
			}

			s := queue.NewScheduler(
				queue.NewEnqueuer(store.New(db), cfg.JobDefaultMaxAttempts),
				queue.SchedulerConfig{Interval: cfg.SchedulerInterval},
			)
			for _, e := range entries {
				if err := s.RegisterRecurringJob(e.Type, e.Cron, nil); err != nil {
					return err
				}
				next, _ := s.NextRun(e.Type)
				slog.Info("recurring job registered", "type", e.Type, "cron", e.Cron, "next_run", next)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()
			serveMetrics(ctx, cfg.MetricsAddr)

			s.Start(ctx)
			return nil
		},
	}
}

// ── enqueue ───────────────────────────────────────────────────────────────────

func enqueueCmd() *cobra.Command {
	var (
		jobType     string
		payload     string
		maxAttempts int
	)
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Insert a single pending job and print its id",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, db, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			var opts []queue.EnqueueOption
			if cmd.Flags().Changed("max-attempts") {
				opts = append(opts, queue.WithMaxAttempts(maxAttempts))
			}
			e := queue.NewEnqueuer(store.New(db), cfg.JobDefaultMaxAttempts)
			id, err := e.Enqueue(cmd.Context(), jobType, json.RawMessage(payload), opts...)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
	cmd.Flags().StringVar(&jobType, "type", "", "job type (required)")
	cmd.Flags().StringVar(&payload, "payload", "{}", "job payload as a JSON document")
	cmd.Flags().IntVar(&maxAttempts, "max-attempts", 0, "override JOB_DEFAULT_MAX_ATTEMPTS (must be positive)")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

// ── token ─────────────────────────────────────────────────────────────────────

func tokenCmd() *cobra.Command {
	var (
		email string
		ttl   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token signed with AUTH_JWT_SECRET (development only)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			if !cfg.IsDevelopment() {
				return errors.New("token: refusing to issue tokens outside APP_ENV=development")
			}
			tok, err := auth.IssueAccessToken([]byte(cfg.AuthJWTSecret), uuid.New(), email, ttl)
			if err != nil {
				return fmt.Errorf("token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "dev@localhost", "email claim")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}
