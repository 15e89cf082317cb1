// Command leadpilot is the LeadPilot backend binary.
//
// Subcommands:
//
//	serve      BFF HTTP server (optionally with an embedded worker)
//	worker     job worker pool only
//	monitor    stuck-job monitor
//	cleaner    one-shot retention sweep, for cron / k8s CronJob
//	scheduler  recurring job scheduler (RECURRING_JOBS)
//	migrate    run pending database migrations and exit
//	enqueue    insert a single job from the command line
//	token      issue a development bearer token
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	// Embeds the IANA timezone database so cron schedules with time zones
	// resolve inside distroless containers.
	_ "time/tzdata"

	// Sets GOMEMLIMIT from the cgroup memory limit so the GC triggers before
	// the OOM killer fires in containers.
	_ "github.com/KimMachineGun/automemlimit"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/scarson/leadpilot/internal/ai"
	"github.com/scarson/leadpilot/internal/api"
	"github.com/scarson/leadpilot/internal/coldmail"
	"github.com/scarson/leadpilot/internal/config"
	"github.com/scarson/leadpilot/internal/crm"
	"github.com/scarson/leadpilot/internal/outbound"
	"github.com/scarson/leadpilot/internal/queue"
	"github.com/scarson/leadpilot/internal/store"
	"github.com/scarson/leadpilot/migrations"
)

func main() {
	root := &cobra.Command{
		Use:   "leadpilot",
		Short: "LeadPilot: AI-assisted sales prospecting backend",
		// Silence default error printing; we print it ourselves with slog.
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	root.AddCommand(
		serveCmd(),
		workerCmd(),
		monitorCmd(),
		cleanerCmd(),
		schedulerCmd(),
		migrateCmd(),
		enqueueCmd(),
		tokenCmd(),
	)

	if err := root.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// ── serve ─────────────────────────────────────────────────────────────────────

func serveCmd() *cobra.Command {
	var embeddedWorker bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the BFF HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, embeddedWorker)
		},
	}
	cmd.Flags().BoolVar(&embeddedWorker, "embedded-worker", false,
		"also run a job worker in this process (single-instance deployments)")
	return cmd
}

func runServe(cmd *cobra.Command, embeddedWorker bool) error {
	cfg, db, err := setup(cmd.Context())
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	st := store.New(db)
	completer := newCompleter(cfg)

	waitWorker := func(context.Context) error { return nil }
	if embeddedWorker {
		w := queue.NewWorker(st, newRegistry(completer), workerConfig(cfg))
		waitWorker = runInBackground(ctx, w)
	}

	handler := api.NewServer(cfg, api.Deps{
		DB:       db,
		Jobs:     st,
		Enqueuer: queue.NewEnqueuer(st, cfg.JobDefaultMaxAttempts),
		AI:       completer,
		CRM: crm.NewHubSpotClient(crm.HubSpotConfig{
			Token:   cfg.HubSpotToken,
			BaseURL: cfg.HubSpotBaseURL,
		}),
	}).Handler()

	// WriteTimeout omitted: AI completions can legitimately take longer than
	// any sane global write deadline; the handler bounds them with AI_TIMEOUT.
	srv := &http.Server{ //nolint:exhaustruct // WriteTimeout intentionally omitted
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("server started", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		stop() // cancels ctx so the embedded worker drains
		waitCtx, cancel := context.WithTimeout(context.Background(),
			time.Duration(cfg.ShutdownTimeoutSeconds)*time.Second)
		defer cancel()
		if werr := waitWorker(waitCtx); werr != nil {
			slog.Warn("embedded worker still running at shutdown timeout", "error", werr)
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		stop() // release signal notification
	}

	slog.Info("shutting down", "timeout_seconds", cfg.ShutdownTimeoutSeconds)
	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.ShutdownTimeoutSeconds)*time.Second,
	)
	defer cancel()

	shutdownErr := srv.Shutdown(shutdownCtx)
	// In-flight jobs write back through db, which closes when we return.
	if err := waitWorker(shutdownCtx); err != nil {
		slog.Warn("embedded worker still running at shutdown timeout", "error", err)
	}
	if shutdownErr != nil {
		return fmt.Errorf("graceful shutdown: %w", shutdownErr)
	}
	slog.Info("server stopped")
	return nil
}

// runInBackground starts r in its own goroutine. The returned wait blocks
// until r.Start has returned or waitCtx is done.
func runInBackground(ctx context.Context, r interface{ Start(context.Context) }) (wait func(waitCtx context.Context) error) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Start(ctx)
	}()
	return func(waitCtx context.Context) error {
		select {
		case <-done:
			return nil
		case <-waitCtx.Done():
			return waitCtx.Err()
		}
	}
}

// ── migrate ───────────────────────────────────────────────────────────────────

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run pending database migrations and exit",
		RunE:  runMigrate,
	}
}

func runMigrate(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	slog.SetDefault(newLogger(cfg))

	slog.Info("running migrations")

	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}

	// golang-migrate requires a *sql.DB; pgx's stdlib adapter keeps one driver
	// project-wide. Direct (non-pooler) URL preferred for DDL.
	migrateURL := cfg.DatabaseURL
	if cfg.DatabaseURLMigrate != "" {
		migrateURL = cfg.DatabaseURLMigrate
	}
	connCfg, err := pgx.ParseConfig(migrateURL)
	if err != nil {
		return fmt.Errorf("parse db url: %w", err)
	}
	// Simple protocol runs multi-statement migration files natively.
	connCfg.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	db := stdlib.OpenDB(*connCfg)
	defer db.Close() //nolint:errcheck

	driver, err := migratepg.WithInstance(db, &migratepg.Config{MultiStatementEnabled: true})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migrate init: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}

	version, _, _ := m.Version() //nolint:errcheck
	slog.Info("migrations complete", "version", version)
	return nil
}

// ── helpers ───────────────────────────────────────────────────────────────────

// setup loads config, installs the logger and opens the pool. Every
// long-running subcommand starts here; each process owns its own pool.
func setup(ctx context.Context) (*config.Config, *pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}
	slog.SetDefault(newLogger(cfg))

	db, err := newPool(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("database: %w", err)
	}
	return cfg, db, nil
}

func newCompleter(cfg *config.Config) *ai.GeminiClient {
	return ai.NewGeminiClient(ai.GeminiConfig{
		APIKey:     cfg.GeminiAPIKey,
		Model:      cfg.GeminiModel,
		BaseURL:    cfg.GeminiBaseURL,
		HTTPClient: outbound.BuildSafeClient(cfg.AITimeout),
	})
}

// newRegistry returns the registry of every job type this binary can execute.
func newRegistry(completer ai.Completer) *queue.Registry {
	r := queue.NewRegistry()
	coldmail.NewGenerator(completer).Register(r)
	return r
}

func workerConfig(cfg *config.Config) queue.WorkerConfig {
	return queue.WorkerConfig{
		PollInterval: cfg.WorkerPollInterval,
		Concurrency:  cfg.WorkerConcurrency,
		RetryOnError: cfg.JobRetryOnError,
	}
}

// serveMetrics exposes /metrics on addr until ctx is cancelled. A no-op when
// addr is empty.
func serveMetrics(ctx context.Context, addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second} //nolint:exhaustruct
	go func() {
		slog.Info("metrics listener started", "addr", addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics listener", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx) //nolint:contextcheck // ctx is already done
	}()
}

// newPool creates and validates a pgxpool: pooler compatibility, statement
// timeout, pool sizing.
//
// Retries up to 10 times with linear backoff to handle the compose startup
// race where Postgres is not immediately ready.
func newPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// PgBouncer / Supabase pooler transaction-mode compatibility.
	if cfg.DBQueryExecMode == "simple_protocol" {
		poolCfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	}

	poolCfg.ConnConfig.RuntimeParams["statement_timeout"] = strconv.Itoa(cfg.DBStatementTimeoutMS)
	poolCfg.MaxConns = cfg.DBMaxConns
	poolCfg.MaxConnIdleTime = cfg.DBMaxConnIdleTime

	var (
		db      *pgxpool.Pool
		connErr error
	)
	for attempt := 1; attempt <= 10; attempt++ {
		db, connErr = pgxpool.NewWithConfig(ctx, poolCfg)
		if connErr == nil {
			if connErr = db.Ping(ctx); connErr == nil {
				break
			}
			db.Close()
		}
		slog.Warn("database not ready, retrying",
			"attempt", attempt,
			"error", connErr,
		)
		// time.NewTimer (not time.After) so the timer is released if ctx is
		// cancelled first.
		timer := time.NewTimer(time.Duration(attempt) * time.Second)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	if connErr != nil {
		return nil, fmt.Errorf("database unavailable after retries: %w", connErr)
	}

	var schemaVersion int
	err = db.QueryRow(ctx,
		"SELECT version FROM schema_migrations ORDER BY version DESC LIMIT 1",
	).Scan(&schemaVersion)
	if err == nil && schemaVersion != expectedSchemaVersion {
		slog.Warn("schema version mismatch, run `leadpilot migrate`",
			"applied_version", schemaVersion,
			"expected_version", expectedSchemaVersion,
		)
	}

	return db, nil
}

// expectedSchemaVersion is the database migration version this binary requires.
// Update this constant when new migrations are added.
const expectedSchemaVersion = 1

// newLogger creates a slog.Logger based on the configured log level and format.
func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "text" || cfg.IsDevelopment() {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
