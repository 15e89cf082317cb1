// Package config parses and validates all application configuration from
// environment variables using caarlos0/env/v11.
//
// Call [Load] once at process startup; pass the resulting [Config] to
// subcommands. A process exits if any field tagged "required" is missing.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all application configuration sourced from environment variables.
type Config struct {
	// ── Database ─────────────────────────────────────────────────────────────────
	DatabaseURL          string        `env:"DATABASE_URL,required,notEmpty"`
	DatabaseURLMigrate   string        `env:"DATABASE_URL_MIGRATE"`
	DBMaxConns           int32         `env:"DB_MAX_CONNS"            envDefault:"10"`
	DBMaxConnIdleTime    time.Duration `env:"DB_MAX_CONN_IDLE_TIME"   envDefault:"5m"`
	DBStatementTimeoutMS int           `env:"DB_STATEMENT_TIMEOUT_MS" envDefault:"14000"`
	// DBQueryExecMode: "simple_protocol" (PgBouncer / Supabase pooler compatible)
	// or "extended_protocol".
	DBQueryExecMode string `env:"DB_QUERY_EXEC_MODE" envDefault:"simple_protocol"`

	// ── Server (BFF) ─────────────────────────────────────────────────────────────
	ListenAddr             string `env:"LISTEN_ADDR"              envDefault:":8080"`
	AppEnv                 string `env:"APP_ENV"                  envDefault:"development"`
	ShutdownTimeoutSeconds int    `env:"SHUTDOWN_TIMEOUT_SECONDS" envDefault:"30"`
	// MetricsAddr exposes /metrics from non-HTTP processes (worker, monitor,
	// scheduler). Empty disables the listener.
	MetricsAddr string `env:"METRICS_ADDR"`

	// ── Auth ─────────────────────────────────────────────────────────────────────
	// HS256 secret used to verify bearer tokens on /api routes.
	AuthJWTSecret string `env:"AUTH_JWT_SECRET"`

	// ── Rate limiting ────────────────────────────────────────────────────────────
	RateLimitPerMinute int           `env:"RATE_LIMIT_PER_MINUTE" envDefault:"20"`
	RateLimitEvictTTL  time.Duration `env:"RATE_LIMIT_EVICT_TTL"  envDefault:"15m"`

	// ── AI: Google Gemini ────────────────────────────────────────────────────────
	GeminiAPIKey  string        `env:"GEMINI_API_KEY"`
	GeminiModel   string        `env:"GEMINI_MODEL"    envDefault:"gemini-2.0-flash"`
	GeminiBaseURL string        `env:"GEMINI_BASE_URL" envDefault:"https://generativelanguage.googleapis.com"`
	AITimeout     time.Duration `env:"AI_TIMEOUT"      envDefault:"60s"`

	// ── CRM: HubSpot ─────────────────────────────────────────────────────────────
	HubSpotToken   string `env:"HUBSPOT_TOKEN"`
	HubSpotBaseURL string `env:"HUBSPOT_BASE_URL" envDefault:"https://api.hubapi.com"`

	// ── Job queue ────────────────────────────────────────────────────────────────
	JobDefaultMaxAttempts int           `env:"JOB_DEFAULT_MAX_ATTEMPTS" envDefault:"3"`
	JobRetryOnError       bool          `env:"JOB_RETRY_ON_ERROR"       envDefault:"false"`
	WorkerPollInterval    time.Duration `env:"WORKER_POLL_INTERVAL"     envDefault:"2s"`
	WorkerConcurrency     int           `env:"WORKER_CONCURRENCY"       envDefault:"1"`
	MonitorInterval       time.Duration `env:"MONITOR_INTERVAL"         envDefault:"5m"`
	StuckTimeout          time.Duration `env:"STUCK_TIMEOUT"            envDefault:"10m"`
	MonitorBatchSize      int           `env:"MONITOR_BATCH_SIZE"       envDefault:"100"`
	SchedulerInterval     time.Duration `env:"SCHEDULER_INTERVAL"       envDefault:"60s"`
	// RecurringJobs is a ';'-separated list of "type=cron expression" entries.
	RecurringJobs string `env:"RECURRING_JOBS"`

	// ── Data retention ───────────────────────────────────────────────────────────
	RetentionWindow           time.Duration `env:"RETENTION_WINDOW"             envDefault:"168h"`
	RetentionPurgeFailed      bool          `env:"RETENTION_PURGE_FAILED"       envDefault:"false"`
	RetentionFailedWindow     time.Duration `env:"RETENTION_FAILED_WINDOW"      envDefault:"720h"`
	RetentionCleanupBatchSize int           `env:"RETENTION_CLEANUP_BATCH_SIZE" envDefault:"10000"`

	// ── Logging ──────────────────────────────────────────────────────────────────
	LogLevel  string `env:"LOG_LEVEL"  envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// Load reads an optional .env file (ENV_FILE, default ".env"), then parses and
// returns Config from the environment. Variables already set in the process
// environment win over the file.
func Load() (*Config, error) {
	path := os.Getenv("ENV_FILE")
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// IsDevelopment reports whether the application is running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// RecurringJob is one parsed RECURRING_JOBS entry.
type RecurringJob struct {
	Type string
	Cron string
}

// ParseRecurringJobs splits RecurringJobs into entries. Cron syntax is
// validated later by the scheduler.
func (c *Config) ParseRecurringJobs() ([]RecurringJob, error) {
	var out []RecurringJob
	for _, part := range strings.Split(c.RecurringJobs, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		typ, expr, ok := strings.Cut(part, "=")
		typ, expr = strings.TrimSpace(typ), strings.TrimSpace(expr)
		if !ok || typ == "" || expr == "" {
			return nil, fmt.Errorf("recurring job %q: want type=cron", part)
		}
		out = append(out, RecurringJob{Type: typ, Cron: expr})
	}
	return out, nil
}
