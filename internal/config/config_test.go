package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scarson/leadpilot/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("ENV_FILE", t.TempDir()+"/missing.env")
	t.Setenv("DATABASE_URL", "postgres://localhost/leadpilot")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, cfg.WorkerPollInterval)
	assert.Equal(t, 5*time.Minute, cfg.MonitorInterval)
	assert.Equal(t, 10*time.Minute, cfg.StuckTimeout)
	assert.Equal(t, 7*24*time.Hour, cfg.RetentionWindow)
	assert.Equal(t, 3, cfg.JobDefaultMaxAttempts)
	assert.False(t, cfg.JobRetryOnError)
	assert.False(t, cfg.RetentionPurgeFailed)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoad_MissingDatabaseURL(t *testing.T) {
	t.Setenv("ENV_FILE", t.TempDir()+"/missing.env")
	t.Setenv("DATABASE_URL", "")

	_, err := config.Load()
	assert.Error(t, err)
}

func TestParseRecurringJobs(t *testing.T) {
	cfg := &config.Config{RecurringJobs: "daily_report=@daily; temp_cleanup = 0 3 * * * ;"}
	jobs, err := cfg.ParseRecurringJobs()
	require.NoError(t, err)
	assert.Equal(t, []config.RecurringJob{
		{Type: "daily_report", Cron: "@daily"},
		{Type: "temp_cleanup", Cron: "0 3 * * *"},
	}, jobs)

	cfg.RecurringJobs = "missing-expression"
	_, err = cfg.ParseRecurringJobs()
	assert.Error(t, err)
}
