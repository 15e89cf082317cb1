// ABOUTME: Test helper that starts a Postgres testcontainer with all migrations applied.
// ABOUTME: Use NewTestDB(t) in integration tests that need a real database.
package testutil

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/scarson/leadpilot/internal/store"
	"github.com/scarson/leadpilot/migrations"
)

// TestDB wraps a Store with helpers for backdating rows, which the store
// itself never does because every timestamp comes from the database clock.
type TestDB struct {
	*store.Store
}

// NewTestDB starts a Postgres testcontainer, runs all migrations, and returns
// a TestDB backed by the test DB. The container and pool are cleaned up via t.Cleanup.
func NewTestDB(t *testing.T) *TestDB {
	t.Helper()
	ctx := context.Background()

	pgCtr, err := tcpostgres.Run(ctx,
		"postgres:18-alpine",
		tcpostgres.WithDatabase("leadpilot_test"),
		tcpostgres.WithUsername("leadpilot_test"),
		tcpostgres.WithPassword("testpassword"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := pgCtr.Terminate(ctx); err != nil {
			t.Logf("terminate postgres container: %v", err)
		}
	})

	connStr, err := pgCtr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}

	if err := Migrate(ctx, connStr); err != nil {
		t.Fatalf("%v", err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatalf("pgxpool: %v", err)
	}
	t.Cleanup(pool.Close)

	return &TestDB{Store: store.New(pool)}
}

// Migrate applies all up migrations to the database at connStr, the same way
// the migrate subcommand does.
func Migrate(ctx context.Context, connStr string) error {
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return errors.Join(errors.New("migration source"), err)
	}

	connCfg, err := pgx.ParseConfig(connStr)
	if err != nil {
		return errors.Join(errors.New("parse db url"), err)
	}
	// Simple query protocol lets postgres execute multi-statement migration files natively.
	connCfg.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	db := stdlib.OpenDB(*connCfg)
	defer db.Close() //nolint:errcheck

	if err := db.PingContext(ctx); err != nil {
		return errors.Join(errors.New("ping"), err)
	}

	driver, err := migratepg.WithInstance(db, &migratepg.Config{MultiStatementEnabled: true})
	if err != nil {
		return errors.Join(errors.New("migration driver"), err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return errors.Join(errors.New("migrate init"), err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return errors.Join(errors.New("migrate up"), err)
	}
	return nil
}

// Backdate shifts updated_at of job id into the past by d, simulating a
// worker that claimed the job and then went silent.
func (db *TestDB) Backdate(t *testing.T, id uuid.UUID, d time.Duration) {
	t.Helper()
	_, err := db.Pool().Exec(context.Background(),
		`UPDATE jobs SET updated_at = now() - $2::bigint * interval '1 millisecond' WHERE id = $1`,
		id, d.Milliseconds())
	if err != nil {
		t.Fatalf("backdate job %s: %v", id, err)
	}
}

// BackdateFinished shifts finished_at of job id into the past by d.
func (db *TestDB) BackdateFinished(t *testing.T, id uuid.UUID, d time.Duration) {
	t.Helper()
	_, err := db.Pool().Exec(context.Background(),
		`UPDATE jobs SET finished_at = now() - $2::bigint * interval '1 millisecond' WHERE id = $1`,
		id, d.Milliseconds())
	if err != nil {
		t.Fatalf("backdate finished job %s: %v", id, err)
	}
}

// SetAttempts overwrites attempts of job id.
func (db *TestDB) SetAttempts(t *testing.T, id uuid.UUID, attempts int) {
	t.Helper()
	if _, err := db.Pool().Exec(context.Background(),
		`UPDATE jobs SET attempts = $2 WHERE id = $1`, id, attempts); err != nil {
		t.Fatalf("set attempts on job %s: %v", id, err)
	}
}
