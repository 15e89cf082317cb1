// Package store provides the data access layer for the jobs table. Queries
// are written against *pgxpool.Pool directly; dynamic filters are built with
// squirrel. Every timestamp comparison uses the database clock (now()), so
// callers pass durations rather than instants.
package store

import (
	"errors"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound is returned when a lookup by ID matches no row.
	ErrNotFound = errors.New("not found")

	// ErrClaimLost is returned by the worker writeback operations when the row
	// is no longer held by the caller's claim: the monitor recovered it, or a
	// later claim generation owns it now.
	ErrClaimLost = errors.New("job claim lost")
)

// psql is the squirrel builder configured for Postgres placeholders.
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Store is the central data access object. Each process constructs its own
// Store from its own pool and passes it to the components that need it.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store backed by pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Pool returns the underlying pgxpool (health checks, tests).
func (s *Store) Pool() *pgxpool.Pool { return s.pool }
