package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// JobStatus is the state machine field of a job row.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Terminal reports whether no further transition may be applied to a job in s.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// Valid reports whether s is one of the four known statuses.
func (s JobStatus) Valid() bool {
	switch s {
	case JobPending, JobProcessing, JobCompleted, JobFailed:
		return true
	}
	return false
}

// Last-error messages written by the stuck-job recovery path.
const (
	StuckRequeuedMessage  = "stuck in processing (worker crash?)"
	StuckExhaustedMessage = "stuck and max attempts reached"
)

// Job is one row of the jobs table.
type Job struct {
	ID          uuid.UUID
	Type        string
	Payload     json.RawMessage
	Status      JobStatus
	Attempts    int
	MaxAttempts int
	Result      json.RawMessage // nil unless completed
	LastError   *string
	LockedBy    *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	FinishedAt  *time.Time
}

// NewJob is the insert-time view of a job.
type NewJob struct {
	Type        string
	Payload     json.RawMessage
	MaxAttempts int
}

// Recovery is the outcome of recovering one stuck job.
type Recovery struct {
	ID       uuid.UUID
	Status   JobStatus // pending (requeued) or failed (exhausted)
	Attempts int
}

// JobFilter narrows ListJobs. Zero values mean "no filter".
type JobFilter struct {
	Status JobStatus
	Type   string
	// Keyset cursor: rows strictly older than (BeforeCreatedAt, BeforeID).
	BeforeCreatedAt time.Time
	BeforeID        uuid.UUID
	Limit           int
}

// jobColumns is the canonical column list for scanJob. status is cast to
// text so the enum decodes the same way under both query exec modes.
const jobColumns = `id, type, payload, status::text, attempts, max_attempts,
	result, last_error, locked_by, created_at, updated_at, finished_at`

func scanJob(row pgx.Row) (*Job, error) {
	var (
		j       Job
		payload []byte
		result  []byte
		status  string
	)
	if err := row.Scan(
		&j.ID, &j.Type, &payload, &status, &j.Attempts, &j.MaxAttempts,
		&result, &j.LastError, &j.LockedBy, &j.CreatedAt, &j.UpdatedAt, &j.FinishedAt,
	); err != nil {
		return nil, err
	}
	j.Payload = json.RawMessage(payload)
	if result != nil {
		j.Result = json.RawMessage(result)
	}
	j.Status = JobStatus(status)
	return &j, nil
}

// jsonArg converts raw JSON into a string argument for a ::jsonb cast. A
// []byte argument would be sent as bytea under the simple query protocol.
func jsonArg(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	return string(raw)
}

// ── Enqueue ───────────────────────────────────────────────────────────────────

// EnqueueJob inserts one pending job and returns its ID.
func (s *Store) EnqueueJob(ctx context.Context, j NewJob) (uuid.UUID, error) {
	ids, err := s.EnqueueJobs(ctx, []NewJob{j})
	if err != nil {
		return uuid.Nil, err
	}
	return ids[0], nil
}

// EnqueueJobs inserts all jobs in a single multi-row INSERT and returns their
// IDs in input order.
func (s *Store) EnqueueJobs(ctx context.Context, jobs []NewJob) ([]uuid.UUID, error) {
	if len(jobs) == 0 {
		return nil, nil
	}
	ins := psql.Insert("jobs").Columns("type", "payload", "max_attempts")
	for _, j := range jobs {
		ins = ins.Values(j.Type, sq.Expr("?::jsonb", jsonArg(j.Payload)), j.MaxAttempts)
	}
	query, args, err := ins.Suffix("RETURNING id").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build enqueue: %w", err)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("enqueue jobs: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("enqueue jobs: %w", err)
	}
	return ids, nil
}

// ── Worker ────────────────────────────────────────────────────────────────────

// claimJobSQL moves exactly one pending row to processing and returns it. The
// inner SELECT takes a row lock with SKIP LOCKED so concurrent claimers each
// get a different row (or none); the outer status guard is re-evaluated after
// the lock is granted.
const claimJobSQL = `
UPDATE jobs
SET status     = 'processing',
    locked_by  = $1,
    updated_at = now()
WHERE id = (
    SELECT id FROM jobs
    WHERE status = 'pending'
    ORDER BY created_at, id
    LIMIT 1
    FOR UPDATE SKIP LOCKED
)
AND status = 'pending'
RETURNING ` + jobColumns

// ClaimJob atomically claims one pending job for workerID. Returns (nil, nil)
// when no job is currently available.
func (s *Store) ClaimJob(ctx context.Context, workerID string) (*Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx, claimJobSQL, workerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return j, nil
}

// Writebacks are guarded by (status = 'processing', attempts = claimed
// attempts). Recovery increments attempts, so a stale worker finishing late
// cannot overwrite a row the monitor requeued or another worker reclaimed.
const completeJobSQL = `
UPDATE jobs
SET status      = 'completed',
    result      = $3::jsonb,
    locked_by   = NULL,
    updated_at  = now(),
    finished_at = now()
WHERE id = $1 AND status = 'processing' AND attempts = $2`

const failJobSQL = `
UPDATE jobs
SET status      = 'failed',
    last_error  = $3,
    locked_by   = NULL,
    updated_at  = now(),
    finished_at = now()
WHERE id = $1 AND status = 'processing' AND attempts = $2`

// retryJobSQL requeues a failed attempt while budget remains and fails the
// job terminally otherwise.
const retryJobSQL = `
UPDATE jobs
SET status      = CASE WHEN attempts < max_attempts THEN 'pending'::job_status ELSE 'failed'::job_status END,
    attempts    = CASE WHEN attempts < max_attempts THEN attempts + 1 ELSE attempts END,
    finished_at = CASE WHEN attempts < max_attempts THEN NULL ELSE now() END,
    last_error  = $3,
    locked_by   = NULL,
    updated_at  = now()
WHERE id = $1 AND status = 'processing' AND attempts = $2
RETURNING status::text`

// CompleteJob marks a claimed job completed with result.
func (s *Store) CompleteJob(ctx context.Context, id uuid.UUID, claimedAttempts int, result json.RawMessage) error {
	if result == nil {
		result = json.RawMessage("null")
	}
	tag, err := s.pool.Exec(ctx, completeJobSQL, id, claimedAttempts, string(result))
	if err != nil {
		return fmt.Errorf("complete job %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("complete job %s: %w", id, ErrClaimLost)
	}
	return nil
}

// FailJob marks a claimed job terminally failed with errMsg.
func (s *Store) FailJob(ctx context.Context, id uuid.UUID, claimedAttempts int, errMsg string) error {
	tag, err := s.pool.Exec(ctx, failJobSQL, id, claimedAttempts, errMsg)
	if err != nil {
		return fmt.Errorf("fail job %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("fail job %s: %w", id, ErrClaimLost)
	}
	return nil
}

// RetryJob returns a claimed job to pending with attempts+1 when attempts
// remain, or fails it terminally. Returns the resulting status.
func (s *Store) RetryJob(ctx context.Context, id uuid.UUID, claimedAttempts int, errMsg string) (JobStatus, error) {
	var status string
	err := s.pool.QueryRow(ctx, retryJobSQL, id, claimedAttempts, errMsg).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("retry job %s: %w", id, ErrClaimLost)
		}
		return "", fmt.Errorf("retry job %s: %w", id, err)
	}
	return JobStatus(status), nil
}

// ── Monitor ───────────────────────────────────────────────────────────────────

const listStuckJobsSQL = `
SELECT ` + jobColumns + `
FROM jobs
WHERE status = 'processing'
  AND updated_at < now() - ($1::bigint * interval '1 millisecond')
ORDER BY updated_at
LIMIT $2`

// recoverStuckJobSQL re-checks staleness so a row that finished or was
// recovered since the scan is left alone. CASE branches read pre-update values.
const recoverStuckJobSQL = `
UPDATE jobs
SET status      = CASE WHEN attempts < max_attempts THEN 'pending'::job_status ELSE 'failed'::job_status END,
    attempts    = CASE WHEN attempts < max_attempts THEN attempts + 1 ELSE attempts END,
    last_error  = CASE WHEN attempts < max_attempts THEN $3::text ELSE $4::text END,
    finished_at = CASE WHEN attempts < max_attempts THEN NULL ELSE now() END,
    locked_by   = NULL,
    updated_at  = now()
WHERE id = $1
  AND status = 'processing'
  AND updated_at < now() - ($2::bigint * interval '1 millisecond')
RETURNING id, status::text, attempts`

// ListStuckJobs returns up to limit processing jobs not updated within staleAfter.
func (s *Store) ListStuckJobs(ctx context.Context, staleAfter time.Duration, limit int) ([]Job, error) {
	rows, err := s.pool.Query(ctx, listStuckJobsSQL, staleAfter.Milliseconds(), limit)
	if err != nil {
		return nil, fmt.Errorf("list stuck jobs: %w", err)
	}
	jobs, err := collectJobs(rows)
	if err != nil {
		return nil, fmt.Errorf("list stuck jobs: %w", err)
	}
	return jobs, nil
}

// RecoverStuckJob requeues or fails one stuck job. Returns (nil, nil) when the
// job is no longer stuck.
func (s *Store) RecoverStuckJob(ctx context.Context, id uuid.UUID, staleAfter time.Duration) (*Recovery, error) {
	var (
		r      Recovery
		status string
	)
	err := s.pool.QueryRow(ctx, recoverStuckJobSQL,
		id, staleAfter.Milliseconds(), StuckRequeuedMessage, StuckExhaustedMessage,
	).Scan(&r.ID, &status, &r.Attempts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("recover stuck job %s: %w", id, err)
	}
	r.Status = JobStatus(status)
	return &r, nil
}

// ── Cleaner ───────────────────────────────────────────────────────────────────

const deleteFinishedBatchSQL = `
DELETE FROM jobs
WHERE id IN (
    SELECT id FROM jobs
    WHERE status = $1::job_status
      AND finished_at < now() - ($2::bigint * interval '1 millisecond')
    LIMIT $3
    FOR UPDATE SKIP LOCKED
)`

// DeleteCompletedBefore deletes completed jobs whose finished_at is older than
// olderThan, batchSize rows per statement. Returns the number deleted.
func (s *Store) DeleteCompletedBefore(ctx context.Context, olderThan time.Duration, batchSize int) (int64, error) {
	return s.deleteFinished(ctx, JobCompleted, olderThan, batchSize)
}

// DeleteFailedBefore is DeleteCompletedBefore for failed jobs.
func (s *Store) DeleteFailedBefore(ctx context.Context, olderThan time.Duration, batchSize int) (int64, error) {
	return s.deleteFinished(ctx, JobFailed, olderThan, batchSize)
}

func (s *Store) deleteFinished(ctx context.Context, status JobStatus, olderThan time.Duration, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 1000
	}
	var total int64
	for {
		tag, err := s.pool.Exec(ctx, deleteFinishedBatchSQL, string(status), olderThan.Milliseconds(), batchSize)
		if err != nil {
			return total, fmt.Errorf("delete %s jobs: %w", status, err)
		}
		n := tag.RowsAffected()
		total += n
		if n < int64(batchSize) {
			return total, nil
		}
		if err := ctx.Err(); err != nil {
			return total, err
		}
	}
}

// ── Inspection ────────────────────────────────────────────────────────────────

// GetJob returns the job with id, or ErrNotFound.
func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (*Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return j, nil
}

// ListJobs returns jobs newest first, narrowed by f.
func (s *Store) ListJobs(ctx context.Context, f JobFilter) ([]Job, error) {
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	q := psql.Select(jobColumns).From("jobs").
		OrderBy("created_at DESC", "id DESC").
		Limit(uint64(limit)) //nolint:gosec // G115: limit bounded above
	if f.Status != "" {
		q = q.Where(sq.Expr("status = ?::job_status", string(f.Status)))
	}
	if f.Type != "" {
		q = q.Where(sq.Eq{"type": f.Type})
	}
	if !f.BeforeCreatedAt.IsZero() {
		q = q.Where(sq.Expr("(created_at, id) < (?, ?)", f.BeforeCreatedAt, f.BeforeID))
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list jobs: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	jobs, err := collectJobs(rows)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// CountJobsByStatus returns the number of rows per status. Statuses with no
// rows are present with a zero count.
func (s *Store) CountJobsByStatus(ctx context.Context) (map[JobStatus]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT status::text, count(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	defer rows.Close()

	counts := map[JobStatus]int64{
		JobPending: 0, JobProcessing: 0, JobCompleted: 0, JobFailed: 0,
	}
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("count jobs: %w", err)
		}
		counts[JobStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	return counts, nil
}

func collectJobs(rows pgx.Rows) ([]Job, error) {
	defer rows.Close()
	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}
