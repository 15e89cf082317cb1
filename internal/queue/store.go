package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/scarson/leadpilot/internal/store"
)

// EnqueueStore inserts new pending jobs.
type EnqueueStore interface {
	EnqueueJobs(ctx context.Context, jobs []store.NewJob) ([]uuid.UUID, error)
}

// WorkerStore is the claim and writeback surface used by Worker.
type WorkerStore interface {
	ClaimJob(ctx context.Context, workerID string) (*store.Job, error)
	CompleteJob(ctx context.Context, id uuid.UUID, claimedAttempts int, result json.RawMessage) error
	FailJob(ctx context.Context, id uuid.UUID, claimedAttempts int, errMsg string) error
	RetryJob(ctx context.Context, id uuid.UUID, claimedAttempts int, errMsg string) (store.JobStatus, error)
}

// MonitorStore is the stuck-job surface used by Monitor.
type MonitorStore interface {
	ListStuckJobs(ctx context.Context, staleAfter time.Duration, limit int) ([]store.Job, error)
	RecoverStuckJob(ctx context.Context, id uuid.UUID, staleAfter time.Duration) (*store.Recovery, error)
	CountJobsByStatus(ctx context.Context) (map[store.JobStatus]int64, error)
}

// CleanerStore is the retention surface used by Cleaner.
type CleanerStore interface {
	DeleteCompletedBefore(ctx context.Context, olderThan time.Duration, batchSize int) (int64, error)
	DeleteFailedBefore(ctx context.Context, olderThan time.Duration, batchSize int) (int64, error)
}

var (
	_ EnqueueStore = (*store.Store)(nil)
	_ WorkerStore  = (*store.Store)(nil)
	_ MonitorStore = (*store.Store)(nil)
	_ CleanerStore = (*store.Store)(nil)
)
