// ABOUTME: In-memory implementation of the queue store interfaces with a controllable clock.
// ABOUTME: Mirrors the conditional UPDATE semantics of internal/store/jobs.go for component tests.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/scarson/leadpilot/internal/store"
)

// MemStore holds jobs in memory. A single mutex stands in for row locks, so
// every method is one atomic step just like the SQL it mirrors.
type MemStore struct {
	mu   sync.Mutex
	now  time.Time
	seq  int64
	jobs map[uuid.UUID]*store.Job
	// order preserves insertion order for claim (oldest first).
	order []uuid.UUID

	// FailNextRecover makes the next n RecoverStuckJob calls return an error.
	FailNextRecover int
	// EnqueueErr, when set, is returned by EnqueueJobs.
	EnqueueErr error
}

// NewMemStore returns an empty MemStore whose clock starts at a fixed instant.
func NewMemStore() *MemStore {
	return &MemStore{
		now:  time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC),
		jobs: make(map[uuid.UUID]*store.Job),
	}
}

// Now returns the store clock.
func (m *MemStore) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the store clock forward by d.
func (m *MemStore) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// tick returns the current instant, distinct from any previous one so that
// created_at ordering is total.
func (m *MemStore) tick() time.Time {
	m.seq++
	return m.now.Add(time.Duration(m.seq) * time.Nanosecond)
}

// Get returns a copy of the job with id.
func (m *MemStore) Get(id uuid.UUID) (store.Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return store.Job{}, false
	}
	return *j, true
}

// All returns copies of every job in insertion order.
func (m *MemStore) All() []store.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.Job, 0, len(m.order))
	for _, id := range m.order {
		if j, ok := m.jobs[id]; ok {
			out = append(out, *j)
		}
	}
	return out
}

// Put inserts or replaces a job verbatim; for seeding arbitrary states.
func (m *MemStore) Put(j store.Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[j.ID]; !ok {
		m.order = append(m.order, j.ID)
	}
	cp := j
	m.jobs[j.ID] = &cp
}

// EnqueueJobs implements queue.EnqueueStore.
func (m *MemStore) EnqueueJobs(_ context.Context, jobs []store.NewJob) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.EnqueueErr != nil {
		return nil, m.EnqueueErr
	}
	ids := make([]uuid.UUID, len(jobs))
	for i, nj := range jobs {
		now := m.tick()
		j := &store.Job{
			ID:          uuid.New(),
			Type:        nj.Type,
			Payload:     append(json.RawMessage(nil), nj.Payload...),
			Status:      store.JobPending,
			MaxAttempts: nj.MaxAttempts,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		m.jobs[j.ID] = j
		m.order = append(m.order, j.ID)
		ids[i] = j.ID
	}
	return ids, nil
}

// ClaimJob implements queue.WorkerStore.
func (m *MemStore) ClaimJob(_ context.Context, workerID string) (*store.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.order {
		j, ok := m.jobs[id]
		if !ok || j.Status != store.JobPending {
			continue
		}
		j.Status = store.JobProcessing
		w := workerID
		j.LockedBy = &w
		j.UpdatedAt = m.tick()
		cp := *j
		return &cp, nil
	}
	return nil, nil
}

// claimed returns the job if it is still held by the claim generation
// identified by attempts.
func (m *MemStore) claimed(id uuid.UUID, attempts int) (*store.Job, error) {
	j, ok := m.jobs[id]
	if !ok || j.Status != store.JobProcessing || j.Attempts != attempts {
		return nil, fmt.Errorf("job %s: %w", id, store.ErrClaimLost)
	}
	return j, nil
}

// CompleteJob implements queue.WorkerStore.
func (m *MemStore) CompleteJob(_ context.Context, id uuid.UUID, attempts int, result json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, err := m.claimed(id, attempts)
	if err != nil {
		return err
	}
	if result == nil {
		result = json.RawMessage("null")
	}
	now := m.tick()
	j.Status = store.JobCompleted
	j.Result = append(json.RawMessage(nil), result...)
	j.LockedBy = nil
	j.UpdatedAt = now
	j.FinishedAt = &now
	return nil
}

// FailJob implements queue.WorkerStore.
func (m *MemStore) FailJob(_ context.Context, id uuid.UUID, attempts int, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, err := m.claimed(id, attempts)
	if err != nil {
		return err
	}
	now := m.tick()
	j.Status = store.JobFailed
	j.LastError = &errMsg
	j.LockedBy = nil
	j.UpdatedAt = now
	j.FinishedAt = &now
	return nil
}

// RetryJob implements queue.WorkerStore.
func (m *MemStore) RetryJob(_ context.Context, id uuid.UUID, attempts int, errMsg string) (store.JobStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, err := m.claimed(id, attempts)
	if err != nil {
		return "", err
	}
	now := m.tick()
	j.LastError = &errMsg
	j.LockedBy = nil
	j.UpdatedAt = now
	if j.Attempts < j.MaxAttempts {
		j.Status = store.JobPending
		j.Attempts++
	} else {
		j.Status = store.JobFailed
		j.FinishedAt = &now
	}
	return j.Status, nil
}

func (m *MemStore) stuck(j *store.Job, staleAfter time.Duration) bool {
	return j.Status == store.JobProcessing && j.UpdatedAt.Before(m.now.Add(-staleAfter))
}

// ListStuckJobs implements queue.MonitorStore.
func (m *MemStore) ListStuckJobs(_ context.Context, staleAfter time.Duration, limit int) ([]store.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Job
	for _, id := range m.order {
		if j, ok := m.jobs[id]; ok && m.stuck(j, staleAfter) {
			out = append(out, *j)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].UpdatedAt.Before(out[b].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// RecoverStuckJob implements queue.MonitorStore.
func (m *MemStore) RecoverStuckJob(_ context.Context, id uuid.UUID, staleAfter time.Duration) (*store.Recovery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailNextRecover > 0 {
		m.FailNextRecover--
		return nil, fmt.Errorf("recover stuck job %s: injected failure", id)
	}
	j, ok := m.jobs[id]
	if !ok || !m.stuck(j, staleAfter) {
		return nil, nil
	}
	now := m.tick()
	j.LockedBy = nil
	j.UpdatedAt = now
	if j.Attempts < j.MaxAttempts {
		msg := store.StuckRequeuedMessage
		j.Status = store.JobPending
		j.Attempts++
		j.LastError = &msg
	} else {
		msg := store.StuckExhaustedMessage
		j.Status = store.JobFailed
		j.LastError = &msg
		j.FinishedAt = &now
	}
	return &store.Recovery{ID: j.ID, Status: j.Status, Attempts: j.Attempts}, nil
}

// CountJobsByStatus implements queue.MonitorStore.
func (m *MemStore) CountJobsByStatus(_ context.Context) (map[store.JobStatus]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := map[store.JobStatus]int64{
		store.JobPending: 0, store.JobProcessing: 0, store.JobCompleted: 0, store.JobFailed: 0,
	}
	for _, j := range m.jobs {
		counts[j.Status]++
	}
	return counts, nil
}

// DeleteCompletedBefore implements queue.CleanerStore.
func (m *MemStore) DeleteCompletedBefore(_ context.Context, olderThan time.Duration, _ int) (int64, error) {
	return m.deleteFinished(store.JobCompleted, olderThan), nil
}

// DeleteFailedBefore implements queue.CleanerStore.
func (m *MemStore) DeleteFailedBefore(_ context.Context, olderThan time.Duration, _ int) (int64, error) {
	return m.deleteFinished(store.JobFailed, olderThan), nil
}

func (m *MemStore) deleteFinished(status store.JobStatus, olderThan time.Duration) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := m.now.Add(-olderThan)
	var n int64
	kept := m.order[:0]
	for _, id := range m.order {
		j := m.jobs[id]
		if j.Status == status && j.FinishedAt != nil && j.FinishedAt.Before(cutoff) {
			delete(m.jobs, id)
			n++
			continue
		}
		kept = append(kept, id)
	}
	m.order = kept
	return n
}

// GetJob mirrors store.Store.GetJob.
func (m *MemStore) GetJob(_ context.Context, id uuid.UUID) (*store.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

// ListJobs mirrors store.Store.ListJobs: ordered by (created_at, id)
// descending, keyset cursor on the same tuple, limit defaulting to 50.
func (m *MemStore) ListJobs(_ context.Context, f store.JobFilter) ([]store.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var out []store.Job
	for _, j := range m.jobs {
		if f.Status != "" && j.Status != f.Status {
			continue
		}
		if f.Type != "" && j.Type != f.Type {
			continue
		}
		if !f.BeforeCreatedAt.IsZero() && !tupleLess(*j, f.BeforeCreatedAt, f.BeforeID) {
			continue
		}
		out = append(out, *j)
	}
	sort.Slice(out, func(a, b int) bool {
		return tupleLess(out[b], out[a].CreatedAt, out[a].ID)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// tupleLess reports (j.created_at, j.id) < (t, id) with uuids compared
// bytewise, as Postgres row comparison does.
func tupleLess(j store.Job, t time.Time, id uuid.UUID) bool {
	if !j.CreatedAt.Equal(t) {
		return j.CreatedAt.Before(t)
	}
	return bytes.Compare(j.ID[:], id[:]) < 0
}
