package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/scarson/leadpilot/internal/store"
)

// DefaultMaxAttempts applies when neither the Enqueuer nor the request sets one.
const DefaultMaxAttempts = 3

// ErrInvalidJob is returned for requests the store would reject anyway
// (empty type, non-positive max attempts, unencodable payload).
var ErrInvalidJob = errors.New("invalid job")

// Request is one unit of work for EnqueueBatch.
type Request struct {
	Type    string
	Payload any
	// MaxAttempts overrides the Enqueuer default; zero means unset.
	MaxAttempts int

	maxAttemptsSet bool
}

// EnqueueOption customises a single Enqueue call.
type EnqueueOption func(*Request)

// WithMaxAttempts sets the attempt ceiling for the job. n must be positive.
func WithMaxAttempts(n int) EnqueueOption {
	return func(r *Request) {
		r.MaxAttempts = n
		r.maxAttemptsSet = true
	}
}

// Enqueuer inserts pending jobs. It never executes or retries anything:
// insert failures are returned to the caller.
type Enqueuer struct {
	store              EnqueueStore
	defaultMaxAttempts int
}

// NewEnqueuer creates an Enqueuer. defaultMaxAttempts <= 0 selects
// DefaultMaxAttempts.
func NewEnqueuer(s EnqueueStore, defaultMaxAttempts int) *Enqueuer {
	if defaultMaxAttempts <= 0 {
		defaultMaxAttempts = DefaultMaxAttempts
	}
	return &Enqueuer{store: s, defaultMaxAttempts: defaultMaxAttempts}
}

// Enqueue inserts one job of jobType with payload encoded as JSON.
func (e *Enqueuer) Enqueue(ctx context.Context, jobType string, payload any, opts ...EnqueueOption) (uuid.UUID, error) {
	req := Request{Type: jobType, Payload: payload}
	for _, opt := range opts {
		opt(&req)
	}
	ids, err := e.EnqueueBatch(ctx, []Request{req})
	if err != nil {
		return uuid.Nil, err
	}
	return ids[0], nil
}

// EnqueueBatch inserts all requests in one statement and returns the job IDs
// in request order. Either every job is inserted or none is.
func (e *Enqueuer) EnqueueBatch(ctx context.Context, reqs []Request) ([]uuid.UUID, error) {
	if len(reqs) == 0 {
		return nil, nil
	}
	jobs := make([]store.NewJob, len(reqs))
	for i, r := range reqs {
		j, err := e.newJob(r)
		if err != nil {
			return nil, err
		}
		jobs[i] = j
	}
	ids, err := e.store.EnqueueJobs(ctx, jobs)
	if err != nil {
		return nil, fmt.Errorf("enqueue: %w", err)
	}
	for _, j := range jobs {
		jobsEnqueued.WithLabelValues(j.Type).Inc()
	}
	return ids, nil
}

func (e *Enqueuer) newJob(r Request) (store.NewJob, error) {
	if r.Type == "" {
		return store.NewJob{}, fmt.Errorf("%w: empty type", ErrInvalidJob)
	}
	maxAttempts := r.MaxAttempts
	if maxAttempts == 0 && !r.maxAttemptsSet {
		maxAttempts = e.defaultMaxAttempts
	}
	if maxAttempts <= 0 {
		return store.NewJob{}, fmt.Errorf("%w: max attempts %d", ErrInvalidJob, maxAttempts)
	}
	payload, err := encodePayload(r.Payload)
	if err != nil {
		return store.NewJob{}, fmt.Errorf("%w: %s payload: %v", ErrInvalidJob, r.Type, err)
	}
	return store.NewJob{Type: r.Type, Payload: payload, MaxAttempts: maxAttempts}, nil
}

func encodePayload(p any) (json.RawMessage, error) {
	switch v := p.(type) {
	case nil:
		return json.RawMessage("{}"), nil
	case json.RawMessage:
		if !json.Valid(v) {
			return nil, errors.New("not valid JSON")
		}
		return v, nil
	default:
		return json.Marshal(v)
	}
}
