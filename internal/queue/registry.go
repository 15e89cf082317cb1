package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Handler executes one job. payload is the job's immutable payload; the
// returned JSON is stored as the job result. A non-nil error marks the attempt
// failed.
type Handler func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error)

// Registry maps job types to handlers. Safe for concurrent use; handlers may
// be registered while workers are running.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register associates h with jobType, replacing any previous handler.
func (r *Registry) Register(jobType string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[jobType] = h
}

// Lookup returns the handler for jobType, or nil.
func (r *Registry) Lookup(jobType string) Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handlers[jobType]
}

// Types returns the registered job types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// JSONHandler adapts a typed function into a Handler: the payload is decoded
// into P and the returned R is encoded as the result.
func JSONHandler[P, R any](fn func(ctx context.Context, payload P) (R, error)) Handler {
	return func(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
		var p P
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
		out, err := fn(ctx, p)
		if err != nil {
			return nil, err
		}
		b, err := json.Marshal(out)
		if err != nil {
			return nil, fmt.Errorf("encode result: %w", err)
		}
		return b, nil
	}
}
