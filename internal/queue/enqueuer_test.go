package queue_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scarson/leadpilot/internal/queue"
	"github.com/scarson/leadpilot/internal/store"
	"github.com/scarson/leadpilot/internal/testutil"
)

func TestEnqueue_DefaultsAndOverrides(t *testing.T) {
	t.Parallel()
	ms := testutil.NewMemStore()
	enq := queue.NewEnqueuer(ms, 0)
	ctx := context.Background()

	id, err := enq.Enqueue(ctx, "generate_cold_mail", map[string]string{"leadName": "Ada"})
	require.NoError(t, err)
	j, ok := ms.Get(id)
	require.True(t, ok)
	assert.Equal(t, store.JobPending, j.Status)
	assert.Equal(t, 0, j.Attempts)
	assert.Equal(t, queue.DefaultMaxAttempts, j.MaxAttempts)
	assert.JSONEq(t, `{"leadName":"Ada"}`, string(j.Payload))

	id, err = enq.Enqueue(ctx, "generate_cold_mail", nil, queue.WithMaxAttempts(7))
	require.NoError(t, err)
	j, _ = ms.Get(id)
	assert.Equal(t, 7, j.MaxAttempts)
	assert.JSONEq(t, `{}`, string(j.Payload))

	enq = queue.NewEnqueuer(ms, 5)
	id, err = enq.Enqueue(ctx, "x", json.RawMessage(`[1,2]`))
	require.NoError(t, err)
	j, _ = ms.Get(id)
	assert.Equal(t, 5, j.MaxAttempts)
	assert.JSONEq(t, `[1,2]`, string(j.Payload))
}

func TestEnqueue_Invalid(t *testing.T) {
	t.Parallel()
	ms := testutil.NewMemStore()
	enq := queue.NewEnqueuer(ms, 0)
	ctx := context.Background()

	_, err := enq.Enqueue(ctx, "", nil)
	assert.ErrorIs(t, err, queue.ErrInvalidJob)
	_, err = enq.Enqueue(ctx, "x", nil, queue.WithMaxAttempts(-1))
	assert.ErrorIs(t, err, queue.ErrInvalidJob)
	_, err = enq.Enqueue(ctx, "x", nil, queue.WithMaxAttempts(0))
	assert.ErrorIs(t, err, queue.ErrInvalidJob, "explicit zero is not the default")
	_, err = enq.EnqueueBatch(ctx, []queue.Request{{Type: "x", MaxAttempts: -2}})
	assert.ErrorIs(t, err, queue.ErrInvalidJob)
	_, err = enq.Enqueue(ctx, "x", json.RawMessage(`{nope`))
	assert.ErrorIs(t, err, queue.ErrInvalidJob)
	_, err = enq.Enqueue(ctx, "x", make(chan int))
	assert.ErrorIs(t, err, queue.ErrInvalidJob)

	assert.Empty(t, ms.All(), "nothing inserted for invalid requests")
}

func TestEnqueueBatch_AllOrNothing(t *testing.T) {
	t.Parallel()
	ms := testutil.NewMemStore()
	enq := queue.NewEnqueuer(ms, 0)
	ctx := context.Background()

	_, err := enq.EnqueueBatch(ctx, []queue.Request{{Type: "a"}, {Type: ""}})
	require.ErrorIs(t, err, queue.ErrInvalidJob)
	assert.Empty(t, ms.All())

	ids, err := enq.EnqueueBatch(ctx, []queue.Request{{Type: "a"}, {Type: "b", MaxAttempts: 1}})
	require.NoError(t, err)
	require.Len(t, ids, 2)
	b, _ := ms.Get(ids[1])
	assert.Equal(t, "b", b.Type)
	assert.Equal(t, 1, b.MaxAttempts)

	ids, err = enq.EnqueueBatch(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestEnqueue_StoreErrorIsReturned(t *testing.T) {
	t.Parallel()
	ms := testutil.NewMemStore()
	ms.EnqueueErr = errors.New("connection refused")

	_, err := queue.NewEnqueuer(ms, 0).Enqueue(context.Background(), "x", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.NotErrorIs(t, err, queue.ErrInvalidJob)
}

func TestRegistry(t *testing.T) {
	t.Parallel()
	r := queue.NewRegistry()
	assert.Nil(t, r.Lookup("x"))

	type in struct{ N int }
	type out struct{ Double int }
	r.Register("double", queue.JSONHandler(func(_ context.Context, p in) (out, error) {
		return out{Double: p.N * 2}, nil
	}))
	r.Register("alpha", func(context.Context, json.RawMessage) (json.RawMessage, error) { return nil, nil })
	assert.Equal(t, []string{"alpha", "double"}, r.Types())

	res, err := r.Lookup("double")(context.Background(), json.RawMessage(`{"N":21}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"Double":42}`, string(res))

	_, err = r.Lookup("double")(context.Background(), json.RawMessage(`"nope"`))
	assert.ErrorContains(t, err, "decode payload")
}
