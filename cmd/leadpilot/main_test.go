package main

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scarson/leadpilot/internal/queue"
	"github.com/scarson/leadpilot/internal/store"
	"github.com/scarson/leadpilot/internal/testutil"
)

func TestRunInBackground_WaitsForInFlightJob(t *testing.T) {
	t.Parallel()
	ms := testutil.NewMemStore()
	enq := queue.NewEnqueuer(ms, 0)
	id, err := enq.Enqueue(context.Background(), "slow", nil)
	require.NoError(t, err)

	started := make(chan struct{})
	release := make(chan struct{})
	reg := queue.NewRegistry()
	reg.Register("slow", func(context.Context, json.RawMessage) (json.RawMessage, error) {
		close(started)
		<-release
		return json.RawMessage(`{"ok":true}`), nil
	})
	w := queue.NewWorker(ms, reg, queue.WorkerConfig{PollInterval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	wait := runInBackground(ctx, w)
	<-started
	cancel()

	// Handler still running: a bounded wait gives up.
	short, cancelShort := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancelShort()
	assert.ErrorIs(t, wait(short), context.DeadlineExceeded)

	close(release)
	long, cancelLong := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelLong()
	require.NoError(t, wait(long))

	// The writeback happened before wait returned.
	j, ok := ms.Get(id)
	require.True(t, ok)
	assert.Equal(t, store.JobCompleted, j.Status)
	assert.JSONEq(t, `{"ok":true}`, string(j.Result))
}

func TestRunInBackground_ReturnsOnceStartReturns(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	wait := runInBackground(ctx, queue.NewScheduler(nil, queue.SchedulerConfig{}))
	cancel()

	waitCtx, cancelWait := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelWait()
	require.NoError(t, wait(waitCtx))
}
