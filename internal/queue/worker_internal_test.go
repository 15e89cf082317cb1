package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSafeCall_PanicLoggedWithJobAttributes(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil)).
		With("worker_id", "w-1", "job_id", "j-1", "type", "boom")

	res, err := safeCall(context.Background(), log, func(context.Context, json.RawMessage) (json.RawMessage, error) {
		panic("kaboom")
	}, json.RawMessage(`{}`))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "handler panic: kaboom")
	assert.Nil(t, res)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "job handler panic", rec["msg"])
	assert.Equal(t, "w-1", rec["worker_id"])
	assert.Equal(t, "j-1", rec["job_id"])
	assert.Equal(t, "boom", rec["type"])
	assert.Equal(t, "kaboom", rec["panic"])
}
