package coldmail_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scarson/leadpilot/internal/coldmail"
	"github.com/scarson/leadpilot/internal/queue"
	"github.com/scarson/leadpilot/internal/store"
	"github.com/scarson/leadpilot/internal/testutil"
)

type stubCompleter struct {
	mu      sync.Mutex
	prompts []string
	err     error
}

func (s *stubCompleter) Complete(_ context.Context, prompt string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, prompt)
	if s.err != nil {
		return "", s.err
	}
	return "Subject: hello\n\nmail body", nil
}

func TestPayloadValidate(t *testing.T) {
	t.Parallel()
	ok := coldmail.Payload{LeadName: "Ada", LeadCompany: "Engines Ltd", MyProduct: "Looms"}
	require.NoError(t, ok.Validate())

	bad := coldmail.Payload{LeadName: "Ada"}
	err := bad.Validate()
	require.ErrorIs(t, err, coldmail.ErrInvalidPayload)
	assert.Contains(t, err.Error(), "LeadCompany required")
	assert.Contains(t, err.Error(), "MyProduct required")
}

func TestPrompt_IncludesInputs(t *testing.T) {
	t.Parallel()
	p := coldmail.Payload{LeadName: "Ada", LeadCompany: "Engines Ltd", MyProduct: "Looms"}.Prompt()
	assert.Contains(t, p, "Ada")
	assert.Contains(t, p, "Engines Ltd")
	assert.Contains(t, p, "Looms")
}

func TestGenerate_AIErrorPropagates(t *testing.T) {
	t.Parallel()
	g := coldmail.NewGenerator(&stubCompleter{err: errors.New("quota exceeded")})
	_, err := g.Generate(context.Background(), coldmail.Payload{LeadName: "a", LeadCompany: "b", MyProduct: "c"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestAutopilot_RejectsBadLeads(t *testing.T) {
	t.Parallel()
	ms := testutil.NewMemStore()
	enq := queue.NewEnqueuer(ms, 0)

	_, err := coldmail.Autopilot(context.Background(), enq, nil, coldmail.UserContext{MyProduct: "x"})
	require.ErrorIs(t, err, coldmail.ErrInvalidPayload)

	_, err = coldmail.Autopilot(context.Background(), enq,
		[]coldmail.Lead{{Name: "a", Company: "b"}, {Name: "", Company: "c"}},
		coldmail.UserContext{MyProduct: "x"})
	require.ErrorIs(t, err, coldmail.ErrInvalidPayload)
	assert.Contains(t, err.Error(), "lead 1")
	assert.Empty(t, ms.All(), "no partial batch")
}

func TestAutopilot_EndToEnd(t *testing.T) {
	t.Parallel()
	ms := testutil.NewMemStore()
	ctx := context.Background()
	leads := []coldmail.Lead{
		{Name: "Ada", Company: "Engines Ltd"},
		{Name: "Grace", Company: "Navy"},
		{Name: "Linus", Company: "Kernel Co"},
		{Name: "Barbara", Company: "CLU Inc"},
		{Name: "Ken", Company: "Bell Labs"},
	}

	ids, err := coldmail.Autopilot(ctx, queue.NewEnqueuer(ms, 0), leads, coldmail.UserContext{MyProduct: "LeadPilot"})
	require.NoError(t, err)
	require.Len(t, ids, len(leads))

	for i, id := range ids {
		j, ok := ms.Get(id)
		require.True(t, ok)
		assert.Equal(t, coldmail.JobType, j.Type)
		assert.Equal(t, store.JobPending, j.Status)
		var p coldmail.Payload
		require.NoError(t, json.Unmarshal(j.Payload, &p))
		assert.Equal(t, leads[i].Name, p.LeadName)
		assert.Equal(t, "LeadPilot", p.MyProduct)
	}

	ai := &stubCompleter{}
	reg := queue.NewRegistry()
	coldmail.NewGenerator(ai).Register(reg)
	w := queue.NewWorker(ms, reg, queue.WorkerConfig{})
	for {
		claimed, err := w.RunOnce(ctx)
		require.NoError(t, err)
		if !claimed {
			break
		}
	}

	for _, id := range ids {
		j, _ := ms.Get(id)
		assert.Equal(t, store.JobCompleted, j.Status)
		assert.Equal(t, 0, j.Attempts)
		var res coldmail.Result
		require.NoError(t, json.Unmarshal(j.Result, &res))
		assert.True(t, strings.HasPrefix(res.Email, "Subject:"))
	}
	assert.Len(t, ai.prompts, len(leads))
}

func TestHandler_InvalidPayloadFailsJob(t *testing.T) {
	t.Parallel()
	ms := testutil.NewMemStore()
	ctx := context.Background()
	id, err := queue.NewEnqueuer(ms, 0).Enqueue(ctx, coldmail.JobType, map[string]string{"leadName": "Ada"})
	require.NoError(t, err)

	ai := &stubCompleter{}
	reg := queue.NewRegistry()
	coldmail.NewGenerator(ai).Register(reg)
	_, err = queue.NewWorker(ms, reg, queue.WorkerConfig{}).RunOnce(ctx)
	require.NoError(t, err)

	j, _ := ms.Get(id)
	assert.Equal(t, store.JobFailed, j.Status)
	require.NotNil(t, j.LastError)
	assert.Contains(t, *j.LastError, "invalid cold mail payload")
	assert.Empty(t, ai.prompts, "AI not called for invalid input")
}
