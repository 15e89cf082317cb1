// ABOUTME: HTTP-level tests for the BFF: bearer auth, AI and CRM proxies, autopilot and job inspection.
// ABOUTME: Runs the full router against testutil.MemStore and stub provider clients.
package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scarson/leadpilot/internal/api"
	"github.com/scarson/leadpilot/internal/auth"
	"github.com/scarson/leadpilot/internal/coldmail"
	"github.com/scarson/leadpilot/internal/config"
	"github.com/scarson/leadpilot/internal/crm"
	"github.com/scarson/leadpilot/internal/queue"
	"github.com/scarson/leadpilot/internal/store"
	"github.com/scarson/leadpilot/internal/testutil"
)

const testSecret = "test-secret-32-bytes-minimum-aaaa"

type stubAI struct {
	text string
	err  error
}

func (s stubAI) Complete(context.Context, string) (string, error) { return s.text, s.err }

type stubCRM struct {
	got crm.Contact
	err error
}

func (s *stubCRM) CreateContact(_ context.Context, c crm.Contact) (*crm.ContactResult, error) {
	s.got = c
	if s.err != nil {
		return nil, s.err
	}
	return &crm.ContactResult{ID: "777"}, nil
}

type harness struct {
	ts    *httptest.Server
	ms    *testutil.MemStore
	crm   *stubCRM
	token string
}

func newHarness(t *testing.T, ai stubAI, perMinute int) *harness {
	t.Helper()
	ms := testutil.NewMemStore()
	c := &stubCRM{}
	cfg := &config.Config{ //nolint:exhaustruct // test: only fields the server reads
		AuthJWTSecret:      testSecret,
		RateLimitPerMinute: perMinute,
		RateLimitEvictTTL:  time.Minute,
		AITimeout:          time.Second,
	}
	srv := api.NewServer(cfg, api.Deps{
		Jobs:     ms,
		Enqueuer: queue.NewEnqueuer(ms, 0),
		AI:       ai,
		CRM:      c,
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	token, err := auth.IssueAccessToken([]byte(testSecret), uuid.New(), "rep@example.com", time.Hour)
	require.NoError(t, err)
	return &harness{ts: ts, ms: ms, crm: c, token: token}
}

func (h *harness) do(t *testing.T, method, path string, body any, token string) (*http.Response, []byte) {
	t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, h.ts.URL+path, rdr)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := h.ts.Client().Do(req) //nolint:gosec // G704 false positive: httptest URL
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	return resp, buf.Bytes()
}

func TestHealthz_NoDB(t *testing.T) {
	t.Parallel()
	h := newHarness(t, stubAI{}, 20)
	resp, body := h.do(t, http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.JSONEq(t, `{"status":"degraded","db":"unavailable"}`, string(body))
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
}

func TestAPI_RequiresBearer(t *testing.T) {
	t.Parallel()
	h := newHarness(t, stubAI{text: "x"}, 20)

	resp, _ := h.do(t, http.MethodPost, "/api/ai/generate", map[string]string{"prompt": "hi"}, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("WWW-Authenticate"))

	resp, _ = h.do(t, http.MethodGet, "/api/jobs", nil, "not-a-jwt")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	other, err := auth.IssueAccessToken([]byte("some-other-secret-some-other-xxx"), uuid.New(), "", time.Hour)
	require.NoError(t, err)
	resp, _ = h.do(t, http.MethodGet, "/api/jobs", nil, other)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAIGenerate(t *testing.T) {
	t.Parallel()
	h := newHarness(t, stubAI{text: "Dear Ada"}, 20)

	resp, body := h.do(t, http.MethodPost, "/api/ai/generate", map[string]string{"prompt": "write"}, h.token)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.JSONEq(t, `{"text":"Dear Ada"}`, stripSchema(t, body))
}

func TestAIGenerate_Validation(t *testing.T) {
	t.Parallel()
	h := newHarness(t, stubAI{text: "x"}, 100)

	resp, _ := h.do(t, http.MethodPost, "/api/ai/generate", map[string]string{"prompt": ""}, h.token)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	long := string(bytes.Repeat([]byte("a"), 8001))
	resp, _ = h.do(t, http.MethodPost, "/api/ai/generate", map[string]string{"prompt": long}, h.token)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestAIGenerate_ProviderError(t *testing.T) {
	t.Parallel()
	h := newHarness(t, stubAI{err: errors.New("upstream 500")}, 20)
	resp, _ := h.do(t, http.MethodPost, "/api/ai/generate", map[string]string{"prompt": "x"}, h.token)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestAIGenerate_RateLimited(t *testing.T) {
	t.Parallel()
	h := newHarness(t, stubAI{text: "x"}, 2)
	for i := 0; i < 2; i++ {
		resp, _ := h.do(t, http.MethodPost, "/api/ai/generate", map[string]string{"prompt": "x"}, h.token)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	resp, _ := h.do(t, http.MethodPost, "/api/ai/generate", map[string]string{"prompt": "x"}, h.token)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	resp, _ = h.do(t, http.MethodGet, "/api/jobs", nil, h.token)
	assert.Equal(t, http.StatusOK, resp.StatusCode, "job routes are not rate limited")
}

func TestCRMCreateContact(t *testing.T) {
	t.Parallel()
	h := newHarness(t, stubAI{}, 20)

	resp, body := h.do(t, http.MethodPost, "/api/crm/hubspot/contact", map[string]string{
		"email": "ada@example.com", "firstname": "Ada", "company": "Engines",
	}, h.token)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	assert.JSONEq(t, `{"id":"777"}`, stripSchema(t, body))
	assert.Equal(t, "ada@example.com", h.crm.got.Email)
	assert.Equal(t, "Engines", h.crm.got.Company)

	resp, _ = h.do(t, http.MethodPost, "/api/crm/hubspot/contact", map[string]string{"email": "nope"}, h.token)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	h.crm.err = &crm.ExistsError{ExistingID: "1"}
	resp, _ = h.do(t, http.MethodPost, "/api/crm/hubspot/contact", map[string]string{"email": "ada@example.com"}, h.token)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAutopilotAndInspection(t *testing.T) {
	t.Parallel()
	h := newHarness(t, stubAI{}, 20)

	resp, body := h.do(t, http.MethodPost, "/api/jobs/autopilot", map[string]any{
		"leads": []map[string]string{
			{"name": "Ada", "company": "Engines"},
			{"name": "Grace", "company": "Navy"},
		},
		"myProduct": "LeadPilot",
	}, h.token)
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(body))

	var out struct {
		JobIDs []string `json:"job_ids"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	require.Len(t, out.JobIDs, 2)

	resp, body = h.do(t, http.MethodGet, "/api/jobs/"+out.JobIDs[0], nil, h.token)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var item api.JobItem
	require.NoError(t, json.Unmarshal(body, &item))
	assert.Equal(t, coldmail.JobType, item.Type)
	assert.Equal(t, string(store.JobPending), item.Status)
	assert.JSONEq(t, `{"leadName":"Ada","leadCompany":"Engines","myProduct":"LeadPilot"}`, string(item.Payload))

	resp, body = h.do(t, http.MethodGet, "/api/jobs?status=pending&limit=1", nil, h.token)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var page struct {
		Items      []api.JobItem `json:"items"`
		NextCursor string        `json:"next_cursor"`
	}
	require.NoError(t, json.Unmarshal(body, &page))
	require.Len(t, page.Items, 1)
	assert.Equal(t, out.JobIDs[1], page.Items[0].ID, "newest first")
	require.NotEmpty(t, page.NextCursor)

	resp, body = h.do(t, http.MethodGet, "/api/jobs?limit=1&cursor="+page.NextCursor, nil, h.token)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	require.NoError(t, json.Unmarshal(body, &page))
	require.Len(t, page.Items, 1)
	assert.Equal(t, out.JobIDs[0], page.Items[0].ID)

	resp, _ = h.do(t, http.MethodGet, "/api/jobs/"+uuid.NewString(), nil, h.token)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = h.do(t, http.MethodGet, "/api/jobs?cursor=!!!", nil, h.token)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestAutopilot_RejectsEmptyLeads(t *testing.T) {
	t.Parallel()
	h := newHarness(t, stubAI{}, 20)
	resp, _ := h.do(t, http.MethodPost, "/api/jobs/autopilot", map[string]any{
		"leads": []map[string]string{}, "myProduct": "x",
	}, h.token)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Empty(t, h.ms.All())
}

// stripSchema drops the "$schema" link huma adds to response bodies.
func stripSchema(t *testing.T, body []byte) string {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(body, &m))
	delete(m, "$schema")
	b, err := json.Marshal(m)
	require.NoError(t, err)
	return string(b)
}
