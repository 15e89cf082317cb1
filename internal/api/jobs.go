// ABOUTME: Job routes: autopilot enqueue (202, scheduling only) and read-only job inspection.
// ABOUTME: List uses an opaque keyset cursor over (created_at, id), newest first.
package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/scarson/leadpilot/internal/coldmail"
	"github.com/scarson/leadpilot/internal/queue"
	"github.com/scarson/leadpilot/internal/store"
)

func registerJobRoutes(api huma.API, srv *Server) {
	huma.Register(api, huma.Operation{
		OperationID:   "jobs-autopilot",
		Method:        http.MethodPost,
		Path:          "/jobs/autopilot",
		Summary:       "Queue one cold-mail generation job per lead",
		Description:   "Confirms scheduling only. Poll GET /jobs/{id} for results.",
		Tags:          []string{"jobs"},
		DefaultStatus: http.StatusAccepted,
	}, srv.autopilotHandler)

	huma.Register(api, huma.Operation{
		OperationID: "get-job",
		Method:      http.MethodGet,
		Path:        "/jobs/{id}",
		Summary:     "Get a job",
		Tags:        []string{"jobs"},
	}, srv.getJobHandler)

	huma.Register(api, huma.Operation{
		OperationID: "list-jobs",
		Method:      http.MethodGet,
		Path:        "/jobs",
		Summary:     "List jobs, newest first",
		Tags:        []string{"jobs"},
	}, srv.listJobsHandler)
}

// ── Response types ────────────────────────────────────────────────────────────

// JobItem is the API representation of a job row.
type JobItem struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Status      string          `json:"status"`
	Payload     json.RawMessage `json:"payload"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	Result      json.RawMessage `json:"result,omitempty"`
	LastError   *string         `json:"last_error,omitempty"`
	CreatedAt   string          `json:"created_at"` // RFC3339
	UpdatedAt   string          `json:"updated_at"` // RFC3339
	FinishedAt  *string         `json:"finished_at,omitempty"`
}

func jobToItem(j store.Job) JobItem {
	item := JobItem{
		ID:          j.ID.String(),
		Type:        j.Type,
		Status:      string(j.Status),
		Payload:     j.Payload,
		Attempts:    j.Attempts,
		MaxAttempts: j.MaxAttempts,
		Result:      j.Result,
		LastError:   j.LastError,
		CreatedAt:   j.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:   j.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if j.FinishedAt != nil {
		s := j.FinishedAt.UTC().Format(time.RFC3339)
		item.FinishedAt = &s
	}
	return item
}

// ── POST /jobs/autopilot ─────────────────────────────────────────────────────

type autopilotLead struct {
	Name    string `json:"name"    minLength:"1" maxLength:"200"`
	Company string `json:"company" minLength:"1" maxLength:"200"`
}

type autopilotInput struct {
	Body struct {
		Leads     []autopilotLead `json:"leads"     minItems:"1" maxItems:"100"`
		MyProduct string          `json:"myProduct" minLength:"1" maxLength:"2000"`
	}
}

type autopilotOutput struct {
	Body struct {
		JobIDs []string `json:"job_ids"`
	}
}

func (srv *Server) autopilotHandler(ctx context.Context, input *autopilotInput) (*autopilotOutput, error) {
	leads := make([]coldmail.Lead, len(input.Body.Leads))
	for i, l := range input.Body.Leads {
		leads[i] = coldmail.Lead{Name: l.Name, Company: l.Company}
	}
	ids, err := coldmail.Autopilot(ctx, srv.deps.Enqueuer, leads, coldmail.UserContext{MyProduct: input.Body.MyProduct})
	if err != nil {
		if errors.Is(err, coldmail.ErrInvalidPayload) || errors.Is(err, queue.ErrInvalidJob) {
			return nil, huma.Error422UnprocessableEntity(err.Error())
		}
		slog.ErrorContext(ctx, "autopilot enqueue", "user_id", userIDFrom(ctx), "error", err)
		return nil, huma.Error500InternalServerError("internal error")
	}
	slog.InfoContext(ctx, "autopilot scheduled", "user_id", userIDFrom(ctx), "jobs", len(ids))

	out := &autopilotOutput{}
	out.Body.JobIDs = make([]string, len(ids))
	for i, id := range ids {
		out.Body.JobIDs[i] = id.String()
	}
	return out, nil
}

// ── GET /jobs/{id} ───────────────────────────────────────────────────────────

type getJobInput struct {
	ID string `path:"id" format:"uuid"`
}

type getJobOutput struct {
	Body JobItem
}

func (srv *Server) getJobHandler(ctx context.Context, input *getJobInput) (*getJobOutput, error) {
	id, err := uuid.Parse(input.ID)
	if err != nil {
		return nil, huma.Error422UnprocessableEntity("invalid job id")
	}
	j, err := srv.deps.Jobs.GetJob(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, huma.Error404NotFound("job not found")
		}
		slog.ErrorContext(ctx, "get job", "job_id", id, "error", err)
		return nil, huma.Error500InternalServerError("internal error")
	}
	return &getJobOutput{Body: jobToItem(*j)}, nil
}

// ── GET /jobs ────────────────────────────────────────────────────────────────

type listJobsInput struct {
	Status string `query:"status" enum:"pending,processing,completed,failed" doc:"Filter by status"`
	Type   string `query:"type"   maxLength:"100" doc:"Filter by job type"`
	Limit  int    `query:"limit"  minimum:"1" maximum:"500" default:"50"`
	Cursor string `query:"cursor" doc:"Opaque cursor from a previous page's next_cursor"`
}

type listJobsOutput struct {
	Body struct {
		Items      []JobItem `json:"items"`
		NextCursor string    `json:"next_cursor,omitempty"`
	}
}

// jobCursor is the JSON encoded inside the opaque cursor string.
type jobCursor struct {
	CreatedAt string `json:"t"` // RFC3339Nano
	ID        string `json:"id"`
}

func encodeJobCursor(last store.Job) string {
	b, _ := json.Marshal(jobCursor{
		CreatedAt: last.CreatedAt.UTC().Format(time.RFC3339Nano),
		ID:        last.ID.String(),
	})
	return base64.RawURLEncoding.EncodeToString(b)
}

func decodeJobCursor(s string) (time.Time, uuid.UUID, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return time.Time{}, uuid.Nil, fmt.Errorf("invalid cursor (base64): %w", err)
	}
	var c jobCursor
	if err := json.Unmarshal(b, &c); err != nil {
		return time.Time{}, uuid.Nil, fmt.Errorf("invalid cursor (json): %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, c.CreatedAt)
	if err != nil {
		return time.Time{}, uuid.Nil, fmt.Errorf("invalid cursor (time): %w", err)
	}
	id, err := uuid.Parse(c.ID)
	if err != nil {
		return time.Time{}, uuid.Nil, fmt.Errorf("invalid cursor (id): %w", err)
	}
	return t, id, nil
}

func (srv *Server) listJobsHandler(ctx context.Context, input *listJobsInput) (*listJobsOutput, error) {
	f := store.JobFilter{
		Status: store.JobStatus(input.Status),
		Type:   input.Type,
		Limit:  input.Limit,
	}
	if input.Cursor != "" {
		t, id, err := decodeJobCursor(input.Cursor)
		if err != nil {
			return nil, huma.Error422UnprocessableEntity(err.Error())
		}
		f.BeforeCreatedAt, f.BeforeID = t, id
	}

	jobs, err := srv.deps.Jobs.ListJobs(ctx, f)
	if err != nil {
		slog.ErrorContext(ctx, "list jobs", "error", err)
		return nil, huma.Error500InternalServerError("internal error")
	}

	out := &listJobsOutput{}
	out.Body.Items = make([]JobItem, len(jobs)) // never null in JSON
	for i, j := range jobs {
		out.Body.Items[i] = jobToItem(j)
	}
	if f.Limit > 0 && len(jobs) == f.Limit {
		out.Body.NextCursor = encodeJobCursor(jobs[len(jobs)-1])
	}
	return out, nil
}
