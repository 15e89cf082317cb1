// ABOUTME: POST /api/ai/generate: server-side proxy to the AI completion provider.
// ABOUTME: Keeps the provider key off the client; prompt length is bounded by schema.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/scarson/leadpilot/internal/ai"
)

type generateInput struct {
	Body struct {
		Prompt string `json:"prompt" minLength:"1" maxLength:"8000" doc:"Prompt text sent to the model"`
	}
}

type generateOutput struct {
	Body struct {
		Text string `json:"text" doc:"Generated text"`
	}
}

func registerAIRoutes(api huma.API, srv *Server) {
	huma.Register(api, huma.Operation{
		OperationID: "ai-generate",
		Method:      http.MethodPost,
		Path:        "/ai/generate",
		Summary:     "Generate text with the AI provider",
		Tags:        []string{"ai"},
	}, srv.generateHandler)
}

func (srv *Server) generateHandler(ctx context.Context, input *generateInput) (*generateOutput, error) {
	if srv.deps.AI == nil {
		return nil, huma.Error503ServiceUnavailable("ai provider not configured")
	}
	if srv.aiTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, srv.aiTimeout)
		defer cancel()
	}

	text, err := srv.deps.AI.Complete(ctx, input.Body.Prompt)
	switch {
	case errors.Is(err, ai.ErrNotConfigured):
		return nil, huma.Error503ServiceUnavailable("ai provider not configured")
	case errors.Is(err, context.DeadlineExceeded):
		return nil, huma.Error504GatewayTimeout("ai provider timed out")
	case err != nil:
		slog.ErrorContext(ctx, "ai generate", "user_id", userIDFrom(ctx), "error", err)
		return nil, huma.Error502BadGateway("ai provider error")
	}

	out := &generateOutput{}
	out.Body.Text = text
	return out, nil
}
