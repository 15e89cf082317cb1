// ABOUTME: Bearer-token middleware for every huma operation under /api.
// ABOUTME: Verifies the HS256 access token and injects the user id and email into the context.
package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/scarson/leadpilot/internal/auth"
)

// requireBearer rejects operations without a valid "Authorization: Bearer"
// token. The OpenAPI document and docs page are not operations and stay public.
func (srv *Server) requireBearer(api huma.API) func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		raw, ok := strings.CutPrefix(ctx.Header("Authorization"), "Bearer ")
		raw = strings.TrimSpace(raw)
		if !ok || raw == "" {
			unauthorized(api, ctx)
			return
		}
		claims, err := auth.ParseAccessToken(raw, srv.jwtSecret)
		if err != nil {
			slog.DebugContext(ctx.Context(), "bearer token rejected", "error", err)
			unauthorized(api, ctx)
			return
		}
		ctx = huma.WithValue(ctx, ctxUserID, claims.UserID)
		ctx = huma.WithValue(ctx, ctxEmail, claims.Email)
		next(ctx)
	}
}

func unauthorized(api huma.API, ctx huma.Context) {
	ctx.SetHeader("WWW-Authenticate", `Bearer realm="leadpilot"`)
	_ = huma.WriteErr(api, ctx, http.StatusUnauthorized, "unauthorized")
}
