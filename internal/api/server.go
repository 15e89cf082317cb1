// ABOUTME: HTTP server struct, constructor, and handler wiring for the LeadPilot BFF.
// ABOUTME: Holds the third-party clients and the job store the handlers call into.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/scarson/leadpilot/internal/ai"
	"github.com/scarson/leadpilot/internal/coldmail"
	"github.com/scarson/leadpilot/internal/config"
	"github.com/scarson/leadpilot/internal/crm"
	"github.com/scarson/leadpilot/internal/store"
)

// JobReader is the read side of the job store used by the inspection routes.
type JobReader interface {
	GetJob(ctx context.Context, id uuid.UUID) (*store.Job, error)
	ListJobs(ctx context.Context, f store.JobFilter) ([]store.Job, error)
}

// ContactCreator creates CRM contacts.
type ContactCreator interface {
	CreateContact(ctx context.Context, c crm.Contact) (*crm.ContactResult, error)
}

// Deps are the collaborators a Server needs. DB may be nil in tests; /healthz
// then reports degraded.
type Deps struct {
	DB       *pgxpool.Pool
	Jobs     JobReader
	Enqueuer coldmail.BatchEnqueuer
	AI       ai.Completer
	CRM      ContactCreator
}

// Server holds the dependencies for the HTTP layer.
type Server struct {
	deps        Deps
	jwtSecret   []byte
	aiTimeout   time.Duration
	rateLimiter *ipRateLimiter
}

// NewServer creates a Server.
func NewServer(cfg *config.Config, deps Deps) *Server {
	evictTTL := cfg.RateLimitEvictTTL
	if evictTTL == 0 {
		evictTTL = 15 * time.Minute
	}
	perMinute := cfg.RateLimitPerMinute
	if perMinute <= 0 {
		perMinute = 20
	}
	return &Server{
		deps:        deps,
		jwtSecret:   []byte(cfg.AuthJWTSecret),
		aiTimeout:   cfg.AITimeout,
		rateLimiter: newIPRateLimiter(rate.Limit(float64(perMinute)/60), perMinute, evictTTL),
	}
}

// Handler builds and returns the http.Handler.
func (srv *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Security headers first so they appear on every response including errors.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
			next.ServeHTTP(w, r)
		})
	})

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	// 1 MB global body limit.
	r.Use(middleware.RequestSize(1 << 20))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", healthzHandler(srv.deps.DB))
	r.Handle("/metrics", promhttp.Handler())

	// ── /api sub-router with huma (OpenAPI 3.1) ──────────────────────────────
	apiRouter := chi.NewRouter()
	// Provider-backed routes cost money per call; throttle them per client IP.
	apiRouter.Use(srv.rateLimitPrefixes("/api/ai/", "/api/crm/"))

	humaConfig := huma.DefaultConfig("LeadPilot API", "0.1.0")
	humaConfig.Info.Description = "Backend-for-frontend for AI generation, CRM sync and the job queue"
	humaConfig.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"bearer": {Type: "http", Scheme: "bearer", BearerFormat: "JWT"},
	}
	humaConfig.Security = []map[string][]string{{"bearer": {}}}
	api := humachi.New(apiRouter, humaConfig)
	api.UseMiddleware(srv.requireBearer(api))

	registerAIRoutes(api, srv)
	registerCRMRoutes(api, srv)
	registerJobRoutes(api, srv)

	r.Mount("/api", apiRouter)

	return r
}

// healthResponse is the JSON body for /healthz.
type healthResponse struct {
	Status string `json:"status"`
	DB     string `json:"db,omitempty"`
}

// healthzHandler returns 200 {"status":"ok"} when the DB is reachable,
// or 503 {"status":"degraded","db":"unavailable"} when it is not.
func healthzHandler(db *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "ok"}
		statusCode := http.StatusOK

		if db == nil {
			resp.Status = "degraded"
			resp.DB = "unavailable"
			statusCode = http.StatusServiceUnavailable
		} else if err := db.Ping(r.Context()); err != nil {
			slog.WarnContext(r.Context(), "healthz: db ping failed", "error", err)
			resp.Status = "degraded"
			resp.DB = "unavailable"
			statusCode = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			slog.ErrorContext(r.Context(), "healthz: failed to encode response", "error", err)
		}
	}
}
