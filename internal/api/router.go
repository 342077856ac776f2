package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	mw "github.com/kiranshivaraju/handhunter/internal/api/middleware"
	"github.com/kiranshivaraju/handhunter/internal/api/response"
	"github.com/kiranshivaraju/handhunter/internal/metrics"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit
	Metrics   *metrics.Metrics

	HealthHandler  http.HandlerFunc
	MetricsHandler http.Handler

	SubmitJobHandler     http.HandlerFunc
	JobStatusHandler     http.HandlerFunc
	JobReportHandler     http.HandlerFunc
	ValidateHandsHandler http.HandlerFunc
	LatestAuditHandler   http.HandlerFunc

	CreateKeyHandler http.HandlerFunc
	ListKeysHandler  http.HandlerFunc
	RevokeKeyHandler http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(mw.Logger)
	r.Use(mw.Recovery)
	r.Use(mw.Instrument(deps.Metrics))

	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Post("/api/v1/jobs", orNotImplemented(deps.SubmitJobHandler))
		r.Get("/api/v1/jobs/{jobID}", orNotImplemented(deps.JobStatusHandler))
		r.Get("/api/v1/jobs/{jobID}/report", orNotImplemented(deps.JobReportHandler))

		r.Post("/api/v1/hands/validate", orNotImplemented(deps.ValidateHandsHandler))
		r.Get("/api/v1/audit/latest", orNotImplemented(deps.LatestAuditHandler))

		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope("admin"))

			r.Post("/api/v1/admin/keys", orNotImplemented(deps.CreateKeyHandler))
			r.Get("/api/v1/admin/keys", orNotImplemented(deps.ListKeysHandler))
			r.Delete("/api/v1/admin/keys/{keyID}", orNotImplemented(deps.RevokeKeyHandler))
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, response.CodeNotImplemented, "Endpoint not yet implemented", nil)
	}
}
