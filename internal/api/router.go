package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/alecgard/copilot-stats/internal/metrics"
	"github.com/alecgard/copilot-stats/internal/tool"
	"github.com/alecgard/copilot-stats/internal/ui"
)

// RouterDeps holds all dependencies for the API router.
type RouterDeps struct {
	Tools          *tool.Registry
	Metrics        *metrics.Metrics
	AllowedOrigins []string
	// Ready reports whether the host log sink is initialized. Optional.
	Ready func() bool
}

// NewRouter builds the chi router with all routes and middleware.
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chimw.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(slogRequestLogger)
	r.Use(secureHeaders)
	r.Use(corsMiddleware(deps.AllowedOrigins))
	if deps.Metrics != nil {
		r.Use(metricsMiddleware(deps.Metrics))
	}

	// Health check.
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		body := map[string]string{"status": "ok"}
		if deps.Ready != nil {
			if deps.Ready() {
				body["host_sink"] = "ready"
			} else {
				body["host_sink"] = "initializing"
			}
		}
		writeJSON(w, http.StatusOK, body)
	})

	// Dashboard.
	r.Method(http.MethodGet, "/", ui.Handler())

	// Well-known manifest.
	r.Get("/.well-known/copilot-stats.json", WellKnownHandler)

	if deps.Tools != nil {
		tools := newToolsHandler(deps.Tools)
		r.Get("/api/v1/tools", tools.ListTools)
		r.Get("/api/v1/tools/{name}", tools.ExecuteTool)
		r.Post("/api/v1/tools/{name}", tools.ExecuteTool)
	}

	if deps.Metrics != nil {
		r.Get("/api/v1/metrics", deps.Metrics.Handler())
		r.Method(http.MethodGet, "/metrics", deps.Metrics.PrometheusHandler())
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})

	return r
}
