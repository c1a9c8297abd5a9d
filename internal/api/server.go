// Package api exposes the parse service over HTTP: job submission,
// status polling, and a health probe, mounted on a chi router.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/docmill/docmill/internal/config"
	"github.com/docmill/docmill/internal/jobs"
	"github.com/docmill/docmill/internal/metrics"
	"github.com/docmill/docmill/internal/parser"
)

type Deps struct {
	Config       config.Config
	Orchestrator *jobs.Orchestrator
	Registry     *parser.Registry
	Metrics      *metrics.Recorder
}

func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(RequestLogger(deps.Metrics))
	r.Use(Recovery)

	r.Get("/health", handleHealth(deps))

	r.Route("/api/v1", func(r chi.Router) {
		if deps.Config.Server.APIToken != "" {
			r.Use(BearerAuth(deps.Config.Server.APIToken))
		}
		r.Post("/parse", handleParse(deps))
		r.Get("/jobs/{id}", handleJobStatus(deps))
	})

	return r
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}

func httpError(w http.ResponseWriter, r *http.Request, code int, format string, args ...any) {
	writeJSON(w, code, map[string]any{
		"detail":     fmt.Sprintf(format, args...),
		"request_id": RequestIDFromContext(r.Context()),
	})
}
