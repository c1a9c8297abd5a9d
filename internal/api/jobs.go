package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/docmill/docmill/internal/jobs"
)

func handleJobStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		job, err := deps.Orchestrator.GetStatus(id)
		if errors.Is(err, jobs.ErrNotFound) {
			httpError(w, r, http.StatusNotFound, "job %s not found", id)
			return
		}
		if err != nil {
			httpError(w, r, http.StatusInternalServerError, "fetching job: %v", err)
			return
		}

		writeJSON(w, http.StatusOK, job)
	}
}
