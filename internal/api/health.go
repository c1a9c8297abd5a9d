package api

import (
	"net/http"
	"time"
)

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ready := map[string]bool{}
		for _, name := range deps.Registry.Names() {
			if b, ok := deps.Registry.Get(name); ok {
				ready[name] = b.Ready(r.Context())
			}
		}

		var snapshot map[string]float64
		if deps.Metrics != nil {
			snapshot = deps.Metrics.Snapshot()
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"status":        "ok",
			"backend_ready": ready,
			"timestamp":     time.Now().UTC().Format(time.RFC3339),
			"limits": map[string]int{
				"max_file_bytes":      deps.Config.Parse.MaxFileBytes,
				"max_pages":           deps.Config.Parse.MaxPages,
				"max_files":           deps.Config.Parse.MaxFiles,
				"max_concurrent_jobs": deps.Config.Jobs.MaxConcurrent,
			},
			"metrics": snapshot,
		})
	}
}
