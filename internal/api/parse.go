package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/docmill/docmill/internal/convert"
	"github.com/docmill/docmill/internal/jobs"
	"github.com/docmill/docmill/internal/parser"
	"github.com/docmill/docmill/internal/webhook"
)

// multipart bodies are parsed with this much memory before spilling to
// temp files.
const multipartMemory = 10 << 20

type submitResponse struct {
	JobID     string      `json:"job_id"`
	Status    jobs.Status `json:"status"`
	StatusURL string      `json:"status_url"`
	CreatedAt time.Time   `json:"created_at"`
	RequestID string      `json:"request_id"`
}

type syncResponse struct {
	Outputs   []parser.DocumentOutput `json:"outputs"`
	Errors    []jobs.JobError         `json:"errors"`
	RequestID string                  `json:"request_id"`
}

func handleParse(deps Deps) http.HandlerFunc {
	maxBody := int64(deps.Config.Parse.MaxFileBytes)*int64(deps.Config.Parse.MaxFiles) + multipartMemory

	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBody)
		defer r.Body.Close()

		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			httpError(w, r, http.StatusBadRequest, "invalid multipart form: %v", err)
			return
		}
		defer r.MultipartForm.RemoveAll()

		req, status, err := buildRequest(deps, r)
		if err != nil {
			httpError(w, r, status, "%v", err)
			return
		}

		if parseBool(r.FormValue("async_mode"), false) {
			job, err := deps.Orchestrator.Submit(r.Context(), *req)
			if errors.Is(err, jobs.ErrCapacity) {
				httpError(w, r, http.StatusServiceUnavailable, "%v", err)
				return
			}
			if err != nil {
				httpError(w, r, http.StatusInternalServerError, "submitting job: %v", err)
				return
			}
			writeJSON(w, http.StatusOK, submitResponse{
				JobID:     job.ID,
				Status:    job.Status,
				StatusURL: "/api/v1/jobs/" + job.ID,
				CreatedAt: job.CreatedAt,
				RequestID: req.RequestID,
			})
			return
		}

		outputs, jobErrs := deps.Orchestrator.ParseSync(r.Context(), *req)
		writeJSON(w, syncStatus(jobErrs), syncResponse{
			Outputs:   outputs,
			Errors:    orEmpty(jobErrs),
			RequestID: req.RequestID,
		})
	}
}

// buildRequest reads the multipart files into memory and validates the
// whole request. The returned status is meaningful only on error.
func buildRequest(deps Deps, r *http.Request) (*jobs.Request, int, error) {
	cfg := deps.Config.Parse

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		return nil, http.StatusBadRequest, errors.New("at least one file is required")
	}
	if len(headers) > cfg.MaxFiles {
		return nil, http.StatusBadRequest, fmt.Errorf("%d files exceeds the limit of %d", len(headers), cfg.MaxFiles)
	}

	files := make([]convert.File, 0, len(headers))
	for _, h := range headers {
		if h.Size > int64(cfg.MaxFileBytes) {
			return nil, http.StatusRequestEntityTooLarge,
				fmt.Errorf("%s is %d bytes, limit is %d", h.Filename, h.Size, cfg.MaxFileBytes)
		}
		if !convert.Supported(h.Filename) {
			return nil, http.StatusBadRequest, fmt.Errorf("unsupported file type: %s", h.Filename)
		}
		f, err := h.Open()
		if err != nil {
			return nil, http.StatusBadRequest, fmt.Errorf("opening %s: %v", h.Filename, err)
		}
		data, err := io.ReadAll(io.LimitReader(f, int64(cfg.MaxFileBytes)+1))
		f.Close()
		if err != nil {
			return nil, http.StatusBadRequest, fmt.Errorf("reading %s: %v", h.Filename, err)
		}
		if len(data) > cfg.MaxFileBytes {
			return nil, http.StatusRequestEntityTooLarge,
				fmt.Errorf("%s exceeds the size limit of %d bytes", h.Filename, cfg.MaxFileBytes)
		}
		files = append(files, convert.File{Name: h.Filename, Data: data})
	}

	backend := formDefault(r, "backend", cfg.DefaultBackend)
	if _, ok := deps.Registry.Get(backend); !ok {
		return nil, http.StatusBadRequest, fmt.Errorf("unknown backend %q, valid: %v", backend, deps.Registry.Names())
	}

	startPage, err := parseIntField(r, "start_page", 0)
	if err != nil {
		return nil, http.StatusBadRequest, err
	}
	endPage, err := parseIntField(r, "end_page", -1)
	if err != nil {
		return nil, http.StatusBadRequest, err
	}
	if startPage < 0 {
		return nil, http.StatusBadRequest, errors.New("start_page must not be negative")
	}
	if endPage != -1 && endPage < startPage {
		return nil, http.StatusBadRequest, errors.New("end_page must not precede start_page")
	}
	if endPage != -1 && endPage-startPage+1 > cfg.MaxPages {
		return nil, http.StatusBadRequest,
			fmt.Errorf("page range spans %d pages, limit is %d", endPage-startPage+1, cfg.MaxPages)
	}

	// For PDF inputs the requested range is checked against the actual
	// document up front, before any job exists.
	for _, f := range files {
		if convert.Ext(f.Name) != "pdf" {
			continue
		}
		count, err := parser.PageCount(f.Data)
		if err != nil {
			return nil, http.StatusBadRequest, fmt.Errorf("%s: unreadable pdf: %v", f.Name, err)
		}
		if count > cfg.MaxPages && endPage == -1 {
			return nil, http.StatusBadRequest,
				fmt.Errorf("%s has %d pages, limit is %d; narrow the page range", f.Name, count, cfg.MaxPages)
		}
		if startPage >= count {
			return nil, http.StatusBadRequest,
				fmt.Errorf("start_page %d is beyond %s (%d pages)", startPage, f.Name, count)
		}
	}

	callbackURL := r.FormValue("callback_url")
	if callbackURL != "" {
		if err := webhook.ValidateURL(callbackURL); err != nil {
			return nil, http.StatusBadRequest, err
		}
	}

	return &jobs.Request{
		Files:   files,
		Backend: backend,
		Params: parser.Params{
			Lang:          formDefault(r, "lang", cfg.DefaultLang),
			Method:        formDefault(r, "parse_method", "auto"),
			StartPage:     startPage,
			EndPage:       endPage,
			FormulaEnable: parseBool(r.FormValue("formula_enable"), true),
			TableEnable:   parseBool(r.FormValue("table_enable"), true),
			ServerURL:     formDefault(r, "server_url", cfg.VLMServerURL),
		},
		CallbackURL: callbackURL,
		RequestID:   RequestIDFromContext(r.Context()),
	}, 0, nil
}

func syncStatus(jobErrs []jobs.JobError) int {
	if len(jobErrs) == 0 {
		return http.StatusOK
	}
	switch jobErrs[0].Kind {
	case jobs.ErrKindInvalidInput:
		return http.StatusBadRequest
	case jobs.ErrKindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func orEmpty(jobErrs []jobs.JobError) []jobs.JobError {
	if jobErrs == nil {
		return []jobs.JobError{}
	}
	return jobErrs
}

func formDefault(r *http.Request, key, fallback string) string {
	if v := r.FormValue(key); v != "" {
		return v
	}
	return fallback
}

func parseIntField(r *http.Request, key string, fallback int) (int, error) {
	s := r.FormValue(key)
	if s == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", key)
	}
	return v, nil
}

func parseBool(s string, fallback bool) bool {
	if s == "" {
		return fallback
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return fallback
	}
	return v
}
