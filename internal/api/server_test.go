package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/docmill/docmill/internal/config"
	"github.com/docmill/docmill/internal/convert"
	"github.com/docmill/docmill/internal/jobs"
	"github.com/docmill/docmill/internal/metrics"
	"github.com/docmill/docmill/internal/parser"
	"github.com/docmill/docmill/internal/storage"
)

type mockBackend struct {
	parseFn func(ctx context.Context, dir string, files []convert.File, params parser.Params) ([]parser.Result, error)
	readyFn func(ctx context.Context) bool
}

func (m *mockBackend) Parse(ctx context.Context, dir string, files []convert.File, params parser.Params) ([]parser.Result, error) {
	return m.parseFn(ctx, dir, files, params)
}

func (m *mockBackend) Ready(ctx context.Context) bool {
	if m.readyFn != nil {
		return m.readyFn(ctx)
	}
	return true
}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, string, any) {}

func okBackend(t *testing.T) *mockBackend {
	t.Helper()
	return &mockBackend{
		parseFn: func(_ context.Context, dir string, files []convert.File, _ parser.Params) ([]parser.Result, error) {
			results := make([]parser.Result, 0, len(files))
			for _, f := range files {
				stem := convert.Stem(f.Name)
				res := parser.Result{
					Filename:        stem,
					MarkdownPath:    filepath.Join(dir, stem+".md"),
					ContentListPath: filepath.Join(dir, stem+"_content_list.json"),
					MiddlePath:      filepath.Join(dir, stem+"_middle.json"),
				}
				for path, data := range map[string]string{
					res.MarkdownPath:    "# " + stem,
					res.ContentListPath: "[]",
					res.MiddlePath:      "{}",
				} {
					if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
						t.Fatalf("writing artifact: %v", err)
					}
				}
				results = append(results, res)
			}
			return results, nil
		},
	}
}

func newTestHandler(t *testing.T, backend parser.Backend, mutate func(*config.Config)) http.Handler {
	t.Helper()

	cfg := config.Config{
		Parse: config.ParseConfig{
			MaxFileBytes:   1 << 20,
			MaxFiles:       3,
			MaxPages:       50,
			DefaultLang:    "en",
			DefaultBackend: "mock",
		},
		Jobs: config.JobsConfig{MaxConcurrent: 5},
	}
	if mutate != nil {
		mutate(&cfg)
	}

	mgr, err := storage.NewManager(t.TempDir(), 24, 60)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	reg := parser.NewRegistry()
	reg.Register("mock", backend)

	orch := jobs.NewOrchestrator(jobs.NewStore(), reg, mgr, noopNotifier{}, cfg.Jobs.MaxConcurrent, 24)
	return NewHandler(Deps{
		Config:       cfg,
		Orchestrator: orch,
		Registry:     reg,
		Metrics:      metrics.NewRecorder(0),
	})
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for i := 0; i < 4; i++ {
		img.Set(i, i, color.RGBA{R: 255, A: 255})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encoding png: %v", err)
	}
	return buf.Bytes()
}

// multipartBody builds a parse request with the given files and form
// fields.
func multipartBody(t *testing.T, files map[string][]byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, data := range files {
		fw, err := mw.CreateFormFile("files", name)
		if err != nil {
			t.Fatalf("creating form file: %v", err)
		}
		fw.Write(data)
	}
	for k, v := range fields {
		mw.WriteField(k, v)
	}
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func postParse(t *testing.T, h http.Handler, files map[string][]byte, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartBody(t, files, fields)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/parse", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &m); err != nil {
		t.Fatalf("decoding response %q: %v", rr.Body.String(), err)
	}
	return m
}

func TestParseSync(t *testing.T) {
	h := newTestHandler(t, okBackend(t), nil)

	rr := postParse(t, h, map[string][]byte{"scan.png": pngBytes(t)}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}

	body := decodeBody(t, rr)
	outputs, ok := body["outputs"].([]any)
	if !ok || len(outputs) != 1 {
		t.Fatalf("outputs = %v", body["outputs"])
	}
	if errs := body["errors"].([]any); len(errs) != 0 {
		t.Errorf("errors = %v", errs)
	}
	if body["request_id"] == "" {
		t.Error("request_id missing")
	}
}

func TestParseAsyncLifecycle(t *testing.T) {
	h := newTestHandler(t, okBackend(t), nil)

	rr := postParse(t, h, map[string][]byte{"scan.png": pngBytes(t)}, map[string]string{"async_mode": "true"})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}

	body := decodeBody(t, rr)
	jobID, _ := body["job_id"].(string)
	if jobID == "" {
		t.Fatalf("job_id missing: %v", body)
	}
	if body["status"] != string(jobs.StatusPending) {
		t.Errorf("status = %v, want PENDING", body["status"])
	}
	wantURL := "/api/v1/jobs/" + jobID
	if body["status_url"] != wantURL {
		t.Errorf("status_url = %v, want %s", body["status_url"], wantURL)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		req := httptest.NewRequest(http.MethodGet, wantURL, nil)
		poll := httptest.NewRecorder()
		h.ServeHTTP(poll, req)
		if poll.Code != http.StatusOK {
			t.Fatalf("poll status = %d", poll.Code)
		}
		job := decodeBody(t, poll)
		if job["status"] == string(jobs.StatusSuccess) {
			if job["completed_at"] == nil {
				t.Error("terminal job missing completed_at")
			}
			return
		}
		if job["status"] == string(jobs.StatusFailed) {
			t.Fatalf("job failed: %v", job["errors"])
		}
		if time.Now().After(deadline) {
			t.Fatalf("job stuck in %v", job["status"])
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestParseNoFiles(t *testing.T) {
	h := newTestHandler(t, okBackend(t), nil)
	rr := postParse(t, h, nil, map[string]string{"lang": "en"})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
}

func TestParseTooManyFiles(t *testing.T) {
	h := newTestHandler(t, okBackend(t), func(c *config.Config) { c.Parse.MaxFiles = 1 })
	files := map[string][]byte{
		"a.png": pngBytes(t),
		"b.png": pngBytes(t),
	}
	rr := postParse(t, h, files, nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
}

func TestParseFileTooLarge(t *testing.T) {
	h := newTestHandler(t, okBackend(t), func(c *config.Config) { c.Parse.MaxFileBytes = 10 })
	rr := postParse(t, h, map[string][]byte{"scan.png": pngBytes(t)}, nil)
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", rr.Code)
	}
}

func TestParseUnsupportedType(t *testing.T) {
	h := newTestHandler(t, okBackend(t), nil)
	rr := postParse(t, h, map[string][]byte{"notes.txt": []byte("hello")}, nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
}

func TestParseUnknownBackend(t *testing.T) {
	h := newTestHandler(t, okBackend(t), nil)
	rr := postParse(t, h, map[string][]byte{"scan.png": pngBytes(t)}, map[string]string{"backend": "nope"})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
	if detail := decodeBody(t, rr)["detail"].(string); detail == "" {
		t.Error("detail missing")
	}
}

func TestParseBadPageRange(t *testing.T) {
	h := newTestHandler(t, okBackend(t), nil)

	cases := map[string]map[string]string{
		"negative start":     {"start_page": "-1"},
		"end before start":   {"start_page": "5", "end_page": "2"},
		"range beyond limit": {"start_page": "0", "end_page": "99"},
		"not an integer":     {"start_page": "abc"},
	}
	for name, fields := range cases {
		rr := postParse(t, h, map[string][]byte{"scan.png": pngBytes(t)}, fields)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", name, rr.Code)
		}
	}
}

func TestParseInvalidCallbackURL(t *testing.T) {
	h := newTestHandler(t, okBackend(t), nil)
	rr := postParse(t, h, map[string][]byte{"scan.png": pngBytes(t)},
		map[string]string{"callback_url": "ftp://example.com/hook"})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
}

func TestParseAsyncCapacity(t *testing.T) {
	h := newTestHandler(t, okBackend(t), func(c *config.Config) { c.Jobs.MaxConcurrent = 0 })
	rr := postParse(t, h, map[string][]byte{"scan.png": pngBytes(t)}, map[string]string{"async_mode": "true"})
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rr.Code)
	}
}

func TestParseSyncBackendUnavailable(t *testing.T) {
	backend := &mockBackend{
		parseFn: func(context.Context, string, []convert.File, parser.Params) ([]parser.Result, error) {
			return nil, fmt.Errorf("probe: %w", parser.ErrUnavailable)
		},
	}
	h := newTestHandler(t, backend, nil)
	rr := postParse(t, h, map[string][]byte{"scan.png": pngBytes(t)}, nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rr.Code)
	}
	body := decodeBody(t, rr)
	errs := body["errors"].([]any)
	if len(errs) != 1 {
		t.Fatalf("errors = %v", errs)
	}
	if kind := errs[0].(map[string]any)["kind"]; kind != jobs.ErrKindUnavailable {
		t.Errorf("kind = %v, want unavailable", kind)
	}
}

func TestJobNotFound(t *testing.T) {
	h := newTestHandler(t, okBackend(t), nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/nope", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["detail"] == nil || body["request_id"] == nil {
		t.Errorf("body = %v, want detail and request_id", body)
	}
}

func TestHealth(t *testing.T) {
	h := newTestHandler(t, okBackend(t), nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["status"] != "ok" {
		t.Errorf("status = %v", body["status"])
	}
	ready := body["backend_ready"].(map[string]any)
	if ready["mock"] != true {
		t.Errorf("backend_ready = %v", ready)
	}
	limits := body["limits"].(map[string]any)
	if limits["max_files"].(float64) != 3 {
		t.Errorf("limits = %v", limits)
	}
}

func TestBearerAuth(t *testing.T) {
	h := newTestHandler(t, okBackend(t), func(c *config.Config) { c.Server.APIToken = "secret" })

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/x", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("without token: status = %d, want 401", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/jobs/x", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("wrong token: status = %d, want 401", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/jobs/x", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Errorf("valid token: status = %d, want 404", rr.Code)
	}

	// Health stays open for probes.
	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("health with auth enabled: status = %d, want 200", rr.Code)
	}
}

func TestRequestIDEchoed(t *testing.T) {
	h := newTestHandler(t, okBackend(t), nil)

	body, contentType := multipartBody(t, map[string][]byte{"scan.png": pngBytes(t)}, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/parse", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Request-ID", "trace-42")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if got := rr.Header().Get("X-Request-ID"); got != "trace-42" {
		t.Errorf("X-Request-ID = %q, want trace-42", got)
	}
	if decodeBody(t, rr)["request_id"] != "trace-42" {
		t.Error("request_id not attached to response body")
	}
}

func TestRequestIDGenerated(t *testing.T) {
	h := newTestHandler(t, okBackend(t), nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("no X-Request-ID generated")
	}
}
