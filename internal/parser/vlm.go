package parser

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/docmill/docmill/internal/convert"
)

// vlmClient speaks the parse protocol of a VLM inference server:
// POST /v1/parse with base64 document bytes, JSON artifacts back.
type vlmClient struct {
	baseURL    string
	httpClient *http.Client
}

func newVLMClient(baseURL string) *vlmClient {
	return &vlmClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		// Parsing may run arbitrarily long; readiness probes carry
		// their own short timeouts.
		httpClient: &http.Client{Timeout: 0},
	}
}

type vlmParseRequest struct {
	Filename      string `json:"filename"`
	Data          string `json:"data"`
	Lang          string `json:"lang"`
	ParseMethod   string `json:"parse_method"`
	StartPage     int    `json:"start_page"`
	EndPage       int    `json:"end_page"`
	FormulaEnable bool   `json:"formula_enable"`
	TableEnable   bool   `json:"table_enable"`
}

type vlmParseResponse struct {
	Markdown    string          `json:"markdown"`
	ContentList json.RawMessage `json:"content_list"`
	MiddleJSON  json.RawMessage `json:"middle_json"`
	ModelOutput json.RawMessage `json:"model_output"`
}

func (c *vlmClient) ready(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (c *vlmClient) parse(ctx context.Context, baseURL string, f convert.File, params Params) (*vlmParseResponse, error) {
	if baseURL == "" {
		baseURL = c.baseURL
	} else {
		baseURL = strings.TrimRight(baseURL, "/")
	}
	if baseURL == "" {
		return nil, fmt.Errorf("%w: no VLM server configured", ErrUnavailable)
	}

	body, err := json.Marshal(vlmParseRequest{
		Filename:      f.Name,
		Data:          base64.StdEncoding.EncodeToString(f.Data),
		Lang:          params.Lang,
		ParseMethod:   params.Method,
		StartPage:     params.StartPage,
		EndPage:       params.EndPage,
		FormulaEnable: params.FormulaEnable,
		TableEnable:   params.TableEnable,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/parse", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusServiceUnavailable {
		return nil, fmt.Errorf("%w: server returned 503", ErrUnavailable)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("vlm server returned status %d", resp.StatusCode)
	}

	var parsed vlmParseResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return &parsed, nil
}

// writeResults persists one server response as the standard artifact set.
func writeResults(dir string, f convert.File, parsed *vlmParseResponse) (Result, error) {
	stem := convert.Stem(f.Name)

	mdPath, err := writeArtifact(dir, stem+".md", []byte(parsed.Markdown))
	if err != nil {
		return Result{}, err
	}
	contentList := parsed.ContentList
	if len(contentList) == 0 {
		contentList = json.RawMessage("[]")
	}
	clPath, err := writeArtifact(dir, stem+"_content_list.json", contentList)
	if err != nil {
		return Result{}, err
	}
	middle := parsed.MiddleJSON
	if len(middle) == 0 {
		middle = json.RawMessage("{}")
	}
	middlePath, err := writeArtifact(dir, stem+"_middle.json", middle)
	if err != nil {
		return Result{}, err
	}

	res := Result{
		Filename:        stem,
		MarkdownPath:    mdPath,
		ContentListPath: clPath,
		MiddlePath:      middlePath,
	}
	if len(parsed.ModelOutput) > 0 {
		modelPath, err := writeArtifact(dir, stem+"_model.json", parsed.ModelOutput)
		if err != nil {
			return Result{}, err
		}
		res.ModelOutputPath = modelPath
	}
	return res, nil
}

// VLMHTTPBackend delegates parsing to a remote VLM server. Requests run
// fully concurrently up to the admission ceiling.
type VLMHTTPBackend struct {
	client *vlmClient
}

func NewVLMHTTPBackend(baseURL string) *VLMHTTPBackend {
	return &VLMHTTPBackend{client: newVLMClient(baseURL)}
}

func (b *VLMHTTPBackend) Ready(ctx context.Context) bool {
	return b.client.ready(ctx)
}

func (b *VLMHTTPBackend) Parse(ctx context.Context, dir string, files []convert.File, params Params) ([]Result, error) {
	results := make([]Result, 0, len(files))
	for _, f := range files {
		parsed, err := b.client.parse(ctx, params.ServerURL, f, params)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", f.Name, err)
		}
		res, err := writeResults(dir, f, parsed)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, nil
}

// VLMMLXBackend wraps a single-instance local MLX engine. The engine
// cannot serve overlapping requests, so all calls through this backend
// serialize on its own gate; other backends are unaffected.
type VLMMLXBackend struct {
	mu     sync.Mutex
	client *vlmClient
}

func NewVLMMLXBackend(baseURL string) *VLMMLXBackend {
	return &VLMMLXBackend{client: newVLMClient(baseURL)}
}

func (b *VLMMLXBackend) Ready(ctx context.Context) bool {
	return b.client.ready(ctx)
}

func (b *VLMMLXBackend) Parse(ctx context.Context, dir string, files []convert.File, params Params) ([]Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	results := make([]Result, 0, len(files))
	for _, f := range files {
		parsed, err := b.client.parse(ctx, "", f, params)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", f.Name, err)
		}
		res, err := writeResults(dir, f, parsed)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, nil
}
