// Package parser abstracts document-parsing backends. Consumers depend
// on the Backend interface instead of a concrete engine; the registry
// maps the request's backend selector to an implementation.
package parser

import (
	"context"
	"errors"
	"sort"

	"github.com/docmill/docmill/internal/convert"
)

// ErrUnavailable is returned when a backend cannot run at all (engine
// process missing, remote server unreachable). It is recorded on the job
// with its own classification instead of a generic fault.
var ErrUnavailable = errors.New("parsing backend unavailable")

// Backend names accepted by the parse endpoint.
const (
	BackendPipeline = "pipeline"
	BackendVLMHTTP  = "vlm-http-client"
	BackendVLMMLX   = "vlm-mlx-engine"
)

// Params carries per-request parse options.
type Params struct {
	Lang          string
	Method        string
	StartPage     int // 0-based first page
	EndPage       int // 0-based last page, inclusive; -1 means last
	FormulaEnable bool
	TableEnable   bool
	ServerURL     string // overrides the configured VLM server for this request
}

// Result holds the artifact paths produced for one input document.
type Result struct {
	Filename        string
	MarkdownPath    string
	ContentListPath string
	MiddlePath      string
	ModelOutputPath string // empty when the backend emits no raw model output
}

// Backend parses normalized PDF inputs, writing artifacts into dir.
type Backend interface {
	// Parse processes every file and returns one Result per input, in
	// input order. It may run arbitrarily long; no timeout is imposed.
	Parse(ctx context.Context, dir string, files []convert.File, params Params) ([]Result, error)

	// Ready reports whether the backend can accept work right now.
	Ready(ctx context.Context) bool
}

// Registry maps backend selector names to implementations.
type Registry struct {
	backends map[string]Backend
}

func NewRegistry() *Registry {
	return &Registry{backends: make(map[string]Backend)}
}

func (r *Registry) Register(name string, b Backend) {
	r.backends[name] = b
}

func (r *Registry) Get(name string) (Backend, bool) {
	b, ok := r.backends[name]
	return b, ok
}

// Names returns the registered backend names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
