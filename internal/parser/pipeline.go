package parser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/docmill/docmill/internal/convert"
)

// PipelineBackend extracts text locally from PDF inputs. It has no
// external process to talk to and is always ready.
type PipelineBackend struct{}

func NewPipelineBackend() *PipelineBackend {
	return &PipelineBackend{}
}

type contentItem struct {
	Type    string `json:"type"`
	Text    string `json:"text"`
	PageIdx int    `json:"page_idx"`
}

type pageInfo struct {
	PageIdx    int        `json:"page_idx"`
	PageSize   [2]float64 `json:"page_size"`
	TextLength int        `json:"text_length"`
}

type middleDoc struct {
	ParseType string     `json:"parse_type"`
	PDFInfo   []pageInfo `json:"pdf_info"`
}

func (b *PipelineBackend) Ready(_ context.Context) bool {
	return true
}

func (b *PipelineBackend) Parse(ctx context.Context, dir string, files []convert.File, params Params) ([]Result, error) {
	results := make([]Result, 0, len(files))
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := b.parseOne(dir, f, params)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", f.Name, err)
		}
		results = append(results, res)
	}
	return results, nil
}

// parseOne extracts page text and writes the three artifact files. The
// pdf library panics on some malformed documents, so the whole pass is
// guarded by a recover.
func (b *PipelineBackend) parseOne(dir string, f convert.File, params Params) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf parse failed: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(f.Data), int64(len(f.Data)))
	if err != nil {
		return Result{}, fmt.Errorf("opening pdf: %w", err)
	}

	total := reader.NumPage()
	first := params.StartPage + 1
	last := total
	if params.EndPage >= 0 && params.EndPage+1 < last {
		last = params.EndPage + 1
	}
	if first > total {
		return Result{}, fmt.Errorf("start page %d beyond document with %d pages", params.StartPage, total)
	}

	var md strings.Builder
	var items []contentItem
	var pages []pageInfo
	fonts := make(map[string]*pdf.Font)

	for num := first; num <= last; num++ {
		page := reader.Page(num)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(fonts)
		if err != nil {
			return Result{}, fmt.Errorf("extracting text from page %d: %w", num, err)
		}
		text = strings.TrimSpace(text)

		idx := num - 1
		w, h := pageSize(page)
		pages = append(pages, pageInfo{PageIdx: idx, PageSize: [2]float64{w, h}, TextLength: len(text)})
		if text == "" {
			continue
		}
		items = append(items, contentItem{Type: "text", Text: text, PageIdx: idx})
		md.WriteString(text)
		md.WriteString("\n\n")
	}

	stem := convert.Stem(f.Name)
	mdPath, err := writeArtifact(dir, stem+".md", []byte(md.String()))
	if err != nil {
		return Result{}, err
	}
	if items == nil {
		items = []contentItem{}
	}
	clData, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return Result{}, fmt.Errorf("marshaling content list: %w", err)
	}
	clPath, err := writeArtifact(dir, stem+"_content_list.json", clData)
	if err != nil {
		return Result{}, err
	}
	middleData, err := json.MarshalIndent(middleDoc{ParseType: params.Method, PDFInfo: pages}, "", "  ")
	if err != nil {
		return Result{}, fmt.Errorf("marshaling middle json: %w", err)
	}
	middlePath, err := writeArtifact(dir, stem+"_middle.json", middleData)
	if err != nil {
		return Result{}, err
	}

	return Result{
		Filename:        stem,
		MarkdownPath:    mdPath,
		ContentListPath: clPath,
		MiddlePath:      middlePath,
	}, nil
}

func pageSize(page pdf.Page) (float64, float64) {
	mb := page.V.Key("MediaBox")
	if mb.IsNull() || mb.Len() < 4 {
		return 612, 792
	}
	w := mb.Index(2).Float64() - mb.Index(0).Float64()
	h := mb.Index(3).Float64() - mb.Index(1).Float64()
	if w <= 0 || h <= 0 {
		return 612, 792
	}
	return w, h
}

// PageCount reports the number of pages in a PDF document.
func PageCount(data []byte) (count int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("reading pdf: %v", r)
		}
	}()
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, fmt.Errorf("opening pdf: %w", err)
	}
	return reader.NumPage(), nil
}

func writeArtifact(dir, name string, data []byte) (string, error) {
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing %s: %w", name, err)
	}
	return path, nil
}
