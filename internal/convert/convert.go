// Package convert normalizes uploaded documents into PDF bytes so a
// single parser input format reaches the backends. Images are wrapped
// into a one-page PDF; office documents go through LibreOffice.
package convert

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"
)

// ErrUnsupported is returned for file types no converter can handle.
var ErrUnsupported = errors.New("unsupported file type")

// File is an uploaded document materialized into memory. Request-scoped
// file handles are not valid once the request returns, so bytes are read
// eagerly before any background work is scheduled.
type File struct {
	Name string
	Data []byte
}

var imageExts = map[string]bool{
	"png":  true,
	"jpg":  true,
	"jpeg": true,
	"gif":  true,
	"bmp":  true,
	"webp": true,
}

// NormalizeAll converts every file to PDF, preserving input order.
// Conversions run concurrently, one goroutine per file.
func NormalizeAll(ctx context.Context, files []File) ([]File, error) {
	out := make([]File, len(files))
	g, gCtx := errgroup.WithContext(ctx)
	for i, f := range files {
		i, f := i, f
		g.Go(func() error {
			nf, err := Normalize(gCtx, f)
			if err != nil {
				return fmt.Errorf("%s: %w", f.Name, err)
			}
			out[i] = nf
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Normalize converts a single file to PDF. PDFs pass through unchanged.
func Normalize(ctx context.Context, f File) (File, error) {
	ext := Ext(f.Name)
	switch {
	case ext == "pdf":
		return f, nil
	case imageExts[ext]:
		data, err := imageToPDF(f.Data)
		if err != nil {
			return File{}, err
		}
		return File{Name: Stem(f.Name) + ".pdf", Data: data}, nil
	case ext == "doc" || ext == "docx":
		data, err := docToPDF(ctx, f.Name, f.Data)
		if err != nil {
			return File{}, err
		}
		return File{Name: Stem(f.Name) + ".pdf", Data: data}, nil
	default:
		return File{}, ErrUnsupported
	}
}

// Supported reports whether a converter exists for the file's extension.
func Supported(name string) bool {
	ext := Ext(name)
	return ext == "pdf" || ext == "doc" || ext == "docx" || imageExts[ext]
}

// Ext returns the lowercase extension of name without the dot.
func Ext(name string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
}

// Stem returns the file name without directory or extension.
func Stem(name string) string {
	base := filepath.Base(name)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
