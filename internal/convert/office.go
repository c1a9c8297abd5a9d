package convert

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// docToPDF converts a DOC/DOCX file to PDF using a headless LibreOffice
// (soffice) run in a temporary directory. A missing binary or a failed
// conversion is an input-shaped failure, not an internal one.
func docToPDF(ctx context.Context, name string, data []byte) ([]byte, error) {
	bin, err := exec.LookPath("soffice")
	if err != nil {
		bin, err = exec.LookPath("libreoffice")
	}
	if err != nil {
		return nil, fmt.Errorf("%w: converting %s requires LibreOffice", ErrUnsupported, name)
	}

	tmpDir, err := os.MkdirTemp("", "docmill-convert-*")
	if err != nil {
		return nil, fmt.Errorf("creating temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	srcPath := filepath.Join(tmpDir, filepath.Base(name))
	if err := os.WriteFile(srcPath, data, 0o600); err != nil {
		return nil, fmt.Errorf("writing source file: %w", err)
	}

	cmd := exec.CommandContext(ctx, bin, "--headless", "--convert-to", "pdf", "--outdir", tmpDir, srcPath)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("%w: soffice conversion failed: %v: %s", ErrUnsupported, err, out)
	}

	pdfPath := filepath.Join(tmpDir, Stem(name)+".pdf")
	pdfData, err := os.ReadFile(pdfPath)
	if err != nil {
		return nil, fmt.Errorf("%w: soffice produced no output for %s", ErrUnsupported, name)
	}
	return pdfData, nil
}
