package pdftext

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// PdfToText extracts PDF text using the pdftotext CLI tool. Pages arrive
// separated by form feeds on stdout.
type PdfToText struct {
	binPath string
}

// NewPdfToText creates a PdfToText extractor. If binPath is empty, "pdftotext" is used.
func NewPdfToText(binPath string) *PdfToText {
	if binPath == "" {
		binPath = "pdftotext"
	}
	return &PdfToText{binPath: binPath}
}

func (p *PdfToText) Name() string { return NamePdfToText }

// ExtractPages runs pdftotext -layout on the raw bytes and splits stdout on
// the form-feed page markers.
func (p *PdfToText) ExtractPages(ctx context.Context, raw []byte) ([]string, error) {
	tmp, err := os.CreateTemp("", "pdftext-*.pdf")
	if err != nil {
		return nil, eris.Wrap(err, "pdftext: create temp file")
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return nil, eris.Wrap(err, "pdftext: write temp file")
	}
	if err := tmp.Close(); err != nil {
		return nil, eris.Wrap(err, "pdftext: close temp file")
	}

	cmd := exec.CommandContext(ctx, p.binPath, "-layout", tmp.Name(), "-")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, eris.Wrapf(err, "pdftext: pdftotext failed for %s: %s",
			filepath.Base(tmp.Name()), stderr.String())
	}

	return SplitPages(stdout.String()), nil
}

// SplitPages splits pdftotext output on form feeds, dropping a trailing empty
// page.
func SplitPages(out string) []string {
	pages := strings.Split(out, "\f")
	for len(pages) > 0 && strings.TrimSpace(pages[len(pages)-1]) == "" {
		pages = pages[:len(pages)-1]
	}
	return pages
}
