// Package pdftext turns raw downloaded documents into per-page text.
// PDFs go through the pdftotext CLI first and a plain-text salvage pass when
// that fails; HTML documents are stripped with goquery.
package pdftext

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/civicdata/comune-cli/internal/config"
)

// Names reported to the catalog so a re-run can tell which strategy produced
// the stored pages.
const (
	NamePdfToText = "pdftotext"
	NameSalvage   = "salvage"
	NameHTML      = "html"
	NamePlain     = "plain"
)

// PageExtractor produces per-page text for one document format.
type PageExtractor interface {
	ExtractPages(ctx context.Context, raw []byte) ([]string, error)
	Name() string
}

// Extractor dispatches on document type and runs the PDF fallback chain. It
// implements catalog.TextExtractor.
type Extractor struct {
	pdfChain []PageExtractor
	html     PageExtractor
}

// New builds the default extractor from config.
func New(cfg config.OCRConfig) *Extractor {
	return &Extractor{
		pdfChain: []PageExtractor{
			NewPdfToText(cfg.PdfToTextPath),
			NewSalvage(),
		},
		html: NewHTML(),
	}
}

// Extract returns the pages of a document plus the name of the strategy that
// produced them. It fails only when every applicable strategy fails.
func (e *Extractor) Extract(ctx context.Context, raw []byte, filename string) ([]string, string, error) {
	switch kind(raw, filename) {
	case "html":
		pages, err := e.html.ExtractPages(ctx, raw)
		if err != nil {
			return nil, "", err
		}
		return pages, e.html.Name(), nil

	case "text":
		return []string{string(raw)}, NamePlain, nil

	default:
		var firstErr error
		for _, strategy := range e.pdfChain {
			pages, err := strategy.ExtractPages(ctx, raw)
			if err == nil && hasText(pages) {
				return pages, strategy.Name(), nil
			}
			if err != nil && firstErr == nil {
				firstErr = err
			}
			zap.L().Debug("extraction strategy failed",
				zap.String("strategy", strategy.Name()),
				zap.String("filename", filename),
				zap.Error(err))
		}
		if firstErr != nil {
			return nil, "", eris.Wrapf(firstErr, "pdftext: all strategies failed for %s", filename)
		}
		return nil, "", eris.Errorf("pdftext: no strategy produced text for %s", filename)
	}
}

// kind sniffs the document type from magic bytes first, extension second.
func kind(raw []byte, filename string) string {
	head := raw
	if len(head) > 512 {
		head = head[:512]
	}
	switch {
	case len(head) >= 5 && string(head[:5]) == "%PDF-":
		return "pdf"
	case strings.Contains(strings.ToLower(string(head)), "<html"):
		return "html"
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return "pdf"
	case ".html", ".htm":
		return "html"
	case ".txt", ".csv":
		return "text"
	}
	return "pdf"
}

// hasText reports whether any page holds non-whitespace content.
func hasText(pages []string) bool {
	for _, p := range pages {
		if strings.TrimSpace(p) != "" {
			return true
		}
	}
	return false
}
