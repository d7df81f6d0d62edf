package pdftext

import (
	"context"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"
)

// Salvage is the last-resort strategy for PDFs the CLI tool cannot read. It
// scans the raw bytes for runs of printable text, which recovers content from
// uncompressed text objects. Output is a single page.
type Salvage struct {
	minRun int
}

func NewSalvage() *Salvage {
	return &Salvage{minRun: 4}
}

func (s *Salvage) Name() string { return NameSalvage }

func (s *Salvage) ExtractPages(_ context.Context, raw []byte) ([]string, error) {
	var sb strings.Builder
	var run []rune

	flush := func() {
		if len(run) >= s.minRun {
			sb.WriteString(string(run))
			sb.WriteByte(' ')
		}
		run = run[:0]
	}

	for _, b := range raw {
		r := rune(b)
		if r == ' ' || unicode.IsPrint(r) && r < 0x7f || r >= 0xa0 {
			run = append(run, r)
			continue
		}
		flush()
	}
	flush()

	text := strings.TrimSpace(sb.String())
	if text == "" {
		return nil, eris.New("pdftext: salvage found no printable text")
	}
	return []string{text}, nil
}
