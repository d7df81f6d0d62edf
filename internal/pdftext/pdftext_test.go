package pdftext

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicdata/comune-cli/internal/config"
)

func TestSplitPages(t *testing.T) {
	pages := SplitPages("pagina uno\fpagina due\f")
	require.Len(t, pages, 2)
	assert.Equal(t, "pagina uno", pages[0])
	assert.Equal(t, "pagina due", pages[1])

	assert.Len(t, SplitPages("solo una pagina"), 1)
	assert.Empty(t, SplitPages(""))
}

func TestKind(t *testing.T) {
	assert.Equal(t, "pdf", kind([]byte("%PDF-1.7 ..."), "x.bin"))
	assert.Equal(t, "html", kind([]byte("<!doctype html><HTML>"), "page"))
	assert.Equal(t, "pdf", kind([]byte("garbage"), "doc.PDF"))
	assert.Equal(t, "html", kind([]byte("garbage"), "page.htm"))
	assert.Equal(t, "text", kind([]byte("plain"), "note.txt"))
	assert.Equal(t, "pdf", kind([]byte("????"), "mystery"))
}

func TestPdfToText_BinPath(t *testing.T) {
	p := NewPdfToText("")
	assert.Equal(t, "pdftotext", p.binPath)

	p = NewPdfToText("/custom/pdftotext")
	assert.Equal(t, "/custom/pdftotext", p.binPath)
}

func TestPdfToText_BinaryNotFound(t *testing.T) {
	p := NewPdfToText("/nonexistent/pdftotext")
	_, err := p.ExtractPages(context.Background(), []byte("%PDF-1.4"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pdftotext failed")
}

func TestPdfToText_ExtractPages(t *testing.T) {
	// Fake pdftotext that emits two form-feed separated pages.
	tmpDir := t.TempDir()
	fakeBin := filepath.Join(tmpDir, "pdftotext")
	script := "#!/bin/sh\nprintf 'bilancio 2023\\fspesa corrente'\n"
	require.NoError(t, os.WriteFile(fakeBin, []byte(script), 0755))

	p := NewPdfToText(fakeBin)
	pages, err := p.ExtractPages(context.Background(), []byte("%PDF-1.4 dummy"))
	require.NoError(t, err)
	require.Len(t, pages, 2)
	assert.Equal(t, "bilancio 2023", pages[0])
	assert.Equal(t, "spesa corrente", pages[1])
}

func TestSalvage(t *testing.T) {
	s := NewSalvage()

	raw := append([]byte{0x00, 0x01}, []byte("popolazione residente 54321")...)
	raw = append(raw, 0x02, 0x03)
	pages, err := s.ExtractPages(context.Background(), raw)
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Contains(t, pages[0], "popolazione residente 54321")

	// Short runs are dropped as binary noise.
	_, err = s.ExtractPages(context.Background(), []byte{0x00, 'a', 0x01, 'b', 0x02})
	assert.Error(t, err)
}

func TestHTML(t *testing.T) {
	h := NewHTML()

	raw := []byte(`<html><head><style>p{color:red}</style></head>
		<body><script>var x=1;</script><p>Rendiconto  2022</p>
		<p>spesa € 1.234,56</p></body></html>`)
	pages, err := h.ExtractPages(context.Background(), raw)
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, "Rendiconto 2022 spesa € 1.234,56", pages[0])
	assert.NotContains(t, pages[0], "var x")
	assert.NotContains(t, pages[0], "color:red")
}

func TestExtractor_FallsBackToSalvage(t *testing.T) {
	ex := New(config.OCRConfig{PdfToTextPath: "/nonexistent/pdftotext"})

	raw := []byte("%PDF-1.4 bilancio di previsione 2023 totale spese")
	pages, name, err := ex.Extract(context.Background(), raw, "bilancio.pdf")
	require.NoError(t, err)
	assert.Equal(t, NameSalvage, name)
	require.Len(t, pages, 1)
	assert.Contains(t, pages[0], "bilancio di previsione 2023")
}

func TestExtractor_HTMLAndPlain(t *testing.T) {
	ex := New(config.OCRConfig{})

	pages, name, err := ex.Extract(context.Background(),
		[]byte("<html><body>delibera comunale</body></html>"), "delibera.html")
	require.NoError(t, err)
	assert.Equal(t, NameHTML, name)
	assert.Equal(t, []string{"delibera comunale"}, pages)

	pages, name, err = ex.Extract(context.Background(), []byte("nota testuale"), "nota.txt")
	require.NoError(t, err)
	assert.Equal(t, NamePlain, name)
	assert.Equal(t, []string{"nota testuale"}, pages)
}

func TestExtractor_AllStrategiesFail(t *testing.T) {
	ex := New(config.OCRConfig{PdfToTextPath: "/nonexistent/pdftotext"})

	_, _, err := ex.Extract(context.Background(), []byte{0x00, 0x01, 0x02}, "vuoto.pdf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all strategies failed")
}
