package pdftext

import (
	"bytes"
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
)

// HTML strips markup from HTML documents. The whole document counts as a
// single page.
type HTML struct{}

func NewHTML() *HTML {
	return &HTML{}
}

func (h *HTML) Name() string { return NameHTML }

func (h *HTML) ExtractPages(_ context.Context, raw []byte) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return nil, eris.Wrap(err, "pdftext: parse html")
	}

	doc.Find("script, style, noscript, nav, footer").Remove()

	var sb strings.Builder
	doc.Find("body").Each(func(_ int, sel *goquery.Selection) {
		sb.WriteString(sel.Text())
	})

	text := collapseWhitespace(sb.String())
	if text == "" {
		return nil, eris.New("pdftext: html document has no text content")
	}
	return []string{text}, nil
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
