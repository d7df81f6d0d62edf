package index

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/civicdata/comune-cli/internal/model"
)

// TextSource is the catalog surface the chunk store consumes.
type TextSource interface {
	GetText(ctx context.Context, contentHash string) ([]model.PageText, error)
	Document(ctx context.Context, contentHash string) (*model.Document, error)
}

// ChunkStore materializes catalog pages into retrieval chunks.
type ChunkStore struct {
	source TextSource
}

func NewChunkStore(source TextSource) *ChunkStore {
	return &ChunkStore{source: source}
}

// EnsureChunks returns one chunk per page of the document. A page-level year
// hint overrides the document-level detected year.
func (s *ChunkStore) EnsureChunks(ctx context.Context, contentHash string) ([]model.Chunk, error) {
	doc, err := s.source.Document(ctx, contentHash)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, eris.Errorf("index: unknown document %s", contentHash)
	}

	pages, err := s.source.GetText(ctx, contentHash)
	if err != nil {
		return nil, err
	}

	chunks := make([]model.Chunk, 0, len(pages))
	for _, page := range pages {
		year := page.YearHint
		if year == model.YearUnknown {
			year = doc.DetectedYear
		}
		chunks = append(chunks, model.Chunk{
			ContentHash: page.ContentHash,
			PageNo:      page.PageNo,
			Text:        page.Text,
			Year:        year,
			OriginURL:   doc.OriginURL,
			Filename:    doc.Filename,
		})
	}
	return chunks, nil
}

// Rechunker adapts EnsureChunks to the index loader's migration hook.
func (s *ChunkStore) Rechunker() Rechunker {
	return s.EnsureChunks
}
