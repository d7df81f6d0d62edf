// Package catalog is the content-addressable store for downloaded documents
// and their extracted page texts. Documents are identified by the SHA-256
// digest of their raw bytes; the catalog owns deduplication and the
// extract-once cache.
package catalog

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/civicdata/comune-cli/internal/model"
)

// ErrIntegrity reports that a content hash resolved to conflicting stored
// metadata. This violates the dedup invariant and is fatal.
var ErrIntegrity = eris.New("catalog: content hash integrity violation")

// ErrUnextractable reports that both text-extraction strategies have failed
// for a document. The document stays in the catalog but is excluded from
// indexing.
var ErrUnextractable = eris.New("catalog: document is unextractable")

// Stats summarizes catalog contents.
type Stats struct {
	Documents     int `json:"documents"`
	Extracted     int `json:"extracted"`
	Unextractable int `json:"unextractable"`
	Pages         int `json:"pages"`
	LLMCache      int `json:"llm_cache"`
}

// Store defines the persistence interface behind the catalog. Implemented by
// SQLiteStore (per-comune local file) and PostgresStore (shared).
type Store interface {
	// Documents. InsertDocument is check-then-insert in a single statement:
	// it reports false when a row for the same content hash already exists.
	InsertDocument(ctx context.Context, doc model.Document) (bool, error)
	GetDocument(ctx context.Context, contentHash string) (*model.Document, error)
	GetDocumentByURL(ctx context.Context, originURL string) (*model.Document, error)
	ListDocuments(ctx context.Context) ([]model.Document, error)
	ListDocumentsByYear(ctx context.Context, year int) ([]model.Document, error)
	UpdateDocumentYear(ctx context.Context, contentHash string, year int) error
	SetExtractor(ctx context.Context, contentHash, extractor string) error
	MarkUnextractable(ctx context.Context, contentHash string) error

	// Page texts. Immutable once written.
	InsertPages(ctx context.Context, pages []model.PageText) error
	GetPages(ctx context.Context, contentHash string) ([]model.PageText, error)

	// LLM response cache. Get returns nil when the key is absent.
	GetLLMCache(ctx context.Context, requestKey string) ([]byte, error)
	PutLLMCache(ctx context.Context, requestKey, requestHash string, payload []byte) error

	Stats(ctx context.Context) (*Stats, error)

	Migrate(ctx context.Context) error
	Close() error
}

// TextExtractor is the external collaborator that turns raw document bytes
// into per-page text. Implementations try a primary strategy and fall back
// to a secondary one before failing.
type TextExtractor interface {
	Extract(ctx context.Context, raw []byte, filename string) (pages []string, extractor string, err error)
}
