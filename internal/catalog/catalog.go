package catalog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/civicdata/comune-cli/internal/model"
	"github.com/civicdata/comune-cli/internal/yeardetect"
)

// Catalog wraps a Store with content hashing, raw-byte persistence and the
// extract-once page cache. All methods are safe for concurrent use.
type Catalog struct {
	store     Store
	extractor TextExtractor
	rawDir    string
	group     singleflight.Group
}

// New builds a Catalog persisting raw documents under rawDir.
func New(store Store, extractor TextExtractor, rawDir string) *Catalog {
	return &Catalog{store: store, extractor: extractor, rawDir: rawDir}
}

// HashBytes returns the lowercase hex SHA-256 digest of raw.
func HashBytes(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// Register stores a downloaded document, deduplicating by content hash.
// Concurrent registrations of identical bytes collapse into one insert. The
// returned bool reports whether the document was new.
func (c *Catalog) Register(ctx context.Context, raw []byte, originURL, filename string) (*model.Document, bool, error) {
	hash := HashBytes(raw)

	// Only the caller whose closure runs observes inserted=true; callers that
	// piggyback on an in-flight registration report a dedup hit.
	var didInsert bool
	v, err, _ := c.group.Do(hash, func() (any, error) {
		existing, err := c.store.GetDocument(ctx, hash)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			if existing.ByteSize != int64(len(raw)) {
				return nil, eris.Wrapf(ErrIntegrity,
					"hash %s: stored size %d, incoming size %d", hash, existing.ByteSize, len(raw))
			}
			return existing, nil
		}

		localPath := filepath.Join(c.rawDir, hash)
		if err := os.MkdirAll(c.rawDir, 0o755); err != nil {
			return nil, eris.Wrap(err, "catalog: create raw dir")
		}
		if err := os.WriteFile(localPath, raw, 0o644); err != nil {
			return nil, eris.Wrapf(err, "catalog: write raw %s", hash)
		}

		year := yeardetect.FromURL(originURL)
		if year == model.YearUnknown {
			year = yeardetect.FromFilename(filename)
		}

		doc := model.Document{
			ContentHash:  hash,
			OriginURL:    originURL,
			Filename:     filename,
			DetectedYear: year,
			ByteSize:     int64(len(raw)),
			LocalPath:    localPath,
			FirstSeenAt:  time.Now().UTC(),
		}
		inserted, err := c.store.InsertDocument(ctx, doc)
		if err != nil {
			return nil, err
		}
		if !inserted {
			// Lost a race against another process sharing the store.
			existing, err := c.store.GetDocument(ctx, hash)
			if err != nil {
				return nil, err
			}
			if existing == nil {
				return nil, eris.Errorf("catalog: document %s vanished after insert conflict", hash)
			}
			return existing, nil
		}

		didInsert = true
		zap.L().Debug("document registered",
			zap.String("hash", hash),
			zap.String("url", originURL),
			zap.Int("year", year),
			zap.Int("bytes", len(raw)))
		return &doc, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.(*model.Document), didInsert, nil
}

// GetText returns the per-page text for a registered document, extracting it
// at most once. A document whose both extraction strategies fail is marked
// unextractable and every later call returns ErrUnextractable without
// retrying.
func (c *Catalog) GetText(ctx context.Context, contentHash string) ([]model.PageText, error) {
	v, err, _ := c.group.Do("text:"+contentHash, func() (any, error) {
		pages, err := c.store.GetPages(ctx, contentHash)
		if err != nil {
			return nil, err
		}
		if len(pages) > 0 {
			return pages, nil
		}

		doc, err := c.store.GetDocument(ctx, contentHash)
		if err != nil {
			return nil, err
		}
		if doc == nil {
			return nil, eris.Errorf("catalog: unknown document %s", contentHash)
		}
		if doc.Unextractable {
			return nil, eris.Wrapf(ErrUnextractable, "document %s", contentHash)
		}

		raw, err := os.ReadFile(doc.LocalPath)
		if err != nil {
			return nil, eris.Wrapf(err, "catalog: read raw %s", contentHash)
		}

		texts, extractor, err := c.extractor.Extract(ctx, raw, doc.Filename)
		if err != nil {
			if markErr := c.store.MarkUnextractable(ctx, contentHash); markErr != nil {
				zap.L().Warn("mark unextractable failed",
					zap.String("hash", contentHash), zap.Error(markErr))
			}
			zap.L().Warn("text extraction failed",
				zap.String("hash", contentHash),
				zap.String("filename", doc.Filename),
				zap.Error(err))
			return nil, eris.Wrapf(ErrUnextractable, "document %s: %s", contentHash, err)
		}

		pages = make([]model.PageText, 0, len(texts))
		for i, text := range texts {
			pages = append(pages, model.PageText{
				ContentHash: contentHash,
				PageNo:      i + 1,
				Text:        text,
				YearHint:    yeardetect.FromText(text),
			})
		}
		if err := c.store.InsertPages(ctx, pages); err != nil {
			return nil, err
		}
		if err := c.store.SetExtractor(ctx, contentHash, extractor); err != nil {
			return nil, err
		}

		if doc.DetectedYear == model.YearUnknown {
			year := yeardetect.Detect(doc.OriginURL, doc.Filename, firstPagesText(pages))
			if year != model.YearUnknown {
				if err := c.store.UpdateDocumentYear(ctx, contentHash, year); err != nil {
					return nil, err
				}
			}
		}

		zap.L().Debug("document extracted",
			zap.String("hash", contentHash),
			zap.String("extractor", extractor),
			zap.Int("pages", len(pages)))
		return pages, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]model.PageText), nil
}

// firstPagesText concatenates up to the first three pages for whole-document
// year detection.
func firstPagesText(pages []model.PageText) string {
	var text string
	for i, p := range pages {
		if i == 3 {
			break
		}
		text += p.Text + "\n"
	}
	return text
}

// Document returns stored metadata for a content hash, nil when absent.
func (c *Catalog) Document(ctx context.Context, contentHash string) (*model.Document, error) {
	return c.store.GetDocument(ctx, contentHash)
}

// DocumentByURL returns the document registered from an origin URL, nil when
// the URL was never seen. Lets the crawler skip re-downloading known URLs.
func (c *Catalog) DocumentByURL(ctx context.Context, originURL string) (*model.Document, error) {
	return c.store.GetDocumentByURL(ctx, originURL)
}

// Documents lists all registered documents, ordered by content hash.
func (c *Catalog) Documents(ctx context.Context) ([]model.Document, error) {
	return c.store.ListDocuments(ctx)
}

// DocumentsByYear lists registered documents with the given detected year.
func (c *Catalog) DocumentsByYear(ctx context.Context, year int) ([]model.Document, error) {
	return c.store.ListDocumentsByYear(ctx, year)
}

// Stats reports catalog counters.
func (c *Catalog) Stats(ctx context.Context) (*Stats, error) {
	return c.store.Stats(ctx)
}

// LLMCache exposes the response cache to the extraction layer.
func (c *Catalog) LLMCache() LLMCache {
	return llmCache{store: c.store}
}

// LLMCache is the response cache surface consumed by the LLM strategy.
type LLMCache interface {
	Get(ctx context.Context, requestKey string) ([]byte, error)
	Put(ctx context.Context, requestKey, requestHash string, payload []byte) error
}

type llmCache struct {
	store Store
}

func (c llmCache) Get(ctx context.Context, requestKey string) ([]byte, error) {
	return c.store.GetLLMCache(ctx, requestKey)
}

func (c llmCache) Put(ctx context.Context, requestKey, requestHash string, payload []byte) error {
	return c.store.PutLLMCache(ctx, requestKey, requestHash, payload)
}
