package catalog

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/civicdata/comune-cli/internal/model"
)

type fakeExtractor struct {
	pages []string
	name  string
	err   error
	calls atomic.Int64
}

func (f *fakeExtractor) Extract(ctx context.Context, raw []byte, filename string) ([]string, string, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, "", f.err
	}
	return f.pages, f.name, nil
}

func newTestCatalog(t *testing.T, ex TextExtractor) *Catalog {
	t.Helper()
	store := newTestStore(t)
	return New(store, ex, filepath.Join(t.TempDir(), "raw"))
}

func TestRegister_NewDocument(t *testing.T) {
	cat := newTestCatalog(t, &fakeExtractor{})
	ctx := context.Background()

	raw := []byte("contenuto del bilancio")
	doc, inserted, err := cat.Register(ctx, raw, "https://x.it/bilancio-2023.pdf", "bilancio-2023.pdf")
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Equal(t, HashBytes(raw), doc.ContentHash)
	assert.Equal(t, 2023, doc.DetectedYear)
	assert.Equal(t, int64(len(raw)), doc.ByteSize)

	stored, err := os.ReadFile(doc.LocalPath)
	require.NoError(t, err)
	assert.Equal(t, raw, stored)
}

func TestRegister_DedupByContent(t *testing.T) {
	cat := newTestCatalog(t, &fakeExtractor{})
	ctx := context.Background()

	raw := []byte("stesso contenuto")
	first, inserted, err := cat.Register(ctx, raw, "https://x.it/a.pdf", "a.pdf")
	require.NoError(t, err)
	assert.True(t, inserted)

	// Same bytes under a different URL collapse into the first entry.
	second, inserted, err := cat.Register(ctx, raw, "https://x.it/copia/a.pdf", "a.pdf")
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, first.ContentHash, second.ContentHash)
	assert.Equal(t, "https://x.it/a.pdf", second.OriginURL)
}

func TestRegister_ConcurrentSameBytes(t *testing.T) {
	cat := newTestCatalog(t, &fakeExtractor{})
	raw := []byte("documento condiviso 2022")

	var inserts atomic.Int64
	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < 16; i++ {
		g.Go(func() error {
			_, inserted, err := cat.Register(ctx, raw, "https://x.it/doc.pdf", "doc.pdf")
			if inserted {
				inserts.Add(1)
			}
			return err
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int64(1), inserts.Load())

	docs, err := cat.Documents(context.Background())
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestRegister_YearFallsBackToFilename(t *testing.T) {
	cat := newTestCatalog(t, &fakeExtractor{})

	doc, _, err := cat.Register(context.Background(),
		[]byte("x"), "https://x.it/download?id=42", "rendiconto_2021.pdf")
	require.NoError(t, err)
	assert.Equal(t, 2021, doc.DetectedYear)
}

func TestDocumentByURL(t *testing.T) {
	cat := newTestCatalog(t, &fakeExtractor{})
	ctx := context.Background()

	doc, _, err := cat.Register(ctx, []byte("x"), "https://x.it/a.pdf", "a.pdf")
	require.NoError(t, err)

	got, err := cat.DocumentByURL(ctx, "https://x.it/a.pdf")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, doc.ContentHash, got.ContentHash)

	miss, err := cat.DocumentByURL(ctx, "https://x.it/mai-vista.pdf")
	require.NoError(t, err)
	assert.Nil(t, miss)
}

func TestGetText_ExtractsOnce(t *testing.T) {
	ex := &fakeExtractor{pages: []string{"pagina uno 2020", "pagina due"}, name: "pdftotext"}
	cat := newTestCatalog(t, ex)
	ctx := context.Background()

	doc, _, err := cat.Register(ctx, []byte("pdf bytes"), "https://x.it/d.pdf", "d.pdf")
	require.NoError(t, err)

	pages, err := cat.GetText(ctx, doc.ContentHash)
	require.NoError(t, err)
	require.Len(t, pages, 2)
	assert.Equal(t, 1, pages[0].PageNo)
	assert.Equal(t, 2020, pages[0].YearHint)
	assert.Equal(t, model.YearUnknown, pages[1].YearHint)

	again, err := cat.GetText(ctx, doc.ContentHash)
	require.NoError(t, err)
	assert.Equal(t, pages, again)
	assert.Equal(t, int64(1), ex.calls.Load())

	got, err := cat.Document(ctx, doc.ContentHash)
	require.NoError(t, err)
	assert.Equal(t, "pdftotext", got.Extractor)
}

func TestGetText_DeferredYearDetection(t *testing.T) {
	ex := &fakeExtractor{pages: []string{"bilancio esercizio 2019 del comune"}, name: "pdftotext"}
	cat := newTestCatalog(t, ex)
	ctx := context.Background()

	// No year in URL or filename.
	doc, _, err := cat.Register(ctx, []byte("pdf"), "https://x.it/download?id=7", "doc.pdf")
	require.NoError(t, err)
	require.Equal(t, model.YearUnknown, doc.DetectedYear)

	_, err = cat.GetText(ctx, doc.ContentHash)
	require.NoError(t, err)

	got, err := cat.Document(ctx, doc.ContentHash)
	require.NoError(t, err)
	assert.Equal(t, 2019, got.DetectedYear)
}

func TestGetText_UnextractableSticks(t *testing.T) {
	ex := &fakeExtractor{err: eris.New("no strategy produced text")}
	cat := newTestCatalog(t, ex)
	ctx := context.Background()

	doc, _, err := cat.Register(ctx, []byte("garbled"), "https://x.it/g.pdf", "g.pdf")
	require.NoError(t, err)

	_, err = cat.GetText(ctx, doc.ContentHash)
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrUnextractable))

	// Second call short-circuits without calling the extractor again.
	_, err = cat.GetText(ctx, doc.ContentHash)
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrUnextractable))
	assert.Equal(t, int64(1), ex.calls.Load())
}

func TestGetText_UnknownDocument(t *testing.T) {
	cat := newTestCatalog(t, &fakeExtractor{})
	_, err := cat.GetText(context.Background(), "deadbeef")
	assert.Error(t, err)
}

func TestLLMCacheSurface(t *testing.T) {
	cat := newTestCatalog(t, &fakeExtractor{})
	ctx := context.Background()
	cache := cat.LLMCache()

	miss, err := cache.Get(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, miss)

	require.NoError(t, cache.Put(ctx, "k", "h", []byte(`{"ok":true}`)))
	hit, err := cache.Get(ctx, "k")
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(hit))
}
