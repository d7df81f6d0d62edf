package index

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicdata/comune-cli/internal/model"
)

func TestTokenize(t *testing.T) {
	assert.Equal(t,
		[]string{"popolazione", "residente", "al", "31", "12", "2023"},
		Tokenize("Popolazione residente al 31/12/2023"))

	// Diacritics fold, one-letter words drop.
	assert.Equal(t,
		[]string{"citta", "di", "roma", "provincia"},
		Tokenize("Città di Roma è provincia"))

	assert.Empty(t, Tokenize("  ... ,, "))
}

func chunk(hash string, page int, year int, text string) model.Chunk {
	return model.Chunk{
		ContentHash: hash, PageNo: page, Year: year, Text: text,
		OriginURL: "https://x.it/" + hash + ".pdf", Filename: hash + ".pdf",
	}
}

func TestQuery_RanksAndBounds(t *testing.T) {
	ix := New(t.TempDir())
	ix.Add([]model.Chunk{
		chunk("a", 1, 2023, "popolazione residente 1.234 abitanti"),
		chunk("a", 2, 2023, "spesa corrente per il personale"),
		chunk("b", 1, 2023, "la popolazione del comune e la popolazione residente"),
		chunk("c", 1, 2022, "popolazione residente anno precedente"),
	})

	got := ix.Query("popolazione residente", 2023, 10, 0)
	require.Len(t, got, 2)
	// Year 2022 chunk is invisible from the 2023 partition.
	for _, s := range got {
		assert.Equal(t, 2023, s.Chunk.Year)
	}
	assert.Greater(t, got[0].Score, 0.0)

	got = ix.Query("popolazione residente", 2023, 1, 0)
	assert.Len(t, got, 1)
}

func TestQuery_DeterministicTieBreak(t *testing.T) {
	ix := New(t.TempDir())
	// Identical text gives identical scores.
	ix.Add([]model.Chunk{
		chunk("b", 2, 2023, "raccolta differenziata dei rifiuti"),
		chunk("b", 1, 2023, "raccolta differenziata dei rifiuti"),
		chunk("a", 1, 2023, "raccolta differenziata dei rifiuti"),
	})

	got := ix.Query("raccolta differenziata", 2023, 10, 0)
	require.Len(t, got, 3)
	assert.Equal(t, model.ChunkID{ContentHash: "a", PageNo: 1}, got[0].Chunk.ID())
	assert.Equal(t, model.ChunkID{ContentHash: "b", PageNo: 1}, got[1].Chunk.ID())
	assert.Equal(t, model.ChunkID{ContentHash: "b", PageNo: 2}, got[2].Chunk.ID())
}

func TestQuery_EmptyPartition(t *testing.T) {
	ix := New(t.TempDir())
	assert.Empty(t, ix.Query("popolazione", 2019, 5, 0))

	ix.Add([]model.Chunk{chunk("a", 1, 2023, "bilancio")})
	assert.Empty(t, ix.Query("popolazione", 2019, 5, 0))
}

func TestAdd_IncrementalAndIdempotent(t *testing.T) {
	ix := New(t.TempDir())

	assert.Equal(t, 1, ix.Add([]model.Chunk{chunk("a", 1, 2023, "entrate tributarie")}))
	assert.Equal(t, 1, ix.Add([]model.Chunk{chunk("a", 2, 2023, "spese correnti")}))
	// Re-adding an indexed chunk is a no-op.
	assert.Equal(t, 0, ix.Add([]model.Chunk{chunk("a", 1, 2023, "entrate tributarie")}))
	assert.Equal(t, 2, ix.Size(2023))

	// Both pages retrievable after the incremental merge.
	assert.Len(t, ix.Query("entrate tributarie", 2023, 5, 0), 1)
	assert.Len(t, ix.Query("spese correnti", 2023, 5, 0), 1)
}

func TestRepartition(t *testing.T) {
	ix := New(t.TempDir())
	c := chunk("a", 1, model.YearUnknown, "rendiconto della gestione")
	ix.Add([]model.Chunk{c})
	require.Equal(t, 1, ix.Size(model.YearUnknown))

	c.Year = 2021
	ix.Repartition(c, model.YearUnknown)
	assert.Equal(t, 0, ix.Size(model.YearUnknown))
	assert.Equal(t, 1, ix.Size(2021))
	assert.Len(t, ix.Query("rendiconto", 2021, 5, 0), 1)
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	ix := New(dir)
	ix.Add([]model.Chunk{
		chunk("a", 1, 2023, "popolazione residente"),
		chunk("b", 1, model.YearUnknown, "documento senza anno"),
	})
	require.NoError(t, ix.Save(ctx))

	loaded := New(dir)
	require.NoError(t, loaded.Load(ctx, nil))
	assert.Equal(t, []int{model.YearUnknown, 2023}, loaded.Years())
	assert.Len(t, loaded.Query("popolazione residente", 2023, 5, 0), 1)
	assert.Len(t, loaded.Query("documento senza anno", model.YearUnknown, 5, 0), 1)
}

func TestSave_OnlyDirtyPartitions(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	ix := New(dir)
	ix.Add([]model.Chunk{chunk("a", 1, 2023, "bilancio")})
	require.NoError(t, ix.Save(ctx))

	// Clean save leaves the directory untouched.
	info, err := os.Stat(filepath.Join(dir, "year_2023.json"))
	require.NoError(t, err)
	require.NoError(t, ix.Save(ctx))
	again, err := os.Stat(filepath.Join(dir, "year_2023.json"))
	require.NoError(t, err)
	assert.Equal(t, info.ModTime(), again.ModTime())
}

func TestReset_DropsPartitionsAndFiles(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	ix := New(dir)
	ix.Add([]model.Chunk{
		chunk("a", 1, 2023, "popolazione residente"),
		chunk("b", 1, 2022, "spesa corrente"),
	})
	require.NoError(t, ix.Save(ctx))

	require.NoError(t, ix.Reset(ctx))
	assert.Empty(t, ix.Years())
	assert.Equal(t, 0, ix.TotalSize())

	// A rebuild indexing only 2023 must not resurrect the 2022 partition
	// from its old file on the next Load.
	ix.Add([]model.Chunk{chunk("a", 1, 2023, "popolazione residente")})
	require.NoError(t, ix.Save(ctx))

	loaded := New(dir)
	require.NoError(t, loaded.Load(ctx, nil))
	assert.Equal(t, []int{2023}, loaded.Years())
}

func TestLoad_MigratesLegacySnapshot(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	// Version-1 snapshot: whole documents, page_no 0, no unit tag.
	legacy := map[string]any{
		"schema_version": 1,
		"chunks": []model.Chunk{
			{ContentHash: "doc1", PageNo: 0, Year: 2022, Text: "tutto il documento in un pezzo"},
		},
	}
	data, err := json.Marshal(legacy)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "year_2022.json"), data, 0o644))

	rechunk := func(_ context.Context, hash string) ([]model.Chunk, error) {
		require.Equal(t, "doc1", hash)
		return []model.Chunk{
			chunk("doc1", 1, 2022, "prima pagina del documento"),
			chunk("doc1", 2, 2022, "seconda pagina del documento"),
		}, nil
	}

	ix := New(dir)
	require.NoError(t, ix.Load(ctx, rechunk))
	assert.Equal(t, 2, ix.Size(2022))

	got := ix.Query("seconda pagina", 2022, 5, 0)
	require.NotEmpty(t, got)
	assert.Equal(t, 2, got[0].Chunk.PageNo)

	// The migrated partition persists in the current format.
	require.NoError(t, ix.Save(ctx))
	data, err = os.ReadFile(filepath.Join(dir, "year_2022.json"))
	require.NoError(t, err)
	var env envelope
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, schemaVersion, env.SchemaVersion)
	assert.Equal(t, unitPage, env.Unit)
	assert.Len(t, env.Chunks, 2)
}

func TestLoad_LegacyWithoutRechunkerFails(t *testing.T) {
	dir := t.TempDir()
	data, err := json.Marshal(map[string]any{"schema_version": 1, "chunks": []model.Chunk{{ContentHash: "x"}}})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "year_unknown.json"), data, 0o644))

	ix := New(dir)
	assert.Error(t, ix.Load(context.Background(), nil))
}

func TestLoad_MissingDirIsEmptyIndex(t *testing.T) {
	ix := New(filepath.Join(t.TempDir(), "does-not-exist"))
	require.NoError(t, ix.Load(context.Background(), nil))
	assert.Empty(t, ix.Years())
}

type fakeSource struct {
	doc   *model.Document
	pages []model.PageText
}

func (f *fakeSource) GetText(context.Context, string) ([]model.PageText, error) {
	return f.pages, nil
}

func (f *fakeSource) Document(context.Context, string) (*model.Document, error) {
	return f.doc, nil
}

func TestChunkStore_YearHintOverridesDocumentYear(t *testing.T) {
	src := &fakeSource{
		doc: &model.Document{
			ContentHash: "a", DetectedYear: 2023,
			OriginURL: "https://x.it/a.pdf", Filename: "a.pdf",
		},
		pages: []model.PageText{
			{ContentHash: "a", PageNo: 1, Text: "dati 2022", YearHint: 2022},
			{ContentHash: "a", PageNo: 2, Text: "dati correnti", YearHint: model.YearUnknown},
		},
	}

	chunks, err := NewChunkStore(src).EnsureChunks(context.Background(), "a")
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, 2022, chunks[0].Year)
	assert.Equal(t, 2023, chunks[1].Year)
	assert.Equal(t, "https://x.it/a.pdf", chunks[0].OriginURL)
}
