package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicdata/comune-cli/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return NewPostgresFromPool(mock), mock
}

func TestPostgresStore_InsertDocument(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO documents`).
		WithArgs("abc", "https://x.it/b.pdf", "b.pdf", 2023, int64(10), "/raw/abc", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	inserted, err := s.InsertDocument(context.Background(), model.Document{
		ContentHash: "abc", OriginURL: "https://x.it/b.pdf", Filename: "b.pdf",
		DetectedYear: 2023, ByteSize: 10, LocalPath: "/raw/abc",
		FirstSeenAt: time.Now(),
	})
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertDocument_Conflict(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO documents`).
		WithArgs("abc", "https://x.it/b.pdf", "b.pdf", 2023, int64(10), "/raw/abc", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	inserted, err := s.InsertDocument(context.Background(), model.Document{
		ContentHash: "abc", OriginURL: "https://x.it/b.pdf", Filename: "b.pdf",
		DetectedYear: 2023, ByteSize: 10, LocalPath: "/raw/abc",
		FirstSeenAt: time.Now(),
	})
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetDocument_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .+ FROM documents WHERE content_hash = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	doc, err := s.GetDocument(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, doc)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetDocument(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	seen := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT .+ FROM documents WHERE content_hash = \$1`).
		WithArgs("abc").
		WillReturnRows(pgxmock.NewRows([]string{
			"content_hash", "origin_url", "filename", "detected_year",
			"byte_size", "local_path", "extractor", "unextractable", "created_at",
		}).AddRow("abc", "https://x.it/b.pdf", "b.pdf", 2023,
			int64(10), "/raw/abc", "pdftotext", false, seen))

	doc, err := s.GetDocument(context.Background(), "abc")
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, "pdftotext", doc.Extractor)
	assert.Equal(t, 2023, doc.DetectedYear)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateDocumentYear_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE documents SET detected_year`).
		WithArgs(2021, "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateDocumentYear(context.Background(), "missing", 2021)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetLLMCache_Miss(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT response_payload FROM llm_cache`).
		WithArgs("key").
		WillReturnError(pgx.ErrNoRows)

	payload, err := s.GetLLMCache(context.Background(), "key")
	require.NoError(t, err)
	assert.Nil(t, payload)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertPages_Transaction(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO page_texts`).
		WithArgs("abc", 1, "pagina uno", 2023).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO page_texts`).
		WithArgs("abc", 2, "pagina due", 0).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := s.InsertPages(context.Background(), []model.PageText{
		{ContentHash: "abc", PageNo: 1, Text: "pagina uno", YearHint: 2023},
		{ContentHash: "abc", PageNo: 2, Text: "pagina due", YearHint: model.YearUnknown},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Stats(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT`).
		WillReturnRows(pgxmock.NewRows([]string{"d", "e", "u", "p", "l"}).
			AddRow(5, 3, 1, 42, 7))

	stats, err := s.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Documents)
	assert.Equal(t, 42, stats.Pages)
	assert.NoError(t, mock.ExpectationsWereMet())
}
