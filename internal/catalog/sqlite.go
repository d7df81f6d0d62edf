package catalog

import (
	"context"
	"database/sql"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/civicdata/comune-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS documents (
	content_hash  TEXT PRIMARY KEY,
	origin_url    TEXT NOT NULL,
	filename      TEXT NOT NULL,
	detected_year INTEGER NOT NULL DEFAULT 0,
	byte_size     INTEGER NOT NULL,
	local_path    TEXT NOT NULL,
	extractor     TEXT NOT NULL DEFAULT '',
	unextractable INTEGER NOT NULL DEFAULT 0,
	created_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS page_texts (
	content_hash TEXT NOT NULL REFERENCES documents(content_hash),
	page_no      INTEGER NOT NULL,
	text         TEXT NOT NULL,
	year_hint    INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (content_hash, page_no)
);

CREATE TABLE IF NOT EXISTS llm_cache (
	request_key      TEXT PRIMARY KEY,
	request_hash     TEXT NOT NULL,
	response_payload TEXT NOT NULL,
	created_at       DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_documents_url ON documents(origin_url);
CREATE INDEX IF NOT EXISTS idx_documents_year ON documents(detected_year);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) InsertDocument(ctx context.Context, doc model.Document) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (content_hash, origin_url, filename, detected_year, byte_size, local_path, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (content_hash) DO NOTHING`,
		doc.ContentHash, doc.OriginURL, doc.Filename, doc.DetectedYear,
		doc.ByteSize, doc.LocalPath, doc.FirstSeenAt.UTC(),
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: insert document %s", doc.ContentHash)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

const documentColumns = `content_hash, origin_url, filename, detected_year, byte_size, local_path, extractor, unextractable, created_at`

func (s *SQLiteStore) GetDocument(ctx context.Context, contentHash string) (*model.Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE content_hash = ?`, contentHash)
	return scanDocument(row)
}

func (s *SQLiteStore) GetDocumentByURL(ctx context.Context, originURL string) (*model.Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE origin_url = ? LIMIT 1`, originURL)
	return scanDocument(row)
}

func (s *SQLiteStore) ListDocuments(ctx context.Context) ([]model.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents ORDER BY content_hash`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list documents")
	}
	defer rows.Close()
	return collectDocuments(rows)
}

func (s *SQLiteStore) ListDocumentsByYear(ctx context.Context, year int) ([]model.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE detected_year = ? ORDER BY content_hash`, year)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list documents for year %d", year)
	}
	defer rows.Close()
	return collectDocuments(rows)
}

func (s *SQLiteStore) UpdateDocumentYear(ctx context.Context, contentHash string, year int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET detected_year = ? WHERE content_hash = ?`, year, contentHash)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update year for %s", contentHash)
	}
	return checkRowsAffected(res, "document", contentHash)
}

func (s *SQLiteStore) SetExtractor(ctx context.Context, contentHash, extractor string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET extractor = ?, unextractable = 0 WHERE content_hash = ?`, extractor, contentHash)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set extractor for %s", contentHash)
	}
	return checkRowsAffected(res, "document", contentHash)
}

func (s *SQLiteStore) MarkUnextractable(ctx context.Context, contentHash string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET unextractable = 1 WHERE content_hash = ?`, contentHash)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark unextractable %s", contentHash)
	}
	return checkRowsAffected(res, "document", contentHash)
}

func (s *SQLiteStore) InsertPages(ctx context.Context, pages []model.PageText) error {
	if len(pages) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin insert pages")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO page_texts (content_hash, page_no, text, year_hint) VALUES (?, ?, ?, ?)
		 ON CONFLICT (content_hash, page_no) DO NOTHING`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare insert page")
	}
	defer stmt.Close() //nolint:errcheck

	for _, p := range pages {
		if _, err := stmt.ExecContext(ctx, p.ContentHash, p.PageNo, p.Text, p.YearHint); err != nil {
			return eris.Wrapf(err, "sqlite: insert page %s/%d", p.ContentHash, p.PageNo)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit insert pages")
}

func (s *SQLiteStore) GetPages(ctx context.Context, contentHash string) ([]model.PageText, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT content_hash, page_no, text, year_hint FROM page_texts
		 WHERE content_hash = ? ORDER BY page_no`, contentHash)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get pages for %s", contentHash)
	}
	defer rows.Close()

	var pages []model.PageText
	for rows.Next() {
		var p model.PageText
		if err := rows.Scan(&p.ContentHash, &p.PageNo, &p.Text, &p.YearHint); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan page")
		}
		pages = append(pages, p)
	}
	return pages, eris.Wrap(rows.Err(), "sqlite: iterate pages")
}

func (s *SQLiteStore) GetLLMCache(ctx context.Context, requestKey string) ([]byte, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT response_payload FROM llm_cache WHERE request_key = ?`, requestKey).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get llm cache")
	}
	return []byte(payload), nil
}

func (s *SQLiteStore) PutLLMCache(ctx context.Context, requestKey, requestHash string, payload []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO llm_cache (request_key, request_hash, response_payload, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (request_key) DO NOTHING`,
		requestKey, requestHash, string(payload), time.Now().UTC(),
	)
	return eris.Wrap(err, "sqlite: put llm cache")
}

func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	row := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM documents),
			(SELECT COUNT(*) FROM documents WHERE extractor != ''),
			(SELECT COUNT(*) FROM documents WHERE unextractable = 1),
			(SELECT COUNT(*) FROM page_texts),
			(SELECT COUNT(*) FROM llm_cache)`)
	if err := row.Scan(&st.Documents, &st.Extracted, &st.Unextractable, &st.Pages, &st.LLMCache); err != nil {
		return nil, eris.Wrap(err, "sqlite: stats")
	}
	return &st, nil
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanDocument(row scannable) (*model.Document, error) {
	var d model.Document
	var unextractable int
	err := row.Scan(&d.ContentHash, &d.OriginURL, &d.Filename, &d.DetectedYear,
		&d.ByteSize, &d.LocalPath, &d.Extractor, &unextractable, &d.FirstSeenAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan document")
	}
	d.Unextractable = unextractable != 0
	return &d, nil
}

func collectDocuments(rows *sql.Rows) ([]model.Document, error) {
	var docs []model.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *d)
	}
	return docs, eris.Wrap(rows.Err(), "sqlite: iterate documents")
}
