package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/civicdata/comune-cli/internal/model"
)

// Pool abstracts pgxpool.Pool so tests can substitute pgxmock.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// PostgresStore implements Store on a shared Postgres database.
type PostgresStore struct {
	pool Pool
}

// NewPostgres connects to Postgres using the given connection string.
func NewPostgres(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	cfg.MaxConns = 10
	cfg.MinConns = 2
	cfg.MaxConnLifetime = time.Hour

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresFromPool wraps an existing pool. Used by tests.
func NewPostgresFromPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS documents (
	content_hash  TEXT PRIMARY KEY,
	origin_url    TEXT NOT NULL,
	filename      TEXT NOT NULL,
	detected_year INTEGER NOT NULL DEFAULT 0,
	byte_size     BIGINT NOT NULL,
	local_path    TEXT NOT NULL,
	extractor     TEXT NOT NULL DEFAULT '',
	unextractable BOOLEAN NOT NULL DEFAULT FALSE,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
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
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_documents_url ON documents(origin_url);
CREATE INDEX IF NOT EXISTS idx_documents_year ON documents(detected_year);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) InsertDocument(ctx context.Context, doc model.Document) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO documents (content_hash, origin_url, filename, detected_year, byte_size, local_path, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (content_hash) DO NOTHING`,
		doc.ContentHash, doc.OriginURL, doc.Filename, doc.DetectedYear,
		doc.ByteSize, doc.LocalPath, doc.FirstSeenAt.UTC(),
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: insert document %s", doc.ContentHash)
	}
	return tag.RowsAffected() > 0, nil
}

const pgDocumentColumns = `content_hash, origin_url, filename, detected_year, byte_size, local_path, extractor, unextractable, created_at`

func (s *PostgresStore) GetDocument(ctx context.Context, contentHash string) (*model.Document, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pgDocumentColumns+` FROM documents WHERE content_hash = $1`, contentHash)
	return scanPgDocument(row)
}

func (s *PostgresStore) GetDocumentByURL(ctx context.Context, originURL string) (*model.Document, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pgDocumentColumns+` FROM documents WHERE origin_url = $1 LIMIT 1`, originURL)
	return scanPgDocument(row)
}

func (s *PostgresStore) ListDocuments(ctx context.Context) ([]model.Document, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgDocumentColumns+` FROM documents ORDER BY content_hash`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list documents")
	}
	defer rows.Close()
	return collectPgDocuments(rows)
}

func (s *PostgresStore) ListDocumentsByYear(ctx context.Context, year int) ([]model.Document, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgDocumentColumns+` FROM documents WHERE detected_year = $1 ORDER BY content_hash`, year)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list documents for year %d", year)
	}
	defer rows.Close()
	return collectPgDocuments(rows)
}

func (s *PostgresStore) UpdateDocumentYear(ctx context.Context, contentHash string, year int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE documents SET detected_year = $1 WHERE content_hash = $2`, year, contentHash)
	if err != nil {
		return eris.Wrapf(err, "postgres: update year for %s", contentHash)
	}
	return checkTag(tag, "document", contentHash)
}

func (s *PostgresStore) SetExtractor(ctx context.Context, contentHash, extractor string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE documents SET extractor = $1, unextractable = FALSE WHERE content_hash = $2`,
		extractor, contentHash)
	if err != nil {
		return eris.Wrapf(err, "postgres: set extractor for %s", contentHash)
	}
	return checkTag(tag, "document", contentHash)
}

func (s *PostgresStore) MarkUnextractable(ctx context.Context, contentHash string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE documents SET unextractable = TRUE WHERE content_hash = $1`, contentHash)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark unextractable %s", contentHash)
	}
	return checkTag(tag, "document", contentHash)
}

func (s *PostgresStore) InsertPages(ctx context.Context, pages []model.PageText) error {
	if len(pages) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin insert pages")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, p := range pages {
		_, err := tx.Exec(ctx,
			`INSERT INTO page_texts (content_hash, page_no, text, year_hint) VALUES ($1, $2, $3, $4)
			 ON CONFLICT (content_hash, page_no) DO NOTHING`,
			p.ContentHash, p.PageNo, p.Text, p.YearHint)
		if err != nil {
			return eris.Wrapf(err, "postgres: insert page %s/%d", p.ContentHash, p.PageNo)
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit insert pages")
}

func (s *PostgresStore) GetPages(ctx context.Context, contentHash string) ([]model.PageText, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT content_hash, page_no, text, year_hint FROM page_texts
		 WHERE content_hash = $1 ORDER BY page_no`, contentHash)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get pages for %s", contentHash)
	}
	defer rows.Close()

	var pages []model.PageText
	for rows.Next() {
		var p model.PageText
		if err := rows.Scan(&p.ContentHash, &p.PageNo, &p.Text, &p.YearHint); err != nil {
			return nil, eris.Wrap(err, "postgres: scan page")
		}
		pages = append(pages, p)
	}
	return pages, eris.Wrap(rows.Err(), "postgres: iterate pages")
}

func (s *PostgresStore) GetLLMCache(ctx context.Context, requestKey string) ([]byte, error) {
	var payload string
	err := s.pool.QueryRow(ctx,
		`SELECT response_payload FROM llm_cache WHERE request_key = $1`, requestKey).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get llm cache")
	}
	return []byte(payload), nil
}

func (s *PostgresStore) PutLLMCache(ctx context.Context, requestKey, requestHash string, payload []byte) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO llm_cache (request_key, request_hash, response_payload, created_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (request_key) DO NOTHING`,
		requestKey, requestHash, string(payload), time.Now().UTC())
	return eris.Wrap(err, "postgres: put llm cache")
}

func (s *PostgresStore) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	row := s.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM documents),
			(SELECT COUNT(*) FROM documents WHERE extractor != ''),
			(SELECT COUNT(*) FROM documents WHERE unextractable),
			(SELECT COUNT(*) FROM page_texts),
			(SELECT COUNT(*) FROM llm_cache)`)
	if err := row.Scan(&st.Documents, &st.Extracted, &st.Unextractable, &st.Pages, &st.LLMCache); err != nil {
		return nil, eris.Wrap(err, "postgres: stats")
	}
	return &st, nil
}

func checkTag(tag pgconn.CommandTag, entity, id string) error {
	if tag.RowsAffected() == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

func scanPgDocument(row pgx.Row) (*model.Document, error) {
	var d model.Document
	err := row.Scan(&d.ContentHash, &d.OriginURL, &d.Filename, &d.DetectedYear,
		&d.ByteSize, &d.LocalPath, &d.Extractor, &d.Unextractable, &d.FirstSeenAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan document")
	}
	return &d, nil
}

func collectPgDocuments(rows pgx.Rows) ([]model.Document, error) {
	var docs []model.Document
	for rows.Next() {
		d, err := scanPgDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *d)
	}
	return docs, eris.Wrap(rows.Err(), "postgres: iterate documents")
}
