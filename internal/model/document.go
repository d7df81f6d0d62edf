package model

import "time"

// YearUnknown is the partition key used for documents and chunks whose
// reference year could not be detected.
const YearUnknown = 0

// Document is one stored document, identified by the SHA-256 digest of its
// raw bytes. Many origin URLs may map to the same Document; at most one copy
// is ever stored per content hash.
type Document struct {
	ContentHash   string    `json:"content_hash"`
	OriginURL     string    `json:"origin_url"`
	Filename      string    `json:"filename"`
	DetectedYear  int       `json:"detected_year"` // YearUnknown when undetected
	ByteSize      int64     `json:"byte_size"`
	LocalPath     string    `json:"local_path"`
	Extractor     string    `json:"extractor"` // extractor that produced the page texts, "" until extracted
	Unextractable bool      `json:"unextractable"`
	FirstSeenAt   time.Time `json:"first_seen_at"`
}

// PageText is the extracted text of a single page of a Document.
// Immutable once written; keyed by (content_hash, page_no), 1-based.
type PageText struct {
	ContentHash string `json:"content_hash"`
	PageNo      int    `json:"page_no"`
	Text        string `json:"text"`
	YearHint    int    `json:"year_hint"` // YearUnknown when no page-level year was detected
}

// Chunk is the atomic retrieval unit: one page of one document.
// Identity is (ContentHash, PageNo).
type Chunk struct {
	ContentHash string `json:"content_hash"`
	PageNo      int    `json:"page_no"`
	Text        string `json:"text"`
	Year        int    `json:"year"` // page year hint, falling back to the document year
	OriginURL   string `json:"origin_url"`
	Filename    string `json:"filename"`
}

// ChunkID identifies a chunk without carrying its text.
type ChunkID struct {
	ContentHash string
	PageNo      int
}

// ID returns the chunk's identity key.
func (c Chunk) ID() ChunkID {
	return ChunkID{ContentHash: c.ContentHash, PageNo: c.PageNo}
}

// Less orders chunk identities by (content_hash, page_no) ascending. Used as
// the deterministic tie-break for equal retrieval scores.
func (id ChunkID) Less(other ChunkID) bool {
	if id.ContentHash != other.ContentHash {
		return id.ContentHash < other.ContentHash
	}
	return id.PageNo < other.PageNo
}
