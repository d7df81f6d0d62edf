package index

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/civicdata/comune-cli/internal/model"
)

// Persistence schema. Version 1 snapshots were built over whole documents
// (one entry per document, page_no 0); version 2 is page-chunk granular.
const (
	schemaVersion = 2
	unitPage      = "page"
	unitDocument  = "document"
)

type envelope struct {
	SchemaVersion int           `json:"schema_version"`
	Unit          string        `json:"unit"`
	Year          int           `json:"year"`
	Chunks        []model.Chunk `json:"chunks"`
}

// Rechunker re-materializes the page chunks of one document. Used to upgrade
// legacy whole-document snapshots on load.
type Rechunker func(ctx context.Context, contentHash string) ([]model.Chunk, error)

// Save writes every partition that changed since the last Save. Each file is
// written to a temp name and renamed into place.
func (ix *RankedIndex) Save(_ context.Context) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if len(ix.dirty) == 0 {
		return nil
	}
	if err := os.MkdirAll(ix.dir, 0o755); err != nil {
		return eris.Wrap(err, "index: create dir")
	}

	for year := range ix.dirty {
		p := ix.partitions[year]
		if p == nil {
			continue
		}
		env := envelope{
			SchemaVersion: schemaVersion,
			Unit:          unitPage,
			Year:          year,
			Chunks:        p.chunks,
		}
		data, err := json.Marshal(env)
		if err != nil {
			return eris.Wrapf(err, "index: marshal partition %d", year)
		}

		path := ix.partitionPath(year)
		tmp := path + ".tmp"
		if err := os.WriteFile(tmp, data, 0o644); err != nil {
			return eris.Wrapf(err, "index: write partition %d", year)
		}
		if err := os.Rename(tmp, path); err != nil {
			return eris.Wrapf(err, "index: rename partition %d", year)
		}
	}
	ix.dirty = make(map[int]bool)
	return nil
}

// Load reads every persisted partition from the index directory. A legacy
// whole-document snapshot is upgraded to page chunks through rechunk before
// use; upgraded partitions are marked dirty so the next Save rewrites them in
// the current format. A missing directory is an empty index.
func (ix *RankedIndex) Load(ctx context.Context, rechunk Rechunker) error {
	entries, err := os.ReadDir(ix.dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return eris.Wrap(err, "index: read dir")
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "year_") || !strings.HasSuffix(name, ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(ix.dir, name))
		if err != nil {
			return eris.Wrapf(err, "index: read partition %s", name)
		}

		env, migrated, err := decodePartition(ctx, data, rechunk)
		if err != nil {
			return eris.Wrapf(err, "index: decode partition %s", name)
		}

		// Chunks route by their own year: a migrated whole-document entry may
		// expand into pages with differing year hints.
		for _, chunk := range env.Chunks {
			p := ix.partitions[chunk.Year]
			if p == nil {
				p = newPartition()
				ix.partitions[chunk.Year] = p
			}
			if p.add(chunk) && migrated {
				ix.dirty[chunk.Year] = true
			}
		}
		if migrated {
			zap.L().Info("index partition migrated to page chunks",
				zap.String("file", name),
				zap.Int("chunks", len(env.Chunks)))
		}
	}
	return nil
}

// decodePartition parses one persisted partition, upgrading legacy formats.
// It reports whether a migration happened.
func decodePartition(ctx context.Context, data []byte, rechunk Rechunker) (envelope, bool, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return env, false, eris.Wrap(err, "unmarshal envelope")
	}

	if env.SchemaVersion >= schemaVersion && env.Unit == unitPage {
		return env, false, nil
	}

	// Whole-document snapshot: one entry per document, page_no 0. Rebuild
	// page chunks from the catalog.
	if rechunk == nil {
		return env, false, eris.New("legacy partition found but no rechunker provided")
	}

	seen := make(map[string]bool)
	var upgraded []model.Chunk
	for _, legacy := range env.Chunks {
		if seen[legacy.ContentHash] {
			continue
		}
		seen[legacy.ContentHash] = true

		chunks, err := rechunk(ctx, legacy.ContentHash)
		if err != nil {
			zap.L().Warn("legacy index entry dropped, rechunk failed",
				zap.String("hash", legacy.ContentHash),
				zap.Error(err))
			continue
		}
		upgraded = append(upgraded, chunks...)
	}
	env.Chunks = upgraded
	env.SchemaVersion = schemaVersion
	env.Unit = unitPage
	return env, true, nil
}

// Reset drops every partition, in memory and on disk. Used by full rebuilds:
// without it a year no longer present in the catalog would survive as a stale
// partition file.
func (ix *RankedIndex) Reset(_ context.Context) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	entries, err := os.ReadDir(ix.dir)
	if err != nil && !os.IsNotExist(err) {
		return eris.Wrap(err, "index: read dir")
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "year_") || !strings.HasSuffix(name, ".json") {
			continue
		}
		if err := os.Remove(filepath.Join(ix.dir, name)); err != nil {
			return eris.Wrapf(err, "index: remove partition %s", name)
		}
	}
	ix.partitions = make(map[int]*partition)
	ix.dirty = make(map[int]bool)
	return nil
}

func (ix *RankedIndex) partitionPath(year int) string {
	label := "unknown"
	if year != model.YearUnknown {
		label = strconv.Itoa(year)
	}
	return filepath.Join(ix.dir, fmt.Sprintf("year_%s.json", label))
}
