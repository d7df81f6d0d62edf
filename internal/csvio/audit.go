package csvio

import (
	"os"
	"path/filepath"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"

	"github.com/civicdata/comune-cli/internal/model"
)

// WriteSources writes the per-attempt traceability rows as
// sources_long.csv under dir.
func WriteSources(dir string, rows []model.SourceRow) (string, error) {
	return writeAudit(dir, "sources_long.csv", rows)
}

// WriteQueries writes the generated-query audit rows as
// queries_generated.csv under dir.
func WriteQueries(dir string, rows []model.QueryRow) (string, error) {
	return writeAudit(dir, "queries_generated.csv", rows)
}

// writeAudit marshals typed rows through their csv tags. An empty slice
// still produces a header-only file so downstream tooling always finds
// the audit outputs.
func writeAudit[T any](dir, name string, rows []T) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", eris.Wrap(err, "csvio: create output dir")
	}
	path := filepath.Join(dir, name)

	data, err := csvutil.Marshal(rows)
	if err != nil {
		return "", eris.Wrapf(err, "csvio: marshal %s", name)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", eris.Wrapf(err, "csvio: write %s", path)
	}
	return path, nil
}
