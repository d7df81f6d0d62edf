package retrieval

import (
	"sort"

	"github.com/civicdata/comune-cli/internal/index"
	"github.com/civicdata/comune-cli/internal/model"
)

// Ranker is the index surface the engine queries.
type Ranker interface {
	Query(text string, year, topK int, minScore float64) []index.Scored
}

// Engine ranks candidate chunks for a missing cell.
type Engine struct {
	ranker   Ranker
	synonyms Synonyms
	topK     int
	minScore float64
}

func NewEngine(ranker Ranker, synonyms Synonyms, topK int, minScore float64) *Engine {
	return &Engine{ranker: ranker, synonyms: synonyms, topK: topK, minScore: minScore}
}

// Retrieve runs the cell's 1-2 queries against the year partition and merges
// the result lists, deduplicating by chunk identity and keeping the higher
// score. Returns the queries for the audit trail alongside the candidates.
func (e *Engine) Retrieve(cell model.MissingCell) ([]index.Scored, Queries) {
	queries := BuildQueries(cell.Indicator, cell.Category, cell.Year, e.synonyms)

	best := make(map[model.ChunkID]index.Scored)
	for _, q := range []string{queries.Canonical, queries.Variant} {
		if q == "" {
			continue
		}
		for _, s := range e.ranker.Query(q, cell.Year, e.topK, e.minScore) {
			id := s.Chunk.ID()
			if prev, ok := best[id]; !ok || s.Score > prev.Score {
				best[id] = s
			}
		}
	}

	merged := make([]index.Scored, 0, len(best))
	for _, s := range best {
		merged = append(merged, s)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		return merged[i].Chunk.ID().Less(merged[j].Chunk.ID())
	})
	if len(merged) > e.topK {
		merged = merged[:e.topK]
	}
	return merged, queries
}
