package index

import (
	"math"
	"sort"

	"github.com/civicdata/comune-cli/internal/model"
)

// BM25 parameters, standard values.
const (
	bm25K1 = 1.5
	bm25B  = 0.75
)

// Scored pairs a chunk with its retrieval score.
type Scored struct {
	Chunk model.Chunk
	Score float64
}

// partition is the ranked-retrieval structure for one year. Postings are
// merged incrementally on add; the structure is not safe for concurrent
// mutation (RankedIndex serializes writers).
type partition struct {
	chunks   []model.Chunk
	byID     map[model.ChunkID]int
	postings map[string][]posting
	docLen   []int
	totalLen int
}

type posting struct {
	doc int
	tf  int
}

func newPartition() *partition {
	return &partition{
		byID:     make(map[model.ChunkID]int),
		postings: make(map[string][]posting),
	}
}

// add merges one chunk into the term statistics. A chunk already present is
// left untouched.
func (p *partition) add(chunk model.Chunk) bool {
	id := chunk.ID()
	if _, ok := p.byID[id]; ok {
		return false
	}

	tokens := Tokenize(chunk.Text)
	doc := len(p.chunks)
	p.chunks = append(p.chunks, chunk)
	p.byID[id] = doc
	p.docLen = append(p.docLen, len(tokens))
	p.totalLen += len(tokens)

	tf := make(map[string]int, len(tokens))
	for _, tok := range tokens {
		tf[tok]++
	}
	for tok, n := range tf {
		p.postings[tok] = append(p.postings[tok], posting{doc: doc, tf: n})
	}
	return true
}

// remove drops a chunk from the partition. Postings are rebuilt from the
// remaining chunks; removal is rare (year re-partitioning only).
func (p *partition) remove(id model.ChunkID) bool {
	if _, ok := p.byID[id]; !ok {
		return false
	}
	remaining := make([]model.Chunk, 0, len(p.chunks)-1)
	for _, c := range p.chunks {
		if c.ID() != id {
			remaining = append(remaining, c)
		}
	}
	*p = *newPartition()
	for _, c := range remaining {
		p.add(c)
	}
	return true
}

func (p *partition) size() int {
	return len(p.chunks)
}

// query scores the partition against the tokenized query with BM25 and
// returns up to topK chunks above minScore, ordered by descending score with
// (content_hash, page_no) as the deterministic tie-break.
func (p *partition) query(text string, topK int, minScore float64) []Scored {
	if len(p.chunks) == 0 || topK <= 0 {
		return nil
	}

	tokens := Tokenize(text)
	if len(tokens) == 0 {
		return nil
	}

	n := float64(len(p.chunks))
	avgdl := float64(p.totalLen) / n

	scores := make(map[int]float64)
	for _, tok := range tokens {
		plist := p.postings[tok]
		if len(plist) == 0 {
			continue
		}
		df := float64(len(plist))
		idf := math.Log(1 + (n-df+0.5)/(df+0.5))
		for _, pst := range plist {
			tf := float64(pst.tf)
			dl := float64(p.docLen[pst.doc])
			scores[pst.doc] += idf * tf * (bm25K1 + 1) / (tf + bm25K1*(1-bm25B+bm25B*dl/avgdl))
		}
	}

	results := make([]Scored, 0, len(scores))
	for doc, score := range scores {
		if score >= minScore && score > 0 {
			results = append(results, Scored{Chunk: p.chunks[doc], Score: score})
		}
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Chunk.ID().Less(results[j].Chunk.ID())
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results
}
