// Package index maintains the incremental, per-year ranked-retrieval index
// over page chunks. Partitions persist to disk in a schema-tagged JSON format
// and older whole-document snapshots are upgraded on load.
package index

import (
	"sort"
	"sync"

	"github.com/civicdata/comune-cli/internal/model"
)

// RankedIndex holds one BM25 partition per detected year plus one for
// documents with no detected year. Writes are serialized; queries take a
// read lock and may run concurrently.
type RankedIndex struct {
	mu         sync.RWMutex
	partitions map[int]*partition
	dirty      map[int]bool
	dir        string
}

// New creates an empty index persisting under dir.
func New(dir string) *RankedIndex {
	return &RankedIndex{
		partitions: make(map[int]*partition),
		dirty:      make(map[int]bool),
		dir:        dir,
	}
}

// Add merges chunks into their year partitions, routing each chunk by its
// Year field (model.YearUnknown lands in the unknown partition). Chunks
// already indexed are skipped. Returns the number of newly indexed chunks.
func (ix *RankedIndex) Add(chunks []model.Chunk) int {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	added := 0
	for _, chunk := range chunks {
		p := ix.partitions[chunk.Year]
		if p == nil {
			p = newPartition()
			ix.partitions[chunk.Year] = p
		}
		if p.add(chunk) {
			ix.dirty[chunk.Year] = true
			added++
		}
	}
	return added
}

// Repartition moves a chunk whose year was corrected: it is removed from the
// oldYear partition and reinserted under chunk.Year.
func (ix *RankedIndex) Repartition(chunk model.Chunk, oldYear int) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if p := ix.partitions[oldYear]; p != nil && p.remove(chunk.ID()) {
		ix.dirty[oldYear] = true
	}
	p := ix.partitions[chunk.Year]
	if p == nil {
		p = newPartition()
		ix.partitions[chunk.Year] = p
	}
	if p.add(chunk) {
		ix.dirty[chunk.Year] = true
	}
}

// Query ranks the year's partition against the query text. An absent or
// empty partition yields an empty result, not an error.
func (ix *RankedIndex) Query(text string, year, topK int, minScore float64) []Scored {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	p := ix.partitions[year]
	if p == nil {
		return nil
	}
	return p.query(text, topK, minScore)
}

// Years lists the partition keys in ascending order.
func (ix *RankedIndex) Years() []int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	years := make([]int, 0, len(ix.partitions))
	for y := range ix.partitions {
		years = append(years, y)
	}
	sort.Ints(years)
	return years
}

// Size returns the number of chunks indexed under a year.
func (ix *RankedIndex) Size(year int) int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	p := ix.partitions[year]
	if p == nil {
		return 0
	}
	return p.size()
}

// TotalSize returns the number of chunks across all partitions.
func (ix *RankedIndex) TotalSize() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	total := 0
	for _, p := range ix.partitions {
		total += p.size()
	}
	return total
}
