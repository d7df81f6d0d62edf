package extract

import (
	"sync"

	"github.com/civicdata/comune-cli/internal/model"
)

// Trace collects the audit trail in memory. Safe for concurrent use; the
// pipeline drains it into the audit CSVs at the end of a run.
type Trace struct {
	mu       sync.Mutex
	attempts []model.SourceRow
	queries  []model.QueryRow
}

func NewTrace() *Trace {
	return &Trace{}
}

func (t *Trace) RecordAttempt(row model.SourceRow) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attempts = append(t.attempts, row)
}

func (t *Trace) RecordQueries(row model.QueryRow) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.queries = append(t.queries, row)
}

// Attempts returns a copy of the attempt rows recorded so far.
func (t *Trace) Attempts() []model.SourceRow {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]model.SourceRow, len(t.attempts))
	copy(out, t.attempts)
	return out
}

// Queries returns a copy of the query rows recorded so far.
func (t *Trace) Queries() []model.QueryRow {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]model.QueryRow, len(t.queries))
	copy(out, t.queries)
	return out
}
