// Package extract runs the confidence-gated strategy cascade that turns
// ranked candidate chunks into cell values. Strategies are tried in fixed
// priority order per candidate; the first result clearing the active
// threshold wins and stops the cascade.
package extract

import (
	"context"

	"github.com/civicdata/comune-cli/internal/model"
)

// Strategy attempts to extract one indicator value from one chunk.
// A nil result with nil error is an explicit no-match; an error means the
// strategy itself failed (timeout, malformed response) and the cascade
// continues as if it were a no-match.
type Strategy interface {
	Name() model.Method
	Attempt(ctx context.Context, chunk model.Chunk, indicator string, year int) (*model.Result, error)
}
