package extract

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/civicdata/comune-cli/internal/model"
	"github.com/civicdata/comune-cli/pkg/istat"
)

// externalConfidence is the fixed confidence assigned to official-source
// values: authoritative, but matched on indicator text rather than read from
// a document.
const externalConfidence = 0.9

// Lookuper is the external source surface (implemented by istat.Client).
type Lookuper interface {
	Lookup(ctx context.Context, indicator string, year int) (*istat.Value, error)
}

// ExternalStrategy resolves cells from official national statistics. The
// lookup is keyed by (indicator, year) only, so results are cached locally
// across chunks and cells.
type ExternalStrategy struct {
	source Lookuper

	mu    sync.Mutex
	cache map[string]*istat.Value
}

func NewExternal(source Lookuper) *ExternalStrategy {
	return &ExternalStrategy{source: source, cache: make(map[string]*istat.Value)}
}

func (s *ExternalStrategy) Name() model.Method { return model.MethodExternal }

// Attempt ignores the chunk content: external values come from the source,
// the chunk only provides the cascade slot.
func (s *ExternalStrategy) Attempt(ctx context.Context, _ model.Chunk, indicator string, year int) (*model.Result, error) {
	key := fmt.Sprintf("%s|%d", strings.ToLower(strings.TrimSpace(indicator)), year)

	s.mu.Lock()
	v, hit := s.cache[key]
	s.mu.Unlock()

	if !hit {
		var err error
		v, err = s.source.Lookup(ctx, indicator, year)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.cache[key] = v
		s.mu.Unlock()
	}

	if v == nil {
		return nil, nil
	}
	return &model.Result{
		Value:      v.Number,
		Unit:       parseUnit(v.Unit),
		Year:       year,
		Evidence:   "fonte esterna: " + v.Source,
		Confidence: externalConfidence,
		Method:     model.MethodExternal,
	}, nil
}
