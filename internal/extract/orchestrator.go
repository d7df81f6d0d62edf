package extract

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/civicdata/comune-cli/internal/index"
	"github.com/civicdata/comune-cli/internal/model"
	"github.com/civicdata/comune-cli/internal/retrieval"
)

// Retriever is the retrieval surface the orchestrator consumes.
type Retriever interface {
	Retrieve(cell model.MissingCell) ([]index.Scored, retrieval.Queries)
}

// TraceSink receives the audit trail: one row per attempted
// (candidate, strategy) pair plus the queries built per cell.
type TraceSink interface {
	RecordAttempt(row model.SourceRow)
	RecordQueries(row model.QueryRow)
}

// Orchestrator runs the extraction cascade per missing cell. The memoization
// cache is shared across cells and workers: a (chunk, indicator, year) key is
// resolved at most once per run.
type Orchestrator struct {
	retriever  Retriever
	strategies []Strategy
	threshold  float64
	trace      TraceSink

	group singleflight.Group
	memo  sync.Map // memoKey -> *model.Result (nil value = cached no-match)
}

// New builds an orchestrator. threshold is the active early-stop threshold
// for this run (higher when no LLM strategy is present).
func New(retriever Retriever, strategies []Strategy, threshold float64, trace TraceSink) *Orchestrator {
	return &Orchestrator{
		retriever:  retriever,
		strategies: strategies,
		threshold:  threshold,
		trace:      trace,
	}
}

type memoKey struct {
	ContentHash string
	PageNo      int
	Indicator   string
	Year        int
}

func (k memoKey) String() string {
	return k.ContentHash + "|" + strconv.Itoa(k.PageNo) + "|" + k.Indicator + "|" + strconv.Itoa(k.Year)
}

// Resolve runs one cell through RETRIEVING and EXTRACTING to a terminal
// ACCEPTED or NOT_FOUND. Candidates are evaluated strictly in retrieval
// order; the first strategy outcome clearing the threshold halts everything
// after it.
func (o *Orchestrator) Resolve(ctx context.Context, cell model.MissingCell) model.CellResolution {
	candidates, queries := o.retriever.Retrieve(cell)
	o.trace.RecordQueries(model.QueryRow{
		Indicator:      cell.Indicator,
		Year:           cell.Year,
		CanonicalQuery: queries.Canonical,
		VariantQuery:   queries.Variant,
	})

	if len(candidates) == 0 {
		return model.CellResolution{Cell: cell, Status: model.CellNotFound}
	}

	indicator := normalizeIndicator(cell.Indicator)
	for _, candidate := range candidates {
		result := o.resolveChunk(ctx, candidate.Chunk, indicator, cell)
		if result != nil {
			return model.CellResolution{Cell: cell, Status: model.CellAccepted, Result: result}
		}
	}
	return model.CellResolution{Cell: cell, Status: model.CellNotFound}
}

// resolveChunk runs the strategy cascade over one chunk, memoized by
// (content_hash, page_no, indicator, year). Concurrent workers on the same
// key share a single computation.
func (o *Orchestrator) resolveChunk(ctx context.Context, chunk model.Chunk, indicator string, cell model.MissingCell) *model.Result {
	key := memoKey{
		ContentHash: chunk.ContentHash,
		PageNo:      chunk.PageNo,
		Indicator:   indicator,
		Year:        cell.Year,
	}
	if cached, ok := o.memo.Load(key); ok {
		r, _ := cached.(*model.Result)
		return r
	}

	v, _, _ := o.group.Do(key.String(), func() (any, error) {
		if cached, ok := o.memo.Load(key); ok {
			return cached, nil
		}
		result := o.runCascade(ctx, chunk, cell)
		o.memo.Store(key, result)
		return result, nil
	})
	r, _ := v.(*model.Result)
	return r
}

// runCascade tries each strategy on the chunk in priority order and returns
// the first result clearing the threshold, or nil. Every attempt lands in
// the trace sink.
func (o *Orchestrator) runCascade(ctx context.Context, chunk model.Chunk, cell model.MissingCell) *model.Result {
	for _, strategy := range o.strategies {
		row := model.SourceRow{
			Indicator:   cell.Indicator,
			Year:        cell.Year,
			Method:      string(strategy.Name()),
			OriginURL:   chunk.OriginURL,
			Filename:    chunk.Filename,
			ContentHash: chunk.ContentHash,
			PageNo:      chunk.PageNo,
		}

		result, err := strategy.Attempt(ctx, chunk, cell.Indicator, cell.Year)
		if err != nil {
			zap.L().Warn("extraction strategy failed",
				zap.String("strategy", string(strategy.Name())),
				zap.String("hash", chunk.ContentHash),
				zap.Int("page", chunk.PageNo),
				zap.String("indicator", cell.Indicator),
				zap.Error(err))
			o.trace.RecordAttempt(row)
			continue
		}
		if result == nil {
			o.trace.RecordAttempt(row)
			continue
		}

		accepted := result.Confidence >= o.threshold
		row.Value = formatValue(result.Value)
		row.Unit = string(result.Unit)
		row.Confidence = result.Confidence
		row.Accepted = accepted
		row.Evidence = result.Evidence
		o.trace.RecordAttempt(row)
		if accepted {
			return result
		}
	}
	return nil
}

// ResolveAll processes cells with bounded parallelism, preserving input
// order in the output.
func (o *Orchestrator) ResolveAll(ctx context.Context, cells []model.MissingCell, concurrency int) ([]model.CellResolution, error) {
	if concurrency < 1 {
		concurrency = 1
	}
	resolutions := make([]model.CellResolution, len(cells))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, cell := range cells {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			resolutions[i] = o.Resolve(ctx, cell)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return resolutions, nil
}

func normalizeIndicator(indicator string) string {
	return strings.Join(strings.Fields(strings.ToLower(indicator)), " ")
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// NopTrace discards the audit trail. Used by tests and ad hoc queries.
type NopTrace struct{}

func (NopTrace) RecordAttempt(model.SourceRow) {}
func (NopTrace) RecordQueries(model.QueryRow)  {}
