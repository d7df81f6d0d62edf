// Package pipeline orchestrates a full cell-filling run: crawl the
// comune site, extract and index document text, resolve every missing
// cell and write the filled datasets plus the audit outputs.
package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/civicdata/comune-cli/internal/crawl"
	"github.com/civicdata/comune-cli/internal/csvio"
	"github.com/civicdata/comune-cli/internal/extract"
	"github.com/civicdata/comune-cli/internal/model"
)

// Crawler discovers and downloads documents. Satisfied by crawl.Crawler.
type Crawler interface {
	Run(ctx context.Context, seeds []string) (*crawl.Report, error)
}

// Library lists the catalog's documents. Satisfied by catalog.Catalog.
type Library interface {
	Documents(ctx context.Context) ([]model.Document, error)
}

// Chunker turns a cataloged document into indexable page chunks.
// Satisfied by index.ChunkStore.
type Chunker interface {
	EnsureChunks(ctx context.Context, contentHash string) ([]model.Chunk, error)
}

// Indexer accepts chunks and persists partitions. Satisfied by
// index.RankedIndex.
type Indexer interface {
	Add(chunks []model.Chunk) int
	Save(ctx context.Context) error
	TotalSize() int
}

// Resolver resolves missing cells. Satisfied by extract.Orchestrator.
type Resolver interface {
	ResolveAll(ctx context.Context, cells []model.MissingCell, concurrency int) ([]model.CellResolution, error)
}

// Options tunes a run.
type Options struct {
	InputDir           string
	OutputDir          string
	Seeds              []string
	SkipCrawl          bool
	ExtractConcurrency int
	CellConcurrency    int
}

// Pipeline wires the run's collaborators together.
type Pipeline struct {
	crawler  Crawler
	library  Library
	chunker  Chunker
	index    Indexer
	resolver Resolver
	trace    *extract.Trace
	opts     Options
}

func New(crawler Crawler, library Library, chunker Chunker, index Indexer, resolver Resolver, trace *extract.Trace, opts Options) *Pipeline {
	if opts.ExtractConcurrency <= 0 {
		opts.ExtractConcurrency = 4
	}
	if opts.CellConcurrency <= 0 {
		opts.CellConcurrency = 4
	}
	return &Pipeline{
		crawler:  crawler,
		library:  library,
		chunker:  chunker,
		index:    index,
		resolver: resolver,
		trace:    trace,
		opts:     opts,
	}
}

// PhaseReport records one phase's outcome.
type PhaseReport struct {
	Name     string
	Duration time.Duration
	Err      error
}

// RunReport summarizes a full run.
type RunReport struct {
	RunID         string
	Phases        []PhaseReport
	Datasets      []string
	MissingCells  int
	FilledCells   int
	NotFoundCells int
	IndexedChunks int
	Outputs       []string
}

// trackPhase runs fn with duration logging and records the outcome.
func (p *Pipeline) trackPhase(report *RunReport, name string, fn func() error) error {
	start := time.Now()
	err := fn()
	duration := time.Since(start)
	report.Phases = append(report.Phases, PhaseReport{Name: name, Duration: duration, Err: err})

	if err != nil {
		zap.L().Error("pipeline: phase failed",
			zap.String("phase", name),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
	} else {
		zap.L().Info("pipeline: phase complete",
			zap.String("phase", name),
			zap.Duration("duration", duration),
		)
	}
	return err
}

// Run executes every phase. A crawl failure degrades the run (already
// cataloged documents still serve); any later phase failure aborts it.
func (p *Pipeline) Run(ctx context.Context) (*RunReport, error) {
	report := &RunReport{RunID: uuid.NewString()}
	zap.L().Info("pipeline: starting run", zap.String("run_id", report.RunID))

	// 1. Load input datasets and find their missing cells.
	var datasets []*csvio.Dataset
	var cells []model.MissingCell
	if err := p.trackPhase(report, "1_load", func() error {
		var err error
		datasets, err = p.loadDatasets()
		if err != nil {
			return err
		}
		for _, ds := range datasets {
			report.Datasets = append(report.Datasets, ds.Name)
			cells = append(cells, ds.MissingCells()...)
		}
		report.MissingCells = len(cells)
		return nil
	}); err != nil {
		return report, err
	}

	if len(cells) == 0 {
		zap.L().Info("pipeline: nothing to fill")
		return report, nil
	}

	// 2. Crawl for new documents.
	if !p.opts.SkipCrawl && len(p.opts.Seeds) > 0 {
		_ = p.trackPhase(report, "2_crawl", func() error {
			_, err := p.crawler.Run(ctx, p.opts.Seeds)
			return err
		})
	}

	// 3. Extract text and index every cataloged document.
	if err := p.trackPhase(report, "3_index", func() error {
		return p.indexDocuments(ctx)
	}); err != nil {
		return report, err
	}
	report.IndexedChunks = p.index.TotalSize()

	// 4. Persist the index before the long extraction phase.
	if err := p.trackPhase(report, "4_persist_index", func() error {
		return p.index.Save(ctx)
	}); err != nil {
		return report, err
	}

	// 5. Resolve every missing cell.
	var resolutions []model.CellResolution
	if err := p.trackPhase(report, "5_resolve", func() error {
		var err error
		resolutions, err = p.resolver.ResolveAll(ctx, cells, p.opts.CellConcurrency)
		return err
	}); err != nil {
		return report, err
	}
	for _, res := range resolutions {
		if res.Status == model.CellAccepted {
			report.FilledCells++
		} else {
			report.NotFoundCells++
		}
	}

	// 6. Write the filled datasets and the audit outputs.
	if err := p.trackPhase(report, "6_write", func() error {
		return p.writeOutputs(report, datasets, resolutions)
	}); err != nil {
		return report, err
	}

	zap.L().Info("pipeline: run complete",
		zap.Int("missing_cells", report.MissingCells),
		zap.Int("filled", report.FilledCells),
		zap.Int("not_found", report.NotFoundCells),
		zap.Int("indexed_chunks", report.IndexedChunks),
	)
	return report, nil
}

func (p *Pipeline) loadDatasets() ([]*csvio.Dataset, error) {
	entries, err := os.ReadDir(p.opts.InputDir)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: read input dir %s", p.opts.InputDir)
	}

	var datasets []*csvio.Dataset
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".csv" && ext != ".xlsx" {
			continue
		}
		ds, err := csvio.Load(filepath.Join(p.opts.InputDir, entry.Name()))
		if err != nil {
			return nil, err
		}
		datasets = append(datasets, ds)
	}
	if len(datasets) == 0 {
		return nil, eris.Errorf("pipeline: no datasets in %s", p.opts.InputDir)
	}
	sort.Slice(datasets, func(i, j int) bool { return datasets[i].Name < datasets[j].Name })
	return datasets, nil
}

// indexDocuments chunks every cataloged document concurrently and feeds
// the chunks to the index. Unextractable documents are skipped.
func (p *Pipeline) indexDocuments(ctx context.Context) error {
	docs, err := p.library.Documents(ctx)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.ExtractConcurrency)
	for _, doc := range docs {
		g.Go(func() error {
			chunks, err := p.chunker.EnsureChunks(ctx, doc.ContentHash)
			if err != nil {
				zap.L().Warn("pipeline: document skipped",
					zap.String("content_hash", doc.ContentHash),
					zap.String("filename", doc.Filename),
					zap.Error(err),
				)
				return nil
			}
			p.index.Add(chunks)
			return nil
		})
	}
	return g.Wait()
}

func (p *Pipeline) writeOutputs(report *RunReport, datasets []*csvio.Dataset, resolutions []model.CellResolution) error {
	for _, ds := range datasets {
		ds.Fill(resolutions)
		path, err := ds.WriteFilled(p.opts.OutputDir)
		if err != nil {
			return err
		}
		report.Outputs = append(report.Outputs, path)
	}

	sources, err := csvio.WriteSources(p.opts.OutputDir, p.trace.Attempts())
	if err != nil {
		return err
	}
	queries, err := csvio.WriteQueries(p.opts.OutputDir, p.trace.Queries())
	if err != nil {
		return err
	}
	report.Outputs = append(report.Outputs, sources, queries)
	return nil
}
