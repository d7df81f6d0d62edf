package main

import (
	"context"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/civicdata/comune-cli/internal/catalog"
	"github.com/civicdata/comune-cli/internal/crawl"
	"github.com/civicdata/comune-cli/internal/extract"
	"github.com/civicdata/comune-cli/internal/index"
	"github.com/civicdata/comune-cli/internal/pdftext"
	"github.com/civicdata/comune-cli/internal/pipeline"
	"github.com/civicdata/comune-cli/internal/retrieval"
	"github.com/civicdata/comune-cli/pkg/anthropic"
	"github.com/civicdata/comune-cli/pkg/istat"
)

// env holds the wired collaborators for one command invocation.
type env struct {
	Store    catalog.Store
	Catalog  *catalog.Catalog
	Chunks   *index.ChunkStore
	Index    *index.RankedIndex
	Trace    *extract.Trace
	Crawler  *crawl.Crawler
	Pipeline *pipeline.Pipeline
}

func (e *env) Close() {
	if err := e.Store.Close(); err != nil {
		zap.L().Warn("close store", zap.Error(err))
	}
}

func openStore(ctx context.Context) (catalog.Store, error) {
	var store catalog.Store
	var err error
	switch cfg.Store.Driver {
	case "postgres":
		store, err = catalog.NewPostgres(ctx, cfg.Store.DatabaseURL)
	case "", "sqlite":
		store, err = catalog.NewSQLite(cfg.CatalogPath())
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// initEnv opens the store, loads the index and wires the full pipeline.
func initEnv(ctx context.Context) (*env, error) {
	for _, dir := range []string{cfg.RawDir(), cfg.IndexDir(), cfg.Comune.OutputDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, eris.Wrapf(err, "create %s", dir)
		}
	}

	store, err := openStore(ctx)
	if err != nil {
		return nil, err
	}

	cat := catalog.New(store, pdftext.New(cfg.OCR), cfg.RawDir())
	chunks := index.NewChunkStore(cat)

	idx := index.New(cfg.IndexDir())
	if err := idx.Load(ctx, chunks.Rechunker()); err != nil {
		_ = store.Close()
		return nil, err
	}

	synonyms, err := retrieval.LoadSynonyms(cfg.Retrieval.SynonymsPath)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	engine := retrieval.NewEngine(idx, synonyms, cfg.Retrieval.TopK, cfg.Retrieval.MinScore)

	strategies, threshold := buildStrategies(cat)
	trace := extract.NewTrace()
	orch := extract.New(engine, strategies, threshold, trace)

	crawler := crawl.New(cat, crawl.Options{
		MaxPages:            cfg.Crawl.MaxPages,
		MaxDocuments:        cfg.Crawl.MaxDocuments,
		DownloadConcurrency: cfg.Crawl.DownloadConcurrency,
		RequestsPerSecond:   cfg.Crawl.RequestsPerSecond,
		Timeout:             time.Duration(cfg.Crawl.TimeoutSecs) * time.Second,
		UserAgent:           cfg.Crawl.UserAgent,
	})

	var seeds []string
	if cfg.Comune.BaseURL != "" {
		seeds = append(seeds, cfg.Comune.BaseURL)
	}
	pipe := pipeline.New(crawler, cat, chunks, idx, orch, trace, pipeline.Options{
		InputDir:           cfg.Comune.InputDir,
		OutputDir:          cfg.Comune.OutputDir,
		Seeds:              seeds,
		SkipCrawl:          runSkipCrawl || len(seeds) == 0,
		ExtractConcurrency: cfg.Crawl.ExtractConcurrency,
		CellConcurrency:    cfg.Extract.CellConcurrency,
	})

	return &env{
		Store:    store,
		Catalog:  cat,
		Chunks:   chunks,
		Index:    idx,
		Trace:    trace,
		Crawler:  crawler,
		Pipeline: pipe,
	}, nil
}

// buildStrategies assembles the cascade in priority order and picks the
// matching early-stop threshold.
func buildStrategies(cat *catalog.Catalog) ([]extract.Strategy, float64) {
	var strategies []extract.Strategy
	threshold := cfg.Extract.EarlyStopHeuristic

	if cfg.LLM.Enabled && cfg.LLM.Key != "" {
		client := anthropic.NewClient(cfg.LLM.Key)
		strategies = append(strategies, extract.NewLLM(
			client,
			cat.LLMCache(),
			cfg.LLM.Model,
			cfg.LLM.ConfidenceThreshold,
			time.Duration(cfg.LLM.TimeoutSecs)*time.Second,
			cfg.LLM.MaxDocs,
		))
		threshold = cfg.Extract.EarlyStopWithLLM
	}

	strategies = append(strategies, extract.NewHeuristic())

	if cfg.External.Enabled {
		source := istat.New(cfg.External.BaseURL, cfg.Comune.Name, time.Duration(cfg.External.TimeoutSecs)*time.Second)
		strategies = append(strategies, extract.NewExternal(source))
	}

	return strategies, threshold
}
