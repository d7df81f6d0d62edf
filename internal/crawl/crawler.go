package crawl

import (
	"bytes"
	"context"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/civicdata/comune-cli/internal/model"
)

// Registrar receives downloaded documents and answers whether an origin URL
// is already cataloged. Satisfied by catalog.Catalog.
type Registrar interface {
	Register(ctx context.Context, raw []byte, originURL, filename string) (*model.Document, bool, error)
	DocumentByURL(ctx context.Context, originURL string) (*model.Document, error)
}

// Options bounds a crawl run.
type Options struct {
	MaxPages            int
	MaxDocuments        int
	DownloadConcurrency int
	RequestsPerSecond   float64
	Timeout             time.Duration
	UserAgent           string
}

// Report summarizes one crawl run.
type Report struct {
	PagesVisited  int
	DocumentsSeen int
	NewDocuments  int
	Failures      int
}

// Crawler walks a comune site breadth-first, staying on the seed host,
// and registers every document file it finds.
type Crawler struct {
	fetcher *Fetcher
	reg     Registrar
	opts    Options
}

func New(reg Registrar, opts Options) *Crawler {
	if opts.MaxPages <= 0 {
		opts.MaxPages = 500
	}
	if opts.MaxDocuments <= 0 {
		opts.MaxDocuments = 2000
	}
	if opts.DownloadConcurrency <= 0 {
		opts.DownloadConcurrency = 8
	}
	return &Crawler{
		fetcher: NewFetcher(opts.RequestsPerSecond, opts.Timeout, opts.UserAgent),
		reg:     reg,
		opts:    opts,
	}
}

// document file extensions worth downloading.
var documentExts = map[string]bool{
	".pdf":  true,
	".xlsx": true,
	".xls":  true,
	".csv":  true,
}

// Run crawls from the seed URLs until the page or document budget runs
// out. Page fetch failures are logged and skipped; the run only errors
// when a seed URL is unusable.
func (c *Crawler) Run(ctx context.Context, seeds []string) (*Report, error) {
	report := &Report{}
	visited := make(map[string]bool)
	var frontier []string
	var host string

	for _, seed := range seeds {
		u, err := url.Parse(seed)
		if err != nil || u.Host == "" {
			return nil, eris.Errorf("crawl: invalid seed url %q", seed)
		}
		if host == "" {
			host = u.Host
		}
		frontier = append(frontier, u.String())
	}

	var docs []string
	seenDoc := make(map[string]bool)

	for len(frontier) > 0 && report.PagesVisited < c.opts.MaxPages && len(docs) < c.opts.MaxDocuments {
		if err := ctx.Err(); err != nil {
			return report, eris.Wrap(err, "crawl: cancelled")
		}

		pageURL := frontier[0]
		frontier = frontier[1:]
		if visited[pageURL] {
			continue
		}
		visited[pageURL] = true
		report.PagesVisited++

		body, err := c.fetcher.Get(ctx, pageURL)
		if err != nil {
			report.Failures++
			zap.L().Warn("crawl: page fetch failed",
				zap.String("url", pageURL),
				zap.Error(err),
			)
			continue
		}

		pages, found := c.extractLinks(pageURL, host, body)
		for _, doc := range found {
			if !seenDoc[doc] && len(docs) < c.opts.MaxDocuments {
				seenDoc[doc] = true
				docs = append(docs, doc)
			}
		}
		for _, p := range pages {
			if !visited[p] {
				frontier = append(frontier, p)
			}
		}
	}

	report.DocumentsSeen = len(docs)
	c.download(ctx, docs, report)

	zap.L().Info("crawl: run complete",
		zap.Int("pages_visited", report.PagesVisited),
		zap.Int("documents_seen", report.DocumentsSeen),
		zap.Int("new_documents", report.NewDocuments),
		zap.Int("failures", report.Failures),
	)
	return report, nil
}

// download fetches document URLs concurrently and registers each one.
func (c *Crawler) download(ctx context.Context, docs []string, report *Report) {
	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.DownloadConcurrency)

	for _, docURL := range docs {
		g.Go(func() error {
			// A URL registered by an earlier run is not downloaded again.
			if existing, err := c.reg.DocumentByURL(ctx, docURL); err == nil && existing != nil {
				zap.L().Debug("crawl: url already cataloged",
					zap.String("url", docURL),
					zap.String("hash", existing.ContentHash),
				)
				return nil
			}

			raw, err := c.fetcher.Get(ctx, docURL)
			if err != nil {
				mu.Lock()
				report.Failures++
				mu.Unlock()
				zap.L().Warn("crawl: document download failed",
					zap.String("url", docURL),
					zap.Error(err),
				)
				return nil
			}

			_, inserted, err := c.reg.Register(ctx, raw, docURL, filenameOf(docURL))
			if err != nil {
				mu.Lock()
				report.Failures++
				mu.Unlock()
				zap.L().Warn("crawl: register failed",
					zap.String("url", docURL),
					zap.Error(err),
				)
				return nil
			}

			if inserted {
				mu.Lock()
				report.NewDocuments++
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait() // workers swallow their own errors
}

// extractLinks splits a page's anchors into same-host pages to visit and
// document files to download.
func (c *Crawler) extractLinks(pageURL, host string, body []byte) (pages, docs []string) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, nil
	}

	htmlDoc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, nil
	}

	htmlDoc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref)
		if abs.Host != host || (abs.Scheme != "http" && abs.Scheme != "https") {
			return
		}
		abs.Fragment = ""

		if documentExts[strings.ToLower(path.Ext(abs.Path))] {
			docs = append(docs, abs.String())
			return
		}
		pages = append(pages, abs.String())
	})
	return pages, docs
}

func filenameOf(docURL string) string {
	u, err := url.Parse(docURL)
	if err != nil {
		return docURL
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" {
		return u.Host
	}
	return name
}
