// Package crawl discovers and downloads municipal documents from a
// comune's website, within page and document bounds, and hands the raw
// bytes to the catalog.
package crawl

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/civicdata/comune-cli/internal/resilience"
)

const maxBodyBytes = 64 << 20 // refuse documents over 64 MiB

// Fetcher downloads URLs with a shared rate limit and transient-error
// retries.
type Fetcher struct {
	client    *http.Client
	limiter   *rate.Limiter
	userAgent string
	retry     resilience.RetryConfig
}

// NewFetcher builds a fetcher honoring the crawl rate and timeout.
func NewFetcher(requestsPerSecond float64, timeout time.Duration, userAgent string) *Fetcher {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 2
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Fetcher{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter:   rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
		userAgent: userAgent,
		retry:     resilience.DefaultRetryConfig(),
	}
}

// Get fetches a URL and returns its body. Transient failures (timeouts,
// 429, 5xx) are retried with backoff; anything else fails immediately.
func (f *Fetcher) Get(ctx context.Context, rawURL string) ([]byte, error) {
	return resilience.DoVal(ctx, f.retry, func(ctx context.Context) ([]byte, error) {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "crawl: rate limiter wait")
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, eris.Wrapf(err, "crawl: build request for %s", rawURL)
		}
		req.Header.Set("User-Agent", f.userAgent)

		resp, err := f.client.Do(req)
		if err != nil {
			return nil, resilience.NewTransientError(err, 0)
		}
		defer resp.Body.Close() //nolint:errcheck

		if resp.StatusCode != http.StatusOK {
			err := eris.Errorf("crawl: http %d from %s", resp.StatusCode, rawURL)
			if resilience.IsTransientHTTPStatus(resp.StatusCode) {
				return nil, resilience.NewTransientError(err, resp.StatusCode)
			}
			return nil, err
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return nil, resilience.NewTransientError(eris.Wrapf(err, "crawl: read body of %s", rawURL), 0)
		}
		return body, nil
	})
}
