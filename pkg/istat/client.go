// Package istat queries official national statistics endpoints for indicator
// values that municipal documents may not contain. Lookups are keyed by
// indicator text and year; a miss is reported as absence, not an error.
package istat

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// Dataset names routed by indicator vocabulary. The ordering mirrors the
// official source precedence: ISTAT demographics, BDAP municipal accounts,
// ISPRA environmental series, MEF fiscal series.
const (
	DatasetPopulation  = "istat/population"
	DatasetAccounts    = "bdap/accounts"
	DatasetEnvironment = "ispra/environment"
	DatasetFiscal      = "mef/fiscal"
)

// Value is one resolved external data point.
type Value struct {
	Number  float64 `json:"value"`
	Unit    string  `json:"unit"`
	Source  string  `json:"source"`
	Year    int     `json:"year"`
	Comune  string  `json:"comune"`
	Matched bool    `json:"matched"`
}

// Client talks to the external data gateway.
type Client struct {
	baseURL    string
	comune     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// New builds a client for one comune. timeout bounds each request.
func New(baseURL, comune string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		comune:     comune,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(2), 1),
	}
}

// DatasetFor routes an indicator to the dataset that publishes it.
func DatasetFor(indicator string) string {
	ind := strings.ToLower(indicator)
	switch {
	case containsAny(ind, "popolazione", "abitanti", "residenti"):
		return DatasetPopulation
	case containsAny(ind, "bilancio", "spesa", "entrata", "avanzo", "disavanzo"):
		return DatasetAccounts
	case containsAny(ind, "rifiuti", "raccolta", "ambiente", "differenziata"):
		return DatasetEnvironment
	default:
		return DatasetFiscal
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// Lookup fetches an indicator value for the client's comune and year.
// Returns (nil, nil) when the source has no matching series.
func (c *Client) Lookup(ctx context.Context, indicator string, year int) (*Value, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "istat: rate limit")
	}

	dataset := DatasetFor(indicator)
	params := url.Values{
		"indicator": {indicator},
		"comune":    {c.comune},
		"year":      {strconv.Itoa(year)},
		"format":    {"json"},
	}
	reqURL := c.baseURL + "/" + dataset + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "istat: build request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "istat: request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("istat: %s returned status %d", dataset, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "istat: read body")
	}

	var v Value
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, eris.Wrap(err, "istat: parse response")
	}
	if !v.Matched {
		return nil, nil
	}
	if v.Year != 0 && v.Year != year {
		// Series returned a neighboring year; not good enough for a cell
		// that asked for an exact year.
		return nil, nil
	}
	v.Source = dataset
	return &v, nil
}
