// Package websearch implements the web.search IPC handler's transport: a
// single configured upstream search API, queried over the same SSRF-safe,
// DNS-pinned client webfetch builds for web.fetch. No search-specific
// client library appears anywhere in the corpus this was grounded on, so
// this package issues the request through webfetch.Fetcher rather than
// introducing an unrelated dependency — the one component in this
// codebase built on the standard HTTP client by necessity rather than by
// choice.
package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/axrun/ax/internal/ax/webfetch"
)

// FetchFunc matches webfetch.Fetcher.Fetch's signature, so wiring code
// passes a bound method value (fetcher.Fetch) and tests pass a stub.
type FetchFunc func(ctx context.Context, method, url string, timeout time.Duration) (webfetch.Result, error)

// Result is one search hit, bounded and external-tainted by the caller.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// upstreamResponse is the minimal JSON shape expected back from the
// configured search endpoint: a flat array of {title, url, snippet}.
type upstreamResponse struct {
	Results []Result `json:"results"`
}

// Searcher queries a single configured search API through a shared
// webfetch.Fetcher, so search traffic is bound by the same loopback/
// private-range block as any other outbound fetch.
type Searcher struct {
	BaseURL string // e.g. "https://api.example-search.test/v1/search"
	APIKey  string
	Fetch   FetchFunc
}

// Search issues query against the configured upstream, bounded to
// maxResults hits.
func (s *Searcher) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	if maxResults <= 0 || maxResults > 50 {
		maxResults = 10
	}

	u, err := url.Parse(s.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("websearch: parse base url: %w", err)
	}
	q := u.Query()
	q.Set("q", query)
	q.Set("limit", fmt.Sprintf("%d", maxResults))
	if s.APIKey != "" {
		q.Set("key", s.APIKey)
	}
	u.RawQuery = q.Encode()

	res, err := s.Fetch(ctx, http.MethodGet, u.String(), 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("websearch: query upstream: %w", err)
	}

	var parsed upstreamResponse
	if err := json.Unmarshal([]byte(res.Body), &parsed); err != nil {
		return nil, fmt.Errorf("websearch: decode upstream response: %w", err)
	}
	if len(parsed.Results) > maxResults {
		parsed.Results = parsed.Results[:maxResults]
	}
	return parsed.Results, nil
}
