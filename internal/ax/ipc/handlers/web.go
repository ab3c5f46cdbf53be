package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/axrun/ax/internal/ax/ipc/server"
)

func registerWeb(reg *server.Registry, d Deps) {
	if d.Fetcher != nil {
		reg.Register("web.fetch", func(ctx context.Context, cc server.ConnContext, args json.RawMessage) (interface{}, error) {
			var req struct {
				URL        string `json:"url"`
				Method     string `json:"method"`
				TimeoutSec int    `json:"timeout_sec"`
			}
			if err := json.Unmarshal(args, &req); err != nil {
				return nil, fmt.Errorf("web.fetch: %w", err)
			}
			method := req.Method
			if method == "" {
				method = http.MethodGet
			}
			timeout := time.Duration(req.TimeoutSec) * time.Second
			if timeout <= 0 {
				timeout = 10 * time.Second
			}

			res, err := d.Fetcher.Fetch(ctx, method, req.URL, timeout)
			if err != nil {
				return nil, err
			}
			d.recordExternal(cc, len(res.Body))
			return map[string]interface{}{
				"status_code": res.StatusCode,
				"body":        res.Body,
				"truncated":   res.Truncated,
			}, nil
		})
	}

	if d.Searcher != nil {
		reg.Register("web.search", func(ctx context.Context, cc server.ConnContext, args json.RawMessage) (interface{}, error) {
			var req struct {
				Query      string `json:"query"`
				MaxResults int    `json:"max_results"`
			}
			if err := json.Unmarshal(args, &req); err != nil {
				return nil, fmt.Errorf("web.search: %w", err)
			}
			results, err := d.Searcher.Search(ctx, req.Query, req.MaxResults)
			if err != nil {
				return nil, err
			}
			total := 0
			for _, r := range results {
				total += len(r.Title) + len(r.Snippet)
			}
			d.recordExternal(cc, total)
			return map[string]interface{}{"results": results}, nil
		})
	}
}
