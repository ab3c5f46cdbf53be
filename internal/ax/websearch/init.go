package websearch

import (
	"github.com/axrun/ax/common/environment"
	"github.com/axrun/ax/internal/ax/provider/registry"
	"github.com/axrun/ax/internal/ax/webfetch"
)

func init() {
	registry.Register(registry.KindSearch, "websearch", func() (interface{}, error) {
		fetcher := webfetch.New()
		return &Searcher{
			BaseURL: environment.StringOr("AX_SEARCH_BASE_URL", "https://api.search.brave.com/res/v1/web/search"),
			APIKey:  environment.StringOr("AX_SEARCH_API_KEY", ""),
			Fetch:   fetcher.Fetch,
		}, nil
	})
}
