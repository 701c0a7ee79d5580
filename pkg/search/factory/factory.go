package factory

import (
	"fmt"

	"github.com/overcast-dev/research_panel/pkg/config"
	"github.com/overcast-dev/research_panel/pkg/search"
	"github.com/overcast-dev/research_panel/pkg/tavily"
	"github.com/overcast-dev/research_panel/pkg/wikipedia"
)

// NewSearcher builds the configured provider. "multi" composes the web and
// encyclopedia providers behind the single Searcher interface.
func NewSearcher(cfg *config.Config) (search.Searcher, error) {
	provider := cfg.Search.Provider
	if provider == "" {
		if cfg.Search.Tavily.APIKey != "" {
			provider = "multi"
		} else {
			provider = "wikipedia"
		}
	}

	newWikipedia := func() search.Searcher {
		return wikipedia.NewClient(
			cfg.Search.Wikipedia.BaseURL,
			cfg.Search.Wikipedia.Timeout,
			cfg.Search.Wikipedia.MaxDocs,
		)
	}

	switch provider {
	case "tavily":
		if cfg.Search.Tavily.APIKey == "" {
			return nil, fmt.Errorf("tavily api key is missing")
		}
		return tavily.NewClient(cfg.Search.Tavily.APIKey), nil

	case "wikipedia":
		return newWikipedia(), nil

	case "multi":
		if cfg.Search.Tavily.APIKey == "" {
			return nil, fmt.Errorf("tavily api key is missing")
		}
		return search.NewMulti(tavily.NewClient(cfg.Search.Tavily.APIKey), newWikipedia()), nil

	default:
		return nil, fmt.Errorf("unknown search provider: %s", provider)
	}
}
