package search

import (
	"context"

	"github.com/sells-group/outreach-cli/pkg/jina"
	"github.com/sells-group/outreach-cli/pkg/serpapi"
)

// Engine runs one web search query and returns result URLs in rank order.
type Engine interface {
	Search(ctx context.Context, query string) ([]string, error)
	Name() string
}

// SerpEngine runs Google searches through SerpAPI.
type SerpEngine struct {
	Client serpapi.Client
	// Num is the number of results requested per query.
	Num int
}

// Name implements Engine.
func (SerpEngine) Name() string { return "serpapi" }

// Search implements Engine.
func (e SerpEngine) Search(ctx context.Context, query string) ([]string, error) {
	num := e.Num
	if num <= 0 {
		num = 20
	}
	resp, err := e.Client.Search(ctx, serpapi.SearchRequest{Query: query, Num: num})
	if err != nil {
		return nil, err
	}
	return resp.Links(), nil
}

// JinaEngine runs searches through Jina Search restricted to Site.
type JinaEngine struct {
	Client jina.Client
	Site   string
}

// Name implements Engine.
func (JinaEngine) Name() string { return "jina" }

// Search implements Engine.
func (e JinaEngine) Search(ctx context.Context, query string) ([]string, error) {
	var opts []jina.SearchOption
	if e.Site != "" {
		opts = append(opts, jina.WithSiteFilter(e.Site))
	}
	resp, err := e.Client.Search(ctx, query, opts...)
	if err != nil {
		return nil, err
	}
	return resp.URLs(), nil
}
