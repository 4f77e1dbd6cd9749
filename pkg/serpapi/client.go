// Package serpapi provides a client for SerpAPI's Google search engine.
package serpapi

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

	"github.com/sells-group/outreach-cli/internal/resilience"
)

const defaultBaseURL = "https://serpapi.com"

// Client runs Google searches through SerpAPI.
type Client interface {
	Search(ctx context.Context, req SearchRequest) (*SearchResponse, error)
}

// SearchRequest is a single Google query.
type SearchRequest struct {
	Query string
	Num   int
	Start int
}

// SearchResponse holds the organic results of a query.
type SearchResponse struct {
	SearchMetadata SearchMetadata  `json:"search_metadata"`
	OrganicResults []OrganicResult `json:"organic_results"`
	Error          string          `json:"error,omitempty"`
}

// SearchMetadata carries SerpAPI's bookkeeping for a search.
type SearchMetadata struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// OrganicResult is one Google organic result.
type OrganicResult struct {
	Position int    `json:"position"`
	Title    string `json:"title"`
	Link     string `json:"link"`
	Snippet  string `json:"snippet"`
}

// Links returns the non-empty result links in rank order.
func (r *SearchResponse) Links() []string {
	out := make([]string, 0, len(r.OrganicResults))
	for _, o := range r.OrganicResults {
		if o.Link != "" {
			out = append(out, o.Link)
		}
	}
	return out
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a SerpAPI client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// noResults is the error text SerpAPI returns for a query Google has no
// results for.
const noResults = "hasn't returned any results"

func (c *httpClient) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	q := url.Values{}
	q.Set("engine", "google")
	q.Set("q", req.Query)
	q.Set("api_key", c.apiKey)
	if req.Num > 0 {
		q.Set("num", strconv.Itoa(req.Num))
	}
	if req.Start > 0 {
		q.Set("start", strconv.Itoa(req.Start))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/search?"+q.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "serpapi: create request")
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "serpapi: send request")
		}
		return nil, resilience.NewTransientError(eris.Wrap(err, "serpapi: send request"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "serpapi: read response"), resp.StatusCode)
	}

	var result SearchResponse
	decodeErr := json.Unmarshal(body, &result)

	if resp.StatusCode != http.StatusOK {
		if decodeErr == nil && strings.Contains(result.Error, noResults) {
			return &SearchResponse{}, nil
		}
		return nil, resilience.HTTPStatusError(resp.StatusCode, "serpapi: search %q: status %d: %s", req.Query, resp.StatusCode, string(body))
	}
	if decodeErr != nil {
		return nil, resilience.NewPermanentError(eris.Wrap(decodeErr, "serpapi: unmarshal response"), resp.StatusCode)
	}
	if result.Error != "" {
		if strings.Contains(result.Error, noResults) {
			return &SearchResponse{SearchMetadata: result.SearchMetadata}, nil
		}
		return nil, resilience.NewPermanentError(eris.Errorf("serpapi: search %q: %s", req.Query, result.Error), resp.StatusCode)
	}
	return &result, nil
}
