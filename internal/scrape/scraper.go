// Package scrape fetches job postings and company pages through a chain of
// fetchers and extracts posting details from the HTML.
package scrape

import (
	"context"
)

// Page is a fetched document. HTML is the raw markup when the fetcher can
// return it.
type Page struct {
	URL        string
	Title      string
	HTML       string
	StatusCode int
}

// Result holds a fetched page with its source.
type Result struct {
	Page   Page
	Source string // e.g. "local_http", "jina", "firecrawl"
}

// Scraper fetches a single URL and returns its content.
type Scraper interface {
	Scrape(ctx context.Context, url string) (*Result, error)
	Name() string
	Supports(url string) bool
}
