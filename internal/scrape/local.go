package scrape

import (
	"context"
	"io"
	"mime"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/sells-group/outreach-cli/internal/resilience"
)

// maxBodyBytes caps how much of a page the local fetcher reads.
const maxBodyBytes = 2 << 20

// LocalScraper fetches HTML via net/http and detects blocks. Free, no API
// calls. Falls through to Jina/Firecrawl when blocked.
type LocalScraper struct {
	client    *http.Client
	limiter   *resilience.HostLimiter
	userAgent string
}

// LocalOption configures a LocalScraper.
type LocalOption func(*LocalScraper)

// WithHostLimiter paces requests per host.
func WithHostLimiter(hl *resilience.HostLimiter) LocalOption {
	return func(l *LocalScraper) { l.limiter = hl }
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) LocalOption {
	return func(l *LocalScraper) {
		if ua != "" {
			l.userAgent = ua
		}
	}
}

// WithLocalHTTPClient overrides the HTTP client.
func WithLocalHTTPClient(hc *http.Client) LocalOption {
	return func(l *LocalScraper) { l.client = hc }
}

// NewLocalScraper creates a LocalScraper with sensible defaults.
func NewLocalScraper(opts ...LocalOption) *LocalScraper {
	l := &LocalScraper{
		client: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: 10 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout: 10 * time.Second,
				MaxIdleConnsPerHost: 10,
			},
		},
		userAgent: "Mozilla/5.0 (compatible; OutreachBot/1.0)",
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

func (l *LocalScraper) Name() string           { return "local_http" }
func (l *LocalScraper) Supports(_ string) bool { return true }

// Scrape fetches a URL and returns its raw HTML.
func (l *LocalScraper) Scrape(ctx context.Context, targetURL string) (*Result, error) {
	if err := l.limiter.WaitURL(ctx, targetURL); err != nil {
		return nil, eris.Wrap(err, "local_http: rate limit wait")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, resilience.NewPermanentError(eris.Wrap(err, "local_http: create request"), 0)
	}
	req.Header.Set("User-Agent", l.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := l.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "local_http: fetch")
		}
		return nil, resilience.NewTransientError(eris.Wrap(err, "local_http: fetch"), 0)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "local_http: read body"), resp.StatusCode)
	}

	if blocked, blockType := DetectBlock(resp, body); blocked {
		return nil, BlockedError("local_http", blockType)
	}

	if resp.StatusCode >= 400 {
		return nil, resilience.HTTPStatusError(resp.StatusCode, "local_http: %s: status %d", targetURL, resp.StatusCode)
	}

	body = decodeCharset(resp.Header.Get("Content-Type"), body)
	if len(strings.TrimSpace(string(body))) < 100 {
		return nil, resilience.NewPermanentError(eris.Errorf("local_http: %s: empty page", targetURL), resp.StatusCode)
	}

	return &Result{
		Page: Page{
			URL:        resp.Request.URL.String(),
			Title:      extractTitle(body),
			HTML:       string(body),
			StatusCode: resp.StatusCode,
		},
		Source: "local_http",
	}, nil
}

// decodeCharset converts body to UTF-8 using the charset named in the
// Content-Type header. Unknown or missing charsets leave body unchanged.
func decodeCharset(contentType string, body []byte) []byte {
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return body
	}
	charset := strings.ToLower(params["charset"])
	if charset == "" || charset == "utf-8" || charset == "utf8" {
		return body
	}
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return body
	}
	out, err := enc.NewDecoder().Bytes(body)
	if err != nil {
		return body
	}
	return out
}

var titleRe = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)

// extractTitle pulls the <title> from HTML.
func extractTitle(body []byte) string {
	m := titleRe.FindSubmatch(body)
	if len(m) > 1 {
		return strings.TrimSpace(string(m[1]))
	}
	return ""
}
